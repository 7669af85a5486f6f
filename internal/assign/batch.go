package assign

import (
	"context"
	"errors"
	"time"

	"bomatch/internal/logging"
)

type batchJob struct {
	id     int
	dets   []*detection
	ctx    context.Context
	cancel context.CancelFunc
	queued time.Time
	done   chan batchOutcome
}

type batchOutcome struct {
	// picks holds a candidate index per detection, or -1.
	picks    []int
	fallback bool
	elapsed  time.Duration
	err      error
}

// newJob creates a batch whose deadline starts now and which is cancelled
// with the caller's context or when the engine closes.
func (e *Engine) newJob(ctx context.Context, id int, dets []*detection) *batchJob {
	queued := time.Now()
	jctx, cancel := context.WithTimeout(ctx, e.cfg.BatchTimeout)
	stop := context.AfterFunc(e.ctx, cancel)
	return &batchJob{
		id:   id,
		dets: dets,
		ctx:  jctx,
		cancel: func() {
			stop()
			cancel()
		},
		queued: queued,
		done:   make(chan batchOutcome, 1),
	}
}

// dispatch hands the job to the worker pool, or solves it on the calling
// goroutine when the pool is saturated. It reports whether it ran inline.
func (e *Engine) dispatch(job *batchJob) bool {
	if e.pending.Load() < int64(e.cfg.MaxPendingBatches) {
		e.pending.Add(1)
		select {
		case e.queue <- job:
			return false
		default:
			e.pending.Add(-1)
		}
	}
	e.metrics.QueueOverflow()
	e.logger.Debug("batch queue saturated; solving inline",
		logging.Int("batch", job.id),
		logging.Int("max_pending", e.cfg.MaxPendingBatches),
	)
	job.done <- e.execute(job)
	return true
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case job := <-e.queue:
			job.done <- e.execute(job)
			e.pending.Add(-1)
		}
	}
}

func (e *Engine) await(ctx context.Context, job *batchJob) (batchOutcome, error) {
	defer job.cancel()
	select {
	case out := <-job.done:
		if out.err != nil {
			if e.ctx.Err() != nil {
				return batchOutcome{}, ErrClosed
			}
			return batchOutcome{}, out.err
		}
		return out, nil
	case <-ctx.Done():
		return batchOutcome{}, ctx.Err()
	case <-e.ctx.Done():
		return batchOutcome{}, ErrClosed
	}
}

// execute solves one batch. A batch that misses its deadline is marked for
// greedy resolution; any other cancellation is returned as an error.
func (e *Engine) execute(job *batchJob) batchOutcome {
	cost, columns := e.costMatrix(job.dets)
	solved, err := e.solve(job.ctx, cost)
	elapsed := time.Since(job.queued)

	if err == nil {
		e.metrics.BatchSolved(elapsed.Seconds())
		picks := make([]int, len(job.dets))
		for i, d := range job.dets {
			picks[i] = -1
			if i >= len(solved) || solved[i] < 0 {
				continue
			}
			for k, c := range d.candidates {
				if c.TemplateID == columns[solved[i]] {
					picks[i] = k
					break
				}
			}
		}
		return batchOutcome{picks: picks, elapsed: elapsed}
	}

	if errors.Is(job.ctx.Err(), context.DeadlineExceeded) {
		e.metrics.BatchFallback()
		e.logger.Warn("batch solve timed out; resolving greedily",
			logging.Int("batch", job.id),
			logging.Int("detections", len(job.dets)),
			logging.Duration("timeout", e.cfg.BatchTimeout),
			logging.Duration("elapsed", elapsed),
			logging.Alert("assignment_fallback"),
		)
		picks := make([]int, len(job.dets))
		for i := range picks {
			picks[i] = -1
		}
		return batchOutcome{picks: picks, fallback: true, elapsed: elapsed}
	}
	return batchOutcome{err: err, elapsed: elapsed}
}

// costMatrix builds a detections x templates matrix over the batch's
// candidates. Non-candidate cells carry forbiddenCost.
func (e *Engine) costMatrix(dets []*detection) ([][]float64, []string) {
	index := make(map[string]int)
	var columns []string
	for _, d := range dets {
		for _, c := range d.candidates {
			if _, ok := index[c.TemplateID]; !ok {
				index[c.TemplateID] = len(columns)
				columns = append(columns, c.TemplateID)
			}
		}
	}
	cost := make([][]float64, len(dets))
	for i, d := range dets {
		row := make([]float64, len(columns))
		for j := range row {
			row[j] = forbiddenCost
		}
		for _, c := range d.candidates {
			j := index[c.TemplateID]
			row[j] = min(row[j], e.cost(c))
		}
		cost[i] = row
	}
	return cost, columns
}

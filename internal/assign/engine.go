package assign

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"bomatch/internal/logging"
	"bomatch/internal/metrics"
)

var (
	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("assignment engine closed")
	// ErrDuplicateDetection is returned when a run names a detection twice.
	ErrDuplicateDetection = errors.New("duplicate detection id")
)

// Engine resolves detections to templates. A single Engine serves any number
// of sequential or concurrent runs; its worker pool lives until Close.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Recorder
	solve   solveFunc

	queue   chan *batchJob
	pending atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics attaches a session metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(e *Engine) {
		e.metrics = rec
	}
}

func withSolver(fn solveFunc) Option {
	return func(e *Engine) {
		if fn != nil {
			e.solve = fn
		}
	}
}

// New starts an engine and its batch workers.
func New(cfg Config, opts ...Option) *Engine {
	cfg = cfg.normalized()
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		cfg:    cfg,
		logger: logging.NewNop(),
		solve:  solveRect,
		queue:  make(chan *batchJob, cfg.MaxPendingBatches),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = logging.NewComponentLogger(e.logger, "assign")

	for range cfg.Workers {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Config returns the normalized engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Close cancels in-flight batches and stops the workers. Runs blocked on a
// batch return ErrClosed.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.cancel()
		e.wg.Wait()
	})
}

// detection is the per-run working state for one item.
type detection struct {
	index      int
	item       Item
	candidates []Candidate
	raw        int
	best       float64
	margin     float64
}

// run tracks claims made during one Run.
type run struct {
	templates map[string]string
	entries   map[string]int
}

func newRun() *run {
	return &run{
		templates: make(map[string]string),
		entries:   make(map[string]int),
	}
}

func (r *run) usable(c Candidate) bool {
	if _, taken := r.templates[c.TemplateID]; taken {
		return false
	}
	if c.Remaining > 0 && r.entries[c.entry()] >= c.Remaining {
		return false
	}
	return true
}

func (r *run) claim(detectionID string, c Candidate) {
	r.templates[c.TemplateID] = detectionID
	r.entries[c.entry()]++
}

// available returns the detection's candidates that are still usable, in
// cost order.
func (r *run) available(d *detection) []Candidate {
	out := make([]Candidate, 0, len(d.candidates))
	for _, c := range d.candidates {
		if r.usable(c) {
			out = append(out, c)
		}
	}
	return out
}

// inBOM returns the first candidate that is neither off-BOM nor over
// quantity. When every candidate is flagged, the reason of the first one is
// returned instead.
func inBOM(cands []Candidate) (Candidate, HoldReason, bool) {
	for _, c := range cands {
		if !c.NotInBOM && !c.QuantityExceeded {
			return c, "", true
		}
	}
	if len(cands) > 0 && cands[0].NotInBOM {
		return Candidate{}, HoldNotInBOM, false
	}
	return Candidate{}, HoldQuantityExceeded, false
}

func flagged(c Candidate) bool {
	return c.NotInBOM || c.QuantityExceeded
}

// Run resolves every item to exactly one assignment or hold. The only
// errors are invalid input, cancellation of ctx, and ErrClosed.
func (e *Engine) Run(ctx context.Context, items []Item) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := e.ctx.Err(); err != nil {
		return Result{}, ErrClosed
	}

	dets, err := e.prepare(items)
	if err != nil {
		return Result{}, err
	}

	var (
		res    Result
		claims = newRun()
		byID   = make(map[string]*Assignment, len(dets))
		holds  = make(map[string]Hold)
	)
	hold := func(d *detection, reason HoldReason) {
		holds[d.item.DetectionID] = Hold{
			DetectionID: d.item.DetectionID,
			Reason:      reason,
			BestScore:   d.best,
		}
	}
	// Flagged candidates only steer the solver's costs; they are never
	// assigned.
	assign := func(d *detection, c Candidate, method Method) {
		claims.claim(d.item.DetectionID, c)
		byID[d.item.DetectionID] = &Assignment{
			DetectionID: d.item.DetectionID,
			TemplateID:  c.TemplateID,
			Entry:       c.entry(),
			Score:       c.Score,
			Method:      method,
			Margin:      d.margin,
			Box:         d.item.Box,
		}
	}

	var greedy, mid []*detection
	for _, d := range dets {
		switch {
		case d.raw == 0:
			hold(d, HoldNoCandidates)
		case len(d.candidates) == 0:
			hold(d, HoldLowConfidence)
		case d.best > e.cfg.GreedyThreshold:
			greedy = append(greedy, d)
		case d.best >= e.cfg.BatchThreshold:
			mid = append(mid, d)
		default:
			hold(d, HoldLowConfidence)
		}
	}

	// Greedy tier, strongest first. A detection whose best usable candidate
	// has fallen out of the tier drops to the batch tier or is held.
	sort.SliceStable(greedy, func(i, j int) bool { return greedy[i].best > greedy[j].best })
	for _, d := range greedy {
		avail := claims.available(d)
		c, reason, ok := inBOM(avail)
		switch {
		case len(avail) == 0:
			hold(d, HoldTemplateConflict)
		case !ok:
			hold(d, reason)
		case c.Score > e.cfg.GreedyThreshold:
			assign(d, c, MethodGreedy)
		case c.Score >= e.cfg.BatchThreshold:
			mid = append(mid, d)
		default:
			hold(d, HoldLowConfidence)
		}
	}
	sort.SliceStable(mid, func(i, j int) bool { return mid[i].index < mid[j].index })

	// Batch tier. Claims made by the greedy tier are removed before dispatch.
	var eligible []*detection
	for _, d := range mid {
		avail := claims.available(d)
		switch {
		case len(avail) == 0:
			hold(d, HoldTemplateConflict)
		case avail[0].Score < e.cfg.BatchThreshold:
			hold(d, HoldLowConfidence)
		default:
			d.candidates = avail
			eligible = append(eligible, d)
		}
	}

	jobs := make([]*batchJob, 0, (len(eligible)+e.cfg.BatchSize-1)/e.cfg.BatchSize)
	for start := 0; start < len(eligible); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(eligible))
		job := e.newJob(ctx, len(jobs), eligible[start:end])
		if e.dispatch(job) {
			res.Synchronous++
		}
		jobs = append(jobs, job)
	}
	res.Batches = len(jobs)

	// Merge in dispatch order. A batch may pick a template an earlier batch
	// already claimed; those detections are re-resolved greedily.
	for _, job := range jobs {
		out, err := e.await(ctx, job)
		if err != nil {
			for _, j := range jobs {
				j.cancel()
			}
			return Result{}, err
		}
		method := MethodOptimal
		if out.fallback {
			method = MethodFallback
			res.Fallbacks = append(res.Fallbacks, FallbackEvent{
				Batch:      job.id,
				Detections: len(job.dets),
				Waited:     out.elapsed,
			})
		}
		order := make([]int, len(job.dets))
		for i := range order {
			order[i] = i
		}
		if out.fallback {
			sort.SliceStable(order, func(a, b int) bool { return job.dets[order[a]].best > job.dets[order[b]].best })
		}
		// Every usable solver pick is claimed before any leftover row is
		// re-resolved, so a row the solver left unmatched cannot take a
		// template the solver gave to another row of the same batch.
		var rest []*detection
		for _, i := range order {
			d := job.dets[i]
			if pick := out.picks[i]; pick >= 0 {
				if c := d.candidates[pick]; !flagged(c) && claims.usable(c) {
					assign(d, c, method)
					continue
				}
			}
			rest = append(rest, d)
		}
		resolved := MethodGreedy
		if out.fallback {
			resolved = MethodFallback
		}
		for _, d := range rest {
			avail := claims.available(d)
			c, reason, ok := inBOM(avail)
			switch {
			case len(avail) == 0:
				hold(d, HoldTemplateConflict)
			case !ok:
				hold(d, reason)
			case c.Score < e.cfg.BatchThreshold:
				hold(d, HoldTemplateConflict)
			default:
				assign(d, c, resolved)
			}
		}
	}

	assigned := make([]Assignment, 0, len(byID))
	for _, d := range dets {
		if a, ok := byID[d.item.DetectionID]; ok {
			assigned = append(assigned, *a)
		}
	}
	res.Assignments, res.Unassigned = suppress(assigned, e.cfg.ProximityFactor)
	for i := range res.Assignments {
		res.Assignments[i].Final = e.IsFinal(res.Assignments[i].Score, res.Assignments[i].Margin)
	}
	for _, d := range dets {
		if h, ok := holds[d.item.DetectionID]; ok {
			res.Holds = append(res.Holds, h)
		}
	}

	e.record(res)
	return res, nil
}

// cost is the solver cost of a pair: lower is better.
func (e *Engine) cost(c Candidate) float64 {
	v := -c.Score
	if c.NotInBOM {
		v += e.cfg.NotInBOMPenalty
	}
	if c.QuantityExceeded {
		v += e.cfg.QuantityPenalty
	}
	return v
}

// IsFinal reports whether an assignment with the given fused score and
// top-two margin can be committed without review.
func (e *Engine) IsFinal(score, margin float64) bool {
	return score >= e.cfg.FinalMinScore && margin >= e.cfg.FinalMinMargin
}

// prepare validates items and pre-filters their candidates.
func (e *Engine) prepare(items []Item) ([]*detection, error) {
	seen := make(map[string]struct{}, len(items))
	dets := make([]*detection, 0, len(items))
	for i, item := range items {
		if item.DetectionID == "" {
			return nil, fmt.Errorf("item %d: empty detection id", i)
		}
		if _, dup := seen[item.DetectionID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateDetection, item.DetectionID)
		}
		seen[item.DetectionID] = struct{}{}

		sorted := make([]Candidate, 0, len(item.Candidates))
		d := &detection{index: i, item: item}
		var top1, top2 float64
		for _, c := range item.Candidates {
			if c.TemplateID == "" {
				continue
			}
			sorted = append(sorted, c)
			switch {
			case c.Score > top1:
				top1, top2 = c.Score, top1
			case c.Score > top2:
				top2 = c.Score
			}
		}
		d.raw = len(sorted)
		d.best = top1
		d.margin = top1 - top2
		sort.SliceStable(sorted, func(a, b int) bool { return e.cost(sorted[a]) < e.cost(sorted[b]) })

		kept := make([]Candidate, 0, e.cfg.TopK)
		for _, c := range sorted {
			if len(kept) == e.cfg.TopK {
				break
			}
			if c.Score >= e.cfg.MinCandidateScore {
				kept = append(kept, c)
			}
		}
		d.candidates = kept
		if len(kept) > 0 {
			d.best = kept[0].Score
		}
		dets = append(dets, d)
	}
	return dets, nil
}

func (e *Engine) record(res Result) {
	for _, a := range res.Assignments {
		e.metrics.Assigned(string(a.Method))
	}
	for _, h := range res.Holds {
		e.metrics.Held(string(h.Reason))
	}
	e.metrics.Suppressed(len(res.Unassigned))

	e.logger.Debug("assignment run complete",
		logging.Int("assigned", len(res.Assignments)),
		logging.Int("held", len(res.Holds)),
		logging.Int("suppressed", len(res.Unassigned)),
		logging.Int("batches", res.Batches),
		logging.Int("fallbacks", len(res.Fallbacks)),
	)
}

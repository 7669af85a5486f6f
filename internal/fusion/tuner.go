package fusion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"bomatch/internal/logging"
	"bomatch/internal/metrics"
)

// ErrTunerRunning indicates Start was called twice.
var ErrTunerRunning = errors.New("tuner already running")

// TuneResult describes one tuning pass.
type TuneResult struct {
	Before        Weights
	After         Weights
	Samples       int
	FalsePositive float64
	HoldRate      float64
	Skipped       bool
}

// Changed reports whether the pass moved any weight.
func (r TuneResult) Changed() bool {
	return r.Before != r.After
}

// Tuner owns the session's fusion weights and nudges them from observed
// outcomes. All methods are safe for concurrent use.
type Tuner struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu        sync.Mutex
	weights   Weights
	assigned  int
	held      int
	falsePos  int
	cancel    context.CancelFunc
	done      chan struct{}
	afterFunc func(time.Duration) <-chan time.Time
}

// TunerOption configures a Tuner.
type TunerOption func(*Tuner)

// WithTunerLogger sets the tuner logger.
func WithTunerLogger(logger *slog.Logger) TunerOption {
	return func(t *Tuner) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithTunerMetrics attaches a session metrics recorder.
func WithTunerMetrics(rec *metrics.Recorder) TunerOption {
	return func(t *Tuner) {
		t.metrics = rec
	}
}

// NewTuner starts from the given session weights.
func NewTuner(initial Weights, cfg Config, opts ...TunerOption) *Tuner {
	t := &Tuner{
		cfg:       cfg.normalized(),
		logger:    logging.NewNop(),
		afterFunc: time.After,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = logging.NewComponentLogger(t.logger, "fusion_tuner")
	t.weights = initial.Clamp(t.cfg.Bounds)
	t.metrics.Weights(t.weights.Image, t.weights.Meta, t.weights.Text)
	return t
}

// Weights returns the current session weights.
func (t *Tuner) Weights() Weights {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.weights
}

// Observe accumulates one run's assigned and held counts.
func (t *Tuner) Observe(assigned, held int) {
	if assigned <= 0 && held <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.assigned += max(assigned, 0)
	t.held += max(held, 0)
}

// ReportFalsePositive counts an assignment later found to be wrong.
func (t *Tuner) ReportFalsePositive() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.falsePos++
	t.metrics.FalsePositive()
}

// Tune applies the auto-tuning rules to the observations collected since the
// last pass and resets them. Passes with fewer than TuneMinSamples
// observations are skipped and keep their counts.
func (t *Tuner) Tune() TuneResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := TuneResult{Before: t.weights, After: t.weights, Samples: t.assigned + t.held}
	if res.Samples < t.cfg.TuneMinSamples {
		res.Skipped = true
		return res
	}
	if t.assigned > 0 {
		res.FalsePositive = float64(t.falsePos) / float64(t.assigned)
	}
	res.HoldRate = float64(t.held) / float64(res.Samples)

	w := t.weights
	if res.FalsePositive > t.cfg.FalsePositiveLimit {
		w.Meta += t.cfg.WeightStep
		w.Text += t.cfg.WeightStep
	}
	if res.HoldRate > t.cfg.HoldRateLimit {
		w.Image += t.cfg.WeightStep
	}
	t.weights = w.Clamp(t.cfg.Bounds)
	res.After = t.weights
	t.assigned, t.held, t.falsePos = 0, 0, 0

	t.metrics.Tuned()
	t.metrics.Weights(t.weights.Image, t.weights.Meta, t.weights.Text)
	return res
}

// Start runs Tune on the configured cron schedule until ctx is cancelled or
// Stop is called. An empty schedule is a no-op.
func (t *Tuner) Start(ctx context.Context) error {
	if t.cfg.TuneSchedule == "" {
		return nil
	}
	sched, err := cron.ParseStandard(t.cfg.TuneSchedule)
	if err != nil {
		return fmt.Errorf("parse tune schedule %q: %w", t.cfg.TuneSchedule, err)
	}

	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return ErrTunerRunning
	}
	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	after := t.afterFunc
	done := t.done
	t.mu.Unlock()

	t.logger.Info("fusion tuning scheduled", logging.String("schedule", t.cfg.TuneSchedule))
	go func() {
		defer close(done)
		for {
			now := time.Now()
			wait := sched.Next(now).Sub(now)
			select {
			case <-runCtx.Done():
				return
			case <-after(wait):
			}
			res := t.Tune()
			if res.Skipped {
				t.logger.Debug("fusion tuning skipped",
					logging.Int("samples", res.Samples),
					logging.Int("min_samples", t.cfg.TuneMinSamples))
				continue
			}
			t.logger.Info("fusion tuning pass",
				logging.Float64("false_positive_rate", res.FalsePositive),
				logging.Float64("hold_rate", res.HoldRate),
				logging.Bool("changed", res.Changed()),
				logging.Any("weights", res.After))
		}
	}()
	return nil
}

// Stop ends the schedule started by Start and waits for it to exit.
func (t *Tuner) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

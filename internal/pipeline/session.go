package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"bomatch/internal/assign"
	"bomatch/internal/catalog"
	"bomatch/internal/config"
	"bomatch/internal/fusion"
	"bomatch/internal/ledger"
	"bomatch/internal/logging"
	"bomatch/internal/metrics"
	"bomatch/internal/templateindex"
)

// Session matches frames against one build.
type Session struct {
	id    string
	cfg   *config.Config
	build *catalog.Build

	logger     *slog.Logger
	baseLogger *slog.Logger
	registerer prometheus.Registerer
	metrics    *metrics.Recorder

	index     *templateindex.Index
	templates map[string]*catalog.Template
	scorer    *fusion.Scorer
	tuner     *fusion.Tuner
	ledger    *ledger.Ledger
	engine    *assign.Engine

	mu         sync.Mutex
	outcomes   map[string]catalog.Outcome
	registered map[registration]registered
	closed     bool
	closeOnce  sync.Once
}

type registration struct {
	frame     string
	detection string
}

type pair struct {
	detection string
	template  string
}

type registered struct {
	key      ledger.Key
	template string
	final    bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the base logger; components derive their own from it.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.baseLogger = logger
		}
	}
}

// WithRegisterer registers session metrics on reg instead of a private
// registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Session) {
		s.registerer = reg
	}
}

// NewSession builds every component for build. Weights start from the
// configured base adapted to the catalog size.
func NewSession(cfg *config.Config, build *catalog.Build, opts ...Option) (*Session, error) {
	if cfg == nil {
		return nil, errors.New("session requires a config")
	}
	if build == nil {
		return nil, errors.New("session requires a build")
	}

	s := &Session{
		id:         uuid.NewString(),
		cfg:        cfg,
		build:      build,
		baseLogger: logging.NewNop(),
		outcomes:   make(map[string]catalog.Outcome),
		registered: make(map[registration]registered),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.metrics = metrics.New(s.registerer)
	base := s.baseLogger.With(
		logging.String(logging.FieldSessionID, s.id),
		logging.String(logging.FieldBuildID, build.ID),
	)
	s.logger = logging.NewComponentLogger(base, "pipeline")

	index, err := templateindex.New(build.Templates, build.Groups, SearchConfig(cfg),
		templateindex.WithLogger(base),
		templateindex.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("build template index: %w", err)
	}
	s.index = index
	s.templates = make(map[string]*catalog.Template, index.Len())
	for _, tpl := range index.Templates() {
		s.templates[tpl.ID] = &tpl
	}

	fcfg := FusionConfig(cfg)
	s.scorer = fusion.NewScorer(fcfg)
	s.tuner = fusion.NewTuner(fusion.AdaptForCatalog(fcfg, index.Len()), fcfg,
		fusion.WithTunerLogger(base),
		fusion.WithTunerMetrics(s.metrics),
	)

	s.ledger, err = ledger.New(build.Entries,
		ledger.WithLogger(base),
		ledger.WithMetrics(s.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("build ledger: %w", err)
	}

	s.engine = assign.New(AssignConfig(cfg),
		assign.WithLogger(base),
		assign.WithMetrics(s.metrics),
	)

	s.logger.Info("matching session ready",
		logging.Int("templates", index.Len()),
		logging.Int("bom_entries", len(build.Entries)),
		logging.Any("weights", s.tuner.Weights()),
	)
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Build returns the build the session was created from.
func (s *Session) Build() *catalog.Build { return s.build }

// Weights returns the current session fusion weights.
func (s *Session) Weights() fusion.Weights { return s.tuner.Weights() }

// SearchStats returns the template index health counters.
func (s *Session) SearchStats() templateindex.Stats { return s.index.Stats() }

// Snapshot returns the ledger state.
func (s *Session) Snapshot() []ledger.EntryState { return s.ledger.Snapshot() }

// Usage returns the ledger usage in persistable form.
func (s *Session) Usage() []catalog.Usage { return s.ledger.Usage() }

// Restore reapplies persisted usage. Out-of-range usage halts the session.
func (s *Session) Restore(usage []catalog.Usage) error {
	if err := s.ledger.Restore(usage); err != nil {
		if s.ledger.Halted() != nil {
			return fmt.Errorf("%w: %w", ErrHalted, err)
		}
		return err
	}
	return nil
}

// Rebuild resets the ledger from the build's BOM with the given usage and
// clears a halt.
func (s *Session) Rebuild(usage []catalog.Usage) error {
	if err := s.ledger.Rebuild(s.build.Entries, usage); err != nil {
		return err
	}
	s.mu.Lock()
	clear(s.registered)
	s.mu.Unlock()
	s.logger.Info("ledger rebuilt", logging.Int("usage_rows", len(usage)))
	return nil
}

// Start runs the fusion tuner on its schedule until ctx ends or Close.
func (s *Session) Start(ctx context.Context) error {
	return s.tuner.Start(ctx)
}

// Tune runs one tuning pass immediately.
func (s *Session) Tune() fusion.TuneResult {
	return s.tuner.Tune()
}

// Close cancels in-flight assignment batches and stops the tuner.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		s.engine.Close()
		s.tuner.Stop()
	})
}

// Process runs one frame through search, fusion, ledger filtering and
// assignment, then registers the matches. Registration is all or nothing:
// if ctx is cancelled or the ledger fails, no usage from this frame remains.
func (s *Session) Process(ctx context.Context, frame catalog.Frame) (Report, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return Report{}, ErrClosed
	}
	if err := s.ledger.Halted(); err != nil {
		return Report{}, fmt.Errorf("%w: %w", ErrHalted, err)
	}

	runID := uuid.NewString()
	ctx = logging.WithRunID(logging.WithSessionID(ctx, s.id), runID)
	logger := logging.WithContext(ctx, s.logger)
	start := time.Now()

	queries := make([]templateindex.Query, len(frame.Detections))
	for i, det := range frame.Detections {
		queries[i] = templateindex.Query{Embedding: det.Embeddings.Image, ClassHint: det.ClassHint}
	}
	results, err := s.index.SearchAll(ctx, queries)
	if err != nil {
		return Report{}, fmt.Errorf("search frame %q: %w", frame.ID, err)
	}

	weights := s.tuner.Weights()
	report := Report{SessionID: s.id, RunID: runID, FrameID: frame.ID, Weights: weights}
	items := make([]assign.Item, len(frame.Detections))
	breakdowns := make(map[pair]fusion.Breakdown)
	shown := make(map[string]int)
	for i, det := range frame.Detections {
		res := results[i]
		if res.Stage2 {
			report.Stage2++
		}
		lookup := make([]ledger.Item, len(res.Candidates))
		scores := make([]fusion.Breakdown, len(res.Candidates))
		for j, c := range res.Candidates {
			scores[j] = s.scorer.Score(det, c.Template, weights)
			lookup[j] = ledger.Item{PartID: c.Template.PartID, ColorID: c.Template.ColorID, ElementID: c.Template.ElementID}
			shown[c.TemplateID]++
		}

		allowed, rejected := s.ledger.FilterByConstraints(lookup)
		if len(rejected) > 0 {
			logger.Debug("candidates rejected by bom",
				logging.String(logging.FieldDetectionID, det.ID),
				logging.Int("rejected", len(rejected)),
				logging.String("first_reason", string(rejected[0].Validation.Reason)),
			)
		}
		cands := make([]assign.Candidate, 0, len(allowed))
		for _, a := range allowed {
			c := res.Candidates[a.Index]
			cands = append(cands, assign.Candidate{
				TemplateID: c.TemplateID,
				Entry:      a.Validation.Entry.String(),
				Score:      scores[a.Index].Fused,
				Remaining:  a.Validation.Remaining,
			})
			breakdowns[pair{detection: det.ID, template: c.TemplateID}] = scores[a.Index]
		}
		items[i] = assign.Item{DetectionID: det.ID, Box: det.Box, Candidates: cands}
	}

	out, err := s.engine.Run(ctx, items)
	if err != nil {
		if errors.Is(err, assign.ErrClosed) {
			return Report{}, ErrClosed
		}
		return Report{}, fmt.Errorf("assign frame %q: %w", frame.ID, err)
	}

	report.Holds = out.Holds
	report.Unassigned = out.Unassigned
	report.Fallbacks = out.Fallbacks
	report.Synchronous = out.Synchronous
	if err := s.register(ctx, logger, frame.ID, out.Assignments, breakdowns, &report); err != nil {
		return Report{}, err
	}

	s.tuner.Observe(len(report.Matches), len(report.Holds))
	s.recordOutcomes(shown, report.Matches)
	report.Ledger = s.ledger.Snapshot()
	report.Elapsed = time.Since(start)

	logger.Info("frame matched",
		logging.String("frame_id", frame.ID),
		logging.Int("detections", len(frame.Detections)),
		logging.Int("assigned", len(report.Matches)),
		logging.Int("final", len(report.Final())),
		logging.Int("held", len(report.Holds)),
		logging.Int("suppressed", len(report.Unassigned)),
		logging.Int("fallbacks", len(report.Fallbacks)),
		logging.Duration("elapsed", report.Elapsed),
	)
	return report, nil
}

// register acquires one ledger unit per assignment inside a transaction.
// An assignment the ledger refuses becomes a hold.
func (s *Session) register(
	ctx context.Context,
	logger *slog.Logger,
	frameID string,
	assignments []assign.Assignment,
	breakdowns map[pair]fusion.Breakdown,
	report *Report,
) error {
	before := s.ledger.Usage()
	tx := s.ledger.Begin()
	pending := make(map[registration]registered, len(assignments))

	for _, a := range assignments {
		if err := ctx.Err(); err != nil {
			return rollback(tx, err)
		}
		tpl := s.templates[a.TemplateID]
		if tpl == nil {
			return rollback(tx, fmt.Errorf("assignment names unknown template %q", a.TemplateID))
		}
		v, err := tx.Acquire(tpl.PartID, tpl.ColorID, tpl.ElementID)
		if err != nil {
			return s.violation(logger, tx, before, err)
		}
		if !v.Allowed {
			logger.Warn("assignment refused by ledger",
				logging.String(logging.FieldDetectionID, a.DetectionID),
				logging.String("template_id", a.TemplateID),
				logging.String("reason", string(v.Reason)),
			)
			report.Holds = append(report.Holds, assign.Hold{
				DetectionID: a.DetectionID,
				Reason:      assign.HoldReason(v.Reason),
				BestScore:   a.Score,
			})
			s.metrics.Held(string(v.Reason))
			continue
		}
		report.Matches = append(report.Matches, Match{
			Assignment: a,
			PartID:     tpl.PartID,
			ColorID:    tpl.ColorID,
			ElementID:  tpl.ElementID,
			Breakdown:  breakdowns[pair{detection: a.DetectionID, template: a.TemplateID}],
		})
		pending[registration{frame: frameID, detection: a.DetectionID}] = registered{
			key:      v.Entry,
			template: a.TemplateID,
			final:    a.Final,
		}
	}

	if err := ctx.Err(); err != nil {
		return rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.mu.Lock()
	for k, v := range pending {
		s.registered[k] = v
	}
	s.mu.Unlock()
	return nil
}

func rollback(tx *ledger.Tx, cause error) error {
	if err := tx.Rollback(); err != nil {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}

// violation handles an invariant failure during registration. With
// HaltOnViolation the session stays halted; otherwise the pre-frame usage is
// restored and only this frame fails.
func (s *Session) violation(logger *slog.Logger, tx *ledger.Tx, before []catalog.Usage, cause error) error {
	if !errors.Is(cause, ledger.ErrInvariantViolation) && !errors.Is(cause, ledger.ErrHalted) {
		return rollback(tx, cause)
	}
	if s.cfg.Ledger.HaltOnViolation {
		logger.Error("session halted",
			logging.Error(cause),
			logging.Alert("ledger_invariant"),
		)
		return fmt.Errorf("%w: %w", ErrHalted, cause)
	}
	if err := s.ledger.Rebuild(s.build.Entries, before); err != nil {
		return errors.Join(fmt.Errorf("%w: %w", ErrHalted, cause), err)
	}
	logger.Warn("ledger violation; pre-frame usage restored",
		logging.Error(cause),
		logging.Alert("ledger_invariant"),
	)
	return cause
}

// ReportFalsePositive returns the unit a registered assignment consumed and
// counts the error toward fusion tuning.
func (s *Session) ReportFalsePositive(frameID, detectionID string) error {
	key := registration{frame: frameID, detection: detectionID}
	s.mu.Lock()
	reg, ok := s.registered[key]
	if ok {
		delete(s.registered, key)
		if reg.final {
			o := s.outcomes[reg.template]
			o.Successes = max(0, o.Successes-1)
			s.outcomes[reg.template] = o
		}
	}
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: frame %q detection %q", ErrUnknownAssignment, frameID, detectionID)
	}

	if err := s.ledger.Unregister(reg.key); err != nil {
		if errors.Is(err, ledger.ErrHalted) {
			return fmt.Errorf("%w: %w", ErrHalted, err)
		}
		return err
	}
	s.tuner.ReportFalsePositive()
	s.logger.Info("false positive reported",
		logging.String("frame_id", frameID),
		logging.String(logging.FieldDetectionID, detectionID),
		logging.String("template_id", reg.template),
	)
	return nil
}

func (s *Session) recordOutcomes(shown map[string]int, matches []Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, n := range shown {
		o := s.outcomes[id]
		o.Shown += n
		s.outcomes[id] = o
	}
	for _, m := range matches {
		o := s.outcomes[m.TemplateID]
		o.Hits++
		if m.Final {
			o.Successes++
		}
		s.outcomes[m.TemplateID] = o
	}
}

// DrainOutcomes returns the per-template outcome counts gathered since the
// last drain and resets them.
func (s *Session) DrainOutcomes() map[string]catalog.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outcomes
	s.outcomes = make(map[string]catalog.Outcome)
	return out
}

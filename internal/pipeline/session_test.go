package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"bomatch/internal/assign"
	"bomatch/internal/catalog"
	"bomatch/internal/fusion"
	"bomatch/internal/ledger"
	"bomatch/internal/testsupport"
)

func newSession(t *testing.T, opts ...Option) *Session {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	s, err := NewSession(cfg, testsupport.SampleBuild(), opts...)
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func frame(id string, axes ...int) catalog.Frame {
	dets := testsupport.SpreadDetections(len(axes), func(i int) []float32 {
		return testsupport.Axis(axes[i])
	})
	return catalog.Frame{ID: id, Detections: dets}
}

func used(t *testing.T, s *Session, part string, color int) int {
	t.Helper()
	for _, e := range s.Snapshot() {
		if e.Key.PartID == part && e.Key.ColorID == color {
			return e.Used
		}
	}
	t.Fatalf("entry %s/%d not in ledger", part, color)
	return 0
}

func TestProcessAssignsAndRegisters(t *testing.T) {
	s := newSession(t)
	report, err := s.Process(context.Background(), frame("f1", 0, 2, 4))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if len(report.Matches) != 2 {
		t.Fatalf("expected 2 matches, got %+v", report.Matches)
	}
	want := map[string]string{"det-000": "3001:1", "det-001": "3003:1"}
	for _, m := range report.Matches {
		if want[m.DetectionID] != m.TemplateID {
			t.Errorf("%s matched %s, want %s", m.DetectionID, m.TemplateID, want[m.DetectionID])
		}
		if !m.Final {
			t.Errorf("%s should be final (score %.2f margin %.2f)", m.DetectionID, m.Score, m.Margin)
		}
		if m.Method != assign.MethodGreedy {
			t.Errorf("%s method = %s", m.DetectionID, m.Method)
		}
		if m.Breakdown.Fused != m.Score {
			t.Errorf("%s breakdown fused %.3f != score %.3f", m.DetectionID, m.Breakdown.Fused, m.Score)
		}
	}

	// Axis 4 is the off-BOM template; the ledger removes it, leaving only
	// weak candidates.
	if len(report.Holds) != 1 || report.Holds[0].DetectionID != "det-002" {
		t.Fatalf("expected det-002 held, got %+v", report.Holds)
	}
	if report.Holds[0].Reason != assign.HoldLowConfidence {
		t.Fatalf("hold reason = %s", report.Holds[0].Reason)
	}

	if got := used(t, s, "3001", 1); got != 1 {
		t.Fatalf("3001/1 used = %d, want 1", got)
	}
	if got := used(t, s, "3003", 1); got != 1 {
		t.Fatalf("3003/1 used = %d, want 1", got)
	}
	if report.SessionID != s.ID() || report.RunID == "" {
		t.Fatalf("missing ids: %+v", report)
	}
}

func TestProcessEnforcesQuantityAcrossFrames(t *testing.T) {
	s := newSession(t)
	if _, err := s.Process(context.Background(), frame("f1", 3)); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	report, err := s.Process(context.Background(), frame("f2", 3))
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if len(report.Matches) != 0 {
		t.Fatalf("3020/5 has quantity 1; got %+v", report.Matches)
	}
	if got := used(t, s, "3020", 5); got != 1 {
		t.Fatalf("3020/5 used = %d, want 1", got)
	}
}

func TestReportFalsePositiveReturnsUnit(t *testing.T) {
	s := newSession(t)
	report, err := s.Process(context.Background(), frame("f1", 3))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	det := report.Matches[0].DetectionID
	if err := s.ReportFalsePositive("f1", det); err != nil {
		t.Fatalf("ReportFalsePositive failed: %v", err)
	}
	if got := used(t, s, "3020", 5); got != 0 {
		t.Fatalf("3020/5 used = %d after false positive, want 0", got)
	}
	if err := s.ReportFalsePositive("f1", det); !errors.Is(err, ErrUnknownAssignment) {
		t.Fatalf("second report = %v, want ErrUnknownAssignment", err)
	}
}

func TestProcessCancelledLeavesNoUsage(t *testing.T) {
	s := newSession(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Process(ctx, frame("f1", 0, 2)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	for _, e := range s.Snapshot() {
		if e.Used != 0 {
			t.Fatalf("entry %s used %d after cancelled frame", e.Key, e.Used)
		}
	}
}

func TestHaltedSessionRefusesFrames(t *testing.T) {
	s := newSession(t)
	err := s.Restore([]catalog.Usage{{PartID: "3020", ColorID: 5, Used: 3}})
	if !errors.Is(err, ErrHalted) || !errors.Is(err, ledger.ErrInvariantViolation) {
		t.Fatalf("Restore = %v, want halt", err)
	}
	if _, err := s.Process(context.Background(), frame("f1", 0)); !errors.Is(err, ErrHalted) {
		t.Fatalf("Process on halted session = %v", err)
	}

	if err := s.Rebuild(nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	report, err := s.Process(context.Background(), frame("f2", 0))
	if err != nil {
		t.Fatalf("Process after Rebuild failed: %v", err)
	}
	if len(report.Matches) != 1 {
		t.Fatalf("expected 1 match after rebuild, got %d", len(report.Matches))
	}
}

func TestRestoreAppliesUsage(t *testing.T) {
	s := newSession(t)
	if err := s.Restore([]catalog.Usage{{PartID: "3020", ColorID: 5, Used: 1}}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	report, err := s.Process(context.Background(), frame("f1", 3))
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(report.Matches) != 0 {
		t.Fatalf("restored usage should exhaust 3020/5, got %+v", report.Matches)
	}
}

func TestOutcomesAndTunerObservations(t *testing.T) {
	s := newSession(t)
	if _, err := s.Process(context.Background(), frame("f1", 0, 2, 4)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	outcomes := s.DrainOutcomes()
	if o := outcomes["3001:1"]; o.Hits != 1 || o.Successes != 1 || o.Shown == 0 {
		t.Fatalf("3001:1 outcome = %+v", o)
	}
	if o := outcomes["3666:1"]; o.Hits != 0 || o.Shown == 0 {
		t.Fatalf("3666:1 outcome = %+v", o)
	}
	if len(s.DrainOutcomes()) != 0 {
		t.Fatal("drain should reset outcomes")
	}

	res := s.Tune()
	if !res.Skipped || res.Samples != 3 {
		t.Fatalf("tune result = %+v, want skipped with 3 samples", res)
	}
}

func TestSessionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newSession(t, WithRegisterer(reg))
	if _, err := s.Process(context.Background(), frame("f1", 0, 2, 4)); err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if n := testutil.CollectAndCount(reg, "bomatch_search_queries_total"); n != 1 {
		t.Fatalf("expected search counter registered, got %d series", n)
	}
	if stats := s.SearchStats(); stats.Queries != 3 {
		t.Fatalf("search queries = %d, want 3", stats.Queries)
	}
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestRefusedRegistrationIsCountedAsHold(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newSession(t, WithRegisterer(reg))
	if _, err := s.ledger.Register("3020", 5, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var report Report
	a := assign.Assignment{DetectionID: "det-000", TemplateID: "3020:5", Score: 0.95, Method: assign.MethodGreedy}
	if err := s.register(context.Background(), s.logger, "f1", []assign.Assignment{a}, map[pair]fusion.Breakdown{}, &report); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if len(report.Matches) != 0 || len(report.Holds) != 1 || report.Holds[0].Reason != assign.HoldQuantityExceeded {
		t.Fatalf("expected one quantity_exceeded hold, got matches=%+v holds=%+v", report.Matches, report.Holds)
	}
	if got := counterValue(t, reg, "bomatch_assign_holds_total", "reason", "quantity_exceeded"); got != 1 {
		t.Fatalf("holds_total{quantity_exceeded} = %v, want 1", got)
	}
	if got := used(t, s, "3020", 5); got != 1 {
		t.Fatalf("3020/5 used = %d, want 1", got)
	}
}

func TestClosedSession(t *testing.T) {
	s := newSession(t)
	s.Close()
	if _, err := s.Process(context.Background(), frame("f1", 0)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Process after Close = %v, want ErrClosed", err)
	}
}

func TestConfigMapping(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithBatchTimeout(250))
	cfg.Search.Stage1K = 7
	cfg.Fusion.ImageWeight = 0.55

	if got := SearchConfig(cfg).Stage1K; got != 7 {
		t.Fatalf("Stage1K = %d", got)
	}
	if got := FusionConfig(cfg).Base.Image; got != 0.55 {
		t.Fatalf("Base.Image = %v", got)
	}
	if got := AssignConfig(cfg).BatchTimeout.Milliseconds(); got != 250 {
		t.Fatalf("BatchTimeout = %dms", got)
	}
}

package fusion

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"
)

func TestTuneRaisesMetaAndTextOnFalsePositives(t *testing.T) {
	tuner := NewTuner(DefaultConfig().Base, DefaultConfig())
	tuner.Observe(100, 0)
	for i := 0; i < 4; i++ {
		tuner.ReportFalsePositive()
	}

	res := tuner.Tune()
	if res.Skipped {
		t.Fatal("expected tuning pass to run")
	}
	if !approx(res.After.Meta, 0.30) || !approx(res.After.Text, 0.20) || !approx(res.After.Image, 0.60) {
		t.Fatalf("unexpected weights after false positives %#v", res.After)
	}
}

func TestTuneRaisesImageOnHolds(t *testing.T) {
	tuner := NewTuner(DefaultConfig().Base, DefaultConfig())
	tuner.Observe(90, 10)

	res := tuner.Tune()
	if !approx(res.HoldRate, 0.10) {
		t.Fatalf("expected hold rate 0.10, got %v", res.HoldRate)
	}
	if !approx(res.After.Image, 0.65) || !approx(res.After.Meta, 0.25) {
		t.Fatalf("unexpected weights after holds %#v", res.After)
	}
}

func TestTuneSkipsSmallSamples(t *testing.T) {
	tuner := NewTuner(DefaultConfig().Base, DefaultConfig())
	tuner.Observe(10, 10)

	res := tuner.Tune()
	if !res.Skipped || res.Changed() {
		t.Fatalf("expected skipped pass, got %#v", res)
	}
	tuner.Observe(20, 10)
	if res := tuner.Tune(); res.Skipped || res.Samples != 50 {
		t.Fatalf("expected counts to carry over, got %#v", res)
	}
}

func TestTuneResetsObservations(t *testing.T) {
	tuner := NewTuner(DefaultConfig().Base, DefaultConfig())
	tuner.Observe(50, 50)
	tuner.Tune()
	if res := tuner.Tune(); !res.Skipped || res.Samples != 0 {
		t.Fatalf("expected observations reset, got %#v", res)
	}
}

func TestWeightsStayWithinBounds(t *testing.T) {
	cfg := DefaultConfig()
	r := rand.New(rand.NewPCG(3, 5))

	for trial := 0; trial < 50; trial++ {
		session := AdaptForCatalog(cfg, r.IntN(5000))
		tuner := NewTuner(session, cfg)
		for step := 0; step < 40; step++ {
			assigned := r.IntN(200)
			tuner.Observe(assigned, r.IntN(100))
			for fp := r.IntN(20); fp > 0; fp-- {
				tuner.ReportFalsePositive()
			}
			tuner.Tune()

			w := tuner.Weights()
			if !w.Within(cfg.Bounds) {
				t.Fatalf("session weights escaped bounds: %#v", w)
			}
			if per := ForPart(cfg, w, r.IntN(12)); !per.Within(cfg.Bounds) {
				t.Fatalf("candidate weights escaped bounds: %#v", per)
			}
		}
	}
}

func TestTunerStartRunsOnSchedule(t *testing.T) {
	tuner := NewTuner(DefaultConfig().Base, DefaultConfig())
	ticks := make(chan time.Time)
	tuner.afterFunc = func(time.Duration) <-chan time.Time { return ticks }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := tuner.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := tuner.Start(ctx); err != ErrTunerRunning {
		t.Fatalf("expected ErrTunerRunning, got %v", err)
	}

	tuner.Observe(90, 10)
	ticks <- time.Now()
	// The second send only completes once the first pass has finished.
	ticks <- time.Now()

	if w := tuner.Weights(); !approx(w.Image, 0.65) {
		t.Fatalf("expected scheduled pass to raise image weight, got %#v", w)
	}
	tuner.Stop()
	tuner.Stop()
}

func TestTunerStartRejectsBadSchedule(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TuneSchedule = "not a schedule"
	if err := NewTuner(cfg.Base, cfg).Start(context.Background()); err == nil {
		t.Fatal("expected schedule parse error")
	}

	cfg.TuneSchedule = ""
	if err := NewTuner(cfg.Base, cfg).Start(context.Background()); err != nil {
		t.Fatalf("expected empty schedule to be a no-op, got %v", err)
	}
}

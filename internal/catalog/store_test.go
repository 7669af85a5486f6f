package catalog_test

import (
	"context"
	"errors"
	"testing"

	"bomatch/internal/catalog"
	"bomatch/internal/testsupport"
)

func TestImportAndLoadBuild(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	testsupport.MustImport(t, store, testsupport.SampleBuild())

	build, err := store.LoadBuild(context.Background(), testsupport.SampleBuildID)
	if err != nil {
		t.Fatalf("LoadBuild failed: %v", err)
	}
	if build.Name != "Test Castle" {
		t.Fatalf("unexpected name %q", build.Name)
	}
	if len(build.Entries) != 4 || len(build.Templates) != 5 {
		t.Fatalf("expected 4 entries and 5 templates, got %d and %d", len(build.Entries), len(build.Templates))
	}
	if len(build.Groups) != 1 || len(build.Groups[0].Members) != 2 {
		t.Fatalf("unexpected confusion groups %#v", build.Groups)
	}

	var brick catalog.Template
	for _, tpl := range build.Templates {
		if tpl.ID == "3001:4" {
			brick = tpl
		}
	}
	if len(brick.ConfusionGroups) != 1 || brick.ConfusionGroups[0] != "2x4-brick" {
		t.Fatalf("expected group membership restored, got %#v", brick.ConfusionGroups)
	}
	if len(brick.Embeddings.Image) != testsupport.Dim || brick.Embeddings.Image[1] != 1 {
		t.Fatalf("image embedding not round-tripped: %v", brick.Embeddings.Image)
	}
}

func TestLoadBuildMissing(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	_, err := store.LoadBuild(context.Background(), "nope")
	if !errors.Is(err, catalog.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}

func TestReimportResetsUsage(t *testing.T) {
	ctx := context.Background()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.MustImport(t, store, testsupport.SampleBuild())

	if err := store.SaveUsage(ctx, testsupport.SampleBuildID, []catalog.Usage{
		{PartID: "3001", ColorID: 1, Used: 3},
		{PartID: "3020", ColorID: 5, Used: 1},
	}); err != nil {
		t.Fatalf("SaveUsage failed: %v", err)
	}

	usage, err := store.LoadUsage(ctx, testsupport.SampleBuildID)
	if err != nil {
		t.Fatalf("LoadUsage failed: %v", err)
	}
	got := map[string]int{}
	for _, u := range usage {
		got[catalog.TemplateKey(u.PartID, u.ColorID, u.ElementID)] = u.Used
	}
	if got["3001:1"] != 3 || got["3020:5"] != 1 || got["3003:1"] != 0 {
		t.Fatalf("unexpected usage %v", got)
	}

	testsupport.MustImport(t, store, testsupport.SampleBuild())
	usage, err = store.LoadUsage(ctx, testsupport.SampleBuildID)
	if err != nil {
		t.Fatalf("LoadUsage failed: %v", err)
	}
	for _, u := range usage {
		if u.Used != 0 {
			t.Fatalf("expected usage reset after reimport, got %#v", u)
		}
	}
}

func TestSaveUsageUnknownEntry(t *testing.T) {
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.MustImport(t, store, testsupport.SampleBuild())

	err := store.SaveUsage(context.Background(), testsupport.SampleBuildID, []catalog.Usage{
		{PartID: "9999", ColorID: 1, Used: 1},
	})
	if !errors.Is(err, catalog.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound, got %v", err)
	}
}

func TestResetUsage(t *testing.T) {
	ctx := context.Background()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.MustImport(t, store, testsupport.SampleBuild())
	if err := store.SaveUsage(ctx, testsupport.SampleBuildID, []catalog.Usage{{PartID: "3001", ColorID: 1, Used: 2}}); err != nil {
		t.Fatalf("SaveUsage failed: %v", err)
	}

	n, err := store.ResetUsage(ctx, testsupport.SampleBuildID)
	if err != nil {
		t.Fatalf("ResetUsage failed: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 rows reset, got %d", n)
	}
	if _, err := store.ResetUsage(ctx, "missing"); !errors.Is(err, catalog.ErrBuildNotFound) {
		t.Fatalf("expected ErrBuildNotFound for missing build, got %v", err)
	}
}

func TestListBuilds(t *testing.T) {
	ctx := context.Background()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.MustImport(t, store, testsupport.SampleBuild())
	if err := store.SaveUsage(ctx, testsupport.SampleBuildID, []catalog.Usage{{PartID: "3003", ColorID: 1, Used: 2}}); err != nil {
		t.Fatalf("SaveUsage failed: %v", err)
	}

	builds, err := store.ListBuilds(ctx)
	if err != nil {
		t.Fatalf("ListBuilds failed: %v", err)
	}
	if len(builds) != 1 {
		t.Fatalf("expected one build, got %d", len(builds))
	}
	got := builds[0]
	if got.Entries != 4 || got.Templates != 5 || got.Units != 10 || got.Used != 2 {
		t.Fatalf("unexpected summary %#v", got)
	}
	if got.ImportedAt.IsZero() {
		t.Fatal("expected import timestamp")
	}
}

func TestRecordOutcomesUpdatesRates(t *testing.T) {
	ctx := context.Background()
	store := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	testsupport.MustImport(t, store, testsupport.SampleBuild())

	err := store.RecordOutcomes(ctx, testsupport.SampleBuildID, map[string]catalog.Outcome{
		"3001:1": {Shown: 10, Hits: 10, Successes: 5},
	}, 0.5)
	if err != nil {
		t.Fatalf("RecordOutcomes failed: %v", err)
	}
	build, err := store.LoadBuild(ctx, testsupport.SampleBuildID)
	if err != nil {
		t.Fatalf("LoadBuild failed: %v", err)
	}
	for _, tpl := range build.Templates {
		if tpl.ID != "3001:1" {
			continue
		}
		if tpl.HitRate != 0.5 || tpl.SuccessRate != 0.25 {
			t.Fatalf("unexpected rates hit=%v success=%v", tpl.HitRate, tpl.SuccessRate)
		}
	}
}

func TestLockIsExclusive(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	first := testsupport.MustOpenStore(t, cfg)
	second := testsupport.MustOpenStore(t, cfg)

	if err := first.Lock(); err != nil {
		t.Fatalf("first Lock failed: %v", err)
	}
	if err := second.Lock(); !errors.Is(err, catalog.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := second.Lock(); err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
}

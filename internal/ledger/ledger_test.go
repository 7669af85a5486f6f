package ledger

import (
	"errors"
	"math/rand/v2"
	"reflect"
	"sync"
	"testing"

	"bomatch/internal/catalog"
)

func sampleBOM() []catalog.BOMEntry {
	return []catalog.BOMEntry{
		{PartID: "3001", ColorID: 1, Quantity: 4},
		{PartID: "3001", ColorID: 4, Quantity: 2},
		{PartID: "3003", ColorID: 1, ElementID: "300301", Quantity: 1},
		{PartID: "3020", ColorID: 5, Quantity: 0},
	}
}

func mustLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := New(sampleBOM())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return l
}

func TestValidateReasons(t *testing.T) {
	l := mustLedger(t)
	cases := []struct {
		name    string
		part    string
		color   int
		element string
		allowed bool
		reason  Reason
	}{
		{"allowed", "3001", 1, "", true, ReasonNone},
		{"unknown part", "9999", 1, "", false, ReasonPartNotInBOM},
		{"wrong color", "3001", 7, "", false, ReasonColorMismatch},
		{"wrong element", "3003", 1, "999999", false, ReasonElementMismatch},
		{"matching element", "3003", 1, "300301", true, ReasonNone},
		{"element on generic entry", "3001", 4, "300104", true, ReasonNone},
		{"zero quantity", "3020", 5, "", false, ReasonQuantityExceeded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := l.Validate(tc.part, tc.color, tc.element)
			if v.Allowed != tc.allowed || v.Reason != tc.reason {
				t.Fatalf("Validate(%s, %d, %q) = %#v", tc.part, tc.color, tc.element, v)
			}
		})
	}
}

func TestQuantityBudget(t *testing.T) {
	l := mustLedger(t)

	for i := 0; i < 4; i++ {
		v := l.Validate("3001", 1, "")
		if !v.Allowed {
			t.Fatalf("unit %d rejected: %#v", i+1, v)
		}
		if _, err := l.Register("3001", 1, ""); err != nil {
			t.Fatalf("Register %d failed: %v", i+1, err)
		}
	}
	v := l.Validate("3001", 1, "")
	if v.Allowed || v.Reason != ReasonQuantityExceeded || v.Used != 4 || v.Remaining != 0 {
		t.Fatalf("expected quantity_exceeded at 4/4, got %#v", v)
	}

	key := Key{PartID: "3001", ColorID: 1}
	if err := l.Unregister(key); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if v := l.Validate("3001", 1, ""); !v.Allowed || v.Used != 3 {
		t.Fatalf("expected room after unregister, got %#v", v)
	}
}

func TestRegisterPastQuantityHalts(t *testing.T) {
	l := mustLedger(t)
	if _, err := l.Register("3003", 1, "300301"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := l.Register("3003", 1, "300301")
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if l.Halted() == nil {
		t.Fatal("expected ledger to halt")
	}
	for _, s := range l.Snapshot() {
		if s.Used > s.Quantity {
			t.Fatalf("refused increment must not be applied: %#v", s)
		}
	}

	if v := l.Validate("3001", 1, ""); v.Allowed || v.Reason != ReasonHalted {
		t.Fatalf("expected halted validation, got %#v", v)
	}
	if _, err := l.Register("3001", 1, ""); !errors.Is(err, ErrHalted) || !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected halted register, got %v", err)
	}
	if err := l.Unregister(Key{PartID: "3001", ColorID: 1}); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected halted unregister, got %v", err)
	}
	if _, err := l.Acquire("3001", 1, ""); !errors.Is(err, ErrHalted) {
		t.Fatalf("expected halted acquire, got %v", err)
	}

	if err := l.Rebuild(sampleBOM(), nil); err != nil {
		t.Fatalf("Rebuild failed: %v", err)
	}
	if l.Halted() != nil {
		t.Fatal("expected rebuild to clear halt")
	}
	if v := l.Validate("3003", 1, "300301"); !v.Allowed || v.Used != 0 {
		t.Fatalf("expected fresh usage after rebuild, got %#v", v)
	}
}

func TestUnregisterFloorsAtZero(t *testing.T) {
	l := mustLedger(t)
	key := Key{PartID: "3001", ColorID: 4}
	if err := l.Unregister(key); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if err := l.Unregister(key); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if v := l.Validate("3001", 4, ""); v.Used != 0 || v.Remaining != 2 {
		t.Fatalf("expected floor at zero, got %#v", v)
	}
	if err := l.Unregister(Key{PartID: "9999"}); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
}

func TestRegisterUnknownEntry(t *testing.T) {
	l := mustLedger(t)
	if _, err := l.Register("9999", 1, ""); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
	if l.Halted() != nil {
		t.Fatal("unknown entries must not halt the ledger")
	}
}

func TestFilterByConstraints(t *testing.T) {
	l := mustLedger(t)
	items := []Item{
		{PartID: "3001", ColorID: 1},
		{PartID: "4444", ColorID: 1},
		{PartID: "3020", ColorID: 5},
		{PartID: "3003", ColorID: 1, ElementID: "300301"},
	}
	allowed, rejected := l.FilterByConstraints(items)
	if len(allowed) != 2 || len(rejected) != 2 {
		t.Fatalf("expected 2/2 split, got %d/%d", len(allowed), len(rejected))
	}
	if allowed[0].Index != 0 || allowed[1].Index != 3 {
		t.Fatalf("unexpected allowed order %#v", allowed)
	}
	if allowed[1].Validation.Entry.ElementID != "300301" || allowed[1].Validation.Remaining != 1 {
		t.Fatalf("expected survivors annotated, got %#v", allowed[1].Validation)
	}
	if rejected[0].Validation.Reason != ReasonPartNotInBOM || rejected[1].Validation.Reason != ReasonQuantityExceeded {
		t.Fatalf("unexpected rejection reasons %#v", rejected)
	}
}

func TestElementEntryPreferred(t *testing.T) {
	l, err := New([]catalog.BOMEntry{
		{PartID: "3001", ColorID: 1, Quantity: 1},
		{PartID: "3001", ColorID: 1, ElementID: "300101", Quantity: 1},
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	key, err := l.Register("3001", 1, "300101")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if key.ElementID != "300101" {
		t.Fatalf("expected exact element entry, got %s", key)
	}
	// The generic record still has room for an element-qualified item.
	if v := l.Validate("3001", 1, "300101"); !v.Allowed || v.Entry.ElementID != "" {
		t.Fatalf("expected fallback to generic entry, got %#v", v)
	}
}

func TestTxRollback(t *testing.T) {
	l := mustLedger(t)
	tx := l.Begin()
	for i := 0; i < 3; i++ {
		v, err := tx.Acquire("3001", 1, "")
		if err != nil || !v.Allowed {
			t.Fatalf("Acquire %d: %#v %v", i, v, err)
		}
	}
	if _, err := tx.Register("3001", 4, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if tx.Len() != 4 {
		t.Fatalf("expected 4 registrations, got %d", tx.Len())
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	for _, s := range l.Snapshot() {
		if s.Used != 0 {
			t.Fatalf("expected rollback to restore zero usage, got %#v", s)
		}
	}
	if _, err := tx.Register("3001", 1, ""); !errors.Is(err, ErrTxDone) {
		t.Fatalf("expected ErrTxDone, got %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("second Rollback should be a no-op, got %v", err)
	}
}

func TestTxCommit(t *testing.T) {
	l := mustLedger(t)
	tx := l.Begin()
	if _, err := tx.Acquire("3001", 4, ""); err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback after commit failed: %v", err)
	}
	if v := l.Validate("3001", 4, ""); v.Used != 1 {
		t.Fatalf("expected committed usage, got %#v", v)
	}
	if err := tx.Commit(); !errors.Is(err, ErrTxDone) {
		t.Fatalf("expected ErrTxDone, got %v", err)
	}
}

func TestAcquireRejectsWithoutRegistering(t *testing.T) {
	l := mustLedger(t)
	v, err := l.Acquire("3020", 5, "")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if v.Allowed || v.Reason != ReasonQuantityExceeded {
		t.Fatalf("expected rejection, got %#v", v)
	}
	if l.Halted() != nil {
		t.Fatal("rejection must not halt")
	}
}

func TestConcurrentAcquireNeverExceedsQuantity(t *testing.T) {
	l, err := New([]catalog.BOMEntry{{PartID: "3001", ColorID: 1, Quantity: 25}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := l.Acquire("3001", 1, "")
			if err != nil {
				t.Errorf("Acquire failed: %v", err)
				return
			}
			if v.Allowed {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 25 {
		t.Fatalf("expected exactly 25 grants, got %d", granted)
	}
	if err := l.CheckInvariants(); err != nil {
		t.Fatalf("invariants broken: %v", err)
	}
}

func TestRandomSequencesKeepInvariants(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	keys := []Key{{PartID: "3001", ColorID: 1}, {PartID: "3001", ColorID: 4}, {PartID: "3003", ColorID: 1, ElementID: "300301"}}

	for trial := 0; trial < 20; trial++ {
		l := mustLedger(t)
		for step := 0; step < 200; step++ {
			k := keys[r.IntN(len(keys))]
			before := l.Validate(k.PartID, k.ColorID, k.ElementID).Used
			if r.IntN(2) == 0 {
				if _, err := l.Acquire(k.PartID, k.ColorID, k.ElementID); err != nil {
					t.Fatalf("Acquire failed: %v", err)
				}
				continue
			}
			if before == 0 {
				continue
			}
			// register then unregister returns used to its prior value
			if _, err := l.Acquire(k.PartID, k.ColorID, k.ElementID); err != nil {
				t.Fatalf("Acquire failed: %v", err)
			}
			if err := l.Unregister(k); err != nil {
				t.Fatalf("Unregister failed: %v", err)
			}
			after := l.Validate(k.PartID, k.ColorID, k.ElementID).Used
			if after > before {
				t.Fatalf("register+unregister drifted %s: %d -> %d", k, before, after)
			}
			if err := l.Unregister(k); err != nil {
				t.Fatalf("Unregister failed: %v", err)
			}
		}
		if err := l.CheckInvariants(); err != nil {
			t.Fatalf("trial %d: %v", trial, err)
		}
		for _, s := range l.Snapshot() {
			if s.Used < 0 || s.Used > s.Quantity {
				t.Fatalf("trial %d: entry out of range %#v", trial, s)
			}
		}
	}
}

func TestRestoreAndUsage(t *testing.T) {
	l := mustLedger(t)
	err := l.Restore([]catalog.Usage{{PartID: "3001", ColorID: 1, Used: 3}})
	if err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	usage := l.Usage()
	if len(usage) != 4 || usage[0].Used != 3 {
		t.Fatalf("unexpected usage %#v", usage)
	}

	err = l.Restore([]catalog.Usage{{PartID: "3001", ColorID: 4, Used: 9}})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected violation for over-quantity restore, got %v", err)
	}
	if l.Halted() == nil {
		t.Fatal("expected halt after bad restore")
	}
}

func TestFailedRestoreLeavesUsageUnchanged(t *testing.T) {
	l := mustLedger(t)
	if err := l.Restore([]catalog.Usage{{PartID: "3001", ColorID: 4, Used: 1}}); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	before := l.Snapshot()

	err := l.Restore([]catalog.Usage{
		{PartID: "3001", ColorID: 1, Used: 3},
		{PartID: "9999", ColorID: 1, Used: 1},
	})
	if !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
	if l.Halted() != nil {
		t.Fatalf("unknown row should not halt: %v", l.Halted())
	}
	if got := l.Snapshot(); !reflect.DeepEqual(got, before) {
		t.Fatalf("snapshot changed after failed restore:\n got %v\nwant %v", got, before)
	}

	err = l.Restore([]catalog.Usage{
		{PartID: "3001", ColorID: 1, Used: 2},
		{PartID: "3001", ColorID: 4, Used: 9},
	})
	if !errors.Is(err, ErrInvariantViolation) || l.Halted() == nil {
		t.Fatalf("expected halt on out-of-range restore, got %v", err)
	}
	if got := l.Snapshot(); !reflect.DeepEqual(got, before) {
		t.Fatalf("out-of-range restore applied rows:\n got %v\nwant %v", got, before)
	}
}

func TestFailedRebuildKeepsCurrentBOM(t *testing.T) {
	l := mustLedger(t)
	if _, err := l.Register("3001", 1, ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	before := l.Snapshot()

	dup := []catalog.BOMEntry{
		{PartID: "3002", ColorID: 1, Quantity: 1},
		{PartID: "3002", ColorID: 1, Quantity: 2},
	}
	if err := l.Rebuild(dup, nil); err == nil {
		t.Fatal("expected duplicate entry error")
	}
	if err := l.Rebuild(sampleBOM(), []catalog.Usage{{PartID: "9999", ColorID: 1, Used: 1}}); !errors.Is(err, ErrUnknownEntry) {
		t.Fatalf("expected ErrUnknownEntry, got %v", err)
	}
	if l.Halted() != nil {
		t.Fatalf("rejected rebuild should not halt: %v", l.Halted())
	}
	if got := l.Snapshot(); !reflect.DeepEqual(got, before) {
		t.Fatalf("snapshot changed after failed rebuild:\n got %v\nwant %v", got, before)
	}
	if v := l.Validate("3001", 1, ""); !v.Allowed || v.Used != 1 {
		t.Fatalf("3001/1 no longer valid after failed rebuild: %#v", v)
	}
}

func TestFailedRebuildKeepsHalt(t *testing.T) {
	l := mustLedger(t)
	if err := l.Restore([]catalog.Usage{{PartID: "3020", ColorID: 5, Used: 1}}); !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected violation, got %v", err)
	}
	if err := l.Rebuild([]catalog.BOMEntry{{PartID: "", Quantity: 1}}, nil); err == nil {
		t.Fatal("expected empty part id error")
	}
	if l.Halted() == nil {
		t.Fatal("failed rebuild cleared the halt")
	}
}

func TestNewRejectsBadBOM(t *testing.T) {
	if _, err := New([]catalog.BOMEntry{{PartID: "1", Quantity: -1}}); err == nil {
		t.Fatal("expected negative quantity error")
	}
	if _, err := New([]catalog.BOMEntry{{PartID: "1", Quantity: 1}, {PartID: "1", Quantity: 1}}); err == nil {
		t.Fatal("expected duplicate entry error")
	}
}

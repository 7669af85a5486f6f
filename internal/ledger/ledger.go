package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"bomatch/internal/catalog"
	"bomatch/internal/logging"
	"bomatch/internal/metrics"
)

type entry struct {
	key      Key
	quantity int
	used     int
}

// Ledger tracks BOM quantities and usage for one session.
type Ledger struct {
	mu      sync.Mutex
	entries []*entry
	byPart  map[string][]*entry
	halted  error

	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMetrics attaches a session metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(l *Ledger) {
		l.metrics = rec
	}
}

// New builds a ledger from the authoritative BOM entries with zero usage.
func New(entries []catalog.BOMEntry, opts ...Option) (*Ledger, error) {
	l := &Ledger{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logging.NewComponentLogger(l.logger, "ledger")
	if err := l.load(entries); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Ledger) load(entries []catalog.BOMEntry) error {
	list, byPart, err := buildEntries(entries)
	if err != nil {
		return err
	}
	l.entries, l.byPart = list, byPart
	return nil
}

// buildEntries validates a BOM into fresh entries without touching any
// ledger state.
func buildEntries(bom []catalog.BOMEntry) ([]*entry, map[string][]*entry, error) {
	seen := make(map[Key]struct{}, len(bom))
	entries := make([]*entry, 0, len(bom))
	byPart := make(map[string][]*entry)
	for _, e := range bom {
		key := Key{
			PartID:    strings.TrimSpace(e.PartID),
			ColorID:   e.ColorID,
			ElementID: strings.TrimSpace(e.ElementID),
		}
		if key.PartID == "" {
			return nil, nil, errors.New("bom entry with empty part id")
		}
		if e.Quantity < 0 {
			return nil, nil, fmt.Errorf("bom entry %s: negative quantity %d", key, e.Quantity)
		}
		if _, dup := seen[key]; dup {
			return nil, nil, fmt.Errorf("duplicate bom entry %s", key)
		}
		seen[key] = struct{}{}
		en := &entry{key: key, quantity: e.Quantity}
		entries = append(entries, en)
		byPart[key.PartID] = append(byPart[key.PartID], en)
	}
	// Entries with an element id sort first so a provided element prefers
	// its exact record over a generic one.
	for _, list := range byPart {
		sort.SliceStable(list, func(i, j int) bool {
			a, b := list[i].key, list[j].key
			if a.ColorID != b.ColorID {
				return a.ColorID < b.ColorID
			}
			if (a.ElementID == "") != (b.ElementID == "") {
				return a.ElementID != ""
			}
			return a.ElementID < b.ElementID
		})
	}
	return entries, byPart, nil
}

// stageUsage resolves usage rows against entries. Nothing is applied; an
// unknown row fails with ErrUnknownEntry and an out-of-range counter with
// ErrInvariantViolation.
func stageUsage(entries []*entry, usage []catalog.Usage) (map[*entry]int, error) {
	byKey := make(map[Key]*entry, len(entries))
	for _, e := range entries {
		byKey[e.key] = e
	}
	staged := make(map[*entry]int, len(usage))
	for _, u := range usage {
		key := Key{PartID: u.PartID, ColorID: u.ColorID, ElementID: u.ElementID}
		e := byKey[key]
		if e == nil {
			return nil, fmt.Errorf("%w: restore %s", ErrUnknownEntry, key)
		}
		staged[e] = u.Used
	}
	for _, e := range entries {
		used, ok := staged[e]
		if ok && (used < 0 || used > e.quantity) {
			return nil, fmt.Errorf("%w: %s used %d outside [0, %d]",
				ErrInvariantViolation, e.key, used, e.quantity)
		}
	}
	return staged, nil
}

// matches returns the entries an item may draw from, or the reason none can.
func (l *Ledger) matches(item Item) ([]*entry, Reason) {
	list := l.byPart[strings.TrimSpace(item.PartID)]
	if len(list) == 0 {
		return nil, ReasonPartNotInBOM
	}
	var colored []*entry
	for _, e := range list {
		if e.key.ColorID == item.ColorID {
			colored = append(colored, e)
		}
	}
	if len(colored) == 0 {
		return nil, ReasonColorMismatch
	}
	element := strings.TrimSpace(item.ElementID)
	if element == "" {
		return colored, ReasonNone
	}
	var out []*entry
	for _, e := range colored {
		if e.key.ElementID == "" || e.key.ElementID == element {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return nil, ReasonElementMismatch
	}
	return out, ReasonNone
}

// pick returns the first candidate entry with units left, else the first.
func pick(list []*entry) (*entry, bool) {
	for _, e := range list {
		if e.used < e.quantity {
			return e, true
		}
	}
	return list[0], false
}

func (l *Ledger) validateLocked(item Item) Validation {
	if l.halted != nil {
		return Validation{Reason: ReasonHalted}
	}
	list, reason := l.matches(item)
	if reason != ReasonNone {
		return Validation{Reason: reason}
	}
	e, ok := pick(list)
	v := Validation{
		Allowed:   ok,
		Entry:     e.key,
		Quantity:  e.quantity,
		Used:      e.used,
		Remaining: e.quantity - e.used,
	}
	if !ok {
		v.Reason = ReasonQuantityExceeded
	}
	return v
}

// Validate checks an item against the BOM and remaining quantity.
func (l *Ledger) Validate(partID string, colorID int, elementID string) Validation {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.validateLocked(Item{PartID: partID, ColorID: colorID, ElementID: elementID})
}

// FilterByConstraints validates every item under one lock acquisition and
// splits them into allowed and rejected, preserving input order.
func (l *Ledger) FilterByConstraints(items []Item) (allowed, rejected []Annotated) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, item := range items {
		a := Annotated{Index: i, Item: item, Validation: l.validateLocked(item)}
		if a.Validation.Allowed {
			allowed = append(allowed, a)
			continue
		}
		rejected = append(rejected, a)
		l.metrics.LedgerRejected(string(a.Validation.Reason))
	}
	return allowed, rejected
}

// Register consumes one unit. Callers validate first; Register only guards
// the invariant and halts the ledger if the increment would exceed quantity.
func (l *Ledger) Register(partID string, colorID int, elementID string) (Key, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.registerLocked(Item{PartID: partID, ColorID: colorID, ElementID: elementID})
}

func (l *Ledger) registerLocked(item Item) (Key, error) {
	if l.halted != nil {
		return Key{}, fmt.Errorf("%w: %w", ErrHalted, l.halted)
	}
	list, reason := l.matches(item)
	if reason != ReasonNone {
		return Key{}, fmt.Errorf("%w: %s/%d (%s)", ErrUnknownEntry, item.PartID, item.ColorID, reason)
	}
	e, ok := pick(list)
	if !ok {
		return e.key, l.haltLocked(fmt.Errorf("%w: register %s would make used %d exceed quantity %d",
			ErrInvariantViolation, e.key, e.used+1, e.quantity))
	}
	e.used++
	l.publishLocked()
	return e.key, nil
}

// Acquire validates and registers under one lock acquisition. A rejected
// item is returned with Allowed false and no error; only invariant failures
// are errors.
func (l *Ledger) Acquire(partID string, colorID int, elementID string) (Validation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item := Item{PartID: partID, ColorID: colorID, ElementID: elementID}
	v := l.validateLocked(item)
	if !v.Allowed {
		if v.Reason == ReasonHalted {
			return v, fmt.Errorf("%w: %w", ErrHalted, l.halted)
		}
		return v, nil
	}
	if _, err := l.registerLocked(item); err != nil {
		return v, err
	}
	v.Used++
	v.Remaining--
	return v, nil
}

// Unregister returns one unit to an exact entry, flooring at zero.
func (l *Ledger) Unregister(key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.unregisterLocked(key)
}

func (l *Ledger) unregisterLocked(key Key) error {
	if l.halted != nil {
		return fmt.Errorf("%w: %w", ErrHalted, l.halted)
	}
	e := l.lookupLocked(key)
	if e == nil {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, key)
	}
	if e.used == 0 {
		l.logger.Debug("unregister on empty entry ignored", logging.String("entry", key.String()))
		return nil
	}
	e.used--
	l.publishLocked()
	return nil
}

func (l *Ledger) lookupLocked(key Key) *entry {
	for _, e := range l.byPart[key.PartID] {
		if e.key == key {
			return e
		}
	}
	return nil
}

func (l *Ledger) haltLocked(cause error) error {
	if l.halted == nil {
		l.halted = cause
		l.logger.Error("ledger halted",
			logging.Error(cause),
			logging.Alert("ledger_invariant"))
	}
	l.publishLocked()
	return cause
}

func (l *Ledger) publishLocked() {
	if l.metrics == nil {
		return
	}
	total := 0
	for _, e := range l.entries {
		total += e.used
	}
	l.metrics.LedgerState(total, l.halted != nil)
}

// CheckInvariants scans every counter and halts on the first violation.
func (l *Ledger) CheckInvariants() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted != nil {
		return fmt.Errorf("%w: %w", ErrHalted, l.halted)
	}
	return l.checkLocked()
}

func (l *Ledger) checkLocked() error {
	for _, e := range l.entries {
		if e.used < 0 || e.used > e.quantity {
			return l.haltLocked(fmt.Errorf("%w: %s used %d outside [0, %d]",
				ErrInvariantViolation, e.key, e.used, e.quantity))
		}
	}
	return nil
}

// Halted returns the violation that halted the ledger, or nil.
func (l *Ledger) Halted() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

// Snapshot returns every entry in BOM order.
func (l *Ledger) Snapshot() []EntryState {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EntryState, len(l.entries))
	for i, e := range l.entries {
		out[i] = EntryState{Key: e.key, Quantity: e.quantity, Used: e.used}
	}
	return out
}

// Usage returns the snapshot in the catalog's persistence form.
func (l *Ledger) Usage() []catalog.Usage {
	snap := l.Snapshot()
	out := make([]catalog.Usage, len(snap))
	for i, s := range snap {
		out[i] = catalog.Usage{PartID: s.Key.PartID, ColorID: s.Key.ColorID, ElementID: s.Key.ElementID, Used: s.Used}
	}
	return out
}

// Restore applies persisted usage. Rows are applied only if every row is
// valid; counters outside [0, quantity] halt the ledger instead of being
// corrected.
func (l *Ledger) Restore(usage []catalog.Usage) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.halted != nil {
		return fmt.Errorf("%w: %w", ErrHalted, l.halted)
	}
	return l.restoreLocked(usage)
}

func (l *Ledger) restoreLocked(usage []catalog.Usage) error {
	staged, err := stageUsage(l.entries, usage)
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			return l.haltLocked(err)
		}
		return err
	}
	for e, used := range staged {
		e.used = used
	}
	l.publishLocked()
	return nil
}

// Rebuild replaces all state from the authoritative BOM and optional usage,
// clearing a halt. A rejected BOM or unknown usage row leaves the current
// state untouched; out-of-range usage halts the ledger.
func (l *Ledger) Rebuild(entries []catalog.BOMEntry, usage []catalog.Usage) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	list, byPart, err := buildEntries(entries)
	if err != nil {
		return err
	}
	staged, err := stageUsage(list, usage)
	if err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			return l.haltLocked(err)
		}
		return err
	}
	for e, used := range staged {
		e.used = used
	}
	l.entries, l.byPart = list, byPart
	l.halted = nil
	l.publishLocked()
	l.logger.Info("ledger rebuilt", logging.Int("entries", len(l.entries)))
	return nil
}

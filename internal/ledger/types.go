package ledger

import "bomatch/internal/catalog"

// Reason explains why a tuple failed validation.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonPartNotInBOM     Reason = "part_not_in_bom"
	ReasonColorMismatch    Reason = "color_mismatch"
	ReasonElementMismatch  Reason = "element_id_mismatch"
	ReasonQuantityExceeded Reason = "quantity_exceeded"
	ReasonHalted           Reason = "ledger_halted"
)

// Key identifies one BOM entry.
type Key struct {
	PartID    string
	ColorID   int
	ElementID string
}

// String renders the key in template-id form.
func (k Key) String() string {
	return catalog.TemplateKey(k.PartID, k.ColorID, k.ElementID)
}

// Item is a (part, color, element?) tuple to validate.
type Item struct {
	PartID    string
	ColorID   int
	ElementID string
}

// Validation is the outcome of validating one item.
type Validation struct {
	Allowed bool
	Reason  Reason
	// Entry is the BOM entry the item resolved to, zero when the part or
	// color is unknown.
	Entry     Key
	Quantity  int
	Used      int
	Remaining int
}

// Annotated pairs an input item (by position) with its validation.
type Annotated struct {
	Index      int
	Item       Item
	Validation Validation
}

// EntryState is one row of a ledger snapshot.
type EntryState struct {
	Key      Key
	Quantity int
	Used     int
}

// Remaining returns the units still available.
func (e EntryState) Remaining() int {
	return e.Quantity - e.Used
}

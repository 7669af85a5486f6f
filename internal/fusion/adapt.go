package fusion

// AdaptForCatalog applies the set-size rule to the base weights. Large
// catalogs lean more on text, small ones less.
func AdaptForCatalog(cfg Config, templates int) Weights {
	cfg = cfg.normalized()
	w := cfg.Base
	switch {
	case templates > cfg.LargeCatalogSize:
		w.Text += cfg.WeightStep
	case templates < cfg.SmallCatalogSize:
		w.Text -= cfg.WeightStep
	}
	return w.Clamp(cfg.Bounds)
}

// PartClass is the stud-count bucket of a template.
type PartClass int

const (
	PartRegular PartClass = iota
	PartLowStud
	PartHighStud
)

// String returns the bucket name.
func (p PartClass) String() string {
	switch p {
	case PartLowStud:
		return "low_stud"
	case PartHighStud:
		return "high_stud"
	default:
		return "regular"
	}
}

// ClassifyPart buckets a stud count. Zero means unknown and stays regular.
func ClassifyPart(cfg Config, studs int) PartClass {
	switch {
	case studs <= 0:
		return PartRegular
	case studs <= cfg.LowStudMax:
		return PartLowStud
	case studs >= cfg.HighStudMin:
		return PartHighStud
	default:
		return PartRegular
	}
}

// ForPart applies the part-type rule to session weights for one candidate:
// low-stud parts shift toward metadata and text, high-stud parts toward
// metadata.
func ForPart(cfg Config, session Weights, studs int) Weights {
	w := session
	switch ClassifyPart(cfg, studs) {
	case PartLowStud:
		w.Meta, w.Text = 0.20, 0.20
	case PartHighStud:
		w.Meta, w.Text = 0.30, 0.10
	}
	return w.Clamp(cfg.Bounds)
}

package templateindex

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"bomatch/internal/catalog"
	"bomatch/internal/logging"
	"bomatch/internal/metrics"
	"bomatch/internal/vecmath"
)

// Candidate is one ranked template.
type Candidate struct {
	TemplateID string
	Similarity float64
	Template   *catalog.Template
}

// Result is the ranked output of one search.
type Result struct {
	Candidates []Candidate
	// Stage2 reports whether the confusion gate escalated the query.
	Stage2 bool
}

// Stats summarizes Stage-2 escalation for health monitoring.
type Stats struct {
	Queries    int64
	Stage2     int64
	Stage2Rate float64
	Target     float64
	OverTarget bool
	Templates  int
	// Stage1Pool is the template count left after pruning.
	Stage1Pool int
	// Approximate reports whether Stage-1 runs on the HNSW graph.
	Approximate bool
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the index logger.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Index) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithMetrics attaches a session metrics recorder.
func WithMetrics(rec *metrics.Recorder) Option {
	return func(i *Index) {
		i.metrics = rec
	}
}

// Index holds normalized template vectors and the confusion lookup tables.
type Index struct {
	cfg       Config
	dim       int
	templates []catalog.Template
	vectors   [][]float32
	byID      map[string]int

	// stage1 lists template positions eligible for Stage-1 after pruning.
	stage1 []int
	graph  *hnswGraph

	hints  map[string][]int // folded template id or part id -> positions
	groups map[string][]int // folded group name -> member positions
	member [][]string       // position -> folded group names

	queries    atomic.Int64
	stage2     atomic.Int64
	overTarget atomic.Bool

	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New builds an index over the templates' image embeddings. Groups may be
// supplied separately or through each template's ConfusionGroups.
func New(templates []catalog.Template, groups []catalog.ConfusionGroup, cfg Config, opts ...Option) (*Index, error) {
	idx := &Index{
		cfg:       cfg.normalized(),
		templates: append([]catalog.Template(nil), templates...),
		hints:     make(map[string][]int),
		groups:    make(map[string][]int),
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	idx.logger = logging.NewComponentLogger(idx.logger, "templateindex")

	idx.vectors = make([][]float32, len(idx.templates))
	idx.member = make([][]string, len(idx.templates))
	idx.byID = make(map[string]int, len(idx.templates))
	for pos := range idx.templates {
		tpl := &idx.templates[pos]
		tpl.ID = tpl.Key()
		if _, dup := idx.byID[tpl.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %s", tpl.ID)
		}
		idx.byID[tpl.ID] = pos

		vec := tpl.Embeddings.Image
		if idx.dim == 0 {
			idx.dim = len(vec)
		}
		if len(vec) != idx.dim || idx.dim == 0 {
			return nil, fmt.Errorf("template %s: %w (got %d, want %d)", tpl.ID, ErrDimensionMismatch, len(vec), idx.dim)
		}
		idx.vectors[pos] = vecmath.Normalize(vec)

		idx.addHint(tpl.ID, pos)
		idx.addHint(tpl.PartID, pos)
		for _, name := range tpl.ConfusionGroups {
			idx.addMember(name, pos)
		}
	}
	for _, g := range groups {
		for _, id := range g.Members {
			if pos, ok := idx.byID[id]; ok {
				idx.addMember(g.Name, pos)
			}
		}
	}

	idx.buildStage1()
	return idx, nil
}

func (i *Index) addHint(key string, pos int) {
	k := catalog.FoldKey(key)
	if k == "" {
		return
	}
	for _, p := range i.hints[k] {
		if p == pos {
			return
		}
	}
	i.hints[k] = append(i.hints[k], pos)
}

func (i *Index) addMember(group string, pos int) {
	k := catalog.FoldKey(group)
	if k == "" {
		return
	}
	for _, p := range i.groups[k] {
		if p == pos {
			return
		}
	}
	i.groups[k] = append(i.groups[k], pos)
	i.member[pos] = append(i.member[pos], k)
}

func (i *Index) buildStage1() {
	i.stage1 = make([]int, 0, len(i.templates))
	for pos, tpl := range i.templates {
		if i.cfg.PruneSuccessBelow > 0 && tpl.SuccessRate < i.cfg.PruneSuccessBelow {
			continue
		}
		i.stage1 = append(i.stage1, pos)
	}
	if len(i.stage1) == 0 && len(i.templates) > 0 {
		i.logger.Warn("pruning removed every template; stage-1 uses the full set",
			logging.Float64("prune_success_below", i.cfg.PruneSuccessBelow))
		for pos := range i.templates {
			i.stage1 = append(i.stage1, pos)
		}
	}
	if pruned := len(i.templates) - len(i.stage1); pruned > 0 {
		i.logger.Info("stage-1 pruned low-success templates",
			logging.Int("pruned", pruned),
			logging.Int("remaining", len(i.stage1)))
	}

	if len(i.stage1) < i.cfg.HNSWMinTemplates {
		return
	}
	start := time.Now()
	i.graph = newHNSWGraph(i.cfg.HNSW, i.cfg.Seed)
	for _, pos := range i.stage1 {
		i.graph.add(pos, i.vectors[pos])
	}
	i.logger.Info("hnsw graph built",
		logging.Int("nodes", i.graph.size()),
		logging.Duration("elapsed", time.Since(start)))
}

// Len returns the number of indexed templates.
func (i *Index) Len() int {
	return len(i.templates)
}

// Dim returns the image embedding dimensionality, zero for an empty index.
func (i *Index) Dim() int {
	return i.dim
}

// Templates returns the indexed templates in insertion order.
func (i *Index) Templates() []catalog.Template {
	return i.templates
}

// Search ranks templates for one query embedding. An empty index yields an
// empty result so callers hold the detection instead of failing.
func (i *Index) Search(ctx context.Context, query []float32, classHint string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if len(i.templates) == 0 {
		return Result{}, nil
	}
	if len(query) != i.dim {
		return Result{}, fmt.Errorf("query: %w (got %d, want %d)", ErrDimensionMismatch, len(query), i.dim)
	}

	start := time.Now()
	q := vecmath.Normalize(query)
	stage1 := i.searchStage1(q)

	result := Result{Candidates: stage1}
	if i.needsStage2(stage1, classHint) {
		result = Result{Candidates: i.rank(q, nil, i.cfg.Stage2K), Stage2: true}
	}
	i.record(result.Stage2, time.Since(start))
	return result, nil
}

func (i *Index) searchStage1(q []float32) []Candidate {
	if i.graph == nil {
		return i.rank(q, i.stage1, i.cfg.Stage1K)
	}
	ef := max(i.cfg.HNSW.EfSearch, i.cfg.Stage1K)
	return i.rank(q, i.graph.search(q, ef), i.cfg.Stage1K)
}

// rank scores the given positions (every template when nil) and returns the
// top k ordered by similarity, ties broken by template id.
func (i *Index) rank(q []float32, positions []int, k int) []Candidate {
	n := len(positions)
	if positions == nil {
		n = len(i.templates)
	}
	scored := make([]Candidate, 0, n)
	for j := 0; j < n; j++ {
		pos := j
		if positions != nil {
			pos = positions[j]
		}
		scored = append(scored, Candidate{
			TemplateID: i.templates[pos].ID,
			Similarity: vecmath.DotProduct(q, i.vectors[pos]),
			Template:   &i.templates[pos],
		})
	}
	sort.Slice(scored, func(a, b int) bool {
		if scored[a].Similarity != scored[b].Similarity {
			return scored[a].Similarity > scored[b].Similarity
		}
		return scored[a].TemplateID < scored[b].TemplateID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored
}

// Partners returns the template ids that share a confusion group with the
// hint, excluding the hint's own templates. A hint naming a group directly
// yields that group's members.
func (i *Index) Partners(classHint string) []string {
	positions := i.partnerPositions(classHint)
	out := make([]string, 0, len(positions))
	for pos := range positions {
		out = append(out, i.templates[pos].ID)
	}
	sort.Strings(out)
	return out
}

func (i *Index) partnerPositions(classHint string) map[int]struct{} {
	key := catalog.FoldKey(classHint)
	if key == "" {
		return nil
	}
	partners := make(map[int]struct{})
	self := make(map[int]struct{})
	for _, pos := range i.hints[key] {
		self[pos] = struct{}{}
		for _, group := range i.member[pos] {
			for _, m := range i.groups[group] {
				partners[m] = struct{}{}
			}
		}
	}
	if len(self) == 0 {
		for _, m := range i.groups[key] {
			partners[m] = struct{}{}
		}
	}
	for pos := range self {
		delete(partners, pos)
	}
	return partners
}

func (i *Index) needsStage2(stage1 []Candidate, classHint string) bool {
	partners := i.partnerPositions(classHint)
	if len(partners) == 0 {
		return false
	}
	for _, c := range stage1 {
		if _, ok := partners[i.byID[c.TemplateID]]; ok {
			return false
		}
	}
	return true
}

func (i *Index) record(stage2 bool, elapsed time.Duration) {
	queries := i.queries.Add(1)
	var escalated int64
	if stage2 {
		escalated = i.stage2.Add(1)
	} else {
		escalated = i.stage2.Load()
	}
	i.metrics.Search(stage2, elapsed.Seconds())

	// Only judge the rate once there is a meaningful sample.
	if queries < 20 {
		return
	}
	rate := float64(escalated) / float64(queries)
	over := rate > i.cfg.Stage2RateTarget
	if i.overTarget.Swap(over) != over && over {
		i.logger.Warn("stage-2 escalation rate above target",
			logging.Float64("rate", rate),
			logging.Float64("target", i.cfg.Stage2RateTarget),
			logging.Int64("queries", queries),
			logging.Alert("search_health"))
	}
}

// Stats reports the Stage-2 escalation rate.
func (i *Index) Stats() Stats {
	queries := i.queries.Load()
	escalated := i.stage2.Load()
	s := Stats{
		Queries:     queries,
		Stage2:      escalated,
		Target:      i.cfg.Stage2RateTarget,
		Templates:   len(i.templates),
		Stage1Pool:  len(i.stage1),
		Approximate: i.graph != nil,
	}
	if queries > 0 {
		s.Stage2Rate = float64(escalated) / float64(queries)
		s.OverTarget = s.Stage2Rate > s.Target
	}
	return s
}

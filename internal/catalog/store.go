package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

// Store persists builds and ledger usage in SQLite.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// BuildSummary describes an imported build without loading its templates.
type BuildSummary struct {
	ID         string
	Name       string
	Entries    int
	Templates  int
	Units      int
	Used       int
	ImportedAt time.Time
}

// Open initializes or connects to the catalog database.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("catalog path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure catalog directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path, lock: flock.New(path + ".lock")}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Lock takes the exclusive session lock. Only one matching session may write
// usage for the catalog at a time.
func (s *Store) Lock() error {
	ok, err := s.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire catalog lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Close releases the session lock (if held) and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.lock != nil && s.lock.Locked() {
		_ = s.lock.Unlock()
	}
	return s.db.Close()
}

// ImportBuild replaces any existing build with the same id. Usage counters
// start at zero.
func (s *Store) ImportBuild(ctx context.Context, build *Build) error {
	if err := ValidateBuild(build); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM builds WHERE id = ?", build.ID); err != nil {
		return fmt.Errorf("delete previous build: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO builds (id, name, imported_at) VALUES (?, ?, ?)",
		build.ID, build.Name, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert build: %w", err)
	}

	for _, entry := range build.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bom_entries (build_id, part_id, color_id, element_id, quantity)
             VALUES (?, ?, ?, ?, ?)`,
			build.ID, entry.PartID, entry.ColorID, entry.ElementID, entry.Quantity,
		); err != nil {
			return fmt.Errorf("insert bom entry %s: %w", TemplateKey(entry.PartID, entry.ColorID, entry.ElementID), err)
		}
	}

	for _, tpl := range build.Templates {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO templates (
                build_id, template_id, part_id, color_id, element_id,
                expected_area, expected_tube_count, topology_applicable, stud_count,
                hit_rate, success_rate, image_embedding, meta_embedding, text_embedding
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			build.ID, tpl.Key(), tpl.PartID, tpl.ColorID, tpl.ElementID,
			tpl.ExpectedArea, tpl.ExpectedTubeCount, boolToInt(tpl.TopologyApplicable), tpl.StudCount,
			tpl.HitRate, tpl.SuccessRate,
			encodeVector(tpl.Embeddings.Image), encodeVector(tpl.Embeddings.Meta), encodeVector(tpl.Embeddings.Text),
		); err != nil {
			return fmt.Errorf("insert template %s: %w", tpl.Key(), err)
		}
	}

	for _, group := range build.Groups {
		for pos, member := range group.Members {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO confusion_members (build_id, group_name, template_id, position)
                 VALUES (?, ?, ?, ?)`,
				build.ID, group.Name, member, pos,
			); err != nil {
				return fmt.Errorf("insert confusion member %s/%s: %w", group.Name, member, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// LoadBuild reads a full build, including templates and confusion groups.
func (s *Store) LoadBuild(ctx context.Context, buildID string) (*Build, error) {
	build := &Build{ID: buildID}
	var name sql.NullString
	err := s.db.QueryRowContext(ctx, "SELECT name FROM builds WHERE id = ?", buildID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	if err != nil {
		return nil, fmt.Errorf("load build: %w", err)
	}
	build.Name = name.String

	if build.Entries, err = s.loadEntries(ctx, buildID); err != nil {
		return nil, err
	}
	if build.Groups, err = s.loadGroups(ctx, buildID); err != nil {
		return nil, err
	}
	if build.Templates, err = s.loadTemplates(ctx, buildID, build.Groups); err != nil {
		return nil, err
	}
	return build, nil
}

func (s *Store) loadEntries(ctx context.Context, buildID string) ([]BOMEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT part_id, color_id, element_id, quantity FROM bom_entries
         WHERE build_id = ? ORDER BY part_id, color_id, element_id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query bom entries: %w", err)
	}
	defer rows.Close()

	var entries []BOMEntry
	for rows.Next() {
		var e BOMEntry
		if err := rows.Scan(&e.PartID, &e.ColorID, &e.ElementID, &e.Quantity); err != nil {
			return nil, fmt.Errorf("scan bom entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) loadGroups(ctx context.Context, buildID string) ([]ConfusionGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT group_name, template_id FROM confusion_members
         WHERE build_id = ? ORDER BY group_name, position`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query confusion groups: %w", err)
	}
	defer rows.Close()

	var groups []ConfusionGroup
	for rows.Next() {
		var name, member string
		if err := rows.Scan(&name, &member); err != nil {
			return nil, fmt.Errorf("scan confusion member: %w", err)
		}
		if n := len(groups); n == 0 || groups[n-1].Name != name {
			groups = append(groups, ConfusionGroup{Name: name})
		}
		groups[len(groups)-1].Members = append(groups[len(groups)-1].Members, member)
	}
	return groups, rows.Err()
}

func (s *Store) loadTemplates(ctx context.Context, buildID string, groups []ConfusionGroup) ([]Template, error) {
	membership := make(map[string][]string)
	for _, g := range groups {
		for _, m := range g.Members {
			membership[m] = append(membership[m], g.Name)
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT template_id, part_id, color_id, element_id,
                expected_area, expected_tube_count, topology_applicable, stud_count,
                hit_rate, success_rate, image_embedding, meta_embedding, text_embedding
         FROM templates WHERE build_id = ? ORDER BY template_id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var (
			t                 Template
			topology          int
			image, meta, text []byte
		)
		if err := rows.Scan(
			&t.ID, &t.PartID, &t.ColorID, &t.ElementID,
			&t.ExpectedArea, &t.ExpectedTubeCount, &topology, &t.StudCount,
			&t.HitRate, &t.SuccessRate, &image, &meta, &text,
		); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		t.TopologyApplicable = topology != 0
		if t.Embeddings.Image, err = decodeVector(image); err != nil {
			return nil, fmt.Errorf("template %s image embedding: %w", t.ID, err)
		}
		if t.Embeddings.Meta, err = decodeVector(meta); err != nil {
			return nil, fmt.Errorf("template %s meta embedding: %w", t.ID, err)
		}
		if t.Embeddings.Text, err = decodeVector(text); err != nil {
			return nil, fmt.Errorf("template %s text embedding: %w", t.ID, err)
		}
		t.ConfusionGroups = membership[t.ID]
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// ListBuilds summarizes every imported build.
func (s *Store) ListBuilds(ctx context.Context) ([]BuildSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT b.id, COALESCE(b.name, ''), b.imported_at,
               (SELECT COUNT(1) FROM bom_entries e WHERE e.build_id = b.id),
               (SELECT COUNT(1) FROM templates t WHERE t.build_id = b.id),
               (SELECT COALESCE(SUM(quantity), 0) FROM bom_entries e WHERE e.build_id = b.id),
               (SELECT COALESCE(SUM(used), 0) FROM bom_entries e WHERE e.build_id = b.id)
        FROM builds b ORDER BY b.id`)
	if err != nil {
		return nil, fmt.Errorf("query builds: %w", err)
	}
	defer rows.Close()

	var out []BuildSummary
	for rows.Next() {
		var (
			sum      BuildSummary
			imported string
		)
		if err := rows.Scan(&sum.ID, &sum.Name, &imported, &sum.Entries, &sum.Templates, &sum.Units, &sum.Used); err != nil {
			return nil, fmt.Errorf("scan build summary: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339Nano, imported); parseErr == nil {
			sum.ImportedAt = ts
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// LoadUsage returns the persisted usage counter of every entry in the build.
func (s *Store) LoadUsage(ctx context.Context, buildID string) ([]Usage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT part_id, color_id, element_id, used FROM bom_entries
         WHERE build_id = ? ORDER BY part_id, color_id, element_id`, buildID)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.PartID, &u.ColorID, &u.ElementID, &u.Used); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// SaveUsage overwrites usage counters for the given entries in one transaction.
func (s *Store) SaveUsage(ctx context.Context, buildID string, usage []Usage) error {
	ordered := append([]Usage(nil), usage...)
	sort.Slice(ordered, func(i, j int) bool {
		return TemplateKey(ordered[i].PartID, ordered[i].ColorID, ordered[i].ElementID) <
			TemplateKey(ordered[j].PartID, ordered[j].ColorID, ordered[j].ElementID)
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin usage tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, u := range ordered {
		res, err := tx.ExecContext(ctx,
			`UPDATE bom_entries SET used = ?
             WHERE build_id = ? AND part_id = ? AND color_id = ? AND element_id = ?`,
			u.Used, buildID, u.PartID, u.ColorID, u.ElementID,
		)
		if err != nil {
			return fmt.Errorf("update usage %s: %w", TemplateKey(u.PartID, u.ColorID, u.ElementID), err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s has no entry %s", ErrBuildNotFound, buildID, TemplateKey(u.PartID, u.ColorID, u.ElementID))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit usage: %w", err)
	}
	return nil
}

// ResetUsage zeroes every usage counter of the build.
func (s *Store) ResetUsage(ctx context.Context, buildID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, "UPDATE bom_entries SET used = 0 WHERE build_id = ?", buildID)
	if err != nil {
		return 0, fmt.Errorf("reset usage: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrBuildNotFound, buildID)
	}
	return n, nil
}

// RecordOutcomes folds a session's per-template counts into the stored hit and
// success rates as an exponential moving average.
func (s *Store) RecordOutcomes(ctx context.Context, buildID string, outcomes map[string]Outcome, smoothing float64) error {
	if len(outcomes) == 0 {
		return nil
	}
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 0.2
	}
	ids := make([]string, 0, len(outcomes))
	for id := range outcomes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcomes tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		o := outcomes[id]
		if o.Shown <= 0 {
			continue
		}
		hit := float64(o.Hits) / float64(o.Shown)
		success := float64(o.Successes) / float64(o.Shown)
		if _, err := tx.ExecContext(ctx,
			`UPDATE templates
             SET hit_rate = hit_rate * (1 - ?) + ? * ?,
                 success_rate = success_rate * (1 - ?) + ? * ?
             WHERE build_id = ? AND template_id = ?`,
			smoothing, smoothing, hit, smoothing, smoothing, success, buildID, id,
		); err != nil {
			return fmt.Errorf("update outcomes %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcomes: %w", err)
	}
	return nil
}

// Outcome counts how often a template surfaced as a candidate (Shown), was the
// top candidate (Hits), and ended up assigned (Successes).
type Outcome struct {
	Shown     int
	Hits      int
	Successes int
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

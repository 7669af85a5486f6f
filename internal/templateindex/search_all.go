package templateindex

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Query is one detection's search input.
type Query struct {
	Embedding []float32
	ClassHint string
}

// SearchAll runs independent searches on a bounded worker pool. Results are
// positionally aligned with queries. The first error cancels the remaining
// searches.
func (i *Index) SearchAll(ctx context.Context, queries []Query) ([]Result, error) {
	results := make([]Result, len(queries))
	if len(queries) == 0 {
		return results, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.cfg.Workers)
	for n, q := range queries {
		g.Go(func() error {
			res, err := i.Search(gctx, q.Embedding, q.ClassHint)
			if err != nil {
				return err
			}
			results[n] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

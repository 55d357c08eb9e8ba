package service

import (
	"context"

	"github.com/ippclub/rustdist/internal/manifest"
	"github.com/ippclub/rustdist/internal/model"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is the fetch+parse parallelism when none is configured
const DefaultWorkers = 8

// outcome is the fetch+parse result of one document
type outcome struct {
	Identifier string
	Release    *model.Release
	Err        error
}

// parseAll fetches and parses every identifier on at most workers goroutines.
// Results are indexed like ids. A failing document never cancels the others.
func parseAll(ctx context.Context, parser *manifest.Parser, fetcher manifest.Fetcher, ids []string, workers int) []outcome {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	out := make([]outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			release, err := parser.Load(ctx, fetcher, id)
			out[i] = outcome{Identifier: id, Release: release, Err: err}
			return nil
		})
	}
	g.Wait()
	return out
}

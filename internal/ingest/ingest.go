// Package ingest turns keylog files into a merged transition counter.
package ingest

import (
	"context"
	"encoding/hex"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/Floozutter/stowjar/internal/chain"
	"github.com/Floozutter/stowjar/internal/keylog"
	"github.com/Floozutter/stowjar/internal/logging"
	"github.com/Floozutter/stowjar/internal/model"
)

// Options controls ingestion.
type Options struct {
	// Jobs bounds how many files are parsed at once. Values below 1 mean 1.
	Jobs   int
	Logger *slog.Logger
}

// Run processes every path as its own stream. Each stream is counted in
// isolation and merged into the result under a lock, so the totals do not
// depend on completion order. Summaries follow the order of paths.
func Run(ctx context.Context, paths []string, opts Options) (*chain.Counter, []model.StreamSummary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}

	total := chain.NewCounter()
	summaries := make([]model.StreamSummary, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			local, summary, err := processFile(path)
			if err != nil {
				return err
			}
			mu.Lock()
			total.Merge(local)
			mu.Unlock()
			summaries[i] = summary
			logger.Info("stream processed",
				"path", path,
				"events", summary.Events,
				"transitions", summary.Transitions,
				"skipped", summary.Skipped,
			)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return total, summaries, nil
}

func processFile(path string) (*chain.Counter, model.StreamSummary, error) {
	events, data, err := keylog.LoadFile(path)
	if err != nil {
		return nil, model.StreamSummary{}, err
	}
	sum := blake2b.Sum256(data)
	local := chain.NewCounter()
	stats := local.Process(events)
	return local, model.StreamSummary{
		Path:        path,
		Digest:      hex.EncodeToString(sum[:]),
		Events:      stats.Events,
		Transitions: stats.Transitions,
		Skipped:     stats.Skipped,
	}, nil
}

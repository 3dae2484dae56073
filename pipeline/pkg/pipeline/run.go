package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/source"
	"golang.org/x/sync/errgroup"
)

// RunResult collects the outcome of every batch and curation pass of a run.
type RunResult struct {
	Batches   []*BatchResult
	Curations []*CurationResult
}

// Failed counts the batches that were refused or ended the run Failed, at ingest or at curation.
func (r *RunResult) Failed() int {
	failed := map[string]bool{}
	for _, b := range r.Batches {
		if b.Err != nil || b.State == ledger.StateFailed {
			failed[b.Dataset+"/"+b.Token] = true
		}
	}
	for _, c := range r.Curations {
		for _, id := range c.Failed {
			failed[id] = true
		}
		// A later pass may publish a batch an earlier one failed.
		for _, id := range c.Published {
			delete(failed, id)
		}
	}
	return len(failed)
}

// Run processes batches in rounds of equal sequence. Datasets within a round are ingested in
// parallel, batches of one dataset in token order, and every round ends with a curation pass so
// the next sequence can register. Batch failures are recorded in the result; only cancellation
// aborts the run.
func (p *Pipeline) Run(ctx context.Context, batches []*source.Batch) (*RunResult, error) {
	result := &RunResult{}
	for _, round := range rounds(batches) {
		p.log.Info("pipeline: starting round", "sequence", round[0].Sequence, "batches", len(round))

		byDataset := map[string][]*source.Batch{}
		var datasets []string
		for _, b := range round {
			if _, ok := byDataset[b.Dataset]; !ok {
				datasets = append(datasets, b.Dataset)
			}
			byDataset[b.Dataset] = append(byDataset[b.Dataset], b)
		}
		sort.Strings(datasets)

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.MaxConcurrency)
		for _, ds := range datasets {
			g.Go(func() error {
				for _, b := range byDataset[ds] {
					res, err := p.Ingest(gctx, b)
					mu.Lock()
					result.Batches = append(result.Batches, res)
					mu.Unlock()
					if err != nil {
						p.log.Warn("pipeline: batch failed", "dataset", b.Dataset, "token", b.Token, "kind", errorKind(err), "error", err)
					}
					if err := gctx.Err(); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return result, err
		}

		cur, err := p.Curate(ctx)
		if cur != nil {
			result.Curations = append(result.Curations, cur)
		}
		if err != nil {
			return result, err
		}
	}

	p.ready.Store(true)
	p.log.Info("pipeline: run complete", "batches", len(result.Batches), "failed", result.Failed())
	return result, nil
}

// rounds groups batches by sequence, ascending, with each round ordered by dataset then token.
func rounds(batches []*source.Batch) [][]*source.Batch {
	sorted := append([]*source.Batch(nil), batches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Sequence != b.Sequence {
			return a.Sequence < b.Sequence
		}
		if a.Dataset != b.Dataset {
			return a.Dataset < b.Dataset
		}
		return a.Token < b.Token
	})
	var out [][]*source.Batch
	for _, b := range sorted {
		if n := len(out); n > 0 && out[n-1][0].Sequence == b.Sequence {
			out[n-1] = append(out[n-1], b)
			continue
		}
		out = append(out, []*source.Batch{b})
	}
	return out
}

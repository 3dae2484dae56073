package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/curate"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/lineage"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/metrics"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/storage"
	"golang.org/x/sync/errgroup"
)

// TableResult is the outcome of one curated table in a pass.
type TableResult struct {
	Table    string
	Location string
	Version  int
	// Unchanged is set when the catalog already served this table from the same inputs.
	Unchanged   bool
	Rows        int
	Superseded  int
	Rejected    int
	Substituted int
	Err         error
}

// CurationResult summarizes one Curate call.
type CurationResult struct {
	Tables []*TableResult
	// Published and Failed list the batches advanced or failed by the pass, as "dataset/token".
	Published []string
	Failed    []string
}

func (r *CurationResult) Table(name string) *TableResult {
	for _, t := range r.Tables {
		if t.Table == name {
			return t
		}
	}
	return nil
}

// Curate runs one curation pass over the latest cleaned snapshot of every dataset, when any
// batch is awaiting curation. Tables are built level by level in dependency order, each level in
// parallel. Each built table is written to its curated location, loaded into the warehouse and
// published. Batches awaiting curation are then published when every table built from their
// dataset succeeded, and failed otherwise.
func (p *Pipeline) Curate(ctx context.Context) (*CurationResult, error) {
	start := p.cfg.Clock.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("curate").Observe(p.cfg.Clock.Since(start).Seconds())
	}()

	pending, err := p.pendingBatches(ctx)
	if err != nil {
		return nil, err
	}
	result := &CurationResult{}
	if len(pending) == 0 {
		p.log.Debug("pipeline: no batches awaiting curation")
		return result, nil
	}

	if err := p.build(ctx, result); err != nil {
		p.failPending(ctx, pending, err, result)
		return result, err
	}
	p.settle(ctx, pending, result)
	p.log.Info("pipeline: curation pass complete",
		"tables", len(result.Tables), "published", len(result.Published), "failed", len(result.Failed))
	return result, nil
}

// build curates every table of the plan level by level. A failed table is recorded in result and
// only fails its dependents; any other error aborts the pass.
func (p *Pipeline) build(ctx context.Context, result *CurationResult) error {
	inputs, locations, err := p.cleanedInputs(ctx)
	if err != nil {
		return err
	}
	pass, err := curate.NewPass(curate.PassConfig{Logger: p.log}, inputs)
	if err != nil {
		return err
	}
	levels, err := p.cfg.Plan.Levels()
	if err != nil {
		return err
	}

	tokens := map[string]string{}
	var mu sync.Mutex
	for _, level := range levels {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.cfg.MaxConcurrency)
		for _, name := range level {
			token := p.tableToken(name, locations, tokens)
			tokens[name] = token
			g.Go(func() error {
				tr := p.curateTable(gctx, pass, name, token, inputs)
				mu.Lock()
				result.Tables = append(result.Tables, tr)
				mu.Unlock()
				// A failed table only fails its dependents; cancellation stops the pass.
				return gctx.Err()
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	sort.Slice(result.Tables, func(i, j int) bool { return result.Tables[i].Table < result.Tables[j].Table })
	return nil
}

// failPending fails every batch awaiting curation after the pass was aborted.
func (p *Pipeline) failPending(ctx context.Context, pending map[string][]*ledger.Record, err error, result *CurationResult) {
	p.log.Error("pipeline: curation pass aborted", "error", err)
	datasets := make([]string, 0, len(pending))
	for ds := range pending {
		datasets = append(datasets, ds)
	}
	sort.Strings(datasets)
	for _, ds := range datasets {
		for _, rec := range pending[ds] {
			p.fail(ctx, ds, rec.Token, StageCurate, err)
			result.Failed = append(result.Failed, ds+"/"+rec.Token)
		}
	}
}

// pendingBatches returns the batches awaiting curation per dataset, ordered by sequence.
func (p *Pipeline) pendingBatches(ctx context.Context) (map[string][]*ledger.Record, error) {
	out := map[string][]*ledger.Record{}
	for _, ds := range p.cfg.Contracts.Datasets() {
		records, err := p.cfg.Ledger.List(ctx, ds)
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			if r.State == ledger.StateConformed || r.State == ledger.StateCurated {
				out[ds] = append(out[ds], r)
			}
		}
	}
	return out, nil
}

// cleanedInputs reads the current cleaned snapshot of every dataset that has one.
func (p *Pipeline) cleanedInputs(ctx context.Context) (map[string]*dataset.Table, map[string]string, error) {
	inputs := map[string]*dataset.Table{}
	locations := map[string]string{}
	for _, ds := range p.cfg.Contracts.Datasets() {
		loc, ok, err := p.currentLocation(ctx, dataset.QualifiedName(dataset.ZoneCleaned, ds))
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			continue
		}
		t, err := storage.ReadTable(ctx, p.cfg.Store, loc)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read cleaned %s at %s: %w", ds, loc, err)
		}
		inputs[ds] = t
		locations[ds] = loc
	}
	return inputs, locations, nil
}

// tableToken derives the snapshot token of a curated table from its inputs: the cleaned location
// of its source and the tokens of the tables it references. Equal inputs give equal locations.
func (p *Pipeline) tableToken(name string, locations, tokens map[string]string) string {
	src, _ := p.cfg.Plan.Source(name)
	parts := []string{name, locations[src]}
	for _, dep := range p.cfg.Plan.Dependencies(name) {
		parts = append(parts, dep+"="+tokens[dep])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func (p *Pipeline) curateTable(ctx context.Context, pass *curate.Pass, name, token string, inputs map[string]*dataset.Table) *TableResult {
	qualified := dataset.QualifiedName(dataset.ZoneCurated, name)
	tr := &TableResult{Table: name}
	failed := func(err error) *TableResult {
		pass.Fail(name, err)
		tr.Err = err
		p.log.Warn("pipeline: table curation failed", "table", name, "kind", errorKind(err), "error", err)
		return tr
	}

	src, _ := p.cfg.Plan.Source(name)
	if _, ok := inputs[src]; !ok {
		return failed(&curate.DependencyNotReadyError{Table: name, Dependency: dataset.QualifiedName(dataset.ZoneCleaned, src), State: curate.StateConformed})
	}

	unlock, err := p.cfg.Locker.Lock(ctx, qualified)
	if err != nil {
		return failed(fmt.Errorf("failed to lock %s: %w", qualified, err))
	}
	defer unlock()

	res, err := p.cfg.Plan.Build(ctx, pass, name)
	if err != nil {
		return failed(err)
	}
	tr.Rows = len(res.Table.Rows)
	tr.Superseded = res.Superseded
	tr.Rejected = res.Rejected
	tr.Substituted = res.Substituted

	loc := storage.Location(dataset.ZoneCurated, name, token)
	tr.Location = loc
	current, err := p.cfg.Catalog.Current(ctx, qualified)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return failed(err)
	}
	if current != nil && current.Location == loc && current.Signature == res.Table.Signature() {
		tr.Unchanged = true
		tr.Version = current.Version
		p.log.Debug("pipeline: curated table unchanged", "table", name, "version", current.Version)
		return tr
	}

	if err := storage.WriteTable(ctx, p.cfg.Store, loc, res.Table); err != nil {
		p.discard(ctx, qualified, loc)
		return failed(err)
	}
	if err := storage.WriteAudit(ctx, p.cfg.Store, loc, res.Audit); err != nil {
		p.discard(ctx, qualified, loc)
		return failed(err)
	}
	if p.cfg.Warehouse != nil {
		if _, err := p.cfg.Warehouse.Load(ctx, res.Table, loc); err != nil {
			p.discard(ctx, qualified, loc)
			return failed(fmt.Errorf("failed to load %s into warehouse: %w", name, err))
		}
	}
	entry, err := p.publish(ctx, catalog.Request{
		Table:         qualified,
		Zone:          dataset.ZoneCurated,
		Fields:        res.Table.Fields,
		Location:      loc,
		PartitionSpec: storage.PartitionSpec(res.Table),
	})
	if err != nil {
		p.discard(ctx, qualified, loc)
		return failed(err)
	}
	tr.Version = entry.Version

	if p.cfg.Lineage != nil {
		sources := []string{dataset.QualifiedName(dataset.ZoneCleaned, src)}
		for _, dep := range p.cfg.Plan.Dependencies(name) {
			sources = append(sources, dataset.QualifiedName(dataset.ZoneCurated, dep))
		}
		err := p.cfg.Lineage.Record(ctx, lineage.Derivation{
			Table:    qualified,
			Version:  entry.Version,
			Location: loc,
			Sources:  sources,
			At:       entry.PublishedAt,
		})
		if err != nil {
			p.log.Warn("pipeline: failed to record lineage", "table", qualified, "error", err)
		}
	}

	p.log.Info("pipeline: table curated",
		"table", name, "version", entry.Version, "rows", tr.Rows,
		"superseded", tr.Superseded, "rejected", tr.Rejected, "substituted", tr.Substituted)
	return tr
}

// settle advances or fails the batches awaiting curation according to the tables built from
// their datasets. Datasets that feed no table are published as is.
func (p *Pipeline) settle(ctx context.Context, pending map[string][]*ledger.Record, result *CurationResult) {
	bySource := map[string][]*TableResult{}
	for _, tr := range result.Tables {
		src, _ := p.cfg.Plan.Source(tr.Table)
		bySource[src] = append(bySource[src], tr)
	}

	datasets := make([]string, 0, len(pending))
	for ds := range pending {
		datasets = append(datasets, ds)
	}
	sort.Strings(datasets)

	for _, ds := range datasets {
		var failure *TableResult
		stats := map[string]int64{}
		for _, tr := range bySource[ds] {
			if tr.Err != nil && failure == nil {
				failure = tr
			}
			stats["curated."+tr.Table+".rows"] = int64(tr.Rows)
			stats["curated."+tr.Table+".rejected"] = int64(tr.Rejected)
			stats["curated."+tr.Table+".substituted"] = int64(tr.Substituted)
		}

		for _, rec := range pending[ds] {
			id := ds + "/" + rec.Token
			if failure != nil {
				p.fail(ctx, ds, rec.Token, StageCurate, fmt.Errorf("table %s: %w", failure.Table, failure.Err))
				result.Failed = append(result.Failed, id)
				continue
			}
			if err := p.publishBatch(ctx, ds, rec.Token, stats); err != nil {
				p.log.Error("pipeline: failed to publish batch", "dataset", ds, "token", rec.Token, "error", err)
				p.fail(ctx, ds, rec.Token, StageCurate, err)
				result.Failed = append(result.Failed, id)
				continue
			}
			result.Published = append(result.Published, id)
		}
	}
}

func (p *Pipeline) publishBatch(ctx context.Context, ds, token string, stats map[string]int64) error {
	if len(stats) > 0 {
		if _, err := p.cfg.Ledger.Annotate(ctx, ds, token, stats, ""); err != nil {
			return err
		}
	}
	if _, err := p.cfg.Ledger.Advance(ctx, ds, token, ledger.StateCurated); err != nil {
		return err
	}
	if _, err := p.cfg.Ledger.Advance(ctx, ds, token, ledger.StatePublished); err != nil {
		return err
	}
	return nil
}

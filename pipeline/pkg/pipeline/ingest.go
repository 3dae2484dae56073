package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/catalog"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/conform"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/ledger"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/metrics"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/normalize"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/source"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/storage"
)

// BatchResult summarizes one Ingest call.
type BatchResult struct {
	Dataset  string
	Token    string
	Sequence int64
	State    ledger.State
	// Skipped is set when the snapshot was already published.
	Skipped bool

	Report          *normalize.Report
	Superseded      int
	CleanedRows     int
	CleanedLocation string
	CleanedVersion  int
	Err             error
}

// Ingest lands a batch in the raw zone, normalizes it against the active contract and merges it
// with the previous cleaned snapshot of the dataset. The result is written and published as the
// new cleaned snapshot and the batch is left Conformed, awaiting curation. A published snapshot is
// skipped and a failed one is retried.
func (p *Pipeline) Ingest(ctx context.Context, b *source.Batch) (*BatchResult, error) {
	res := &BatchResult{Dataset: b.Dataset, Token: b.Token, Sequence: b.Sequence}

	c, err := p.cfg.Contracts.Get(b.Dataset)
	if err != nil {
		res.Err = err
		return res, err
	}

	rec, err := p.cfg.Ledger.RegisterBatch(ctx, b.Dataset, b.Token, b.Sequence)
	if err != nil {
		res.Err = err
		return res, err
	}
	if rec.State == ledger.StateFailed {
		if err := p.retryable(ctx, rec); err != nil {
			p.log.Warn("pipeline: failed batch superseded, not retrying", "dataset", b.Dataset, "token", b.Token, "error", err)
			res.State = rec.State
			res.Err = err
			return res, err
		}
		p.log.Info("pipeline: retrying failed batch", "dataset", b.Dataset, "token", b.Token, "prior_state", rec.PriorState, "attempts", rec.Attempts)
		rec, err = p.cfg.Ledger.Retry(ctx, b.Dataset, b.Token)
		if err != nil {
			res.Err = err
			return res, err
		}
	}
	res.State = rec.State

	switch rec.State {
	case ledger.StatePublished:
		res.Skipped = true
		p.log.Info("pipeline: snapshot already published, skipping", "dataset", b.Dataset, "token", b.Token)
		return res, nil
	case ledger.StateConformed, ledger.StateCurated:
		p.log.Debug("pipeline: snapshot awaiting curation", "dataset", b.Dataset, "token", b.Token, "state", rec.State)
		return res, nil
	}

	if stage, err := p.ingest(ctx, c, b, rec, res); err != nil {
		p.fail(ctx, b.Dataset, b.Token, stage, err)
		res.State = ledger.StateFailed
		res.Err = err
		return res, err
	}
	res.State = ledger.StateConformed
	return res, nil
}

func (p *Pipeline) ingest(ctx context.Context, c *contract.Contract, b *source.Batch, rec *ledger.Record, res *BatchResult) (string, error) {
	start := p.cfg.Clock.Now()
	defer func() {
		metrics.StageDuration.WithLabelValues("ingest").Observe(p.cfg.Clock.Since(start).Seconds())
	}()

	rawLoc := storage.Location(dataset.ZoneRaw, b.Dataset, b.Token)
	if err := storage.WriteRaw(ctx, p.cfg.Store, rawLoc, b.Records); err != nil {
		return StageRaw, err
	}

	prior, err := p.priorCleaned(ctx, c, rec)
	if err != nil {
		return StageConform, err
	}
	priorRows := make([]dataset.Row, 0, len(prior))
	for i, r := range prior {
		priorRows = append(priorRows, dataset.Row{Ordinal: int64(i), Values: r.Values})
	}

	batch, report, err := normalize.NormalizeBatch(b.Records, int64(len(priorRows)), c)
	if err != nil {
		return StageNormalize, err
	}
	res.Report = report
	metrics.RecordsNormalizedTotal.WithLabelValues(b.Dataset, "accepted").Add(float64(report.Accepted))
	metrics.RecordsNormalizedTotal.WithLabelValues(b.Dataset, "rejected").Add(float64(report.Rejected))
	metrics.NormalizeWarningsTotal.WithLabelValues(b.Dataset).Add(float64(report.Warnings))
	if report.Rejected > 0 {
		p.log.Warn("pipeline: records rejected by contract",
			"dataset", b.Dataset, "token", b.Token, "rejected", report.Rejected, "input", report.Input,
			"by_field", report.RejectedByField, "sample", report.Mismatches[0].Error())
	}
	if len(report.Samples) > 0 {
		p.log.Warn("pipeline: values mapped to null",
			"dataset", b.Dataset, "token", b.Token, "warnings", report.Warnings, "sample", report.Samples[0].String())
	}
	if _, err := p.cfg.Ledger.Advance(ctx, b.Dataset, b.Token, ledger.StateValidated); err != nil {
		return StageNormalize, err
	}

	conformed, err := conform.Conform(append(priorRows, batch.Rows...), c)
	if err != nil {
		return StageConform, err
	}
	res.Superseded = len(conformed.Audit.Discards)
	res.CleanedRows = len(conformed.Rows)
	metrics.DedupDiscardsTotal.WithLabelValues(b.Dataset).Add(float64(res.Superseded))

	cleaned := &dataset.Table{
		Zone:            dataset.ZoneCleaned,
		Name:            c.Dataset,
		Fields:          c.Fields,
		Key:             c.Key,
		PartitionColumn: c.PartitionColumn,
		Rows:            conformed.Rows,
	}
	loc := storage.Location(dataset.ZoneCleaned, c.Dataset, b.Token)
	if err := storage.WriteTable(ctx, p.cfg.Store, loc, cleaned); err != nil {
		p.discard(ctx, cleaned.QualifiedName(), loc)
		return StageConform, err
	}
	if err := storage.WriteAudit(ctx, p.cfg.Store, loc, conformed.Audit.Discards); err != nil {
		p.discard(ctx, cleaned.QualifiedName(), loc)
		return StageConform, err
	}

	entry, err := p.publish(ctx, catalog.Request{
		Table:         cleaned.QualifiedName(),
		Zone:          dataset.ZoneCleaned,
		Fields:        c.Fields,
		Location:      loc,
		PartitionSpec: storage.PartitionSpec(cleaned),
	})
	if err != nil {
		p.discard(ctx, cleaned.QualifiedName(), loc)
		return StagePublish, err
	}
	res.CleanedLocation = loc
	res.CleanedVersion = entry.Version

	stats := map[string]int64{
		"input":        int64(report.Input),
		"accepted":     int64(report.Accepted),
		"rejected":     int64(report.Rejected),
		"warnings":     int64(report.Warnings),
		"prior_rows":   int64(len(priorRows)),
		"superseded":   int64(res.Superseded),
		"cleaned_rows": int64(res.CleanedRows),
	}
	if _, err := p.cfg.Ledger.Annotate(ctx, b.Dataset, b.Token, stats, loc); err != nil {
		return StagePublish, err
	}
	if _, err := p.cfg.Ledger.Advance(ctx, b.Dataset, b.Token, ledger.StateConformed); err != nil {
		return StagePublish, err
	}

	p.log.Info("pipeline: batch conformed",
		"dataset", b.Dataset, "token", b.Token, "sequence", b.Sequence,
		"accepted", report.Accepted, "rejected", report.Rejected, "superseded", res.Superseded,
		"rows", res.CleanedRows, "version", entry.Version)
	return "", nil
}

// retryable refuses the retry of a batch that failed before it was conformed once a later batch of
// the dataset has written a cleaned snapshot. Rebuilding it would either drop the later rows or let
// the older batch supersede them. A batch that failed during curation can always be retried.
func (p *Pipeline) retryable(ctx context.Context, rec *ledger.Record) error {
	if !rec.PriorState.Before(ledger.StateConformed) {
		return nil
	}
	records, err := p.cfg.Ledger.List(ctx, rec.Dataset)
	if err != nil {
		return err
	}
	var later *ledger.Record
	for _, r := range records {
		if r.Token == rec.Token || r.Sequence <= rec.Sequence || r.CleanedLocation == "" {
			continue
		}
		if later == nil || r.Sequence > later.Sequence {
			later = r
		}
	}
	if later == nil {
		return nil
	}
	return &ledger.OutOfOrderBatchError{
		Dataset: rec.Dataset, Token: rec.Token, Sequence: rec.Sequence, MaxSequence: later.Sequence,
	}
}

// priorCleaned returns the rows of the latest cleaned snapshot written by an earlier batch of the
// dataset, in stored order. Rows of a snapshot written under a different contract shape are
// projected onto the active contract; when that is impossible the dataset restarts from the batch.
func (p *Pipeline) priorCleaned(ctx context.Context, c *contract.Contract, rec *ledger.Record) ([]dataset.Row, error) {
	records, err := p.cfg.Ledger.List(ctx, rec.Dataset)
	if err != nil {
		return nil, err
	}
	var prior *ledger.Record
	for _, r := range records {
		if r.Token == rec.Token || r.Sequence >= rec.Sequence || r.CleanedLocation == "" {
			continue
		}
		if prior == nil || r.Sequence > prior.Sequence {
			prior = r
		}
	}
	if prior == nil {
		return nil, nil
	}

	tbl, err := storage.ReadTable(ctx, p.cfg.Store, prior.CleanedLocation)
	if errors.Is(err, storage.ErrNotFound) {
		p.log.Warn("pipeline: prior cleaned snapshot missing, starting from batch", "dataset", rec.Dataset, "location", prior.CleanedLocation)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read prior cleaned snapshot %s: %w", prior.CleanedLocation, err)
	}
	if tbl.Signature() == c.Signature() {
		return tbl.Rows, nil
	}

	rows, ok := project(tbl, c)
	if !ok {
		p.log.Warn("pipeline: contract changed incompatibly, starting from batch", "dataset", rec.Dataset, "prior", prior.Token)
		return nil, nil
	}
	return rows, nil
}

// project maps rows onto the fields of c by name and type. Fields absent from t become null and
// must therefore be nullable, as must any field t allowed to be null.
func project(t *dataset.Table, c *contract.Contract) ([]dataset.Row, bool) {
	from := make([]int, len(c.Fields))
	for i, f := range c.Fields {
		j := t.FieldIndex(f.Name)
		if j >= 0 && t.Fields[j].Type == f.Type && (f.Nullable || !t.Fields[j].Nullable) {
			from[i] = j
			continue
		}
		if !f.Nullable {
			return nil, false
		}
		from[i] = -1
	}
	rows := make([]dataset.Row, len(t.Rows))
	for i, r := range t.Rows {
		values := make([]any, len(from))
		for k, j := range from {
			if j >= 0 {
				values[k] = r.Values[j]
			}
		}
		rows[i] = dataset.Row{Ordinal: r.Ordinal, Values: values}
	}
	return rows, true
}

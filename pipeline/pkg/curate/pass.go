package curate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/conform"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/metrics"
)

// TableState is the per-table lifecycle within a curation pass.
type TableState string

const (
	StateConformed TableState = "Conformed"
	StateCurating  TableState = "Curating"
	StateCurated   TableState = "Curated"
	StateFailed    TableState = "Failed"
)

// EntityIDField is the surrogate key column of every dimension.
const EntityIDField = "entity_id"

type AuditKind string

const (
	AuditSuperseded          AuditKind = "SupersededByKey"
	AuditIntegrityViolation  AuditKind = "ReferentialIntegrityViolation"
	AuditUnknownSubstitution AuditKind = "UnknownMemberSubstitution"
)

// AuditEntry records a source row that was dropped or altered during curation.
type AuditEntry struct {
	Table   string    `json:"table"`
	Kind    AuditKind `json:"kind"`
	Ordinal int64     `json:"ordinal"`
	Key     string    `json:"key,omitempty"`
	Field   string    `json:"field,omitempty"`
	Value   string    `json:"value,omitempty"`
	Target  string    `json:"target,omitempty"`
}

// Result is a built table plus the accounting of its source rows:
// SourceRows == len(Table.Rows) + Superseded + Rejected.
type Result struct {
	Table       *dataset.Table
	Audit       []AuditEntry
	SourceRows  int
	Superseded  int
	Rejected    int
	Substituted int
}

type PassConfig struct {
	Logger *slog.Logger
}

func (cfg *PassConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	return nil
}

// Pass is a read-consistent snapshot of the cleaned zone for one curation run. Builds are pure
// functions of the snapshot; tables built earlier in the pass serve as foreign key targets.
type Pass struct {
	log    *slog.Logger
	inputs map[string]*dataset.Table

	mu     sync.RWMutex
	states map[string]TableState
	tables map[string]*dataset.Table
	errs   map[string]error
}

// NewPass snapshots the cleaned inputs, keyed by dataset name.
func NewPass(cfg PassConfig, inputs map[string]*dataset.Table) (*Pass, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	snapshot := make(map[string]*dataset.Table, len(inputs))
	for name, t := range inputs {
		cp := *t
		cp.Rows = append([]dataset.Row(nil), t.Rows...)
		snapshot[name] = &cp
	}
	return &Pass{
		log:    cfg.Logger,
		inputs: snapshot,
		states: make(map[string]TableState),
		tables: make(map[string]*dataset.Table),
		errs:   make(map[string]error),
	}, nil
}

// State returns the lifecycle state of a table; unbuilt tables are Conformed.
func (p *Pass) State(name string) TableState {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if s, ok := p.states[name]; ok {
		return s
	}
	return StateConformed
}

// Table returns a curated table built in this pass.
func (p *Pass) Table(name string) (*dataset.Table, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	t, ok := p.tables[name]
	return t, ok
}

// Err returns the failure recorded for a table.
func (p *Pass) Err(name string) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.errs[name]
}

// Fail marks a table Failed, e.g. when writing or publishing it fails after the build.
func (p *Pass) Fail(name string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[name] = StateFailed
	p.errs[name] = err
	delete(p.tables, name)
}

func (p *Pass) start(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.states[name] == StateCurating {
		return fmt.Errorf("table %s is already curating", name)
	}
	p.states[name] = StateCurating
	delete(p.errs, name)
	return nil
}

func (p *Pass) finish(name string, t *dataset.Table, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.states[name] = StateFailed
		p.errs[name] = err
		return
	}
	p.states[name] = StateCurated
	p.tables[name] = t
}

func (p *Pass) source(name string) (*dataset.Table, error) {
	t, ok := p.inputs[name]
	if !ok {
		return nil, &contract.UnknownDatasetError{Dataset: name}
	}
	return t, nil
}

func fieldDefs(t *dataset.Table, names []string) ([]contract.Field, []int, error) {
	idx, err := t.Indexes(names)
	if err != nil {
		return nil, nil, err
	}
	fields := make([]contract.Field, len(idx))
	for i, j := range idx {
		f := t.Fields[j]
		fields[i] = contract.Field{Name: f.Name, Type: f.Type, Nullable: f.Nullable}
	}
	return fields, idx, nil
}

func eventIndex(t *dataset.Table, name string) (int, error) {
	if name == "" {
		return -1, nil
	}
	i := t.FieldIndex(name)
	if i < 0 {
		return -1, fmt.Errorf("table %s has no event time field %q", t.QualifiedName(), name)
	}
	if !t.Fields[i].Type.Orderable() {
		return -1, fmt.Errorf("event time field %q of %s is not orderable", name, t.QualifiedName())
	}
	return i, nil
}

func supersededAudit(table string, discards []conform.Discard) []AuditEntry {
	out := make([]AuditEntry, len(discards))
	for i, d := range discards {
		out[i] = AuditEntry{Table: table, Kind: AuditSuperseded, Ordinal: d.Ordinal, Key: d.Key}
	}
	return out
}

// BuildDimension produces one row per distinct key of the source: the surrogate entity_id, the
// key fields, then the attribute fields. Conflicting attributes resolve with the conformance
// tie-break.
func (p *Pass) BuildDimension(ctx context.Context, spec DimensionSpec) (*Result, error) {
	if err := p.start(spec.Name); err != nil {
		return nil, err
	}
	res, err := p.buildDimension(ctx, spec)
	if err != nil {
		p.finish(spec.Name, nil, err)
		return nil, err
	}
	p.finish(spec.Name, res.Table, nil)
	p.log.Debug("curate: dimension built", "table", spec.Name, "rows", len(res.Table.Rows), "superseded", res.Superseded)
	return res, nil
}

func (p *Pass) buildDimension(ctx context.Context, spec DimensionSpec) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(spec.KeyFields) == 0 {
		return nil, fmt.Errorf("dimension %s: key fields are required", spec.Name)
	}
	src, err := p.source(spec.Source)
	if err != nil {
		return nil, err
	}
	keyDefs, keyIdx, err := fieldDefs(src, spec.KeyFields)
	if err != nil {
		return nil, err
	}
	attrDefs, attrIdx, err := fieldDefs(src, spec.AttributeFields)
	if err != nil {
		return nil, err
	}
	eventIdx, err := eventIndex(src, spec.EventTimeField)
	if err != nil {
		return nil, err
	}

	deduped, err := conform.Dedup(src.Rows, keyIdx, eventIdx)
	if err != nil {
		return nil, fmt.Errorf("dimension %s: %w", spec.Name, err)
	}

	fields := append([]contract.Field{{Name: EntityIDField, Type: contract.TypeString}}, keyDefs...)
	fields = append(fields, attrDefs...)
	out := &dataset.Table{
		Zone:   dataset.ZoneCurated,
		Name:   spec.Name,
		Fields: fields,
		Key:    append([]string(nil), spec.KeyFields...),
		Rows:   make([]dataset.Row, 0, len(deduped.Rows)),
	}
	for _, r := range deduped.Rows {
		values := make([]any, 0, len(fields))
		values = append(values, string(dataset.KeyOf(r.Values, keyIdx).ToSurrogate()))
		for _, i := range keyIdx {
			values = append(values, r.Values[i])
		}
		for _, i := range attrIdx {
			values = append(values, r.Values[i])
		}
		out.Rows = append(out.Rows, dataset.Row{Ordinal: r.Ordinal, Values: values})
	}

	return &Result{
		Table:      out,
		Audit:      supersededAudit(spec.Name, deduped.Audit.Discards),
		SourceRows: len(src.Rows),
		Superseded: len(deduped.Audit.Discards),
	}, nil
}

// BuildFact projects the source and resolves every foreign key against its target table, which
// must already be Curated in this pass. Null foreign key values are kept as null.
func (p *Pass) BuildFact(ctx context.Context, spec FactSpec) (*Result, error) {
	for _, fk := range spec.ForeignKeys {
		if state := p.State(fk.Target); state != StateCurated {
			return nil, &DependencyNotReadyError{Table: spec.Name, Dependency: fk.Target, State: state}
		}
	}
	if err := p.start(spec.Name); err != nil {
		return nil, err
	}
	res, err := p.buildFact(ctx, spec)
	if err != nil {
		p.finish(spec.Name, nil, err)
		return nil, err
	}
	p.finish(spec.Name, res.Table, nil)

	metrics.FactRowsTotal.WithLabelValues(spec.Name, "kept").Add(float64(len(res.Table.Rows)))
	metrics.FactRowsTotal.WithLabelValues(spec.Name, "rejected").Add(float64(res.Rejected))
	metrics.FactRowsTotal.WithLabelValues(spec.Name, "substituted").Add(float64(res.Substituted))
	p.log.Debug("curate: fact built", "table", spec.Name, "rows", len(res.Table.Rows), "rejected", res.Rejected, "substituted", res.Substituted)
	return res, nil
}

type resolvedFK struct {
	ForeignKey
	idx  int
	keys map[dataset.SurrogateKey]struct{}
}

func (p *Pass) buildFact(ctx context.Context, spec FactSpec) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := p.source(spec.Source)
	if err != nil {
		return nil, err
	}
	cols := spec.columns()
	fields, colIdx, err := fieldDefs(src, cols)
	if err != nil {
		return nil, err
	}
	eventIdx, err := eventIndex(src, spec.EventTimeField)
	if err != nil {
		return nil, err
	}

	fks := make([]resolvedFK, len(spec.ForeignKeys))
	for i, fk := range spec.ForeignKeys {
		idx := src.FieldIndex(fk.Field)
		if fk.policy() == PolicyTagUnknown && src.Fields[idx].Type != contract.TypeString {
			return nil, fmt.Errorf("fact %s: tag-unknown foreign key %q must be a string", spec.Name, fk.Field)
		}
		target, _ := p.Table(fk.Target)
		keys, err := target.KeySet([]string{fk.targetField()})
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", spec.Name, err)
		}
		fks[i] = resolvedFK{ForeignKey: fk, idx: idx, keys: keys}
	}

	rows := src.Rows
	var audit []AuditEntry
	res := &Result{SourceRows: len(src.Rows)}
	if len(spec.KeyFields) > 0 {
		keyIdx, err := src.Indexes(spec.KeyFields)
		if err != nil {
			return nil, err
		}
		deduped, err := conform.Dedup(src.Rows, keyIdx, eventIdx)
		if err != nil {
			return nil, fmt.Errorf("fact %s: %w", spec.Name, err)
		}
		rows = deduped.Rows
		res.Superseded = len(deduped.Audit.Discards)
		audit = supersededAudit(spec.Name, deduped.Audit.Discards)
	}

	var keyIdx []int
	if len(spec.KeyFields) > 0 {
		keyIdx, _ = src.Indexes(spec.KeyFields)
	}
	rowKey := func(r dataset.Row) string {
		if keyIdx == nil {
			return ""
		}
		return dataset.KeyOf(r.Values, keyIdx).String()
	}

	out := &dataset.Table{
		Zone:            dataset.ZoneCurated,
		Name:            spec.Name,
		Fields:          fields,
		Key:             append([]string(nil), spec.KeyFields...),
		PartitionColumn: spec.PartitionColumn,
		Rows:            make([]dataset.Row, 0, len(rows)),
	}

	for _, r := range rows {
		rejected := false
		for _, fk := range fks {
			v := r.Values[fk.idx]
			if v == nil || fk.policy() != PolicyStrict {
				continue
			}
			if _, ok := fk.keys[dataset.NewNaturalKey(v).ToSurrogate()]; !ok {
				rejected = true
				audit = append(audit, AuditEntry{
					Table: spec.Name, Kind: AuditIntegrityViolation, Ordinal: r.Ordinal, Key: rowKey(r),
					Field: fk.Field, Value: dataset.FormatValue(v), Target: fk.Target,
				})
			}
		}
		if rejected {
			res.Rejected++
			continue
		}

		values := make([]any, len(colIdx))
		for i, j := range colIdx {
			values[i] = r.Values[j]
		}
		for _, fk := range fks {
			v := r.Values[fk.idx]
			if v == nil || fk.policy() != PolicyTagUnknown {
				continue
			}
			if _, ok := fk.keys[dataset.NewNaturalKey(v).ToSurrogate()]; ok {
				continue
			}
			for i, j := range colIdx {
				if j == fk.idx {
					values[i] = UnknownMember
				}
			}
			res.Substituted++
			audit = append(audit, AuditEntry{
				Table: spec.Name, Kind: AuditUnknownSubstitution, Ordinal: r.Ordinal, Key: rowKey(r),
				Field: fk.Field, Value: dataset.FormatValue(v), Target: fk.Target,
			})
		}
		out.Rows = append(out.Rows, dataset.Row{Ordinal: r.Ordinal, Values: values})
	}

	if spec.MaxRejectRate > 0 && len(rows) > 0 {
		if float64(res.Rejected)/float64(len(rows)) > spec.MaxRejectRate {
			return nil, &ReferentialIntegrityError{Table: spec.Name, Rejected: res.Rejected, Total: len(rows), Threshold: spec.MaxRejectRate}
		}
	}

	res.Table = out
	res.Audit = audit
	return res, nil
}

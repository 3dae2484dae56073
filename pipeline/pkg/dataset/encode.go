package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/shopspring/decimal"
)

// NullPartition is the partition value used for rows whose partition column is null.
const NullPartition = "__null__"

type columnDef struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// encodedTable is the column-major on-disk layout of a table part.
type encodedTable struct {
	Zone            Zone                `json:"zone"`
	Name            string              `json:"name"`
	Fields          []columnDef         `json:"fields"`
	Key             []string            `json:"key"`
	PartitionColumn string              `json:"partition_column,omitempty"`
	Signature       string              `json:"signature"`
	RowCount        int                 `json:"row_count"`
	Ordinals        []int64             `json:"ordinals"`
	Columns         [][]json.RawMessage `json:"columns"`
}

// Encode serializes a table in column-major form. The output is a pure function of the table
// contents, so equal tables encode to identical bytes.
func Encode(t *Table) ([]byte, error) {
	enc := encodedTable{
		Zone:            t.Zone,
		Name:            t.Name,
		Fields:          make([]columnDef, len(t.Fields)),
		Key:             t.Key,
		PartitionColumn: t.PartitionColumn,
		Signature:       t.Signature(),
		RowCount:        len(t.Rows),
		Ordinals:        make([]int64, len(t.Rows)),
		Columns:         make([][]json.RawMessage, len(t.Fields)),
	}
	if enc.Key == nil {
		enc.Key = []string{}
	}
	for i, f := range t.Fields {
		enc.Fields[i] = columnDef{Name: f.Name, Type: string(f.Type), Nullable: f.Nullable}
		enc.Columns[i] = make([]json.RawMessage, len(t.Rows))
	}
	for r, row := range t.Rows {
		if len(row.Values) != len(t.Fields) {
			return nil, fmt.Errorf("row %d has %d values, table %s has %d fields", row.Ordinal, len(row.Values), t.QualifiedName(), len(t.Fields))
		}
		enc.Ordinals[r] = row.Ordinal
		for c, v := range row.Values {
			raw, err := encodeValue(t.Fields[c].Type, v)
			if err != nil {
				return nil, fmt.Errorf("failed to encode %s.%s at row %d: %w", t.QualifiedName(), t.Fields[c].Name, row.Ordinal, err)
			}
			enc.Columns[c][r] = raw
		}
	}
	return json.Marshal(enc)
}

// Decode parses a table part written by Encode.
func Decode(data []byte) (*Table, error) {
	var enc encodedTable
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&enc); err != nil {
		return nil, fmt.Errorf("failed to decode table: %w", err)
	}
	if len(enc.Columns) != len(enc.Fields) || len(enc.Ordinals) != enc.RowCount {
		return nil, fmt.Errorf("corrupt table %s.%s: shape mismatch", enc.Zone, enc.Name)
	}

	t := &Table{
		Zone:            enc.Zone,
		Name:            enc.Name,
		Fields:          make([]contract.Field, len(enc.Fields)),
		Key:             enc.Key,
		PartitionColumn: enc.PartitionColumn,
		Rows:            make([]Row, enc.RowCount),
	}
	for i, f := range enc.Fields {
		t.Fields[i] = contract.Field{Name: f.Name, Type: contract.LogicalType(f.Type), Nullable: f.Nullable}
	}
	if enc.Signature != "" && enc.Signature != t.Signature() {
		return nil, fmt.Errorf("corrupt table %s: signature mismatch", t.QualifiedName())
	}
	for r := range t.Rows {
		t.Rows[r] = Row{Ordinal: enc.Ordinals[r], Values: make([]any, len(t.Fields))}
	}
	for c, col := range enc.Columns {
		if len(col) != enc.RowCount {
			return nil, fmt.Errorf("corrupt table %s: column %q has %d values, want %d", t.QualifiedName(), t.Fields[c].Name, len(col), enc.RowCount)
		}
		for r, raw := range col {
			v, err := decodeValue(t.Fields[c].Type, raw)
			if err != nil {
				return nil, fmt.Errorf("failed to decode %s.%s at row %d: %w", t.QualifiedName(), t.Fields[c].Name, r, err)
			}
			t.Rows[r].Values[c] = v
		}
	}
	return t, nil
}

func encodeValue(typ contract.LogicalType, v any) (json.RawMessage, error) {
	if v == nil {
		return json.RawMessage("null"), nil
	}
	var out any
	switch typ {
	case contract.TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		out = s
	case contract.TypeInteger:
		n, ok := v.(int64)
		if !ok {
			return nil, fmt.Errorf("expected int64, got %T", v)
		}
		out = n
	case contract.TypeDecimal:
		d, ok := v.(decimal.Decimal)
		if !ok {
			return nil, fmt.Errorf("expected decimal, got %T", v)
		}
		out = d.String()
	case contract.TypeTimestamp:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time, got %T", v)
		}
		out = ts.UTC().Format(time.RFC3339Nano)
	case contract.TypeDate:
		ts, ok := v.(time.Time)
		if !ok {
			return nil, fmt.Errorf("expected time, got %T", v)
		}
		out = ts.UTC().Format(time.DateOnly)
	case contract.TypeBoolean:
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", v)
		}
		out = b
	default:
		return nil, fmt.Errorf("unknown type %q", typ)
	}
	return json.Marshal(out)
}

func decodeValue(typ contract.LogicalType, raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch typ {
	case contract.TypeString:
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case contract.TypeInteger:
		var n int64
		err := json.Unmarshal(raw, &n)
		return n, err
	case contract.TypeDecimal:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		return decimal.NewFromString(s)
	case contract.TypeTimestamp, contract.TypeDate:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, err
		}
		layout := time.RFC3339Nano
		if typ == contract.TypeDate {
			layout = time.DateOnly
		}
		ts, err := time.Parse(layout, s)
		if err != nil {
			return nil, err
		}
		return ts.UTC(), nil
	case contract.TypeBoolean:
		var b bool
		err := json.Unmarshal(raw, &b)
		return b, err
	}
	return nil, fmt.Errorf("unknown type %q", typ)
}

// Part is the slice of a table holding one partition value.
type Part struct {
	// Value is the rendered partition value, or empty for an unpartitioned table.
	Value string
	Table *Table
}

// Partition splits a table by its partition column. Parts are ordered by value and keep the row
// order of the input. An unpartitioned table yields a single part.
func Partition(t *Table) ([]Part, error) {
	if t.PartitionColumn == "" {
		return []Part{{Table: t}}, nil
	}
	idx := t.FieldIndex(t.PartitionColumn)
	if idx < 0 {
		return nil, fmt.Errorf("table %s has no partition column %q", t.QualifiedName(), t.PartitionColumn)
	}

	groups := make(map[string][]Row)
	for _, r := range t.Rows {
		v := NullPartition
		if r.Values[idx] != nil {
			v = FormatValue(r.Values[idx])
		}
		groups[v] = append(groups[v], r)
	}
	values := make([]string, 0, len(groups))
	for v := range groups {
		values = append(values, v)
	}
	sort.Strings(values)

	parts := make([]Part, 0, len(values))
	for _, v := range values {
		pt := *t
		pt.Rows = groups[v]
		parts = append(parts, Part{Value: v, Table: &pt})
	}
	return parts, nil
}

// Merge concatenates parts of the same table and restores ordinal order.
func Merge(parts []*Table) (*Table, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("no parts to merge")
	}
	out := *parts[0]
	out.Rows = nil
	sig := parts[0].Signature()
	for _, p := range parts {
		if p.Signature() != sig {
			return nil, fmt.Errorf("cannot merge parts of %s with different signatures", out.QualifiedName())
		}
		out.Rows = append(out.Rows, p.Rows...)
	}
	sort.SliceStable(out.Rows, func(i, j int) bool {
		return out.Rows[i].Ordinal < out.Rows[j].Ordinal
	})
	return &out, nil
}

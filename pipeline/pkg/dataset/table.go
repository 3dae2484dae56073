package dataset

import (
	"fmt"
	"strconv"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/shopspring/decimal"
)

// Zone is a stage of increasing structure and trust.
type Zone string

const (
	ZoneRaw     Zone = "raw"
	ZoneCleaned Zone = "cleaned"
	ZoneCurated Zone = "curated"
)

// RawRecord is one source row as delivered by ingestion: field name to string value.
type RawRecord map[string]string

// Row is a typed record. Values follow the owning table's field order and hold nil, string,
// int64, decimal.Decimal, time.Time (UTC; dates at midnight) or bool.
// Ordinal is the row's position in batch-declared order and drives encounter-order tie-breaks.
type Row struct {
	Ordinal int64
	Values  []any
}

// Table is a typed, in-memory dataset of one zone.
type Table struct {
	Zone            Zone
	Name            string
	Fields          []contract.Field
	Key             []string
	PartitionColumn string
	Rows            []Row
}

// QualifiedName is the catalog name of the table, e.g. "curated.dim_customer".
func (t *Table) QualifiedName() string {
	return QualifiedName(t.Zone, t.Name)
}

func QualifiedName(zone Zone, name string) string {
	return string(zone) + "." + name
}

func (t *Table) FieldIndex(name string) int {
	for i, f := range t.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Indexes resolves field names to positions.
func (t *Table) Indexes(names []string) ([]int, error) {
	idx := make([]int, len(names))
	for i, n := range names {
		j := t.FieldIndex(n)
		if j < 0 {
			return nil, fmt.Errorf("table %s has no field %q", t.QualifiedName(), n)
		}
		idx[i] = j
	}
	return idx, nil
}

func (t *Table) Signature() string {
	return contract.Signature(t.Fields)
}

// KeySet returns the surrogate keys of the given fields over all rows.
func (t *Table) KeySet(fields []string) (map[SurrogateKey]struct{}, error) {
	idx, err := t.Indexes(fields)
	if err != nil {
		return nil, err
	}
	set := make(map[SurrogateKey]struct{}, len(t.Rows))
	for _, r := range t.Rows {
		set[KeyOf(r.Values, idx).ToSurrogate()] = struct{}{}
	}
	return set, nil
}

// FormatValue renders a typed value as text: dates as 2006-01-02, timestamps as RFC3339 (nanos),
// nil as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case decimal.Decimal:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		x = x.UTC()
		if x.Hour() == 0 && x.Minute() == 0 && x.Second() == 0 && x.Nanosecond() == 0 {
			return x.Format(time.DateOnly)
		}
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// Compare orders two values of the same logical type. nil sorts before any value.
func Compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	switch x := a.(type) {
	case int64:
		y := b.(int64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case decimal.Decimal:
		return x.Cmp(b.(decimal.Decimal))
	case time.Time:
		return x.Compare(b.(time.Time))
	case string:
		y := b.(string)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	return 0
}

package warehouse

import (
	"fmt"
	"strings"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
)

// ColumnType maps a logical type to its ClickHouse column type.
func ColumnType(f contract.Field) (string, error) {
	var base string
	switch f.Type {
	case contract.TypeString:
		base = "String"
		if len(f.Enum) > 0 {
			base = "LowCardinality(String)"
		}
	case contract.TypeInteger:
		base = "Int64"
	case contract.TypeDecimal:
		base = "Decimal(38, 9)"
	case contract.TypeTimestamp:
		base = "DateTime64(3, 'UTC')"
	case contract.TypeDate:
		base = "Date32"
	case contract.TypeBoolean:
		base = "Bool"
	default:
		return "", fmt.Errorf("unsupported logical type %q for column %s", f.Type, f.Name)
	}
	if f.Nullable {
		if strings.HasPrefix(base, "LowCardinality(") {
			return "LowCardinality(Nullable(String))", nil
		}
		return "Nullable(" + base + ")", nil
	}
	return base, nil
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

// CreateTableSQL renders the MergeTree DDL for a curated table. Rows are ordered by the table key
// when none of its columns is nullable and partitioned by month of the partition column.
func CreateTableSQL(name string, t *dataset.Table) (string, error) {
	cols := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		typ, err := ColumnType(f)
		if err != nil {
			return "", err
		}
		cols = append(cols, fmt.Sprintf("    %s %s", quote(f.Name), typ))
	}

	orderBy := "tuple()"
	if len(t.Key) > 0 {
		keys := make([]string, 0, len(t.Key))
		for _, k := range t.Key {
			i := t.FieldIndex(k)
			if i < 0 {
				return "", fmt.Errorf("table %s has no key field %q", t.QualifiedName(), k)
			}
			if t.Fields[i].Nullable {
				keys = nil
				break
			}
			keys = append(keys, quote(k))
		}
		if len(keys) > 0 {
			orderBy = "(" + strings.Join(keys, ", ") + ")"
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s\n(\n%s\n)\nENGINE = MergeTree\n", quote(name), strings.Join(cols, ",\n"))
	if t.PartitionColumn != "" {
		i := t.FieldIndex(t.PartitionColumn)
		if i < 0 {
			return "", fmt.Errorf("table %s has no partition field %q", t.QualifiedName(), t.PartitionColumn)
		}
		expr := quote(t.PartitionColumn)
		if t.Fields[i].Nullable {
			expr = "assumeNotNull(" + expr + ")"
		}
		fmt.Fprintf(&b, "PARTITION BY toYYYYMM(%s)\n", expr)
	}
	fmt.Fprintf(&b, "ORDER BY %s", orderBy)
	return b.String(), nil
}

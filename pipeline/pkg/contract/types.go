package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"
	"time"
)

// LogicalType is the type a contract field is cast to during normalization.
type LogicalType string

const (
	TypeString    LogicalType = "string"
	TypeInteger   LogicalType = "integer"
	TypeDecimal   LogicalType = "decimal"
	TypeTimestamp LogicalType = "timestamp"
	TypeDate      LogicalType = "date"
	TypeBoolean   LogicalType = "boolean"
)

func (t LogicalType) Valid() bool {
	switch t {
	case TypeString, TypeInteger, TypeDecimal, TypeTimestamp, TypeDate, TypeBoolean:
		return true
	}
	return false
}

// Orderable reports whether values of this type can act as a dedup tie-break.
func (t LogicalType) Orderable() bool {
	switch t {
	case TypeInteger, TypeDecimal, TypeTimestamp, TypeDate:
		return true
	}
	return false
}

// Derivation names a function that computes a field from another field of the same record.
type Derivation string

const (
	// DeriveDate truncates a timestamp to its UTC calendar date.
	DeriveDate Derivation = "date"
)

// Field is a single column of a contract.
type Field struct {
	Name     string
	Type     LogicalType
	Nullable bool

	// Enum restricts a string field to a closed set of values.
	Enum []string

	// DerivedFrom and Derive mark a field computed during normalization rather than read from
	// the raw record.
	DerivedFrom string
	Derive      Derivation
}

func (f Field) Derived() bool {
	return f.DerivedFrom != ""
}

// Def renders the field in the "name:type" form used for column definitions.
func (f Field) Def() string {
	return f.Name + ":" + string(f.Type)
}

// Contract is an immutable, versioned schema for one source dataset.
type Contract struct {
	Dataset string
	Version int
	Fields  []Field
	// Key is the dedup/primary key; composite when it names more than one field.
	Key []string
	// EventTimeField is the optional dedup tie-break field (most recent wins).
	EventTimeField string
	// PartitionColumn is the optional partition column of the cleaned dataset.
	PartitionColumn string

	PublishedAt time.Time
}

// FieldIndex returns the position of the named field or -1.
func (c *Contract) FieldIndex(name string) int {
	for i, f := range c.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// KeyIndexes returns the positions of the key fields in contract order of the key.
func (c *Contract) KeyIndexes() []int {
	idx := make([]int, len(c.Key))
	for i, k := range c.Key {
		idx[i] = c.FieldIndex(k)
	}
	return idx
}

// EventTimeIndex returns the position of the tie-break field or -1 when none is declared.
func (c *Contract) EventTimeIndex() int {
	if c.EventTimeField == "" {
		return -1
	}
	return c.FieldIndex(c.EventTimeField)
}

// Signature is a stable digest of the ordered field list.
func (c *Contract) Signature() string {
	return Signature(c.Fields)
}

// SameShape reports whether two contracts describe the same schema, ignoring version metadata.
func (c *Contract) SameShape(o *Contract) bool {
	return c.Dataset == o.Dataset &&
		slices.EqualFunc(c.Fields, o.Fields, fieldEqual) &&
		slices.Equal(c.Key, o.Key) &&
		c.EventTimeField == o.EventTimeField &&
		c.PartitionColumn == o.PartitionColumn
}

func fieldEqual(a, b Field) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.Nullable == b.Nullable &&
		slices.Equal(a.Enum, b.Enum) &&
		a.DerivedFrom == b.DerivedFrom &&
		a.Derive == b.Derive
}

func (c *Contract) clone() *Contract {
	cp := *c
	cp.Fields = make([]Field, len(c.Fields))
	for i, f := range c.Fields {
		f.Enum = slices.Clone(f.Enum)
		cp.Fields[i] = f
	}
	cp.Key = slices.Clone(c.Key)
	return &cp
}

// Validate checks the structural rules every published contract must satisfy.
func (c *Contract) Validate() error {
	if strings.TrimSpace(c.Dataset) == "" {
		return &InvalidContractError{Reason: "dataset name is required"}
	}
	invalid := func(format string, args ...any) error {
		return &InvalidContractError{Dataset: c.Dataset, Reason: fmt.Sprintf(format, args...)}
	}
	if len(c.Fields) == 0 {
		return invalid("at least one field is required")
	}

	seen := make(map[string]bool, len(c.Fields))
	for _, f := range c.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return invalid("field name is required")
		}
		if seen[f.Name] {
			return invalid("duplicate field %q", f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return invalid("field %q has unknown type %q", f.Name, f.Type)
		}
		if len(f.Enum) > 0 && f.Type != TypeString {
			return invalid("field %q declares an enum but is not a string", f.Name)
		}
	}

	for _, f := range c.Fields {
		if !f.Derived() {
			continue
		}
		src := c.FieldIndex(f.DerivedFrom)
		if src < 0 {
			return invalid("derived field %q references unknown field %q", f.Name, f.DerivedFrom)
		}
		if c.Fields[src].Derived() {
			return invalid("derived field %q cannot derive from derived field %q", f.Name, f.DerivedFrom)
		}
		switch f.Derive {
		case DeriveDate:
			if c.Fields[src].Type != TypeTimestamp {
				return invalid("derived field %q requires timestamp source, %q is %s", f.Name, f.DerivedFrom, c.Fields[src].Type)
			}
			if f.Type != TypeDate {
				return invalid("derived field %q must be of type date", f.Name)
			}
		default:
			return invalid("derived field %q has unknown derivation %q", f.Name, f.Derive)
		}
	}

	if len(c.Key) == 0 {
		return invalid("dedup key is required")
	}
	keySeen := make(map[string]bool, len(c.Key))
	for _, k := range c.Key {
		if !seen[k] {
			return invalid("dedup key field %q is not declared", k)
		}
		if keySeen[k] {
			return invalid("dedup key field %q listed twice", k)
		}
		keySeen[k] = true
	}

	if c.EventTimeField != "" {
		i := c.FieldIndex(c.EventTimeField)
		if i < 0 {
			return invalid("tie-break field %q is not declared", c.EventTimeField)
		}
		if !c.Fields[i].Type.Orderable() {
			return invalid("tie-break field %q of type %s is not orderable", c.EventTimeField, c.Fields[i].Type)
		}
	}
	if c.PartitionColumn != "" && c.FieldIndex(c.PartitionColumn) < 0 {
		return invalid("partition column %q is not declared", c.PartitionColumn)
	}
	return nil
}

// Signature digests an ordered field list. Two tables share a signature iff they have the same
// field names, types and nullability in the same order.
func Signature(fields []Field) string {
	var b strings.Builder
	for _, f := range fields {
		nullable := "0"
		if f.Nullable {
			nullable = "1"
		}
		fmt.Fprintf(&b, "%d:%s|%s|%s;", len(f.Name), f.Name, f.Type, nullable)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

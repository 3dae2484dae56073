package curate

import "fmt"

// Policy decides what happens to a fact row whose foreign key does not resolve.
type Policy string

const (
	// PolicyStrict rejects the row into the audit log.
	PolicyStrict Policy = "strict"
	// PolicyTagUnknown keeps the row with the key replaced by UnknownMember.
	PolicyTagUnknown Policy = "tag-unknown"
)

// UnknownMember replaces unresolved string foreign keys under PolicyTagUnknown.
const UnknownMember = "__unknown__"

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyStrict:
		return PolicyStrict, nil
	case PolicyTagUnknown:
		return PolicyTagUnknown, nil
	}
	return "", fmt.Errorf("unknown fk resolution policy %q", s)
}

type ForeignKey struct {
	Field string
	// Target is the curated table the key must resolve against.
	Target string
	// TargetField defaults to Field.
	TargetField string
	Policy      Policy
}

func (fk ForeignKey) targetField() string {
	if fk.TargetField == "" {
		return fk.Field
	}
	return fk.TargetField
}

func (fk ForeignKey) policy() Policy {
	if fk.Policy == "" {
		return PolicyStrict
	}
	return fk.Policy
}

// DimensionSpec declares a distinct-key projection of a cleaned dataset.
type DimensionSpec struct {
	Name            string
	Source          string
	KeyFields       []string
	AttributeFields []string
	// EventTimeField picks the surviving attributes when rows share a key; encounter order
	// decides when empty.
	EventTimeField string
}

// FactSpec declares a foreign-key-validated projection of a cleaned dataset. The output columns
// are KeyFields, the foreign key fields, MeasureFields and PartitionColumn, in that order and
// without repeats.
type FactSpec struct {
	Name            string
	Source          string
	KeyFields       []string
	MeasureFields   []string
	ForeignKeys     []ForeignKey
	PartitionColumn string
	EventTimeField  string
	// MaxRejectRate is the tolerated fraction of rows rejected by strict foreign keys. Zero
	// disables the check.
	MaxRejectRate float64
}

func (s FactSpec) columns() []string {
	var cols []string
	seen := map[string]bool{}
	add := func(names ...string) {
		for _, n := range names {
			if n != "" && !seen[n] {
				seen[n] = true
				cols = append(cols, n)
			}
		}
	}
	add(s.KeyFields...)
	for _, fk := range s.ForeignKeys {
		add(fk.Field)
	}
	add(s.MeasureFields...)
	add(s.PartitionColumn)
	return cols
}

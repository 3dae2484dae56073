package normalize

import "fmt"

// SchemaMismatchError rejects a single record. The batch continues.
type SchemaMismatchError struct {
	Dataset string
	Field   string
	Value   string
	Reason  string
	Ordinal int64
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("schema mismatch in %s record %d: field %q value %q: %s", e.Dataset, e.Ordinal, e.Field, e.Value, e.Reason)
}

// Warning reports a nullable field whose input could not be cast and was mapped to null.
type Warning struct {
	Dataset string
	Field   string
	Value   string
	Reason  string
	Ordinal int64
}

func (w Warning) String() string {
	return fmt.Sprintf("%s record %d: field %q value %q mapped to null: %s", w.Dataset, w.Ordinal, w.Field, w.Value, w.Reason)
}

package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
)

// maxSamples bounds the mismatches and warnings kept verbatim in a batch report.
const maxSamples = 10

// Normalize casts one raw record to the contract. Values come out in contract order, unknown raw
// fields are dropped and derived fields are computed from their typed source. Empty and
// whitespace-only values are null.
func Normalize(raw dataset.RawRecord, ordinal int64, c *contract.Contract) (dataset.Row, []Warning, error) {
	values := make([]any, len(c.Fields))
	var warnings []Warning

	for i, f := range c.Fields {
		if f.Derived() {
			continue
		}
		s, present := raw[f.Name]
		s = strings.TrimSpace(s)
		if !present || s == "" {
			if !f.Nullable {
				reason := "required field is empty"
				if !present {
					reason = "required field is missing"
				}
				return dataset.Row{}, nil, &SchemaMismatchError{Dataset: c.Dataset, Field: f.Name, Value: s, Reason: reason, Ordinal: ordinal}
			}
			continue
		}
		v, err := cast(f, s)
		if err != nil {
			if !f.Nullable {
				return dataset.Row{}, nil, &SchemaMismatchError{Dataset: c.Dataset, Field: f.Name, Value: s, Reason: err.Error(), Ordinal: ordinal}
			}
			warnings = append(warnings, Warning{Dataset: c.Dataset, Field: f.Name, Value: s, Reason: err.Error(), Ordinal: ordinal})
			continue
		}
		values[i] = v
	}

	for i, f := range c.Fields {
		if !f.Derived() {
			continue
		}
		v, err := derive(f, values[c.FieldIndex(f.DerivedFrom)])
		if err != nil {
			return dataset.Row{}, nil, fmt.Errorf("failed to derive %q: %w", f.Name, err)
		}
		if v == nil && !f.Nullable {
			return dataset.Row{}, nil, &SchemaMismatchError{Dataset: c.Dataset, Field: f.Name, Reason: fmt.Sprintf("derived from null %q", f.DerivedFrom), Ordinal: ordinal}
		}
		values[i] = v
	}

	return dataset.Row{Ordinal: ordinal, Values: values}, warnings, nil
}

// Report aggregates the outcome of normalizing a batch.
type Report struct {
	Input      int
	Accepted   int
	Rejected   int
	Warnings   int
	Mismatches []*SchemaMismatchError
	Samples    []Warning
	// RejectedByField counts rejected records per offending field.
	RejectedByField map[string]int
}

// NormalizeBatch normalizes every record; ordinals are the record positions offset by base.
// Schema mismatches reject only the offending record. Any other error aborts the batch.
func NormalizeBatch(records []dataset.RawRecord, base int64, c *contract.Contract) (*dataset.Table, *Report, error) {
	tbl := &dataset.Table{
		Zone:            dataset.ZoneCleaned,
		Name:            c.Dataset,
		Fields:          c.Fields,
		Key:             c.Key,
		PartitionColumn: c.PartitionColumn,
		Rows:            make([]dataset.Row, 0, len(records)),
	}
	report := &Report{Input: len(records), RejectedByField: make(map[string]int)}

	for i, raw := range records {
		row, warnings, err := Normalize(raw, base+int64(i), c)
		if err != nil {
			var mismatch *SchemaMismatchError
			if !errors.As(err, &mismatch) {
				return nil, nil, err
			}
			report.Rejected++
			report.RejectedByField[mismatch.Field]++
			if len(report.Mismatches) < maxSamples {
				report.Mismatches = append(report.Mismatches, mismatch)
			}
			continue
		}
		report.Warnings += len(warnings)
		for _, w := range warnings {
			if len(report.Samples) < maxSamples {
				report.Samples = append(report.Samples, w)
			}
		}
		tbl.Rows = append(tbl.Rows, row)
	}
	report.Accepted = len(tbl.Rows)
	return tbl, report, nil
}

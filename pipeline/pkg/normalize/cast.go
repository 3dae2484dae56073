package normalize

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/shopspring/decimal"
)

// TimestampLayouts are the accepted timestamp formats, tried in order. Fractional seconds are
// accepted by every layout.
var TimestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05Z07:00",
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range TimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("not a timestamp in an accepted format")
}

func parseDate(s string) (time.Time, error) {
	if d, err := time.Parse(time.DateOnly, s); err == nil {
		return d, nil
	}
	ts, err := parseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("not a date in an accepted format")
	}
	return truncateDate(ts), nil
}

func truncateDate(ts time.Time) time.Time {
	ts = ts.UTC()
	return time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y":
		return true, nil
	case "0", "false", "f", "no", "n":
		return false, nil
	}
	return false, fmt.Errorf("not a boolean")
}

// cast converts a trimmed, non-empty raw value to the field's logical type.
func cast(f contract.Field, s string) (any, error) {
	switch f.Type {
	case contract.TypeString:
		if len(f.Enum) > 0 && !slices.Contains(f.Enum, s) {
			return nil, fmt.Errorf("not one of %s", strings.Join(f.Enum, ", "))
		}
		return s, nil
	case contract.TypeInteger:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("not an integer")
		}
		return n, nil
	case contract.TypeDecimal:
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("not a decimal")
		}
		return d, nil
	case contract.TypeTimestamp:
		return parseTimestamp(s)
	case contract.TypeDate:
		return parseDate(s)
	case contract.TypeBoolean:
		return parseBool(s)
	}
	return nil, fmt.Errorf("unsupported type %q", f.Type)
}

func derive(f contract.Field, src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	switch f.Derive {
	case contract.DeriveDate:
		ts, ok := src.(time.Time)
		if !ok {
			return nil, fmt.Errorf("derivation %q needs a timestamp, got %T", f.Derive, src)
		}
		return truncateDate(ts), nil
	}
	return nil, fmt.Errorf("unknown derivation %q", f.Derive)
}

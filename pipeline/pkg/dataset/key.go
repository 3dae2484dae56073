package dataset

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

type NaturalKey struct {
	Values []any
}

type SurrogateKey string

func NewNaturalKey(values ...any) *NaturalKey {
	return &NaturalKey{
		Values: values,
	}
}

// KeyOf builds the natural key of a row from the given field positions.
func KeyOf(values []any, idx []int) *NaturalKey {
	k := make([]any, len(idx))
	for i, j := range idx {
		k[i] = values[j]
	}
	return NewNaturalKey(k...)
}

// ToSurrogate converts a natural key to a deterministic surrogate key.
// Uses a length-delimited encoding to avoid collisions from fmt.Sprintf("%v") and "|" separator.
// Format: typeTag + ":" + length + ":" + payload for each value, then hash.
func (p *NaturalKey) ToSurrogate() SurrogateKey {
	var buf bytes.Buffer
	for _, val := range p.Values {
		if val == nil {
			buf.WriteString("nil:0:")
			continue
		}

		typeTag := reflect.TypeOf(val).String()

		var payload []byte
		switch v := val.(type) {
		case string:
			payload = []byte(v)
		case int, int8, int16, int32, int64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], uint64(reflect.ValueOf(v).Int()))
			payload = b[:]
		case uint, uint8, uint16, uint32, uint64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], reflect.ValueOf(v).Uint())
			payload = b[:]
		case float64:
			var b [8]byte
			binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
			payload = b[:]
		case bool:
			if v {
				payload = []byte{1}
			} else {
				payload = []byte{0}
			}
		case decimal.Decimal:
			// String() drops trailing zeros, so 1.50 and 1.5 share a key.
			payload = []byte(v.String())
		case time.Time:
			payload = []byte(v.UTC().Format(time.RFC3339Nano))
		default:
			payload = []byte(fmt.Sprintf("%v", v))
		}

		buf.WriteString(typeTag)
		buf.WriteString(":")
		buf.WriteString(strconv.Itoa(len(payload)))
		buf.WriteString(":")
		buf.Write(payload)
	}

	hash := sha256.Sum256(buf.Bytes())
	return SurrogateKey(hex.EncodeToString(hash[:]))
}

// String renders the key values for audit trails, e.g. "O1" or "O1|P9".
func (p *NaturalKey) String() string {
	var buf bytes.Buffer
	for i, v := range p.Values {
		if i > 0 {
			buf.WriteByte('|')
		}
		buf.WriteString(FormatValue(v))
	}
	return buf.String()
}

// HasNull reports whether any key component is null.
func (p *NaturalKey) HasNull() bool {
	for _, v := range p.Values {
		if v == nil {
			return true
		}
	}
	return false
}

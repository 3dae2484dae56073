package conform

import (
	"fmt"
	"sort"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
)

// Reason explains why a record was discarded.
type Reason string

const (
	ReasonSupersededByKey Reason = "SupersededByKey"
)

// Discard is one audit entry: a record that lost the tie-break for its key.
type Discard struct {
	Key          string `json:"key"`
	Ordinal      int64  `json:"ordinal"`
	SupersededBy int64  `json:"superseded_by"`
	Reason       Reason `json:"reason"`
}

// Audit records every discarded record in ordinal order.
type Audit struct {
	Discards []Discard
}

type Result struct {
	Rows  []dataset.Row
	Audit Audit
}

// Prefer reports whether row a should survive over row b when both share a dedup key. The most
// recent event time wins, with null as the oldest; otherwise, and on equal event times, the higher
// ordinal wins. eventIdx is -1 when no event time is declared.
func Prefer(a, b dataset.Row, eventIdx int) bool {
	if eventIdx >= 0 {
		if c := dataset.Compare(a.Values[eventIdx], b.Values[eventIdx]); c != 0 {
			return c > 0
		}
	}
	return a.Ordinal > b.Ordinal
}

// Conform reduces rows to exactly one survivor per dedup key. The winner depends only on row
// contents and ordinals, not on slice order. Survivors and audit entries come out in ordinal order.
func Conform(rows []dataset.Row, c *contract.Contract) (*Result, error) {
	keyIdx := c.KeyIndexes()
	for i, k := range keyIdx {
		if k < 0 {
			return nil, fmt.Errorf("contract %s: unknown key field %q", c.Dataset, c.Key[i])
		}
	}
	return Dedup(rows, keyIdx, c.EventTimeIndex())
}

// Dedup is Conform over explicit key and event time positions.
func Dedup(rows []dataset.Row, keyIdx []int, eventIdx int) (*Result, error) {
	type group struct {
		key    string
		winner dataset.Row
		rows   []dataset.Row
	}
	groups := make(map[dataset.SurrogateKey]*group, len(rows))
	seen := make(map[int64]bool, len(rows))

	for _, r := range rows {
		if seen[r.Ordinal] {
			return nil, fmt.Errorf("duplicate ordinal %d", r.Ordinal)
		}
		seen[r.Ordinal] = true

		nk := dataset.KeyOf(r.Values, keyIdx)
		sk := nk.ToSurrogate()
		g, ok := groups[sk]
		if !ok {
			groups[sk] = &group{key: nk.String(), winner: r, rows: []dataset.Row{r}}
			continue
		}
		g.rows = append(g.rows, r)
		if Prefer(r, g.winner, eventIdx) {
			g.winner = r
		}
	}

	res := &Result{Rows: make([]dataset.Row, 0, len(groups))}
	for _, g := range groups {
		res.Rows = append(res.Rows, g.winner)
		for _, r := range g.rows {
			if r.Ordinal == g.winner.Ordinal {
				continue
			}
			res.Audit.Discards = append(res.Audit.Discards, Discard{
				Key:          g.key,
				Ordinal:      r.Ordinal,
				SupersededBy: g.winner.Ordinal,
				Reason:       ReasonSupersededByKey,
			})
		}
	}
	sort.Slice(res.Rows, func(i, j int) bool { return res.Rows[i].Ordinal < res.Rows[j].Ordinal })
	sort.Slice(res.Audit.Discards, func(i, j int) bool { return res.Audit.Discards[i].Ordinal < res.Audit.Discards[j].Ordinal })
	return res, nil
}

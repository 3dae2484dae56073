package catalog

import (
	"slices"
	"time"

	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/contract"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/dataset"
)

// Request asks the registrar to point a table at a location.
type Request struct {
	Table         string
	Zone          dataset.Zone
	Fields        []contract.Field
	Location      string
	PartitionSpec []string
}

// Entry is one published version of a table. Superseded versions are kept for readers that still
// hold the old location.
type Entry struct {
	Table         string           `json:"table"`
	Version       int              `json:"version"`
	Zone          dataset.Zone     `json:"zone"`
	Signature     string           `json:"signature"`
	Fields        []contract.Field `json:"-"`
	Location      string           `json:"location"`
	PartitionSpec []string         `json:"partition_spec"`
	PublishedAt   time.Time        `json:"published_at"`
	SupersededAt  *time.Time       `json:"superseded_at,omitempty"`
}

func (e *Entry) Current() bool {
	return e.SupersededAt == nil
}

// Matches reports whether publishing req would leave the entry unchanged.
func (e *Entry) Matches(req Request) bool {
	return e.Signature == contract.Signature(req.Fields) &&
		e.Location == req.Location &&
		slices.Equal(e.PartitionSpec, normalizeSpec(req.PartitionSpec))
}

func (e *Entry) clone() *Entry {
	cp := *e
	cp.Fields = slices.Clone(e.Fields)
	cp.PartitionSpec = slices.Clone(e.PartitionSpec)
	if e.SupersededAt != nil {
		t := *e.SupersededAt
		cp.SupersededAt = &t
	}
	return &cp
}

func normalizeSpec(spec []string) []string {
	if spec == nil {
		return []string{}
	}
	return spec
}

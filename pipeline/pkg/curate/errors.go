package curate

import "fmt"

// DependencyNotReadyError refuses to build a table whose foreign key target is not Curated in the
// current pass. It is retryable once the dependency completes.
type DependencyNotReadyError struct {
	Table      string
	Dependency string
	State      TableState
}

func (e *DependencyNotReadyError) Error() string {
	return fmt.Sprintf("cannot curate %s: dependency %s is %s", e.Table, e.Dependency, e.State)
}

func (e *DependencyNotReadyError) Retryable() bool {
	return true
}

// ReferentialIntegrityError fails a fact build whose strict foreign key rejects exceed the
// configured rate.
type ReferentialIntegrityError struct {
	Table     string
	Rejected  int
	Total     int
	Threshold float64
}

func (e *ReferentialIntegrityError) Rate() float64 {
	if e.Total == 0 {
		return 0
	}
	return float64(e.Rejected) / float64(e.Total)
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("fact %s rejected %d of %d rows (%.2f%%), above threshold %.2f%%",
		e.Table, e.Rejected, e.Total, e.Rate()*100, e.Threshold*100)
}

type PlanError struct {
	Reason string
}

func (e *PlanError) Error() string {
	return "invalid curation plan: " + e.Reason
}

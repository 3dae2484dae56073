package ledger

// State is the processing stage of a batch.
type State string

const (
	StateIngested  State = "Ingested"
	StateValidated State = "Validated"
	StateConformed State = "Conformed"
	StateCurated   State = "Curated"
	StatePublished State = "Published"
	StateFailed    State = "Failed"
)

var rank = map[State]int{
	StateIngested:  1,
	StateValidated: 2,
	StateConformed: 3,
	StateCurated:   4,
	StatePublished: 5,
}

func (s State) Valid() bool {
	_, ok := rank[s]
	return ok || s == StateFailed
}

// Terminal reports whether a batch in this state no longer blocks its successors.
func (s State) Terminal() bool {
	return s == StatePublished || s == StateFailed
}

// Before reports whether s precedes o in the forward order. Failed is outside the order.
func (s State) Before(o State) bool {
	a, ok1 := rank[s]
	b, ok2 := rank[o]
	return ok1 && ok2 && a < b
}

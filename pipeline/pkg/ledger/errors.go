package ledger

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("batch not found")

// OutOfOrderBatchError refuses a batch while an earlier batch of the dataset is still in flight or
// when its sequence does not advance past the admitted ones. The dataset itself stays usable.
type OutOfOrderBatchError struct {
	Dataset       string
	Token         string
	Sequence      int64
	BlockingToken string
	BlockingState State
	MaxSequence   int64
}

func (e *OutOfOrderBatchError) Error() string {
	if e.BlockingToken != "" {
		return fmt.Sprintf("batch %s/%s (seq %d) refused: batch %s is still %s", e.Dataset, e.Token, e.Sequence, e.BlockingToken, e.BlockingState)
	}
	return fmt.Sprintf("batch %s/%s refused: sequence %d is not after admitted sequence %d", e.Dataset, e.Token, e.Sequence, e.MaxSequence)
}

type InvalidTransitionError struct {
	Dataset string
	Token   string
	From    State
	To      State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("batch %s/%s: invalid transition %s -> %s", e.Dataset, e.Token, e.From, e.To)
}

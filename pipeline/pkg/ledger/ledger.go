package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/pipeline/pkg/metrics"
)

// Cause is the structured reason a batch entered Failed.
type Cause struct {
	Stage     string `json:"stage"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Record tracks one (dataset, snapshot token) through the zones.
type Record struct {
	Dataset    string
	Token      string
	Sequence   int64
	State      State
	PriorState State
	Attempts   int
	// OpID identifies the current processing attempt.
	OpID            string
	Cause           *Cause
	Stats           map[string]int64
	CleanedLocation string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (r *Record) clone() *Record {
	cp := *r
	if r.Cause != nil {
		c := *r.Cause
		cp.Cause = &c
	}
	cp.Stats = maps.Clone(r.Stats)
	return &cp
}

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Store  Store
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Store == nil {
		return errors.New("store is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Ledger is the idempotency bookkeeping of the pipeline. Operations on one dataset are serialized;
// distinct datasets never contend.
type Ledger struct {
	log   *slog.Logger
	cfg   Config
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate config: %w", err)
	}
	return &Ledger{
		log:   cfg.Logger,
		cfg:   cfg,
		store: cfg.Store,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

func (l *Ledger) lock(dataset string) func() {
	l.mu.Lock()
	m, ok := l.locks[dataset]
	if !ok {
		m = &sync.Mutex{}
		l.locks[dataset] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// RegisterBatch admits a batch. Registering a known token returns its existing record. A new
// token is refused with OutOfOrderBatchError while another batch of the dataset is not terminal
// or when sequence does not exceed every admitted sequence.
func (l *Ledger) RegisterBatch(ctx context.Context, dataset, token string, sequence int64) (*Record, error) {
	defer l.lock(dataset)()

	existing, err := l.store.Get(ctx, dataset, token)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	records, err := l.store.List(ctx, dataset)
	if err != nil {
		return nil, err
	}
	var maxSeq int64
	for i, rec := range records {
		if !rec.State.Terminal() {
			return nil, &OutOfOrderBatchError{Dataset: dataset, Token: token, Sequence: sequence, BlockingToken: rec.Token, BlockingState: rec.State}
		}
		if i == 0 || rec.Sequence > maxSeq {
			maxSeq = rec.Sequence
		}
	}
	if len(records) > 0 && sequence <= maxSeq {
		return nil, &OutOfOrderBatchError{Dataset: dataset, Token: token, Sequence: sequence, MaxSequence: maxSeq}
	}

	now := l.cfg.Clock.Now().UTC()
	rec := &Record{
		Dataset:   dataset,
		Token:     token,
		Sequence:  sequence,
		State:     StateIngested,
		Attempts:  1,
		OpID:      uuid.NewString(),
		Stats:     map[string]int64{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := l.store.Insert(ctx, rec); err != nil {
		return nil, err
	}
	metrics.LedgerTransitionsTotal.WithLabelValues(dataset, string(StateIngested)).Inc()
	l.log.Debug("ledger: batch registered", "dataset", dataset, "token", token, "sequence", sequence, "op_id", rec.OpID)
	return rec, nil
}

func (l *Ledger) update(ctx context.Context, dataset, token string, fn func(*Record) error) (*Record, error) {
	defer l.lock(dataset)()

	rec, err := l.store.Get(ctx, dataset, token)
	if err != nil {
		return nil, err
	}
	before := rec.State
	if err := fn(rec); err != nil {
		return nil, err
	}
	rec.UpdatedAt = l.cfg.Clock.Now().UTC()
	if err := l.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	if rec.State != before {
		metrics.LedgerTransitionsTotal.WithLabelValues(dataset, string(rec.State)).Inc()
		l.log.Debug("ledger: transition", "dataset", dataset, "token", token, "from", before, "to", rec.State)
	}
	return rec, nil
}

// Advance moves a batch forward. Advancing to the current state is a no-op.
func (l *Ledger) Advance(ctx context.Context, dataset, token string, state State) (*Record, error) {
	return l.update(ctx, dataset, token, func(rec *Record) error {
		if rec.State == state {
			return nil
		}
		if !rec.State.Before(state) {
			return &InvalidTransitionError{Dataset: dataset, Token: token, From: rec.State, To: state}
		}
		rec.State = state
		return nil
	})
}

// Fail moves a non-terminal batch to Failed and remembers where it stopped.
func (l *Ledger) Fail(ctx context.Context, dataset, token string, cause Cause) (*Record, error) {
	return l.update(ctx, dataset, token, func(rec *Record) error {
		if rec.State.Terminal() {
			return &InvalidTransitionError{Dataset: dataset, Token: token, From: rec.State, To: StateFailed}
		}
		rec.PriorState = rec.State
		rec.State = StateFailed
		rec.Cause = &cause
		l.log.Warn("ledger: batch failed", "dataset", dataset, "token", token, "stage", cause.Stage, "kind", cause.Kind, "error", cause.Message)
		return nil
	})
}

// Retry returns a Failed batch to its prior state under a fresh op id.
func (l *Ledger) Retry(ctx context.Context, dataset, token string) (*Record, error) {
	return l.update(ctx, dataset, token, func(rec *Record) error {
		if rec.State != StateFailed {
			return &InvalidTransitionError{Dataset: dataset, Token: token, From: rec.State, To: rec.PriorState}
		}
		rec.State = rec.PriorState
		rec.PriorState = ""
		rec.Cause = nil
		rec.Attempts++
		rec.OpID = uuid.NewString()
		return nil
	})
}

// Annotate merges stage statistics and, when non-empty, the cleaned location into the record.
func (l *Ledger) Annotate(ctx context.Context, dataset, token string, stats map[string]int64, cleanedLocation string) (*Record, error) {
	return l.update(ctx, dataset, token, func(rec *Record) error {
		if rec.Stats == nil {
			rec.Stats = map[string]int64{}
		}
		maps.Copy(rec.Stats, stats)
		if cleanedLocation != "" {
			rec.CleanedLocation = cleanedLocation
		}
		return nil
	})
}

// IsProcessed reports whether the snapshot has been published.
func (l *Ledger) IsProcessed(ctx context.Context, dataset, token string) (bool, error) {
	rec, err := l.store.Get(ctx, dataset, token)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return rec.State == StatePublished, nil
}

func (l *Ledger) Get(ctx context.Context, dataset, token string) (*Record, error) {
	return l.store.Get(ctx, dataset, token)
}

// List returns the dataset's records ordered by sequence.
func (l *Ledger) List(ctx context.Context, dataset string) ([]*Record, error) {
	return l.store.List(ctx, dataset)
}

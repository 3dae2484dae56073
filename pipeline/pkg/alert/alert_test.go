package alert

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	laketesting "github.com/kumarchitransh07/Data-Lake-for-E-Commerce-Analytics/utils/pkg/testing"
	"github.com/stretchr/testify/require"
)

var testAlert = Alert{
	Dataset:   "orders",
	Token:     "orders.csv:10:abc",
	Stage:     "normalize",
	Kind:      "SchemaMismatch",
	Message:   "price: not a decimal",
	Retryable: false,
	At:        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
}

func TestLake_Alert_Slack(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		_ = json.Unmarshal(data, &body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(laketesting.NewLogger(), srv.URL, "#lake-alerts")
	require.NoError(t, err)
	require.NoError(t, n.Notify(t.Context(), testAlert))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, testAlert.Summary(), body["text"])
	require.Equal(t, "#lake-alerts", body["channel"])
	attachments := body["attachments"].([]any)
	require.Len(t, attachments, 1)
	require.Equal(t, "danger", attachments[0].(map[string]any)["color"])

	_, err = NewSlackNotifier(laketesting.NewLogger(), "", "")
	require.Error(t, err)
}

func TestLake_Alert_SlackError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewSlackNotifier(laketesting.NewLogger(), srv.URL, "")
	require.NoError(t, err)
	require.Error(t, n.Notify(t.Context(), testAlert))
}

func TestLake_Alert_Sentry(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			return nil
		},
	})
	require.NoError(t, err)
	hub := sentry.NewHub(client, sentry.NewScope())

	require.NoError(t, NewSentryNotifier(hub).Notify(t.Context(), testAlert))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	require.Equal(t, "orders", events[0].Tags["dataset"])
	require.Equal(t, "normalize", events[0].Tags["stage"])
	require.Equal(t, sentry.LevelError, events[0].Level)
}

type failingNotifier struct{}

func (failingNotifier) Notify(ctx context.Context, a Alert) error {
	return errors.New("boom")
}

type countingNotifier struct{ n int }

func (c *countingNotifier) Notify(ctx context.Context, a Alert) error {
	c.n++
	return nil
}

func TestLake_Alert_Multi(t *testing.T) {
	t.Parallel()

	counter := &countingNotifier{}
	m := Multi{failingNotifier{}, counter, LogNotifier{Logger: laketesting.NewLogger()}}
	err := m.Notify(t.Context(), testAlert)
	require.ErrorContains(t, err, "boom")
	require.Equal(t, 1, counter.n)
}

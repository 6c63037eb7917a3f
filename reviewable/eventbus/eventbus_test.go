package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discourse/discourse-sub052/reviewable"
	"github.com/discourse/discourse-sub052/util"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEvent() *reviewable.Event {
	return &reviewable.Event{
		Kind:         reviewable.EventTransitioned,
		ReviewableID: 7,
		Type:         reviewable.TypeFlaggedPost,
		Target:       reviewable.TargetRef{ID: "123", Type: "post"},
		Action:       "agree_and_keep",
		Verb:         reviewable.VerbApprove,
		OldStatus:    reviewable.StatusPending,
		NewStatus:    reviewable.StatusApproved,
		Actor:        "alice",
		Version:      1,
		OccurredAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWebhookBusDelivery(t *testing.T) {
	assert := assert.New(t)

	var got reviewable.Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	bus, err := NewWebhookBus(WebhookConfig{URL: srv.URL, AdminToken: "secret"})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), testEvent()))

	assert.Equal("Bearer secret", auth)
	assert.Equal(int64(7), got.ReviewableID)
	assert.Equal(reviewable.StatusApproved, got.NewStatus)
	assert.Equal("agree_and_keep", got.Action)
}

func TestWebhookBusRetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	bus, err := NewWebhookBus(WebhookConfig{
		URL:        srv.URL,
		HTTPClient: util.RetryingHTTPClient(nil, 2, time.Millisecond, 2*time.Millisecond),
	})
	require.NoError(t, err)
	assert.Error(t, bus.Publish(context.Background(), testEvent()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookBusClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	bus, err := NewWebhookBus(WebhookConfig{URL: srv.URL, RateLimit: 100})
	require.NoError(t, err)
	err = bus.Publish(context.Background(), testEvent())
	assert.ErrorContains(t, err, "non-2xx status: 400")
	assert.Equal(t, int32(1), calls.Load())

	_, err = NewWebhookBus(WebhookConfig{})
	assert.Error(t, err)
}

func TestSlackBus(t *testing.T) {
	assert := assert.New(t)

	var msgs []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body SlackWebhookBody
		json.NewDecoder(r.Body).Decode(&body)
		msgs = append(msgs, body.Text)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	bus := &SlackBus{SlackWebhookURL: srv.URL}
	ctx := context.Background()
	assert.NoError(bus.Publish(ctx, testEvent()))

	scored := testEvent()
	scored.Kind = reviewable.EventScored
	assert.NoError(bus.Publish(ctx, scored))

	require.Len(t, msgs, 1)
	assert.Contains(msgs[0], "flagged_post")
	assert.Contains(msgs[0], "agree_and_keep")
	assert.Contains(msgs[0], "alice")
}

type failBus struct{ err error }

func (f failBus) Publish(context.Context, *reviewable.Event) error { return f.err }

func TestMultiBus(t *testing.T) {
	ctx := context.Background()
	a := NewMemBus()
	b := NewMemBus()

	assert.NoError(t, MultiBus{a, b}.Publish(ctx, testEvent()))
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)

	boom := errors.New("boom")
	err := MultiBus{a, failBus{boom}, b}.Publish(ctx, testEvent())
	assert.ErrorIs(t, err, boom)
	// the healthy buses still got the event
	assert.Len(t, a.Events(), 2)
	assert.Len(t, b.Events(), 2)
}

func TestRedisBusBasics(t *testing.T) {
	t.Skip("live test, need redis running locally")

	bus, err := NewRedisBus("redis://localhost:6379/0", "reviewqueue/test")
	if err != nil {
		t.Fail()
	}
	ctx := context.Background()
	assert.NoError(t, bus.Publish(ctx, testEvent()))
	n, err := bus.Client.XLen(ctx, "reviewqueue/test").Result()
	assert.NoError(t, err)
	assert.NotZero(t, n)
}

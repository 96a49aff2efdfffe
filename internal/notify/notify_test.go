package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"examline/internal/logging"
	"examline/internal/metrics"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []Message
	err   error
	block chan struct{}
}

func (s *recordingSender) Send(ctx context.Context, msg Message) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

func (s *recordingSender) messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}

type countingMetrics struct {
	metrics.Nop
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) Notification(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[string]int{}
	}
	m.counts[result]++
}

func (m *countingMetrics) get(result string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[result]
}

func TestDispatcherDeliversAndDrains(t *testing.T) {
	sender := &recordingSender{}
	m := &countingMetrics{}
	d := NewDispatcher(sender, 8, time.Second, logging.Discard(), m)

	for _, to := range []string{"a@x", "b@x", "c@x"} {
		require.NoError(t, d.Enqueue(Message{To: to, Subject: "hi"}))
	}
	require.NoError(t, d.Close(context.Background()))

	got := sender.messages()
	require.Len(t, got, 3)
	require.Equal(t, "a@x", got[0].To)
	require.Equal(t, 3, m.get("sent"))
	require.ErrorIs(t, d.Enqueue(Message{To: "late@x"}), ErrClosed)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	m := &countingMetrics{}
	d := NewDispatcher(sender, 1, time.Second, logging.Discard(), m)

	require.NoError(t, d.Enqueue(Message{To: "first"}))
	// wait for the worker to pick up the first message
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, d.Enqueue(Message{To: "second"}))
	require.ErrorIs(t, d.Enqueue(Message{To: "third"}), ErrQueueFull)
	require.Equal(t, 1, m.get("dropped"))

	close(sender.block)
	require.NoError(t, d.Close(context.Background()))
	require.Len(t, sender.messages(), 2)
}

func TestDispatcherCountsFailures(t *testing.T) {
	sender := &recordingSender{err: errors.New("smtp down")}
	m := &countingMetrics{}
	d := NewDispatcher(sender, 4, time.Second, logging.Discard(), m)
	require.NoError(t, d.Enqueue(Message{To: "a@x"}))
	require.NoError(t, d.Close(context.Background()))
	require.Equal(t, 1, m.get("failed"))
	require.Zero(t, m.get("sent"))
}

func TestDispatcherBoundsSlowSender(t *testing.T) {
	sender := &recordingSender{block: make(chan struct{})}
	m := &countingMetrics{}
	d := NewDispatcher(sender, 4, 20*time.Millisecond, logging.Discard(), m)
	require.NoError(t, d.Enqueue(Message{To: "a@x"}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	require.Equal(t, 1, m.get("failed"))
}

func TestWebhookSender(t *testing.T) {
	var got Message
	var secret, kind string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret = r.Header.Get("X-Examline-Secret")
		kind = r.Header.Get("X-Examline-Kind")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, "s3cret", time.Second)
	err := s.Send(context.Background(), Message{To: "w@x", Subject: "Copy assigned", Kind: "item.assigned"})
	require.NoError(t, err)
	require.Equal(t, "w@x", got.To)
	require.Equal(t, "s3cret", secret)
	require.Equal(t, "item.assigned", kind)
}

func TestWebhookSenderStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookSender(srv.URL, "", time.Second).Send(context.Background(), Message{To: "w@x"})
	require.ErrorContains(t, err, "status 502")
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	application "devicehub/internal/alarmrules/application"
)

// SSEBroker fans out alarm lifecycle events to subscribed stream clients. It
// plugs into the engine as an application.Notifier, so every created, updated
// or cleared alarm reaches the stream without an extra poll.
type SSEBroker struct {
	mu          sync.Mutex
	subscribers map[*Subscription]struct{}
}

// Subscription is one stream client's view of the broker. Events carry
// JSON-encoded application.LifecycleEvent payloads.
type Subscription struct {
	broker  *SSEBroker
	events  chan []byte
	dropped int64
}

// NewSSEBroker constructs a broker.
func NewSSEBroker() *SSEBroker {
	return &SSEBroker{subscribers: make(map[*Subscription]struct{})}
}

// Notify implements application.Notifier.
func (b *SSEBroker) Notify(_ context.Context, event application.LifecycleEvent) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subscribers {
		select {
		case sub.events <- payload:
		default:
			// A slow client loses events rather than stalling the engine.
			sub.dropped++
		}
	}
}

// Subscribe registers a new stream client. The caller must Close the
// subscription when the client disconnects.
func (b *SSEBroker) Subscribe() *Subscription {
	if b == nil {
		return nil
	}
	sub := &Subscription{broker: b, events: make(chan []byte, 16)}
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// Events returns the subscription's payload channel. The channel is closed by
// Close.
func (s *Subscription) Events() <-chan []byte {
	if s == nil {
		return nil
	}
	return s.events
}

// Dropped reports how many events were discarded because the client fell
// behind.
func (s *Subscription) Dropped() int64 {
	if s == nil {
		return 0
	}
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	return s.dropped
}

// Close detaches the subscription from the broker.
func (s *Subscription) Close() {
	if s == nil || s.broker == nil {
		return
	}
	s.broker.mu.Lock()
	if _, ok := s.broker.subscribers[s]; ok {
		delete(s.broker.subscribers, s)
		close(s.events)
	}
	s.broker.mu.Unlock()
}

// StreamHandler serves the SSE alarm stream.
type StreamHandler struct {
	broker *SSEBroker
}

// NewStreamHandler constructs a stream handler.
func NewStreamHandler(broker *SSEBroker) *StreamHandler {
	return &StreamHandler{broker: broker}
}

// ServeHTTP handles GET /api/v1/alarms/stream.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.broker == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	sub := h.broker.Subscribe()
	if sub == nil {
		http.Error(w, "stream not ready", http.StatusServiceUnavailable)
		return
	}
	defer sub.Close()

	writeSSE(w, "ready", []byte("{}"))
	flusher.Flush()

	done := r.Context().Done()
	for {
		select {
		case payload, ok := <-sub.Events():
			if !ok {
				return
			}
			writeSSE(w, "alarm", payload)
			flusher.Flush()
		case <-done:
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data []byte) {
	_, _ = w.Write([]byte("event: " + event + "\ndata: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
}

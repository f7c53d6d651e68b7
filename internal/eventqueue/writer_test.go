package eventqueue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chronicle-run/chronicle/internal/domain"
)

type recordingEndpoint struct {
	mu      sync.Mutex
	batches [][]domain.ChronicleEvent
}

func (r *recordingEndpoint) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var env batchEnvelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		r.mu.Lock()
		r.batches = append(r.batches, env.Events)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (r *recordingEndpoint) all() []domain.ChronicleEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ChronicleEvent
	for _, b := range r.batches {
		out = append(out, b...)
	}
	return out
}

func (r *recordingEndpoint) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestManager_Enqueue_DebouncesIntoOneBatch(t *testing.T) {
	endpoint := &recordingEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	t.Cleanup(srv.Close)

	m := NewManager()
	t.Cleanup(m.Close)

	for i := 0; i < 5; i++ {
		m.Enqueue(context.Background(), srv.URL, domain.ChronicleEvent{ID: "evt-" + string(rune('a'+i))})
	}
	m.FlushEvents(srv.URL)

	if got := len(endpoint.all()); got != 5 {
		t.Errorf("delivered events = %d, want 5", got)
	}
	if bc := endpoint.batchCount(); bc != 1 {
		t.Errorf("batches posted = %d, want 1 (debounce should coalesce a burst)", bc)
	}
}

func TestManager_Enqueue_OverThresholdFlushesImmediately(t *testing.T) {
	endpoint := &recordingEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	t.Cleanup(srv.Close)

	m := NewManager()
	t.Cleanup(m.Close)

	events := make([]domain.ChronicleEvent, QueueThreshold+1)
	for i := range events {
		events[i] = domain.ChronicleEvent{ID: "evt"}
	}
	for _, e := range events {
		m.Enqueue(context.Background(), srv.URL, e)
	}

	deadline := time.After(time.Second)
	for {
		if len(endpoint.all()) == len(events) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for over-threshold flush, got %d events", len(endpoint.all()))
		case <-time.After(time.Millisecond):
		}
	}
}

func TestManager_Enqueue_KillSwitchIsNoOp(t *testing.T) {
	endpoint := &recordingEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	t.Cleanup(srv.Close)

	m := NewManager(WithEnabled(func() bool { return false }))
	t.Cleanup(m.Close)

	m.Enqueue(context.Background(), srv.URL, domain.ChronicleEvent{ID: "evt-1"})
	m.FlushEvents(srv.URL)

	if got := len(endpoint.all()); got != 0 {
		t.Errorf("delivered events = %d, want 0 (kill switch should no-op enqueue)", got)
	}
}

func TestManager_FlushEvents_ReturnsImmediatelyWhenBufferEmpty(t *testing.T) {
	endpoint := &recordingEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	t.Cleanup(srv.Close)

	m := NewManager()
	t.Cleanup(m.Close)

	done := make(chan struct{})
	go func() {
		m.FlushEvents(srv.URL + "/never-enqueued")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("FlushEvents on an unknown url should return immediately")
	}
}

func TestSink_EnqueueBindsFixedURL(t *testing.T) {
	endpoint := &recordingEndpoint{}
	srv := httptest.NewServer(endpoint.handler())
	t.Cleanup(srv.Close)

	m := NewManager()
	t.Cleanup(m.Close)
	sink := NewSink(m, srv.URL)

	sink.Enqueue(context.Background(), domain.ChronicleEvent{ID: "evt-1", Kind: "chat"})
	sink.FlushEvents()

	got := endpoint.all()
	if len(got) != 1 || got[0].ID != "evt-1" {
		t.Errorf("delivered events = %+v, want one event with ID evt-1", got)
	}
}

func TestManager_DroppedBatchDoesNotBlockSubsequentEvents(t *testing.T) {
	var failNext bool
	var mu sync.Mutex
	endpoint := &recordingEndpoint{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		shouldFail := failNext
		failNext = false
		mu.Unlock()
		if shouldFail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		endpoint.handler()(w, r)
	}))
	t.Cleanup(srv.Close)

	mu.Lock()
	failNext = true
	mu.Unlock()

	m := NewManager()
	t.Cleanup(m.Close)

	m.Enqueue(context.Background(), srv.URL, domain.ChronicleEvent{ID: "dropped"})
	m.FlushEvents(srv.URL)

	m.Enqueue(context.Background(), srv.URL, domain.ChronicleEvent{ID: "kept"})
	m.FlushEvents(srv.URL)

	got := endpoint.all()
	if len(got) != 1 || got[0].ID != "kept" {
		t.Errorf("delivered events = %+v, want only the post-drop event", got)
	}
}

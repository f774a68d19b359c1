package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxRetries != 2 {
		t.Errorf("expected MaxRetries 2, got %d", cfg.MaxRetries)
	}
	if cfg.RetryDelay != time.Second {
		t.Errorf("expected RetryDelay 1s, got %v", cfg.RetryDelay)
	}
	if len(cfg.Hooks) != 0 {
		t.Errorf("expected no hooks, got %d", len(cfg.Hooks))
	}
}

func TestClientSendSync(t *testing.T) {
	var received Event
	var eventHeader string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		eventHeader = r.Header.Get("X-Operator-Event")
		json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{
		MaxRetries: 1,
		RetryDelay: 10 * time.Millisecond,
		Hooks:      []HookConfig{{URL: server.URL, Events: []EventType{EventRunFinished}}},
	}, nil)
	defer client.Close()

	err := client.Send(context.Background(), Event{
		Event:    EventRunFinished,
		RunID:    "run-1",
		Mode:     "do",
		Task:     "start platform",
		Workflow: "platform-startup",
		Status:   "ok",
	}, false)
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if received.RunID != "run-1" {
		t.Errorf("expected run id run-1, got %q", received.RunID)
	}
	if received.Timestamp == "" {
		t.Error("expected timestamp to be set")
	}
	if eventHeader != string(EventRunFinished) {
		t.Errorf("expected event header %s, got %q", EventRunFinished, eventHeader)
	}
}

func TestClientSendWithSignature(t *testing.T) {
	var signature string
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signature = r.Header.Get("X-Operator-Signature")
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{
		Hooks: []HookConfig{{URL: server.URL, Secret: "s3cret"}},
	}, nil)
	defer client.Close()

	if err := client.Send(context.Background(), Event{Event: EventRunFailed, RunID: "run-2"}, false); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if signature == "" {
		t.Fatal("expected signature header")
	}
	if want := Sign(body, "s3cret"); signature != want {
		t.Errorf("signature mismatch: got %s, want %s", signature, want)
	}
}

func TestClientEventFiltering(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{
		Hooks: []HookConfig{{URL: server.URL, Events: []EventType{EventRunDenied}}},
	}, nil)
	defer client.Close()

	client.Send(context.Background(), Event{Event: EventRunFinished}, false)
	if calls.Load() != 0 {
		t.Errorf("expected no call for unmatched event, got %d", calls.Load())
	}
	client.Send(context.Background(), Event{Event: EventRunDenied}, false)
	if calls.Load() != 1 {
		t.Errorf("expected one call, got %d", calls.Load())
	}
}

func TestClientRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(&Config{
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
		Hooks:      []HookConfig{{URL: server.URL}},
	}, nil)
	defer client.Close()

	if err := client.Send(context.Background(), Event{Event: EventRunFailed}, false); err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestClientGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewClient(&Config{
		MaxRetries: 1,
		RetryDelay: time.Millisecond,
		Hooks:      []HookConfig{{URL: server.URL}},
	}, nil)
	defer client.Close()

	err := client.Send(context.Background(), Event{Event: EventRunFailed}, false)
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestClientAsyncDeliveredOnClose(t *testing.T) {
	var mu sync.Mutex
	var runs []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var e Event
		json.NewDecoder(r.Body).Decode(&e)
		mu.Lock()
		runs = append(runs, e.RunID)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewClient(&Config{
		AsyncQueueSize: 4,
		Hooks:          []HookConfig{{URL: server.URL}},
	}, nil)

	for _, id := range []string{"a", "b", "c"} {
		if err := client.Send(context.Background(), Event{Event: EventRunFinished, RunID: id}, true); err != nil {
			t.Fatalf("Send failed: %v", err)
		}
	}
	client.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(runs) != 3 {
		t.Errorf("expected 3 deliveries after Close, got %d", len(runs))
	}
}

func TestClientNoHooks(t *testing.T) {
	client := NewClient(nil, nil)
	if err := client.Send(context.Background(), Event{Event: EventRunFinished}, true); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// Sends after Close are ignored.
	if err := client.Send(context.Background(), Event{Event: EventRunFinished}, false); err != nil {
		t.Fatalf("Send after Close failed: %v", err)
	}
}

func TestEventFor(t *testing.T) {
	tests := map[string]EventType{
		"ok":                EventRunFinished,
		"dry-run":           EventRunFinished,
		"denied":            EventRunDenied,
		"blocked":           EventRunDenied,
		"failed":            EventRunFailed,
		"checkpoint-failed": EventRunFailed,
	}
	for status, want := range tests {
		if got := EventFor(status); got != want {
			t.Errorf("EventFor(%q) = %s, want %s", status, got, want)
		}
	}
}

package hook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"maintd/internal/store"
	"maintd/pkg/logx"
)

func testServer() store.Server {
	return store.Server{
		ID:       42,
		Name:     "web-1",
		Hostname: "web-1.example.net",
		Status:   store.ServerMaintenance,
	}
}

func TestWebhookPostsPayload(t *testing.T) {
	var (
		mu   sync.Mutex
		body []byte
		ct   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body = b
		ct = r.Header.Get("Content-Type")
		mu.Unlock()
	}))
	defer srv.Close()

	h := NewWebhook(srv.URL, 10)
	if err := h.OnTransition(context.Background(), testServer(), PhaseStart); err != nil {
		t.Fatalf("OnTransition: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if ct != "application/json" {
		t.Fatalf("content type = %q", ct)
	}
	var got map[string]any
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if got["event"] != "maintenance.start" || got["phase"] != "start" {
		t.Fatalf("payload = %v", got)
	}
	if got["server_id"] != float64(42) || got["server_name"] != "web-1" {
		t.Fatalf("payload = %v", got)
	}
	if got["server_status"] != "maintenance" {
		t.Fatalf("payload = %v", got)
	}
}

func TestWebhookNon2xxIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewWebhook(srv.URL, 10)
	if err := h.OnTransition(context.Background(), testServer(), PhaseEnd); err == nil {
		t.Fatalf("expected error for 502 response")
	}
}

func TestWebhookHonorsContext(t *testing.T) {
	h := NewWebhook("http://127.0.0.1:1/unreachable", 10)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.OnTransition(ctx, testServer(), PhaseStart); err == nil {
		t.Fatalf("expected error with cancelled context")
	}
}

func TestMultiRunsAllHooksAndReturnsFirstError(t *testing.T) {
	var order []string
	failing := Func(func(_ context.Context, _ store.Server, _ Phase) error {
		order = append(order, "failing")
		return errors.New("boom")
	})
	ok := Func(func(_ context.Context, _ store.Server, _ Phase) error {
		order = append(order, "ok")
		return nil
	})

	m := Multi{failing, nil, ok}
	err := m.OnTransition(context.Background(), testServer(), PhaseStart)
	if err == nil || err.Error() != "boom" {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(order) != 2 || order[0] != "failing" || order[1] != "ok" {
		t.Fatalf("order = %v", order)
	}
}

func TestLogHookNeverFails(t *testing.T) {
	h := LogHook{Log: logx.Nop()}
	if err := h.OnTransition(context.Background(), testServer(), PhaseEnd); err != nil {
		t.Fatalf("OnTransition: %v", err)
	}
}

package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/idorocodes/qight/internal/config"
	"github.com/idorocodes/qight/internal/envelope"
	"github.com/idorocodes/qight/internal/relay"
	"github.com/idorocodes/qight/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st := store.New()
	r := relay.New(*config.Default(), st, nil, nil)
	return New("127.0.0.1:0", r, st, nil), st
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestServer_Healthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := get(t, s.Handler(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Body.String(); got != "ok" {
		t.Errorf("GET /healthz body = %q, want %q", got, "ok")
	}
}

func TestServer_Stats(t *testing.T) {
	s, st := newTestServer(t)
	for i := range 2 {
		env := envelope.Envelope{
			MsgID:     fmt.Sprintf("m%d", i),
			Sender:    "alice",
			Recipient: "bob",
			TTL:       60,
			Payload:   []byte("hello"),
		}
		if err := st.Enqueue(env); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}

	rec := get(t, s.Handler(), "/stats")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /stats status = %d, want %d", rec.Code, http.StatusOK)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var got StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	if got.ActiveSessions != 0 {
		t.Errorf("active_sessions = %d, want 0", got.ActiveSessions)
	}
	if got.StartedAt.IsZero() {
		t.Error("started_at is zero")
	}
	if got.UptimeSeconds < 0 {
		t.Errorf("uptime_seconds = %d, want >= 0", got.UptimeSeconds)
	}
	if got.Store.Messages != 2 || got.Store.Enqueued != 2 {
		t.Errorf("store stats = %+v, want 2 messages, 2 enqueued", got.Store)
	}
	if got.Store.Mailboxes != 1 {
		t.Errorf("mailboxes = %d, want 1", got.Store.Mailboxes)
	}
}

func TestServer_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	if rec := get(t, s.Handler(), "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("GET /nope status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s, _ := newTestServer(t)
	if s.Addr() != nil {
		t.Error("Addr() before Start is non-nil")
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	resp, err := http.Get("http://" + s.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("GET /healthz = %d %q, want 200 \"ok\"", resp.StatusCode, body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if _, err := http.Get("http://" + s.Addr().String() + "/healthz"); err == nil {
		t.Error("GET after Shutdown succeeded, want connection error")
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	s, _ := newTestServer(t)
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() before Start error = %v", err)
	}
}

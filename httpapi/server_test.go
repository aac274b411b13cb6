package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pkt.systems/rshell/cache/memory"
	"pkt.systems/rshell/internal/metrics"
	"pkt.systems/rshell/internal/session"
	"pkt.systems/rshell/schema"
)

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	listen := ""
	h := Handler(Config{AppName: "shell-example", Version: "v1.0.0", Ready: func() string { return listen }})
	rec := get(t, h, HealthPath)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before listening, got %d", rec.Code)
	}
	listen = "127.0.0.1:60103"
	rec = get(t, h, HealthPath)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body Health
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.AppName != "shell-example" || body.Listen != listen {
		t.Fatalf("unexpected health %+v", body)
	}
}

func TestSessionsListing(t *testing.T) {
	store := memory.New()
	t.Cleanup(func() { _ = store.Close() })
	sessions, err := session.NewStore(store, session.Config{}, nil)
	if err != nil {
		t.Fatalf("session store: %v", err)
	}
	h := Handler(Config{Sessions: sessions})
	rec := get(t, h, SessionsPath)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"sessions":[]`) {
		t.Fatalf("expected empty list, got %d %s", rec.Code, rec.Body.String())
	}
	created, err := sessions.Create(context.Background(), "db1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rec = get(t, h, SessionsPath)
	var body SessionList
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != created.ID || body.Sessions[0].Host != "db1" {
		t.Fatalf("unexpected sessions %+v", body.Sessions)
	}
}

func TestDisabledEndpoints(t *testing.T) {
	h := Handler(Config{})
	if rec := get(t, h, MetricsPath); rec.Code != http.StatusNotFound {
		t.Fatalf("expected metrics disabled, got %d", rec.Code)
	}
	if rec := get(t, h, SessionsPath); rec.Code != http.StatusNotFound {
		t.Fatalf("expected sessions disabled, got %d", rec.Code)
	}
}

func TestServeMetrics(t *testing.T) {
	m := metrics.New("shell-example")
	m.Signal(schema.KindStdin, metrics.DirectionIn)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, ln, Handler(Config{Metrics: m})) }()

	resp, err := http.Get("http://" + ln.Addr().String() + MetricsPath)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(body), `rshell_signals_total{app="shell-example",direction="in",kind="stdin"} 1`) {
		t.Fatalf("metrics missing signal counter:\n%s", body)
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(6 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

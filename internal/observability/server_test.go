package observability

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func startServer(t *testing.T, ready ReadinessChecker, gauges Gauges) *Server {
	t.Helper()
	server := NewServer("127.0.0.1:0", ready, gauges)

	if _, err := server.Start(); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Stop(ctx)
	})

	if server.Addr() == "" {
		t.Fatal("server address is empty")
	}
	return server
}

func fetch(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("failed to GET %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestServer_Metrics(t *testing.T) {
	server := startServer(t, func() bool { return true }, Gauges{
		ActiveInstances: func() float64 { return 3 },
		OnlinePlayers:   func() float64 { return 42 },
	})

	status, body := fetch(t, "http://"+server.Addr()+"/metrics")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	if !strings.Contains(body, "# HELP") {
		t.Error("expected Prometheus format with HELP comments")
	}
	if !strings.Contains(body, "go_") {
		t.Error("expected go_* metrics")
	}
	if !strings.Contains(body, "process_") {
		t.Error("expected process_* metrics")
	}
	if !strings.Contains(body, "shorebound_active_instances 3") {
		t.Error("expected shorebound_active_instances gauge")
	}
	if !strings.Contains(body, "shorebound_online_players 42") {
		t.Error("expected shorebound_online_players gauge")
	}

	// Counters appear after first use.
	metrics := server.Metrics()
	metrics.ConnectionsTotal.Inc()
	metrics.JoinsRejectedTotal.WithLabelValues("ip_banned").Inc()
	metrics.CommandsTotal.WithLabelValues("ban").Inc()
	metrics.FlushFailuresTotal.WithLabelValues("inventory").Inc()
	RecordDroppedEvent()

	_, body = fetch(t, "http://"+server.Addr()+"/metrics")
	for _, want := range []string{
		"shorebound_connections_total 1",
		`shorebound_joins_rejected_total{reason="ip_banned"} 1`,
		`shorebound_commands_total{command="ban"} 1`,
		`shorebound_cache_flush_failures_total{cache="inventory"} 1`,
		"shorebound_bus_dropped_events_total",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestServer_LivenessReturns200(t *testing.T) {
	server := startServer(t, nil, Gauges{})

	status, body := fetch(t, "http://"+server.Addr()+"/healthz/liveness")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
	if strings.TrimSpace(body) != "ok" {
		t.Errorf("expected body 'ok', got %q", body)
	}
}

func TestServer_ReadinessWhenReady(t *testing.T) {
	server := startServer(t, func() bool { return true }, Gauges{})

	status, _ := fetch(t, "http://"+server.Addr()+"/healthz/readiness")
	if status != http.StatusOK {
		t.Errorf("expected status 200, got %d", status)
	}
}

func TestServer_ReadinessWhenNotReady(t *testing.T) {
	server := startServer(t, func() bool { return false }, Gauges{})

	status, body := fetch(t, "http://"+server.Addr()+"/healthz/readiness")
	if status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", status)
	}
	if strings.TrimSpace(body) != "not ready" {
		t.Errorf("expected body 'not ready', got %q", body)
	}
}

func TestServer_ReadinessWithNilChecker(t *testing.T) {
	server := startServer(t, nil, Gauges{})

	status, _ := fetch(t, "http://"+server.Addr()+"/healthz/readiness")
	if status != http.StatusOK {
		t.Errorf("expected status 200 with nil checker, got %d", status)
	}
}

func TestServer_DoubleStartFails(t *testing.T) {
	server := startServer(t, nil, Gauges{})

	if _, err := server.Start(); err == nil {
		t.Error("expected second Start to fail")
	}
}

func TestServer_StopIdempotent(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, Gauges{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Errorf("stopping a never-started server should be a no-op, got %v", err)
	}
}

func TestServer_ErrorChannelClosesOnNormalShutdown(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil, Gauges{})

	errCh, err := server.Start()
	if err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		t.Fatalf("failed to stop server: %v", err)
	}

	select {
	case serveErr, open := <-errCh:
		if open {
			t.Errorf("expected closed channel, got error: %v", serveErr)
		}
	case <-time.After(5 * time.Second):
		t.Error("error channel did not close after shutdown")
	}
}

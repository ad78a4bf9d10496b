package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arklim/inventory-auth/pkg/gateway"
)

func newTestGateway(t *testing.T, issuerURL string) *gateway.Gateway {
	t.Helper()
	gw := gateway.New(gateway.NewIssuerClient(issuerURL, nil), gateway.NewMemorySessionStore())
	t.Cleanup(func() { _ = gw.Close() })
	return gw
}

func TestRunCallsCapsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	t.Cleanup(server.Close)

	gw := newTestGateway(t, server.URL)
	results, err := runCalls(context.Background(), gw, server.URL+"/api/v1/inventory/summary", 6, 2)
	if err != nil {
		t.Fatalf("runCalls returned error: %v", err)
	}
	if len(results) != 6 {
		t.Fatalf("expected 6 results, got %d", len(results))
	}
	for i, r := range results {
		if r.err != nil || r.status != http.StatusOK || r.body != "ok" {
			t.Fatalf("call %d: unexpected result %+v", i, r)
		}
	}
	if got := peak.Load(); got > 2 {
		t.Fatalf("expected at most 2 calls in flight, saw %d", got)
	}
}

func TestRunCallsReportsFailures(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	gw := newTestGateway(t, url)
	results, err := runCalls(context.Background(), gw, url+"/api/v1/inventory/summary", 3, 3)
	if err == nil {
		t.Fatalf("expected an error when the API is unreachable")
	}
	for i, r := range results {
		if r.err == nil {
			t.Fatalf("call %d: expected a recorded error", i)
		}
	}
}

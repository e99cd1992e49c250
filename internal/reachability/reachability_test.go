package reachability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestOnlineBeforeFirstProbe(t *testing.T) {
	monitor := NewMonitor(http.DefaultClient, "https://probe.example.org", time.Minute)
	if !monitor.Online() {
		t.Fatal("monitor should assume online before the first probe")
	}
}

func TestProbeNowDetectsOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	monitor := NewMonitor(server.Client(), server.URL, time.Minute)
	if monitor.ProbeNow(context.Background()) {
		t.Fatal("500 probe should mark the monitor offline")
	}
	if monitor.Online() {
		t.Fatal("Online() should reflect the probe result")
	}
}

func TestProbeNowUsesHead(t *testing.T) {
	var method atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
	}))
	t.Cleanup(server.Close)

	monitor := NewMonitor(server.Client(), server.URL, time.Minute)
	if !monitor.ProbeNow(context.Background()) {
		t.Fatal("200 probe should mark the monitor online")
	}
	if got, _ := method.Load().(string); got != http.MethodHead {
		t.Fatalf("probe should use HEAD, got %q", got)
	}
}

func TestProbeUnreachableHostGoesOffline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	client := server.Client()
	server.Close()

	monitor := NewMonitor(client, server.URL, time.Minute)
	if monitor.ProbeNow(context.Background()) {
		t.Fatal("unreachable host should mark the monitor offline")
	}
}

func TestSubscribeSeesTransitions(t *testing.T) {
	var status atomic.Int64
	status.Store(http.StatusOK)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(status.Load()))
	}))
	t.Cleanup(server.Close)

	monitor := NewMonitor(server.Client(), server.URL, time.Minute)
	events, unsubscribe := monitor.Subscribe()
	t.Cleanup(unsubscribe)

	// First probe confirms online and counts as a transition from unknown.
	monitor.ProbeNow(context.Background())
	select {
	case online := <-events:
		if !online {
			t.Fatal("first transition should be online")
		}
	case <-time.After(time.Second):
		t.Fatal("no event for the first probe")
	}

	status.Store(http.StatusInternalServerError)
	monitor.ProbeNow(context.Background())
	select {
	case online := <-events:
		if online {
			t.Fatal("second transition should be offline")
		}
	case <-time.After(time.Second):
		t.Fatal("no event for the offline transition")
	}

	// Repeat probes without a state change stay silent.
	monitor.ProbeNow(context.Background())
	select {
	case online := <-events:
		t.Fatalf("unexpected event without transition: %v", online)
	default:
	}
}

func TestStartWithoutProbeURLIsNoop(t *testing.T) {
	monitor := NewMonitor(http.DefaultClient, "", time.Minute)
	monitor.Start()
	monitor.Stop()
	if !monitor.Online() {
		t.Fatal("monitor without probe URL should stay online")
	}
}

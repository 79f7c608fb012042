package agentpeer

import (
	"context"
	"testing"
)

func TestBuildAgentURLDefaultsPathAndScheme(t *testing.T) {
	got, err := buildAgentURL("hub.example.com:8443", "tok123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "ws://hub.example.com:8443/ws/agent?token=tok123"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestBuildAgentURLUpgradesHTTPSToWSS(t *testing.T) {
	got, err := buildAgentURL("https://hub.example.com", "tok123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "wss://hub.example.com/ws/agent?token=tok123" {
		t.Fatalf("unexpected url: %q", got)
	}
}

func TestBuildAgentURLPreservesExplicitPath(t *testing.T) {
	got, err := buildAgentURL("ws://hub.example.com/custom/agent", "tok123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ws://hub.example.com/custom/agent?token=tok123" {
		t.Fatalf("unexpected url: %q", got)
	}
}

func TestSleepBackoffDoublesUpToCap(t *testing.T) {
	// A cancelled context makes sleepBackoff return without waiting.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cur := minBackoff
	if next := sleepBackoff(ctx, cur); next != 2*minBackoff {
		t.Fatalf("expected backoff to double to %v, got %v", 2*minBackoff, next)
	}
	for i := 0; i < 10; i++ {
		cur = sleepBackoff(ctx, cur)
	}
	if cur != maxBackoff {
		t.Fatalf("expected backoff to saturate at max, got %v", cur)
	}
}

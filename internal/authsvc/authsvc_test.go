package authsvc

import (
	"testing"
	"time"
)

func TestCheckTokenConstantTime(t *testing.T) {
	if !CheckToken("secret", "secret") {
		t.Fatalf("expected matching tokens to pass")
	}
	if CheckToken("secret", "wrong!!") {
		t.Fatalf("expected mismatched tokens to fail")
	}
	if CheckToken("short", "muchlongertoken") {
		t.Fatalf("expected different-length tokens to fail")
	}
}

func TestMintAndTouch(t *testing.T) {
	table := NewTable()
	sess, err := table.Mint()
	if err != nil {
		t.Fatalf("Mint failed: %v", err)
	}
	if len(sess.Token) != 64 { // 32 bytes hex-encoded
		t.Fatalf("expected 256-bit hex token, got length %d", len(sess.Token))
	}

	if !table.Touch(sess.Token) {
		t.Fatalf("expected freshly minted session to be valid")
	}
	if table.Touch("does-not-exist") {
		t.Fatalf("expected unknown token to be rejected")
	}
}

func TestSweepEvictsIdleSessions(t *testing.T) {
	table := NewTable()
	sess, _ := table.Mint()
	table.sessions[sess.Token].LastSeen = time.Now().Add(-25 * time.Hour)

	table.Sweep()
	if table.Count() != 0 {
		t.Fatalf("expected idle session swept, count=%d", table.Count())
	}
}

func TestTouchEvictsExpiredSession(t *testing.T) {
	table := NewTable()
	sess, _ := table.Mint()
	table.sessions[sess.Token].LastSeen = time.Now().Add(-25 * time.Hour)

	if table.Touch(sess.Token) {
		t.Fatalf("expected expired session to be rejected by Touch")
	}
	if table.Count() != 0 {
		t.Fatalf("expected Touch to evict the expired session")
	}
}

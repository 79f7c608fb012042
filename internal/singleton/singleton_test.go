package singleton

import (
	"os"
	"testing"
)

func TestAcquireThenReleaseRoundTrip(t *testing.T) {
	role := "test-role-roundtrip"
	t.Cleanup(func() { _ = Release(role, os.Getpid()) })

	ok, owner, err := Acquire(Info{PID: os.Getpid(), Role: role})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || owner != nil {
		t.Fatalf("expected to acquire a free lock, got ok=%v owner=%v", ok, owner)
	}

	if err := Release(role, os.Getpid()); err != nil {
		t.Fatalf("unexpected release error: %v", err)
	}
}

func TestAcquireRejectsWhileOwnerAlive(t *testing.T) {
	role := "test-role-contended"
	t.Cleanup(func() { _ = Release(role, os.Getpid()) })

	ok, _, err := Acquire(Info{PID: os.Getpid(), Role: role})
	if err != nil || !ok {
		t.Fatalf("setup: expected first Acquire to succeed, ok=%v err=%v", ok, err)
	}

	ok2, owner, err := Acquire(Info{PID: os.Getpid() + 1, Role: role})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok2 || owner == nil || owner.PID != os.Getpid() {
		t.Fatalf("expected contended acquire to report the live owner, got ok=%v owner=%v", ok2, owner)
	}
}

func TestReleaseRejectsWrongOwner(t *testing.T) {
	role := "test-role-wrong-owner"
	t.Cleanup(func() { _ = Release(role, os.Getpid()) })

	if _, _, err := Acquire(Info{PID: os.Getpid(), Role: role}); err != nil {
		t.Fatalf("setup acquire failed: %v", err)
	}
	if err := Release(role, os.Getpid()+999); err == nil {
		t.Fatalf("expected release by a different pid to fail")
	}
}

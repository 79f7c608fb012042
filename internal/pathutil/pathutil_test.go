package pathutil

import "testing"

func TestSanitizeFilenameStripsPathSeparators(t *testing.T) {
	got, ok := SanitizeFilename("../../etc/passwd")
	if !ok {
		t.Fatalf("expected sanitization to succeed with a safe fallback name")
	}
	if got != "_.._etc_passwd" {
		t.Fatalf("unexpected sanitized name: %q", got)
	}
}

func TestSanitizeFilenameRejectsEmptyDotDot(t *testing.T) {
	for _, in := range []string{"", ".", ".."} {
		if _, ok := SanitizeFilename(in); ok {
			t.Fatalf("expected %q to be rejected", in)
		}
	}
}

func TestSanitizeFilenameIsIdempotent(t *testing.T) {
	inputs := []string{"../../etc/passwd", "normal.txt", "  .leading.  ", "CON.txt"}
	for _, in := range inputs {
		first, ok1 := SanitizeFilename(in)
		if !ok1 {
			continue
		}
		second, ok2 := SanitizeFilename(first)
		if !ok2 || second != first {
			t.Fatalf("sanitize not idempotent for %q: first=%q second=%q ok2=%v", in, first, second, ok2)
		}
	}
}

func TestSanitizeFilenameRejectsReservedDeviceNames(t *testing.T) {
	if _, ok := SanitizeFilename("CON"); ok {
		t.Fatalf("expected reserved device name CON to be rejected")
	}
	if _, ok := SanitizeFilename("CON.txt"); ok {
		t.Fatalf("expected reserved device name CON.txt to be rejected")
	}
}

func TestSanitizeProjectName(t *testing.T) {
	if _, ok := SanitizeProjectName("my-project_1"); !ok {
		t.Fatalf("expected valid project name to pass")
	}
	if _, ok := SanitizeProjectName("../escape"); ok {
		t.Fatalf("expected path traversal project name to fail")
	}
	if _, ok := SanitizeProjectName(""); ok {
		t.Fatalf("expected empty project name to fail")
	}
}

func TestResolveWithinCwdRejectsEscape(t *testing.T) {
	if _, ok := ResolveWithinCwd("/home/u/p", "../../etc/passwd"); ok {
		t.Fatalf("expected escaping path to be rejected")
	}
	resolved, ok := ResolveWithinCwd("/home/u/p", "notes.txt")
	if !ok || resolved != "/home/u/p/notes.txt" {
		t.Fatalf("expected safe path to resolve, got %q ok=%v", resolved, ok)
	}
}

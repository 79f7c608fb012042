package session

import (
	"strings"
	"sync"
)

const (
	maxRingLines = 10000
	maxRingBytes = 50 * 1024 * 1024
)

// Ring is the SL's in-memory scrollback buffer (spec.md §3): a deque
// of lines bounded by both a line-count cap and a byte-size cap,
// either of which trims from the head on append. Byte accounting uses
// UTF-8 length (len() on a Go string already counts bytes).
type Ring struct {
	mu    sync.Mutex
	lines []string
	bytes int
	carry string // partial line not yet terminated by \n
}

// NewRing returns an empty scrollback ring.
func NewRing() *Ring {
	return &Ring{}
}

// Append splits chunk on '\n' and pushes each completed line into the
// ring, evicting the oldest lines/bytes as needed to stay within both
// caps independently. A trailing partial line (no terminating '\n'
// yet) is held in carry and prefixed to the next Append call.
func (r *Ring) Append(chunk string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	data := r.carry + chunk
	r.carry = ""

	parts := strings.Split(data, "\n")
	// The last element is either "" (data ended in \n) or a partial
	// line to carry forward.
	if n := len(parts); n > 0 {
		last := parts[n-1]
		if last != "" {
			r.carry = last
		}
		parts = parts[:n-1]
	}

	for _, line := range parts {
		r.pushLine(line + "\n")
	}
}

func (r *Ring) pushLine(line string) {
	for (len(r.lines) > 0) && (len(r.lines)+1 > maxRingLines || r.bytes+len(line) > maxRingBytes) {
		r.evictOldest()
	}
	r.lines = append(r.lines, line)
	r.bytes += len(line)
}

func (r *Ring) evictOldest() {
	r.bytes -= len(r.lines[0])
	r.lines = r.lines[1:]
}

// Scrollback returns up to maxLines trailing lines, truncated further
// so the serialized result stays under maxBytes, trimming at a line
// boundary on the leading edge (spec.md §4.1 Subscribe).
func (r *Ring) Scrollback(maxLines, maxBytes int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	lines := r.lines
	if r.carry != "" {
		lines = append(append([]string(nil), lines...), r.carry)
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}

	total := 0
	start := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		total += len(lines[i])
		if total > maxBytes {
			break
		}
		start = i
	}
	var b strings.Builder
	for _, l := range lines[start:] {
		b.WriteString(l)
	}
	return b.String()
}

// PreviewLines returns the ANSI-stripped text of the last n lines,
// truncated to maxBytes, for the registry record's preview field.
func (r *Ring) PreviewLines(n, maxBytes int) string {
	s := r.Scrollback(n, maxBytes)
	return StripANSI(s)
}

//go:build windows

package session

import (
	"fmt"
	"net"
)

// LocalAddress derives the named-pipe path for id (spec.md §3, OS
// specific: named pipe path or local socket path).
func LocalAddress(id string) string {
	return fmt.Sprintf(`\\.\pipe\claude-relay-%s`, id)
}

// Listen is not implemented for windows in this module; the teacher's
// own terminal_windows.go is similarly a stub (spec.md treats Windows
// named-pipe binding as an OS-specific concern outside this exercise's
// scope, same as creack/pty's own windows backend).
func (l *Launcher) Listen() (net.Listener, error) {
	return nil, fmt.Errorf("local session channel listener not implemented on windows")
}

func (l *Launcher) Serve(ln net.Listener) {}

// Package singleton enforces one running relay process per role per
// machine (one hub, one agent) via a PID lock file, adapted from the
// teacher's lock.go/ensureSingleInstance.
package singleton

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
)

// Info is the JSON document written to the lock file, extended with
// the role field so a hub lock and an agent lock on the same machine
// don't collide.
type Info struct {
	PID       int    `json:"pid"`
	Role      string `json:"role"`
	MachineID string `json:"machineId,omitempty"`
	Listen    string `json:"listen,omitempty"`
}

func lockFilePath(role string) string {
	return filepath.Join(os.TempDir(), "cnm-relay-"+role+".lock")
}

// Acquire attempts to take the lock for role. It reports ok=true when
// this process now owns the lock; otherwise it returns the Info of the
// still-running owner (spec.md SPEC_FULL.md "Supplemented features").
func Acquire(info Info) (ok bool, owner *Info, err error) {
	path := lockFilePath(info.Role)

	existing, readErr := readInfo(path)
	if readErr == nil && ProcessRunning(existing.PID) {
		return false, existing, nil
	}

	if err := writeInfo(path, info); err != nil {
		return false, nil, err
	}
	return true, nil, nil
}

// Release removes the lock file for role if it is still owned by pid.
func Release(role string, pid int) error {
	path := lockFilePath(role)
	info, err := readInfo(path)
	if err != nil {
		return nil
	}
	if info.PID != pid {
		return errors.New("lock owned by another process")
	}
	return os.Remove(path)
}

func readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func writeInfo(path string, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

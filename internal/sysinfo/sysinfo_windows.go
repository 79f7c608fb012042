//go:build windows

package sysinfo

import "strings"

// detectDiskUsage is a best-effort disk detection on Windows via wmic
// output.
func detectDiskUsage() (uint64, uint64) {
	out := runSimpleCommand("wmic", "logicaldisk", "get", "size,freespace", "/value")
	var free, total uint64
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "FreeSpace=") {
			free = parseUint(strings.TrimPrefix(line, "FreeSpace="))
		}
		if strings.HasPrefix(line, "Size=") {
			total = parseUint(strings.TrimPrefix(line, "Size="))
		}
		if free > 0 && total > 0 {
			break
		}
	}
	return total, free
}

// Package pathutil implements the filename and project-name
// sanitization rules from spec.md §4.3.2: strip path separators and
// reserved characters, reject empty/"."/".." and reserved device
// names, and confirm an upload destination resolves inside the
// session's working directory.
package pathutil

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	disallowedChars  = regexp.MustCompile(`[/\\:*?"<>|\x00-\x1f]`)
	projectNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{1,50}$`)
)

var reservedNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
	"COM1": true, "COM2": true, "COM3": true, "COM4": true,
	"COM5": true, "COM6": true, "COM7": true, "COM8": true, "COM9": true,
	"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true,
	"LPT5": true, "LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
}

const maxFilenameLen = 255

// SanitizeFilename strips path separators and reserved characters from
// name, trims leading/trailing dots and spaces, caps length, and
// rejects empty/"."/".."/reserved device names. It is idempotent:
// SanitizeFilename(SanitizeFilename(x)) == SanitizeFilename(x).
func SanitizeFilename(name string) (string, bool) {
	cleaned := disallowedChars.ReplaceAllString(name, "_")
	cleaned = strings.Trim(cleaned, ". ")
	if len(cleaned) > maxFilenameLen {
		cleaned = cleaned[:maxFilenameLen]
		cleaned = strings.TrimRight(cleaned, ". ")
	}

	if cleaned == "" || cleaned == "." || cleaned == ".." {
		return "", false
	}
	upper := strings.ToUpper(strings.TrimSuffix(cleaned, filepath.Ext(cleaned)))
	if reservedNames[upper] {
		return "", false
	}
	return cleaned, true
}

// SanitizeProjectName validates name against the project-name grammar
// and rejects reserved device names (spec.md §4.3.2 create_session).
func SanitizeProjectName(name string) (string, bool) {
	if !projectNameRegex.MatchString(name) {
		return "", false
	}
	if reservedNames[strings.ToUpper(name)] {
		return "", false
	}
	return name, true
}

// ResolveWithinCwd joins cwd and filename and confirms the resolved,
// cleaned path is still inside cwd — the defense against upload path
// escape (spec.md §4.3.2, §8 "Scenario E").
func ResolveWithinCwd(cwd, filename string) (string, bool) {
	cleanCwd := filepath.Clean(cwd)
	candidate := filepath.Join(cleanCwd, filename)
	candidate = filepath.Clean(candidate)

	rel, err := filepath.Rel(cleanCwd, candidate)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return candidate, true
}

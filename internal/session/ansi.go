package session

import "regexp"

var ansiRegexp = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07]*\x07|[()][0-9A-Za-z])`)

// StripANSI removes common ANSI escape sequences (CSI, OSC, charset
// select) from s, used to compute the registry preview field from raw
// terminal output.
func StripANSI(s string) string {
	return ansiRegexp.ReplaceAllString(s, "")
}

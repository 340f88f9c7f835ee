package format

import (
	"regexp"
	"strconv"
)

// PIDPrefix and PIDSuffix are the fixed affixes the in-container launcher
// wrapper emits around the detached process's PID. Both sides of the wire
// (actor and in-container agent) must agree on these exact strings.
const (
	PIDPrefix = "__ROCK_NOHUP_PID__"
	PIDSuffix = "__ROCK_NOHUP_PID_END__"
)

var pidMarkerPattern = regexp.MustCompile(regexp.QuoteMeta(PIDPrefix) + `(\d+)` + regexp.QuoteMeta(PIDSuffix))

// ExtractNohupPID scans launcher stdout for the PID marker and returns the
// parsed PID. ok is false when the marker is absent or malformed — callers
// must treat that as ErrLaunchFailed without assuming any process exists.
func ExtractNohupPID(output string) (pid int, ok bool) {
	match := pidMarkerPattern.FindStringSubmatch(output)
	if match == nil {
		return 0, false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// NohupMarker renders the marker string the launcher wrapper must print for
// the given pid.
func NohupMarker(pid int) string {
	return PIDPrefix + strconv.Itoa(pid) + PIDSuffix
}

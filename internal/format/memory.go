// Package format implements the small, pure-CPU parsing and formatting
// grammars used throughout the control plane: memory-size strings and the
// NOHUP PID marker. Neither ever performs I/O or suspends.
package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var memorySizePattern = regexp.MustCompile(`(?i)^(\d+(?:\.\d+)?)\s*([a-z]*)$`)

var units = map[string]float64{
	"": 1,
	"k": 1024,
	"m": 1024 * 1024,
	"g": 1024 * 1024 * 1024,
	"t": 1024 * 1024 * 1024 * 1024,
}

// ParseMemorySize parses a memory-size string of the grammar
// "<number>[.<number>]? (b|k|m|g|t)(b)?" (case-insensitive), where a bare
// number is bytes and units are powers of 1024. Returns an "Invalid memory
// size format" error for empty strings and malformed numbers (e.g. multiple
// decimal points), and an "Unknown memory unit" error for unknown units.
func ParseMemorySize(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, fmt.Errorf("Invalid memory size format: %q", s)
	}

	match := memorySizePattern.FindStringSubmatch(trimmed)
	if match == nil {
		return 0, fmt.Errorf("Invalid memory size format: %q", s)
	}

	numberPart, unit := match[1], strings.ToLower(match[2])

	if strings.Count(numberPart, ".") > 1 {
		return 0, fmt.Errorf("Invalid memory size format: %q", s)
	}

	value, err := strconv.ParseFloat(numberPart, 64)
	if err != nil {
		return 0, fmt.Errorf("Invalid memory size format: %q", s)
	}

	// A trailing "b" is an optional suffix on any unit letter ("kb", "mb",
	// ...) and also denotes bare bytes on its own ("b").
	base := unit
	if unit != "b" && strings.HasSuffix(unit, "b") {
		base = strings.TrimSuffix(unit, "b")
	} else if unit == "b" {
		base = ""
	}

	multiplier, ok := units[base]
	if !ok {
		return 0, fmt.Errorf("Unknown memory unit: %q", s)
	}

	return int64(value * multiplier), nil
}

// FormatByteSize renders a byte count the way the NOHUP "Ignore" output
// mode reports a tmp file's size: either "<n> bytes" for sub-kilobyte
// sizes, or "<n.nn> <unit>" for 1024-power sizes, matching the original
// implementation's human-readable hint text exactly.
func FormatByteSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d bytes", n)
	}
	value := float64(n)
	unitNames := []string{"KB", "MB", "GB", "TB", "PB"}
	unitIdx := -1
	for value >= 1024 && unitIdx < len(unitNames)-1 {
		value /= 1024
		unitIdx++
	}
	return fmt.Sprintf("%.2f %s", value, unitNames[unitIdx])
}

// CanonicalMemoryString renders N bytes as the canonical string that
// parses back to N via ParseMemorySize, preferring the largest whole
// power-of-1024 unit that divides N evenly, falling back to plain bytes.
func CanonicalMemoryString(n int64) string {
	scales := []struct {
		suffix string
		size   int64
	}{
		{"t", 1024 * 1024 * 1024 * 1024},
		{"g", 1024 * 1024 * 1024},
		{"m", 1024 * 1024},
		{"k", 1024},
	}
	for _, s := range scales {
		if n != 0 && n%s.size == 0 {
			return fmt.Sprintf("%d%s", n/s.size, s.suffix)
		}
	}
	return strconv.FormatInt(n, 10)
}

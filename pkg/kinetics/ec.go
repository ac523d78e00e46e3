package kinetics

import (
	"strconv"
	"strings"
)

// ECSegments splits an EC number into its numeric or "-" segments. Returns nil when
// the string is not a 1-4 segment dotted EC number.
func ECSegments(ec string) []string {
	ec = strings.TrimSpace(ec)
	ec = strings.TrimPrefix(strings.TrimPrefix(ec, "EC:"), "EC ")
	if ec == "" {
		return nil
	}
	parts := strings.Split(ec, ".")
	if len(parts) > 4 {
		return nil
	}
	for i, p := range parts {
		if p == "-" && i > 0 {
			continue
		}
		if _, err := strconv.Atoi(p); err != nil {
			return nil
		}
	}
	return parts
}

// IsFullEC reports whether ec names a specific enzyme (four numeric segments).
func IsFullEC(ec string) bool {
	parts := ECSegments(ec)
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "-" {
			return false
		}
	}
	return true
}

// ECClass returns the top-level enzyme class 1-6, or 0 when unknown.
func ECClass(ec string) int {
	parts := ECSegments(ec)
	if len(parts) == 0 {
		return 0
	}
	n, _ := strconv.Atoi(parts[0])
	if n < 1 || n > 6 {
		return 0
	}
	return n
}

// ECPrefix returns the first n segments of ec joined by dots.
func ECPrefix(ec string, n int) string {
	parts := ECSegments(ec)
	if len(parts) == 0 {
		return ""
	}
	if n > len(parts) {
		n = len(parts)
	}
	return strings.Join(parts[:n], ".")
}

// NormalizeEC strips an "EC:" prefix and surrounding space.
func NormalizeEC(ec string) string {
	parts := ECSegments(ec)
	if parts == nil {
		return strings.TrimSpace(ec)
	}
	return strings.Join(parts, ".")
}

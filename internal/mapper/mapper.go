// Package mapper turns source entries into transport topics and payloads.
package mapper

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/frc-grafana/nt-bridge/internal/entry"
)

// TopicOf strips whitespace and path separators from an entry name.
// Distinct names may collide ("A B" and "AB" both yield "AB").
func TopicOf(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, name)
}

// PayloadOf renders a value for publishing. Only doubles are forwarded;
// every other arm returns false.
func PayloadOf(v entry.Value) (string, bool) {
	switch v := v.(type) {
	case entry.Double:
		return strconv.FormatFloat(float64(v), 'f', -1, 64), true
	case entry.Boolean, entry.String, entry.Raw,
		entry.BooleanArray, entry.DoubleArray, entry.StringArray,
		entry.Unsupported:
		return "", false
	default:
		return "", false
	}
}

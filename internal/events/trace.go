package events

import (
	"crypto/rand"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// Traceparent renders a W3C traceparent header for downstream calls made on
// behalf of an event. The trace id is derived from the correlation id so a
// whole causal chain shares one trace; the span id is fresh per call.
func Traceparent(correlationID string) string {
	traceID := strings.ReplaceAll(correlationID, "-", "")
	if len(traceID) != 32 || !isHex(traceID) {
		traceID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}

	span := make([]byte, 8)
	if _, err := rand.Read(span); err != nil {
		// Degenerate fallback; uniqueness suffers but the header stays valid.
		copy(span, traceID[:8])
	}
	return "00-" + strings.ToLower(traceID) + "-" + hex.EncodeToString(span) + "-01"
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

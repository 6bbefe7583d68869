// Package events processes the durable world event log: redaction for dead
// letters, the traceparent helper and the in-process dispatcher that drives
// pending envelopes through registered handlers.
package events

import (
	"encoding/json"
	"fmt"
)

// maxRedactedValueBytes caps payload value sizes in dead letters. Larger
// values are replaced by a truncation marker.
const maxRedactedValueBytes = 256

// playerIdentifyingFields are stripped from dead-letter payloads.
var playerIdentifyingFields = map[string]struct{}{
	"playerGuid": {},
	"playerId":   {},
	"externalId": {},
	"name":       {},
	"attributes": {},
}

// Redact returns a copy of the payload safe to persist in a dead letter:
// player-identifying fields are dropped and oversized values replaced by a
// length marker. The input is never mutated.
func Redact(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}

	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		if _, drop := playerIdentifyingFields[k]; drop {
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v interface{}) interface{} {
	switch val := v.(type) {
	case string:
		if len(val) > maxRedactedValueBytes {
			return fmt.Sprintf("[TRUNCATED len=%d]", len(val))
		}
		return val
	case map[string]interface{}:
		return Redact(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		// Non-string scalars are small; composite values are measured by
		// their JSON encoding.
		if data, err := json.Marshal(v); err == nil && len(data) > maxRedactedValueBytes {
			return fmt.Sprintf("[TRUNCATED len=%d]", len(data))
		}
		return v
	}
}

// Package resultguard bounds execution results before they are persisted or
// displayed. Oversized payloads are truncated, never rejected: the engine
// always returns something the approval workflow can store and show.
package resultguard

import (
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"querygate/internal/config"
)

// Outcome reports the result of a size check. When Truncated is set, Value
// holds the reduced payload and Warning describes what happened. A
// serialization failure is captured in Error rather than propagated.
type Outcome struct {
	Value         any    `json:"value"`
	Truncated     bool   `json:"truncated"`
	OriginalSize  int    `json:"original_size"`
	TruncatedSize int    `json:"truncated_size"`
	Warning       string `json:"warning,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Guard applies the configured size caps.
type Guard struct {
	maxBytes        int
	displayMaxBytes int
	maxRows         int
}

// New creates a Guard from the result and engine configuration.
func New(results config.ResultConfig, maxRows int) *Guard {
	return &Guard{
		maxBytes:        results.MaxBytes,
		displayMaxBytes: results.DisplayMaxBytes,
		maxRows:         maxRows,
	}
}

// ValidateResult bounds a result at the storage cap. Payloads at or under
// the cap are returned unchanged.
func (g *Guard) ValidateResult(v any) Outcome {
	return g.bound(v, g.maxBytes)
}

// DisplayResult bounds a result at the stricter on-screen cap. Storage
// always keeps the ValidateResult version; this one is only rendered.
func (g *Guard) DisplayResult(v any) Outcome {
	return g.bound(v, g.displayMaxBytes)
}

func (g *Guard) bound(v any, capBytes int) Outcome {
	data, err := json.Marshal(v)
	if err != nil {
		return Outcome{Value: nil, Error: fmt.Sprintf("result is not serializable: %v", err)}
	}
	if len(data) <= capBytes {
		return Outcome{Value: v, OriginalSize: len(data), TruncatedSize: len(data)}
	}

	// Work on the generic decoded form so every result shape reduces the
	// same way regardless of its Go type.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return Outcome{Value: nil, OriginalSize: len(data), Error: fmt.Sprintf("result is not serializable: %v", err)}
	}

	reduced, how := g.reduce(generic, capBytes)
	reducedData, err := json.Marshal(reduced)
	if err != nil {
		return Outcome{Value: nil, OriginalSize: len(data), Error: fmt.Sprintf("truncated result is not serializable: %v", err)}
	}

	return Outcome{
		Value:         reduced,
		Truncated:     true,
		OriginalSize:  len(data),
		TruncatedSize: len(reducedData),
		Warning: fmt.Sprintf("result truncated from %d to %d bytes (%s)",
			len(data), len(reducedData), how),
	}
}

// reduce shrinks an oversized generic value: arrays are sliced to the row
// cap, an object's dominant array field is sliced, plain objects collapse to
// a field-count/sample-keys summary, and primitives are stringified and
// clipped.
func (g *Guard) reduce(v any, capBytes int) (reduced any, how string) {
	switch t := v.(type) {
	case []any:
		if len(t) > g.maxRows {
			return t[:g.maxRows], fmt.Sprintf("kept first %d of %d rows", g.maxRows, len(t))
		}
		// Slicing cannot shrink the payload; the rows themselves are
		// oversized, so clip the textual form instead.
		return clipText(t, capBytes), fmt.Sprintf("oversized %d-row payload clipped", len(t))

	case map[string]any:
		if key, arr := dominantArrayField(t); key != "" {
			if len(arr) > g.maxRows {
				out := make(map[string]any, len(t))
				for k, val := range t {
					out[k] = val
				}
				out[key] = arr[:g.maxRows]
				return out, fmt.Sprintf("kept first %d of %d entries of field %q", g.maxRows, len(arr), key)
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sample := keys
		if len(sample) > 10 {
			sample = sample[:10]
		}
		return map[string]any{
			"field_count": len(t),
			"sample_keys": sample,
		}, fmt.Sprintf("object with %d fields replaced by summary", len(t))

	default:
		return clipText(t, capBytes), "primitive value clipped"
	}
}

// clipText stringifies a value and clips it to roughly half the cap, never
// splitting a multibyte rune.
func clipText(v any, capBytes int) string {
	s := fmt.Sprint(v)
	limit := capBytes / 2
	if limit < 256 {
		limit = 256
	}
	if len(s) > limit {
		for limit > 0 && !utf8.RuneStart(s[limit]) {
			limit--
		}
		s = s[:limit] + "..."
	}
	return s
}

// dominantArrayField returns the largest array-valued field of an object,
// or "" when the object has none.
func dominantArrayField(m map[string]any) (string, []any) {
	var bestKey string
	var bestArr []any
	// Deterministic pick when two fields tie on length.
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if arr, ok := m[k].([]any); ok && len(arr) > len(bestArr) {
			bestKey, bestArr = k, arr
		}
	}
	return bestKey, bestArr
}

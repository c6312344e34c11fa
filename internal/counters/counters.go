package counters

import "encoding/json"

// Well-known counter keys.
const (
	// KeyEchoes counts non-deleted echoes attached to a wave.
	KeyEchoes = "echoes"
	// KeyCrew counts followers of a user.
	KeyCrew = "crew"
)

// Counts is the aggregate counter map stored on a parent document, keyed by
// interaction type.
type Counts map[string]int64

// Decode parses a persisted counters column. Malformed payloads (non-object
// JSON, arrays, missing column) normalize to an empty map instead of failing
// the enclosing transaction; individually non-numeric values are dropped.
func Decode(raw string) Counts {
	if raw == "" {
		return Counts{}
	}
	var loose map[string]json.Number
	decoded := json.Unmarshal([]byte(raw), &loose)
	if decoded != nil {
		return Counts{}
	}
	counts := make(Counts, len(loose))
	for key, value := range loose {
		parsed, err := value.Int64()
		if err != nil {
			continue
		}
		counts[key] = parsed
	}
	return counts
}

// Encode serializes counts for storage. An empty or nil map encodes as "{}".
func (c Counts) Encode() string {
	if len(c) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(c)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

// Bump adjusts one counter by delta, flooring the result at zero.
func (c Counts) Bump(key string, delta int64) {
	next := c[key] + delta
	if next < 0 {
		next = 0
	}
	c[key] = next
}

// Get returns the current value for key, zero when absent.
func (c Counts) Get(key string) int64 {
	return c[key]
}

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// GenerateKey derives a deterministic cache key from a skill name, action,
// and parameter object. Parameter key order does not affect the derived key:
// params are canonicalized with recursively sorted keys before hashing, so
// {a:1,b:2} and {b:2,a:1} produce identical keys.
func GenerateKey(skill, action string, params map[string]any) string {
	canonical := canonicalize(params)
	data, err := json.Marshal(canonical)
	if err != nil {
		// Marshal of canonicalized maps only fails on unsupported value
		// types; fall back to the formatted representation so callers still
		// get a stable key.
		data = []byte(fmt.Sprintf("%v", canonical))
	}

	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s:%s:%s", skill, action, hex.EncodeToString(sum[:16]))
}

// canonicalize converts params into a representation with deterministic
// ordering: maps become sorted key/value pair lists, slices are canonicalized
// element-wise, scalars pass through.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]any, 0, len(keys)*2)
		for _, k := range keys {
			pairs = append(pairs, k, canonicalize(val[k]))
		}
		return pairs
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = canonicalize(item)
		}
		return out
	default:
		return v
	}
}

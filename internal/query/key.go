package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a cacheable resource: the resource kind followed by the
// ordered parameter values. Keys with different parameters never collide.
type Key []any

// K builds a key.
func K(kind string, params ...any) Key {
	return append(Key{kind}, params...)
}

// Kind returns the resource kind, or "" for an empty key.
func (k Key) Kind() string {
	if len(k) == 0 {
		return ""
	}
	if s, ok := k[0].(string); ok {
		return s
	}
	return fmt.Sprint(k[0])
}

// String returns the canonical form of the key.
func (k Key) String() string {
	return "[" + strings.Join(k.parts(), ",") + "]"
}

// HasPrefix reports whether every element of prefix equals the element of k
// at the same position.
func (k Key) HasPrefix(prefix Key) bool {
	if len(prefix) > len(k) {
		return false
	}
	return hasPrefix(k.parts(), prefix.parts())
}

func (k Key) parts() []string {
	out := make([]string, len(k))
	for i, v := range k {
		out[i] = encodePart(v)
	}
	return out
}

func encodePart(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}
	return string(b)
}

func hasPrefix(parts, prefix []string) bool {
	if len(prefix) > len(parts) {
		return false
	}
	for i := range prefix {
		if parts[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Package ids generates unique identifiers for messages, reviews, workflows
// and knowledge entries, without coordination across processes.
package ids

import "github.com/google/uuid"

// New returns a new globally unique identifier.
func New() string {
	return uuid.New().String()
}

// Prefixed returns a new identifier with a readable component prefix, e.g.
// Prefixed("msg") -> "msg-3fa9c1d2-...".
func Prefixed(prefix string) string {
	return prefix + "-" + uuid.New().String()
}

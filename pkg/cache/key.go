package cache

import (
	"strings"
)

// Key identifies a cached record.
type Key struct {
	// Namespace isolates runs against different remote services sharing
	// one Redis instance (e.g. the service host). Optional.
	Namespace string

	// ID is the entity identifier the record was fetched for.
	ID string
}

// String generates a deterministic cache key string.
// Format: ingest:record:<namespace>:<id> (namespace omitted when empty).
//
// Example:
//
//	ingest:record:api.example.com:42
func (k Key) String() string {
	parts := []string{"ingest", "record"}

	if ns := strings.TrimSpace(k.Namespace); ns != "" {
		parts = append(parts, ns)
	}
	parts = append(parts, k.ID)

	return strings.Join(parts, ":")
}

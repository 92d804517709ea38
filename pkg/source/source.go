// Package source defines the record-fetching collaborator boundary: the
// Record data model, the Source interface the scheduler drives, and the
// error classification used to decide retries.
package source

import (
	"context"
	"time"
)

// Record is one enriched entity fetched from the remote service. The
// ingestion core moves records around without interpreting their content;
// Attributes carries whatever the remote returned.
type Record struct {
	// ID is the identifier the record was fetched for.
	ID string `json:"id"`

	// Name is the display name, if the remote provides one.
	Name string `json:"name,omitempty"`

	// Attributes is the remote payload, passed through opaquely.
	Attributes map[string]any `json:"attributes,omitempty"`

	// FetchedAt is when the record was retrieved.
	FetchedAt time.Time `json:"fetched_at"`
}

// Source fetches one record per identifier.
//
// A nil record with nil error means the remote has no valid data for the
// id: not an error, the caller skips the id silently. Transient failures
// are returned as a *FetchError with a retryable class.
type Source interface {
	Fetch(ctx context.Context, id, credential string) (*Record, error)
}

// Func adapts a plain function to the Source interface.
type Func func(ctx context.Context, id, credential string) (*Record, error)

// Fetch implements Source.
func (f Func) Fetch(ctx context.Context, id, credential string) (*Record, error) {
	return f(ctx, id, credential)
}

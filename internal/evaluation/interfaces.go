package evaluation

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes stable digests for cache keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces evaluation run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// BlobStore writes exported reports and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob key resolves to nothing.
var ErrNotFound = errors.New("blob not found")

// Store holds attachment bytes retrievable by opaque key. The dispatch
// worker only reads; intake uses Head to validate references and sizes.
type Store interface {
	Get(ctx context.Context, key string) (data []byte, contentType string, err error)
	Head(ctx context.Context, key string) (size int64, contentType string, err error)
	Put(ctx context.Context, key string, data []byte, contentType string) error
}

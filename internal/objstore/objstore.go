// Package objstore defines the storage surface the flush, compaction,
// checkpoint and maintenance layers write through, and the drivers
// that back it: an in-memory map for tests, a local filesystem tree
// for development, and Google Cloud Storage for production.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports a key with no stored object. Drivers wrap it in
// an AdapterError so callers can match with errors.Is.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// AdapterError wraps a driver failure with the operation and key that
// produced it.
type AdapterError struct {
	Op  string // "put", "get", "head", "list", "delete"
	Key string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("objstore: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a missing-object failure from any
// driver.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// Adapter is the storage contract. Drivers own their retry policy;
// callers never retry at this layer. Delete is idempotent: removing a
// key that does not exist is not an error.
type Adapter interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Head(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	DeleteAll(ctx context.Context, keys []string) error
}

// Config selects and parameterises a driver.
type Config struct {
	Driver          string // "memory", "fs" or "gcs"
	Root            string // fs: directory holding the object tree
	Bucket          string // gcs: bucket name
	CredentialsFile string // gcs: service account key path, optional
}

// New builds an Adapter from a string selector.
func New(ctx context.Context, cfg Config) (Adapter, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "fs":
		if cfg.Root == "" {
			return nil, errors.New("objstore: fs driver requires a root directory")
		}
		return NewFS(cfg.Root)
	case "gcs":
		if cfg.Bucket == "" {
			return nil, errors.New("objstore: gcs driver requires a bucket")
		}
		return NewGCS(ctx, cfg.Bucket, cfg.CredentialsFile)
	default:
		return nil, fmt.Errorf("objstore: unknown driver %q", cfg.Driver)
	}
}

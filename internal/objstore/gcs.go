package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCS stores objects in a Google Cloud Storage bucket. The client
// library handles retries for transient failures.
type GCS struct {
	client *storage.Client
	bucket string
}

var _ Adapter = (*GCS)(nil)

// NewGCS connects to a bucket. With an empty credentialsFile the
// client falls back to application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string) (*GCS, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("objstore: create gcs client: %w", err)
	}

	return &GCS{client: client, bucket: bucket}, nil
}

// Close releases the underlying client connections.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return &AdapterError{Op: "put", Key: key, Err: err}
	}
	// Object creation happens on Close; its error is the write result.
	if err := w.Close(); err != nil {
		return &AdapterError{Op: "put", Key: key, Err: err}
	}

	return nil
}

func (g *GCS) Get(ctx context.Context, key string) ([]byte, error) {
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, &AdapterError{Op: "get", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return nil, &AdapterError{Op: "get", Key: key, Err: err}
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &AdapterError{Op: "get", Key: key, Err: err}
	}

	return data, nil
}

func (g *GCS) Head(ctx context.Context, key string) (ObjectInfo, error) {
	attrs, err := g.client.Bucket(g.bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: ErrNotFound}
	}
	if err != nil {
		return ObjectInfo{}, &AdapterError{Op: "head", Key: key, Err: err}
	}

	return ObjectInfo{Key: key, Size: attrs.Size, LastModified: attrs.Updated}, nil
}

// List pages through the bucket under prefix. The iterator observes
// ctx between pages, which keeps long sweeps cancellable.
func (g *GCS) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	it := g.client.Bucket(g.bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var infos []ObjectInfo
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, &AdapterError{Op: "list", Key: prefix, Err: err}
		}
		infos = append(infos, ObjectInfo{Key: attrs.Name, Size: attrs.Size, LastModified: attrs.Updated})
	}

	return infos, nil
}

func (g *GCS) Delete(ctx context.Context, key string) error {
	err := g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return &AdapterError{Op: "delete", Key: key, Err: err}
	}

	return nil
}

func (g *GCS) DeleteAll(ctx context.Context, keys []string) error {
	for _, key := range keys {
		if err := g.Delete(ctx, key); err != nil {
			return err
		}
	}

	return nil
}

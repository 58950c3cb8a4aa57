package transcript

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCS reads gs://<bucket>/<prefix>/<id>.txt.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

func NewGCS(ctx context.Context, bucket, prefix string, opts ...option.ClientOption) (*GCS, error) {
	opts = append(opts, option.WithScopes(storage.ScopeReadOnly))
	c, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &GCS{client: c, bucket: bucket, prefix: prefix}, nil
}

func (g *GCS) Key(id string) string { return path.Join(g.prefix, id+".txt") }

func (g *GCS) Load(ctx context.Context, id string) (string, error) {
	key := g.Key(id)
	r, err := g.client.Bucket(g.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return "", fmt.Errorf("gs://%s/%s: %w", g.bucket, key, ErrSourceNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("open gs://%s/%s: %w", g.bucket, key, err)
	}
	defer r.Close()
	b, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read gs://%s/%s: %w", g.bucket, key, err)
	}
	return string(b), nil
}

func (g *GCS) Close() error { return g.client.Close() }

// Package dataset turns stored queue sources into the dataset shapes the
// engine accepts: path sources pass through as shared-filesystem references,
// blob sources are fetched from the blob store and inlined.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"runq/internal/queue"
	"runq/internal/services"
	"runq/internal/services/engine"
)

// BlobReader fetches uploaded payload bytes by key.
type BlobReader interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Resolver maps queue sources onto engine datasets.
type Resolver struct {
	blobs BlobReader
}

// NewResolver builds a resolver backed by the given blob store.
func NewResolver(blobs BlobReader) (*Resolver, error) {
	if blobs == nil {
		return nil, errors.New("dataset resolver requires a blob store")
	}
	return &Resolver{blobs: blobs}, nil
}

// Resolve produces the engine dataset for one stored source. Validation
// failures and missing blobs are terminal for the source; the caller counts
// them as failures and moves on.
func (r *Resolver) Resolve(ctx context.Context, src queue.Source) (engine.Dataset, error) {
	switch src.Type {
	case queue.SourcePath:
		path := strings.TrimSpace(src.Path)
		if path == "" {
			return engine.Dataset{}, services.Wrap(services.ErrValidation, "dataset", "resolve", "path source has no path", nil)
		}
		if !filepath.IsAbs(path) {
			return engine.Dataset{}, services.Wrap(services.ErrValidation, "dataset", "resolve", fmt.Sprintf("source path %q is not absolute", path), nil)
		}
		return engine.PathDataset(path), nil

	case queue.SourceBlob:
		key := strings.TrimSpace(src.Key)
		if key == "" {
			return engine.Dataset{}, services.Wrap(services.ErrValidation, "dataset", "resolve", "blob source has no key", nil)
		}
		data, err := r.blobs.Get(ctx, key)
		if err != nil {
			return engine.Dataset{}, fmt.Errorf("resolve blob source: %w", err)
		}
		name := strings.TrimSpace(src.Name)
		if name == "" {
			name = key
		}
		return engine.InlineDataset(name, data), nil

	default:
		return engine.Dataset{}, services.Wrap(services.ErrValidation, "dataset", "resolve", fmt.Sprintf("unknown source type %q", src.Type), nil)
	}
}

package queue

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BlobWriter persists uploaded payloads. Put stores the reader's bytes under
// key and returns the byte count; Delete removes a key and is a no-op when
// the key does not exist.
type BlobWriter interface {
	Put(ctx context.Context, key string, r io.Reader) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Enqueue validates a draft, persists any payload sources to blob storage,
// and inserts the resulting job at the tail of the queue. If anything fails
// after blobs were written, the written blobs are deleted again so failed
// enqueues leave no orphaned payloads behind.
func Enqueue(ctx context.Context, store *Store, blobs BlobWriter, draft Draft) (*Job, error) {
	if store == nil {
		return nil, fmt.Errorf("queue store is nil")
	}
	if err := draft.Validate(); err != nil {
		return nil, fmt.Errorf("invalid draft: %w", err)
	}

	var written []string
	rollback := func() {
		if blobs == nil {
			return
		}
		// Enqueue failures must not leak payloads even when the caller's
		// context is already cancelled.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, key := range written {
			_ = blobs.Delete(cleanupCtx, key)
		}
	}

	sources := make([]Source, 0, len(draft.Sources))
	for i, ds := range draft.Sources {
		src, err := persistDraftSource(ctx, blobs, ds)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("source %d: %w", i, err)
		}
		if src.Type == SourceBlob {
			written = append(written, src.Key)
		}
		sources = append(sources, src)
	}

	label := strings.TrimSpace(draft.Label)
	if label == "" {
		label = DeriveLabel(draft.Mode, sources)
	}

	job := &Job{
		ID:       uuid.NewString(),
		Label:    label,
		Mode:     draft.Mode,
		Strategy: strings.TrimSpace(draft.Strategy),
		Config:   draft.Config,
		Sources:  sources,
	}
	if err := store.Insert(ctx, job); err != nil {
		rollback()
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func persistDraftSource(ctx context.Context, blobs BlobWriter, ds DraftSource) (Source, error) {
	if ds.Payload != nil {
		if blobs == nil {
			return Source{}, fmt.Errorf("blob storage unavailable for payload source")
		}
		key := uuid.NewString()
		size, err := blobs.Put(ctx, key, bytes.NewReader(ds.Payload))
		if err != nil {
			return Source{}, fmt.Errorf("store payload: %w", err)
		}
		name := strings.TrimSpace(ds.Name)
		if name == "" && ds.Path != "" {
			name = filepath.Base(ds.Path)
		}
		modified := ds.LastModified
		if modified.IsZero() {
			modified = time.Now().UTC()
		}
		return Source{
			Type:         SourceBlob,
			Key:          key,
			Name:         name,
			Size:         size,
			LastModified: modified.UTC(),
		}, nil
	}

	abs, err := filepath.Abs(ds.Path)
	if err != nil {
		return Source{}, fmt.Errorf("resolve path %q: %w", ds.Path, err)
	}
	name := strings.TrimSpace(ds.Name)
	if name == "" {
		name = filepath.Base(abs)
	}
	return Source{
		Type: SourcePath,
		Path: abs,
		Name: name,
	}, nil
}

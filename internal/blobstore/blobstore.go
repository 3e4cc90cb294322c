package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sys/unix"

	"runq/internal/config"
	"runq/internal/logging"
	"runq/internal/services"
)

// partialSuffix marks in-flight uploads so interrupted writes are never
// mistaken for durable blobs.
const partialSuffix = ".partial"

// statfsFunc allows tests to stub filesystem stats.
type statfsFunc func(path string) (total uint64, free uint64, err error)

// Store persists uploaded job payloads as flat files under a single directory.
// Keys are opaque identifiers minted at enqueue time; the store never parses
// them beyond rejecting path separators.
type Store struct {
	root   string
	logger *slog.Logger
	statfs statfsFunc
}

// Stats describes current blob directory usage.
type Stats struct {
	Blobs        int    `json:"blobs"`
	TotalBytes   int64  `json:"total_bytes"`
	Partials     int    `json:"partials"`
	FreeBytes    uint64 `json:"free_bytes"`
	TotalFSBytes uint64 `json:"total_fs_bytes"`
}

// New builds a blob store rooted at the configured blob directory, creating it
// if necessary.
func New(cfg *config.Config, logger *slog.Logger) (*Store, error) {
	if cfg == nil {
		return nil, errors.New("blobstore: config is required")
	}
	return Open(cfg.Paths.BlobDir, logger)
}

// Open builds a blob store rooted at dir, creating the directory if necessary.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	root := strings.TrimSpace(dir)
	if root == "" {
		return nil, errors.New("blobstore: blob directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	store := &Store{
		root:   root,
		statfs: realStatfs,
	}
	store.SetLogger(logger)
	return store, nil
}

// SetLogger refreshes the store's logging destination.
func (s *Store) SetLogger(logger *slog.Logger) {
	if s == nil {
		return
	}
	s.logger = logging.NewComponentLogger(logger, "blobstore")
}

// Root returns the directory blobs are stored in.
func (s *Store) Root() string {
	return s.root
}

// Put streams r into a temporary file and renames it into place once the copy
// finishes, so readers only ever observe complete blobs. The byte count of the
// stored blob is returned. An existing blob under the same key is replaced.
func (s *Store) Put(ctx context.Context, key string, r io.Reader) (int64, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return 0, err
	}
	partial := path + partialSuffix

	out, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("blobstore: create partial: %w", err)
	}

	written, err := copyWithContext(ctx, out, r)
	if err != nil {
		out.Close()
		os.Remove(partial)
		return 0, fmt.Errorf("blobstore: write blob %q: %w", key, err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(partial)
		return 0, fmt.Errorf("blobstore: sync blob %q: %w", key, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("blobstore: close blob %q: %w", key, err)
	}
	if err := os.Rename(partial, path); err != nil {
		os.Remove(partial)
		return 0, fmt.Errorf("blobstore: finalize blob %q: %w", key, err)
	}

	s.logger.DebugContext(ctx, "stored blob",
		logging.String("key", key),
		logging.Int64("bytes", written),
	)
	return written, nil
}

// Open returns a reader for the blob plus its size. Missing keys surface as
// services.ErrNotFound.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	path, err := s.blobPath(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, services.Wrap(services.ErrNotFound, "blobstore", "open", fmt.Sprintf("blob %q does not exist", key), nil)
		}
		return nil, 0, fmt.Errorf("blobstore: open blob %q: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("blobstore: stat blob %q: %w", key, err)
	}
	return f, info.Size(), nil
}

// Get reads the blob's full contents into memory. Missing keys surface as
// services.ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	reader, _, err := s.Open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read blob %q: %w", key, err)
	}
	return data, nil
}

// Exists reports whether a durable blob is stored under key.
func (s *Store) Exists(ctx context.Context, key string) bool {
	path, err := s.blobPath(key)
	if err != nil {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Delete removes the blob stored under key. Deleting a missing key is not an
// error, so callers can retry cleanup safely.
func (s *Store) Delete(ctx context.Context, key string) error {
	path, err := s.blobPath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blobstore: delete blob %q: %w", key, err)
	}
	os.Remove(path + partialSuffix)
	return nil
}

// Keys lists the durable blob keys currently stored, sorted for stable output.
// Partial files are excluded.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: list blobs: %w", err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasSuffix(entry.Name(), partialSuffix) {
			continue
		}
		keys = append(keys, entry.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

// Sweep deletes every stored blob whose key is absent from referenced, along
// with any leftover partial files, and returns the removed keys. It is the
// only garbage collection the store performs; callers supply the full set of
// keys the queue still references.
func (s *Store) Sweep(ctx context.Context, referenced map[string]struct{}) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("blobstore: list blobs: %w", err)
	}

	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		name := entry.Name()
		if strings.HasSuffix(name, partialSuffix) {
			if err := os.Remove(filepath.Join(s.root, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.logger.WarnContext(ctx, "failed to remove partial blob",
					logging.String("file", name),
					logging.Error(err),
				)
			}
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}
		if err := os.Remove(filepath.Join(s.root, name)); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return removed, fmt.Errorf("blobstore: sweep blob %q: %w", name, err)
		}
		removed = append(removed, name)
	}
	if len(removed) > 0 {
		s.logger.InfoContext(ctx, "swept unreferenced blobs",
			logging.Int("removed", len(removed)),
		)
	}
	sort.Strings(removed)
	return removed, nil
}

// Stats reports blob counts, stored bytes, and filesystem capacity for the
// blob directory.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return stats, fmt.Errorf("blobstore: list blobs: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), partialSuffix) {
			stats.Partials++
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		stats.Blobs++
		stats.TotalBytes += info.Size()
	}
	total, free, err := s.statfs(s.root)
	if err != nil {
		return stats, fmt.Errorf("blobstore: statfs: %w", err)
	}
	stats.TotalFSBytes = total
	stats.FreeBytes = free
	return stats, nil
}

// blobPath maps a key to its on-disk location, rejecting keys that could
// escape the root directory.
func (s *Store) blobPath(key string) (string, error) {
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, key), nil
}

// ValidateKey rejects keys that are empty, reserved, or contain characters
// outside the safe filename set.
func ValidateKey(key string) error {
	if key == "" {
		return services.Wrap(services.ErrValidation, "blobstore", "key", "blob key is empty", nil)
	}
	if key == "." || key == ".." {
		return services.Wrap(services.ErrValidation, "blobstore", "key", fmt.Sprintf("blob key %q is reserved", key), nil)
	}
	if strings.HasSuffix(key, partialSuffix) {
		return services.Wrap(services.ErrValidation, "blobstore", "key", fmt.Sprintf("blob key %q uses a reserved suffix", key), nil)
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return services.Wrap(services.ErrValidation, "blobstore", "key", fmt.Sprintf("blob key %q contains invalid character %q", key, r), nil)
		}
	}
	return nil
}

// copyWithContext copies src to dst in chunks, checking for cancellation
// between reads so large uploads abort promptly.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 32*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, readErr := src.Read(buf)
		if n > 0 {
			wn, writeErr := dst.Write(buf[:n])
			written += int64(wn)
			if writeErr != nil {
				return written, writeErr
			}
			if wn != n {
				return written, io.ErrShortWrite
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				return written, nil
			}
			return written, readErr
		}
	}
}

func realStatfs(path string) (uint64, uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bavail * uint64(stat.Bsize)
	return total, free, nil
}

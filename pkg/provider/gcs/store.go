// Package gcs 实现基于 Google Cloud Storage 的 Provider
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"nutflow/pkg/errs"
	"nutflow/pkg/provider"
	"nutflow/pkg/types"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// Config holds configuration for Store.
type Config struct {
	Bucket string
	Prefix string // Optional key prefix (e.g., "static/")
}

// Store implements provider.Provider on top of a GCS bucket.
// The client is created on first use and released by Close.
type Store struct {
	cfg Config

	mu     sync.Mutex
	client *storage.Client
	closed bool
}

// New validates the config without touching the network.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}
	if cfg.Prefix != "" && !strings.HasSuffix(cfg.Prefix, "/") {
		cfg.Prefix += "/"
	}
	return &Store{cfg: cfg}, nil
}

// Build is the provider.Registry builder for "gcs".
func Build(_ context.Context, settings provider.Settings) (provider.Provider, error) {
	return New(Config{
		Bucket: settings.Get("bucket", ""),
		Prefix: settings.Get("prefix", ""),
	})
}

func (s *Store) bucket(ctx context.Context) (*storage.BucketHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("gcs store is closed")
	}
	if s.client == nil {
		// Uses ADC by default
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCS client: %w", err)
		}
		s.client = client
	}
	return s.client.Bucket(s.cfg.Bucket), nil
}

func (s *Store) objectPath(id string) string {
	return s.cfg.Prefix + provider.CleanID(id)
}

func (s *Store) List(ctx context.Context, pattern string) ([]string, error) {
	pat, err := provider.CompilePattern(pattern)
	if err != nil {
		return nil, errs.Lookup(pattern, err)
	}
	bkt, err := s.bucket(ctx)
	if err != nil {
		return nil, errs.Lookup(pattern, err)
	}

	if lit, ok := pat.Literal(); ok {
		found, err := s.Exists(ctx, lit)
		if err != nil {
			return nil, errs.Lookup(pattern, err)
		}
		if !found {
			return nil, nil
		}
		return []string{lit}, nil
	}

	var ids []string
	it := bkt.Objects(ctx, &storage.Query{Prefix: s.cfg.Prefix + pat.Prefix()})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errs.Lookup(pattern, fmt.Errorf("gcs list failed: %w", err))
		}
		id := strings.TrimPrefix(attrs.Name, s.cfg.Prefix)
		if pat.Match(id) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) Open(ctx context.Context, id string) (io.ReadCloser, int64, error) {
	bkt, err := s.bucket(ctx)
	if err != nil {
		return nil, 0, errs.Transport("open", id, err)
	}
	reader, err := bkt.Object(s.objectPath(id)).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, errs.NotFound("open", id)
		}
		return nil, 0, errs.Transport("open", id, fmt.Errorf("gcs get failed: %w", err))
	}
	return reader, reader.Attrs.Size, nil
}

// LastChanged uses the object generation, which changes on every overwrite.
func (s *Store) LastChanged(ctx context.Context, id string) (types.Version, error) {
	attrs, err := s.attrs(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", errs.NotFound("lastChanged", id)
		}
		return "", errs.Transport("lastChanged", id, err)
	}
	return types.Version(strconv.FormatInt(attrs.Generation, 10)), nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.attrs(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, errs.Transport("exists", id, fmt.Errorf("gcs attrs error: %w", err))
}

func (s *Store) Save(ctx context.Context, id string, r io.Reader) error {
	bkt, err := s.bucket(ctx)
	if err != nil {
		return errs.Transport("save", id, err)
	}
	w := bkt.Object(s.objectPath(id)).NewWriter(ctx)
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return errs.Transport("save", id, fmt.Errorf("gcs write failed: %w", err))
	}
	if err := w.Close(); err != nil {
		return errs.Transport("save", id, fmt.Errorf("gcs close failed: %w", err))
	}
	return nil
}

func (s *Store) attrs(ctx context.Context, id string) (*storage.ObjectAttrs, error) {
	bkt, err := s.bucket(ctx)
	if err != nil {
		return nil, err
	}
	return bkt.Object(s.objectPath(id)).Attrs(ctx)
}

// Close closes the GCS client. Safe to call when no client was ever created.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

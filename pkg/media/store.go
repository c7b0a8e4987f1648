package media

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"waingest/internal/security"
)

// Store is a content-addressed object store on the local filesystem.
// Keys are relative slash-separated paths under the store root.
type Store interface {
	// Put writes the content under key and returns the number of bytes
	// stored together with the SHA-256 hex digest of the content.
	Put(ctx context.Context, key string, r io.Reader) (int64, string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type fsStore struct {
	root string
}

// NewStore creates the store root directory if needed.
func NewStore(root string) (Store, error) {
	if root == "" {
		return nil, fmt.Errorf("store root cannot be empty")
	}
	if err := os.MkdirAll(root, 0750); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	return &fsStore{root: root}, nil
}

// DocumentKey builds a storage key for a fetched document: the first
// two digest characters shard the directory layout.
func DocumentKey(sha256Hex, ext string) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if len(sha256Hex) < 2 {
		if ext == "" {
			return sha256Hex
		}
		return sha256Hex + "." + ext
	}
	key := filepath.ToSlash(filepath.Join(sha256Hex[:2], sha256Hex))
	if ext != "" {
		key += "." + ext
	}
	return key
}

func (s *fsStore) resolve(key string) (string, error) {
	if err := security.ValidateStorageKey(key); err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Put writes atomically: content goes to a temp file first and is
// renamed into place so readers never see partial objects.
func (s *fsStore) Put(ctx context.Context, key string, r io.Reader) (int64, string, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return 0, "", fmt.Errorf("failed to create object directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return 0, "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hash), r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, "", fmt.Errorf("failed to write object: %w", err)
	}
	if ctx.Err() != nil {
		return 0, "", ctx.Err()
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return 0, "", fmt.Errorf("failed to finalize object: %w", err)
	}
	return written, fmt.Sprintf("%x", hash.Sum(nil)), nil
}

func (s *fsStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open object: %w", err)
	}
	return f, nil
}

func (s *fsStore) Exists(ctx context.Context, key string) (bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

func (s *fsStore) Delete(ctx context.Context, key string) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

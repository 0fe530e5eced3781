// Package blobstore provides implementations of the narrow blob
// storage contract: put/get/delete over opaque location handles.
package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FileStore keeps blob bytes under a root directory, fanning out by
// location prefix. Locations are opaque to callers.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("blob store root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob store root: %w", err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Put(ctx context.Context, r io.Reader) (string, int64, string, error) {
	location := uuid.NewString()
	path := s.path(location)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", 0, "", err
	}

	tmp, err := os.CreateTemp(s.root, "upload-*")
	if err != nil {
		return "", 0, "", err
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), &contextReader{ctx: ctx, r: r})
	closeErr := tmp.Close()
	if err != nil {
		return "", 0, "", err
	}
	if closeErr != nil {
		return "", 0, "", closeErr
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", 0, "", err
	}
	return location, size, hex.EncodeToString(hasher.Sum(nil)), nil
}

func (s *FileStore) Get(ctx context.Context, location string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(location))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob %s: %w", location, os.ErrNotExist)
		}
		return nil, err
	}
	return f, nil
}

// Delete removes the stored bytes. A missing blob is not an error:
// the delete contract is Ok|NotFound and retried deletes must stay
// idempotent.
func (s *FileStore) Delete(ctx context.Context, location string) error {
	err := os.Remove(s.path(location))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *FileStore) path(location string) string {
	prefix := "00"
	if len(location) >= 2 {
		prefix = location[:2]
	}
	return filepath.Join(s.root, prefix, location)
}

// contextReader aborts a streaming copy when the caller cancels.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

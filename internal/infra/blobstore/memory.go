package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore holds blob bytes in memory. It serves tests and the
// no-db development mode.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte

	// FailDeletes makes the next N Delete calls fail, for exercising
	// the bounded-retry path.
	FailDeletes int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, r io.Reader) (string, int64, string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", 0, "", err
	}
	sum := sha256.Sum256(data)
	location := uuid.NewString()

	s.mu.Lock()
	s.blobs[location] = data
	s.mu.Unlock()
	return location, int64(len(data)), hex.EncodeToString(sum[:]), nil
}

func (s *MemoryStore) Get(ctx context.Context, location string) (io.ReadCloser, error) {
	s.mu.Lock()
	data, ok := s.blobs[location]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("blob %s not found", location)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailDeletes > 0 {
		s.FailDeletes--
		return fmt.Errorf("simulated storage outage")
	}
	delete(s.blobs, location)
	return nil
}

// Len reports the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// Package blob uploads asset metadata and images to content storage and returns their URIs.
package blob

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"
)

var ErrNotFound = errors.New("blob not found")

// Store uploads bytes and returns a URI that resolves to them.
type Store interface {
	Upload(ctx context.Context, data []byte) (string, error)
}

// Memory is a content-addressed in-process store for development and tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	fail  error
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// FailWith makes every following upload return err. A nil err clears it.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

func (m *Memory) Upload(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return "", m.fail
	}
	sum := sha256.Sum256(data)
	id := fmt.Sprintf("%x", sum[:])
	m.blobs[id] = append([]byte(nil), data...)
	return "mem://" + id, nil
}

// Fetch returns the bytes stored under uri.
func (m *Memory) Fetch(uri string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	const prefix = "mem://"
	if len(uri) <= len(prefix) || uri[:len(prefix)] != prefix {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	data, ok := m.blobs[uri[len(prefix):]]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return append([]byte(nil), data...), nil
}

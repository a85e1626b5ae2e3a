// Package chunkstore defines the optional delta-assisted transport
// spec.md §4.3/§9 allows behind a feature flag: instead of downloading a
// whole image, a handler that supports it can ask a Store for just the
// chunks the image's Adaptive manifest field advertises and the local
// slot doesn't already have. No concrete Store is wired in: nothing in
// the retrieved example pack provides a casync/desync-style
// content-addressed chunk store, so this stays an interface with a
// trivial in-memory implementation for tests, and production use means
// plugging in whatever delta tool the device image ships (see
// SPEC_FULL.md's DOMAIN STACK section).
package chunkstore

import (
	"context"

	"github.com/mvo5/slotupdate/errs"
)

// Store fetches content-addressed chunks by digest.
type Store interface {
	// HasChunk reports whether digest is available without fetching it.
	HasChunk(ctx context.Context, digest string) (bool, error)
	// FetchChunk returns the chunk's bytes.
	FetchChunk(ctx context.Context, digest string) ([]byte, error)
}

// MemStore is a Store backed by an in-memory map, useful for tests and
// as a reference implementation of the interface contract.
type MemStore struct {
	chunks map[string][]byte
}

// NewMemStore returns a Store pre-populated with chunks.
func NewMemStore(chunks map[string][]byte) *MemStore {
	if chunks == nil {
		chunks = map[string][]byte{}
	}
	return &MemStore{chunks: chunks}
}

func (m *MemStore) HasChunk(ctx context.Context, digest string) (bool, error) {
	_, ok := m.chunks[digest]
	return ok, nil
}

func (m *MemStore) FetchChunk(ctx context.Context, digest string) ([]byte, error) {
	c, ok := m.chunks[digest]
	if !ok {
		return nil, errs.New(errs.BundlePayload, "chunk %s not found", digest)
	}
	return c, nil
}

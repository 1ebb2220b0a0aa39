package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"esign-platform/internal/document"
)

// MemoryRepo is a simple in-memory reporting repository for tests and early
// development. It enforces owner isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Documents []document.Document

	// Signers maps document ID to that document's signers.
	Signers map[string][]document.Signer
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{Signers: map[string][]document.Signer{}} }

func (r *MemoryRepo) ListDocuments(ctx context.Context, ownerID string, from, to time.Time) ([]document.Document, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]document.Document, 0)
	for _, d := range r.Documents {
		if d.OwnerID != ownerID {
			continue
		}
		if !d.CreatedAt.IsZero() {
			if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *MemoryRepo) ListSigners(ctx context.Context, ownerID string, from, to time.Time) ([]document.Signer, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]document.Signer, 0)
	for _, d := range r.Documents {
		if d.OwnerID != ownerID {
			continue
		}
		if !d.CreatedAt.IsZero() {
			if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
				continue
			}
		}
		out = append(out, r.Signers[d.ID]...)
	}
	return out, nil
}

package reporting

import (
	"context"
	"errors"
	"time"

	"esign-platform/internal/document"
	"esign-platform/internal/store"
)

// StoreRepo serves reporting reads from the document store, paging through
// the owner's documents.

type StoreRepo struct {
	store store.Store
}

func NewStoreRepo(st store.Store) *StoreRepo { return &StoreRepo{store: st} }

const repoPageSize = 100

func (r *StoreRepo) ListDocuments(ctx context.Context, ownerID string, from, to time.Time) ([]document.Document, error) {
	if ownerID == "" {
		return nil, errors.New("owner_id required")
	}
	out := make([]document.Document, 0)
	for offset := 0; ; offset += repoPageSize {
		page, _, err := r.store.ListByOwner(ctx, ownerID, repoPageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, d := range page {
			if d.CreatedAt.Before(from) || !d.CreatedAt.Before(to) {
				continue
			}
			out = append(out, d)
		}
		if len(page) < repoPageSize {
			return out, nil
		}
	}
}

func (r *StoreRepo) ListSigners(ctx context.Context, ownerID string, from, to time.Time) ([]document.Signer, error) {
	docs, err := r.ListDocuments(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	out := make([]document.Signer, 0)
	for _, d := range docs {
		signers, err := r.store.Signers(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, signers...)
	}
	return out, nil
}

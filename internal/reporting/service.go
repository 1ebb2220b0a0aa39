package reporting

import (
	"context"
	"errors"
	"time"

	"esign-platform/internal/document"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// IMPORTANT:
// - Methods must enforce owner filtering.
// - Reads are best-effort snapshots; reporting never takes the per-document
//   lock and never mutates.

type Repository interface {
	ListDocuments(ctx context.Context, ownerID string, from, to time.Time) ([]document.Document, error)

	// ListSigners returns the signers of every owner document created in
	// the range.
	ListSigners(ctx context.Context, ownerID string, from, to time.Time) ([]document.Signer, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) DocumentsSummary(ctx context.Context, req DocumentsSummaryRequest) (DocumentsSummary, error) {
	if req.OwnerID == "" {
		return DocumentsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return DocumentsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return DocumentsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListDocuments(ctx, req.OwnerID, req.Range.From, req.Range.To)
	if err != nil {
		return DocumentsSummary{}, err
	}

	out := DocumentsSummary{OwnerID: req.OwnerID}
	completionSeconds := 0
	for _, d := range rows {
		out.TotalDocuments++
		if d.SelfSignOnly {
			out.SelfSignDocuments++
		}
		switch d.Status {
		case document.StatusDraft:
			out.DraftDocuments++
		case document.StatusPending:
			out.PendingDocuments++
		case document.StatusCompleted:
			out.CompletedDocuments++
			if d.CompletedAt != nil {
				completionSeconds += int(d.CompletedAt.Sub(d.CreatedAt) / time.Second)
			}
		case document.StatusVoided:
			out.VoidedDocuments++
		case document.StatusExpired:
			out.ExpiredDocuments++
		}
	}

	sent := out.TotalDocuments - out.DraftDocuments
	if sent > 0 {
		out.CompletionRate = float64(out.CompletedDocuments) / float64(sent)
	}
	if out.CompletedDocuments > 0 {
		out.AverageCompletionSeconds = completionSeconds / out.CompletedDocuments
	}
	return out, nil
}

func (s *Service) SignerFunnel(ctx context.Context, req SignerFunnelRequest) (SignerFunnel, error) {
	if req.OwnerID == "" {
		return SignerFunnel{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return SignerFunnel{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SignerFunnel{}, errors.New("reporting: repository not configured")
	}

	signers, err := s.repo.ListSigners(ctx, req.OwnerID, req.Range.From, req.Range.To)
	if err != nil {
		return SignerFunnel{}, err
	}

	out := SignerFunnel{OwnerID: req.OwnerID}
	for _, sg := range signers {
		out.Invited++
		if sg.ViewedAt != nil {
			out.Viewed++
		}
		switch sg.Status {
		case document.SignerStatusSigned:
			out.Signed++
		case document.SignerStatusDeclined:
			out.Declined++
		}
	}

	if out.Invited > 0 {
		out.ViewRate = float64(out.Viewed) / float64(out.Invited)
		out.SignRate = float64(out.Signed) / float64(out.Invited)
	}
	return out, nil
}

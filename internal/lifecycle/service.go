// Package lifecycle implements the owner-facing document state machine:
// draft assembly, sending, voiding, expiry, and the completion decision
// that seals a document and generates its certificate.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"esign-platform/internal/certificate"
	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/internal/metrics"
	"esign-platform/internal/notify"
	"esign-platform/internal/storage"
	"esign-platform/internal/store"
)

// Service provides document lifecycle operations.
//
// Invariants:
// - Every state transition is validated against the document and signer
//   state machines before it is written.
// - Every transition commits together with its audit entry, in one store
//   transaction.
// - Completion and certificate generation are a single atomic unit: a
//   document is never completed without its certificate, and the
//   certificate is written exactly once.
type Service struct {
	store  store.Store
	blobs  storage.Blobs
	notify notify.Dispatcher
	log    *slog.Logger

	publicURL string

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewService(st store.Store, blobs storage.Blobs, dispatcher notify.Dispatcher, log *slog.Logger, publicURL string) *Service {
	return &Service{
		store:     st,
		blobs:     blobs,
		notify:    dispatcher,
		log:       log,
		publicURL: strings.TrimRight(publicURL, "/"),
		clock:     time.Now,
	}
}

// Owner is the authenticated identity acting on its own documents. Email
// and name are captured on the document at creation so self-sign flows and
// certificates work without a user directory.
type Owner struct {
	ID    string
	Email string
	Name  string
}

// now truncates to microseconds so timestamps survive a Postgres round trip
// unchanged; hashed serializations depend on that.
func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

func requireOwner(doc document.Document, ownerID string) error {
	if ownerID == "" || doc.OwnerID != ownerID {
		return fmt.Errorf("%w: document %s", document.ErrForbidden, doc.ID)
	}
	return nil
}

// Record builds an audit entry and appends it through the transaction,
// which seals it against the chain tail. The signing service shares it.
func Record(tx store.Tx, documentID string, action ledger.Action, actor ledger.Actor, details ledger.Details, at time.Time) (ledger.Entry, error) {
	e, err := ledger.New(documentID, action, actor, details, at)
	if err != nil {
		return ledger.Entry{}, err
	}
	sealed, err := tx.Append(e)
	if err != nil {
		return ledger.Entry{}, err
	}
	metrics.LedgerEntriesTotal.Inc()
	return sealed, nil
}

// FinalizeIfComplete applies the completion rule inside an open
// transaction: a pending document with at least one signer completes when
// every signer has signed and none declined. On completion it transitions
// the document, appends the completion entry, builds and stores the
// certificate, and appends the certificate entry, all in the caller's
// transaction. Losing a completion race is a no-op, not an error.
//
// Certificate building verifies the whole chain first; a broken chain
// aborts the transaction and nothing completes.
func FinalizeIfComplete(tx store.Tx, actor ledger.Actor, at time.Time) (bool, error) {
	doc := tx.Document()
	if doc.Status != document.StatusPending {
		return false, nil
	}
	signers, err := tx.Signers()
	if err != nil {
		return false, err
	}
	if len(signers) == 0 {
		return false, nil
	}
	signed := 0
	for _, sg := range signers {
		switch sg.Status {
		case document.SignerStatusSigned:
			signed++
		case document.SignerStatusDeclined:
			return false, nil
		}
	}
	if signed != len(signers) {
		return false, nil
	}

	if !document.ValidTransition(doc.Status, document.StatusCompleted) {
		return false, fmt.Errorf("%w: %s -> completed", document.ErrIllegalTransition, doc.Status)
	}
	completedAt := at
	doc.Status = document.StatusCompleted
	doc.CompletedAt = &completedAt
	doc.CompletedSigners = signed
	doc.UpdatedAt = at
	if err := tx.SetDocument(doc); err != nil {
		return false, err
	}

	if _, err := Record(tx, doc.ID, ledger.ActionDocumentCompleted, actor, ledger.DocumentCompletedDetails{
		TotalSigners:     doc.TotalSigners,
		CompletedSigners: signed,
	}, at); err != nil {
		return false, err
	}

	entries, err := tx.Audit()
	if err != nil {
		return false, err
	}
	sigs, err := tx.Signatures()
	if err != nil {
		return false, err
	}
	_, rec, err := certificate.Build(tx.Document(), signers, sigs, entries)
	if err != nil {
		return false, err
	}
	if err := tx.SetCertificate(rec); err != nil {
		return false, err
	}
	if _, err := Record(tx, doc.ID, ledger.ActionCertificateGenerated, ledger.Actor{}, ledger.CertificateGeneratedDetails{
		CertificateHash: rec.CertificateHash,
	}, at); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireIfOverdue lazily expires a pending document whose deadline passed,
// inside an open transaction. Signing-surface operations call it before
// acting so an overdue document rejects signers even between sweeps.
func ExpireIfOverdue(tx store.Tx, at time.Time) (bool, error) {
	doc := tx.Document()
	if doc.Status != document.StatusPending || doc.ExpiresAt == nil || !doc.ExpiresAt.Before(at) {
		return false, nil
	}
	if !document.ValidTransition(doc.Status, document.StatusExpired) {
		return false, fmt.Errorf("%w: %s -> expired", document.ErrIllegalTransition, doc.Status)
	}
	doc.Status = document.StatusExpired
	doc.UpdatedAt = at
	if err := tx.SetDocument(doc); err != nil {
		return false, err
	}
	if _, err := Record(tx, doc.ID, ledger.ActionDocumentExpired, ledger.Actor{}, ledger.DocumentExpiredDetails{
		ExpiredAt: *doc.ExpiresAt,
	}, at); err != nil {
		return false, err
	}
	return true, nil
}

// ExpireOverdue transitions every overdue pending document. The API server
// runs it on a ticker; each document is expired in its own transaction so
// one failure does not stall the sweep.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	now := s.now()
	ids, err := s.store.PendingExpiredIDs(ctx, now, 100)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		err := s.store.Update(ctx, id, func(tx store.Tx) error {
			did, err := ExpireIfOverdue(tx, now)
			if err != nil {
				return err
			}
			if !did {
				return errSkipped
			}
			return nil
		})
		switch {
		case err == nil:
			expired++
			metrics.DocumentsExpiredTotal.Inc()
		case errors.Is(err, errSkipped):
			// Raced with a signer or a void; nothing to do.
		default:
			s.log.ErrorContext(ctx, "expiry sweep failed for document", "document_id", id, "error", err)
		}
	}
	if expired > 0 {
		s.log.InfoContext(ctx, "expired overdue documents", "count", expired)
	}
	return expired, nil
}

// errSkipped aborts a sweep transaction that found nothing to do.
var errSkipped = errors.New("skipped")

func (s *Service) signingURL(token string) string {
	return s.publicURL + "/sign/" + token
}

func (s *Service) dispatchSigningRequests(reqs []notify.SigningRequest) {
	for _, r := range reqs {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.notify.SigningRequest(ctx, r); err != nil {
			s.log.Error("signing request dispatch failed",
				"recipient", r.RecipientEmail, "document_id", r.DocumentID, "error", err)
		}
		cancel()
	}
}

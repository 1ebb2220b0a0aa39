package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"esign-platform/internal/certificate"
	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/internal/metrics"
	"esign-platform/internal/store"
)

// Certificate returns the completion certificate for a completed document.
// The stored record is authoritative; if none exists (documents completed
// before certificates were recorded), one is generated and persisted. Because
// the body is pinned to the completion time and the trail is cut at the
// completion entry, a backfilled certificate carries the same bytes a
// certificate generated at completion would have.
func (s *Service) Certificate(ctx context.Context, ownerID, documentID string) (certificate.Certificate, certificate.Record, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return certificate.Certificate{}, certificate.Record{}, err
	}
	if err := requireOwner(doc, ownerID); err != nil {
		return certificate.Certificate{}, certificate.Record{}, err
	}
	if doc.Status != document.StatusCompleted {
		return certificate.Certificate{}, certificate.Record{},
			fmt.Errorf("%w: certificate requires a completed document, status is %s", document.ErrIllegalTransition, doc.Status)
	}

	rec, err := s.store.Certificate(ctx, documentID)
	switch {
	case err == nil:
		cert, err := certificate.Decode(rec)
		if err != nil {
			return certificate.Certificate{}, certificate.Record{}, err
		}
		return cert, rec, nil
	case errors.Is(err, store.ErrNotFound):
		return s.backfillCertificate(ctx, documentID)
	default:
		return certificate.Certificate{}, certificate.Record{}, err
	}
}

func (s *Service) backfillCertificate(ctx context.Context, documentID string) (certificate.Certificate, certificate.Record, error) {
	now := s.now()
	var (
		cert      certificate.Certificate
		rec       certificate.Record
		generated bool
	)
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		generated = false
		existing, found, err := tx.Certificate()
		if err != nil {
			return err
		}
		if found {
			// Another request generated it first.
			decoded, err := certificate.Decode(existing)
			if err != nil {
				return err
			}
			cert, rec = decoded, existing
			return nil
		}

		doc := tx.Document()
		if doc.Status != document.StatusCompleted {
			return fmt.Errorf("%w: certificate requires a completed document, status is %s", document.ErrIllegalTransition, doc.Status)
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		sigs, err := tx.Signatures()
		if err != nil {
			return err
		}
		entries, err := tx.Audit()
		if err != nil {
			return err
		}
		built, record, err := certificate.Build(doc, signers, sigs, entries)
		if err != nil {
			if errors.Is(err, ledger.ErrIntegrity) {
				metrics.LedgerIntegrityFailuresTotal.Inc()
				s.log.ErrorContext(ctx, "audit chain integrity violation during certificate generation",
					"document_id", documentID)
			}
			return err
		}
		if err := tx.SetCertificate(record); err != nil {
			return err
		}
		if _, err := Record(tx, doc.ID, ledger.ActionCertificateGenerated, ledger.Actor{}, ledger.CertificateGeneratedDetails{
			CertificateHash: record.CertificateHash,
		}, now); err != nil {
			return err
		}
		cert, rec = built, record
		generated = true
		return nil
	})
	if err != nil {
		return certificate.Certificate{}, certificate.Record{}, err
	}
	if generated {
		metrics.CertificatesGeneratedTotal.Inc()
		s.log.InfoContext(ctx, "certificate backfilled",
			"document_id", documentID, "certificate_hash", rec.CertificateHash)
	}
	return cert, rec, nil
}

// CertificateCheck is the outcome of re-deriving a certificate from the
// live document state and comparing it against the stored record.
type CertificateCheck struct {
	StoredHash     string `json:"stored_hash"`
	RecomputedHash string `json:"recomputed_hash,omitempty"`
	Match          bool   `json:"match"`
	RecordIntact   bool   `json:"record_intact"`
	Reason         string `json:"reason,omitempty"`
}

// VerifyCertificate recomputes the certificate from current document state
// and reports whether it still matches the stored record. A mismatch means
// the document, its signatures, or its audit trail changed after completion.
func (s *Service) VerifyCertificate(ctx context.Context, ownerID, documentID string) (CertificateCheck, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return CertificateCheck{}, err
	}
	if err := requireOwner(doc, ownerID); err != nil {
		return CertificateCheck{}, err
	}
	rec, err := s.store.Certificate(ctx, documentID)
	if err != nil {
		return CertificateCheck{}, err
	}

	check := CertificateCheck{StoredHash: rec.CertificateHash}
	check.RecordIntact = certificate.VerifyRecord(rec) == nil
	if !check.RecordIntact {
		check.Reason = "stored certificate record does not match its own hash"
	}

	signers, err := s.store.Signers(ctx, documentID)
	if err != nil {
		return CertificateCheck{}, err
	}
	sigs, err := s.store.Signatures(ctx, documentID)
	if err != nil {
		return CertificateCheck{}, err
	}
	entries, err := s.store.Audit(ctx, documentID)
	if err != nil {
		return CertificateCheck{}, err
	}
	_, recomputed, err := certificate.Build(doc, signers, sigs, entries)
	if err != nil {
		if errors.Is(err, ledger.ErrIntegrity) {
			metrics.LedgerIntegrityFailuresTotal.Inc()
			s.log.ErrorContext(ctx, "audit chain integrity violation during certificate verification",
				"document_id", documentID)
			check.Match = false
			if check.Reason == "" {
				check.Reason = "audit trail failed integrity verification"
			}
			return check, nil
		}
		return CertificateCheck{}, err
	}
	check.RecomputedHash = recomputed.CertificateHash
	check.Match = check.RecordIntact && recomputed.CertificateHash == rec.CertificateHash
	if check.Reason == "" && !check.Match {
		check.Reason = "recomputed certificate differs from the stored record"
	}
	return check, nil
}

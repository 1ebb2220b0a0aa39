package lifecycle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/internal/metrics"
	"esign-platform/internal/notify"
	"esign-platform/internal/store"

	"github.com/google/uuid"
)

type CreateDocumentInput struct {
	Title             string
	Filename          string
	Data              []byte
	SelfSignOnly      bool
	SequentialSigning bool
	ExpiresAt         *time.Time
}

func (s *Service) CreateDocument(ctx context.Context, owner Owner, in CreateDocumentInput, actor ledger.Actor) (document.Document, error) {
	title := strings.TrimSpace(in.Title)
	if owner.ID == "" {
		return document.Document{}, fmt.Errorf("%w: owner required", document.ErrValidation)
	}
	if title == "" {
		return document.Document{}, fmt.Errorf("%w: title required", document.ErrValidation)
	}
	if len(in.Data) == 0 {
		return document.Document{}, fmt.Errorf("%w: document file required", document.ErrValidation)
	}
	now := s.now()
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		return document.Document{}, fmt.Errorf("%w: expiry must be in the future", document.ErrValidation)
	}

	id := uuid.NewString()
	path, err := s.blobs.Save(ctx, id, in.Filename, in.Data)
	if err != nil {
		return document.Document{}, err
	}

	doc := document.Document{
		ID:                id,
		OwnerID:           owner.ID,
		OwnerEmail:        owner.Email,
		OwnerName:         owner.Name,
		Title:             title,
		Filename:          in.Filename,
		StoragePath:       path,
		ContentHash:       ledger.HashHex(in.Data),
		SizeBytes:         int64(len(in.Data)),
		Status:            document.StatusDraft,
		SelfSignOnly:      in.SelfSignOnly,
		SequentialSigning: in.SequentialSigning,
		ExpiresAt:         in.ExpiresAt,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.store.Create(ctx, doc, func(tx store.Tx) error {
		_, err := Record(tx, id, ledger.ActionDocumentCreated, actor, ledger.DocumentCreatedDetails{
			Title:       title,
			Filename:    in.Filename,
			ContentHash: doc.ContentHash,
			SizeBytes:   doc.SizeBytes,
		}, now)
		return err
	})
	if err != nil {
		// The row never existed; drop the orphaned blob.
		if derr := s.blobs.Delete(ctx, path); derr != nil {
			s.log.ErrorContext(ctx, "orphaned blob cleanup failed", "document_id", id, "error", derr)
		}
		return document.Document{}, err
	}

	metrics.DocumentsCreatedTotal.Inc()
	s.log.InfoContext(ctx, "document created", "document_id", id, "owner_id", owner.ID, "self_sign", in.SelfSignOnly)
	return doc, nil
}

func (s *Service) ListDocuments(ctx context.Context, ownerID string, limit, offset int) ([]document.Document, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	return s.store.ListByOwner(ctx, ownerID, limit, offset)
}

// Bundle is a document with its structure, as the owner sees it.
type Bundle struct {
	Document document.Document `json:"document"`
	Signers  []document.Signer `json:"signers"`
	Fields   []document.Field  `json:"fields"`
}

func (s *Service) GetDocument(ctx context.Context, ownerID, documentID string) (Bundle, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return Bundle{}, err
	}
	if err := requireOwner(doc, ownerID); err != nil {
		return Bundle{}, err
	}
	signers, err := s.store.Signers(ctx, documentID)
	if err != nil {
		return Bundle{}, err
	}
	fields, err := s.store.Fields(ctx, documentID)
	if err != nil {
		return Bundle{}, err
	}
	return Bundle{Document: doc, Signers: signers, Fields: fields}, nil
}

func (s *Service) UpdateTitle(ctx context.Context, ownerID, documentID, title string, actor ledger.Actor) (document.Document, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return document.Document{}, fmt.Errorf("%w: title required", document.ErrValidation)
	}
	var out document.Document
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: title is frozen once the document leaves draft", document.ErrValidation)
		}
		doc.Title = title
		doc.UpdatedAt = s.now()
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		out = doc
		return nil
	})
	return out, err
}

// ReplaceFile swaps the draft's binary for a new upload. The content hash
// is recomputed and the replacement is recorded on the chain.
func (s *Service) ReplaceFile(ctx context.Context, ownerID, documentID, filename string, data []byte, actor ledger.Actor) (document.Document, error) {
	if len(data) == 0 {
		return document.Document{}, fmt.Errorf("%w: document file required", document.ErrValidation)
	}
	now := s.now()

	path, err := s.blobs.Save(ctx, documentID, filename, data)
	if err != nil {
		return document.Document{}, err
	}

	var out document.Document
	var oldPath string
	err = s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: the file is frozen once the document leaves draft", document.ErrValidation)
		}
		oldPath = doc.StoragePath
		doc.Filename = filename
		doc.StoragePath = path
		doc.ContentHash = ledger.HashHex(data)
		doc.SizeBytes = int64(len(data))
		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		if _, err := Record(tx, documentID, ledger.ActionDocumentUploaded, actor, ledger.DocumentUploadedDetails{
			Filename:    filename,
			ContentHash: doc.ContentHash,
			SizeBytes:   doc.SizeBytes,
		}, now); err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		if derr := s.blobs.Delete(ctx, path); derr != nil {
			s.log.ErrorContext(ctx, "orphaned blob cleanup failed", "document_id", documentID, "error", derr)
		}
		return document.Document{}, err
	}

	if oldPath != "" && oldPath != path {
		if derr := s.blobs.Delete(ctx, oldPath); derr != nil {
			s.log.WarnContext(ctx, "stale blob cleanup failed", "document_id", documentID, "error", derr)
		}
	}
	return out, nil
}

// DeleteDraft permanently removes a draft, its blob, and its chain. Only
// drafts can be deleted; anything sent is history and must be voided
// instead.
func (s *Service) DeleteDraft(ctx context.Context, ownerID, documentID string) error {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if err := requireOwner(doc, ownerID); err != nil {
		return err
	}
	if doc.Status != document.StatusDraft {
		return fmt.Errorf("%w: only drafts can be deleted", document.ErrIllegalTransition)
	}
	if err := s.store.DeleteDocument(ctx, documentID); err != nil {
		return err
	}
	if doc.StoragePath != "" {
		if derr := s.blobs.Delete(ctx, doc.StoragePath); derr != nil {
			s.log.WarnContext(ctx, "blob cleanup failed", "document_id", documentID, "error", derr)
		}
	}
	s.log.InfoContext(ctx, "draft deleted", "document_id", documentID, "owner_id", ownerID)
	return nil
}

// SignerLink is returned to the owner after send for self-sign documents,
// where the owner is the signer and no invitation is mailed.
type SignerLink struct {
	SignerID string `json:"signer_id"`
	Email    string `json:"email"`
	URL      string `json:"url"`
}

type SendResult struct {
	Document document.Document `json:"document"`
	Links    []SignerLink      `json:"links,omitempty"`
}

// Send moves a draft to pending. For regular documents every signer is
// marked sent and invitations are dispatched after commit; for self-sign
// documents an implicit signer is materialized from the owner identity and
// its signing link is returned instead of mailed.
func (s *Service) Send(ctx context.Context, ownerID, documentID string, actor ledger.Actor) (SendResult, error) {
	now := s.now()
	var out SendResult
	var requests []notify.SigningRequest

	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		requests = requests[:0]
		out = SendResult{}

		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: only drafts can be sent (status %s)", document.ErrIllegalTransition, doc.Status)
		}

		signers, err := tx.Signers()
		if err != nil {
			return err
		}

		if doc.SelfSignOnly {
			implicit := document.Signer{
				ID:          uuid.NewString(),
				DocumentID:  doc.ID,
				Email:       doc.OwnerEmail,
				Name:        ownerDisplayName(doc),
				Status:      document.SignerStatusSent,
				AccessToken: document.NewAccessToken(),
				Implicit:    true,
				CreatedAt:   now,
			}
			if err := tx.AddSigner(implicit); err != nil {
				return err
			}
			if _, err := Record(tx, doc.ID, ledger.ActionSignerAdded, actor, ledger.SignerAddedDetails{
				Email: implicit.Email,
				Name:  implicit.Name,
			}, now); err != nil {
				return err
			}
			doc.TotalSigners = 1
			out.Links = append(out.Links, SignerLink{
				SignerID: implicit.ID,
				Email:    implicit.Email,
				URL:      s.signingURL(implicit.AccessToken),
			})
		} else {
			if len(signers) == 0 {
				return fmt.Errorf("%w: at least one signer is required before sending", document.ErrValidation)
			}
			for _, sg := range signers {
				if !document.ValidSignerTransition(sg.Status, document.SignerStatusSent) {
					return fmt.Errorf("%w: signer %s is %s", document.ErrIllegalTransition, sg.ID, sg.Status)
				}
				sentAt := now
				sg.Status = document.SignerStatusSent
				sg.EmailSentAt = &sentAt
				if err := tx.SetSigner(sg); err != nil {
					return err
				}
				if _, err := Record(tx, doc.ID, ledger.ActionSignerEmailSent, actor, ledger.SignerEmailSentDetails{
					Email: sg.Email,
				}, now); err != nil {
					return err
				}
				requests = append(requests, notify.SigningRequest{
					RecipientEmail: sg.Email,
					RecipientName:  sg.Name,
					DocumentID:     doc.ID,
					DocumentTitle:  doc.Title,
					SenderName:     ownerDisplayName(doc),
					SigningURL:     s.signingURL(sg.AccessToken),
				})
			}
			doc.TotalSigners = len(signers)
		}

		doc.Status = document.StatusPending
		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		if _, err := Record(tx, doc.ID, ledger.ActionDocumentSent, actor, ledger.DocumentSentDetails{
			SignerCount: doc.TotalSigners,
			SelfSign:    doc.SelfSignOnly,
		}, now); err != nil {
			return err
		}
		out.Document = doc
		return nil
	})
	if err != nil {
		return SendResult{}, err
	}

	metrics.DocumentsSentTotal.Inc()
	if len(requests) > 0 {
		go s.dispatchSigningRequests(requests)
	}
	s.log.InfoContext(ctx, "document sent", "document_id", documentID, "signers", out.Document.TotalSigners, "self_sign", out.Document.SelfSignOnly)
	return out, nil
}

// Void terminates a pending document. Drafts cannot be voided (delete them
// instead) and terminal documents stay as they are.
func (s *Service) Void(ctx context.Context, ownerID, documentID, reason string, actor ledger.Actor) (document.Document, error) {
	now := s.now()
	reason = strings.TrimSpace(reason)

	var out document.Document
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if !document.ValidTransition(doc.Status, document.StatusVoided) {
			return fmt.Errorf("%w: cannot void a %s document", document.ErrIllegalTransition, doc.Status)
		}
		voidedAt := now
		doc.Status = document.StatusVoided
		doc.VoidedAt = &voidedAt
		doc.VoidReason = reason
		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		if _, err := Record(tx, doc.ID, ledger.ActionDocumentVoided, actor, ledger.DocumentVoidedDetails{
			Reason: reason,
		}, now); err != nil {
			return err
		}
		out = doc
		return nil
	})
	if err != nil {
		return document.Document{}, err
	}

	metrics.DocumentsVoidedTotal.Inc()
	s.log.InfoContext(ctx, "document voided", "document_id", documentID, "reason", reason)
	return out, nil
}

type DownloadResult struct {
	Filename string
	Data     []byte
}

// Download returns the document binary to its owner and records the access
// on the chain. Terminal documents stay downloadable; the append is the
// one mutation terminal states still accept.
func (s *Service) Download(ctx context.Context, ownerID, documentID string, actor ledger.Actor) (DownloadResult, error) {
	var doc document.Document
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc = tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		_, err := Record(tx, documentID, ledger.ActionDocumentDownloaded, actor, nil, s.now())
		return err
	})
	if err != nil {
		return DownloadResult{}, err
	}

	data, err := s.blobs.Load(ctx, doc.StoragePath)
	if err != nil {
		return DownloadResult{}, err
	}
	return DownloadResult{Filename: doc.Filename, Data: data}, nil
}

// AuditTrail returns the full chain for an owner's document.
func (s *Service) AuditTrail(ctx context.Context, ownerID, documentID string) ([]ledger.Entry, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(doc, ownerID); err != nil {
		return nil, err
	}
	return s.store.Audit(ctx, documentID)
}

// VerifyAudit recomputes the owner's document chain end to end. A failed
// report is returned, not an error: callers decide how loudly to alarm,
// the service only counts and logs it.
func (s *Service) VerifyAudit(ctx context.Context, ownerID, documentID string) (ledger.Report, error) {
	doc, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return ledger.Report{}, err
	}
	if err := requireOwner(doc, ownerID); err != nil {
		return ledger.Report{}, err
	}
	entries, err := s.store.Audit(ctx, documentID)
	if err != nil {
		return ledger.Report{}, err
	}
	report := ledger.Verify(entries)
	if !report.Valid {
		metrics.LedgerIntegrityFailuresTotal.Inc()
		s.log.ErrorContext(ctx, "audit chain integrity violation",
			"document_id", documentID, "broken_at", report.BrokenAt, "reason", report.Reason)
	}
	return report, nil
}

func ownerDisplayName(doc document.Document) string {
	if doc.OwnerName != "" {
		return doc.OwnerName
	}
	if doc.OwnerEmail != "" {
		return doc.OwnerEmail
	}
	return "Document owner"
}

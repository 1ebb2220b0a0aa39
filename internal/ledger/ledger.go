package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one immutable record in a document's tamper-evident audit chain.
//
// Invariants:
// - Entries are append-only; no update or delete path exists.
// - PreviousHash links each entry to its predecessor; the first entry of a
//   document carries an empty PreviousHash.
// - EntryHash covers every other field of the entry plus PreviousHash, so
//   mutating any committed field (including CreatedAt) breaks verification.
// - Appends for one document are serialized by the store; two entries never
//   share a predecessor.

type Entry struct {
	ID         string `json:"id" db:"id"`
	DocumentID string `json:"document_id" db:"document_id"`

	Action Action `json:"action" db:"action"`

	// SignerID is set when a signing party caused the entry, UserID when an
	// authenticated owner did. Both may be empty for system entries.
	SignerID string `json:"signer_id,omitempty" db:"signer_id"`
	UserID   string `json:"user_id,omitempty" db:"user_id"`

	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent string `json:"user_agent,omitempty" db:"user_agent"`

	// Details is the compact JSON encoding of the action's payload struct,
	// or empty for actions that carry none. See DecodeDetails.
	Details string `json:"details,omitempty" db:"details"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	EntryHash    string `json:"entry_hash" db:"entry_hash"`
	PreviousHash string `json:"previous_hash,omitempty" db:"previous_hash"`
}

type Action string

const (
	ActionDocumentCreated    Action = "document_created"
	ActionDocumentUploaded   Action = "document_uploaded"
	ActionDocumentViewed     Action = "document_viewed"
	ActionDocumentSent       Action = "document_sent"
	ActionDocumentCompleted  Action = "document_completed"
	ActionDocumentVoided     Action = "document_voided"
	ActionDocumentExpired    Action = "document_expired"
	ActionDocumentDownloaded Action = "document_downloaded"

	ActionFieldAdded   Action = "field_added"
	ActionFieldUpdated Action = "field_updated"
	ActionFieldDeleted Action = "field_deleted"

	ActionSignerAdded     Action = "signer_added"
	ActionSignerUpdated   Action = "signer_updated"
	ActionSignerRemoved   Action = "signer_removed"
	ActionSignerEmailSent Action = "signer_email_sent"
	ActionSignerViewed    Action = "signer_viewed"
	ActionSignerSigned    Action = "signer_signed"
	ActionSignerDeclined  Action = "signer_declined"

	ActionSignatureApplied     Action = "signature_applied"
	ActionCertificateGenerated Action = "certificate_generated"
)

// ValidAction reports whether a is a known audit action.
func ValidAction(a Action) bool {
	switch a {
	case ActionDocumentCreated, ActionDocumentUploaded, ActionDocumentViewed,
		ActionDocumentSent, ActionDocumentCompleted, ActionDocumentVoided,
		ActionDocumentExpired, ActionDocumentDownloaded,
		ActionFieldAdded, ActionFieldUpdated, ActionFieldDeleted,
		ActionSignerAdded, ActionSignerUpdated, ActionSignerRemoved,
		ActionSignerEmailSent, ActionSignerViewed, ActionSignerSigned,
		ActionSignerDeclined,
		ActionSignatureApplied, ActionCertificateGenerated:
		return true
	}
	return false
}

// Actor identifies who caused an entry and from where. Exactly one of
// SignerID / UserID is normally set; system-initiated entries (expiry sweep)
// leave both empty.
type Actor struct {
	SignerID  string
	UserID    string
	IPAddress string
	UserAgent string
}

// New assembles an unsealed entry. The caller appends it through the store,
// which seals it against the current chain tail.
func New(documentID string, action Action, actor Actor, details Details, at time.Time) (Entry, error) {
	if !ValidAction(action) {
		return Entry{}, fmt.Errorf("ledger: unknown action %q", action)
	}
	if details != nil && details.auditAction() != action {
		return Entry{}, fmt.Errorf("ledger: %T payload does not belong to action %q", details, action)
	}
	e := Entry{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		Action:     action,
		SignerID:   actor.SignerID,
		UserID:     actor.UserID,
		IPAddress:  actor.IPAddress,
		UserAgent:  actor.UserAgent,
		CreatedAt:  at.UTC(),
	}
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return Entry{}, fmt.Errorf("ledger: encode details: %w", err)
		}
		e.Details = string(raw)
	}
	return e, nil
}

// Details is the payload carried by an entry. Each action that carries data
// has exactly one payload type; json.Marshal of these structs is the
// canonical encoding hashed into the chain.
type Details interface {
	auditAction() Action
}

type DocumentCreatedDetails struct {
	Title       string `json:"title"`
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
}

type DocumentUploadedDetails struct {
	Filename    string `json:"filename"`
	ContentHash string `json:"content_hash"`
	SizeBytes   int64  `json:"size_bytes"`
}

type DocumentSentDetails struct {
	SignerCount int  `json:"signer_count"`
	SelfSign    bool `json:"self_sign,omitempty"`
}

type DocumentCompletedDetails struct {
	TotalSigners     int `json:"total_signers"`
	CompletedSigners int `json:"completed_signers"`
}

type DocumentVoidedDetails struct {
	Reason string `json:"reason"`
}

type DocumentExpiredDetails struct {
	ExpiredAt time.Time `json:"expired_at"`
}

type FieldAddedDetails struct {
	FieldID   string `json:"field_id"`
	FieldType string `json:"field_type"`
	Page      int    `json:"page"`
	SignerID  string `json:"signer_id,omitempty"`
}

type FieldUpdatedDetails struct {
	FieldID string `json:"field_id"`
}

type FieldDeletedDetails struct {
	FieldID   string `json:"field_id"`
	FieldType string `json:"field_type"`
}

type SignerAddedDetails struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	OrderIndex int    `json:"order_index"`
}

type SignerUpdatedDetails struct {
	Email string `json:"email"`
}

type SignerRemovedDetails struct {
	Email string `json:"email"`
}

type SignerEmailSentDetails struct {
	Email string `json:"email"`
}

type SignerViewedDetails struct {
	Email string `json:"email"`
}

type SignerSignedDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

type SignerDeclinedDetails struct {
	Email  string `json:"email"`
	Reason string `json:"reason,omitempty"`
}

type SignatureAppliedDetails struct {
	FieldID       string `json:"field_id"`
	SignatureHash string `json:"signature_hash"`
}

type CertificateGeneratedDetails struct {
	CertificateHash string `json:"certificate_hash"`
}

func (DocumentCreatedDetails) auditAction() Action      { return ActionDocumentCreated }
func (DocumentUploadedDetails) auditAction() Action     { return ActionDocumentUploaded }
func (DocumentSentDetails) auditAction() Action         { return ActionDocumentSent }
func (DocumentCompletedDetails) auditAction() Action    { return ActionDocumentCompleted }
func (DocumentVoidedDetails) auditAction() Action       { return ActionDocumentVoided }
func (DocumentExpiredDetails) auditAction() Action      { return ActionDocumentExpired }
func (FieldAddedDetails) auditAction() Action           { return ActionFieldAdded }
func (FieldUpdatedDetails) auditAction() Action         { return ActionFieldUpdated }
func (FieldDeletedDetails) auditAction() Action         { return ActionFieldDeleted }
func (SignerAddedDetails) auditAction() Action          { return ActionSignerAdded }
func (SignerUpdatedDetails) auditAction() Action        { return ActionSignerUpdated }
func (SignerRemovedDetails) auditAction() Action        { return ActionSignerRemoved }
func (SignerEmailSentDetails) auditAction() Action      { return ActionSignerEmailSent }
func (SignerViewedDetails) auditAction() Action         { return ActionSignerViewed }
func (SignerSignedDetails) auditAction() Action         { return ActionSignerSigned }
func (SignerDeclinedDetails) auditAction() Action       { return ActionSignerDeclined }
func (SignatureAppliedDetails) auditAction() Action     { return ActionSignatureApplied }
func (CertificateGeneratedDetails) auditAction() Action { return ActionCertificateGenerated }

// DecodeDetails parses an entry's Details string into the payload type for
// its action. Actions without a payload (document_viewed,
// document_downloaded) return nil for empty input.
func DecodeDetails(action Action, raw string) (Details, error) {
	if raw == "" {
		return nil, nil
	}
	var d Details
	switch action {
	case ActionDocumentCreated:
		d = &DocumentCreatedDetails{}
	case ActionDocumentUploaded:
		d = &DocumentUploadedDetails{}
	case ActionDocumentSent:
		d = &DocumentSentDetails{}
	case ActionDocumentCompleted:
		d = &DocumentCompletedDetails{}
	case ActionDocumentVoided:
		d = &DocumentVoidedDetails{}
	case ActionDocumentExpired:
		d = &DocumentExpiredDetails{}
	case ActionFieldAdded:
		d = &FieldAddedDetails{}
	case ActionFieldUpdated:
		d = &FieldUpdatedDetails{}
	case ActionFieldDeleted:
		d = &FieldDeletedDetails{}
	case ActionSignerAdded:
		d = &SignerAddedDetails{}
	case ActionSignerUpdated:
		d = &SignerUpdatedDetails{}
	case ActionSignerRemoved:
		d = &SignerRemovedDetails{}
	case ActionSignerEmailSent:
		d = &SignerEmailSentDetails{}
	case ActionSignerViewed:
		d = &SignerViewedDetails{}
	case ActionSignerSigned:
		d = &SignerSignedDetails{}
	case ActionSignerDeclined:
		d = &SignerDeclinedDetails{}
	case ActionSignatureApplied:
		d = &SignatureAppliedDetails{}
	case ActionCertificateGenerated:
		d = &CertificateGeneratedDetails{}
	default:
		return nil, fmt.Errorf("ledger: action %q carries no details", action)
	}
	if err := json.Unmarshal([]byte(raw), d); err != nil {
		return nil, fmt.Errorf("ledger: decode %s details: %w", action, err)
	}
	return d, nil
}

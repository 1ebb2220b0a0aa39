package document

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Document is the aggregate root of a signing workflow.
//
// Lifecycle invariants:
// - Structure (signers, fields) is editable only while Status is draft.
// - completed, voided, and expired are terminal; no status leaves them.
// - CompletedAt is set exactly once, by the completion transition.
//
// NOTE: This is a domain model only. Binary content lives in the blob store
// and is referenced by StoragePath; ContentHash is the hex SHA-512 of the
// stored bytes, computed once at upload and never rewritten.

type Document struct {
	ID         string `json:"id" db:"id"`
	OwnerID    string `json:"owner_id" db:"owner_id"`
	OwnerEmail string `json:"owner_email,omitempty" db:"owner_email"`
	OwnerName  string `json:"owner_name,omitempty" db:"owner_name"`

	Title       string `json:"title" db:"title"`
	Filename    string `json:"filename" db:"filename"`
	StoragePath string `json:"-" db:"storage_path"`
	ContentHash string `json:"content_hash" db:"content_hash"`
	SizeBytes   int64  `json:"size_bytes" db:"size_bytes"`

	Status Status `json:"status" db:"status"`

	// SelfSignOnly documents never carry explicit signers; send materializes
	// a single implicit signer from the owner identity.
	SelfSignOnly bool `json:"self_sign_only" db:"self_sign_only"`

	// SequentialSigning gates signer actions by OrderIndex: a signer may act
	// only after every lower-ordered signer has signed.
	SequentialSigning bool `json:"sequential_signing" db:"sequential_signing"`

	TotalSigners     int `json:"total_signers" db:"total_signers"`
	CompletedSigners int `json:"completed_signers" db:"completed_signers"`

	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	VoidedAt    *time.Time `json:"voided_at,omitempty" db:"voided_at"`
	VoidReason  string     `json:"void_reason,omitempty" db:"void_reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusVoided    Status = "voided"
	StatusExpired   Status = "expired"
)

// Terminal reports whether no further status transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusVoided, StatusExpired:
		return true
	}
	return false
}

// ValidTransition is the single source of truth for the document state
// machine. Every status write outside document creation must pass it.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusPending
	case StatusPending:
		return to == StatusCompleted || to == StatusVoided || to == StatusExpired
	}
	return false
}

// Signer is one signing party on a document.
//
// AccessToken is the sole credential for the public signing surface; it is
// unguessable, unique across all documents, and never rotated.
type Signer struct {
	ID         string `json:"id" db:"id"`
	DocumentID string `json:"document_id" db:"document_id"`

	Email string `json:"email" db:"email"`
	Name  string `json:"name" db:"name"`

	Status SignerStatus `json:"status" db:"status"`

	// OrderIndex orders signers for sequential signing; ties act in any order.
	OrderIndex int `json:"order_index" db:"order_index"`

	AccessToken string `json:"-" db:"access_token"`

	// Implicit marks the owner-derived signer of a self-sign document.
	Implicit bool `json:"implicit,omitempty" db:"implicit"`

	EmailSentAt   *time.Time `json:"email_sent_at,omitempty" db:"email_sent_at"`
	ViewedAt      *time.Time `json:"viewed_at,omitempty" db:"viewed_at"`
	SignedAt      *time.Time `json:"signed_at,omitempty" db:"signed_at"`
	DeclinedAt    *time.Time `json:"declined_at,omitempty" db:"declined_at"`
	DeclineReason string     `json:"decline_reason,omitempty" db:"decline_reason"`

	// Capture provenance of the terminal act (sign or decline).
	IPAddress string `json:"-" db:"ip_address"`
	UserAgent string `json:"-" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type SignerStatus string

const (
	SignerStatusPending  SignerStatus = "pending"
	SignerStatusSent     SignerStatus = "sent"
	SignerStatusViewed   SignerStatus = "viewed"
	SignerStatusSigned   SignerStatus = "signed"
	SignerStatusDeclined SignerStatus = "declined"
)

// Terminal reports whether the signer can take no further action.
func (s SignerStatus) Terminal() bool {
	return s == SignerStatusSigned || s == SignerStatusDeclined
}

// ValidSignerTransition is the signer-side state machine. viewed is
// skippable: a signer may sign or decline directly from sent.
func ValidSignerTransition(from, to SignerStatus) bool {
	switch from {
	case SignerStatusPending:
		return to == SignerStatusSent
	case SignerStatusSent:
		return to == SignerStatusViewed || to == SignerStatusSigned || to == SignerStatusDeclined
	case SignerStatusViewed:
		return to == SignerStatusSigned || to == SignerStatusDeclined
	}
	return false
}

// Field is a fillable region placed on a document page.
//
// SignerID == "" means the field is unowned: any signer of the document (or
// the implicit self-sign signer) may satisfy it. Ownership and geometry are
// frozen once the document leaves draft.
type Field struct {
	ID         string `json:"id" db:"id"`
	DocumentID string `json:"document_id" db:"document_id"`
	SignerID   string `json:"signer_id,omitempty" db:"signer_id"`

	Type FieldType `json:"type" db:"type"`

	Page int     `json:"page" db:"page"`
	X    float64 `json:"x" db:"x"`
	Y    float64 `json:"y" db:"y"`
	W    float64 `json:"w" db:"w"`
	H    float64 `json:"h" db:"h"`

	// Value holds the captured content for text and date fields. Signature
	// and initial fields are satisfied by SignatureRecord rows instead.
	Value string `json:"value,omitempty" db:"value"`

	Required bool `json:"required" db:"required"`

	// Presentation hints, passed through to rendering clients untouched.
	FontSize   int    `json:"font_size,omitempty" db:"font_size"`
	FontFamily string `json:"font_family,omitempty" db:"font_family"`
	DateFormat string `json:"date_format,omitempty" db:"date_format"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type FieldType string

const (
	FieldTypeSignature FieldType = "signature"
	FieldTypeInitial   FieldType = "initial"
	FieldTypeText      FieldType = "text"
	FieldTypeDate      FieldType = "date"
)

// ValidFieldType reports whether t is a known field type.
func ValidFieldType(t FieldType) bool {
	switch t {
	case FieldTypeSignature, FieldTypeInitial, FieldTypeText, FieldTypeDate:
		return true
	}
	return false
}

// NeedsDrawing reports whether the field is satisfied by an applied
// signature image rather than a typed value.
func (t FieldType) NeedsDrawing() bool {
	return t == FieldTypeSignature || t == FieldTypeInitial
}

// SignatureRecord is the immutable evidence of one signature applied to one
// field. At most one record exists per (field, signer) pair.
type SignatureRecord struct {
	ID         string `json:"id" db:"id"`
	DocumentID string `json:"document_id" db:"document_id"`
	SignerID   string `json:"signer_id" db:"signer_id"`
	FieldID    string `json:"field_id" db:"field_id"`

	// Data is the rendered signature payload (data URI or typed text).
	Data string `json:"-" db:"data"`

	// Hash is the hex SHA-512 of Data, referenced by the audit trail and the
	// completion certificate.
	Hash string `json:"hash" db:"hash"`

	IPAddress string `json:"-" db:"ip_address"`
	UserAgent string `json:"-" db:"user_agent"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// NewAccessToken mints a signer access token: two concatenated dashless
// UUIDv4 strings, 64 hex characters total.
func NewAccessToken() string {
	a := strings.ReplaceAll(uuid.NewString(), "-", "")
	b := strings.ReplaceAll(uuid.NewString(), "-", "")
	return a + b
}

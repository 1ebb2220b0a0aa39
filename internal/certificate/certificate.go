// Package certificate assembles the completion certificate of a signed
// document: a self-verifying summary of who signed what, when, from where,
// covering the document's audit chain up to the completion entry.
//
// Building is pure. Persistence and the generate-once rule live in the
// lifecycle service, which builds the certificate inside the same
// transaction that completes the document.
package certificate

import (
	"encoding/json"
	"fmt"
	"time"

	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
)

// Body is everything the certificate attests to. Its compact JSON encoding
// is the canonical serialization: CertificateHash is the hex SHA-512 of
// exactly these bytes, so any later edit is detectable.
type Body struct {
	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	Filename      string `json:"filename"`
	ContentHash   string `json:"content_hash"`

	OwnerName  string `json:"owner_name,omitempty"`
	OwnerEmail string `json:"owner_email,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at"`

	TotalSigners int `json:"total_signers"`

	Signers    []SignerAttestation `json:"signers"`
	AuditTrail []TrailEntry        `json:"audit_trail"`

	// GeneratedAt is pinned to CompletedAt: regenerating the certificate for
	// the same completed document yields byte-identical output.
	GeneratedAt time.Time `json:"generated_at"`
}

// SignerAttestation records one signer's completed act.
type SignerAttestation struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	SignedAt time.Time `json:"signed_at"`

	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	// SignatureHash is the hex SHA-512 of the first signature payload the
	// signer applied; empty for signers who completed without drawn fields.
	SignatureHash string `json:"signature_hash,omitempty"`
}

// TrailEntry is a condensed audit entry embedded in the certificate. The
// entry hash pins the certificate to the exact chain it covers.
type TrailEntry struct {
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	IPAddress string    `json:"ip_address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
	EntryHash string    `json:"entry_hash"`
}

// Certificate is a decoded certificate: the attested body plus its hash.
type Certificate struct {
	Body
	CertificateHash string `json:"certificate_hash"`
}

// Record is the persisted form: the canonical body bytes and their hash.
// Fetch paths decode the stored bytes rather than rebuilding, so the
// certificate a reader sees is the one generated at completion.
type Record struct {
	DocumentID      string    `json:"document_id" db:"document_id"`
	Body            []byte    `json:"-" db:"body"`
	CertificateHash string    `json:"certificate_hash" db:"certificate_hash"`
	GeneratedAt     time.Time `json:"generated_at" db:"generated_at"`
}

// Build assembles the certificate for a completed document. It verifies the
// full audit chain first and refuses to attest to a broken one; that error
// wraps ledger.ErrIntegrity and must be treated as fatal by callers.
func Build(doc document.Document, signers []document.Signer, sigs []document.SignatureRecord, entries []ledger.Entry) (Certificate, Record, error) {
	if doc.Status != document.StatusCompleted {
		return Certificate{}, Record{}, fmt.Errorf("certificate: document %s is %s, not completed", doc.ID, doc.Status)
	}
	if doc.CompletedAt == nil {
		return Certificate{}, Record{}, fmt.Errorf("%w: completed document %s has no completion time", ledger.ErrIntegrity, doc.ID)
	}
	if err := ledger.Verify(entries).Err(); err != nil {
		return Certificate{}, Record{}, err
	}
	trail, err := TrailUpToCompletion(entries)
	if err != nil {
		return Certificate{}, Record{}, err
	}

	sigHashBySigner := make(map[string]string, len(signers))
	for _, sr := range sigs {
		if _, ok := sigHashBySigner[sr.SignerID]; !ok {
			sigHashBySigner[sr.SignerID] = sr.Hash
		}
	}

	body := Body{
		DocumentID:    doc.ID,
		DocumentTitle: doc.Title,
		Filename:      doc.Filename,
		ContentHash:   doc.ContentHash,
		OwnerName:     doc.OwnerName,
		OwnerEmail:    doc.OwnerEmail,
		CreatedAt:     doc.CreatedAt,
		CompletedAt:   *doc.CompletedAt,
		TotalSigners:  doc.TotalSigners,
		Signers:       make([]SignerAttestation, 0, len(signers)),
		AuditTrail:    make([]TrailEntry, 0, len(trail)),
		GeneratedAt:   *doc.CompletedAt,
	}

	for _, s := range signers {
		if s.Status != document.SignerStatusSigned || s.SignedAt == nil {
			continue
		}
		body.Signers = append(body.Signers, SignerAttestation{
			Name:          s.Name,
			Email:         s.Email,
			SignedAt:      *s.SignedAt,
			IPAddress:     s.IPAddress,
			UserAgent:     s.UserAgent,
			SignatureHash: sigHashBySigner[s.ID],
		})
	}

	actors := actorIndex(doc, signers)
	for _, e := range trail {
		body.AuditTrail = append(body.AuditTrail, TrailEntry{
			Action:    string(e.Action),
			Actor:     actors.resolve(e),
			IPAddress: e.IPAddress,
			Timestamp: e.CreatedAt,
			Details:   e.Details,
			EntryHash: e.EntryHash,
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return Certificate{}, Record{}, fmt.Errorf("certificate: encode body: %w", err)
	}
	hash := ledger.HashHex(raw)

	cert := Certificate{Body: body, CertificateHash: hash}
	rec := Record{
		DocumentID:      doc.ID,
		Body:            raw,
		CertificateHash: hash,
		GeneratedAt:     body.GeneratedAt,
	}
	return cert, rec, nil
}

// TrailUpToCompletion cuts the chain at the document_completed entry,
// inclusive. Entries appended afterwards (the certificate_generated record,
// later downloads) are outside the certificate's scope. A completed
// document whose chain lacks a completion entry is corrupt.
func TrailUpToCompletion(entries []ledger.Entry) ([]ledger.Entry, error) {
	for i, e := range entries {
		if e.Action == ledger.ActionDocumentCompleted {
			return entries[:i+1], nil
		}
	}
	return nil, fmt.Errorf("%w: chain has no completion entry", ledger.ErrIntegrity)
}

// Decode restores a certificate from its persisted record after checking
// that the stored bytes still match the stored hash.
func Decode(rec Record) (Certificate, error) {
	if err := VerifyRecord(rec); err != nil {
		return Certificate{}, err
	}
	var body Body
	if err := json.Unmarshal(rec.Body, &body); err != nil {
		return Certificate{}, fmt.Errorf("certificate: decode body: %w", err)
	}
	return Certificate{Body: body, CertificateHash: rec.CertificateHash}, nil
}

// VerifyRecord recomputes the hash over the persisted body bytes.
func VerifyRecord(rec Record) error {
	if got := ledger.HashHex(rec.Body); got != rec.CertificateHash {
		return fmt.Errorf("%w: certificate hash mismatch for document %s", ledger.ErrIntegrity, rec.DocumentID)
	}
	return nil
}

type actorLabels struct {
	signers map[string]string
	ownerID string
	owner   string
}

func actorIndex(doc document.Document, signers []document.Signer) actorLabels {
	idx := actorLabels{signers: make(map[string]string, len(signers)), ownerID: doc.OwnerID}
	for _, s := range signers {
		idx.signers[s.ID] = fmt.Sprintf("%s (%s)", s.Name, s.Email)
	}
	switch {
	case doc.OwnerName != "" && doc.OwnerEmail != "":
		idx.owner = fmt.Sprintf("%s (%s)", doc.OwnerName, doc.OwnerEmail)
	case doc.OwnerEmail != "":
		idx.owner = doc.OwnerEmail
	default:
		idx.owner = "owner"
	}
	return idx
}

func (a actorLabels) resolve(e ledger.Entry) string {
	if e.SignerID != "" {
		if label, ok := a.signers[e.SignerID]; ok {
			return label
		}
		return "signer"
	}
	if e.UserID != "" && e.UserID == a.ownerID {
		return a.owner
	}
	if e.UserID != "" {
		return "user"
	}
	return "system"
}

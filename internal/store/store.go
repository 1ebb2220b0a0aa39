// Package store owns persistence and the per-document critical section.
//
// Every mutation of a document's state runs inside Update (or Create), which
// guarantees exclusive access to that document for the duration of fn: the
// audit chain tail observed inside fn cannot move underneath it, so chain
// appends, status transitions, and certificate generation commit as one
// atomic unit or not at all.
package store

import (
	"context"
	"errors"
	"time"

	"esign-platform/internal/certificate"
	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrConflict: a concurrent update could not be serialized even after a
	// retry. Callers may safely re-submit.
	ErrConflict = errors.New("concurrent update conflict")
)

// Tx is the working view of a single document inside a critical section.
// Reads observe writes staged earlier in the same transaction. Nothing is
// visible to other callers until fn returns nil and the commit succeeds.
type Tx interface {
	// Document returns the working copy loaded when the transaction began,
	// as amended by SetDocument calls within it.
	Document() document.Document
	SetDocument(document.Document) error

	Signers() ([]document.Signer, error)
	AddSigner(document.Signer) error
	SetSigner(document.Signer) error
	RemoveSigner(signerID string) error

	Fields() ([]document.Field, error)
	AddField(document.Field) error
	SetField(document.Field) error
	RemoveField(fieldID string) error

	Signatures() ([]document.SignatureRecord, error)
	AddSignature(document.SignatureRecord) error

	// Audit returns the document's chain in commit order, including entries
	// appended earlier in this transaction.
	Audit() ([]ledger.Entry, error)

	// Append seals e against the current chain tail and stages it. The
	// returned entry carries its EntryHash and PreviousHash.
	Append(e ledger.Entry) (ledger.Entry, error)

	Certificate() (certificate.Record, bool, error)

	// SetCertificate stores the completion certificate. A second call for
	// the same document fails with ErrConflict; certificates are written
	// exactly once.
	SetCertificate(certificate.Record) error
}

// Store is implemented by the in-memory store and the Postgres store.
type Store interface {
	// Create runs fn against a fresh working set seeded with doc. fn
	// typically appends the genesis audit entry. A duplicate document ID
	// fails with ErrConflict.
	Create(ctx context.Context, doc document.Document, fn func(Tx) error) error

	// Update loads the document, takes its exclusive critical section, and
	// runs fn. fn may run more than once when the backend retries a
	// serialization conflict; it must not carry side effects outside the
	// transaction.
	Update(ctx context.Context, documentID string, fn func(Tx) error) error

	GetDocument(ctx context.Context, documentID string) (document.Document, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]document.Document, int, error)

	Signers(ctx context.Context, documentID string) ([]document.Signer, error)
	Fields(ctx context.Context, documentID string) ([]document.Field, error)
	Signatures(ctx context.Context, documentID string) ([]document.SignatureRecord, error)
	Audit(ctx context.Context, documentID string) ([]ledger.Entry, error)
	Certificate(ctx context.Context, documentID string) (certificate.Record, error)

	// SignerByToken resolves a signer access token. Unknown tokens fail
	// with ErrNotFound; the caller must not learn whether the token was
	// close to a real one.
	SignerByToken(ctx context.Context, token string) (document.Signer, error)

	// PendingExpiredIDs lists documents still pending whose expiry time has
	// passed, oldest first, for the expiry sweeper.
	PendingExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	// DeleteDocument removes the document and everything attached to it.
	// Only drafts are ever deleted; the lifecycle service enforces that.
	DeleteDocument(ctx context.Context, documentID string) error
}

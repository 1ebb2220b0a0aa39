package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"esign-platform/internal/certificate"
	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
)

// Memory is an in-process Store used by tests and local development. Each
// document owns a mutex; Update holds it for the whole critical section, so
// per-document operations are fully serialized and never conflict.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]*memDoc
	tokens map[string]tokenRef
}

type tokenRef struct {
	documentID string
	signerID   string
}

type memDoc struct {
	mu    sync.Mutex
	state docState
}

// docState is the committed state of one document. Slices hold values, and
// services replace rather than mutate pointer fields, so a shallow clone of
// the slices is an isolated working copy.
type docState struct {
	doc     document.Document
	signers []document.Signer
	fields  []document.Field
	sigs    []document.SignatureRecord
	audit   []ledger.Entry
	cert    *certificate.Record
}

func (st docState) clone() docState {
	out := st
	out.signers = append([]document.Signer(nil), st.signers...)
	out.fields = append([]document.Field(nil), st.fields...)
	out.sigs = append([]document.SignatureRecord(nil), st.sigs...)
	out.audit = append([]ledger.Entry(nil), st.audit...)
	return out
}

func NewMemory() *Memory {
	return &Memory{
		docs:   make(map[string]*memDoc),
		tokens: make(map[string]tokenRef),
	}
}

func (m *Memory) Create(ctx context.Context, doc document.Document, fn func(Tx) error) error {
	if doc.ID == "" {
		return fmt.Errorf("store: document id required")
	}
	// The document is invisible until commit, so fn runs without any lock.
	tx := &memTx{st: docState{doc: doc}}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.docs[doc.ID]; exists {
		return fmt.Errorf("%w: document %s already exists", ErrConflict, doc.ID)
	}
	m.docs[doc.ID] = &memDoc{state: tx.st}
	for _, s := range tx.st.signers {
		m.tokens[s.AccessToken] = tokenRef{documentID: doc.ID, signerID: s.ID}
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, documentID string, fn func(Tx) error) error {
	p, err := m.lookup(documentID)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	tx := &memTx{st: p.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}

	m.mu.Lock()
	for _, s := range p.state.signers {
		delete(m.tokens, s.AccessToken)
	}
	for _, s := range tx.st.signers {
		m.tokens[s.AccessToken] = tokenRef{documentID: documentID, signerID: s.ID}
	}
	m.mu.Unlock()

	p.state = tx.st
	return nil
}

func (m *Memory) lookup(documentID string) (*memDoc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return p, nil
}

func (m *Memory) snapshot(documentID string) (docState, error) {
	p, err := m.lookup(documentID)
	if err != nil {
		return docState{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.clone(), nil
}

func (m *Memory) GetDocument(ctx context.Context, documentID string) (document.Document, error) {
	st, err := m.snapshot(documentID)
	if err != nil {
		return document.Document{}, err
	}
	return st.doc, nil
}

func (m *Memory) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]document.Document, int, error) {
	m.mu.Lock()
	ptrs := make([]*memDoc, 0, len(m.docs))
	for _, p := range m.docs {
		ptrs = append(ptrs, p)
	}
	m.mu.Unlock()

	var owned []document.Document
	for _, p := range ptrs {
		p.mu.Lock()
		if p.state.doc.OwnerID == ownerID {
			owned = append(owned, p.state.doc)
		}
		p.mu.Unlock()
	}
	sort.Slice(owned, func(i, j int) bool {
		if owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].ID < owned[j].ID
		}
		return owned[i].CreatedAt.After(owned[j].CreatedAt)
	})

	total := len(owned)
	if offset >= len(owned) {
		return []document.Document{}, total, nil
	}
	owned = owned[offset:]
	if limit > 0 && limit < len(owned) {
		owned = owned[:limit]
	}
	return owned, total, nil
}

func (m *Memory) Signers(ctx context.Context, documentID string) ([]document.Signer, error) {
	st, err := m.snapshot(documentID)
	if err != nil {
		return nil, err
	}
	return st.signers, nil
}

func (m *Memory) Fields(ctx context.Context, documentID string) ([]document.Field, error) {
	st, err := m.snapshot(documentID)
	if err != nil {
		return nil, err
	}
	return st.fields, nil
}

func (m *Memory) Signatures(ctx context.Context, documentID string) ([]document.SignatureRecord, error) {
	st, err := m.snapshot(documentID)
	if err != nil {
		return nil, err
	}
	return st.sigs, nil
}

func (m *Memory) Audit(ctx context.Context, documentID string) ([]ledger.Entry, error) {
	st, err := m.snapshot(documentID)
	if err != nil {
		return nil, err
	}
	return st.audit, nil
}

func (m *Memory) Certificate(ctx context.Context, documentID string) (certificate.Record, error) {
	st, err := m.snapshot(documentID)
	if err != nil {
		return certificate.Record{}, err
	}
	if st.cert == nil {
		return certificate.Record{}, fmt.Errorf("%w: no certificate for document %s", ErrNotFound, documentID)
	}
	return *st.cert, nil
}

func (m *Memory) SignerByToken(ctx context.Context, token string) (document.Signer, error) {
	m.mu.Lock()
	ref, ok := m.tokens[token]
	var p *memDoc
	if ok {
		p = m.docs[ref.documentID]
	}
	m.mu.Unlock()
	if !ok || p == nil {
		return document.Signer{}, fmt.Errorf("%w: signer token", ErrNotFound)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.state.signers {
		if s.ID == ref.signerID {
			return s, nil
		}
	}
	return document.Signer{}, fmt.Errorf("%w: signer token", ErrNotFound)
}

func (m *Memory) PendingExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	ptrs := make([]*memDoc, 0, len(m.docs))
	for _, p := range m.docs {
		ptrs = append(ptrs, p)
	}
	m.mu.Unlock()

	type overdue struct {
		id string
		at time.Time
	}
	var due []overdue
	for _, p := range ptrs {
		p.mu.Lock()
		d := p.state.doc
		if d.Status == document.StatusPending && d.ExpiresAt != nil && d.ExpiresAt.Before(now) {
			due = append(due, overdue{id: d.ID, at: *d.ExpiresAt})
		}
		p.mu.Unlock()
	}
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	if limit > 0 && limit < len(due) {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, o := range due {
		ids[i] = o.id
	}
	return ids, nil
}

func (m *Memory) DeleteDocument(ctx context.Context, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[documentID]; !ok {
		return fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	delete(m.docs, documentID)
	for tok, ref := range m.tokens {
		if ref.documentID == documentID {
			delete(m.tokens, tok)
		}
	}
	return nil
}

// memTx implements Tx over a cloned working state.
type memTx struct {
	st docState
}

func (t *memTx) Document() document.Document { return t.st.doc }

func (t *memTx) SetDocument(d document.Document) error {
	if d.ID != t.st.doc.ID {
		return fmt.Errorf("store: document id mismatch in transaction")
	}
	t.st.doc = d
	return nil
}

func (t *memTx) Signers() ([]document.Signer, error) {
	return append([]document.Signer(nil), t.st.signers...), nil
}

func (t *memTx) AddSigner(s document.Signer) error {
	t.st.signers = append(t.st.signers, s)
	return nil
}

func (t *memTx) SetSigner(s document.Signer) error {
	for i := range t.st.signers {
		if t.st.signers[i].ID == s.ID {
			t.st.signers[i] = s
			return nil
		}
	}
	return fmt.Errorf("%w: signer %s", ErrNotFound, s.ID)
}

func (t *memTx) RemoveSigner(signerID string) error {
	for i := range t.st.signers {
		if t.st.signers[i].ID == signerID {
			t.st.signers = append(t.st.signers[:i], t.st.signers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: signer %s", ErrNotFound, signerID)
}

func (t *memTx) Fields() ([]document.Field, error) {
	return append([]document.Field(nil), t.st.fields...), nil
}

func (t *memTx) AddField(f document.Field) error {
	t.st.fields = append(t.st.fields, f)
	return nil
}

func (t *memTx) SetField(f document.Field) error {
	for i := range t.st.fields {
		if t.st.fields[i].ID == f.ID {
			t.st.fields[i] = f
			return nil
		}
	}
	return fmt.Errorf("%w: field %s", ErrNotFound, f.ID)
}

func (t *memTx) RemoveField(fieldID string) error {
	for i := range t.st.fields {
		if t.st.fields[i].ID == fieldID {
			t.st.fields = append(t.st.fields[:i], t.st.fields[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: field %s", ErrNotFound, fieldID)
}

func (t *memTx) Signatures() ([]document.SignatureRecord, error) {
	return append([]document.SignatureRecord(nil), t.st.sigs...), nil
}

func (t *memTx) AddSignature(sr document.SignatureRecord) error {
	t.st.sigs = append(t.st.sigs, sr)
	return nil
}

func (t *memTx) Audit() ([]ledger.Entry, error) {
	return append([]ledger.Entry(nil), t.st.audit...), nil
}

func (t *memTx) Append(e ledger.Entry) (ledger.Entry, error) {
	e.Seal(ledger.Tail(t.st.audit))
	t.st.audit = append(t.st.audit, e)
	return e, nil
}

func (t *memTx) Certificate() (certificate.Record, bool, error) {
	if t.st.cert == nil {
		return certificate.Record{}, false, nil
	}
	return *t.st.cert, true, nil
}

func (t *memTx) SetCertificate(rec certificate.Record) error {
	if t.st.cert != nil {
		return fmt.Errorf("%w: certificate already generated for document %s", ErrConflict, t.st.doc.ID)
	}
	t.st.cert = &rec
	return nil
}

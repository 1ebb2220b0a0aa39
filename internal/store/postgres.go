package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"esign-platform/internal/certificate"
	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres implements Store on database/sql with the pgx stdlib driver.
//
// The per-document critical section is the document row lock: Update takes
// SELECT ... FOR UPDATE on the documents row before running fn, so all
// writers for one document, including audit appends, are serialized by the
// database. A serialization or deadlock error is retried once, then
// surfaced as ErrConflict.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Create(ctx context.Context, doc document.Document, fn func(Tx) error) error {
	if doc.ID == "" {
		return fmt.Errorf("store: document id required")
	}
	err := utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := insertDocument(ctx, tx, doc); err != nil {
			return err
		}
		return fn(&pgTx{ctx: ctx, tx: tx, doc: doc})
	})
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: document %s already exists", ErrConflict, doc.ID)
	}
	return err
}

func (p *Postgres) Update(ctx context.Context, documentID string, fn func(Tx) error) error {
	err := p.runUpdate(ctx, documentID, fn)
	if isRetryable(err) {
		err = p.runUpdate(ctx, documentID, fn)
		if isRetryable(err) {
			return fmt.Errorf("%w: document %s", ErrConflict, documentID)
		}
	}
	return err
}

func (p *Postgres) runUpdate(ctx context.Context, documentID string, fn func(Tx) error) error {
	return utils.WithTx(ctx, p.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		doc, err := lockDocument(ctx, tx, documentID)
		if err != nil {
			return err
		}
		return fn(&pgTx{ctx: ctx, tx: tx, doc: doc})
	})
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// serialization_failure, deadlock_detected
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

const documentColumns = `id, owner_id, owner_email, owner_name, title, filename, storage_path,
       content_hash, size_bytes, status, self_sign_only, sequential_signing,
       total_signers, completed_signers, expires_at, completed_at, voided_at,
       void_reason, created_at, updated_at`

func scanDocument(row interface{ Scan(...any) error }) (document.Document, error) {
	var d document.Document
	err := row.Scan(
		&d.ID, &d.OwnerID, &d.OwnerEmail, &d.OwnerName, &d.Title, &d.Filename, &d.StoragePath,
		&d.ContentHash, &d.SizeBytes, &d.Status, &d.SelfSignOnly, &d.SequentialSigning,
		&d.TotalSigners, &d.CompletedSigners, &d.ExpiresAt, &d.CompletedAt, &d.VoidedAt,
		&d.VoidReason, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return document.Document{}, err
	}
	d.ExpiresAt = utcPtr(d.ExpiresAt)
	d.CompletedAt = utcPtr(d.CompletedAt)
	d.VoidedAt = utcPtr(d.VoidedAt)
	d.CreatedAt = d.CreatedAt.UTC()
	d.UpdatedAt = d.UpdatedAt.UTC()
	return d, nil
}

// The driver materializes timestamptz values in the session time zone.
// Everything leaving the store is normalized to UTC: certificate bodies and
// audit serializations are hashed byte-for-byte, and a timestamp that
// changes spelling with the server's zone would change those bytes.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func lockDocument(ctx context.Context, tx *sql.Tx, documentID string) (document.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1 FOR UPDATE`
	d, err := scanDocument(tx.QueryRowContext(ctx, q, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return d, err
}

func insertDocument(ctx context.Context, tx *sql.Tx, d document.Document) error {
	const q = `
INSERT INTO documents (
  id, owner_id, owner_email, owner_name, title, filename, storage_path,
  content_hash, size_bytes, status, self_sign_only, sequential_signing,
  total_signers, completed_signers, expires_at, completed_at, voided_at,
  void_reason, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20
)
`
	_, err := tx.ExecContext(ctx, q,
		d.ID, d.OwnerID, d.OwnerEmail, d.OwnerName, d.Title, d.Filename, d.StoragePath,
		d.ContentHash, d.SizeBytes, d.Status, d.SelfSignOnly, d.SequentialSigning,
		d.TotalSigners, d.CompletedSigners, d.ExpiresAt, d.CompletedAt, d.VoidedAt,
		d.VoidReason, d.CreatedAt, d.UpdatedAt,
	)
	return err
}

func (p *Postgres) GetDocument(ctx context.Context, documentID string) (document.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	d, err := scanDocument(p.db.QueryRowContext(ctx, q, documentID))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Document{}, fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return d, err
}

func (p *Postgres) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]document.Document, int, error) {
	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := `SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 ORDER BY created_at DESC, id`
	args := []any{ownerID}
	if limit > 0 {
		q += ` LIMIT $2 OFFSET $3`
		args = append(args, limit, offset)
	} else if offset > 0 {
		q += ` OFFSET $2`
		args = append(args, offset)
	}

	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	docs := []document.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, d)
	}
	return docs, total, rows.Err()
}

const signerColumns = `id, document_id, email, name, status, order_index, access_token, implicit,
       email_sent_at, viewed_at, signed_at, declined_at, decline_reason,
       ip_address, user_agent, created_at`

func scanSigner(row interface{ Scan(...any) error }) (document.Signer, error) {
	var s document.Signer
	err := row.Scan(
		&s.ID, &s.DocumentID, &s.Email, &s.Name, &s.Status, &s.OrderIndex, &s.AccessToken, &s.Implicit,
		&s.EmailSentAt, &s.ViewedAt, &s.SignedAt, &s.DeclinedAt, &s.DeclineReason,
		&s.IPAddress, &s.UserAgent, &s.CreatedAt,
	)
	if err != nil {
		return document.Signer{}, err
	}
	s.EmailSentAt = utcPtr(s.EmailSentAt)
	s.ViewedAt = utcPtr(s.ViewedAt)
	s.SignedAt = utcPtr(s.SignedAt)
	s.DeclinedAt = utcPtr(s.DeclinedAt)
	s.CreatedAt = s.CreatedAt.UTC()
	return s, nil
}

func querySigners(ctx context.Context, q queryer, documentID string) ([]document.Signer, error) {
	query := `SELECT ` + signerColumns + ` FROM signers WHERE document_id = $1 ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	signers := []document.Signer{}
	for rows.Next() {
		s, err := scanSigner(rows)
		if err != nil {
			return nil, err
		}
		signers = append(signers, s)
	}
	return signers, rows.Err()
}

func (p *Postgres) Signers(ctx context.Context, documentID string) ([]document.Signer, error) {
	return querySigners(ctx, p.db, documentID)
}

func (p *Postgres) SignerByToken(ctx context.Context, token string) (document.Signer, error) {
	q := `SELECT ` + signerColumns + ` FROM signers WHERE access_token = $1`
	s, err := scanSigner(p.db.QueryRowContext(ctx, q, token))
	if errors.Is(err, sql.ErrNoRows) {
		return document.Signer{}, fmt.Errorf("%w: signer token", ErrNotFound)
	}
	return s, err
}

const fieldColumns = `id, document_id, signer_id, type, page, x, y, w, h, value, required, font_size, font_family, date_format, created_at, updated_at`

func scanField(row interface{ Scan(...any) error }) (document.Field, error) {
	var f document.Field
	err := row.Scan(
		&f.ID, &f.DocumentID, &f.SignerID, &f.Type, &f.Page, &f.X, &f.Y, &f.W, &f.H,
		&f.Value, &f.Required, &f.FontSize, &f.FontFamily, &f.DateFormat,
		&f.CreatedAt, &f.UpdatedAt,
	)
	if err != nil {
		return document.Field{}, err
	}
	f.CreatedAt = f.CreatedAt.UTC()
	f.UpdatedAt = f.UpdatedAt.UTC()
	return f, nil
}

func queryFields(ctx context.Context, q queryer, documentID string) ([]document.Field, error) {
	query := `SELECT ` + fieldColumns + ` FROM fields WHERE document_id = $1 ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := []document.Field{}
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, rows.Err()
}

func (p *Postgres) Fields(ctx context.Context, documentID string) ([]document.Field, error) {
	return queryFields(ctx, p.db, documentID)
}

const signatureColumns = `id, document_id, signer_id, field_id, data, hash, ip_address, user_agent, created_at`

func scanSignature(row interface{ Scan(...any) error }) (document.SignatureRecord, error) {
	var sr document.SignatureRecord
	err := row.Scan(
		&sr.ID, &sr.DocumentID, &sr.SignerID, &sr.FieldID, &sr.Data, &sr.Hash,
		&sr.IPAddress, &sr.UserAgent, &sr.CreatedAt,
	)
	if err != nil {
		return document.SignatureRecord{}, err
	}
	sr.CreatedAt = sr.CreatedAt.UTC()
	return sr, nil
}

func querySignatures(ctx context.Context, q queryer, documentID string) ([]document.SignatureRecord, error) {
	query := `SELECT ` + signatureColumns + ` FROM signatures WHERE document_id = $1 ORDER BY created_at, id`
	rows, err := q.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sigs := []document.SignatureRecord{}
	for rows.Next() {
		sr, err := scanSignature(rows)
		if err != nil {
			return nil, err
		}
		sigs = append(sigs, sr)
	}
	return sigs, rows.Err()
}

func (p *Postgres) Signatures(ctx context.Context, documentID string) ([]document.SignatureRecord, error) {
	return querySignatures(ctx, p.db, documentID)
}

const auditColumns = `id, document_id, action, signer_id, user_id, ip_address, user_agent,
       details, created_at, entry_hash, previous_hash`

func queryAudit(ctx context.Context, q queryer, documentID string) ([]ledger.Entry, error) {
	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE document_id = $1 ORDER BY seq`
	rows, err := q.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []ledger.Entry{}
	for rows.Next() {
		var e ledger.Entry
		if err := rows.Scan(
			&e.ID, &e.DocumentID, &e.Action, &e.SignerID, &e.UserID, &e.IPAddress, &e.UserAgent,
			&e.Details, &e.CreatedAt, &e.EntryHash, &e.PreviousHash,
		); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (p *Postgres) Audit(ctx context.Context, documentID string) ([]ledger.Entry, error) {
	return queryAudit(ctx, p.db, documentID)
}

func (p *Postgres) Certificate(ctx context.Context, documentID string) (certificate.Record, error) {
	const q = `
SELECT document_id, body, certificate_hash, generated_at
FROM certificates
WHERE document_id = $1
`
	var rec certificate.Record
	err := p.db.QueryRowContext(ctx, q, documentID).Scan(
		&rec.DocumentID, &rec.Body, &rec.CertificateHash, &rec.GeneratedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return certificate.Record{}, fmt.Errorf("%w: no certificate for document %s", ErrNotFound, documentID)
	}
	if err != nil {
		return certificate.Record{}, err
	}
	rec.GeneratedAt = rec.GeneratedAt.UTC()
	return rec, nil
}

func (p *Postgres) PendingExpiredIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	q := `
SELECT id FROM documents
WHERE status = $1 AND expires_at IS NOT NULL AND expires_at < $2
ORDER BY expires_at
`
	args := []any{document.StatusPending, now}
	if limit > 0 {
		q += ` LIMIT $3`
		args = append(args, limit)
	}
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Postgres) DeleteDocument(ctx context.Context, documentID string) error {
	// Child rows go with the document via ON DELETE CASCADE.
	res, err := p.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: document %s", ErrNotFound, documentID)
	}
	return nil
}

// queryer abstracts *sql.DB and *sql.Tx for the shared query helpers.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// pgTx implements Tx inside a database transaction. Reads see earlier
// writes in the same transaction; the chain tail is cached after the first
// append to avoid re-querying per entry.
type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
	doc document.Document

	tail       string
	tailLoaded bool
}

func (t *pgTx) Document() document.Document { return t.doc }

func (t *pgTx) SetDocument(d document.Document) error {
	if d.ID != t.doc.ID {
		return fmt.Errorf("store: document id mismatch in transaction")
	}
	const q = `
UPDATE documents SET
  owner_id = $2, owner_email = $3, owner_name = $4, title = $5, filename = $6,
  storage_path = $7, content_hash = $8, size_bytes = $9, status = $10,
  self_sign_only = $11, sequential_signing = $12, total_signers = $13,
  completed_signers = $14, expires_at = $15, completed_at = $16,
  voided_at = $17, void_reason = $18, updated_at = $19
WHERE id = $1
`
	_, err := t.tx.ExecContext(t.ctx, q,
		d.ID, d.OwnerID, d.OwnerEmail, d.OwnerName, d.Title, d.Filename,
		d.StoragePath, d.ContentHash, d.SizeBytes, d.Status,
		d.SelfSignOnly, d.SequentialSigning, d.TotalSigners,
		d.CompletedSigners, d.ExpiresAt, d.CompletedAt,
		d.VoidedAt, d.VoidReason, d.UpdatedAt,
	)
	if err != nil {
		return err
	}
	t.doc = d
	return nil
}

func (t *pgTx) Signers() ([]document.Signer, error) {
	return querySigners(t.ctx, t.tx, t.doc.ID)
}

func (t *pgTx) AddSigner(s document.Signer) error {
	const q = `
INSERT INTO signers (
  id, document_id, email, name, status, order_index, access_token, implicit,
  email_sent_at, viewed_at, signed_at, declined_at, decline_reason,
  ip_address, user_agent, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		s.ID, s.DocumentID, s.Email, s.Name, s.Status, s.OrderIndex, s.AccessToken, s.Implicit,
		s.EmailSentAt, s.ViewedAt, s.SignedAt, s.DeclinedAt, s.DeclineReason,
		s.IPAddress, s.UserAgent, s.CreatedAt,
	)
	return err
}

func (t *pgTx) SetSigner(s document.Signer) error {
	const q = `
UPDATE signers SET
  email = $3, name = $4, status = $5, order_index = $6, access_token = $7,
  implicit = $8, email_sent_at = $9, viewed_at = $10, signed_at = $11,
  declined_at = $12, decline_reason = $13, ip_address = $14, user_agent = $15
WHERE id = $1 AND document_id = $2
`
	res, err := t.tx.ExecContext(t.ctx, q,
		s.ID, t.doc.ID, s.Email, s.Name, s.Status, s.OrderIndex, s.AccessToken,
		s.Implicit, s.EmailSentAt, s.ViewedAt, s.SignedAt,
		s.DeclinedAt, s.DeclineReason, s.IPAddress, s.UserAgent,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "signer", s.ID)
}

func (t *pgTx) RemoveSigner(signerID string) error {
	res, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM signers WHERE id = $1 AND document_id = $2`, signerID, t.doc.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "signer", signerID)
}

func (t *pgTx) Fields() ([]document.Field, error) {
	return queryFields(t.ctx, t.tx, t.doc.ID)
}

func (t *pgTx) AddField(f document.Field) error {
	const q = `
INSERT INTO fields (
  id, document_id, signer_id, type, page, x, y, w, h, value, required,
  font_size, font_family, date_format, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16
)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		f.ID, f.DocumentID, f.SignerID, f.Type, f.Page, f.X, f.Y, f.W, f.H,
		f.Value, f.Required, f.FontSize, f.FontFamily, f.DateFormat,
		f.CreatedAt, f.UpdatedAt,
	)
	return err
}

func (t *pgTx) SetField(f document.Field) error {
	const q = `
UPDATE fields SET
  signer_id = $3, type = $4, page = $5, x = $6, y = $7, w = $8, h = $9,
  value = $10, required = $11, font_size = $12, font_family = $13,
  date_format = $14, updated_at = $15
WHERE id = $1 AND document_id = $2
`
	res, err := t.tx.ExecContext(t.ctx, q,
		f.ID, t.doc.ID, f.SignerID, f.Type, f.Page, f.X, f.Y, f.W, f.H,
		f.Value, f.Required, f.FontSize, f.FontFamily, f.DateFormat, f.UpdatedAt,
	)
	if err != nil {
		return err
	}
	return requireRow(res, "field", f.ID)
}

func (t *pgTx) RemoveField(fieldID string) error {
	res, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM fields WHERE id = $1 AND document_id = $2`, fieldID, t.doc.ID)
	if err != nil {
		return err
	}
	return requireRow(res, "field", fieldID)
}

func (t *pgTx) Signatures() ([]document.SignatureRecord, error) {
	return querySignatures(t.ctx, t.tx, t.doc.ID)
}

func (t *pgTx) AddSignature(sr document.SignatureRecord) error {
	const q = `
INSERT INTO signatures (
  id, document_id, signer_id, field_id, data, hash, ip_address, user_agent, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9
)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		sr.ID, sr.DocumentID, sr.SignerID, sr.FieldID, sr.Data, sr.Hash,
		sr.IPAddress, sr.UserAgent, sr.CreatedAt,
	)
	return err
}

func (t *pgTx) Audit() ([]ledger.Entry, error) {
	return queryAudit(t.ctx, t.tx, t.doc.ID)
}

func (t *pgTx) Append(e ledger.Entry) (ledger.Entry, error) {
	if !t.tailLoaded {
		const q = `
SELECT entry_hash FROM audit_log
WHERE document_id = $1
ORDER BY seq DESC
LIMIT 1
`
		err := t.tx.QueryRowContext(t.ctx, q, t.doc.ID).Scan(&t.tail)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return ledger.Entry{}, err
		}
		t.tailLoaded = true
	}

	e.Seal(t.tail)

	const q = `
INSERT INTO audit_log (
  id, document_id, action, signer_id, user_id, ip_address, user_agent,
  details, created_at, entry_hash, previous_hash
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		e.ID, e.DocumentID, e.Action, e.SignerID, e.UserID, e.IPAddress, e.UserAgent,
		e.Details, e.CreatedAt, e.EntryHash, e.PreviousHash,
	)
	if err != nil {
		return ledger.Entry{}, err
	}
	t.tail = e.EntryHash
	return e, nil
}

func (t *pgTx) Certificate() (certificate.Record, bool, error) {
	const q = `
SELECT document_id, body, certificate_hash, generated_at
FROM certificates
WHERE document_id = $1
`
	var rec certificate.Record
	err := t.tx.QueryRowContext(t.ctx, q, t.doc.ID).Scan(
		&rec.DocumentID, &rec.Body, &rec.CertificateHash, &rec.GeneratedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return certificate.Record{}, false, nil
	}
	if err != nil {
		return certificate.Record{}, false, err
	}
	return rec, true, nil
}

func (t *pgTx) SetCertificate(rec certificate.Record) error {
	const q = `
INSERT INTO certificates (document_id, body, certificate_hash, generated_at)
VALUES ($1,$2,$3,$4)
`
	_, err := t.tx.ExecContext(t.ctx, q,
		rec.DocumentID, rec.Body, rec.CertificateHash, rec.GeneratedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: certificate already generated for document %s", ErrConflict, rec.DocumentID)
	}
	return err
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}

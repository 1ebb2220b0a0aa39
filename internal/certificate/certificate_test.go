package certificate

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
)

func completedFixture(t *testing.T) (document.Document, []document.Signer, []document.SignatureRecord, []ledger.Entry) {
	t.Helper()
	base := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	completedAt := base.Add(time.Hour)

	doc := document.Document{
		ID:               "d-1",
		OwnerID:          "u-1",
		OwnerEmail:       "owner@example.com",
		OwnerName:        "Olive Owner",
		Title:            "Master Services Agreement",
		Filename:         "msa.pdf",
		ContentHash:      ledger.HashHex([]byte("pdf-bytes")),
		Status:           document.StatusCompleted,
		TotalSigners:     2,
		CompletedSigners: 2,
		CompletedAt:      &completedAt,
		CreatedAt:        base,
	}

	s1At := base.Add(30 * time.Minute)
	s2At := completedAt
	signers := []document.Signer{
		{ID: "s-1", DocumentID: "d-1", Email: "ada@example.com", Name: "Ada", Status: document.SignerStatusSigned, SignedAt: &s1At, IPAddress: "203.0.113.5"},
		{ID: "s-2", DocumentID: "d-1", Email: "bob@example.com", Name: "Bob", Status: document.SignerStatusSigned, SignedAt: &s2At, IPAddress: "203.0.113.6"},
	}

	sigs := []document.SignatureRecord{
		{ID: "sig-1", DocumentID: "d-1", SignerID: "s-1", FieldID: "f-1", Hash: ledger.HashHex([]byte("ada-signature"))},
		{ID: "sig-2", DocumentID: "d-1", SignerID: "s-2", FieldID: "f-2", Hash: ledger.HashHex([]byte("bob-signature"))},
	}

	var entries []ledger.Entry
	prev := ""
	appendEntry := func(action ledger.Action, actor ledger.Actor, details ledger.Details, at time.Time) {
		e, err := ledger.New("d-1", action, actor, details, at)
		if err != nil {
			t.Fatalf("ledger.New(%s): %v", action, err)
		}
		e.Seal(prev)
		prev = e.EntryHash
		entries = append(entries, e)
	}

	owner := ledger.Actor{UserID: "u-1", IPAddress: "198.51.100.1"}
	appendEntry(ledger.ActionDocumentCreated, owner, ledger.DocumentCreatedDetails{Title: doc.Title, Filename: doc.Filename, ContentHash: doc.ContentHash, SizeBytes: 9}, base)
	appendEntry(ledger.ActionSignerAdded, owner, ledger.SignerAddedDetails{Email: "ada@example.com", Name: "Ada"}, base.Add(time.Minute))
	appendEntry(ledger.ActionSignerAdded, owner, ledger.SignerAddedDetails{Email: "bob@example.com", Name: "Bob"}, base.Add(2*time.Minute))
	appendEntry(ledger.ActionDocumentSent, owner, ledger.DocumentSentDetails{SignerCount: 2}, base.Add(3*time.Minute))
	appendEntry(ledger.ActionSignerSigned, ledger.Actor{SignerID: "s-1", IPAddress: "203.0.113.5"}, ledger.SignerSignedDetails{Email: "ada@example.com", Name: "Ada"}, s1At)
	appendEntry(ledger.ActionSignerSigned, ledger.Actor{SignerID: "s-2", IPAddress: "203.0.113.6"}, ledger.SignerSignedDetails{Email: "bob@example.com", Name: "Bob"}, s2At)
	appendEntry(ledger.ActionDocumentCompleted, ledger.Actor{SignerID: "s-2"}, ledger.DocumentCompletedDetails{TotalSigners: 2, CompletedSigners: 2}, completedAt)

	return doc, signers, sigs, entries
}

func TestBuildDeterministic(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)

	c1, r1, err := Build(doc, signers, sigs, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c2, r2, err := Build(doc, signers, sigs, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !bytes.Equal(r1.Body, r2.Body) {
		t.Fatalf("rebuilding from identical state must produce identical bytes")
	}
	if c1.CertificateHash != c2.CertificateHash || r1.CertificateHash != c1.CertificateHash {
		t.Fatalf("certificate hash must be stable")
	}
	if len(c1.CertificateHash) != 128 {
		t.Fatalf("expected 128 hex chars, got %d", len(c1.CertificateHash))
	}
	if !c1.GeneratedAt.Equal(*doc.CompletedAt) {
		t.Fatalf("generated_at must be pinned to completion time")
	}
}

func TestBuildRejectsIncompleteDocument(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)
	doc.Status = document.StatusPending
	if _, _, err := Build(doc, signers, sigs, entries); err == nil {
		t.Fatalf("expected error for non-completed document")
	}
}

func TestBuildRejectsBrokenChain(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)
	entries[2].Details = `{"email":"mallory@example.com","name":"Mallory"}`
	_, _, err := Build(doc, signers, sigs, entries)
	if !errors.Is(err, ledger.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
}

func TestBuildTrailStopsAtCompletion(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)

	// Entries after completion (the certificate record itself, later
	// downloads) must not appear in the attested trail.
	post, err := ledger.New("d-1", ledger.ActionDocumentDownloaded, ledger.Actor{UserID: "u-1"}, nil, doc.CompletedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	post.Seal(ledger.Tail(entries))
	withPost := append(append([]ledger.Entry{}, entries...), post)

	c1, r1, err := Build(doc, signers, sigs, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	c2, r2, err := Build(doc, signers, sigs, withPost)
	if err != nil {
		t.Fatalf("Build with post-completion entries: %v", err)
	}
	if !bytes.Equal(r1.Body, r2.Body) || c1.CertificateHash != c2.CertificateHash {
		t.Fatalf("post-completion entries must not change the certificate")
	}
	last := c2.AuditTrail[len(c2.AuditTrail)-1]
	if last.Action != string(ledger.ActionDocumentCompleted) {
		t.Fatalf("trail must end at the completion entry, got %s", last.Action)
	}
}

func TestBuildAttestations(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)
	cert, _, err := Build(doc, signers, sigs, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cert.Signers) != 2 {
		t.Fatalf("expected 2 attestations, got %d", len(cert.Signers))
	}
	if cert.Signers[0].Email != "ada@example.com" || cert.Signers[0].SignatureHash != sigs[0].Hash {
		t.Fatalf("unexpected first attestation: %+v", cert.Signers[0])
	}
	if cert.Signers[1].IPAddress != "203.0.113.6" {
		t.Fatalf("attestation must carry signing provenance")
	}
	for _, te := range cert.AuditTrail {
		if te.EntryHash == "" {
			t.Fatalf("trail entries must pin their entry hash")
		}
	}
	if cert.AuditTrail[4].Actor != "Ada (ada@example.com)" {
		t.Fatalf("signer entries must resolve to the signer label, got %q", cert.AuditTrail[4].Actor)
	}
	if cert.AuditTrail[0].Actor != "Olive Owner (owner@example.com)" {
		t.Fatalf("owner entries must resolve to the owner label, got %q", cert.AuditTrail[0].Actor)
	}
}

func TestBuildSkipsNonSignedSigners(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)
	declinedAt := doc.CreatedAt.Add(10 * time.Minute)
	signers = append(signers, document.Signer{
		ID: "s-3", DocumentID: "d-1", Email: "carol@example.com", Name: "Carol",
		Status: document.SignerStatusDeclined, DeclinedAt: &declinedAt,
	})
	cert, _, err := Build(doc, signers, sigs, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, att := range cert.Signers {
		if att.Email == "carol@example.com" {
			t.Fatalf("non-signed signers must not be attested")
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)
	cert, rec, err := Build(doc, signers, sigs, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got, err := Decode(rec)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.CertificateHash != cert.CertificateHash || got.DocumentID != cert.DocumentID {
		t.Fatalf("decoded certificate mismatch")
	}
	if len(got.AuditTrail) != len(cert.AuditTrail) || len(got.Signers) != len(cert.Signers) {
		t.Fatalf("decoded certificate lost content")
	}
}

func TestVerifyRecordDetectsTamper(t *testing.T) {
	doc, signers, sigs, entries := completedFixture(t)
	_, rec, err := Build(doc, signers, sigs, entries)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := VerifyRecord(rec); err != nil {
		t.Fatalf("VerifyRecord on intact record: %v", err)
	}
	rec.Body = bytes.Replace(rec.Body, []byte("Ada"), []byte("Eve"), 1)
	if err := VerifyRecord(rec); !errors.Is(err, ledger.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if _, err := Decode(rec); !errors.Is(err, ledger.ErrIntegrity) {
		t.Fatalf("Decode must refuse a tampered record, got %v", err)
	}
}

func TestTrailUpToCompletionRequiresCompletionEntry(t *testing.T) {
	_, _, _, entries := completedFixture(t)
	if _, err := TrailUpToCompletion(entries[:len(entries)-1]); !errors.Is(err, ledger.ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity for chain without completion entry, got %v", err)
	}
}

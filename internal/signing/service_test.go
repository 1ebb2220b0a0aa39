package signing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/internal/lifecycle"
	"esign-platform/internal/notify"
	"esign-platform/internal/storage"
	"esign-platform/internal/store"
)

var owner = lifecycle.Owner{ID: "owner-1", Email: "owner@example.com", Name: "Olivia Owner"}

var ownerActor = ledger.Actor{UserID: "owner-1", IPAddress: "198.51.100.7", UserAgent: "signing-test"}

var signerActor = ledger.Actor{IPAddress: "203.0.113.40", UserAgent: "signer-browser"}

type recordingDispatcher struct {
	mu        sync.Mutex
	completed []notify.CompletionNotice
	declined  []notify.DeclineNotice
}

func newRecordingDispatcher() *recordingDispatcher { return &recordingDispatcher{} }

func (r *recordingDispatcher) Name() string { return "recording" }

func (r *recordingDispatcher) SigningRequest(context.Context, notify.SigningRequest) error {
	return nil
}

func (r *recordingDispatcher) CompletionNotice(_ context.Context, n notify.CompletionNotice) error {
	r.mu.Lock()
	r.completed = append(r.completed, n)
	r.mu.Unlock()
	return nil
}

func (r *recordingDispatcher) DeclineNotice(_ context.Context, n notify.DeclineNotice) error {
	r.mu.Lock()
	r.declined = append(r.declined, n)
	r.mu.Unlock()
	return nil
}

// waitFor polls for an asynchronous dispatch to land.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

type harness struct {
	owners  *lifecycle.Service
	signing *Service
	store   *store.Memory
	mail    *recordingDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemory()
	mail := newRecordingDispatcher()
	blobs := storage.NewMemoryBlobs()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &harness{
		owners:  lifecycle.NewService(st, blobs, mail, log, "https://esign.example.com"),
		signing: NewService(st, blobs, mail, log),
		store:   st,
		mail:    mail,
	}
}

type fixture struct {
	doc    document.Document
	tokens map[string]string // email -> access token
	fields map[string]string // "email/type" -> field ID
}

// sentDocument builds and sends a document with one signature field and one
// text field per signer.
func (h *harness) sentDocument(t *testing.T, sequential bool, emails ...string) fixture {
	t.Helper()
	ctx := context.Background()
	doc, err := h.owners.CreateDocument(ctx, owner, lifecycle.CreateDocumentInput{
		Title:             "Supply Agreement",
		Filename:          "supply.pdf",
		Data:              []byte("%PDF-1.7 supply agreement"),
		SequentialSigning: sequential,
	}, ownerActor)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}

	fx := fixture{doc: doc, tokens: map[string]string{}, fields: map[string]string{}}
	for _, email := range emails {
		name := strings.Split(email, "@")[0]
		sg, err := h.owners.AddSigner(ctx, owner.ID, doc.ID, lifecycle.SignerInput{Email: email, Name: name}, ownerActor)
		if err != nil {
			t.Fatalf("AddSigner(%s): %v", email, err)
		}
		sig, err := h.owners.AddField(ctx, owner.ID, doc.ID, lifecycle.FieldInput{
			Type: document.FieldTypeSignature, SignerID: sg.ID, Page: 1, X: 50, Y: 600, W: 200, H: 50,
		}, ownerActor)
		if err != nil {
			t.Fatalf("AddField signature: %v", err)
		}
		txt, err := h.owners.AddField(ctx, owner.ID, doc.ID, lifecycle.FieldInput{
			Type: document.FieldTypeText, SignerID: sg.ID, Page: 1, X: 50, Y: 660, W: 200, H: 20,
		}, ownerActor)
		if err != nil {
			t.Fatalf("AddField text: %v", err)
		}
		fx.fields[email+"/signature"] = sig.ID
		fx.fields[email+"/text"] = txt.ID
	}

	if _, err := h.owners.Send(ctx, owner.ID, doc.ID, ownerActor); err != nil {
		t.Fatalf("Send: %v", err)
	}
	signers, err := h.store.Signers(ctx, doc.ID)
	if err != nil {
		t.Fatalf("Signers: %v", err)
	}
	for _, sg := range signers {
		fx.tokens[sg.Email] = sg.AccessToken
	}
	return fx
}

func (h *harness) submitAll(t *testing.T, fx fixture, email string) SubmitResult {
	t.Helper()
	res, err := h.signing.Submit(context.Background(), fx.tokens[email], SubmitInput{
		Submissions: []FieldSubmission{
			{FieldID: fx.fields[email+"/signature"], Value: "data:image/png;base64,aGVsbG8="},
			{FieldID: fx.fields[email+"/text"], Value: "Acme Corp"},
		},
	}, signerActor)
	if err != nil {
		t.Fatalf("Submit(%s): %v", email, err)
	}
	return res
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	h := newHarness(t)
	if _, err := h.signing.Session(context.Background(), "0000", signerActor); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.signing.Submit(context.Background(), "0000", SubmitInput{}, signerActor); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.signing.Decline(context.Background(), "0000", "", signerActor); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionMarksFirstView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, false, "alice@example.com")

	view, err := h.signing.Session(ctx, fx.tokens["alice@example.com"], signerActor)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if view.Signer.Status != document.SignerStatusViewed || view.Signer.ViewedAt == nil {
		t.Fatalf("expected viewed on first session, got %s", view.Signer.Status)
	}
	if len(view.Fields) != 2 {
		t.Fatalf("expected 2 fields in view, got %d", len(view.Fields))
	}
	if view.Document.ID != fx.doc.ID {
		t.Fatalf("session resolved the wrong document")
	}

	// A second session is idempotent on status.
	again, err := h.signing.Session(ctx, fx.tokens["alice@example.com"], signerActor)
	if err != nil {
		t.Fatalf("Session (second): %v", err)
	}
	if !again.Signer.ViewedAt.Equal(*view.Signer.ViewedAt) {
		t.Fatalf("ViewedAt must not move on later sessions")
	}

	entries, _ := h.store.Audit(ctx, fx.doc.ID)
	viewedEntries := 0
	for _, e := range entries {
		if e.Action == ledger.ActionSignerViewed {
			viewedEntries++
			if e.SignerID != view.Signer.ID {
				t.Fatalf("signer_viewed must carry the signer id")
			}
		}
	}
	if viewedEntries != 1 {
		t.Fatalf("expected exactly one signer_viewed entry, got %d", viewedEntries)
	}
}

func TestDocumentFetchRecordsView(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, false, "alice@example.com")

	file, err := h.signing.Document(ctx, fx.tokens["alice@example.com"], signerActor)
	if err != nil {
		t.Fatalf("Document: %v", err)
	}
	if file.Filename != "supply.pdf" || len(file.Data) == 0 {
		t.Fatalf("unexpected file payload")
	}

	entries, _ := h.store.Audit(ctx, fx.doc.ID)
	last := entries[len(entries)-1]
	if last.Action != ledger.ActionDocumentViewed {
		t.Fatalf("expected document_viewed last, got %s", last.Action)
	}
	if report := ledger.Verify(entries); !report.Valid {
		t.Fatalf("chain must verify: %s", report.Reason)
	}
}

func TestSubmitPartialThenComplete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, false, "alice@example.com")
	token := fx.tokens["alice@example.com"]

	partial, err := h.signing.Submit(ctx, token, SubmitInput{
		Submissions: []FieldSubmission{{FieldID: fx.fields["alice@example.com/text"], Value: "Acme Corp"}},
	}, signerActor)
	if err != nil {
		t.Fatalf("Submit partial: %v", err)
	}
	if partial.SignerSigned || partial.DocumentCompleted {
		t.Fatalf("a partial submission must not sign or complete: %+v", partial)
	}
	if partial.Applied != 1 {
		t.Fatalf("expected 1 applied, got %d", partial.Applied)
	}

	// The partial value survives a fresh session.
	view, err := h.signing.Session(ctx, token, signerActor)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	found := false
	for _, f := range view.Fields {
		if f.ID == fx.fields["alice@example.com/text"] && f.Value == "Acme Corp" {
			found = true
		}
	}
	if !found {
		t.Fatalf("partial submission was not durable")
	}

	final, err := h.signing.Submit(ctx, token, SubmitInput{
		Submissions: []FieldSubmission{{FieldID: fx.fields["alice@example.com/signature"], Value: "data:image/png;base64,aGVsbG8="}},
	}, signerActor)
	if err != nil {
		t.Fatalf("Submit final: %v", err)
	}
	if !final.SignerSigned || !final.DocumentCompleted {
		t.Fatalf("expected signing and completion, got %+v", final)
	}

	doc, _ := h.store.GetDocument(ctx, fx.doc.ID)
	if doc.Status != document.StatusCompleted {
		t.Fatalf("expected completed, got %s", doc.Status)
	}
	if doc.CompletedSigners != 1 {
		t.Fatalf("expected CompletedSigners 1, got %d", doc.CompletedSigners)
	}
	if _, err := h.store.Certificate(ctx, fx.doc.ID); err != nil {
		t.Fatalf("expected a certificate, got %v", err)
	}

	sigs, _ := h.store.Signatures(ctx, fx.doc.ID)
	if len(sigs) != 1 {
		t.Fatalf("expected 1 signature record, got %d", len(sigs))
	}
	if sigs[0].Hash != ledger.HashHex([]byte("data:image/png;base64,aGVsbG8=")) {
		t.Fatalf("signature hash mismatch")
	}

	entries, _ := h.store.Audit(ctx, fx.doc.ID)
	if report := ledger.Verify(entries); !report.Valid {
		t.Fatalf("chain must verify after completion: %s", report.Reason)
	}
	n := len(entries)
	if entries[n-1].Action != ledger.ActionCertificateGenerated || entries[n-2].Action != ledger.ActionDocumentCompleted {
		t.Fatalf("expected completion entries last")
	}
}

func TestSubmitRejectsForeignField(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, false, "alice@example.com", "bob@example.com")

	_, err := h.signing.Submit(ctx, fx.tokens["alice@example.com"], SubmitInput{
		Submissions: []FieldSubmission{{FieldID: fx.fields["bob@example.com/text"], Value: "not mine"}},
	}, signerActor)
	if !errors.Is(err, document.ErrForbidden) {
		t.Fatalf("expected ErrForbidden for another signer's field, got %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, false, "alice@example.com")
	token := fx.tokens["alice@example.com"]

	if _, err := h.signing.Submit(ctx, token, SubmitInput{
		Submissions: []FieldSubmission{{FieldID: "ghost", Value: "x"}},
	}, signerActor); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown field, got %v", err)
	}
	if _, err := h.signing.Submit(ctx, token, SubmitInput{
		Submissions: []FieldSubmission{{FieldID: fx.fields["alice@example.com/text"], Value: "   "}},
	}, signerActor); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected ErrValidation for empty value, got %v", err)
	}

	// Signing the same drawing field twice in one batch fails and rolls the
	// whole batch back.
	sig := fx.fields["alice@example.com/signature"]
	if _, err := h.signing.Submit(ctx, token, SubmitInput{
		Submissions: []FieldSubmission{
			{FieldID: sig, Value: "data:image/png;base64,one"},
			{FieldID: sig, Value: "data:image/png;base64,two"},
		},
	}, signerActor); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected ErrValidation for a duplicate signature, got %v", err)
	}
	sigs, _ := h.store.Signatures(ctx, fx.doc.ID)
	if len(sigs) != 0 {
		t.Fatalf("a failed batch must leave no signature records, got %d", len(sigs))
	}
}

func TestSignedSignerCannotActAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, false, "alice@example.com", "bob@example.com")

	if res := h.submitAll(t, fx, "alice@example.com"); !res.SignerSigned || res.DocumentCompleted {
		t.Fatalf("expected alice signed, document still pending: %+v", res)
	}
	if _, err := h.signing.Submit(ctx, fx.tokens["alice@example.com"], SubmitInput{}, signerActor); !errors.Is(err, document.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition after signing, got %v", err)
	}
	if _, err := h.signing.Decline(ctx, fx.tokens["alice@example.com"], "changed my mind", signerActor); !errors.Is(err, document.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition declining after signing, got %v", err)
	}
}

func TestSequentialGating(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, true, "alice@example.com", "bob@example.com")

	// Bob is second; nothing works until Alice signed.
	if _, err := h.signing.Session(ctx, fx.tokens["bob@example.com"], signerActor); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected ErrValidation opening out of turn, got %v", err)
	}
	if _, err := h.signing.Submit(ctx, fx.tokens["bob@example.com"], SubmitInput{
		Submissions: []FieldSubmission{{FieldID: fx.fields["bob@example.com/text"], Value: "early"}},
	}, signerActor); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected ErrValidation submitting out of turn, got %v", err)
	}
	if _, err := h.signing.Decline(ctx, fx.tokens["bob@example.com"], "", signerActor); !errors.Is(err, document.ErrValidation) {
		t.Fatalf("expected ErrValidation declining out of turn, got %v", err)
	}

	// Alice is first and unblocked.
	if _, err := h.signing.Session(ctx, fx.tokens["alice@example.com"], signerActor); err != nil {
		t.Fatalf("Session for the first signer: %v", err)
	}
	h.submitAll(t, fx, "alice@example.com")

	// Now it is Bob's turn.
	if _, err := h.signing.Session(ctx, fx.tokens["bob@example.com"], signerActor); err != nil {
		t.Fatalf("Session after the first signer finished: %v", err)
	}
	res := h.submitAll(t, fx, "bob@example.com")
	if !res.DocumentCompleted {
		t.Fatalf("expected completion after the last signer: %+v", res)
	}
}

func TestDeclineBlocksCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	fx := h.sentDocument(t, false, "alice@example.com", "bob@example.com")

	declined, err := h.signing.Decline(ctx, fx.tokens["bob@example.com"], "terms unacceptable", signerActor)
	if err != nil {
		t.Fatalf("Decline: %v", err)
	}
	if declined.Status != document.SignerStatusDeclined || declined.DeclinedAt == nil {
		t.Fatalf("expected declined signer, got %s", declined.Status)
	}
	if declined.DeclineReason != "terms unacceptable" {
		t.Fatalf("expected reason kept, got %q", declined.DeclineReason)
	}

	// The document stays pending for the owner to void.
	doc, _ := h.store.GetDocument(ctx, fx.doc.ID)
	if doc.Status != document.StatusPending {
		t.Fatalf("expected pending after decline, got %s", doc.Status)
	}

	// The other signer can still sign, but the document never completes.
	res := h.submitAll(t, fx, "alice@example.com")
	if !res.SignerSigned {
		t.Fatalf("expected alice to sign")
	}
	if res.DocumentCompleted {
		t.Fatalf("a declined signer must block completion")
	}
	doc, _ = h.store.GetDocument(ctx, fx.doc.ID)
	if doc.Status != document.StatusPending {
		t.Fatalf("expected pending, got %s", doc.Status)
	}
	if _, err := h.store.Certificate(ctx, fx.doc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("no certificate may exist, got %v", err)
	}

	// The owner was notified of the decline.
	waitFor(t, "the decline notice", func() bool {
		h.mail.mu.Lock()
		defer h.mail.mu.Unlock()
		return len(h.mail.declined) >= 1
	})
	h.mail.mu.Lock()
	notices := append([]notify.DeclineNotice(nil), h.mail.declined...)
	h.mail.mu.Unlock()
	if len(notices) != 1 || notices[0].RecipientEmail != owner.Email {
		t.Fatalf("expected one decline notice to the owner, got %+v", notices)
	}
	if notices[0].SignerEmail != "bob@example.com" || notices[0].Reason != "terms unacceptable" {
		t.Fatalf("decline notice incomplete: %+v", notices[0])
	}
}

func TestCompletionNotifiesEveryone(t *testing.T) {
	h := newHarness(t)
	fx := h.sentDocument(t, false, "alice@example.com", "bob@example.com")

	h.submitAll(t, fx, "alice@example.com")
	res := h.submitAll(t, fx, "bob@example.com")
	if !res.DocumentCompleted {
		t.Fatalf("expected completion")
	}

	// Owner plus two signers.
	waitFor(t, "completion notices", func() bool {
		h.mail.mu.Lock()
		defer h.mail.mu.Unlock()
		return len(h.mail.completed) >= 3
	})
	h.mail.mu.Lock()
	recipients := map[string]bool{}
	for _, n := range h.mail.completed {
		recipients[n.RecipientEmail] = true
	}
	h.mail.mu.Unlock()
	for _, want := range []string{owner.Email, "alice@example.com", "bob@example.com"} {
		if !recipients[want] {
			t.Fatalf("expected completion notice for %s, got %v", want, recipients)
		}
	}
}

func TestSelfSignFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.owners.CreateDocument(ctx, owner, lifecycle.CreateDocumentInput{
		Title:        "Board Resolution",
		Filename:     "resolution.pdf",
		Data:         []byte("%PDF-1.7 resolved"),
		SelfSignOnly: true,
	}, ownerActor)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	// An unowned signature field; the implicit signer answers for it.
	field, err := h.owners.AddField(ctx, owner.ID, doc.ID, lifecycle.FieldInput{
		Type: document.FieldTypeSignature, Page: 1, X: 40, Y: 700, W: 220, H: 60,
	}, ownerActor)
	if err != nil {
		t.Fatalf("AddField: %v", err)
	}
	sent, err := h.owners.Send(ctx, owner.ID, doc.ID, ownerActor)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(sent.Links) != 1 {
		t.Fatalf("expected one signing link, got %d", len(sent.Links))
	}
	token := sent.Links[0].URL[strings.LastIndex(sent.Links[0].URL, "/")+1:]

	view, err := h.signing.Session(ctx, token, signerActor)
	if err != nil {
		t.Fatalf("Session: %v", err)
	}
	if !view.Signer.Implicit {
		t.Fatalf("expected the implicit signer")
	}

	res, err := h.signing.Submit(ctx, token, SubmitInput{
		Submissions: []FieldSubmission{{FieldID: field.ID, Value: "data:image/png;base64,c2VsZg=="}},
	}, signerActor)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.SignerSigned || !res.DocumentCompleted {
		t.Fatalf("expected self-sign completion, got %+v", res)
	}

	got, _ := h.store.GetDocument(ctx, doc.ID)
	if got.Status != document.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestSelfSignWithoutFieldsConfirms(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	doc, err := h.owners.CreateDocument(ctx, owner, lifecycle.CreateDocumentInput{
		Title:        "Simple Ack",
		Filename:     "ack.pdf",
		Data:         []byte("%PDF-1.7 ack"),
		SelfSignOnly: true,
	}, ownerActor)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	sent, err := h.owners.Send(ctx, owner.ID, doc.ID, ownerActor)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	token := sent.Links[0].URL[strings.LastIndex(sent.Links[0].URL, "/")+1:]

	res, err := h.signing.Submit(ctx, token, SubmitInput{}, signerActor)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.SignerSigned || !res.DocumentCompleted {
		t.Fatalf("an empty batch must confirm a fieldless self-sign document, got %+v", res)
	}
}

func TestExpiredDocumentRejectsSigning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	expires := time.Now().UTC().Add(time.Hour)
	doc, err := h.owners.CreateDocument(ctx, owner, lifecycle.CreateDocumentInput{
		Title:     "Time-boxed Offer",
		Filename:  "offer.pdf",
		Data:      []byte("%PDF-1.7 offer"),
		ExpiresAt: &expires,
	}, ownerActor)
	if err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if _, err := h.owners.AddSigner(ctx, owner.ID, doc.ID, lifecycle.SignerInput{Email: "alice@example.com", Name: "Alice"}, ownerActor); err != nil {
		t.Fatalf("AddSigner: %v", err)
	}
	if _, err := h.owners.Send(ctx, owner.ID, doc.ID, ownerActor); err != nil {
		t.Fatalf("Send: %v", err)
	}
	signers, _ := h.store.Signers(ctx, doc.ID)
	token := signers[0].AccessToken

	// Warp the signing clock past the deadline.
	h.signing.clock = func() time.Time { return time.Now().Add(2 * time.Hour) }

	if _, err := h.signing.Session(ctx, token, signerActor); !errors.Is(err, document.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition for an expired document, got %v", err)
	}

	// The rejection committed the expiry.
	got, _ := h.store.GetDocument(ctx, doc.ID)
	if got.Status != document.StatusExpired {
		t.Fatalf("lazy expiry must persist, got %s", got.Status)
	}
	entries, _ := h.store.Audit(ctx, doc.ID)
	if entries[len(entries)-1].Action != ledger.ActionDocumentExpired {
		t.Fatalf("expected document_expired on the chain")
	}

	// Still rejected afterwards, now by status.
	if _, err := h.signing.Submit(ctx, token, SubmitInput{}, signerActor); !errors.Is(err, document.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

// TestConcurrentFinalSubmissions races every signer's last submission and
// requires exactly one completion outcome and a linear chain.
func TestConcurrentFinalSubmissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	emails := []string{"a@example.com", "b@example.com", "c@example.com"}
	fx := h.sentDocument(t, false, emails...)

	results := make([]SubmitResult, len(emails))
	var wg sync.WaitGroup
	for i, email := range emails {
		wg.Add(1)
		go func(i int, email string) {
			defer wg.Done()
			res, err := h.signing.Submit(ctx, fx.tokens[email], SubmitInput{
				Submissions: []FieldSubmission{
					{FieldID: fx.fields[email+"/signature"], Value: "data:image/png;base64," + email},
					{FieldID: fx.fields[email+"/text"], Value: email},
				},
			}, signerActor)
			if err != nil {
				t.Errorf("Submit(%s): %v", email, err)
				return
			}
			results[i] = res
		}(i, email)
	}
	wg.Wait()

	completions := 0
	for _, res := range results {
		if res.DocumentCompleted {
			completions++
		}
	}
	if completions != 1 {
		t.Fatalf("expected exactly one completion, got %d", completions)
	}

	doc, _ := h.store.GetDocument(ctx, fx.doc.ID)
	if doc.Status != document.StatusCompleted || doc.CompletedSigners != 3 {
		t.Fatalf("expected completed with 3 signers, got %s (%d)", doc.Status, doc.CompletedSigners)
	}
	if _, err := h.store.Certificate(ctx, fx.doc.ID); err != nil {
		t.Fatalf("expected one stored certificate, got %v", err)
	}

	entries, _ := h.store.Audit(ctx, fx.doc.ID)
	if report := ledger.Verify(entries); !report.Valid {
		t.Fatalf("chain must stay linear and valid under concurrency: %s", report.Reason)
	}
	generated := 0
	for _, e := range entries {
		if e.Action == ledger.ActionCertificateGenerated {
			generated++
		}
	}
	if generated != 1 {
		t.Fatalf("expected exactly one certificate_generated entry, got %d", generated)
	}
}

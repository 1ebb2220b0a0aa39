// Package signing implements the signer-facing surface. Signers are not
// authenticated users; the access token embedded in their signing link is
// the whole credential, and every operation here starts by resolving it.
package signing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/internal/lifecycle"
	"esign-platform/internal/metrics"
	"esign-platform/internal/notify"
	"esign-platform/internal/storage"
	"esign-platform/internal/store"

	"github.com/google/uuid"
)

type Service struct {
	store  store.Store
	blobs  storage.Blobs
	notify notify.Dispatcher
	log    *slog.Logger

	clock func() time.Time
}

func NewService(st store.Store, blobs storage.Blobs, dispatcher notify.Dispatcher, log *slog.Logger) *Service {
	return &Service{
		store:  st,
		blobs:  blobs,
		notify: dispatcher,
		log:    log,
		clock:  time.Now,
	}
}

func (s *Service) now() time.Time {
	return s.clock().UTC().Truncate(time.Microsecond)
}

// gate wraps a signing-surface transaction with lazy expiry: an overdue
// pending document is expired and committed, and the access is rejected.
// Expiring and rejecting must not share an outcome with fn, or a rollback
// of fn would undo the expiry.
func (s *Service) gate(ctx context.Context, documentID string, now time.Time, fn func(tx store.Tx) error) error {
	var expired bool
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		expired = false
		did, err := lifecycle.ExpireIfOverdue(tx, now)
		if err != nil {
			return err
		}
		if did {
			expired = true
			return nil
		}
		return fn(tx)
	})
	if err != nil {
		return err
	}
	if expired {
		metrics.DocumentsExpiredTotal.Inc()
		return fmt.Errorf("%w: document expired", document.ErrIllegalTransition)
	}
	return nil
}

// requireTurn enforces sequential signing: with SequentialSigning set, a
// signer acts only after every lower-ordered signer has signed. Ties act in
// any order.
func requireTurn(doc document.Document, signers []document.Signer, me document.Signer) error {
	if !doc.SequentialSigning {
		return nil
	}
	for _, sg := range signers {
		if sg.OrderIndex < me.OrderIndex && sg.Status != document.SignerStatusSigned {
			return fmt.Errorf("%w: waiting for earlier signers to finish", document.ErrValidation)
		}
	}
	return nil
}

func viewable(doc document.Document) error {
	switch doc.Status {
	case document.StatusPending, document.StatusCompleted:
		return nil
	default:
		return fmt.Errorf("%w: document is %s, not open for signing", document.ErrIllegalTransition, doc.Status)
	}
}

func actionable(doc document.Document) error {
	if doc.Status != document.StatusPending {
		return fmt.Errorf("%w: document is %s, not open for signing", document.ErrIllegalTransition, doc.Status)
	}
	return nil
}

func findSigner(signers []document.Signer, id string) (document.Signer, error) {
	for _, sg := range signers {
		if sg.ID == id {
			return sg, nil
		}
	}
	return document.Signer{}, fmt.Errorf("%w: signer %s", store.ErrNotFound, id)
}

// SessionView is everything a signer needs to render their signing page.
// All fields are included so the page shows the whole document; the signer
// may only fill their own and unowned ones.
type SessionView struct {
	Document document.Document `json:"document"`
	Signer   document.Signer   `json:"signer"`
	Fields   []document.Field  `json:"fields"`
}

// Session resolves an access token and opens the signer's view of the
// document. The first session of a sent signer transitions them to viewed.
func (s *Service) Session(ctx context.Context, token string, actor ledger.Actor) (SessionView, error) {
	sg, err := s.store.SignerByToken(ctx, token)
	if err != nil {
		return SessionView{}, err
	}
	actor.SignerID = sg.ID
	now := s.now()

	var view SessionView
	err = s.gate(ctx, sg.DocumentID, now, func(tx store.Tx) error {
		doc := tx.Document()
		if err := viewable(doc); err != nil {
			return err
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		me, err := findSigner(signers, sg.ID)
		if err != nil {
			return err
		}
		if doc.Status == document.StatusPending {
			if err := requireTurn(doc, signers, me); err != nil {
				return err
			}
		}

		if me.Status == document.SignerStatusSent {
			viewedAt := now
			me.Status = document.SignerStatusViewed
			me.ViewedAt = &viewedAt
			if err := tx.SetSigner(me); err != nil {
				return err
			}
			if _, err := lifecycle.Record(tx, doc.ID, ledger.ActionSignerViewed, actor, ledger.SignerViewedDetails{
				Email: me.Email,
			}, now); err != nil {
				return err
			}
		}

		fields, err := tx.Fields()
		if err != nil {
			return err
		}
		view = SessionView{Document: doc, Signer: me, Fields: fields}
		return nil
	})
	if err != nil {
		return SessionView{}, err
	}
	return view, nil
}

// DocumentFile is the binary a signing page renders.
type DocumentFile struct {
	Filename string
	Data     []byte
}

// Document returns the document binary to a signer and records the view on
// the chain. Viewing stays available after completion.
func (s *Service) Document(ctx context.Context, token string, actor ledger.Actor) (DocumentFile, error) {
	sg, err := s.store.SignerByToken(ctx, token)
	if err != nil {
		return DocumentFile{}, err
	}
	actor.SignerID = sg.ID
	now := s.now()

	var doc document.Document
	err = s.gate(ctx, sg.DocumentID, now, func(tx store.Tx) error {
		doc = tx.Document()
		if err := viewable(doc); err != nil {
			return err
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		me, err := findSigner(signers, sg.ID)
		if err != nil {
			return err
		}
		if doc.Status == document.StatusPending {
			if err := requireTurn(doc, signers, me); err != nil {
				return err
			}
		}
		_, err = lifecycle.Record(tx, doc.ID, ledger.ActionDocumentViewed, actor, nil, now)
		return err
	})
	if err != nil {
		return DocumentFile{}, err
	}

	data, err := s.blobs.Load(ctx, doc.StoragePath)
	if err != nil {
		return DocumentFile{}, err
	}
	return DocumentFile{Filename: doc.Filename, Data: data}, nil
}

type FieldSubmission struct {
	FieldID string `json:"field_id"`
	Value   string `json:"value"`
}

type SubmitInput struct {
	Submissions []FieldSubmission `json:"submissions"`
}

type SubmitResult struct {
	Applied           int  `json:"applied"`
	SignerSigned      bool `json:"signer_signed"`
	DocumentCompleted bool `json:"document_completed"`
}

// Submit applies a batch of field submissions for one signer. Partial
// submissions are fine and durable; the signer flips to signed the moment
// every required field is satisfied, and document completion is evaluated
// in the same transaction. An empty batch just re-evaluates satisfaction,
// which is how a signer with no required fields confirms a self-sign
// document.
func (s *Service) Submit(ctx context.Context, token string, in SubmitInput, actor ledger.Actor) (SubmitResult, error) {
	start := time.Now()
	defer func() {
		metrics.SubmitDuration.Observe(time.Since(start).Seconds())
	}()

	sg, err := s.store.SignerByToken(ctx, token)
	if err != nil {
		return SubmitResult{}, err
	}
	actor.SignerID = sg.ID
	now := s.now()

	var (
		res        SubmitResult
		signatures int
		notices    []notify.CompletionNotice
	)
	err = s.gate(ctx, sg.DocumentID, now, func(tx store.Tx) error {
		res = SubmitResult{}
		signatures = 0
		notices = nil

		doc := tx.Document()
		if err := actionable(doc); err != nil {
			return err
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		me, err := findSigner(signers, sg.ID)
		if err != nil {
			return err
		}
		switch me.Status {
		case document.SignerStatusSigned:
			return fmt.Errorf("%w: signer already signed", document.ErrIllegalTransition)
		case document.SignerStatusDeclined:
			return fmt.Errorf("%w: signer declined", document.ErrIllegalTransition)
		}
		if err := requireTurn(doc, signers, me); err != nil {
			return err
		}

		fields, err := tx.Fields()
		if err != nil {
			return err
		}
		sigs, err := tx.Signatures()
		if err != nil {
			return err
		}
		signedFields := make(map[string]bool, len(sigs))
		for _, sr := range sigs {
			if sr.SignerID == me.ID {
				signedFields[sr.FieldID] = true
			}
		}

		for _, sub := range in.Submissions {
			idx := -1
			for i := range fields {
				if fields[i].ID == sub.FieldID {
					idx = i
					break
				}
			}
			if idx < 0 {
				return fmt.Errorf("%w: unknown field %s", document.ErrValidation, sub.FieldID)
			}
			f := fields[idx]
			if f.SignerID != "" && f.SignerID != me.ID {
				return fmt.Errorf("%w: field %s belongs to another signer", document.ErrForbidden, f.ID)
			}
			if strings.TrimSpace(sub.Value) == "" {
				return fmt.Errorf("%w: empty value for field %s", document.ErrValidation, f.ID)
			}

			if f.Type.NeedsDrawing() {
				if signedFields[f.ID] {
					return fmt.Errorf("%w: field %s already signed", document.ErrValidation, f.ID)
				}
				rec := document.SignatureRecord{
					ID:         uuid.NewString(),
					DocumentID: doc.ID,
					SignerID:   me.ID,
					FieldID:    f.ID,
					Data:       sub.Value,
					Hash:       ledger.HashHex([]byte(sub.Value)),
					IPAddress:  actor.IPAddress,
					UserAgent:  actor.UserAgent,
					CreatedAt:  now,
				}
				if err := tx.AddSignature(rec); err != nil {
					return err
				}
				if _, err := lifecycle.Record(tx, doc.ID, ledger.ActionSignatureApplied, actor, ledger.SignatureAppliedDetails{
					FieldID:       f.ID,
					SignatureHash: rec.Hash,
				}, now); err != nil {
					return err
				}
				signedFields[f.ID] = true
				signatures++
			} else {
				f.Value = sub.Value
				f.UpdatedAt = now
				if err := tx.SetField(f); err != nil {
					return err
				}
				fields[idx] = f
			}
			res.Applied++
		}

		if satisfied(me, fields, signedFields) {
			signedAt := now
			me.Status = document.SignerStatusSigned
			me.SignedAt = &signedAt
			me.IPAddress = actor.IPAddress
			me.UserAgent = actor.UserAgent
			if err := tx.SetSigner(me); err != nil {
				return err
			}
			if _, err := lifecycle.Record(tx, doc.ID, ledger.ActionSignerSigned, actor, ledger.SignerSignedDetails{
				Email: me.Email,
				Name:  me.Name,
			}, now); err != nil {
				return err
			}
			res.SignerSigned = true

			signed := 0
			for _, other := range signers {
				if other.ID == me.ID || other.Status == document.SignerStatusSigned {
					signed++
				}
			}
			doc.CompletedSigners = signed
			doc.UpdatedAt = now
			if err := tx.SetDocument(doc); err != nil {
				return err
			}

			completed, err := lifecycle.FinalizeIfComplete(tx, actor, now)
			if err != nil {
				return err
			}
			res.DocumentCompleted = completed
			if completed {
				notices = completionNotices(tx.Document(), signers, me)
			}
		} else if res.Applied > 0 {
			doc.UpdatedAt = now
			if err := tx.SetDocument(doc); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return SubmitResult{}, err
	}

	if signatures > 0 {
		metrics.SignaturesAppliedTotal.Add(float64(signatures))
	}
	if res.DocumentCompleted {
		metrics.DocumentsCompletedTotal.Inc()
		metrics.CertificatesGeneratedTotal.Inc()
		if len(notices) > 0 {
			go s.dispatchCompletion(notices)
		}
		s.log.InfoContext(ctx, "document completed",
			"document_id", sg.DocumentID, "signer_id", sg.ID)
	} else if res.SignerSigned {
		s.log.InfoContext(ctx, "signer finished signing",
			"document_id", sg.DocumentID, "signer_id", sg.ID)
	}
	return res, nil
}

// satisfied reports whether every required field bound to the signer is
// filled. The implicit signer of a self-sign document also answers for
// unowned fields; on regular documents unowned fields gate nobody.
func satisfied(me document.Signer, fields []document.Field, signedFields map[string]bool) bool {
	for _, f := range fields {
		if !f.Required {
			continue
		}
		mine := f.SignerID == me.ID || (f.SignerID == "" && me.Implicit)
		if !mine {
			continue
		}
		if f.Type.NeedsDrawing() {
			if !signedFields[f.ID] {
				return false
			}
		} else if f.Value == "" {
			return false
		}
	}
	return true
}

func completionNotices(doc document.Document, signers []document.Signer, me document.Signer) []notify.CompletionNotice {
	seen := make(map[string]bool, len(signers)+1)
	var notices []notify.CompletionNotice
	add := func(email, name string) {
		key := strings.ToLower(email)
		if email == "" || seen[key] {
			return
		}
		seen[key] = true
		notices = append(notices, notify.CompletionNotice{
			RecipientEmail: email,
			RecipientName:  name,
			DocumentID:     doc.ID,
			DocumentTitle:  doc.Title,
		})
	}
	add(doc.OwnerEmail, doc.OwnerName)
	for _, sg := range signers {
		if sg.ID == me.ID {
			add(me.Email, me.Name)
			continue
		}
		add(sg.Email, sg.Name)
	}
	return notices
}

// Decline marks a signer as declined. The document stays pending; blocked
// from completing but alive until the owner voids it.
func (s *Service) Decline(ctx context.Context, token, reason string, actor ledger.Actor) (document.Signer, error) {
	sg, err := s.store.SignerByToken(ctx, token)
	if err != nil {
		return document.Signer{}, err
	}
	actor.SignerID = sg.ID
	reason = strings.TrimSpace(reason)
	now := s.now()

	var (
		declined document.Signer
		notice   notify.DeclineNotice
	)
	err = s.gate(ctx, sg.DocumentID, now, func(tx store.Tx) error {
		doc := tx.Document()
		if err := actionable(doc); err != nil {
			return err
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		me, err := findSigner(signers, sg.ID)
		if err != nil {
			return err
		}
		if !document.ValidSignerTransition(me.Status, document.SignerStatusDeclined) {
			return fmt.Errorf("%w: signer is %s", document.ErrIllegalTransition, me.Status)
		}
		if err := requireTurn(doc, signers, me); err != nil {
			return err
		}

		declinedAt := now
		me.Status = document.SignerStatusDeclined
		me.DeclinedAt = &declinedAt
		me.DeclineReason = reason
		me.IPAddress = actor.IPAddress
		me.UserAgent = actor.UserAgent
		if err := tx.SetSigner(me); err != nil {
			return err
		}
		if _, err := lifecycle.Record(tx, doc.ID, ledger.ActionSignerDeclined, actor, ledger.SignerDeclinedDetails{
			Email:  me.Email,
			Reason: reason,
		}, now); err != nil {
			return err
		}
		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}

		declined = me
		notice = notify.DeclineNotice{
			RecipientEmail: doc.OwnerEmail,
			RecipientName:  doc.OwnerName,
			DocumentID:     doc.ID,
			DocumentTitle:  doc.Title,
			SignerEmail:    me.Email,
			Reason:         reason,
		}
		return nil
	})
	if err != nil {
		return document.Signer{}, err
	}

	metrics.SignersDeclinedTotal.Inc()
	if notice.RecipientEmail != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := s.notify.DeclineNotice(ctx, notice); err != nil {
				s.log.Error("decline notice dispatch failed",
					"recipient", notice.RecipientEmail, "document_id", notice.DocumentID, "error", err)
			}
		}()
	}
	s.log.InfoContext(ctx, "signer declined",
		"document_id", sg.DocumentID, "signer_id", sg.ID, "reason", reason)
	return declined, nil
}

func (s *Service) dispatchCompletion(notices []notify.CompletionNotice) {
	for _, n := range notices {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := s.notify.CompletionNotice(ctx, n); err != nil {
			s.log.Error("completion notice dispatch failed",
				"recipient", n.RecipientEmail, "document_id", n.DocumentID, "error", err)
		}
		cancel()
	}
}

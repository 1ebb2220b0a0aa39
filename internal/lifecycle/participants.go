package lifecycle

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"esign-platform/internal/document"
	"esign-platform/internal/ledger"
	"esign-platform/internal/store"

	"github.com/google/uuid"
)

// Structure editing. Everything here is draft-only: once a document is
// sent, its signer set and field layout are frozen and only status moves.

type SignerInput struct {
	Email      string
	Name       string
	OrderIndex *int
}

func (s *Service) AddSigner(ctx context.Context, ownerID, documentID string, in SignerInput, actor ledger.Actor) (document.Signer, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return document.Signer{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return document.Signer{}, fmt.Errorf("%w: signer name required", document.ErrValidation)
	}

	now := s.now()
	var out document.Signer
	err = s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: signers are frozen once the document leaves draft", document.ErrValidation)
		}
		if doc.SelfSignOnly {
			return fmt.Errorf("%w: self-sign documents take no signers", document.ErrValidation)
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		for _, existing := range signers {
			if strings.EqualFold(existing.Email, email) {
				return fmt.Errorf("%w: signer %s already added", document.ErrValidation, email)
			}
		}

		order := len(signers)
		if in.OrderIndex != nil {
			if *in.OrderIndex < 0 {
				return fmt.Errorf("%w: order index must not be negative", document.ErrValidation)
			}
			order = *in.OrderIndex
		}

		sg := document.Signer{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			Email:       email,
			Name:        name,
			Status:      document.SignerStatusPending,
			OrderIndex:  order,
			AccessToken: document.NewAccessToken(),
			CreatedAt:   now,
		}
		if err := tx.AddSigner(sg); err != nil {
			return err
		}

		doc.TotalSigners = len(signers) + 1
		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		if _, err := Record(tx, doc.ID, ledger.ActionSignerAdded, actor, ledger.SignerAddedDetails{
			Email:      email,
			Name:       name,
			OrderIndex: order,
		}, now); err != nil {
			return err
		}
		out = sg
		return nil
	})
	return out, err
}

func (s *Service) UpdateSigner(ctx context.Context, ownerID, documentID, signerID string, in SignerInput, actor ledger.Actor) (document.Signer, error) {
	now := s.now()
	var out document.Signer
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: signers are frozen once the document leaves draft", document.ErrValidation)
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		var target *document.Signer
		for i := range signers {
			if signers[i].ID == signerID {
				target = &signers[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: signer %s", store.ErrNotFound, signerID)
		}

		if in.Email != "" {
			email, err := normalizeEmail(in.Email)
			if err != nil {
				return err
			}
			for _, other := range signers {
				if other.ID != signerID && strings.EqualFold(other.Email, email) {
					return fmt.Errorf("%w: signer %s already added", document.ErrValidation, email)
				}
			}
			target.Email = email
		}
		if name := strings.TrimSpace(in.Name); name != "" {
			target.Name = name
		}
		if in.OrderIndex != nil {
			if *in.OrderIndex < 0 {
				return fmt.Errorf("%w: order index must not be negative", document.ErrValidation)
			}
			target.OrderIndex = *in.OrderIndex
		}
		if err := tx.SetSigner(*target); err != nil {
			return err
		}

		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		if _, err := Record(tx, doc.ID, ledger.ActionSignerUpdated, actor, ledger.SignerUpdatedDetails{
			Email: target.Email,
		}, now); err != nil {
			return err
		}
		out = *target
		return nil
	})
	return out, err
}

func (s *Service) RemoveSigner(ctx context.Context, ownerID, documentID, signerID string, actor ledger.Actor) error {
	now := s.now()
	return s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: signers are frozen once the document leaves draft", document.ErrValidation)
		}
		signers, err := tx.Signers()
		if err != nil {
			return err
		}
		var removed *document.Signer
		for i := range signers {
			if signers[i].ID == signerID {
				removed = &signers[i]
				break
			}
		}
		if removed == nil {
			return fmt.Errorf("%w: signer %s", store.ErrNotFound, signerID)
		}
		if err := tx.RemoveSigner(signerID); err != nil {
			return err
		}

		// Fields assigned to the removed signer become unowned rather than
		// dangling.
		fields, err := tx.Fields()
		if err != nil {
			return err
		}
		for _, f := range fields {
			if f.SignerID == signerID {
				f.SignerID = ""
				if err := tx.SetField(f); err != nil {
					return err
				}
			}
		}

		doc.TotalSigners = len(signers) - 1
		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		_, err = Record(tx, doc.ID, ledger.ActionSignerRemoved, actor, ledger.SignerRemovedDetails{
			Email: removed.Email,
		}, now)
		return err
	})
}

type FieldInput struct {
	Type     document.FieldType
	SignerID string
	Page     int
	X        float64
	Y        float64
	W        float64
	H        float64
	Value    string
	Required *bool

	FontSize   int
	FontFamily string
	DateFormat string
}

func (s *Service) AddField(ctx context.Context, ownerID, documentID string, in FieldInput, actor ledger.Actor) (document.Field, error) {
	if !document.ValidFieldType(in.Type) {
		return document.Field{}, fmt.Errorf("%w: unknown field type %q", document.ErrValidation, in.Type)
	}
	if in.Page < 1 {
		return document.Field{}, fmt.Errorf("%w: page must be positive", document.ErrValidation)
	}
	if in.W <= 0 || in.H <= 0 {
		return document.Field{}, fmt.Errorf("%w: field needs a positive size", document.ErrValidation)
	}

	now := s.now()
	var out document.Field
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: fields are frozen once the document leaves draft", document.ErrValidation)
		}
		if in.SignerID != "" {
			if err := signerExists(tx, in.SignerID); err != nil {
				return err
			}
		}

		required := true
		if in.Required != nil {
			required = *in.Required
		}
		f := document.Field{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			SignerID:   in.SignerID,
			Type:       in.Type,
			Page:       in.Page,
			X:          in.X,
			Y:          in.Y,
			W:          in.W,
			H:          in.H,
			Value:      in.Value,
			Required:   required,
			FontSize:   in.FontSize,
			FontFamily: in.FontFamily,
			DateFormat: in.DateFormat,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.AddField(f); err != nil {
			return err
		}

		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		if _, err := Record(tx, doc.ID, ledger.ActionFieldAdded, actor, ledger.FieldAddedDetails{
			FieldID:   f.ID,
			FieldType: string(f.Type),
			Page:      f.Page,
			SignerID:  f.SignerID,
		}, now); err != nil {
			return err
		}
		out = f
		return nil
	})
	return out, err
}

func (s *Service) UpdateField(ctx context.Context, ownerID, documentID, fieldID string, in FieldInput, actor ledger.Actor) (document.Field, error) {
	now := s.now()
	var out document.Field
	err := s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: fields are frozen once the document leaves draft", document.ErrValidation)
		}
		fields, err := tx.Fields()
		if err != nil {
			return err
		}
		var target *document.Field
		for i := range fields {
			if fields[i].ID == fieldID {
				target = &fields[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: field %s", store.ErrNotFound, fieldID)
		}

		if in.Type != "" {
			if !document.ValidFieldType(in.Type) {
				return fmt.Errorf("%w: unknown field type %q", document.ErrValidation, in.Type)
			}
			target.Type = in.Type
		}
		if in.SignerID != "" {
			if err := signerExists(tx, in.SignerID); err != nil {
				return err
			}
			target.SignerID = in.SignerID
		}
		if in.Page > 0 {
			target.Page = in.Page
		}
		if in.W > 0 {
			target.W = in.W
		}
		if in.H > 0 {
			target.H = in.H
		}
		// Zero is a valid coordinate; X and Y are always taken as sent.
		target.X = in.X
		target.Y = in.Y
		if in.Value != "" {
			target.Value = in.Value
		}
		if in.Required != nil {
			target.Required = *in.Required
		}
		if in.FontSize > 0 {
			target.FontSize = in.FontSize
		}
		if in.FontFamily != "" {
			target.FontFamily = in.FontFamily
		}
		if in.DateFormat != "" {
			target.DateFormat = in.DateFormat
		}
		target.UpdatedAt = now
		if err := tx.SetField(*target); err != nil {
			return err
		}

		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		if _, err := Record(tx, doc.ID, ledger.ActionFieldUpdated, actor, ledger.FieldUpdatedDetails{
			FieldID: fieldID,
		}, now); err != nil {
			return err
		}
		out = *target
		return nil
	})
	return out, err
}

func (s *Service) DeleteField(ctx context.Context, ownerID, documentID, fieldID string, actor ledger.Actor) error {
	now := s.now()
	return s.store.Update(ctx, documentID, func(tx store.Tx) error {
		doc := tx.Document()
		if err := requireOwner(doc, ownerID); err != nil {
			return err
		}
		if doc.Status != document.StatusDraft {
			return fmt.Errorf("%w: fields are frozen once the document leaves draft", document.ErrValidation)
		}
		fields, err := tx.Fields()
		if err != nil {
			return err
		}
		var target *document.Field
		for i := range fields {
			if fields[i].ID == fieldID {
				target = &fields[i]
				break
			}
		}
		if target == nil {
			return fmt.Errorf("%w: field %s", store.ErrNotFound, fieldID)
		}
		if err := tx.RemoveField(fieldID); err != nil {
			return err
		}

		doc.UpdatedAt = now
		if err := tx.SetDocument(doc); err != nil {
			return err
		}
		_, err = Record(tx, doc.ID, ledger.ActionFieldDeleted, actor, ledger.FieldDeletedDetails{
			FieldID:   fieldID,
			FieldType: string(target.Type),
		}, now)
		return err
	})
}

func signerExists(tx store.Tx, signerID string) error {
	signers, err := tx.Signers()
	if err != nil {
		return err
	}
	for _, sg := range signers {
		if sg.ID == signerID {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown signer %s", document.ErrValidation, signerID)
}

func normalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", fmt.Errorf("%w: signer email required", document.ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return "", fmt.Errorf("%w: invalid email %q", document.ErrValidation, email)
	}
	return strings.ToLower(addr.Address), nil
}

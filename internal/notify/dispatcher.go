package notify

import "context"

// Dispatcher delivers signing notifications.
//
// Rules:
// - Delivery is best-effort and happens outside store transactions; a failed
//   send never rolls back a state transition.
// - Keep request types transport-agnostic; no SMTP details outside adapters.
type Dispatcher interface {
	Name() string

	// SigningRequest invites one signer to act on a document.
	SigningRequest(ctx context.Context, req SigningRequest) error

	// CompletionNotice informs a recipient that a document is fully signed.
	CompletionNotice(ctx context.Context, n CompletionNotice) error

	// DeclineNotice informs the owner that a signer declined.
	DeclineNotice(ctx context.Context, n DeclineNotice) error
}

type SigningRequest struct {
	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`

	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	SenderName    string `json:"sender_name"`

	// SigningURL embeds the signer's access token; treat it as a secret.
	SigningURL string `json:"-"`
}

type CompletionNotice struct {
	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`

	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
}

type DeclineNotice struct {
	RecipientEmail string `json:"recipient_email"`
	RecipientName  string `json:"recipient_name"`

	DocumentID    string `json:"document_id"`
	DocumentTitle string `json:"document_title"`
	SignerEmail   string `json:"signer_email"`
	Reason        string `json:"reason,omitempty"`
}

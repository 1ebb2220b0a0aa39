package notify

import (
	"context"
	"log/slog"
)

// LogDispatcher writes notifications to the structured log instead of
// sending mail. It is the default when SMTP is not configured, so local
// setups can copy signing links straight from the log output.
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Name() string { return "log" }

func (d *LogDispatcher) SigningRequest(ctx context.Context, req SigningRequest) error {
	d.log.InfoContext(ctx, "signing request (mail disabled)",
		"recipient", req.RecipientEmail,
		"document_id", req.DocumentID,
		"title", req.DocumentTitle,
		"signing_url", req.SigningURL,
	)
	return nil
}

func (d *LogDispatcher) CompletionNotice(ctx context.Context, n CompletionNotice) error {
	d.log.InfoContext(ctx, "completion notice (mail disabled)",
		"recipient", n.RecipientEmail,
		"document_id", n.DocumentID,
		"title", n.DocumentTitle,
	)
	return nil
}

func (d *LogDispatcher) DeclineNotice(ctx context.Context, n DeclineNotice) error {
	d.log.InfoContext(ctx, "decline notice (mail disabled)",
		"recipient", n.RecipientEmail,
		"document_id", n.DocumentID,
		"signer", n.SignerEmail,
		"reason", n.Reason,
	)
	return nil
}

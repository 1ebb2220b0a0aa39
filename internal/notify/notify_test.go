package notify

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDispatcherImplementations(t *testing.T) {
	var _ Dispatcher = (*LogDispatcher)(nil)
	var _ Dispatcher = (*SMTPDispatcher)(nil)
}

func TestLogDispatcherWritesSigningLink(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	d := NewLogDispatcher(log)

	err := d.SigningRequest(context.Background(), SigningRequest{
		RecipientEmail: "ada@example.com",
		DocumentID:     "d-1",
		DocumentTitle:  "NDA",
		SigningURL:     "http://localhost:8080/sign/abc123",
	})
	if err != nil {
		t.Fatalf("SigningRequest: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "abc123") || !strings.Contains(out, "ada@example.com") {
		t.Fatalf("log output missing signing link or recipient: %s", out)
	}
}

func TestSMTPDispatcherRequiresRecipient(t *testing.T) {
	d := NewSMTPDispatcher("localhost", 2525, "", "", "noreply@example.com")
	if err := d.CompletionNotice(context.Background(), CompletionNotice{}); err == nil {
		t.Fatalf("expected error for empty recipient")
	}
}

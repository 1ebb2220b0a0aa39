package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPDispatcher sends plain-text mail through a single SMTP relay.
type SMTPDispatcher struct {
	addr string
	auth smtp.Auth
	from string
}

func NewSMTPDispatcher(host string, port int, username, password, from string) *SMTPDispatcher {
	d := &SMTPDispatcher{
		addr: fmt.Sprintf("%s:%d", host, port),
		from: from,
	}
	if username != "" {
		d.auth = smtp.PlainAuth("", username, password, host)
	}
	return d
}

func (d *SMTPDispatcher) Name() string { return "smtp" }

func (d *SMTPDispatcher) SigningRequest(ctx context.Context, req SigningRequest) error {
	subject := fmt.Sprintf("Signature requested: %s", req.DocumentTitle)
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\n%s has requested your signature on %q.\r\n\r\nReview and sign here:\r\n%s\r\n\r\nThis link is personal to you. Do not forward it.\r\n",
		orDefault(req.RecipientName, "there"), orDefault(req.SenderName, "The document owner"), req.DocumentTitle, req.SigningURL,
	)
	return d.send(req.RecipientEmail, subject, body)
}

func (d *SMTPDispatcher) CompletionNotice(ctx context.Context, n CompletionNotice) error {
	subject := fmt.Sprintf("Completed: %s", n.DocumentTitle)
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\nAll parties have signed %q. The completion certificate is now available.\r\n",
		orDefault(n.RecipientName, "there"), n.DocumentTitle,
	)
	return d.send(n.RecipientEmail, subject, body)
}

func (d *SMTPDispatcher) DeclineNotice(ctx context.Context, n DeclineNotice) error {
	subject := fmt.Sprintf("Declined: %s", n.DocumentTitle)
	body := fmt.Sprintf(
		"Hello %s,\r\n\r\n%s declined to sign %q.\r\nReason: %s\r\n",
		orDefault(n.RecipientName, "there"), n.SignerEmail, n.DocumentTitle, orDefault(n.Reason, "none given"),
	)
	return d.send(n.RecipientEmail, subject, body)
}

// send blocks without context support; net/smtp offers none. Callers run
// dispatch off the request path, so a slow relay delays only the sender
// goroutine.
func (d *SMTPDispatcher) send(to, subject, body string) error {
	if to == "" {
		return fmt.Errorf("notify: recipient required")
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", d.from)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)

	if err := smtp.SendMail(d.addr, d.auth, d.from, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("notify: smtp send to %s: %w", to, err)
	}
	return nil
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Package mail delivers magic links. Delivery is abstracted behind Sender;
// the service ships a logging sender and an in-memory outbox.
package mail

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"text/template"
	"time"
)

// Message is one magic-link email.
type Message struct {
	To       string
	Link     string
	SiteName string
	Expiry   time.Duration
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// DefaultTemplate renders the message body.
const DefaultTemplate = `Hi {{.To}},

Use the link below to sign in to {{.SiteName}}:

{{.Link}}

The link works once and expires in {{printf "%.f" .Expiry.Minutes}} minutes.

If you did not ask to sign in, you can ignore this email.
`

var bodyTemplate = template.Must(template.New("magic-link").Parse(DefaultTemplate))

// Render returns the body of msg.
func Render(msg Message) (string, error) {
	var buf bytes.Buffer
	if err := bodyTemplate.Execute(&buf, msg); err != nil {
		return "", fmt.Errorf("render magic link email: %w", err)
	}
	return buf.String(), nil
}

// LogSender writes messages to the log instead of sending them. The full
// link is only logged at debug level.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	body, err := Render(msg)
	if err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "magic link email", "to", MaskEmail(msg.To))
	logger.DebugContext(ctx, "magic link email body", "to", MaskEmail(msg.To), "body", body)
	return nil
}

// Outbox keeps sent messages in memory.
type Outbox struct {
	mu   sync.Mutex
	sent []Message
}

func (o *Outbox) Send(_ context.Context, msg Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

// Sent returns a copy of every message sent so far.
func (o *Outbox) Sent() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Message(nil), o.sent...)
}

// Last returns the most recent message to addr.
func (o *Outbox) Last(addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if strings.EqualFold(o.sent[i].To, addr) {
			return o.sent[i], true
		}
	}
	return Message{}, false
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	local, domain, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	return local[:1] + "***@" + domain
}

// Package notify delivers invitation e-mails.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"time"

	"github.com/realfolio/realfolio/internal/queue"
)

// Mailer sends a single invitation e-mail.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// Message is a rendered invitation e-mail.
type Message struct {
	ToAddress string
	Subject   string
	PlainText string
	HTML      string
}

var htmlBody = template.Must(template.New("invitation").Parse(`<!DOCTYPE html>
<html>
<body>
	<p>{{.InvitedBy}} invited you to join <strong>{{.PortfolioName}}</strong> as {{.Role}}.</p>
	<p><a href="{{.Link}}">Accept the invitation</a></p>
	<p>The link expires on {{.Expires}}.</p>
</body>
</html>
`))

// Render builds the e-mail for an invitation notice. acceptURL gets the raw
// token appended as the "token" query parameter.
func Render(n *queue.InvitationNotice, acceptURL string) (*Message, error) {
	link, err := url.Parse(acceptURL)
	if err != nil {
		return nil, fmt.Errorf("invalid accept url: %w", err)
	}
	q := link.Query()
	q.Set("token", n.Token)
	link.RawQuery = q.Encode()

	inviter := n.InvitedBy
	if inviter == "" {
		inviter = "A portfolio administrator"
	}
	data := struct {
		InvitedBy     string
		PortfolioName string
		Role          string
		Link          string
		Expires       string
	}{
		InvitedBy:     inviter,
		PortfolioName: n.PortfolioName,
		Role:          n.Role.String(),
		Link:          link.String(),
		Expires:       n.ExpiresAt.UTC().Format(time.RFC1123),
	}

	var buf bytes.Buffer
	if err := htmlBody.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render invitation: %w", err)
	}

	return &Message{
		ToAddress: n.Email,
		Subject:   fmt.Sprintf("You're invited to %s", n.PortfolioName),
		PlainText: fmt.Sprintf("%s invited you to join %s as %s.\n\nAccept: %s\n\nThe link expires on %s.\n",
			data.InvitedBy, data.PortfolioName, data.Role, data.Link, data.Expires),
		HTML: buf.String(),
	}, nil
}

// LogMailer writes messages to the log instead of sending them. Used in
// development and when no provider is configured.
type LogMailer struct {
	logger *slog.Logger
}

func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg *Message) error {
	m.logger.InfoContext(ctx, "Invitation e-mail", "to", msg.ToAddress, "subject", msg.Subject, "body", msg.PlainText)
	return nil
}

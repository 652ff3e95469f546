package notify

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/realfolio/realfolio/internal/models"
	"github.com/realfolio/realfolio/internal/queue"
)

func testNotice() *queue.InvitationNotice {
	return &queue.InvitationNotice{
		PortfolioName: "Oak St Holdings",
		Email:         "carol@example.com",
		Role:          models.RoleViewer,
		InvitedBy:     "Alice",
		Token:         "abc_DEF-123",
		ExpiresAt:     time.Date(2026, 1, 8, 12, 0, 0, 0, time.UTC),
	}
}

func TestRender(t *testing.T) {
	msg, err := Render(testNotice(), "https://app.example.com/invitations/accept")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if msg.ToAddress != "carol@example.com" {
		t.Errorf("to = %q", msg.ToAddress)
	}
	if !strings.Contains(msg.Subject, "Oak St Holdings") {
		t.Errorf("subject = %q", msg.Subject)
	}
	link := "https://app.example.com/invitations/accept?token=abc_DEF-123"
	if !strings.Contains(msg.PlainText, link) {
		t.Errorf("plain text missing link:\n%s", msg.PlainText)
	}
	if !strings.Contains(msg.HTML, link) {
		t.Errorf("html missing link:\n%s", msg.HTML)
	}
	if !strings.Contains(msg.PlainText, "Alice invited you") || !strings.Contains(msg.PlainText, "as viewer") {
		t.Errorf("plain text = %q", msg.PlainText)
	}
}

func TestRender_EscapesHTML(t *testing.T) {
	n := testNotice()
	n.PortfolioName = "<script>x</script>"
	msg, err := Render(n, "https://app.example.com/accept")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(msg.HTML, "<script>") {
		t.Errorf("portfolio name not escaped:\n%s", msg.HTML)
	}
}

func TestRender_KeepsExistingQuery(t *testing.T) {
	msg, err := Render(testNotice(), "https://app.example.com/accept?lang=en")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(msg.PlainText, "lang=en") || !strings.Contains(msg.PlainText, "token=abc_DEF-123") {
		t.Errorf("plain text = %q", msg.PlainText)
	}
}

func TestRender_InvalidURL(t *testing.T) {
	if _, err := Render(testNotice(), "://bad"); err == nil {
		t.Fatal("expected error for invalid accept url")
	}
}

func TestLogMailer(t *testing.T) {
	var buf bytes.Buffer
	m := NewLogMailer(slog.New(slog.NewTextHandler(&buf, nil)))
	msg, _ := Render(testNotice(), "https://app.example.com/accept")
	if err := m.Send(t.Context(), msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !strings.Contains(buf.String(), "carol@example.com") {
		t.Errorf("log output = %q", buf.String())
	}
}

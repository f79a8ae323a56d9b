package notifier

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"
)

type emailSender interface {
	SendTransacEmail(ctx context.Context, email brevo.SendSmtpEmail) (brevo.CreateSmtpEmail, *http.Response, error)
}

// Email delivers alerts as Brevo transactional mail.
type Email struct {
	From string
	To   string
	api  emailSender
}

func NewEmail(apiKey, from, to string) *Email {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", apiKey)
	cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	e := &Email{From: from, To: to}
	if apiKey != "" {
		e.api = brevo.NewAPIClient(cfg).TransactionalEmailsApi
	}
	return e
}

func (e *Email) Name() string { return "email" }

func (e *Email) Enabled() bool {
	return e.api != nil && e.From != "" && e.To != ""
}

func (e *Email) Send(ctx context.Context, subject, message string) error {
	if !e.Enabled() {
		return fmt.Errorf("email not configured")
	}
	email := brevo.SendSmtpEmail{
		Sender: &brevo.SendSmtpEmailSender{
			Name:  "Network Monitor",
			Email: e.From,
		},
		To:          []brevo.SendSmtpEmailTo{{Email: e.To}},
		Subject:     subject,
		HtmlContent: fmt.Sprintf("<h3>%s</h3><p>%s</p>", html.EscapeString(subject), html.EscapeString(message)),
		TextContent: message,
	}
	if _, _, err := e.api.SendTransacEmail(ctx, email); err != nil {
		return fmt.Errorf("send email via brevo: %w", err)
	}
	return nil
}

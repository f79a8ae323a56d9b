package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Webhook posts alerts to an incoming-webhook style endpoint. Slack and
// Discord differ only in the payload field they read.
type Webhook struct {
	name  string
	URL   string
	field string
	HTTP  *http.Client
}

func NewSlack(webhookURL string) *Webhook {
	return &Webhook{name: "slack", URL: webhookURL, field: "text", HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func NewDiscord(webhookURL string) *Webhook {
	return &Webhook{name: "discord", URL: webhookURL, field: "content", HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (w *Webhook) Name() string  { return w.name }
func (w *Webhook) Enabled() bool { return w.URL != "" }

func (w *Webhook) Send(ctx context.Context, subject, message string) error {
	if !w.Enabled() {
		return fmt.Errorf("%s not configured", w.name)
	}
	b, _ := json.Marshal(map[string]string{w.field: fmt.Sprintf("*%s*\n%s", subject, message)})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(w.HTTP, req, w.name)
}

const lineNotifyURL = "https://notify-api.line.me/api/notify"

type LineNotify struct {
	Token string
	HTTP  *http.Client
}

func NewLineNotify(token string) *LineNotify {
	return &LineNotify{Token: token, HTTP: &http.Client{Timeout: 10 * time.Second}}
}

func (l *LineNotify) Name() string  { return "line" }
func (l *LineNotify) Enabled() bool { return l.Token != "" }

func (l *LineNotify) Send(ctx context.Context, subject, message string) error {
	if !l.Enabled() {
		return fmt.Errorf("line not configured")
	}
	form := url.Values{"message": {fmt.Sprintf("\n%s\n%s", subject, message)}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, lineNotifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+l.Token)
	return do(l.HTTP, req, "line")
}

func do(client *http.Client, req *http.Request, name string) error {
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	resp, _ := io.ReadAll(io.LimitReader(res.Body, 2048))
	if res.StatusCode >= 300 {
		return fmt.Errorf("%s status %d: %s", name, res.StatusCode, string(resp))
	}
	return nil
}

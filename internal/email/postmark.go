package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const postmarkURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if both the server token and sender are set.
func (c *Client) Configured() bool {
	return c.serverToken != "" && c.fromEmail != ""
}

type postmarkEmail struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HtmlBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
	Tag      string `json:"Tag,omitempty"`
}

// Update kinds sent after a subscription change.
const (
	UpdateActivated = "activated"
	UpdateCancelled = "cancelled"
)

// SendSubscriptionUpdate tells the subscriber their access changed. kind is
// UpdateActivated or UpdateCancelled; entitlement is a human label like
// "LABEL" or "course:mixing-101".
func (c *Client) SendSubscriptionUpdate(ctx context.Context, toEmail, kind, entitlement string) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token or sender")
	}

	var subject, textBody, htmlBody string
	dashboard := c.baseURL + "/dashboard"
	switch kind {
	case UpdateActivated:
		subject = "Your SmartSavvy access is active"
		textBody = fmt.Sprintf("Thanks for your purchase. %s is now unlocked on your account.\n\nOpen your dashboard: %s", entitlement, dashboard)
		htmlBody = fmt.Sprintf(
			`<p>Thanks for your purchase. <strong>%s</strong> is now unlocked on your account.</p><p><a href="%s">Open your dashboard</a></p>`,
			entitlement, dashboard,
		)
	case UpdateCancelled:
		subject = "Your SmartSavvy subscription has ended"
		textBody = fmt.Sprintf("Your subscription has been cancelled. Courses you bought stay available.\n\nYou can resubscribe any time: %s", dashboard)
		htmlBody = fmt.Sprintf(
			`<p>Your subscription has been cancelled. Courses you bought stay available.</p><p><a href="%s">Resubscribe any time</a></p>`,
			dashboard,
		)
	default:
		return fmt.Errorf("unknown subscription update %q", kind)
	}

	return c.send(ctx, postmarkEmail{
		From:     c.fromEmail,
		To:       toEmail,
		Subject:  subject,
		HtmlBody: htmlBody,
		TextBody: textBody,
		Tag:      "subscription-" + kind,
	})
}

func (c *Client) send(ctx context.Context, payload postmarkEmail) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, postmarkURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}

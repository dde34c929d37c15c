// Package email sends approval requests to a family's notify address through
// Postmark.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	postmarkURL = "https://api.postmarkapp.com/email"
	// Approval requests are transactional mail.
	messageStream = "outbound"
)

type Client struct {
	serverToken string
	fromEmail   string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type Message struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
	// Tag groups messages in Postmark's activity view, e.g. the event type.
	Tag string
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody,omitempty"`
	TextBody      string `json:"TextBody"`
	Tag           string `json:"Tag,omitempty"`
	MessageStream string `json:"MessageStream"`
}

// APIError is a rejection reported by Postmark.
type APIError struct {
	Status    int
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("postmark: status %d", e.Status)
	}
	return fmt.Sprintf("postmark: status %d: code %d: %s", e.Status, e.ErrorCode, e.Message)
}

func (c *Client) Send(ctx context.Context, m Message) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}

	body, err := json.Marshal(postmarkEmail{
		From:          c.fromEmail,
		To:            m.To,
		Subject:       m.Subject,
		HtmlBody:      m.HTMLBody,
		TextBody:      m.TextBody,
		Tag:           m.Tag,
		MessageStream: messageStream,
	})
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
		apiErr := &APIError{Status: resp.StatusCode}
		// Best effort; the status alone is enough when the body is not JSON.
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4<<10)).Decode(apiErr)
		return apiErr
	}
	return nil
}

// Package mailbox is a minimal Gmail REST consumer: list message ids for
// a query, fetch a message, decode its MIME payload tree.
//
// Authentication is deliberately thin. The OAuth consent flow lives
// outside this system; all this package does with credentials is trade a
// refresh token for an access token when asked.
package mailbox

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/abelbrown/dailybrief/internal/logging"
	"github.com/abelbrown/dailybrief/internal/timewindow"
)

const (
	defaultBaseURL  = "https://gmail.googleapis.com/gmail/v1"
	defaultTokenURL = "https://oauth2.googleapis.com/token"
)

// TokenSource supplies a bearer token for each request.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource around a fixed access token. Handy for
// tests and short-lived scripts.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("no access token configured")
	}
	return string(s), nil
}

// RefreshTokenSource exchanges a long-lived refresh token for access
// tokens, caching each one until shortly before expiry.
type RefreshTokenSource struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string // defaults to the Google endpoint

	mu      sync.Mutex
	token   string
	expires time.Time
	client  *http.Client
}

// RefreshFromEnv builds a RefreshTokenSource from GMAIL_CLIENT_ID,
// GMAIL_CLIENT_SECRET and GMAIL_REFRESH_TOKEN.
func RefreshFromEnv() *RefreshTokenSource {
	return &RefreshTokenSource{
		ClientID:     os.Getenv("GMAIL_CLIENT_ID"),
		ClientSecret: os.Getenv("GMAIL_CLIENT_SECRET"),
		RefreshToken: os.Getenv("GMAIL_REFRESH_TOKEN"),
	}
}

func (r *RefreshTokenSource) Token(ctx context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.token != "" && time.Now().Before(r.expires) {
		return r.token, nil
	}

	if r.ClientID == "" || r.ClientSecret == "" || r.RefreshToken == "" {
		return "", fmt.Errorf("gmail credentials not configured")
	}

	tokenURL := r.TokenURL
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	if r.client == nil {
		r.client = &http.Client{Timeout: 15 * time.Second}
	}

	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {r.ClientID},
		"client_secret": {r.ClientSecret},
		"refresh_token": {r.RefreshToken},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token exchange failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token exchange error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse token response: %w", err)
	}
	if result.AccessToken == "" {
		return "", fmt.Errorf("token exchange returned no access token")
	}

	r.token = result.AccessToken
	// Renew a minute early so in-flight requests don't race expiry.
	r.expires = time.Now().Add(time.Duration(result.ExpiresIn)*time.Second - time.Minute)

	logging.Debug("gmail access token refreshed", "expires_in", result.ExpiresIn)
	return r.token, nil
}

// MessageRef is a listed message id.
type MessageRef struct {
	ID string `json:"id"`
}

// Message is one decoded mailbox message.
type Message struct {
	ID       string
	Subject  string
	From     string
	Received time.Time
	HTML     string // text/html body, empty if the message has none
	Text     string // text/plain fallback
}

// Client talks to the Gmail REST API for a single user ("me").
type Client struct {
	BaseURL string // defaults to the Google endpoint; tests override
	tokens  TokenSource
	http    *http.Client
}

// NewClient creates a mailbox client.
func NewClient(tokens TokenSource) *Client {
	return &Client{
		tokens: tokens,
		http:   &http.Client{Timeout: 30 * time.Second},
	}
}

// BuildQuery renders a Gmail search for one label inside a window. Gmail's
// after/before take Unix seconds; before is exclusive, so it advances one
// second past the inclusive window end.
func BuildQuery(label string, win timewindow.Window) string {
	return fmt.Sprintf("label:%s after:%d before:%d",
		label, win.Start.Unix(), win.End.Unix()+1)
}

// List returns up to max message refs matching the query, newest first
// (the API's order).
func (c *Client) List(ctx context.Context, query string, max int) ([]MessageRef, error) {
	if max <= 0 {
		max = 10
	}

	endpoint := fmt.Sprintf("%s/users/me/messages?q=%s&maxResults=%d",
		c.baseURL(), url.QueryEscape(query), max)

	var result struct {
		Messages []MessageRef `json:"messages"`
	}
	if err := c.getJSON(ctx, endpoint, &result); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return result.Messages, nil
}

// Get fetches and decodes one message.
func (c *Client) Get(ctx context.Context, id string) (*Message, error) {
	endpoint := fmt.Sprintf("%s/users/me/messages/%s?format=full", c.baseURL(), url.PathEscape(id))

	var raw apiMessage
	if err := c.getJSON(ctx, endpoint, &raw); err != nil {
		return nil, fmt.Errorf("failed to get message %s: %w", id, err)
	}
	return decodeMessage(&raw), nil
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	return defaultBaseURL
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(body))
	}

	return json.Unmarshal(body, out)
}

// apiMessage mirrors the wire shape of a Gmail message resource.
type apiMessage struct {
	ID           string  `json:"id"`
	InternalDate string  `json:"internalDate"` // epoch millis, as a string
	Payload      apiPart `json:"payload"`
}

type apiPart struct {
	MimeType string `json:"mimeType"`
	Headers  []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
	Body struct {
		Data string `json:"data"`
	} `json:"body"`
	Parts []apiPart `json:"parts"`
}

func decodeMessage(raw *apiMessage) *Message {
	msg := &Message{ID: raw.ID}

	for _, h := range raw.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			msg.Subject = h.Value
		case "from":
			msg.From = h.Value
		}
	}

	if ms, err := strconv.ParseInt(raw.InternalDate, 10, 64); err == nil {
		msg.Received = time.UnixMilli(ms).UTC()
	}

	msg.HTML = findBody(&raw.Payload, "text/html")
	msg.Text = findBody(&raw.Payload, "text/plain")
	return msg
}

// findBody walks the MIME part tree depth-first for the first part of the
// wanted type and decodes its base64url body.
func findBody(part *apiPart, mimeType string) string {
	if strings.HasPrefix(part.MimeType, mimeType) && part.Body.Data != "" {
		// Gmail emits unpadded base64url, but be tolerant of padding.
		data := strings.TrimRight(part.Body.Data, "=")
		if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
			return string(decoded)
		}
	}
	for i := range part.Parts {
		if body := findBody(&part.Parts[i], mimeType); body != "" {
			return body
		}
	}
	return ""
}

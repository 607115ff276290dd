package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/staff-portal-api/pkg/config"
)

const userAgent = "Staff Portal Chat Client"

// ErrNotConfigured is returned when the client lacks credentials.
var ErrNotConfigured = errors.New("chat channel not configured")

// Error reports a non-2xx answer from the chat platform.
type Error struct {
	Code int
	Body string
}

func (e *Error) Error() string {
	return fmt.Sprintf("chat platform responded %d: %s", e.Code, e.Body)
}

// StatusCode extracts the HTTP status carried by a chat error, or 0.
func StatusCode(err error) int {
	var chatErr *Error
	if errors.As(err, &chatErr) {
		return chatErr.Code
	}
	return 0
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

type messageRequest struct {
	Message string `json:"message"`
}

// Client sends direct messages to users on the chat platform.
type Client struct {
	http   *resty.Client
	cfg    config.ChatConfig
	tokens TokenStore
	logger *zap.Logger

	refreshMu sync.Mutex
}

// New builds a chat client. A nil token store keeps tokens in memory.
func New(cfg config.ChatConfig, tokens TokenStore, logger *zap.Logger) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	r := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(timeout).
		SetHeader("User-Agent", userAgent)
	return &Client{http: r, cfg: cfg, tokens: tokens, logger: logger}
}

// Enabled reports whether messages can be sent at all.
func (c *Client) Enabled() bool {
	return c != nil && c.cfg.Enabled && c.cfg.ClientID != "" && c.cfg.RefreshToken != ""
}

// SendMessage delivers text to the given chat user. An expired access token
// is refreshed once and the send retried; any other failure is returned.
func (c *Client) SendMessage(ctx context.Context, userIdentifier, text string) error {
	if !c.Enabled() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(userIdentifier) == "" {
		return fmt.Errorf("chat user identifier is required")
	}

	token, err := c.tokens.Get(ctx)
	if err != nil || token == "" {
		if token, err = c.refresh(ctx); err != nil {
			return err
		}
	}

	resp, err := c.post(ctx, token, userIdentifier, text)
	if err != nil {
		return err
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		c.logger.Debug("chat token rejected, refreshing")
		if token, err = c.refresh(ctx); err != nil {
			return err
		}
		if resp, err = c.post(ctx, token, userIdentifier, text); err != nil {
			return err
		}
	}
	if !resp.IsSuccess() {
		return &Error{Code: resp.StatusCode(), Body: resp.String()}
	}
	return nil
}

func (c *Client) post(ctx context.Context, token, userIdentifier, text string) (*resty.Response, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetBody(messageRequest{Message: text}).
		SetPathParam("userID", userIdentifier).
		Post("/api/users/{userID}/new_message")
	if err != nil {
		return nil, fmt.Errorf("send chat message: %w", err)
	}
	return resp, nil
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	var out tokenResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"client_id":     c.cfg.ClientID,
			"refresh_token": c.cfg.RefreshToken,
		}).
		SetResult(&out).
		Post(c.authURL())
	if err != nil {
		return "", fmt.Errorf("refresh chat token: %w", err)
	}
	if !resp.IsSuccess() || out.AccessToken == "" {
		return "", &Error{Code: resp.StatusCode(), Body: resp.String()}
	}

	ttl := time.Duration(out.ExpiresIn) * time.Second
	if err := c.tokens.Set(ctx, out.AccessToken, ttl); err != nil {
		c.logger.Warn("failed to store chat token", zap.Error(err))
	}
	return out.AccessToken, nil
}

func (c *Client) authURL() string {
	if c.cfg.AuthURL != "" {
		return c.cfg.AuthURL
	}
	return "/oauth2/token"
}

// PlainText converts an HTML fragment into chat-friendly markdown. Input that
// fails to convert is returned unchanged.
func PlainText(html string) string {
	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(html)
	if err != nil {
		return html
	}
	return strings.TrimSpace(out)
}

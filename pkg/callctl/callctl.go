// Package callctl places and controls outbound telephone calls through
// the Twilio REST API. It is only active when telephony credentials are
// configured.
package callctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var ErrNotConfigured = errors.New("callctl: telephony is not configured")

const defaultBaseURL = "https://api.twilio.com"

// Config carries the telephony account credentials and the public host
// the provider connects back to for media.
type Config struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// PublicHost is the externally reachable host of this gateway,
	// without a scheme.
	PublicHost string

	// BaseURL overrides the provider endpoint in tests.
	BaseURL string
	// HTTPClient overrides the default client in tests.
	HTTPClient *http.Client
}

// Call is the provider-side view of a telephone call.
type Call struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Status string `json:"status"`
}

type Client struct {
	cfg  Config
	http *http.Client
	base string
}

func New(cfg Config) (*Client, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.FromNumber == "" {
		return nil, ErrNotConfigured
	}
	if cfg.PublicHost == "" {
		return nil, errors.New("callctl: public host is required")
	}
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{cfg: cfg, http: hc, base: strings.TrimRight(base, "/")}, nil
}

// Dial places an outbound call. The answer webhook points back at this
// gateway, which responds with stream instructions; persona selects the
// assistant instructions for the call.
func (c *Client) Dial(ctx context.Context, to, persona string) (*Call, error) {
	voiceURL := url.URL{Scheme: "https", Host: c.cfg.PublicHost, Path: "/twilio/voice"}
	if persona != "" {
		voiceURL.RawQuery = url.Values{"context": {persona}}.Encode()
	}

	statusURL := url.URL{Scheme: "https", Host: c.cfg.PublicHost, Path: "/twilio/status"}

	form := url.Values{}
	form.Set("To", to)
	form.Set("From", c.cfg.FromNumber)
	form.Set("Url", voiceURL.String())
	form.Set("Method", http.MethodPost)
	form.Set("StatusCallback", statusURL.String())
	form.Set("StatusCallbackMethod", http.MethodPost)

	return c.do(ctx, http.MethodPost, c.callsPath(""), form)
}

// Status fetches the provider-side state of a call.
func (c *Client) Status(ctx context.Context, sid string) (*Call, error) {
	return c.do(ctx, http.MethodGet, c.callsPath(sid), nil)
}

// Hangup completes an in-progress call.
func (c *Client) Hangup(ctx context.Context, sid string) (*Call, error) {
	form := url.Values{}
	form.Set("Status", "completed")
	return c.do(ctx, http.MethodPost, c.callsPath(sid), form)
}

func (c *Client) callsPath(sid string) string {
	p := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Calls", c.base, url.PathEscape(c.cfg.AccountSID))
	if sid != "" {
		p += "/" + url.PathEscape(sid)
	}
	return p + ".json"
}

func (c *Client) do(ctx context.Context, method, endpoint string, form url.Values) (*Call, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(c.cfg.AccountSID, c.cfg.AuthToken)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call provider: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read provider response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("call not found (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, providerError(resp.StatusCode, raw)
	}

	var call Call
	if err := json.Unmarshal(raw, &call); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &call, nil
}

func providerError(status int, raw []byte) error {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Message != "" {
		return fmt.Errorf("provider rejected request (status %d): %s", status, payload.Message)
	}
	return fmt.Errorf("provider rejected request (status %d)", status)
}

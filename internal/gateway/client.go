// Package gateway is the HTTP client for the conversation gateway. Payloads
// are forwarded as-is; the client adds no retries.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stellarlinkco/companion/internal/config"
	"github.com/stellarlinkco/companion/internal/metrics"
	"github.com/stellarlinkco/companion/internal/store"
)

const (
	endpointAsk           = "/ask"
	endpointReset         = "/reset"
	endpointSaveCharacter = "/save-character"

	headerRequestID = "X-Request-Id"
)

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option  { return func(cl *Client) { cl.httpClient = c } }
func WithLogger(l zerolog.Logger) Option    { return func(cl *Client) { cl.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(cl *Client) { cl.metrics = m } }

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: time.Duration(config.DefaultGatewayTimeoutMs) * time.Millisecond},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Ask(ctx context.Context, req AskRequest) (*AskResponse, error) {
	var resp AskResponse
	if err := c.post(ctx, endpointAsk, req, &resp); err != nil {
		return nil, fmt.Errorf("ask: %w", err)
	}
	return &resp, nil
}

// Reset clears the gateway's copy of the conversation.
func (c *Client) Reset(ctx context.Context, req ResetRequest) (string, error) {
	if err := c.post(ctx, endpointReset, req, nil); err != nil {
		return "", fmt.Errorf("reset: %w", err)
	}
	return AckReset, nil
}

// SaveCharacter stores the character on the gateway side.
func (c *Client) SaveCharacter(ctx context.Context, ch store.Character) (string, error) {
	if err := c.post(ctx, endpointSaveCharacter, ch, nil); err != nil {
		return "", fmt.Errorf("save character: %w", err)
	}
	return AckCharacterSave, nil
}

// post sends body as JSON. When out is nil the success body is discarded.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ErrTransport, err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(headerRequestID, requestID)

	log := c.log.With().Str("endpoint", endpoint).Str("request_id", requestID).Logger()
	start := time.Now()
	outcome := "ok"
	defer func() {
		elapsed := time.Since(start)
		c.metrics.ObserveGateway(endpoint, outcome, elapsed)
		log.Debug().Str("outcome", outcome).Dur("elapsed", elapsed).Msg("gateway call")
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		outcome = "transport_error"
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		outcome = "status_error"
		text := unreadableBody
		if raw, err := io.ReadAll(resp.Body); err == nil {
			text = strings.TrimSpace(string(raw))
		}
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: text}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		outcome = "transport_error"
		return fmt.Errorf("%w: read response: %w", ErrTransport, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		outcome = "decode_error"
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}

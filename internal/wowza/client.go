// Package wowza implements the HTTP client for the Wowza Streaming Cloud
// live-stream endpoints. The client shapes one request per lifecycle
// operation and projects the nested JSON response into a flat Record; retry
// policy belongs to the caller.
package wowza

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the production Wowza Streaming Cloud API host.
const DefaultBaseURL = "https://api.video.wowza.com"

const apiPrefix = "/api/v2.0/live_streams"

// ErrTokenRequired is returned when the client is constructed without the
// static bearer credential. This is a startup condition, not a per-call
// failure.
var ErrTokenRequired = errors.New("wowza access token is required")

// TransportError reports a non-2xx status or an unparsable body from the
// provider.
type TransportError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wowza %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("wowza %s: status %d: %s", e.Op, e.Status, e.Body)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Config stores connectivity settings for the Wowza client.
type Config struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues live-stream lifecycle calls against the provider.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewClient validates the configuration and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, ErrTokenRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{baseURL: baseURL, token: token, client: httpClient, logger: logger}, nil
}

// createRequest carries the fixed provisioning payload for a new live stream.
// Values match the encoder profile the platform supports.
type createRequest struct {
	LiveStream createLiveStream `json:"live_stream"`
}

type createLiveStream struct {
	AspectRatioHeight int    `json:"aspect_ratio_height"`
	AspectRatioWidth  int    `json:"aspect_ratio_width"`
	BillingMode       string `json:"billing_mode"`
	BroadcastLocation string `json:"broadcast_location"`
	Encoder           string `json:"encoder"`
	Name              string `json:"name"`
	TranscoderType    string `json:"transcoder_type"`
}

// Create provisions a new live stream and returns its identifier, state and
// source connection credentials.
func (c *Client) Create(ctx context.Context, name string) (Record, error) {
	if strings.TrimSpace(name) == "" {
		name = "My streaming"
	}
	payload := createRequest{LiveStream: createLiveStream{
		AspectRatioHeight: 720,
		AspectRatioWidth:  1280,
		BillingMode:       "pay_as_you_go",
		BroadcastLocation: "us_west_oregon",
		Encoder:           "other_rtmp",
		Name:              name,
		TranscoderType:    "transcoded",
	}}
	return c.do(ctx, "create", http.MethodPost, apiPrefix, payload)
}

// Initialize fetches the hosted player metadata for the stream. The embed
// code remains the in-progress sentinel until provisioning completes.
func (c *Client) Initialize(ctx context.Context, streamID string) (Record, error) {
	return c.do(ctx, "initialize", http.MethodGet, fmt.Sprintf("%s/%s", apiPrefix, streamID), nil)
}

// Start asks the provider to begin broadcasting the stream.
func (c *Client) Start(ctx context.Context, streamID string) (Record, error) {
	return c.do(ctx, "start", http.MethodPut, fmt.Sprintf("%s/%s/start", apiPrefix, streamID), nil)
}

// Stop asks the provider to stop broadcasting the stream.
func (c *Client) Stop(ctx context.Context, streamID string) (Record, error) {
	return c.do(ctx, "stop", http.MethodPut, fmt.Sprintf("%s/%s/stop", apiPrefix, streamID), nil)
}

// State fetches the current provider-side state of the stream.
func (c *Client) State(ctx context.Context, streamID string) (Record, error) {
	return c.do(ctx, "state", http.MethodGet, fmt.Sprintf("%s/%s/state", apiPrefix, streamID), nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (Record, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return Record{}, &TransportError{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return Record{}, &TransportError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Record{}, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Record{}, &TransportError{Op: op, Err: fmt.Errorf("read response: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Record{}, &TransportError{Op: op, Status: resp.StatusCode, Body: snippet(data)}
	}
	record, err := parseRecord(data)
	if err != nil {
		return Record{}, &TransportError{Op: op, Status: resp.StatusCode, Body: snippet(data), Err: fmt.Errorf("decode response: %w", err)}
	}
	c.logger.Debug("wowza call completed", "op", op, "stream_id", record.ID, "state", record.State)
	return record, nil
}

func snippet(body []byte) string {
	trimmed := string(bytes.TrimSpace(body))
	if len(trimmed) > 512 {
		trimmed = trimmed[:512]
	}
	return trimmed
}

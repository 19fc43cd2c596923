package extraction

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"blueline/internal/config"
	"blueline/internal/services"
)

const defaultHTTPTimeout = 30 * time.Second

//go:embed schema.json
var pagePayloadSchema string

var compiledSchema = jsonschema.MustCompileString("page_payload.json", pagePayloadSchema)

// Client calls the external extraction HTTP service. One request covers one
// page; retry policy lives with the caller.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewClient constructs an extraction client from configuration.
func NewClient(cfg config.Extraction, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	client := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

type extractRequest struct {
	VersionID  string `json:"version_id"`
	PageNumber int    `json:"page_number"`
	Model      string `json:"model,omitempty"`
}

// ExtractPage requests structured data for one page and validates the
// payload against the page schema before returning it.
func (c *Client) ExtractPage(ctx context.Context, versionID string, pageNumber int) (*PageInfo, error) {
	if strings.TrimSpace(versionID) == "" {
		return nil, services.Wrap(services.ErrValidation, "ocr", "extract page", "version id required", nil)
	}
	if pageNumber <= 0 {
		return nil, services.Wrap(services.ErrValidation, "ocr", "extract page", "page number must be positive", nil)
	}
	if c.baseURL == "" {
		return nil, services.Wrap(services.ErrConfiguration, "ocr", "extract page", "extraction base_url not configured", nil)
	}

	body, err := json.Marshal(extractRequest{VersionID: versionID, PageNumber: pageNumber, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("encode extract request: %w", err)
	}
	endpoint, err := url.JoinPath(c.baseURL, "extract")
	if err != nil {
		return nil, fmt.Errorf("build extract url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new extract request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, services.Wrap(services.ErrTimeout, "ocr", "extract page",
				fmt.Sprintf("extraction did not answer within %s", c.httpClient.Timeout), err)
		}
		return nil, services.Wrap(services.ErrTransient, "ocr", "extract page", "extraction request failed", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "ocr", "extract page", "read extraction response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, payload)
	}

	return decodePageInfo(payload)
}

// HealthCheck verifies the service answers on its health endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	if c.baseURL == "" {
		return errors.New("extraction base_url not configured")
	}
	endpoint, err := url.JoinPath(c.baseURL, "health")
	if err != nil {
		return fmt.Errorf("build health url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("new health request: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("extraction health request: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("extraction health: http %d", resp.StatusCode)
	}
	return nil
}

// decodePageInfo validates the raw payload against the page schema, then
// decodes it. Schema violations are permanent: retrying the same page would
// produce the same malformed document.
func decodePageInfo(payload []byte) (*PageInfo, error) {
	var generic any
	if err := json.Unmarshal(payload, &generic); err != nil {
		return nil, services.Wrap(services.ErrValidation, "ocr", "extract page", "extraction returned invalid JSON", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, services.Wrap(services.ErrValidation, "ocr", "extract page", "extraction payload failed schema validation", err)
	}

	var info PageInfo
	if err := json.Unmarshal(payload, &info); err != nil {
		return nil, services.Wrap(services.ErrValidation, "ocr", "extract page", "decode extraction payload", err)
	}
	info.DrawingName = strings.TrimSpace(info.DrawingName)
	return &info, nil
}

func classifyStatus(status int, body []byte) error {
	detail := fmt.Sprintf("extraction returned http %d: %s", status, strings.TrimSpace(string(body)))
	switch {
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return services.Wrap(services.ErrTransient, "ocr", "extract page", detail, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "ocr", "extract page", detail, nil)
	default:
		return services.Wrap(services.ErrValidation, "ocr", "extract page", detail, nil)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

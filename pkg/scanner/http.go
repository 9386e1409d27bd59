package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-hclog"
)

// HTTPConfig contains configuration for the HTTP scanning client.
type HTTPConfig struct {
	// Endpoint is the base URL of the scanning service.
	Endpoint string `hcl:"endpoint"`

	// APIKey is sent as a bearer token when set.
	APIKey string `hcl:"api_key,optional"`

	// RequestTimeoutSeconds bounds a single scan request (default: 120).
	RequestTimeoutSeconds int `hcl:"request_timeout_seconds,optional"`
}

// Validate validates the scanner configuration.
func (c *HTTPConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("endpoint is required")
	}
	return nil
}

// SetDefaults sets default values for optional configuration fields.
func (c *HTTPConfig) SetDefaults() {
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = 120
	}
}

// HTTPScanner submits files to a scanning service over HTTP.
type HTTPScanner struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   hclog.Logger
}

// NewHTTPScanner creates a scanner client from config.
func NewHTTPScanner(cfg HTTPConfig, logger hclog.Logger) (*HTTPScanner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.SetDefaults()

	if logger == nil {
		logger = hclog.NewNullLogger()
	}

	return &HTTPScanner{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		},
		logger: logger.Named("scanner"),
	}, nil
}

// scanResponse is the service's verdict payload.
type scanResponse struct {
	Safe       bool   `json:"safe"`
	Malicious  int    `json:"malicious"`
	Suspicious int    `json:"suspicious"`
	Detail     string `json:"detail,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Scan implements Scanner. A non-2xx response or a response carrying an
// error field is a transport failure and returned as an error so the
// caller's retry policy applies.
func (s *HTTPScanner) Scan(ctx context.Context, content []byte, filename string) (Verdict, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create multipart form: %w", err)
	}
	if _, err := part.Write(content); err != nil {
		return nil, fmt.Errorf("failed to write file content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart form: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, s.endpoint+"/v1/scan", &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create scan request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scan request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read scan response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("scan service returned status %d: %s",
			resp.StatusCode, string(respBody))
	}

	var result scanResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to decode scan response: %w", err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("scan service error: %s", result.Error)
	}

	if result.Safe && result.Malicious == 0 && result.Suspicious == 0 {
		return Safe{Detail: result.Detail}, nil
	}

	s.logger.Warn("scan flagged file",
		"filename", filename,
		"malicious", result.Malicious,
		"suspicious", result.Suspicious,
	)
	return Blocked{
		Malicious:  result.Malicious,
		Suspicious: result.Suspicious,
		Detail:     result.Detail,
	}, nil
}

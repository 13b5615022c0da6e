package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/filegate/filegate/internal/errs"
	"github.com/filegate/filegate/internal/transport"
)

// UploadDescriptor is the pre-signed upload authorization returned by the
// backend. It is immutable once received and discarded on reset.
type UploadDescriptor struct {
	FileID      string `json:"fileId" validate:"required"`
	URL         string `json:"url" validate:"required,url"`
	Bucket      string `json:"bucket"`
	ExpiresIn   int64  `json:"expiresIn"`
	Timestamp   int64  `json:"timestamp"`
	ContentType string `json:"contentType"`
	Filename    string `json:"filename"`
}

// UploadResult reports a finished PUT. Body carries the storage backend's
// JSON response when it sent one; Synthetic marks the substituted success
// marker used when it did not. Callers treat both identically.
type UploadResult struct {
	Body      map[string]any
	Synthetic bool
}

type statusResponse struct {
	UploadedStatus string `json:"uploadedStatus" validate:"required"`
}

// Client performs the three backend calls of the upload lifecycle: presign,
// raw PUT and scan status. Responses are decoded into typed structs and
// validated; malformed bodies surface as ParseError.
type Client struct {
	base     *url.URL
	http     *http.Client
	validate *validator.Validate
	log      *zap.Logger
}

func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base URL %q must include scheme and host", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		base:     base,
		http:     httpClient,
		validate: validator.New(),
		log:      logger,
	}, nil
}

func (c *Client) endpoint(segments ...string) string {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segments, "/")
	return u.String()
}

// Presign asks the backend for a pre-signed upload descriptor. The
// filename is query-encoded exactly once.
func (c *Client) Presign(ctx context.Context, filename string) (*UploadDescriptor, error) {
	if filename == "" {
		return nil, fmt.Errorf("filename must not be empty")
	}

	q := url.Values{}
	q.Set("filename", filename)
	target := c.endpoint("presign") + "?" + q.Encode()

	ctx = transport.WithOperation(ctx, "presign")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build presign request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{Op: "presign", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errs.NetworkError{Op: "presign", URL: target, StatusCode: resp.StatusCode}
	}

	var desc UploadDescriptor
	if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
		return nil, &errs.ParseError{Op: "presign", Err: err}
	}
	if err := c.validate.Struct(&desc); err != nil {
		return nil, &errs.ParseError{Op: "presign", Err: err}
	}

	c.log.Debug("presign descriptor received",
		zap.String("file_id", desc.FileID),
		zap.String("bucket", desc.Bucket),
		zap.Int64("expires_in", desc.ExpiresIn),
	)
	return &desc, nil
}

// Upload sends the raw file bytes to the pre-signed URL as a binary PUT.
func (c *Client) Upload(ctx context.Context, desc *UploadDescriptor, body io.Reader, size int64) (*UploadResult, error) {
	ctx = transport.WithOperation(ctx, "upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, desc.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = size

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &errs.NetworkError{Op: "upload", URL: desc.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errs.NetworkError{Op: "upload", URL: desc.URL, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil || len(raw) == 0 {
		return &UploadResult{Synthetic: true}, nil
	}

	var parsed map[string]any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Storage backends often answer a bare 200 or a non-JSON body;
		// any 2xx means the upload succeeded.
		return &UploadResult{Synthetic: true}, nil
	}
	return &UploadResult{Body: parsed}, nil
}

// Check fetches the current scan status for an uploaded file.
func (c *Client) Check(ctx context.Context, fileID string) (string, error) {
	target := c.endpoint("file-upload", url.PathEscape(fileID))

	ctx = transport.WithOperation(ctx, "status")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &errs.NetworkError{Op: "status", URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &errs.NetworkError{Op: "status", URL: target, StatusCode: resp.StatusCode}
	}

	var sr statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", &errs.ParseError{Op: "status", Err: err}
	}
	if err := c.validate.Struct(&sr); err != nil {
		return "", &errs.ParseError{Op: "status", Err: err}
	}

	c.log.Debug("scan status received",
		zap.String("file_id", fileID),
		zap.String("status", sr.UploadedStatus),
	)
	return sr.UploadedStatus, nil
}

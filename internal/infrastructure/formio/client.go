// Package formio is the HTTP client for the Formio form store, which holds
// the portal's draft and submitted form documents.
package formio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/rebate"
	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
)

// listLimit effectively disables pagination: the per-user combo key filter
// keeps result sets small and the portal renders them all at once.
const listLimit = "1000000"

const maxResponseBytes = 16 << 20

// Client talks to the form store's REST API. All requests authenticate
// with the project API key.
type Client struct {
	cfg        config.FormioConfig
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg config.FormioConfig, logger *zap.Logger) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// formURL resolves the form endpoint for a rebate year and form type.
func (c *Client) formURL(rebateYear string, formType rebate.FormType) (string, error) {
	u := c.cfg.FormURL(rebateYear, string(formType))
	if u == "" {
		return "", shared.NewDomainError("INVALID_INPUT",
			fmt.Sprintf("no form configured for rebate year %q form type %q", rebateYear, formType))
	}
	return u, nil
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reqBody)
	if err != nil {
		return fmt.Errorf("building form store request: %w", err)
	}
	req.Header.Set("x-token", c.cfg.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrUpstreamQuery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading form store response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return shared.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		c.logger.Error("Form store rejected the API key",
			zap.Int("status", resp.StatusCode),
			zap.String("url", rawURL))
		return shared.ErrUpstreamAuth
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Error("Form store request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", rawURL),
			zap.ByteString("body", respBody))
		return fmt.Errorf("%w: form store returned status %d", shared.ErrUpstreamQuery, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], respBody...)
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decoding form store response: %w", err)
	}
	return nil
}

// GetForm fetches a form's schema.
func (c *Client) GetForm(ctx context.Context, rebateYear string, formType rebate.FormType) (*Form, error) {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	var form Form
	if err := c.do(ctx, http.MethodGet, formURL, nil, &form); err != nil {
		return nil, err
	}
	return &form, nil
}

// ListSubmissions fetches the submissions whose hidden combo key field
// matches any of the given keys, newest first. An empty key set can match
// nothing, so no request is made.
func (c *Client) ListSubmissions(ctx context.Context, rebateYear string, formType rebate.FormType, comboKeys []string) ([]Submission, error) {
	if len(comboKeys) == 0 {
		return nil, nil
	}

	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("sort", "-modified")
	params.Set("limit", listLimit)
	field := "data." + rebate.ComboKeyFieldName(rebateYear)
	for _, key := range comboKeys {
		params.Add(field, key)
	}

	var submissions []Submission
	if err := c.do(ctx, http.MethodGet, formURL+"/submission?"+params.Encode(), nil, &submissions); err != nil {
		return nil, err
	}
	return submissions, nil
}

// GetSubmission fetches one submission document.
func (c *Client) GetSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string) (*Submission, error) {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	var submission Submission
	if err := c.do(ctx, http.MethodGet, formURL+"/submission/"+url.PathEscape(submissionID), nil, &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

// CreateSubmission creates a new submission document and returns it as
// stored, including its assigned ID.
func (c *Client) CreateSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, payload SubmissionPayload) (*Submission, error) {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	c.logger.Info("Creating a new form submission",
		zap.String("rebate_year", rebateYear),
		zap.String("form_type", string(formType)))

	var submission Submission
	if err := c.do(ctx, http.MethodPost, formURL+"/submission", payload, &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

// UpdateSubmission replaces a submission document and returns the stored
// result.
func (c *Client) UpdateSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string, payload SubmissionPayload) (*Submission, error) {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	var submission Submission
	if err := c.do(ctx, http.MethodPut, formURL+"/submission/"+url.PathEscape(submissionID), payload, &submission); err != nil {
		return nil, err
	}
	return &submission, nil
}

// DeleteSubmission removes a submission document.
func (c *Client) DeleteSubmission(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string) error {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return err
	}

	c.logger.Info("Deleting a form submission",
		zap.String("rebate_year", rebateYear),
		zap.String("form_type", string(formType)),
		zap.String("submission_id", submissionID))

	return c.do(ctx, http.MethodDelete, formURL+"/submission/"+url.PathEscape(submissionID), nil, nil)
}

// StorageGet proxies a file metadata lookup to the form store's S3-backed
// storage endpoint, forwarding the caller's query parameters unaltered.
func (c *Client) StorageGet(ctx context.Context, rebateYear string, formType rebate.FormType, query url.Values) (json.RawMessage, error) {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	if err := c.do(ctx, http.MethodGet, formURL+"/storage/s3?"+query.Encode(), nil, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// StoragePost proxies a file upload registration to the form store's
// S3-backed storage endpoint, forwarding the caller's body unaltered.
func (c *Client) StoragePost(ctx context.Context, rebateYear string, formType rebate.FormType, body json.RawMessage) (json.RawMessage, error) {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, err
	}

	var result json.RawMessage
	if err := c.do(ctx, http.MethodPost, formURL+"/storage/s3", body, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// ExportPDF fetches the rendered PDF for a submission from the form store's
// download endpoint. The document bytes pass through untouched.
func (c *Client) ExportPDF(ctx context.Context, rebateYear string, formType rebate.FormType, submissionID string) ([]byte, string, error) {
	formURL, err := c.formURL(rebateYear, formType)
	if err != nil {
		return nil, "", err
	}

	rawURL := formURL + "/submission/" + url.PathEscape(submissionID) + "/download"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building form store request: %w", err)
	}
	req.Header.Set("x-token", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", shared.ErrUpstreamQuery, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, "", fmt.Errorf("reading form store response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", shared.ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		c.logger.Error("Form store rejected the API key",
			zap.Int("status", resp.StatusCode),
			zap.String("url", rawURL))
		return nil, "", shared.ErrUpstreamAuth
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.Error("Form store PDF export failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", rawURL))
		return nil, "", fmt.Errorf("%w: form store returned status %d", shared.ErrUpstreamQuery, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return body, contentType, nil
}

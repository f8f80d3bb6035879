package bap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/Eastern-Research-Group/csb-data-system/internal/domain/shared"
	"github.com/Eastern-Research-Group/csb-data-system/internal/infrastructure/config"
)

// errInvalidSession marks an upstream INVALID_SESSION_ID response. The
// connection layer retries exactly once after re-authenticating; a second
// consecutive failure surfaces as an upstream auth error.
var errInvalidSession = errors.New("bap: invalid session")

// Connection is the process-wide authenticated handle to the status
// directory. Login is lazy on first use; re-authentication after session
// expiry is serialized through a single-flight group so concurrent requests
// hitting an expired session trigger one reconnect, not one each.
type Connection struct {
	cfg        config.BAPConfig
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.RWMutex
	accessToken string
	instanceURL string

	sf singleflight.Group
}

// NewConnection creates an unauthenticated connection handle. No network
// traffic occurs until the first query.
func NewConnection(cfg config.BAPConfig, logger *zap.Logger) *Connection {
	return &Connection{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	InstanceURL string `json:"instance_url"`
	TokenType   string `json:"token_type"`
}

type apiError struct {
	Message   string `json:"message"`
	ErrorCode string `json:"errorCode"`
}

// login performs the OAuth2 password grant and stores the session. Callers
// must go through connect so logins are single-flighted.
func (c *Connection) login(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("username", c.cfg.User)
	form.Set("password", c.cfg.Password)

	endpoint := strings.TrimSuffix(c.cfg.LoginURL, "/") + "/services/oauth2/token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrUpstreamAuth, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("BAP login failed",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body),
		)
		return fmt.Errorf("%w: login returned status %d", shared.ErrUpstreamAuth, resp.StatusCode)
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return fmt.Errorf("%w: decoding login response: %v", shared.ErrUpstreamAuth, err)
	}
	if token.AccessToken == "" || token.InstanceURL == "" {
		return fmt.Errorf("%w: login response missing token or instance URL", shared.ErrUpstreamAuth)
	}

	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.instanceURL = token.InstanceURL
	c.mu.Unlock()

	c.logger.Info("Initialized BAP connection", zap.String("instance_url", token.InstanceURL))
	return nil
}

// connect establishes a session if none exists, or replaces the session the
// caller observed failing. Concurrent callers share one login attempt.
func (c *Connection) connect(ctx context.Context, staleToken string) error {
	_, err, _ := c.sf.Do("connect", func() (any, error) {
		c.mu.RLock()
		current := c.accessToken
		c.mu.RUnlock()

		// Another request already replaced the session this caller saw fail.
		if current != "" && current != staleToken {
			return nil, nil
		}
		return nil, c.login(ctx)
	})
	return err
}

func (c *Connection) session() (token, instanceURL string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken, c.instanceURL
}

// do issues one authenticated request and decodes the JSON response into
// out, returning the session token the request was sent with so the caller
// can invalidate exactly that session. An INVALID_SESSION_ID response maps
// to errInvalidSession.
func (c *Connection) do(ctx context.Context, method, path string, query url.Values, body any, out any) (string, error) {
	token, instanceURL := c.session()
	if token == "" {
		if err := c.connect(ctx, ""); err != nil {
			return "", err
		}
		token, instanceURL = c.session()
	}

	endpoint := instanceURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return token, fmt.Errorf("encoding request body: %w", err)
		}
		reader = strings.NewReader(string(payload))
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return token, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return token, fmt.Errorf("%w: %v", shared.ErrUpstreamQuery, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return token, fmt.Errorf("%w: reading response: %v", shared.ErrUpstreamQuery, err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		var apiErrors []apiError
		if json.Unmarshal(raw, &apiErrors) == nil {
			for _, e := range apiErrors {
				if e.ErrorCode == "INVALID_SESSION_ID" {
					return token, errInvalidSession
				}
			}
		}
		return token, fmt.Errorf("%w: status %d", shared.ErrUpstreamAuth, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Error("BAP request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", raw),
		)
		return token, fmt.Errorf("%w: status %d", shared.ErrUpstreamQuery, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return token, fmt.Errorf("%w: decoding response: %v", shared.ErrUpstreamQuery, err)
		}
	}
	return token, nil
}

// Do issues an authenticated request, transparently re-authenticating and
// retrying exactly once if the upstream reports the session as invalid.
func (c *Connection) Do(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	usedToken, err := c.do(ctx, method, path, query, body, out)
	if !errors.Is(err, errInvalidSession) {
		return err
	}

	c.logger.Info("Re-establishing BAP connection")
	if err := c.connect(ctx, usedToken); err != nil {
		return err
	}

	_, err = c.do(ctx, method, path, query, body, out)
	if errors.Is(err, errInvalidSession) {
		return fmt.Errorf("%w: session invalid after reconnect", shared.ErrUpstreamAuth)
	}
	return err
}

type queryResponse struct {
	TotalSize      int             `json:"totalSize"`
	Done           bool            `json:"done"`
	NextRecordsURL string          `json:"nextRecordsUrl"`
	Records        json.RawMessage `json:"records"`
}

// Query runs a SOQL query and unmarshals the full record set into out,
// following pagination cursors until the result is exhausted.
func (c *Connection) Query(ctx context.Context, soql string, out any) error {
	path := fmt.Sprintf("/services/data/%s/query", c.cfg.APIVersion)
	params := url.Values{"q": {soql}}

	var all []json.RawMessage
	for {
		var page queryResponse
		if err := c.Do(ctx, http.MethodGet, path, params, nil, &page); err != nil {
			c.logger.Error("BAP query failed", zap.String("soql", soql), zap.Error(err))
			return err
		}

		var records []json.RawMessage
		if len(page.Records) > 0 {
			if err := json.Unmarshal(page.Records, &records); err != nil {
				return fmt.Errorf("%w: decoding records: %v", shared.ErrUpstreamQuery, err)
			}
		}
		all = append(all, records...)

		if page.Done || page.NextRecordsURL == "" {
			break
		}
		path = page.NextRecordsURL
		params = nil
	}

	merged, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("assembling records: %w", err)
	}
	return json.Unmarshal(merged, out)
}

// Apex POSTs a payload to a custom REST endpoint exposed by the upstream.
func (c *Connection) Apex(ctx context.Context, path string, body any, out any) error {
	full := "/services/apexrest" + path
	return c.Do(ctx, http.MethodPost, full, nil, body, out)
}

// soqlEscape escapes single quotes in a SOQL string literal.
func soqlEscape(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, `\`, `\\`), `'`, `\'`)
}

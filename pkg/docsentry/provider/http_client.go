package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Config holds HTTP client configuration for the document platform.
type Config struct {
	// BaseURL is the platform API root.
	BaseURL string `yaml:"base_url"`

	// AppID and AppSecret authenticate the tenant-token exchange.
	AppID     string `yaml:"app_id"`
	AppSecret string `yaml:"app_secret"`

	// RequestTimeout bounds every provider call.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// BatchSize caps tokens per batch-metadata request.
	BatchSize int `yaml:"batch_size"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 10 * time.Second,
		BatchSize:      50,
	}
}

// HTTPClient implements Client against the platform's REST API.
// Tenant tokens are cached and refreshed shortly before expiry.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu          sync.Mutex
	tenantToken string
	tokenExpiry time.Time
}

// NewHTTPClient creates a platform client.
func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger.With("component", "provider"),
	}
}

// tokenRefreshMargin refreshes the tenant token this long before expiry.
const tokenRefreshMargin = 5 * time.Minute

func (c *HTTPClient) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tenantToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenRefreshMargin)) {
		return c.tenantToken, nil
	}

	body, _ := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/auth/tenant_token", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("tenant token request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tenant token request: status %d", resp.StatusCode)
	}

	var out struct {
		Token     string `json:"tenant_access_token"`
		ExpiresIn int    `json:"expire"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("tenant token decode: %w", err)
	}
	c.tenantToken = out.Token
	c.tokenExpiry = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	c.logger.Debug("tenant token refreshed", "expires_in", out.ExpiresIn)
	return c.tenantToken, nil
}

// metaPayload is the wire shape of document metadata.
type metaPayload struct {
	Token          string `json:"token"`
	DocType        string `json:"doc_type"`
	Title          string `json:"title"`
	LatestModifyID string `json:"latest_modify_user"`
	LatestModifyAt int64  `json:"latest_modify_time"`
	Revision       string `json:"revision,omitempty"`
	Code           int    `json:"code,omitempty"`
	Msg            string `json:"msg,omitempty"`
}

func (m *metaPayload) toMetadata() *Metadata {
	return &Metadata{
		Token:    m.Token,
		DocType:  m.DocType,
		Title:    m.Title,
		EditorID: m.LatestModifyID,
		Revision: m.Revision,
		EditedAt: time.Unix(m.LatestModifyAt, 0).UTC(),
	}
}

// FetchMetadata returns current edit metadata for one document.
func (c *HTTPClient) FetchMetadata(ctx context.Context, token string) (*Metadata, error) {
	res := c.BatchFetchMetadata(ctx, []string{token})
	if err, ok := res.Errors[token]; ok {
		return nil, err
	}
	if m, ok := res.Metadata[token]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, token)
}

// BatchFetchMetadata fetches metadata for tokens in BatchSize chunks.
// A failed chunk marks only its own tokens; per-token errors inside a
// successful chunk are isolated the same way.
func (c *HTTPClient) BatchFetchMetadata(ctx context.Context, tokens []string) *BatchResult {
	res := &BatchResult{
		Metadata: make(map[string]*Metadata, len(tokens)),
		Errors:   make(map[string]error),
	}
	for start := 0; start < len(tokens); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]
		if err := c.fetchChunk(ctx, chunk, res); err != nil {
			for _, t := range chunk {
				res.Errors[t] = err
			}
		}
	}
	return res
}

func (c *HTTPClient) fetchChunk(ctx context.Context, tokens []string, res *BatchResult) error {
	authToken, err := c.token(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}

	body, _ := json.Marshal(map[string]any{"tokens": tokens})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/docs/meta/batch_query", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: status %d: %s", ErrFetch, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out struct {
		Metas []metaPayload `json:"metas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrFetch, err)
	}

	seen := make(map[string]bool, len(out.Metas))
	for i := range out.Metas {
		m := &out.Metas[i]
		seen[m.Token] = true
		if m.Code != 0 {
			res.Errors[m.Token] = fmt.Errorf("%w: code %d: %s", ErrFetch, m.Code, m.Msg)
			continue
		}
		res.Metadata[m.Token] = m.toMetadata()
	}
	// Tokens the platform silently omitted are treated as not found.
	for _, t := range tokens {
		if !seen[t] {
			res.Errors[t] = fmt.Errorf("%w: %s", ErrNotFound, t)
		}
	}
	return nil
}

// Subscribe registers a change-event push subscription for a document.
func (c *HTTPClient) Subscribe(ctx context.Context, token, docType string) (string, error) {
	authToken, err := c.token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubscribe, err)
	}

	body, _ := json.Marshal(map[string]string{"token": token, "doc_type": docType})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/docs/events/subscribe", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubscribe, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d", ErrSubscribe, resp.StatusCode)
	}

	var out struct {
		SubscriptionID string `json:"subscription_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode: %v", ErrSubscribe, err)
	}
	if out.SubscriptionID == "" {
		return "", fmt.Errorf("%w: empty subscription id", ErrSubscribe)
	}
	return out.SubscriptionID, nil
}

// Unsubscribe removes a push subscription. Unknown subscriptions are
// treated as already removed.
func (c *HTTPClient) Unsubscribe(ctx context.Context, subscriptionID string) error {
	authToken, err := c.token(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		c.cfg.BaseURL+"/v1/docs/events/subscriptions/"+subscriptionID, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("unsubscribe %s: %w", subscriptionID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("unsubscribe %s: status %d", subscriptionID, resp.StatusCode)
	}
	return nil
}

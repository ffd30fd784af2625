// Package indexer talks to a token-indexing API that records current and
// historical mint authorities. It backs the indexer-authority-lookup
// detection strategy.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// TokenRecord is one indexed token attributed to an authority wallet.
type TokenRecord struct {
	Mint             string    `json:"mint"`
	Name             string    `json:"name,omitempty"`
	Symbol           string    `json:"symbol,omitempty"`
	CurrentAuthority bool      `json:"current_authority"` // wallet still holds the mint authority
	CreatedAt        time.Time `json:"created_at,omitempty"`
}

// Client queries authority records for a wallet.
type Client interface {
	// TokensByAuthority returns tokens whose authority history contains the
	// wallet, most recent first, capped at limit.
	TokensByAuthority(ctx context.Context, wallet string, limit int) ([]TokenRecord, error)
}

// ---------------------------------------------------------------------------
// HTTP implementation
// ---------------------------------------------------------------------------

// HTTPConfig configures the HTTP indexer client.
type HTTPConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPClient implements Client against a REST indexing API.
type HTTPClient struct {
	config     HTTPConfig
	httpClient *http.Client
}

// NewHTTPClient creates an indexer client.
func NewHTTPClient(config HTTPConfig) *HTTPClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &HTTPClient{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// TokensByAuthority implements Client.
func (c *HTTPClient) TokensByAuthority(ctx context.Context, wallet string, limit int) ([]TokenRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	endpoint := fmt.Sprintf("%s/v1/authorities/%s/tokens?limit=%d",
		c.config.BaseURL, url.PathEscape(wallet), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("indexer: create request: %w", err)
	}
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("indexer: tokens by authority: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("indexer: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("indexer: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Tokens []TokenRecord `json:"tokens"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("indexer: parse response: %w", err)
	}
	return payload.Tokens, nil
}

// ---------------------------------------------------------------------------
// Stub implementation (for testing and development)
// ---------------------------------------------------------------------------

// Stub is an in-memory Client for tests.
type Stub struct {
	records map[string][]TokenRecord
	err     error
}

// NewStub creates an empty stub.
func NewStub() *Stub {
	return &Stub{records: make(map[string][]TokenRecord)}
}

// AddRecord attributes a token to a wallet.
func (s *Stub) AddRecord(wallet string, record TokenRecord) {
	s.records[wallet] = append(s.records[wallet], record)
}

// SetError makes every lookup fail.
func (s *Stub) SetError(err error) {
	s.err = err
}

// TokensByAuthority implements Client.
func (s *Stub) TokensByAuthority(_ context.Context, wallet string, limit int) ([]TokenRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	records := s.records[wallet]
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

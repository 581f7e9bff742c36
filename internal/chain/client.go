package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/chainpulse/chainpulse/internal/config"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/ratelimit"
)

// SnapshotSource is the read-only metric snapshot contract consumed by the
// live ingest loop and the historical backfill
type SnapshotSource interface {
	GetMempoolStats(ctx context.Context) (*MempoolStats, error)
	GetEntityFlows(ctx context.Context, entityID string, window time.Duration) (*EntityFlow, error)
	GetEntityBalance(ctx context.Context, entityID string) (*EntityBalance, error)
	GetAddressActivity(ctx context.Context, address string, window time.Duration) (*AddressActivity, error)
	GetBlockAtTime(ctx context.Context, at time.Time) (*BlockRef, error)
	GetSnapshotAtHeight(ctx context.Context, height int64) (*Snapshot, error)
}

// Client handles communication with the chain data API
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authMode    config.AuthMode
	bearerToken string
	apiKey      string
	limiter     *ratelimit.Limiter
}

// NewClient creates a new chain data API client
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:     cfg.ChainAPIBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		authMode:    cfg.ChainAPIAuthMode,
		bearerToken: cfg.ChainAPIBearerToken,
		apiKey:      cfg.ChainAPIAPIKey,
		limiter:     ratelimit.New(cfg.ChainAPIRPS),
	}
}

// GetMempoolStats fetches the current mempool snapshot
func (c *Client) GetMempoolStats(ctx context.Context) (*MempoolStats, error) {
	var stats MempoolStats
	if err := c.get(ctx, "/v1/mempool/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetEntityFlows fetches inflow/outflow for a tagged entity over a window
func (c *Client) GetEntityFlows(ctx context.Context, entityID string, window time.Duration) (*EntityFlow, error) {
	params := url.Values{}
	params.Set("entity", entityID)
	params.Set("window", window.String())

	var flow EntityFlow
	if err := c.get(ctx, "/v1/entities/flows", params, &flow); err != nil {
		return nil, err
	}
	return &flow, nil
}

// GetEntityBalance fetches the custody balance snapshot for a tagged entity
func (c *Client) GetEntityBalance(ctx context.Context, entityID string) (*EntityBalance, error) {
	params := url.Values{}
	params.Set("entity", entityID)

	var balance EntityBalance
	if err := c.get(ctx, "/v1/entities/balance", params, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

// GetAddressActivity fetches balance and daily change for an address
func (c *Client) GetAddressActivity(ctx context.Context, address string, window time.Duration) (*AddressActivity, error) {
	params := url.Values{}
	params.Set("address", address)
	params.Set("window", window.String())

	var activity AddressActivity
	if err := c.get(ctx, "/v1/addresses/activity", params, &activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetBlockAtTime resolves a timestamp to the block mined closest to it
func (c *Client) GetBlockAtTime(ctx context.Context, at time.Time) (*BlockRef, error) {
	params := url.Values{}
	params.Set("at", at.UTC().Format(time.RFC3339))

	var ref BlockRef
	if err := c.get(ctx, "/v1/blocks/at", params, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// GetSnapshotAtHeight fetches the reconstructed metric snapshot for a block,
// used by historical backfill
func (c *Client) GetSnapshotAtHeight(ctx context.Context, height int64) (*Snapshot, error) {
	params := url.Values{}
	params.Set("height", strconv.FormatInt(height, 10))

	var snap Snapshot
	if err := c.get(ctx, "/v1/blocks/snapshot", params, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	err := c.doGet(ctx, endpoint, params, out)
	metrics.RecordChainAPIRequest(endpoint, time.Since(start), err)
	return err
}

func (c *Client) doGet(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	u, err := url.Parse(c.baseURL + endpoint)
	if err != nil {
		return fmt.Errorf("parse URL: %w", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	c.setAuthHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("401 Unauthorized (auth_mode=%s) - check credentials", c.authMode)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	return nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	switch c.authMode {
	case config.AuthModeBearer:
		req.Header.Set("Authorization", "Bearer "+c.bearerToken)
	case config.AuthModeAPIKey:
		req.Header.Set("X-API-KEY", c.apiKey)
	case config.AuthModeNone:
		// No auth headers
	}
}

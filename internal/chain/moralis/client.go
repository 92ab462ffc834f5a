package moralis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/chain/ratelimit"
	"github.com/funtreasury/treasury-sync/internal/circuitbreaker"
	"github.com/funtreasury/treasury-sync/internal/metrics"
)

const apiKeyHeader = "X-API-Key"

// Client talks to the Moralis-style deep-index API for EVM chains: native
// balance, ERC-20 balance list, and transfer history with cursor paging.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *ratelimit.Limiter
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

type Option func(*Client)

func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

func NewClient(baseURL, apiKey string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("provider", "moralis"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type nativeBalanceResponse struct {
	Balance string `json:"balance"`
}

// NativeBalance returns the wei-denominated native coin balance.
func (c *Client) NativeBalance(ctx context.Context, address, chainID string) (decimal.Decimal, error) {
	var parsed nativeBalanceResponse
	q := url.Values{"chain": {chainID}}
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/balance", address), q, "native_balance", &parsed); err != nil {
		return decimal.Zero, err
	}
	wei, err := decimal.NewFromString(strings.TrimSpace(parsed.Balance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse native balance %q: %w", parsed.Balance, err)
	}
	return wei, nil
}

// ERC20Balance is one token holding as the provider reports it: an unscaled
// integer balance plus the decimals to scale it by.
type ERC20Balance struct {
	TokenAddress string `json:"token_address"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Decimals     int32  `json:"decimals"`
	Balance      string `json:"balance"`
}

// ERC20Balances returns every ERC-20 holding the provider knows for the
// address.
func (c *Client) ERC20Balances(ctx context.Context, address, chainID string) ([]ERC20Balance, error) {
	var parsed []ERC20Balance
	q := url.Values{"chain": {chainID}}
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/erc20", address), q, "erc20_balances", &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

type erc20TransfersResponse struct {
	Cursor string          `json:"cursor"`
	Result []ERC20Transfer `json:"result"`
}

type ERC20Transfer struct {
	TransactionHash string `json:"transaction_hash"`
	TokenAddress    string `json:"address"`
	TokenSymbol     string `json:"token_symbol"`
	TokenDecimals   int32  `json:"token_decimals"`
	FromAddress     string `json:"from_address"`
	ToAddress       string `json:"to_address"`
	Value           string `json:"value"`
	BlockNumber     int64  `json:"block_number,string"`
	BlockTimestamp  string `json:"block_timestamp"`
}

// ERC20Transfers returns one page of token transfers, newest first, with
// the cursor for the next page ("" when exhausted).
func (c *Client) ERC20Transfers(ctx context.Context, address, chainID string, cursor *string, limit int) ([]ERC20Transfer, string, error) {
	q := url.Values{"chain": {chainID}, "limit": {fmt.Sprintf("%d", limit)}}
	if cursor != nil && *cursor != "" {
		q.Set("cursor", *cursor)
	}
	var parsed erc20TransfersResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/%s/erc20/transfers", address), q, "erc20_transfers", &parsed); err != nil {
		return nil, "", err
	}
	return parsed.Result, parsed.Cursor, nil
}

type nativeTxResponse struct {
	Cursor string     `json:"cursor"`
	Result []NativeTx `json:"result"`
}

type NativeTx struct {
	Hash           string `json:"hash"`
	FromAddress    string `json:"from_address"`
	ToAddress      string `json:"to_address"`
	Value          string `json:"value"`
	Gas            string `json:"gas"`
	GasPrice       string `json:"gas_price"`
	ReceiptStatus  string `json:"receipt_status"`
	BlockNumber    int64  `json:"block_number,string"`
	BlockTimestamp string `json:"block_timestamp"`
}

// NativeTransactions returns one page of native-coin transactions for the
// address, restricted to blocks after fromBlock when it is positive, with
// the cursor for the next page ("" when exhausted).
func (c *Client) NativeTransactions(ctx context.Context, address, chainID string, fromBlock int64, cursor *string, limit int) ([]NativeTx, string, error) {
	q := url.Values{"chain": {chainID}, "limit": {fmt.Sprintf("%d", limit)}}
	if fromBlock > 0 {
		q.Set("from_block", fmt.Sprintf("%d", fromBlock+1))
	}
	if cursor != nil && *cursor != "" {
		q.Set("cursor", *cursor)
	}
	var parsed nativeTxResponse
	if err := c.getJSON(ctx, fmt.Sprintf("/%s", address), q, "native_txs", &parsed); err != nil {
		return nil, "", err
	}
	return parsed.Result, parsed.Cursor, nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, method string, out any) error {
	if err := c.breaker.Allow(); err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("moralis", method, "breaker_open").Inc()
		return fmt.Errorf("moralis %s: %w", method, err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.ProviderCallsTotal.WithLabelValues("moralis", method, "network_error").Inc()
		return fmt.Errorf("moralis %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.breaker.RecordFailure()
		metrics.ProviderCallsTotal.WithLabelValues("moralis", method, "network_error").Inc()
		return fmt.Errorf("moralis %s: read body: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		// Only transient classes trip the breaker; a 400 for one bad
		// address says nothing about provider health.
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			c.breaker.RecordFailure()
		}
		metrics.ProviderCallsTotal.WithLabelValues("moralis", method, statusClass(resp.StatusCode)).Inc()
		return fmt.Errorf("moralis %s: status %d: %s", method, resp.StatusCode, truncate(body, 200))
	}

	c.breaker.RecordSuccess()

	if err := json.Unmarshal(body, out); err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("moralis", method, "malformed").Inc()
		return fmt.Errorf("moralis %s: unmarshal: %w", method, err)
	}

	metrics.ProviderCallsTotal.WithLabelValues("moralis", method, "ok").Inc()
	return nil
}

func statusClass(code int) string {
	switch {
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "auth_error"
	case code >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

package btcbook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/chain/ratelimit"
	"github.com/funtreasury/treasury-sync/internal/circuitbreaker"
	"github.com/funtreasury/treasury-sync/internal/metrics"
)

const satoshiScale = 8

// Client reads Bitcoin address balances from a blockchain.info-style
// single-purpose endpoint. Balance only: BTC transaction history is not
// available through this provider.
type Client struct {
	baseURL    string
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

func NewClient(baseURL string, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With("provider", "btcbook"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddressBalance returns the address balance in BTC. The endpoint answers
// with a bare satoshi integer in plain text.
func (c *Client) AddressBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	if err := c.breaker.Allow(); err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("btcbook", "address_balance", "breaker_open").Inc()
		return decimal.Zero, fmt.Errorf("btc balance: %w", err)
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limit wait: %w", err)
	}

	u := fmt.Sprintf("%s/q/addressbalance/%s", c.baseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.breaker.RecordFailure()
		metrics.ProviderCallsTotal.WithLabelValues("btcbook", "address_balance", "network_error").Inc()
		return decimal.Zero, fmt.Errorf("btc balance: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<12))
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("btcbook", "address_balance", "network_error").Inc()
		return decimal.Zero, fmt.Errorf("btc balance: read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		status := "client_error"
		if resp.StatusCode >= 500 {
			status = "server_error"
			c.breaker.RecordFailure()
		}
		metrics.ProviderCallsTotal.WithLabelValues("btcbook", "address_balance", status).Inc()
		return decimal.Zero, fmt.Errorf("btc balance: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	sats, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		metrics.ProviderCallsTotal.WithLabelValues("btcbook", "address_balance", "malformed").Inc()
		return decimal.Zero, fmt.Errorf("btc balance: parse %q: %w", strings.TrimSpace(string(body)), err)
	}

	c.breaker.RecordSuccess()
	metrics.ProviderCallsTotal.WithLabelValues("btcbook", "address_balance", "ok").Inc()
	return decimal.New(sats, -satoshiScale), nil
}

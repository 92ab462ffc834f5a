package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// DexScreener is the secondary provider. It resolves tokens by contract
// address via GET /tokens/{contract}, which is the only option for tokens
// with no CoinGecko listing.
type DexScreener struct {
	baseURL    string
	httpClient *http.Client
}

func NewDexScreener(baseURL string) *DexScreener {
	return &DexScreener{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (d *DexScreener) Name() string { return "dexscreener" }

type dexScreenerResponse struct {
	Pairs []struct {
		PriceUSD    decimal.Decimal `json:"priceUsd"`
		PriceChange struct {
			H24 decimal.Decimal `json:"h24"`
		} `json:"priceChange"`
		Volume struct {
			H24 decimal.Decimal `json:"h24"`
		} `json:"volume"`
		FDV       decimal.Decimal `json:"fdv"`
		MarketCap decimal.Decimal `json:"marketCap"`
	} `json:"pairs"`
}

func (d *DexScreener) Quote(ctx context.Context, token TokenRef) (Quote, error) {
	if token.Contract == "" {
		return Quote{}, fmt.Errorf("%w: no contract address for %s", ErrProviderUnavailable, token.Symbol)
	}

	url := fmt.Sprintf("%s/tokens/%s", d.baseURL, token.Contract)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: dexscreener status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}

	var parsed dexScreenerResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("%w: malformed body: %v", ErrProviderUnavailable, err)
	}
	if len(parsed.Pairs) == 0 {
		return Quote{}, fmt.Errorf("%w: dexscreener has no pairs for %s", ErrProviderUnavailable, token.Contract)
	}

	// Pairs are ordered by liquidity; the first is the canonical market.
	pair := parsed.Pairs[0]
	if pair.PriceUSD.IsZero() || pair.PriceUSD.IsNegative() {
		return Quote{}, fmt.Errorf("%w: dexscreener returned no usd price for %s", ErrProviderUnavailable, token.Contract)
	}

	marketCap := pair.MarketCap
	if marketCap.IsZero() {
		marketCap = pair.FDV
	}

	return Quote{
		PriceUSD:  pair.PriceUSD,
		Change24h: pair.PriceChange.H24,
		Volume24h: pair.Volume.H24,
		MarketCap: marketCap,
	}, nil
}

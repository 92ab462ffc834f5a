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

// CoinGecko is the primary price provider. It resolves tokens by their
// CoinGecko coin id via GET /coins/{id}.
type CoinGecko struct {
	baseURL    string
	httpClient *http.Client
}

func NewCoinGecko(baseURL string) *CoinGecko {
	return &CoinGecko{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *CoinGecko) Name() string { return "coingecko" }

type coinGeckoResponse struct {
	MarketData struct {
		CurrentPrice struct {
			USD decimal.Decimal `json:"usd"`
		} `json:"current_price"`
		PriceChangePercentage24h decimal.Decimal `json:"price_change_percentage_24h"`
		TotalVolume              struct {
			USD decimal.Decimal `json:"usd"`
		} `json:"total_volume"`
		MarketCap struct {
			USD decimal.Decimal `json:"usd"`
		} `json:"market_cap"`
	} `json:"market_data"`
}

func (c *CoinGecko) Quote(ctx context.Context, token TokenRef) (Quote, error) {
	if token.CoinGeckoID == "" {
		return Quote{}, fmt.Errorf("%w: no coingecko id for %s", ErrProviderUnavailable, token.Symbol)
	}

	url := fmt.Sprintf("%s/coins/%s?localization=false&tickers=false&community_data=false&developer_data=false", c.baseURL, token.CoinGeckoID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Quote{}, fmt.Errorf("%w: coingecko status %d", ErrProviderUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Quote{}, fmt.Errorf("%w: read body: %v", ErrProviderUnavailable, err)
	}

	var parsed coinGeckoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Quote{}, fmt.Errorf("%w: malformed body: %v", ErrProviderUnavailable, err)
	}

	price := parsed.MarketData.CurrentPrice.USD
	if price.IsZero() || price.IsNegative() {
		return Quote{}, fmt.Errorf("%w: coingecko returned no usd price for %s", ErrProviderUnavailable, token.CoinGeckoID)
	}

	return Quote{
		PriceUSD:  price,
		Change24h: parsed.MarketData.PriceChangePercentage24h,
		Volume24h: parsed.MarketData.TotalVolume.USD,
		MarketCap: parsed.MarketData.MarketCap.USD,
	}, nil
}

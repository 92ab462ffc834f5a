package price

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

func TestCoinGecko_ParsesMarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/coins/binancecoin")
		w.Write([]byte(`{
			"market_data": {
				"current_price": {"usd": 710.25},
				"price_change_percentage_24h": -1.4,
				"total_volume": {"usd": 1200000000},
				"market_cap": {"usd": 103000000000}
			}
		}`))
	}))
	defer srv.Close()

	q, err := NewCoinGecko(srv.URL).Quote(context.Background(), TokenRef{Symbol: "BNB", CoinGeckoID: "binancecoin"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("710.25").Equal(q.PriceUSD))
	assert.True(t, decimal.RequireFromString("-1.4").Equal(q.Change24h))
	assert.True(t, decimal.RequireFromString("1200000000").Equal(q.Volume24h))
}

func TestCoinGecko_Non200IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewCoinGecko(srv.URL).Quote(context.Background(), TokenRef{Symbol: "BNB", CoinGeckoID: "binancecoin"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestCoinGecko_MalformedBodyIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"market_data": `))
	}))
	defer srv.Close()

	_, err := NewCoinGecko(srv.URL).Quote(context.Background(), TokenRef{Symbol: "BNB", CoinGeckoID: "binancecoin"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestCoinGecko_MissingIDIsUnavailable(t *testing.T) {
	_, err := NewCoinGecko("http://unused.invalid").Quote(context.Background(), TokenRef{Symbol: "CAMLY"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestCoinGecko_ZeroPriceIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"market_data": {"current_price": {"usd": 0}}}`))
	}))
	defer srv.Close()

	_, err := NewCoinGecko(srv.URL).Quote(context.Background(), TokenRef{Symbol: "BNB", CoinGeckoID: "binancecoin"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestDexScreener_ParsesFirstPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/tokens/"+camlyContract)
		w.Write([]byte(`{
			"pairs": [
				{"priceUsd": "0.000022", "priceChange": {"h24": 3.1}, "volume": {"h24": 9000}, "fdv": 44000, "marketCap": 22000},
				{"priceUsd": "0.000030"}
			]
		}`))
	}))
	defer srv.Close()

	q, err := NewDexScreener(srv.URL).Quote(context.Background(), TokenRef{
		Symbol:   "CAMLY",
		Contract: camlyContract,
		Chain:    model.ChainBNB,
	})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.000022").Equal(q.PriceUSD), "first pair wins")
	assert.True(t, decimal.RequireFromString("22000").Equal(q.MarketCap))
}

func TestDexScreener_FDVBacksMissingMarketCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": [{"priceUsd": "0.5", "fdv": 100}]}`))
	}))
	defer srv.Close()

	q, err := NewDexScreener(srv.URL).Quote(context.Background(), TokenRef{Symbol: "X", Contract: "0xabc"})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("100").Equal(q.MarketCap))
}

func TestDexScreener_NoPairsIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"pairs": []}`))
	}))
	defer srv.Close()

	_, err := NewDexScreener(srv.URL).Quote(context.Background(), TokenRef{Symbol: "X", Contract: "0xabc"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestDexScreener_MissingContractIsUnavailable(t *testing.T) {
	_, err := NewDexScreener("http://unused.invalid").Quote(context.Background(), TokenRef{Symbol: "BNB"})
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

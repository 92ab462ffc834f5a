package price

import (
	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

// camlyContract is the CAMLY token on BSC. CAMLY trades at fractions of a
// cent; any provider quoting it at a dollar or more is returning garbage,
// hence the sanity ceiling.
const camlyContract = "0x0bcff4b937b5e49005bbd38eebd430c9c26554a5"

func DefaultRegistry() []TokenRef {
	one := decimal.NewFromInt(1)
	return []TokenRef{
		{Symbol: "BNB", CoinGeckoID: "binancecoin", Chain: model.ChainBNB},
		{Symbol: "ETH", CoinGeckoID: "ethereum", Chain: model.ChainETH},
		{Symbol: "BTC", CoinGeckoID: "bitcoin", Chain: model.ChainBTC},
		{Symbol: "MATIC", CoinGeckoID: "matic-network", Chain: model.ChainPolygon},
		{Symbol: "CAMLY", Contract: camlyContract, Chain: model.ChainBNB, SanityCeiling: one},
	}
}

// DefaultFallbackTable is the last-known-good price set served when every
// provider fails. Stale by definition; callers prefer a stale price over
// none.
func DefaultFallbackTable() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"BNB":   decimal.RequireFromString("710"),
		"ETH":   decimal.RequireFromString("3400"),
		"BTC":   decimal.RequireFromString("97000"),
		"MATIC": decimal.RequireFromString("0.52"),
		"CAMLY": decimal.RequireFromString("0.000022"),
	}
}

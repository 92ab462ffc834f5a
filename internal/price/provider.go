package price

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

// ErrProviderUnavailable marks network errors, non-2xx statuses and
// malformed bodies. The resolver falls through to the next provider.
var ErrProviderUnavailable = errors.New("price provider unavailable")

// ErrSanityCheckFailed marks a structurally valid response whose price is
// implausible for the token. Treated like an unavailable provider.
var ErrSanityCheckFailed = errors.New("price failed sanity check")

// TokenRef identifies a token across providers. CoinGeckoID drives the
// primary provider; Contract+Chain drive the DEX fallback. SanityCeiling of
// zero means no ceiling.
type TokenRef struct {
	Symbol        string
	CoinGeckoID   string
	Contract      string
	Chain         model.Chain
	SanityCeiling decimal.Decimal
}

// Quote is one provider's view of a token's market data.
type Quote struct {
	PriceUSD  decimal.Decimal
	Change24h decimal.Decimal
	Volume24h decimal.Decimal
	MarketCap decimal.Decimal
}

// Provider fetches a quote for one token. Implementations return
// ErrProviderUnavailable (wrapped) for anything the resolver should fall
// through on.
type Provider interface {
	Name() string
	Quote(ctx context.Context, token TokenRef) (Quote, error)
}

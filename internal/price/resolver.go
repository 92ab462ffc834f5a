package price

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/cache"
	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/metrics"
)

const (
	tokenPricesCacheID = "token-prices"
	marketListCacheID  = "crypto-prices"

	defaultTokenTTL  = 5 * time.Minute
	defaultMarketTTL = 2 * time.Minute
)

// CacheStore is the persistent layer behind the in-memory cache. Get returns
// (nil, nil) when no row exists.
type CacheStore interface {
	Get(ctx context.Context, id string) (*model.PriceCache, error)
	Put(ctx context.Context, id string, data map[string]decimal.Decimal) error
}

// MarketEntry is one row of the public market list.
type MarketEntry struct {
	Symbol string `json:"symbol"`
	Quote
}

// Resolver serves USD prices for the treasury's tracked tokens. Providers
// are tried in priority order; their results are sanity-checked; the static
// fallback table guarantees callers always get a usable price.
type Resolver struct {
	providers []Provider
	store     CacheStore
	registry  []TokenRef
	bySymbol  map[string]TokenRef
	byContract map[string]string
	fallback  map[string]decimal.Decimal
	backoff   BackoffPolicy
	logger    *slog.Logger
	now       func() time.Time

	tokenTTL  time.Duration
	marketTTL time.Duration

	memory    *cache.TTL[string, decimal.Decimal]
	marketMem *cache.TTL[string, []MarketEntry]

	// refreshMu keeps overlapping misses from hammering providers. Duplicate
	// refreshes are harmless, so readers that hit memory never take it.
	refreshMu sync.Mutex
}

type ResolverOption func(*Resolver)

func WithBackoff(p BackoffPolicy) ResolverOption {
	return func(r *Resolver) { r.backoff = p }
}

func WithTTLs(tokenTTL, marketTTL time.Duration) ResolverOption {
	return func(r *Resolver) {
		r.tokenTTL = tokenTTL
		r.marketTTL = marketTTL
	}
}

func WithRegistry(tokens []TokenRef) ResolverOption {
	return func(r *Resolver) { r.registry = tokens }
}

func WithFallbackTable(table map[string]decimal.Decimal) ResolverOption {
	return func(r *Resolver) { r.fallback = table }
}

func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.now = now }
}

func NewResolver(store CacheStore, providers []Provider, logger *slog.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Resolver{
		providers: providers,
		store:     store,
		registry:  DefaultRegistry(),
		fallback:  DefaultFallbackTable(),
		backoff:   NewBackoffPolicy(3, 500*time.Millisecond, 2),
		logger:    logger.With("component", "price_resolver"),
		now:       time.Now,
		tokenTTL:  defaultTokenTTL,
		marketTTL: defaultMarketTTL,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.memory = cache.NewTTL(256, r.tokenTTL, cache.WithClock[string, decimal.Decimal](func() time.Time { return r.now() }))
	r.marketMem = cache.NewTTL(4, r.marketTTL, cache.WithClock[string, []MarketEntry](func() time.Time { return r.now() }))

	r.bySymbol = make(map[string]TokenRef, len(r.registry))
	r.byContract = make(map[string]string, len(r.registry))
	for _, ref := range r.registry {
		sym := strings.ToUpper(ref.Symbol)
		r.bySymbol[sym] = ref
		if ref.Contract != "" {
			r.byContract[contractKey(ref.Chain, ref.Contract)] = sym
		}
	}
	return r
}

// GetPrices returns a USD price for every requested symbol. It never fails:
// tokens no provider can price come from the static fallback table, and
// symbols absent even there resolve to zero.
func (r *Resolver) GetPrices(ctx context.Context, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	missing := make([]string, 0)

	for _, s := range symbols {
		sym := strings.ToUpper(strings.TrimSpace(s))
		if sym == "" {
			continue
		}
		if _, done := out[sym]; done {
			continue
		}
		if v, ok := r.memory.Get(sym); ok {
			metrics.PriceCacheHits.WithLabelValues("memory").Inc()
			out[sym] = v
			continue
		}
		missing = append(missing, sym)
	}
	if len(missing) == 0 {
		return out
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	// Another caller may have refreshed while we waited on the lock.
	still := missing[:0]
	for _, sym := range missing {
		if v, ok := r.memory.Get(sym); ok {
			metrics.PriceCacheHits.WithLabelValues("memory").Inc()
			out[sym] = v
			continue
		}
		still = append(still, sym)
	}
	if len(still) == 0 {
		return out
	}

	persisted := r.loadPersisted(ctx, tokenPricesCacheID, r.tokenTTL)
	fetched := make(map[string]decimal.Decimal)

	for _, sym := range still {
		if v, ok := persisted[sym]; ok {
			metrics.PriceCacheHits.WithLabelValues("store").Inc()
			r.memory.Set(sym, v)
			out[sym] = v
			continue
		}

		metrics.PriceCacheMisses.Inc()
		if v, err := r.fetchPrice(ctx, sym); err == nil {
			r.memory.Set(sym, v)
			out[sym] = v
			fetched[sym] = v
			continue
		}

		v := r.fallbackPrice(sym)
		metrics.PriceFallbacksServed.Inc()
		r.logger.Warn("all price providers exhausted, serving fallback", "symbol", sym, "price", v)
		out[sym] = v
	}

	if len(fetched) > 0 {
		r.persist(ctx, tokenPricesCacheID, persisted, fetched)
	}
	return out
}

// TokenPriceByContract resolves a token by its contract address. Unknown
// contracts fall through the provider chain directly; an unpriceable
// contract resolves to zero rather than an error.
func (r *Resolver) TokenPriceByContract(ctx context.Context, chain model.Chain, contract string) decimal.Decimal {
	key := contractKey(chain, contract)
	if sym, ok := r.byContract[key]; ok {
		return r.GetPrices(ctx, []string{sym})[sym]
	}

	memKey := "contract:" + key
	if v, ok := r.memory.Get(memKey); ok {
		metrics.PriceCacheHits.WithLabelValues("memory").Inc()
		return v
	}

	ref := TokenRef{Symbol: contract, Contract: contract, Chain: chain}
	quote, err := r.resolveQuote(ctx, ref)
	if err != nil {
		r.logger.Warn("contract price unresolvable", "chain", chain, "contract", contract, "error", err)
		return decimal.Zero
	}
	r.memory.Set(memKey, quote.PriceUSD)
	return quote.PriceUSD
}

// MarketList returns quotes for every registry token, cached on the shorter
// market TTL. Tokens whose providers all fail carry their fallback price and
// zeroed market fields.
func (r *Resolver) MarketList(ctx context.Context) []MarketEntry {
	if entries, ok := r.marketMem.Get(marketListCacheID); ok {
		metrics.PriceCacheHits.WithLabelValues("memory").Inc()
		return entries
	}

	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	if entries, ok := r.marketMem.Get(marketListCacheID); ok {
		return entries
	}

	// A fresh process starts with an empty memory cache; a persisted row
	// still inside the TTL saves the full provider sweep. Persisted rows
	// carry prices only, so market fields stay zeroed until the next
	// provider refresh.
	if persisted := r.loadPersisted(ctx, marketListCacheID, r.marketTTL); len(persisted) > 0 {
		entries := make([]MarketEntry, 0, len(r.registry))
		complete := true
		for _, ref := range r.registry {
			sym := strings.ToUpper(ref.Symbol)
			v, ok := persisted[sym]
			if !ok {
				complete = false
				break
			}
			entries = append(entries, MarketEntry{Symbol: sym, Quote: Quote{PriceUSD: v}})
		}
		if complete {
			metrics.PriceCacheHits.WithLabelValues("store").Inc()
			r.marketMem.Set(marketListCacheID, entries)
			return entries
		}
	}

	entries := make([]MarketEntry, 0, len(r.registry))
	prices := make(map[string]decimal.Decimal, len(r.registry))
	for _, ref := range r.registry {
		sym := strings.ToUpper(ref.Symbol)
		quote, err := r.resolveQuote(ctx, ref)
		if err != nil {
			quote = Quote{PriceUSD: r.fallbackPrice(sym)}
			metrics.PriceFallbacksServed.Inc()
			r.logger.Warn("market list falling back", "symbol", sym, "error", err)
		}
		entries = append(entries, MarketEntry{Symbol: sym, Quote: quote})
		prices[sym] = quote.PriceUSD
	}

	r.marketMem.Set(marketListCacheID, entries)
	r.persist(ctx, marketListCacheID, nil, prices)
	return entries
}

func (r *Resolver) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	ref, ok := r.bySymbol[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("unregistered symbol %s", symbol)
	}
	quote, err := r.resolveQuote(ctx, ref)
	if err != nil {
		return decimal.Zero, err
	}
	return quote.PriceUSD, nil
}

// resolveQuote walks the provider chain, applying the retry policy and the
// per-token sanity ceiling. The first acceptable quote wins.
func (r *Resolver) resolveQuote(ctx context.Context, ref TokenRef) (Quote, error) {
	var lastErr error
	for _, p := range r.providers {
		var quote Quote
		err := r.backoff.Do(ctx, func(ctx context.Context) error {
			q, qErr := p.Quote(ctx, ref)
			if qErr != nil {
				return qErr
			}
			quote = q
			return nil
		})
		if err != nil {
			metrics.PriceProviderRequests.WithLabelValues(p.Name(), "unavailable").Inc()
			r.logger.Warn("price provider failed", "provider", p.Name(), "symbol", ref.Symbol, "error", err)
			lastErr = err
			continue
		}

		if !ref.SanityCeiling.IsZero() && quote.PriceUSD.GreaterThanOrEqual(ref.SanityCeiling) {
			metrics.PriceProviderRequests.WithLabelValues(p.Name(), "sanity_failed").Inc()
			r.logger.Warn("price provider failed sanity check",
				"provider", p.Name(),
				"symbol", ref.Symbol,
				"price", quote.PriceUSD,
				"ceiling", ref.SanityCeiling,
			)
			lastErr = fmt.Errorf("%w: %s quoted %s at %s (ceiling %s)", ErrSanityCheckFailed, p.Name(), ref.Symbol, quote.PriceUSD, ref.SanityCeiling)
			continue
		}

		metrics.PriceProviderRequests.WithLabelValues(p.Name(), "ok").Inc()
		return quote, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no price providers configured")
	}
	return Quote{}, lastErr
}

func (r *Resolver) fallbackPrice(symbol string) decimal.Decimal {
	if v, ok := r.fallback[symbol]; ok {
		return v
	}
	return decimal.Zero
}

// loadPersisted returns the persistent cache row's data when the row is
// still inside its TTL, or an empty map otherwise. Store errors degrade to a
// cache miss.
func (r *Resolver) loadPersisted(ctx context.Context, id string, ttl time.Duration) map[string]decimal.Decimal {
	if r.store == nil {
		return map[string]decimal.Decimal{}
	}
	row, err := r.store.Get(ctx, id)
	if err != nil {
		r.logger.Warn("price cache store read failed", "id", id, "error", err)
		return map[string]decimal.Decimal{}
	}
	if !row.Fresh(ttl, r.now()) {
		return map[string]decimal.Decimal{}
	}
	return row.Data
}

// persist overwrites the cache row with base merged with updates. Write
// failures are logged; the in-memory layer still serves this TTL window.
func (r *Resolver) persist(ctx context.Context, id string, base, updates map[string]decimal.Decimal) {
	if r.store == nil {
		return
	}
	merged := make(map[string]decimal.Decimal, len(base)+len(updates))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range updates {
		merged[k] = v
	}
	if err := r.store.Put(ctx, id, merged); err != nil {
		r.logger.Warn("price cache store write failed", "id", id, "error", err)
	}
}

func contractKey(chain model.Chain, contract string) string {
	return string(chain) + ":" + strings.ToLower(strings.TrimSpace(contract))
}

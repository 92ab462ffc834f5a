// Package sync drives the periodic reconciliation of every tracked wallet:
// fetch on-chain balances and transfers, price them, and converge the ledger
// tables. One wallet's failure never aborts the batch.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/funtreasury/treasury-sync/internal/chain"
	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/metrics"
	"github.com/funtreasury/treasury-sync/internal/store"
	"github.com/funtreasury/treasury-sync/internal/tracing"
)

// Fetcher combines balance and transfer retrieval for one wallet.
type Fetcher interface {
	chain.BalanceFetcher
	chain.TransferFetcher
}

// PriceSource prices symbols and contracts in USD. Implementations never
// fail; unknown assets price at zero.
type PriceSource interface {
	GetPrices(ctx context.Context, symbols []string) map[string]decimal.Decimal
	TokenPriceByContract(ctx context.Context, c model.Chain, contract string) decimal.Decimal
}

// TransactionNotifier is invoked once per freshly inserted ledger row.
type TransactionNotifier interface {
	NotifyTransaction(ctx context.Context, w *model.Wallet, t *model.Transaction)
}

// ViewInvalidator drops cached read views after the batch mutated rows.
type ViewInvalidator interface {
	Invalidate(ctx context.Context)
}

// WalletFailure records why one wallet's sync attempt ended in error.
type WalletFailure struct {
	WalletID uuid.UUID
	Chain    model.Chain
	Err      error
}

// BatchResult summarizes one sync run.
type BatchResult struct {
	Succeeded int
	Skipped   int
	Failed    []WalletFailure
}

type Syncer struct {
	wallets  store.WalletRepository
	balances store.TokenBalanceRepository
	txs      store.TransactionRepository
	states   store.SyncStateRepository
	fetcher  Fetcher
	prices   PriceSource
	notifier TransactionNotifier
	views    ViewInvalidator

	logger       *slog.Logger
	tracer       trace.Tracer
	workers      int
	transferPage int
	now          func() time.Time
}

type Option func(*Syncer)

// WithWorkers bounds wallet-level concurrency inside a batch.
func WithWorkers(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.workers = n
		}
	}
}

// WithTransferPageSize sets the per-wallet transfer page size requested from
// the chain provider.
func WithTransferPageSize(n int) Option {
	return func(s *Syncer) {
		if n > 0 {
			s.transferPage = n
		}
	}
}

// WithNotifier attaches the transaction notifier. Without one, ingestion
// still happens but nothing is dispatched.
func WithNotifier(n TransactionNotifier) Option {
	return func(s *Syncer) { s.notifier = n }
}

// WithViewCache attaches the read-view cache invalidated after each batch.
func WithViewCache(v ViewInvalidator) Option {
	return func(s *Syncer) { s.views = v }
}

func WithClock(now func() time.Time) Option {
	return func(s *Syncer) { s.now = now }
}

func New(
	wallets store.WalletRepository,
	balances store.TokenBalanceRepository,
	txs store.TransactionRepository,
	states store.SyncStateRepository,
	fetcher Fetcher,
	prices PriceSource,
	logger *slog.Logger,
	opts ...Option,
) *Syncer {
	s := &Syncer{
		wallets:      wallets,
		balances:     balances,
		txs:          txs,
		states:       states,
		fetcher:      fetcher,
		prices:       prices,
		logger:       logger.With("component", "syncer"),
		tracer:       tracing.Tracer("syncer"),
		workers:      4,
		transferPage: 100,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type walletOutcome struct {
	status  string // "ok", "skipped", "failed"
	failure WalletFailure
	mutated bool
}

// Run executes one full sync batch over every tracked wallet. The returned
// error covers batch-level problems only (listing wallets, context
// cancellation); per-wallet errors land in BatchResult.Failed.
func (s *Syncer) Run(ctx context.Context) (BatchResult, error) {
	metrics.SyncRunsTotal.Inc()

	ctx, span := s.tracer.Start(ctx, "sync.batch")
	defer span.End()

	wallets, err := s.wallets.List(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("list wallets: %w", err)
	}
	span.SetAttributes(attribute.Int("wallets", len(wallets)))

	outcomes := make(chan walletOutcome, len(wallets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, w := range wallets {
		w := w
		g.Go(func() error {
			outcomes <- s.syncWallet(gctx, &w)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}
	close(outcomes)

	var (
		result  BatchResult
		mutated bool
	)
	for o := range outcomes {
		switch o.status {
		case "ok":
			result.Succeeded++
		case "skipped":
			result.Skipped++
		default:
			result.Failed = append(result.Failed, o.failure)
		}
		mutated = mutated || o.mutated
	}

	if mutated && s.views != nil {
		s.views.Invalidate(ctx)
	}

	s.logger.Info("sync batch finished",
		"wallets", len(wallets),
		"succeeded", result.Succeeded,
		"skipped", result.Skipped,
		"failed", len(result.Failed),
	)
	return result, ctx.Err()
}

func (s *Syncer) syncWallet(ctx context.Context, w *model.Wallet) walletOutcome {
	chainLabel := string(w.Chain)
	start := s.now()
	defer func() {
		metrics.SyncWalletDuration.WithLabelValues(chainLabel).Observe(time.Since(start).Seconds())
	}()

	ctx, span := s.tracer.Start(ctx, "sync.wallet", trace.WithAttributes(
		attribute.String("wallet.id", w.ID.String()),
		attribute.String("wallet.chain", chainLabel),
	))
	defer span.End()

	logger := s.logger.With("wallet_id", w.ID, "chain", w.Chain, "address", w.Address)

	state, err := s.states.Get(ctx, w.ID)
	if err != nil {
		logger.Warn("sync state load failed, starting from scratch", "error", err)
	}
	if state == nil {
		state = &model.SyncState{WalletID: w.ID}
	}
	s.setState(ctx, state, model.SyncStatusRunning, nil)

	mutated := false

	raw, err := s.fetcher.FetchBalances(ctx, *w)
	switch {
	case errors.Is(err, chain.ErrUnsupportedAddress):
		logger.Warn("wallet skipped: address does not match chain format")
		metrics.SyncWalletsSkipped.WithLabelValues(chainLabel).Inc()
		s.setState(ctx, state, model.SyncStatusError, err)
		return walletOutcome{status: "skipped"}
	case err != nil:
		logger.Error("balance fetch failed", "error", err)
		metrics.SyncWalletsFailed.WithLabelValues(chainLabel).Inc()
		s.setState(ctx, state, model.SyncStatusError, err)
		return walletOutcome{status: "failed", failure: WalletFailure{WalletID: w.ID, Chain: w.Chain, Err: err}}
	}

	upserted, upsertErr := s.persistBalances(ctx, w, raw, logger)
	mutated = mutated || upserted > 0

	page, ingested, ingestErr := s.ingestTransfers(ctx, w, state, logger)
	mutated = mutated || ingested > 0

	if ingestErr == nil {
		state.LastCursor = page.Cursor
		if page.MaxBlock > state.LastBlockSynced {
			state.LastBlockSynced = page.MaxBlock
		}
	}

	if walletErr := errors.Join(upsertErr, ingestErr); walletErr != nil {
		metrics.SyncWalletsFailed.WithLabelValues(chainLabel).Inc()
		s.setState(ctx, state, model.SyncStatusError, walletErr)
		return walletOutcome{
			status:  "failed",
			failure: WalletFailure{WalletID: w.ID, Chain: w.Chain, Err: walletErr},
			mutated: mutated,
		}
	}

	now := s.now()
	state.LastSyncAt = &now
	s.setState(ctx, state, model.SyncStatusOK, nil)
	metrics.SyncWalletsSucceeded.WithLabelValues(chainLabel).Inc()
	logger.Info("wallet synced", "balances", upserted, "transactions", ingested)
	return walletOutcome{status: "ok", mutated: mutated}
}

// persistBalances prices and upserts the fetched holdings. Row failures are
// collected instead of aborting so one bad symbol cannot block the rest of
// the snapshot.
func (s *Syncer) persistBalances(ctx context.Context, w *model.Wallet, raw []model.RawTokenBalance, logger *slog.Logger) (int, error) {
	if len(raw) == 0 {
		return 0, nil
	}

	symbols := make([]string, 0, len(raw))
	for _, b := range raw {
		if b.Native || b.ContractAddress == "" {
			symbols = append(symbols, b.Symbol)
		}
	}
	priced := s.prices.GetPrices(ctx, symbols)

	var (
		upserted int
		errs     []error
	)
	for _, b := range raw {
		price, ok := priced[b.Symbol]
		if !ok {
			price = s.prices.TokenPriceByContract(ctx, w.Chain, b.ContractAddress)
		}

		row := &model.TokenBalance{
			WalletID: w.ID,
			Symbol:   b.Symbol,
			Balance:  b.Balance,
			USDValue: b.Balance.Mul(price),
		}
		if err := s.balances.Upsert(ctx, row); err != nil {
			logger.Warn("balance upsert failed", "symbol", b.Symbol, "error", err)
			metrics.BalanceUpsertErrors.WithLabelValues(string(w.Chain)).Inc()
			errs = append(errs, fmt.Errorf("upsert %s: %w", b.Symbol, err))
			continue
		}
		metrics.BalancesUpserted.WithLabelValues(string(w.Chain)).Inc()
		upserted++
	}
	return upserted, errors.Join(errs...)
}

// ingestTransfers pulls the next transfer page and appends new rows to the
// ledger. USD value is frozen at ingestion time; re-pricing never rewrites
// history.
func (s *Syncer) ingestTransfers(ctx context.Context, w *model.Wallet, state *model.SyncState, logger *slog.Logger) (chain.TransferPage, int, error) {
	page, err := s.fetcher.FetchTransfers(ctx, *w, state.LastCursor, state.LastBlockSynced, s.transferPage)
	if err != nil {
		logger.Error("transfer fetch failed", "error", err)
		return chain.TransferPage{}, 0, fmt.Errorf("fetch transfers: %w", err)
	}

	var (
		ingested int
		errs     []error
	)
	for _, tr := range page.Transfers {
		price := s.priceTransfer(ctx, w.Chain, tr)

		tx := &model.Transaction{
			WalletID:     w.ID,
			TxHash:       tr.Hash,
			Direction:    model.ClassifyDirection(w.Address, tr.From, tr.To),
			TokenSymbol:  tr.TokenSymbol,
			TokenAddress: tr.TokenAddress,
			Amount:       tr.Amount,
			USDValue:     tr.Amount.Mul(price),
			FromAddress:  tr.From,
			ToAddress:    tr.To,
			BlockNumber:  tr.BlockNumber,
			GasFee:       tr.GasFee,
			Status:       tr.Status,
			Timestamp:    tr.Timestamp,
		}
		inserted, err := s.txs.Insert(ctx, tx)
		if err != nil {
			logger.Warn("transaction insert failed", "tx_hash", tr.Hash, "error", err)
			errs = append(errs, fmt.Errorf("insert %s: %w", tr.Hash, err))
			continue
		}
		if !inserted {
			metrics.TransactionsDuplicate.WithLabelValues(string(w.Chain)).Inc()
			continue
		}
		metrics.TransactionsIngested.WithLabelValues(string(w.Chain)).Inc()
		ingested++

		if s.notifier != nil {
			s.notifier.NotifyTransaction(ctx, w, tx)
		}
	}
	return page, ingested, errors.Join(errs...)
}

func (s *Syncer) priceTransfer(ctx context.Context, c model.Chain, tr chain.Transfer) decimal.Decimal {
	if tr.TokenAddress != "" {
		return s.prices.TokenPriceByContract(ctx, c, tr.TokenAddress)
	}
	return s.prices.GetPrices(ctx, []string{tr.TokenSymbol})[tr.TokenSymbol]
}

// setState persists the cursor row best effort. A failed state write is
// logged, not propagated: losing the cursor means re-fetching a page, and
// the tx_hash constraint absorbs the replay.
func (s *Syncer) setState(ctx context.Context, state *model.SyncState, status model.SyncStatus, cause error) {
	state.SyncStatus = status
	if cause != nil {
		msg := cause.Error()
		state.ErrorMessage = &msg
	} else {
		state.ErrorMessage = nil
	}
	if err := s.states.Upsert(ctx, state); err != nil {
		s.logger.Warn("sync state persist failed", "wallet_id", state.WalletID, "error", err)
	}
}

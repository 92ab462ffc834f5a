package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	stdsync "sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funtreasury/treasury-sync/internal/chain"
	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/store"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeWalletRepo struct {
	wallets []model.Wallet
	listErr error
}

func (f *fakeWalletRepo) List(_ context.Context) ([]model.Wallet, error) {
	return f.wallets, f.listErr
}
func (f *fakeWalletRepo) GetByID(_ context.Context, id uuid.UUID) (*model.Wallet, error) {
	for i := range f.wallets {
		if f.wallets[i].ID == id {
			return &f.wallets[i], nil
		}
	}
	return nil, nil
}
func (f *fakeWalletRepo) Upsert(_ context.Context, w *model.Wallet) error {
	f.wallets = append(f.wallets, *w)
	return nil
}

type fakeBalanceRepo struct {
	mu      stdsync.Mutex
	rows    map[string]model.TokenBalance // wallet_id|symbol
	upserts int
	failFor string // symbol that always errors
}

func newFakeBalanceRepo() *fakeBalanceRepo {
	return &fakeBalanceRepo{rows: make(map[string]model.TokenBalance)}
}

func (f *fakeBalanceRepo) Upsert(_ context.Context, b *model.TokenBalance) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b.Symbol == f.failFor {
		return fmt.Errorf("row write refused")
	}
	f.upserts++
	f.rows[b.WalletID.String()+"|"+b.Symbol] = *b
	return nil
}

func (f *fakeBalanceRepo) ListByWallet(_ context.Context, walletID uuid.UUID) ([]model.TokenBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TokenBalance
	for _, b := range f.rows {
		if b.WalletID == walletID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeBalanceRepo) ListAll(_ context.Context) ([]model.TokenBalance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.TokenBalance
	for _, b := range f.rows {
		out = append(out, b)
	}
	return out, nil
}

func (f *fakeBalanceRepo) get(walletID uuid.UUID, symbol string) (model.TokenBalance, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.rows[walletID.String()+"|"+symbol]
	return b, ok
}

type fakeTxRepo struct {
	mu     stdsync.Mutex
	byHash map[string]model.Transaction
}

func newFakeTxRepo() *fakeTxRepo {
	return &fakeTxRepo{byHash: make(map[string]model.Transaction)}
}

func (f *fakeTxRepo) Insert(_ context.Context, t *model.Transaction) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byHash[t.TxHash]; ok {
		return false, nil
	}
	t.ID = uuid.New()
	f.byHash[t.TxHash] = *t
	return true, nil
}

func (f *fakeTxRepo) UpdateStatus(_ context.Context, txHash string, status model.TxStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byHash[txHash]
	if !ok {
		return fmt.Errorf("no such tx")
	}
	t.Status = status
	f.byHash[txHash] = t
	return nil
}

func (f *fakeTxRepo) ListByWallet(_ context.Context, walletID uuid.UUID, _ int) ([]model.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Transaction
	for _, t := range f.byHash {
		if t.WalletID == walletID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTxRepo) FindDuplicates(_ context.Context) ([]store.DuplicateGroup, error) {
	return nil, nil
}

type fakeStateRepo struct {
	mu     stdsync.Mutex
	states map[uuid.UUID]model.SyncState
}

func newFakeStateRepo() *fakeStateRepo {
	return &fakeStateRepo{states: make(map[uuid.UUID]model.SyncState)}
}

func (f *fakeStateRepo) Get(_ context.Context, walletID uuid.UUID) (*model.SyncState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.states[walletID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (f *fakeStateRepo) Upsert(_ context.Context, s *model.SyncState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states[s.WalletID] = *s
	return nil
}

type fakeFetcher struct {
	balances    map[uuid.UUID][]model.RawTokenBalance
	transfers   map[uuid.UUID]chain.TransferPage
	balanceErr  map[uuid.UUID]error
	transferErr map[uuid.UUID]error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		balances:    make(map[uuid.UUID][]model.RawTokenBalance),
		transfers:   make(map[uuid.UUID]chain.TransferPage),
		balanceErr:  make(map[uuid.UUID]error),
		transferErr: make(map[uuid.UUID]error),
	}
}

func (f *fakeFetcher) FetchBalances(_ context.Context, w model.Wallet) ([]model.RawTokenBalance, error) {
	if err := f.balanceErr[w.ID]; err != nil {
		return nil, err
	}
	return f.balances[w.ID], nil
}

func (f *fakeFetcher) FetchTransfers(_ context.Context, w model.Wallet, _ *string, _ int64, _ int) (chain.TransferPage, error) {
	if err := f.transferErr[w.ID]; err != nil {
		return chain.TransferPage{}, err
	}
	return f.transfers[w.ID], nil
}

type fakePrices struct {
	bySymbol   map[string]string
	byContract map[string]string
}

func (f *fakePrices) GetPrices(_ context.Context, symbols []string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(symbols))
	for _, s := range symbols {
		if p, ok := f.bySymbol[s]; ok {
			out[s] = decimal.RequireFromString(p)
		} else {
			out[s] = decimal.Zero
		}
	}
	return out
}

func (f *fakePrices) TokenPriceByContract(_ context.Context, _ model.Chain, contract string) decimal.Decimal {
	if p, ok := f.byContract[contract]; ok {
		return decimal.RequireFromString(p)
	}
	return decimal.Zero
}

type fakeNotifier struct {
	mu       stdsync.Mutex
	notified []model.Transaction
}

func (f *fakeNotifier) NotifyTransaction(_ context.Context, _ *model.Wallet, t *model.Transaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, *t)
}

type fakeViews struct {
	mu    stdsync.Mutex
	calls int
}

func (f *fakeViews) Invalidate(_ context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

const camlyContract = "0x0bcff4b937b5e49005bbd38eebd430c9c26554a5"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type env struct {
	wallets  *fakeWalletRepo
	balances *fakeBalanceRepo
	txs      *fakeTxRepo
	states   *fakeStateRepo
	fetcher  *fakeFetcher
	prices   *fakePrices
	notifier *fakeNotifier
	views    *fakeViews
}

func newEnv(wallets ...model.Wallet) *env {
	return &env{
		wallets:  &fakeWalletRepo{wallets: wallets},
		balances: newFakeBalanceRepo(),
		txs:      newFakeTxRepo(),
		states:   newFakeStateRepo(),
		fetcher:  newFakeFetcher(),
		prices: &fakePrices{
			bySymbol:   map[string]string{"BNB": "710", "ETH": "3400", "BTC": "97000", "MATIC": "0.52"},
			byContract: map[string]string{camlyContract: "0.000022"},
		},
		notifier: &fakeNotifier{},
		views:    &fakeViews{},
	}
}

func (e *env) syncer(opts ...Option) *Syncer {
	opts = append([]Option{WithNotifier(e.notifier), WithViewCache(e.views)}, opts...)
	return New(e.wallets, e.balances, e.txs, e.states, e.fetcher, e.prices, testLogger(), opts...)
}

func bnbWallet() model.Wallet {
	return model.Wallet{
		ID:      uuid.New(),
		Address: "0x1b9a4c2d8e7f60a1b2c3d4e5f60718293a4b5c6d",
		Chain:   model.ChainBNB,
		Name:    "ops",
	}
}

// ---------------------------------------------------------------------------
// Balance pipeline
// ---------------------------------------------------------------------------

func TestRunPricesAndUpsertsBalances(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)
	e.fetcher.balances[w.ID] = []model.RawTokenBalance{
		{Symbol: "BNB", Balance: decimal.RequireFromString("2.5"), Native: true},
		{Symbol: "CAMLY", Balance: decimal.RequireFromString("1000000"), ContractAddress: camlyContract},
	}

	res, err := e.syncer().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Empty(t, res.Failed)

	bnb, ok := e.balances.get(w.ID, "BNB")
	require.True(t, ok)
	assert.True(t, bnb.USDValue.Equal(decimal.RequireFromString("1775")), "got %s", bnb.USDValue)

	camly, ok := e.balances.get(w.ID, "CAMLY")
	require.True(t, ok)
	assert.True(t, camly.USDValue.Equal(decimal.RequireFromString("22")), "got %s", camly.USDValue)
}

func TestRunIsIdempotentForBalances(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)
	e.fetcher.balances[w.ID] = []model.RawTokenBalance{
		{Symbol: "BNB", Balance: decimal.RequireFromString("2.5"), Native: true},
	}

	s := e.syncer()
	for i := 0; i < 3; i++ {
		_, err := s.Run(context.Background())
		require.NoError(t, err)
	}

	assert.Len(t, e.balances.rows, 1, "repeated syncs converge to one row per (wallet, symbol)")
	assert.Equal(t, 3, e.balances.upserts)
}

func TestRunAggregatesRowErrorsAndKeepsGoing(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)
	e.balances.failFor = "CAMLY"
	e.fetcher.balances[w.ID] = []model.RawTokenBalance{
		{Symbol: "BNB", Balance: decimal.RequireFromString("2.5"), Native: true},
		{Symbol: "CAMLY", Balance: decimal.RequireFromString("1000000"), ContractAddress: camlyContract},
	}

	res, err := e.syncer().Run(context.Background())
	require.NoError(t, err)

	// The good row landed, the bad row surfaced as a wallet failure.
	_, ok := e.balances.get(w.ID, "BNB")
	assert.True(t, ok)
	require.Len(t, res.Failed, 1)
	assert.ErrorContains(t, res.Failed[0].Err, "CAMLY")
}

// ---------------------------------------------------------------------------
// Wallet isolation
// ---------------------------------------------------------------------------

func TestRunSkipsUnsupportedAddress(t *testing.T) {
	bad := bnbWallet()
	good := bnbWallet()
	e := newEnv(bad, good)
	e.fetcher.balanceErr[bad.ID] = chain.ErrUnsupportedAddress
	e.fetcher.balances[good.ID] = []model.RawTokenBalance{
		{Symbol: "BNB", Balance: decimal.RequireFromString("1"), Native: true},
	}

	res, err := e.syncer().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, res.Failed)

	st, _ := e.states.Get(context.Background(), bad.ID)
	require.NotNil(t, st)
	assert.Equal(t, model.SyncStatusError, st.SyncStatus)
}

func TestRunIsolatesProviderFailure(t *testing.T) {
	failing := bnbWallet()
	healthy := bnbWallet()
	e := newEnv(failing, healthy)
	e.fetcher.balanceErr[failing.ID] = errors.New("provider 500")
	e.fetcher.balances[healthy.ID] = []model.RawTokenBalance{
		{Symbol: "BNB", Balance: decimal.RequireFromString("1"), Native: true},
	}

	res, err := e.syncer().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, failing.ID, res.Failed[0].WalletID)
}

// ---------------------------------------------------------------------------
// Transfer ingestion
// ---------------------------------------------------------------------------

func transferPageFor(w model.Wallet) chain.TransferPage {
	cursor := "next-page"
	return chain.TransferPage{
		Transfers: []chain.Transfer{
			{
				Hash:        "0xaaa",
				TokenSymbol: "BNB",
				From:        "0x9999999999999999999999999999999999999999",
				To:          w.Address,
				Amount:      decimal.RequireFromString("2.5"),
				BlockNumber: 120,
				Status:      model.TxStatusSuccess,
				Timestamp:   time.Date(2026, 8, 15, 10, 0, 0, 0, time.UTC),
			},
			{
				Hash:         "0xbbb",
				TokenSymbol:  "CAMLY",
				TokenAddress: camlyContract,
				From:         w.Address,
				To:           "0x9999999999999999999999999999999999999999",
				Amount:       decimal.RequireFromString("1000000"),
				BlockNumber:  130,
				Status:       model.TxStatusSuccess,
				Timestamp:    time.Date(2026, 8, 15, 10, 5, 0, 0, time.UTC),
			},
		},
		Cursor:   &cursor,
		MaxBlock: 130,
	}
}

func TestRunIngestsTransfersWithDirectionAndFrozenUSD(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)
	e.fetcher.transfers[w.ID] = transferPageFor(w)

	res, err := e.syncer().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Succeeded)

	in := e.txs.byHash["0xaaa"]
	assert.Equal(t, model.DirectionIn, in.Direction)
	assert.True(t, in.USDValue.Equal(decimal.RequireFromString("1775")), "got %s", in.USDValue)

	out := e.txs.byHash["0xbbb"]
	assert.Equal(t, model.DirectionOut, out.Direction)
	assert.True(t, out.USDValue.Equal(decimal.RequireFromString("22")), "got %s", out.USDValue)

	assert.Len(t, e.notifier.notified, 2)
}

func TestRunDuplicateTransfersAreNoOps(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)
	e.fetcher.transfers[w.ID] = transferPageFor(w)

	s := e.syncer()
	_, err := s.Run(context.Background())
	require.NoError(t, err)
	_, err = s.Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, e.txs.byHash, 2, "replayed page inserts nothing new")
	assert.Len(t, e.notifier.notified, 2, "duplicates never re-notify")
}

func TestRunAdvancesCursorAndBlockWatermark(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)
	e.fetcher.transfers[w.ID] = transferPageFor(w)

	_, err := e.syncer().Run(context.Background())
	require.NoError(t, err)

	st, _ := e.states.Get(context.Background(), w.ID)
	require.NotNil(t, st)
	require.NotNil(t, st.LastCursor)
	assert.Equal(t, "next-page", *st.LastCursor)
	assert.Equal(t, int64(130), st.LastBlockSynced)
	assert.Equal(t, model.SyncStatusOK, st.SyncStatus)
	require.NotNil(t, st.LastSyncAt)
}

func TestRunTransferFetchFailurePreservesCursor(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)

	// First run establishes a watermark.
	e.fetcher.transfers[w.ID] = transferPageFor(w)
	_, err := e.syncer().Run(context.Background())
	require.NoError(t, err)

	// Second run fails at the provider; the cursor must not move.
	e.fetcher.transferErr[w.ID] = errors.New("provider 429")
	res, err := e.syncer().Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Failed, 1)

	st, _ := e.states.Get(context.Background(), w.ID)
	require.NotNil(t, st)
	assert.Equal(t, int64(130), st.LastBlockSynced)
	require.NotNil(t, st.LastCursor)
	assert.Equal(t, "next-page", *st.LastCursor)
	assert.Equal(t, model.SyncStatusError, st.SyncStatus)
}

// ---------------------------------------------------------------------------
// View invalidation
// ---------------------------------------------------------------------------

func TestRunInvalidatesViewsOnlyWhenMutated(t *testing.T) {
	w := bnbWallet()
	e := newEnv(w)
	e.fetcher.balances[w.ID] = []model.RawTokenBalance{
		{Symbol: "BNB", Balance: decimal.RequireFromString("1"), Native: true},
	}

	_, err := e.syncer().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, e.views.calls)

	// Nothing to do: no balances, no transfers.
	quiet := newEnv(bnbWallet())
	_, err = quiet.syncer().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, quiet.views.calls)
}

func TestRunEmptyWalletSet(t *testing.T) {
	e := newEnv()
	res, err := e.syncer().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchResult{}, res)
}

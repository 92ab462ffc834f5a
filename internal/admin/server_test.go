package admin

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/store"
	syncpkg "github.com/funtreasury/treasury-sync/internal/sync"
)

const testToken = "s3cret"

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeWalletRepo struct {
	wallets []model.Wallet
}

func (f *fakeWalletRepo) List(_ context.Context) ([]model.Wallet, error) { return f.wallets, nil }
func (f *fakeWalletRepo) GetByID(_ context.Context, _ uuid.UUID) (*model.Wallet, error) {
	return nil, nil
}
func (f *fakeWalletRepo) Upsert(_ context.Context, w *model.Wallet) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	f.wallets = append(f.wallets, *w)
	return nil
}

type fakeBalanceRepo struct {
	rows []model.TokenBalance
}

func (f *fakeBalanceRepo) Upsert(_ context.Context, _ *model.TokenBalance) error { return nil }
func (f *fakeBalanceRepo) ListByWallet(_ context.Context, _ uuid.UUID) ([]model.TokenBalance, error) {
	return f.rows, nil
}
func (f *fakeBalanceRepo) ListAll(_ context.Context) ([]model.TokenBalance, error) {
	return f.rows, nil
}

type fakeTxRepo struct {
	txs    []model.Transaction
	groups []store.DuplicateGroup
}

func (f *fakeTxRepo) Insert(_ context.Context, _ *model.Transaction) (bool, error) {
	return true, nil
}
func (f *fakeTxRepo) UpdateStatus(_ context.Context, hash string, status model.TxStatus) error {
	for i := range f.txs {
		if f.txs[i].TxHash == hash {
			f.txs[i].Status = status
			return nil
		}
	}
	return fmt.Errorf("update transaction status %s: %w", hash, sql.ErrNoRows)
}
func (f *fakeTxRepo) ListByWallet(_ context.Context, _ uuid.UUID, _ int) ([]model.Transaction, error) {
	return f.txs, nil
}
func (f *fakeTxRepo) FindDuplicates(_ context.Context) ([]store.DuplicateGroup, error) {
	return f.groups, nil
}

type fakeTxMetadataRepo struct {
	rows map[uuid.UUID]model.TxMetadata
}

func (f *fakeTxMetadataRepo) Upsert(_ context.Context, m *model.TxMetadata) error {
	if f.rows == nil {
		f.rows = make(map[uuid.UUID]model.TxMetadata)
	}
	f.rows[m.TransactionID] = *m
	return nil
}

func (f *fakeTxMetadataRepo) GetByTransaction(_ context.Context, id uuid.UUID) (*model.TxMetadata, error) {
	m, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

type fakeAlertConfigRepo struct {
	cfg *model.TransactionAlertConfig
}

func (f *fakeAlertConfigRepo) Get(_ context.Context) (*model.TransactionAlertConfig, error) {
	return f.cfg, nil
}
func (f *fakeAlertConfigRepo) Upsert(_ context.Context, c *model.TransactionAlertConfig) error {
	f.cfg = c
	return nil
}

type fakeSyncTrigger struct {
	result syncpkg.BatchResult
	runs   int
}

func (f *fakeSyncTrigger) Run(_ context.Context) (syncpkg.BatchResult, error) {
	f.runs++
	return f.result, nil
}

type fakeBalanceViews struct {
	stored      []byte
	statsStored []byte
	hits        int
	statsHits   int
}

func (f *fakeBalanceViews) GetBalances(_ context.Context, out any) bool {
	if f.stored == nil {
		return false
	}
	f.hits++
	return json.Unmarshal(f.stored, out) == nil
}

func (f *fakeBalanceViews) SetBalances(_ context.Context, view any) {
	f.stored, _ = json.Marshal(view)
}

func (f *fakeBalanceViews) GetStats(_ context.Context, out any) bool {
	if f.statsStored == nil {
		return false
	}
	f.statsHits++
	return json.Unmarshal(f.statsStored, out) == nil
}

func (f *fakeBalanceViews) SetStats(_ context.Context, view any) {
	f.statsStored, _ = json.Marshal(view)
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	wallets  *fakeWalletRepo
	balances *fakeBalanceRepo
	txs      *fakeTxRepo
	alertCfg *fakeAlertConfigRepo
	metadata *fakeTxMetadataRepo
	trigger  *fakeSyncTrigger
	views    *fakeBalanceViews
	handler  http.Handler
}

func newHarness(opts ...ServerOption) *harness {
	h := &harness{
		wallets:  &fakeWalletRepo{},
		balances: &fakeBalanceRepo{},
		txs:      &fakeTxRepo{},
		alertCfg: &fakeAlertConfigRepo{},
		metadata: &fakeTxMetadataRepo{},
		trigger:  &fakeSyncTrigger{},
		views:    &fakeBalanceViews{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]ServerOption{WithSyncTrigger(h.trigger), WithViewCache(h.views), WithTxMetadata(h.metadata)}, opts...)
	srv := NewServer(h.wallets, h.balances, h.txs, h.alertCfg, testToken, logger, opts...)
	h.handler = srv.Handler()
	return h
}

func (h *harness) do(method, path string, body any, token string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestAdminRequiresBearerToken(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPost, "/admin/sync", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = h.do(http.MethodPost, "/admin/sync", nil, "wrong-token")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = h.do(http.MethodPost, "/admin/sync", nil, testToken)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.trigger.runs)
}

func TestHealthzAndPricesAreOpen(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodGet, "/healthz", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// No market source configured: unavailable, but not an auth failure.
	rec = h.do(http.MethodGet, "/prices", nil, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ---------------------------------------------------------------------------
// Sync
// ---------------------------------------------------------------------------

func TestManualSyncReportsBatchSummary(t *testing.T) {
	h := newHarness()
	h.trigger.result = syncpkg.BatchResult{
		Succeeded: 3,
		Skipped:   1,
		Failed:    []syncpkg.WalletFailure{{WalletID: uuid.New(), Chain: model.ChainETH, Err: assert.AnError}},
	}

	rec := h.do(http.MethodPost, "/admin/sync", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Succeeded int      `json:"succeeded"`
		Skipped   int      `json:"skipped"`
		Failed    []string `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.Succeeded)
	assert.Equal(t, 1, resp.Skipped)
	assert.Len(t, resp.Failed, 1)
}

// ---------------------------------------------------------------------------
// Wallets
// ---------------------------------------------------------------------------

func TestAddWalletValidatesAddress(t *testing.T) {
	h := newHarness()

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{
			name: "valid evm wallet",
			body: map[string]string{"chain": "BNB", "address": "0x1b9a4c2d8e7f60a1b2c3d4e5f60718293a4b5c6d", "name": "ops"},
			want: http.StatusCreated,
		},
		{
			name: "address shape does not match chain",
			body: map[string]string{"chain": "BTC", "address": "0x1b9a4c2d8e7f60a1b2c3d4e5f60718293a4b5c6d"},
			want: http.StatusBadRequest,
		},
		{
			name: "unknown chain",
			body: map[string]string{"chain": "DOGE", "address": "D7abc"},
			want: http.StatusBadRequest,
		},
		{
			name: "valid btc wallet",
			body: map[string]string{"chain": "BTC", "address": "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"},
			want: http.StatusCreated,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/admin/wallets", tt.body, testToken)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestListWallets(t *testing.T) {
	h := newHarness()
	h.wallets.wallets = []model.Wallet{
		{ID: uuid.New(), Address: "0xabc", Chain: model.ChainETH, Name: "cold"},
	}

	rec := h.do(http.MethodGet, "/admin/wallets", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "cold", resp[0]["name"])
	assert.Equal(t, "ETH", resp[0]["chain"])
}

// ---------------------------------------------------------------------------
// Balances
// ---------------------------------------------------------------------------

func TestBalancesGroupsPerWalletAndCachesView(t *testing.T) {
	h := newHarness()
	bnbWallet := uuid.New()
	otherWallet := uuid.New()
	h.balances.rows = []model.TokenBalance{
		{WalletID: bnbWallet, Symbol: "BNB", Balance: decimal.RequireFromString("2.5"), USDValue: decimal.RequireFromString("1775")},
		{WalletID: bnbWallet, Symbol: "CAMLY", Balance: decimal.RequireFromString("1000000"), USDValue: decimal.RequireFromString("22")},
		{WalletID: otherWallet, Symbol: "ETH", Balance: decimal.RequireFromString("1"), USDValue: decimal.RequireFromString("3400")},
	}

	rec := h.do(http.MethodGet, "/admin/balances", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Wallets []struct {
			WalletID string `json:"wallet_id"`
			Tokens   []struct {
				Symbol string `json:"symbol"`
			} `json:"tokens"`
			TotalUSD string `json:"total_usd"`
		} `json:"wallets"`
		Prices   map[string]string `json:"prices"`
		TotalUSD string            `json:"total_usd"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Wallets, 2)
	assert.Equal(t, bnbWallet.String(), resp.Wallets[0].WalletID)
	assert.Len(t, resp.Wallets[0].Tokens, 2)
	assert.Equal(t, "1797", resp.Wallets[0].TotalUSD)
	assert.Equal(t, "5197", resp.TotalUSD)

	// Prices are the rates the snapshot was valued at.
	assert.Equal(t, "710", resp.Prices["BNB"])
	assert.Equal(t, "0.000022", resp.Prices["CAMLY"])

	// Second read is served from the view cache.
	rec = h.do(http.MethodGet, "/admin/balances", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.views.hits)
}

func TestStatsRollsUpPerChain(t *testing.T) {
	h := newHarness()
	bnbWallet := uuid.New()
	btcWallet := uuid.New()
	h.wallets.wallets = []model.Wallet{
		{ID: bnbWallet, Chain: model.ChainBNB, Address: "0x1111111111111111111111111111111111111111"},
		{ID: btcWallet, Chain: model.ChainBTC, Address: "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"},
	}
	h.balances.rows = []model.TokenBalance{
		{WalletID: bnbWallet, Symbol: "BNB", USDValue: decimal.RequireFromString("1775")},
		{WalletID: bnbWallet, Symbol: "CAMLY", USDValue: decimal.RequireFromString("22")},
		{WalletID: btcWallet, Symbol: "BTC", USDValue: decimal.RequireFromString("500")},
	}

	rec := h.do(http.MethodGet, "/admin/stats", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Wallets  int    `json:"wallets"`
		TotalUSD string `json:"total_usd"`
		ByChain  map[string]struct {
			Wallets  int    `json:"wallets"`
			TotalUSD string `json:"total_usd"`
		} `json:"by_chain"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Wallets)
	assert.Equal(t, "2297", resp.TotalUSD)
	assert.Equal(t, "1797", resp.ByChain["BNB"].TotalUSD)
	assert.Equal(t, 1, resp.ByChain["BTC"].Wallets)

	// Second read is served from the stats view.
	rec = h.do(http.MethodGet, "/admin/stats", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, h.views.statsHits)
}

// ---------------------------------------------------------------------------
// Transaction metadata and status correction
// ---------------------------------------------------------------------------

func TestTxMetadataRoundtrip(t *testing.T) {
	h := newHarness()
	txID := uuid.New()

	rec := h.do(http.MethodPut, "/admin/transactions/"+txID.String()+"/metadata",
		map[string]any{"category": "payroll", "note": "march batch", "tags": []string{"ops", "recurring"}}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = h.do(http.MethodGet, "/admin/transactions/"+txID.String()+"/metadata", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Category string   `json:"category"`
		Note     string   `json:"note"`
		Tags     []string `json:"tags"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "payroll", resp.Category)
	assert.Equal(t, "march batch", resp.Note)
	assert.Equal(t, []string{"ops", "recurring"}, resp.Tags)
}

func TestTxMetadataValidation(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodGet, "/admin/transactions/"+uuid.New().String()+"/metadata", nil, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code, "unannotated transaction")

	rec = h.do(http.MethodPut, "/admin/transactions/not-a-uuid/metadata",
		map[string]any{"category": "payroll"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/admin/transactions/"+uuid.New().String()+"/metadata",
		map[string]any{"note": "no category"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTxStatusCorrection(t *testing.T) {
	h := newHarness()
	h.txs.txs = []model.Transaction{{TxHash: "0xabc", Status: model.TxStatusPending}}

	rec := h.do(http.MethodPut, "/admin/transactions/0xabc/status",
		map[string]string{"status": "failed"}, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.TxStatusFailed, h.txs.txs[0].Status)

	rec = h.do(http.MethodPut, "/admin/transactions/0xmissing/status",
		map[string]string{"status": "failed"}, testToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = h.do(http.MethodPut, "/admin/transactions/0xabc/status",
		map[string]string{"status": "reverted"}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.TxStatusFailed, h.txs.txs[0].Status, "invalid status leaves the row untouched")
}

// ---------------------------------------------------------------------------
// Duplicate audit
// ---------------------------------------------------------------------------

func TestDuplicatesEndpoint(t *testing.T) {
	h := newHarness()
	h.txs.groups = []store.DuplicateGroup{
		{TxHash: "0xdup", Count: 2, IDs: []uuid.UUID{uuid.New(), uuid.New()}},
	}

	rec := h.do(http.MethodGet, "/admin/duplicates", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp []struct {
		TxHash string   `json:"tx_hash"`
		Count  int      `json:"count"`
		IDs    []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "0xdup", resp[0].TxHash)
	assert.Len(t, resp[0].IDs, 2)
}

// ---------------------------------------------------------------------------
// Alert config
// ---------------------------------------------------------------------------

func TestAlertConfigRoundtrip(t *testing.T) {
	h := newHarness()

	// Unconfigured returns a disabled default.
	rec := h.do(http.MethodGet, "/admin/alert-config", nil, testToken)
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, false, got["enabled"])

	rec = h.do(http.MethodPut, "/admin/alert-config", map[string]any{
		"enabled":       true,
		"threshold_usd": "1000",
		"direction":     "out",
	}, testToken)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.NotNil(t, h.alertCfg.cfg)
	assert.True(t, h.alertCfg.cfg.Enabled)
	assert.Equal(t, model.AlertDirectionOut, h.alertCfg.cfg.Direction)
	assert.True(t, h.alertCfg.cfg.ThresholdUSD.Equal(decimal.RequireFromString("1000")))
}

func TestAlertConfigRejectsBadInput(t *testing.T) {
	h := newHarness()

	rec := h.do(http.MethodPut, "/admin/alert-config", map[string]any{
		"direction": "sideways",
	}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPut, "/admin/alert-config", map[string]any{
		"threshold_usd": "-5",
	}, testToken)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// Package admin exposes the operational HTTP API: manual sync triggers,
// wallet registration, ledger reads, alert configuration and the duplicate
// audit. Mutating endpoints sit behind a bearer token and an audit log.
package admin

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/domain/model"
	"github.com/funtreasury/treasury-sync/internal/price"
	"github.com/funtreasury/treasury-sync/internal/store"
	syncpkg "github.com/funtreasury/treasury-sync/internal/sync"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// SyncTrigger runs one on-demand sync batch.
type SyncTrigger interface {
	Run(ctx context.Context) (syncpkg.BatchResult, error)
}

// MarketSource serves the cached market list for the dashboard.
type MarketSource interface {
	MarketList(ctx context.Context) []price.MarketEntry
}

// BalanceViewCache serves rendered balance and stats views, falling back to
// the database on a miss.
type BalanceViewCache interface {
	GetBalances(ctx context.Context, out any) bool
	SetBalances(ctx context.Context, view any)
	GetStats(ctx context.Context, out any) bool
	SetStats(ctx context.Context, view any)
}

// Server is the admin API. Every dependency beyond the core repositories is
// optional; a nil dependency disables its endpoints.
type Server struct {
	wallets   store.WalletRepository
	balances  store.TokenBalanceRepository
	txs       store.TransactionRepository
	alertCfg  store.AlertConfigRepository
	contracts store.TokenContractRepository
	metadata  store.TxMetadataRepository
	syncer    SyncTrigger
	markets   MarketSource
	views     BalanceViewCache
	token     string
	logger    *slog.Logger
}

type ServerOption func(*Server)

func WithSyncTrigger(t SyncTrigger) ServerOption {
	return func(s *Server) { s.syncer = t }
}

func WithMarketSource(m MarketSource) ServerOption {
	return func(s *Server) { s.markets = m }
}

func WithViewCache(v BalanceViewCache) ServerOption {
	return func(s *Server) { s.views = v }
}

func WithTokenContracts(r store.TokenContractRepository) ServerOption {
	return func(s *Server) { s.contracts = r }
}

func WithTxMetadata(r store.TxMetadataRepository) ServerOption {
	return func(s *Server) { s.metadata = r }
}

func NewServer(
	wallets store.WalletRepository,
	balances store.TokenBalanceRepository,
	txs store.TransactionRepository,
	alertCfg store.AlertConfigRepository,
	token string,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		wallets:  wallets,
		balances: balances,
		txs:      txs,
		alertCfg: alertCfg,
		token:    token,
		logger:   logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the full HTTP handler. /admin/ routes require the bearer
// token; prices, health and metrics stay open for dashboards and probes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/sync", s.handleSync)
	admin.HandleFunc("GET /admin/wallets", s.handleListWallets)
	admin.HandleFunc("POST /admin/wallets", s.handleAddWallet)
	admin.HandleFunc("GET /admin/balances", s.handleBalances)
	admin.HandleFunc("GET /admin/stats", s.handleStats)
	admin.HandleFunc("GET /admin/transactions", s.handleTransactions)
	admin.HandleFunc("GET /admin/transactions/{id}/metadata", s.handleGetTxMetadata)
	admin.HandleFunc("PUT /admin/transactions/{id}/metadata", s.handlePutTxMetadata)
	admin.HandleFunc("PUT /admin/transactions/{hash}/status", s.handlePutTxStatus)
	admin.HandleFunc("GET /admin/duplicates", s.handleDuplicates)
	admin.HandleFunc("GET /admin/alert-config", s.handleGetAlertConfig)
	admin.HandleFunc("PUT /admin/alert-config", s.handlePutAlertConfig)
	admin.HandleFunc("POST /admin/token-contracts", s.handleAddTokenContract)
	mux.Handle("/admin/", s.requireToken(admin))

	mux.HandleFunc("GET /prices", s.handlePrices)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// requireToken rejects requests without the configured bearer token: 401
// when the header is missing or malformed, 403 when the token is wrong.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}
		got := strings.TrimPrefix(auth, prefix)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			http.Error(w, `{"error":"invalid token"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

// --- Sync ---

type syncResponse struct {
	Succeeded int      `json:"succeeded"`
	Skipped   int      `json:"skipped"`
	Failed    []string `json:"failed,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if s.syncer == nil {
		http.Error(w, `{"error":"sync not available"}`, http.StatusServiceUnavailable)
		return
	}

	res, err := s.syncer.Run(r.Context())
	if err != nil {
		s.logger.Error("manual sync failed", "error", err)
		http.Error(w, `{"error":"sync failed"}`, http.StatusInternalServerError)
		return
	}

	resp := syncResponse{Succeeded: res.Succeeded, Skipped: res.Skipped}
	for _, f := range res.Failed {
		resp.Failed = append(resp.Failed, f.WalletID.String()+": "+f.Err.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Wallets ---

type walletResponse struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Name    string `json:"name"`
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.wallets.List(r.Context())
	if err != nil {
		s.logger.Error("list wallets failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]walletResponse, len(wallets))
	for i, wl := range wallets {
		resp[i] = walletResponse{
			ID:      wl.ID.String(),
			Address: wl.Address,
			Chain:   string(wl.Chain),
			Name:    wl.Name,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type addWalletRequest struct {
	Address string `json:"address"`
	Chain   string `json:"chain"`
	Name    string `json:"name"`
}

func (s *Server) handleAddWallet(w http.ResponseWriter, r *http.Request) {
	var req addWalletRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	c, ok := model.ParseChain(req.Chain)
	if !ok {
		http.Error(w, `{"error":"invalid chain"}`, http.StatusBadRequest)
		return
	}
	if !c.ValidAddress(req.Address) {
		http.Error(w, `{"error":"address does not match chain format"}`, http.StatusBadRequest)
		return
	}

	wallet := &model.Wallet{Address: req.Address, Chain: c, Name: req.Name}
	if err := s.wallets.Upsert(r.Context(), wallet); err != nil {
		s.logger.Error("add wallet failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("wallet registered via admin API", "chain", req.Chain, "address", req.Address)
	writeJSON(w, http.StatusCreated, walletResponse{
		ID:      wallet.ID.String(),
		Address: wallet.Address,
		Chain:   string(wallet.Chain),
		Name:    wallet.Name,
	})
}

// --- Balances ---

type tokenBalanceEntry struct {
	Symbol   string          `json:"symbol"`
	Balance  decimal.Decimal `json:"balance"`
	USDValue decimal.Decimal `json:"usd_value"`
}

type walletBalancesEntry struct {
	WalletID string              `json:"wallet_id"`
	Tokens   []tokenBalanceEntry `json:"tokens"`
	TotalUSD decimal.Decimal     `json:"total_usd"`
}

type balancesView struct {
	Wallets  []walletBalancesEntry      `json:"wallets"`
	Prices   map[string]decimal.Decimal `json:"prices"`
	TotalUSD decimal.Decimal            `json:"total_usd"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if s.views != nil {
		var cached balancesView
		if s.views.GetBalances(r.Context(), &cached) {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	rows, err := s.balances.ListAll(r.Context())
	if err != nil {
		s.logger.Error("list balances failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	// Prices are the per-symbol rates baked into the snapshot at sync time,
	// recovered from the stored USD values rather than re-resolved now.
	view := balancesView{Prices: make(map[string]decimal.Decimal)}
	index := make(map[string]int, len(rows))
	for _, b := range rows {
		wid := b.WalletID.String()
		i, ok := index[wid]
		if !ok {
			i = len(view.Wallets)
			index[wid] = i
			view.Wallets = append(view.Wallets, walletBalancesEntry{WalletID: wid})
		}
		entry := &view.Wallets[i]
		entry.Tokens = append(entry.Tokens, tokenBalanceEntry{
			Symbol:   b.Symbol,
			Balance:  b.Balance,
			USDValue: b.USDValue,
		})
		entry.TotalUSD = entry.TotalUSD.Add(b.USDValue)
		view.TotalUSD = view.TotalUSD.Add(b.USDValue)

		if _, seen := view.Prices[b.Symbol]; !seen && b.Balance.IsPositive() {
			view.Prices[b.Symbol] = b.USDValue.Div(b.Balance)
		}
	}

	if s.views != nil {
		s.views.SetBalances(r.Context(), view)
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Stats ---

type chainStat struct {
	Wallets  int             `json:"wallets"`
	TotalUSD decimal.Decimal `json:"total_usd"`
}

type statsView struct {
	Wallets  int                  `json:"wallets"`
	TotalUSD decimal.Decimal      `json:"total_usd"`
	ByChain  map[string]chainStat `json:"by_chain"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.views != nil {
		var cached statsView
		if s.views.GetStats(r.Context(), &cached) {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	wallets, err := s.wallets.List(r.Context())
	if err != nil {
		s.logger.Error("list wallets failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	rows, err := s.balances.ListAll(r.Context())
	if err != nil {
		s.logger.Error("list balances failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	chainOf := make(map[uuid.UUID]model.Chain, len(wallets))
	view := statsView{Wallets: len(wallets), ByChain: make(map[string]chainStat)}
	for _, w := range wallets {
		chainOf[w.ID] = w.Chain
		st := view.ByChain[string(w.Chain)]
		st.Wallets++
		view.ByChain[string(w.Chain)] = st
	}
	for _, b := range rows {
		view.TotalUSD = view.TotalUSD.Add(b.USDValue)
		if c, ok := chainOf[b.WalletID]; ok {
			st := view.ByChain[string(c)]
			st.TotalUSD = st.TotalUSD.Add(b.USDValue)
			view.ByChain[string(c)] = st
		}
	}

	if s.views != nil {
		s.views.SetStats(r.Context(), view)
	}
	writeJSON(w, http.StatusOK, view)
}

// --- Transactions ---

type transactionResponse struct {
	ID          string          `json:"id"`
	TxHash      string          `json:"tx_hash"`
	Direction   string          `json:"direction"`
	TokenSymbol string          `json:"token_symbol"`
	Amount      decimal.Decimal `json:"amount"`
	USDValue    decimal.Decimal `json:"usd_value"`
	Status      string          `json:"status"`
	Timestamp   string          `json:"timestamp"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	walletID, err := uuid.Parse(r.URL.Query().Get("wallet_id"))
	if err != nil {
		http.Error(w, `{"error":"wallet_id query param required"}`, http.StatusBadRequest)
		return
	}

	txs, err := s.txs.ListByWallet(r.Context(), walletID, 100)
	if err != nil {
		s.logger.Error("list transactions failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]transactionResponse, len(txs))
	for i, t := range txs {
		resp[i] = transactionResponse{
			ID:          t.ID.String(),
			TxHash:      t.TxHash,
			Direction:   string(t.Direction),
			TokenSymbol: t.TokenSymbol,
			Amount:      t.Amount,
			USDValue:    t.USDValue,
			Status:      string(t.Status),
			Timestamp:   t.Timestamp.UTC().Format("2006-01-02T15:04:05Z07:00"),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Transaction metadata and status correction ---

type txMetadataPayload struct {
	Category string   `json:"category"`
	Note     string   `json:"note"`
	Tags     []string `json:"tags,omitempty"`
}

func (s *Server) handleGetTxMetadata(w http.ResponseWriter, r *http.Request) {
	if s.metadata == nil {
		http.Error(w, `{"error":"metadata store not configured"}`, http.StatusNotFound)
		return
	}
	txID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid transaction id"}`, http.StatusBadRequest)
		return
	}

	m, err := s.metadata.GetByTransaction(r.Context(), txID)
	if err != nil {
		s.logger.Error("get tx metadata failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if m == nil {
		http.Error(w, `{"error":"no metadata for transaction"}`, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, txMetadataPayload{
		Category: m.Category,
		Note:     m.Note,
		Tags:     m.Tags,
	})
}

func (s *Server) handlePutTxMetadata(w http.ResponseWriter, r *http.Request) {
	if s.metadata == nil {
		http.Error(w, `{"error":"metadata store not configured"}`, http.StatusNotFound)
		return
	}
	txID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid transaction id"}`, http.StatusBadRequest)
		return
	}
	var req txMetadataPayload
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Category == "" {
		http.Error(w, `{"error":"category is required"}`, http.StatusBadRequest)
		return
	}

	m := &model.TxMetadata{
		TransactionID: txID,
		Category:      req.Category,
		Note:          req.Note,
		Tags:          pq.StringArray(req.Tags),
	}
	if err := s.metadata.Upsert(r.Context(), m); err != nil {
		s.logger.Error("upsert tx metadata failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("transaction annotated via admin API", "transaction_id", txID, "category", req.Category)
	writeJSON(w, http.StatusOK, req)
}

type txStatusRequest struct {
	Status string `json:"status"`
}

// handlePutTxStatus corrects the status of a ledger row, keyed by tx_hash.
// Status is the only mutable transaction field; everything else is frozen at
// ingestion.
func (s *Server) handlePutTxStatus(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	var req txStatusRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	status := model.TxStatus(req.Status)
	switch status {
	case model.TxStatusSuccess, model.TxStatusFailed, model.TxStatusPending:
	default:
		http.Error(w, `{"error":"status must be success, failed or pending"}`, http.StatusBadRequest)
		return
	}

	if err := s.txs.UpdateStatus(r.Context(), hash, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, `{"error":"unknown tx_hash"}`, http.StatusNotFound)
			return
		}
		s.logger.Error("update transaction status failed", "tx_hash", hash, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("transaction status corrected via admin API", "tx_hash", hash, "status", req.Status)
	writeJSON(w, http.StatusOK, map[string]string{"tx_hash": hash, "status": req.Status})
}

// --- Duplicate audit ---

type duplicateResponse struct {
	TxHash string   `json:"tx_hash"`
	Count  int      `json:"count"`
	IDs    []string `json:"ids"`
}

func (s *Server) handleDuplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := s.txs.FindDuplicates(r.Context())
	if err != nil {
		s.logger.Error("duplicate audit failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	resp := make([]duplicateResponse, len(groups))
	for i, g := range groups {
		d := duplicateResponse{TxHash: g.TxHash, Count: g.Count}
		for _, id := range g.IDs {
			d.IDs = append(d.IDs, id.String())
		}
		resp[i] = d
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Alert config ---

type alertConfigPayload struct {
	Enabled      bool            `json:"enabled"`
	ThresholdUSD decimal.Decimal `json:"threshold_usd"`
	Direction    string          `json:"direction"`
	TokenSymbol  *string         `json:"token_symbol,omitempty"`
}

func (s *Server) handleGetAlertConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.alertCfg.Get(r.Context())
	if err != nil {
		s.logger.Error("get alert config failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if cfg == nil {
		writeJSON(w, http.StatusOK, alertConfigPayload{Direction: string(model.AlertDirectionAll)})
		return
	}
	writeJSON(w, http.StatusOK, alertConfigPayload{
		Enabled:      cfg.Enabled,
		ThresholdUSD: cfg.ThresholdUSD,
		Direction:    string(cfg.Direction),
		TokenSymbol:  cfg.TokenSymbol,
	})
}

func (s *Server) handlePutAlertConfig(w http.ResponseWriter, r *http.Request) {
	var req alertConfigPayload
	if !decodeJSONBody(w, r, &req) {
		return
	}

	dir := model.AlertDirection(req.Direction)
	switch dir {
	case model.AlertDirectionAll, model.AlertDirectionIn, model.AlertDirectionOut:
	case "":
		dir = model.AlertDirectionAll
	default:
		http.Error(w, `{"error":"direction must be all, in or out"}`, http.StatusBadRequest)
		return
	}
	if req.ThresholdUSD.IsNegative() {
		http.Error(w, `{"error":"threshold_usd must not be negative"}`, http.StatusBadRequest)
		return
	}

	cfg := &model.TransactionAlertConfig{
		Enabled:      req.Enabled,
		ThresholdUSD: req.ThresholdUSD,
		Direction:    dir,
		TokenSymbol:  req.TokenSymbol,
	}
	if err := s.alertCfg.Upsert(r.Context(), cfg); err != nil {
		s.logger.Error("update alert config failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}

	s.logger.Info("alert config updated via admin API",
		"enabled", cfg.Enabled,
		"threshold_usd", cfg.ThresholdUSD,
		"direction", cfg.Direction,
	)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// --- Token contracts ---

type addTokenContractRequest struct {
	Chain           string `json:"chain"`
	ContractAddress string `json:"contract_address"`
	Symbol          string `json:"symbol"`
	Decimals        int32  `json:"decimals"`
}

func (s *Server) handleAddTokenContract(w http.ResponseWriter, r *http.Request) {
	if s.contracts == nil {
		http.Error(w, `{"error":"token contracts not available"}`, http.StatusServiceUnavailable)
		return
	}

	var req addTokenContractRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	c, ok := model.ParseChain(req.Chain)
	if !ok {
		http.Error(w, `{"error":"invalid chain"}`, http.StatusBadRequest)
		return
	}
	if c.Family() != model.FamilyEVM {
		http.Error(w, `{"error":"token contracts are only tracked on EVM chains"}`, http.StatusBadRequest)
		return
	}
	if req.ContractAddress == "" || req.Symbol == "" {
		http.Error(w, `{"error":"contract_address and symbol are required"}`, http.StatusBadRequest)
		return
	}

	tc := &model.TokenContract{
		Chain:           c,
		ContractAddress: req.ContractAddress,
		Symbol:          req.Symbol,
		Decimals:        req.Decimals,
	}
	if tc.Decimals == 0 {
		tc.Decimals = 18
	}
	if err := s.contracts.Upsert(r.Context(), tc); err != nil {
		s.logger.Error("add token contract failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]bool{"success": true})
}

// --- Prices ---

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	if s.markets == nil {
		http.Error(w, `{"error":"prices not available"}`, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.markets.MarketList(r.Context()))
}

// --- Health ---

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/funtreasury/treasury-sync/internal/chain/btcbook"
	"github.com/funtreasury/treasury-sync/internal/chain/moralis"
	"github.com/funtreasury/treasury-sync/internal/domain/model"
)

const (
	weiDecimals = 18
)

// ContractRegistry lists the allow-listed token contracts for a chain.
// Tokens on the list are always surfaced, even at zero balance.
type ContractRegistry interface {
	ListByChain(ctx context.Context, c model.Chain) ([]model.TokenContract, error)
}

// MultichainFetcher dispatches balance and transfer fetches by chain
// family: EVM chains go to the Moralis-style client, BTC to the dedicated
// balance endpoint.
type MultichainFetcher struct {
	evm       *moralis.Client
	btc       *btcbook.Client
	contracts ContractRegistry
	logger    *slog.Logger
}

var _ BalanceFetcher = (*MultichainFetcher)(nil)
var _ TransferFetcher = (*MultichainFetcher)(nil)

func NewMultichainFetcher(evm *moralis.Client, btc *btcbook.Client, contracts ContractRegistry, logger *slog.Logger) *MultichainFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultichainFetcher{
		evm:       evm,
		btc:       btc,
		contracts: contracts,
		logger:    logger.With("component", "multichain_fetcher"),
	}
}

// FetchBalances returns the wallet's current holdings: the native coin plus,
// on EVM chains, every ERC-20 that is either allow-listed or has a nonzero
// balance. Dust and airdropped tokens are surfaced deliberately.
func (f *MultichainFetcher) FetchBalances(ctx context.Context, wallet model.Wallet) ([]model.RawTokenBalance, error) {
	if !wallet.Chain.ValidAddress(wallet.Address) {
		return nil, fmt.Errorf("%w: %q on chain %s", ErrUnsupportedAddress, wallet.Address, wallet.Chain)
	}

	if wallet.Chain.Family() == model.FamilyBTC {
		return f.fetchBTC(ctx, wallet)
	}
	return f.fetchEVM(ctx, wallet)
}

func (f *MultichainFetcher) fetchBTC(ctx context.Context, wallet model.Wallet) ([]model.RawTokenBalance, error) {
	balance, err := f.btc.AddressBalance(ctx, wallet.Address)
	if err != nil {
		return nil, fmt.Errorf("fetch btc balance for %s: %w", wallet.Address, err)
	}
	return []model.RawTokenBalance{{
		Symbol:   "BTC",
		Name:     "Bitcoin",
		Decimals: 8,
		Balance:  balance,
		Native:   true,
	}}, nil
}

func (f *MultichainFetcher) fetchEVM(ctx context.Context, wallet model.Wallet) ([]model.RawTokenBalance, error) {
	chainID := wallet.Chain.ProviderID()

	wei, err := f.evm.NativeBalance(ctx, wallet.Address, chainID)
	if err != nil {
		return nil, fmt.Errorf("fetch native balance for %s: %w", wallet.Address, err)
	}

	nativeSymbol := wallet.Chain.NativeSymbol()
	out := []model.RawTokenBalance{{
		Symbol:   nativeSymbol,
		Name:     nativeSymbol,
		Decimals: weiDecimals,
		Balance:  wei.Shift(-weiDecimals),
		Native:   true,
	}}

	tokens, err := f.evm.ERC20Balances(ctx, wallet.Address, chainID)
	if err != nil {
		return nil, fmt.Errorf("fetch erc20 balances for %s: %w", wallet.Address, err)
	}

	tracked, err := f.trackedContracts(ctx, wallet.Chain)
	if err != nil {
		// The allow-list narrows inclusion, it does not gate the fetch.
		f.logger.Warn("tracked contract lookup failed, falling back to nonzero filter",
			"chain", wallet.Chain, "error", err)
		tracked = map[string]struct{}{}
	}

	for _, t := range tokens {
		balance, err := decimal.NewFromString(strings.TrimSpace(t.Balance))
		if err != nil {
			f.logger.Warn("skipping token with unparseable balance",
				"wallet", wallet.Address, "token", t.TokenAddress, "raw", t.Balance, "error", err)
			continue
		}
		scaled := balance.Shift(-t.Decimals)

		_, isTracked := tracked[strings.ToLower(t.TokenAddress)]
		if !isTracked && scaled.IsZero() {
			continue
		}

		out = append(out, model.RawTokenBalance{
			Symbol:          strings.ToUpper(t.Symbol),
			Name:            t.Name,
			ContractAddress: strings.ToLower(t.TokenAddress),
			Decimals:        t.Decimals,
			Balance:         scaled,
			Native:          false,
		})
	}

	return out, nil
}

func (f *MultichainFetcher) trackedContracts(ctx context.Context, c model.Chain) (map[string]struct{}, error) {
	if f.contracts == nil {
		return map[string]struct{}{}, nil
	}
	list, err := f.contracts.ListByChain(ctx, c)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(list))
	for _, tc := range list {
		set[strings.ToLower(tc.ContractAddress)] = struct{}{}
	}
	return set, nil
}

// FetchTransfers returns new transfer events for the wallet. ERC-20
// transfers resume from the provider cursor, native transactions from
// fromBlock. BTC wallets always return an empty page: the balance provider
// has no history endpoint, a known limitation of the BTC path.
func (f *MultichainFetcher) FetchTransfers(ctx context.Context, wallet model.Wallet, cursor *string, fromBlock int64, limit int) (TransferPage, error) {
	if !wallet.Chain.ValidAddress(wallet.Address) {
		return TransferPage{}, fmt.Errorf("%w: %q on chain %s", ErrUnsupportedAddress, wallet.Address, wallet.Chain)
	}
	if wallet.Chain.Family() == model.FamilyBTC {
		return TransferPage{MaxBlock: fromBlock}, nil
	}

	chainID := wallet.Chain.ProviderID()
	page := TransferPage{MaxBlock: fromBlock}

	tokenTransfers, next, err := f.evm.ERC20Transfers(ctx, wallet.Address, chainID, cursor, limit)
	if err != nil {
		return TransferPage{}, fmt.Errorf("fetch erc20 transfers for %s: %w", wallet.Address, err)
	}
	for _, tr := range tokenTransfers {
		amount, err := decimal.NewFromString(strings.TrimSpace(tr.Value))
		if err != nil {
			f.logger.Warn("skipping transfer with unparseable value",
				"wallet", wallet.Address, "tx", tr.TransactionHash, "raw", tr.Value)
			continue
		}
		page.Transfers = append(page.Transfers, Transfer{
			Hash:         tr.TransactionHash,
			TokenSymbol:  strings.ToUpper(tr.TokenSymbol),
			TokenAddress: strings.ToLower(tr.TokenAddress),
			From:         tr.FromAddress,
			To:           tr.ToAddress,
			Amount:       amount.Shift(-tr.TokenDecimals),
			BlockNumber:  tr.BlockNumber,
			Status:       model.TxStatusSuccess,
			Timestamp:    parseBlockTimestamp(tr.BlockTimestamp),
		})
		if tr.BlockNumber > page.MaxBlock {
			page.MaxBlock = tr.BlockNumber
		}
	}
	if next != "" {
		page.Cursor = &next
	}

	// Native pages are drained to exhaustion before returning. The syncer
	// advances its block watermark to MaxBlock, so a partial range here
	// would leave transactions below the new watermark unfetchable.
	nativeSymbol := wallet.Chain.NativeSymbol()
	var nativeCursor *string
	for {
		nativeTxs, next, err := f.evm.NativeTransactions(ctx, wallet.Address, chainID, fromBlock, nativeCursor, limit)
		if err != nil {
			return TransferPage{}, fmt.Errorf("fetch native transactions for %s: %w", wallet.Address, err)
		}
		f.appendNativeTransfers(&page, wallet, nativeSymbol, nativeTxs)
		if next == "" {
			break
		}
		nativeCursor = &next
	}

	return page, nil
}

func (f *MultichainFetcher) appendNativeTransfers(page *TransferPage, wallet model.Wallet, nativeSymbol string, nativeTxs []moralis.NativeTx) {
	for _, tx := range nativeTxs {
		amount, err := decimal.NewFromString(strings.TrimSpace(tx.Value))
		if err != nil {
			f.logger.Warn("skipping native tx with unparseable value",
				"wallet", wallet.Address, "tx", tx.Hash, "raw", tx.Value)
			continue
		}
		// Zero-value transactions are contract calls, not treasury transfers.
		if amount.IsZero() {
			continue
		}
		status := model.TxStatusSuccess
		if tx.ReceiptStatus == "0" {
			status = model.TxStatusFailed
		}
		page.Transfers = append(page.Transfers, Transfer{
			Hash:        tx.Hash,
			TokenSymbol: nativeSymbol,
			From:        tx.FromAddress,
			To:          tx.ToAddress,
			Amount:      amount.Shift(-weiDecimals),
			BlockNumber: tx.BlockNumber,
			GasFee:      gasFee(tx.Gas, tx.GasPrice),
			Status:      status,
			Timestamp:   parseBlockTimestamp(tx.BlockTimestamp),
		})
		if tx.BlockNumber > page.MaxBlock {
			page.MaxBlock = tx.BlockNumber
		}
	}
}

func gasFee(gas, gasPrice string) decimal.Decimal {
	g, err := decimal.NewFromString(strings.TrimSpace(gas))
	if err != nil {
		return decimal.Zero
	}
	p, err := decimal.NewFromString(strings.TrimSpace(gasPrice))
	if err != nil {
		return decimal.Zero
	}
	return g.Mul(p).Shift(-weiDecimals)
}

func parseBlockTimestamp(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

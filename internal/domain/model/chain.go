package model

import (
	"regexp"
	"strings"
)

type Chain string

const (
	ChainBNB     Chain = "BNB"
	ChainETH     Chain = "ETH"
	ChainPolygon Chain = "POLYGON"
	ChainArb     Chain = "ARB"
	ChainBase    Chain = "BASE"
	ChainBTC     Chain = "BTC"
)

func (c Chain) String() string {
	return string(c)
}

type ChainFamily string

const (
	FamilyEVM ChainFamily = "evm"
	FamilyBTC ChainFamily = "btc"
)

// Family groups chains by address/balance semantics: EVM chains share the
// 0x-address + wei + ERC-20 model, BTC has its own balance endpoint.
func (c Chain) Family() ChainFamily {
	if c == ChainBTC {
		return FamilyBTC
	}
	return FamilyEVM
}

// ProviderID is the chain identifier the balance provider expects in its
// `chain` query parameter.
func (c Chain) ProviderID() string {
	switch c {
	case ChainBNB:
		return "bsc"
	case ChainETH:
		return "eth"
	case ChainPolygon:
		return "polygon"
	case ChainArb:
		return "arbitrum"
	case ChainBase:
		return "base"
	default:
		return strings.ToLower(string(c))
	}
}

// NativeSymbol is the chain's base-currency ticker.
func (c Chain) NativeSymbol() string {
	switch c {
	case ChainBNB:
		return "BNB"
	case ChainETH:
		return "ETH"
	case ChainPolygon:
		return "MATIC"
	case ChainArb, ChainBase:
		return "ETH"
	case ChainBTC:
		return "BTC"
	default:
		return string(c)
	}
}

func ParseChain(s string) (Chain, bool) {
	switch Chain(strings.ToUpper(strings.TrimSpace(s))) {
	case ChainBNB:
		return ChainBNB, true
	case ChainETH:
		return ChainETH, true
	case ChainPolygon:
		return ChainPolygon, true
	case ChainArb:
		return ChainArb, true
	case ChainBase:
		return ChainBase, true
	case ChainBTC:
		return ChainBTC, true
	}
	return "", false
}

var (
	evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)
	// Legacy base58 (1.../3...) and bech32 (bc1...) mainnet forms.
	btcAddressRe = regexp.MustCompile(`^(bc1[02-9ac-hj-np-z]{11,71}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})$`)
)

// ValidAddress reports whether addr is plausible for the wallet's declared
// chain. Wallets failing this check are skipped during sync, not fatal.
func (c Chain) ValidAddress(addr string) bool {
	addr = strings.TrimSpace(addr)
	if c.Family() == FamilyBTC {
		return btcAddressRe.MatchString(addr)
	}
	return evmAddressRe.MatchString(addr)
}

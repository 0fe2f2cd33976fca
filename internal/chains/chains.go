package chains

import (
	"strings"

	"github.com/congo-pay/exchange_ledger/internal/apperr"
)

// Family selects how a derived hash is rendered as an address.
type Family string

const (
	// FamilyHex renders 0x-prefixed EIP-55 checksummed addresses.
	FamilyHex Family = "hex"
	// FamilyBech32 renders bech32 segwit-style addresses under the chain's HRP.
	FamilyBech32 Family = "bech32"
	// FamilyLedger renders base58check addresses whose version byte pins a
	// single leading letter (XRP "r", TRON "T").
	FamilyLedger Family = "ledger"
	// FamilyBase58 renders a raw 32-byte key in the bitcoin base58 alphabet.
	FamilyBase58 Family = "base58"
)

// Chain describes a supported network and how its deposit addresses look.
type Chain struct {
	ID            string
	Network       string
	Currency      string
	Assets        []string
	Family        Family
	Prefix        string
	Version       byte
	Alphabet      string
	Confirmations int
}

// Accepts reports whether currency can be deposited on the chain.
func (c Chain) Accepts(currency string) bool {
	for _, a := range c.Assets {
		if a == currency {
			return true
		}
	}
	return false
}

var (
	ErrUnsupportedChain    = apperr.Validation("unsupported_chain", "unsupported chain")
	ErrUnsupportedCurrency = apperr.Validation("unsupported_currency", "unsupported currency")
)

// Registry is the ordered set of supported chains.
type Registry struct {
	chains          []Chain
	byID            map[string]Chain
	defaultChainFor map[string]string
}

// NewRegistry builds a registry. defaults maps a currency to the chain used
// when a funding chain is not specified.
func NewRegistry(list []Chain, defaults map[string]string) *Registry {
	r := &Registry{
		chains:          append([]Chain(nil), list...),
		byID:            make(map[string]Chain, len(list)),
		defaultChainFor: make(map[string]string, len(defaults)),
	}
	for _, c := range list {
		r.byID[c.ID] = c
	}
	for cur, id := range defaults {
		r.defaultChainFor[cur] = id
	}
	return r
}

// Default returns the production chain set.
func Default() *Registry {
	return NewRegistry([]Chain{
		{ID: "BTC", Network: "Bitcoin", Currency: "BTC", Assets: []string{"BTC"}, Family: FamilyBech32, Prefix: "bc", Confirmations: 3},
		{ID: "LTC", Network: "Litecoin", Currency: "LTC", Assets: []string{"LTC"}, Family: FamilyBech32, Prefix: "ltc", Confirmations: 6},
		{ID: "ETH", Network: "ERC20", Currency: "ETH", Assets: []string{"ETH", "USDT", "USDC"}, Family: FamilyHex, Confirmations: 12},
		{ID: "BSC", Network: "BEP20", Currency: "BNB", Assets: []string{"BNB", "USDT", "USDC"}, Family: FamilyHex, Confirmations: 15},
		{ID: "POLYGON", Network: "Polygon", Currency: "POL", Assets: []string{"POL", "USDT", "USDC"}, Family: FamilyHex, Confirmations: 128},
		{ID: "TRX", Network: "TRC20", Currency: "TRX", Assets: []string{"TRX", "USDT"}, Family: FamilyLedger, Version: 0x41, Confirmations: 20},
		{ID: "XRP", Network: "XRP Ledger", Currency: "XRP", Assets: []string{"XRP"}, Family: FamilyLedger, Version: 0x00, Alphabet: XRPAlphabet, Confirmations: 1},
		{ID: "SOL", Network: "Solana", Currency: "SOL", Assets: []string{"SOL", "USDT", "USDC"}, Family: FamilyBase58, Confirmations: 32},
	}, map[string]string{
		"BTC":  "BTC",
		"LTC":  "LTC",
		"ETH":  "ETH",
		"BNB":  "BSC",
		"POL":  "POLYGON",
		"TRX":  "TRX",
		"XRP":  "XRP",
		"SOL":  "SOL",
		"USDT": "ETH",
		"USDC": "ETH",
	})
}

// XRPAlphabet is the base58 dictionary used by the XRP Ledger.
const XRPAlphabet = "rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz"

// All returns the chains in registry order.
func (r *Registry) All() []Chain {
	return append([]Chain(nil), r.chains...)
}

// Lookup resolves a chain by identifier, case-insensitively.
func (r *Registry) Lookup(id string) (Chain, error) {
	c, ok := r.byID[Normalize(id)]
	if !ok {
		return Chain{}, ErrUnsupportedChain
	}
	return c, nil
}

// DefaultChain returns the funding chain used for currency when none is given.
func (r *Registry) DefaultChain(currency string) (Chain, error) {
	id, ok := r.defaultChainFor[Normalize(currency)]
	if !ok {
		return Chain{}, ErrUnsupportedCurrency
	}
	return r.Lookup(id)
}

// KnownCurrency reports whether any chain accepts currency.
func (r *Registry) KnownCurrency(currency string) bool {
	currency = Normalize(currency)
	for _, c := range r.chains {
		if c.Accepts(currency) {
			return true
		}
	}
	return false
}

// Normalize canonicalises chain and currency codes.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

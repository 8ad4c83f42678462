package blockchain

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	domainErrors "github.com/cassiomorais/chainpay/internal/domain/errors"
	"github.com/ethereum/go-ethereum/common"
)

// Token is an ERC-20 stablecoin deployment on one network.
type Token struct {
	Symbol   string
	Contract common.Address
	Decimals int32
}

// TokenRegistry maps (network, symbol) to the canonical token contract.
type TokenRegistry struct {
	mu     sync.RWMutex
	tokens map[string]map[string]Token
}

func NewTokenRegistry() *TokenRegistry {
	return &TokenRegistry{tokens: make(map[string]map[string]Token)}
}

// DefaultTokens returns USDC and USDT on Ethereum and Polygon mainnet.
func DefaultTokens() *TokenRegistry {
	r := NewTokenRegistry()
	r.Register("ethereum", Token{Symbol: "USDC", Contract: common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"), Decimals: 6})
	r.Register("ethereum", Token{Symbol: "USDT", Contract: common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7"), Decimals: 6})
	r.Register("polygon", Token{Symbol: "USDC", Contract: common.HexToAddress("0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359"), Decimals: 6})
	r.Register("polygon", Token{Symbol: "USDT", Contract: common.HexToAddress("0xc2132D05D31c914a87C6611C10748AEb04B58e8F"), Decimals: 6})
	return r
}

// Register adds or replaces a token on network.
func (r *TokenRegistry) Register(network string, t Token) {
	r.mu.Lock()
	defer r.mu.Unlock()

	network = strings.ToLower(network)
	t.Symbol = strings.ToUpper(t.Symbol)
	if r.tokens[network] == nil {
		r.tokens[network] = make(map[string]Token)
	}
	r.tokens[network][t.Symbol] = t
}

// Lookup is case-insensitive on both network and symbol.
func (r *TokenRegistry) Lookup(network, symbol string) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byToken, ok := r.tokens[strings.ToLower(network)]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s", domainErrors.ErrUnsupportedNetwork, network)
	}
	t, ok := byToken[strings.ToUpper(symbol)]
	if !ok {
		return Token{}, fmt.Errorf("%w: %s on %s", domainErrors.ErrUnsupportedToken, symbol, network)
	}
	return t, nil
}

func (r *TokenRegistry) Networks() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.tokens))
	for n := range r.tokens {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Decimals returns the base-unit precision of symbol on network.
func (r *TokenRegistry) Decimals(network, symbol string) (int32, error) {
	t, err := r.Lookup(network, symbol)
	if err != nil {
		return 0, err
	}
	return t.Decimals, nil
}

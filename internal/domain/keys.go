package domain

import (
	"fmt"
	"strings"
)

// Chain identifies a supported blockchain.
type Chain string

const (
	ChainBitcoin  Chain = "bitcoin"
	ChainEthereum Chain = "ethereum"
)

// NativeSymbol returns the chain's native coin symbol.
func (c Chain) NativeSymbol() string {
	switch c {
	case ChainBitcoin:
		return "BTC"
	case ChainEthereum:
		return "ETH"
	default:
		return strings.ToUpper(string(c))
	}
}

// ParseChain validates a chain identifier from config or CLI input.
func ParseChain(s string) (Chain, error) {
	switch Chain(strings.ToLower(strings.TrimSpace(s))) {
	case ChainBitcoin:
		return ChainBitcoin, nil
	case ChainEthereum:
		return ChainEthereum, nil
	default:
		return "", fmt.Errorf("unsupported chain %q", s)
	}
}

// Pair is a base/quote currency pair, codes upper-cased.
type Pair struct {
	Base  string
	Quote string
}

// NewPair normalises currency codes into a Pair.
func NewPair(base, quote string) Pair {
	return Pair{
		Base:  strings.ToUpper(strings.TrimSpace(base)),
		Quote: strings.ToUpper(strings.TrimSpace(quote)),
	}
}

// ParsePair accepts "BTC/USD" or "BTC-USD".
func ParsePair(s string) (Pair, error) {
	sep := "/"
	if !strings.Contains(s, sep) {
		sep = "-"
	}
	parts := strings.Split(s, sep)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Pair{}, fmt.Errorf("invalid pair %q, expected BASE/QUOTE", s)
	}
	return NewPair(parts[0], parts[1]), nil
}

func (p Pair) String() string {
	return p.Base + "/" + p.Quote
}

// KeyKind discriminates the Key variants.
type KeyKind int

const (
	// KeyPair marks a currency-pair subscription.
	KeyPair KeyKind = iota
	// KeyChain marks a blockchain subscription.
	KeyChain
)

// Key is the identity of a pollable entity: either a currency pair or a
// blockchain. It is comparable and safe to use as a map key.
type Key struct {
	Kind  KeyKind
	Pair  Pair
	Chain Chain
}

// PairKey builds a currency-pair subscription key.
func PairKey(p Pair) Key {
	return Key{Kind: KeyPair, Pair: p}
}

// ChainKey builds a blockchain subscription key.
func ChainKey(c Chain) Key {
	return Key{Kind: KeyChain, Chain: c}
}

func (k Key) String() string {
	switch k.Kind {
	case KeyPair:
		return "pair:" + k.Pair.String()
	case KeyChain:
		return "chain:" + string(k.Chain)
	default:
		return "unknown"
	}
}

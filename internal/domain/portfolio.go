package domain

// Address is a tracked on-chain address, optionally with token symbols
// whose prices should be followed alongside the chain's native coin.
type Address struct {
	Chain   Chain
	Address string
	Tokens  []string
}

// Portfolio groups tracked addresses under one quote currency.
type Portfolio struct {
	Name      string
	Quote     string
	Addresses []Address
}

// RequiredKeys derives the subscription keys this portfolio needs:
// one blockchain key per distinct chain and one currency-pair key per
// distinct asset against the portfolio's quote currency.
func (p Portfolio) RequiredKeys() []Key {
	seen := make(map[Key]struct{})
	keys := make([]Key, 0, 2*len(p.Addresses))

	add := func(k Key) {
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}

	for _, addr := range p.Addresses {
		add(ChainKey(addr.Chain))
		add(PairKey(NewPair(addr.Chain.NativeSymbol(), p.Quote)))
		for _, token := range addr.Tokens {
			add(PairKey(NewPair(token, p.Quote)))
		}
	}
	return keys
}

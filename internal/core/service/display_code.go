package service

import (
	"math/rand/v2"
	"strconv"
	"sync"
)

const (
	mobilePrefix   = "M"
	inStorePrefix  = "D"
	codeNumeralMax = 1000
)

// DisplayCodeGenerator issues short human-facing order codes: a prefix that
// separates mobile from in-store orders and a numeral in [0, 1000).
// Codes are not unique; two orders may share one.
type DisplayCodeGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewDisplayCodeGenerator(src rand.Source) *DisplayCodeGenerator {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &DisplayCodeGenerator{rng: rand.New(src)}
}

func (g *DisplayCodeGenerator) Next(mobile bool) string {
	g.mu.Lock()
	n := g.rng.IntN(codeNumeralMax)
	g.mu.Unlock()

	prefix := inStorePrefix
	if mobile {
		prefix = mobilePrefix
	}
	return prefix + strconv.Itoa(n)
}

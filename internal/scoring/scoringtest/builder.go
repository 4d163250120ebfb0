// Package scoringtest provides deterministic snapshot fixtures for tests and demos.
package scoringtest

import (
	"math/rand"

	"github.com/swipefi/swipefi/internal/scoring"
)

// DemoProtocols is the protocol pool Seeded draws from.
var DemoProtocols = []string{
	"Uniswap", "Aave", "Compound", "Curve", "SushiSwap",
	"Yearn Finance", "MakerDAO", "Balancer", "1inch", "Synthetix",
}

// Builder assembles a scoring.Snapshot field by field. The zero snapshot
// (no history at all) is the starting point.
type Builder struct {
	s scoring.Snapshot
}

// NewSnapshot starts a builder for an empty wallet.
func NewSnapshot() *Builder {
	return &Builder{s: scoring.Snapshot{DefiProtocols: []string{}}}
}

func (b *Builder) WithAddress(addr string) *Builder {
	b.s.Address = addr
	return b
}

func (b *Builder) WithVolume(v float64) *Builder {
	b.s.TotalVolume = v
	return b
}

// WithTransactions sets the transaction counts. Total is successful + failed.
func (b *Builder) WithTransactions(successful, failed int) *Builder {
	b.s.SuccessfulTransactions = successful
	b.s.FailedTransactions = failed
	b.s.TotalTransactions = successful + failed
	if b.s.TotalTransactions > 0 {
		b.s.AvgTransactionSize = b.s.TotalVolume / float64(b.s.TotalTransactions)
	}
	return b
}

// WithTotalTransactions overrides the total count without touching the
// successful/failed split, for inconsistent inputs.
func (b *Builder) WithTotalTransactions(n int) *Builder {
	b.s.TotalTransactions = n
	return b
}

func (b *Builder) WithAge(daysSinceFirst, daysSinceLast int) *Builder {
	b.s.DaysSinceFirstTx = daysSinceFirst
	b.s.DaysSinceLastTx = daysSinceLast
	return b
}

func (b *Builder) WithGas(spent float64) *Builder {
	b.s.GasSpent = spent
	return b
}

func (b *Builder) WithProtocols(names ...string) *Builder {
	b.s.DefiProtocols = append([]string{}, names...)
	return b
}

func (b *Builder) WithLending(borrowed, repaid float64, defaults int) *Builder {
	b.s.LendingHistory = scoring.LendingHistory{Borrowed: borrowed, Repaid: repaid, Defaults: defaults}
	return b
}

func (b *Builder) WithHoldings(tokens, nfts, contracts int) *Builder {
	b.s.TokensHeld = tokens
	b.s.NFTCount = nfts
	b.s.UniqueContracts = contracts
	return b
}

// Build returns a copy of the snapshot built so far.
func (b *Builder) Build() scoring.Snapshot {
	out := b.s
	out.DefiProtocols = append([]string{}, b.s.DefiProtocols...)
	return out
}

// Seeded returns a plausible demo snapshot. The same seed always yields the
// same snapshot.
func Seeded(seed int64) scoring.Snapshot {
	r := rand.New(rand.NewSource(seed))

	total := r.Intn(1000) + 50
	failed := r.Intn(20)
	volume := float64(r.Intn(100000) + 5000)

	protocols := []string{}
	seen := map[string]bool{}
	for i, n := 0, r.Intn(5); i < n; i++ {
		p := DemoProtocols[r.Intn(len(DemoProtocols))]
		if !seen[p] {
			seen[p] = true
			protocols = append(protocols, p)
		}
	}

	return scoring.Snapshot{
		TotalTransactions:      total,
		TotalVolume:            volume,
		AvgTransactionSize:     float64(r.Intn(500) + 50),
		UniqueContracts:        r.Intn(50) + 5,
		FailedTransactions:     failed,
		SuccessfulTransactions: total - failed,
		GasSpent:               float64(r.Intn(10) + 1),
		TokensHeld:             r.Intn(20) + 1,
		NFTCount:               r.Intn(10),
		DaysSinceFirstTx:       r.Intn(1000) + 100,
		DaysSinceLastTx:        r.Intn(7) + 1,
		DefiProtocols:          protocols,
		LendingHistory: scoring.LendingHistory{
			Borrowed: float64(r.Intn(5000)),
			Repaid:   float64(r.Intn(5000)),
			Defaults: r.Intn(2),
		},
	}
}

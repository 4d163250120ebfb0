// Package activity turns wallet history into scoring snapshots.
//
// A Source produces a scoring.Snapshot for an address. Snapshots come from
// the chain (ChainSource), from ingested payloads (MemorySource,
// PostgresSource), or from any of those with the ledger's lending history
// laid over them (LendingOverlay).
package activity

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"

	"github.com/swipefi/swipefi/internal/scoring"
)

var (
	ErrSourceUnavailable = errors.New("activity source unavailable")
	ErrInvalidAddress    = errors.New("invalid wallet address")
)

// Source produces a snapshot for a wallet.
type Source interface {
	Snapshot(ctx context.Context, addr string) (*scoring.Snapshot, error)
}

// Store is a Source that also accepts ingested snapshots.
type Store interface {
	Source
	Put(ctx context.Context, s *scoring.Snapshot) error
}

// Normalize returns a copy of s with the address lowercased, negative or
// NaN numbers zeroed, protocol names trimmed and deduplicated, and the
// transaction total raised to cover the successful and failed counts.
func Normalize(s scoring.Snapshot) scoring.Snapshot {
	out := s
	out.Address = strings.ToLower(strings.TrimSpace(s.Address))

	out.TotalTransactions = nonNegInt(s.TotalTransactions)
	out.SuccessfulTransactions = nonNegInt(s.SuccessfulTransactions)
	out.FailedTransactions = nonNegInt(s.FailedTransactions)
	out.DaysSinceFirstTx = nonNegInt(s.DaysSinceFirstTx)
	out.DaysSinceLastTx = nonNegInt(s.DaysSinceLastTx)
	out.UniqueContracts = nonNegInt(s.UniqueContracts)
	out.TokensHeld = nonNegInt(s.TokensHeld)
	out.NFTCount = nonNegInt(s.NFTCount)

	out.TotalVolume = nonNegFloat(s.TotalVolume)
	out.AvgTransactionSize = nonNegFloat(s.AvgTransactionSize)
	out.GasSpent = nonNegFloat(s.GasSpent)

	out.LendingHistory = scoring.LendingHistory{
		Borrowed: nonNegFloat(s.LendingHistory.Borrowed),
		Repaid:   nonNegFloat(s.LendingHistory.Repaid),
		Defaults: nonNegInt(s.LendingHistory.Defaults),
	}

	if sum := out.SuccessfulTransactions + out.FailedTransactions; out.TotalTransactions < sum {
		out.TotalTransactions = sum
	}

	seen := make(map[string]bool, len(s.DefiProtocols))
	protocols := make([]string, 0, len(s.DefiProtocols))
	for _, p := range s.DefiProtocols {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		protocols = append(protocols, p)
	}
	out.DefiProtocols = protocols

	return out
}

func nonNegInt(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func nonNegFloat(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	return v
}

// MemorySource holds ingested snapshots in memory. Unknown wallets get an
// empty history.
type MemorySource struct {
	snapshots map[string]*scoring.Snapshot
	mu        sync.RWMutex
}

// NewMemorySource creates an empty in-memory source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		snapshots: make(map[string]*scoring.Snapshot),
	}
}

var _ Store = (*MemorySource)(nil)

func (m *MemorySource) Snapshot(ctx context.Context, addr string) (*scoring.Snapshot, error) {
	key := strings.ToLower(addr)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if s, ok := m.snapshots[key]; ok {
		cp := copySnapshot(*s)
		return &cp, nil
	}
	return &scoring.Snapshot{Address: key, DefiProtocols: []string{}}, nil
}

func (m *MemorySource) Put(ctx context.Context, s *scoring.Snapshot) error {
	n := Normalize(*s)
	if n.Address == "" {
		return ErrInvalidAddress
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.snapshots[n.Address] = &n
	return nil
}

func copySnapshot(s scoring.Snapshot) scoring.Snapshot {
	s.DefiProtocols = append([]string{}, s.DefiProtocols...)
	return s
}

package activity

import (
	"context"
	"fmt"

	"github.com/swipefi/swipefi/internal/scoring"
)

// LendingProvider supplies a wallet's recorded lending history.
type LendingProvider interface {
	LendingHistory(ctx context.Context, addr string) (scoring.LendingHistory, error)
}

// LendingOverlay replaces the lending history reported by the wrapped
// source with the ledger's own figures.
type LendingOverlay struct {
	next    Source
	lending LendingProvider
}

// NewLendingOverlay wraps next.
func NewLendingOverlay(next Source, lending LendingProvider) *LendingOverlay {
	return &LendingOverlay{next: next, lending: lending}
}

var _ Source = (*LendingOverlay)(nil)

func (o *LendingOverlay) Snapshot(ctx context.Context, addr string) (*scoring.Snapshot, error) {
	snap, err := o.next.Snapshot(ctx, addr)
	if err != nil {
		return nil, err
	}

	history, err := o.lending.LendingHistory(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("lending history: %w", err)
	}
	snap.LendingHistory = history
	return snap, nil
}

package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swipefi/swipefi/internal/pagination"
)

// MemoryStore is an in-memory ledger store for development and tests.
type MemoryStore struct {
	records map[string]*Record
	order   []string // insertion order, oldest first
	mu      sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) Spend(ctx context.Context, r *Record, limit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	outstanding := m.outstandingLocked(r.WalletAddr)
	available := limit.Sub(outstanding)
	if r.Amount.GreaterThan(available) {
		if available.IsNegative() {
			available = decimal.Zero
		}
		return &LimitError{Err: ErrInsufficientCredit, Limit: available}
	}

	m.insertLocked(r)
	return nil
}

func (m *MemoryStore) Repay(ctx context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	outstanding := m.outstandingLocked(r.WalletAddr)
	if r.Amount.GreaterThan(outstanding) {
		return &LimitError{Err: ErrRepayExceedsBalance, Limit: outstanding}
	}

	left := r.Amount
	for _, id := range m.order {
		if !left.IsPositive() {
			break
		}
		spend := m.records[id]
		if spend.WalletAddr != r.WalletAddr || !spend.Open() {
			continue
		}
		take := decimal.Min(spend.Remaining(), left)
		spend.Settled = spend.Settled.Add(take)
		if spend.Settled.GreaterThanOrEqual(spend.Amount) {
			spend.Status = StatusRepaid
		}
		left = left.Sub(take)
	}

	m.insertLocked(r)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyRecord(r), nil
}

func (m *MemoryStore) List(ctx context.Context, walletAddr string, limit int, after *pagination.Cursor) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var wallet []*Record
	for _, id := range m.order {
		if r := m.records[id]; r.WalletAddr == walletAddr {
			wallet = append(wallet, r)
		}
	}
	sort.SliceStable(wallet, func(i, j int) bool {
		if !wallet[i].CreatedAt.Equal(wallet[j].CreatedAt) {
			return wallet[i].CreatedAt.After(wallet[j].CreatedAt)
		}
		return wallet[i].ID > wallet[j].ID
	})

	var result []*Record
	for _, r := range wallet {
		if !after.Precedes(r.CreatedAt, r.ID) {
			continue
		}
		result = append(result, copyRecord(r))
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) Summary(ctx context.Context, walletAddr string) (*Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sum := &Summary{
		Borrowed:    decimal.Zero,
		Repaid:      decimal.Zero,
		Outstanding: decimal.Zero,
	}
	for _, r := range m.records {
		if r.WalletAddr != walletAddr {
			continue
		}
		switch r.Type {
		case TypeSpend:
			sum.Borrowed = sum.Borrowed.Add(r.Amount)
			sum.Outstanding = sum.Outstanding.Add(r.Remaining())
			if r.Status == StatusOverdue {
				sum.Overdue++
			}
		case TypeRepay:
			sum.Repaid = sum.Repaid.Add(r.Amount)
		}
	}
	return sum, nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, id string, status Status) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	r.Status = status
	return copyRecord(r), nil
}

func (m *MemoryStore) MarkOverdue(ctx context.Context, walletAddr string, now time.Time) ([]*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var marked []*Record
	for _, id := range m.order {
		r := m.records[id]
		if walletAddr != "" && r.WalletAddr != walletAddr {
			continue
		}
		if r.Type != TypeSpend || r.Status != StatusPending || r.DueDate == nil {
			continue
		}
		if r.DueDate.Before(now) {
			r.Status = StatusOverdue
			marked = append(marked, copyRecord(r))
		}
	}

	sort.SliceStable(marked, func(i, j int) bool {
		return marked[i].DueDate.Before(*marked[j].DueDate)
	})
	return marked, nil
}

func (m *MemoryStore) outstandingLocked(walletAddr string) decimal.Decimal {
	total := decimal.Zero
	for _, r := range m.records {
		if r.WalletAddr == walletAddr {
			total = total.Add(r.Remaining())
		}
	}
	return total
}

func (m *MemoryStore) insertLocked(r *Record) {
	m.records[r.ID] = copyRecord(r)
	m.order = append(m.order, r.ID)
}

func copyRecord(r *Record) *Record {
	cp := *r
	if r.DueDate != nil {
		due := *r.DueDate
		cp.DueDate = &due
	}
	return &cp
}

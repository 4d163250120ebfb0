// Package ledger records credit spends and repayments per wallet.
//
// Flow:
//  1. Wallet spends on credit (pending, due after the repayment term)
//  2. Wallet repays; repayments settle the oldest open spends first
//  3. Spends still open past their due date turn overdue and count as defaults
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swipefi/swipefi/internal/pagination"
	"github.com/swipefi/swipefi/internal/scoring"
)

var (
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientCredit  = errors.New("insufficient credit")
	ErrRepayExceedsBalance = errors.New("repayment exceeds outstanding balance")
	ErrRecordNotFound      = errors.New("record not found")
	ErrInvalidStatus       = errors.New("invalid status")
)

// DefaultTerm is how long a spend stays pending before it is overdue.
const DefaultTerm = 30 * 24 * time.Hour

// Type distinguishes a draw on the credit line from a repayment.
type Type string

const (
	TypeSpend Type = "spend"
	TypeRepay Type = "repay"
)

// Status is the settlement state of a record.
type Status string

const (
	StatusPending Status = "pending"
	StatusRepaid  Status = "repaid"
	StatusOverdue Status = "overdue"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRepaid, StatusOverdue:
		return true
	}
	return false
}

// Record is a single spend or repayment.
type Record struct {
	ID         string          `json:"id"`
	WalletAddr string          `json:"walletAddress"`
	Amount     decimal.Decimal `json:"amount"`
	Type       Type            `json:"type"`
	Status     Status          `json:"status"`
	Settled    decimal.Decimal `json:"settled"` // portion of a spend covered by repayments
	CreatedAt  time.Time       `json:"date"`
	DueDate    *time.Time      `json:"dueDate,omitempty"`
}

// Open reports whether r is a spend that still counts toward the balance.
func (r *Record) Open() bool {
	return r.Type == TypeSpend && r.Status != StatusRepaid
}

// Remaining is the unpaid part of an open spend. Closed records owe nothing.
func (r *Record) Remaining() decimal.Decimal {
	if !r.Open() {
		return decimal.Zero
	}
	rem := r.Amount.Sub(r.Settled)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// Summary aggregates a wallet's records.
type Summary struct {
	Borrowed    decimal.Decimal `json:"borrowed"`
	Repaid      decimal.Decimal `json:"repaid"`
	Outstanding decimal.Decimal `json:"outstanding"`
	Overdue     int             `json:"overdue"`
}

// LimitError reports a rejected spend or repayment along with the amount
// that would have been accepted.
type LimitError struct {
	Err   error
	Limit decimal.Decimal
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v (limit %s)", e.Err, e.Limit.StringFixed(2))
}

func (e *LimitError) Unwrap() error { return e.Err }

// Store persists ledger records. Spend and Repay must check and write
// atomically per wallet.
type Store interface {
	// Spend inserts r if the wallet's outstanding balance plus r.Amount
	// stays within limit, otherwise returns a *LimitError wrapping
	// ErrInsufficientCredit.
	Spend(ctx context.Context, r *Record, limit decimal.Decimal) error
	// Repay settles open spends oldest first and inserts r. Amounts above
	// the outstanding balance return a *LimitError wrapping ErrRepayExceedsBalance.
	Repay(ctx context.Context, r *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	// List returns up to limit records newest first (created_at, id
	// descending), starting after the cursor when one is given.
	List(ctx context.Context, walletAddr string, limit int, after *pagination.Cursor) ([]*Record, error)
	Summary(ctx context.Context, walletAddr string) (*Summary, error)
	SetStatus(ctx context.Context, id string, status Status) (*Record, error)
	// MarkOverdue flips pending spends due before now. An empty walletAddr
	// sweeps every wallet.
	MarkOverdue(ctx context.Context, walletAddr string, now time.Time) ([]*Record, error)
}

// Ledger validates and records credit activity.
type Ledger struct {
	store     Store
	term      time.Duration
	now       func() time.Time
	onOverdue OverdueFunc
}

// OverdueFunc receives spends as they turn overdue, whichever call marked them.
type OverdueFunc func(ctx context.Context, marked []*Record)

// Option configures a Ledger.
type Option func(*Ledger)

// WithTerm sets the repayment term for new spends.
func WithTerm(d time.Duration) Option {
	return func(l *Ledger) {
		if d > 0 {
			l.term = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a new ledger
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, term: DefaultTerm, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// OnOverdue registers fn to run after spends are marked overdue, both by
// MarkOverdue and by the reads that mark lazily. Call it before the ledger
// is shared.
func (l *Ledger) OnOverdue(fn OverdueFunc) {
	l.onOverdue = fn
}

// Spend draws amount on the wallet's credit line. limit is the most the
// wallet may owe once the spend is recorded.
func (l *Ledger) Spend(ctx context.Context, walletAddr string, amount, limit decimal.Decimal) (*Record, error) {
	defer observeOp("spend")()

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	now := l.now().UTC()
	due := now.Add(l.term)
	r := &Record{
		ID:         uuid.New().String(),
		WalletAddr: normalize(walletAddr),
		Amount:     amount,
		Type:       TypeSpend,
		Status:     StatusPending,
		Settled:    decimal.Zero,
		CreatedAt:  now,
		DueDate:    &due,
	}
	if err := l.store.Spend(ctx, r, limit); err != nil {
		return nil, err
	}
	return r, nil
}

// Repay records a repayment. The wallet must owe at least amount.
func (l *Ledger) Repay(ctx context.Context, walletAddr string, amount decimal.Decimal) (*Record, error) {
	defer observeOp("repay")()

	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	r := &Record{
		ID:         uuid.New().String(),
		WalletAddr: normalize(walletAddr),
		Amount:     amount,
		Type:       TypeRepay,
		Status:     StatusRepaid,
		Settled:    amount,
		CreatedAt:  l.now().UTC(),
	}
	if err := l.store.Repay(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Outstanding returns what the wallet currently owes.
func (l *Ledger) Outstanding(ctx context.Context, walletAddr string) (decimal.Decimal, error) {
	sum, err := l.Summary(ctx, walletAddr)
	if err != nil {
		return decimal.Zero, err
	}
	return sum.Outstanding, nil
}

// Summary returns the wallet's totals after marking any overdue spends.
func (l *Ledger) Summary(ctx context.Context, walletAddr string) (*Summary, error) {
	addr := normalize(walletAddr)
	if _, err := l.markOverdue(ctx, addr, l.now()); err != nil {
		return nil, fmt.Errorf("mark overdue: %w", err)
	}
	return l.store.Summary(ctx, addr)
}

// LendingHistory converts the wallet's totals into scoring input.
func (l *Ledger) LendingHistory(ctx context.Context, walletAddr string) (scoring.LendingHistory, error) {
	sum, err := l.Summary(ctx, walletAddr)
	if err != nil {
		return scoring.LendingHistory{}, err
	}
	return scoring.LendingHistory{
		Borrowed: sum.Borrowed.InexactFloat64(),
		Repaid:   sum.Repaid.InexactFloat64(),
		Defaults: sum.Overdue,
	}, nil
}

// MarkOverdue sweeps every wallet and returns the spends that turned overdue.
func (l *Ledger) MarkOverdue(ctx context.Context, now time.Time) ([]*Record, error) {
	defer observeOp("mark_overdue")()
	return l.markOverdue(ctx, "", now)
}

func (l *Ledger) markOverdue(ctx context.Context, addr string, now time.Time) ([]*Record, error) {
	marked, err := l.store.MarkOverdue(ctx, addr, now.UTC())
	if err != nil {
		return nil, err
	}
	LedgerOverdueMarked.Add(float64(len(marked)))
	if len(marked) > 0 && l.onOverdue != nil {
		l.onOverdue(ctx, marked)
	}
	return marked, nil
}

// Page is one page of a wallet's history.
type Page struct {
	Records    []*Record `json:"records"`
	NextCursor string    `json:"nextCursor,omitempty"`
	HasMore    bool      `json:"hasMore"`
}

// History returns the wallet's records, newest first.
func (l *Ledger) History(ctx context.Context, walletAddr string, limit int) ([]*Record, error) {
	page, err := l.HistoryPage(ctx, walletAddr, limit, "")
	if err != nil {
		return nil, err
	}
	return page.Records, nil
}

// HistoryPage returns up to limit records after cursor, newest first.
// Malformed cursors return pagination.ErrInvalidCursor.
func (l *Ledger) HistoryPage(ctx context.Context, walletAddr string, limit int, cursor string) (*Page, error) {
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, err
	}
	addr := normalize(walletAddr)
	if _, err := l.markOverdue(ctx, addr, l.now()); err != nil {
		return nil, fmt.Errorf("mark overdue: %w", err)
	}
	if limit <= 0 {
		limit = 100
	}

	records, err := l.store.List(ctx, addr, limit+1, after)
	if err != nil {
		return nil, err
	}
	records, next, more := pagination.ComputePage(records, limit, func(r *Record) (time.Time, string) {
		return r.CreatedAt, r.ID
	})
	if records == nil {
		records = []*Record{}
	}
	return &Page{Records: records, NextCursor: next, HasMore: more}, nil
}

// Get returns a record by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	return l.store.Get(ctx, id)
}

// UpdateStatus overrides a spend's status. Repayments are always repaid.
func (l *Ledger) UpdateStatus(ctx context.Context, id string, status Status) (*Record, error) {
	defer observeOp("update_status")()

	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	r, err := l.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Type == TypeRepay && status != StatusRepaid {
		return nil, ErrInvalidStatus
	}
	return l.store.SetStatus(ctx, id, status)
}

func normalize(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

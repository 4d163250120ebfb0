package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swipefi/swipefi/internal/pagination"
)

const testWallet = "0xaaaa000000000000000000000000000000000001"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLedger() (*Ledger, *testClock) {
	clock := &testClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return New(NewMemoryStore(), WithClock(clock.Now)), clock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// ---------------------------------------------------------------------------
// Spend
// ---------------------------------------------------------------------------

func TestLedger_Spend(t *testing.T) {
	l, clock := newTestLedger()
	ctx := context.Background()

	r, err := l.Spend(ctx, testWallet, dec("250"), dec("1000"))
	if err != nil {
		t.Fatalf("Spend failed: %v", err)
	}

	if r.ID == "" {
		t.Error("expected record ID")
	}
	if r.Type != TypeSpend || r.Status != StatusPending {
		t.Errorf("expected pending spend, got %s/%s", r.Type, r.Status)
	}
	if r.DueDate == nil || !r.DueDate.Equal(clock.Now().Add(30*24*time.Hour)) {
		t.Errorf("expected due date 30 days out, got %v", r.DueDate)
	}

	out, _ := l.Outstanding(ctx, testWallet)
	if !out.Equal(dec("250")) {
		t.Errorf("expected outstanding 250, got %s", out)
	}
}

func TestLedger_SpendInvalidAmount(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	for _, amt := range []string{"0", "-5"} {
		if _, err := l.Spend(ctx, testWallet, dec(amt), dec("1000")); !errors.Is(err, ErrInvalidAmount) {
			t.Errorf("amount %s: expected ErrInvalidAmount, got %v", amt, err)
		}
	}
}

func TestLedger_SpendInsufficientCredit(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	if _, err := l.Spend(ctx, testWallet, dec("600"), dec("1000")); err != nil {
		t.Fatalf("first spend failed: %v", err)
	}

	_, err := l.Spend(ctx, testWallet, dec("500"), dec("1000"))
	if !errors.Is(err, ErrInsufficientCredit) {
		t.Fatalf("expected ErrInsufficientCredit, got %v", err)
	}
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LimitError, got %T", err)
	}
	if !le.Limit.Equal(dec("400")) {
		t.Errorf("expected available 400, got %s", le.Limit)
	}

	// Exactly the remaining amount is accepted.
	if _, err := l.Spend(ctx, testWallet, dec("400"), dec("1000")); err != nil {
		t.Errorf("spend at limit failed: %v", err)
	}
}

func TestLedger_SpendOverdrawnLimitReportsZero(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, _ = l.Spend(ctx, testWallet, dec("800"), dec("1000"))

	_, err := l.Spend(ctx, testWallet, dec("1"), dec("500"))
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LimitError, got %v", err)
	}
	if !le.Limit.IsZero() {
		t.Errorf("expected available 0, got %s", le.Limit)
	}
}

func TestLedger_ConcurrentSpendsRespectLimit(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	var (
		wg sync.WaitGroup
		mu sync.Mutex
		ok int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Spend(ctx, testWallet, dec("100"), dec("1000")); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ok != 10 {
		t.Errorf("expected 10 successful spends, got %d", ok)
	}
	out, _ := l.Outstanding(ctx, testWallet)
	if !out.Equal(dec("1000")) {
		t.Errorf("expected outstanding 1000, got %s", out)
	}
}

// ---------------------------------------------------------------------------
// Repay
// ---------------------------------------------------------------------------

func TestLedger_RepayExceedsBalance(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, err := l.Repay(ctx, testWallet, dec("10"))
	if !errors.Is(err, ErrRepayExceedsBalance) {
		t.Fatalf("expected ErrRepayExceedsBalance with nothing owed, got %v", err)
	}

	_, _ = l.Spend(ctx, testWallet, dec("100"), dec("1000"))
	_, err = l.Repay(ctx, testWallet, dec("100.01"))
	var le *LimitError
	if !errors.As(err, &le) || !errors.Is(err, ErrRepayExceedsBalance) {
		t.Fatalf("expected repay limit error, got %v", err)
	}
	if !le.Limit.Equal(dec("100")) {
		t.Errorf("expected outstanding 100 in error, got %s", le.Limit)
	}
}

func TestLedger_RepaySettlesOldestFirst(t *testing.T) {
	l, clock := newTestLedger()
	ctx := context.Background()

	first, _ := l.Spend(ctx, testWallet, dec("100"), dec("1000"))
	clock.Advance(time.Minute)
	second, _ := l.Spend(ctx, testWallet, dec("200"), dec("1000"))
	clock.Advance(time.Minute)

	repay, err := l.Repay(ctx, testWallet, dec("150"))
	if err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	if repay.Type != TypeRepay || repay.Status != StatusRepaid {
		t.Errorf("expected repaid repay record, got %s/%s", repay.Type, repay.Status)
	}

	got1, _ := l.Get(ctx, first.ID)
	if got1.Status != StatusRepaid {
		t.Errorf("expected first spend repaid, got %s", got1.Status)
	}
	got2, _ := l.Get(ctx, second.ID)
	if got2.Status != StatusPending || !got2.Settled.Equal(dec("50")) {
		t.Errorf("expected second spend pending with 50 settled, got %s/%s", got2.Status, got2.Settled)
	}

	out, _ := l.Outstanding(ctx, testWallet)
	if !out.Equal(dec("150")) {
		t.Errorf("expected outstanding 150, got %s", out)
	}

	if _, err := l.Repay(ctx, testWallet, dec("150")); err != nil {
		t.Fatalf("final repay failed: %v", err)
	}
	out, _ = l.Outstanding(ctx, testWallet)
	if !out.IsZero() {
		t.Errorf("expected nothing owed, got %s", out)
	}
}

func TestLedger_RepayInvalidAmount(t *testing.T) {
	l, _ := newTestLedger()
	if _, err := l.Repay(context.Background(), testWallet, decimal.Zero); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Overdue and lending history
// ---------------------------------------------------------------------------

func TestLedger_OverdueBecomesDefault(t *testing.T) {
	l, clock := newTestLedger()
	ctx := context.Background()

	spend, _ := l.Spend(ctx, testWallet, dec("300"), dec("1000"))
	_, _ = l.Repay(ctx, testWallet, dec("100"))

	h, err := l.LendingHistory(ctx, testWallet)
	if err != nil {
		t.Fatalf("LendingHistory failed: %v", err)
	}
	if h.Borrowed != 300 || h.Repaid != 100 || h.Defaults != 0 {
		t.Errorf("unexpected history before due date: %+v", h)
	}

	clock.Advance(31 * 24 * time.Hour)

	h, _ = l.LendingHistory(ctx, testWallet)
	if h.Defaults != 1 {
		t.Errorf("expected 1 default after due date, got %d", h.Defaults)
	}
	got, _ := l.Get(ctx, spend.ID)
	if got.Status != StatusOverdue {
		t.Errorf("expected overdue, got %s", got.Status)
	}

	// Settling the overdue spend clears the default.
	if _, err := l.Repay(ctx, testWallet, dec("200")); err != nil {
		t.Fatalf("Repay failed: %v", err)
	}
	h, _ = l.LendingHistory(ctx, testWallet)
	if h.Defaults != 0 {
		t.Errorf("expected defaults cleared, got %d", h.Defaults)
	}
}

func TestLedger_MarkOverdueSweep(t *testing.T) {
	l, clock := newTestLedger()
	ctx := context.Background()

	_, _ = l.Spend(ctx, testWallet, dec("10"), dec("1000"))
	_, _ = l.Spend(ctx, "0xbbbb000000000000000000000000000000000002", dec("20"), dec("1000"))

	marked, err := l.MarkOverdue(ctx, clock.Now())
	if err != nil {
		t.Fatalf("MarkOverdue failed: %v", err)
	}
	if len(marked) != 0 {
		t.Errorf("expected nothing overdue yet, got %d", len(marked))
	}

	marked, _ = l.MarkOverdue(ctx, clock.Now().Add(31*24*time.Hour))
	if len(marked) != 2 {
		t.Fatalf("expected 2 overdue, got %d", len(marked))
	}
	for _, r := range marked {
		if r.Status != StatusOverdue {
			t.Errorf("expected overdue status, got %s", r.Status)
		}
	}

	marked, _ = l.MarkOverdue(ctx, clock.Now().Add(32*24*time.Hour))
	if len(marked) != 0 {
		t.Errorf("expected second sweep to be empty, got %d", len(marked))
	}
}

func TestLedger_OnOverdueSeesLazyAndSweptMarks(t *testing.T) {
	l, clock := newTestLedger()
	ctx := context.Background()

	var seen []string
	l.OnOverdue(func(ctx context.Context, marked []*Record) {
		for _, r := range marked {
			seen = append(seen, r.WalletAddr)
		}
	})

	other := "0xbbbb000000000000000000000000000000000002"
	_, _ = l.Spend(ctx, testWallet, dec("10"), dec("1000"))
	_, _ = l.Spend(ctx, other, dec("20"), dec("1000"))
	clock.Advance(31 * 24 * time.Hour)

	// Reading history marks only that wallet.
	if _, err := l.History(ctx, testWallet, 10); err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(seen) != 1 || seen[0] != testWallet {
		t.Fatalf("expected hook for %s only, got %v", testWallet, seen)
	}

	if _, err := l.MarkOverdue(ctx, clock.Now()); err != nil {
		t.Fatalf("MarkOverdue failed: %v", err)
	}
	if len(seen) != 2 || seen[1] != other {
		t.Errorf("expected sweep to report %s, got %v", other, seen)
	}

	// Nothing new to mark, no call.
	_, _ = l.Outstanding(ctx, testWallet)
	if len(seen) != 2 {
		t.Errorf("expected no further hook calls, got %v", seen)
	}
}

func TestLedger_WithTerm(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := New(NewMemoryStore(), WithClock(clock.Now), WithTerm(7*24*time.Hour))

	r, _ := l.Spend(context.Background(), testWallet, dec("1"), dec("10"))
	if !r.DueDate.Equal(clock.Now().Add(7 * 24 * time.Hour)) {
		t.Errorf("expected 7 day term, got %v", r.DueDate)
	}
}

// ---------------------------------------------------------------------------
// History and status updates
// ---------------------------------------------------------------------------

func TestLedger_History(t *testing.T) {
	l, clock := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = l.Spend(ctx, testWallet, dec("10"), dec("1000"))
		clock.Advance(time.Second)
	}
	last, _ := l.Repay(ctx, testWallet, dec("5"))

	records, err := l.History(ctx, "0xAAAA000000000000000000000000000000000001", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].ID != last.ID {
		t.Error("expected newest record first")
	}

	all, _ := l.History(ctx, testWallet, 0)
	if len(all) != 4 {
		t.Errorf("expected 4 records with default limit, got %d", len(all))
	}
}

func TestLedger_HistoryPage(t *testing.T) {
	l, clock := newTestLedger()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = l.Spend(ctx, testWallet, dec("1"), dec("1000"))
		if i%2 == 0 {
			clock.Advance(time.Second)
		}
	}

	seen := map[string]bool{}
	cursor := ""
	pages := 0
	for {
		page, err := l.HistoryPage(ctx, testWallet, 2, cursor)
		if err != nil {
			t.Fatalf("HistoryPage failed: %v", err)
		}
		pages++
		for _, r := range page.Records {
			if seen[r.ID] {
				t.Fatalf("record %s returned twice", r.ID)
			}
			seen[r.ID] = true
		}
		if !page.HasMore {
			if page.NextCursor != "" {
				t.Error("expected no cursor on the last page")
			}
			break
		}
		cursor = page.NextCursor
	}

	if len(seen) != 5 || pages != 3 {
		t.Errorf("expected 5 records over 3 pages, got %d over %d", len(seen), pages)
	}

	if _, err := l.HistoryPage(ctx, testWallet, 2, "garbage!"); !errors.Is(err, pagination.ErrInvalidCursor) {
		t.Errorf("expected ErrInvalidCursor, got %v", err)
	}
}

func TestLedger_UpdateStatus(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	spend, _ := l.Spend(ctx, testWallet, dec("100"), dec("1000"))

	if _, err := l.UpdateStatus(ctx, "missing", StatusRepaid); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
	if _, err := l.UpdateStatus(ctx, spend.ID, Status("cancelled")); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}

	updated, err := l.UpdateStatus(ctx, spend.ID, StatusRepaid)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated.Status != StatusRepaid {
		t.Errorf("expected repaid, got %s", updated.Status)
	}
	out, _ := l.Outstanding(ctx, testWallet)
	if !out.IsZero() {
		t.Errorf("expected repaid spend to leave nothing owed, got %s", out)
	}
}

func TestLedger_UpdateStatusRepayStaysRepaid(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	_, _ = l.Spend(ctx, testWallet, dec("100"), dec("1000"))
	repay, _ := l.Repay(ctx, testWallet, dec("50"))

	if _, err := l.UpdateStatus(ctx, repay.ID, StatusPending); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("expected ErrInvalidStatus, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	l, _ := newTestLedger()
	ctx := context.Background()

	spend, _ := l.Spend(ctx, testWallet, dec("100"), dec("1000"))
	got, _ := l.Get(ctx, spend.ID)
	got.Status = StatusRepaid
	*got.DueDate = time.Time{}

	again, _ := l.Get(ctx, spend.ID)
	if again.Status != StatusPending || again.DueDate.IsZero() {
		t.Error("mutating a returned record changed the store")
	}
}

func TestRecord_Remaining(t *testing.T) {
	r := &Record{Type: TypeSpend, Status: StatusOverdue, Amount: dec("100"), Settled: dec("30")}
	if !r.Remaining().Equal(dec("70")) {
		t.Errorf("expected 70, got %s", r.Remaining())
	}
	r.Status = StatusRepaid
	if !r.Remaining().IsZero() {
		t.Errorf("expected repaid spend to owe nothing, got %s", r.Remaining())
	}
	repay := &Record{Type: TypeRepay, Status: StatusRepaid, Amount: dec("10")}
	if !repay.Remaining().IsZero() {
		t.Error("repay records never owe")
	}
}

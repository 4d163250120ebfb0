// Package credit serves wallet credit scores and enforces credit limits on
// spending.
//
// A wallet's score is computed from its activity snapshot; its outstanding
// balance comes from the ledger (or a volume-based estimate). Spends are
// accepted only while they fit under the limit the score allows.
package credit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swipefi/swipefi/internal/activity"
	"github.com/swipefi/swipefi/internal/ledger"
	"github.com/swipefi/swipefi/internal/scoring"
)

var (
	ErrSourceUnavailable = errors.New("wallet activity unavailable")
	ErrIngestDisabled    = errors.New("activity ingestion is not enabled")
)

// BalanceMode selects where the outstanding balance comes from.
type BalanceMode string

const (
	BalanceLedger   BalanceMode = "ledger"
	BalanceEstimate BalanceMode = "estimate"
)

// Evaluation is a scored wallet.
type Evaluation struct {
	WalletAddr  string               `json:"walletAddress"`
	CreditScore scoring.Result       `json:"creditScore"`
	Activity    *scoring.Snapshot    `json:"walletActivity,omitempty"`
	Risk        *activity.Assessment `json:"activityRisk,omitempty"`
	Outstanding float64              `json:"outstandingBalance"`
	Fallback    bool                 `json:"fallback"`
	EvaluatedAt time.Time            `json:"evaluatedAt"`
}

// EvaluateRequest is the body for stateless scoring.
type EvaluateRequest struct {
	Snapshot           scoring.Snapshot `json:"snapshot"`
	OutstandingBalance *float64         `json:"outstandingBalance,omitempty"`
}

// TransactionRequest is the body for recording a spend or repayment.
type TransactionRequest struct {
	Amount json.Number `json:"amount" binding:"required"`
	Type   string      `json:"type" binding:"required"`
}

// StatusRequest is the body for an admin status override.
type StatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// Ledger records spends and repayments.
type Ledger interface {
	Spend(ctx context.Context, walletAddr string, amount, limit decimal.Decimal) (*ledger.Record, error)
	Repay(ctx context.Context, walletAddr string, amount decimal.Decimal) (*ledger.Record, error)
	Outstanding(ctx context.Context, walletAddr string) (decimal.Decimal, error)
	HistoryPage(ctx context.Context, walletAddr string, limit int, cursor string) (*ledger.Page, error)
	Get(ctx context.Context, id string) (*ledger.Record, error)
	UpdateStatus(ctx context.Context, id string, status ledger.Status) (*ledger.Record, error)
	MarkOverdue(ctx context.Context, now time.Time) ([]*ledger.Record, error)
	OnOverdue(fn ledger.OverdueFunc)
}

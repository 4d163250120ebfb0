package credit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swipefi/swipefi/internal/activity"
	"github.com/swipefi/swipefi/internal/cache"
	"github.com/swipefi/swipefi/internal/events"
	"github.com/swipefi/swipefi/internal/ledger"
	"github.com/swipefi/swipefi/internal/logging"
	"github.com/swipefi/swipefi/internal/metrics"
	"github.com/swipefi/swipefi/internal/scoring"
	"github.com/swipefi/swipefi/internal/syncutil"
	"github.com/swipefi/swipefi/internal/traces"
)

// Config tunes the service.
type Config struct {
	BalanceMode           BalanceMode
	FallbackOnSourceError bool
	CacheTTL              time.Duration
}

// Service provides credit scoring and limit enforcement.
type Service struct {
	source    activity.Source
	ingest    activity.Store
	ledger    Ledger
	cache     cache.Cache
	publisher events.Publisher
	locks     *syncutil.KeyedMutex
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a new credit service.
func NewService(source activity.Source, ledger Ledger, c cache.Cache, publisher events.Publisher, cfg Config, logger *slog.Logger) *Service {
	if cfg.BalanceMode == "" {
		cfg.BalanceMode = BalanceLedger
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		source:    source,
		ledger:    ledger,
		cache:     c,
		publisher: publisher,
		locks:     syncutil.NewKeyedMutex(),
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
	ledger.OnOverdue(s.overdue)
	return s
}

// WithIngest enables snapshot ingestion into store.
func (s *Service) WithIngest(store activity.Store) *Service {
	s.ingest = store
	return s
}

// Evaluate scores a wallet, serving a cached evaluation when one is fresh.
func (s *Service) Evaluate(ctx context.Context, walletAddr string) (*Evaluation, error) {
	walletAddr = strings.ToLower(walletAddr)
	ctx = logging.WithWallet(ctx, walletAddr)

	ctx, span := traces.StartSpan(ctx, "credit.Service.Evaluate", traces.WalletAddr(walletAddr))
	defer span.End()

	if eval, ok := s.cached(ctx, cache.WalletKey(walletAddr)); ok {
		span.SetAttributes(traces.CacheHit(true))
		return eval, nil
	}
	span.SetAttributes(traces.CacheHit(false))

	eval, err := s.evaluate(ctx, walletAddr)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.Score(eval.CreditScore.Score), traces.RiskLevel(string(eval.CreditScore.RiskLevel)))

	if !eval.Fallback {
		s.store(ctx, cache.WalletKey(walletAddr), eval)
		s.publish(ctx, events.New(events.ScoreEvaluated, walletAddr, map[string]any{
			"score":           eval.CreditScore.Score,
			"riskLevel":       eval.CreditScore.RiskLevel,
			"availableCredit": eval.CreditScore.AvailableCredit,
			"maxCreditLimit":  eval.CreditScore.MaxCreditLimit,
		}))
	}
	return eval, nil
}

// evaluate always reads fresh data.
func (s *Service) evaluate(ctx context.Context, walletAddr string) (*Evaluation, error) {
	log := s.log(ctx)

	snap, err := s.source.Snapshot(ctx, walletAddr)
	if err != nil {
		if !s.cfg.FallbackOnSourceError {
			log.Warn("activity source failed", "error", err)
			return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
		}
		log.Warn("activity source failed, serving neutral score", "error", err)
		neutral := scoring.NeutralResult()
		metrics.ObserveScore(neutral.Score, string(neutral.RiskLevel), "fallback")
		return &Evaluation{
			WalletAddr:  walletAddr,
			CreditScore: neutral,
			Fallback:    true,
			EvaluatedAt: s.now().UTC(),
		}, nil
	}

	normalized := activity.Normalize(*snap)
	if normalized.Address == "" {
		normalized.Address = walletAddr
	}

	var (
		result      scoring.Result
		outstanding float64
	)
	switch s.cfg.BalanceMode {
	case BalanceEstimate:
		result = scoring.Evaluate(normalized)
		outstanding = scoring.EstimatedBalance(normalized)
	default:
		owed, err := s.ledger.Outstanding(ctx, walletAddr)
		if err != nil {
			return nil, fmt.Errorf("outstanding balance: %w", err)
		}
		outstanding = owed.InexactFloat64()
		result = scoring.EvaluateWithBalance(normalized, outstanding)
	}

	risk := activity.AssessRisk(normalized)
	metrics.ObserveScore(result.Score, string(result.RiskLevel), "wallet")
	log.Info("wallet scored", "score", result.Score, "risk_level", string(result.RiskLevel), "outstanding", outstanding)

	return &Evaluation{
		WalletAddr:  walletAddr,
		CreditScore: result,
		Activity:    &normalized,
		Risk:        &risk,
		Outstanding: outstanding,
		EvaluatedAt: s.now().UTC(),
	}, nil
}

// EvaluateSnapshot scores a caller-supplied snapshot without touching the
// ledger. Without a balance the volume-based estimate is used.
func (s *Service) EvaluateSnapshot(ctx context.Context, req EvaluateRequest) (*Evaluation, error) {
	normalized := activity.Normalize(req.Snapshot)

	balance := scoring.EstimatedBalance(normalized)
	if req.OutstandingBalance != nil {
		balance = *req.OutstandingBalance
	}

	key := cache.SnapshotKey(normalized, balance)
	if eval, ok := s.cached(ctx, key); ok {
		return eval, nil
	}

	result := scoring.EvaluateWithBalance(normalized, balance)
	risk := activity.AssessRisk(normalized)
	metrics.ObserveScore(result.Score, string(result.RiskLevel), "snapshot")

	eval := &Evaluation{
		WalletAddr:  normalized.Address,
		CreditScore: result,
		Activity:    &normalized,
		Risk:        &risk,
		Outstanding: balance,
		EvaluatedAt: s.now().UTC(),
	}
	s.store(ctx, key, eval)
	return eval, nil
}

// Spend records a spend if it fits under the wallet's current limit.
func (s *Service) Spend(ctx context.Context, walletAddr string, amount decimal.Decimal) (*ledger.Record, error) {
	walletAddr = strings.ToLower(walletAddr)
	ctx = logging.WithWallet(ctx, walletAddr)

	ctx, span := traces.StartSpan(ctx, "credit.Service.Spend", traces.WalletAddr(walletAddr), traces.Amount(amount.String()))
	defer span.End()

	unlock, err := s.locks.Lock(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	defer unlock()

	eval, err := s.evaluate(ctx, walletAddr)
	if err != nil {
		s.countOp("spend", err)
		traces.RecordError(span, err)
		return nil, err
	}
	if eval.Fallback {
		// A neutral score is not evidence of creditworthiness.
		s.countOp("spend", ErrSourceUnavailable)
		return nil, ErrSourceUnavailable
	}

	limit := decimal.NewFromFloat(eval.CreditScore.MaxCreditLimit)
	if s.cfg.BalanceMode == BalanceEstimate {
		owed, err := s.ledger.Outstanding(ctx, walletAddr)
		if err != nil {
			return nil, fmt.Errorf("outstanding balance: %w", err)
		}
		limit = decimal.NewFromFloat(eval.CreditScore.AvailableCredit).Add(owed)
	}

	rec, err := s.ledger.Spend(ctx, walletAddr, amount, limit)
	s.countOp("spend", err)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.RecordID(rec.ID))

	s.log(ctx).Info("credit spend recorded", "record_id", rec.ID, "amount", amount.String())
	s.invalidate(ctx, walletAddr)
	s.publish(ctx, events.New(events.Spend, walletAddr, rec).WithAmount(amount.InexactFloat64()))
	return rec, nil
}

// Repay records a repayment against the wallet's open spends.
func (s *Service) Repay(ctx context.Context, walletAddr string, amount decimal.Decimal) (*ledger.Record, error) {
	walletAddr = strings.ToLower(walletAddr)
	ctx = logging.WithWallet(ctx, walletAddr)

	ctx, span := traces.StartSpan(ctx, "credit.Service.Repay", traces.WalletAddr(walletAddr), traces.Amount(amount.String()))
	defer span.End()

	unlock, err := s.locks.Lock(ctx, walletAddr)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec, err := s.ledger.Repay(ctx, walletAddr, amount)
	s.countOp("repay", err)
	if err != nil {
		traces.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(traces.RecordID(rec.ID))

	s.log(ctx).Info("credit repayment recorded", "record_id", rec.ID, "amount", amount.String())
	s.invalidate(ctx, walletAddr)
	s.publish(ctx, events.New(events.Repay, walletAddr, rec).WithAmount(amount.InexactFloat64()))
	return rec, nil
}

// Transactions returns a page of the wallet's ledger records, newest first.
func (s *Service) Transactions(ctx context.Context, walletAddr string, limit int, cursor string) (*ledger.Page, error) {
	return s.ledger.HistoryPage(ctx, strings.ToLower(walletAddr), limit, cursor)
}

// UpdateStatus overrides a record's status.
func (s *Service) UpdateStatus(ctx context.Context, id string, status ledger.Status) (*ledger.Record, error) {
	rec, err := s.ledger.UpdateStatus(ctx, id, status)
	s.countOp("update_status", err)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, rec.WalletAddr)
	if status == ledger.StatusOverdue {
		s.publish(ctx, events.New(events.Overdue, rec.WalletAddr, rec).WithAmount(rec.Remaining().InexactFloat64()))
	}
	return rec, nil
}

// SweepOverdue marks every spend past its due date and returns the count.
// Events for the marked spends go out through the ledger's overdue hook.
func (s *Service) SweepOverdue(ctx context.Context) (int, error) {
	marked, err := s.ledger.MarkOverdue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if p, ok := s.cache.(interface{ Purge() int }); ok {
		p.Purge()
	}
	return len(marked), nil
}

// overdue runs for every spend the ledger marks overdue, including those
// marked lazily while reading a wallet's balance or history.
func (s *Service) overdue(ctx context.Context, marked []*ledger.Record) {
	for _, rec := range marked {
		s.log(ctx).Info("credit spend overdue", "record_id", rec.ID, "wallet", rec.WalletAddr)
		s.invalidate(ctx, rec.WalletAddr)
		s.publish(ctx, events.New(events.Overdue, rec.WalletAddr, rec).WithAmount(rec.Remaining().InexactFloat64()))
	}
}

// Ingest stores a snapshot for later scoring.
func (s *Service) Ingest(ctx context.Context, snap scoring.Snapshot) (*scoring.Snapshot, error) {
	if s.ingest == nil {
		return nil, ErrIngestDisabled
	}
	if err := s.ingest.Put(ctx, &snap); err != nil {
		return nil, err
	}
	normalized := activity.Normalize(snap)
	s.invalidate(ctx, normalized.Address)
	return &normalized, nil
}

// log prefers a request-scoped logger over the service's own.
func (s *Service) log(ctx context.Context) *slog.Logger {
	if logging.FromContext(ctx) == slog.Default() {
		ctx = logging.WithLogger(ctx, s.logger)
	}
	return logging.L(ctx)
}

func (s *Service) cached(ctx context.Context, key string) (*Evaluation, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log(ctx).Warn("score cache read failed", "error", err)
		}
		metrics.ScoreCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	var eval Evaluation
	if err := json.Unmarshal(raw, &eval); err != nil {
		metrics.ScoreCacheTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.ScoreCacheTotal.WithLabelValues("hit").Inc()
	return &eval, true
}

func (s *Service) store(ctx context.Context, key string, eval *Evaluation) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(eval)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.cfg.CacheTTL); err != nil {
		s.log(ctx).Warn("score cache write failed", "error", err)
	}
}

func (s *Service) invalidate(ctx context.Context, walletAddr string) {
	if s.cache == nil || walletAddr == "" {
		return
	}
	if err := s.cache.Delete(ctx, cache.WalletKey(walletAddr)); err != nil {
		s.log(ctx).Warn("score cache invalidation failed", "error", err)
	}
}

func (s *Service) publish(ctx context.Context, e *events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.log(ctx).Warn("event publish failed", "type", string(e.Type), "error", err)
	}
}

func (s *Service) countOp(op string, err error) {
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ledger.ErrInsufficientCredit), errors.Is(err, ledger.ErrRepayExceedsBalance),
		errors.Is(err, ledger.ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidStatus),
		errors.Is(err, ledger.ErrRecordNotFound):
		result = "rejected"
	default:
		result = "error"
	}
	metrics.CreditOpsTotal.WithLabelValues(op, result).Inc()
}

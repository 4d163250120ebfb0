package activity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"

	"github.com/swipefi/swipefi/internal/metrics"
	"github.com/swipefi/swipefi/internal/scoring"
	"github.com/swipefi/swipefi/internal/traces"
)

// ChainReader is the subset of ethclient.Client the scanner uses.
type ChainReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// ChainConfig for the on-chain scanner
type ChainConfig struct {
	ChainID         int64
	ScanBlocks      int
	MaxTransactions int               // newest transactions whose receipts are read
	Concurrency     int               // parallel block fetches
	Protocols       map[string]string // lowercase contract address -> protocol name
	CallTimeout     time.Duration
}

// DefaultChainConfig returns sensible defaults
func DefaultChainConfig() ChainConfig {
	return ChainConfig{
		ChainID:         84532,
		ScanBlocks:      1000,
		MaxTransactions: 50,
		Concurrency:     8,
		Protocols:       map[string]string{},
		CallTimeout:     10 * time.Second,
	}
}

// ChainSource builds snapshots by scanning recent blocks for a wallet's
// transactions. RPC calls are retried and guarded by a circuit breaker.
type ChainSource struct {
	client ChainReader
	config ChainConfig
	signer types.Signer
	cb     *gobreaker.CircuitBreaker
	logger *slog.Logger
	now    func() time.Time
}

// DialChainSource connects to rpcURL and returns a ChainSource.
func DialChainSource(ctx context.Context, rpcURL string, cfg ChainConfig, logger *slog.Logger) (*ChainSource, *ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	return NewChainSource(client, cfg, logger), client, nil
}

// NewChainSource creates a scanner over client.
func NewChainSource(client ChainReader, cfg ChainConfig, logger *slog.Logger) *ChainSource {
	def := DefaultChainConfig()
	if cfg.ChainID <= 0 {
		cfg.ChainID = def.ChainID
	}
	if cfg.ScanBlocks <= 0 {
		cfg.ScanBlocks = def.ScanBlocks
	}
	if cfg.MaxTransactions <= 0 {
		cfg.MaxTransactions = def.MaxTransactions
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	protocols := make(map[string]string, len(cfg.Protocols))
	for addr, name := range cfg.Protocols {
		protocols[strings.ToLower(addr)] = name
	}
	cfg.Protocols = protocols

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "chain-rpc",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &ChainSource{
		client: client,
		config: cfg,
		signer: types.LatestSignerForChainID(big.NewInt(cfg.ChainID)),
		cb:     cb,
		logger: logger,
		now:    time.Now,
	}
}

var _ Source = (*ChainSource)(nil)

// call runs fn with retries inside the circuit breaker. ethereum.NotFound
// is a definite answer from the node: it is returned as is, without retries,
// and does not count against the breaker.
func (c *ChainSource) call(ctx context.Context, fn func(ctx context.Context) error) error {
	notFound := false
	_, err := c.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(3),
			retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
				return retry.BackOffDelay(n, err, config)
			}),
		)
		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
			defer cancel()
			err := fn(tCtx)
			if errors.Is(err, ethereum.NotFound) {
				notFound = true
				return nil
			}
			return err
		})
	})
	if err == nil && notFound {
		return ethereum.NotFound
	}
	return err
}

// unavailable reports errors that mean the node cannot be read right now,
// as opposed to a single missing item.
func unavailable(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

type walletTx struct {
	tx       *types.Transaction
	block    uint64
	index    int
	time     uint64
	outbound bool
}

// Snapshot scans the configured block window for addr.
func (c *ChainSource) Snapshot(ctx context.Context, addr string) (*scoring.Snapshot, error) {
	ctx, span := traces.StartSpan(ctx, "activity.ChainSource.Snapshot", traces.WalletAddr(addr))
	defer span.End()

	if !common.IsHexAddress(addr) {
		return nil, ErrInvalidAddress
	}
	wallet := common.HexToAddress(addr)

	snap, err := c.scan(ctx, wallet)
	if err != nil {
		metrics.SnapshotSourceErrorsTotal.WithLabelValues("chain").Inc()
		traces.RecordError(span, err)
		return nil, fmt.Errorf("%w: %v", ErrSourceUnavailable, err)
	}
	return snap, nil
}

func (c *ChainSource) scan(ctx context.Context, wallet common.Address) (*scoring.Snapshot, error) {
	var head uint64
	if err := c.call(ctx, func(ctx context.Context) error {
		var err error
		head, err = c.client.BlockNumber(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("block number: %w", err)
	}

	window := uint64(c.config.ScanBlocks)
	if window > head+1 {
		window = head + 1
	}

	found := make([][]walletTx, window)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for i := uint64(0); i < window; i++ {
		g.Go(func() error {
			number := head - i
			var block *types.Block
			err := c.call(gctx, func(ctx context.Context) error {
				var err error
				block, err = c.client.BlockByNumber(ctx, new(big.Int).SetUint64(number))
				return err
			})
			if unavailable(err) {
				return err
			}
			if err != nil {
				// Unreadable blocks are skipped.
				c.logger.Debug("skipping block", "block", number, "error", err)
				return nil
			}
			found[i] = c.match(block, wallet)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var txs []walletTx
	for _, batch := range found {
		txs = append(txs, batch...)
	}
	// Newest first.
	sort.SliceStable(txs, func(a, b int) bool {
		if txs[a].block != txs[b].block {
			return txs[a].block > txs[b].block
		}
		return txs[a].index > txs[b].index
	})

	return c.summarize(ctx, wallet, txs)
}

func (c *ChainSource) match(block *types.Block, wallet common.Address) []walletTx {
	var out []walletTx
	for idx, tx := range block.Transactions() {
		outbound := false
		if from, err := types.Sender(c.signer, tx); err == nil && from == wallet {
			outbound = true
		}
		inbound := tx.To() != nil && *tx.To() == wallet
		if !outbound && !inbound {
			continue
		}
		out = append(out, walletTx{
			tx:       tx,
			block:    block.NumberU64(),
			index:    idx,
			time:     block.Time(),
			outbound: outbound,
		})
	}
	return out
}

func (c *ChainSource) summarize(ctx context.Context, wallet common.Address, txs []walletTx) (*scoring.Snapshot, error) {
	snap := &scoring.Snapshot{
		Address:           strings.ToLower(wallet.Hex()),
		TotalTransactions: len(txs),
		DefiProtocols:     []string{},
	}

	now := uint64(c.now().Unix())
	if len(txs) > 0 {
		snap.DaysSinceLastTx = daysBetween(txs[0].time, now)
		snap.DaysSinceFirstTx = daysBetween(txs[len(txs)-1].time, now)
	}

	analyzed := txs
	if len(analyzed) > c.config.MaxTransactions {
		analyzed = analyzed[:c.config.MaxTransactions]
	}

	receipts, err := c.receipts(ctx, analyzed)
	if err != nil {
		return nil, err
	}

	volume := decimal.Zero
	gas := decimal.Zero
	contracts := make(map[common.Address]bool)
	protocols := make(map[string]bool)
	failed := 0

	for i, wt := range analyzed {
		volume = volume.Add(weiToEth(wt.tx.Value()))

		if to := wt.tx.To(); to != nil && *to != wallet {
			contracts[*to] = true
			if name, ok := c.config.Protocols[strings.ToLower(to.Hex())]; ok && !protocols[name] {
				protocols[name] = true
				snap.DefiProtocols = append(snap.DefiProtocols, name)
			}
		}

		receipt := receipts[i]
		if receipt == nil {
			// No receipt on chain: the transaction never confirmed.
			failed++
			continue
		}
		if receipt.Status == types.ReceiptStatusFailed {
			failed++
		}
		if wt.outbound {
			price := receipt.EffectiveGasPrice
			if price == nil {
				price = wt.tx.GasPrice()
			}
			used := new(big.Int).SetUint64(receipt.GasUsed)
			gas = gas.Add(weiToEth(used.Mul(used, price)))
		}
	}

	sort.Strings(snap.DefiProtocols)

	snap.TotalVolume = volume.InexactFloat64()
	snap.GasSpent = gas.InexactFloat64()
	snap.FailedTransactions = failed
	snap.SuccessfulTransactions = len(txs) - failed
	snap.UniqueContracts = len(contracts)
	if len(txs) > 0 {
		snap.AvgTransactionSize = volume.Div(decimal.NewFromInt(int64(len(txs)))).InexactFloat64()
	}

	var balance *big.Int
	err = c.call(ctx, func(ctx context.Context) error {
		var err error
		balance, err = c.client.BalanceAt(ctx, wallet, nil)
		return err
	})
	switch {
	case unavailable(err):
		return nil, fmt.Errorf("balance: %w", err)
	case err != nil:
		c.logger.Warn("balance lookup failed", "wallet", snap.Address, "error", err)
	case balance.Sign() > 0:
		snap.TokensHeld = 1
	}

	return snap, nil
}

// receipts fetches receipts for txs concurrently. A transaction the node
// has no receipt for gets a nil entry; any other failure aborts the scan.
func (c *ChainSource) receipts(ctx context.Context, txs []walletTx) ([]*types.Receipt, error) {
	out := make([]*types.Receipt, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	for i, wt := range txs {
		g.Go(func() error {
			var receipt *types.Receipt
			err := c.call(gctx, func(ctx context.Context) error {
				var err error
				receipt, err = c.client.TransactionReceipt(ctx, wt.tx.Hash())
				return err
			})
			if errors.Is(err, ethereum.NotFound) {
				c.logger.Debug("receipt not found", "tx", wt.tx.Hash().Hex())
				return nil
			}
			if err != nil {
				return fmt.Errorf("receipt %s: %w", wt.tx.Hash().Hex(), err)
			}
			out[i] = receipt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func weiToEth(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -18)
}

func daysBetween(from, to uint64) int {
	if from >= to {
		return 0
	}
	return int((to - from) / 86400)
}

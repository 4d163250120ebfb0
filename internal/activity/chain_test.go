package activity

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const testChainID = 84532

var (
	uniswapRouter = common.HexToAddress("0x1111111111111111111111111111111111111111")
	otherContract = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

// fakeChain serves canned blocks and receipts.
type fakeChain struct {
	head      uint64
	headErr   error
	blocks    map[uint64]*types.Block
	receipts  map[common.Hash]*types.Receipt
	balance   *big.Int
	blockErrs map[uint64]bool

	// receiptsUntilDown makes every receipt call after the first n fail.
	receiptsUntilDown int32
	receiptCalls      atomic.Int32
}

func (f *fakeChain) BlockNumber(ctx context.Context) (uint64, error) {
	if f.headErr != nil {
		return 0, f.headErr
	}
	return f.head, nil
}

func (f *fakeChain) BlockByNumber(ctx context.Context, number *big.Int) (*types.Block, error) {
	n := number.Uint64()
	if f.blockErrs[n] {
		return nil, errors.New("block unavailable")
	}
	if b, ok := f.blocks[n]; ok {
		return b, nil
	}
	return types.NewBlockWithHeader(&types.Header{Number: new(big.Int).SetUint64(n), Time: blockTime(n)}), nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	n := f.receiptCalls.Add(1)
	if f.receiptsUntilDown > 0 && n > f.receiptsUntilDown {
		return nil, errors.New("connection refused")
	}
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	if f.balance == nil {
		return big.NewInt(0), nil
	}
	return f.balance, nil
}

var baseTime = uint64(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Unix())

// blockTime spaces blocks ten days apart.
func blockTime(n uint64) uint64 {
	return baseTime + n*10*86400
}

func ether(f float64) *big.Int {
	wei, _ := new(big.Float).Mul(big.NewFloat(f), big.NewFloat(1e18)).Int(nil)
	return wei
}

func signTx(t *testing.T, key *ecdsa.PrivateKey, nonce uint64, to common.Address, value *big.Int) *types.Transaction {
	t.Helper()
	signer := types.LatestSignerForChainID(big.NewInt(testChainID))
	tx, err := types.SignNewTx(key, signer, &types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      21000,
		GasPrice: big.NewInt(1_000_000_000),
	})
	if err != nil {
		t.Fatalf("sign tx: %v", err)
	}
	return tx
}

func makeBlock(n uint64, txs ...*types.Transaction) *types.Block {
	header := &types.Header{Number: new(big.Int).SetUint64(n), Time: blockTime(n)}
	return types.NewBlockWithHeader(header).WithBody(types.Body{Transactions: txs})
}

func receipt(status uint64) *types.Receipt {
	return &types.Receipt{
		Status:            status,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
	}
}

func newTestChainSource(chain *fakeChain) *ChainSource {
	c := NewChainSource(chain, ChainConfig{
		ChainID:    testChainID,
		ScanBlocks: 5,
		Protocols:  map[string]string{uniswapRouter.Hex(): "Uniswap"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.now = func() time.Time { return time.Unix(int64(blockTime(10)), 0) }
	return c
}

func TestChainSource_Snapshot(t *testing.T) {
	walletKey, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(walletKey.PublicKey)
	payerKey, _ := crypto.GenerateKey()

	swap := signTx(t, walletKey, 0, uniswapRouter, ether(1))
	inbound := signTx(t, payerKey, 0, wallet, ether(2))
	failed := signTx(t, walletKey, 1, otherContract, ether(0.5))
	tooOld := signTx(t, walletKey, 2, otherContract, ether(100))
	unrelated := signTx(t, payerKey, 1, otherContract, ether(7))

	chain := &fakeChain{
		head: 10,
		blocks: map[uint64]*types.Block{
			9: makeBlock(9, swap, unrelated),
			8: makeBlock(8, inbound),
			7: makeBlock(7, failed),
			5: makeBlock(5, tooOld),
		},
		receipts: map[common.Hash]*types.Receipt{
			swap.Hash():    receipt(types.ReceiptStatusSuccessful),
			inbound.Hash(): receipt(types.ReceiptStatusSuccessful),
			failed.Hash():  receipt(types.ReceiptStatusFailed),
		},
		balance: ether(0.1),
	}

	snap, err := newTestChainSource(chain).Snapshot(context.Background(), wallet.Hex())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	if snap.TotalTransactions != 3 {
		t.Errorf("expected 3 transactions, got %d", snap.TotalTransactions)
	}
	if snap.FailedTransactions != 1 || snap.SuccessfulTransactions != 2 {
		t.Errorf("expected 2 ok / 1 failed, got %d / %d", snap.SuccessfulTransactions, snap.FailedTransactions)
	}
	if math.Abs(snap.TotalVolume-3.5) > 1e-9 {
		t.Errorf("expected volume 3.5, got %f", snap.TotalVolume)
	}
	if math.Abs(snap.AvgTransactionSize-3.5/3) > 1e-9 {
		t.Errorf("expected avg %f, got %f", 3.5/3, snap.AvgTransactionSize)
	}
	// Two outbound transactions at 21000 gas * 1 gwei.
	if math.Abs(snap.GasSpent-0.000042) > 1e-12 {
		t.Errorf("expected gas 0.000042, got %f", snap.GasSpent)
	}
	if snap.UniqueContracts != 2 {
		t.Errorf("expected 2 contracts, got %d", snap.UniqueContracts)
	}
	if len(snap.DefiProtocols) != 1 || snap.DefiProtocols[0] != "Uniswap" {
		t.Errorf("expected [Uniswap], got %v", snap.DefiProtocols)
	}
	if snap.DaysSinceLastTx != 10 || snap.DaysSinceFirstTx != 30 {
		t.Errorf("expected days 30/10, got %d/%d", snap.DaysSinceFirstTx, snap.DaysSinceLastTx)
	}
	if snap.TokensHeld != 1 {
		t.Errorf("expected tokensHeld 1, got %d", snap.TokensHeld)
	}
}

func TestChainSource_MissingReceiptCountsAsFailed(t *testing.T) {
	walletKey, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(walletKey.PublicKey)
	tx := signTx(t, walletKey, 0, otherContract, ether(1))

	chain := &fakeChain{
		head:     10,
		blocks:   map[uint64]*types.Block{10: makeBlock(10, tx)},
		receipts: map[common.Hash]*types.Receipt{},
	}

	snap, err := newTestChainSource(chain).Snapshot(context.Background(), wallet.Hex())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.FailedTransactions != 1 || snap.SuccessfulTransactions != 0 {
		t.Errorf("expected the unconfirmed tx to count as failed, got %+v", snap)
	}
	if snap.TokensHeld != 0 {
		t.Errorf("expected no tokens for empty balance, got %d", snap.TokensHeld)
	}
}

func TestChainSource_ReceiptOutageIsUnavailable(t *testing.T) {
	walletKey, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(walletKey.PublicKey)

	var txs []*types.Transaction
	receipts := map[common.Hash]*types.Receipt{}
	for i := uint64(0); i < 12; i++ {
		tx := signTx(t, walletKey, i, otherContract, ether(1))
		txs = append(txs, tx)
		receipts[tx.Hash()] = receipt(types.ReceiptStatusSuccessful)
	}

	chain := &fakeChain{
		head:              10,
		blocks:            map[uint64]*types.Block{10: makeBlock(10, txs...)},
		receipts:          receipts,
		receiptsUntilDown: 3,
	}

	snap, err := newTestChainSource(chain).Snapshot(context.Background(), wallet.Hex())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Fatalf("expected ErrSourceUnavailable, got %v (snapshot %+v)", err, snap)
	}
}

func TestChainSource_OpenBreakerIsUnavailable(t *testing.T) {
	walletKey, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(walletKey.PublicKey)
	tx := signTx(t, walletKey, 0, otherContract, ether(1))

	chain := &fakeChain{
		head:     10,
		blocks:   map[uint64]*types.Block{10: makeBlock(10, tx)},
		receipts: map[common.Hash]*types.Receipt{tx.Hash(): receipt(types.ReceiptStatusSuccessful)},
	}
	src := newTestChainSource(chain)

	// Trip the breaker with failing calls.
	for i := 0; i < 6; i++ {
		_ = src.call(context.Background(), func(ctx context.Context) error {
			return errors.New("connection refused")
		})
	}

	_, err := src.Snapshot(context.Background(), wallet.Hex())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable with open breaker, got %v", err)
	}
}

func TestChainSource_SkipsUnreadableBlocks(t *testing.T) {
	walletKey, _ := crypto.GenerateKey()
	wallet := crypto.PubkeyToAddress(walletKey.PublicKey)
	tx := signTx(t, walletKey, 0, otherContract, ether(1))

	chain := &fakeChain{
		head:      10,
		blocks:    map[uint64]*types.Block{9: makeBlock(9, tx)},
		receipts:  map[common.Hash]*types.Receipt{tx.Hash(): receipt(types.ReceiptStatusSuccessful)},
		blockErrs: map[uint64]bool{8: true},
	}

	snap, err := newTestChainSource(chain).Snapshot(context.Background(), wallet.Hex())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.TotalTransactions != 1 {
		t.Errorf("expected 1 transaction, got %d", snap.TotalTransactions)
	}
}

func TestChainSource_EmptyWallet(t *testing.T) {
	chain := &fakeChain{head: 3}

	snap, err := newTestChainSource(chain).Snapshot(context.Background(), otherContract.Hex())
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if snap.TotalTransactions != 0 || snap.DaysSinceFirstTx != 0 || snap.DaysSinceLastTx != 0 {
		t.Errorf("expected empty history, got %+v", snap)
	}
	if snap.DefiProtocols == nil {
		t.Error("expected non-nil protocol list")
	}
}

func TestChainSource_HeadFailure(t *testing.T) {
	chain := &fakeChain{headErr: errors.New("connection refused")}

	_, err := newTestChainSource(chain).Snapshot(context.Background(), otherContract.Hex())
	if !errors.Is(err, ErrSourceUnavailable) {
		t.Errorf("expected ErrSourceUnavailable, got %v", err)
	}
}

func TestChainSource_InvalidAddress(t *testing.T) {
	_, err := newTestChainSource(&fakeChain{}).Snapshot(context.Background(), "not-an-address")
	if !errors.Is(err, ErrInvalidAddress) {
		t.Errorf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestWeiToEth(t *testing.T) {
	if got := weiToEth(ether(1.5)).InexactFloat64(); got != 1.5 {
		t.Errorf("expected 1.5, got %f", got)
	}
	if !weiToEth(nil).IsZero() {
		t.Error("expected nil wei to be zero")
	}
}

func TestDaysBetween(t *testing.T) {
	if got := daysBetween(0, 86400*3+5); got != 3 {
		t.Errorf("expected 3, got %d", got)
	}
	if got := daysBetween(100, 50); got != 0 {
		t.Errorf("expected future timestamps to clamp to 0, got %d", got)
	}
}

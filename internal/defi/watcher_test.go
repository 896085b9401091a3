package defi

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"LendFlow-Chain/internal/web3"
)

// scriptedReceipts 按顺序回放预置的轮询结果，越界后重复最后一个。
type scriptedReceipts struct {
	steps []func() (*web3.Receipt, error)
	idx   int
}

func (s *scriptedReceipts) TransactionReceipt(context.Context, common.Hash) (*web3.Receipt, error) {
	step := s.steps[s.idx]
	if s.idx < len(s.steps)-1 {
		s.idx++
	}
	return step()
}

func pending() func() (*web3.Receipt, error) {
	return func() (*web3.Receipt, error) { return nil, web3.ErrReceiptNotFound }
}

func mined(status uint64, block int64, confirmations uint64) func() (*web3.Receipt, error) {
	return func() (*web3.Receipt, error) {
		return &web3.Receipt{
			Status:        status,
			BlockNumber:   big.NewInt(block),
			GasUsed:       21000,
			Confirmations: confirmations,
		}, nil
	}
}

func TestWaitConfirmsAfterPendingPolls(t *testing.T) {
	reader := &scriptedReceipts{steps: []func() (*web3.Receipt, error){
		pending(),
		mined(1, 100, 0),
		mined(1, 100, 2),
	}}
	watcher := NewConfirmationWatcher(reader, WatchConfig{
		PollInterval:  time.Millisecond,
		Timeout:       time.Second,
		Confirmations: 2,
	})

	outcome, err := watcher.Wait(context.Background(), common.Hash{1})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !outcome.Confirmed || outcome.TimedOut {
		t.Fatalf("expected confirmed outcome, got %+v", outcome)
	}
	if outcome.BlockNumber == nil || outcome.BlockNumber.Int64() != 100 {
		t.Fatalf("unexpected block number: %v", outcome.BlockNumber)
	}
}

func TestWaitReturnsRevertedWithBlockNumber(t *testing.T) {
	reader := &scriptedReceipts{steps: []func() (*web3.Receipt, error){
		pending(),
		mined(0, 42, 1),
	}}
	watcher := NewConfirmationWatcher(reader, WatchConfig{
		PollInterval: time.Millisecond,
		Timeout:      time.Second,
	})

	outcome, err := watcher.Wait(context.Background(), common.Hash{1})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if outcome.Confirmed || outcome.TimedOut {
		t.Fatalf("expected reverted outcome, got %+v", outcome)
	}
	if outcome.BlockNumber == nil || outcome.BlockNumber.Int64() != 42 {
		t.Fatalf("回滚结果必须携带区块号, got %v", outcome.BlockNumber)
	}
}

func TestWaitHoldsRevertedUntilDepthReached(t *testing.T) {
	reader := &scriptedReceipts{steps: []func() (*web3.Receipt, error){
		mined(0, 42, 0),
		mined(0, 42, 1),
		mined(0, 42, 2),
	}}
	watcher := NewConfirmationWatcher(reader, WatchConfig{
		PollInterval:  time.Millisecond,
		Timeout:       time.Second,
		Confirmations: 2,
	})

	outcome, err := watcher.Wait(context.Background(), common.Hash{1})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if outcome.Confirmed || outcome.TimedOut {
		t.Fatalf("expected reverted outcome, got %+v", outcome)
	}
	if reader.idx != 2 {
		t.Fatalf("浅回执的回滚不应提前终止轮询, polled %d times", reader.idx+1)
	}
	if outcome.BlockNumber == nil || outcome.BlockNumber.Int64() != 42 {
		t.Fatalf("unexpected block number: %v", outcome.BlockNumber)
	}
}

func TestWaitTimesOutWhenNeverMined(t *testing.T) {
	reader := &scriptedReceipts{steps: []func() (*web3.Receipt, error){pending()}}
	watcher := NewConfirmationWatcher(reader, WatchConfig{
		PollInterval: time.Millisecond,
		Timeout:      10 * time.Millisecond,
	})

	outcome, err := watcher.Wait(context.Background(), common.Hash{1})
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !outcome.TimedOut || outcome.Confirmed {
		t.Fatalf("expected timed out outcome, got %+v", outcome)
	}
	if outcome.BlockNumber != nil {
		t.Fatalf("超时结果不应携带区块号, got %v", outcome.BlockNumber)
	}
}

func TestWaitStopsOnContextCancel(t *testing.T) {
	reader := &scriptedReceipts{steps: []func() (*web3.Receipt, error){pending()}}
	watcher := NewConfirmationWatcher(reader, WatchConfig{
		PollInterval: 50 * time.Millisecond,
		Timeout:      time.Minute,
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := watcher.Wait(ctx, common.Hash{1})
	if err == nil {
		t.Fatalf("expected context error")
	}
	if outcome.Confirmed {
		t.Fatalf("canceled wait must not report confirmation")
	}
}

package intent

import (
	"context"
	stdErrors "errors"
	"testing"
	"time"
)

func TestMemoryStoreClaimLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	record := &Record{ID: "i1", Kind: "deposit", Symbol: "USDC", Amount: "100", Status: StatusPending, MaxRetries: 2}
	if err := store.Create(ctx, record); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if err := store.Create(ctx, record); !stdErrors.Is(err, ErrIntentConflict) {
		t.Fatalf("expected conflict on duplicate create, got %v", err)
	}

	claimed, err := store.Claim(ctx, "i1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != StatusRunning || claimed.Attempts != 1 {
		t.Fatalf("unexpected claimed record: %+v", claimed)
	}

	if _, err := store.Claim(ctx, "i1"); !stdErrors.Is(err, ErrIntentConflict) {
		t.Fatalf("expected conflict while running, got %v", err)
	}

	if err := store.MarkFailed(ctx, "i1", CodeIntentProcessing, "rpc unavailable", false, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	claimed, err = store.Claim(ctx, "i1")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed.Attempts != 2 {
		t.Fatalf("expected attempts=2, got %d", claimed.Attempts)
	}
	if claimed.LastError != "" || claimed.ErrorCode != "" {
		t.Fatalf("claim should clear prior error, got %+v", claimed)
	}

	if err := store.MarkFailed(ctx, "i1", CodeIntentProcessing, "rpc unavailable", false, nil); err != nil {
		t.Fatalf("mark failed again: %v", err)
	}
	if _, err := store.Claim(ctx, "i1"); !stdErrors.Is(err, ErrIntentExhausted) {
		t.Fatalf("expected retries exhausted, got %v", err)
	}

	if err := store.MarkSucceeded(ctx, "i1", ExecutionResult{Stage: "confirmed", TxHash: "0xabc", Confirmed: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}
	if _, err := store.Claim(ctx, "i1"); !stdErrors.Is(err, ErrIntentCompleted) {
		t.Fatalf("expected completed, got %v", err)
	}

	if _, err := store.Get(ctx, "missing"); !stdErrors.Is(err, ErrIntentNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestMemoryStoreMarkFailedKeepsChainResult(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Create(ctx, &Record{ID: "i1", Kind: "borrow", Status: StatusPending, MaxRetries: 3}); err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := store.Claim(ctx, "i1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	result := ExecutionResult{Stage: "reverted", TxHash: "0xdead", BlockNumber: "77"}
	if err := store.MarkFailed(ctx, "i1", "TRANSACTION_REVERTED", "交易回滚", true, &result); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	record, err := store.Get(ctx, "i1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Status != StatusFailed {
		t.Fatalf("expected failed status, got %s", record.Status)
	}
	if record.ErrorCode != "TRANSACTION_REVERTED" {
		t.Fatalf("unexpected error code: %s", record.ErrorCode)
	}
	if record.Result == nil || record.Result.TxHash != "0xdead" || record.Result.BlockNumber != "77" {
		t.Fatalf("expected chain result to persist, got %+v", record.Result)
	}
}

func TestMemoryStoreListWithFilters(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-2 * time.Minute)

	records := []*Record{
		{ID: "i1", Kind: "deposit", Wallet: "0xaaa", Status: StatusPending, MaxRetries: 3},
		{ID: "i2", Kind: "borrow", Wallet: "0xaaa", Status: StatusPending, MaxRetries: 3},
		{ID: "i3", Kind: "deposit", Wallet: "0xbbb", PoolID: "aave-v2", Status: StatusPending, MaxRetries: 3},
	}

	for _, record := range records {
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("create intent %s: %v", record.ID, err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "i2", CodeIntentProcessing, "boom", true, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "i3", ExecutionResult{Stage: "confirmed", TxHash: "0xabc", Confirmed: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.records["i1"].UpdatedAt = base.Unix()
	store.records["i2"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.records["i3"].UpdatedAt = base.Add(60 * time.Second).Unix()
	store.mu.Unlock()

	all, err := store.List(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 intents, got %d", len(all))
	}
	if all[0].ID != "i3" {
		t.Fatalf("expected newest intent first, got %s", all[0].ID)
	}

	failed, err := store.List(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != "i2" {
		t.Fatalf("unexpected failed list: %+v", failed)
	}

	deposits, err := store.List(ctx, buildListOptions([]ListOption{WithKinds("deposit")}))
	if err != nil {
		t.Fatalf("list deposits: %v", err)
	}
	if len(deposits) != 2 {
		t.Fatalf("expected 2 deposits, got %d", len(deposits))
	}

	byWallet, err := store.List(ctx, buildListOptions([]ListOption{WithWallet("0xbbb")}))
	if err != nil {
		t.Fatalf("list by wallet: %v", err)
	}
	if len(byWallet) != 1 || byWallet[0].ID != "i3" {
		t.Fatalf("unexpected wallet list: %+v", byWallet)
	}

	byPool, err := store.List(ctx, buildListOptions([]ListOption{WithPoolID("aave-v2")}))
	if err != nil {
		t.Fatalf("list by pool: %v", err)
	}
	if len(byPool) != 1 || byPool[0].ID != "i3" {
		t.Fatalf("unexpected pool list: %+v", byPool)
	}

	since := base.Add(15 * time.Second)
	recent, err := store.List(ctx, buildListOptions([]ListOption{WithUpdatedSince(since)}))
	if err != nil {
		t.Fatalf("list recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 intents to match since filter, got %d", len(recent))
	}
}

func TestMemoryStoreStats(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Minute)
	records := []*Record{
		{ID: "a", Kind: "deposit", Status: StatusPending, MaxRetries: 3},
		{ID: "b", Kind: "borrow", Status: StatusPending, MaxRetries: 3},
		{ID: "c", Kind: "repay", Status: StatusPending, MaxRetries: 3},
	}

	for _, record := range records {
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("create intent %s: %v", record.ID, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	if err := store.MarkFailed(ctx, "b", CodeIntentProcessing, "boom", true, nil); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if err := store.MarkSucceeded(ctx, "c", ExecutionResult{Stage: "confirmed", TxHash: "0xabc", Confirmed: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	store.mu.Lock()
	store.records["a"].UpdatedAt = base.Unix()
	store.records["b"].UpdatedAt = base.Add(30 * time.Second).Unix()
	store.records["c"].UpdatedAt = base.Add(2 * time.Minute).Unix()
	store.mu.Unlock()

	stats, err := store.Stats(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Pending != 1 || stats.Failed != 1 || stats.Succeeded != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.NewestUpdatedAt != base.Add(2*time.Minute).Unix() {
		t.Fatalf("unexpected newest timestamp: %d", stats.NewestUpdatedAt)
	}
	if stats.OldestUpdatedAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp: %d", stats.OldestUpdatedAt)
	}

	failedOnly, err := store.Stats(ctx, buildListOptions([]ListOption{WithStatuses(StatusFailed)}))
	if err != nil {
		t.Fatalf("stats failed only: %v", err)
	}
	if failedOnly.Total != 1 || failedOnly.Failed != 1 {
		t.Fatalf("unexpected failed stats: %+v", failedOnly)
	}
}

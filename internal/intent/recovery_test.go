package intent

import (
	"context"
	"testing"
)

type recordingProducer struct {
	published []string
}

func (p *recordingProducer) Publish(_ context.Context, intentID string) error {
	p.published = append(p.published, intentID)
	return nil
}

func (p *recordingProducer) Close() error { return nil }

func TestRecoverPendingRepublishesOnlyPending(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	records := []*Record{
		{ID: "p1", Kind: "deposit", Status: StatusPending, MaxRetries: 3},
		{ID: "p2", Kind: "borrow", Status: StatusPending, MaxRetries: 3},
		{ID: "done", Kind: "repay", Status: StatusPending, MaxRetries: 3},
	}
	for _, record := range records {
		if err := store.Create(ctx, record); err != nil {
			t.Fatalf("create intent %s: %v", record.ID, err)
		}
	}
	if err := store.MarkSucceeded(ctx, "done", ExecutionResult{Stage: "confirmed", TxHash: "0xabc", Confirmed: true}); err != nil {
		t.Fatalf("mark succeeded: %v", err)
	}

	producer := &recordingProducer{}
	recovered, err := RecoverPending(ctx, store, producer)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != 2 {
		t.Fatalf("expected 2 recovered intents, got %d", recovered)
	}
	if len(producer.published) != 2 {
		t.Fatalf("unexpected published set: %v", producer.published)
	}
	for _, id := range producer.published {
		if id == "done" {
			t.Fatalf("已完成的意图不应补投: %v", producer.published)
		}
	}
}

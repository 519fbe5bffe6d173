package speedlimit

import (
	"context"
	"testing"
	"time"
)

func TestUnlimitedAcquireNeverBlocks(t *testing.T) {
	l := New(0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx, 1<<30); err != nil {
		t.Fatalf("expected unlimited Acquire to succeed immediately, got %v", err)
	}
}

func TestAcquireWithinBucketSucceeds(t *testing.T) {
	l := New(1000) // seeded with one refill interval's worth: 100 bytes
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := l.Acquire(ctx, 50); err != nil {
		t.Fatalf("expected Acquire within seeded bucket to succeed, got %v", err)
	}
}

func TestAcquireBlocksUntilContextCancelled(t *testing.T) {
	l := New(1) // effectively starves a large request
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx, 1<<20)
	if err == nil {
		t.Fatal("expected Acquire to block and return a context error for an oversized request")
	}
}

func TestSetLimitRaiseTopsUpBucket(t *testing.T) {
	l := New(100)
	l.SetLimit(10_000)

	if l.CurrentLimit() != 10_000 {
		t.Fatalf("expected CurrentLimit 10000, got %d", l.CurrentLimit())
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx, 5000); err != nil {
		t.Fatalf("expected raise to top up bucket immediately, got %v", err)
	}
}

func TestSetLimitLowerDoesNotDrainExistingTokens(t *testing.T) {
	l := New(10_000)
	before := l.tokens.Load()
	l.SetLimit(10)

	if l.tokens.Load() != before {
		t.Fatalf("expected lowering limit to leave existing tokens untouched, got %d want %d", l.tokens.Load(), before)
	}
}

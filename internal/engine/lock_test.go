package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/crowdcall/market-engine/internal/store"
)

func TestAcquire_Uncontended(t *testing.T) {
	e := New(store.NewMemoryStore(), nil, Config{LockTimeout: 50 * time.Millisecond})

	release, err := e.acquire(context.Background(), "m1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	release()

	// Released locks are immediately reusable.
	release, err = e.acquire(context.Background(), "m1")
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	release()
}

func TestAcquire_ContendedTimesOutWithErrBusy(t *testing.T) {
	e := New(store.NewMemoryStore(), nil, Config{LockTimeout: 20 * time.Millisecond})

	release, err := e.acquire(context.Background(), "m1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer release()

	_, err = e.acquire(context.Background(), "m1")
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindConcurrency {
		t.Errorf("expected concurrency kind, got %v", err)
	}
}

func TestAcquire_DifferentMarketsDoNotContend(t *testing.T) {
	e := New(store.NewMemoryStore(), nil, Config{LockTimeout: 20 * time.Millisecond})

	r1, err := e.acquire(context.Background(), "m1")
	if err != nil {
		t.Fatalf("acquire m1 failed: %v", err)
	}
	defer r1()

	r2, err := e.acquire(context.Background(), "m2")
	if err != nil {
		t.Fatalf("acquire m2 should not contend with m1: %v", err)
	}
	r2()
}

func TestAcquire_MarketAndUserKeyspacesDistinct(t *testing.T) {
	e := New(store.NewMemoryStore(), nil, Config{LockTimeout: 20 * time.Millisecond})

	r1, err := e.acquireMarket(context.Background(), "x")
	if err != nil {
		t.Fatalf("market lock failed: %v", err)
	}
	defer r1()

	// A user who happens to share an id with a market locks independently.
	r2, err := e.acquireUser(context.Background(), "x")
	if err != nil {
		t.Fatalf("user lock should not contend with the market lock: %v", err)
	}
	r2()
}

func TestAcquire_CanceledContext(t *testing.T) {
	e := New(store.NewMemoryStore(), nil, Config{LockTimeout: time.Second})

	release, err := e.acquire(context.Background(), "m1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = e.acquire(ctx, "m1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

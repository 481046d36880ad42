package memory

import (
	"context"
	"errors"
	"testing"

	"solana-liquidator/internal/domain"
	"solana-liquidator/internal/storage"
)

func TestPlanStoreReplaceAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewPlanStore()

	plans, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(plans) != 0 {
		t.Fatalf("empty store Load() = %d plans, want 0", len(plans))
	}

	in := []*domain.Plan{
		{Obligation: "ob1", RepayReservePubkey: "r1", CollateralReservePubkey: "r2", CollateralMint: "m1", EV: 50},
		{Obligation: "ob2", RepayReservePubkey: "r1", CollateralReservePubkey: "r3", CollateralMint: "m2", EV: 10},
	}
	if err := store.Replace(ctx, in); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	plans, err = store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("Load() = %d plans, want 2", len(plans))
	}

	// Mutating a loaded plan must not leak back into the store.
	plans[0].EV = 999
	reloaded, _ := store.Load(ctx)
	for _, p := range reloaded {
		if p.EV == 999 {
			t.Fatal("Load() returned a reference into the store")
		}
	}
}

func TestPlanStoreReplaceOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewPlanStore()

	first := []*domain.Plan{{Obligation: "ob1"}, {Obligation: "ob2"}}
	if err := store.Replace(ctx, first); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}
	second := []*domain.Plan{{Obligation: "ob3"}}
	if err := store.Replace(ctx, second); err != nil {
		t.Fatalf("Replace() error = %v", err)
	}

	plans, _ := store.Load(ctx)
	if len(plans) != 1 || plans[0].Obligation != "ob3" {
		t.Fatalf("Load() after overwrite = %+v, want just ob3", plans)
	}
}

func TestPlanStoreRejectsEmptyKey(t *testing.T) {
	store := NewPlanStore()
	err := store.Replace(context.Background(), []*domain.Plan{{Obligation: ""}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("Replace() error = %v, want ErrInvalidInput", err)
	}
}

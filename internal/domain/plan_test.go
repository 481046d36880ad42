package domain

import (
	"reflect"
	"testing"
)

func TestPlanComplete(t *testing.T) {
	p := &Plan{
		Obligation:              "obl",
		RepayReservePubkey:      "repayRes",
		CollateralReservePubkey: "collRes",
		CollateralMint:          "collMint",
	}
	if !p.Complete() {
		t.Error("expected complete plan")
	}

	for _, strip := range []func(*Plan){
		func(p *Plan) { p.RepayReservePubkey = "" },
		func(p *Plan) { p.CollateralReservePubkey = "" },
		func(p *Plan) { p.CollateralMint = "" },
	} {
		cp := *p
		strip(&cp)
		if cp.Complete() {
			t.Errorf("expected incomplete plan: %+v", cp)
		}
	}
}

func TestPlanMints(t *testing.T) {
	p := &Plan{RepayMint: "usdc", CollateralMint: "sol"}
	if got := p.Mints(); !reflect.DeepEqual(got, []string{"usdc", "sol"}) {
		t.Errorf("unexpected mints: %v", got)
	}

	same := &Plan{RepayMint: "usdc", CollateralMint: "usdc"}
	if got := same.Mints(); !reflect.DeepEqual(got, []string{"usdc"}) {
		t.Errorf("expected single mint, got %v", got)
	}

	empty := &Plan{}
	if got := empty.Mints(); got != nil {
		t.Errorf("expected nil mints, got %v", got)
	}
}

func TestPlanAuxReserves(t *testing.T) {
	// Deposits {C1, C2}, borrows {R1=C2, R2}: C2/R1 collapse to one entry,
	// deposits stay ahead of borrows.
	p := &Plan{
		DepositReserves: []string{"C1", "C2"},
		BorrowReserves:  []string{"C2", "R2"},
	}

	got := p.AuxReserves()
	want := []string{"C1", "C2", "R2"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPlanAuxReserves_Empty(t *testing.T) {
	p := &Plan{}
	if got := p.AuxReserves(); len(got) != 0 {
		t.Errorf("expected empty list, got %v", got)
	}
}

func TestSortPlans(t *testing.T) {
	ttl5 := 5.0
	ttl1 := 1.0

	plans := []*Plan{
		{Obligation: "d", LiquidationEligible: false, EV: 900},
		{Obligation: "b", LiquidationEligible: true, EV: 50, TTLMin: &ttl5},
		{Obligation: "a", LiquidationEligible: true, EV: 50, TTLMin: &ttl1},
		{Obligation: "c", LiquidationEligible: true, EV: 120},
	}

	SortPlans(plans)

	want := []string{"c", "a", "b", "d"}
	for i, w := range want {
		if plans[i].Obligation != w {
			t.Errorf("position %d: expected %s, got %s", i, w, plans[i].Obligation)
		}
	}
}

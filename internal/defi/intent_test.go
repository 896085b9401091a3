package defi

import (
	"testing"

	xerrors "LendFlow-Chain/internal/errors"
)

func TestNormalizeCanonicalizesFields(t *testing.T) {
	out, err := Intent{
		Kind:        KindDeposit,
		Symbol:      " usdc ",
		AmountHuman: " 1.5 ",
		PoolID:      " pool-1 ",
	}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Symbol != "USDC" || out.AmountHuman != "1.5" || out.PoolID != "pool-1" {
		t.Fatalf("unexpected normalized intent: %+v", out)
	}
}

func TestNormalizeDefaultsRateMode(t *testing.T) {
	out, err := Intent{Kind: KindBorrow, Symbol: "USDC", AmountHuman: "10"}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.RateMode != RateModeVariable {
		t.Fatalf("expected variable rate by default, got %d", out.RateMode)
	}
}

func TestNormalizeRejectsInvalidIntents(t *testing.T) {
	cases := []struct {
		name   string
		intent Intent
	}{
		{"unknown kind", Intent{Kind: "swap", Symbol: "USDC", AmountHuman: "1"}},
		{"missing symbol", Intent{Kind: KindDeposit, AmountHuman: "1"}},
		{"missing amount", Intent{Kind: KindRepay, Symbol: "USDC"}},
		{"bad rate mode", Intent{Kind: KindBorrow, Symbol: "USDC", AmountHuman: "1", RateMode: 7}},
		{"harvest without contract", Intent{Kind: KindHarvest, ClaimCalldata: "0x4e71d92d"}},
		{"harvest bad contract", Intent{Kind: KindHarvest, ClaimContract: "not-an-address", ClaimCalldata: "0x4e71d92d"}},
		{"harvest without calldata", Intent{Kind: KindHarvest, ClaimContract: "0x00000000000000000000000000000000000000cc"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.intent.Normalize(); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestNormalizeAcceptsHarvest(t *testing.T) {
	out, err := Intent{
		Kind:          KindHarvest,
		ClaimContract: "0x00000000000000000000000000000000000000cc",
		ClaimCalldata: "0x4e71d92d",
	}.Normalize()
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if out.Kind != KindHarvest {
		t.Fatalf("unexpected intent: %+v", out)
	}
}

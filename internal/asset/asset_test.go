package asset

import (
	"math/big"
	"testing"

	xerrors "LendFlow-Chain/internal/errors"
)

func testResolver(t *testing.T) *Resolver {
	t.Helper()
	resolver, err := NewResolver(Definitions{Assets: map[string]Definition{
		"usdc": {Address: "0x00000000000000000000000000000000000000aa", Decimals: 6},
		"WETH": {Address: "0x00000000000000000000000000000000000000ab", Decimals: 18},
	}})
	if err != nil {
		t.Fatalf("构造解析器失败: %v", err)
	}
	return resolver
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	resolver := testResolver(t)
	for _, symbol := range []string{"usdc", "USDC", " Usdc "} {
		found, err := resolver.Resolve(symbol)
		if err != nil {
			t.Fatalf("resolve %q: %v", symbol, err)
		}
		if found.Symbol != "USDC" || found.Decimals != 6 {
			t.Fatalf("unexpected asset: %+v", found)
		}
	}
}

func TestResolveUnknownSymbol(t *testing.T) {
	resolver := testResolver(t)
	_, err := resolver.Resolve("DOGE")
	if xerrors.CodeOf(err) != CodeUnknownAsset {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseAmountScalesByDecimals(t *testing.T) {
	resolver := testResolver(t)
	usdc, _ := resolver.Resolve("USDC")

	cases := []struct {
		human string
		want  *big.Int
	}{
		{"1", big.NewInt(1_000_000)},
		{"0.000001", big.NewInt(1)},
		{"1234.56", big.NewInt(1_234_560_000)},
	}
	for _, tc := range cases {
		got, err := usdc.ParseAmount(tc.human)
		if err != nil {
			t.Fatalf("parse %q: %v", tc.human, err)
		}
		if got.Cmp(tc.want) != 0 {
			t.Fatalf("parse %q: got %s want %s", tc.human, got, tc.want)
		}
	}
}

func TestParseAmountRejectsInvalidInput(t *testing.T) {
	resolver := testResolver(t)
	usdc, _ := resolver.Resolve("USDC")

	for _, human := range []string{"", "abc", "-1", "0", "0.0000001"} {
		if _, err := usdc.ParseAmount(human); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
			t.Fatalf("amount %q: expected invalid argument, got %v", human, err)
		}
	}
}

func TestNewResolverValidatesDefinitions(t *testing.T) {
	cases := []struct {
		name string
		defs Definitions
	}{
		{"empty", Definitions{}},
		{"bad address", Definitions{Assets: map[string]Definition{"USDC": {Address: "nope", Decimals: 6}}}},
		{"bad decimals", Definitions{Assets: map[string]Definition{"USDC": {Address: "0x00000000000000000000000000000000000000aa", Decimals: 40}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewResolver(tc.defs); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSymbolsSorted(t *testing.T) {
	resolver := testResolver(t)
	symbols := resolver.Symbols()
	if len(symbols) != 2 || symbols[0] != "USDC" || symbols[1] != "WETH" {
		t.Fatalf("unexpected symbols: %v", symbols)
	}
}

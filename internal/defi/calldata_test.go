package defi

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestCalldataSelectors(t *testing.T) {
	builder, err := NewCalldataBuilder()
	if err != nil {
		t.Fatalf("构造编码器失败: %v", err)
	}

	asset := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user := common.HexToAddress("0x0000000000000000000000000000000000000011")
	amount := big.NewInt(1_000_000)

	cases := []struct {
		name     string
		build    func() ([]byte, error)
		selector string
		words    int
	}{
		{
			name:     "approve",
			build:    func() ([]byte, error) { return builder.Approve(user, amount) },
			selector: "095ea7b3",
			words:    2,
		},
		{
			name:     "deposit",
			build:    func() ([]byte, error) { return builder.Deposit(asset, amount, user) },
			selector: "e8eda9df",
			words:    4,
		},
		{
			name:     "borrow",
			build:    func() ([]byte, error) { return builder.Borrow(asset, amount, RateModeVariable, user) },
			selector: "a415bcad",
			words:    5,
		},
		{
			name:     "repay",
			build:    func() ([]byte, error) { return builder.Repay(asset, amount, RateModeStable, user) },
			selector: "573ade81",
			words:    4,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := tc.build()
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			if got := hex.EncodeToString(data[:4]); got != tc.selector {
				t.Fatalf("unexpected selector: got %s want %s", got, tc.selector)
			}
			if want := 4 + 32*tc.words; len(data) != want {
				t.Fatalf("unexpected calldata length: got %d want %d", len(data), want)
			}
		})
	}
}

func TestBorrowEncodesRateMode(t *testing.T) {
	builder, err := NewCalldataBuilder()
	if err != nil {
		t.Fatalf("构造编码器失败: %v", err)
	}
	asset := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	user := common.HexToAddress("0x0000000000000000000000000000000000000011")

	data, err := builder.Borrow(asset, big.NewInt(1), RateModeStable, user)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	// 第三个参数字应当是利率模式。
	rateWord := new(big.Int).SetBytes(data[4+64 : 4+96])
	if rateWord.Int64() != int64(RateModeStable) {
		t.Fatalf("unexpected rate mode word: %s", rateWord)
	}
}

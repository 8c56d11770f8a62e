package settlement

import (
	"errors"
	"math"
	"testing"
)

func TestComputeFee(t *testing.T) {
	cases := []struct {
		name    string
		amount  uint64
		rateBps uint32
		fee     uint64
		net     uint64
	}{
		{name: "reference order", amount: 1_000_000, rateBps: 30, fee: 3_000, net: 997_000},
		{name: "zero rate", amount: 1_000_000, rateBps: 0, fee: 0, net: 1_000_000},
		{name: "zero amount", amount: 0, rateBps: 1000, fee: 0, net: 0},
		{name: "rounds down", amount: 333, rateBps: 30, fee: 0, net: 333},
		{name: "max rate", amount: 1_000_000, rateBps: 1000, fee: 100_000, net: 900_000},
		{name: "full precision amount", amount: math.MaxUint64, rateBps: 1000, fee: math.MaxUint64 / 10, net: math.MaxUint64 - math.MaxUint64/10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fee, net, err := ComputeFee(tc.amount, tc.rateBps)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if fee != tc.fee || net != tc.net {
				t.Fatalf("got fee=%d net=%d, want fee=%d net=%d", fee, net, tc.fee, tc.net)
			}
		})
	}
}

func TestComputeFeeConservesValue(t *testing.T) {
	amounts := []uint64{0, 1, 9, 10_000, 999_999, 1_000_000, math.MaxUint64 - 1, math.MaxUint64}
	for _, amount := range amounts {
		for rate := uint32(0); rate <= MaxFeeBps; rate += 37 {
			fee, net, err := ComputeFee(amount, rate)
			if err != nil {
				t.Fatalf("amount=%d rate=%d: %v", amount, rate, err)
			}
			if fee+net != amount {
				t.Fatalf("amount=%d rate=%d: fee %d + net %d != amount", amount, rate, fee, net)
			}
			if fee > amount {
				t.Fatalf("amount=%d rate=%d: fee %d exceeds amount", amount, rate, fee)
			}
		}
	}
}

func TestComputeFeeRateBounds(t *testing.T) {
	if _, _, err := ComputeFee(1_000_000, 1000); err != nil {
		t.Fatalf("1000 bps must be accepted: %v", err)
	}
	if _, _, err := ComputeFee(1_000_000, 1001); !errors.Is(err, ErrFeeRateOutOfRange) {
		t.Fatalf("expected ErrFeeRateOutOfRange, got %v", err)
	}
}

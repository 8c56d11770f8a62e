package settlement

import "math/big"

// ComputeFee splits an order amount into the protocol fee and the swap input.
// fee = floor(amount * rateBps / 10000); the remainder always goes to the swap
// so rounding never over-collects. fee + net == amount holds exactly.
//
// The product is computed in big.Int so a full-precision amount cannot wrap the
// native width; a result outside the 64-bit range surfaces as ErrFeeOverflow.
func ComputeFee(amount uint64, rateBps uint32) (fee uint64, net uint64, err error) {
	if rateBps > MaxFeeBps {
		return 0, 0, ErrFeeRateOutOfRange
	}
	if rateBps == 0 || amount == 0 {
		return 0, amount, nil
	}
	product := new(big.Int).Mul(new(big.Int).SetUint64(amount), new(big.Int).SetUint64(uint64(rateBps)))
	product.Div(product, new(big.Int).SetUint64(feeDenominator))
	if !product.IsUint64() {
		return 0, 0, ErrFeeOverflow
	}
	fee = product.Uint64()
	if fee > amount {
		return 0, 0, ErrFeeOverflow
	}
	return fee, amount - fee, nil
}

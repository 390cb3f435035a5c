package services

import (
	"fmt"
	"math/bits"

	"BlinkPay/internal/models"
)

// MaxFeeRateBps is 100%.
const MaxFeeRateBps = 10000

// Split divides gross into merchant and platform portions.
// platform = floor(gross * bps / 10000), merchant takes the remainder.
func Split(gross uint64, feeRateBps int64) (models.SplitResult, error) {
	if feeRateBps < 0 || feeRateBps > MaxFeeRateBps {
		return models.SplitResult{}, fmt.Errorf("%w: fee rate %d bps outside [0, %d]", ErrInvalidRequest, feeRateBps, MaxFeeRateBps)
	}

	// 128 位乘法，避免 gross*bps 溢出
	hi, lo := bits.Mul64(gross, uint64(feeRateBps))
	platform, _ := bits.Div64(hi, lo, MaxFeeRateBps)

	return models.SplitResult{
		Gross:          gross,
		MerchantAmount: gross - platform,
		PlatformAmount: platform,
		FeeRateBps:     feeRateBps,
	}, nil
}

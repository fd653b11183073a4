package services

import (
	"math"

	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
)

// Price computes the total for job under config in paise. The duplex modifier is applied
// in basis points and the product is rounded half-up once, after all multiplications.
//
//	amount = base * modifier * pages * copies
func Price(config *PricingConfig, job JobSpec) (Money, error) {
	if config == nil {
		return 0, validationError("shop pricing is not configured")
	}
	if job.PageCount < 1 {
		return 0, validationError("page count must be at least 1")
	}
	if job.CopyCount < 1 {
		return 0, validationError("copy count must be at least 1")
	}
	if config.BWPricePerPage < 0 || config.ColorPricePerPage < 0 {
		return 0, validationError("prices must not be negative")
	}

	var base int64
	switch job.ColorMode {
	case domain.ColorModeColor:
		base = config.ColorPricePerPage.Paise()
	case domain.ColorModeMono:
		base = config.BWPricePerPage.Paise()
	default:
		return 0, validationError("unknown color mode %q", job.ColorMode)
	}

	var modifier int64
	switch job.DuplexMode {
	case domain.DuplexModeDouble:
		modifier = config.DuplexModifierBps
		if modifier < 0 {
			return 0, validationError("duplex modifier must not be negative")
		}
	case domain.DuplexModeSingle:
		modifier = domain.BasisPointsOne
	default:
		return 0, validationError("unknown duplex mode %q", job.DuplexMode)
	}

	scaled, ok := mulNonNegative(base, modifier)
	if ok {
		scaled, ok = mulNonNegative(scaled, int64(job.PageCount))
	}
	if ok {
		scaled, ok = mulNonNegative(scaled, int64(job.CopyCount))
	}
	half := domain.BasisPointsOne / 2
	if !ok || scaled > math.MaxInt64-half {
		return 0, validationError("order total overflows")
	}
	return Money((scaled + half) / domain.BasisPointsOne), nil
}

func mulNonNegative(a, b int64) (int64, bool) {
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt64/b {
		return 0, false
	}
	return a * b, true
}

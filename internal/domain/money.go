package domain

import "fmt"

// Money is an amount of INR in paise.
type Money int64

// Paise returns the amount in minor units.
func (m Money) Paise() int64 { return int64(m) }

// Split returns the whole rupee and paise components of a non-negative amount.
func (m Money) Split() (int64, int64) {
	v := int64(m)
	if v < 0 {
		v = -v
	}
	return v / 100, v % 100
}

// String formats the amount with two fractional digits, e.g. "160.00".
func (m Money) String() string {
	whole, frac := m.Split()
	sign := ""
	if m < 0 {
		sign = "-"
	}
	return fmt.Sprintf("%s%d.%02d", sign, whole, frac)
}

package document

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Money is an amount in paise. All receipt arithmetic happens on Money so
// printed totals never carry floating point residue.
type Money int64

// MaxRupees bounds every single amount on an order. With MaxQuantity and
// MaxItems it keeps line amounts, subtotals and tax products inside int64.
const MaxRupees = 10_000_000

const MaxMoney = Money(MaxRupees * 100)

var ErrAmountOutOfRange = errors.New("amount out of range")

// FromRupees converts a decimal rupee amount to paise, rounding half away
// from zero on the shortest decimal representation of v.
func FromRupees(v float64) (Money, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > MaxRupees {
		return 0, fmt.Errorf("%w: %v exceeds %d rupees", ErrAmountOutOfRange, v, MaxRupees)
	}

	s := strconv.FormatFloat(v, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	frac += "000"
	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAmountOutOfRange, err)
	}
	f, err := strconv.ParseInt(frac[:2], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrAmountOutOfRange, err)
	}

	paise := w*100 + f
	if frac[2] >= '5' {
		paise++
	}
	if neg {
		paise = -paise
	}
	return Money(paise), nil
}

func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// Signed renders the amount with an explicit leading sign.
func (m Money) Signed() string {
	if m >= 0 {
		return "+" + m.String()
	}
	return m.String()
}

func (m Money) Rupees() float64 {
	return float64(m) / 100
}

// applyRate returns base * bps / 10000 rounded half away from zero.
func applyRate(base Money, bps int) Money {
	p := int64(base) * int64(bps)
	if p >= 0 {
		return Money((p + 5000) / 10000)
	}
	return Money(-((-p + 5000) / 10000))
}

func roundToRupee(m Money) Money {
	v := int64(m)
	if v >= 0 {
		return Money((v + 50) / 100 * 100)
	}
	return Money(-((-v + 50) / 100 * 100))
}

// TaxRate is a named tax expressed in basis points (250 = 2.5%).
type TaxRate struct {
	Name    string
	RateBPS int
}

// Label renders the tax name with its rate, e.g. "CGST @2.5%".
func (t TaxRate) Label() string {
	whole := t.RateBPS / 100
	frac := t.RateBPS % 100
	if frac == 0 {
		return fmt.Sprintf("%s @%d%%", t.Name, whole)
	}
	rate := strings.TrimRight(fmt.Sprintf("%d.%02d", whole, frac), "0")
	return fmt.Sprintf("%s @%s%%", t.Name, rate)
}

type TaxLine struct {
	TaxRate
	Amount Money
}

// Totals is the fully rounded money breakdown of an order. By construction
// Subtotal - Discount + sum(Taxes) + RoundOff == Total.
type Totals struct {
	Subtotal Money
	Discount Money
	Taxes    []TaxLine
	RoundOff Money
	Total    Money
}

func (t Totals) TaxTotal() Money {
	var sum Money
	for _, tl := range t.Taxes {
		sum += tl.Amount
	}
	return sum
}

// ComputeTotals rounds to paise at every step: each line amount, each tax
// line, then the optional round-off to the nearest rupee.
func ComputeTotals(items []Item, discount Money, taxes []TaxRate, toRupee bool) Totals {
	var t Totals
	for _, it := range items {
		t.Subtotal += it.Amount()
	}

	if discount < 0 {
		discount = 0
	}
	if discount > t.Subtotal {
		discount = t.Subtotal
	}
	t.Discount = discount

	taxable := t.Subtotal - t.Discount
	for _, rate := range taxes {
		t.Taxes = append(t.Taxes, TaxLine{TaxRate: rate, Amount: applyRate(taxable, rate.RateBPS)})
	}

	pre := taxable + t.TaxTotal()
	t.Total = pre
	if toRupee {
		t.Total = roundToRupee(pre)
		t.RoundOff = t.Total - pre
	}
	return t
}

package document

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

const (
	DefaultWidth     = 40
	DefaultFeedLines = 4
	DefaultCurrency  = "₹"

	dateLayout = "02/01/2006 15:04"

	kotNameWidth     = 20
	receiptNameWidth = 18
	qtyWidth         = 4
	rateWidth        = 8
)

// Formatter renders orders into fixed-width printer text. It performs no
// I/O and reads no clock: every time it prints comes from the Order.
type Formatter struct {
	Width        int
	Currency     string
	Taxes        []TaxRate
	RoundToRupee bool
	FeedLines    int
	Location     *time.Location
}

func NewFormatter(width int) *Formatter {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Formatter{
		Width:     width,
		Currency:  DefaultCurrency,
		FeedLines: DefaultFeedLines,
	}
}

// WithCurrency returns a copy of f printing totals with the given glyph.
func (f *Formatter) WithCurrency(glyph string) *Formatter {
	c := *f
	c.Currency = glyph
	return &c
}

func (f *Formatter) Format(kind Kind, order *Order, tenant Tenant) (string, error) {
	switch kind {
	case KindKOT, KindReceipt, KindTest:
	case KindRaw:
		return "", ErrRawNotLayout
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if order == nil || len(order.Items) == 0 {
		return "", ErrEmptyOrder
	}
	if order.Time.IsZero() {
		return "", ErrMissingTime
	}
	if err := order.checkAmounts(); err != nil {
		return "", err
	}

	p := newPage(f.width())
	switch kind {
	case KindKOT:
		f.kot(p, order, tenant)
	case KindReceipt:
		f.receipt(p, order, tenant)
	case KindTest:
		f.test(p, order, tenant)
	}
	return p.String(f.feed()), nil
}

// Totals exposes the receipt money breakdown for an order.
func (f *Formatter) Totals(order *Order) Totals {
	return ComputeTotals(order.Items, order.Discount, f.Taxes, f.RoundToRupee)
}

func (f *Formatter) width() int {
	if f.Width <= 0 {
		return DefaultWidth
	}
	return f.Width
}

func (f *Formatter) feed() int {
	if f.FeedLines < 0 {
		return 0
	}
	return f.FeedLines
}

func (f *Formatter) stamp(t time.Time) string {
	if f.Location != nil {
		t = t.In(f.Location)
	}
	return t.Format(dateLayout)
}

func (f *Formatter) kot(p *page, o *Order, tenant Tenant) {
	p.rule("=")
	p.center("KITCHEN ORDER")
	p.rule("=")
	p.center("ORDER #" + o.ShortID())
	p.center(deliveryBanner(o, tenant))
	p.line(f.stamp(o.Time))
	f.kotItems(p, o)
	p.rule("=")
	p.center("*** THANK YOU ***")
	p.center(tenant.Name)
}

func (f *Formatter) kotItems(p *page, o *Order) {
	p.rule("-")
	p.line(kotRow("ITEM", "QTY"))
	p.rule("-")
	total := 0
	for _, it := range o.Items {
		p.line(kotRow(upper(it.Name), strconv.Itoa(it.Quantity)))
		if note := strings.TrimSpace(it.Note); note != "" {
			p.wrap("  > ", note)
		}
		total += it.Quantity
	}
	p.rule("-")
	p.line(kotRow("ITEMS", strconv.Itoa(total)))
}

func kotRow(name, qty string) string {
	return padRight(name, kotNameWidth) + padLeft(qty, qtyWidth)
}

func deliveryBanner(o *Order, tenant Tenant) string {
	delivery := o.Delivery != nil
	switch {
	case tenant.AltBanner && delivery:
		return "[ HOME DELIVERY ]"
	case tenant.AltBanner:
		return "[ TAKEAWAY ]"
	case delivery:
		return "*** DELIVERY ***"
	default:
		return "*** PICKUP ***"
	}
}

func (f *Formatter) receipt(p *page, o *Order, tenant Tenant) {
	p.rule("=")
	p.center(upper(tenant.Name))
	p.rule("=")
	if o.CustomerName != "" {
		p.line("Customer: " + o.CustomerName)
	}
	if o.CustomerPhone != "" {
		p.line("Phone: " + MaskPhone(o.CustomerPhone))
	}
	if o.Delivery != nil {
		if l := o.Delivery.line(); l != "" {
			p.wrap("Deliver to: ", l)
		}
		if o.Delivery.Instructions != "" {
			p.wrap("Note: ", o.Delivery.Instructions)
		}
	}
	p.line("Date: " + f.stamp(o.Time))
	p.line("Order: " + o.Number)

	amountWidth := p.width - receiptNameWidth - qtyWidth - rateWidth
	p.rule("-")
	p.line(padRight("ITEM", receiptNameWidth) + padLeft("QTY", qtyWidth) +
		padLeft("RATE", rateWidth) + padLeft("AMOUNT", amountWidth))
	p.rule("-")
	for _, it := range o.Items {
		qty, rate, amount := strconv.Itoa(it.Quantity), it.Rate().String(), it.Amount().String()
		name := padRight(upper(it.Name), receiptNameWidth)
		if runeLen(qty) < qtyWidth && runeLen(rate) < rateWidth && runeLen(amount) < amountWidth {
			p.line(name + padLeft(qty, qtyWidth) + padLeft(rate, rateWidth) + padLeft(amount, amountWidth))
			continue
		}
		// Oversized figures get their own line rather than being cut or
		// run together.
		p.line(name)
		p.line(padLeft(qty+" x "+rate+" = "+amount, p.width))
	}
	p.rule("-")

	t := f.Totals(o)
	p.spread("Subtotal", t.Subtotal.String())
	if t.Discount > 0 {
		p.spread("Discount", (-t.Discount).String())
	}
	for _, tl := range t.Taxes {
		p.spread(tl.Label(), tl.Amount.String())
	}
	if f.RoundToRupee && t.RoundOff != 0 {
		p.spread("Round off", t.RoundOff.Signed())
	}
	p.rule("-")
	p.spread("TOTAL", f.Currency+t.Total.String())
	if o.PaymentMethod != "" {
		p.line("Payment: " + upper(o.PaymentMethod))
	}
	p.rule("=")
	p.center("THANK YOU! VISIT AGAIN")
}

func (f *Formatter) test(p *page, o *Order, tenant Tenant) {
	p.rule("=")
	p.center("PRINTER TEST")
	p.rule("=")
	if tenant.Name != "" {
		p.line("Tenant: " + tenant.Name)
	}
	p.line("Date: " + f.stamp(o.Time))
	p.line("Order: " + o.Number)
	p.rule("-")
	var ruler strings.Builder
	for i := 1; i <= p.width; i++ {
		ruler.WriteByte(byte('0' + i%10))
	}
	p.line(ruler.String())
	f.kotItems(p, o)
	p.rule("=")
	p.center("PRINTING WORKS")
}

func upper(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

// MaskPhone keeps the last four digits of a phone number and masks the rest.
func MaskPhone(phone string) string {
	digits := make([]rune, 0, len(phone))
	for _, r := range phone {
		if unicode.IsDigit(r) {
			digits = append(digits, r)
		}
	}
	if len(digits) <= 4 {
		return string(digits)
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

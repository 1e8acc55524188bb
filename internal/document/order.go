package document

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrEmptyOrder   = errors.New("order has no items")
	ErrUnknownKind  = errors.New("unknown document kind")
	ErrMissingTime  = errors.New("order time is required")
	ErrRawNotLayout = errors.New("raw documents are not formatted")
)

type Kind string

const (
	KindKOT     Kind = "kot"
	KindReceipt Kind = "receipt"
	KindTest    Kind = "test"
	KindRaw     Kind = "raw"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindKOT, KindReceipt, KindTest, KindRaw:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

type Item struct {
	Name       string
	Quantity   int
	UnitPrice  Money
	TotalPrice Money
	Note       string
}

// Amount is the line amount. UnitPrice wins when set; otherwise the
// caller-supplied line total is used as is.
func (it Item) Amount() Money {
	if it.UnitPrice > 0 {
		return it.UnitPrice * Money(it.Quantity)
	}
	return it.TotalPrice
}

// Rate is the per-unit price printed in the receipt RATE column.
func (it Item) Rate() Money {
	if it.UnitPrice > 0 || it.Quantity <= 0 {
		return it.UnitPrice
	}
	return it.TotalPrice / Money(it.Quantity)
}

type Delivery struct {
	Block        string
	Address      string
	Instructions string
}

func (d *Delivery) line() string {
	parts := make([]string, 0, 2)
	if d.Block != "" {
		parts = append(parts, d.Block)
	}
	if d.Address != "" {
		parts = append(parts, d.Address)
	}
	return strings.Join(parts, ", ")
}

// Order is the order-derived payload handed over by the business layer.
type Order struct {
	Number        string
	Time          time.Time
	CustomerName  string
	CustomerPhone string
	Delivery      *Delivery
	Items         []Item
	Discount      Money
	PaymentMethod string
	// TotalAmount is what the caller computed. It is never printed.
	TotalAmount Money
}

const (
	MaxQuantity = 999
	MaxItems    = 500
)

// checkAmounts rejects orders whose money cannot be printed exactly.
func (o *Order) checkAmounts() error {
	if len(o.Items) > MaxItems {
		return fmt.Errorf("%w: %d items, at most %d", ErrAmountOutOfRange, len(o.Items), MaxItems)
	}
	if o.Discount > MaxMoney || o.Discount < -MaxMoney {
		return fmt.Errorf("%w: discount %s", ErrAmountOutOfRange, o.Discount)
	}
	for _, it := range o.Items {
		if it.Quantity < 0 || it.Quantity > MaxQuantity {
			return fmt.Errorf("%w: %s quantity %d", ErrAmountOutOfRange, it.Name, it.Quantity)
		}
		for _, m := range []Money{it.UnitPrice, it.TotalPrice} {
			if m < 0 || m > MaxMoney {
				return fmt.Errorf("%w: %s price %s", ErrAmountOutOfRange, it.Name, m)
			}
		}
	}
	return nil
}

// ShortID is the last two characters of the order number, used as the
// kitchen token.
func (o *Order) ShortID() string {
	r := []rune(strings.TrimSpace(o.Number))
	if len(r) <= 2 {
		return string(r)
	}
	return string(r[len(r)-2:])
}

type Tenant struct {
	Name string
	// AltBanner selects the alternate delivery-mode banner wording.
	AltBanner bool
}

// SampleOrder is the fixed order used for test prints.
func SampleOrder(at time.Time) *Order {
	return &Order{
		Number:        "TEST-001",
		Time:          at,
		CustomerName:  "Test Customer",
		CustomerPhone: "9876543210",
		Items: []Item{
			{Name: "Maggi", Quantity: 2, UnitPrice: 4000},
		},
		PaymentMethod: "cash",
	}
}

package handlers

import (
	"fmt"
	"strings"
	"time"

	"github.com/orrn/printdispatch/internal/core"
	"github.com/orrn/printdispatch/internal/document"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type PrintItem struct {
	Name       string  `json:"name" binding:"required"`
	Quantity   int     `json:"quantity" binding:"required,min=1,max=999"`
	UnitPrice  float64 `json:"unitPrice" binding:"min=0,max=10000000"`
	TotalPrice float64 `json:"totalPrice" binding:"min=0,max=10000000"`
	Note       string  `json:"note"`
}

type DeliveryInfo struct {
	Block        string `json:"block"`
	Address      string `json:"address"`
	Instructions string `json:"instructions"`
}

type PrintJobRequest struct {
	OrderNumber   string        `json:"orderNumber"`
	CustomerName  string        `json:"customerName"`
	CustomerPhone string        `json:"customerPhone"`
	Items         []PrintItem   `json:"items" binding:"max=500,dive"`
	TotalAmount   float64       `json:"totalAmount" binding:"min=0"`
	Discount      float64       `json:"discount" binding:"min=0,max=10000000"`
	PaymentMethod string        `json:"paymentMethod"`
	OrderTime     string        `json:"orderTime"`
	Delivery      *DeliveryInfo `json:"delivery"`
}

type PrintRequest struct {
	PrinterID    string           `json:"printerId" binding:"required"`
	DocumentKind string           `json:"documentKind"`
	PrintJob     *PrintJobRequest `json:"printJob"`
	RawContent   string           `json:"rawContent"`
}

type TestRequest struct {
	PrinterID string `json:"printerId"`
}

type PrintResponse struct {
	JobID         string `json:"jobId"`
	QueuePosition int    `json:"queuePosition"`
	PrinterID     string `json:"printerId,omitempty"`
}

type QueueJob struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	OrderNumber string     `json:"orderNumber"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	Transport   string     `json:"transport,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type QueueResponse struct {
	PrinterID    string     `json:"printerId"`
	QueueLength  int        `json:"queueLength"`
	IsProcessing bool       `json:"isProcessing"`
	Jobs         []QueueJob `json:"jobs"`
}

// Accepted orderTime layouts. Zone-less values are read in the configured
// timezone.
var orderTimeLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
}

func parseOrderTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range orderTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("orderTime %q is not RFC 3339", s)
}

// toOrder converts the JSON body to a document order. Rupee amounts become
// paise here and nowhere else.
func (r *PrintJobRequest) toOrder(loc *time.Location) (*document.Order, error) {
	at, err := parseOrderTime(r.OrderTime, loc)
	if err != nil {
		return nil, err
	}

	discount, err := document.FromRupees(r.Discount)
	if err != nil {
		return nil, fmt.Errorf("discount: %w", err)
	}
	// totalAmount only feeds the mismatch warning; out-of-range values are
	// ignored.
	total, err := document.FromRupees(r.TotalAmount)
	if err != nil {
		total = 0
	}

	o := &document.Order{
		Number:        r.OrderNumber,
		Time:          at,
		CustomerName:  r.CustomerName,
		CustomerPhone: r.CustomerPhone,
		Discount:      discount,
		PaymentMethod: r.PaymentMethod,
		TotalAmount:   total,
		Items:         make([]document.Item, 0, len(r.Items)),
	}
	if r.Delivery != nil {
		o.Delivery = &document.Delivery{
			Block:        r.Delivery.Block,
			Address:      r.Delivery.Address,
			Instructions: r.Delivery.Instructions,
		}
	}
	for i, it := range r.Items {
		unit, err := document.FromRupees(it.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("items[%d].unitPrice: %w", i, err)
		}
		line, err := document.FromRupees(it.TotalPrice)
		if err != nil {
			return nil, fmt.Errorf("items[%d].totalPrice: %w", i, err)
		}
		o.Items = append(o.Items, document.Item{
			Name:       it.Name,
			Quantity:   it.Quantity,
			UnitPrice:  unit,
			TotalPrice: line,
			Note:       it.Note,
		})
	}
	return o, nil
}

func toQueueResponse(s core.QueueSnapshot) QueueResponse {
	jobs := make([]QueueJob, 0, len(s.Jobs))
	for _, j := range s.Jobs {
		jobs = append(jobs, QueueJob{
			ID:          j.ID,
			Kind:        string(j.Kind),
			OrderNumber: j.OrderNumber,
			Status:      string(j.Status),
			Attempts:    j.Attempts,
			Error:       j.LastError,
			Transport:   j.Transport,
			CreatedAt:   j.CreatedAt,
			CompletedAt: j.CompletedAt,
		})
	}
	return QueueResponse{
		PrinterID:    s.PrinterID,
		QueueLength:  s.Pending,
		IsProcessing: s.Processing,
		Jobs:         jobs,
	}
}

package orders

import "time"

type Kind string

const (
	KindPurchase Kind = "purchase"
	KindDeposit  Kind = "deposit"
)

type PaymentMethod string

const (
	MethodQRIS    PaymentMethod = "qris"
	MethodBalance PaymentMethod = "balance"
)

type Order struct {
	ID            string
	InvoiceID     string
	UserID        int64
	Kind          Kind
	Items         []Item
	SubtotalCents int64
	FeeCents      int64
	TotalCents    int64
	RefundedCents int64
	Method        PaymentMethod
	Status        Status
	CreatedAt     time.Time
	DeadlineAt    time.Time
	UpdatedAt     time.Time
}

// Item is one allocated asset inside an order.
type Item struct {
	ProductID  int64
	StockID    string
	PriceCents int64
}

// ItemInput is what the chat layer sends: product + quantity. Allocation to
// concrete assets happens at reservation time.
type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Qty       int   `json:"qty"`
}

type Product struct {
	ID                 int64
	Name               string
	Category           string
	CustomerPriceCents int64
	ResellerPriceCents int64 // 0 when no reseller price is set
	SoldCount          int64
	Active             bool
}

// PriceFor returns the unit price the role pays.
func (p Product) PriceFor(reseller bool) int64 {
	if reseller && p.ResellerPriceCents > 0 {
		return p.ResellerPriceCents
	}
	return p.CustomerPriceCents
}

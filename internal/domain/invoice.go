package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type InvoiceItem struct {
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
}

// Invoice is the settlement snapshot of a paid session. It never changes once written.
type Invoice struct {
	ID                  string          `json:"id"`
	SessionID           string          `json:"session_id"`
	RetailerID          string          `json:"retailer_id"`
	Items               []InvoiceItem   `json:"items"`
	SubtotalAmount      decimal.Decimal `json:"subtotal_amount"`
	TaxAmount           decimal.Decimal `json:"tax_amount"`
	ServiceChargeAmount decimal.Decimal `json:"service_charge_amount"`
	TotalAmount         decimal.Decimal `json:"total_amount"`
	PaymentMode         string          `json:"payment_mode"`
	Notes               string          `json:"notes,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// SnapshotItems copies the cart lines so later cart edits cannot reach the invoice.
func SnapshotItems(items []SessionItem) []InvoiceItem {
	out := make([]InvoiceItem, len(items))
	for i, item := range items {
		out[i] = InvoiceItem{
			SKU:           item.SKU,
			Name:          item.Name,
			Quantity:      item.Quantity,
			Price:         item.Price,
			TaxPercentage: item.TaxPercentage,
		}
	}
	return out
}

const EventTypeSessionPaid = "session.paid"

// SessionPaidEvent is the outbox payload published once a session is invoiced.
type SessionPaidEvent struct {
	SessionID  string    `json:"session_id"`
	RetailerID string    `json:"retailer_id"`
	StoreType  StoreType `json:"store_type"`
	Invoice    *Invoice  `json:"invoice"`
	PaidAt     time.Time `json:"paid_at"`
}

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is one consumer's checkout, from the first scan to the gate check.
type Session struct {
	ID                   string            `json:"id"`
	RetailerID           string            `json:"retailer_id"`
	Status               SessionStatus     `json:"status"`
	StoreType            StoreType         `json:"store_type"`
	CustomerPhone        string            `json:"customer_phone,omitempty"`
	TableNumber          string            `json:"table_number,omitempty"`
	GuestCount           *int              `json:"guest_count,omitempty"`
	PreferredPaymentMode string            `json:"preferred_payment_mode,omitempty"`
	PaymentMode          string            `json:"payment_mode,omitempty"`
	Context              map[string]string `json:"context,omitempty"`
	ServiceChargePct     decimal.Decimal   `json:"service_charge_pct"`
	SecurityCode         string            `json:"security_code"`
	TotalAmount          decimal.Decimal   `json:"total_amount"`
	Notes                string            `json:"notes,omitempty"`
	SecurityVerifiedAt   *time.Time        `json:"security_verified_at,omitempty"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Items                []SessionItem     `json:"items"`
}

type SessionItem struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int             `json:"quantity"`
	TaxPercentage decimal.Decimal `json:"tax_percentage"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ItemBySKU returns the index of the item with the given SKU, or -1.
func (s *Session) ItemBySKU(sku string) int {
	for i := range s.Items {
		if s.Items[i].SKU == sku {
			return i
		}
	}
	return -1
}

// ItemByID returns the index of the item with the given id, or -1.
func (s *Session) ItemByID(id string) int {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// LineItems adapts the cart for the totals calculator.
func (s *Session) LineItems() []LineItem {
	lines := make([]LineItem, len(s.Items))
	for i, item := range s.Items {
		lines[i] = LineItem{
			Price:         item.Price,
			Quantity:      item.Quantity,
			TaxPercentage: item.TaxPercentage,
		}
	}
	return lines
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (s *Session) Clone() *Session {
	c := *s
	if s.Items != nil {
		c.Items = make([]SessionItem, len(s.Items))
		copy(c.Items, s.Items)
	}
	if s.Context != nil {
		c.Context = make(map[string]string, len(s.Context))
		for k, v := range s.Context {
			c.Context[k] = v
		}
	}
	if s.GuestCount != nil {
		g := *s.GuestCount
		c.GuestCount = &g
	}
	if s.SecurityVerifiedAt != nil {
		t := *s.SecurityVerifiedAt
		c.SecurityVerifiedAt = &t
	}
	return &c
}

// Retailer is the directory's view of a tenant.
type Retailer struct {
	ID           string `json:"id"`
	Code         string `json:"code"`
	ContactEmail string `json:"contact_email"`
	ShopName     string `json:"shop_name"`
	Active       bool   `json:"active"`
}

// CatalogItem is the catalog's authoritative price and name for a SKU.
type CatalogItem struct {
	RetailerID string          `json:"retailer_id"`
	SKU        string          `json:"sku"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
}

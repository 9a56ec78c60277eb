package ledger

import (
	"fmt"
	"time"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Receipt is the read-side copy of an invoice, written once per paid session.
type Receipt struct {
	ID                  string               `bson:"_id"`
	SessionID           string               `bson:"session_id"`
	RetailerID          string               `bson:"retailer_id"`
	StoreType           string               `bson:"store_type"`
	Lines               []ReceiptLine        `bson:"lines"`
	SubtotalAmount      primitive.Decimal128 `bson:"subtotal_amount"`
	TaxAmount           primitive.Decimal128 `bson:"tax_amount"`
	ServiceChargeAmount primitive.Decimal128 `bson:"service_charge_amount"`
	TotalAmount         primitive.Decimal128 `bson:"total_amount"`
	PaymentMode         string               `bson:"payment_mode"`
	Notes               string               `bson:"notes,omitempty"`
	PaidAt              time.Time            `bson:"paid_at"`
	ProjectedAt         time.Time            `bson:"projected_at"`
}

type ReceiptLine struct {
	SKU           string               `bson:"sku"`
	Name          string               `bson:"name"`
	Quantity      int                  `bson:"quantity"`
	Price         primitive.Decimal128 `bson:"price"`
	TaxPercentage primitive.Decimal128 `bson:"tax_percentage"`
}

// ReceiptFromEvent builds the receipt for a session.paid event.
func ReceiptFromEvent(ev *d.SessionPaidEvent, now time.Time) (*Receipt, error) {
	if ev == nil || ev.Invoice == nil {
		return nil, fmt.Errorf("session paid event without invoice")
	}
	inv := ev.Invoice

	// amounts keep two places so the stored value reads the way it was invoiced
	amounts := make([]primitive.Decimal128, 4)
	for i, v := range []decimal.Decimal{inv.SubtotalAmount, inv.TaxAmount, inv.ServiceChargeAmount, inv.TotalAmount} {
		dec, err := toDecimal128(v.StringFixed(2))
		if err != nil {
			return nil, err
		}
		amounts[i] = dec
	}

	lines := make([]ReceiptLine, len(inv.Items))
	for i, item := range inv.Items {
		price, err := toDecimal128(item.Price.String())
		if err != nil {
			return nil, err
		}
		tax, err := toDecimal128(item.TaxPercentage.String())
		if err != nil {
			return nil, err
		}
		lines[i] = ReceiptLine{
			SKU:           item.SKU,
			Name:          item.Name,
			Quantity:      item.Quantity,
			Price:         price,
			TaxPercentage: tax,
		}
	}

	return &Receipt{
		ID:                  inv.ID,
		SessionID:           ev.SessionID,
		RetailerID:          ev.RetailerID,
		StoreType:           string(ev.StoreType),
		Lines:               lines,
		SubtotalAmount:      amounts[0],
		TaxAmount:           amounts[1],
		ServiceChargeAmount: amounts[2],
		TotalAmount:         amounts[3],
		PaymentMode:         inv.PaymentMode,
		Notes:               inv.Notes,
		PaidAt:              ev.PaidAt.UTC(),
		ProjectedAt:         now.UTC(),
	}, nil
}

func toDecimal128(v string) (primitive.Decimal128, error) {
	dec, err := primitive.ParseDecimal128(v)
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", v, err)
	}
	return dec, nil
}

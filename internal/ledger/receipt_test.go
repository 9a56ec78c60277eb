package ledger

import (
	"testing"
	"time"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPaidEvent(sessionID string) *d.SessionPaidEvent {
	paidAt := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	return &d.SessionPaidEvent{
		SessionID:  sessionID,
		RetailerID: "ret-lakshmi",
		StoreType:  d.StoreTypeRestaurant,
		PaidAt:     paidAt,
		Invoice: &d.Invoice{
			ID:         "inv-" + sessionID,
			SessionID:  sessionID,
			RetailerID: "ret-lakshmi",
			Items: []d.InvoiceItem{
				{SKU: "SKU-001", Name: "Masala Dosa", Quantity: 2, Price: decimal.NewFromInt(12), TaxPercentage: decimal.NewFromInt(5)},
			},
			SubtotalAmount:      decimal.RequireFromString("24.00"),
			TaxAmount:           decimal.RequireFromString("1.20"),
			ServiceChargeAmount: decimal.Zero,
			TotalAmount:         decimal.RequireFromString("25.20"),
			PaymentMode:         "UPI",
			CreatedAt:           paidAt,
		},
	}
}

func TestReceiptFromEvent(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 31, 0, 0, time.UTC)

	receipt, err := ReceiptFromEvent(testPaidEvent("sess-1"), now)
	require.NoError(t, err)

	assert.Equal(t, "inv-sess-1", receipt.ID)
	assert.Equal(t, "sess-1", receipt.SessionID)
	assert.Equal(t, "RESTAURANT", receipt.StoreType)
	assert.Equal(t, "25.20", receipt.TotalAmount.String())
	assert.Equal(t, "1.20", receipt.TaxAmount.String())
	require.Len(t, receipt.Lines, 1)
	assert.Equal(t, "12", receipt.Lines[0].Price.String())
	assert.Equal(t, now, receipt.ProjectedAt)
}

func TestReceiptFromEvent_NoInvoice(t *testing.T) {
	_, err := ReceiptFromEvent(&d.SessionPaidEvent{SessionID: "sess-1"}, time.Now())
	assert.Error(t, err)
}

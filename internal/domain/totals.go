package domain

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// MaxServiceChargePct is the highest service charge a session may carry.
var MaxServiceChargePct = decimal.NewFromInt(25)

type LineItem struct {
	Price         decimal.Decimal
	Quantity      int
	TaxPercentage decimal.Decimal
}

type Totals struct {
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	ServiceCharge decimal.Decimal `json:"service_charge"`
	Total         decimal.Decimal `json:"total"`
}

// ComputeTotals is pure: the same lines and percentage always give the same totals.
func ComputeTotals(items []LineItem, serviceChargePct decimal.Decimal) Totals {
	subtotal := decimal.Zero
	tax := decimal.Zero
	for _, item := range items {
		line := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
		tax = tax.Add(line.Mul(item.TaxPercentage).Div(hundred))
	}
	serviceCharge := subtotal.Mul(serviceChargePct).Div(hundred)
	return Totals{
		Subtotal:      subtotal,
		Tax:           tax,
		ServiceCharge: serviceCharge,
		Total:         subtotal.Add(tax).Add(serviceCharge),
	}
}

// Rounded returns the totals at display precision. Total is rounded once from the exact sum,
// so it can differ by a cent from the sum of the rounded parts.
func (t Totals) Rounded() Totals {
	return Totals{
		Subtotal:      t.Subtotal.Round(2),
		Tax:           t.Tax.Round(2),
		ServiceCharge: t.ServiceCharge.Round(2),
		Total:         t.Total.Round(2),
	}
}

// WithoutServiceCharge drops the service charge from the total.
func (t Totals) WithoutServiceCharge() Totals {
	return Totals{
		Subtotal:      t.Subtotal,
		Tax:           t.Tax,
		ServiceCharge: decimal.Zero,
		Total:         t.Subtotal.Add(t.Tax),
	}
}

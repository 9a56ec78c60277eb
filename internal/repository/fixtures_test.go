package repository

import (
	"time"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newTestSession(retailerID string) *d.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &d.Session{
		ID:               uuid.NewString(),
		RetailerID:       retailerID,
		Status:           d.SessionStatusInProgress,
		StoreType:        d.StoreTypeKirana,
		ServiceChargePct: decimal.Zero,
		SecurityCode:     "AB12CD",
		TotalAmount:      decimal.Zero,
		CreatedAt:        now,
		UpdatedAt:        now,
		Items:            []d.SessionItem{},
	}
}

func newTestItem(sessionID, sku, price string, qty int) d.SessionItem {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return d.SessionItem{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		SKU:           sku,
		Name:          "Item " + sku,
		Price:         decimal.RequireFromString(price),
		Quantity:      qty,
		TaxPercentage: decimal.NewFromInt(5),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func testSeed() *SeedData {
	return &SeedData{
		Retailers: []d.Retailer{
			{ID: "ret-1", Code: "FRESH", ContactEmail: "owner@fresh.example", ShopName: "Fresh Mart", Active: true},
			{ID: "ret-2", Code: "GONE", ContactEmail: "old@gone.example", ShopName: "Gone Store", Active: false},
		},
		Catalog: []d.CatalogItem{
			{RetailerID: "ret-1", SKU: "MILK-1L", Name: "Milk 1L", Price: decimal.RequireFromString("1.20")},
		},
	}
}

package repository

import (
	"encoding/json"
	"fmt"
	"os"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
)

// SeedData is the retailer directory and catalog a store is primed with.
type SeedData struct {
	Retailers []d.Retailer    `json:"retailers"`
	Catalog   []d.CatalogItem `json:"catalog"`
}

func LoadSeedFile(path string) (*SeedData, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var data SeedData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	for i, ret := range data.Retailers {
		if ret.ID == "" || ret.ShopName == "" {
			return nil, fmt.Errorf("seed retailer #%d: id and shop_name are required", i)
		}
	}
	for i, item := range data.Catalog {
		if item.RetailerID == "" || item.SKU == "" {
			return nil, fmt.Errorf("seed catalog item #%d: retailer_id and sku are required", i)
		}
	}
	return &data, nil
}

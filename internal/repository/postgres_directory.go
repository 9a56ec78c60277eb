package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
)

// FindRetailer resolves a reference that may be the retailer id, its code, its contact
// email or its shop name (case-insensitive). Inactive retailers are treated as missing.
func (r *PostgresRepository) FindRetailer(ctx context.Context, ref string) (*d.Retailer, error) {
	query := `SELECT id, COALESCE(code, ''), COALESCE(contact_email, ''), shop_name, active
	          FROM retailers
	          WHERE active AND (id = $1 OR code = $1 OR LOWER(contact_email) = LOWER($1) OR LOWER(shop_name) = LOWER($1))
	          ORDER BY (id = $1) DESC, (code = $1) DESC
	          LIMIT 1`

	var ret d.Retailer
	err := r.db.QueryRowContext(ctx, query, ref).Scan(&ret.ID, &ret.Code, &ret.ContactEmail, &ret.ShopName, &ret.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRetailerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query retailer: %w", err)
	}
	return &ret, nil
}

func (r *PostgresRepository) ResolveCatalogItem(ctx context.Context, retailerID, sku string) (*d.CatalogItem, bool, error) {
	var item d.CatalogItem
	err := r.db.QueryRowContext(ctx,
		`SELECT retailer_id, sku, name, price FROM inventory_items WHERE retailer_id = $1 AND sku = $2`,
		retailerID, sku).Scan(&item.RetailerID, &item.SKU, &item.Name, &item.Price)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query inventory item: %w", err)
	}
	return &item, true, nil
}

// Seed upserts directory and catalog rows. It backs the seed subcommand and tests.
func (r *PostgresRepository) Seed(ctx context.Context, data *SeedData) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, ret := range data.Retailers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO retailers (id, code, contact_email, shop_name, active)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET code = EXCLUDED.code, contact_email = EXCLUDED.contact_email,
			     shop_name = EXCLUDED.shop_name, active = EXCLUDED.active`,
			ret.ID, nullString(ret.Code), nullString(ret.ContactEmail), ret.ShopName, ret.Active)
		if err != nil {
			return fmt.Errorf("upsert retailer %s: %w", ret.ID, err)
		}
	}

	for _, item := range data.Catalog {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO inventory_items (retailer_id, sku, name, price)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (retailer_id, sku) DO UPDATE SET name = EXCLUDED.name, price = EXCLUDED.price, updated_at = NOW()`,
			item.RetailerID, item.SKU, item.Name, item.Price.Round(2))
		if err != nil {
			return fmt.Errorf("upsert inventory item %s/%s: %w", item.RetailerID, item.SKU, err)
		}
	}

	return tx.Commit()
}

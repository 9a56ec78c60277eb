package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

type PostgresRepository struct {
	db  *sql.DB
	log *zap.Logger
}

func NewRepository(cred *Credentials, log *zap.Logger) (*PostgresRepository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	log.Info("connected to postgres", zap.String("host", cred.Host), zap.String("db", cred.DBName))
	return &PostgresRepository{db: db, log: log}, nil
}

func (r *PostgresRepository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "selfcheckout_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *PostgresRepository) Close() error {
	return r.db.Close()
}

// queryer lets the read helpers run both inside and outside a transaction.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const sessionColumns = `id, retailer_id, status, store_type, customer_phone, table_number, guest_count,
	preferred_payment_mode, payment_mode, context, service_charge_pct, security_code, total_amount,
	notes, security_verified_at, created_at, updated_at`

func (r *PostgresRepository) CreateSession(ctx context.Context, session *d.Session) error {
	contextJSON, err := json.Marshal(contextOrEmpty(session.Context))
	if err != nil {
		return fmt.Errorf("failed to marshal session context: %w", err)
	}

	query := `INSERT INTO sessions (` + sessionColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`

	_, insertErr := r.db.ExecContext(ctx, query,
		session.ID,
		session.RetailerID,
		session.Status,
		session.StoreType,
		nullString(session.CustomerPhone),
		nullString(session.TableNumber),
		nullInt(session.GuestCount),
		nullString(session.PreferredPaymentMode),
		nullString(session.PaymentMode),
		contextJSON,
		session.ServiceChargePct.Round(2),
		session.SecurityCode,
		session.TotalAmount.Round(2),
		nullString(session.Notes),
		session.SecurityVerifiedAt,
		session.CreatedAt,
		session.UpdatedAt)
	if insertErr != nil {
		if isUniqueViolation(insertErr) {
			return ErrSessionExists
		}
		return fmt.Errorf("insert session: %w", insertErr)
	}
	return nil
}

func (r *PostgresRepository) GetSession(ctx context.Context, sessionID string) (*d.Session, error) {
	return loadSession(ctx, r.db, sessionID, false)
}

func (r *PostgresRepository) ListSessions(ctx context.Context, filter ListFilter) ([]*d.Session, error) {
	var (
		where []string
		args  []any
	)
	add := func(column string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if filter.Status != "" {
		add("status", filter.Status)
	}
	if filter.RetailerID != "" {
		add("retailer_id", filter.RetailerID)
	}
	if filter.StoreType != "" {
		add("store_type", filter.StoreType)
	}
	if filter.TableNumber != "" {
		add("table_number", filter.TableNumber)
	}

	query := `SELECT ` + sessionColumns + ` FROM sessions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*d.Session
	for rows.Next() {
		s, scanErr := scanSession(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	for _, s := range sessions {
		items, itemsErr := loadItems(ctx, r.db, s.ID)
		if itemsErr != nil {
			return nil, itemsErr
		}
		s.Items = items
	}
	return sessions, nil
}

func (r *PostgresRepository) GetInvoice(ctx context.Context, sessionID string) (*d.Invoice, error) {
	return loadInvoice(ctx, r.db, sessionID)
}

// WithSessionTransaction locks the session row with SELECT ... FOR UPDATE, so concurrent
// mutations of one session queue behind each other while other sessions proceed.
func (r *PostgresRepository) WithSessionTransaction(ctx context.Context, sessionID string, fn TxFunc) (*d.Session, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	session, err := loadSession(ctx, tx, sessionID, true)
	if err != nil {
		return nil, err
	}
	invoice, err := loadInvoice(ctx, tx, sessionID)
	if err != nil && !errors.Is(err, ErrInvoiceNotFound) {
		return nil, err
	}

	snap := &Snapshot{Session: session, Invoice: invoice}
	change, err := fn(snap)
	if err != nil {
		return nil, err
	}
	if change == nil {
		return snap.Session, nil
	}

	if err := r.applyChange(ctx, tx, change); err != nil {
		return nil, err
	}

	out, err := resultSession(snap, change)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}
	return out, nil
}

func (r *PostgresRepository) applyChange(ctx context.Context, tx *sql.Tx, change *Change) error {
	for _, id := range change.DeletedItemIDs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM session_items WHERE id = $1`, id); err != nil {
			return fmt.Errorf("delete session item: %w", err)
		}
	}

	for _, item := range change.InsertedItems {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_items (id, session_id, sku, name, price, quantity, tax_percentage, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			item.ID, item.SessionID, item.SKU, item.Name, item.Price.Round(2), item.Quantity,
			item.TaxPercentage.Round(2), item.CreatedAt, item.UpdatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrDuplicateSKU
			}
			return fmt.Errorf("insert session item: %w", err)
		}
	}

	for _, item := range change.UpdatedItems {
		_, err := tx.ExecContext(ctx,
			`UPDATE session_items SET name = $2, price = $3, quantity = $4, tax_percentage = $5, updated_at = $6
			 WHERE id = $1`,
			item.ID, item.Name, item.Price.Round(2), item.Quantity, item.TaxPercentage.Round(2), item.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update session item: %w", err)
		}
	}

	if s := change.Session; s != nil {
		contextJSON, err := json.Marshal(contextOrEmpty(s.Context))
		if err != nil {
			return fmt.Errorf("failed to marshal session context: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE sessions SET status = $2, customer_phone = $3, table_number = $4, guest_count = $5,
			        preferred_payment_mode = $6, payment_mode = $7, context = $8, service_charge_pct = $9,
			        total_amount = $10, notes = $11, security_verified_at = $12, updated_at = $13
			 WHERE id = $1`,
			s.ID, s.Status, nullString(s.CustomerPhone), nullString(s.TableNumber), nullInt(s.GuestCount),
			nullString(s.PreferredPaymentMode), nullString(s.PaymentMode), contextJSON,
			s.ServiceChargePct.Round(2), s.TotalAmount.Round(2), nullString(s.Notes),
			s.SecurityVerifiedAt, s.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
	}

	if inv := change.Invoice; inv != nil {
		itemsJSON, err := json.Marshal(inv.Items)
		if err != nil {
			return fmt.Errorf("failed to marshal invoice items: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO invoices (id, session_id, retailer_id, items, subtotal_amount, tax_amount,
			                       service_charge_amount, total_amount, payment_mode, notes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			inv.ID, inv.SessionID, inv.RetailerID, itemsJSON, inv.SubtotalAmount, inv.TaxAmount,
			inv.ServiceChargeAmount, inv.TotalAmount, inv.PaymentMode, nullString(inv.Notes), inv.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrInvoiceExists
			}
			return fmt.Errorf("insert invoice: %w", err)
		}
	}

	if ev := change.Event; ev != nil {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
			 VALUES ($1, $2, $3, $4, $5)`,
			ev.ID, ev.AggregateId, ev.EventType, ev.Payload, ev.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert outbox event: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) GetUnprocessedEvents(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, aggregate_id, event_type, payload, created_at
		 FROM outbox_events WHERE processed_at IS NULL ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var ev OutboxEvent
		if err := rows.Scan(&ev.ID, &ev.AggregateId, &ev.EventType, &ev.Payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func (r *PostgresRepository) MarkEventAsProcessed(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event processed: %w", err)
	}
	return nil
}

func loadSession(ctx context.Context, q queryer, sessionID string, forUpdate bool) (*d.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}
	s, err := scanSession(q.QueryRowContext(ctx, query, sessionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		// a malformed uuid can never match a row
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	items, err := loadItems(ctx, q, sessionID)
	if err != nil {
		return nil, err
	}
	s.Items = items
	return s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*d.Session, error) {
	var (
		s                                               d.Session
		phone, table, preferredMode, paymentMode, notes sql.NullString
		guests                                          sql.NullInt64
		contextJSON                                     []byte
		verifiedAt                                      sql.NullTime
	)
	err := row.Scan(
		&s.ID,
		&s.RetailerID,
		&s.Status,
		&s.StoreType,
		&phone,
		&table,
		&guests,
		&preferredMode,
		&paymentMode,
		&contextJSON,
		&s.ServiceChargePct,
		&s.SecurityCode,
		&s.TotalAmount,
		&notes,
		&verifiedAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	s.CustomerPhone = phone.String
	s.TableNumber = table.String
	s.PreferredPaymentMode = preferredMode.String
	s.PaymentMode = paymentMode.String
	s.Notes = notes.String
	if guests.Valid {
		g := int(guests.Int64)
		s.GuestCount = &g
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		s.SecurityVerifiedAt = &t
	}
	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &s.Context); err != nil {
			return nil, fmt.Errorf("unmarshal session context: %w", err)
		}
	}
	if len(s.Context) == 0 {
		s.Context = nil
	}
	return &s, nil
}

func loadItems(ctx context.Context, q queryer, sessionID string) ([]d.SessionItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, session_id, sku, name, price, quantity, tax_percentage, created_at, updated_at
		 FROM session_items WHERE session_id = $1 ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query session items: %w", err)
	}
	defer rows.Close()

	items := []d.SessionItem{}
	for rows.Next() {
		var item d.SessionItem
		if err := rows.Scan(&item.ID, &item.SessionID, &item.SKU, &item.Name, &item.Price,
			&item.Quantity, &item.TaxPercentage, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func loadInvoice(ctx context.Context, q queryer, sessionID string) (*d.Invoice, error) {
	var (
		inv       d.Invoice
		itemsJSON []byte
		notes     sql.NullString
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, session_id, retailer_id, items, subtotal_amount, tax_amount, service_charge_amount,
		        total_amount, payment_mode, notes, created_at
		 FROM invoices WHERE session_id = $1`, sessionID).Scan(
		&inv.ID, &inv.SessionID, &inv.RetailerID, &itemsJSON, &inv.SubtotalAmount, &inv.TaxAmount,
		&inv.ServiceChargeAmount, &inv.TotalAmount, &inv.PaymentMode, &notes, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvoiceNotFound
	}
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22P02" {
			return nil, ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("query invoice: %w", err)
	}
	inv.Notes = notes.String
	if err := json.Unmarshal(itemsJSON, &inv.Items); err != nil {
		return nil, fmt.Errorf("unmarshal invoice items: %w", err)
	}
	return &inv, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func contextOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

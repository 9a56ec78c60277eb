package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fjod/go_cart/selfcheckout/internal/cache"
	"github.com/fjod/go_cart/selfcheckout/internal/catalog"
	d "github.com/fjod/go_cart/selfcheckout/internal/domain"
	"github.com/fjod/go_cart/selfcheckout/internal/logger"
	"github.com/fjod/go_cart/selfcheckout/internal/metrics"
	r "github.com/fjod/go_cart/selfcheckout/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultListLimit = 100
	maxListLimit     = 500

	// maxItemQuantity caps one line's quantity, merges included.
	maxItemQuantity = 10000

	// moneyScale is the number of decimal places prices and tax rates are stored with.
	moneyScale = 2

	sharedReadTimeout = 3 * time.Second
	cacheWriteTimeout = time.Second
)

var (
	maxTaxPercentage = decimal.NewFromInt(100)
	// maxUnitPrice keeps price times maxItemQuantity inside the stored amount columns.
	maxUnitPrice = decimal.NewFromInt(10_000_000)
)

// RetailerDirectory resolves the retailer a session is opened for.
type RetailerDirectory interface {
	FindRetailer(ctx context.Context, ref string) (*d.Retailer, error)
}

type Options struct {
	// IncludeServiceCharge adds the service charge to the invoice total. Off by default,
	// in which case an invoice settles subtotal + tax only.
	IncludeServiceCharge bool
	Now                  func() time.Time
}

type SessionService struct {
	store     r.SessionStore
	directory RetailerDirectory
	catalog   catalog.Resolver
	cache     cache.SessionCache
	metrics   *metrics.Registry
	log       *zap.Logger
	opts      Options
	sfg       singleflight.Group
}

func NewSessionService(
	store r.SessionStore,
	directory RetailerDirectory,
	lookup catalog.Resolver,
	sessionCache cache.SessionCache,
	reg *metrics.Registry,
	log *zap.Logger,
	opts Options,
) *SessionService {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if sessionCache == nil {
		sessionCache = cache.Noop{}
	}
	return &SessionService{
		store:     store,
		directory: directory,
		catalog:   lookup,
		cache:     sessionCache,
		metrics:   reg,
		log:       log,
		opts:      opts,
	}
}

type StartSessionInput struct {
	RetailerCode         string
	CustomerPhone        string
	StoreType            d.StoreType
	TableNumber          string
	GuestCount           *int
	ServiceChargePct     decimal.Decimal
	PreferredPaymentMode string
	Context              map[string]string
}

type AddItemInput struct {
	SKU           string
	Name          string
	Quantity      int
	Price         decimal.Decimal
	TaxPercentage decimal.Decimal
}

type MarkPaidInput struct {
	PaymentMode string
	Notes       string
	// RetailerID scopes the call to one retailer; empty means unscoped.
	RetailerID string
}

type VerifyInput struct {
	GuardID string
	// SecurityCode is the code read from the gate QR payload; empty skips the check.
	SecurityCode string
}

type UpdateTableInput struct {
	TableNumber string
	GuestCount  *int
}

type ListFilter struct {
	Status      d.SessionStatus
	RetailerID  string
	StoreType   d.StoreType
	TableNumber string
	Limit       int
}

type PaymentResult struct {
	Session *d.Session `json:"session"`
	Invoice *d.Invoice `json:"invoice"`
}

func (s *SessionService) now() time.Time {
	return s.opts.Now().UTC().Truncate(time.Microsecond)
}

// track starts timing op; the returned func records latency and, on failure, the error kind.
func (s *SessionService) track(op string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		s.metrics.OperationSec.WithLabelValues(op).Observe(time.Since(start).Seconds())
		if *errp != nil {
			s.metrics.OperationErrors.WithLabelValues(op, KindOf(*errp).String()).Inc()
		}
	}
}

func (s *SessionService) StartSession(ctx context.Context, in StartSessionInput) (_ *d.Session, err error) {
	defer s.track("StartSession")(&err)
	log := logger.WithTrace(ctx, s.log)

	v := &validation{}
	v.check(strings.TrimSpace(in.RetailerCode) != "", "retailer_code")
	v.check(in.StoreType.IsValid(), "store_type")
	v.check(!in.ServiceChargePct.IsNegative() && in.ServiceChargePct.LessThanOrEqual(d.MaxServiceChargePct) && fitsScale(in.ServiceChargePct), "service_charge_pct")
	v.check(in.GuestCount == nil || *in.GuestCount >= 0, "guest_count")
	for _, key := range in.StoreType.RequiredContextKeys() {
		v.check(strings.TrimSpace(in.Context[key]) != "", "context."+key)
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	retailer, err := s.directory.FindRetailer(ctx, strings.TrimSpace(in.RetailerCode))
	if errors.Is(err, r.ErrRetailerNotFound) {
		return nil, notFound("retailer %q not found", in.RetailerCode)
	}
	if err != nil {
		return nil, fmt.Errorf("find retailer: %w", err)
	}

	code, err := newSecurityCode()
	if err != nil {
		return nil, err
	}

	now := s.now()
	session := &d.Session{
		ID:                   uuid.NewString(),
		RetailerID:           retailer.ID,
		Status:               d.SessionStatusInProgress,
		StoreType:            in.StoreType,
		CustomerPhone:        strings.TrimSpace(in.CustomerPhone),
		TableNumber:          strings.TrimSpace(in.TableNumber),
		GuestCount:           in.GuestCount,
		PreferredPaymentMode: in.PreferredPaymentMode,
		Context:              in.Context,
		ServiceChargePct:     in.ServiceChargePct,
		SecurityCode:         code,
		TotalAmount:          decimal.Zero,
		CreatedAt:            now,
		UpdatedAt:            now,
		Items:                []d.SessionItem{},
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.metrics.SessionsStarted.Inc()
	log.Info("session started",
		zap.String("session_id", session.ID),
		zap.String("retailer_id", session.RetailerID),
		zap.String("store_type", string(session.StoreType)))
	return session, nil
}

func (s *SessionService) AddItem(ctx context.Context, sessionID string, in AddItemInput) (_ *d.Session, err error) {
	defer s.track("AddItem")(&err)

	in.SKU = strings.TrimSpace(in.SKU)
	v := &validation{}
	v.check(in.SKU != "", "sku")
	v.check(in.Quantity > 0 && in.Quantity <= maxItemQuantity, "quantity")
	v.check(!in.Price.IsNegative() && in.Price.LessThanOrEqual(maxUnitPrice) && fitsScale(in.Price), "price")
	v.check(!in.TaxPercentage.IsNegative() && in.TaxPercentage.LessThanOrEqual(maxTaxPercentage) && fitsScale(in.TaxPercentage), "tax_percentage")
	if err := v.err(); err != nil {
		return nil, err
	}

	// the owning retailer never changes, so the catalog can be asked before taking the session lock
	current, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	price, name := in.Price, strings.TrimSpace(in.Name)
	item, found, err := s.catalog.ResolveCatalogItem(ctx, current.RetailerID, in.SKU)
	if err != nil {
		return nil, fmt.Errorf("resolve catalog item: %w", err)
	}
	if found {
		price, name = item.Price, item.Name
	}
	if name == "" {
		return nil, &Error{Kind: KindValidation, Message: "unknown sku requires a name", Fields: []string{"name"}}
	}

	op := "insert"
	session, err := s.mutate(ctx, sessionID, func(snap *r.Snapshot) (*r.Change, error) {
		if !snap.Session.Status.AcceptsItemChanges() {
			return nil, invalidState("cannot add items to a %s session", snap.Session.Status)
		}
		next := snap.Session.Clone()
		now := s.now()
		change := &r.Change{Session: next}

		if idx := next.ItemBySKU(in.SKU); idx >= 0 {
			op = "merge"
			merged := next.Items[idx]
			if merged.Quantity+in.Quantity > maxItemQuantity {
				return nil, &Error{
					Kind:    KindValidation,
					Message: fmt.Sprintf("quantity for %s would exceed %d", in.SKU, maxItemQuantity),
					Fields:  []string{"quantity"},
				}
			}
			merged.Quantity += in.Quantity
			merged.Price = price
			merged.UpdatedAt = now
			next.Items[idx] = merged
			change.UpdatedItems = []d.SessionItem{merged}
		} else {
			added := d.SessionItem{
				ID:            uuid.NewString(),
				SessionID:     next.ID,
				SKU:           in.SKU,
				Name:          name,
				Price:         price,
				Quantity:      in.Quantity,
				TaxPercentage: in.TaxPercentage,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			next.Items = append(next.Items, added)
			change.InsertedItems = []d.SessionItem{added}
		}

		next.TotalAmount = d.ComputeTotals(next.LineItems(), next.ServiceChargePct).Rounded().Total
		next.UpdatedAt = now
		return change, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ItemMutations.WithLabelValues(op).Inc()
	logger.WithTrace(ctx, s.log).Debug("item added",
		zap.String("session_id", sessionID),
		zap.String("sku", in.SKU),
		zap.String("op", op),
		zap.Bool("catalog_hit", found))
	return session, nil
}

func (s *SessionService) RemoveItem(ctx context.Context, sessionID, itemID string) (_ *d.Session, err error) {
	defer s.track("RemoveItem")(&err)

	session, err := s.mutate(ctx, sessionID, func(snap *r.Snapshot) (*r.Change, error) {
		if !snap.Session.Status.AcceptsItemChanges() {
			return nil, invalidState("cannot remove items from a %s session", snap.Session.Status)
		}
		next := snap.Session.Clone()
		idx := next.ItemByID(itemID)
		if idx < 0 {
			return nil, notFound("item %s not found in session %s", itemID, sessionID)
		}
		next.Items = append(next.Items[:idx], next.Items[idx+1:]...)
		next.TotalAmount = d.ComputeTotals(next.LineItems(), next.ServiceChargePct).Rounded().Total
		next.UpdatedAt = s.now()
		return &r.Change{Session: next, DeletedItemIDs: []string{itemID}}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ItemMutations.WithLabelValues("remove").Inc()
	return session, nil
}

func (s *SessionService) SubmitSession(ctx context.Context, sessionID string) (_ *d.Session, err error) {
	defer s.track("SubmitSession")(&err)

	session, err := s.transition(ctx, sessionID, d.SessionStatusSubmitted, nil)
	if err != nil {
		return nil, err
	}
	logger.WithTrace(ctx, s.log).Info("session submitted", zap.String("session_id", sessionID))
	return session, nil
}

// MarkSessionPaid settles a submitted session: it writes the invoice, moves the session to PAID
// and queues a session.paid event, all in one transaction.
func (s *SessionService) MarkSessionPaid(ctx context.Context, sessionID string, in MarkPaidInput) (_ *PaymentResult, err error) {
	defer s.track("MarkSessionPaid")(&err)

	in.PaymentMode = strings.TrimSpace(in.PaymentMode)
	if in.PaymentMode == "" {
		return nil, &Error{Kind: KindValidation, Message: "payment mode is required", Fields: []string{"payment_mode"}}
	}

	var invoice *d.Invoice
	session, err := s.mutate(ctx, sessionID, func(snap *r.Snapshot) (*r.Change, error) {
		cur := snap.Session
		if in.RetailerID != "" && in.RetailerID != cur.RetailerID {
			return nil, forbidden("session %s belongs to another retailer", cur.ID)
		}
		if snap.Invoice != nil {
			return nil, invalidState("session %s is already invoiced", cur.ID)
		}
		if !d.CanTransitionTo(cur.Status, d.SessionStatusPaid) {
			return nil, invalidState("cannot mark a %s session as paid", cur.Status)
		}
		if len(cur.Items) == 0 {
			return nil, invalidState("cannot invoice an empty session")
		}

		totals := d.ComputeTotals(cur.LineItems(), cur.ServiceChargePct)
		if !s.opts.IncludeServiceCharge {
			totals = totals.WithoutServiceCharge()
		}
		totals = totals.Rounded()

		now := s.now()
		invoice = &d.Invoice{
			ID:                  uuid.NewString(),
			SessionID:           cur.ID,
			RetailerID:          cur.RetailerID,
			Items:               d.SnapshotItems(cur.Items),
			SubtotalAmount:      totals.Subtotal,
			TaxAmount:           totals.Tax,
			ServiceChargeAmount: totals.ServiceCharge,
			TotalAmount:         totals.Total,
			PaymentMode:         in.PaymentMode,
			Notes:               in.Notes,
			CreatedAt:           now,
		}

		next := cur.Clone()
		next.Status = d.SessionStatusPaid
		next.TotalAmount = totals.Total
		next.PaymentMode = in.PaymentMode
		if in.Notes != "" {
			next.Notes = in.Notes
		}
		next.UpdatedAt = now

		payload, err := json.Marshal(d.SessionPaidEvent{
			SessionID:  next.ID,
			RetailerID: next.RetailerID,
			StoreType:  next.StoreType,
			Invoice:    invoice,
			PaidAt:     now,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal session paid event: %w", err)
		}

		return &r.Change{
			Session: next,
			Invoice: invoice,
			Event: &r.OutboxEvent{
				ID:          uuid.NewString(),
				AggregateId: next.ID,
				EventType:   d.EventTypeSessionPaid,
				Payload:     payload,
				CreatedAt:   now,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.Transitions.WithLabelValues(string(d.SessionStatusPaid)).Inc()
	s.metrics.InvoicesIssued.Inc()
	logger.WithTrace(ctx, s.log).Info("session paid",
		zap.String("session_id", sessionID),
		zap.String("invoice_id", invoice.ID),
		zap.String("total", invoice.TotalAmount.StringFixed(2)),
		zap.String("payment_mode", invoice.PaymentMode))
	return &PaymentResult{Session: session, Invoice: invoice}, nil
}

func (s *SessionService) VerifySession(ctx context.Context, sessionID string, in VerifyInput) (_ *d.Session, err error) {
	defer s.track("VerifySession")(&err)

	guard := strings.TrimSpace(in.GuardID)
	code := strings.TrimSpace(in.SecurityCode)
	session, err := s.transition(ctx, sessionID, d.SessionStatusApproved, func(cur, next *d.Session) error {
		if code != "" && !strings.EqualFold(code, cur.SecurityCode) {
			return forbidden("security code does not match session %s", cur.ID)
		}
		verifiedAt := next.UpdatedAt
		next.SecurityVerifiedAt = &verifiedAt
		if guard != "" {
			next.Notes = "Verified by " + guard
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.WithTrace(ctx, s.log).Info("session verified",
		zap.String("session_id", sessionID),
		zap.String("guard_id", guard))
	return session, nil
}

func (s *SessionService) UpdateSessionTable(ctx context.Context, sessionID string, in UpdateTableInput) (_ *d.Session, err error) {
	defer s.track("UpdateSessionTable")(&err)

	table := strings.TrimSpace(in.TableNumber)
	v := &validation{}
	v.check(table != "", "table_number")
	v.check(in.GuestCount == nil || *in.GuestCount >= 0, "guest_count")
	if err := v.err(); err != nil {
		return nil, err
	}

	return s.mutate(ctx, sessionID, func(snap *r.Snapshot) (*r.Change, error) {
		if !snap.Session.Status.AcceptsTableChanges() {
			return nil, invalidState("cannot change the table of a %s session", snap.Session.Status)
		}
		next := snap.Session.Clone()
		next.TableNumber = table
		if in.GuestCount != nil {
			g := *in.GuestCount
			next.GuestCount = &g
		}
		next.UpdatedAt = s.now()
		return &r.Change{Session: next}, nil
	})
}

func (s *SessionService) ListSessions(ctx context.Context, f ListFilter) (_ []*d.Session, err error) {
	defer s.track("ListSessions")(&err)

	v := &validation{}
	v.check(f.Status == "" || f.Status.IsValid(), "status")
	v.check(f.StoreType == "" || f.StoreType.IsValid(), "store_type")
	v.check(f.Limit >= 0, "limit")
	if err := v.err(); err != nil {
		return nil, err
	}

	limit := f.Limit
	if limit == 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	sessions, err := s.store.ListSessions(ctx, r.ListFilter{
		Status:      f.Status,
		RetailerID:  f.RetailerID,
		StoreType:   f.StoreType,
		TableNumber: f.TableNumber,
		Limit:       limit,
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if sessions == nil {
		sessions = []*d.Session{}
	}
	return sessions, nil
}

// GetSession reads through the session cache; concurrent misses for one id share a single store read.
// The shared read is detached from ctx so a cancelled caller only stops its own wait.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*d.Session, error) {
	ch := s.sfg.DoChan(sessionID, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedReadTimeout)
		defer cancel()

		session, err := s.cache.Get(ctx, sessionID)
		if err == nil {
			return session, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			logger.WithTrace(ctx, s.log).Warn("cache get error", zap.String("session_id", sessionID), zap.Error(err))
		}

		session, err = s.store.GetSession(ctx, sessionID)
		if errors.Is(err, r.ErrSessionNotFound) {
			return nil, notFound("session %s not found", sessionID)
		}
		if err != nil {
			return nil, fmt.Errorf("get session: %w", err)
		}

		// Set never replaces a newer version, so a fill racing a commit cannot go stale
		if errSet := s.cache.Set(ctx, session); errSet != nil {
			logger.WithTrace(ctx, s.log).Warn("cache set error", zap.String("session_id", sessionID), zap.Error(errSet))
		}
		return session, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		// callers may mutate what they get back; never hand out the shared value
		return res.Val.(*d.Session).Clone(), nil
	}
}

func (s *SessionService) GetInvoice(ctx context.Context, sessionID string) (*d.Invoice, error) {
	invoice, err := s.store.GetInvoice(ctx, sessionID)
	if errors.Is(err, r.ErrInvoiceNotFound) {
		return nil, notFound("no invoice for session %s", sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get invoice: %w", err)
	}
	return invoice, nil
}

// transition moves a session to status `to` if the state machine allows it. edit, when set,
// may adjust the next state or veto the transition.
func (s *SessionService) transition(ctx context.Context, sessionID string, to d.SessionStatus, edit func(cur, next *d.Session) error) (*d.Session, error) {
	session, err := s.mutate(ctx, sessionID, func(snap *r.Snapshot) (*r.Change, error) {
		cur := snap.Session
		if !d.CanTransitionTo(cur.Status, to) {
			return nil, invalidState("cannot move session from %s to %s", cur.Status, to)
		}
		next := cur.Clone()
		next.Status = to
		next.UpdatedAt = s.now()
		if edit != nil {
			if err := edit(cur, next); err != nil {
				return nil, err
			}
		}
		return &r.Change{Session: next}, nil
	})
	if err != nil {
		return nil, err
	}
	s.metrics.Transitions.WithLabelValues(string(to)).Inc()
	return session, nil
}

// mutate runs fn inside the store's session transaction, translates store errors and
// writes the committed session through to the cache.
func (s *SessionService) mutate(ctx context.Context, sessionID string, fn r.TxFunc) (*d.Session, error) {
	session, err := s.store.WithSessionTransaction(ctx, sessionID, func(snap *r.Snapshot) (*r.Change, error) {
		change, err := fn(snap)
		if err != nil || change == nil || change.Session == nil {
			return change, err
		}
		// UpdatedAt versions the cached copy, so every commit must move it forward
		if !change.Session.UpdatedAt.After(snap.Session.UpdatedAt) {
			change.Session.UpdatedAt = snap.Session.UpdatedAt.Add(time.Microsecond)
		}
		return change, nil
	})
	if err != nil {
		return nil, translateStoreError(sessionID, err)
	}
	s.refreshCache(ctx, session)
	return session, nil
}

func translateStoreError(sessionID string, err error) error {
	var engineErr *Error
	switch {
	case errors.As(err, &engineErr):
		return err
	case errors.Is(err, r.ErrSessionNotFound):
		return notFound("session %s not found", sessionID)
	case errors.Is(err, r.ErrInvoiceExists):
		return invalidState("session %s is already invoiced", sessionID)
	case errors.Is(err, r.ErrDuplicateSKU):
		return invalidState("session %s already holds this sku", sessionID)
	default:
		return fmt.Errorf("session transaction: %w", err)
	}
}

func (s *SessionService) refreshCache(ctx context.Context, session *d.Session) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheWriteTimeout)
	defer cancel()
	err := s.cache.Set(ctx, session)
	if err == nil {
		return
	}
	logger.WithTrace(ctx, s.log).Warn("cache write error", zap.String("session_id", session.ID), zap.Error(err))
	if err := s.cache.Delete(ctx, session.ID); err != nil {
		logger.WithTrace(ctx, s.log).Warn("cache invalidate error", zap.String("session_id", session.ID), zap.Error(err))
	}
}

// fitsScale reports whether v has no more than moneyScale decimal places.
func fitsScale(v decimal.Decimal) bool {
	return v.Equal(v.Truncate(moneyScale))
}

// Package postgres stores orders and shops in PostgreSQL through a pgx pool. Conditional
// transitions are single UPDATE statements guarded on the current status.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	domain "github.com/tanmay-mevada/Print-Stack-sub000/internal/domain"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/platform/pagination"
	"github.com/tanmay-mevada/Print-Stack-sub000/internal/repositories"
)

var (
	_ repositories.OrderRepository = (*Store)(nil)
	_ repositories.ShopRepository  = (*Store)(nil)
	_ repositories.Pinger          = (*Store)(nil)
)

const defaultMaxConns = 8

// Store implements the order and shop repositories on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses dsn, connects a pool and verifies it answers.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if cfg.MaxConns == 0 || cfg.MaxConns > defaultMaxConns*4 {
		cfg.MaxConns = defaultMaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStore wraps an existing pool.
func NewStore(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, errors.New("postgres store requires a pool")
	}
	return &Store{pool: pool}, nil
}

// Pool exposes the underlying pool for migrations.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases pooled connections.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}

// Ping implements repositories.Pinger.
func (s *Store) Ping(ctx context.Context) error {
	return classify("postgres.ping", s.pool.Ping(ctx))
}

const orderColumns = `id, requester_id, shop_id, file_ref, instructions, page_count, copy_count,
	color_mode, duplex_mode, total_paise, status, payment_provider, payment_transaction_id,
	pickup_code_hash, pickup_code_expiry, cancel_reason, created_at, updated_at,
	paid_at, completed_at, cancelled_at`

// Create implements repositories.OrderRepository.
func (s *Store) Create(ctx context.Context, order domain.Order) (string, error) {
	if order.ID == "" {
		return "", repositories.NewStoreError("postgres.orders.create", repositories.StoreErrorUnknown, errors.New("order id is required"))
	}
	const stmt = `
INSERT INTO orders (` + orderColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`

	_, err := s.pool.Exec(ctx, stmt,
		order.ID, order.RequesterID, order.ShopID, order.FileRef, order.Instructions,
		order.Job.PageCount, order.Job.CopyCount, string(order.Job.ColorMode), string(order.Job.DuplexMode),
		order.Total.Paise(), string(order.Status), order.PaymentProvider, order.PaymentTransactionID,
		order.PickupCodeHash, utcPtr(order.PickupCodeExpiry), order.CancelReason,
		order.CreatedAt.UTC(), order.UpdatedAt.UTC(),
		utcPtr(order.PaidAt), utcPtr(order.CompletedAt), utcPtr(order.CancelledAt),
	)
	if err != nil {
		return "", classify("postgres.orders.create", err)
	}
	return order.ID, nil
}

// GetByID implements repositories.OrderRepository.
func (s *Store) GetByID(ctx context.Context, orderID string) (domain.Order, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, classify("postgres.orders.get", err)
	}
	return order, nil
}

// FindByTransactionID implements repositories.OrderRepository.
func (s *Store) FindByTransactionID(ctx context.Context, transactionID string) (domain.Order, error) {
	if transactionID == "" {
		return domain.Order{}, classify("postgres.orders.find_by_transaction", pgx.ErrNoRows)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_transaction_id = $1`, transactionID)
	order, err := scanOrder(row)
	if err != nil {
		return domain.Order{}, classify("postgres.orders.find_by_transaction", err)
	}
	return order, nil
}

// ConditionalUpdateStatus implements repositories.OrderRepository.
func (s *Store) ConditionalUpdateStatus(ctx context.Context, orderID string, expected, next domain.OrderStatus, update domain.StatusUpdate) (bool, error) {
	const stmt = `
UPDATE orders SET
	status = $3,
	payment_transaction_id = CASE WHEN $4::text = '' THEN payment_transaction_id ELSE $4::text END,
	paid_at = COALESCE($5::timestamptz, paid_at),
	completed_at = COALESCE($6::timestamptz, completed_at),
	cancelled_at = COALESCE($7::timestamptz, cancelled_at),
	cancel_reason = CASE WHEN $8::text = '' THEN cancel_reason ELSE $8::text END,
	pickup_code_hash = CASE WHEN $9::boolean THEN '' ELSE pickup_code_hash END,
	pickup_code_expiry = CASE WHEN $9::boolean THEN NULL ELSE pickup_code_expiry END,
	updated_at = COALESCE($10::timestamptz, updated_at)
WHERE id = $1 AND status = $2`

	var updatedAt *time.Time
	if !update.UpdatedAt.IsZero() {
		updatedAt = utcPtr(&update.UpdatedAt)
	}
	tag, err := s.pool.Exec(ctx, stmt,
		orderID, string(expected), string(next),
		update.PaymentTransactionID, utcPtr(update.PaidAt), utcPtr(update.CompletedAt), utcPtr(update.CancelledAt),
		update.CancelReason, update.ClearPickupCode, updatedAt,
	)
	if err != nil {
		return false, classify("postgres.orders.update_status", err)
	}
	return s.applied(ctx, "postgres.orders.update_status", orderID, tag.RowsAffected())
}

// SetOTP implements repositories.OrderRepository.
func (s *Store) SetOTP(ctx context.Context, orderID string, hash string, expiry time.Time) (bool, error) {
	const stmt = `UPDATE orders SET pickup_code_hash = $2, pickup_code_expiry = $3 WHERE id = $1 AND status = $4`
	tag, err := s.pool.Exec(ctx, stmt, orderID, hash, expiry.UTC(), string(domain.OrderStatusReady))
	if err != nil {
		return false, classify("postgres.orders.set_otp", err)
	}
	return s.applied(ctx, "postgres.orders.set_otp", orderID, tag.RowsAffected())
}

// ClearOTPAndComplete implements repositories.OrderRepository.
func (s *Store) ClearOTPAndComplete(ctx context.Context, orderID string, expectedHash string, completedAt time.Time) (bool, error) {
	const stmt = `
UPDATE orders SET
	status = $4,
	pickup_code_hash = '',
	pickup_code_expiry = NULL,
	completed_at = $3,
	updated_at = $3
WHERE id = $1 AND status = $5 AND pickup_code_hash <> '' AND pickup_code_hash = $2`

	tag, err := s.pool.Exec(ctx, stmt, orderID, expectedHash, completedAt.UTC(),
		string(domain.OrderStatusCompleted), string(domain.OrderStatusReady))
	if err != nil {
		return false, classify("postgres.orders.complete", err)
	}
	return s.applied(ctx, "postgres.orders.complete", orderID, tag.RowsAffected())
}

// ListByShop implements repositories.OrderRepository.
func (s *Store) ListByShop(ctx context.Context, filter domain.OrderListFilter) (domain.OrderPage, error) {
	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.OrderPage{}, repositories.NewStoreError("postgres.orders.list", repositories.StoreErrorUnknown, err)
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = pagination.DefaultPageSize
	}
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	var cursorAt *time.Time
	if !cursor.IsZero() {
		cursorAt = utcPtr(&cursor.CreatedAt)
	}

	const query = `
SELECT ` + orderColumns + `
FROM orders
WHERE shop_id = $1
	AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
	AND ($3::timestamptz IS NULL OR (created_at, id) < ($3::timestamptz, $4::text))
ORDER BY created_at DESC, id DESC
LIMIT $5`

	rows, err := s.pool.Query(ctx, query, filter.ShopID, statuses, cursorAt, cursor.ID, size+1)
	if err != nil {
		return domain.OrderPage{}, classify("postgres.orders.list", err)
	}
	defer rows.Close()

	page := domain.OrderPage{Items: make([]domain.Order, 0, size)}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return domain.OrderPage{}, classify("postgres.orders.list", err)
		}
		page.Items = append(page.Items, order)
	}
	if err := rows.Err(); err != nil {
		return domain.OrderPage{}, classify("postgres.orders.list", err)
	}

	if len(page.Items) > size {
		page.Items = page.Items[:size]
		last := page.Items[size-1]
		token, err := pagination.EncodeToken(pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID})
		if err != nil {
			return domain.OrderPage{}, repositories.NewStoreError("postgres.orders.list", repositories.StoreErrorUnknown, err)
		}
		page.NextPageToken = token
	}
	return page, nil
}

// FindShop implements repositories.ShopRepository.
func (s *Store) FindShop(ctx context.Context, shopID string) (domain.Shop, error) {
	const query = `
SELECT id, name, bw_price_paise, color_price_paise, duplex_modifier_bps, operator_ids, created_at, updated_at
FROM shops WHERE id = $1`

	var (
		shop                    domain.Shop
		bw, color, duplexFactor *int64
	)
	err := s.pool.QueryRow(ctx, query, shopID).Scan(
		&shop.ID, &shop.Name, &bw, &color, &duplexFactor, &shop.OperatorIDs, &shop.CreatedAt, &shop.UpdatedAt,
	)
	if err != nil {
		return domain.Shop{}, classify("postgres.shops.find", err)
	}
	if bw != nil && color != nil && duplexFactor != nil {
		shop.Pricing = &domain.PricingConfig{
			BWPricePerPage:    domain.Money(*bw),
			ColorPricePerPage: domain.Money(*color),
			DuplexModifierBps: *duplexFactor,
		}
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	shop.UpdatedAt = shop.UpdatedAt.UTC()
	return shop, nil
}

// SaveShop upserts a shop. A nil Pricing clears the price list.
func (s *Store) SaveShop(ctx context.Context, shop domain.Shop) error {
	const stmt = `
INSERT INTO shops (id, name, bw_price_paise, color_price_paise, duplex_modifier_bps, operator_ids, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO UPDATE SET
	name = EXCLUDED.name,
	bw_price_paise = EXCLUDED.bw_price_paise,
	color_price_paise = EXCLUDED.color_price_paise,
	duplex_modifier_bps = EXCLUDED.duplex_modifier_bps,
	operator_ids = EXCLUDED.operator_ids,
	updated_at = EXCLUDED.updated_at`

	var bw, color, duplexFactor *int64
	if shop.Pricing != nil {
		b, c, d := shop.Pricing.BWPricePerPage.Paise(), shop.Pricing.ColorPricePerPage.Paise(), shop.Pricing.DuplexModifierBps
		bw, color, duplexFactor = &b, &c, &d
	}
	operators := shop.OperatorIDs
	if operators == nil {
		operators = []string{}
	}
	_, err := s.pool.Exec(ctx, stmt, shop.ID, shop.Name, bw, color, duplexFactor, operators, shop.CreatedAt.UTC(), shop.UpdatedAt.UTC())
	return classify("postgres.shops.save", err)
}

// applied turns a zero-row conditional update into either a lost guard (false, nil) or a
// not-found error, matching the other stores.
func (s *Store) applied(ctx context.Context, op, orderID string, rows int64) (bool, error) {
	if rows > 0 {
		return true, nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
		return false, classify(op, err)
	}
	if !exists {
		return false, classify(op, pgx.ErrNoRows)
	}
	return false, nil
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		order                 domain.Order
		colorMode, duplexMode string
		status                string
		total                 int64
	)
	err := row.Scan(
		&order.ID, &order.RequesterID, &order.ShopID, &order.FileRef, &order.Instructions,
		&order.Job.PageCount, &order.Job.CopyCount, &colorMode, &duplexMode, &total, &status,
		&order.PaymentProvider, &order.PaymentTransactionID, &order.PickupCodeHash, &order.PickupCodeExpiry,
		&order.CancelReason, &order.CreatedAt, &order.UpdatedAt,
		&order.PaidAt, &order.CompletedAt, &order.CancelledAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Job.ColorMode = domain.ColorMode(colorMode)
	order.Job.DuplexMode = domain.DuplexMode(duplexMode)
	order.Total = domain.Money(total)
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	order.PickupCodeExpiry = utcPtr(order.PickupCodeExpiry)
	order.PaidAt = utcPtr(order.PaidAt)
	order.CompletedAt = utcPtr(order.CompletedAt)
	order.CancelledAt = utcPtr(order.CancelledAt)
	return order, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

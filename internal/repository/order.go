package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omena/store-api/internal/domain/order"
)

const (
	insertOrderSQL = `INSERT INTO orders (
			id, user_id, total_amount, status, payment_id, payment_method,
			payment_code, payment_url, payment_expiration,
			shipping_service, shipping_amount, installments, payer
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	insertOrderItemSQL = `INSERT INTO order_items (
			id, order_id, product_id, product_name, image_url,
			quantity, price, price_at_purchase, color, size
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7, $8, $9)`

	orderColumns = `id, user_id, total_amount, status,
		COALESCE(payment_id, ''), COALESCE(payment_method, ''),
		COALESCE(payment_code, ''), COALESCE(payment_url, ''), COALESCE(payment_expiration, ''),
		COALESCE(shipping_service, ''), COALESCE(shipping_amount, 0), COALESCE(installments, 1),
		COALESCE(payer, '{}'::jsonb), COALESCE(shipment_id, ''), COALESCE(tracking_code, ''),
		created_at, updated_at`

	getOrderSQL       = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderByUserSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`

	itemColumns = `id, order_id, product_id, COALESCE(product_name, ''), COALESCE(image_url, ''),
		quantity, price_at_purchase, COALESCE(color, ''), COALESCE(size, '')`

	listItemsSQL     = `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY id`
	getItemsByIDsSQL = `SELECT ` + itemColumns + ` FROM order_items WHERE order_id = $1 AND id = ANY($2)`

	summaryColumns = `id, user_id, status, total_amount, COALESCE(payment_method, ''), COALESCE(payment_id, ''), created_at`

	listByUserSQL = `SELECT ` + summaryColumns + `, '' AS user_email FROM orders
		WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	countByUserSQL = `SELECT COUNT(*) FROM orders WHERE user_id = $1`

	listAllSQL = `SELECT o.id, o.user_id, o.status, o.total_amount,
			COALESCE(o.payment_method, ''), COALESCE(o.payment_id, ''), o.created_at,
			COALESCE(p.email, '') AS user_email
		FROM orders o LEFT JOIN profiles p ON p.id = o.user_id
		ORDER BY o.created_at DESC LIMIT $1 OFFSET $2`
	countAllSQL = `SELECT COUNT(*) FROM orders`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`

	setShipmentSQL = `UPDATE orders SET shipment_id = $2, updated_at = now() WHERE id = $1`

	insertRefundRequestSQL = `INSERT INTO refund_requests (
			id, order_id, requested_by, kind, status, amount, item_ids, refund_method, voucher_code
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	listRefundRequestsSQL = `SELECT id, order_id, requested_by, kind, status, amount,
			COALESCE(item_ids, '[]'::jsonb), COALESCE(refund_method, ''), COALESCE(voucher_code, ''), created_at
		FROM refund_requests WHERE order_id = $1 ORDER BY created_at`

	updateRefundRequestSQL = `UPDATE refund_requests SET status = $2 WHERE id = $1`

	insertVoucherSQL = `INSERT INTO vouchers (id, code, amount, user_id, expires_at, used)
		VALUES ($1, $2, $3, $4, $5, false)`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists the order and its items in one transaction. It
// assigns the order and item IDs.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create order: %w", err)
	}
	defer tx.Rollback(ctx)

	o.ID = uuid.New().String()
	payer := o.Payer
	if len(payer) == 0 {
		payer = []byte("{}")
	}

	_, err = tx.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, o.TotalAmount, o.Status, o.PaymentID, o.PaymentMethod,
		o.PaymentCode, o.PaymentURL, o.PaymentExpiration,
		o.ShippingService, o.ShippingAmount, o.Installments, payer,
	)
	if err != nil {
		return fmt.Errorf("creating order: %w", err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		item.ID = uuid.New().String()
		item.OrderID = o.ID
		_, err = tx.Exec(ctx, insertOrderItemSQL,
			item.ID, o.ID, item.ProductID, item.ProductName, item.ImageURL,
			item.Quantity, item.PriceAtPurchase, item.Color, item.Size,
		)
		if err != nil {
			return fmt.Errorf("creating order item for product %d: %w", item.ProductID, err)
		}
	}

	return tx.Commit(ctx)
}

// GetWithItems fetches an order and its items. A non-empty userID
// enforces ownership; orders of other users read as not found.
func (r *OrderRepository) GetWithItems(ctx context.Context, orderID, userID string) (*order.Order, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if userID != "" {
		rows, err = r.pool.Query(ctx, getOrderByUserSQL, orderID, userID)
	} else {
		rows, err = r.pool.Query(ctx, getOrderSQL, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", orderID, err)
	}

	itemRows, err := r.pool.Query(ctx, listItemsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	o.Items, err = pgx.CollectRows(itemRows, scanOrderItem)
	if err != nil {
		return nil, fmt.Errorf("listing items of order %q: %w", orderID, err)
	}
	return &o, nil
}

// ListByUser returns the customer's orders, newest first.
func (r *OrderRepository) ListByUser(ctx context.Context, userID string, page, limit int) (*order.Page[order.Summary], error) {
	offset := (page - 1) * limit
	rows, err := r.pool.Query(ctx, listByUserSQL, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %q: %w", userID, err)
	}
	data, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, fmt.Errorf("listing orders of user %q: %w", userID, err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, countByUserSQL, userID).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting orders of user %q: %w", userID, err)
	}
	return &order.Page[order.Summary]{Data: data, Count: count}, nil
}

// ListAll returns every order with the owner's email, newest first.
func (r *OrderRepository) ListAll(ctx context.Context, page, limit int) (*order.Page[order.Summary], error) {
	offset := (page - 1) * limit
	rows, err := r.pool.Query(ctx, listAllSQL, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing all orders: %w", err)
	}
	data, err := pgx.CollectRows(rows, scanSummary)
	if err != nil {
		return nil, fmt.Errorf("listing all orders: %w", err)
	}

	var count int
	if err := r.pool.QueryRow(ctx, countAllSQL).Scan(&count); err != nil {
		return nil, fmt.Errorf("counting orders: %w", err)
	}
	return &order.Page[order.Summary]{Data: data, Count: count}, nil
}

// GetItemsByIDs fetches items by id, restricted to the given order.
func (r *OrderRepository) GetItemsByIDs(ctx context.Context, orderID string, itemIDs []string) ([]order.Item, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, getItemsByIDsSQL, orderID, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanOrderItem)
}

// UpdateStatus transitions the order status.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID, status string) error {
	tag, err := r.pool.Exec(ctx, updateOrderStatusSQL, orderID, status)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// SetShipment records the carrier-side order id of a created label.
func (r *OrderRepository) SetShipment(ctx context.Context, orderID, shipmentID string) error {
	tag, err := r.pool.Exec(ctx, setShipmentSQL, orderID, shipmentID)
	if err != nil {
		return fmt.Errorf("setting shipment of order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// CreateRefundRequest persists a refund request, assigning its ID.
func (r *OrderRepository) CreateRefundRequest(ctx context.Context, req *order.RefundRequest) error {
	req.ID = uuid.New().String()
	itemIDs, err := json.Marshal(req.ItemIDs)
	if err != nil {
		return fmt.Errorf("marshaling refund item ids: %w", err)
	}
	_, err = r.pool.Exec(ctx, insertRefundRequestSQL,
		req.ID, req.OrderID, req.RequestedBy, req.Kind, req.Status,
		req.Amount, itemIDs, req.RefundMethod, req.VoucherCode,
	)
	if err != nil {
		return fmt.Errorf("creating refund request for order %q: %w", req.OrderID, err)
	}
	return nil
}

// ListRefundRequests returns the refund requests of an order, oldest first.
func (r *OrderRepository) ListRefundRequests(ctx context.Context, orderID string) ([]order.RefundRequest, error) {
	rows, err := r.pool.Query(ctx, listRefundRequestsSQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing refund requests of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, scanRefundRequest)
}

// UpdateRefundRequestStatus transitions a refund request status.
func (r *OrderRepository) UpdateRefundRequestStatus(ctx context.Context, requestID, status string) error {
	_, err := r.pool.Exec(ctx, updateRefundRequestSQL, requestID, status)
	if err != nil {
		return fmt.Errorf("updating refund request %q: %w", requestID, err)
	}
	return nil
}

// CreateVoucher persists a store-credit voucher, assigning its ID. A
// code collision maps to order.ErrVoucherCodeTaken so the caller can
// regenerate and retry.
func (r *OrderRepository) CreateVoucher(ctx context.Context, v *order.Voucher) error {
	v.ID = uuid.New().String()
	_, err := r.pool.Exec(ctx, insertVoucherSQL, v.ID, v.Code, v.Amount, v.UserID, v.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return order.ErrVoucherCodeTaken
		}
		return errors.Wrapf(err, "create voucher %q", v.Code)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var o order.Order
	err := row.Scan(
		&o.ID, &o.UserID, &o.TotalAmount, &o.Status,
		&o.PaymentID, &o.PaymentMethod,
		&o.PaymentCode, &o.PaymentURL, &o.PaymentExpiration,
		&o.ShippingService, &o.ShippingAmount, &o.Installments,
		&o.Payer, &o.ShipmentID, &o.TrackingCode,
		&o.CreatedAt, &o.UpdatedAt,
	)
	return o, err
}

func scanOrderItem(row pgx.CollectableRow) (order.Item, error) {
	var it order.Item
	err := row.Scan(
		&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ImageURL,
		&it.Quantity, &it.PriceAtPurchase, &it.Color, &it.Size,
	)
	return it, err
}

func scanSummary(row pgx.CollectableRow) (order.Summary, error) {
	var s order.Summary
	err := row.Scan(
		&s.ID, &s.UserID, &s.Status, &s.TotalAmount,
		&s.PaymentMethod, &s.PaymentID, &s.CreatedAt, &s.UserEmail,
	)
	return s, err
}

func scanRefundRequest(row pgx.CollectableRow) (order.RefundRequest, error) {
	var (
		r       order.RefundRequest
		itemIDs []byte
	)
	err := row.Scan(
		&r.ID, &r.OrderID, &r.RequestedBy, &r.Kind, &r.Status, &r.Amount,
		&itemIDs, &r.RefundMethod, &r.VoucherCode, &r.CreatedAt,
	)
	if err != nil {
		return r, err
	}
	if len(itemIDs) > 0 {
		if err := json.Unmarshal(itemIDs, &r.ItemIDs); err != nil {
			return r, fmt.Errorf("decoding refund item ids: %w", err)
		}
	}
	return r, nil
}

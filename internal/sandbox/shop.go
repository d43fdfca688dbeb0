package sandbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// pageBounds validates a paging request against the task's page limit.
func pageBounds(offset, limit, pageLimit int) (int, error) {
	if offset < 0 {
		return 0, badRequest("offset must not be negative")
	}
	if limit < 0 {
		return 0, badRequest("limit must not be negative")
	}
	if limit == 0 {
		return pageLimit, nil
	}
	if limit > pageLimit {
		return 0, badRequest("page limit exceeded: max %d", pageLimit)
	}
	return limit, nil
}

func nextOffset(offset, returned, total int) int {
	if offset+returned < total {
		return offset + returned
	}
	return 0
}

func (s *Sandbox) listProducts(ctx context.Context, tx *sql.Tx, t *taskRow, req ListProductsRequest) (*ProductPage, error) {
	limit, err := pageBounds(req.Offset, req.Limit, t.pageLimit)
	if err != nil {
		return nil, err
	}
	var total int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE task_id = ?`, t.id).Scan(&total); err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT sku, name, price, available FROM products WHERE task_id = ? ORDER BY position LIMIT ? OFFSET ?`,
		t.id, limit, req.Offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	page := &ProductPage{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.Price, &p.Available); err != nil {
			return nil, err
		}
		page.Products = append(page.Products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	page.NextOffset = nextOffset(req.Offset, len(page.Products), total)
	return page, nil
}

func (s *Sandbox) loadBasket(ctx context.Context, tx *sql.Tx, taskID string) (*Basket, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT b.sku, b.quantity, p.price
		 FROM basket_items b JOIN products p ON p.task_id = b.task_id AND p.sku = b.sku
		 WHERE b.task_id = ? ORDER BY b.added`, taskID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	b := &Basket{}
	var subtotal float64
	for rows.Next() {
		var it BasketItem
		if err := rows.Scan(&it.SKU, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		subtotal += it.Price * float64(it.Quantity)
		b.Items = append(b.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	b.Subtotal = round2(subtotal)

	var code string
	var percent, minSubtotal float64
	err = tx.QueryRowContext(ctx,
		`SELECT bc.code, c.percent, c.min_subtotal
		 FROM basket_coupons bc JOIN coupons c ON c.task_id = bc.task_id AND c.code = bc.code
		 WHERE bc.task_id = ?`, taskID,
	).Scan(&code, &percent, &minSubtotal)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		b.Coupon = code
		if b.Subtotal >= minSubtotal {
			b.Discount = round2(b.Subtotal * percent / 100)
		}
	}
	b.Total = round2(b.Subtotal - b.Discount)
	return b, nil
}

func (s *Sandbox) product(ctx context.Context, tx *sql.Tx, taskID, sku string) (*Product, error) {
	var p Product
	err := tx.QueryRowContext(ctx,
		`SELECT sku, name, price, available FROM products WHERE task_id = ? AND sku = ?`, taskID, sku,
	).Scan(&p.SKU, &p.Name, &p.Price, &p.Available)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("product %s not found", sku)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Sandbox) basketQuantity(ctx context.Context, tx *sql.Tx, taskID, sku string) (int, error) {
	var q int
	err := tx.QueryRowContext(ctx,
		`SELECT quantity FROM basket_items WHERE task_id = ? AND sku = ?`, taskID, sku,
	).Scan(&q)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return q, err
}

func (s *Sandbox) addToBasket(ctx context.Context, tx *sql.Tx, t *taskRow, req AddToBasketRequest) (*Ack, error) {
	if req.Quantity <= 0 {
		return nil, badRequest("quantity must be positive")
	}
	p, err := s.product(ctx, tx, t.id, req.SKU)
	if err != nil {
		return nil, err
	}
	current, err := s.basketQuantity(ctx, tx, t.id, req.SKU)
	if err != nil {
		return nil, err
	}
	if current+req.Quantity > p.Available {
		return nil, badRequest("insufficient stock for %s: %d available", req.SKU, p.Available)
	}

	if current > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE basket_items SET quantity = ? WHERE task_id = ? AND sku = ?`,
			current+req.Quantity, t.id, req.SKU,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO basket_items (task_id, sku, quantity, added)
			 VALUES (?, ?, ?, (SELECT COALESCE(MAX(added), 0) + 1 FROM basket_items WHERE task_id = ?))`,
			t.id, req.SKU, req.Quantity, t.id,
		)
	}
	if err != nil {
		return nil, err
	}
	return &Ack{Message: fmt.Sprintf("added %dx %s", req.Quantity, req.SKU)}, nil
}

func (s *Sandbox) removeFromBasket(ctx context.Context, tx *sql.Tx, t *taskRow, req RemoveFromBasketRequest) (*Ack, error) {
	if req.Quantity < 0 {
		return nil, badRequest("quantity must not be negative")
	}
	current, err := s.basketQuantity(ctx, tx, t.id, req.SKU)
	if err != nil {
		return nil, err
	}
	if current == 0 {
		return nil, notFound("%s is not in the basket", req.SKU)
	}

	removed := req.Quantity
	if removed == 0 || removed >= current {
		removed = current
		_, err = tx.ExecContext(ctx, `DELETE FROM basket_items WHERE task_id = ? AND sku = ?`, t.id, req.SKU)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE basket_items SET quantity = ? WHERE task_id = ? AND sku = ?`,
			current-removed, t.id, req.SKU,
		)
	}
	if err != nil {
		return nil, err
	}
	return &Ack{Message: fmt.Sprintf("removed %dx %s", removed, req.SKU)}, nil
}

func (s *Sandbox) applyCoupon(ctx context.Context, tx *sql.Tx, t *taskRow, req ApplyCouponRequest) (*Ack, error) {
	var n int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupons WHERE task_id = ? AND code = ?`, t.id, req.Coupon,
	).Scan(&n); err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, badRequest("coupon %s is not valid", req.Coupon)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO basket_coupons (task_id, code) VALUES (?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET code = excluded.code`, t.id, req.Coupon,
	); err != nil {
		return nil, err
	}
	return &Ack{Message: fmt.Sprintf("coupon %s applied", req.Coupon)}, nil
}

func (s *Sandbox) removeCoupon(ctx context.Context, tx *sql.Tx, t *taskRow) (*Ack, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM basket_coupons WHERE task_id = ?`, t.id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, badRequest("no coupon applied")
	}
	return &Ack{Message: "coupon removed"}, nil
}

func (s *Sandbox) checkout(ctx context.Context, tx *sql.Tx, t *taskRow) (*Order, error) {
	b, err := s.loadBasket(ctx, tx, t.id)
	if err != nil {
		return nil, err
	}
	if len(b.Items) == 0 {
		return nil, badRequest("basket is empty")
	}
	for _, it := range b.Items {
		p, err := s.product(ctx, tx, t.id, it.SKU)
		if err != nil {
			return nil, err
		}
		if it.Quantity > p.Available {
			return nil, badRequest("insufficient stock for %s: %d available", it.SKU, p.Available)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET available = available - ? WHERE task_id = ? AND sku = ?`,
			it.Quantity, t.id, it.SKU,
		); err != nil {
			return nil, err
		}
	}

	order := &Order{
		OrderID:  uuid.New().String(),
		Items:    b.Items,
		Subtotal: b.Subtotal,
		Coupon:   b.Coupon,
		Discount: b.Discount,
		Total:    b.Total,
	}
	payload, _ := json.Marshal(order)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, task_id, payload) VALUES (?, ?, ?)`, order.OrderID, t.id, string(payload),
	); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM basket_items WHERE task_id = ?`, t.id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM basket_coupons WHERE task_id = ?`, t.id); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Sandbox) orders(ctx context.Context, tx *sql.Tx, taskID string) ([]Order, error) {
	rows, err := tx.QueryContext(ctx, `SELECT payload FROM orders WHERE task_id = ? ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var o Order
		if err := json.Unmarshal([]byte(payload), &o); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

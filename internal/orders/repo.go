package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repo is the Postgres Store.
type Repo struct{ DB *pgxpool.Pool }

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *Repo) ProductsByIDs(ctx context.Context, ids []string) ([]Product, error) {
	return scanProducts(ctx, r.DB, `
		SELECT id, company_id, name, price::text, stock
		FROM products WHERE id = ANY($1)`, ids)
}

// PlaceOrder locks the ordered products (FOR UPDATE, in id order so that
// concurrent placements cannot deadlock), decrements stock with a guarded
// UPDATE and inserts the order and its items. Any failure rolls back all of it.
func (r *Repo) PlaceOrder(ctx context.Context, order Order, lines []ItemInput) (Order, error) {
	const op = "orders.PlaceOrder"
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ids := uniqueProductIDs(lines)
	sort.Strings(ids)
	locked, err := scanProducts(ctx, tx, `
		SELECT id, company_id, name, price::text, stock
		FROM products WHERE id = ANY($1)
		ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return Order{}, err
	}
	byID := make(map[string]Product, len(locked))
	for _, p := range locked {
		byID[p.ID] = p
	}
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return Order{}, newError(op, CodeInvalidProducts, "product disappeared")
		}
		if p.CompanyID != order.CompanyID {
			return Order{}, newError(op, CodeMixedCompanies, "product changed company")
		}
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders(id, customer_id, company_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		order.ID, order.CustomerID, order.CompanyID, string(order.Status), order.CreatedAt,
	); err != nil {
		return Order{}, fmt.Errorf("insert order: %w", err)
	}

	order.Items = make([]OrderItem, 0, len(lines))
	for i, ln := range lines {
		p := byID[ln.ProductID]
		ct, err := tx.Exec(ctx, `
			UPDATE products SET stock = stock - $2, updated_at = now()
			WHERE id = $1 AND stock >= $2`, p.ID, ln.Quantity)
		if err != nil {
			return Order{}, fmt.Errorf("decrement stock: %w", err)
		}
		if ct.RowsAffected() != 1 {
			return Order{}, outOfStock(op, p.Name)
		}

		item := OrderItem{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			ProductID: p.ID,
			Quantity:  ln.Quantity,
			UnitPrice: p.Price,
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, line, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6::numeric)`,
			item.ID, item.OrderID, i+1, item.ProductID, item.Quantity, item.UnitPrice.String(),
		); err != nil {
			return Order{}, fmt.Errorf("insert item: %w", err)
		}
		order.Items = append(order.Items, item)
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("commit: %w", err)
	}
	return order, nil
}

func (r *Repo) UpdateStatus(ctx context.Context, orderID string, decide func(Order) (Status, error)) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		o      Order
		status string
	)
	err = tx.QueryRow(ctx, `
		SELECT id, customer_id, company_id, status, created_at
		FROM orders WHERE id = $1 FOR UPDATE`, orderID,
	).Scan(&o.ID, &o.CustomerID, &o.CompanyID, &status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, fmt.Errorf("lock order: %w", err)
	}
	o.Status = Status(status)

	next, err := decide(o)
	if err != nil {
		return Order{}, err
	}
	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $2 WHERE id = $1`, orderID, string(next)); err != nil {
		return Order{}, fmt.Errorf("update status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Order{}, fmt.Errorf("commit: %w", err)
	}
	o.Status = next
	return o, nil
}

func (r *Repo) OrderByID(ctx context.Context, orderID string) (Order, error) {
	list, err := r.loadOrders(ctx, `
		SELECT id, customer_id, company_id, status, created_at
		FROM orders WHERE id = $1`, orderID)
	if err != nil {
		return Order{}, err
	}
	if len(list) == 0 {
		return Order{}, ErrNotFound
	}
	return list[0], nil
}

func (r *Repo) OrdersByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return r.loadOrders(ctx, `
		SELECT id, customer_id, company_id, status, created_at
		FROM orders WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`, customerID)
}

func (r *Repo) OrdersByCompany(ctx context.Context, companyID string) ([]Order, error) {
	return r.loadOrders(ctx, `
		SELECT id, customer_id, company_id, status, created_at
		FROM orders WHERE company_id = $1
		ORDER BY created_at DESC, id DESC`, companyID)
}

func (r *Repo) CompanyByOwner(ctx context.Context, userID string) (Company, error) {
	var c Company
	err := r.DB.QueryRow(ctx, `
		SELECT id, owner_user_id, name FROM companies
		WHERE owner_user_id = $1 ORDER BY id LIMIT 1`, userID,
	).Scan(&c.ID, &c.OwnerUserID, &c.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Company{}, ErrNotFound
	}
	if err != nil {
		return Company{}, err
	}
	return c, nil
}

// loadOrders runs an order query and attaches the items of every returned order.
func (r *Repo) loadOrders(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var (
		out []Order
		ids []string
	)
	for rows.Next() {
		var (
			o      Order
			status string
		)
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.CompanyID, &status, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Status = Status(status)
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return out, nil
	}

	items, err := r.itemsByOrder(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (r *Repo) itemsByOrder(ctx context.Context, orderIDs []string) (map[string][]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, quantity, unit_price::text
		FROM order_items WHERE order_id = ANY($1)
		ORDER BY order_id, line`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string][]OrderItem{}
	for rows.Next() {
		var (
			it    OrderItem
			price string
		)
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &price); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("item %s unit price: %w", it.ID, err)
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func scanProducts(ctx context.Context, q querier, sql string, ids []string) ([]Product, error) {
	rows, err := q.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var (
			p     Product
			price string
		)
		if err := rows.Scan(&p.ID, &p.CompanyID, &p.Name, &price, &p.Stock); err != nil {
			return nil, err
		}
		if p.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("product %s price: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

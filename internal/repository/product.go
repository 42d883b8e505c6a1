package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"cryptra/internal/model"
	"cryptra/internal/pkg/db"
)

const productColumns = `id, name, slug, category, description, price_coins, stock_quantity, is_active, created_at`

// ProductRepository persists the marketplace catalogue, orders and lucky
// draw entries.
type ProductRepository struct {
	db db.DBTX
}

// NewProductRepository creates a new ProductRepository instance.
func NewProductRepository(conn db.DBTX) *ProductRepository {
	return &ProductRepository{db: conn}
}

// WithTx returns a copy bound to tx.
func (r *ProductRepository) WithTx(tx db.DBTX) *ProductRepository {
	return &ProductRepository{db: tx}
}

func scanProduct(row pgx.Row) (*model.Product, error) {
	var p model.Product
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Slug,
		&p.Category,
		&p.Description,
		&p.PriceCoins,
		&p.StockQuantity,
		&p.IsActive,
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create inserts a product. Returns ErrDuplicateSlug if the slug is taken.
func (r *ProductRepository) Create(ctx context.Context, p *model.Product) (*model.Product, error) {
	query := `
		INSERT INTO products (name, slug, category, description, price_coins, stock_quantity, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + productColumns

	created, err := scanProduct(r.db.QueryRow(ctx, query,
		p.Name, p.Slug, p.Category, p.Description, p.PriceCoins, p.StockQuantity, p.IsActive,
	))
	if err != nil {
		if db.IsUniqueViolation(err, "products_slug_key") {
			return nil, ErrDuplicateSlug
		}
		return nil, fmt.Errorf("failed to create product: %w", err)
	}
	return created, nil
}

func (r *ProductRepository) get(ctx context.Context, query string, id int64) (*model.Product, error) {
	p, err := scanProduct(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("failed to get product: %w", err)
	}
	return p, nil
}

// GetByID retrieves a product.
func (r *ProductRepository) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	return r.get(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
}

// GetForUpdate reads and locks a product row so concurrent buyers of the
// last unit serialize on it.
func (r *ProductRepository) GetForUpdate(ctx context.Context, id int64) (*model.Product, error) {
	return r.get(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
}

// List returns active products, optionally filtered by category.
func (r *ProductRepository) List(ctx context.Context, category string) ([]*model.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE is_active AND ($1 = '' OR category = $1)
		ORDER BY price_coins ASC, id ASC
	`

	rows, err := r.db.Query(ctx, query, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var out []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DecrementStock removes qty units. The stock CHECK constraint backs the
// caller's own stock check.
func (r *ProductRepository) DecrementStock(ctx context.Context, id int64, qty int) error {
	const query = `UPDATE products SET stock_quantity = stock_quantity - $2 WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, qty)
	if err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// CreateOrder inserts an order snapshot.
func (r *ProductRepository) CreateOrder(ctx context.Context, o *model.Order) (*model.Order, error) {
	const query = `
		INSERT INTO orders (user_id, product_id, product_name, quantity, unit_price_coins,
			total_coins, status, transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`

	out := *o
	err := r.db.QueryRow(ctx, query,
		o.UserID, o.ProductID, o.ProductName, o.Quantity, o.UnitPriceCoins,
		o.TotalCoins, string(o.Status), o.TransactionID,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return &out, nil
}

const orderColumns = `id, user_id, product_id, product_name, quantity, unit_price_coins,
	total_coins, status, transaction_id, created_at`

// ListOrders returns a user's orders, newest first.
func (r *ProductRepository) ListOrders(ctx context.Context, userID uuid.UUID, limit int) ([]*model.Order, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return collectOrders(rows)
}

// ListOrdersByTransaction returns the orders paid for by one ledger entry.
func (r *ProductRepository) ListOrdersByTransaction(ctx context.Context, txID int64) ([]*model.Order, error) {
	rows, err := r.db.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE transaction_id = $1 ORDER BY id`, txID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]*model.Order, error) {
	defer rows.Close()

	var out []*model.Order
	for rows.Next() {
		var o model.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.ProductID, &o.ProductName, &o.Quantity,
			&o.UnitPriceCoins, &o.TotalCoins, &o.Status, &o.TransactionID, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}

// CreateLuckyDrawEntry records purchased lucky draw entries.
func (r *ProductRepository) CreateLuckyDrawEntry(ctx context.Context, e *model.LuckyDrawEntry) (*model.LuckyDrawEntry, error) {
	const query = `
		INSERT INTO lucky_draw_entries (user_id, entry_count, transaction_id)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`

	out := *e
	if err := r.db.QueryRow(ctx, query, e.UserID, e.EntryCount, e.TransactionID).Scan(&out.ID, &out.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create lucky draw entry: %w", err)
	}
	return &out, nil
}

// CountLuckyDrawEntries returns the entries a user holds.
func (r *ProductRepository) CountLuckyDrawEntries(ctx context.Context, userID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COALESCE(SUM(entry_count), 0) FROM lucky_draw_entries WHERE user_id = $1`, userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count lucky draw entries: %w", err)
	}
	return n, nil
}

// AddWinner records a lucky draw result.
func (r *ProductRepository) AddWinner(ctx context.Context, w *model.LuckyDrawWinner) (*model.LuckyDrawWinner, error) {
	const query = `
		INSERT INTO lucky_draw_winners (user_id, prize_amount, position, draw_date)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`

	out := *w
	if err := r.db.QueryRow(ctx, query, w.UserID, w.PrizeAmount, w.Position, w.DrawDate).Scan(&out.ID); err != nil {
		return nil, fmt.Errorf("failed to add lucky draw winner: %w", err)
	}
	return &out, nil
}

// RecentWinners returns the latest lucky draw winners, newest draw first
// and by position within a draw.
func (r *ProductRepository) RecentWinners(ctx context.Context, limit int) ([]*model.LuckyDrawWinner, error) {
	rows, err := r.db.Query(ctx, `
		SELECT w.id, w.user_id, u.display_name, w.prize_amount, w.position, w.draw_date
		FROM lucky_draw_winners w
		JOIN users u ON u.id = w.user_id
		ORDER BY w.draw_date DESC, w.position ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list lucky draw winners: %w", err)
	}
	defer rows.Close()

	var out []*model.LuckyDrawWinner
	for rows.Next() {
		var w model.LuckyDrawWinner
		if err := rows.Scan(&w.ID, &w.UserID, &w.DisplayName, &w.PrizeAmount, &w.Position, &w.DrawDate); err != nil {
			return nil, fmt.Errorf("failed to scan lucky draw winner: %w", err)
		}
		out = append(out, &w)
	}
	return out, rows.Err()
}

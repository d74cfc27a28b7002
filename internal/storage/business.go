package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The business tables mirror the subset of an ERP the tools operate on:
// products with on-hand stock per location, bills of materials,
// manufacturing orders and the sale and purchase order books.

const productSelect = `
	SELECT p.id, p.name, p.type, p.list_price, p.standard_price, p.updated_at,
		COALESCE((SELECT SUM(q.quantity) FROM stock_quants q
			JOIN stock_locations l ON l.id = q.location_id
			WHERE q.product_id = p.id AND l.usage = 'internal'), 0) AS qty
	FROM products p`

func scanProduct(row interface{ Scan(...any) error }) (Product, error) {
	var p Product
	var updatedAt string
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Price, &p.Cost, &updatedAt, &p.QtyAvailable); err != nil {
		return Product{}, err
	}
	var err error
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Product{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return p, nil
}

func (s *Store) queryProducts(ctx context.Context, query string, args ...any) ([]Product, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying products: %w", err)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SearchProducts returns up to limit products whose name contains name,
// case-insensitively. An empty name lists every product.
func (s *Store) SearchProducts(ctx context.Context, name string, limit int) ([]Product, error) {
	if name == "" {
		return s.queryProducts(ctx, productSelect+` ORDER BY p.id LIMIT ?`, limit)
	}
	return s.queryProducts(ctx, productSelect+` WHERE p.name LIKE ? ESCAPE '\' ORDER BY p.id LIMIT ?`, likePattern(name), limit)
}

// RecentProducts returns the most recently updated products.
func (s *Store) RecentProducts(ctx context.Context, limit int) ([]Product, error) {
	return s.queryProducts(ctx, productSelect+` ORDER BY p.updated_at DESC, p.id DESC LIMIT ?`, limit)
}

// LowStockProducts returns stocked products whose on-hand quantity is at or
// below threshold, lowest first.
func (s *Store) LowStockProducts(ctx context.Context, threshold float64, limit int) ([]Product, error) {
	return s.queryProducts(ctx, `SELECT * FROM (`+productSelect+` WHERE p.type != 'service') AS ps
		WHERE ps.qty <= ? ORDER BY ps.qty ASC, ps.id LIMIT ?`, threshold, limit)
}

func (s *Store) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, productSelect+` WHERE p.id = ?`, id))
	if err == sql.ErrNoRows {
		return Product{}, ErrNotFound
	}
	return p, err
}

// CreateProduct inserts p and returns it with its ID.
func (s *Store) CreateProduct(ctx context.Context, p Product) (Product, error) {
	if p.Type == "" {
		p.Type = "consu"
	}
	now := time.Now().UTC().Truncate(time.Second)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO products (name, type, list_price, standard_price, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.Name, p.Type, p.Price, p.Cost, formatTime(now), formatTime(now))
	if err != nil {
		return Product{}, fmt.Errorf("creating product: %w", err)
	}
	if p.ID, err = res.LastInsertId(); err != nil {
		return Product{}, err
	}
	p.UpdatedAt = now
	return p, nil
}

// --- Bills of materials ---

// CreateBoM stores a bill of materials for one unit of productID in a single
// transaction.
func (s *Store) CreateBoM(ctx context.Context, productID int64, lines []BoMLine) (BoM, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return BoM{}, fmt.Errorf("beginning bom transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO boms (product_id, quantity, created_at) VALUES (?, 1, ?)`,
		productID, formatTime(time.Now()))
	if err != nil {
		return BoM{}, fmt.Errorf("creating bom: %w", err)
	}
	bomID, err := res.LastInsertId()
	if err != nil {
		return BoM{}, err
	}
	for _, l := range lines {
		if _, err := tx.ExecContext(ctx, `INSERT INTO bom_lines (bom_id, product_id, quantity) VALUES (?, ?, ?)`,
			bomID, l.ProductID, l.Qty); err != nil {
			return BoM{}, fmt.Errorf("creating bom line for product %d: %w", l.ProductID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return BoM{}, fmt.Errorf("committing bom: %w", err)
	}
	return BoM{ID: bomID, ProductID: productID, Lines: lines}, nil
}

// FindBoM returns the oldest bill of materials of productID.
func (s *Store) FindBoM(ctx context.Context, productID int64) (BoM, error) {
	b := BoM{ProductID: productID}
	err := s.db.QueryRowContext(ctx, `SELECT id FROM boms WHERE product_id = ? ORDER BY id LIMIT 1`, productID).Scan(&b.ID)
	if err == sql.ErrNoRows {
		return BoM{}, ErrNotFound
	}
	if err != nil {
		return BoM{}, fmt.Errorf("finding bom: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT product_id, quantity FROM bom_lines WHERE bom_id = ? ORDER BY id`, b.ID)
	if err != nil {
		return BoM{}, fmt.Errorf("loading bom lines: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var l BoMLine
		if err := rows.Scan(&l.ProductID, &l.Qty); err != nil {
			return BoM{}, err
		}
		b.Lines = append(b.Lines, l)
	}
	return b, rows.Err()
}

// --- Manufacturing orders ---

func (s *Store) SearchMRPOrders(ctx context.Context, f MRPFilter) ([]MRPOrder, error) {
	query := `SELECT o.id, o.name, o.product_id, p.name, COALESCE(o.bom_id, 0), o.quantity, o.state, o.date_deadline, o.created_at
		FROM mrp_orders o JOIN products p ON p.id = o.product_id`
	var where []string
	var args []any
	if len(f.States) > 0 {
		where = append(where, `o.state IN (`+placeholders(len(f.States))+`)`)
		for _, st := range f.States {
			args = append(args, st)
		}
	}
	if !f.DeadlineBefore.IsZero() {
		where = append(where, `o.date_deadline IS NOT NULL AND o.date_deadline < ?`)
		args = append(args, formatTime(f.DeadlineBefore))
	}
	if f.Name != "" {
		where = append(where, `(o.name LIKE ? ESCAPE '\' OR p.name LIKE ? ESCAPE '\')`)
		args = append(args, likePattern(f.Name), likePattern(f.Name))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY o.id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying manufacturing orders: %w", err)
	}
	defer rows.Close()

	var out []MRPOrder
	for rows.Next() {
		var o MRPOrder
		var deadline sql.NullString
		var createdAt string
		if err := rows.Scan(&o.ID, &o.Name, &o.ProductID, &o.ProductName, &o.BoMID, &o.Quantity, &o.State, &deadline, &createdAt); err != nil {
			return nil, err
		}
		if o.Deadline, err = parseNullTime(deadline); err != nil {
			return nil, fmt.Errorf("parsing date_deadline: %w", err)
		}
		if o.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateMRPOrder inserts a manufacturing order and names it MO/NNNNN after
// its ID. State defaults to draft.
func (s *Store) CreateMRPOrder(ctx context.Context, o MRPOrder) (MRPOrder, error) {
	if o.State == "" {
		o.State = "draft"
	}
	now := time.Now().UTC().Truncate(time.Second)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return MRPOrder{}, fmt.Errorf("beginning order transaction: %w", err)
	}
	defer tx.Rollback()

	var bomID any
	if o.BoMID != 0 {
		bomID = o.BoMID
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO mrp_orders (product_id, bom_id, quantity, state, date_deadline, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		o.ProductID, bomID, o.Quantity, o.State, nullTime(o.Deadline), formatTime(now), formatTime(now))
	if err != nil {
		return MRPOrder{}, fmt.Errorf("creating manufacturing order: %w", err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return MRPOrder{}, err
	}
	if o.Name == "" {
		o.Name = fmt.Sprintf("MO/%05d", o.ID)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE mrp_orders SET name = ? WHERE id = ?`, o.Name, o.ID); err != nil {
		return MRPOrder{}, fmt.Errorf("naming manufacturing order: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return MRPOrder{}, fmt.Errorf("committing manufacturing order: %w", err)
	}
	o.CreatedAt = now
	return o, nil
}

// --- Stock ---

// DefaultLocation returns the first internal stock location.
func (s *Store) DefaultLocation(ctx context.Context) (Location, error) {
	var l Location
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, usage FROM stock_locations WHERE usage = 'internal' ORDER BY id LIMIT 1`,
	).Scan(&l.ID, &l.Name, &l.Usage)
	if err == sql.ErrNoRows {
		return Location{}, ErrNotFound
	}
	return l, err
}

// SetStock sets the absolute on-hand quantity of a product at a location,
// creating the quant when missing.
func (s *Store) SetStock(ctx context.Context, productID, locationID int64, qty float64) error {
	now := formatTime(time.Now())
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning stock transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock_quants (product_id, location_id, quantity, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(product_id, location_id) DO UPDATE SET quantity = excluded.quantity, updated_at = excluded.updated_at`,
		productID, locationID, qty, now); err != nil {
		return fmt.Errorf("setting stock of product %d: %w", productID, err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE products SET updated_at = ? WHERE id = ?`, now, productID); err != nil {
		return fmt.Errorf("touching product %d: %w", productID, err)
	}
	return tx.Commit()
}

// --- Trade orders ---

func orderTable(kind OrderKind) (string, error) {
	switch kind {
	case SaleOrders:
		return "sale_orders", nil
	case PurchaseOrders:
		return "purchase_orders", nil
	}
	return "", fmt.Errorf("unknown order kind %q", kind)
}

// ListOrders returns the sale or purchase orders matching f, ordered by ID.
func (s *Store) ListOrders(ctx context.Context, kind OrderKind, f OrderFilter) ([]Order, error) {
	table, err := orderTable(kind)
	if err != nil {
		return nil, err
	}
	query := `SELECT id, name, partner_name, state, amount_total, date_order, due_date FROM ` + table
	var where []string
	var args []any
	if len(f.States) > 0 {
		where = append(where, `state IN (`+placeholders(len(f.States))+`)`)
		for _, st := range f.States {
			args = append(args, st)
		}
	}
	if !f.From.IsZero() {
		where = append(where, `date_order >= ?`)
		args = append(args, formatTime(startOfDay(f.From)))
	}
	if !f.To.IsZero() {
		where = append(where, `date_order < ?`)
		args = append(args, formatTime(startOfDay(f.To).AddDate(0, 0, 1)))
	}
	if f.Partner != "" {
		where = append(where, `partner_name LIKE ? ESCAPE '\'`)
		args = append(args, likePattern(f.Partner))
	}
	if !f.DueBefore.IsZero() {
		where = append(where, `due_date IS NOT NULL AND due_date < ?`)
		args = append(args, formatTime(f.DueBefore))
	}
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}

	rows, err := s.db.QueryContext(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", table, err)
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		var o Order
		var orderDate string
		var due sql.NullString
		if err := rows.Scan(&o.ID, &o.Name, &o.PartnerName, &o.State, &o.AmountTotal, &orderDate, &due); err != nil {
			return nil, err
		}
		if o.OrderDate, err = parseTime(orderDate); err != nil {
			return nil, fmt.Errorf("parsing date_order: %w", err)
		}
		if o.DueDate, err = parseNullTime(due); err != nil {
			return nil, fmt.Errorf("parsing due_date: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// CreateOrder inserts a sale or purchase order.
func (s *Store) CreateOrder(ctx context.Context, kind OrderKind, o Order) (Order, error) {
	table, err := orderTable(kind)
	if err != nil {
		return Order{}, err
	}
	if o.State == "" {
		o.State = "draft"
	}
	if o.OrderDate.IsZero() {
		o.OrderDate = time.Now().UTC().Truncate(time.Second)
	}
	res, err := s.db.ExecContext(ctx, `INSERT INTO `+table+` (name, partner_name, state, amount_total, date_order, due_date)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.Name, o.PartnerName, o.State, o.AmountTotal, formatTime(o.OrderDate), nullTime(o.DueDate))
	if err != nil {
		return Order{}, fmt.Errorf("creating %s order: %w", kind, err)
	}
	if o.ID, err = res.LastInsertId(); err != nil {
		return Order{}, err
	}
	return o, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// likePattern builds a case-insensitive substring pattern with LIKE
// metacharacters escaped.
func likePattern(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(s) + "%"
}

/*
Package sqlite provides a SQLite-backed implementation of the billing storage
interfaces.

PURPOSE:
  Implements billing.Store and billing.TxStore using SQLite. In production,
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  users:      Accounts, payer links, autolock flags
  categories: Product groupings
  products:   Priced catalog entries
  free_items: Giveaway stock with leftover counts
  purchases:  Line items with snapshotted product fields
  payments:   Deposits against an account
  invoices:   Billing documents; purchases/payments reference them

DECIMALS AND TIMES:
  Money is stored as decimal TEXT (exact, no float drift) and parsed back
  with shopspring/decimal. Timestamps are RFC3339 TEXT.

CONCURRENCY:
  The connection pool is capped at a single connection and the database is
  opened in WAL mode with a busy timeout, so SQLite serializes writers and
  WithTx callbacks see a consistent view.

USAGE:
  store, err := sqlite.New("./data/bartab.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions
  - billing/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/bartab/billing"
)

// Store implements billing.TxStore using SQLite.
type Store struct {
	db *sql.DB
	ops
}

// New opens (or creates) the database at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps WithTx callbacks and plain calls from
	// fighting over the file; WAL still lets readers proceed.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, ops: ops{q: db}}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL COLLATE NOCASE UNIQUE,
		display_name TEXT NOT NULL UNIQUE,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_buyer BOOLEAN NOT NULL DEFAULT TRUE,
		is_favorite BOOLEAN NOT NULL DEFAULT FALSE,
		is_admin BOOLEAN NOT NULL DEFAULT FALSE,
		is_autolocked BOOLEAN NOT NULL DEFAULT FALSE,
		paid_by TEXT REFERENCES users(id),
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_paid_by
		ON users(paid_by) WHERE paid_by IS NOT NULL;

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		price TEXT NOT NULL,
		amount TEXT NOT NULL DEFAULT '',
		category_id TEXT NOT NULL REFERENCES categories(id),
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_bold BOOLEAN NOT NULL DEFAULT FALSE,
		UNIQUE(name, amount)
	);

	CREATE INDEX IF NOT EXISTS idx_products_category
		ON products(category_id);

	CREATE TABLE IF NOT EXISTS free_items (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL REFERENCES products(id),
		leftover INTEGER NOT NULL DEFAULT 0,
		purchasable BOOLEAN NOT NULL DEFAULT FALSE,
		giver_id TEXT REFERENCES users(id),
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		quantity INTEGER NOT NULL,
		category_name TEXT NOT NULL,
		product_name TEXT NOT NULL,
		product_amount TEXT NOT NULL DEFAULT '',
		product_price TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		invoice_id TEXT REFERENCES invoices(id),
		is_free_item_purchase BOOLEAN NOT NULL DEFAULT FALSE,
		free_item_description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Hot path: gathering unbilled rows per user during invoicing
	CREATE INDEX IF NOT EXISTS idx_purchases_user_unbilled
		ON purchases(user_id) WHERE invoice_id IS NULL;
	CREATE INDEX IF NOT EXISTS idx_purchases_invoice
		ON purchases(invoice_id) WHERE invoice_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_purchases_created_at
		ON purchases(created_at);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		amount TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		method TEXT NOT NULL,
		invoice_id TEXT REFERENCES invoices(id),
		created_at TEXT NOT NULL,
		value_date TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_user_unbilled
		ON payments(user_id) WHERE invoice_id IS NULL;
	CREATE INDEX IF NOT EXISTS idx_payments_invoice
		ON payments(invoice_id) WHERE invoice_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		recipient_id TEXT NOT NULL REFERENCES users(id),
		amount_purchases TEXT NOT NULL,
		amount_payments TEXT NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoices_recipient
		ON invoices(recipient_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (billing.TxStore interface)
// =============================================================================

// WithTx executes fn within a database transaction. The store handed to fn
// runs every read and write against the same transaction, so balances
// computed inside fn cannot see rows committed by a concurrent caller.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&ops{q: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements billing.Store against either the pool or an open
// transaction. Store embeds it for direct (auto-commit) access.
type ops struct {
	q dbtx
}

// =============================================================================
// USERS
// =============================================================================

func (o *ops) SaveUser(ctx context.Context, u billing.User) error {
	query := `
		INSERT INTO users (id, email, display_name, is_active, is_buyer, is_favorite,
			is_admin, is_autolocked, paid_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			email = excluded.email,
			display_name = excluded.display_name,
			is_active = excluded.is_active,
			is_buyer = excluded.is_buyer,
			is_favorite = excluded.is_favorite,
			is_admin = excluded.is_admin,
			is_autolocked = excluded.is_autolocked,
			paid_by = excluded.paid_by,
			updated_at = excluded.updated_at
	`

	_, err := o.q.ExecContext(ctx, query,
		u.ID, u.Email, u.DisplayName, u.IsActive, u.IsBuyer, u.IsFavorite,
		u.IsAdmin, u.IsAutolocked, nullUserID(u.PaidBy),
		formatTime(u.CreatedAt), formatTime(u.UpdatedAt),
	)
	if err != nil {
		if field, ok := uniqueViolation(err); ok {
			return &billing.ValidationError{Field: field, Message: "already taken"}
		}
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

const userColumns = `id, email, display_name, is_active, is_buyer, is_favorite,
	is_admin, is_autolocked, paid_by, created_at, updated_at`

func (o *ops) GetUser(ctx context.Context, id billing.UserID) (*billing.User, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id = ?", id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (o *ops) ListUsers(ctx context.Context, f billing.UserFilter) ([]billing.User, error) {
	query := "SELECT " + userColumns + " FROM users"
	var conds []string
	var args []any
	if f.IsActive != nil {
		conds = append(conds, "is_active = ?")
		args = append(args, *f.IsActive)
	}
	if f.IsBuyer != nil {
		conds = append(conds, "is_buyer = ?")
		args = append(args, *f.IsBuyer)
	}
	if f.IsFavorite != nil {
		conds = append(conds, "is_favorite = ?")
		args = append(args, *f.IsFavorite)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY display_name ASC"

	return o.queryUsers(ctx, query, args...)
}

func (o *ops) Dependents(ctx context.Context, payer billing.UserID) ([]billing.User, error) {
	return o.queryUsers(ctx,
		"SELECT "+userColumns+" FROM users WHERE paid_by = ? ORDER BY display_name ASC",
		payer)
}

func (o *ops) queryUsers(ctx context.Context, query string, args ...any) ([]billing.User, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []billing.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (billing.User, error) {
	var (
		u                    billing.User
		paidBy               sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.IsActive, &u.IsBuyer,
		&u.IsFavorite, &u.IsAdmin, &u.IsAutolocked, &paidBy, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return u, err
	}
	if err != nil {
		return u, fmt.Errorf("failed to scan user: %w", err)
	}
	if paidBy.Valid {
		id := billing.UserID(paidBy.String)
		u.PaidBy = &id
	}
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return u, nil
}

// =============================================================================
// CATALOG
// =============================================================================

func (o *ops) SaveCategory(ctx context.Context, c billing.Category) error {
	query := `
		INSERT INTO categories (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`
	_, err := o.q.ExecContext(ctx, query, c.ID, c.Name)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return &billing.ValidationError{Field: "name", Message: "already taken"}
		}
		return fmt.Errorf("failed to save category: %w", err)
	}
	return nil
}

func (o *ops) GetCategory(ctx context.Context, id billing.CategoryID) (*billing.Category, error) {
	var c billing.Category
	err := o.q.QueryRowContext(ctx,
		"SELECT id, name FROM categories WHERE id = ?", id).Scan(&c.ID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (o *ops) ListCategories(ctx context.Context) ([]billing.Category, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT id, name FROM categories ORDER BY name ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var categories []billing.Category
	for rows.Next() {
		var c billing.Category
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (o *ops) DeleteCategory(ctx context.Context, id billing.CategoryID) error {
	_, err := o.q.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id)
	return err
}

func (o *ops) SaveProduct(ctx context.Context, p billing.Product) error {
	query := `
		INSERT INTO products (id, name, price, amount, category_id, is_active, is_bold)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			price = excluded.price,
			amount = excluded.amount,
			category_id = excluded.category_id,
			is_active = excluded.is_active,
			is_bold = excluded.is_bold
	`
	_, err := o.q.ExecContext(ctx, query,
		p.ID, p.Name, p.Price.String(), p.Amount, p.CategoryID, p.IsActive, p.IsBold)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return &billing.ValidationError{Field: "name", Message: "product with this name and amount exists"}
		}
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

const productColumns = `id, name, price, amount, category_id, is_active, is_bold`

func (o *ops) GetProduct(ctx context.Context, id billing.ProductID) (*billing.Product, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (o *ops) ListProducts(ctx context.Context, f billing.ProductFilter) ([]billing.Product, error) {
	query := "SELECT " + productColumns + " FROM products"
	var conds []string
	var args []any
	if f.CategoryID != "" {
		conds = append(conds, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.ActiveOnly {
		conds = append(conds, "is_active = TRUE")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY name ASC, amount ASC"

	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	defer rows.Close()

	var products []billing.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row scanner) (billing.Product, error) {
	var (
		p     billing.Product
		price string
	)
	err := row.Scan(&p.ID, &p.Name, &price, &p.Amount, &p.CategoryID, &p.IsActive, &p.IsBold)
	if err == sql.ErrNoRows {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan product: %w", err)
	}
	p.Price = mustDecimal(price)
	return p, nil
}

func (o *ops) SaveFreeItem(ctx context.Context, fi billing.FreeItem) error {
	query := `
		INSERT INTO free_items (id, product_id, leftover, purchasable, giver_id, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			leftover = excluded.leftover,
			purchasable = excluded.purchasable,
			comment = excluded.comment
	`
	_, err := o.q.ExecContext(ctx, query,
		fi.ID, fi.ProductID, fi.Leftover, fi.Purchasable,
		nullUserID(fi.GiverID), fi.Comment, formatTime(fi.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save free item: %w", err)
	}
	return nil
}

const freeItemColumns = `id, product_id, leftover, purchasable, giver_id, comment, created_at`

func (o *ops) GetFreeItem(ctx context.Context, id billing.FreeItemID) (*billing.FreeItem, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+freeItemColumns+" FROM free_items WHERE id = ?", id)
	fi, err := scanFreeItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &fi, nil
}

func (o *ops) ListFreeItems(ctx context.Context, purchasableOnly bool) ([]billing.FreeItem, error) {
	query := "SELECT " + freeItemColumns + " FROM free_items"
	if purchasableOnly {
		query += " WHERE purchasable = TRUE AND leftover > 0"
	}
	query += " ORDER BY created_at ASC"

	rows, err := o.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query free items: %w", err)
	}
	defer rows.Close()

	var items []billing.FreeItem
	for rows.Next() {
		fi, err := scanFreeItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, fi)
	}
	return items, rows.Err()
}

func scanFreeItem(row scanner) (billing.FreeItem, error) {
	var (
		fi        billing.FreeItem
		giverID   sql.NullString
		createdAt string
	)
	err := row.Scan(&fi.ID, &fi.ProductID, &fi.Leftover, &fi.Purchasable,
		&giverID, &fi.Comment, &createdAt)
	if err == sql.ErrNoRows {
		return fi, err
	}
	if err != nil {
		return fi, fmt.Errorf("failed to scan free item: %w", err)
	}
	if giverID.Valid {
		id := billing.UserID(giverID.String)
		fi.GiverID = &id
	}
	fi.CreatedAt = parseTime(createdAt)
	return fi, nil
}

// =============================================================================
// PURCHASES
// =============================================================================

func (o *ops) SavePurchase(ctx context.Context, p billing.Purchase) error {
	query := `
		INSERT INTO purchases (id, user_id, quantity, category_name, product_name,
			product_amount, product_price, comment, invoice_id,
			is_free_item_purchase, free_item_description, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			quantity = excluded.quantity,
			category_name = excluded.category_name,
			product_name = excluded.product_name,
			product_amount = excluded.product_amount,
			product_price = excluded.product_price,
			comment = excluded.comment,
			invoice_id = excluded.invoice_id,
			updated_at = excluded.updated_at
	`
	_, err := o.q.ExecContext(ctx, query,
		p.ID, p.UserID, p.Quantity, p.CategoryName, p.ProductName,
		p.ProductAmount, p.ProductPrice.String(), p.Comment, nullInvoiceID(p.InvoiceID),
		p.IsFreeItemPurchase, p.FreeItemDescription,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save purchase: %w", err)
	}
	return nil
}

const purchaseColumns = `id, user_id, quantity, category_name, product_name,
	product_amount, product_price, comment, invoice_id,
	is_free_item_purchase, free_item_description, created_at, updated_at`

func (o *ops) GetPurchase(ctx context.Context, id billing.PurchaseID) (*billing.Purchase, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+purchaseColumns+" FROM purchases WHERE id = ?", id)
	p, err := scanPurchase(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (o *ops) DeletePurchase(ctx context.Context, id billing.PurchaseID) error {
	_, err := o.q.ExecContext(ctx, "DELETE FROM purchases WHERE id = ?", id)
	return err
}

func (o *ops) UnbilledPurchasesByUser(ctx context.Context, user billing.UserID) ([]billing.Purchase, error) {
	return o.queryPurchases(ctx,
		"SELECT "+purchaseColumns+` FROM purchases
		 WHERE user_id = ? AND invoice_id IS NULL
		 ORDER BY created_at ASC, id ASC`, user)
}

func (o *ops) PurchasesByInvoice(ctx context.Context, invoice billing.InvoiceID) ([]billing.Purchase, error) {
	return o.queryPurchases(ctx,
		"SELECT "+purchaseColumns+` FROM purchases
		 WHERE invoice_id = ?
		 ORDER BY created_at ASC, id ASC`, invoice)
}

func (o *ops) ListPurchases(ctx context.Context, f billing.PurchaseFilter) ([]billing.Purchase, error) {
	query := "SELECT " + purchaseColumns + " FROM purchases"
	var conds []string
	var args []any
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(f.To))
	}
	if f.CategoryName != "" {
		conds = append(conds, "category_name LIKE ?")
		args = append(args, "%"+f.CategoryName+"%")
	}
	if f.ProductName != "" {
		conds = append(conds, "product_name LIKE ?")
		args = append(args, "%"+f.ProductName+"%")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	return o.queryPurchases(ctx, query, args...)
}

func (o *ops) queryPurchases(ctx context.Context, query string, args ...any) ([]billing.Purchase, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query purchases: %w", err)
	}
	defer rows.Close()

	var purchases []billing.Purchase
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func scanPurchase(row scanner) (billing.Purchase, error) {
	var (
		p                    billing.Purchase
		price                string
		invoiceID            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&p.ID, &p.UserID, &p.Quantity, &p.CategoryName, &p.ProductName,
		&p.ProductAmount, &price, &p.Comment, &invoiceID,
		&p.IsFreeItemPurchase, &p.FreeItemDescription, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan purchase: %w", err)
	}
	p.ProductPrice = mustDecimal(price)
	if invoiceID.Valid {
		id := billing.InvoiceID(invoiceID.String)
		p.InvoiceID = &id
	}
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return p, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (o *ops) SavePayment(ctx context.Context, p billing.Payment) error {
	query := `
		INSERT INTO payments (id, user_id, amount, comment, method, invoice_id, created_at, value_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			comment = excluded.comment,
			method = excluded.method,
			invoice_id = excluded.invoice_id,
			value_date = excluded.value_date
	`
	_, err := o.q.ExecContext(ctx, query,
		p.ID, p.UserID, p.Amount.String(), p.Comment, p.Method,
		nullInvoiceID(p.InvoiceID), formatTime(p.CreatedAt), formatTime(p.ValueDate))
	if err != nil {
		return fmt.Errorf("failed to save payment: %w", err)
	}
	return nil
}

const paymentColumns = `id, user_id, amount, comment, method, invoice_id, created_at, value_date`

func (o *ops) GetPayment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+paymentColumns+" FROM payments WHERE id = ?", id)
	p, err := scanPayment(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (o *ops) DeletePayment(ctx context.Context, id billing.PaymentID) error {
	_, err := o.q.ExecContext(ctx, "DELETE FROM payments WHERE id = ?", id)
	return err
}

func (o *ops) UnbilledPaymentsByUser(ctx context.Context, user billing.UserID) ([]billing.Payment, error) {
	return o.queryPayments(ctx,
		"SELECT "+paymentColumns+` FROM payments
		 WHERE user_id = ? AND invoice_id IS NULL
		 ORDER BY created_at ASC, id ASC`, user)
}

func (o *ops) PaymentsByInvoice(ctx context.Context, invoice billing.InvoiceID) ([]billing.Payment, error) {
	return o.queryPayments(ctx,
		"SELECT "+paymentColumns+` FROM payments
		 WHERE invoice_id = ?
		 ORDER BY created_at ASC, id ASC`, invoice)
}

func (o *ops) ListPayments(ctx context.Context, f billing.PaymentFilter) ([]billing.Payment, error) {
	query := "SELECT " + paymentColumns + " FROM payments"
	var conds []string
	var args []any
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(f.To))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	return o.queryPayments(ctx, query, args...)
}

func (o *ops) queryPayments(ctx context.Context, query string, args ...any) ([]billing.Payment, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func scanPayment(row scanner) (billing.Payment, error) {
	var (
		p                    billing.Payment
		amount               string
		invoiceID            sql.NullString
		createdAt, valueDate string
	)
	err := row.Scan(&p.ID, &p.UserID, &amount, &p.Comment, &p.Method,
		&invoiceID, &createdAt, &valueDate)
	if err == sql.ErrNoRows {
		return p, err
	}
	if err != nil {
		return p, fmt.Errorf("failed to scan payment: %w", err)
	}
	p.Amount = mustDecimal(amount)
	if invoiceID.Valid {
		id := billing.InvoiceID(invoiceID.String)
		p.InvoiceID = &id
	}
	p.CreatedAt = parseTime(createdAt)
	p.ValueDate = parseTime(valueDate)
	return p, nil
}

// =============================================================================
// INVOICES
// =============================================================================

func (o *ops) SaveInvoice(ctx context.Context, inv billing.Invoice) error {
	query := `
		INSERT INTO invoices (id, recipient_id, amount_purchases, amount_payments, comment, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount_purchases = excluded.amount_purchases,
			amount_payments = excluded.amount_payments,
			comment = excluded.comment,
			updated_at = excluded.updated_at
	`
	_, err := o.q.ExecContext(ctx, query,
		inv.ID, inv.RecipientID, inv.AmountPurchases.String(), inv.AmountPayments.String(),
		inv.Comment, formatTime(inv.CreatedAt), formatTime(inv.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save invoice: %w", err)
	}
	return nil
}

const invoiceColumns = `id, recipient_id, amount_purchases, amount_payments, comment, created_at, updated_at`

func (o *ops) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	row := o.q.QueryRowContext(ctx,
		"SELECT "+invoiceColumns+" FROM invoices WHERE id = ?", id)
	inv, err := scanInvoice(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func (o *ops) InvoicesByRecipient(ctx context.Context, recipient billing.UserID) ([]billing.Invoice, error) {
	rows, err := o.q.QueryContext(ctx,
		"SELECT "+invoiceColumns+` FROM invoices
		 WHERE recipient_id = ?
		 ORDER BY created_at ASC, id ASC`, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// DeleteInvoice detaches linked purchases and payments before removing the
// invoice row. Callers must run this inside WithTx so the detach and delete
// commit together.
func (o *ops) DeleteInvoice(ctx context.Context, id billing.InvoiceID) error {
	if _, err := o.q.ExecContext(ctx,
		"UPDATE purchases SET invoice_id = NULL WHERE invoice_id = ?", id); err != nil {
		return fmt.Errorf("failed to detach purchases: %w", err)
	}
	if _, err := o.q.ExecContext(ctx,
		"UPDATE payments SET invoice_id = NULL WHERE invoice_id = ?", id); err != nil {
		return fmt.Errorf("failed to detach payments: %w", err)
	}
	if _, err := o.q.ExecContext(ctx,
		"DELETE FROM invoices WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete invoice: %w", err)
	}
	return nil
}

func scanInvoice(row scanner) (billing.Invoice, error) {
	var (
		inv                  billing.Invoice
		purchases, payments  string
		createdAt, updatedAt string
	)
	err := row.Scan(&inv.ID, &inv.RecipientID, &purchases, &payments,
		&inv.Comment, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return inv, err
	}
	if err != nil {
		return inv, fmt.Errorf("failed to scan invoice: %w", err)
	}
	inv.AmountPurchases = mustDecimal(purchases)
	inv.AmountPayments = mustDecimal(payments)
	inv.CreatedAt = parseTime(createdAt)
	inv.UpdatedAt = parseTime(updatedAt)
	return inv, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func mustDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func nullUserID(id *billing.UserID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

func nullInvoiceID(id *billing.InvoiceID) any {
	if id == nil {
		return nil
	}
	return string(*id)
}

// uniqueViolation maps a SQLite unique-constraint error to the offending
// field name, when it can be identified.
func uniqueViolation(err error) (string, bool) {
	msg := err.Error()
	if !strings.Contains(msg, "UNIQUE constraint failed") {
		return "", false
	}
	switch {
	case strings.Contains(msg, "users.email"):
		return "email", true
	case strings.Contains(msg, "users.display_name"):
		return "display_name", true
	default:
		return "name", true
	}
}

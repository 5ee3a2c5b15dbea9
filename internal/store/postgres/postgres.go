package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"tokobill/backend/internal/domain"
	"tokobill/backend/internal/numbering"
	"tokobill/backend/internal/store"
	"tokobill/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	if shop.ShopName == "" || shop.OwnerName == "" {
		return nil, store.ErrValidation
	}
	if shop.ID == "" {
		shop.ID = xid.New("shop")
	}
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}
	shop.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, shop_name, owner_name, phone, address, city, state, gst_number, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, shop.ID, shop.ShopName, shop.OwnerName, shop.Phone, shop.Address, shop.City, shop.State, nullIfEmpty(shop.GSTNumber), shop.Active, shop.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	created := shop
	return &created, nil
}

func (s *Store) GetShop(ctx context.Context, shopID string) (*domain.Shop, error) {
	var shop domain.Shop
	var gstNumber sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_name, owner_name, phone, address, city, state, gst_number, active, created_at
		FROM shops
		WHERE id = $1
	`, shopID).Scan(&shop.ID, &shop.ShopName, &shop.OwnerName, &shop.Phone, &shop.Address, &shop.City, &shop.State, &gstNumber, &shop.Active, &shop.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if gstNumber.Valid {
		shop.GSTNumber = gstNumber.String
	}
	shop.CreatedAt = shop.CreatedAt.UTC()
	return &shop, nil
}

func (s *Store) UpdateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error) {
	if shop.ShopName == "" || shop.OwnerName == "" {
		return nil, store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE shops
		SET shop_name = $2, owner_name = $3, phone = $4, address = $5, city = $6, state = $7, gst_number = $8
		WHERE id = $1
	`, shop.ID, shop.ShopName, shop.OwnerName, shop.Phone, shop.Address, shop.City, shop.State, nullIfEmpty(shop.GSTNumber))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetShop(ctx, shop.ID)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" || user.Role == "" || user.ShopID == "" {
		return store.ErrValidation
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, shop_id, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Password, user.Role, user.ShopID, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, username string) (*domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password, role, shop_id, active, created_at
		FROM app_users
		WHERE username = $1
	`, username).Scan(&user.Username, &user.Password, &user.Role, &user.ShopID, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, shop_id, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.ShopID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ShopID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, email, address, city, gst_number, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, customer.ID, customer.ShopID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.City, nullIfEmpty(customer.GSTNumber), customer.CreatedAt, customer.UpdatedAt)
	if err != nil {
		return nil, err
	}
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error) {
	var customer domain.Customer
	var gstNumber sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, phone, email, address, city, gst_number, created_at, updated_at
		FROM customers
		WHERE id = $1 AND shop_id = $2
	`, customerID, shopID).Scan(&customer.ID, &customer.ShopID, &customer.Name, &customer.Phone, &customer.Email, &customer.Address, &customer.City, &gstNumber, &customer.CreatedAt, &customer.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if gstNumber.Valid {
		customer.GSTNumber = gstNumber.String
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	customer.UpdatedAt = customer.UpdatedAt.UTC()
	return &customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.ShopID == "" || strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $3, phone = $4, email = $5, address = $6, city = $7, gst_number = $8, updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, customer.ID, customer.ShopID, customer.Name, customer.Phone, customer.Email, customer.Address, customer.City, nullIfEmpty(customer.GSTNumber))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, shopID string, customerID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM customers WHERE id = $1 AND shop_id = $2
	`, customerID, shopID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCustomers(ctx context.Context, shopID string, search string, limit int, offset int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, phone, email, address, city, gst_number, created_at, updated_at
		FROM customers
		WHERE shop_id = $1
			AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR phone ILIKE '%' || $2 || '%')
		ORDER BY name ASC
		LIMIT $3 OFFSET $4
	`, shopID, strings.TrimSpace(search), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var customer domain.Customer
		var gstNumber sql.NullString
		if err := rows.Scan(&customer.ID, &customer.ShopID, &customer.Name, &customer.Phone, &customer.Email, &customer.Address, &customer.City, &gstNumber, &customer.CreatedAt, &customer.UpdatedAt); err != nil {
			return nil, err
		}
		if gstNumber.Valid {
			customer.GSTNumber = gstNumber.String
		}
		customer.CreatedAt = customer.CreatedAt.UTC()
		customer.UpdatedAt = customer.UpdatedAt.UTC()
		customers = append(customers, customer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ShopID == "" || strings.TrimSpace(product.Name) == "" || strings.TrimSpace(product.Unit) == "" {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, shop_id, name, category, brand, description, unit,
			price, stock_quantity, min_stock_level, active, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, product.ID, product.ShopID, product.Name, product.Category, product.Brand, product.Description, product.Unit,
		product.Price, product.StockQuantity, product.MinStockLevel, product.Active, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return nil, err
	}
	created := product
	return &created, nil
}

func (s *Store) GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, name, category, brand, description, unit,
			price, stock_quantity, min_stock_level, active, created_at, updated_at
		FROM products
		WHERE id = $1 AND shop_id = $2
	`, productID, shopID).Scan(&p.ID, &p.ShopID, &p.Name, &p.Category, &p.Brand, &p.Description, &p.Unit,
		&p.Price, &p.StockQuantity, &p.MinStockLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.ShopID == "" || strings.TrimSpace(product.Name) == "" {
		return nil, store.ErrValidation
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $3, category = $4, brand = $5, description = $6, unit = $7,
			price = $8, min_stock_level = $9, active = $10, updated_at = now()
		WHERE id = $1 AND shop_id = $2
	`, product.ID, product.ShopID, product.Name, product.Category, product.Brand, product.Description, product.Unit,
		product.Price, product.MinStockLevel, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProduct(ctx, product.ShopID, product.ID)
}

func (s *Store) ListProducts(ctx context.Context, shopID string, filter domain.ProductFilter) ([]domain.Product, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, category, brand, description, unit,
			price, stock_quantity, min_stock_level, active, created_at, updated_at
		FROM products
		WHERE shop_id = $1
			AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR brand ILIKE '%' || $2 || '%')
			AND ($3 = '' OR category = $3)
			AND (NOT $4 OR active = true)
		ORDER BY category, name
		LIMIT $5 OFFSET $6
	`, shopID, strings.TrimSpace(filter.Search), filter.Category, filter.ActiveOnly, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, limit)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ShopID, &p.Name, &p.Category, &p.Brand, &p.Description, &p.Unit,
			&p.Price, &p.StockQuantity, &p.MinStockLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) ListProductCategories(ctx context.Context, shopID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT category
		FROM products
		WHERE shop_id = $1 AND active = true AND category <> ''
		ORDER BY category
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]string, 0)
	for rows.Next() {
		var category string
		if err := rows.Scan(&category); err != nil {
			return nil, err
		}
		categories = append(categories, category)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return categories, nil
}

func (s *Store) GetProductsByIDs(ctx context.Context, shopID string, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, name, category, brand, description, unit,
			price, stock_quantity, min_stock_level, active, created_at, updated_at
		FROM products
		WHERE shop_id = $1 AND id = ANY($2)
	`, shopID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.ShopID, &p.Name, &p.Category, &p.Brand, &p.Description, &p.Unit,
			&p.Price, &p.StockQuantity, &p.MinStockLevel, &p.Active, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, shopID string, adjustments []domain.StockAdjustment) error {
	if len(adjustments) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := applyStockLocked(ctx, tx, shopID, adjustments); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

// applyStockLocked applies signed stock deltas inside an open transaction.
// Every product must exist in the shop; decrements clamp at zero.
func applyStockLocked(ctx context.Context, tx *sql.Tx, shopID string, adjustments []domain.StockAdjustment) error {
	for _, adj := range adjustments {
		res, err := tx.ExecContext(ctx, `
			UPDATE products
			SET stock_quantity = GREATEST(0, stock_quantity + $3), updated_at = now()
			WHERE id = $1 AND shop_id = $2
		`, adj.ProductID, shopID, adj.Delta)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return fmt.Errorf("product %s: %w", adj.ProductID, store.ErrNotFound)
		}
	}
	return nil
}

func (s *Store) CreateInvoice(ctx context.Context, inv domain.Invoice, stock []domain.StockAdjustment) (*domain.Invoice, error) {
	if inv.ShopID == "" || len(inv.Items) == 0 {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if inv.InvoiceNumber == "" {
		var count int
		err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM invoices WHERE shop_id = $1
		`, inv.ShopID).Scan(&count)
		if err != nil {
			return nil, err
		}
		inv.InvoiceNumber = numbering.Format(inv.ShopID, inv.InvoiceDate, count+1)
	}

	now := time.Now().UTC()
	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO invoices (
			id, shop_id, customer_id, invoice_number, invoice_date, due_date,
			subtotal, tax_amount, discount_amount, total_amount, paid_amount, balance_amount,
			status, notes, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, inv.ID, inv.ShopID, nullIfEmpty(inv.CustomerID), inv.InvoiceNumber, inv.InvoiceDate, nullTimePtr(inv.DueDate),
		inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount, inv.PaidAmount, inv.BalanceAmount,
		inv.Status, inv.Notes, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	for i := range inv.Items {
		item := &inv.Items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.InvoiceID = inv.ID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		if err := insertInvoiceItem(ctx, tx, *item); err != nil {
			return nil, err
		}
	}
	for i := range inv.Payments {
		payment := &inv.Payments[i]
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.InvoiceID = inv.ID
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = now
		}
		if err := insertInvoicePayment(ctx, tx, *payment); err != nil {
			return nil, err
		}
	}

	if err := applyStockLocked(ctx, tx, inv.ShopID, stock); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	created := inv
	return &created, nil
}

func (s *Store) SaveInvoice(ctx context.Context, inv domain.Invoice, stock []domain.StockAdjustment) (*domain.Invoice, error) {
	if inv.ID == "" || inv.ShopID == "" {
		return nil, store.ErrValidation
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID string
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM invoices WHERE id = $1 AND shop_id = $2 FOR UPDATE
	`, inv.ID, inv.ShopID).Scan(&existingID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	now := time.Now().UTC()
	inv.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		UPDATE invoices
		SET customer_id = $3, invoice_number = $4, invoice_date = $5, due_date = $6,
			subtotal = $7, tax_amount = $8, discount_amount = $9, total_amount = $10,
			paid_amount = $11, balance_amount = $12, status = $13, notes = $14, updated_at = $15
		WHERE id = $1 AND shop_id = $2
	`, inv.ID, inv.ShopID, nullIfEmpty(inv.CustomerID), inv.InvoiceNumber, inv.InvoiceDate, nullTimePtr(inv.DueDate),
		inv.Subtotal, inv.TaxAmount, inv.DiscountAmount, inv.TotalAmount,
		inv.PaidAmount, inv.BalanceAmount, inv.Status, inv.Notes, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	// Replace the aggregate wholesale. Returns shrink item rows and payments
	// only ever grow, so delete and reinsert keeps the two sides in lockstep.
	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, inv.ID); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_payments WHERE invoice_id = $1`, inv.ID); err != nil {
		return nil, err
	}

	for i := range inv.Items {
		item := &inv.Items[i]
		if item.ID == "" {
			item.ID = xid.New("item")
		}
		item.InvoiceID = inv.ID
		if item.CreatedAt.IsZero() {
			item.CreatedAt = now
		}
		if err := insertInvoiceItem(ctx, tx, *item); err != nil {
			return nil, err
		}
	}
	for i := range inv.Payments {
		payment := &inv.Payments[i]
		if payment.ID == "" {
			payment.ID = xid.New("pay")
		}
		payment.InvoiceID = inv.ID
		if payment.CreatedAt.IsZero() {
			payment.CreatedAt = now
		}
		if err := insertInvoicePayment(ctx, tx, *payment); err != nil {
			return nil, err
		}
	}

	if err := applyStockLocked(ctx, tx, inv.ShopID, stock); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, mapTxError(err)
	}
	saved := inv
	return &saved, nil
}

func insertInvoiceItem(ctx context.Context, tx *sql.Tx, item domain.InvoiceItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_items (id, invoice_id, product_id, product_name, unit, quantity, unit_price, total_price, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, item.ID, item.InvoiceID, item.ProductID, item.ProductName, item.Unit, item.Quantity, item.UnitPrice, item.TotalPrice, item.CreatedAt)
	return err
}

func insertInvoicePayment(ctx context.Context, tx *sql.Tx, payment domain.InvoicePayment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO invoice_payments (id, invoice_id, amount, payment_method, payment_date, reference_number, notes, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, payment.ID, payment.InvoiceID, payment.Amount, payment.PaymentMethod, payment.PaymentDate, nullIfEmpty(payment.ReferenceNumber), payment.Notes, nullIfEmpty(payment.IdempotencyKey), payment.CreatedAt)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	inv, err := scanInvoiceRow(s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, customer_id, invoice_number, invoice_date, due_date,
			subtotal, tax_amount, discount_amount, total_amount, paid_amount, balance_amount,
			status, notes, created_at, updated_at
		FROM invoices
		WHERE id = $1 AND shop_id = $2
	`, invoiceID, shopID))
	if err != nil {
		return nil, err
	}

	if err := s.loadInvoiceLines(ctx, []*domain.Invoice{inv}); err != nil {
		return nil, err
	}
	return inv, nil
}

func (s *Store) FindInvoicePaymentByIdempotency(ctx context.Context, shopID string, invoiceID string, key string) (*domain.InvoicePayment, error) {
	if key == "" {
		return nil, store.ErrNotFound
	}

	var payment domain.InvoicePayment
	var reference sql.NullString
	var idemKey sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT p.id, p.invoice_id, p.amount, p.payment_method, p.payment_date,
			p.reference_number, p.notes, p.idempotency_key, p.created_at
		FROM invoice_payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE i.shop_id = $1 AND p.invoice_id = $2 AND p.idempotency_key = $3
	`, shopID, invoiceID, key).Scan(
		&payment.ID, &payment.InvoiceID, &payment.Amount, &payment.PaymentMethod, &payment.PaymentDate,
		&reference, &payment.Notes, &idemKey, &payment.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if reference.Valid {
		payment.ReferenceNumber = reference.String
	}
	if idemKey.Valid {
		payment.IdempotencyKey = idemKey.String
	}
	payment.PaymentDate = payment.PaymentDate.UTC()
	payment.CreatedAt = payment.CreatedAt.UTC()
	return &payment, nil
}

func (s *Store) ListInvoices(ctx context.Context, shopID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	orderBy := "i.invoice_date DESC, i.created_at DESC"
	switch filter.Sort {
	case domain.SortOldest:
		orderBy = "i.invoice_date ASC, i.created_at ASC"
	case domain.SortAmountHigh:
		orderBy = "i.total_amount DESC"
	case domain.SortAmountLow:
		orderBy = "i.total_amount ASC"
	}

	var dateFilter time.Time
	hasDate := filter.DateFilter != nil
	if hasDate {
		dateFilter = *filter.DateFilter
	}
	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// The stored status never says overdue; it is derived against the
	// reference time both for the returned rows and the status filter.
	derivedStatus := `CASE
			WHEN i.balance_amount <= 0 THEN 'paid'
			WHEN i.due_date IS NOT NULL AND i.due_date < $9 THEN 'overdue'
			WHEN i.paid_amount > 0 THEN 'partial'
			ELSE 'pending'
		END`

	query := fmt.Sprintf(`
		SELECT i.id, i.shop_id, i.customer_id, i.invoice_number, i.invoice_date, i.due_date,
			i.subtotal, i.tax_amount, i.discount_amount, i.total_amount, i.paid_amount, i.balance_amount,
			%s, i.notes, i.created_at, i.updated_at
		FROM invoices i
		LEFT JOIN customers c ON c.id = i.customer_id
		WHERE i.shop_id = $1
			AND ($2 = '' OR %s = $2)
			AND ($3 = '' OR i.customer_id = $3)
			AND ($4 = '' OR i.invoice_number ILIKE '%%' || $4 || '%%' OR c.name ILIKE '%%' || $4 || '%%')
			AND (NOT $5 OR i.invoice_date::date = $6::date)
		ORDER BY %s
		LIMIT $7 OFFSET $8
	`, derivedStatus, derivedStatus, orderBy)

	rows, err := s.db.QueryContext(ctx, query, shopID, filter.Status, filter.CustomerID, strings.TrimSpace(filter.Search), hasDate, dateFilter, limit, offset, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, limit)
	refs := make([]*domain.Invoice, 0, limit)
	for rows.Next() {
		inv, err := scanInvoiceRows(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
		refs = append(refs, &invoices[len(invoices)-1])
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadInvoiceLines(ctx, refs); err != nil {
		return nil, err
	}
	return invoices, nil
}

func (s *Store) CountInvoicesForShop(ctx context.Context, shopID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invoices WHERE shop_id = $1
	`, shopID).Scan(&count)
	return count, err
}

func (s *Store) DeleteInvoice(ctx context.Context, shopID string, invoiceID string) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM invoices WHERE id = $1 AND shop_id = $2
	`, invoiceID, shopID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM invoice_payments WHERE invoice_id = $1`, invoiceID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return mapTxError(err)
	}
	return nil
}

// loadInvoiceLines fills Items and Payments for the given invoices with two
// batched queries, the same shape for a single invoice and a page of them.
func (s *Store) loadInvoiceLines(ctx context.Context, invoices []*domain.Invoice) error {
	if len(invoices) == 0 {
		return nil
	}
	ids := make([]string, 0, len(invoices))
	byID := make(map[string]*domain.Invoice, len(invoices))
	for _, inv := range invoices {
		ids = append(ids, inv.ID)
		byID[inv.ID] = inv
		inv.Items = make([]domain.InvoiceItem, 0, 4)
		inv.Payments = make([]domain.InvoicePayment, 0, 2)
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, product_id, product_name, unit, quantity, unit_price, total_price, created_at
		FROM invoice_items
		WHERE invoice_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`, ids)
	if err != nil {
		return err
	}
	for itemRows.Next() {
		var item domain.InvoiceItem
		if err := itemRows.Scan(&item.ID, &item.InvoiceID, &item.ProductID, &item.ProductName, &item.Unit, &item.Quantity, &item.UnitPrice, &item.TotalPrice, &item.CreatedAt); err != nil {
			_ = itemRows.Close()
			return err
		}
		item.CreatedAt = item.CreatedAt.UTC()
		if inv := byID[item.InvoiceID]; inv != nil {
			inv.Items = append(inv.Items, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return err
	}
	_ = itemRows.Close()

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT id, invoice_id, amount, payment_method, payment_date, reference_number, notes, idempotency_key, created_at
		FROM invoice_payments
		WHERE invoice_id = ANY($1)
		ORDER BY payment_date ASC, created_at ASC
	`, ids)
	if err != nil {
		return err
	}
	defer paymentRows.Close()
	for paymentRows.Next() {
		var payment domain.InvoicePayment
		var reference sql.NullString
		var idemKey sql.NullString
		if err := paymentRows.Scan(&payment.ID, &payment.InvoiceID, &payment.Amount, &payment.PaymentMethod, &payment.PaymentDate, &reference, &payment.Notes, &idemKey, &payment.CreatedAt); err != nil {
			return err
		}
		if reference.Valid {
			payment.ReferenceNumber = reference.String
		}
		if idemKey.Valid {
			payment.IdempotencyKey = idemKey.String
		}
		payment.PaymentDate = payment.PaymentDate.UTC()
		payment.CreatedAt = payment.CreatedAt.UTC()
		if inv := byID[payment.InvoiceID]; inv != nil {
			inv.Payments = append(inv.Payments, payment)
		}
	}
	return paymentRows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoiceRow(row *sql.Row) (*domain.Invoice, error) {
	inv, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

func scanInvoiceRows(rows *sql.Rows) (*domain.Invoice, error) {
	return scanInvoice(rows)
}

func scanInvoice(scanner rowScanner) (*domain.Invoice, error) {
	var inv domain.Invoice
	var customerID sql.NullString
	var dueDate sql.NullTime
	err := scanner.Scan(
		&inv.ID, &inv.ShopID, &customerID, &inv.InvoiceNumber, &inv.InvoiceDate, &dueDate,
		&inv.Subtotal, &inv.TaxAmount, &inv.DiscountAmount, &inv.TotalAmount, &inv.PaidAmount, &inv.BalanceAmount,
		&inv.Status, &inv.Notes, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		inv.CustomerID = customerID.String
	}
	if dueDate.Valid {
		at := dueDate.Time.UTC()
		inv.DueDate = &at
	}
	inv.InvoiceDate = inv.InvoiceDate.UTC()
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	return &inv, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ShopID == "" || strings.TrimSpace(expense.Title) == "" {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, shop_id, title, description, amount, category, expense_date, payment_method, reference_number, notes, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, expense.ID, expense.ShopID, expense.Title, expense.Description, expense.Amount, expense.Category, expense.ExpenseDate, expense.PaymentMethod, nullIfEmpty(expense.ReferenceNumber), expense.Notes, expense.CreatedAt)
	if err != nil {
		return nil, err
	}
	created := expense
	return &created, nil
}

func (s *Store) GetExpense(ctx context.Context, shopID string, expenseID string) (*domain.Expense, error) {
	var expense domain.Expense
	var reference sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, title, description, amount, category, expense_date, payment_method, reference_number, notes, created_at
		FROM expenses
		WHERE id = $1 AND shop_id = $2
	`, expenseID, shopID).Scan(&expense.ID, &expense.ShopID, &expense.Title, &expense.Description, &expense.Amount, &expense.Category, &expense.ExpenseDate, &expense.PaymentMethod, &reference, &expense.Notes, &expense.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if reference.Valid {
		expense.ReferenceNumber = reference.String
	}
	expense.ExpenseDate = expense.ExpenseDate.UTC()
	expense.CreatedAt = expense.CreatedAt.UTC()
	return &expense, nil
}

func (s *Store) ListExpenses(ctx context.Context, shopID string, filter domain.ExpenseFilter) ([]domain.Expense, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var dateFilter time.Time
	hasDate := filter.DateFilter != nil
	if hasDate {
		dateFilter = *filter.DateFilter
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, title, description, amount, category, expense_date, payment_method, reference_number, notes, created_at
		FROM expenses
		WHERE shop_id = $1
			AND ($2 = '' OR category = $2)
			AND ($3 = '' OR title ILIKE '%' || $3 || '%' OR description ILIKE '%' || $3 || '%')
			AND (NOT $4 OR expense_date::date = $5::date)
		ORDER BY expense_date DESC, created_at DESC
		LIMIT $6 OFFSET $7
	`, shopID, filter.Category, strings.TrimSpace(filter.Search), hasDate, dateFilter, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, limit)
	for rows.Next() {
		var expense domain.Expense
		var reference sql.NullString
		if err := rows.Scan(&expense.ID, &expense.ShopID, &expense.Title, &expense.Description, &expense.Amount, &expense.Category, &expense.ExpenseDate, &expense.PaymentMethod, &reference, &expense.Notes, &expense.CreatedAt); err != nil {
			return nil, err
		}
		if reference.Valid {
			expense.ReferenceNumber = reference.String
		}
		expense.ExpenseDate = expense.ExpenseDate.UTC()
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) DeleteExpense(ctx context.Context, shopID string, expenseID string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM expenses WHERE id = $1 AND shop_id = $2
	`, expenseID, shopID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) GetDashboardSummary(ctx context.Context, shopID string) (domain.DashboardSummary, error) {
	summary := domain.DashboardSummary{
		ShopID:             shopID,
		TotalSales:         decimal.Zero,
		TotalPaid:          decimal.Zero,
		OutstandingBalance: decimal.Zero,
		TotalExpenses:      decimal.Zero,
		InvoicesByStatus:   make(map[string]int, 4),
		GeneratedAt:        time.Now().UTC(),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::int,
			COALESCE(SUM(total_amount), 0),
			COALESCE(SUM(paid_amount), 0),
			COALESCE(SUM(balance_amount), 0)
		FROM invoices
		WHERE shop_id = $1
	`, shopID).Scan(&summary.InvoiceCount, &summary.TotalSales, &summary.TotalPaid, &summary.OutstandingBalance)
	if err != nil {
		return summary, err
	}

	statusRows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*)::int
		FROM invoices
		WHERE shop_id = $1
		GROUP BY status
	`, shopID)
	if err != nil {
		return summary, err
	}
	for statusRows.Next() {
		var status string
		var count int
		if err := statusRows.Scan(&status, &count); err != nil {
			_ = statusRows.Close()
			return summary, err
		}
		summary.InvoicesByStatus[status] = count
	}
	if err := statusRows.Err(); err != nil {
		_ = statusRows.Close()
		return summary, err
	}
	_ = statusRows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM expenses WHERE shop_id = $1
	`, shopID).Scan(&summary.TotalExpenses)
	if err != nil {
		return summary, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)::int FROM customers WHERE shop_id = $1
	`, shopID).Scan(&summary.CustomerCount)
	if err != nil {
		return summary, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::int,
			COALESCE(SUM(CASE WHEN stock_quantity <= min_stock_level THEN 1 ELSE 0 END), 0)::int
		FROM products
		WHERE shop_id = $1 AND active = true
	`, shopID).Scan(&summary.ProductCount, &summary.LowStockCount)
	if err != nil {
		return summary, err
	}

	return summary, nil
}

func nullIfEmpty(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullTimePtr(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapTxError translates commit-time failures. Serialization failures (40001)
// surface as ErrConflict so callers can retry.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "40001" || pgErr.Code == "23505" {
			return store.ErrConflict
		}
	}
	return err
}

package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokobill/backend/internal/domain"
	"tokobill/backend/internal/ledger"
	"tokobill/backend/internal/numbering"
	"tokobill/backend/internal/store"
	"tokobill/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	shopsByID       map[string]domain.Shop
	usersByUsername map[string]domain.UserAccount
	customersByID   map[string]domain.Customer
	productsByID    map[string]domain.Product
	invoicesByID    map[string]domain.Invoice
	expensesByID    map[string]domain.Expense
}

func New() *Store {
	return &Store{
		shopsByID:       make(map[string]domain.Shop),
		usersByUsername: make(map[string]domain.UserAccount),
		customersByID:   make(map[string]domain.Customer),
		productsByID:    make(map[string]domain.Product),
		invoicesByID:    make(map[string]domain.Invoice),
		expensesByID:    make(map[string]domain.Expense),
	}
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD. If
// unset, hardcoded dev defaults are used with a warning printed to stdout.
// These credentials are never used in production (the backend uses
// PostgreSQL when DATABASE_URL is set).
func seedUsers(shopID string) map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"owner", ownerPwd, domain.RoleOwner},
		{"staff", staffPwd, domain.RoleStaff},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			ShopID:    shopID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()

	shop := domain.Shop{
		ID:        "shop-demo",
		ShopName:  "Toko Sumber Rejeki",
		OwnerName: "Budi Santoso",
		Phone:     "081234567890",
		Address:   "Jl. Pasar Baru 12",
		City:      "Bandung",
		State:     "Jawa Barat",
		Active:    true,
		CreatedAt: now,
	}
	s.shopsByID[shop.ID] = shop
	s.usersByUsername = seedUsers(shop.ID)

	products := []domain.Product{
		{Name: "Beras Premium 5kg", Category: "grocery", Unit: "bag", Price: dec("72000"), StockQuantity: dec("40"), MinStockLevel: dec("10")},
		{Name: "Minyak Goreng 1L", Category: "grocery", Unit: "bottle", Price: dec("18500"), StockQuantity: dec("60"), MinStockLevel: dec("15")},
		{Name: "Gula Pasir 1kg", Category: "grocery", Unit: "pack", Price: dec("17400"), StockQuantity: dec("35"), MinStockLevel: dec("10")},
		{Name: "Kopi Bubuk 250g", Category: "beverage", Unit: "pack", Price: dec("24000"), StockQuantity: dec("25"), MinStockLevel: dec("5")},
		{Name: "Teh Celup Isi 25", Category: "beverage", Unit: "box", Price: dec("9800"), StockQuantity: dec("30"), MinStockLevel: dec("8")},
		{Name: "Sabun Mandi Batang", Category: "household", Unit: "pcs", Price: dec("7400"), StockQuantity: dec("50"), MinStockLevel: dec("12")},
	}
	for _, p := range products {
		p.ID = xid.New("prod")
		p.ShopID = shop.ID
		p.Active = true
		p.CreatedAt = now
		p.UpdatedAt = now
		s.productsByID[p.ID] = p
	}

	customer := domain.Customer{
		ID:        xid.New("cust"),
		ShopID:    shop.ID,
		Name:      "Warung Bu Sari",
		Phone:     "081298765432",
		City:      "Bandung",
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.customersByID[customer.ID] = customer

	return s
}

func dec(v string) decimal.Decimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		log.Fatalf("[memory-store] bad seed amount %q: %v", v, err)
	}
	return d
}

func (s *Store) CreateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shop.ShopName == "" || shop.OwnerName == "" {
		return nil, store.ErrValidation
	}
	if shop.ID == "" {
		shop.ID = xid.New("shop")
	}
	if _, exists := s.shopsByID[shop.ID]; exists {
		return nil, store.ErrConflict
	}
	if shop.CreatedAt.IsZero() {
		shop.CreatedAt = time.Now().UTC()
	}
	shop.Active = true
	s.shopsByID[shop.ID] = shop
	created := shop
	return &created, nil
}

func (s *Store) GetShop(_ context.Context, shopID string) (*domain.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shop, exists := s.shopsByID[shopID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyShop := shop
	return &copyShop, nil
}

func (s *Store) UpdateShop(_ context.Context, shop domain.Shop) (*domain.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.shopsByID[shop.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shop.ShopName == "" || shop.OwnerName == "" {
		return nil, store.ErrValidation
	}
	shop.Active = existing.Active
	shop.CreatedAt = existing.CreatedAt
	s.shopsByID[shop.ID] = shop
	updated := shop
	return &updated, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByUsername[user.Username]; exists {
		return store.ErrConflict
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) GetUser(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ShopID == "" || customer.Name == "" {
		return nil, store.ErrValidation
	}
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now
	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomer(_ context.Context, shopID string, customerID string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.customersByID[customer.ID]
	if !exists || existing.ShopID != customer.ShopID {
		return nil, store.ErrNotFound
	}
	if customer.Name == "" {
		return nil, store.ErrValidation
	}
	customer.CreatedAt = existing.CreatedAt
	customer.UpdatedAt = time.Now().UTC()
	s.customersByID[customer.ID] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, shopID string, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[customerID]
	if !exists || customer.ShopID != shopID {
		return store.ErrNotFound
	}
	delete(s.customersByID, customerID)
	return nil
}

func (s *Store) ListCustomers(_ context.Context, shopID string, search string, limit int, offset int) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		if c.ShopID != shopID {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(c.Name), needle) &&
			!strings.Contains(strings.ToLower(c.Phone), needle) &&
			!strings.Contains(strings.ToLower(c.City), needle) {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return paginate(customers, limit, offset), nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.ShopID == "" || product.Name == "" || product.Unit == "" {
		return nil, store.ErrValidation
	}
	if product.Price.LessThanOrEqual(decimal.Zero) {
		return nil, store.ErrValidation
	}
	if product.StockQuantity.IsNegative() || product.MinStockLevel.IsNegative() {
		return nil, store.ErrValidation
	}
	if product.ID == "" {
		product.ID = xid.New("prod")
	}
	if _, exists := s.productsByID[product.ID]; exists {
		return nil, store.ErrConflict
	}
	now := time.Now().UTC()
	product.Active = true
	product.CreatedAt = now
	product.UpdatedAt = now
	s.productsByID[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProduct(_ context.Context, shopID string, productID string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.productsByID[productID]
	if !exists || product.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.productsByID[product.ID]
	if !exists || existing.ShopID != product.ShopID {
		return nil, store.ErrNotFound
	}
	if product.Name == "" || product.Unit == "" || product.Price.LessThanOrEqual(decimal.Zero) {
		return nil, store.ErrValidation
	}
	product.CreatedAt = existing.CreatedAt
	product.UpdatedAt = time.Now().UTC()
	s.productsByID[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) ListProducts(_ context.Context, shopID string, filter domain.ProductFilter) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		if p.ShopID != shopID {
			continue
		}
		if filter.ActiveOnly && !p.Active {
			continue
		}
		if filter.Category != "" && p.Category != filter.Category {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(p.Name), needle) &&
			!strings.Contains(strings.ToLower(p.Brand), needle) {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return paginate(products, filter.Limit, filter.Offset), nil
}

func (s *Store) ListProductCategories(_ context.Context, shopID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	categories := make([]string, 0)
	for _, p := range s.productsByID {
		if p.ShopID != shopID || !p.Active || p.Category == "" {
			continue
		}
		if _, exists := seen[p.Category]; exists {
			continue
		}
		seen[p.Category] = struct{}{}
		categories = append(categories, p.Category)
	}
	slices.Sort(categories)
	return categories, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, shopID string, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		p, exists := s.productsByID[id]
		if !exists || p.ShopID != shopID {
			continue
		}
		out[id] = p
	}
	return out, nil
}

func (s *Store) AdjustStock(_ context.Context, shopID string, adjustments []domain.StockAdjustment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustStockLocked(shopID, adjustments)
}

// adjustStockLocked applies signed deltas, clamping at zero. Callers hold mu.
func (s *Store) adjustStockLocked(shopID string, adjustments []domain.StockAdjustment) error {
	for _, adj := range adjustments {
		p, exists := s.productsByID[adj.ProductID]
		if !exists || p.ShopID != shopID {
			return store.ErrNotFound
		}
	}
	now := time.Now().UTC()
	for _, adj := range adjustments {
		p := s.productsByID[adj.ProductID]
		next := p.StockQuantity.Add(adj.Delta)
		if next.IsNegative() {
			next = decimal.Zero
		}
		p.StockQuantity = next
		p.UpdatedAt = now
		s.productsByID[adj.ProductID] = p
	}
	return nil
}

func (s *Store) CreateInvoice(_ context.Context, inv domain.Invoice, stock []domain.StockAdjustment) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inv.ShopID == "" || len(inv.Items) == 0 {
		return nil, store.ErrValidation
	}
	if inv.ID == "" {
		inv.ID = xid.New("inv")
	}
	if _, exists := s.invoicesByID[inv.ID]; exists {
		return nil, store.ErrConflict
	}
	if inv.InvoiceNumber == "" {
		seq := 1
		for _, other := range s.invoicesByID {
			if other.ShopID == inv.ShopID {
				seq++
			}
		}
		inv.InvoiceNumber = numbering.Format(inv.ShopID, inv.InvoiceDate, seq)
	}
	for _, other := range s.invoicesByID {
		if other.ShopID == inv.ShopID && other.InvoiceNumber == inv.InvoiceNumber {
			return nil, store.ErrConflict
		}
	}
	if err := s.adjustStockLocked(inv.ShopID, stock); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv.CreatedAt = now
	inv.UpdatedAt = now
	for i := range inv.Items {
		if inv.Items[i].ID == "" {
			inv.Items[i].ID = xid.New("item")
		}
		inv.Items[i].InvoiceID = inv.ID
		inv.Items[i].CreatedAt = now
	}
	for i := range inv.Payments {
		if inv.Payments[i].ID == "" {
			inv.Payments[i].ID = xid.New("pay")
		}
		inv.Payments[i].InvoiceID = inv.ID
		if inv.Payments[i].CreatedAt.IsZero() {
			inv.Payments[i].CreatedAt = now
		}
	}
	s.invoicesByID[inv.ID] = cloneInvoice(inv)
	created := cloneInvoice(inv)
	return &created, nil
}

func (s *Store) SaveInvoice(_ context.Context, inv domain.Invoice, stock []domain.StockAdjustment) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.invoicesByID[inv.ID]
	if !exists || existing.ShopID != inv.ShopID {
		return nil, store.ErrNotFound
	}
	if err := s.adjustStockLocked(inv.ShopID, stock); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	inv.CreatedAt = existing.CreatedAt
	inv.UpdatedAt = now
	for i := range inv.Items {
		if inv.Items[i].ID == "" {
			inv.Items[i].ID = xid.New("item")
		}
		inv.Items[i].InvoiceID = inv.ID
	}
	for i := range inv.Payments {
		if inv.Payments[i].ID == "" {
			inv.Payments[i].ID = xid.New("pay")
		}
		inv.Payments[i].InvoiceID = inv.ID
		if inv.Payments[i].CreatedAt.IsZero() {
			inv.Payments[i].CreatedAt = now
		}
	}
	s.invoicesByID[inv.ID] = cloneInvoice(inv)
	saved := cloneInvoice(inv)
	return &saved, nil
}

func (s *Store) GetInvoice(_ context.Context, shopID string, invoiceID string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.invoicesByID[invoiceID]
	if !exists || inv.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copyInv := cloneInvoice(inv)
	return &copyInv, nil
}

func (s *Store) FindInvoicePaymentByIdempotency(_ context.Context, shopID string, invoiceID string, key string) (*domain.InvoicePayment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.invoicesByID[invoiceID]
	if !exists || inv.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	for _, p := range inv.Payments {
		if p.IdempotencyKey != "" && p.IdempotencyKey == key {
			copyPayment := p
			return &copyPayment, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) ListInvoices(_ context.Context, shopID string, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := filter.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	invoices := make([]domain.Invoice, 0, len(s.invoicesByID))
	for _, inv := range s.invoicesByID {
		if inv.ShopID != shopID {
			continue
		}
		status := ledger.DeriveStatus(inv.BalanceAmount, inv.PaidAmount, inv.DueDate, now)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		if filter.CustomerID != "" && inv.CustomerID != filter.CustomerID {
			continue
		}
		if filter.DateFilter != nil && !sameDay(inv.InvoiceDate, *filter.DateFilter) {
			continue
		}
		if needle != "" && !s.invoiceMatchesLocked(inv, needle) {
			continue
		}
		clone := cloneInvoice(inv)
		clone.Status = status
		invoices = append(invoices, clone)
	}

	slices.SortFunc(invoices, func(a, b domain.Invoice) int {
		switch filter.Sort {
		case domain.SortOldest:
			return a.InvoiceDate.Compare(b.InvoiceDate)
		case domain.SortAmountHigh:
			return b.TotalAmount.Cmp(a.TotalAmount)
		case domain.SortAmountLow:
			return a.TotalAmount.Cmp(b.TotalAmount)
		default:
			return b.InvoiceDate.Compare(a.InvoiceDate)
		}
	})
	return paginate(invoices, filter.Limit, filter.Offset), nil
}

func (s *Store) invoiceMatchesLocked(inv domain.Invoice, needle string) bool {
	if strings.Contains(strings.ToLower(inv.InvoiceNumber), needle) {
		return true
	}
	if inv.CustomerID != "" {
		if c, ok := s.customersByID[inv.CustomerID]; ok {
			if strings.Contains(strings.ToLower(c.Name), needle) {
				return true
			}
		}
	}
	return false
}

func (s *Store) CountInvoicesForShop(_ context.Context, shopID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, inv := range s.invoicesByID {
		if inv.ShopID == shopID {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteInvoice(_ context.Context, shopID string, invoiceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invoicesByID[invoiceID]
	if !exists || inv.ShopID != shopID {
		return store.ErrNotFound
	}
	delete(s.invoicesByID, invoiceID)
	return nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ShopID == "" || expense.Title == "" || expense.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, store.ErrValidation
	}
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if _, exists := s.expensesByID[expense.ID]; exists {
		return nil, store.ErrConflict
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expensesByID[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) GetExpense(_ context.Context, shopID string, expenseID string) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, exists := s.expensesByID[expenseID]
	if !exists || e.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	copyExpense := e
	return &copyExpense, nil
}

func (s *Store) ListExpenses(_ context.Context, shopID string, filter domain.ExpenseFilter) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(filter.Search))
	expenses := make([]domain.Expense, 0, len(s.expensesByID))
	for _, e := range s.expensesByID {
		if e.ShopID != shopID {
			continue
		}
		if filter.Category != "" && e.Category != filter.Category {
			continue
		}
		if filter.DateFilter != nil && !sameDay(e.ExpenseDate, *filter.DateFilter) {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(e.Title), needle) &&
			!strings.Contains(strings.ToLower(e.Description), needle) {
			continue
		}
		expenses = append(expenses, e)
	}
	slices.SortFunc(expenses, func(a, b domain.Expense) int {
		return b.ExpenseDate.Compare(a.ExpenseDate)
	})
	return paginate(expenses, filter.Limit, filter.Offset), nil
}

func (s *Store) DeleteExpense(_ context.Context, shopID string, expenseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, exists := s.expensesByID[expenseID]
	if !exists || e.ShopID != shopID {
		return store.ErrNotFound
	}
	delete(s.expensesByID, expenseID)
	return nil
}

func (s *Store) GetDashboardSummary(_ context.Context, shopID string) (domain.DashboardSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := domain.DashboardSummary{
		ShopID:             shopID,
		TotalSales:         decimal.Zero,
		TotalPaid:          decimal.Zero,
		OutstandingBalance: decimal.Zero,
		TotalExpenses:      decimal.Zero,
		InvoicesByStatus:   map[string]int{},
		GeneratedAt:        time.Now().UTC(),
	}
	for _, inv := range s.invoicesByID {
		if inv.ShopID != shopID {
			continue
		}
		summary.InvoiceCount++
		summary.TotalSales = summary.TotalSales.Add(inv.TotalAmount)
		summary.TotalPaid = summary.TotalPaid.Add(inv.PaidAmount)
		summary.OutstandingBalance = summary.OutstandingBalance.Add(inv.BalanceAmount)
		summary.InvoicesByStatus[inv.Status]++
	}
	for _, e := range s.expensesByID {
		if e.ShopID == shopID {
			summary.TotalExpenses = summary.TotalExpenses.Add(e.Amount)
		}
	}
	for _, c := range s.customersByID {
		if c.ShopID == shopID {
			summary.CustomerCount++
		}
	}
	for _, p := range s.productsByID {
		if p.ShopID != shopID || !p.Active {
			continue
		}
		summary.ProductCount++
		if p.IsLowStock() {
			summary.LowStockCount++
		}
	}
	return summary, nil
}

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	out := inv
	out.Items = slices.Clone(inv.Items)
	out.Payments = slices.Clone(inv.Payments)
	return out
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cmpString(a, b string) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"tokobill/backend/internal/cache"
	"tokobill/backend/internal/domain"
	"tokobill/backend/internal/ledger"
	"tokobill/backend/internal/numbering"
	"tokobill/backend/internal/store"
	"tokobill/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	SummaryTTL         time.Duration
	PaymentIdempotency bool
}

type Service struct {
	repo               store.Repository
	summaries          cache.SummaryCache
	logger             zerolog.Logger
	summaryTTL         time.Duration
	paymentIdempotency bool

	// now is swapped in tests to pin the clock.
	now func() time.Time

	// invoiceLocks serializes mutations per invoice so concurrent payments
	// and returns against the same aggregate apply one at a time.
	locksMu      sync.Mutex
	invoiceLocks map[string]*sync.Mutex
}

func New(repo store.Repository, summaries cache.SummaryCache, logger zerolog.Logger, opts Options) *Service {
	if summaries == nil {
		summaries = cache.NoopSummaryCache{}
	}
	if opts.SummaryTTL <= 0 {
		opts.SummaryTTL = 60 * time.Second
	}

	return &Service{
		repo:               repo,
		summaries:          summaries,
		logger:             logger,
		summaryTTL:         opts.SummaryTTL,
		paymentIdempotency: opts.PaymentIdempotency,
		now:                func() time.Time { return time.Now().UTC() },
		invoiceLocks:       make(map[string]*sync.Mutex),
	}
}

func (s *Service) lockInvoice(invoiceID string) func() {
	s.locksMu.Lock()
	l, ok := s.invoiceLocks[invoiceID]
	if !ok {
		l = &sync.Mutex{}
		s.invoiceLocks[invoiceID] = l
	}
	s.locksMu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Service) actor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.ShopID == "" {
		return domain.Actor{}, fmt.Errorf("authenticated shop actor required")
	}
	return actor, nil
}

func (s *Service) requireOwner(ctx context.Context) (domain.Actor, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Actor{}, err
	}
	if actor.Role != domain.RoleOwner {
		return domain.Actor{}, fmt.Errorf("owner role required")
	}
	return actor, nil
}

// RegisterShop creates a shop together with its owner login.
func (s *Service) RegisterShop(ctx context.Context, req domain.ShopRegisterRequest) (domain.Shop, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.ShopName = strings.TrimSpace(req.ShopName)
	req.OwnerName = strings.TrimSpace(req.OwnerName)

	if req.Username == "" || req.ShopName == "" || req.OwnerName == "" {
		return domain.Shop{}, fmt.Errorf("%w: username, shop_name and owner_name are required", store.ErrValidation)
	}
	if len(req.Password) < 8 {
		return domain.Shop{}, fmt.Errorf("%w: password must be at least 8 characters", store.ErrValidation)
	}

	shop, err := s.repo.CreateShop(ctx, domain.Shop{
		ShopName:  req.ShopName,
		OwnerName: req.OwnerName,
		Phone:     strings.TrimSpace(req.Phone),
		Address:   strings.TrimSpace(req.Address),
		City:      strings.TrimSpace(req.City),
		State:     strings.TrimSpace(req.State),
		GSTNumber: strings.TrimSpace(req.GSTNumber),
	})
	if err != nil {
		return domain.Shop{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return domain.Shop{}, fmt.Errorf("hash password: %w", err)
	}
	if err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  req.Username,
		Password:  string(hash),
		Role:      domain.RoleOwner,
		ShopID:    shop.ID,
		Active:    true,
		CreatedAt: s.now(),
	}); err != nil {
		return domain.Shop{}, err
	}

	s.logger.Info().Str("shop_id", shop.ID).Str("owner", req.Username).Msg("shop registered")
	return *shop, nil
}

func (s *Service) GetShop(ctx context.Context) (domain.Shop, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Shop{}, err
	}
	shop, err := s.repo.GetShop(ctx, actor.ShopID)
	if err != nil {
		return domain.Shop{}, err
	}
	return *shop, nil
}

// UpdateShop applies the non-nil profile fields to the actor's shop.
func (s *Service) UpdateShop(ctx context.Context, req domain.ShopUpdateRequest) (domain.Shop, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return domain.Shop{}, err
	}
	shop, err := s.repo.GetShop(ctx, actor.ShopID)
	if err != nil {
		return domain.Shop{}, err
	}

	updated := *shop
	if req.ShopName != nil {
		updated.ShopName = strings.TrimSpace(*req.ShopName)
	}
	if req.OwnerName != nil {
		updated.OwnerName = strings.TrimSpace(*req.OwnerName)
	}
	if req.Phone != nil {
		updated.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Address != nil {
		updated.Address = strings.TrimSpace(*req.Address)
	}
	if req.City != nil {
		updated.City = strings.TrimSpace(*req.City)
	}
	if req.State != nil {
		updated.State = strings.TrimSpace(*req.State)
	}
	if req.GSTNumber != nil {
		updated.GSTNumber = strings.TrimSpace(*req.GSTNumber)
	}
	if updated.ShopName == "" || updated.OwnerName == "" {
		return domain.Shop{}, fmt.Errorf("%w: shop name and owner name are required", store.ErrValidation)
	}

	saved, err := s.repo.UpdateShop(ctx, updated)
	if err != nil {
		return domain.Shop{}, err
	}
	return *saved, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ShopID:    actor.ShopID,
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		City:      strings.TrimSpace(req.City),
		GSTNumber: strings.TrimSpace(req.GSTNumber),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, customerID string) (domain.Customer, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	customer, err := s.repo.GetCustomer(ctx, actor.ShopID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

// UpdateCustomer replaces the customer's contact fields wholesale.
func (s *Service) UpdateCustomer(ctx context.Context, customerID string, req domain.CustomerCreateRequest) (domain.Customer, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Customer{}, err
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name is required", store.ErrValidation)
	}

	existing, err := s.repo.GetCustomer(ctx, actor.ShopID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	updated := *existing
	updated.Name = req.Name
	updated.Phone = strings.TrimSpace(req.Phone)
	updated.Email = strings.TrimSpace(req.Email)
	updated.Address = strings.TrimSpace(req.Address)
	updated.City = strings.TrimSpace(req.City)
	updated.GSTNumber = strings.TrimSpace(req.GSTNumber)

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, customerID string) error {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, actor.ShopID, customerID); err != nil {
		return err
	}
	s.logger.Info().Str("shop_id", actor.ShopID).Str("customer_id", customerID).Msg("customer deleted")
	return nil
}

func (s *Service) ListCustomers(ctx context.Context, search string, limit, offset int) ([]domain.Customer, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListCustomers(ctx, actor.ShopID, search, limit, offset)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Name == "" || req.Unit == "" {
		return domain.Product{}, fmt.Errorf("%w: product name and unit are required", store.ErrValidation)
	}
	if req.Price.LessThanOrEqual(decimal.Zero) {
		return domain.Product{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
	}
	if req.StockQuantity.IsNegative() || req.MinStockLevel.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: stock figures cannot be negative", store.ErrValidation)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ShopID:        actor.ShopID,
		Name:          req.Name,
		Category:      strings.TrimSpace(req.Category),
		Brand:         strings.TrimSpace(req.Brand),
		Description:   strings.TrimSpace(req.Description),
		Unit:          req.Unit,
		Price:         req.Price,
		StockQuantity: req.StockQuantity,
		MinStockLevel: req.MinStockLevel,
		Active:        true,
	})
	if err != nil {
		return domain.Product{}, err
	}
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return domain.Product{}, err
	}

	existing, err := s.repo.GetProduct(ctx, actor.ShopID, productID)
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name cannot be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Category != nil {
		updated.Category = strings.TrimSpace(*req.Category)
	}
	if req.Brand != nil {
		updated.Brand = strings.TrimSpace(*req.Brand)
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.Unit != nil {
		unit := strings.TrimSpace(*req.Unit)
		if unit == "" {
			return domain.Product{}, fmt.Errorf("%w: unit cannot be empty", store.ErrValidation)
		}
		updated.Unit = unit
	}
	if req.Price != nil {
		if req.Price.LessThanOrEqual(decimal.Zero) {
			return domain.Product{}, fmt.Errorf("%w: price must be positive", store.ErrValidation)
		}
		updated.Price = *req.Price
	}
	if req.MinStockLevel != nil {
		if req.MinStockLevel.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: min stock level cannot be negative", store.ErrValidation)
		}
		updated.MinStockLevel = *req.MinStockLevel
	}
	if req.Active != nil {
		updated.Active = *req.Active
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}
	return *saved, nil
}

func (s *Service) GetProduct(ctx context.Context, productID string) (domain.Product, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.ShopID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) ListProducts(ctx context.Context, filter domain.ProductFilter) ([]domain.Product, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Limit < 1 {
		filter.Limit = 100
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListProducts(ctx, actor.ShopID, filter)
}

func (s *Service) ListProductCategories(ctx context.Context) ([]string, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProductCategories(ctx, actor.ShopID)
}

// RestockProduct applies a manual stock delta, for received goods or
// corrections. Decrements clamp at zero.
func (s *Service) RestockProduct(ctx context.Context, productID string, delta decimal.Decimal) (domain.Product, error) {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return domain.Product{}, err
	}
	if delta.IsZero() {
		return domain.Product{}, fmt.Errorf("%w: delta cannot be zero", store.ErrValidation)
	}
	if err := s.repo.AdjustStock(ctx, actor.ShopID, []domain.StockAdjustment{{ProductID: productID, Delta: delta}}); err != nil {
		return domain.Product{}, err
	}
	product, err := s.repo.GetProduct(ctx, actor.ShopID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}
	if len(req.Items) == 0 {
		return domain.Invoice{}, fmt.Errorf("%w: invoice needs at least one item", store.ErrValidation)
	}
	if req.Invoice.TaxAmount.IsNegative() || req.Invoice.DiscountAmount.IsNegative() {
		return domain.Invoice{}, fmt.Errorf("%w: tax and discount cannot be negative", store.ErrValidation)
	}
	if req.Invoice.InitialPayment.IsNegative() {
		return domain.Invoice{}, fmt.Errorf("%w: paid amount cannot be negative", store.ErrValidation)
	}

	customerID := strings.TrimSpace(req.Invoice.CustomerID)
	if customerID == domain.WalkInCustomerID {
		customerID = ""
	}
	if customerID != "" {
		if _, err := s.repo.GetCustomer(ctx, actor.ShopID, customerID); err != nil {
			return domain.Invoice{}, err
		}
	}

	ids := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		if line.ProductID == "" {
			return domain.Invoice{}, fmt.Errorf("%w: item product_id is required", store.ErrValidation)
		}
		if line.Quantity.LessThanOrEqual(decimal.Zero) {
			return domain.Invoice{}, fmt.Errorf("%w: item quantity must be positive", store.ErrValidation)
		}
		if line.UnitPrice.LessThanOrEqual(decimal.Zero) {
			return domain.Invoice{}, fmt.Errorf("%w: item unit price must be positive", store.ErrValidation)
		}
		ids = append(ids, line.ProductID)
	}

	products, err := s.repo.GetProductsByIDs(ctx, actor.ShopID, ids)
	if err != nil {
		return domain.Invoice{}, err
	}

	now := s.now()
	invoiceDate := req.Invoice.InvoiceDate
	if invoiceDate.IsZero() {
		invoiceDate = now
	}

	items := make([]domain.InvoiceItem, 0, len(req.Items))
	stock := make([]domain.StockAdjustment, 0, len(req.Items))
	for _, line := range req.Items {
		product, ok := products[line.ProductID]
		if !ok {
			return domain.Invoice{}, fmt.Errorf("%w: product %s", store.ErrNotFound, line.ProductID)
		}
		if !product.Active {
			return domain.Invoice{}, fmt.Errorf("%w: product %s is inactive", store.ErrValidation, line.ProductID)
		}
		items = append(items, domain.InvoiceItem{
			ID:          xid.New("item"),
			ProductID:   product.ID,
			ProductName: product.Name,
			Unit:        product.Unit,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
			TotalPrice:  ledger.LineTotal(line.Quantity, line.UnitPrice),
		})
		stock = append(stock, domain.StockAdjustment{ProductID: product.ID, Delta: line.Quantity.Neg()})
	}

	subtotal, total := ledger.ComputeTotals(items, req.Invoice.TaxAmount, req.Invoice.DiscountAmount)
	if total.IsNegative() {
		return domain.Invoice{}, fmt.Errorf("%w: discount exceeds invoice total", store.ErrValidation)
	}

	paid := req.Invoice.InitialPayment
	if paid.GreaterThan(total) {
		paid = total
	}

	inv := domain.Invoice{
		ID:             xid.New("inv"),
		ShopID:         actor.ShopID,
		CustomerID:     customerID,
		InvoiceNumber:  strings.TrimSpace(req.Invoice.InvoiceNumber),
		InvoiceDate:    invoiceDate,
		DueDate:        req.Invoice.DueDate,
		Subtotal:       subtotal,
		TaxAmount:      req.Invoice.TaxAmount,
		DiscountAmount: req.Invoice.DiscountAmount,
		TotalAmount:    total,
		PaidAmount:     paid,
		BalanceAmount:  ledger.Balance(total, paid),
		Notes:          strings.TrimSpace(req.Invoice.Notes),
		Items:          items,
	}
	if paid.GreaterThan(decimal.Zero) {
		method := strings.TrimSpace(req.Invoice.InitialPaymentMethod)
		if method == "" {
			method = domain.PaymentMethodCash
		}
		inv.Payments = append(inv.Payments, domain.InvoicePayment{
			ID:            xid.New("pay"),
			Amount:        paid,
			PaymentMethod: method,
			PaymentDate:   invoiceDate,
		})
	}
	inv.Status = ledger.DeriveStatus(inv.BalanceAmount, inv.PaidAmount, inv.DueDate, now)

	created, err := s.repo.CreateInvoice(ctx, inv, stock)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.invalidateSummary(ctx, actor.ShopID)
	s.logger.Info().
		Str("shop_id", actor.ShopID).
		Str("invoice_id", created.ID).
		Str("invoice_number", created.InvoiceNumber).
		Str("total", created.TotalAmount.String()).
		Msg("invoice created")
	return *created, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (domain.InvoiceDetail, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}
	inv, err := s.repo.GetInvoice(ctx, actor.ShopID, invoiceID)
	if err != nil {
		return domain.InvoiceDetail{}, err
	}

	now := s.now()
	inv.Status = ledger.DeriveStatus(inv.BalanceAmount, inv.PaidAmount, inv.DueDate, now)
	days := ledger.DaysOverdue(inv.BalanceAmount, inv.DueDate, now)

	return domain.InvoiceDetail{
		Invoice: *inv,
		PaymentSummary: domain.PaymentSummary{
			TotalAmount:      inv.TotalAmount,
			TotalPaid:        inv.PaidAmount,
			RemainingBalance: inv.BalanceAmount,
			PaymentCount:     len(inv.Payments),
			IsOverdue:        inv.Status == domain.InvoiceStatusOverdue,
			DaysOverdue:      days,
		},
	}, nil
}

func (s *Service) ListInvoices(ctx context.Context, filter domain.InvoiceFilter) ([]domain.Invoice, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	switch filter.Sort {
	case "", domain.SortLatest, domain.SortOldest, domain.SortAmountHigh, domain.SortAmountLow:
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", store.ErrValidation, filter.Sort)
	}
	switch filter.Status {
	case "", domain.InvoiceStatusPending, domain.InvoiceStatusPartial, domain.InvoiceStatusPaid, domain.InvoiceStatusOverdue:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, filter.Status)
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	filter.Now = s.now()
	return s.repo.ListInvoices(ctx, actor.ShopID, filter)
}

// AddPayment records a payment against an invoice. The payment date, not
// the wall clock, decides whether the remaining balance counts as overdue.
func (s *Service) AddPayment(ctx context.Context, invoiceID string, req domain.PaymentRequest) (domain.Invoice, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Invoice{}, err
	}

	unlock := s.lockInvoice(invoiceID)
	defer unlock()

	if s.paymentIdempotency && req.IdempotencyKey != "" {
		if _, err := s.repo.FindInvoicePaymentByIdempotency(ctx, actor.ShopID, invoiceID, req.IdempotencyKey); err == nil {
			existing, err := s.repo.GetInvoice(ctx, actor.ShopID, invoiceID)
			if err != nil {
				return domain.Invoice{}, err
			}
			return *existing, nil
		}
	}

	inv, err := s.repo.GetInvoice(ctx, actor.ShopID, invoiceID)
	if err != nil {
		return domain.Invoice{}, err
	}

	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return domain.Invoice{}, fmt.Errorf("%w: payment amount must be positive", store.ErrValidation)
	}
	if req.Amount.GreaterThan(inv.BalanceAmount) {
		return domain.Invoice{}, fmt.Errorf("%w: payment %s exceeds balance %s", store.ErrValidation, req.Amount, inv.BalanceAmount)
	}

	paymentDate := s.now()
	if req.PaymentDate != nil {
		paymentDate = *req.PaymentDate
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = domain.PaymentMethodCash
	}

	inv.Payments = append(inv.Payments, domain.InvoicePayment{
		ID:              xid.New("pay"),
		InvoiceID:       inv.ID,
		Amount:          req.Amount,
		PaymentMethod:   method,
		PaymentDate:     paymentDate,
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		Notes:           strings.TrimSpace(req.Notes),
		IdempotencyKey:  strings.TrimSpace(req.IdempotencyKey),
	})
	ledger.Recompute(inv, paymentDate)

	saved, err := s.repo.SaveInvoice(ctx, *inv, nil)
	if err != nil {
		return domain.Invoice{}, err
	}

	s.invalidateSummary(ctx, actor.ShopID)
	s.logger.Info().
		Str("shop_id", actor.ShopID).
		Str("invoice_id", inv.ID).
		Str("amount", req.Amount.String()).
		Str("status", saved.Status).
		Msg("payment recorded")
	return *saved, nil
}

// ProcessReturn takes goods back onto the shelf and settles the money side.
// Every requested line is validated before anything is applied; one bad
// line aborts the whole return.
func (s *Service) ProcessReturn(ctx context.Context, invoiceID string, req domain.ReturnRequest) (domain.ReturnResult, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.ReturnResult{}, err
	}
	if len(req.Items) == 0 {
		return domain.ReturnResult{}, fmt.Errorf("%w: return needs at least one item", store.ErrValidation)
	}

	unlock := s.lockInvoice(invoiceID)
	defer unlock()

	inv, err := s.repo.GetInvoice(ctx, actor.ShopID, invoiceID)
	if err != nil {
		return domain.ReturnResult{}, err
	}

	itemIdx := make(map[string]int, len(inv.Items))
	for i, item := range inv.Items {
		itemIdx[item.ID] = i
	}

	requested := make(map[string]decimal.Decimal, len(req.Items))
	order := make([]string, 0, len(req.Items))
	for _, line := range req.Items {
		if line.ReturnedQuantity.LessThanOrEqual(decimal.Zero) {
			return domain.ReturnResult{}, fmt.Errorf("%w: returned quantity must be positive", store.ErrValidation)
		}
		idx, ok := itemIdx[line.InvoiceItemID]
		if !ok {
			return domain.ReturnResult{}, fmt.Errorf("%w: invoice item %s", store.ErrNotFound, line.InvoiceItemID)
		}
		if _, seen := requested[line.InvoiceItemID]; !seen {
			order = append(order, line.InvoiceItemID)
		}
		total := requested[line.InvoiceItemID].Add(line.ReturnedQuantity)
		if total.GreaterThan(inv.Items[idx].Quantity) {
			return domain.ReturnResult{}, fmt.Errorf("%w: cannot return %s of %s, only %s on the invoice",
				store.ErrValidation, total, inv.Items[idx].ProductName, inv.Items[idx].Quantity)
		}
		requested[line.InvoiceItemID] = total
	}

	originalTotal := inv.TotalAmount
	currentPaid := inv.PaidAmount

	returnedAmount := decimal.Zero
	stock := make([]domain.StockAdjustment, 0, len(requested))
	for _, itemID := range order {
		qty := requested[itemID]
		idx := itemIdx[itemID]
		item := &inv.Items[idx]
		returnedAmount = returnedAmount.Add(ledger.LineTotal(qty, item.UnitPrice))
		item.Quantity = item.Quantity.Sub(qty)
		item.TotalPrice = ledger.LineTotal(item.Quantity, item.UnitPrice)
		stock = append(stock, domain.StockAdjustment{ProductID: item.ProductID, Delta: qty})
	}
	returnedAmount = returnedAmount.Round(2)

	_, newTotal := ledger.ComputeTotals(inv.Items, inv.TaxAmount, inv.DiscountAmount)
	newPaid := ledger.ProportionalPaid(currentPaid, originalTotal, newTotal)
	refund := currentPaid.Sub(newPaid).Round(2)

	now := s.now()
	if refund.GreaterThan(decimal.Zero) {
		inv.Payments = append(inv.Payments, domain.InvoicePayment{
			ID:              xid.New("pay"),
			InvoiceID:       inv.ID,
			Amount:          refund.Neg(),
			PaymentMethod:   domain.PaymentMethodRefund,
			PaymentDate:     now,
			ReferenceNumber: numbering.ReturnReference(now),
		})
	}
	ledger.Recompute(inv, now)

	saved, err := s.repo.SaveInvoice(ctx, *inv, stock)
	if err != nil {
		return domain.ReturnResult{}, err
	}

	s.invalidateSummary(ctx, actor.ShopID)
	s.logger.Info().
		Str("shop_id", actor.ShopID).
		Str("invoice_id", inv.ID).
		Str("returned_amount", returnedAmount.String()).
		Str("refund_amount", refund.String()).
		Msg("return processed")
	return domain.ReturnResult{
		ReturnedAmount: returnedAmount,
		RefundAmount:   refund,
		Invoice:        *saved,
	}, nil
}

// DeleteInvoice removes the whole aggregate. Stock is not restored; use a
// return first when the goods came back.
func (s *Service) DeleteInvoice(ctx context.Context, invoiceID string) error {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return err
	}

	unlock := s.lockInvoice(invoiceID)
	defer unlock()

	if err := s.repo.DeleteInvoice(ctx, actor.ShopID, invoiceID); err != nil {
		return err
	}
	s.invalidateSummary(ctx, actor.ShopID)
	s.logger.Info().Str("shop_id", actor.ShopID).Str("invoice_id", invoiceID).Msg("invoice deleted")
	return nil
}

func (s *Service) CreateExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.Expense, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Expense{}, err
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return domain.Expense{}, fmt.Errorf("%w: expense title is required", store.ErrValidation)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return domain.Expense{}, fmt.Errorf("%w: expense amount must be positive", store.ErrValidation)
	}
	expenseDate := req.ExpenseDate
	if expenseDate.IsZero() {
		expenseDate = s.now()
	}

	created, err := s.repo.CreateExpense(ctx, domain.Expense{
		ShopID:          actor.ShopID,
		Title:           req.Title,
		Description:     strings.TrimSpace(req.Description),
		Amount:          req.Amount,
		Category:        strings.TrimSpace(req.Category),
		ExpenseDate:     expenseDate,
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		Notes:           strings.TrimSpace(req.Notes),
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.invalidateSummary(ctx, actor.ShopID)
	return *created, nil
}

func (s *Service) ListExpenses(ctx context.Context, filter domain.ExpenseFilter) ([]domain.Expense, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListExpenses(ctx, actor.ShopID, filter)
}

func (s *Service) GetExpense(ctx context.Context, expenseID string) (domain.Expense, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.Expense{}, err
	}
	expense, err := s.repo.GetExpense(ctx, actor.ShopID, expenseID)
	if err != nil {
		return domain.Expense{}, err
	}
	return *expense, nil
}

func (s *Service) DeleteExpense(ctx context.Context, expenseID string) error {
	actor, err := s.requireOwner(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteExpense(ctx, actor.ShopID, expenseID); err != nil {
		return err
	}
	s.invalidateSummary(ctx, actor.ShopID)
	return nil
}

func (s *Service) DashboardSummary(ctx context.Context) (domain.DashboardSummary, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return domain.DashboardSummary{}, err
	}

	if cached, ok, err := s.summaries.Get(ctx, actor.ShopID); err == nil && ok {
		return *cached, nil
	} else if err != nil {
		s.logger.Warn().Err(err).Str("shop_id", actor.ShopID).Msg("summary cache read failed")
	}

	summary, err := s.repo.GetDashboardSummary(ctx, actor.ShopID)
	if err != nil {
		return domain.DashboardSummary{}, err
	}
	if err := s.summaries.Set(ctx, actor.ShopID, &summary, s.summaryTTL); err != nil {
		s.logger.Warn().Err(err).Str("shop_id", actor.ShopID).Msg("summary cache write failed")
	}
	return summary, nil
}

func (s *Service) invalidateSummary(ctx context.Context, shopID string) {
	if err := s.summaries.Invalidate(ctx, shopID); err != nil {
		s.logger.Warn().Err(err).Str("shop_id", shopID).Msg("summary cache invalidation failed")
	}
}

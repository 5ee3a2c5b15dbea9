package store

import (
	"context"
	"errors"

	"tokobill/backend/internal/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
)

type Repository interface {
	CreateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)
	GetShop(ctx context.Context, shopID string) (*domain.Shop, error)
	UpdateShop(ctx context.Context, shop domain.Shop) (*domain.Shop, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUser(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomer(ctx context.Context, shopID string, customerID string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, shopID string, customerID string) error
	ListCustomers(ctx context.Context, shopID string, search string, limit int, offset int) ([]domain.Customer, error)

	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProduct(ctx context.Context, shopID string, productID string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	ListProducts(ctx context.Context, shopID string, filter domain.ProductFilter) ([]domain.Product, error)
	ListProductCategories(ctx context.Context, shopID string) ([]string, error)
	GetProductsByIDs(ctx context.Context, shopID string, ids []string) (map[string]domain.Product, error)
	AdjustStock(ctx context.Context, shopID string, adjustments []domain.StockAdjustment) error

	// CreateInvoice persists the aggregate and applies the stock deltas in
	// one atomic step. When inv.InvoiceNumber is empty the store assigns the
	// next sequential number for the shop inside the same transaction. A
	// duplicate (shop, number) pair yields ErrConflict.
	CreateInvoice(ctx context.Context, inv domain.Invoice, stock []domain.StockAdjustment) (*domain.Invoice, error)
	// SaveInvoice replaces the stored aggregate (row, items, payments) and
	// applies the stock deltas atomically.
	SaveInvoice(ctx context.Context, inv domain.Invoice, stock []domain.StockAdjustment) (*domain.Invoice, error)
	GetInvoice(ctx context.Context, shopID string, invoiceID string) (*domain.Invoice, error)
	FindInvoicePaymentByIdempotency(ctx context.Context, shopID string, invoiceID string, key string) (*domain.InvoicePayment, error)
	// ListInvoices reports each invoice with its status derived against
	// filter.Now, so a stored pending or partial invoice reads as overdue
	// once its due date has passed. The status filter matches the derived
	// value.
	ListInvoices(ctx context.Context, shopID string, filter domain.InvoiceFilter) ([]domain.Invoice, error)
	CountInvoicesForShop(ctx context.Context, shopID string) (int, error)
	DeleteInvoice(ctx context.Context, shopID string, invoiceID string) error

	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	GetExpense(ctx context.Context, shopID string, expenseID string) (*domain.Expense, error)
	ListExpenses(ctx context.Context, shopID string, filter domain.ExpenseFilter) ([]domain.Expense, error)
	DeleteExpense(ctx context.Context, shopID string, expenseID string) error

	GetDashboardSummary(ctx context.Context, shopID string) (domain.DashboardSummary, error)
}

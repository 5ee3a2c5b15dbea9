package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceStatusPending = "pending"
	InvoiceStatusPartial = "partial"
	InvoiceStatusPaid    = "paid"
	InvoiceStatusOverdue = "overdue"
)

const (
	PaymentMethodCash   = "cash"
	PaymentMethodRefund = "refund"
)

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)

// WalkInCustomerID is the sentinel request layers may send for invoices
// without a customer record. It is never persisted; the stored customer id
// stays empty.
const WalkInCustomerID = "walk-in"

type Shop struct {
	ID        string    `json:"id"`
	ShopName  string    `json:"shop_name"`
	OwnerName string    `json:"owner_name"`
	Phone     string    `json:"phone"`
	Address   string    `json:"address"`
	City      string    `json:"city"`
	State     string    `json:"state"`
	GSTNumber string    `json:"gst_number,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type Customer struct {
	ID        string    `json:"id"`
	ShopID    string    `json:"shop_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	Address   string    `json:"address,omitempty"`
	City      string    `json:"city,omitempty"`
	GSTNumber string    `json:"gst_number,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type CustomerCreateRequest struct {
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	City      string `json:"city"`
	GSTNumber string `json:"gst_number"`
}

type Product struct {
	ID            string          `json:"id"`
	ShopID        string          `json:"shop_id"`
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand,omitempty"`
	Description   string          `json:"description,omitempty"`
	Unit          string          `json:"unit"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity decimal.Decimal `json:"stock_quantity"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
	Active        bool            `json:"active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (p Product) IsLowStock() bool {
	return p.StockQuantity.LessThanOrEqual(p.MinStockLevel)
}

type ProductCreateRequest struct {
	Name          string          `json:"name"`
	Category      string          `json:"category"`
	Brand         string          `json:"brand"`
	Description   string          `json:"description"`
	Unit          string          `json:"unit"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity decimal.Decimal `json:"stock_quantity"`
	MinStockLevel decimal.Decimal `json:"min_stock_level"`
}

type ProductUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Category      *string          `json:"category,omitempty"`
	Brand         *string          `json:"brand,omitempty"`
	Description   *string          `json:"description,omitempty"`
	Unit          *string          `json:"unit,omitempty"`
	Price         *decimal.Decimal `json:"price,omitempty"`
	MinStockLevel *decimal.Decimal `json:"min_stock_level,omitempty"`
	Active        *bool            `json:"active,omitempty"`
}

type ProductFilter struct {
	Search     string
	Category   string
	ActiveOnly bool
	Limit      int
	Offset     int
}

// StockAdjustment is a signed stock delta for one product. Negative deltas
// decrement and are clamped so stock never goes below zero; positive deltas
// increment without bound.
type StockAdjustment struct {
	ProductID string
	Delta     decimal.Decimal
}

// Invoice is the aggregate root: the invoice row plus its items and payments,
// loaded and persisted as one unit. Monetary fields always satisfy
// total = subtotal + tax - discount and balance = total - paid; Status is
// derived from those figures, never set independently.
type Invoice struct {
	ID             string           `json:"id"`
	ShopID         string           `json:"shop_id"`
	CustomerID     string           `json:"customer_id,omitempty"`
	InvoiceNumber  string           `json:"invoice_number"`
	InvoiceDate    time.Time        `json:"invoice_date"`
	DueDate        *time.Time       `json:"due_date,omitempty"`
	Subtotal       decimal.Decimal  `json:"subtotal"`
	TaxAmount      decimal.Decimal  `json:"tax_amount"`
	DiscountAmount decimal.Decimal  `json:"discount_amount"`
	TotalAmount    decimal.Decimal  `json:"total_amount"`
	PaidAmount     decimal.Decimal  `json:"paid_amount"`
	BalanceAmount  decimal.Decimal  `json:"balance_amount"`
	Status         string           `json:"status"`
	Notes          string           `json:"notes,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	Items          []InvoiceItem    `json:"items"`
	Payments       []InvoicePayment `json:"payments"`
}

// InvoiceItem snapshots the product name and unit at invoicing time; the
// snapshot survives later edits to the product record. Quantity only ever
// decreases after creation, via returns.
type InvoiceItem struct {
	ID          string          `json:"id"`
	InvoiceID   string          `json:"invoice_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Unit        string          `json:"unit"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	CreatedAt   time.Time       `json:"created_at"`
}

// InvoicePayment amounts are positive for real payments and negative for
// refunds; the sum over all payments always equals the invoice's PaidAmount.
type InvoicePayment struct {
	ID              string          `json:"id"`
	InvoiceID       string          `json:"invoice_id"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentDate     time.Time       `json:"payment_date"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type InvoiceItemDraft struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type InvoiceDraft struct {
	CustomerID           string          `json:"customer_id"`
	InvoiceNumber        string          `json:"invoice_number"`
	InvoiceDate          time.Time       `json:"invoice_date"`
	DueDate              *time.Time      `json:"due_date,omitempty"`
	TaxAmount            decimal.Decimal `json:"tax_amount"`
	DiscountAmount       decimal.Decimal `json:"discount_amount"`
	InitialPayment       decimal.Decimal `json:"paid_amount"`
	InitialPaymentMethod string          `json:"payment_method"`
	Notes                string          `json:"notes"`
}

type InvoiceCreateRequest struct {
	Invoice InvoiceDraft       `json:"invoice"`
	Items   []InvoiceItemDraft `json:"items"`
}

type PaymentRequest struct {
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentDate     *time.Time      `json:"payment_date,omitempty"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
	IdempotencyKey  string          `json:"idempotency_key"`
}

type ReturnLine struct {
	InvoiceItemID    string          `json:"invoice_item_id"`
	ReturnedQuantity decimal.Decimal `json:"returned_quantity"`
}

type ReturnRequest struct {
	Items []ReturnLine `json:"items"`
}

// ReturnResult distinguishes the gross value of the returned goods
// (ReturnedAmount) from the money actually handed back (RefundAmount);
// the two only coincide for fully paid invoices.
type ReturnResult struct {
	ReturnedAmount decimal.Decimal `json:"returned_amount"`
	RefundAmount   decimal.Decimal `json:"refund_amount"`
	Invoice        Invoice         `json:"invoice"`
}

type PaymentSummary struct {
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TotalPaid        decimal.Decimal `json:"total_paid"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
	PaymentCount     int             `json:"payment_count"`
	IsOverdue        bool            `json:"is_overdue"`
	DaysOverdue      int             `json:"days_overdue"`
}

type InvoiceDetail struct {
	Invoice        Invoice        `json:"invoice"`
	PaymentSummary PaymentSummary `json:"payment_summary"`
}

const (
	SortLatest     = "latest"
	SortOldest     = "oldest"
	SortAmountHigh = "amount_high"
	SortAmountLow  = "amount_low"
)

type InvoiceFilter struct {
	Status     string
	CustomerID string
	Search     string
	Sort       string
	DateFilter *time.Time
	Limit      int
	Offset     int
	// Now is the reference time for deriving overdue status. Stores fall
	// back to the wall clock when it is zero.
	Now time.Time
}

type Expense struct {
	ID              string          `json:"id"`
	ShopID          string          `json:"shop_id"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Category        string          `json:"category"`
	ExpenseDate     time.Time       `json:"expense_date"`
	PaymentMethod   string          `json:"payment_method"`
	ReferenceNumber string          `json:"reference_number,omitempty"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

type ExpenseCreateRequest struct {
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Amount          decimal.Decimal `json:"amount"`
	Category        string          `json:"category"`
	ExpenseDate     time.Time       `json:"expense_date"`
	PaymentMethod   string          `json:"payment_method"`
	ReferenceNumber string          `json:"reference_number"`
	Notes           string          `json:"notes"`
}

type ExpenseFilter struct {
	Category   string
	Search     string
	DateFilter *time.Time
	Limit      int
	Offset     int
}

type DashboardSummary struct {
	ShopID             string          `json:"shop_id"`
	TotalSales         decimal.Decimal `json:"total_sales"`
	TotalPaid          decimal.Decimal `json:"total_paid"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance"`
	TotalExpenses      decimal.Decimal `json:"total_expenses"`
	InvoiceCount       int             `json:"invoice_count"`
	InvoicesByStatus   map[string]int  `json:"invoices_by_status"`
	CustomerCount      int             `json:"customer_count"`
	ProductCount       int             `json:"product_count"`
	LowStockCount      int             `json:"low_stock_count"`
	GeneratedAt        time.Time       `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ShopID      string `json:"shop_id"`
	ExpiresAt   string `json:"expires_at"`
}

type ShopRegisterRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	ShopName  string `json:"shop_name"`
	OwnerName string `json:"owner_name"`
	Phone     string `json:"phone"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	GSTNumber string `json:"gst_number"`
}

type ShopUpdateRequest struct {
	ShopName  *string `json:"shop_name,omitempty"`
	OwnerName *string `json:"owner_name,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Address   *string `json:"address,omitempty"`
	City      *string `json:"city,omitempty"`
	State     *string `json:"state,omitempty"`
	GSTNumber *string `json:"gst_number,omitempty"`
}

type ShopRegisterResponse struct {
	Shop  Shop          `json:"shop"`
	Login LoginResponse `json:"login"`
}

type Actor struct {
	Username string
	Role     string
	ShopID   string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	ShopID    string
	Active    bool
	CreatedAt time.Time
}

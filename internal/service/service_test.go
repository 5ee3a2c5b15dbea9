package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"tokobill/backend/internal/domain"
	"tokobill/backend/internal/store"
	"tokobill/backend/internal/store/memory"
)

func dec(t *testing.T, v string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(v)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", v, err)
	}
	return d
}

type fixture struct {
	svc     *Service
	repo    *memory.Store
	ctx     context.Context
	product domain.Product
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	repo := memory.New()
	svc := New(repo, nil, zerolog.Nop(), opts)

	ctx := context.Background()
	shop, err := repo.CreateShop(ctx, domain.Shop{ShopName: "Test Shop", OwnerName: "Owner"})
	if err != nil {
		t.Fatalf("create shop: %v", err)
	}
	actorCtx := WithActor(ctx, domain.Actor{Username: "owner", Role: domain.RoleOwner, ShopID: shop.ID})

	product, err := svc.CreateProduct(actorCtx, domain.ProductCreateRequest{
		Name:          "Widget",
		Category:      "hardware",
		Unit:          "pcs",
		Price:         dec(t, "100"),
		StockQuantity: dec(t, "50"),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}

	return &fixture{svc: svc, repo: repo, ctx: actorCtx, product: product}
}

func (f *fixture) pinClock(t *testing.T, at time.Time) {
	t.Helper()
	f.svc.now = func() time.Time { return at }
}

func (f *fixture) createInvoice(t *testing.T, draft domain.InvoiceDraft, items ...domain.InvoiceItemDraft) domain.Invoice {
	t.Helper()
	inv, err := f.svc.CreateInvoice(f.ctx, domain.InvoiceCreateRequest{Invoice: draft, Items: items})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return inv
}

func (f *fixture) stdInvoice(t *testing.T) domain.Invoice {
	t.Helper()
	return f.createInvoice(t,
		domain.InvoiceDraft{TaxAmount: dec(t, "10"), DiscountAmount: dec(t, "5")},
		domain.InvoiceItemDraft{ProductID: f.product.ID, Quantity: dec(t, "3"), UnitPrice: dec(t, "100")},
	)
}

func mustEqual(t *testing.T, got decimal.Decimal, want string, what string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s = %s, want %s", what, got, want)
	}
}

func TestCreateInvoiceComputesTotals(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)

	mustEqual(t, inv.Subtotal, "300", "subtotal")
	mustEqual(t, inv.TotalAmount, "305", "total")
	mustEqual(t, inv.BalanceAmount, "305", "balance")
	if inv.Status != domain.InvoiceStatusPending {
		t.Fatalf("status = %s, want pending", inv.Status)
	}
	if inv.InvoiceNumber == "" {
		t.Fatalf("expected an assigned invoice number")
	}

	product, err := f.svc.GetProduct(f.ctx, f.product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	mustEqual(t, product.StockQuantity, "47", "stock after sale")
}

func TestCreateInvoiceRejectsBadItems(t *testing.T) {
	f := newFixture(t, Options{})

	_, err := f.svc.CreateInvoice(f.ctx, domain.InvoiceCreateRequest{})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("empty items: err = %v, want ErrValidation", err)
	}

	_, err = f.svc.CreateInvoice(f.ctx, domain.InvoiceCreateRequest{
		Items: []domain.InvoiceItemDraft{{ProductID: f.product.ID, Quantity: dec(t, "0"), UnitPrice: dec(t, "100")}},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("zero quantity: err = %v, want ErrValidation", err)
	}

	_, err = f.svc.CreateInvoice(f.ctx, domain.InvoiceCreateRequest{
		Items: []domain.InvoiceItemDraft{{ProductID: "prod-missing", Quantity: dec(t, "1"), UnitPrice: dec(t, "100")}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown product: err = %v, want ErrNotFound", err)
	}
}

func TestCreateInvoiceWalkInCustomer(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.createInvoice(t,
		domain.InvoiceDraft{CustomerID: domain.WalkInCustomerID},
		domain.InvoiceItemDraft{ProductID: f.product.ID, Quantity: dec(t, "1"), UnitPrice: dec(t, "100")},
	)
	if inv.CustomerID != "" {
		t.Fatalf("customer id = %q, want empty for walk-in", inv.CustomerID)
	}
}

func TestCreateInvoiceClampsInitialPayment(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.createInvoice(t,
		domain.InvoiceDraft{InitialPayment: dec(t, "500")},
		domain.InvoiceItemDraft{ProductID: f.product.ID, Quantity: dec(t, "1"), UnitPrice: dec(t, "100")},
	)
	mustEqual(t, inv.PaidAmount, "100", "paid")
	mustEqual(t, inv.BalanceAmount, "0", "balance")
	if inv.Status != domain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", inv.Status)
	}
}

func TestFullPaymentSettlesInvoice(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)

	paid, err := f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "305")})
	if err != nil {
		t.Fatalf("add payment: %v", err)
	}
	mustEqual(t, paid.PaidAmount, "305", "paid")
	mustEqual(t, paid.BalanceAmount, "0", "balance")
	if paid.Status != domain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", paid.Status)
	}
}

func TestPartialPaymentThenOverdue(t *testing.T) {
	f := newFixture(t, Options{})
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	f.pinClock(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	inv := f.createInvoice(t,
		domain.InvoiceDraft{TaxAmount: dec(t, "10"), DiscountAmount: dec(t, "5"), DueDate: &due},
		domain.InvoiceItemDraft{ProductID: f.product.ID, Quantity: dec(t, "3"), UnitPrice: dec(t, "100")},
	)

	paid, err := f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "100")})
	if err != nil {
		t.Fatalf("add payment: %v", err)
	}
	mustEqual(t, paid.BalanceAmount, "205", "balance")
	if paid.Status != domain.InvoiceStatusPartial {
		t.Fatalf("status = %s, want partial", paid.Status)
	}

	f.pinClock(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))
	detail, err := f.svc.GetInvoice(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if detail.Invoice.Status != domain.InvoiceStatusOverdue {
		t.Fatalf("status = %s, want overdue after due date", detail.Invoice.Status)
	}
	if detail.PaymentSummary.DaysOverdue != 5 {
		t.Fatalf("days overdue = %d, want 5", detail.PaymentSummary.DaysOverdue)
	}
}

func TestOverpaymentRejected(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)

	_, err := f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "305.01")})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	_, err = f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "-5")})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("negative amount: err = %v, want ErrValidation", err)
	}
}

func TestDuplicatePaymentWithoutIdempotency(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)

	req := domain.PaymentRequest{Amount: dec(t, "100"), IdempotencyKey: "key-1"}
	if _, err := f.svc.AddPayment(f.ctx, inv.ID, req); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	second, err := f.svc.AddPayment(f.ctx, inv.ID, req)
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	mustEqual(t, second.PaidAmount, "200", "paid after duplicate submit")
	if len(second.Payments) != 2 {
		t.Fatalf("payments = %d, want 2", len(second.Payments))
	}
}

func TestDuplicatePaymentWithIdempotency(t *testing.T) {
	f := newFixture(t, Options{PaymentIdempotency: true})
	inv := f.stdInvoice(t)

	req := domain.PaymentRequest{Amount: dec(t, "100"), IdempotencyKey: "key-1"}
	if _, err := f.svc.AddPayment(f.ctx, inv.ID, req); err != nil {
		t.Fatalf("first payment: %v", err)
	}
	second, err := f.svc.AddPayment(f.ctx, inv.ID, req)
	if err != nil {
		t.Fatalf("second payment: %v", err)
	}
	mustEqual(t, second.PaidAmount, "100", "paid after deduped submit")
	if len(second.Payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(second.Payments))
	}
}

func TestReturnOnUnpaidInvoice(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)

	result, err := f.svc.ProcessReturn(f.ctx, inv.ID, domain.ReturnRequest{
		Items: []domain.ReturnLine{{InvoiceItemID: inv.Items[0].ID, ReturnedQuantity: dec(t, "1")}},
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}

	mustEqual(t, result.ReturnedAmount, "100", "returned amount")
	mustEqual(t, result.RefundAmount, "0", "refund amount")
	mustEqual(t, result.Invoice.Subtotal, "200", "new subtotal")
	mustEqual(t, result.Invoice.TotalAmount, "205", "new total")
	mustEqual(t, result.Invoice.Items[0].Quantity, "2", "remaining quantity")

	product, err := f.svc.GetProduct(f.ctx, f.product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	mustEqual(t, product.StockQuantity, "48", "stock after restock")
}

func TestReturnOnFullyPaidInvoiceRefunds(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)
	if _, err := f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "305")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	result, err := f.svc.ProcessReturn(f.ctx, inv.ID, domain.ReturnRequest{
		Items: []domain.ReturnLine{{InvoiceItemID: inv.Items[0].ID, ReturnedQuantity: dec(t, "1")}},
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}

	mustEqual(t, result.ReturnedAmount, "100", "returned amount")
	mustEqual(t, result.RefundAmount, "100", "refund amount")
	mustEqual(t, result.Invoice.TotalAmount, "205", "new total")
	mustEqual(t, result.Invoice.PaidAmount, "205", "paid after refund")
	mustEqual(t, result.Invoice.BalanceAmount, "0", "balance")
	if result.Invoice.Status != domain.InvoiceStatusPaid {
		t.Fatalf("status = %s, want paid", result.Invoice.Status)
	}

	refund := result.Invoice.Payments[len(result.Invoice.Payments)-1]
	if refund.PaymentMethod != domain.PaymentMethodRefund {
		t.Fatalf("last payment method = %s, want refund", refund.PaymentMethod)
	}
	mustEqual(t, refund.Amount, "-100", "refund payment amount")
	if len(refund.ReferenceNumber) != len("RETURN-20060102150405") {
		t.Fatalf("unexpected refund reference %q", refund.ReferenceNumber)
	}

	sum := decimal.Zero
	for _, p := range result.Invoice.Payments {
		sum = sum.Add(p.Amount)
	}
	if !sum.Equal(result.Invoice.PaidAmount) {
		t.Fatalf("payment sum %s != paid amount %s", sum, result.Invoice.PaidAmount)
	}
}

func TestReturnOnPartiallyPaidInvoiceKeepsFraction(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.createInvoice(t,
		domain.InvoiceDraft{},
		domain.InvoiceItemDraft{ProductID: f.product.ID, Quantity: dec(t, "4"), UnitPrice: dec(t, "100")},
	)
	if _, err := f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "100")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	result, err := f.svc.ProcessReturn(f.ctx, inv.ID, domain.ReturnRequest{
		Items: []domain.ReturnLine{{InvoiceItemID: inv.Items[0].ID, ReturnedQuantity: dec(t, "2")}},
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}

	// Paid 100 of 400, so the shrunken 200 invoice keeps 50 paid.
	mustEqual(t, result.Invoice.TotalAmount, "200", "new total")
	mustEqual(t, result.Invoice.PaidAmount, "50", "paid kept")
	mustEqual(t, result.RefundAmount, "50", "refund")
	if result.Invoice.Status != domain.InvoiceStatusPartial {
		t.Fatalf("status = %s, want partial", result.Invoice.Status)
	}
}

func TestReturnWhenPaidEqualsNewTotalStillProrates(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.createInvoice(t,
		domain.InvoiceDraft{},
		domain.InvoiceItemDraft{ProductID: f.product.ID, Quantity: dec(t, "4"), UnitPrice: dec(t, "100")},
	)
	if _, err := f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "200")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	result, err := f.svc.ProcessReturn(f.ctx, inv.ID, domain.ReturnRequest{
		Items: []domain.ReturnLine{{InvoiceItemID: inv.Items[0].ID, ReturnedQuantity: dec(t, "2")}},
	})
	if err != nil {
		t.Fatalf("process return: %v", err)
	}

	// Paid 200 of 400. The new 200 total equals the paid amount, but the
	// customer still only keeps the paid fraction: 200 * (200/400) = 100.
	mustEqual(t, result.Invoice.TotalAmount, "200", "new total")
	mustEqual(t, result.Invoice.PaidAmount, "100", "paid kept")
	mustEqual(t, result.RefundAmount, "100", "refund")
	if result.Invoice.Status != domain.InvoiceStatusPartial {
		t.Fatalf("status = %s, want partial", result.Invoice.Status)
	}
}

func TestReturnValidationAbortsWholeCall(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)

	_, err := f.svc.ProcessReturn(f.ctx, inv.ID, domain.ReturnRequest{
		Items: []domain.ReturnLine{
			{InvoiceItemID: inv.Items[0].ID, ReturnedQuantity: dec(t, "1")},
			{InvoiceItemID: inv.Items[0].ID, ReturnedQuantity: dec(t, "3")},
		},
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("over-return: err = %v, want ErrValidation", err)
	}

	detail, err := f.svc.GetInvoice(f.ctx, inv.ID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	mustEqual(t, detail.Invoice.Items[0].Quantity, "3", "quantity untouched after aborted return")
	mustEqual(t, detail.Invoice.TotalAmount, "305", "total untouched after aborted return")

	product, err := f.svc.GetProduct(f.ctx, f.product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	mustEqual(t, product.StockQuantity, "47", "stock untouched after aborted return")
}

func TestDeleteInvoiceRequiresOwner(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)

	actor, _ := ActorFromContext(f.ctx)
	staffCtx := WithActor(context.Background(), domain.Actor{Username: "staff", Role: domain.RoleStaff, ShopID: actor.ShopID})
	if err := f.svc.DeleteInvoice(staffCtx, inv.ID); err == nil {
		t.Fatalf("expected staff delete to be rejected")
	}

	if err := f.svc.DeleteInvoice(f.ctx, inv.ID); err != nil {
		t.Fatalf("owner delete: %v", err)
	}
	if _, err := f.svc.GetInvoice(f.ctx, inv.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
}

func TestListInvoicesValidatesFilter(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.svc.ListInvoices(f.ctx, domain.InvoiceFilter{Sort: "sideways"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("bad sort: err = %v, want ErrValidation", err)
	}
	if _, err := f.svc.ListInvoices(f.ctx, domain.InvoiceFilter{Status: "void"}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("bad status: err = %v, want ErrValidation", err)
	}
}

func TestListInvoicesDerivesOverdue(t *testing.T) {
	f := newFixture(t, Options{})
	due := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
	f.pinClock(t, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	inv := f.createInvoice(t,
		domain.InvoiceDraft{DueDate: &due},
		domain.InvoiceItemDraft{ProductID: f.product.ID, Quantity: dec(t, "3"), UnitPrice: dec(t, "100")},
	)
	if inv.Status != domain.InvoiceStatusPending {
		t.Fatalf("status = %s, want pending before due date", inv.Status)
	}

	f.pinClock(t, time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC))

	listed, err := f.svc.ListInvoices(f.ctx, domain.InvoiceFilter{})
	if err != nil {
		t.Fatalf("list invoices: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("invoices = %d, want 1", len(listed))
	}
	if listed[0].Status != domain.InvoiceStatusOverdue {
		t.Fatalf("listed status = %s, want overdue past due date", listed[0].Status)
	}

	overdue, err := f.svc.ListInvoices(f.ctx, domain.InvoiceFilter{Status: domain.InvoiceStatusOverdue})
	if err != nil {
		t.Fatalf("list overdue: %v", err)
	}
	if len(overdue) != 1 {
		t.Fatalf("overdue filter matched %d invoices, want 1", len(overdue))
	}

	pending, err := f.svc.ListInvoices(f.ctx, domain.InvoiceFilter{Status: domain.InvoiceStatusPending})
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("pending filter matched %d invoices, want 0 past due date", len(pending))
	}
}

func TestRegisterShopCreatesOwnerLogin(t *testing.T) {
	f := newFixture(t, Options{})

	shop, err := f.svc.RegisterShop(context.Background(), domain.ShopRegisterRequest{
		Username:  "newowner",
		Password:  "longenoughpw",
		ShopName:  "Second Shop",
		OwnerName: "Second Owner",
	})
	if err != nil {
		t.Fatalf("register shop: %v", err)
	}
	user, err := f.repo.GetUser(context.Background(), "newowner")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}
	if user.ShopID != shop.ID || user.Role != domain.RoleOwner {
		t.Fatalf("user = %+v, want owner of %s", user, shop.ID)
	}

	_, err = f.svc.RegisterShop(context.Background(), domain.ShopRegisterRequest{
		Username: "newowner2", Password: "short", ShopName: "X", OwnerName: "Y",
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("short password: err = %v, want ErrValidation", err)
	}
}

func TestExpensesLifecycle(t *testing.T) {
	f := newFixture(t, Options{})

	created, err := f.svc.CreateExpense(f.ctx, domain.ExpenseCreateRequest{
		Title:    "Electricity",
		Amount:   dec(t, "75.50"),
		Category: "utilities",
	})
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}

	expenses, err := f.svc.ListExpenses(f.ctx, domain.ExpenseFilter{Category: "utilities"})
	if err != nil {
		t.Fatalf("list expenses: %v", err)
	}
	if len(expenses) != 1 {
		t.Fatalf("expenses = %d, want 1", len(expenses))
	}

	if err := f.svc.DeleteExpense(f.ctx, created.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}

	_, err = f.svc.CreateExpense(f.ctx, domain.ExpenseCreateRequest{Title: "Bad", Amount: dec(t, "0")})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("zero amount: err = %v, want ErrValidation", err)
	}
}

func TestDashboardSummaryReflectsActivity(t *testing.T) {
	f := newFixture(t, Options{})
	inv := f.stdInvoice(t)
	if _, err := f.svc.AddPayment(f.ctx, inv.ID, domain.PaymentRequest{Amount: dec(t, "100")}); err != nil {
		t.Fatalf("add payment: %v", err)
	}

	summary, err := f.svc.DashboardSummary(f.ctx)
	if err != nil {
		t.Fatalf("dashboard summary: %v", err)
	}
	if summary.InvoiceCount != 1 {
		t.Fatalf("invoice count = %d, want 1", summary.InvoiceCount)
	}
	mustEqual(t, summary.TotalSales, "305", "total sales")
	mustEqual(t, summary.TotalPaid, "100", "total paid")
	mustEqual(t, summary.OutstandingBalance, "205", "outstanding")
}

package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokobill/backend/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func items(totals ...string) []domain.InvoiceItem {
	out := make([]domain.InvoiceItem, 0, len(totals))
	for _, t := range totals {
		out = append(out, domain.InvoiceItem{TotalPrice: d(t)})
	}
	return out
}

func TestComputeTotals(t *testing.T) {
	subtotal, total := ComputeTotals(items("100", "200"), d("10"), d("5"))
	assert.True(t, subtotal.Equal(d("300")), "subtotal = %s", subtotal)
	assert.True(t, total.Equal(d("305")), "total = %s", total)

	subtotal, total = ComputeTotals(nil, d("0"), d("0"))
	assert.True(t, subtotal.IsZero())
	assert.True(t, total.IsZero())
}

func TestLineTotal(t *testing.T) {
	assert.True(t, LineTotal(d("3"), d("100")).Equal(d("300")))
	assert.True(t, LineTotal(d("0.5"), d("7.50")).Equal(d("3.75")))
}

func TestDeriveStatus(t *testing.T) {
	today := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	future := time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		balance string
		paid    string
		due     *time.Time
		want    string
	}{
		{"no payments, no due date", "305", "0", nil, domain.InvoiceStatusPending},
		{"no payments, future due", "305", "0", &future, domain.InvoiceStatusPending},
		{"partial payment", "205", "100", &future, domain.InvoiceStatusPartial},
		{"fully paid", "0", "305", &future, domain.InvoiceStatusPaid},
		{"overpaid rounding", "-0.01", "305.01", &future, domain.InvoiceStatusPaid},
		{"past due unpaid", "305", "0", &past, domain.InvoiceStatusOverdue},
		{"overdue wins over partial", "205", "100", &past, domain.InvoiceStatusOverdue},
		{"paid wins over overdue", "0", "305", &past, domain.InvoiceStatusPaid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DeriveStatus(d(tc.balance), d(tc.paid), tc.due, today)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestDaysOverdue(t *testing.T) {
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	today := time.Date(2026, 3, 8, 6, 0, 0, 0, time.UTC)

	assert.Equal(t, 7, DaysOverdue(d("100"), &due, today))
	assert.Equal(t, 0, DaysOverdue(d("0"), &due, today))
	assert.Equal(t, 0, DaysOverdue(d("100"), nil, today))
	assert.Equal(t, 0, DaysOverdue(d("100"), &due, due))
}

func TestProportionalPaid(t *testing.T) {
	cases := []struct {
		name     string
		paid     string
		original string
		newTotal string
		want     string
	}{
		{"unpaid keeps nothing", "0", "305", "205", "0"},
		{"fully paid capped at new total", "305", "305", "205", "205"},
		{"overpaid relative to new total", "250", "305", "205", "205"},
		{"partial keeps same fraction", "100", "400", "200", "50"},
		{"paid equal to new total still prorates", "200", "400", "200", "100"},
		{"paid just above new total refunds surplus", "200.01", "400", "200", "200"},
		{"zero original total", "10", "0", "0", "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ProportionalPaid(d(tc.paid), d(tc.original), d(tc.newTotal))
			assert.True(t, got.Equal(d(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestRecomputeKeepsBooksConsistent(t *testing.T) {
	due := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	inv := &domain.Invoice{
		TaxAmount:      d("10"),
		DiscountAmount: d("5"),
		DueDate:        &due,
		Items: []domain.InvoiceItem{
			{Quantity: d("3"), UnitPrice: d("100"), TotalPrice: d("300")},
		},
		Payments: []domain.InvoicePayment{
			{Amount: d("200")},
			{Amount: d("-100"), PaymentMethod: domain.PaymentMethodRefund},
		},
	}
	Recompute(inv, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))

	require.True(t, inv.Subtotal.Equal(d("300")))
	require.True(t, inv.TotalAmount.Equal(d("305")))
	assert.True(t, inv.PaidAmount.Equal(d("100")), "paid = %s", inv.PaidAmount)
	assert.True(t, inv.BalanceAmount.Equal(d("205")))
	assert.Equal(t, domain.InvoiceStatusPartial, inv.Status)
	assert.True(t, inv.PaidAmount.Equal(SumPayments(inv.Payments)))
}

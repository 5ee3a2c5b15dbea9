// Package ledger holds the pure invoice arithmetic: totals, balances,
// status derivation and proportional refund math. Nothing here touches
// storage or the clock; callers pass the reference time in.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"

	"tokobill/backend/internal/domain"
)

// LineTotal computes the extended price of one invoice line.
func LineTotal(quantity, unitPrice decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitPrice)
}

// ComputeTotals returns the subtotal over the given items and the grand
// total after tax and discount, rounded to two decimal places.
func ComputeTotals(items []domain.InvoiceItem, tax, discount decimal.Decimal) (subtotal, total decimal.Decimal) {
	subtotal = decimal.Zero
	for _, it := range items {
		subtotal = subtotal.Add(it.TotalPrice)
	}
	subtotal = subtotal.Round(2)
	total = subtotal.Add(tax).Sub(discount).Round(2)
	return subtotal, total
}

// Balance is the amount still owed on the invoice.
func Balance(total, paid decimal.Decimal) decimal.Decimal {
	return total.Sub(paid).Round(2)
}

// DeriveStatus computes the invoice status from its money figures. The
// order matters: a fully paid invoice is never overdue, and an overdue
// invoice reports overdue even when partially paid.
func DeriveStatus(balance, paid decimal.Decimal, dueDate *time.Time, today time.Time) string {
	if balance.LessThanOrEqual(decimal.Zero) {
		return domain.InvoiceStatusPaid
	}
	if dueDate != nil && today.After(*dueDate) {
		return domain.InvoiceStatusOverdue
	}
	if paid.GreaterThan(decimal.Zero) {
		return domain.InvoiceStatusPartial
	}
	return domain.InvoiceStatusPending
}

// DaysOverdue returns how many whole days the invoice is past due, or zero
// when it is paid off or not yet due.
func DaysOverdue(balance decimal.Decimal, dueDate *time.Time, today time.Time) int {
	if dueDate == nil || balance.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	if !today.After(*dueDate) {
		return 0
	}
	return int(today.Sub(*dueDate).Hours() / 24)
}

// ProportionalPaid resolves the paid amount an invoice keeps after its
// total shrinks (a return). If the prior payments exceed the new total,
// the surplus is refunded and the invoice stays fully paid at the new
// total. Otherwise, payments equal to or below the new total included,
// the customer keeps the same paid fraction of the reduced total. An
// unpaid invoice keeps nothing.
func ProportionalPaid(currentPaid, originalTotal, newTotal decimal.Decimal) decimal.Decimal {
	if currentPaid.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	if currentPaid.GreaterThan(newTotal) {
		return newTotal
	}
	if originalTotal.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	fraction := currentPaid.Div(originalTotal)
	kept := newTotal.Mul(fraction).Round(2)
	if kept.GreaterThan(newTotal) {
		return newTotal
	}
	return kept
}

// Recompute refreshes an invoice's derived money fields and status from
// its current items and payments. Tax and discount are carried unchanged.
func Recompute(inv *domain.Invoice, today time.Time) {
	inv.Subtotal, inv.TotalAmount = ComputeTotals(inv.Items, inv.TaxAmount, inv.DiscountAmount)
	inv.PaidAmount = SumPayments(inv.Payments)
	inv.BalanceAmount = Balance(inv.TotalAmount, inv.PaidAmount)
	inv.Status = DeriveStatus(inv.BalanceAmount, inv.PaidAmount, inv.DueDate, today)
}

// SumPayments totals the payment rows, refunds included.
func SumPayments(payments []domain.InvoicePayment) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payments {
		sum = sum.Add(p.Amount)
	}
	return sum.Round(2)
}

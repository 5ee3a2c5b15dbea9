// Package numbering formats invoice numbers. Numbers are unique per shop,
// not globally; stores assign the sequence inside the same transaction that
// inserts the invoice.
package numbering

import (
	"fmt"
	"time"
)

// Format renders an invoice number as INV-{shop}-{YYYYMMDD}-{seq}, with the
// sequence zero padded to four digits.
func Format(shopID string, date time.Time, seq int) string {
	return fmt.Sprintf("INV-%s-%s-%04d", shopID, date.Format("20060102"), seq)
}

// ReturnReference renders the reference number stamped on refund payments.
func ReturnReference(at time.Time) string {
	return "RETURN-" + at.Format("20060102150405")
}

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tokobill/backend/internal/domain"
)

func TestCreateInvoiceAppliesStockAndNumber(t *testing.T) {
	databaseURL := os.Getenv("TOKOBILL_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set TOKOBILL_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	shopID := fmt.Sprintf("shop-it-%d", stamp)
	productID := fmt.Sprintf("prod-it-%d", stamp)
	invoiceID := fmt.Sprintf("inv-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_payments WHERE invoice_id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoice_items WHERE invoice_id = $1`, invoiceID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM invoices WHERE shop_id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE shop_id = $1`, shopID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM shops WHERE id = $1`, shopID)
	})

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO shops (id, shop_name, owner_name, phone, address, city, state, gst_number, active, created_at)
		VALUES ($1, 'Toko IT', 'Pemilik IT', '', '', '', '', NULL, true, now())
	`, shopID); err != nil {
		t.Fatalf("insert shop: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (
			id, shop_id, name, category, brand, description, unit,
			price, stock_quantity, min_stock_level, active, created_at, updated_at
		)
		VALUES ($1, $2, 'Produk IT', 'grocery', '', '', 'pcs', 5000, 10, 2, true, now(), now())
	`, productID, shopID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	invoiceDate := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	inv := domain.Invoice{
		ID:             invoiceID,
		ShopID:         shopID,
		InvoiceDate:    invoiceDate,
		Subtotal:       decimal.RequireFromString("10000"),
		TaxAmount:      decimal.Zero,
		DiscountAmount: decimal.Zero,
		TotalAmount:    decimal.RequireFromString("10000"),
		PaidAmount:     decimal.Zero,
		BalanceAmount:  decimal.RequireFromString("10000"),
		Status:         domain.InvoiceStatusPending,
		Items: []domain.InvoiceItem{{
			ProductID:   productID,
			ProductName: "Produk IT",
			Unit:        "pcs",
			Quantity:    decimal.RequireFromString("2"),
			UnitPrice:   decimal.RequireFromString("5000"),
			TotalPrice:  decimal.RequireFromString("10000"),
		}},
	}
	stock := []domain.StockAdjustment{{ProductID: productID, Delta: decimal.RequireFromString("-2")}}

	created, err := s.CreateInvoice(ctx, inv, stock)
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	wantNumber := fmt.Sprintf("INV-%s-20260305-0001", shopID)
	if created.InvoiceNumber != wantNumber {
		t.Fatalf("expected invoice number %s, got %s", wantNumber, created.InvoiceNumber)
	}

	var stockQty decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `
		SELECT stock_quantity FROM products WHERE id = $1
	`, productID).Scan(&stockQty); err != nil {
		t.Fatalf("query stock: %v", err)
	}
	if !stockQty.Equal(decimal.RequireFromString("8")) {
		t.Fatalf("expected stock 8 after invoice, got %s", stockQty)
	}

	loaded, err := s.GetInvoice(ctx, shopID, invoiceID)
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if len(loaded.Items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(loaded.Items))
	}
	if !loaded.BalanceAmount.Equal(decimal.RequireFromString("10000")) {
		t.Fatalf("expected balance 10000, got %s", loaded.BalanceAmount)
	}

	// Reusing the number must conflict.
	dup := inv
	dup.ID = invoiceID + "-dup"
	dup.InvoiceNumber = created.InvoiceNumber
	if _, err := s.CreateInvoice(ctx, dup, nil); err == nil {
		t.Fatalf("expected conflict on duplicate invoice number")
	}
}

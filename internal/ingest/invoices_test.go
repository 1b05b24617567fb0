package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/finvela/risk-engine/internal/store"
)

func writeSheet(t *testing.T, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Invoices")
	require.NoError(t, err)
	for _, cells := range rows {
		row := sheet.AddRow()
		for _, value := range cells {
			row.AddCell().Value = value
		}
	}
	path := filepath.Join(t.TempDir(), "invoices.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

var sheetHeader = []string{
	"invoice_no", "vendor_name", "vendor_gstin", "company_gstin", "currency",
	"invoice_date", "line_no", "description", "hsn_code", "quantity",
	"unit_price", "tax_rate", "line_total", "amount",
}

func TestLoadXLSX(t *testing.T) {
	path := writeSheet(t, [][]string{
		sheetHeader,
		{"A-100", "Acme Traders", "27AAPFU0939F1ZV", "29AAGCB7383J1Z4", "INR",
			"2026-03-14", "1", "compressor", "8414", "1", "780000", "0.18", "920400", "920400"},
		{"A-101", "Acme Traders", "27AAPFU0939F1ZV", "29AAGCB7383J1Z4", "INR",
			"2026-03-15", "1", "office chairs", "", "4", "2500", "0.18", "11800", "12980"},
		{"A-101", "Acme Traders", "27AAPFU0939F1ZV", "29AAGCB7383J1Z4", "INR",
			"2026-03-15", "2", "desk lamp", "", "2", "500", "0.18", "1180", "12980"},
	})

	invoices, err := LoadXLSX(path, XLSXOptions{})
	require.NoError(t, err)
	require.Len(t, invoices, 2)

	first := invoices[0]
	assert.NotEmpty(t, first.InvoiceID)
	assert.Equal(t, "A-100", first.InvoiceNo)
	assert.Equal(t, "27AAPFU0939F1ZV", first.VendorGSTIN)
	assert.Equal(t, 920400.0, first.Amount)
	require.Len(t, first.Lines, 1)
	assert.Equal(t, 0.18, first.Lines[0].TaxRate)

	second := invoices[1]
	assert.Equal(t, "A-101", second.InvoiceNo)
	require.Len(t, second.Lines, 2, "rows sharing an invoice_no fold into one snapshot")
	assert.Equal(t, 2, second.Lines[1].LineNo)
}

func TestLoadXLSX_MissingColumn(t *testing.T) {
	path := writeSheet(t, [][]string{
		{"invoice_no", "vendor_name"},
		{"A-100", "Acme Traders"},
	})
	_, err := LoadXLSX(path, XLSXOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing column")
}

func TestLoadXLSX_BadDate(t *testing.T) {
	row := []string{"A-100", "Acme Traders", "", "", "INR",
		"14/03/2026", "1", "compressor", "", "1", "100", "0.18", "118", "118"}
	path := writeSheet(t, [][]string{sheetHeader, row})
	_, err := LoadXLSX(path, XLSXOptions{})
	assert.Error(t, err)
}

func TestLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	data := `[
		{"invoice_id": "inv-1", "invoice_no": "A-100", "vendor_name": "Acme", "amount": 118,
		 "lines": [{"line_no": 1, "description": "widget", "quantity": 1, "unit_price": 100, "tax_rate": 0.18, "line_total": 118}]},
		{"invoice_no": "A-101", "vendor_name": "Acme", "amount": 59}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	invoices, err := LoadJSON(path)
	require.NoError(t, err)
	require.Len(t, invoices, 2)
	assert.Equal(t, "inv-1", invoices[0].InvoiceID)
	assert.NotEmpty(t, invoices[1].InvoiceID, "missing IDs are minted on import")
}

func TestSaveAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invoices.json")
	data := `[{"invoice_no": "A-100", "vendor_name": "Acme", "amount": 118}]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	invoices, err := LoadJSON(path)
	require.NoError(t, err)

	st := store.NewMemory()
	saved, err := SaveAll(context.Background(), st, invoices)
	require.NoError(t, err)
	assert.Equal(t, 1, saved)

	got, err := st.GetInvoice(context.Background(), invoices[0].InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, "A-100", got.InvoiceNo)
}

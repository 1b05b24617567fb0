// Package ingest loads invoice snapshots from exported files (XLSX and
// JSON) into the store.
package ingest

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/finvela/risk-engine/internal/model"
	"github.com/finvela/risk-engine/internal/store"
)

// XLSX column headers, one sheet row per invoice line. Rows sharing an
// invoice_no fold into one snapshot.
var requiredColumns = []string{
	"invoice_no", "vendor_name", "currency", "invoice_date",
	"line_no", "description", "quantity", "unit_price", "tax_rate",
	"line_total", "amount",
}

var optionalColumns = []string{"vendor_gstin", "company_gstin", "hsn_code", "subtotal", "tax_total"}

const dateLayout = "2006-01-02"

// LoadXLSX parses an exported invoice sheet into snapshots. Invoice IDs are
// minted on import; re-importing the same file yields new invoices.
func LoadXLSX(path string, opts XLSXOptions) ([]*model.InvoiceSnapshot, error) {
	rows, err := ReadXLSX(path, opts)
	if err != nil {
		return nil, err
	}
	if len(rows) < 2 {
		return nil, eris.Errorf("ingest: %s has no data rows", path)
	}

	cols, err := mapColumns(rows[0])
	if err != nil {
		return nil, err
	}

	byInvoiceNo := make(map[string]*model.InvoiceSnapshot)
	var order []string
	for i, row := range rows[1:] {
		get := func(name string) string {
			idx, ok := cols[name]
			if !ok || idx >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[idx])
		}

		invoiceNo := get("invoice_no")
		if invoiceNo == "" {
			continue
		}

		inv, ok := byInvoiceNo[invoiceNo]
		if !ok {
			date, err := time.Parse(dateLayout, get("invoice_date"))
			if err != nil {
				return nil, eris.Wrapf(err, "ingest: row %d invoice_date", i+2)
			}
			inv = &model.InvoiceSnapshot{
				InvoiceID:    uuid.NewString(),
				InvoiceNo:    invoiceNo,
				VendorName:   get("vendor_name"),
				VendorGSTIN:  get("vendor_gstin"),
				CompanyGSTIN: get("company_gstin"),
				Currency:     get("currency"),
				InvoiceDate:  date,
			}
			if inv.Subtotal, err = parseFloat(get("subtotal"), 0); err != nil {
				return nil, eris.Wrapf(err, "ingest: row %d subtotal", i+2)
			}
			if inv.TaxTotal, err = parseFloat(get("tax_total"), 0); err != nil {
				return nil, eris.Wrapf(err, "ingest: row %d tax_total", i+2)
			}
			if inv.Amount, err = parseFloat(get("amount"), 0); err != nil {
				return nil, eris.Wrapf(err, "ingest: row %d amount", i+2)
			}
			byInvoiceNo[invoiceNo] = inv
			order = append(order, invoiceNo)
		}

		line, err := parseLine(get, i+2)
		if err != nil {
			return nil, err
		}
		inv.Lines = append(inv.Lines, line)
	}

	out := make([]*model.InvoiceSnapshot, 0, len(order))
	for _, no := range order {
		out = append(out, byInvoiceNo[no])
	}
	return out, nil
}

// LoadJSON parses a JSON array of invoice snapshots. Missing invoice IDs
// are minted.
func LoadJSON(path string) ([]*model.InvoiceSnapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read %s", path)
	}
	var invoices []*model.InvoiceSnapshot
	if err := json.Unmarshal(raw, &invoices); err != nil {
		return nil, eris.Wrapf(err, "ingest: parse %s", path)
	}
	for _, inv := range invoices {
		if inv.InvoiceID == "" {
			inv.InvoiceID = uuid.NewString()
		}
	}
	return invoices, nil
}

// SaveAll persists the snapshots, skipping none. Returns the number saved.
func SaveAll(ctx context.Context, st store.Store, invoices []*model.InvoiceSnapshot) (int, error) {
	saved := 0
	for _, inv := range invoices {
		if err := st.SaveInvoice(ctx, inv); err != nil {
			return saved, eris.Wrapf(err, "ingest: save invoice %s", inv.InvoiceNo)
		}
		saved++
		zap.L().Debug("ingest: invoice saved",
			zap.String("invoice_id", inv.InvoiceID),
			zap.String("invoice_no", inv.InvoiceNo),
			zap.Int("lines", len(inv.Lines)),
		)
	}
	return saved, nil
}

func mapColumns(header []string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, eris.Errorf("ingest: missing column %q", name)
		}
	}
	return cols, nil
}

func parseLine(get func(string) string, rowNo int) (model.LineItem, error) {
	var line model.LineItem
	var err error

	if line.LineNo, err = strconv.Atoi(get("line_no")); err != nil {
		return line, eris.Wrapf(err, "ingest: row %d line_no", rowNo)
	}
	line.Description = get("description")
	line.HSNCode = get("hsn_code")
	if line.Quantity, err = parseFloat(get("quantity"), 0); err != nil {
		return line, eris.Wrapf(err, "ingest: row %d quantity", rowNo)
	}
	if line.UnitPrice, err = parseFloat(get("unit_price"), 0); err != nil {
		return line, eris.Wrapf(err, "ingest: row %d unit_price", rowNo)
	}
	if line.TaxRate, err = parseFloat(get("tax_rate"), 0); err != nil {
		return line, eris.Wrapf(err, "ingest: row %d tax_rate", rowNo)
	}
	if line.LineTotal, err = parseFloat(get("line_total"), 0); err != nil {
		return line, eris.Wrapf(err, "ingest: row %d line_total", rowNo)
	}
	return line, nil
}

func parseFloat(s string, fallback float64) (float64, error) {
	if s == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}

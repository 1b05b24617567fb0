package model

import "time"

// LineItem is one ordered line of an invoice. LineNo is unique within the
// invoice and ordering is significant.
type LineItem struct {
	LineNo      int     `json:"line_no"`
	Description string  `json:"description"`
	HSNCode     string  `json:"hsn_code,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxRate     float64 `json:"tax_rate"` // fraction, e.g. 0.18
	LineTotal   float64 `json:"line_total"`
}

// InvoiceSnapshot is an immutable view of one invoice at evaluation time.
// The engine never mutates a snapshot; counterfactual runs work on a Clone.
type InvoiceSnapshot struct {
	InvoiceID    string     `json:"invoice_id"`
	InvoiceNo    string     `json:"invoice_no"`
	VendorName   string     `json:"vendor_name"`
	VendorGSTIN  string     `json:"vendor_gstin"`
	CompanyGSTIN string     `json:"company_gstin"`
	Currency     string     `json:"currency"`
	InvoiceDate  time.Time  `json:"invoice_date"`
	Subtotal     float64    `json:"subtotal"`
	TaxTotal     float64    `json:"tax_total"`
	Amount       float64    `json:"amount"` // declared grand total
	Lines        []LineItem `json:"lines"`
}

// Clone returns a deep copy safe for in-memory what-if edits.
func (s *InvoiceSnapshot) Clone() *InvoiceSnapshot {
	out := *s
	out.Lines = make([]LineItem, len(s.Lines))
	copy(out.Lines, s.Lines)
	return &out
}

// Line returns the line with the given number, or nil if absent.
func (s *InvoiceSnapshot) Line(lineNo int) *LineItem {
	for i := range s.Lines {
		if s.Lines[i].LineNo == lineNo {
			return &s.Lines[i]
		}
	}
	return nil
}

// VendorKey is the key under which fingerprints and history for this
// vendor are filed. GSTIN when present, otherwise the vendor name.
func (s *InvoiceSnapshot) VendorKey() string {
	if s.VendorGSTIN != "" {
		return s.VendorGSTIN
	}
	return s.VendorName
}

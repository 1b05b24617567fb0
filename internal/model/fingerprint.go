package model

import "time"

// FingerprintEntry is the comparison record kept for one past invoice of a
// vendor. Entries are append-only.
type FingerprintEntry struct {
	InvoiceID       string    `json:"invoice_id"`
	InvoiceNo       string    `json:"invoice_no"`
	InvoiceDate     time.Time `json:"invoice_date"`
	Amount          float64   `json:"amount"`
	ContentHash     string    `json:"content_hash"`
	DescriptionNorm string    `json:"description_norm"`
}

// VendorFingerprint holds everything the duplicate matcher knows about one
// vendor's past invoices.
type VendorFingerprint struct {
	VendorKey string             `json:"vendor_key"`
	Entries   []FingerprintEntry `json:"entries"`
}

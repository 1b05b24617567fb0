package model

// LineChange is one hypothetical edit to an invoice line. Nil fields are
// left untouched; at least one override must be supplied.
type LineChange struct {
	LineNo      int      `json:"line_no"`
	Quantity    *float64 `json:"quantity,omitempty"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	TaxRate     *float64 `json:"tax_rate,omitempty"`
	HSNCode     *string  `json:"hsn_code,omitempty"`
	Description *string  `json:"description,omitempty"`
}

// HasOverride reports whether the change carries at least one field.
func (c LineChange) HasOverride() bool {
	return c.Quantity != nil || c.UnitPrice != nil || c.TaxRate != nil ||
		c.HSNCode != nil || c.Description != nil
}

// Totals is an invoice total breakdown used in counterfactual diffs.
type Totals struct {
	Subtotal   float64 `json:"subtotal"`
	TaxTotal   float64 `json:"tax_total"`
	GrandTotal float64 `json:"grand_total"`
}

// Sub returns the element-wise difference t - other.
func (t Totals) Sub(other Totals) Totals {
	return Totals{
		Subtotal:   t.Subtotal - other.Subtotal,
		TaxTotal:   t.TaxTotal - other.TaxTotal,
		GrandTotal: t.GrandTotal - other.GrandTotal,
	}
}

// CounterfactualResult is the ephemeral outcome of a what-if evaluation.
// It is returned to the caller and never persisted.
type CounterfactualResult struct {
	InvoiceID      string     `json:"invoice_id"`
	TotalsBefore   Totals     `json:"totals_before"`
	TotalsAfter    Totals     `json:"totals_after"`
	TotalsDelta    Totals     `json:"totals_delta"`
	RiskBefore     *RiskScore `json:"risk_before"`
	RiskAfter      *RiskScore `json:"risk_after"`
	DeltaComposite float64    `json:"delta_composite"`
	Notes          []string   `json:"notes,omitempty"`
}

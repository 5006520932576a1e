package model

// LineItem is a single line on an invoice or purchase order. The yaml tags
// exist because PO catalogs may be YAML files; yaml.v3 does not read json
// tags.
type LineItem struct {
	ItemCode    string  `json:"item_code,omitempty" yaml:"item_code"`
	Description string  `json:"description" yaml:"description"`
	Quantity    float64 `json:"quantity" yaml:"quantity"`
	Unit        string  `json:"unit,omitempty" yaml:"unit"`
	UnitPrice   float64 `json:"unit_price" yaml:"unit_price"`
	LineTotal   float64 `json:"line_total" yaml:"line_total"`
}

// InvoiceDocument identifies the raw document a pipeline run started from.
// It is produced by the extraction collaborator and never mutated afterwards.
type InvoiceDocument struct {
	Filename  string `json:"filename"`
	Quality   string `json:"document_quality"`
	PageCount int    `json:"page_count,omitempty"`
}

// Document quality labels reported by the OCR layer.
const (
	QualityExcellent  = "excellent"
	QualityGood       = "good"
	QualityAcceptable = "acceptable"
	QualityPoor       = "poor"
	QualityUnreadable = "unreadable"
	QualityUnknown    = "unknown"
)

// ExtractedInvoice is the structured invoice produced by the extraction
// stage. Downstream stages read it but never modify it.
type ExtractedInvoice struct {
	InvoiceNumber string     `json:"invoice_number"`
	InvoiceDate   string     `json:"invoice_date"`
	SupplierName  string     `json:"supplier_name"`
	SupplierVAT   string     `json:"supplier_vat,omitempty"`
	POReference   string     `json:"po_reference,omitempty"`
	PaymentTerms  string     `json:"payment_terms,omitempty"`
	Currency      string     `json:"currency,omitempty"`
	LineItems     []LineItem `json:"line_items"`
	Subtotal      float64    `json:"subtotal"`
	VATRate       *float64   `json:"vat_rate,omitempty"`
	VATAmount     *float64   `json:"vat_amount,omitempty"`
	Total         float64    `json:"total"`
}

// PurchaseOrder is a reference record from the PO catalog. The catalog is
// loaded once per process and shared read-only across pipeline runs.
type PurchaseOrder struct {
	PONumber  string     `json:"po_number" yaml:"po_number"`
	Supplier  string     `json:"supplier" yaml:"supplier"`
	Date      string     `json:"date,omitempty" yaml:"date"`
	Currency  string     `json:"currency,omitempty" yaml:"currency"`
	LineItems []LineItem `json:"line_items" yaml:"line_items"`
	Total     float64    `json:"total" yaml:"total"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DraftStatus represents the lifecycle state of a reconciliation draft
type DraftStatus string

const (
	DraftStatusIdle             DraftStatus = "idle"
	DraftStatusLoading          DraftStatus = "loading"
	DraftStatusReadyForReview   DraftStatus = "ready_for_review"
	DraftStatusSubmitting       DraftStatus = "submitting"
	DraftStatusConfirmed        DraftStatus = "confirmed"
	DraftStatusPendingSelection DraftStatus = "pending_selection"
	DraftStatusFailed           DraftStatus = "failed"
)

// ReceiptLineItem is a single extracted line from a receipt.
// The ID is stable across edits; one is synthesized when the extraction
// service does not supply its own.
type ReceiptLineItem struct {
	ID                   string           `json:"id"`
	RawName              string           `json:"raw_name"`
	NormalizedName       *string          `json:"normalized_name,omitempty"`
	Brand                *string          `json:"brand,omitempty"`
	OriginalPrice        *decimal.Decimal `json:"original_price,omitempty"`
	FinalPrice           decimal.Decimal  `json:"final_price"`
	ConfidenceScore      float64          `json:"confidence_score"`
	NormalizedProductRef *string          `json:"normalized_product_ref,omitempty"`
}

// HasDiscount reports whether the extraction detected a price reduction.
// The difference is presentational only; FinalPrice is always authoritative.
func (i *ReceiptLineItem) HasDiscount() bool {
	return i.OriginalPrice != nil && !i.OriginalPrice.Equal(i.FinalPrice)
}

// DateReconciliation holds the current best date/time plus validation state
type DateReconciliation struct {
	RawValue       *string  `json:"raw_value,omitempty"`
	NormalizedDate string   `json:"normalized_date"`
	NormalizedTime *string  `json:"normalized_time,omitempty"`
	IsValid        bool     `json:"is_valid"`
	Warnings       []string `json:"warnings,omitempty"`
	SuggestedDate  *string  `json:"suggested_date,omitempty"`
}

// DateValidationResult is the server-side validation attached to an extraction
type DateValidationResult struct {
	IsValid       bool     `json:"is_valid"`
	Warnings      []string `json:"warnings,omitempty"`
	SuggestedDate *string  `json:"suggested_date,omitempty"`
}

// PendingProduct is an ambiguous product match handed off for manual selection
type PendingProduct struct {
	ItemID     string   `json:"item_id"`
	Name       string   `json:"name"`
	Candidates []string `json:"candidates"`
}

// ReceiptDraft is the root aggregate for one in-progress reconciliation.
// It lives in memory for the session's lifetime; items are mutable only
// while the status is ready_for_review.
type ReceiptDraft struct {
	DraftID         string             `json:"draft_id"`
	ReceiptID       *string            `json:"receipt_id,omitempty"`
	Items           []ReceiptLineItem  `json:"items"`
	MerchantNameRaw *string            `json:"merchant_name_raw,omitempty"`
	StoreAddressRaw *string            `json:"store_address_raw,omitempty"`
	ResolvedStore   *StoreCandidate    `json:"resolved_store,omitempty"`
	DateInfo        DateReconciliation `json:"date_info"`
	Status          DraftStatus        `json:"status"`
	PendingProducts []PendingProduct   `json:"pending_products,omitempty"`
	LastError       *string            `json:"last_error,omitempty"`
	ImageKey        *string            `json:"-"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// ItemPatch is a partial update to a line item
type ItemPatch struct {
	Name  *string          `json:"name,omitempty"`
	Price *decimal.Decimal `json:"price,omitempty"`
	Brand *string          `json:"brand,omitempty"`
}

// ItemConfirmation is the per-item projection sent on submission
type ItemConfirmation struct {
	NormalizedProductRef *string `json:"normalized_product_ref,omitempty"`
	NormalizedName       *string `json:"normalized_name,omitempty"`
	Brand                *string `json:"brand,omitempty"`
	IsConfirmed          bool    `json:"is_confirmed"`
}

// ExtractedItem is one line item as returned by the extraction service
type ExtractedItem struct {
	ID                   *string          `json:"id,omitempty"`
	Name                 string           `json:"name"`
	NormalizedName       *string          `json:"normalized_name,omitempty"`
	Brand                *string          `json:"brand,omitempty"`
	OriginalPrice        *decimal.Decimal `json:"original_price,omitempty"`
	FinalPrice           decimal.Decimal  `json:"final_price"`
	Confidence           float64          `json:"confidence"`
	NormalizedProductRef *string          `json:"normalized_product_ref,omitempty"`
}

// ExtractionResult is the structured output of the extraction service
type ExtractionResult struct {
	ReceiptID       string                `json:"receipt_id"`
	Items           []ExtractedItem       `json:"items"`
	Merchant        *string               `json:"merchant,omitempty"`
	StoreAddress    *string               `json:"store_address,omitempty"`
	Date            *string               `json:"date,omitempty"`
	Time            *string               `json:"time,omitempty"`
	StoreSearchHint *StoreCandidate       `json:"store_search_hint,omitempty"`
	DateValidation  *DateValidationResult `json:"date_validation,omitempty"`
}

// SubmissionPayload is the reconciled record sent to the backend
type SubmissionPayload struct {
	Items []ItemConfirmation `json:"items"`
	Store *StoreCandidate    `json:"store"`
	Date  string             `json:"date"`
	Time  *string            `json:"time,omitempty"`
}

// SubmissionResult is the outcome of a confirmation submission
type SubmissionResult struct {
	PendingSelectionProducts []PendingProduct `json:"pending_selection_products,omitempty"`
}

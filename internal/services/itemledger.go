package services

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

// HighConfidenceThreshold separates high-trust items from ones worth a
// second look. It only affects presentation; every item stays editable.
const HighConfidenceThreshold = 0.8

var (
	ErrItemNotFound  = errors.New("line item not found")
	ErrNegativePrice = errors.New("price must not be negative")
)

// ItemLedger holds the mutable collection of extracted line items in scan
// order. Items are appended once at ingestion; afterwards only edits and
// deletes apply, serialized under the ledger lock.
type ItemLedger struct {
	mu    sync.Mutex
	items []models.ReceiptLineItem
}

// NewItemLedger builds a ledger from extraction output, synthesizing a
// stable id for any item the extraction service did not assign one
func NewItemLedger(extracted []models.ExtractedItem) *ItemLedger {
	items := make([]models.ReceiptLineItem, 0, len(extracted))
	for _, e := range extracted {
		id := uuid.NewString()
		if e.ID != nil && *e.ID != "" {
			id = *e.ID
		}
		// A negative price is an extraction misread; clamp to zero so
		// the user corrects it instead of carrying it into submission
		price := e.FinalPrice
		if price.IsNegative() {
			price = decimal.Zero
		}
		items = append(items, models.ReceiptLineItem{
			ID:                   id,
			RawName:              cleanItemName(e.Name),
			NormalizedName:       e.NormalizedName,
			Brand:                e.Brand,
			OriginalPrice:        e.OriginalPrice,
			FinalPrice:           price,
			ConfidenceScore:      e.Confidence,
			NormalizedProductRef: e.NormalizedProductRef,
		})
	}
	return &ItemLedger{items: items}
}

// Edit applies a partial update to the item with the given id
func (l *ItemLedger) Edit(itemID string, patch *models.ItemPatch) (*models.ReceiptLineItem, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.items {
		if l.items[i].ID != itemID {
			continue
		}
		if patch.Name != nil {
			name := cleanItemName(*patch.Name)
			l.items[i].RawName = name
			l.items[i].NormalizedName = &name
		}
		if patch.Price != nil {
			if patch.Price.IsNegative() {
				return nil, ErrNegativePrice
			}
			l.items[i].FinalPrice = *patch.Price
		}
		if patch.Brand != nil {
			l.items[i].Brand = patch.Brand
		}
		item := l.items[i]
		return &item, nil
	}
	return nil, ErrItemNotFound
}

// Delete removes the item with the given id. It is a pure filter over the
// ordered sequence; no server round-trip happens and the remaining items
// keep their scan order.
func (l *ItemLedger) Delete(itemID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.items[:0]
	found := false
	for _, item := range l.items {
		if item.ID == itemID {
			found = true
			continue
		}
		kept = append(kept, item)
	}
	if !found {
		return ErrItemNotFound
	}
	l.items = kept
	return nil
}

// Items returns a copy of the current line items in scan order
func (l *ItemLedger) Items() []models.ReceiptLineItem {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.ReceiptLineItem, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of retained items
func (l *ItemLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// TrustLevel maps a confidence score to the presentation tier
func TrustLevel(confidence float64) string {
	if confidence >= HighConfidenceThreshold {
		return "high"
	}
	return "review"
}

// cleanItemName strips OCR artifacts and stray punctuation from a name
func cleanItemName(name string) string {
	name = strings.ReplaceAll(name, "|", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = strings.TrimRight(name, ".,;:-_")
	for _, prefix := range []string{"@", "#", "*"} {
		name = strings.TrimPrefix(name, prefix)
	}
	return strings.Join(strings.Fields(name), " ")
}

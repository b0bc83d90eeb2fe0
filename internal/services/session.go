package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid draft state transition")
	ErrDraftNotEditable  = errors.New("draft is not editable in its current state")
	ErrStoreRequired     = errors.New("a resolved store is required before submission")
	ErrInvalidDate       = errors.New("purchase date must be in YYYY-MM-DD format")
)

// Extractor turns a receipt image into structured extraction output
type Extractor interface {
	Process(ctx context.Context, image []byte, filename string) (*models.ExtractionResult, error)
}

// ReceiptBackend is the matching backend the session submits to
type ReceiptBackend interface {
	ConfirmDate(ctx context.Context, receiptID, date string, timeOfDay *string) (bool, error)
	SubmitConfirmations(ctx context.Context, receiptID string, payload *models.SubmissionPayload) (*models.SubmissionResult, error)
}

// allowedTransitions is the draft state machine. Edits and date
// corrections are self-loops on ready_for_review and are validated
// separately; this table covers the status-changing moves.
var allowedTransitions = map[models.DraftStatus][]models.DraftStatus{
	models.DraftStatusIdle:           {models.DraftStatusLoading},
	models.DraftStatusLoading:        {models.DraftStatusReadyForReview, models.DraftStatusFailed},
	models.DraftStatusFailed:         {models.DraftStatusLoading},
	models.DraftStatusReadyForReview: {models.DraftStatusSubmitting},
	models.DraftStatusSubmitting: {
		models.DraftStatusConfirmed,
		models.DraftStatusPendingSelection,
		models.DraftStatusReadyForReview,
	},
}

// ReceiptSession owns one ReceiptDraft end to end: ingestion, item edits,
// store and date resolution, and the confirmation submission. A draft is
// owned by exactly one session; all mutations serialize on the session
// lock in arrival order.
type ReceiptSession struct {
	mu       sync.Mutex
	draft    *models.ReceiptDraft
	ledger   *ItemLedger
	resolver *StoreResolver
	dates    *DateReconciler

	extractor Extractor
	backend   ReceiptBackend

	// retained so a failed extraction can be retried without re-upload
	image    []byte
	filename string

	activeRowID *string
}

// NewReceiptSession creates a session around a fresh, empty draft
func NewReceiptSession(extractor Extractor, backend ReceiptBackend, resolver *StoreResolver, dates *DateReconciler) *ReceiptSession {
	now := time.Now()
	return &ReceiptSession{
		draft: &models.ReceiptDraft{
			DraftID:   uuid.NewString(),
			Status:    models.DraftStatusIdle,
			CreatedAt: now,
			UpdatedAt: now,
		},
		ledger:    NewItemLedger(nil),
		resolver:  resolver,
		dates:     dates,
		extractor: extractor,
		backend:   backend,
	}
}

// ID returns the draft id
func (s *ReceiptSession) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.DraftID
}

// CreatedAt returns when the draft was opened
func (s *ReceiptSession) CreatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.CreatedAt
}

// Resolver exposes the session's store resolver
func (s *ReceiptSession) Resolver() *StoreResolver {
	return s.resolver
}

// SetImageKey records where the uploaded image was archived
func (s *ReceiptSession) SetImageKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.ImageKey = &key
}

// ImageKey returns the archive key of the uploaded image, if any
func (s *ReceiptSession) ImageKey() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft.ImageKey
}

// Ingest runs the extraction pipeline over a receipt image. Zero extracted
// items or an extraction error both land the draft in the failed state
// with no partial item list kept.
func (s *ReceiptSession) Ingest(ctx context.Context, image []byte, filename string) error {
	s.mu.Lock()
	if err := s.transitionLocked(models.DraftStatusLoading); err != nil {
		s.mu.Unlock()
		return err
	}
	s.image = image
	s.filename = filename
	s.mu.Unlock()

	result, err := s.extractor.Process(ctx, image, filename)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		msg := "receipt could not be read"
		if errors.Is(err, ErrNoItemsExtracted) {
			msg = "no items found on receipt"
		}
		s.draft.LastError = &msg
		s.draft.Items = nil
		s.draft.ReceiptID = nil
		s.ledger = NewItemLedger(nil)
		if terr := s.transitionLocked(models.DraftStatusFailed); terr != nil {
			return terr
		}
		return fmt.Errorf("ingesting receipt: %w", err)
	}

	s.draft.ReceiptID = &result.ReceiptID
	s.draft.MerchantNameRaw = result.Merchant
	s.draft.StoreAddressRaw = result.StoreAddress
	s.draft.LastError = nil
	s.ledger = NewItemLedger(result.Items)
	s.draft.Items = s.ledger.Items()

	s.resolver.BindReceipt(result.ReceiptID)
	s.resolver.Resolve(result.Merchant, result.StoreAddress, result.StoreSearchHint)
	s.draft.ResolvedStore = s.resolver.Resolved()

	s.draft.DateInfo = s.dates.Reconcile(result.Date, result.Time, result.DateValidation)

	return s.transitionLocked(models.DraftStatusReadyForReview)
}

// Retry re-runs ingestion after a failure using the retained image
func (s *ReceiptSession) Retry(ctx context.Context) error {
	s.mu.Lock()
	if s.draft.Status != models.DraftStatusFailed {
		s.mu.Unlock()
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, s.draft.Status)
	}
	image := s.image
	filename := s.filename
	s.draft.Status = models.DraftStatusIdle
	s.mu.Unlock()

	return s.Ingest(ctx, image, filename)
}

// EditItem patches a line item. Items stay editable regardless of their
// confidence score, but only while the draft is under review.
func (s *ReceiptSession) EditItem(itemID string, patch *models.ItemPatch) (*models.ReceiptLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft.Status != models.DraftStatusReadyForReview {
		return nil, ErrDraftNotEditable
	}

	item, err := s.ledger.Edit(itemID, patch)
	if err != nil {
		return nil, err
	}
	s.draft.Items = s.ledger.Items()
	s.touchLocked()
	return item, nil
}

// DeleteItem drops a line item from the draft
func (s *ReceiptSession) DeleteItem(itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft.Status != models.DraftStatusReadyForReview {
		return ErrDraftNotEditable
	}

	if err := s.ledger.Delete(itemID); err != nil {
		return err
	}
	s.draft.Items = s.ledger.Items()
	if s.activeRowID != nil && *s.activeRowID == itemID {
		s.activeRowID = nil
	}
	s.touchLocked()
	return nil
}

// SetActiveRow records which item row is expanded in the review list
func (s *ReceiptSession) SetActiveRow(itemID *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activeRowID = itemID
}

// ActiveRow returns the expanded item row, if any
func (s *ReceiptSession) ActiveRow() *string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeRowID
}

// ConfirmDate applies a user date/time correction. The value re-enters the
// reconciliation pipeline, and if a receipt id exists the backend is
// pinged best-effort; a failed ping never reverts the correction.
func (s *ReceiptSession) ConfirmDate(rawDate string, rawTime *string) (models.DateReconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.draft.Status != models.DraftStatusReadyForReview {
		return models.DateReconciliation{}, ErrDraftNotEditable
	}

	info := s.dates.Reconcile(&rawDate, rawTime, nil)
	s.draft.DateInfo = info
	s.touchLocked()

	if s.draft.ReceiptID != nil && s.backend != nil {
		receiptID := *s.draft.ReceiptID
		date := info.NormalizedDate
		timeOfDay := info.NormalizedTime
		FireAndForget("date confirmation", func(ctx context.Context) error {
			_, err := s.backend.ConfirmDate(ctx, receiptID, date, timeOfDay)
			return err
		})
	}

	return info, nil
}

// SelectStore pins a store candidate on the draft
func (s *ReceiptSession) SelectStore(candidate *models.StoreCandidate) error {
	s.mu.Lock()
	if s.draft.Status != models.DraftStatusReadyForReview {
		s.mu.Unlock()
		return ErrDraftNotEditable
	}
	s.mu.Unlock()

	s.resolver.Select(candidate)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.ResolvedStore = s.resolver.Resolved()
	s.touchLocked()
	return nil
}

// UseCurrentLocation resolves the store from device coordinates
func (s *ReceiptSession) UseCurrentLocation(ctx context.Context, lat, lng float64) (*models.StoreCandidate, error) {
	candidate, err := s.resolver.UseCurrentLocation(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.ResolvedStore = s.resolver.Resolved()
	s.touchLocked()
	return candidate, nil
}

// CreateStore registers a manually entered store and pins it
func (s *ReceiptSession) CreateStore(ctx context.Context, req *models.CreateStoreRequest) (*models.StoreCandidate, error) {
	created, err := s.resolver.Create(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.ResolvedStore = s.resolver.Resolved()
	s.touchLocked()
	return created, nil
}

// Submit sends the reconciled record to the backend. Validation failures
// are rejected locally before any network call; a network failure returns
// the draft to review with everything preserved so submit can be retried.
func (s *ReceiptSession) Submit(ctx context.Context) (models.DraftStatus, error) {
	s.mu.Lock()

	if s.draft.Status != models.DraftStatusReadyForReview {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: submit from %s", ErrInvalidTransition, s.draft.Status)
	}

	store := s.resolver.Resolved()
	if store == nil {
		s.mu.Unlock()
		return models.DraftStatusReadyForReview, ErrStoreRequired
	}
	if !CanonicalDatePattern.MatchString(s.draft.DateInfo.NormalizedDate) {
		s.mu.Unlock()
		return models.DraftStatusReadyForReview, ErrInvalidDate
	}

	if err := s.transitionLocked(models.DraftStatusSubmitting); err != nil {
		s.mu.Unlock()
		return "", err
	}

	receiptID := ""
	if s.draft.ReceiptID != nil {
		receiptID = *s.draft.ReceiptID
	}
	payload := &models.SubmissionPayload{
		Items: projectConfirmations(s.ledger.Items()),
		Store: store,
		Date:  s.draft.DateInfo.NormalizedDate,
		Time:  s.draft.DateInfo.NormalizedTime,
	}
	s.mu.Unlock()

	result, err := s.backend.SubmitConfirmations(ctx, receiptID, payload)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		// Recoverable: the draft survives intact and submit can be retried
		msg := "submission failed, please try again"
		s.draft.LastError = &msg
		if terr := s.transitionLocked(models.DraftStatusReadyForReview); terr != nil {
			return "", terr
		}
		log.Printf("Warning: submission for receipt %s failed: %v", receiptID, err)
		return models.DraftStatusReadyForReview, fmt.Errorf("submitting confirmations: %w", err)
	}

	s.draft.LastError = nil
	target := models.DraftStatusConfirmed
	if len(result.PendingSelectionProducts) > 0 {
		target = models.DraftStatusPendingSelection
		s.draft.PendingProducts = result.PendingSelectionProducts
	}
	if terr := s.transitionLocked(target); terr != nil {
		return "", terr
	}

	// Terminal for this session; drop any pending debounce timer
	s.resolver.Close()
	return target, nil
}

// Draft returns a snapshot copy of the current draft
func (s *ReceiptSession) Draft() models.ReceiptDraft {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := *s.draft
	snapshot.Items = s.ledger.Items()
	snapshot.ResolvedStore = s.resolver.Resolved()
	return snapshot
}

// Close releases session resources
func (s *ReceiptSession) Close() {
	s.resolver.Close()
}

func (s *ReceiptSession) transitionLocked(to models.DraftStatus) error {
	from := s.draft.Status
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			s.draft.Status = to
			s.touchLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

func (s *ReceiptSession) touchLocked() {
	s.draft.UpdatedAt = time.Now()
}

// projectConfirmations builds the submission projection of the retained
// items. Deleted items are simply absent from the ledger by now.
func projectConfirmations(items []models.ReceiptLineItem) []models.ItemConfirmation {
	out := make([]models.ItemConfirmation, 0, len(items))
	for _, item := range items {
		name := item.NormalizedName
		if name == nil {
			raw := item.RawName
			name = &raw
		}
		out = append(out, models.ItemConfirmation{
			NormalizedProductRef: item.NormalizedProductRef,
			NormalizedName:       name,
			Brand:                item.Brand,
			IsConfirmed:          true,
		})
	}
	return out
}

package services

import (
	"context"
	"sync"
	"time"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

// manualTimers is a TimerFactory that never fires on its own; tests call
// Fire to run the most recently armed, still-pending callback.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimerHandle
}

type manualTimerHandle struct {
	mu        sync.Mutex
	fn        func()
	d         time.Duration
	fired     bool
	cancelled bool
}

func (h *manualTimerHandle) Cancel() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fired || h.cancelled {
		return false
	}
	h.cancelled = true
	return true
}

func (h *manualTimerHandle) fire() bool {
	h.mu.Lock()
	if h.fired || h.cancelled {
		h.mu.Unlock()
		return false
	}
	h.fired = true
	fn := h.fn
	h.mu.Unlock()
	fn()
	return true
}

func (m *manualTimers) factory(d time.Duration, fn func()) TimerHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := &manualTimerHandle{fn: fn, d: d}
	m.timers = append(m.timers, h)
	return h
}

// fire runs the latest pending timer, returning false if none was live
func (m *manualTimers) fire() bool {
	m.mu.Lock()
	timers := append([]*manualTimerHandle(nil), m.timers...)
	m.mu.Unlock()

	for i := len(timers) - 1; i >= 0; i-- {
		if timers[i].fire() {
			return true
		}
	}
	return false
}

func (m *manualTimers) armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		t.mu.Lock()
		if !t.fired && !t.cancelled {
			n++
		}
		t.mu.Unlock()
	}
	return n
}

type fakeRegistry struct {
	mu          sync.Mutex
	results     []models.StoreCandidate
	created     *models.StoreCandidate
	searchErr   error
	createErr   error
	searchCalls int
}

func (f *fakeRegistry) SearchStores(ctx context.Context, params *models.StoreSearchParams) ([]models.StoreCandidate, error) {
	f.mu.Lock()
	f.searchCalls++
	f.mu.Unlock()
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeRegistry) CreateStore(ctx context.Context, req *models.CreateStoreRequest) (*models.StoreCandidate, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if f.created != nil {
		return f.created, nil
	}
	return &models.StoreCandidate{
		Source:      models.SourceManualEntry,
		Name:        req.Name,
		FullAddress: req.Address,
		City:        req.City,
	}, nil
}

func (f *fakeRegistry) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searchCalls
}

type fakeGeocoder struct {
	mu        sync.Mutex
	places    []*PlaceResult
	geocoded  *GeocodingResult
	textErr   error
	revErr    error
	textCalls int
	onSearch  func()
}

func (f *fakeGeocoder) TextSearch(ctx context.Context, query string, lat, lng float64, radius int) ([]*PlaceResult, error) {
	f.mu.Lock()
	f.textCalls++
	hook := f.onSearch
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	if f.textErr != nil {
		return nil, f.textErr
	}
	return f.places, nil
}

func (f *fakeGeocoder) ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodingResult, error) {
	if f.revErr != nil {
		return nil, f.revErr
	}
	return f.geocoded, nil
}

func (f *fakeGeocoder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.textCalls
}

type fakeBackend struct {
	mu sync.Mutex

	confirmDateErr   error
	confirmStoreErr  error
	submitErr        error
	submitResult     *models.SubmissionResult
	submitCalls      int
	lastPayload      *models.SubmissionPayload
	confirmDateDone  chan struct{}
	confirmStoreDone chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		submitResult:     &models.SubmissionResult{},
		confirmDateDone:  make(chan struct{}, 8),
		confirmStoreDone: make(chan struct{}, 8),
	}
}

func (f *fakeBackend) ConfirmDate(ctx context.Context, receiptID, date string, timeOfDay *string) (bool, error) {
	defer func() { f.confirmDateDone <- struct{}{} }()
	if f.confirmDateErr != nil {
		return false, f.confirmDateErr
	}
	return true, nil
}

func (f *fakeBackend) ConfirmStoreForReceipt(ctx context.Context, receiptID string, store *models.StoreCandidate) error {
	defer func() { f.confirmStoreDone <- struct{}{} }()
	return f.confirmStoreErr
}

func (f *fakeBackend) SubmitConfirmations(ctx context.Context, receiptID string, payload *models.SubmissionPayload) (*models.SubmissionResult, error) {
	f.mu.Lock()
	f.submitCalls++
	f.lastPayload = payload
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitResult, nil
}

func (f *fakeBackend) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func (f *fakeBackend) payload() *models.SubmissionPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPayload
}

type fakeExtractor struct {
	result *models.ExtractionResult
	err    error
	calls  int
}

func (f *fakeExtractor) Process(ctx context.Context, image []byte, filename string) (*models.ExtractionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

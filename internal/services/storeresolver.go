package services

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

// ResolutionState tracks where the resolver is in the store-identification flow
type ResolutionState string

const (
	ResolutionAutoResolved ResolutionState = "auto_resolved"
	ResolutionNeedsSearch  ResolutionState = "needs_search"
	ResolutionSearching    ResolutionState = "searching"
	ResolutionResolved     ResolutionState = "resolved"
	ResolutionCreating     ResolutionState = "creating"
)

const (
	// searchDebounce is how long query input must be quiet before a
	// debounced search fires
	searchDebounce = 500 * time.Millisecond

	// autoResolveConfidence is the trust threshold above which a
	// pre-matched store from the extraction service is accepted as-is
	autoResolveConfidence = 0.75

	defaultCandidateLimit = 10
)

// StoreRegistry is the local store database consulted during search
type StoreRegistry interface {
	SearchStores(ctx context.Context, params *models.StoreSearchParams) ([]models.StoreCandidate, error)
	CreateStore(ctx context.Context, req *models.CreateStoreRequest) (*models.StoreCandidate, error)
}

// Geocoder searches and reverse-geocodes through an external mapping service
type Geocoder interface {
	TextSearch(ctx context.Context, query string, lat, lng float64, radius int) ([]*PlaceResult, error)
	ReverseGeocode(ctx context.Context, lat, lng float64) (*GeocodingResult, error)
}

// StoreConfirmer links a chosen store to an in-progress receipt on the
// backend. Calls are best-effort; failures are logged and ignored.
type StoreConfirmer interface {
	ConfirmStoreForReceipt(ctx context.Context, receiptID string, store *models.StoreCandidate) error
}

// ResolverSnapshot is a point-in-time view of the resolver for rendering
type ResolverSnapshot struct {
	State      ResolutionState         `json:"state"`
	Query      string                  `json:"query"`
	Candidates []models.StoreCandidate `json:"candidates,omitempty"`
	Resolved   *models.StoreCandidate  `json:"resolved,omitempty"`
}

// StoreResolver resolves a merchant name/address into a concrete store.
// Debounced searches are single-flight, and every state change bumps a
// generation counter so a slow search completing late can never overwrite
// a newer user choice.
type StoreResolver struct {
	registry  StoreRegistry
	geo       Geocoder
	confirmer StoreConfirmer
	timers    TimerFactory

	mu         sync.Mutex
	state      ResolutionState
	query      string
	candidates []models.StoreCandidate
	resolved   *models.StoreCandidate
	receiptID  *string
	location   *latLng

	generation   uint64
	pendingTimer TimerHandle
	inFlight     bool
	queuedQuery  *string
}

type latLng struct {
	lat, lng float64
}

// NewStoreResolver creates a resolver with the real clock
func NewStoreResolver(registry StoreRegistry, geo Geocoder, confirmer StoreConfirmer) *StoreResolver {
	return NewStoreResolverWithTimers(registry, geo, confirmer, AfterFunc)
}

// NewStoreResolverWithTimers creates a resolver with an injected timer factory
func NewStoreResolverWithTimers(registry StoreRegistry, geo Geocoder, confirmer StoreConfirmer, timers TimerFactory) *StoreResolver {
	return &StoreResolver{
		registry:  registry,
		geo:       geo,
		confirmer: confirmer,
		timers:    timers,
		state:     ResolutionNeedsSearch,
	}
}

// BindReceipt attaches the backend receipt id once extraction assigns one.
// From then on every store selection is confirmed against the backend.
func (r *StoreResolver) BindReceipt(receiptID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receiptID = &receiptID
}

// SetLocation records the device coordinates used to bias searches
func (r *StoreResolver) SetLocation(lat, lng float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.location = &latLng{lat: lat, lng: lng}
}

// Resolve seeds the resolver from extraction output. A pre-matched store
// above the trust threshold is accepted immediately; otherwise the raw
// merchant text becomes the initial search query.
func (r *StoreResolver) Resolve(merchantHint, addressHint *string, precomputed *models.StoreCandidate) ResolutionState {
	r.mu.Lock()
	defer r.mu.Unlock()

	if precomputed != nil {
		trusted := precomputed.MatchConfidence == nil || *precomputed.MatchConfidence >= autoResolveConfidence
		if trusted {
			r.resolved = precomputed
			r.state = ResolutionAutoResolved
			r.confirmSelectionLocked()
			return r.state
		}
	}

	if merchantHint != nil {
		r.query = strings.TrimSpace(*merchantHint)
	} else if addressHint != nil {
		r.query = strings.TrimSpace(*addressHint)
	}
	r.state = ResolutionNeedsSearch
	return r.state
}

// QueryEdited handles a user keystroke: it re-arms the debounce timer and
// schedules a search once input has been quiet for the debounce window.
func (r *StoreResolver) QueryEdited(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.query = query
	r.cancelPendingLocked()

	gen := r.generation
	r.pendingTimer = r.timers(searchDebounce, func() {
		r.runSearch(gen, query)
	})
}

// SetQueryProgrammatic updates the visible query text without arming a
// search, e.g. after a candidate selection writes its name back into the
// input field.
func (r *StoreResolver) SetQueryProgrammatic(query string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.query = query
	r.cancelPendingLocked()
}

// Search performs an immediate merged search against the local registry
// and the geocoding service. Local results are listed first; duplicates
// are collapsed by normalized display name, first seen wins.
func (r *StoreResolver) Search(ctx context.Context, query string) ([]models.StoreCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	r.mu.Lock()
	gen := r.generation
	prev := r.state
	if prev != ResolutionResolved && prev != ResolutionAutoResolved {
		r.state = ResolutionSearching
	}
	loc := r.location
	r.mu.Unlock()

	merged := r.fetchCandidates(ctx, query, loc)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		// A newer selection or search superseded this one; drop it.
		return merged, nil
	}
	r.candidates = merged
	if r.state == ResolutionSearching {
		r.state = ResolutionNeedsSearch
	}
	return merged, nil
}

func (r *StoreResolver) fetchCandidates(ctx context.Context, query string, loc *latLng) []models.StoreCandidate {
	var merged []models.StoreCandidate
	seen := make(map[string]bool)

	params := &models.StoreSearchParams{Query: query, Limit: defaultCandidateLimit}
	if loc != nil {
		params.Latitude = &loc.lat
		params.Longitude = &loc.lng
	}

	local, err := r.registry.SearchStores(ctx, params)
	if err != nil {
		// Registry failure is non-fatal; geocoding may still produce hits
		log.Printf("Warning: local store search failed for %q: %v", query, err)
	}
	for _, c := range local {
		key := normalizeStoreName(c.Name)
		if !seen[key] {
			seen[key] = true
			merged = append(merged, c)
		}
	}

	var lat, lng float64
	if loc != nil {
		lat, lng = loc.lat, loc.lng
	}
	places, err := r.geo.TextSearch(ctx, query, lat, lng, 0)
	if err != nil {
		log.Printf("Warning: geocoding search failed for %q: %v", query, err)
	}
	for _, p := range places {
		key := normalizeStoreName(p.Name)
		if seen[key] {
			continue
		}
		seen[key] = true
		merged = append(merged, placeToCandidate(p))
	}

	return merged
}

// runSearch is the debounce-timer callback. It is single-flight: a burst
// of keystrokes produces at most one live network call, with at most one
// follow-up queued for the latest query.
func (r *StoreResolver) runSearch(gen uint64, query string) {
	r.mu.Lock()
	if r.generation != gen || r.query != query {
		r.mu.Unlock()
		return
	}
	if r.inFlight {
		r.queuedQuery = &query
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := r.Search(ctx, query); err != nil {
		log.Printf("Warning: debounced store search failed: %v", err)
	}

	r.mu.Lock()
	r.inFlight = false
	queued := r.queuedQuery
	r.queuedQuery = nil
	stillWanted := queued != nil && r.query == *queued && r.generation == gen
	r.mu.Unlock()

	if stillWanted {
		r.runSearch(gen, *queued)
	}
}

// Select pins a candidate as the resolved store. Any in-flight or pending
// search becomes stale, and if a receipt id exists the backend is informed
// best-effort.
func (r *StoreResolver) Select(candidate *models.StoreCandidate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelPendingLocked()
	r.generation++
	r.resolved = candidate
	r.state = ResolutionResolved
	r.query = candidate.Name
	r.confirmSelectionLocked()
}

// UseCurrentLocation reverse-geocodes the device position into a
// synthesized candidate and selects it, bypassing search entirely. It is
// available from any resolver state.
func (r *StoreResolver) UseCurrentLocation(ctx context.Context, lat, lng float64) (*models.StoreCandidate, error) {
	result, err := r.geo.ReverseGeocode(ctx, lat, lng)
	if err != nil {
		return nil, err
	}

	name := result.Components.Route
	if name == "" {
		name = result.FormattedAddress
	}
	candidate := &models.StoreCandidate{
		Source:      models.SourceUserLocation,
		ExternalKey: &result.PlaceID,
		Name:        name,
		FullAddress: result.FormattedAddress,
		City:        result.Components.City,
		Province:    result.Components.State,
		PostalCode:  result.Components.PostalCode,
		Latitude:    &result.Latitude,
		Longitude:   &result.Longitude,
	}

	r.SetLocation(lat, lng)
	r.Select(candidate)
	return candidate, nil
}

// Create registers a new store from free text, offered when search comes
// back empty. The created store is selected immediately.
func (r *StoreResolver) Create(ctx context.Context, req *models.CreateStoreRequest) (*models.StoreCandidate, error) {
	r.mu.Lock()
	prev := r.state
	r.state = ResolutionCreating
	r.mu.Unlock()

	created, err := r.registry.CreateStore(ctx, req)
	if err != nil {
		r.mu.Lock()
		r.state = prev
		r.mu.Unlock()
		return nil, err
	}

	created.Source = models.SourceManualEntry
	r.Select(created)
	return created, nil
}

// Resolved returns the currently pinned store, if any
func (r *StoreResolver) Resolved() *models.StoreCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolved
}

// Snapshot returns the resolver's current view for the API layer
func (r *StoreResolver) Snapshot() ResolverSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return ResolverSnapshot{
		State:      r.state,
		Query:      r.query,
		Candidates: r.candidates,
		Resolved:   r.resolved,
	}
}

// Close cancels any pending debounce timer. Safe to call more than once.
func (r *StoreResolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelPendingLocked()
}

func (r *StoreResolver) cancelPendingLocked() {
	if r.pendingTimer != nil {
		r.pendingTimer.Cancel()
		r.pendingTimer = nil
	}
}

// confirmSelectionLocked fires the best-effort backend linkage. The result
// is intentionally ignored beyond a log line: a failed ping must never
// block the UI or revert the selection.
func (r *StoreResolver) confirmSelectionLocked() {
	if r.receiptID == nil || r.resolved == nil || r.confirmer == nil {
		return
	}
	receiptID := *r.receiptID
	store := r.resolved
	FireAndForget("store confirmation", func(ctx context.Context) error {
		return r.confirmer.ConfirmStoreForReceipt(ctx, receiptID, store)
	})
}

func normalizeStoreName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func placeToCandidate(p *PlaceResult) models.StoreCandidate {
	placeID := p.PlaceID
	lat, lng := p.Latitude, p.Longitude
	return models.StoreCandidate{
		Source:      models.SourceExternalGeocoding,
		ExternalKey: &placeID,
		Name:        p.Name,
		FullAddress: p.FormattedAddress,
		Latitude:    &lat,
		Longitude:   &lng,
	}
}

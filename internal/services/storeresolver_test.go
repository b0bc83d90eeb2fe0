package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

func newTestResolver(registry *fakeRegistry, geo *fakeGeocoder, backend *fakeBackend) (*StoreResolver, *manualTimers) {
	timers := &manualTimers{}
	r := NewStoreResolverWithTimers(registry, geo, backend, timers.factory)
	return r, timers
}

func TestDebouncedBurstFiresOneSearch(t *testing.T) {
	registry := &fakeRegistry{}
	geo := &fakeGeocoder{}
	r, timers := newTestResolver(registry, geo, newFakeBackend())

	// Five rapid keystrokes within the debounce window
	for _, q := range []string{"S", "Su", "Sup", "Supe", "Super"} {
		r.QueryEdited(q)
	}

	if got := timers.armed(); got != 1 {
		t.Fatalf("%d timers armed after burst, want 1", got)
	}

	timers.fire()

	if registry.calls() != 1 {
		t.Errorf("registry searched %d times, want 1", registry.calls())
	}
	if geo.calls() != 1 {
		t.Errorf("geocoder searched %d times, want 1", geo.calls())
	}
}

func TestKeystrokeDuringInFlightSearchQueuesOneFollowUp(t *testing.T) {
	registry := &fakeRegistry{}
	geo := &fakeGeocoder{}
	r, timers := newTestResolver(registry, geo, newFakeBackend())

	// While the first debounced search is on the wire, the user keeps
	// typing and the next debounce elapses
	typed := false
	geo.onSearch = func() {
		if typed {
			return
		}
		typed = true
		r.QueryEdited("corner sho")
		if !timers.fire() {
			t.Error("no timer armed for the follow-up keystroke")
		}
	}

	r.QueryEdited("corner")
	timers.fire()

	// One live call plus exactly one follow-up for the latest query
	if geo.calls() != 2 {
		t.Errorf("geocoder searched %d times, want 2", geo.calls())
	}
	if registry.calls() != 2 {
		t.Errorf("registry searched %d times, want 2", registry.calls())
	}
	if got := r.Snapshot().Query; got != "corner sho" {
		t.Errorf("query = %q, want the latest keystroke", got)
	}
	if timers.fire() {
		t.Error("a timer was still live after the follow-up ran")
	}
}

func TestProgrammaticQueryDoesNotTriggerSearch(t *testing.T) {
	registry := &fakeRegistry{}
	geo := &fakeGeocoder{}
	r, timers := newTestResolver(registry, geo, newFakeBackend())

	r.QueryEdited("Tar")
	r.SetQueryProgrammatic("Target Main St")

	if timers.fire() {
		t.Error("a timer was still live after a programmatic query update")
	}
	if registry.calls() != 0 || geo.calls() != 0 {
		t.Errorf("search ran (%d registry, %d geo calls), want none", registry.calls(), geo.calls())
	}
	if got := r.Snapshot().Query; got != "Target Main St" {
		t.Errorf("query = %q, want programmatic value", got)
	}
}

func TestSearchMergesAndDeduplicates(t *testing.T) {
	registry := &fakeRegistry{
		results: []models.StoreCandidate{
			{Source: models.SourceLocalRegistry, Name: "Super Saver", City: "Calgary"},
		},
	}
	geo := &fakeGeocoder{
		places: []*PlaceResult{
			{PlaceID: "p1", Name: "super  saver", FormattedAddress: "1 Main St"},
			{PlaceID: "p2", Name: "Other Mart", FormattedAddress: "2 Main St"},
		},
	}
	r, _ := newTestResolver(registry, geo, newFakeBackend())

	got, err := r.Search(context.Background(), "super saver")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	if len(got) != 2 {
		t.Fatalf("got %d candidates, want 2 after dedup", len(got))
	}
	// First-seen source wins: the local registry entry shadows the place
	if got[0].Source != models.SourceLocalRegistry || got[0].Name != "Super Saver" {
		t.Errorf("first candidate = %+v, want the local registry hit", got[0])
	}
	if got[1].Source != models.SourceExternalGeocoding {
		t.Errorf("second candidate source = %s, want external_geocoding", got[1].Source)
	}
}

func TestSearchSurvivesRegistryFailure(t *testing.T) {
	registry := &fakeRegistry{searchErr: errors.New("connection refused")}
	geo := &fakeGeocoder{
		places: []*PlaceResult{{PlaceID: "p1", Name: "Corner Shop"}},
	}
	r, _ := newTestResolver(registry, geo, newFakeBackend())

	got, err := r.Search(context.Background(), "corner")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Corner Shop" {
		t.Errorf("got %+v, want the geocoding hit despite registry failure", got)
	}
}

func TestStaleSearchDoesNotOverwriteSelection(t *testing.T) {
	registry := &fakeRegistry{}
	chosen := &models.StoreCandidate{Source: models.SourceUserLocation, Name: "Picked Store"}
	geo := &fakeGeocoder{
		places: []*PlaceResult{{PlaceID: "p1", Name: "Slow Result"}},
	}
	r, _ := newTestResolver(registry, geo, newFakeBackend())

	// The user picks a store while the search is still on the wire
	geo.onSearch = func() { r.Select(chosen) }

	if _, err := r.Search(context.Background(), "slow"); err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	snap := r.Snapshot()
	if snap.State != ResolutionResolved {
		t.Errorf("state = %s, want resolved", snap.State)
	}
	if snap.Resolved == nil || snap.Resolved.Name != "Picked Store" {
		t.Errorf("resolved = %+v, the stale search overwrote the newer choice", snap.Resolved)
	}
	if len(snap.Candidates) != 0 {
		t.Errorf("stale candidates %v were applied", snap.Candidates)
	}
}

func TestResolveAutoAcceptsTrustedMatch(t *testing.T) {
	r, _ := newTestResolver(&fakeRegistry{}, &fakeGeocoder{}, newFakeBackend())

	precomputed := &models.StoreCandidate{
		Source:          models.SourceLocalRegistry,
		Name:            "Target",
		MatchConfidence: floatPtr(0.92),
	}
	state := r.Resolve(strPtr("Target"), nil, precomputed)

	if state != ResolutionAutoResolved {
		t.Errorf("state = %s, want auto_resolved", state)
	}
	if got := r.Resolved(); got == nil || got.Name != "Target" {
		t.Errorf("resolved = %+v, want the precomputed match", got)
	}
}

func TestResolveLowTrustMatchNeedsSearch(t *testing.T) {
	r, _ := newTestResolver(&fakeRegistry{}, &fakeGeocoder{}, newFakeBackend())

	precomputed := &models.StoreCandidate{
		Source:          models.SourceLocalRegistry,
		Name:            "Targay",
		MatchConfidence: floatPtr(0.4),
	}
	state := r.Resolve(strPtr("Target"), nil, precomputed)

	if state != ResolutionNeedsSearch {
		t.Errorf("state = %s, want needs_search", state)
	}
	if r.Resolved() != nil {
		t.Error("a low-trust match was pinned as resolved")
	}
	if got := r.Snapshot().Query; got != "Target" {
		t.Errorf("query = %q, want seeded from merchant hint", got)
	}
}

func TestCreateFromEmptySearchResolvesImmediately(t *testing.T) {
	registry := &fakeRegistry{}
	geo := &fakeGeocoder{}
	r, _ := newTestResolver(registry, geo, newFakeBackend())

	// Zero hits from both sources
	got, err := r.Search(context.Background(), "Super Saver")
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %d candidates, want 0", len(got))
	}

	created, err := r.Create(context.Background(), &models.CreateStoreRequest{
		Name:    "Super Saver",
		Address: "5 High St",
		City:    "Calgary",
	})
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}

	if created.Source != models.SourceManualEntry {
		t.Errorf("created source = %s, want manual_entry", created.Source)
	}
	snap := r.Snapshot()
	if snap.State != ResolutionResolved {
		t.Errorf("state = %s, want resolved", snap.State)
	}
	if snap.Resolved == nil || snap.Resolved.Name != "Super Saver" {
		t.Errorf("resolved = %+v, want the created store", snap.Resolved)
	}
}

func TestCreateFailureRestoresState(t *testing.T) {
	registry := &fakeRegistry{createErr: errors.New("duplicate")}
	r, _ := newTestResolver(registry, &fakeGeocoder{}, newFakeBackend())

	if _, err := r.Create(context.Background(), &models.CreateStoreRequest{Name: "X"}); err == nil {
		t.Fatal("expected create error")
	}
	if got := r.Snapshot().State; got != ResolutionNeedsSearch {
		t.Errorf("state = %s, want needs_search after failed create", got)
	}
}

func TestUseCurrentLocationBypassesSearch(t *testing.T) {
	geo := &fakeGeocoder{
		geocoded: &GeocodingResult{
			FormattedAddress: "10 River Rd, Calgary",
			Latitude:         51.04,
			Longitude:        -114.07,
			PlaceID:          "place-xyz",
			Components: AddressComponents{
				Route:      "River Rd",
				City:       "Calgary",
				State:      "Alberta",
				PostalCode: "T2P",
			},
		},
	}
	registry := &fakeRegistry{}
	r, _ := newTestResolver(registry, geo, newFakeBackend())

	candidate, err := r.UseCurrentLocation(context.Background(), 51.04, -114.07)
	if err != nil {
		t.Fatalf("UseCurrentLocation returned error: %v", err)
	}

	if candidate.Source != models.SourceUserLocation {
		t.Errorf("source = %s, want user_location", candidate.Source)
	}
	if candidate.City != "Calgary" || candidate.PostalCode != "T2P" {
		t.Errorf("address components not carried: %+v", candidate)
	}
	if registry.calls() != 0 {
		t.Errorf("location path issued %d searches, want 0", registry.calls())
	}
	if got := r.Snapshot().State; got != ResolutionResolved {
		t.Errorf("state = %s, want resolved", got)
	}
}

func TestSelectionConfirmedBestEffort(t *testing.T) {
	backend := newFakeBackend()
	r, _ := newTestResolver(&fakeRegistry{}, &fakeGeocoder{}, backend)

	r.BindReceipt("rcpt-1")
	r.Select(&models.StoreCandidate{Source: models.SourceManualEntry, Name: "Shop"})

	select {
	case <-backend.confirmStoreDone:
	case <-time.After(2 * time.Second):
		t.Fatal("store confirmation was never attempted")
	}
}

func TestFailedConfirmationDoesNotRevertSelection(t *testing.T) {
	backend := newFakeBackend()
	backend.confirmStoreErr = errors.New("backend down")
	r, _ := newTestResolver(&fakeRegistry{}, &fakeGeocoder{}, backend)

	r.BindReceipt("rcpt-1")
	chosen := &models.StoreCandidate{Source: models.SourceManualEntry, Name: "Shop"}
	r.Select(chosen)

	select {
	case <-backend.confirmStoreDone:
	case <-time.After(2 * time.Second):
		t.Fatal("store confirmation was never attempted")
	}

	if got := r.Resolved(); got == nil || got.Name != "Shop" {
		t.Errorf("resolved = %+v, selection must survive a failed confirmation", got)
	}
	if got := r.Snapshot().State; got != ResolutionResolved {
		t.Errorf("state = %s, want resolved", got)
	}
}

func TestCloseCancelsPendingTimer(t *testing.T) {
	registry := &fakeRegistry{}
	r, timers := newTestResolver(registry, &fakeGeocoder{}, newFakeBackend())

	r.QueryEdited("half-typed")
	r.Close()

	if timers.fire() {
		t.Error("a timer was still live after Close")
	}
	if registry.calls() != 0 {
		t.Errorf("search ran after teardown, %d calls", registry.calls())
	}
}

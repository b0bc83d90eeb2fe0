package services

import (
	"strings"
	"testing"
	"time"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

func fixedClock(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 12, 0, 0, 0, time.Local)
	}
}

func TestReconcileCanonicalInputUnchanged(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	inputs := []string{"2025-07-28", "2024-01-01", "2023-12-31", "2025-02-14"}
	for _, in := range inputs {
		got := r.Reconcile(&in, nil, nil)
		if got.NormalizedDate != in {
			t.Errorf("Reconcile(%q) = %q, want input unchanged", in, got.NormalizedDate)
		}
		if !got.IsValid {
			t.Errorf("Reconcile(%q) reported invalid", in)
		}
		if len(got.Warnings) != 0 {
			t.Errorf("Reconcile(%q) produced warnings %v", in, got.Warnings)
		}
	}
}

func TestReconcileYearCorrection(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	testCases := []struct {
		name     string
		raw      string
		expected string
	}{
		{
			name:     "slash date with OCR-inflated year",
			raw:      "2028/07/28",
			expected: "2025-07-28",
		},
		{
			name:     "severely inflated year",
			raw:      "3025/01/15",
			expected: "2025-01-15",
		},
		{
			name:     "next year is plausible and kept",
			raw:      "2026/03/01",
			expected: "2026-03-01",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := r.Reconcile(&tc.raw, nil, nil)
			if got.NormalizedDate != tc.expected {
				t.Errorf("Reconcile(%q) = %q, want %q", tc.raw, got.NormalizedDate, tc.expected)
			}
		})
	}
}

func TestReconcileImplausibleYearWarns(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	raw := "2028/07/28"
	got := r.Reconcile(&raw, nil, nil)

	if got.NormalizedDate != "2025-07-28" {
		t.Fatalf("NormalizedDate = %q, want 2025-07-28", got.NormalizedDate)
	}
	if len(got.Warnings) == 0 {
		t.Fatal("expected a warning about the implausible year")
	}
	if !strings.Contains(got.Warnings[0], "2028") {
		t.Errorf("warning %q does not mention the source year", got.Warnings[0])
	}
}

func TestReconcileGenericLayouts(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	testCases := []struct {
		raw      string
		expected string
	}{
		{"07/28/2025", "2025-07-28"},
		{"01-02-2024", "2024-01-02"},
		{"28.07.2025", "2025-07-28"},
		{"Jan 2, 2025", "2025-01-02"},
	}

	for _, tc := range testCases {
		got := r.Reconcile(&tc.raw, nil, nil)
		if got.NormalizedDate != tc.expected {
			t.Errorf("Reconcile(%q) = %q, want %q", tc.raw, got.NormalizedDate, tc.expected)
		}
		if !got.IsValid {
			t.Errorf("Reconcile(%q) reported invalid", tc.raw)
		}
	}
}

func TestReconcileRejectsCalendarInvalidDates(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	// Well-formed per the pattern, but not real calendar dates
	inputs := []string{"2025-13-45", "2025-00-10", "2025-02-31", "2024-06-00"}
	for _, in := range inputs {
		got := r.Reconcile(&in, nil, nil)
		if got.NormalizedDate != "2025-07-28" {
			t.Errorf("Reconcile(%q) = %q, want fallback to today", in, got.NormalizedDate)
		}
		if got.IsValid {
			t.Errorf("Reconcile(%q) reported valid", in)
		}
		if len(got.Warnings) == 0 {
			t.Errorf("Reconcile(%q) produced no warning", in)
		}
	}
}

func TestReconcileFallsBackToToday(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	testCases := []*string{
		strPtr("not a date"),
		strPtr(""),
		nil,
	}

	for _, raw := range testCases {
		got := r.Reconcile(raw, nil, nil)
		if got.NormalizedDate != "2025-07-28" {
			t.Errorf("Reconcile(%v) = %q, want today", raw, got.NormalizedDate)
		}
		if got.IsValid {
			t.Errorf("Reconcile(%v) reported valid for a fallback value", raw)
		}
		if !CanonicalDatePattern.MatchString(got.NormalizedDate) {
			t.Errorf("fallback %q is not a well-formed canonical date", got.NormalizedDate)
		}
	}
}

func TestReconcileServerValidation(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	raw := "2025-07-20"
	suggested := "2025-07-21"
	got := r.Reconcile(&raw, nil, &models.DateValidationResult{
		IsValid:       false,
		Warnings:      []string{"date is in the future for this store"},
		SuggestedDate: &suggested,
	})

	// Server suggestion is offered, never applied
	if got.NormalizedDate != raw {
		t.Errorf("NormalizedDate = %q, want %q (suggestion must not auto-apply)", got.NormalizedDate, raw)
	}
	if got.SuggestedDate == nil || *got.SuggestedDate != suggested {
		t.Errorf("SuggestedDate = %v, want %q", got.SuggestedDate, suggested)
	}
	if got.IsValid {
		t.Error("server-invalid date should be flagged invalid")
	}
	if len(got.Warnings) != 1 || got.Warnings[0] != "date is in the future for this store" {
		t.Errorf("server warnings not surfaced verbatim: %v", got.Warnings)
	}
}

func TestNormalizeTime(t *testing.T) {
	testCases := []struct {
		raw      string
		expected string
		ok       bool
	}{
		{"14:30", "14:30", true},
		{"3:05 PM", "15:05", true},
		{"12:15 AM", "00:15", true},
		{"12:40 PM", "12:40", true},
		{"9:07", "09:07", true},
		{"25:00", "", false},
		{"nope", "", false},
	}

	for _, tc := range testCases {
		got, ok := normalizeTime(tc.raw)
		if ok != tc.ok || got != tc.expected {
			t.Errorf("normalizeTime(%q) = (%q, %v), want (%q, %v)", tc.raw, got, ok, tc.expected, tc.ok)
		}
	}
}

func TestReconcileCarriesTime(t *testing.T) {
	r := NewDateReconcilerAt(fixedClock(2025, time.July, 28))

	raw := "2025-07-28"
	rawTime := "6:45 PM"
	got := r.Reconcile(&raw, &rawTime, nil)

	if got.NormalizedTime == nil || *got.NormalizedTime != "18:45" {
		t.Errorf("NormalizedTime = %v, want 18:45", got.NormalizedTime)
	}
}

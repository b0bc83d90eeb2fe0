package services

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/foxxcyber/receipt-reconcile/internal/models"
)

const canonicalDateLayout = "2006-01-02"

// CanonicalDatePattern matches the strict YYYY-MM-DD form required at submission
var CanonicalDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

var timePattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})`)

// dateLayouts are tried in order during generic parsing
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"01-02-2006",
	"02.01.2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2, 2006",
}

// DateReconciler normalizes extracted date strings into canonical form.
// It never fails: when nothing parses it degrades to the current date and
// attaches advisory warnings instead.
type DateReconciler struct {
	now func() time.Time
}

// NewDateReconciler creates a reconciler using the system clock
func NewDateReconciler() *DateReconciler {
	return &DateReconciler{now: time.Now}
}

// NewDateReconcilerAt creates a reconciler with a fixed clock
func NewDateReconcilerAt(now func() time.Time) *DateReconciler {
	return &DateReconciler{now: now}
}

// Reconcile produces the best-effort canonical date and time for a draft.
// Server-supplied validation warnings are surfaced verbatim; a suggested
// date from the server is offered but never applied automatically.
func (r *DateReconciler) Reconcile(rawDate, rawTime *string, serverValidation *models.DateValidationResult) models.DateReconciliation {
	result := models.DateReconciliation{
		RawValue: rawDate,
		IsValid:  true,
	}

	raw := ""
	if rawDate != nil {
		raw = strings.TrimSpace(*rawDate)
	}

	switch {
	case raw == "":
		result.NormalizedDate = r.today()
		result.IsValid = false
		result.Warnings = append(result.Warnings, "no date found on receipt, defaulting to today")
	case isCanonicalDate(raw):
		// Already canonical. Accept the string verbatim instead of
		// re-rendering it through a UTC conversion, which can shift the
		// date by a day.
		result.NormalizedDate = raw
	default:
		normalized, warnings, ok := r.normalize(raw)
		result.NormalizedDate = normalized
		result.Warnings = append(result.Warnings, warnings...)
		if !ok {
			result.IsValid = false
		}
	}

	if rawTime != nil {
		if t, ok := normalizeTime(*rawTime); ok {
			result.NormalizedTime = &t
		}
	}

	if serverValidation != nil {
		result.Warnings = append(result.Warnings, serverValidation.Warnings...)
		if !serverValidation.IsValid {
			result.IsValid = false
		}
		result.SuggestedDate = serverValidation.SuggestedDate
	}

	return result
}

// normalize attempts generic parsing, then a numeric three-part split,
// then falls back to today. The bool reports whether the value is trusted.
func (r *DateReconciler) normalize(raw string) (string, []string, bool) {
	// Generic layout parsing. Reformat using the parsed calendar fields
	// directly, never via UTC, so the day does not shift across timezones.
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			y, m, d := t.Date()
			y, warnings := r.correctYear(y)
			return formatDate(y, int(m), d), warnings, true
		}
	}

	// Numeric split assumed [year, month, day]
	if y, m, d, ok := splitNumericDate(raw); ok {
		y, warnings := r.correctYear(y)
		if validCalendarDay(y, m, d) {
			return formatDate(y, m, d), warnings, true
		}
	}

	return r.today(), []string{fmt.Sprintf("could not read date %q, defaulting to today", raw)}, false
}

// correctYear substitutes the current year for implausible future years.
// Receipt scanners commonly misread 0 as 8 or 3 in the year digits,
// inflating it well past any date a receipt could carry.
func (r *DateReconciler) correctYear(year int) (int, []string) {
	currentYear := r.now().Year()
	if year > currentYear+2 {
		return currentYear, []string{
			fmt.Sprintf("implausible year %d read from receipt, assuming %d", year, currentYear),
		}
	}
	return year, nil
}

func (r *DateReconciler) today() string {
	y, m, d := r.now().Date()
	return formatDate(y, int(m), d)
}

func formatDate(year, month, day int) string {
	return fmt.Sprintf("%04d-%02d-%02d", year, month, day)
}

// isCanonicalDate reports whether raw is strict YYYY-MM-DD and names a
// real calendar date. The regex alone admits misreads like month 13.
func isCanonicalDate(raw string) bool {
	if !CanonicalDatePattern.MatchString(raw) {
		return false
	}
	_, err := time.Parse(canonicalDateLayout, raw)
	return err == nil
}

// validCalendarDay rejects out-of-range months and days that only exist
// through rollover (e.g. February 31)
func validCalendarDay(year, month, day int) bool {
	if month < 1 || month > 12 || day < 1 {
		return false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	return t.Day() == day
}

// splitNumericDate splits on / or - into three numeric parts
func splitNumericDate(raw string) (year, month, day int, ok bool) {
	parts := strings.FieldsFunc(raw, func(c rune) bool {
		return c == '/' || c == '-'
	})
	if len(parts) != 3 {
		return 0, 0, 0, false
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return 0, 0, 0, false
		}
		nums[i] = n
	}

	return nums[0], nums[1], nums[2], true
}

// normalizeTime coerces a raw time string to HH:MM 24-hour form
func normalizeTime(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	matches := timePattern.FindStringSubmatch(raw)
	if matches == nil {
		return "", false
	}

	hour, _ := strconv.Atoi(matches[1])
	minute, _ := strconv.Atoi(matches[2])
	if minute > 59 {
		return "", false
	}

	upper := strings.ToUpper(raw)
	if strings.Contains(upper, "PM") && hour < 12 {
		hour += 12
	} else if strings.Contains(upper, "AM") && hour == 12 {
		hour = 0
	}
	if hour > 23 {
		return "", false
	}

	return fmt.Sprintf("%02d:%02d", hour, minute), true
}

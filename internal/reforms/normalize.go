package reforms

import (
	"strconv"
	"strings"
	"time"

	"github.com/EmpoweredVote/EV-Reforms/internal/logging"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const dateLayout = "2006-01-02"

var (
	adoptedStatuses = map[string]struct{}{
		"approved": {}, "enacted": {}, "effective": {}, "signed": {},
		"signed by governor": {}, "adopted": {},
	}
	failedStatuses = map[string]struct{}{
		"denied/rejected": {}, "denied": {}, "rejected": {}, "vetoed": {},
		"failed": {}, "died": {}, "defeat": {},
	}
	proposedStatuses = map[string]struct{}{
		"early process": {}, "late process": {}, "introduced": {}, "in committee": {},
		"passed chamber": {}, "introduced or prefiled": {}, "passed original chamber": {},
		"passed second chamber": {}, "out of committee": {}, "proposed": {},
	}
)

// NormalizeStatus maps tracker status text onto adopted, failed or proposed.
// Unrecognised text falls back to proposed.
func NormalizeStatus(raw string) Status {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return StatusProposed
	}
	if _, ok := adoptedStatuses[s]; ok {
		return StatusAdopted
	}
	if _, ok := failedStatuses[s]; ok {
		return StatusFailed
	}
	if _, ok := proposedStatuses[s]; ok {
		return StatusProposed
	}

	switch {
	case strings.Contains(s, "effective"), strings.Contains(s, "signed"), strings.Contains(s, "enacted"):
		return StatusAdopted
	case strings.Contains(s, "fail"), strings.Contains(s, "veto"), strings.Contains(s, "died"), strings.Contains(s, "defeat"):
		return StatusFailed
	}

	logging.Default().Warn().Str("status", raw).Msg("unknown reform status, defaulting to proposed")
	return StatusProposed
}

// StatusPtr normalizes raw and returns nil for blank input, so a missing
// status stays NULL instead of becoming proposed.
func StatusPtr(raw string) *Status {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	s := NormalizeStatus(raw)
	return &s
}

// ParseFlexibleDate accepts YYYY, YYYY-MM, YYYY-MM-DD and M/D/YYYY, with an
// optional time suffix after "T". It returns nil when nothing matches.
func ParseFlexibleDate(raw string) *time.Time {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if i := strings.Index(s, "T"); i >= 0 {
		s = s[:i]
	}

	if strings.Contains(s, "/") && !strings.HasPrefix(s, "/") {
		if t, err := time.Parse("1/2/2006", s); err == nil {
			return &t
		}
	}

	parts := strings.Split(s, "-")
	switch len(parts) {
	case 1:
		if len(s) == 4 && allDigits(s) {
			y, _ := strconv.Atoi(s)
			t := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
			return &t
		}
	case 2:
		if len(parts[0]) == 4 && len(parts[1]) == 2 && allDigits(parts[0]) && allDigits(parts[1]) {
			if t, err := time.Parse("2006-01", s); err == nil {
				return &t
			}
		}
	case 3:
		if len(parts[0]) == 4 && len(parts[1]) == 2 && len(parts[2]) == 2 {
			if t, err := time.Parse(dateLayout, s); err == nil {
				return &t
			}
		}
	}
	return nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

var titleCaser = cases.Title(language.AmericanEnglish)

// NormalizePlaceName collapses whitespace and title-cases every word:
// "new york city" becomes "New York City".
func NormalizePlaceName(name string) string {
	words := strings.Fields(name)
	for i, w := range words {
		words[i] = titleCaser.String(w)
	}
	return strings.Join(words, " ")
}

// PlaceKey is the in-memory lookup key for places.
type PlaceKey struct {
	StateCode string
	Name      string
	Kind      PlaceKind
}

func PlaceKeyOf(name, stateCode string, kind PlaceKind) PlaceKey {
	return PlaceKey{
		StateCode: stateCode,
		Name:      strings.ToLower(strings.TrimSpace(name)),
		Kind:      kind,
	}
}

// DocumentKey is the natural key of a policy document.
type DocumentKey struct {
	StateCode       string
	ReferenceNumber string
}

func DocumentKeyOf(stateCode, referenceNumber string) DocumentKey {
	return DocumentKey{
		StateCode:       normalizeCode(stateCode),
		ReferenceNumber: strings.TrimSpace(referenceNumber),
	}
}

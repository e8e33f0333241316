package expiry

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"options_go/internal/domain"
)

const (
	// expiryLayout is the broker's contract month format.
	expiryLayout = "20060102"

	// switchHour is the exchange-local hour after which next-day contracts are preferred.
	switchHour = 12
)

// Selection strategies, reported in the expiration status.
const (
	StrategyExact   = "exact"
	StrategyNearest = "nearest"
	StrategyFirst   = "first"
	StrategyManual  = "manual"
)

// Selection is the chosen expiration and how it was found.
type Selection struct {
	Candidate  domain.ExpirationCandidate
	TargetDTE  int
	TargetDate time.Time
	Strategy   string
	SelectedAt time.Time
}

// Expiry returns the contract month string sent to the broker.
func (s Selection) Expiry() string {
	return s.Candidate.Date.Format(expiryLayout)
}

// Expired reports whether the selected contract date is before now's date.
func (s Selection) Expired(now time.Time) bool {
	return s.Candidate.Date.Before(dateOf(now.In(s.Candidate.Date.Location())))
}

// Status converts the selection into the reporting type.
func (s Selection) Status() domain.ExpirationStatus {
	return domain.ExpirationStatus{
		Expiry:    s.Expiry(),
		DTE:       s.Candidate.DTE,
		TargetDTE: s.TargetDTE,
		Strategy:  s.Strategy,
		Manual:    s.Strategy == StrategyManual,
	}
}

// Selector picks the contract expiration for new orders.
type Selector struct {
	loc *time.Location
	now func() time.Time
}

// NewSelector creates a selector evaluating times in loc (exchange local time).
func NewSelector(loc *time.Location) *Selector {
	if loc == nil {
		loc = time.UTC
	}
	return &Selector{loc: loc, now: time.Now}
}

// WithClock replaces the time source.
func (s *Selector) WithClock(now func() time.Time) *Selector {
	s.now = now
	return s
}

// Location returns the exchange location.
func (s *Selector) Location() *time.Location {
	return s.loc
}

// Select chooses among the listed expirations: the exact target date, else
// the nearest live one (ties go to the earlier date), else the first listed.
func (s *Selector) Select(raw []string) (Selection, error) {
	now := s.now().In(s.loc)
	candidates := ParseExpirations(raw, now)
	if len(candidates) == 0 {
		return Selection{}, domain.ErrNoExpirationAvailable
	}

	targetDTE := TargetDTE(now)
	target := AddBusinessDays(dateOf(now), targetDTE)
	sel := Selection{TargetDTE: targetDTE, TargetDate: target, SelectedAt: now}

	for _, c := range candidates {
		if c.Date.Equal(target) {
			sel.Candidate, sel.Strategy = c, StrategyExact
			return sel, nil
		}
	}

	best, bestDiff := -1, 0
	for i, c := range candidates {
		if c.DTE < 0 {
			continue
		}
		diff := daysBetween(target, c.Date)
		if diff < 0 {
			diff = -diff
		}
		// Candidates are sorted, so a strict comparison keeps the earlier date on ties.
		if best < 0 || diff < bestDiff {
			best, bestDiff = i, diff
		}
	}
	if best >= 0 {
		sel.Candidate, sel.Strategy = candidates[best], StrategyNearest
		return sel, nil
	}

	sel.Candidate, sel.Strategy = candidates[0], StrategyFirst
	return sel, nil
}

// Manual builds a selection for an explicitly requested expiration. It must be listed.
func (s *Selector) Manual(target string, raw []string) (Selection, error) {
	now := s.now().In(s.loc)
	want, err := parseExpiry(target, s.loc)
	if err != nil {
		return Selection{}, err
	}
	for _, c := range ParseExpirations(raw, now) {
		if c.Date.Equal(want) {
			return Selection{
				Candidate:  c,
				TargetDTE:  TargetDTE(now),
				TargetDate: want,
				Strategy:   StrategyManual,
				SelectedAt: now,
			}, nil
		}
	}
	return Selection{}, fmt.Errorf("%w: %s is not listed", domain.ErrNoExpirationAvailable, target)
}

// TargetDTE is 0 before noon exchange time and 1 from noon on.
func TargetDTE(now time.Time) int {
	if now.Hour() < switchHour {
		return 0
	}
	return 1
}

// AddBusinessDays adds n weekdays to day. A weekend result rolls forward to Monday.
func AddBusinessDays(day time.Time, n int) time.Time {
	out := rollWeekend(day)
	for i := 0; i < n; i++ {
		out = rollWeekend(out.AddDate(0, 0, 1))
	}
	return out
}

func rollWeekend(day time.Time) time.Time {
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDate(0, 0, 2)
	case time.Sunday:
		return day.AddDate(0, 0, 1)
	}
	return day
}

// ParseExpirations parses "YYYYMMDD" and "YYYYMMDD hh:mm:ss" entries, drops
// unparseable and duplicate ones and returns them sorted by date.
func ParseExpirations(raw []string, now time.Time) []domain.ExpirationCandidate {
	today := dateOf(now)
	seen := make(map[string]struct{}, len(raw))
	out := make([]domain.ExpirationCandidate, 0, len(raw))
	for _, r := range raw {
		date, err := parseExpiry(r, now.Location())
		if err != nil {
			continue
		}
		key := date.Format(expiryLayout)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, domain.ExpirationCandidate{
			Raw:  r,
			Date: date,
			DTE:  daysBetween(today, date),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

func parseExpiry(raw string, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	t, err := time.ParseInLocation(expiryLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse expiration %q: %w", raw, err)
	}
	return t, nil
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days, ignoring DST shifts.
func daysBetween(from, to time.Time) int {
	a := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	b := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(b.Sub(a).Hours() / 24)
}

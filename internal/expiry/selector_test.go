package expiry

import (
	"errors"
	"testing"
	"time"

	"options_go/internal/domain"
)

func mustLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	return loc
}

func selectorAt(loc *time.Location, year int, month time.Month, day, hour int) *Selector {
	now := time.Date(year, month, day, hour, 30, 0, 0, loc)
	return NewSelector(loc).WithClock(func() time.Time { return now })
}

func TestSelect(t *testing.T) {
	loc := mustLoc(t)
	// 2025-01-16 is a Thursday.
	listed := []string{"20250117 16:00:00", "20250116", "20250121", "bogus"}

	t.Run("morning picks 0DTE", func(t *testing.T) {
		sel, err := selectorAt(loc, 2025, time.January, 16, 10).Select(listed)
		if err != nil {
			t.Fatalf("Select failed: %v", err)
		}
		if sel.Expiry() != "20250116" || sel.Strategy != StrategyExact || sel.TargetDTE != 0 {
			t.Errorf("Expected exact 20250116, got %s (%s)", sel.Expiry(), sel.Strategy)
		}
	})

	t.Run("afternoon picks 1DTE", func(t *testing.T) {
		sel, _ := selectorAt(loc, 2025, time.January, 16, 12).Select(listed)
		if sel.Expiry() != "20250117" || sel.Candidate.DTE != 1 {
			t.Errorf("Expected 20250117 with DTE 1, got %s/%d", sel.Expiry(), sel.Candidate.DTE)
		}
	})

	t.Run("friday afternoon rolls to monday", func(t *testing.T) {
		sel, _ := selectorAt(loc, 2025, time.January, 17, 14).Select([]string{"20250117", "20250120", "20250122"})
		if sel.Expiry() != "20250120" || sel.Strategy != StrategyExact {
			t.Errorf("Expected exact 20250120, got %s (%s)", sel.Expiry(), sel.Strategy)
		}
	})

	t.Run("nearest prefers earlier date on ties", func(t *testing.T) {
		// target is 2025-01-16 and the 14th has already expired
		sel, _ := selectorAt(loc, 2025, time.January, 16, 9).Select([]string{"20250114", "20250118", "20250120"})
		if sel.Expiry() != "20250118" || sel.Strategy != StrategyNearest {
			t.Errorf("Expected nearest 20250118, got %s (%s)", sel.Expiry(), sel.Strategy)
		}

		sel, _ = selectorAt(loc, 2025, time.January, 15, 13).Select([]string{"20250115", "20250117"})
		if sel.Expiry() != "20250115" || sel.Strategy != StrategyNearest {
			t.Errorf("Expected tie to resolve to 20250115, got %s (%s)", sel.Expiry(), sel.Strategy)
		}
	})

	t.Run("only expired listings fall back to first", func(t *testing.T) {
		sel, _ := selectorAt(loc, 2025, time.January, 16, 9).Select([]string{"20250110", "20250103"})
		if sel.Expiry() != "20250103" || sel.Strategy != StrategyFirst {
			t.Errorf("Expected first 20250103, got %s (%s)", sel.Expiry(), sel.Strategy)
		}
	})

	t.Run("nothing listed", func(t *testing.T) {
		_, err := selectorAt(loc, 2025, time.January, 16, 9).Select([]string{"junk"})
		if !errors.Is(err, domain.ErrNoExpirationAvailable) {
			t.Errorf("Expected ErrNoExpirationAvailable, got %v", err)
		}
	})
}

func TestManual(t *testing.T) {
	loc := mustLoc(t)
	s := selectorAt(loc, 2025, time.January, 16, 9)

	sel, err := s.Manual("20250121", []string{"20250116", "20250121"})
	if err != nil {
		t.Fatalf("Manual failed: %v", err)
	}
	if !sel.Status().Manual || sel.Candidate.DTE != 5 {
		t.Errorf("Unexpected manual selection: %+v", sel.Status())
	}

	if _, err := s.Manual("20250122", []string{"20250116"}); !errors.Is(err, domain.ErrNoExpirationAvailable) {
		t.Errorf("Expected ErrNoExpirationAvailable for unlisted date, got %v", err)
	}
}

func TestSelection_Expired(t *testing.T) {
	loc := mustLoc(t)
	sel, _ := selectorAt(loc, 2025, time.January, 16, 9).Select([]string{"20250116"})

	if sel.Expired(time.Date(2025, time.January, 16, 23, 0, 0, 0, loc)) {
		t.Error("Selection should be live for the rest of its day")
	}
	if !sel.Expired(time.Date(2025, time.January, 17, 0, 5, 0, 0, loc)) {
		t.Error("Selection should be expired the next day")
	}
}

func TestAddBusinessDays(t *testing.T) {
	sat := time.Date(2025, time.January, 18, 0, 0, 0, 0, time.UTC)
	if got := AddBusinessDays(sat, 0); got.Weekday() != time.Monday {
		t.Errorf("Expected Monday, got %s", got.Weekday())
	}
	fri := time.Date(2025, time.January, 17, 0, 0, 0, 0, time.UTC)
	if got := AddBusinessDays(fri, 1); got.Day() != 20 {
		t.Errorf("Expected Jan 20, got %s", got.Format("2006-01-02"))
	}
}

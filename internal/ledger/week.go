package ledger

import (
	"fmt"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/store"
)

// DayMark is one day in the weekly view.
type DayMark struct {
	Date      string
	Weekday   time.Weekday
	Attended  int
	Cancelled int
	Holiday   bool
}

// WeekView returns the last seven days ending today, oldest first, with
// per-day attendance counts and holiday flags.
func (l *Ledger) WeekView(scope store.Scope) ([]DayMark, error) {
	today := l.now()
	start := today.AddDate(0, 0, -6)

	attended := map[string]int{}
	cancelled := map[string]int{}
	holidays := map[string]bool{}
	// The window spans at most two months.
	for _, month := range []string{start.Format(models.MonthLayout), today.Format(models.MonthLayout)} {
		sessions, err := l.store.SessionsInMonth(scope, month)
		if err != nil {
			return nil, fmt.Errorf("week view: %w", err)
		}
		for _, s := range sessions {
			switch s.Status {
			case models.SessionAttended:
				attended[s.Date]++
			case models.SessionCancelled:
				cancelled[s.Date]++
			}
		}
		hs, err := l.store.HolidaysInMonth(scope, month)
		if err != nil {
			return nil, fmt.Errorf("week view: %w", err)
		}
		for _, h := range hs {
			holidays[h.Date] = true
		}
		if month == today.Format(models.MonthLayout) {
			break
		}
	}

	days := make([]DayMark, 0, 7)
	for d := start; !d.After(today); d = d.AddDate(0, 0, 1) {
		date := d.Format(models.DateLayout)
		days = append(days, DayMark{
			Date:      date,
			Weekday:   d.Weekday(),
			Attended:  attended[date],
			Cancelled: cancelled[date],
			Holiday:   holidays[date],
		})
	}
	return days, nil
}

// CurrentStreak counts consecutive days with at least one attended session,
// walking backwards from today. Weekends and holidays do not break the
// streak; a missed weekday with no log does. Today only counts once logged.
func (l *Ledger) CurrentStreak(scope store.Scope) (int, error) {
	today := l.now()
	attended := map[string]bool{}
	holidays := map[string]bool{}

	seen := map[string]bool{}
	for i := 0; i < 62; i++ {
		month := today.AddDate(0, 0, -i).Format(models.MonthLayout)
		if seen[month] {
			continue
		}
		seen[month] = true
		sessions, err := l.store.SessionsInMonth(scope, month)
		if err != nil {
			return 0, fmt.Errorf("current streak: %w", err)
		}
		for _, s := range sessions {
			if s.Status == models.SessionAttended {
				attended[s.Date] = true
			}
		}
		hs, err := l.store.HolidaysInMonth(scope, month)
		if err != nil {
			return 0, fmt.Errorf("current streak: %w", err)
		}
		for _, h := range hs {
			holidays[h.Date] = true
		}
	}

	streak := 0
	d := today
	if !attended[d.Format(models.DateLayout)] {
		d = d.AddDate(0, 0, -1)
	}
	for i := 0; i < 365; i++ {
		date := d.Format(models.DateLayout)
		switch {
		case attended[date]:
			streak++
		case holidays[date] || d.Weekday() == time.Saturday || d.Weekday() == time.Sunday:
			// Skipped day, streak continues.
		default:
			return streak, nil
		}
		d = d.AddDate(0, 0, -1)
	}
	return streak, nil
}

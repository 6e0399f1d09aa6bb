package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/store"
)

// Summary is the monthly aggregate reported to users.
//
// Remaining may go negative when attendance exceeds the paid allotment; the
// raw value is kept as an overage signal and only the money fields floor at
// zero.
type Summary struct {
	Month          string
	Attended       int
	Cancelled      int
	PaidSessions   int
	CostPerSession int
	CarryForward   int
	Remaining      int
	AmountUsed     int
	AmountWasted   int
	TotalDue       int
	HasConfig      bool
}

// MonthSummary computes the aggregate for a scope and month. Cancelled
// sessions only cost money up to the paid allotment left after attended
// sessions, never double-counted.
func (l *Ledger) MonthSummary(scope store.Scope, month string) (Summary, error) {
	sum := Summary{Month: month}

	sessions, err := l.store.SessionsInMonth(scope, month)
	if err != nil {
		return sum, fmt.Errorf("month summary: %w", err)
	}
	for _, s := range sessions {
		switch s.Status {
		case models.SessionAttended:
			sum.Attended++
		case models.SessionCancelled:
			sum.Cancelled++
		}
	}

	cfg, err := l.store.GetMonthlyConfig(scope, month)
	if err != nil {
		return sum, fmt.Errorf("month summary: %w", err)
	}
	if cfg == nil {
		return sum, nil
	}

	sum.HasConfig = true
	sum.PaidSessions = cfg.PaidSessions
	sum.CostPerSession = cfg.CostPerSession
	sum.CarryForward = cfg.CarryForward
	sum.Remaining = cfg.PaidSessions + cfg.CarryForward - sum.Attended

	usedSessions := min(sum.Attended, cfg.PaidSessions)
	sum.AmountUsed = usedSessions * cfg.CostPerSession
	wastable := max(cfg.PaidSessions-usedSessions, 0)
	sum.AmountWasted = min(sum.Cancelled, wastable) * cfg.CostPerSession
	sum.TotalDue = cfg.PaidSessions * cfg.CostPerSession
	return sum, nil
}

// SetupMonth validates and stores a monthly plan for the current month.
// PaidSessions is stored net of carry forward, floored at zero.
func (l *Ledger) SetupMonth(scope store.Scope, totalSessions, cost, carry int) (models.MonthlyConfig, error) {
	if totalSessions < 0 || cost < 0 || carry < 0 {
		return models.MonthlyConfig{}, models.ErrInvalidSetup
	}
	cfg := models.MonthlyConfig{
		TenantID:       scope.TenantID,
		ScopeID:        scope.ScopeID,
		Month:          l.CurrentMonth(),
		PaidSessions:   max(totalSessions-carry, 0),
		CostPerSession: cost,
		CarryForward:   carry,
	}
	if err := l.store.UpsertMonthlyConfig(cfg); err != nil {
		return models.MonthlyConfig{}, fmt.Errorf("setup month: %w", err)
	}
	slog.Info("Ledger.SetupMonth: config stored", "month", cfg.Month, "paid", cfg.PaidSessions, "scope", scope.ScopeID)
	return cfg, nil
}

// Backfill inserts attended rows for the current month, one per day starting
// from the 1st through yesterday, capped at the number of elapsed days.
// Today and the future are never backfilled. Returns how many rows were
// inserted.
func (l *Ledger) Backfill(scope store.Scope, phone, childID string, used int) (int, error) {
	if used <= 0 {
		return 0, nil
	}
	today := l.now()
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, today.Location())
	daysElapsed := today.Day() - 1
	if daysElapsed <= 0 {
		return 0, nil
	}
	n := min(used, daysElapsed)
	for i := 0; i < n; i++ {
		date := first.AddDate(0, 0, i).Format(models.DateLayout)
		if err := l.CommitAttendance(scope, phone, childID, date, 1); err != nil {
			return i, err
		}
	}
	slog.Info("Ledger.Backfill: inserted", "count", n, "scope", scope.ScopeID)
	return n, nil
}

// UndoLast deletes the most recently created session row for the scope,
// by creation timestamp rather than session date. Returns the deleted row,
// or nil when there was nothing to undo.
func (l *Ledger) UndoLast(scope store.Scope) (*models.Session, error) {
	latest, err := l.store.LatestSession(scope)
	if err != nil {
		return nil, fmt.Errorf("undo last: %w", err)
	}
	if latest == nil {
		return nil, nil
	}
	if err := l.store.DeleteSession(latest.ID); err != nil {
		return nil, fmt.Errorf("undo last: %w", err)
	}
	slog.Info("Ledger.UndoLast: deleted", "sessionID", latest.ID, "date", latest.Date, "status", latest.Status)
	return latest, nil
}

// ResetMonth wipes the scope's sessions, holidays and config for a month.
func (l *Ledger) ResetMonth(scope store.Scope, month string) error {
	if err := l.store.DeleteSessionsInMonth(scope, month); err != nil {
		return fmt.Errorf("reset month: %w", err)
	}
	if err := l.store.DeleteHolidaysInMonth(scope, month); err != nil {
		return fmt.Errorf("reset month: %w", err)
	}
	if err := l.store.DeleteMonthlyConfig(scope, month); err != nil {
		return fmt.Errorf("reset month: %w", err)
	}
	slog.Info("Ledger.ResetMonth: wiped", "month", month, "scope", scope.ScopeID)
	return nil
}

// EraseUser cascade-deletes everything tied to a phone: sessions, configs,
// holidays, consent history, feedback notes and the user row itself.
func (l *Ledger) EraseUser(tenantID, phone string) error {
	scope := store.Scope{TenantID: tenantID, ScopeID: phone}
	if err := l.store.DeleteSessionsForPhone(tenantID, phone); err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	if err := l.store.DeleteMonthlyConfigsForScope(scope); err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	if err := l.store.DeleteHolidaysForScope(scope); err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	if err := l.store.DeleteConsentEventsForPhone(tenantID, phone); err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	if err := l.store.DeleteFeedbackNotesForPhone(tenantID, phone); err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	if err := l.store.DeleteUser(tenantID, phone); err != nil {
		return fmt.Errorf("erase user: %w", err)
	}
	slog.Info("Ledger.EraseUser: all data deleted", "phone", phone)
	return nil
}

// TagMood applies a mood to the most recently created count rows on a date.
func (l *Ledger) TagMood(scope store.Scope, date, mood string, count int) error {
	if !models.IsValidMood(mood) {
		return models.ErrInvalidMood
	}
	sessions, err := l.store.SessionsOnDate(scope, date)
	if err != nil {
		return fmt.Errorf("tag mood: %w", err)
	}
	if count < 1 {
		count = 1
	}
	// SessionsOnDate returns newest first.
	for i := 0; i < len(sessions) && i < count; i++ {
		if err := l.store.UpdateSessionMood(sessions[i].ID, mood); err != nil {
			return fmt.Errorf("tag mood: %w", err)
		}
	}
	return nil
}

// AddHolidayRange inserts one holiday row per date from start through end
// inclusive. Returns how many rows were inserted.
func (l *Ledger) AddHolidayRange(scope store.Scope, start, end string) (int, error) {
	from, err := time.Parse(models.DateLayout, start)
	if err != nil {
		return 0, models.ErrInvalidDate
	}
	to, err := time.Parse(models.DateLayout, end)
	if err != nil {
		return 0, models.ErrInvalidDate
	}
	if to.Before(from) {
		return 0, models.ErrInvalidDateRange
	}
	n := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		h := models.Holiday{
			TenantID: scope.TenantID,
			ScopeID:  scope.ScopeID,
			Date:     d.Format(models.DateLayout),
			Month:    d.Format(models.MonthLayout),
		}
		if err := l.store.InsertHoliday(h); err != nil {
			return n, fmt.Errorf("add holiday range: %w", err)
		}
		n++
	}
	return n, nil
}

// Package ledger implements the session ledger: attendance and absence
// recording, conflict detection, bulk backfill, monthly aggregates and the
// data-lifecycle operations built on top of the store.
package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/store"
	"github.com/google/uuid"
)

// Ledger coordinates all session bookkeeping against a Store. It is stateless
// apart from its dependencies, so one instance serves all users.
type Ledger struct {
	store store.Store
	now   func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source, used by tests to pin "today".
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger backed by the given store.
func New(st store.Store, opts ...Option) *Ledger {
	l := &Ledger{store: st, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now returns the ledger's current time.
func (l *Ledger) Now() time.Time {
	return l.now()
}

// Today returns the current date formatted as YYYY-MM-DD.
func (l *Ledger) Today() string {
	return l.now().Format(models.DateLayout)
}

// CurrentMonth returns the current month formatted as YYYY-MM.
func (l *Ledger) CurrentMonth() string {
	return l.now().Format(models.MonthLayout)
}

// ResolveScope determines which identity owns a phone's ledger rows: the
// linked child when a membership exists, otherwise the phone itself.
func (l *Ledger) ResolveScope(tenantID, phone string) (store.Scope, string, error) {
	membership, err := l.store.MembershipForPhone(tenantID, phone)
	if err != nil {
		slog.Error("Ledger.ResolveScope: membership lookup failed", "error", err, "phone", phone)
		// Treat lookup failure as "not linked" so the user can keep logging.
		return store.Scope{TenantID: tenantID, ScopeID: phone}, "", nil
	}
	if membership == nil {
		return store.Scope{TenantID: tenantID, ScopeID: phone}, "", nil
	}
	return store.Scope{TenantID: tenantID, ScopeID: membership.ChildID}, membership.ChildID, nil
}

// Conflict describes which statuses already exist on a date.
type Conflict struct {
	Attended  int
	Cancelled int
}

// HasAttended reports whether at least one attended row exists.
func (c Conflict) HasAttended() bool { return c.Attended > 0 }

// HasCancelled reports whether at least one cancelled row exists.
func (c Conflict) HasCancelled() bool { return c.Cancelled > 0 }

// None reports a clean date with no prior rows.
func (c Conflict) None() bool { return c.Attended == 0 && c.Cancelled == 0 }

// CheckConflict counts existing attended and cancelled rows on a date. A
// failed lookup is treated as no conflict rather than blocking the log.
func (l *Ledger) CheckConflict(scope store.Scope, date string) (Conflict, error) {
	sessions, err := l.store.SessionsOnDate(scope, date)
	if err != nil {
		slog.Error("Ledger.CheckConflict: session lookup failed", "error", err, "date", date)
		return Conflict{}, nil
	}
	var c Conflict
	for _, s := range sessions {
		switch s.Status {
		case models.SessionAttended:
			c.Attended++
		case models.SessionCancelled:
			c.Cancelled++
		}
	}
	return c, nil
}

// CommitAttendance inserts count attended rows on date. Callers are expected
// to have resolved conflicts first; this is the unconditional write path.
func (l *Ledger) CommitAttendance(scope store.Scope, phone, childID, date string, count int) error {
	if count < 1 {
		return models.ErrInvalidCount
	}
	month, err := monthOf(date)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		s := models.Session{
			ID:           uuid.NewString(),
			TenantID:     scope.TenantID,
			ScopeID:      scope.ScopeID,
			UserPhone:    phone,
			ChildID:      childID,
			Date:         date,
			Month:        month,
			Status:       models.SessionAttended,
			SessionsDone: 1,
			LoggedBy:     phone,
			CreatedAt:    l.now(),
		}
		if err := l.insertWithFallback(s); err != nil {
			return err
		}
	}
	slog.Info("Ledger.CommitAttendance: recorded", "date", date, "count", count, "scope", scope.ScopeID)
	return nil
}

// CommitAbsence inserts count cancelled rows on date with the given reason.
// The reason is required; categorized reasons arrive already resolved to
// their label text.
func (l *Ledger) CommitAbsence(scope store.Scope, phone, childID, date, reason string, count int) error {
	if reason == "" {
		return models.ErrEmptyReason
	}
	if count < 1 {
		return models.ErrInvalidCount
	}
	month, err := monthOf(date)
	if err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		s := models.Session{
			ID:           uuid.NewString(),
			TenantID:     scope.TenantID,
			ScopeID:      scope.ScopeID,
			UserPhone:    phone,
			ChildID:      childID,
			Date:         date,
			Month:        month,
			Status:       models.SessionCancelled,
			Reason:       reason,
			SessionsDone: 1,
			LoggedBy:     phone,
			CreatedAt:    l.now(),
		}
		if err := l.insertWithFallback(s); err != nil {
			return err
		}
	}
	slog.Info("Ledger.CommitAbsence: recorded", "date", date, "count", count, "scope", scope.ScopeID)
	return nil
}

// ReplaceWithMissed converts a date from attended to missed: the attended
// rows on the date are deleted and count cancelled rows inserted.
func (l *Ledger) ReplaceWithMissed(scope store.Scope, phone, childID, date, reason string, count int) error {
	if err := l.store.DeleteSessionsOnDate(scope, date, models.SessionAttended); err != nil {
		return fmt.Errorf("replace with missed: %w", err)
	}
	return l.CommitAbsence(scope, phone, childID, date, reason, count)
}

// ReplaceWithAttended converts a date from missed to attended: the cancelled
// rows on the date are deleted and count attended rows inserted.
func (l *Ledger) ReplaceWithAttended(scope store.Scope, phone, childID, date string, count int) error {
	if err := l.store.DeleteSessionsOnDate(scope, date, models.SessionCancelled); err != nil {
		return fmt.Errorf("replace with attended: %w", err)
	}
	return l.CommitAttendance(scope, phone, childID, date, count)
}

// insertWithFallback inserts a session with its full attribute set, retrying
// with the minimal subset when the full insert fails. The minimal row still
// satisfies the one-row-per-logged-session invariant.
func (l *Ledger) insertWithFallback(s models.Session) error {
	if err := l.store.InsertSession(s); err != nil {
		slog.Warn("Ledger.insertWithFallback: full insert failed, retrying minimal", "error", err, "date", s.Date)
		if err := l.store.InsertSessionMinimal(s); err != nil {
			slog.Error("Ledger.insertWithFallback: minimal insert failed", "error", err, "date", s.Date)
			return fmt.Errorf("failed to record session: %w", err)
		}
	}
	return nil
}

func monthOf(date string) (string, error) {
	t, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return "", models.ErrInvalidDate
	}
	return t.Format(models.MonthLayout), nil
}

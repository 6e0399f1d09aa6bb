package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// ReminderSender delivers one reminder message to a phone.
type ReminderSender func(ctx context.Context, phone, text string) error

// ReminderText is the evening nudge sent when nothing was logged today.
const ReminderText = "Quick check-in: did a session happen today? Reply \"yes\" to log it, or \"missed\" if it didn't."

// RunReminderSweep walks all users and sends the evening reminder to those
// who have reminders enabled, have not opted out, whose local time has
// passed their reminder hour, who have not logged anything today, and who
// have not already been reminded today. Returns how many reminders were
// sent. Per-user failures are logged and skipped so one bad number cannot
// stall the sweep.
func (l *Ledger) RunReminderSweep(ctx context.Context, send ReminderSender) (int, error) {
	users, err := l.store.ListUsers()
	if err != nil {
		return 0, fmt.Errorf("reminder sweep: %w", err)
	}

	sent := 0
	for _, u := range users {
		due, localToday := l.reminderDue(u)
		if !due {
			continue
		}

		consent, err := l.store.LatestConsentEvent(u.TenantID, u.Phone)
		if err != nil {
			slog.Error("Ledger.RunReminderSweep: consent lookup failed", "error", err, "phone", u.Phone)
			continue
		}
		if consent != nil && consent.EventType == models.ConsentOptOut {
			continue
		}

		scope, _, err := l.ResolveScope(u.TenantID, u.Phone)
		if err != nil {
			continue
		}
		sessions, err := l.store.SessionsOnDate(scope, localToday)
		if err != nil {
			slog.Error("Ledger.RunReminderSweep: session lookup failed", "error", err, "phone", u.Phone)
			continue
		}
		if len(sessions) > 0 {
			continue
		}

		if err := send(ctx, u.Phone, ReminderText); err != nil {
			slog.Error("Ledger.RunReminderSweep: send failed", "error", err, "phone", u.Phone)
			continue
		}

		u.LastReminderSent = localToday
		u.UpdatedAt = l.now()
		if err := l.store.SaveUser(u); err != nil {
			slog.Error("Ledger.RunReminderSweep: failed to record reminder", "error", err, "phone", u.Phone)
		}
		sent++
	}
	slog.Info("Ledger.RunReminderSweep: completed", "sent", sent, "users", len(users))
	return sent, nil
}

// reminderDue decides whether a user should be considered for a reminder
// right now, and returns the user's local date.
func (l *Ledger) reminderDue(u models.User) (bool, string) {
	if !u.RemindersEnabled {
		return false, ""
	}
	loc := time.UTC
	if u.Timezone != "" {
		if parsed, err := time.LoadLocation(u.Timezone); err == nil {
			loc = parsed
		}
	}
	local := l.now().In(loc)
	localToday := local.Format(models.DateLayout)

	// Hour 0 is a real midnight setting; only a negative value means
	// unset (rows are normally created with DefaultReminderHour).
	hour := u.ReminderTimeHour
	if hour < 0 {
		hour = models.DefaultReminderHour
	}
	if local.Hour() < hour {
		return false, ""
	}
	if u.LastReminderSent == localToday {
		return false, ""
	}
	return true, localToday
}

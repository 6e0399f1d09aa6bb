package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// requirePlan checks that a monthly plan exists for the month containing
// date. Without one, attendance logging is refused so billing math stays
// meaningful.
func (e *Engine) requirePlan(ctx context.Context, rc *requestContext, date string) (bool, error) {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return false, models.ErrInvalidDate
	}
	cfg, err := e.store.GetMonthlyConfig(rc.scope, d.Format(models.MonthLayout))
	if err != nil {
		return false, err
	}
	if cfg == nil {
		e.clearWaiting(rc)
		return false, e.msg.SendMessage(ctx, rc.phone, msgSetupRequired)
	}
	return true, nil
}

// startAttendedLog runs the conflict table for an attended log on date:
// clean insert, duplicate prompt, or replace prompt. Never a silent
// overwrite.
func (e *Engine) startAttendedLog(ctx context.Context, rc *requestContext, date string, count int) error {
	ok, err := e.requirePlan(ctx, rc, date)
	if err != nil || !ok {
		return err
	}

	conflict, err := e.ledger.CheckConflict(rc.scope, date)
	if err != nil {
		return err
	}
	switch {
	case conflict.HasAttended():
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingDupAttend, Date: date, Count: count})
		return e.msg.SendInteractive(ctx, rc.phone, dupAttendPrompt(date, conflict.Attended, count))
	case conflict.HasCancelled():
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingReplaceWithAttend, Date: date, Count: count})
		return e.msg.SendInteractive(ctx, rc.phone, replaceWithAttendedPrompt(date))
	default:
		return e.commitAttended(ctx, rc, date, count)
	}
}

// commitAttended inserts the rows, reports the new remaining balance and
// opens the mood prompt.
func (e *Engine) commitAttended(ctx context.Context, rc *requestContext, date string, count int) error {
	if err := e.ledger.CommitAttendance(rc.scope, rc.phone, rc.childID, date, count); err != nil {
		return fmt.Errorf("commit attended: %w", err)
	}
	month, err := monthOfDate(date)
	if err != nil {
		return err
	}
	sum, err := e.ledger.MonthSummary(rc.scope, month)
	if err != nil {
		return err
	}
	if err := e.msg.SendMessage(ctx, rc.phone, loggedAttendedText(sum, count)); err != nil {
		slog.Warn("Engine.commitAttended: delivery failed", "error", err, "phone", rc.phone)
	}
	e.setWaiting(rc, models.WaitingState{Kind: models.WaitingMood, Date: date, Count: count})
	return e.msg.SendInteractive(ctx, rc.phone, moodInteractive())
}

// startMissedLog runs the conflict table for a missed log with a known
// reason. A clean date commits immediately; conflicts ask first, carrying
// the reason through the confirmation state.
func (e *Engine) startMissedLog(ctx context.Context, rc *requestContext, date, reason string, count int) error {
	conflict, err := e.ledger.CheckConflict(rc.scope, date)
	if err != nil {
		return err
	}
	switch {
	case conflict.HasAttended():
		e.setWaiting(rc, models.WaitingState{
			Kind: models.WaitingReplaceWithMissed, Date: date, Count: count, Reason: reason,
		})
		return e.msg.SendInteractive(ctx, rc.phone, replaceWithMissedPrompt(date))
	case conflict.HasCancelled():
		e.setWaiting(rc, models.WaitingState{
			Kind: models.WaitingDupMissed, Date: date, Count: count, Reason: reason,
		})
		return e.msg.SendInteractive(ctx, rc.phone, dupMissedPrompt(date))
	default:
		return e.commitMissed(ctx, rc, date, reason, count)
	}
}

func (e *Engine) commitMissed(ctx context.Context, rc *requestContext, date, reason string, count int) error {
	if err := e.ledger.CommitAbsence(rc.scope, rc.phone, rc.childID, date, reason, count); err != nil {
		return fmt.Errorf("commit missed: %w", err)
	}
	e.clearWaiting(rc)
	return e.msg.SendMessage(ctx, rc.phone, loggedMissedText(count))
}

func monthOfDate(date string) (string, error) {
	d, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return "", models.ErrInvalidDate
	}
	return d.Format(models.MonthLayout), nil
}

package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// backfillWindowDays is how many past days the backfill picker offers.
const backfillWindowDays = 7

// routeIdle handles a message with no pending question: button ids first,
// then classified intents, then exact commands, then the menu.
func (e *Engine) routeIdle(ctx context.Context, rc *requestContext, in inbound) error {
	if handled, err := e.routeButtonID(ctx, rc, in.lowered); handled {
		return err
	}

	if intent, count := Classify(in.lowered); intent != IntentNone {
		return e.routeIntent(ctx, rc, intent, count)
	}

	if rest, ok := strings.CutPrefix(in.lowered, "remind at "); ok {
		return e.setReminderHour(ctx, rc, rest)
	}
	if rest, ok := strings.CutPrefix(in.lowered, "link "); ok {
		return e.linkMember(ctx, rc, rest)
	}
	if rest, ok := strings.CutPrefix(in.lowered, "unlink "); ok {
		return e.unlinkMember(ctx, rc, rest)
	}

	switch in.lowered {
	case "setup":
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingSetupConfig})
		return e.msg.SendMessage(ctx, rc.phone, msgSetupPrompt)
	case "setup mid", "setup mid-month", "setup midmonth":
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingSetupMidConfig})
		return e.msg.SendMessage(ctx, rc.phone, msgSetupMidPrompt)
	case "backfill":
		return e.sendBackfillPicker(ctx, rc)
	case "holiday", "holidays":
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingHolidayRange})
		return e.msg.SendMessage(ctx, rc.phone, msgHolidayPrompt)
	case "undo":
		return e.undoLast(ctx, rc)
	case "feedback":
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingFeedbackNote})
		return e.msg.SendMessage(ctx, rc.phone, msgFeedbackPrompt)
	case "reset":
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingResetConfirm})
		return e.msg.SendInteractive(ctx, rc.phone, yesNoInteractive(msgResetConfirm))
	case "reminders on":
		rc.user.RemindersEnabled = true
		e.saveUser(rc)
		return e.msg.SendMessage(ctx, rc.phone, msgRemindersOn)
	case "reminders off":
		rc.user.RemindersEnabled = false
		e.saveUser(rc)
		return e.msg.SendMessage(ctx, rc.phone, msgRemindersOff)
	case "consent", "consent status":
		optedOut, err := e.isOptedOut(rc)
		if err != nil {
			return err
		}
		return e.msg.SendMessage(ctx, rc.phone, consentStatusText(optedOut))
	case "help":
		if err := e.msg.SendInteractive(ctx, rc.phone, menuInteractive()); err != nil {
			return err
		}
		return e.msg.SendMessage(ctx, rc.phone, msgMenuHint)
	}

	return e.msg.SendInteractive(ctx, rc.phone, menuInteractive())
}

// routeButtonID dispatches the stable ids carried by interactive prompts.
func (e *Engine) routeButtonID(ctx context.Context, rc *requestContext, lowered string) (bool, error) {
	switch lowered {
	case "log_attended":
		return true, e.promptAttendedConfirm(ctx, rc, 1)
	case "log_missed":
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingMissedReason, Date: e.ledger.Today()})
		return true, e.msg.SendMessage(ctx, rc.phone, msgMissedReasonPrompt)
	case "show_summary":
		return true, e.sendSummary(ctx, rc)
	case "show_backfill":
		return true, e.sendBackfillPicker(ctx, rc)
	}

	if date, ok := strings.CutPrefix(lowered, "missed_date:"); ok {
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingMissedReason, Date: date})
		return true, e.msg.SendMessage(ctx, rc.phone, msgMissedReasonPrompt)
	}
	if date, ok := strings.CutPrefix(lowered, "attended_date:"); ok {
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingAttendedCount, Date: date})
		return true, e.msg.SendInteractive(ctx, rc.phone,
			countInteractive("How many sessions on "+date+"?", "attended_count"))
	}
	if date, ok := strings.CutPrefix(lowered, "backfill_date:"); ok {
		return true, e.msg.SendInteractive(ctx, rc.phone, backfillKindInteractive(date))
	}
	if date, ok := strings.CutPrefix(lowered, "backfill_attended:"); ok {
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingBackfillAttendedCount, Date: date})
		return true, e.msg.SendInteractive(ctx, rc.phone,
			countInteractive("How many sessions on "+date+"?", "backfill_count"))
	}
	if date, ok := strings.CutPrefix(lowered, "backfill_missed:"); ok {
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingBackfillMissedCount, Date: date})
		return true, e.msg.SendInteractive(ctx, rc.phone,
			countInteractive("How many missed on "+date+"?", "backfill_count"))
	}
	return false, nil
}

func (e *Engine) routeIntent(ctx context.Context, rc *requestContext, intent Intent, count int) error {
	slog.Debug("Engine.routeIntent: classified", "intent", intent.String(), "from", rc.phone)
	switch intent {
	case IntentAttended:
		return e.promptAttendedConfirm(ctx, rc, count)
	case IntentMissed:
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingMissedReason, Date: e.ledger.Today()})
		return e.msg.SendMessage(ctx, rc.phone, msgMissedReasonPrompt)
	case IntentSummary:
		return e.sendSummary(ctx, rc)
	case IntentStatus:
		sum, err := e.ledger.MonthSummary(rc.scope, e.ledger.CurrentMonth())
		if err != nil {
			return err
		}
		return e.msg.SendMessage(ctx, rc.phone, statusText(sum))
	case IntentWeekly:
		days, err := e.ledger.WeekView(rc.scope)
		if err != nil {
			return err
		}
		return e.msg.SendMessage(ctx, rc.phone, weekText(days))
	case IntentReport:
		return e.sendReport(ctx, rc)
	case IntentPlan:
		return e.msg.SendMessage(ctx, rc.phone, planText(rc.user))
	case IntentMembers:
		return e.sendMembers(ctx, rc)
	case IntentExportData:
		return e.sendExport(ctx, rc)
	case IntentDeleteData:
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingDeleteDataConfirm})
		return e.msg.SendInteractive(ctx, rc.phone, yesNoInteractive(msgDeleteConfirm))
	default:
		return e.msg.SendInteractive(ctx, rc.phone, menuInteractive())
	}
}

// promptAttendedConfirm opens the yes/no confirmation for logging today,
// refusing up front when no plan exists for the month.
func (e *Engine) promptAttendedConfirm(ctx context.Context, rc *requestContext, count int) error {
	ok, err := e.requirePlan(ctx, rc, e.ledger.Today())
	if err != nil || !ok {
		return err
	}
	e.setWaiting(rc, models.WaitingState{Kind: models.WaitingConfirm, Count: count})
	return e.msg.SendInteractive(ctx, rc.phone, confirmAttendedInteractive(count))
}

func (e *Engine) sendSummary(ctx context.Context, rc *requestContext) error {
	sum, err := e.ledger.MonthSummary(rc.scope, e.ledger.CurrentMonth())
	if err != nil {
		return err
	}
	streak, err := e.ledger.CurrentStreak(rc.scope)
	if err != nil {
		slog.Warn("Engine.sendSummary: streak unavailable", "error", err, "phone", rc.phone)
		streak = 0
	}
	return e.msg.SendMessage(ctx, rc.phone, summaryText(sum, streak))
}

func (e *Engine) sendBackfillPicker(ctx context.Context, rc *requestContext) error {
	today := e.ledger.Now()
	var dates []string
	for i := 1; i <= backfillWindowDays; i++ {
		dates = append(dates, today.AddDate(0, 0, -i).Format(models.DateLayout))
	}
	return e.msg.SendInteractive(ctx, rc.phone, backfillDayInteractive(dates))
}

func (e *Engine) undoLast(ctx context.Context, rc *requestContext) error {
	s, err := e.ledger.UndoLast(rc.scope)
	if err != nil {
		return err
	}
	if s == nil {
		return e.msg.SendMessage(ctx, rc.phone, msgUndoNothing)
	}
	return e.msg.SendMessage(ctx, rc.phone, undoneText(s))
}

// linkMember shares the requester's ledger with another caregiver, creating
// the child record on first use.
func (e *Engine) linkMember(ctx context.Context, rc *requestContext, arg string) error {
	phone, err := e.msg.ValidateAndCanonicalizeRecipient(strings.TrimSpace(arg))
	if err != nil {
		return e.msg.SendMessage(ctx, rc.phone, msgLinkUsage)
	}
	child, err := e.ledger.LinkMember(rc.tenant, rc.phone, phone, "")
	switch {
	case errors.Is(err, models.ErrAlreadyLinked):
		return e.msg.SendMessage(ctx, rc.phone, msgAlreadyLinked)
	case errors.Is(err, models.ErrNotOwner):
		return e.msg.SendMessage(ctx, rc.phone, msgNotOwner)
	case err != nil:
		return err
	}
	return e.msg.SendMessage(ctx, rc.phone, linkedText(phone, child.Name))
}

// unlinkMember removes a caregiver; members can remove themselves, owners
// can remove anyone.
func (e *Engine) unlinkMember(ctx context.Context, rc *requestContext, arg string) error {
	phone, err := e.msg.ValidateAndCanonicalizeRecipient(strings.TrimSpace(arg))
	if err != nil {
		return e.msg.SendMessage(ctx, rc.phone, msgUnlinkUsage)
	}
	err = e.ledger.RemoveMember(rc.tenant, rc.phone, phone)
	switch {
	case errors.Is(err, models.ErrNotAMember):
		return e.msg.SendMessage(ctx, rc.phone, msgNotAMember)
	case errors.Is(err, models.ErrNotOwner):
		return e.msg.SendMessage(ctx, rc.phone, msgNotOwner)
	case err != nil:
		return err
	}
	return e.msg.SendMessage(ctx, rc.phone, unlinkedText(phone))
}

func (e *Engine) sendMembers(ctx context.Context, rc *requestContext) error {
	if rc.childID == "" {
		return e.msg.SendMessage(ctx, rc.phone, membersText(nil, ""))
	}
	child, err := e.store.GetChild(rc.childID)
	if err != nil {
		return err
	}
	name := rc.childID
	if child != nil {
		name = child.Name
	}
	members, err := e.store.ListChildMembers(rc.childID)
	if err != nil {
		return err
	}
	return e.msg.SendMessage(ctx, rc.phone, membersText(members, name))
}

func (e *Engine) sendExport(ctx context.Context, rc *requestContext) error {
	data, err := e.ledger.ExportData(rc.tenant, rc.phone)
	if err != nil {
		return err
	}
	filename := "careledger-export-" + e.ledger.Now().Format(models.DateLayout) + ".json"
	return e.msg.SendDocument(ctx, rc.phone, filename, "application/json", data)
}

func (e *Engine) sendReport(ctx context.Context, rc *requestContext) error {
	if e.report == nil {
		return e.msg.SendMessage(ctx, rc.phone, msgReportUnavailable)
	}
	if !rc.user.IsPro || (rc.user.ProExpiresAt != nil && rc.user.ProExpiresAt.Before(e.ledger.Now())) {
		return e.msg.SendMessage(ctx, rc.phone, msgProRequired)
	}
	sum, err := e.ledger.MonthSummary(rc.scope, e.ledger.CurrentMonth())
	if err != nil {
		return err
	}
	days, err := e.ledger.WeekView(rc.scope)
	if err != nil {
		return err
	}
	data, filename, mimeType, err := e.report.RenderMonthly(sum, days)
	if err != nil {
		slog.Error("Engine.sendReport: render failed", "error", err, "phone", rc.phone)
		return e.msg.SendMessage(ctx, rc.phone, msgReportUnavailable)
	}
	return e.msg.SendDocument(ctx, rc.phone, filename, mimeType, data)
}

// setReminderHour updates the user's local reminder hour from "remind at N".
func (e *Engine) setReminderHour(ctx context.Context, rc *requestContext, arg string) error {
	hour, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil || hour < 0 || hour > 23 {
		return e.msg.SendMessage(ctx, rc.phone, msgReminderHourInvalid)
	}
	rc.user.ReminderTimeHour = hour
	rc.user.RemindersEnabled = true
	e.saveUser(rc)
	return e.msg.SendMessage(ctx, rc.phone, reminderHourText(hour))
}

// saveUser persists in-place edits to the user row.
func (e *Engine) saveUser(rc *requestContext) {
	rc.user.UpdatedAt = time.Now()
	if err := e.store.SaveUser(*rc.user); err != nil {
		slog.Error("Engine.saveUser: failed", "error", err, "phone", rc.phone)
	}
}

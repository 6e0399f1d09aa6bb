package flow

import (
	"fmt"
	"strings"

	"github.com/BTreeMap/CareLedger/internal/ledger"
	"github.com/BTreeMap/CareLedger/internal/models"
)

// User-facing texts. Short, actionable, conversational; internal error text
// never leaks into them.
const (
	msgSomethingWentWrong = "Sorry, something went wrong on our side. Please try that again."
	msgMenuHint           = "You can also type: summary, status, weekly, report, backfill, holiday, undo, setup, members, link <phone>, export, feedback."
	msgSetupRequired      = "Before logging sessions, set up this month's plan. Type \"setup\" and I'll walk you through it."
	msgSetupPrompt        = "Send your plan as three numbers: sessions cost carry-forward.\nExample: 16 800 0"
	msgSetupInvalid       = "I need exactly three whole numbers: sessions cost carry-forward.\nExample: 16 800 0"
	msgSetupMidPrompt     = "Send four numbers: total cost carry used-so-far.\nExample: 16 800 0 5"
	msgSetupMidInvalid    = "I need exactly four whole numbers: total cost carry used-so-far.\nExample: 16 800 0 5"
	msgNotLogged          = "Okay, nothing was logged."
	msgKeptAsAttended     = "Okay, keeping it as attended."
	msgMissedReasonPrompt = "Got it. What was the reason it didn't happen?"
	msgHolidayPrompt      = "Send the holiday range as YYYY-MM-DD..YYYY-MM-DD\nExample: 2026-03-09..2026-03-13"
	msgHolidayInvalid     = "That range didn't parse. Use YYYY-MM-DD..YYYY-MM-DD, start before end.\nExample: 2026-03-09..2026-03-13"
	msgFeedbackPrompt     = "I'm listening. Send your feedback as text or a voice note."
	msgFeedbackThanks     = "Thank you, noted!"
	msgResetConfirm       = "This wipes this month's sessions, holidays and plan. Are you sure?"
	msgDeleteConfirm      = "This permanently deletes ALL your data and cannot be undone. Are you sure?"
	msgDeleteDone         = "All your data has been deleted. Take care."
	msgUndoNothing        = "There's nothing to undo."
	msgOptedOut           = "You're unsubscribed. Reply \"start\" to resume, or type \"export data\" / \"delete my data\"."
	msgOptOutDone         = "You're unsubscribed and reminders are off. Reply \"start\" anytime to resume."
	msgOptInDone          = "Welcome back! Reminders are on again."
	msgRemindersOn        = "Daily reminders are on."
	msgRemindersOff       = "Daily reminders are off."
	msgReminderHourInvalid = "Please give an hour between 0 and 23, e.g. \"remind at 19\"."
	msgLinkUsage           = "To share tracking, type: link <phone>, e.g. \"link +15551234567\"."
	msgUnlinkUsage         = "To remove a caregiver, type: unlink <phone>."
	msgAlreadyLinked       = "That number is already linked to a child record."
	msgNotOwner            = "Only the owner can manage members."
	msgNotAMember          = "That number isn't linked to your child record."
	msgMoodThanks         = "Noted. Keep it up!"
	msgKeptAsMissed       = "Okay, keeping it as missed."
	msgNoChange           = "Okay, nothing was changed."
	msgProRequired        = "PDF reports are a Pro feature. Type \"plan\" to learn more."
	msgReportUnavailable  = "Reports aren't available right now. Please try again later."
)

func menuInteractive() models.Interactive {
	return models.Interactive{
		Body: "What would you like to do?",
		Options: []models.InteractiveOption{
			{ID: "log_attended", Label: "Log a session"},
			{ID: "log_missed", Label: "Log a missed session"},
			{ID: "show_summary", Label: "Monthly summary"},
			{ID: "show_backfill", Label: "Backfill a past day"},
		},
	}
}

func yesNoInteractive(body string) models.Interactive {
	return models.Interactive{
		Body: body,
		Options: []models.InteractiveOption{
			{ID: "yes", Label: "Yes"},
			{ID: "no", Label: "No"},
		},
	}
}

func confirmAttendedInteractive(count int) models.Interactive {
	body := "Log 1 attended session for today?"
	if count > 1 {
		body = fmt.Sprintf("Log %d attended sessions for today?", count)
	}
	return yesNoInteractive(body)
}

func countInteractive(body, idPrefix string) models.Interactive {
	in := models.Interactive{Body: body}
	for i := 1; i <= 3; i++ {
		in.Options = append(in.Options, models.InteractiveOption{
			ID:    fmt.Sprintf("%s:%d", idPrefix, i),
			Label: fmt.Sprintf("%d", i),
		})
	}
	return in
}

func moodInteractive() models.Interactive {
	return models.Interactive{
		Body: "How did it go?",
		Options: []models.InteractiveOption{
			{ID: "mood:" + models.MoodExcellent, Label: "Excellent"},
			{ID: "mood:" + models.MoodGood, Label: "Good"},
			{ID: "mood:" + models.MoodOkay, Label: "Okay"},
			{ID: "mood:" + models.MoodTough, Label: "Tough"},
		},
	}
}

// Categorized absence reasons offered in the backfill flow. "other" opens a
// free-text note instead.
var missedReasonLabels = map[string]string{
	"sick":      "Sick",
	"travel":    "Travelling",
	"therapist": "Therapist cancelled",
	"other":     "Other",
}

func missedReasonInteractive() models.Interactive {
	return models.Interactive{
		Body: "Why was it missed?",
		Options: []models.InteractiveOption{
			{ID: "backfill_reason:sick", Label: missedReasonLabels["sick"]},
			{ID: "backfill_reason:travel", Label: missedReasonLabels["travel"]},
			{ID: "backfill_reason:therapist", Label: missedReasonLabels["therapist"]},
			{ID: "backfill_reason:other", Label: missedReasonLabels["other"]},
		},
	}
}

func backfillDayInteractive(dates []string) models.Interactive {
	in := models.Interactive{Body: "Which day do you want to backfill?"}
	for _, d := range dates {
		in.Options = append(in.Options, models.InteractiveOption{
			ID:    "backfill_date:" + d,
			Label: d,
		})
	}
	return in
}

func backfillKindInteractive(date string) models.Interactive {
	return models.Interactive{
		Body: fmt.Sprintf("For %s, was the session attended or missed?", date),
		Options: []models.InteractiveOption{
			{ID: "backfill_attended:" + date, Label: "Attended"},
			{ID: "backfill_missed:" + date, Label: "Missed"},
		},
	}
}

func summaryText(sum ledger.Summary, streak int) string {
	if !sum.HasConfig {
		return fmt.Sprintf("No plan set for %s yet. Type \"setup\" to add one.\nLogged so far: %d attended, %d missed.",
			sum.Month, sum.Attended, sum.Cancelled)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Summary for %s\n", sum.Month)
	fmt.Fprintf(&b, "Attended: %d | Missed: %d\n", sum.Attended, sum.Cancelled)
	fmt.Fprintf(&b, "Paid sessions: %d (+%d carried)\n", sum.PaidSessions, sum.CarryForward)
	if sum.Remaining < 0 {
		fmt.Fprintf(&b, "Remaining: %d — you're %d over the paid plan\n", sum.Remaining, -sum.Remaining)
	} else {
		fmt.Fprintf(&b, "Remaining: %d\n", sum.Remaining)
	}
	fmt.Fprintf(&b, "Used: %d | Wasted: %d | Total due: %d", sum.AmountUsed, sum.AmountWasted, sum.TotalDue)
	if streak > 0 {
		fmt.Fprintf(&b, "\nCurrent streak: %d day(s)", streak)
	}
	return b.String()
}

func statusText(sum ledger.Summary) string {
	if !sum.HasConfig {
		return fmt.Sprintf("%s: %d attended, %d missed. No plan set — type \"setup\".", sum.Month, sum.Attended, sum.Cancelled)
	}
	return fmt.Sprintf("%s: %d attended, %d missed, %d remaining.", sum.Month, sum.Attended, sum.Cancelled, sum.Remaining)
}

func weekText(days []ledger.DayMark) string {
	var b strings.Builder
	b.WriteString("Your last 7 days:\n")
	for _, d := range days {
		mark := "·"
		switch {
		case d.Attended > 0:
			mark = "✓"
		case d.Cancelled > 0:
			mark = "✗"
		case d.Holiday:
			mark = "H"
		}
		fmt.Fprintf(&b, "%s %s %s\n", d.Date, d.Weekday.String()[:3], mark)
	}
	b.WriteString("✓ attended, ✗ missed, H holiday")
	return b.String()
}

func loggedAttendedText(sum ledger.Summary, count int) string {
	noun := "session"
	if count > 1 {
		noun = "sessions"
	}
	if !sum.HasConfig {
		return fmt.Sprintf("Logged %d attended %s.", count, noun)
	}
	if sum.Remaining < 0 {
		return fmt.Sprintf("Logged %d attended %s. You're %d over this month's paid plan.", count, noun, -sum.Remaining)
	}
	return fmt.Sprintf("Logged %d attended %s. %d remaining this month.", count, noun, sum.Remaining)
}

func loggedMissedText(count int) string {
	if count > 1 {
		return fmt.Sprintf("Logged %d missed sessions.", count)
	}
	return "Logged a missed session."
}

func planText(u *models.User) string {
	if u.IsPro {
		until := ""
		if u.ProExpiresAt != nil {
			until = " until " + u.ProExpiresAt.Format(models.DateLayout)
		}
		return "You're on the Pro plan" + until + ". Thanks for the support!"
	}
	return "You're on the free plan: one child record, monthly summaries and reminders. Pro adds PDF reports and multi-child tracking."
}

func membersText(members []models.ChildMember, childName string) string {
	if len(members) == 0 {
		return "No shared child record yet. Sessions are tracked against your own number."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Members tracking %s:\n", childName)
	for _, m := range members {
		fmt.Fprintf(&b, "- %s (%s)\n", m.Phone, m.Role)
	}
	return strings.TrimRight(b.String(), "\n")
}

func consentStatusText(optedOut bool) string {
	if optedOut {
		return "You're currently unsubscribed. Reply \"start\" to resume."
	}
	return "You're subscribed. Reply \"stop\" anytime to unsubscribe."
}

func dupAttendPrompt(date string, existing, count int) models.Interactive {
	noun := "session"
	if count > 1 {
		noun = "sessions"
	}
	return yesNoInteractive(fmt.Sprintf(
		"%s already has %d attended logged. Add %d more %s?", date, existing, count, noun))
}

func dupMissedPrompt(date string) models.Interactive {
	return yesNoInteractive(fmt.Sprintf(
		"%s is already marked missed. Log it as missed again?", date))
}

func replaceWithMissedPrompt(date string) models.Interactive {
	return yesNoInteractive(fmt.Sprintf(
		"%s is logged as attended. Change it to missed?", date))
}

func replaceWithAttendedPrompt(date string) models.Interactive {
	return yesNoInteractive(fmt.Sprintf(
		"%s is logged as missed. Change it to attended?", date))
}

func setupDoneText(cfg models.MonthlyConfig) string {
	totalDue := cfg.PaidSessions * cfg.CostPerSession
	return fmt.Sprintf("Plan saved for %s: %d paid sessions at %d each (carry-forward %d). Total due: %d.",
		cfg.Month, cfg.PaidSessions, cfg.CostPerSession, cfg.CarryForward, totalDue)
}

func holidayDoneText(n int) string {
	if n == 1 {
		return "Marked 1 holiday."
	}
	return fmt.Sprintf("Marked %d holidays.", n)
}

func backfilledText(n int) string {
	if n == 0 {
		return "Nothing to backfill yet this month."
	}
	if n == 1 {
		return "Backfilled 1 attended session."
	}
	return fmt.Sprintf("Backfilled %d attended sessions.", n)
}

func resetDoneText(month string) string {
	return fmt.Sprintf("Cleared everything for %s. Type \"setup\" to start fresh.", month)
}

func reminderHourText(hour int) string {
	return fmt.Sprintf("Got it, daily reminder set for %02d:00.", hour)
}

func linkedText(phone, childName string) string {
	return fmt.Sprintf("Linked %s. Sessions for %s are now shared. Type \"members\" to see everyone.", phone, childName)
}

func unlinkedText(phone string) string {
	return fmt.Sprintf("Removed %s from the shared record.", phone)
}

func undoneText(s *models.Session) string {
	if s.Status == models.SessionAttended {
		return fmt.Sprintf("Undone: attended session on %s.", s.Date)
	}
	return fmt.Sprintf("Undone: missed session on %s.", s.Date)
}

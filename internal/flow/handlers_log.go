package flow

import (
	"context"
	"strconv"
	"strings"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// handleConfirm resolves the yes/no question "log N attended sessions for
// today?". A missed-style reply mid-confirmation reroutes into the missed
// flow instead of forcing the user to cancel first.
func (e *Engine) handleConfirm(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	switch {
	case isYes(in.lowered):
		return true, e.startAttendedLog(ctx, rc, e.ledger.Today(), ws.Count)
	case isNo(in.lowered):
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgNotLogged)
	}
	if intent, _ := Classify(in.lowered); intent == IntentMissed {
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingMissedReason, Date: e.ledger.Today()})
		return true, e.msg.SendMessage(ctx, rc.phone, msgMissedReasonPrompt)
	}
	return false, nil
}

// handleMissedReason consumes any text as the absence reason for ws.Date and
// runs the missed-side conflict table.
func (e *Engine) handleMissedReason(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	if in.raw == "" {
		return true, e.msg.SendMessage(ctx, rc.phone, msgMissedReasonPrompt)
	}
	return true, e.startMissedLog(ctx, rc, ws.Date, in.raw, 1)
}

func (e *Engine) handleDupAttend(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	switch {
	case isYes(in.lowered):
		return true, e.commitAttended(ctx, rc, ws.Date, ws.Count)
	case isNo(in.lowered):
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgNotLogged)
	}
	return false, nil
}

func (e *Engine) handleDupMissed(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	switch {
	case isYes(in.lowered):
		return true, e.commitMissed(ctx, rc, ws.Date, ws.Reason, ws.Count)
	case isNo(in.lowered):
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgNotLogged)
	}
	return false, nil
}

func (e *Engine) handleReplaceWithMissed(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	switch {
	case isYes(in.lowered):
		if err := e.ledger.ReplaceWithMissed(rc.scope, rc.phone, rc.childID, ws.Date, ws.Reason, ws.Count); err != nil {
			return true, err
		}
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, loggedMissedText(ws.Count))
	case isNo(in.lowered):
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgKeptAsAttended)
	}
	return false, nil
}

func (e *Engine) handleReplaceWithAttend(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	switch {
	case isYes(in.lowered):
		if err := e.ledger.ReplaceWithAttended(rc.scope, rc.phone, rc.childID, ws.Date, ws.Count); err != nil {
			return true, err
		}
		month, err := monthOfDate(ws.Date)
		if err != nil {
			return true, err
		}
		sum, err := e.ledger.MonthSummary(rc.scope, month)
		if err != nil {
			return true, err
		}
		if err := e.msg.SendMessage(ctx, rc.phone, loggedAttendedText(sum, ws.Count)); err != nil {
			return true, err
		}
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingMood, Date: ws.Date, Count: ws.Count})
		return true, e.msg.SendInteractive(ctx, rc.phone, moodInteractive())
	case isNo(in.lowered):
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgKeptAsMissed)
	}
	return false, nil
}

// handleAttendedCount accepts a session count for ws.Date, either as the
// "attended_count:N" button id or a bare number.
func (e *Engine) handleAttendedCount(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	n, ok := parseCountReply(in.lowered, "attended_count")
	if !ok {
		return false, nil
	}
	return true, e.startAttendedLog(ctx, rc, ws.Date, n)
}

// handleMood tags the just-logged rows with a picked mood, or with a
// voice-note transcript verbatim. Anything else falls through to idle
// routing so the mood question never traps the user.
func (e *Engine) handleMood(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	if key, ok := strings.CutPrefix(in.lowered, "mood:"); ok {
		if err := e.ledger.TagMood(rc.scope, ws.Date, key, ws.Count); err != nil {
			return true, err
		}
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgMoodThanks)
	}
	if in.voice && in.raw != "" {
		if err := e.ledger.TagMoodNote(rc.scope, ws.Date, in.raw, ws.Count); err != nil {
			return true, err
		}
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgMoodThanks)
	}
	return false, nil
}

// parseCountReply extracts a count from either "<prefix>:N" or a bare
// number, clamped to [1, MaxSessionCount].
func parseCountReply(lowered, prefix string) (int, bool) {
	s := lowered
	if rest, ok := strings.CutPrefix(lowered, prefix+":"); ok {
		s = rest
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, false
	}
	return clampCount(n), true
}

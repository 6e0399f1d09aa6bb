package flow

import (
	"context"
	"strings"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// handleBackfillAttendedCount inserts attended rows for a historical date.
// Backfill is already an explicit correction, so it skips the duplicate
// prompts the live flow would raise.
func (e *Engine) handleBackfillAttendedCount(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	n, ok := parseCountReply(in.lowered, "backfill_count")
	if !ok {
		return false, nil
	}
	ok, err := e.requirePlan(ctx, rc, ws.Date)
	if err != nil || !ok {
		return true, err
	}
	if err := e.ledger.CommitAttendance(rc.scope, rc.phone, rc.childID, ws.Date, n); err != nil {
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
	e.clearWaiting(rc)
	return true, e.msg.SendMessage(ctx, rc.phone, loggedAttendedText(sum, n))
}

// handleBackfillMissedCount captures the count and moves on to the reason
// picker.
func (e *Engine) handleBackfillMissedCount(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	n, ok := parseCountReply(in.lowered, "backfill_count")
	if !ok {
		return false, nil
	}
	e.setWaiting(rc, models.WaitingState{Kind: models.WaitingBackfillMissedReason, Date: ws.Date, Count: n})
	return true, e.msg.SendInteractive(ctx, rc.phone, missedReasonInteractive())
}

// handleBackfillMissedReason resolves a categorized reason key. "other"
// opens a free-text note; any known key commits through the conflict table.
func (e *Engine) handleBackfillMissedReason(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	key, ok := strings.CutPrefix(in.lowered, "backfill_reason:")
	if !ok {
		return false, nil
	}
	if key == "other" {
		e.setWaiting(rc, models.WaitingState{Kind: models.WaitingBackfillMissedNote, Date: ws.Date, Count: ws.Count})
		return true, e.msg.SendMessage(ctx, rc.phone, msgMissedReasonPrompt)
	}
	label, ok := missedReasonLabels[key]
	if !ok {
		return true, e.msg.SendInteractive(ctx, rc.phone, missedReasonInteractive())
	}
	return true, e.startMissedLog(ctx, rc, ws.Date, label, ws.Count)
}

// handleBackfillMissedNote consumes any text (or voice transcript) as the
// reason after "other" was picked.
func (e *Engine) handleBackfillMissedNote(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error) {
	if in.raw == "" {
		return true, e.msg.SendMessage(ctx, rc.phone, msgMissedReasonPrompt)
	}
	return true, e.startMissedLog(ctx, rc, ws.Date, in.raw, ws.Count)
}

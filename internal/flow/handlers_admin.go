package flow

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"

	"github.com/google/uuid"
)

// summarizeTimeout bounds the optional feedback summarization call.
const summarizeTimeout = 10 * time.Second

// handleSetupConfig parses "[sessions] [cost] [carry_forward]". A message
// that looks like a command falls through; anything else re-prompts.
func (e *Engine) handleSetupConfig(ctx context.Context, rc *requestContext, _ models.WaitingState, in inbound) (bool, error) {
	nums, ok := parseInts(in.lowered, 3)
	if !ok {
		if intent, _ := Classify(in.lowered); intent != IntentNone {
			return false, nil
		}
		return true, e.msg.SendMessage(ctx, rc.phone, msgSetupInvalid)
	}
	cfg, err := e.ledger.SetupMonth(rc.scope, nums[0], nums[1], nums[2])
	if err != nil {
		if errors.Is(err, models.ErrInvalidSetup) {
			return true, e.msg.SendMessage(ctx, rc.phone, msgSetupInvalid)
		}
		return true, err
	}
	e.clearWaiting(rc)
	return true, e.msg.SendMessage(ctx, rc.phone, setupDoneText(cfg))
}

// handleSetupMidConfig parses "[total] [cost] [carry] [used]" and backfills
// the used sessions across the elapsed days of the month.
func (e *Engine) handleSetupMidConfig(ctx context.Context, rc *requestContext, _ models.WaitingState, in inbound) (bool, error) {
	nums, ok := parseInts(in.lowered, 4)
	if !ok {
		if intent, _ := Classify(in.lowered); intent != IntentNone {
			return false, nil
		}
		return true, e.msg.SendMessage(ctx, rc.phone, msgSetupMidInvalid)
	}
	cfg, err := e.ledger.SetupMonth(rc.scope, nums[0], nums[1], nums[2])
	if err != nil {
		if errors.Is(err, models.ErrInvalidSetup) {
			return true, e.msg.SendMessage(ctx, rc.phone, msgSetupMidInvalid)
		}
		return true, err
	}
	filled, err := e.ledger.Backfill(rc.scope, rc.phone, rc.childID, nums[3])
	if err != nil {
		return true, err
	}
	e.clearWaiting(rc)
	if err := e.msg.SendMessage(ctx, rc.phone, setupDoneText(cfg)); err != nil {
		return true, err
	}
	return true, e.msg.SendMessage(ctx, rc.phone, backfilledText(filled))
}

func (e *Engine) handleResetConfirm(ctx context.Context, rc *requestContext, _ models.WaitingState, in inbound) (bool, error) {
	switch {
	case isYes(in.lowered):
		month := e.ledger.CurrentMonth()
		if err := e.ledger.ResetMonth(rc.scope, month); err != nil {
			return true, err
		}
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, resetDoneText(month))
	case isNo(in.lowered):
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgNoChange)
	}
	return false, nil
}

// handleDeleteDataConfirm erases the account on "yes". The user row is gone
// afterwards, so no state write follows the erase.
func (e *Engine) handleDeleteDataConfirm(ctx context.Context, rc *requestContext, _ models.WaitingState, in inbound) (bool, error) {
	switch {
	case isYes(in.lowered):
		if err := e.ledger.EraseUser(rc.tenant, rc.phone); err != nil {
			return true, err
		}
		return true, e.msg.SendMessage(ctx, rc.phone, msgDeleteDone)
	case isNo(in.lowered):
		e.clearWaiting(rc)
		return true, e.msg.SendMessage(ctx, rc.phone, msgNoChange)
	}
	return false, nil
}

// handleFeedbackNote persists any text or voice transcript. Summarization is
// best effort: a failed or absent summarizer yields an empty summary, never
// a blocked save.
func (e *Engine) handleFeedbackNote(ctx context.Context, rc *requestContext, _ models.WaitingState, in inbound) (bool, error) {
	if in.raw == "" {
		return true, e.msg.SendMessage(ctx, rc.phone, msgFeedbackPrompt)
	}

	summary := ""
	if e.sum != nil {
		sctx, cancel := context.WithTimeout(ctx, summarizeTimeout)
		s, err := e.sum.Summarize(sctx, in.raw)
		cancel()
		if err != nil {
			slog.Warn("Engine.handleFeedbackNote: summarization failed", "error", err, "phone", rc.phone)
		} else {
			summary = s
		}
	}

	note := models.FeedbackNote{
		ID:        uuid.NewString(),
		TenantID:  rc.tenant,
		Phone:     rc.phone,
		Note:      in.raw,
		Summary:   summary,
		CreatedAt: e.ledger.Now(),
	}
	if err := e.store.InsertFeedbackNote(note); err != nil {
		return true, err
	}
	e.clearWaiting(rc)
	return true, e.msg.SendMessage(ctx, rc.phone, msgFeedbackThanks)
}

// handleHolidayRange parses "YYYY-MM-DD..YYYY-MM-DD" and marks each day.
func (e *Engine) handleHolidayRange(ctx context.Context, rc *requestContext, _ models.WaitingState, in inbound) (bool, error) {
	start, end, ok := strings.Cut(in.lowered, "..")
	if !ok {
		if intent, _ := Classify(in.lowered); intent != IntentNone {
			return false, nil
		}
		return true, e.msg.SendMessage(ctx, rc.phone, msgHolidayInvalid)
	}
	n, err := e.ledger.AddHolidayRange(rc.scope, strings.TrimSpace(start), strings.TrimSpace(end))
	if err != nil {
		if errors.Is(err, models.ErrInvalidDate) || errors.Is(err, models.ErrInvalidDateRange) {
			return true, e.msg.SendMessage(ctx, rc.phone, msgHolidayInvalid)
		}
		return true, err
	}
	e.clearWaiting(rc)
	return true, e.msg.SendMessage(ctx, rc.phone, holidayDoneText(n))
}

// parseInts splits a message into exactly want whole numbers; all must be
// non-negative.
func parseInts(s string, want int) ([]int, bool) {
	fields := strings.Fields(s)
	if len(fields) != want {
		return nil, false
	}
	out := make([]int, 0, want)
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil || n < 0 {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

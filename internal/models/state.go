// Package models defines the waiting-state tagged union for the dialogue
// engine.
//
// The persisted column is a single string token with colon-delimited
// parameters (for example "dup_attend:2026-02-01:3"). In code the state is a
// typed value; parsing and formatting happen only here, at the persistence
// edge.
package models

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// WaitingKind identifies which multi-turn flow a user is inside.
type WaitingKind string

const (
	// WaitingIdle means no question is pending.
	WaitingIdle WaitingKind = ""
	// WaitingConfirm asks yes/no before logging Count attended sessions today.
	WaitingConfirm WaitingKind = "state:AWAITING_CONFIRMATION"
	// WaitingMissedReason awaits a free-text reason for a missed date.
	WaitingMissedReason WaitingKind = "missed_reason"
	// WaitingDupAttend confirms adding attended rows on an already-attended date.
	WaitingDupAttend WaitingKind = "dup_attend"
	// WaitingDupMissed confirms adding cancelled rows on an already-missed date.
	WaitingDupMissed WaitingKind = "dup_missed"
	// WaitingReplaceWithMissed confirms converting attended rows to cancelled.
	WaitingReplaceWithMissed WaitingKind = "replace_with_missed"
	// WaitingReplaceWithAttend confirms converting cancelled rows to attended.
	WaitingReplaceWithAttend WaitingKind = "repl_can_attend"
	// WaitingAttendedCount awaits a numeric session count for a chosen date.
	WaitingAttendedCount WaitingKind = "attended_count"
	// WaitingBackfillAttendedCount awaits a count in the historical backfill flow.
	WaitingBackfillAttendedCount WaitingKind = "backfill_attended_count"
	// WaitingBackfillMissedCount awaits a count for a backfilled missed date.
	WaitingBackfillMissedCount WaitingKind = "backfill_missed_count"
	// WaitingBackfillMissedReason awaits a categorized reason key.
	WaitingBackfillMissedReason WaitingKind = "backfill_missed_reason"
	// WaitingBackfillMissedNote awaits a free-text reason after "other".
	WaitingBackfillMissedNote WaitingKind = "backfill_missed_note"
	// WaitingMood awaits a mood tag for just-logged sessions.
	WaitingMood WaitingKind = "mood"
	// WaitingSetupConfig awaits "[sessions] [cost] [carry_forward]".
	WaitingSetupConfig WaitingKind = "setup_config"
	// WaitingSetupMidConfig awaits "[total] [cost] [carry] [used]".
	WaitingSetupMidConfig WaitingKind = "setup_mid_config"
	// WaitingResetConfirm confirms wiping the current month.
	WaitingResetConfirm WaitingKind = "reset_confirm"
	// WaitingDeleteDataConfirm confirms full account erasure.
	WaitingDeleteDataConfirm WaitingKind = "delete_data_confirm"
	// WaitingFeedbackNote awaits free-text or voice-note feedback.
	WaitingFeedbackNote WaitingKind = "feedback_note"
	// WaitingHolidayRange awaits a "YYYY-MM-DD..YYYY-MM-DD" range.
	WaitingHolidayRange WaitingKind = "holiday_range"
)

// WaitingState is the decoded dialogue program counter. Date, Count and
// Reason are populated only where the kind carries them; Count defaults to 1
// on parse where the token omits it.
type WaitingState struct {
	Kind   WaitingKind
	Date   string // YYYY-MM-DD
	Count  int
	Reason string // decoded free text carried through a confirmation
}

// Idle returns the idle waiting state.
func Idle() WaitingState {
	return WaitingState{Kind: WaitingIdle}
}

// IsIdle reports whether no question is pending.
func (s WaitingState) IsIdle() bool {
	return s.Kind == WaitingIdle
}

// Encode serializes the state to the persisted token format. The reason
// payload is base64-encoded so free text survives the colon-delimited slot.
func (s WaitingState) Encode() string {
	switch s.Kind {
	case WaitingIdle:
		return ""
	case WaitingConfirm:
		if s.Count > 1 {
			return fmt.Sprintf("%s:%d", WaitingConfirm, s.Count)
		}
		return string(WaitingConfirm)
	case WaitingMissedReason, WaitingAttendedCount, WaitingBackfillAttendedCount, WaitingBackfillMissedCount:
		return fmt.Sprintf("%s:%s", s.Kind, s.Date)
	case WaitingDupAttend, WaitingReplaceWithAttend, WaitingBackfillMissedReason, WaitingBackfillMissedNote, WaitingMood:
		return fmt.Sprintf("%s:%s:%d", s.Kind, s.Date, s.countOrOne())
	case WaitingDupMissed, WaitingReplaceWithMissed:
		payload := base64.StdEncoding.EncodeToString([]byte(s.Reason))
		return fmt.Sprintf("%s:%s:%d:%s", s.Kind, s.Date, s.countOrOne(), payload)
	default:
		// Parameterless states round-trip as their bare tag.
		return string(s.Kind)
	}
}

func (s WaitingState) countOrOne() int {
	if s.Count < 1 {
		return 1
	}
	return s.Count
}

// ParseWaitingState decodes a persisted waiting_for token. Unknown or
// malformed tokens decode to idle so a bad row can never wedge a user.
func ParseWaitingState(raw string) WaitingState {
	if raw == "" {
		return Idle()
	}

	// The confirmation token embeds a colon in its tag, so handle it before
	// the generic split.
	if raw == string(WaitingConfirm) {
		return WaitingState{Kind: WaitingConfirm, Count: 1}
	}
	if rest, ok := strings.CutPrefix(raw, string(WaitingConfirm)+":"); ok {
		n, err := strconv.Atoi(rest)
		if err != nil || n < 1 {
			n = 1
		}
		return WaitingState{Kind: WaitingConfirm, Count: n}
	}

	parts := strings.Split(raw, ":")
	kind := WaitingKind(parts[0])
	args := parts[1:]

	switch kind {
	case WaitingSetupConfig, WaitingSetupMidConfig, WaitingResetConfirm,
		WaitingDeleteDataConfirm, WaitingFeedbackNote, WaitingHolidayRange:
		return WaitingState{Kind: kind}

	case WaitingMissedReason, WaitingAttendedCount,
		WaitingBackfillAttendedCount, WaitingBackfillMissedCount:
		if len(args) != 1 {
			return Idle()
		}
		return WaitingState{Kind: kind, Date: args[0], Count: 1}

	case WaitingDupAttend, WaitingReplaceWithAttend,
		WaitingBackfillMissedReason, WaitingBackfillMissedNote, WaitingMood:
		if len(args) != 2 {
			return Idle()
		}
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			n = 1
		}
		return WaitingState{Kind: kind, Date: args[0], Count: n}

	case WaitingDupMissed, WaitingReplaceWithMissed:
		// date, optional count, base64 payload
		if len(args) < 2 || len(args) > 3 {
			return Idle()
		}
		st := WaitingState{Kind: kind, Date: args[0], Count: 1}
		payload := args[len(args)-1]
		if len(args) == 3 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				n = 1
			}
			st.Count = n
		}
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Idle()
		}
		st.Reason = string(decoded)
		return st

	default:
		return Idle()
	}
}

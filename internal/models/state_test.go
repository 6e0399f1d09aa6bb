package models

import (
	"encoding/base64"
	"testing"
)

func TestParseWaitingState_Idle(t *testing.T) {
	st := ParseWaitingState("")
	if !st.IsIdle() {
		t.Errorf("expected idle state for empty token, got %+v", st)
	}
}

func TestParseWaitingState_Confirmation(t *testing.T) {
	tests := []struct {
		name  string
		token string
		count int
	}{
		{"bare", "state:AWAITING_CONFIRMATION", 1},
		{"with count", "state:AWAITING_CONFIRMATION:3", 3},
		{"bad count", "state:AWAITING_CONFIRMATION:abc", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ParseWaitingState(tt.token)
			if st.Kind != WaitingConfirm {
				t.Fatalf("expected confirmation kind, got %q", st.Kind)
			}
			if st.Count != tt.count {
				t.Errorf("expected count %d, got %d", tt.count, st.Count)
			}
		})
	}
}

func TestParseWaitingState_DatedStates(t *testing.T) {
	st := ParseWaitingState("missed_reason:2026-02-01")
	if st.Kind != WaitingMissedReason || st.Date != "2026-02-01" {
		t.Errorf("unexpected state %+v", st)
	}

	st = ParseWaitingState("dup_attend:2026-02-01:3")
	if st.Kind != WaitingDupAttend || st.Date != "2026-02-01" || st.Count != 3 {
		t.Errorf("unexpected state %+v", st)
	}

	st = ParseWaitingState("mood:2026-02-01:2")
	if st.Kind != WaitingMood || st.Count != 2 {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestParseWaitingState_PayloadStates(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("sick"))

	st := ParseWaitingState("replace_with_missed:2026-02-01:2:" + payload)
	if st.Kind != WaitingReplaceWithMissed || st.Date != "2026-02-01" || st.Count != 2 || st.Reason != "sick" {
		t.Errorf("unexpected state %+v", st)
	}

	// Count is optional in the stored token.
	st = ParseWaitingState("dup_missed:2026-02-01:" + payload)
	if st.Kind != WaitingDupMissed || st.Count != 1 || st.Reason != "sick" {
		t.Errorf("unexpected state %+v", st)
	}
}

func TestParseWaitingState_MalformedDecodesToIdle(t *testing.T) {
	tokens := []string{
		"bogus_state",
		"dup_attend",
		"dup_attend:2026-02-01:3:extra",
		"replace_with_missed:2026-02-01:2:!!!not-base64!!!",
		"missed_reason",
	}
	for _, token := range tokens {
		if st := ParseWaitingState(token); !st.IsIdle() {
			t.Errorf("token %q: expected idle, got %+v", token, st)
		}
	}
}

func TestWaitingStateRoundTrip(t *testing.T) {
	states := []WaitingState{
		{Kind: WaitingConfirm, Count: 1},
		{Kind: WaitingConfirm, Count: 4},
		{Kind: WaitingMissedReason, Date: "2026-02-01", Count: 1},
		{Kind: WaitingDupAttend, Date: "2026-02-01", Count: 3},
		{Kind: WaitingDupMissed, Date: "2026-02-01", Count: 2, Reason: "clinic closed"},
		{Kind: WaitingReplaceWithMissed, Date: "2026-02-01", Count: 1, Reason: "sick"},
		{Kind: WaitingReplaceWithAttend, Date: "2026-02-03", Count: 2},
		{Kind: WaitingBackfillMissedReason, Date: "2026-02-02", Count: 2},
		{Kind: WaitingMood, Date: "2026-02-01", Count: 2},
		{Kind: WaitingSetupConfig},
		{Kind: WaitingResetConfirm},
		{Kind: WaitingHolidayRange},
	}

	for _, want := range states {
		got := ParseWaitingState(want.Encode())
		if got != want {
			t.Errorf("round trip of %+v produced %+v (token %q)", want, got, want.Encode())
		}
	}
}

func TestEncode_IdleIsEmpty(t *testing.T) {
	if token := Idle().Encode(); token != "" {
		t.Errorf("idle state should encode to empty string, got %q", token)
	}
}

package flow

import (
	"regexp"
	"strconv"
	"strings"
)

// Intent is a coarse classification of a free-text idle message.
type Intent int

const (
	IntentNone Intent = iota
	IntentPlan
	IntentExportData
	IntentDeleteData
	IntentMembers
	IntentStatus
	IntentWeekly
	IntentReport
	IntentSummary
	IntentMissed
	IntentAttended
)

// String returns the intent name for logging.
func (i Intent) String() string {
	switch i {
	case IntentPlan:
		return "plan"
	case IntentExportData:
		return "export_data"
	case IntentDeleteData:
		return "delete_data"
	case IntentMembers:
		return "members"
	case IntentStatus:
		return "status"
	case IntentWeekly:
		return "weekly"
	case IntentReport:
		return "report"
	case IntentSummary:
		return "summary"
	case IntentMissed:
		return "missed"
	case IntentAttended:
		return "attended"
	default:
		return "none"
	}
}

// Ordered: the first matching pattern wins, so broad words late in the list
// ("done") cannot shadow specific commands earlier in it.
var intentPatterns = []struct {
	intent Intent
	re     *regexp.Regexp
}{
	{IntentPlan, regexp.MustCompile(`\b(plan|upgrade|pro|subscribe|subscription)\b`)},
	{IntentExportData, regexp.MustCompile(`\bexport\b`)},
	{IntentDeleteData, regexp.MustCompile(`\b(delete|erase)\b.*\b(data|account|everything)\b`)},
	{IntentMembers, regexp.MustCompile(`\b(members?|caregivers?|family)\b`)},
	{IntentStatus, regexp.MustCompile(`\bstatus\b`)},
	{IntentWeekly, regexp.MustCompile(`\b(week|weekly)\b`)},
	{IntentReport, regexp.MustCompile(`\b(report|pdf)\b`)},
	{IntentSummary, regexp.MustCompile(`\bsummary\b`)},
	{IntentMissed, regexp.MustCompile(`\b(missed|miss|skipped|skip|cancelled|canceled|no show|didn'?t (go|attend|happen)|did not (go|attend|happen))\b`)},
	{IntentAttended, regexp.MustCompile(`\b(attended|attend|went|done|happened|session)\b`)},
}

var trailingCountRegex = regexp.MustCompile(`(\d+)\s*$`)

// MaxSessionCount caps how many sessions one message may log.
const MaxSessionCount = 9

// Classify matches a lowercase message against the ordered intent patterns.
// For attended intents it also extracts an optional trailing session count
// ("attended 2"), clamped to [1, MaxSessionCount]. Returns IntentNone when
// nothing matches, deferring to exact-string command routing.
func Classify(text string) (Intent, int) {
	lowered := strings.ToLower(strings.TrimSpace(text))
	if lowered == "" {
		return IntentNone, 0
	}
	for _, p := range intentPatterns {
		if !p.re.MatchString(lowered) {
			continue
		}
		count := 1
		if p.intent == IntentAttended {
			if m := trailingCountRegex.FindStringSubmatch(lowered); m != nil {
				if n, err := strconv.Atoi(m[1]); err == nil {
					count = clampCount(n)
				}
			}
		}
		return p.intent, count
	}
	return IntentNone, 0
}

func clampCount(n int) int {
	if n < 1 {
		return 1
	}
	if n > MaxSessionCount {
		return MaxSessionCount
	}
	return n
}

package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CareLedger/internal/ledger"
)

func TestRenderMonthly(t *testing.T) {
	sum := ledger.Summary{
		Month:          "2026-02",
		Attended:       5,
		Cancelled:      2,
		PaidSessions:   16,
		CostPerSession: 800,
		Remaining:      11,
		AmountUsed:     4000,
		AmountWasted:   1600,
		TotalDue:       12800,
		HasConfig:      true,
	}
	days := []ledger.DayMark{
		{Date: "2026-02-13", Weekday: time.Friday, Attended: 1},
		{Date: "2026-02-14", Weekday: time.Saturday, Holiday: true},
		{Date: "2026-02-15", Weekday: time.Sunday},
	}

	data, filename, mimeType, err := NewRenderer().RenderMonthly(sum, days)
	if err != nil {
		t.Fatalf("RenderMonthly: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Errorf("output is not a PDF (starts with %q)", data[:min(8, len(data))])
	}
	if !strings.Contains(filename, "2026-02") || !strings.HasSuffix(filename, ".pdf") {
		t.Errorf("filename = %q", filename)
	}
	if mimeType != "application/pdf" {
		t.Errorf("mime = %q", mimeType)
	}
}

func TestRenderMonthlyNoConfig(t *testing.T) {
	data, _, _, err := NewRenderer().RenderMonthly(ledger.Summary{Month: "2026-03"}, nil)
	if err != nil {
		t.Fatalf("RenderMonthly: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty output")
	}
}

func TestDayMarkLabel(t *testing.T) {
	tests := []struct {
		day  ledger.DayMark
		want string
	}{
		{ledger.DayMark{Attended: 2}, "2 attended"},
		{ledger.DayMark{Cancelled: 1}, "1 missed"},
		{ledger.DayMark{Attended: 1, Cancelled: 1}, "1 attended, 1 missed"},
		{ledger.DayMark{Holiday: true}, "holiday"},
		{ledger.DayMark{}, "no log"},
	}
	for _, tt := range tests {
		if got := dayMarkLabel(tt.day); got != tt.want {
			t.Errorf("dayMarkLabel(%+v) = %q, want %q", tt.day, got, tt.want)
		}
	}
}

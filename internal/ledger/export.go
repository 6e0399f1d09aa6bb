package ledger

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/store"
)

// exportMonths bounds how far back a data export reaches.
const exportMonths = 12

// Export is the portable account snapshot handed to the user on request.
type Export struct {
	GeneratedAt string                          `json:"generated_at"`
	Phone       string                          `json:"phone"`
	User        *models.User                    `json:"user,omitempty"`
	Configs     map[string]models.MonthlyConfig `json:"monthly_configs,omitempty"`
	Sessions    []models.Session                `json:"sessions,omitempty"`
	Holidays    []models.Holiday                `json:"holidays,omitempty"`
	Consent     *models.ConsentEvent            `json:"latest_consent,omitempty"`
}

// TagMoodNote attaches free-form text (a voice-note transcript) to the most
// recently created count rows on a date. Unlike TagMood it accepts any
// non-empty text.
func (l *Ledger) TagMoodNote(scope store.Scope, date, note string, count int) error {
	if note == "" {
		return models.ErrEmptyReason
	}
	sessions, err := l.store.SessionsOnDate(scope, date)
	if err != nil {
		return fmt.Errorf("tag mood note: %w", err)
	}
	if count < 1 {
		count = 1
	}
	for i := 0; i < len(sessions) && i < count; i++ {
		if err := l.store.UpdateSessionMood(sessions[i].ID, note); err != nil {
			return fmt.Errorf("tag mood note: %w", err)
		}
	}
	return nil
}

// ExportData collects the user's data across the past year into a single
// JSON document.
func (l *Ledger) ExportData(tenantID, phone string) ([]byte, error) {
	user, err := l.store.GetUser(tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("export data: %w", err)
	}

	scope, _, err := l.ResolveScope(tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("export data: %w", err)
	}

	out := Export{
		GeneratedAt: l.Now().UTC().Format(time.RFC3339),
		Phone:       phone,
		User:        user,
		Configs:     map[string]models.MonthlyConfig{},
	}

	cursor := l.Now()
	for i := 0; i < exportMonths; i++ {
		month := cursor.AddDate(0, -i, 0).Format(models.MonthLayout)
		sessions, err := l.store.SessionsInMonth(scope, month)
		if err != nil {
			return nil, fmt.Errorf("export data: %w", err)
		}
		out.Sessions = append(out.Sessions, sessions...)

		holidays, err := l.store.HolidaysInMonth(scope, month)
		if err != nil {
			return nil, fmt.Errorf("export data: %w", err)
		}
		out.Holidays = append(out.Holidays, holidays...)

		cfg, err := l.store.GetMonthlyConfig(scope, month)
		if err != nil {
			return nil, fmt.Errorf("export data: %w", err)
		}
		if cfg != nil {
			out.Configs[month] = *cfg
		}
	}

	consent, err := l.store.LatestConsentEvent(tenantID, phone)
	if err != nil {
		return nil, fmt.Errorf("export data: %w", err)
	}
	out.Consent = consent

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export data: %w", err)
	}
	return data, nil
}

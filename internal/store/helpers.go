package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// rowScanner abstracts *sql.Row and *sql.Rows so user scanning is shared
// between single-row and multi-row queries.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUserRow(row *sql.Row) (*models.User, error) {
	return scanUserInto(row)
}

func scanUser(rows *sql.Rows) (*models.User, error) {
	u, err := scanUserInto(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return u, nil
}

func scanUserInto(sc rowScanner) (*models.User, error) {
	var u models.User
	var proExpiresAt sql.NullTime
	var lastReminderSent sql.NullString
	err := sc.Scan(&u.TenantID, &u.Phone, &u.WaitingFor, &u.Timezone, &u.RemindersEnabled,
		&u.ReminderTimeHour, &u.IsPro, &proExpiresAt, &lastReminderSent, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if proExpiresAt.Valid {
		t := proExpiresAt.Time
		u.ProExpiresAt = &t
	}
	u.LastReminderSent = lastReminderSent.String
	return &u, nil
}

func collectSessions(rows *sql.Rows) ([]models.Session, error) {
	var sessions []models.Session
	for rows.Next() {
		var s models.Session
		var childID, reason, mood, loggedBy sql.NullString
		err := rows.Scan(&s.ID, &s.TenantID, &s.ScopeID, &s.UserPhone, &childID, &s.Date, &s.Month,
			&s.Status, &reason, &mood, &s.SessionsDone, &loggedBy, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.ChildID = childID.String
		s.Reason = reason.String
		s.Mood = mood.String
		s.LoggedBy = loggedBy.String
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// nilIfEmpty maps "" to NULL so optional text columns stay NULL instead of
// storing empty strings.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

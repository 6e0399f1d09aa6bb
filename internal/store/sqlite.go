// Package store provides storage backends for CareLedger.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/CareLedger/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is the SQLite-backed Store implementation.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is a
// file path; missing parent directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore failed to open connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore migrations applied")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("SQLiteStore closing database connection")
	return s.db.Close()
}

func (s *SQLiteStore) GetUser(tenantID, phone string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT tenant_id, phone, waiting_for, timezone, reminders_enabled, reminder_time_hour,
		is_pro, pro_expires_at, last_reminder_sent, created_at, updated_at
		FROM users WHERE tenant_id = ? AND phone = ?`, tenantID, phone)
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetUser failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	return u, nil
}

func (s *SQLiteStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`INSERT INTO users (tenant_id, phone, waiting_for, timezone, reminders_enabled,
		reminder_time_hour, is_pro, pro_expires_at, last_reminder_sent, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, phone) DO UPDATE SET
			waiting_for = excluded.waiting_for,
			timezone = excluded.timezone,
			reminders_enabled = excluded.reminders_enabled,
			reminder_time_hour = excluded.reminder_time_hour,
			is_pro = excluded.is_pro,
			pro_expires_at = excluded.pro_expires_at,
			last_reminder_sent = excluded.last_reminder_sent,
			updated_at = excluded.updated_at`,
		u.TenantID, u.Phone, u.WaitingFor, u.Timezone, u.RemindersEnabled,
		u.ReminderTimeHour, u.IsPro, u.ProExpiresAt, u.LastReminderSent, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "phone", u.Phone)
		return fmt.Errorf("failed to save user %s: %w", u.Phone, err)
	}
	return nil
}

func (s *SQLiteStore) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT tenant_id, phone, waiting_for, timezone, reminders_enabled, reminder_time_hour,
		is_pro, pro_expires_at, last_reminder_sent, created_at, updated_at FROM users ORDER BY phone`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) DeleteUser(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE tenant_id = ? AND phone = ?`, tenantID, phone)
	if err != nil {
		slog.Error("SQLiteStore DeleteUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete user %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) CreateChild(c models.Child) error {
	_, err := s.db.Exec(`INSERT INTO children (id, tenant_id, name, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Name, c.CreatedBy, c.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateChild failed", "error", err, "childID", c.ID)
		return fmt.Errorf("failed to create child: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChild(id string) (*models.Child, error) {
	var c models.Child
	err := s.db.QueryRow(`SELECT id, tenant_id, name, created_by, created_at FROM children WHERE id = ?`, id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.CreatedBy, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) AddChildMember(m models.ChildMember) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO child_members (child_id, phone, role, created_at) VALUES (?, ?, ?, ?)`,
		m.ChildID, m.Phone, m.Role, m.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddChildMember failed", "error", err, "childID", m.ChildID, "phone", m.Phone)
		return fmt.Errorf("failed to add child member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveChildMember(childID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM child_members WHERE child_id = ? AND phone = ?`, childID, phone)
	if err != nil {
		return fmt.Errorf("failed to remove child member: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateChildMemberRole(childID, phone string, role models.MemberRole) error {
	_, err := s.db.Exec(`UPDATE child_members SET role = ? WHERE child_id = ? AND phone = ?`, role, childID, phone)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListChildMembers(childID string) ([]models.ChildMember, error) {
	rows, err := s.db.Query(`SELECT child_id, phone, role, created_at FROM child_members WHERE child_id = ? ORDER BY created_at`, childID)
	if err != nil {
		return nil, fmt.Errorf("failed to query child members: %w", err)
	}
	defer rows.Close()

	var members []models.ChildMember
	for rows.Next() {
		var m models.ChildMember
		if err := rows.Scan(&m.ChildID, &m.Phone, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan child member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *SQLiteStore) MembershipForPhone(tenantID, phone string) (*models.ChildMember, error) {
	var m models.ChildMember
	err := s.db.QueryRow(`SELECT cm.child_id, cm.phone, cm.role, cm.created_at
		FROM child_members cm JOIN children c ON c.id = cm.child_id
		WHERE c.tenant_id = ? AND cm.phone = ?
		ORDER BY cm.created_at LIMIT 1`, tenantID, phone).
		Scan(&m.ChildID, &m.Phone, &m.Role, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up membership for %s: %w", phone, err)
	}
	return &m, nil
}

func (s *SQLiteStore) InsertSession(sess models.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, tenant_id, scope_id, user_phone, child_id, date, month,
		status, reason, mood, sessions_done, logged_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.TenantID, sess.ScopeID, sess.UserPhone, nilIfEmpty(sess.ChildID), sess.Date, sess.Month,
		sess.Status, nilIfEmpty(sess.Reason), nilIfEmpty(sess.Mood), sess.SessionsDone, nilIfEmpty(sess.LoggedBy), sess.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertSession failed", "error", err, "date", sess.Date, "status", sess.Status)
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// InsertSessionMinimal inserts a session row with only the core attribute
// subset. Used as the fallback path when the full insert fails.
func (s *SQLiteStore) InsertSessionMinimal(sess models.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, tenant_id, scope_id, user_phone, date, month, status, reason, sessions_done, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		sess.ID, sess.TenantID, sess.ScopeID, sess.UserPhone, sess.Date, sess.Month, sess.Status, nilIfEmpty(sess.Reason), sess.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertSessionMinimal failed", "error", err, "date", sess.Date)
		return fmt.Errorf("failed to insert minimal session: %w", err)
	}
	return nil
}

const sessionColumns = `id, tenant_id, scope_id, user_phone, child_id, date, month, status, reason, mood, sessions_done, logged_by, created_at`

func (s *SQLiteStore) SessionsOnDate(scope Scope, date string) ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = ? AND scope_id = ? AND date = ? ORDER BY created_at DESC`,
		scope.TenantID, scope.ScopeID, date)
	if err != nil {
		slog.Error("SQLiteStore SessionsOnDate query failed", "error", err, "date", date)
		return nil, fmt.Errorf("failed to query sessions on %s: %w", date, err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *SQLiteStore) SessionsInMonth(scope Scope, month string) ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = ? AND scope_id = ? AND month = ? ORDER BY created_at DESC`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		slog.Error("SQLiteStore SessionsInMonth query failed", "error", err, "month", month)
		return nil, fmt.Errorf("failed to query sessions in %s: %w", month, err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *SQLiteStore) LatestSession(scope Scope) (*models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = ? AND scope_id = ? ORDER BY created_at DESC LIMIT 1`,
		scope.TenantID, scope.ScopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest session: %w", err)
	}
	defer rows.Close()
	sessions, err := collectSessions(rows)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	return &sessions[0], nil
}

func (s *SQLiteStore) UpdateSessionMood(id, mood string) error {
	_, err := s.db.Exec(`UPDATE sessions SET mood = ? WHERE id = ?`, mood, id)
	if err != nil {
		return fmt.Errorf("failed to update session mood: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSessionsOnDate(scope Scope, date string, status models.SessionStatus) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE tenant_id = ? AND scope_id = ? AND date = ? AND status = ?`,
		scope.TenantID, scope.ScopeID, date, status)
	if err != nil {
		return fmt.Errorf("failed to delete %s sessions on %s: %w", status, date, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSessionsInMonth(scope Scope, month string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE tenant_id = ? AND scope_id = ? AND month = ?`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		return fmt.Errorf("failed to delete sessions in %s: %w", month, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteSessionsForPhone(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE tenant_id = ? AND (user_phone = ? OR scope_id = ?)`,
		tenantID, phone, phone)
	if err != nil {
		return fmt.Errorf("failed to delete sessions for %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) UpsertMonthlyConfig(c models.MonthlyConfig) error {
	_, err := s.db.Exec(`INSERT INTO monthly_config (tenant_id, scope_id, month, paid_sessions, cost_per_session, carry_forward)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, scope_id, month) DO UPDATE SET
			paid_sessions = excluded.paid_sessions,
			cost_per_session = excluded.cost_per_session,
			carry_forward = excluded.carry_forward`,
		c.TenantID, c.ScopeID, c.Month, c.PaidSessions, c.CostPerSession, c.CarryForward)
	if err != nil {
		slog.Error("SQLiteStore UpsertMonthlyConfig failed", "error", err, "month", c.Month)
		return fmt.Errorf("failed to upsert monthly config: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetMonthlyConfig(scope Scope, month string) (*models.MonthlyConfig, error) {
	var c models.MonthlyConfig
	err := s.db.QueryRow(`SELECT tenant_id, scope_id, month, paid_sessions, cost_per_session, carry_forward
		FROM monthly_config WHERE tenant_id = ? AND scope_id = ? AND month = ?`,
		scope.TenantID, scope.ScopeID, month).
		Scan(&c.TenantID, &c.ScopeID, &c.Month, &c.PaidSessions, &c.CostPerSession, &c.CarryForward)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get monthly config for %s: %w", month, err)
	}
	return &c, nil
}

func (s *SQLiteStore) DeleteMonthlyConfig(scope Scope, month string) error {
	_, err := s.db.Exec(`DELETE FROM monthly_config WHERE tenant_id = ? AND scope_id = ? AND month = ?`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		return fmt.Errorf("failed to delete monthly config for %s: %w", month, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMonthlyConfigsForScope(scope Scope) error {
	_, err := s.db.Exec(`DELETE FROM monthly_config WHERE tenant_id = ? AND scope_id = ?`,
		scope.TenantID, scope.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to delete monthly configs: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertHoliday(h models.Holiday) error {
	_, err := s.db.Exec(`INSERT INTO holidays (tenant_id, scope_id, date, month) VALUES (?, ?, ?, ?)`,
		h.TenantID, h.ScopeID, h.Date, h.Month)
	if err != nil {
		return fmt.Errorf("failed to insert holiday: %w", err)
	}
	return nil
}

func (s *SQLiteStore) HolidaysInMonth(scope Scope, month string) ([]models.Holiday, error) {
	rows, err := s.db.Query(`SELECT tenant_id, scope_id, date, month FROM holidays
		WHERE tenant_id = ? AND scope_id = ? AND month = ?`, scope.TenantID, scope.ScopeID, month)
	if err != nil {
		return nil, fmt.Errorf("failed to query holidays: %w", err)
	}
	defer rows.Close()

	var holidays []models.Holiday
	for rows.Next() {
		var h models.Holiday
		if err := rows.Scan(&h.TenantID, &h.ScopeID, &h.Date, &h.Month); err != nil {
			return nil, fmt.Errorf("failed to scan holiday: %w", err)
		}
		holidays = append(holidays, h)
	}
	return holidays, rows.Err()
}

func (s *SQLiteStore) DeleteHolidaysInMonth(scope Scope, month string) error {
	_, err := s.db.Exec(`DELETE FROM holidays WHERE tenant_id = ? AND scope_id = ? AND month = ?`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		return fmt.Errorf("failed to delete holidays in %s: %w", month, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteHolidaysForScope(scope Scope) error {
	_, err := s.db.Exec(`DELETE FROM holidays WHERE tenant_id = ? AND scope_id = ?`,
		scope.TenantID, scope.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to delete holidays: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertConsentEvent(e models.ConsentEvent) error {
	_, err := s.db.Exec(`INSERT INTO consent_events (id, tenant_id, phone, event_type, created_at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.Phone, e.EventType, e.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore InsertConsentEvent failed", "error", err, "phone", e.Phone, "eventType", e.EventType)
		return fmt.Errorf("failed to insert consent event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LatestConsentEvent(tenantID, phone string) (*models.ConsentEvent, error) {
	var e models.ConsentEvent
	err := s.db.QueryRow(`SELECT id, tenant_id, phone, event_type, created_at FROM consent_events
		WHERE tenant_id = ? AND phone = ? ORDER BY created_at DESC LIMIT 1`, tenantID, phone).
		Scan(&e.ID, &e.TenantID, &e.Phone, &e.EventType, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest consent event for %s: %w", phone, err)
	}
	return &e, nil
}

func (s *SQLiteStore) DeleteConsentEventsForPhone(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM consent_events WHERE tenant_id = ? AND phone = ?`, tenantID, phone)
	if err != nil {
		return fmt.Errorf("failed to delete consent events for %s: %w", phone, err)
	}
	return nil
}

func (s *SQLiteStore) InsertFeedbackNote(n models.FeedbackNote) error {
	_, err := s.db.Exec(`INSERT INTO feedback_notes (id, tenant_id, phone, note, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.TenantID, n.Phone, n.Note, nilIfEmpty(n.Summary), n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feedback note: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteFeedbackNotesForPhone(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM feedback_notes WHERE tenant_id = ? AND phone = ?`, tenantID, phone)
	if err != nil {
		return fmt.Errorf("failed to delete feedback notes for %s: %w", phone, err)
	}
	return nil
}

// RecordInbound inserts a new inbound message record. Returns false if the
// message id was already recorded (duplicate delivery).
func (s *SQLiteStore) RecordInbound(messageID, phone string) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO inbound_dedup (message_id, phone, received_at) VALUES (?, ?, ?)`,
		messageID, phone, time.Now())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed sets the processed_at timestamp for a message.
func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`, time.Now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)

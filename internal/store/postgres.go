package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/CareLedger/internal/models"
	_ "github.com/lib/pq"
)

// Connection pool tuning for the Postgres backend.
const (
	DefaultMaxOpenConns    = 25
	DefaultMaxIdleConns    = 25
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is the PostgreSQL-backed Store implementation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("PostgresStore failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore migrations applied")

	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("PostgresStore closing database connection")
	return s.db.Close()
}

func (s *PostgresStore) GetUser(tenantID, phone string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT tenant_id, phone, waiting_for, timezone, reminders_enabled, reminder_time_hour,
		is_pro, pro_expires_at, last_reminder_sent, created_at, updated_at
		FROM users WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	u, err := scanUserRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetUser failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get user %s: %w", phone, err)
	}
	return u, nil
}

func (s *PostgresStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`INSERT INTO users (tenant_id, phone, waiting_for, timezone, reminders_enabled,
		reminder_time_hour, is_pro, pro_expires_at, last_reminder_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (tenant_id, phone) DO UPDATE SET
			waiting_for = EXCLUDED.waiting_for,
			timezone = EXCLUDED.timezone,
			reminders_enabled = EXCLUDED.reminders_enabled,
			reminder_time_hour = EXCLUDED.reminder_time_hour,
			is_pro = EXCLUDED.is_pro,
			pro_expires_at = EXCLUDED.pro_expires_at,
			last_reminder_sent = EXCLUDED.last_reminder_sent,
			updated_at = EXCLUDED.updated_at`,
		u.TenantID, u.Phone, u.WaitingFor, u.Timezone, u.RemindersEnabled,
		u.ReminderTimeHour, u.IsPro, u.ProExpiresAt, u.LastReminderSent, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "phone", u.Phone)
		return fmt.Errorf("failed to save user %s: %w", u.Phone, err)
	}
	return nil
}

func (s *PostgresStore) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT tenant_id, phone, waiting_for, timezone, reminders_enabled, reminder_time_hour,
		is_pro, pro_expires_at, last_reminder_sent, created_at, updated_at FROM users ORDER BY phone`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
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

func (s *PostgresStore) DeleteUser(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM users WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	if err != nil {
		slog.Error("PostgresStore DeleteUser failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to delete user %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) CreateChild(c models.Child) error {
	_, err := s.db.Exec(`INSERT INTO children (id, tenant_id, name, created_by, created_at) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.TenantID, c.Name, c.CreatedBy, c.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateChild failed", "error", err, "childID", c.ID)
		return fmt.Errorf("failed to create child: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetChild(id string) (*models.Child, error) {
	var c models.Child
	err := s.db.QueryRow(`SELECT id, tenant_id, name, created_by, created_at FROM children WHERE id = $1`, id).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.CreatedBy, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) AddChildMember(m models.ChildMember) error {
	_, err := s.db.Exec(`INSERT INTO child_members (child_id, phone, role, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (child_id, phone) DO UPDATE SET role = EXCLUDED.role`,
		m.ChildID, m.Phone, m.Role, m.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddChildMember failed", "error", err, "childID", m.ChildID, "phone", m.Phone)
		return fmt.Errorf("failed to add child member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveChildMember(childID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM child_members WHERE child_id = $1 AND phone = $2`, childID, phone)
	if err != nil {
		return fmt.Errorf("failed to remove child member: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateChildMemberRole(childID, phone string, role models.MemberRole) error {
	_, err := s.db.Exec(`UPDATE child_members SET role = $1 WHERE child_id = $2 AND phone = $3`, role, childID, phone)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListChildMembers(childID string) ([]models.ChildMember, error) {
	rows, err := s.db.Query(`SELECT child_id, phone, role, created_at FROM child_members WHERE child_id = $1 ORDER BY created_at`, childID)
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

func (s *PostgresStore) MembershipForPhone(tenantID, phone string) (*models.ChildMember, error) {
	var m models.ChildMember
	err := s.db.QueryRow(`SELECT cm.child_id, cm.phone, cm.role, cm.created_at
		FROM child_members cm JOIN children c ON c.id = cm.child_id
		WHERE c.tenant_id = $1 AND cm.phone = $2
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

func (s *PostgresStore) InsertSession(sess models.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, tenant_id, scope_id, user_phone, child_id, date, month,
		status, reason, mood, sessions_done, logged_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sess.ID, sess.TenantID, sess.ScopeID, sess.UserPhone, nilIfEmpty(sess.ChildID), sess.Date, sess.Month,
		sess.Status, nilIfEmpty(sess.Reason), nilIfEmpty(sess.Mood), sess.SessionsDone, nilIfEmpty(sess.LoggedBy), sess.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertSession failed", "error", err, "date", sess.Date, "status", sess.Status)
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSessionMinimal(sess models.Session) error {
	_, err := s.db.Exec(`INSERT INTO sessions (id, tenant_id, scope_id, user_phone, date, month, status, reason, sessions_done, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)`,
		sess.ID, sess.TenantID, sess.ScopeID, sess.UserPhone, sess.Date, sess.Month, sess.Status, nilIfEmpty(sess.Reason), sess.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertSessionMinimal failed", "error", err, "date", sess.Date)
		return fmt.Errorf("failed to insert minimal session: %w", err)
	}
	return nil
}

func (s *PostgresStore) SessionsOnDate(scope Scope, date string) ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND scope_id = $2 AND date = $3 ORDER BY created_at DESC`,
		scope.TenantID, scope.ScopeID, date)
	if err != nil {
		slog.Error("PostgresStore SessionsOnDate query failed", "error", err, "date", date)
		return nil, fmt.Errorf("failed to query sessions on %s: %w", date, err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *PostgresStore) SessionsInMonth(scope Scope, month string) ([]models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND scope_id = $2 AND month = $3 ORDER BY created_at DESC`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		slog.Error("PostgresStore SessionsInMonth query failed", "error", err, "month", month)
		return nil, fmt.Errorf("failed to query sessions in %s: %w", month, err)
	}
	defer rows.Close()
	return collectSessions(rows)
}

func (s *PostgresStore) LatestSession(scope Scope) (*models.Session, error) {
	rows, err := s.db.Query(`SELECT `+sessionColumns+` FROM sessions
		WHERE tenant_id = $1 AND scope_id = $2 ORDER BY created_at DESC LIMIT 1`,
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

func (s *PostgresStore) UpdateSessionMood(id, mood string) error {
	_, err := s.db.Exec(`UPDATE sessions SET mood = $1 WHERE id = $2`, mood, id)
	if err != nil {
		return fmt.Errorf("failed to update session mood: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) DeleteSessionsOnDate(scope Scope, date string, status models.SessionStatus) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE tenant_id = $1 AND scope_id = $2 AND date = $3 AND status = $4`,
		scope.TenantID, scope.ScopeID, date, status)
	if err != nil {
		return fmt.Errorf("failed to delete %s sessions on %s: %w", status, date, err)
	}
	return nil
}

func (s *PostgresStore) DeleteSessionsInMonth(scope Scope, month string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE tenant_id = $1 AND scope_id = $2 AND month = $3`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		return fmt.Errorf("failed to delete sessions in %s: %w", month, err)
	}
	return nil
}

func (s *PostgresStore) DeleteSessionsForPhone(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE tenant_id = $1 AND (user_phone = $2 OR scope_id = $2)`,
		tenantID, phone)
	if err != nil {
		return fmt.Errorf("failed to delete sessions for %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) UpsertMonthlyConfig(c models.MonthlyConfig) error {
	_, err := s.db.Exec(`INSERT INTO monthly_config (tenant_id, scope_id, month, paid_sessions, cost_per_session, carry_forward)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, scope_id, month) DO UPDATE SET
			paid_sessions = EXCLUDED.paid_sessions,
			cost_per_session = EXCLUDED.cost_per_session,
			carry_forward = EXCLUDED.carry_forward`,
		c.TenantID, c.ScopeID, c.Month, c.PaidSessions, c.CostPerSession, c.CarryForward)
	if err != nil {
		slog.Error("PostgresStore UpsertMonthlyConfig failed", "error", err, "month", c.Month)
		return fmt.Errorf("failed to upsert monthly config: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetMonthlyConfig(scope Scope, month string) (*models.MonthlyConfig, error) {
	var c models.MonthlyConfig
	err := s.db.QueryRow(`SELECT tenant_id, scope_id, month, paid_sessions, cost_per_session, carry_forward
		FROM monthly_config WHERE tenant_id = $1 AND scope_id = $2 AND month = $3`,
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

func (s *PostgresStore) DeleteMonthlyConfig(scope Scope, month string) error {
	_, err := s.db.Exec(`DELETE FROM monthly_config WHERE tenant_id = $1 AND scope_id = $2 AND month = $3`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		return fmt.Errorf("failed to delete monthly config for %s: %w", month, err)
	}
	return nil
}

func (s *PostgresStore) DeleteMonthlyConfigsForScope(scope Scope) error {
	_, err := s.db.Exec(`DELETE FROM monthly_config WHERE tenant_id = $1 AND scope_id = $2`,
		scope.TenantID, scope.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to delete monthly configs: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertHoliday(h models.Holiday) error {
	_, err := s.db.Exec(`INSERT INTO holidays (tenant_id, scope_id, date, month) VALUES ($1, $2, $3, $4)`,
		h.TenantID, h.ScopeID, h.Date, h.Month)
	if err != nil {
		return fmt.Errorf("failed to insert holiday: %w", err)
	}
	return nil
}

func (s *PostgresStore) HolidaysInMonth(scope Scope, month string) ([]models.Holiday, error) {
	rows, err := s.db.Query(`SELECT tenant_id, scope_id, date, month FROM holidays
		WHERE tenant_id = $1 AND scope_id = $2 AND month = $3`, scope.TenantID, scope.ScopeID, month)
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

func (s *PostgresStore) DeleteHolidaysInMonth(scope Scope, month string) error {
	_, err := s.db.Exec(`DELETE FROM holidays WHERE tenant_id = $1 AND scope_id = $2 AND month = $3`,
		scope.TenantID, scope.ScopeID, month)
	if err != nil {
		return fmt.Errorf("failed to delete holidays in %s: %w", month, err)
	}
	return nil
}

func (s *PostgresStore) DeleteHolidaysForScope(scope Scope) error {
	_, err := s.db.Exec(`DELETE FROM holidays WHERE tenant_id = $1 AND scope_id = $2`,
		scope.TenantID, scope.ScopeID)
	if err != nil {
		return fmt.Errorf("failed to delete holidays: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertConsentEvent(e models.ConsentEvent) error {
	_, err := s.db.Exec(`INSERT INTO consent_events (id, tenant_id, phone, event_type, created_at) VALUES ($1, $2, $3, $4, $5)`,
		e.ID, e.TenantID, e.Phone, e.EventType, e.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore InsertConsentEvent failed", "error", err, "phone", e.Phone, "eventType", e.EventType)
		return fmt.Errorf("failed to insert consent event: %w", err)
	}
	return nil
}

func (s *PostgresStore) LatestConsentEvent(tenantID, phone string) (*models.ConsentEvent, error) {
	var e models.ConsentEvent
	err := s.db.QueryRow(`SELECT id, tenant_id, phone, event_type, created_at FROM consent_events
		WHERE tenant_id = $1 AND phone = $2 ORDER BY created_at DESC LIMIT 1`, tenantID, phone).
		Scan(&e.ID, &e.TenantID, &e.Phone, &e.EventType, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest consent event for %s: %w", phone, err)
	}
	return &e, nil
}

func (s *PostgresStore) DeleteConsentEventsForPhone(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM consent_events WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	if err != nil {
		return fmt.Errorf("failed to delete consent events for %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) InsertFeedbackNote(n models.FeedbackNote) error {
	_, err := s.db.Exec(`INSERT INTO feedback_notes (id, tenant_id, phone, note, summary, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.TenantID, n.Phone, n.Note, nilIfEmpty(n.Summary), n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert feedback note: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteFeedbackNotesForPhone(tenantID, phone string) error {
	_, err := s.db.Exec(`DELETE FROM feedback_notes WHERE tenant_id = $1 AND phone = $2`, tenantID, phone)
	if err != nil {
		return fmt.Errorf("failed to delete feedback notes for %s: %w", phone, err)
	}
	return nil
}

func (s *PostgresStore) RecordInbound(messageID, phone string) (bool, error) {
	res, err := s.db.Exec(`INSERT INTO inbound_dedup (message_id, phone, received_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING`, messageID, phone, time.Now())
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return n > 0, nil
}

func (s *PostgresStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`, time.Now(), messageID)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

// Package store provides storage backends for CareLedger.
//
// It exposes per-entity CRUD over users, children, sessions, monthly
// configuration, holidays, consent events and feedback notes, with SQLite,
// PostgreSQL and in-memory implementations. Every read and write is
// qualified by an optional tenant id; the empty tenant is stored as the
// empty string so scoping is always a plain equality filter.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// Scope qualifies ledger rows by tenant and owning identity. ScopeID is the
// child id when the phone is linked to a child, otherwise the phone itself.
type Scope struct {
	TenantID string
	ScopeID  string
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped DSNs and "sqlite3"
// for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite3"
}

// Store is the persistence interface consumed by the dialogue engine and the
// session ledger.
type Store interface {
	// Users
	GetUser(tenantID, phone string) (*models.User, error)
	SaveUser(u models.User) error
	ListUsers() ([]models.User, error)
	DeleteUser(tenantID, phone string) error

	// Children and members
	CreateChild(c models.Child) error
	GetChild(id string) (*models.Child, error)
	AddChildMember(m models.ChildMember) error
	RemoveChildMember(childID, phone string) error
	UpdateChildMemberRole(childID, phone string, role models.MemberRole) error
	ListChildMembers(childID string) ([]models.ChildMember, error)
	MembershipForPhone(tenantID, phone string) (*models.ChildMember, error)

	// Sessions (append-only; corrections are delete-then-insert)
	InsertSession(s models.Session) error
	InsertSessionMinimal(s models.Session) error
	SessionsOnDate(scope Scope, date string) ([]models.Session, error)
	SessionsInMonth(scope Scope, month string) ([]models.Session, error)
	LatestSession(scope Scope) (*models.Session, error)
	UpdateSessionMood(id, mood string) error
	DeleteSession(id string) error
	DeleteSessionsOnDate(scope Scope, date string, status models.SessionStatus) error
	DeleteSessionsInMonth(scope Scope, month string) error
	DeleteSessionsForPhone(tenantID, phone string) error

	// Monthly configuration
	UpsertMonthlyConfig(c models.MonthlyConfig) error
	GetMonthlyConfig(scope Scope, month string) (*models.MonthlyConfig, error)
	DeleteMonthlyConfig(scope Scope, month string) error
	DeleteMonthlyConfigsForScope(scope Scope) error

	// Holidays
	InsertHoliday(h models.Holiday) error
	HolidaysInMonth(scope Scope, month string) ([]models.Holiday, error)
	DeleteHolidaysInMonth(scope Scope, month string) error
	DeleteHolidaysForScope(scope Scope) error

	// Consent
	InsertConsentEvent(e models.ConsentEvent) error
	LatestConsentEvent(tenantID, phone string) (*models.ConsentEvent, error)
	DeleteConsentEventsForPhone(tenantID, phone string) error

	// Feedback
	InsertFeedbackNote(n models.FeedbackNote) error
	DeleteFeedbackNotesForPhone(tenantID, phone string) error

	// Inbound dedup
	RecordInbound(messageID, phone string) (bool, error)
	MarkProcessed(messageID string) error

	Close() error
}

// InMemoryStore is a mutex-guarded Store used in tests and for DSN-less runs.
type InMemoryStore struct {
	mu       sync.RWMutex
	users    map[string]models.User // key tenant|phone
	children map[string]models.Child
	members  []models.ChildMember
	sessions []models.Session
	configs  map[string]models.MonthlyConfig // key tenant|scope|month
	holidays []models.Holiday
	consent  []models.ConsentEvent
	feedback []models.FeedbackNote
	inbound  map[string]time.Time
	seq      int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:    make(map[string]models.User),
		children: make(map[string]models.Child),
		configs:  make(map[string]models.MonthlyConfig),
		inbound:  make(map[string]time.Time),
	}
}

func userKey(tenantID, phone string) string {
	return tenantID + "|" + phone
}

func configKey(tenantID, scopeID, month string) string {
	return tenantID + "|" + scopeID + "|" + month
}

func (m *InMemoryStore) GetUser(tenantID, phone string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userKey(tenantID, phone)]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *InMemoryStore) SaveUser(u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userKey(u.TenantID, u.Phone)] = u
	return nil
}

func (m *InMemoryStore) ListUsers() ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	users := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Phone < users[j].Phone })
	return users, nil
}

func (m *InMemoryStore) DeleteUser(tenantID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userKey(tenantID, phone))
	return nil
}

func (m *InMemoryStore) CreateChild(c models.Child) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.children[c.ID] = c
	return nil
}

func (m *InMemoryStore) GetChild(id string) (*models.Child, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.children[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *InMemoryStore) AddChildMember(member models.ChildMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.members = append(m.members, member)
	return nil
}

func (m *InMemoryStore) RemoveChildMember(childID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.members[:0]
	for _, member := range m.members {
		if member.ChildID == childID && member.Phone == phone {
			continue
		}
		kept = append(kept, member)
	}
	m.members = kept
	return nil
}

func (m *InMemoryStore) UpdateChildMemberRole(childID, phone string, role models.MemberRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, member := range m.members {
		if member.ChildID == childID && member.Phone == phone {
			m.members[i].Role = role
		}
	}
	return nil
}

func (m *InMemoryStore) ListChildMembers(childID string) ([]models.ChildMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.ChildMember
	for _, member := range m.members {
		if member.ChildID == childID {
			out = append(out, member)
		}
	}
	return out, nil
}

func (m *InMemoryStore) MembershipForPhone(tenantID, phone string) (*models.ChildMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, member := range m.members {
		if member.Phone == phone {
			found := member
			return &found, nil
		}
	}
	return nil, nil
}

func (m *InMemoryStore) InsertSession(s models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	// Keep creation order distinguishable even within one clock tick.
	s.CreatedAt = s.CreatedAt.Add(time.Duration(m.seq) * time.Nanosecond)
	m.sessions = append(m.sessions, s)
	return nil
}

func (m *InMemoryStore) InsertSessionMinimal(s models.Session) error {
	s.ChildID = ""
	s.LoggedBy = ""
	return m.InsertSession(s)
}

func sessionMatches(s models.Session, scope Scope) bool {
	return s.TenantID == scope.TenantID && s.ScopeID == scope.ScopeID
}

func (m *InMemoryStore) SessionsOnDate(scope Scope, date string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if sessionMatches(s, scope) && s.Date == date {
			out = append(out, s)
		}
	}
	sortSessionsNewestFirst(out)
	return out, nil
}

func (m *InMemoryStore) SessionsInMonth(scope Scope, month string) ([]models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Session
	for _, s := range m.sessions {
		if sessionMatches(s, scope) && s.Month == month {
			out = append(out, s)
		}
	}
	sortSessionsNewestFirst(out)
	return out, nil
}

func (m *InMemoryStore) LatestSession(scope Scope) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.Session
	for i := range m.sessions {
		s := m.sessions[i]
		if !sessionMatches(s, scope) {
			continue
		}
		if latest == nil || s.CreatedAt.After(latest.CreatedAt) {
			latest = &s
		}
	}
	if latest == nil {
		return nil, nil
	}
	found := *latest
	return &found, nil
}

func (m *InMemoryStore) UpdateSessionMood(id, mood string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.sessions {
		if m.sessions[i].ID == id {
			m.sessions[i].Mood = mood
		}
	}
	return nil
}

func (m *InMemoryStore) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if s.ID == id {
			continue
		}
		kept = append(kept, s)
	}
	m.sessions = kept
	return nil
}

func (m *InMemoryStore) DeleteSessionsOnDate(scope Scope, date string, status models.SessionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if sessionMatches(s, scope) && s.Date == date && s.Status == status {
			continue
		}
		kept = append(kept, s)
	}
	m.sessions = kept
	return nil
}

func (m *InMemoryStore) DeleteSessionsInMonth(scope Scope, month string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if sessionMatches(s, scope) && s.Month == month {
			continue
		}
		kept = append(kept, s)
	}
	m.sessions = kept
	return nil
}

func (m *InMemoryStore) DeleteSessionsForPhone(tenantID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sessions[:0]
	for _, s := range m.sessions {
		if s.TenantID == tenantID && (s.UserPhone == phone || s.ScopeID == phone) {
			continue
		}
		kept = append(kept, s)
	}
	m.sessions = kept
	return nil
}

func (m *InMemoryStore) UpsertMonthlyConfig(c models.MonthlyConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[configKey(c.TenantID, c.ScopeID, c.Month)] = c
	return nil
}

func (m *InMemoryStore) GetMonthlyConfig(scope Scope, month string) (*models.MonthlyConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[configKey(scope.TenantID, scope.ScopeID, month)]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *InMemoryStore) DeleteMonthlyConfig(scope Scope, month string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.configs, configKey(scope.TenantID, scope.ScopeID, month))
	return nil
}

func (m *InMemoryStore) DeleteMonthlyConfigsForScope(scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.configs {
		if strings.HasPrefix(key, scope.TenantID+"|"+scope.ScopeID+"|") {
			delete(m.configs, key)
		}
	}
	return nil
}

func (m *InMemoryStore) InsertHoliday(h models.Holiday) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holidays = append(m.holidays, h)
	return nil
}

func (m *InMemoryStore) HolidaysInMonth(scope Scope, month string) ([]models.Holiday, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Holiday
	for _, h := range m.holidays {
		if h.TenantID == scope.TenantID && h.ScopeID == scope.ScopeID && h.Month == month {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *InMemoryStore) DeleteHolidaysInMonth(scope Scope, month string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.holidays[:0]
	for _, h := range m.holidays {
		if h.TenantID == scope.TenantID && h.ScopeID == scope.ScopeID && h.Month == month {
			continue
		}
		kept = append(kept, h)
	}
	m.holidays = kept
	return nil
}

func (m *InMemoryStore) DeleteHolidaysForScope(scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.holidays[:0]
	for _, h := range m.holidays {
		if h.TenantID == scope.TenantID && h.ScopeID == scope.ScopeID {
			continue
		}
		kept = append(kept, h)
	}
	m.holidays = kept
	return nil
}

func (m *InMemoryStore) InsertConsentEvent(e models.ConsentEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	m.seq++
	e.CreatedAt = e.CreatedAt.Add(time.Duration(m.seq) * time.Nanosecond)
	m.consent = append(m.consent, e)
	return nil
}

func (m *InMemoryStore) LatestConsentEvent(tenantID, phone string) (*models.ConsentEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *models.ConsentEvent
	for i := range m.consent {
		e := m.consent[i]
		if e.TenantID != tenantID || e.Phone != phone {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = &e
		}
	}
	if latest == nil {
		return nil, nil
	}
	found := *latest
	return &found, nil
}

func (m *InMemoryStore) DeleteConsentEventsForPhone(tenantID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.consent[:0]
	for _, e := range m.consent {
		if e.TenantID == tenantID && e.Phone == phone {
			continue
		}
		kept = append(kept, e)
	}
	m.consent = kept
	return nil
}

func (m *InMemoryStore) InsertFeedbackNote(n models.FeedbackNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedback = append(m.feedback, n)
	return nil
}

func (m *InMemoryStore) DeleteFeedbackNotesForPhone(tenantID, phone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.feedback[:0]
	for _, n := range m.feedback {
		if n.TenantID == tenantID && n.Phone == phone {
			continue
		}
		kept = append(kept, n)
	}
	m.feedback = kept
	return nil
}

func (m *InMemoryStore) RecordInbound(messageID, phone string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.inbound[messageID]; seen {
		return false, nil
	}
	m.inbound[messageID] = time.Now()
	return true, nil
}

func (m *InMemoryStore) MarkProcessed(messageID string) error {
	return nil
}

func (m *InMemoryStore) Close() error {
	return nil
}

// FeedbackNotes returns all stored feedback notes (for tests).
func (m *InMemoryStore) FeedbackNotes() []models.FeedbackNote {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.FeedbackNote, len(m.feedback))
	copy(out, m.feedback)
	return out
}

func sortSessionsNewestFirst(sessions []models.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
}

var _ Store = (*InMemoryStore)(nil)

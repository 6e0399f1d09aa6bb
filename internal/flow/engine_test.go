package flow

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CareLedger/internal/ledger"
	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/store"
)

// testNow anchors the clock mid-month on a weekday-adjacent Sunday.
var testNow = time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)

const testPhone = "+15551230001"

// mockMessenger records outbound traffic and mimics the numbered-option
// resolution of the real services.
type mockMessenger struct {
	texts        []string
	interactives []models.Interactive
	docs         []string
	pending      map[string][]models.InteractiveOption
	responses    chan models.IncomingMessage
}

func newMockMessenger() *mockMessenger {
	return &mockMessenger{
		pending:   map[string][]models.InteractiveOption{},
		responses: make(chan models.IncomingMessage, 10),
	}
}

func (m *mockMessenger) ValidateAndCanonicalizeRecipient(r string) (string, error) {
	digits := strings.Map(func(c rune) rune {
		if c >= '0' && c <= '9' {
			return c
		}
		return -1
	}, r)
	if len(digits) < 6 {
		return "", errors.New("invalid recipient")
	}
	return "+" + digits, nil
}

func (m *mockMessenger) SendMessage(_ context.Context, _, body string) error {
	m.texts = append(m.texts, body)
	return nil
}

func (m *mockMessenger) SendInteractive(_ context.Context, to string, in models.Interactive) error {
	m.interactives = append(m.interactives, in)
	m.pending[to] = in.Options
	return nil
}

func (m *mockMessenger) SendDocument(_ context.Context, _, filename, _ string, _ []byte) error {
	m.docs = append(m.docs, filename)
	return nil
}

func (m *mockMessenger) ResolveOption(from, reply string) (string, bool) {
	opts, ok := m.pending[from]
	if !ok {
		return "", false
	}
	reply = strings.TrimSpace(reply)
	if n, err := strconv.Atoi(reply); err == nil && n >= 1 && n <= len(opts) {
		delete(m.pending, from)
		return opts[n-1].ID, true
	}
	for _, o := range opts {
		if o.ID == reply || strings.EqualFold(o.Label, reply) {
			delete(m.pending, from)
			return o.ID, true
		}
	}
	return "", false
}

func (m *mockMessenger) Start(context.Context) error { return nil }
func (m *mockMessenger) Stop() error                 { return nil }

func (m *mockMessenger) Responses() <-chan models.IncomingMessage { return m.responses }

func (m *mockMessenger) lastText(t *testing.T) string {
	t.Helper()
	if len(m.texts) == 0 {
		t.Fatal("no text sent")
	}
	return m.texts[len(m.texts)-1]
}

func (m *mockMessenger) lastInteractive(t *testing.T) models.Interactive {
	t.Helper()
	if len(m.interactives) == 0 {
		t.Fatal("no interactive sent")
	}
	return m.interactives[len(m.interactives)-1]
}

func newTestEngine(t *testing.T) (*Engine, *store.InMemoryStore, *mockMessenger) {
	t.Helper()
	st := store.NewInMemoryStore()
	led := ledger.New(st, ledger.WithClock(func() time.Time { return testNow }))
	msg := newMockMessenger()
	return NewEngine(st, led, msg), st, msg
}

func send(t *testing.T, e *Engine, body string) {
	t.Helper()
	err := e.HandleMessage(context.Background(), models.IncomingMessage{
		MessageID: "m-" + body,
		From:      testPhone,
		Body:      body,
	})
	if err != nil {
		t.Fatalf("HandleMessage(%q): %v", body, err)
	}
}

func userState(t *testing.T, st *store.InMemoryStore) models.WaitingState {
	t.Helper()
	u, err := st.GetUser("", testPhone)
	if err != nil || u == nil {
		t.Fatalf("GetUser: %v (user %v)", err, u)
	}
	return models.ParseWaitingState(u.WaitingFor)
}

func setupPlan(t *testing.T, e *Engine, st *store.InMemoryStore) {
	t.Helper()
	send(t, e, "setup")
	if got := userState(t, st).Kind; got != models.WaitingSetupConfig {
		t.Fatalf("state after setup = %q", got)
	}
	send(t, e, "16 800 0")
	if got := userState(t, st).Kind; got != models.WaitingIdle {
		t.Fatalf("state after plan = %q", got)
	}
}

func sessionsOn(t *testing.T, st *store.InMemoryStore, date string) []models.Session {
	t.Helper()
	rows, err := st.SessionsOnDate(store.Scope{ScopeID: testPhone}, date)
	if err != nil {
		t.Fatalf("SessionsOnDate: %v", err)
	}
	return rows
}

func TestAttendedWithoutPlanRefused(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "attended")

	if got := msg.lastText(t); got != msgSetupRequired {
		t.Fatalf("reply = %q, want setup-required", got)
	}
	if rows := sessionsOn(t, st, "2026-02-15"); len(rows) != 0 {
		t.Fatalf("inserted %d rows, want 0", len(rows))
	}
}

func TestSetupThenAttendedHappyPath(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	if !strings.Contains(msg.lastText(t), "12800") {
		t.Fatalf("setup reply %q missing total due", msg.lastText(t))
	}

	send(t, e, "attended")
	if got := userState(t, st).Kind; got != models.WaitingConfirm {
		t.Fatalf("state = %q, want confirmation", got)
	}

	send(t, e, "yes")
	rows := sessionsOn(t, st, "2026-02-15")
	if len(rows) != 1 || rows[0].Status != models.SessionAttended {
		t.Fatalf("rows = %+v, want one attended", rows)
	}
	if got := userState(t, st).Kind; got != models.WaitingMood {
		t.Fatalf("state = %q, want mood", got)
	}

	send(t, e, "mood:good")
	rows = sessionsOn(t, st, "2026-02-15")
	if rows[0].Mood != models.MoodGood {
		t.Fatalf("mood = %q, want good", rows[0].Mood)
	}
	if got := userState(t, st).Kind; got != models.WaitingIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestAttendedCountFromMessage(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended 3")
	send(t, e, "yes")

	if rows := sessionsOn(t, st, "2026-02-15"); len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
}

func TestConfirmNoLogsNothing(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended")
	send(t, e, "no")

	if got := msg.lastText(t); got != msgNotLogged {
		t.Fatalf("reply = %q", got)
	}
	if rows := sessionsOn(t, st, "2026-02-15"); len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestConfirmReroutesToMissed(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended")
	send(t, e, "actually she missed it")

	if got := userState(t, st).Kind; got != models.WaitingMissedReason {
		t.Fatalf("state = %q, want missed reason", got)
	}
	if got := msg.lastText(t); got != msgMissedReasonPrompt {
		t.Fatalf("reply = %q", got)
	}
}

func TestDuplicateAttendedPrompts(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended")
	send(t, e, "yes")
	send(t, e, "cancel") // leave the mood question

	send(t, e, "attended")
	send(t, e, "yes")
	if got := userState(t, st).Kind; got != models.WaitingDupAttend {
		t.Fatalf("state = %q, want duplicate prompt", got)
	}

	send(t, e, "yes")
	if rows := sessionsOn(t, st, "2026-02-15"); len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}

func TestDuplicateAttendedDeclined(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended")
	send(t, e, "yes")
	send(t, e, "cancel")

	send(t, e, "attended")
	send(t, e, "yes")
	send(t, e, "no")

	if rows := sessionsOn(t, st, "2026-02-15"); len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	if got := userState(t, st).Kind; got != models.WaitingIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestMissedReplacesAttended(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended")
	send(t, e, "yes")
	send(t, e, "cancel")

	send(t, e, "missed_date:2026-02-15")
	if got := userState(t, st); got.Kind != models.WaitingMissedReason || got.Date != "2026-02-15" {
		t.Fatalf("state = %+v, want missed reason for date", got)
	}

	send(t, e, "sick")
	ws := userState(t, st)
	if ws.Kind != models.WaitingReplaceWithMissed || ws.Reason != "sick" {
		t.Fatalf("state = %+v, want replace-with-missed carrying reason", ws)
	}

	send(t, e, "yes")
	rows := sessionsOn(t, st, "2026-02-15")
	if len(rows) != 1 || rows[0].Status != models.SessionCancelled || rows[0].Reason != "sick" {
		t.Fatalf("rows = %+v, want one cancelled with reason sick", rows)
	}
}

func TestMissedKeptAsAttendedOnNo(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended")
	send(t, e, "yes")
	send(t, e, "cancel")

	send(t, e, "missed_date:2026-02-15")
	send(t, e, "sick")
	send(t, e, "no")

	if got := msg.lastText(t); got != msgKeptAsAttended {
		t.Fatalf("reply = %q", got)
	}
	rows := sessionsOn(t, st, "2026-02-15")
	if len(rows) != 1 || rows[0].Status != models.SessionAttended {
		t.Fatalf("rows = %+v, want untouched attended", rows)
	}
}

func TestMissedCleanDateInsertsDirectly(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "missed")
	send(t, e, "therapist was away")

	rows := sessionsOn(t, st, "2026-02-15")
	if len(rows) != 1 || rows[0].Status != models.SessionCancelled || rows[0].Reason != "therapist was away" {
		t.Fatalf("rows = %+v", rows)
	}
	if got := userState(t, st).Kind; got != models.WaitingIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestGlobalCancelClearsState(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "missed")
	if got := userState(t, st).Kind; got != models.WaitingMissedReason {
		t.Fatalf("state = %q", got)
	}

	send(t, e, "cancel")
	if got := userState(t, st).Kind; got != models.WaitingIdle {
		t.Fatalf("state = %q, want idle", got)
	}
	if len(msg.lastInteractive(t).Options) == 0 {
		t.Fatal("expected menu options")
	}
}

func TestStrayCommandFallsThroughMidFlow(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "setup")
	send(t, e, "status")

	if !strings.Contains(msg.lastText(t), "attended") {
		t.Fatalf("reply = %q, want status text", msg.lastText(t))
	}
	if got := userState(t, st).Kind; got != models.WaitingSetupConfig {
		t.Fatalf("state = %q, pending state must survive", got)
	}
}

func TestSetupInvalidReprompts(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "setup")
	send(t, e, "16 800")

	if got := msg.lastText(t); got != msgSetupInvalid {
		t.Fatalf("reply = %q", got)
	}
	if got := userState(t, st).Kind; got != models.WaitingSetupConfig {
		t.Fatalf("state = %q, want same state", got)
	}
}

func TestSetupMidBackfills(t *testing.T) {
	e, st, _ := newTestEngine(t)

	send(t, e, "setup mid")
	send(t, e, "16 800 0 5")

	// Five attended rows spread across the elapsed days of the month.
	total := 0
	rows, err := st.SessionsInMonth(store.Scope{ScopeID: testPhone}, "2026-02")
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range rows {
		if r.Status == models.SessionAttended {
			total++
		}
		if r.Date >= "2026-02-15" {
			t.Fatalf("backfill wrote into today or later: %s", r.Date)
		}
	}
	if total != 5 {
		t.Fatalf("backfilled %d, want 5", total)
	}
}

func TestOptOutGate(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "stop")
	if got := msg.lastText(t); got != msgOptOutDone {
		t.Fatalf("reply = %q", got)
	}
	u, _ := st.GetUser("", testPhone)
	if u.RemindersEnabled {
		t.Fatal("reminders still enabled after opt-out")
	}

	send(t, e, "status")
	if got := msg.lastText(t); got != msgOptedOut {
		t.Fatalf("reply = %q, want opt-out notice", got)
	}
	if got := userState(t, st).Kind; got != models.WaitingIdle {
		t.Fatalf("state = %q, must not change", got)
	}

	send(t, e, "start")
	if got := msg.lastText(t); got != msgOptInDone {
		t.Fatalf("reply = %q", got)
	}
	send(t, e, "status")
	if msg.lastText(t) == msgOptedOut {
		t.Fatal("still gated after opt-in")
	}
}

func TestOptedOutCanStillDeleteData(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "stop")
	send(t, e, "delete my data")
	if got := userState(t, st).Kind; got != models.WaitingDeleteDataConfirm {
		t.Fatalf("state = %q, want delete confirmation", got)
	}

	send(t, e, "yes")
	if got := msg.lastText(t); got != msgDeleteDone {
		t.Fatalf("reply = %q", got)
	}
	u, err := st.GetUser("", testPhone)
	if err != nil || u != nil {
		t.Fatalf("user still present: %v %v", u, err)
	}
}

func TestResetConfirmWipesOnlyCurrentMonth(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "attended")
	send(t, e, "yes")
	send(t, e, "cancel")

	other := models.Session{
		ID: "other-month", ScopeID: testPhone, UserPhone: testPhone,
		Date: "2026-01-10", Month: "2026-01",
		Status: models.SessionAttended, CreatedAt: testNow,
	}
	if err := st.InsertSession(other); err != nil {
		t.Fatal(err)
	}

	send(t, e, "reset")
	send(t, e, "yes")

	if rows := sessionsOn(t, st, "2026-02-15"); len(rows) != 0 {
		t.Fatalf("current month rows = %d, want 0", len(rows))
	}
	if rows := sessionsOn(t, st, "2026-01-10"); len(rows) != 1 {
		t.Fatalf("other month rows = %d, want 1", len(rows))
	}
	cfg, err := st.GetMonthlyConfig(store.Scope{ScopeID: testPhone}, "2026-02")
	if err != nil || cfg != nil {
		t.Fatalf("config survived reset: %v %v", cfg, err)
	}
}

func TestUndoLast(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "undo")
	if got := msg.lastText(t); got != msgUndoNothing {
		t.Fatalf("reply = %q", got)
	}

	send(t, e, "attended")
	send(t, e, "yes")
	send(t, e, "cancel")

	send(t, e, "undo")
	if rows := sessionsOn(t, st, "2026-02-15"); len(rows) != 0 {
		t.Fatalf("rows = %d after undo, want 0", len(rows))
	}
}

func TestHolidayRange(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "holiday")
	send(t, e, "2026-02-09..2026-02-11")

	if got := msg.lastText(t); got != "Marked 3 holidays." {
		t.Fatalf("reply = %q", got)
	}
	hols, err := st.HolidaysInMonth(store.Scope{ScopeID: testPhone}, "2026-02")
	if err != nil || len(hols) != 3 {
		t.Fatalf("holidays = %d (%v), want 3", len(hols), err)
	}

	send(t, e, "holiday")
	send(t, e, "2026-02-11..2026-02-09")
	if got := msg.lastText(t); got != msgHolidayInvalid {
		t.Fatalf("reply = %q", got)
	}
	if got := userState(t, st).Kind; got != models.WaitingHolidayRange {
		t.Fatalf("state = %q, want re-prompt in place", got)
	}
}

func TestFeedbackStoredWithoutSummarizer(t *testing.T) {
	e, st, msg := newTestEngine(t)
	_ = st

	send(t, e, "feedback")
	send(t, e, "voice_note:the reminders are really helpful")

	if got := msg.lastText(t); got != msgFeedbackThanks {
		t.Fatalf("reply = %q", got)
	}
}

func TestNumberedReplyResolvesMenuOption(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "menu")
	send(t, e, "1") // "Log a session"

	if got := userState(t, st).Kind; got != models.WaitingConfirm {
		t.Fatalf("state = %q, want confirmation via menu option", got)
	}
}

func TestBackfillFlow(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "backfill")
	send(t, e, "backfill_date:2026-02-10")
	send(t, e, "backfill_missed:2026-02-10")
	if got := userState(t, st).Kind; got != models.WaitingBackfillMissedCount {
		t.Fatalf("state = %q", got)
	}

	send(t, e, "backfill_count:2")
	if got := userState(t, st).Kind; got != models.WaitingBackfillMissedReason {
		t.Fatalf("state = %q", got)
	}

	send(t, e, "backfill_reason:sick")
	rows := sessionsOn(t, st, "2026-02-10")
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	for _, r := range rows {
		if r.Status != models.SessionCancelled || r.Reason != "Sick" {
			t.Fatalf("row = %+v", r)
		}
	}
}

func TestBackfillOtherReasonTakesFreeText(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "backfill_missed:2026-02-10")
	send(t, e, "1")
	send(t, e, "backfill_reason:other")
	if got := userState(t, st).Kind; got != models.WaitingBackfillMissedNote {
		t.Fatalf("state = %q", got)
	}

	send(t, e, "grandparents visiting")
	rows := sessionsOn(t, st, "2026-02-10")
	if len(rows) != 1 || rows[0].Reason != "grandparents visiting" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestBackfillAttendedInsertsDirectly(t *testing.T) {
	e, st, _ := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "backfill_attended:2026-02-10")
	send(t, e, "backfill_count:1")

	rows := sessionsOn(t, st, "2026-02-10")
	if len(rows) != 1 || rows[0].Status != models.SessionAttended {
		t.Fatalf("rows = %+v", rows)
	}
	if got := userState(t, st).Kind; got != models.WaitingIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestRemindersToggle(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "reminders off")
	if got := msg.lastText(t); got != msgRemindersOff {
		t.Fatalf("reply = %q", got)
	}
	u, _ := st.GetUser("", testPhone)
	if u.RemindersEnabled {
		t.Fatal("reminders still on")
	}

	send(t, e, "reminders on")
	u, _ = st.GetUser("", testPhone)
	if !u.RemindersEnabled {
		t.Fatal("reminders still off")
	}
}

func TestSetReminderHour(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "remind at 19")
	if got := msg.lastText(t); got != reminderHourText(19) {
		t.Fatalf("reply = %q", got)
	}
	u, _ := st.GetUser("", testPhone)
	if u.ReminderTimeHour != 19 {
		t.Fatalf("ReminderTimeHour = %d, want 19", u.ReminderTimeHour)
	}
	if !u.RemindersEnabled {
		t.Fatal("setting an hour should enable reminders")
	}

	send(t, e, "remind at 25")
	if got := msg.lastText(t); got != msgReminderHourInvalid {
		t.Fatalf("reply = %q", got)
	}
	u, _ = st.GetUser("", testPhone)
	if u.ReminderTimeHour != 19 {
		t.Fatalf("invalid hour should not change setting, got %d", u.ReminderTimeHour)
	}
}

func TestUnknownMessageShowsMenu(t *testing.T) {
	e, _, msg := newTestEngine(t)

	send(t, e, "blorp")

	in := msg.lastInteractive(t)
	if len(in.Options) != 4 {
		t.Fatalf("menu options = %d, want 4", len(in.Options))
	}
}

func TestExportSendsDocument(t *testing.T) {
	e, st, msg := newTestEngine(t)
	setupPlan(t, e, st)

	send(t, e, "export my data")

	if len(msg.docs) != 1 || !strings.HasSuffix(msg.docs[0], ".json") {
		t.Fatalf("docs = %v, want one json export", msg.docs)
	}
}

func TestLinkCreatesSharedRecord(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "link +15551230002")
	if got := msg.lastText(t); !strings.Contains(got, "+15551230002") {
		t.Fatalf("reply = %q", got)
	}

	m, err := st.MembershipForPhone("", testPhone)
	if err != nil || m == nil {
		t.Fatalf("owner membership = %v (%v)", m, err)
	}
	if m.Role != models.RoleOwner {
		t.Errorf("creator role = %q, want owner", m.Role)
	}
	other, _ := st.MembershipForPhone("", "+15551230002")
	if other == nil || other.Role != models.RoleParent {
		t.Errorf("linked membership = %+v, want parent", other)
	}

	send(t, e, "members")
	if got := msg.lastText(t); !strings.Contains(got, "+15551230002") {
		t.Fatalf("members listing = %q", got)
	}
}

func TestUnlinkKeepsAnOwner(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "link +15551230002")

	// The owner removes themselves; the remaining caregiver is promoted.
	send(t, e, "unlink "+testPhone)
	if got := msg.lastText(t); !strings.Contains(got, "Removed") {
		t.Fatalf("reply = %q", got)
	}
	remaining, _ := st.MembershipForPhone("", "+15551230002")
	if remaining == nil || remaining.Role != models.RoleOwner {
		t.Fatalf("remaining membership = %+v, want promoted owner", remaining)
	}
	gone, _ := st.MembershipForPhone("", testPhone)
	if gone != nil {
		t.Errorf("removed member still linked: %+v", gone)
	}
}

func TestLinkRejectsBadArgument(t *testing.T) {
	e, st, msg := newTestEngine(t)

	send(t, e, "link banana")
	if got := msg.lastText(t); got != msgLinkUsage {
		t.Fatalf("reply = %q", got)
	}
	if m, _ := st.MembershipForPhone("", testPhone); m != nil {
		t.Errorf("no record should be created on a bad argument, got %+v", m)
	}

	send(t, e, "unlink +15559990000")
	if got := msg.lastText(t); got != msgNotAMember {
		t.Fatalf("reply = %q", got)
	}
}

// consentFailStore makes the consent lookup fail to exercise the gate's
// error path.
type consentFailStore struct {
	store.Store
}

func (s consentFailStore) LatestConsentEvent(tenantID, phone string) (*models.ConsentEvent, error) {
	return nil, errors.New("consent lookup unavailable")
}

func TestConsentLookupFailureAnswersGenerically(t *testing.T) {
	st := store.NewInMemoryStore()
	led := ledger.New(st, ledger.WithClock(func() time.Time { return testNow }))
	msg := newMockMessenger()
	e := NewEngine(consentFailStore{Store: st}, led, msg)

	err := e.HandleMessage(context.Background(), models.IncomingMessage{
		MessageID: "m-1",
		From:      testPhone,
		Body:      "status",
	})
	if err == nil {
		t.Fatal("expected the store error to propagate")
	}
	if got := msg.lastText(t); got != msgSomethingWentWrong {
		t.Fatalf("reply = %q, want generic failure text", got)
	}
}

func TestChildScopeSharedAcrossMembers(t *testing.T) {
	e, st, _ := newTestEngine(t)

	child := models.Child{ID: "child-1", Name: "Asha", CreatedBy: testPhone, CreatedAt: testNow}
	if err := st.CreateChild(child); err != nil {
		t.Fatal(err)
	}
	if err := st.AddChildMember(models.ChildMember{ChildID: "child-1", Phone: testPhone, Role: models.RoleOwner, CreatedAt: testNow}); err != nil {
		t.Fatal(err)
	}
	const other = "+15551230002"
	if err := st.AddChildMember(models.ChildMember{ChildID: "child-1", Phone: other, Role: models.RoleParent, CreatedAt: testNow}); err != nil {
		t.Fatal(err)
	}

	setupPlan(t, e, st)
	send(t, e, "attended")
	send(t, e, "yes")

	// The other caregiver sees the same ledger.
	rows, err := st.SessionsOnDate(store.Scope{ScopeID: "child-1"}, "2026-02-15")
	if err != nil || len(rows) != 1 {
		t.Fatalf("child-scoped rows = %d (%v), want 1", len(rows), err)
	}
}

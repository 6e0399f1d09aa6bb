// Package flow implements the conversational state machine: given a user's
// persisted waiting state and an inbound message, it decides the next state,
// the ledger side effects and the outbound prompt.
package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CareLedger/internal/ledger"
	"github.com/BTreeMap/CareLedger/internal/messaging"
	"github.com/BTreeMap/CareLedger/internal/models"
	"github.com/BTreeMap/CareLedger/internal/store"
)

// voiceNotePrefix marks an inbound payload carrying a voice-note transcript.
const voiceNotePrefix = "voice_note:"

// Summarizer condenses a feedback note to one line, best effort.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

// ReportRenderer produces a monthly report document.
type ReportRenderer interface {
	RenderMonthly(sum ledger.Summary, days []ledger.DayMark) (data []byte, filename string, mimeType string, err error)
}

// stateHandler processes one inbound message against a pending waiting
// state. It returns false when the message doesn't match the expected shape,
// letting control fall through to idle command routing.
type stateHandler func(ctx context.Context, rc *requestContext, ws models.WaitingState, in inbound) (bool, error)

// requestContext carries the per-message resolved identity: the user row,
// the canonical phone, and the scope its ledger rows live under.
type requestContext struct {
	user    *models.User
	phone   string
	tenant  string
	scope   store.Scope
	childID string
}

// inbound is a normalized incoming message: the raw trimmed text, its
// lowercase form for command matching, and whether it arrived as a
// voice-note transcript.
type inbound struct {
	raw     string
	lowered string
	voice   bool
}

// Engine is the conversation engine. One instance serves all users; all
// per-conversation state lives in the store.
type Engine struct {
	store    store.Store
	ledger   *ledger.Ledger
	msg      messaging.Service
	sum      Summarizer
	report   ReportRenderer
	handlers map[models.WaitingKind]stateHandler
}

// EngineOption configures optional engine collaborators.
type EngineOption func(*Engine)

// WithSummarizer enables best-effort feedback summarization.
func WithSummarizer(s Summarizer) EngineOption {
	return func(e *Engine) { e.sum = s }
}

// WithReportRenderer enables the report command.
func WithReportRenderer(r ReportRenderer) EngineOption {
	return func(e *Engine) { e.report = r }
}

// NewEngine creates the conversation engine.
func NewEngine(st store.Store, led *ledger.Ledger, msg messaging.Service, opts ...EngineOption) *Engine {
	e := &Engine{store: st, ledger: led, msg: msg}
	for _, opt := range opts {
		opt(e)
	}
	e.handlers = map[models.WaitingKind]stateHandler{
		models.WaitingConfirm:              e.handleConfirm,
		models.WaitingMissedReason:         e.handleMissedReason,
		models.WaitingDupAttend:            e.handleDupAttend,
		models.WaitingDupMissed:            e.handleDupMissed,
		models.WaitingReplaceWithMissed:    e.handleReplaceWithMissed,
		models.WaitingReplaceWithAttend:    e.handleReplaceWithAttend,
		models.WaitingAttendedCount:        e.handleAttendedCount,
		models.WaitingBackfillAttendedCount: e.handleBackfillAttendedCount,
		models.WaitingBackfillMissedCount:  e.handleBackfillMissedCount,
		models.WaitingBackfillMissedReason: e.handleBackfillMissedReason,
		models.WaitingBackfillMissedNote:   e.handleBackfillMissedNote,
		models.WaitingMood:                 e.handleMood,
		models.WaitingSetupConfig:          e.handleSetupConfig,
		models.WaitingSetupMidConfig:       e.handleSetupMidConfig,
		models.WaitingResetConfirm:         e.handleResetConfirm,
		models.WaitingDeleteDataConfirm:    e.handleDeleteDataConfirm,
		models.WaitingFeedbackNote:         e.handleFeedbackNote,
		models.WaitingHolidayRange:         e.handleHolidayRange,
	}
	return e
}

// HandleMessage processes one inbound message to completion. Any panic or
// handler error is answered with a generic failure text, leaving the
// conversation state untouched so the user can retry.
func (e *Engine) HandleMessage(ctx context.Context, msg models.IncomingMessage) error {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Engine.HandleMessage: recovered from panic", "panic", r, "from", msg.From)
			_ = e.msg.SendMessage(ctx, msg.From, msgSomethingWentWrong)
		}
	}()

	phone, err := e.msg.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		slog.Warn("Engine.HandleMessage: invalid sender", "error", err, "from", msg.From)
		return err
	}

	in := normalizeInbound(msg.Body)
	// A bare numbered reply to the last interactive prompt becomes its
	// stable option id before any routing sees it.
	if id, ok := e.msg.ResolveOption(phone, in.raw); ok {
		in = normalizeInbound(id)
	}

	rc, err := e.buildRequestContext(msg.TenantID, phone)
	if err != nil {
		_ = e.msg.SendMessage(ctx, phone, msgSomethingWentWrong)
		return err
	}

	if handled, err := e.consentGate(ctx, rc, in.lowered); handled || err != nil {
		if err != nil {
			slog.Error("Engine.HandleMessage: consent gate failed", "error", err, "from", rc.phone)
			_ = e.msg.SendMessage(ctx, rc.phone, msgSomethingWentWrong)
		}
		return err
	}

	// Global escape hatch, ahead of all state-specific parsing.
	switch in.lowered {
	case "cancel", "back", "menu":
		e.clearWaiting(rc)
		return e.msg.SendInteractive(ctx, rc.phone, menuInteractive())
	}

	ws := models.ParseWaitingState(rc.user.WaitingFor)
	if !ws.IsIdle() {
		if handler, ok := e.handlers[ws.Kind]; ok {
			handled, err := handler(ctx, rc, ws, in)
			if err != nil {
				slog.Error("Engine.HandleMessage: state handler failed", "error", err, "state", ws.Kind, "from", rc.phone)
				_ = e.msg.SendMessage(ctx, rc.phone, msgSomethingWentWrong)
				return err
			}
			if handled {
				return nil
			}
			// Fall through: a stray command mid-flow still works.
			slog.Debug("Engine.HandleMessage: pending state did not consume message", "state", ws.Kind, "from", rc.phone)
		}
	}

	return e.routeIdle(ctx, rc, in)
}

// buildRequestContext loads (or creates) the user row and resolves the
// ledger scope once per message.
func (e *Engine) buildRequestContext(tenantID, phone string) (*requestContext, error) {
	user, err := e.store.GetUser(tenantID, phone)
	if err != nil {
		return nil, err
	}
	if user == nil {
		now := e.ledger.Now()
		user = &models.User{
			TenantID:         tenantID,
			Phone:            phone,
			RemindersEnabled: true,
			ReminderTimeHour: models.DefaultReminderHour,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := e.store.SaveUser(*user); err != nil {
			return nil, err
		}
		slog.Info("Engine.buildRequestContext: new user created", "phone", phone)
	}

	scope, childID, err := e.ledger.ResolveScope(tenantID, phone)
	if err != nil {
		return nil, err
	}
	return &requestContext{
		user:    user,
		phone:   phone,
		tenant:  tenantID,
		scope:   scope,
		childID: childID,
	}, nil
}

// setWaiting persists a new waiting state for the user.
func (e *Engine) setWaiting(rc *requestContext, ws models.WaitingState) {
	rc.user.WaitingFor = ws.Encode()
	rc.user.UpdatedAt = time.Now()
	if err := e.store.SaveUser(*rc.user); err != nil {
		slog.Error("Engine.setWaiting: failed to persist state", "error", err, "phone", rc.phone, "state", ws.Kind)
	}
}

// clearWaiting returns the user to idle.
func (e *Engine) clearWaiting(rc *requestContext) {
	e.setWaiting(rc, models.Idle())
}

// normalizeInbound trims the payload, unwraps voice-note transcripts, and
// keeps both the raw text (for reasons and notes) and a lowercase form (for
// command matching).
func normalizeInbound(body string) inbound {
	raw := strings.TrimSpace(body)
	voice := false
	if len(raw) >= len(voiceNotePrefix) && strings.EqualFold(raw[:len(voiceNotePrefix)], voiceNotePrefix) {
		raw = strings.TrimSpace(raw[len(voiceNotePrefix):])
		voice = true
	}
	return inbound{raw: raw, lowered: strings.ToLower(raw), voice: voice}
}

// isYes reports an affirmative reply.
func isYes(lowered string) bool {
	switch lowered {
	case "yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm":
		return true
	}
	return false
}

// isNo reports a negative reply.
func isNo(lowered string) bool {
	switch lowered {
	case "no", "n", "nope", "nah":
		return true
	}
	return false
}

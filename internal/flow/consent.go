package flow

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/CareLedger/internal/models"

	"github.com/google/uuid"
)

// optOutCommands unsubscribe the sender; optInCommands resubscribe.
var optOutCommands = map[string]bool{
	"stop":        true,
	"unsubscribe": true,
	"opt out":     true,
	"optout":      true,
}

var optInCommands = map[string]bool{
	"start":  true,
	"resume": true,
	"opt in": true,
	"optin":  true,
}

// optedOutAllowed are the commands an unsubscribed user may still run:
// coming back, checking consent status, and taking their data with them.
var optedOutAllowed = map[string]bool{
	"consent":        true,
	"consent status": true,
	"export":         true,
	"export data":    true,
	"delete my data": true,
	"delete data":    true,
	"delete account": true,
	"erase my data":  true,
}

// consentGate runs before all other routing. Opt-out and opt-in commands are
// always honored; once opted out, everything outside the allow-list is
// answered with the opt-out notice. Returns handled=true when the message
// was fully answered here.
func (e *Engine) consentGate(ctx context.Context, rc *requestContext, lowered string) (bool, error) {
	if optOutCommands[lowered] {
		if err := e.recordConsent(rc, models.ConsentOptOut); err != nil {
			return true, err
		}
		rc.user.RemindersEnabled = false
		e.clearWaiting(rc)
		slog.Info("Engine.consentGate: user opted out", "phone", rc.phone)
		return true, e.msg.SendMessage(ctx, rc.phone, msgOptOutDone)
	}

	if optInCommands[lowered] {
		if err := e.recordConsent(rc, models.ConsentOptIn); err != nil {
			return true, err
		}
		rc.user.RemindersEnabled = true
		e.clearWaiting(rc)
		slog.Info("Engine.consentGate: user opted in", "phone", rc.phone)
		return true, e.msg.SendMessage(ctx, rc.phone, msgOptInDone)
	}

	optedOut, err := e.isOptedOut(rc)
	if err != nil {
		return true, err
	}
	if optedOut && !optedOutAllowed[lowered] {
		// A pending erase confirmation must survive the gate or the
		// delete flow can never finish.
		if models.ParseWaitingState(rc.user.WaitingFor).Kind == models.WaitingDeleteDataConfirm {
			return false, nil
		}
		return true, e.msg.SendMessage(ctx, rc.phone, msgOptedOut)
	}
	return false, nil
}

func (e *Engine) isOptedOut(rc *requestContext) (bool, error) {
	ev, err := e.store.LatestConsentEvent(rc.tenant, rc.phone)
	if err != nil {
		return false, err
	}
	return ev != nil && ev.EventType == models.ConsentOptOut, nil
}

func (e *Engine) recordConsent(rc *requestContext, eventType models.ConsentEventType) error {
	return e.store.InsertConsentEvent(models.ConsentEvent{
		ID:        uuid.NewString(),
		TenantID:  rc.tenant,
		Phone:     rc.phone,
		EventType: eventType,
		CreatedAt: e.ledger.Now(),
	})
}

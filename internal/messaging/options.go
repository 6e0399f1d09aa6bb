package messaging

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BTreeMap/CareLedger/internal/models"
)

// optionTracker remembers the last set of interactive options sent to each
// recipient so a bare numbered reply ("2") can be resolved back to the option
// id it stood for. Only the most recent prompt per recipient is kept.
type optionTracker struct {
	mu      sync.Mutex
	pending map[string][]models.InteractiveOption
}

func newOptionTracker() *optionTracker {
	return &optionTracker{pending: make(map[string][]models.InteractiveOption)}
}

// record stores the options just sent to a recipient, replacing any earlier set.
func (t *optionTracker) record(to string, options []models.InteractiveOption) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending[to] = options
}

// resolve maps a reply to an option id: by number ("1".."9"), by exact id, or
// by case-insensitive label. A successful match clears the pending set.
func (t *optionTracker) resolve(from, reply string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	options, ok := t.pending[from]
	if !ok || len(options) == 0 {
		return "", false
	}

	trimmed := strings.TrimSpace(reply)
	for i, opt := range options {
		if trimmed == fmt.Sprintf("%d", i+1) ||
			trimmed == opt.ID ||
			strings.EqualFold(trimmed, opt.Label) {
			delete(t.pending, from)
			return opt.ID, true
		}
	}
	return "", false
}

// renderInteractive formats an interactive prompt as plain text with numbered
// options, for transports without native button support.
func renderInteractive(in models.Interactive) string {
	var b strings.Builder
	b.WriteString(in.Body)
	for i, opt := range in.Options {
		b.WriteString(fmt.Sprintf("\n%d. %s", i+1, opt.Label))
	}
	return b.String()
}

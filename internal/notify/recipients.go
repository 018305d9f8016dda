package notify

import (
	"sync"

	"ledgerpulse/internal/reaction"
)

// Recipients is a mutable recipient list safe for concurrent use. The
// processor reads it on every event, so Replace takes effect for the
// next event without a restart.
type Recipients struct {
	mu   sync.RWMutex
	list []string
}

func NewRecipients(initial []string) *Recipients {
	r := &Recipients{}
	r.Replace(initial)
	return r
}

func (r *Recipients) Recipients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.list))
	copy(out, r.list)
	return out
}

// Replace swaps the full recipient list.
func (r *Recipients) Replace(list []string) {
	cp := make([]string, len(list))
	copy(cp, list)
	r.mu.Lock()
	r.list = cp
	r.mu.Unlock()
}

var _ reaction.RecipientSource = (*Recipients)(nil)

package alert

import (
	"context"
	"errors"
	"sync"

	"github.com/securepay/payment-service/internal/domain"
)

var (
	ErrNoPendingAlert  = errors.New("no alert is waiting for an answer")
	ErrAlreadyPrompted = errors.New("an alert is already waiting for an answer")
)

type sessionKey struct{}

// WithSession tags ctx with the session a prompt belongs to.
func WithSession(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

func sessionFrom(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

type pendingAlert struct {
	alert  Alert
	answer chan domain.UserChoice
}

// PendingPrompter parks alerts per session until the answer arrives from another
// request via Resolve.
type PendingPrompter struct {
	mu      sync.Mutex
	pending map[string]*pendingAlert
}

func NewPendingPrompter() *PendingPrompter {
	return &PendingPrompter{pending: make(map[string]*pendingAlert)}
}

// Prompt blocks until Resolve is called for the session in ctx or ctx ends.
func (p *PendingPrompter) Prompt(ctx context.Context, a Alert) (domain.UserChoice, error) {
	session := sessionFrom(ctx)

	p.mu.Lock()
	if _, exists := p.pending[session]; exists {
		p.mu.Unlock()
		return "", ErrAlreadyPrompted
	}
	entry := &pendingAlert{alert: a, answer: make(chan domain.UserChoice, 1)}
	p.pending[session] = entry
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		if p.pending[session] == entry {
			delete(p.pending, session)
		}
		p.mu.Unlock()
	}()

	select {
	case choice := <-entry.answer:
		return choice, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Pending returns the alert waiting for sessionID, if any.
func (p *PendingPrompter) Pending(sessionID string) (Alert, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.pending[sessionID]
	if !ok {
		return Alert{}, false
	}
	return entry.alert, true
}

// Resolve delivers the user's answer to the waiting prompt.
func (p *PendingPrompter) Resolve(sessionID string, choice domain.UserChoice) error {
	p.mu.Lock()
	entry, ok := p.pending[sessionID]
	if ok {
		delete(p.pending, sessionID)
	}
	p.mu.Unlock()
	if !ok {
		return ErrNoPendingAlert
	}
	entry.answer <- choice
	return nil
}

package engine

import (
	"fmt"
	"sync"

	"options_go/internal/domain"
)

// SubmissionGuard allows one buy, sell or panic action in flight per engine.
type SubmissionGuard struct {
	mu       sync.Mutex
	inFlight bool
	action   string
}

// NewSubmissionGuard creates an idle guard.
func NewSubmissionGuard() *SubmissionGuard {
	return &SubmissionGuard{}
}

// Acquire takes the flag for action. The returned release is idempotent and
// must be called on every path once the broker has answered.
func (g *SubmissionGuard) Acquire(action string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight {
		return nil, fmt.Errorf("%w: %s pending", domain.ErrSubmissionInProgress, g.action)
	}
	g.inFlight = true
	g.action = action

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.inFlight = false
			g.action = ""
			g.mu.Unlock()
		})
	}, nil
}

// State returns the current flag for the hotkey layer.
func (g *SubmissionGuard) State() domain.SubmissionState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return domain.SubmissionState{InFlight: g.inFlight, Action: g.action}
}

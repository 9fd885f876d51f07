package service

import (
	"sync"
	"time"

	"ai-companion-care/backend/pkg/logger"
)

// TerminationScheduler arms one deferred auto-end per active session.
// Timers live in process memory: a restart loses pending entries, which
// the boot-time re-arm sweep compensates for. The fire handler re-checks
// session state through the conditional end path, so a stale or duplicate
// timer firing is harmless.
type TerminationScheduler struct {
	mu      sync.Mutex
	timers  map[string]*time.Timer
	handler func(sessionID string)
	log     *logger.Logger
}

// NewTerminationScheduler creates an empty scheduler. SetHandler must be
// called before Arm.
func NewTerminationScheduler(log *logger.Logger) *TerminationScheduler {
	return &TerminationScheduler{
		timers: make(map[string]*time.Timer),
		log:    log,
	}
}

// SetHandler installs the fire callback. Wired after construction to
// break the cycle with the session registry, which both owns the end
// path and arms timers.
func (s *TerminationScheduler) SetHandler(handler func(sessionID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = handler
}

// Arm schedules the session to be auto-ended after d. Re-arming an
// already-armed session replaces the previous timer.
func (s *TerminationScheduler) Arm(sessionID string, d time.Duration) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.timers[sessionID]; ok {
		existing.Stop()
	}

	s.timers[sessionID] = time.AfterFunc(d, func() {
		s.fire(sessionID)
	})
	s.log.Debug("termination timer armed", "sessionId", sessionID, "duration", d.String())
}

// Disarm cancels a pending timer, if any. Safe to call for sessions that
// were never armed or have already fired.
func (s *TerminationScheduler) Disarm(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[sessionID]; ok {
		timer.Stop()
		delete(s.timers, sessionID)
		s.log.Debug("termination timer disarmed", "sessionId", sessionID)
	}
}

// Armed reports whether the session currently has a pending timer.
func (s *TerminationScheduler) Armed(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[sessionID]
	return ok
}

// Stop cancels every pending timer. Used on shutdown.
func (s *TerminationScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
	}
}

func (s *TerminationScheduler) fire(sessionID string) {
	s.mu.Lock()
	delete(s.timers, sessionID)
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		s.log.Error("termination timer fired with no handler installed", "sessionId", sessionID)
		return
	}
	handler(sessionID)
}

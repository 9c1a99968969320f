package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Mattboss10/ProjectCleanFlow/module/core/domain"
	"github.com/Mattboss10/ProjectCleanFlow/module/core/internal/metrics"
)

type State int

const (
	StateLoading State = iota
	StateReady
	StateActive
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Injector delivers commands to one connected surface. Inject never blocks
// and reports false when the command was dropped.
type Injector interface {
	Inject(cmd Command) bool
	Close() error
}

// Session tracks the lifecycle of one embedded map surface.
type Session struct {
	id  string
	log logrus.FieldLogger

	mu       sync.Mutex
	state    State
	injector Injector
	lastErr  error
	timer    *time.Timer
}

type SessionInfo struct {
	ID    string `json:"id"`
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

func newSession(id string, log logrus.FieldLogger) *Session {
	s := &Session{id: id, log: log.WithField("surface", id), state: StateLoading}
	metrics.BridgeSessions.WithLabelValues(StateLoading.String()).Inc()
	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{ID: s.id, State: s.state}
	if s.lastErr != nil {
		info.Error = s.lastErr.Error()
	}
	return info
}

// setState moves the session to next. Caller holds s.mu.
func (s *Session) setState(next State) {
	if s.state == next {
		return
	}
	metrics.BridgeSessions.WithLabelValues(s.state.String()).Dec()
	metrics.BridgeSessions.WithLabelValues(next.String()).Inc()
	s.log.WithFields(logrus.Fields{"from": s.state, "to": next}).Info("surface state changed")
	s.state = next
}

// attach binds a freshly loaded surface. Whatever was connected before is
// closed and the lifecycle restarts from Loading.
func (s *Session) attach(inj Injector, readyTimeout time.Duration) {
	s.mu.Lock()
	old := s.injector
	s.injector = inj
	s.lastErr = nil
	s.setState(StateLoading)
	s.armTimer(inj, readyTimeout)
	s.mu.Unlock()

	if old != nil && old != inj {
		_ = old.Close()
	}
}

// loadTimeout fails a surface that never announced mapReady.
func (s *Session) loadTimeout(inj Injector, after time.Duration) {
	s.mu.Lock()
	if s.state != StateLoading || s.injector != inj {
		s.mu.Unlock()
		return
	}
	old := s.failLocked(fmt.Errorf("%w: no mapReady within %s", domain.ErrSurfaceLoad, after))
	s.mu.Unlock()
	s.closeFailed(old)
}

// ready handles mapReady. It reports false when the surface is not in a
// state that can become ready.
func (s *Session) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateLoading:
		s.stopTimer()
		s.setState(StateReady)
		return true
	case StateReady, StateActive:
		return true
	default:
		return false
	}
}

// activate moves Ready to Active once a viewTo has been injected.
func (s *Session) activate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateReady {
		s.setState(StateActive)
	}
}

// inject sends cmd when the surface accepts commands. The state check and
// the enqueue happen under the same lock so a concurrent fail cannot slip
// between them.
func (s *Session) inject(cmd Command) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if (s.state != StateReady && s.state != StateActive) || s.injector == nil {
		metrics.BridgeDroppedTotal.Inc()
		s.log.WithFields(logrus.Fields{"type": cmd.Type(), "state": s.state}).Debug("surface not ready, command dropped")
		return false
	}
	if !s.injector.Inject(cmd) {
		metrics.BridgeDroppedTotal.Inc()
		s.log.WithField("type", cmd.Type()).Warn("surface queue full, command dropped")
		return false
	}
	metrics.BridgeMessagesTotal.WithLabelValues("out", cmd.Type()).Inc()
	return true
}

// fail moves the session to Unavailable when inj is still the connected
// surface. A nil inj fails whatever is connected.
func (s *Session) fail(inj Injector, err error) bool {
	s.mu.Lock()
	if inj != nil && s.injector != inj {
		s.mu.Unlock()
		return false
	}
	old := s.failLocked(err)
	s.mu.Unlock()
	s.closeFailed(old)
	return true
}

// Caller holds s.mu.
func (s *Session) failLocked(err error) Injector {
	old := s.injector
	s.injector = nil
	s.lastErr = err
	s.stopTimer()
	s.setState(StateUnavailable)
	s.log.WithError(err).Warn("surface unavailable")
	return old
}

func (s *Session) closeFailed(inj Injector) {
	if inj != nil {
		_ = inj.Close()
	}
}

// retry reloads an Unavailable session. The surface is expected to
// reconnect and announce mapReady again within readyTimeout.
func (s *Session) retry(readyTimeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateUnavailable {
		return domain.ErrSurfaceAvailable
	}
	s.lastErr = nil
	s.setState(StateLoading)
	s.armTimer(s.injector, readyTimeout)
	return nil
}

// detach drops inj after a clean close. It reports whether inj was the
// connected surface.
func (s *Session) detach(inj Injector) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.injector != inj {
		return false
	}
	s.injector = nil
	s.stopTimer()
	metrics.BridgeSessions.WithLabelValues(s.state.String()).Dec()
	return true
}

// close drops the session on shutdown and returns the surface to close.
func (s *Session) close() Injector {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.injector
	s.injector = nil
	s.stopTimer()
	metrics.BridgeSessions.WithLabelValues(s.state.String()).Dec()
	return old
}

// armTimer restarts the mapReady deadline for inj. Caller holds s.mu.
func (s *Session) armTimer(inj Injector, readyTimeout time.Duration) {
	s.stopTimer()
	if readyTimeout > 0 {
		s.timer = time.AfterFunc(readyTimeout, func() { s.loadTimeout(inj, readyTimeout) })
	}
}

// Caller holds s.mu.
func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

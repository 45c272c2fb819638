// File: internal/incident/standby.go
package incident

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Standby is the process-wide compromised latch. Once activated it never
// reverts for the lifetime of the process; clearing it requires operator
// review and a restart. It is safe to activate from concurrently running
// account processors. A read-check-then-act race can at worst log a duplicate
// incident, which is accepted.
type Standby struct {
	logger *zap.Logger
	active atomic.Bool

	mu     sync.Mutex
	reason string
}

// NewStandby creates an inactive latch.
func NewStandby(logger *zap.Logger) *Standby {
	return &Standby{logger: logger.Named("standby")}
}

// Activate latches the standby state with the given reason. It returns true
// on the first activation, false when the latch was already set (the original
// reason is kept). The reason is recorded before the latch flips, so any
// observer that sees Active() will also see a non-empty Reason().
func (s *Standby) Activate(reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.Load() {
		return false
	}
	s.reason = reason
	s.active.Store(true)
	s.logger.Error("Standby latch activated; halting automated interaction.", zap.String("reason", reason))
	return true
}

// Active reports whether the latch is set.
func (s *Standby) Active() bool { return s.active.Load() }

// Reason returns the activation reason, or "" while inactive.
func (s *Standby) Reason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// StartReminder logs a repeating reminder while the latch is active, until the
// context is canceled. It returns immediately; the loop runs in the background.
func (s *Standby) StartReminder(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.Active() {
					s.logger.Warn("Account remains in standby pending review.", zap.String("reason", s.Reason()))
				}
			}
		}
	}()
}

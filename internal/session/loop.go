package session

import (
	"context"
	"errors"
	"time"

	"github.com/micro-ha/hive-bridge/internal/model"
)

// kick wakes the timer loop so it re-reads state and interval.
func (m *Manager) kick() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Run polls on the configured interval while the session is authenticated.
// The timer is disarmed in every other state, including REAUTH_REQUIRED.
func (m *Manager) Run(ctx context.Context) {
	for {
		var (
			timer  *time.Timer
			timerC <-chan time.Time
		)
		if m.State().Active() {
			timer = time.NewTimer(m.Interval())
			timerC = timer.C
		}
		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-m.runCtx.Done():
			stopTimer(timer)
			return
		case <-m.wake:
			stopTimer(timer)
			continue
		case <-timerC:
		}

		if _, err := m.Poll(ctx); err != nil {
			switch {
			case errors.Is(err, model.ErrReauthRequired):
				m.logger.Warn("poll stopped; reauthentication required")
			case errors.Is(err, ErrNotAuthenticated):
				m.logger.Info("poll skipped; session not authenticated")
			case errors.Is(err, ErrClosed), errors.Is(err, context.Canceled):
				return
			default:
				m.logger.Error("poll failed", "err", err)
			}
		}
	}
}

func stopTimer(timer *time.Timer) {
	if timer != nil {
		timer.Stop()
	}
}

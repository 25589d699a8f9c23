package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/deegee85/negotiation-lab/internal/domain"
	"github.com/deegee85/negotiation-lab/internal/metrics"
	"github.com/deegee85/negotiation-lab/internal/store"
)

const closeWorkerInterval = time.Minute

// CloseCallback is called when a session is moved to the closed phase.
type CloseCallback func(handle string)

// StartCloseWorker runs a background goroutine that periodically sweeps for
// sessions idle in the feedback phase longer than feedbackTTL and moves them
// to the terminal closed phase.
func StartCloseWorker(ctx context.Context, sessions store.SessionStore, feedbackTTL time.Duration, onClose CloseCallback) {
	ticker := time.NewTicker(closeWorkerInterval)
	go func() {
		defer ticker.Stop()
		slog.Info("Close worker started", "interval", closeWorkerInterval, "feedback_ttl", feedbackTTL)

		for {
			select {
			case <-ticker.C:
				closeIdleSessions(sessions, feedbackTTL, time.Now(), onClose)
			case <-ctx.Done():
				slog.Info("Close worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func closeIdleSessions(sessions store.SessionStore, feedbackTTL time.Duration, now time.Time, onClose CloseCallback) {
	for _, session := range sessions.All() {
		snap := session.Snapshot()
		if snap.Phase != domain.PhaseFeedbackPending {
			continue
		}
		if now.Sub(snap.LastActivityAt) < feedbackTTL {
			continue
		}

		// Skip sessions with an in-flight turn; the next sweep gets them.
		if !session.TryLockTurn() {
			continue
		}
		closed := session.Phase == domain.PhaseFeedbackPending &&
			session.AdvancePhase(domain.PhaseClosed)
		session.UnlockTurn()

		if closed {
			slog.Info("Session closed after idle feedback phase",
				"session_id", session.Handle, "email", session.Email)
			metrics.SessionsClosed.Inc()
			if onClose != nil {
				onClose(session.Handle)
			}
		}
	}
}

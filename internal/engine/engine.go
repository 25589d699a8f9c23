// Package engine implements the negotiation session state machine.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/deegee85/negotiation-lab/internal/detect"
	"github.com/deegee85/negotiation-lab/internal/domain"
	"github.com/deegee85/negotiation-lab/internal/metrics"
	"github.com/deegee85/negotiation-lab/internal/store"
)

// Generator produces the counterpart's reply from persona instructions and
// ordered turn history. Implemented by the dialogue package.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []domain.Turn, userText string) (string, error)
}

// Notifier receives turns appended during processing. Implemented by the
// watch manager; nil disables notifications.
type Notifier interface {
	BroadcastTurns(handle string, turns []domain.Turn)
}

// Fixed messages authored by the system, never by the dialogue generator.
const (
	msgTimeExpired = "Time is up and we did not reach a deal. The negotiation is over. " +
		"If you have questions about how it went, ask away."
	msgFallback = "I'm temporarily unable to respond. Please send your message again in a moment."
	msgClosed   = "This negotiation session is closed."
)

// Config holds the engine's tunables. The deadline window lives on the
// session (set at creation by the store); the acceptance threshold and
// prompts live here.
type Config struct {
	// PersonaPrompt is the counterpart's negotiating identity and goals.
	PersonaPrompt string
	// AnswerPrompt replaces PersonaPrompt during the feedback phase. It must
	// instruct the model to answer questions only and never reveal
	// confidential negotiation parameters.
	AnswerPrompt string
	// MinAcceptableOffer is the end-of-window concession threshold: a user
	// offer at or above it is accepted even after the deadline.
	MinAcceptableOffer float64
}

// Engine advances sessions one turn at a time. Turn processing for a single
// session is serialized by the session's turn lock; different sessions
// proceed fully in parallel.
type Engine struct {
	sessions store.SessionStore
	gen      Generator
	feedback *FeedbackComposer
	notifier Notifier
	cfg      Config
	now      func() time.Time
}

// New creates an engine. notifier may be nil.
func New(sessions store.SessionStore, gen Generator, notifier Notifier, cfg Config) *Engine {
	return &Engine{
		sessions: sessions,
		gen:      gen,
		feedback: NewFeedbackComposer(),
		notifier: notifier,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetClock overrides the engine's clock. Test hook.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// ProcessTurn runs one turn for the session identified by handle and returns
// the reply text: a generated reply, a fixed system message, or a feedback
// message. Generator failures never surface; the caller always gets text.
func (e *Engine) ProcessTurn(ctx context.Context, handle, message string) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", fmt.Errorf("%w: empty message", domain.ErrInvalidArgument)
	}

	session, err := e.sessions.Get(handle)
	if err != nil {
		return "", err
	}

	// Single in-flight turn per session. A concurrent caller gets Busy and
	// may retry; we never queue behind a suspended generation call.
	if !session.TryLockTurn() {
		return "", domain.ErrBusy
	}
	defer session.UnlockTurn()

	now := e.now()

	switch session.Phase {
	case domain.PhaseClosed:
		return msgClosed, nil
	case domain.PhaseFeedbackPending:
		return e.answerQuestion(ctx, session, message, now)
	}

	if session.Expired(now) && !session.Agreement.Reached {
		return e.closeOutWindow(session, message, now), nil
	}

	reply, err := e.gen.Generate(ctx, e.cfg.PersonaPrompt, session.History, message)
	if err != nil {
		// Recoverable: keep the user's message, skip detection, let the
		// caller retry on the next turn.
		slog.Warn("Dialogue generation failed, replying with fallback",
			"session_id", session.Handle, "error", err)
		metrics.UpstreamFailures.Inc()
		metrics.TurnsProcessed.WithLabelValues(metrics.OutcomeFallback).Inc()

		from := len(session.History)
		session.Append(domain.SpeakerUser, message, now)
		session.Append(domain.SpeakerSystem, msgFallback, now)
		e.notify(session, from)
		return msgFallback, nil
	}

	from := len(session.History)
	session.Append(domain.SpeakerUser, message, now)
	session.Append(domain.SpeakerCounterpart, reply, now)

	e.updateLedger(session, message, reply, now)

	out := reply
	outcome := metrics.OutcomeReply
	if detect.DetectsAgreement(message, reply) && session.Ledger.FirstOffer != nil {
		if session.ReachAgreement(reply, now) {
			slog.Info("Agreement reached",
				"session_id", session.Handle, "terms", reply)
			metrics.AgreementsReached.Inc()
			outcome = metrics.OutcomeAgreement

			fb := e.feedback.Compose(session)
			session.Append(domain.SpeakerSystem, fb, now)
			out = fb
		}
	}

	metrics.TurnsProcessed.WithLabelValues(outcome).Inc()
	e.notify(session, from)
	return out, nil
}

// closeOutWindow handles a turn that arrives after the deadline with no
// agreement. A user offer meeting the acceptance threshold is taken as a
// final concession; anything else ends the negotiation without a deal.
// No generation call happens on either path.
func (e *Engine) closeOutWindow(session *domain.Session, message string, now time.Time) string {
	from := len(session.History)

	if offer, ok := detect.ExtractOffer(message); ok && offer >= e.cfg.MinAcceptableOffer {
		session.Append(domain.SpeakerUser, message, now)
		if !session.RecordFirstOffer(offer, domain.SpeakerUser, now) {
			session.RecordCounterOffer(offer, domain.SpeakerUser, now)
		}

		terms := formatAmount(offer)
		session.ReachAgreement(terms, now)

		accept := fmt.Sprintf(
			"Alright, you have a deal at $%s. We were out of time, but that works for me.", terms)
		session.Append(domain.SpeakerSystem, accept, now)
		session.Append(domain.SpeakerSystem, e.feedback.Compose(session), now)

		slog.Info("End-of-window concession accepted",
			"session_id", session.Handle, "offer", offer)
		metrics.AgreementsReached.Inc()
		metrics.TurnsProcessed.WithLabelValues(metrics.OutcomeAgreement).Inc()
		e.notify(session, from)
		return accept
	}

	session.Append(domain.SpeakerUser, message, now)
	session.Append(domain.SpeakerSystem, msgTimeExpired, now)
	session.AdvancePhase(domain.PhaseFeedbackPending)

	slog.Info("Negotiation window expired without a deal", "session_id", session.Handle)
	metrics.SessionsExpired.Inc()
	metrics.TurnsProcessed.WithLabelValues(metrics.OutcomeExpired).Inc()
	e.notify(session, from)
	return msgTimeExpired
}

// answerQuestion handles feedback-phase turns: the message is treated as a
// question and answered in answer-only mode. No offer or agreement
// processing happens here.
func (e *Engine) answerQuestion(ctx context.Context, session *domain.Session, message string, now time.Time) (string, error) {
	from := len(session.History)

	answer, err := e.gen.Generate(ctx, e.cfg.AnswerPrompt, session.History, message)
	if err != nil {
		slog.Warn("Feedback answer generation failed, replying with fallback",
			"session_id", session.Handle, "error", err)
		metrics.UpstreamFailures.Inc()
		metrics.TurnsProcessed.WithLabelValues(metrics.OutcomeFallback).Inc()

		session.Append(domain.SpeakerUser, message, now)
		session.Append(domain.SpeakerSystem, msgFallback, now)
		e.notify(session, from)
		return msgFallback, nil
	}

	session.Append(domain.SpeakerUser, message, now)
	session.Append(domain.SpeakerCounterpart, answer, now)
	metrics.TurnsProcessed.WithLabelValues(metrics.OutcomeFeedback).Inc()
	e.notify(session, from)
	return answer, nil
}

// updateLedger applies offer detection to one exchange. When both turns of
// the exchange contain a qualifying offer and none exists yet, the user's
// wins the tie-break. The counteroffer can only come from the speaker
// opposite the first offer's author.
func (e *Engine) updateLedger(session *domain.Session, userText, reply string, now time.Time) {
	if session.Ledger.FirstOffer == nil {
		if v, ok := detect.ExtractOffer(userText); ok {
			session.RecordFirstOffer(v, domain.SpeakerUser, now)
		} else if v, ok := detect.ExtractOffer(reply); ok {
			session.RecordFirstOffer(v, domain.SpeakerCounterpart, now)
		}
	}

	if session.Ledger.FirstOffer == nil || session.Ledger.CounterOffer != nil {
		return
	}
	if session.Ledger.FirstOfferBy == domain.SpeakerUser {
		if v, ok := detect.ExtractOffer(reply); ok {
			session.RecordCounterOffer(v, domain.SpeakerCounterpart, now)
		}
	} else {
		if v, ok := detect.ExtractOffer(userText); ok {
			session.RecordCounterOffer(v, domain.SpeakerUser, now)
		}
	}
}

func (e *Engine) notify(session *domain.Session, from int) {
	if e.notifier == nil || from >= len(session.History) {
		return
	}
	turns := make([]domain.Turn, len(session.History)-from)
	copy(turns, session.History[from:])
	e.notifier.BroadcastTurns(session.Handle, turns)
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

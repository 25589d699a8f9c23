// Package domain contains core domain types for the negotiation lab.
package domain

import (
	"sync"
	"time"
)

// Speaker identifies the author of a turn.
type Speaker string

const (
	// SpeakerUser is the human participant.
	SpeakerUser Speaker = "user"
	// SpeakerCounterpart is the automated negotiating persona.
	SpeakerCounterpart Speaker = "counterpart"
	// SpeakerSystem marks fixed engine messages (deadline, fallback, feedback).
	SpeakerSystem Speaker = "system"
)

// Phase is the negotiation lifecycle state of a session.
type Phase string

const (
	// PhaseNegotiating is the initial phase; offers and agreement are tracked.
	PhaseNegotiating Phase = "negotiating"
	// PhaseFeedbackPending accepts only Q&A turns after the negotiation ended.
	PhaseFeedbackPending Phase = "feedback_pending"
	// PhaseClosed is terminal.
	PhaseClosed Phase = "closed"
)

// Turn is one message in the session transcript.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// OfferLedger tracks the first offer and the first counteroffer. The pointer
// targets are set once and never mutated, so snapshot copies may share them.
type OfferLedger struct {
	FirstOffer     *float64   `json:"first_offer,omitempty"`
	FirstOfferBy   Speaker    `json:"first_offer_by,omitempty"`
	FirstOfferAt   *time.Time `json:"first_offer_at,omitempty"`
	CounterOffer   *float64   `json:"counter_offer,omitempty"`
	CounterOfferAt *time.Time `json:"counter_offer_at,omitempty"`
}

// Agreement records a detected deal-closing state.
type Agreement struct {
	Reached bool       `json:"reached"`
	Terms   string     `json:"terms,omitempty"`
	At      *time.Time `json:"at,omitempty"`
}

// Session is one negotiation, keyed by participant email, addressed by
// Handle. It is created once per identity and never destroyed.
//
// Concurrency discipline: the engine serializes turn processing with the
// turn lock (one in-flight turn per session), and every mutator below also
// takes the state lock so read-only callers (transcripts, summaries,
// observers) can use Turns and Snapshot concurrently. Direct field reads
// are safe only while holding the turn lock.
type Session struct {
	Handle string `json:"session_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`

	Phase     Phase       `json:"phase"`
	History   []Turn      `json:"history"`
	Ledger    OfferLedger `json:"ledger"`
	Agreement Agreement   `json:"agreement"`

	StartedAt      time.Time `json:"started_at"`
	Deadline       time.Time `json:"deadline"`
	LastActivityAt time.Time `json:"last_activity_at"`

	turnMu sync.Mutex
	mu     sync.RWMutex
}

// TryLockTurn claims the single in-flight turn slot for this session.
// Returns false if another turn is already being processed.
func (s *Session) TryLockTurn() bool {
	return s.turnMu.TryLock()
}

// UnlockTurn releases the in-flight turn slot.
func (s *Session) UnlockTurn() {
	s.turnMu.Unlock()
}

// Append adds a turn to the transcript and bumps the activity timestamp.
func (s *Session) Append(speaker Speaker, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.History = append(s.History, Turn{Speaker: speaker, Text: text, Timestamp: at})
	s.LastActivityAt = at
}

// Turns returns a copy of the transcript.
func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Turn, len(s.History))
	copy(out, s.History)
	return out
}

// Snapshot is a consistent read-only view of a session's state.
type Snapshot struct {
	Handle         string
	Name           string
	Email          string
	Phase          Phase
	Ledger         OfferLedger
	Agreement      Agreement
	StartedAt      time.Time
	Deadline       time.Time
	LastActivityAt time.Time
	TurnCount      int
}

// Snapshot returns a consistent view for read-only consumers.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		Handle:         s.Handle,
		Name:           s.Name,
		Email:          s.Email,
		Phase:          s.Phase,
		Ledger:         s.Ledger,
		Agreement:      s.Agreement,
		StartedAt:      s.StartedAt,
		Deadline:       s.Deadline,
		LastActivityAt: s.LastActivityAt,
		TurnCount:      len(s.History),
	}
}

// RecordFirstOffer sets the first offer if none exists yet.
// First offers are only recorded while the session is negotiating.
func (s *Session) RecordFirstOffer(amount float64, by Speaker, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Ledger.FirstOffer != nil || s.Phase != PhaseNegotiating {
		return false
	}
	s.Ledger.FirstOffer = &amount
	s.Ledger.FirstOfferBy = by
	s.Ledger.FirstOfferAt = &at
	return true
}

// RecordCounterOffer sets the counteroffer if a first offer exists, the
// speaker opposes the first offer's author, and no counteroffer was recorded.
func (s *Session) RecordCounterOffer(amount float64, by Speaker, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Ledger.FirstOffer == nil || s.Ledger.CounterOffer != nil {
		return false
	}
	if by == s.Ledger.FirstOfferBy {
		return false
	}
	s.Ledger.CounterOffer = &amount
	s.Ledger.CounterOfferAt = &at
	return true
}

// ReachAgreement marks the deal as closed and moves the session to the
// feedback phase. It fires at most once.
func (s *Session) ReachAgreement(terms string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Agreement.Reached {
		return false
	}
	s.Agreement = Agreement{Reached: true, Terms: terms, At: &at}
	s.advancePhaseLocked(PhaseFeedbackPending)
	return true
}

// AdvancePhase moves the session forward in the lifecycle. Regressions are
// ignored so phase transitions stay monotonic.
func (s *Session) AdvancePhase(next Phase) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.advancePhaseLocked(next)
}

func (s *Session) advancePhaseLocked(next Phase) bool {
	if phaseRank(next) <= phaseRank(s.Phase) {
		return false
	}
	s.Phase = next
	return true
}

// Expired reports whether the negotiation window has elapsed.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.Deadline)
}

func phaseRank(p Phase) int {
	switch p {
	case PhaseNegotiating:
		return 0
	case PhaseFeedbackPending:
		return 1
	case PhaseClosed:
		return 2
	}
	return -1
}

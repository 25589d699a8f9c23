package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/deegee85/negotiation-lab/internal/domain"
	"github.com/deegee85/negotiation-lab/internal/store"
)

// stubGenerator returns canned replies and records how it was called.
type stubGenerator struct {
	reply      string
	err        error
	calls      int
	lastPrompt string
}

func (g *stubGenerator) Generate(_ context.Context, systemPrompt string, _ []domain.Turn, _ string) (string, error) {
	g.calls++
	g.lastPrompt = systemPrompt
	if g.err != nil {
		return "", g.err
	}
	return g.reply, nil
}

type captureNotifier struct {
	turns []domain.Turn
}

func (n *captureNotifier) BroadcastTurns(_ string, turns []domain.Turn) {
	n.turns = append(n.turns, turns...)
}

func testConfig() Config {
	return Config{
		PersonaPrompt:      "You are selling a warehouse.",
		AnswerPrompt:       "Answer questions only.",
		MinAcceptableOffer: 850000,
	}
}

func newTestEngine(t *testing.T, gen Generator) (*Engine, *store.MemoryStore, *domain.Session, time.Time) {
	t.Helper()
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	sessions := store.NewMemoryStore(18 * time.Minute)
	sessions.SetClock(func() time.Time { return start })

	session, _, err := sessions.Create("Dana", "dana@example.com")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	e := New(sessions, gen, nil, testConfig())
	e.SetClock(func() time.Time { return start })
	return e, sessions, session, start
}

func TestProcessTurn_OfferAndCounterOffer(t *testing.T) {
	gen := &stubGenerator{reply: "That is far too low. I could not take less than $1,000,000."}
	e, _, session, _ := newTestEngine(t, gen)

	reply, err := e.ProcessTurn(context.Background(), session.Handle, "I can offer $900,000")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if reply != gen.reply {
		t.Errorf("reply = %q, want generated reply", reply)
	}

	if session.Ledger.FirstOffer == nil || *session.Ledger.FirstOffer != 900000 {
		t.Fatalf("first offer = %v, want 900000", session.Ledger.FirstOffer)
	}
	if session.Ledger.FirstOfferBy != domain.SpeakerUser {
		t.Errorf("first offer by = %s, want user", session.Ledger.FirstOfferBy)
	}
	if session.Ledger.CounterOffer == nil || *session.Ledger.CounterOffer != 1000000 {
		t.Fatalf("counter offer = %v, want 1000000", session.Ledger.CounterOffer)
	}
	if len(session.History) != 2 {
		t.Errorf("history length = %d, want 2", len(session.History))
	}
	if session.History[0].Speaker != domain.SpeakerUser || session.History[1].Speaker != domain.SpeakerCounterpart {
		t.Error("history must record user turn then counterpart turn")
	}
}

func TestProcessTurn_UserPriorityTieBreak(t *testing.T) {
	gen := &stubGenerator{reply: "I was thinking more like $1,200,000."}
	e, _, session, _ := newTestEngine(t, gen)

	if _, err := e.ProcessTurn(context.Background(), session.Handle, "Would $950,000 work?"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if session.Ledger.FirstOfferBy != domain.SpeakerUser {
		t.Errorf("first offer by = %s, want user (tie-break)", session.Ledger.FirstOfferBy)
	}
	if *session.Ledger.FirstOffer != 950000 {
		t.Errorf("first offer = %v, want 950000", *session.Ledger.FirstOffer)
	}
	// The counterpart's offer in the same exchange becomes the counteroffer.
	if session.Ledger.CounterOffer == nil || *session.Ledger.CounterOffer != 1200000 {
		t.Errorf("counter offer = %v, want 1200000", session.Ledger.CounterOffer)
	}
}

func TestProcessTurn_CounterOfferNeverOverwritten(t *testing.T) {
	gen := &stubGenerator{reply: "Now I want $1,500,000."}
	e, _, session, start := newTestEngine(t, gen)
	ctx := context.Background()

	firstAt := start.Add(time.Minute)
	e.SetClock(func() time.Time { return firstAt })
	if _, err := e.ProcessTurn(ctx, session.Handle, "I offer $900,000"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	counterAt := *session.Ledger.CounterOfferAt

	e.SetClock(func() time.Time { return start.Add(2 * time.Minute) })
	if _, err := e.ProcessTurn(ctx, session.Handle, "Fine, $950,000 then"); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}

	if *session.Ledger.CounterOffer != 1500000 {
		t.Errorf("counter offer = %v, want 1500000 (unchanged)", *session.Ledger.CounterOffer)
	}
	if !session.Ledger.CounterOfferAt.Equal(counterAt) {
		t.Error("counter offer timestamp must not change on later turns")
	}
	if session.Ledger.FirstOfferAt.After(*session.Ledger.CounterOfferAt) {
		t.Error("counterOfferAt must never precede firstOfferAt")
	}
}

func TestProcessTurn_DeadlineExpired(t *testing.T) {
	gen := &stubGenerator{reply: "unused"}
	e, _, session, start := newTestEngine(t, gen)

	e.SetClock(func() time.Time { return start.Add(18*time.Minute + time.Second) })

	reply, err := e.ProcessTurn(context.Background(), session.Handle, "Are you still there?")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if reply != msgTimeExpired {
		t.Errorf("reply = %q, want time-expired message", reply)
	}
	if session.Phase != domain.PhaseFeedbackPending {
		t.Errorf("phase = %s, want feedback_pending", session.Phase)
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0 (deadline short-circuits)", gen.calls)
	}
	if session.Agreement.Reached {
		t.Error("no agreement should be recorded on expiry")
	}
}

func TestProcessTurn_EndOfWindowConcession(t *testing.T) {
	gen := &stubGenerator{reply: "unused"}
	e, _, session, start := newTestEngine(t, gen)

	at := start.Add(18*time.Minute + time.Second)
	e.SetClock(func() time.Time { return at })

	reply, err := e.ProcessTurn(context.Background(), session.Handle, "Final offer: $900,000")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if !strings.Contains(reply, "deal") {
		t.Errorf("reply = %q, want acceptance message", reply)
	}
	if !session.Agreement.Reached {
		t.Fatal("agreement should be reached on an acceptable late offer")
	}
	if session.Agreement.Terms != "900000" {
		t.Errorf("terms = %q, want %q", session.Agreement.Terms, "900000")
	}
	if !session.Agreement.At.Equal(at) {
		t.Errorf("agreement at = %v, want %v", session.Agreement.At, at)
	}
	if session.Phase != domain.PhaseFeedbackPending {
		t.Errorf("phase = %s, want feedback_pending", session.Phase)
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.calls)
	}
}

func TestProcessTurn_LateOfferBelowThresholdExpires(t *testing.T) {
	gen := &stubGenerator{reply: "unused"}
	e, _, session, start := newTestEngine(t, gen)

	e.SetClock(func() time.Time { return start.Add(19 * time.Minute) })

	reply, err := e.ProcessTurn(context.Background(), session.Handle, "Final offer: $500,000")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if reply != msgTimeExpired {
		t.Errorf("reply = %q, want time-expired message", reply)
	}
	if session.Agreement.Reached {
		t.Error("an offer below the threshold must not be accepted")
	}
}

func TestProcessTurn_UpstreamFailureFallback(t *testing.T) {
	gen := &stubGenerator{err: errors.New("connection refused")}
	e, _, session, _ := newTestEngine(t, gen)

	reply, err := e.ProcessTurn(context.Background(), session.Handle, "I can offer $900,000")
	if err != nil {
		t.Fatalf("ProcessTurn must not surface generator errors, got %v", err)
	}
	if reply != msgFallback {
		t.Errorf("reply = %q, want fallback message", reply)
	}
	if len(session.History) != 2 || session.History[0].Text != "I can offer $900,000" {
		t.Errorf("user message must still be appended, history = %+v", session.History)
	}
	if session.Ledger.FirstOffer != nil {
		t.Error("offer ledger must stay unchanged on a failed exchange")
	}
	if session.Phase != domain.PhaseNegotiating {
		t.Errorf("phase = %s, want negotiating (caller may retry)", session.Phase)
	}
}

func TestProcessTurn_AgreementRequiresPriorOffer(t *testing.T) {
	gen := &stubGenerator{reply: "We have a deal, pleasure doing business."}
	e, _, session, _ := newTestEngine(t, gen)

	if _, err := e.ProcessTurn(context.Background(), session.Handle, "Sounds great, I accept!"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}

	if session.Agreement.Reached {
		t.Error("agreement must not be reached before any offer exists")
	}
	if session.Phase != domain.PhaseNegotiating {
		t.Errorf("phase = %s, want negotiating", session.Phase)
	}
}

func TestProcessTurn_AgreementAfterOfferReturnsFeedback(t *testing.T) {
	gen := &stubGenerator{reply: "$950,000 and not a cent less."}
	e, _, session, _ := newTestEngine(t, gen)
	ctx := context.Background()

	if _, err := e.ProcessTurn(ctx, session.Handle, "I can offer $900,000"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}

	gen.reply = "We have a deal at $950,000."
	reply, err := e.ProcessTurn(ctx, session.Handle, "Fine, I accept $950,000.")
	if err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}

	if !session.Agreement.Reached {
		t.Fatal("agreement should be reached")
	}
	if session.Agreement.Terms != "We have a deal at $950,000." {
		t.Errorf("terms = %q, want the closing reply", session.Agreement.Terms)
	}
	if session.Phase != domain.PhaseFeedbackPending {
		t.Errorf("phase = %s, want feedback_pending", session.Phase)
	}
	if !strings.Contains(reply, "feedback") {
		t.Errorf("reply = %q, want the feedback message in place of the reply", reply)
	}
	last := session.History[len(session.History)-1]
	if last.Speaker != domain.SpeakerSystem {
		t.Errorf("last turn speaker = %s, want system (feedback)", last.Speaker)
	}
}

func TestProcessTurn_FeedbackPhaseAnswersOnly(t *testing.T) {
	gen := &stubGenerator{reply: "$950,000, final."}
	e, _, session, _ := newTestEngine(t, gen)
	ctx := context.Background()

	if _, err := e.ProcessTurn(ctx, session.Handle, "I offer $900,000"); err != nil {
		t.Fatalf("turn 1 failed: %v", err)
	}
	gen.reply = "We have a deal."
	if _, err := e.ProcessTurn(ctx, session.Handle, "I accept."); err != nil {
		t.Fatalf("turn 2 failed: %v", err)
	}

	ledgerBefore := session.Ledger
	gen.reply = "Anchoring early worked in your favor."
	answer, err := e.ProcessTurn(ctx, session.Handle, "What did I do well?")
	if err != nil {
		t.Fatalf("feedback turn failed: %v", err)
	}
	if answer != "Anchoring early worked in your favor." {
		t.Errorf("answer = %q, want generated answer", answer)
	}
	if gen.lastPrompt != "Answer questions only." {
		t.Errorf("system prompt = %q, want the answer-only prompt", gen.lastPrompt)
	}
	if session.Ledger != ledgerBefore {
		t.Error("feedback-phase turns must not touch the offer ledger")
	}
}

func TestProcessTurn_ClosedSessionIsInert(t *testing.T) {
	gen := &stubGenerator{reply: "unused"}
	e, _, session, _ := newTestEngine(t, gen)

	session.AdvancePhase(domain.PhaseFeedbackPending)
	session.AdvancePhase(domain.PhaseClosed)
	historyLen := len(session.History)

	reply, err := e.ProcessTurn(context.Background(), session.Handle, "Hello?")
	if err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if reply != msgClosed {
		t.Errorf("reply = %q, want closed message", reply)
	}
	if len(session.History) != historyLen {
		t.Error("closed sessions must not be mutated")
	}
	if gen.calls != 0 {
		t.Errorf("generator calls = %d, want 0", gen.calls)
	}
}

func TestProcessTurn_BusyOnConcurrentTurn(t *testing.T) {
	gen := &stubGenerator{reply: "ok"}
	e, _, session, _ := newTestEngine(t, gen)

	if !session.TryLockTurn() {
		t.Fatal("setup: could not take the turn lock")
	}
	defer session.UnlockTurn()

	if _, err := e.ProcessTurn(context.Background(), session.Handle, "hello"); !errors.Is(err, domain.ErrBusy) {
		t.Errorf("concurrent turn = %v, want ErrBusy", err)
	}
}

func TestProcessTurn_EmptyMessage(t *testing.T) {
	gen := &stubGenerator{reply: "ok"}
	e, _, session, _ := newTestEngine(t, gen)

	if _, err := e.ProcessTurn(context.Background(), session.Handle, "   "); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("empty message = %v, want ErrInvalidArgument", err)
	}
	if len(session.History) != 0 {
		t.Error("rejected turns must not mutate history")
	}
}

func TestProcessTurn_UnknownHandle(t *testing.T) {
	gen := &stubGenerator{reply: "ok"}
	e, _, _, _ := newTestEngine(t, gen)

	if _, err := e.ProcessTurn(context.Background(), "missing", "hello"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown handle = %v, want ErrNotFound", err)
	}
}

func TestProcessTurn_NotifierReceivesTurns(t *testing.T) {
	gen := &stubGenerator{reply: "Interesting opening."}
	e, _, session, _ := newTestEngine(t, gen)

	notifier := &captureNotifier{}
	e.notifier = notifier

	if _, err := e.ProcessTurn(context.Background(), session.Handle, "Shall we begin?"); err != nil {
		t.Fatalf("ProcessTurn failed: %v", err)
	}
	if len(notifier.turns) != 2 {
		t.Fatalf("broadcast %d turns, want 2", len(notifier.turns))
	}
	if notifier.turns[0].Speaker != domain.SpeakerUser || notifier.turns[1].Speaker != domain.SpeakerCounterpart {
		t.Error("broadcast turns must mirror the appended exchange")
	}
}

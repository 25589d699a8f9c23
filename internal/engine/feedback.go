package engine

import (
	"fmt"
	"strings"

	"github.com/deegee85/negotiation-lab/internal/domain"
)

// StyleEvaluator judges how the participant negotiated. Pluggable so a
// richer evaluator (rubric-based, model-based) can be swapped in.
type StyleEvaluator func(history []domain.Turn) string

// DealEvaluator judges the outcome recorded in the offer ledger.
type DealEvaluator func(session *domain.Session) string

// FeedbackComposer builds the post-negotiation feedback message from the
// two evaluators.
type FeedbackComposer struct {
	Style StyleEvaluator
	Deal  DealEvaluator
}

// NewFeedbackComposer returns a composer with the default evaluators.
func NewFeedbackComposer() *FeedbackComposer {
	return &FeedbackComposer{
		Style: defaultStyleEvaluator,
		Deal:  defaultDealEvaluator,
	}
}

// Compose builds the feedback message for a finished negotiation.
func (c *FeedbackComposer) Compose(session *domain.Session) string {
	parts := []string{"The negotiation is over. Here is some feedback on how it went."}
	if c.Style != nil {
		if s := c.Style(session.History); s != "" {
			parts = append(parts, s)
		}
	}
	if c.Deal != nil {
		if d := c.Deal(session); d != "" {
			parts = append(parts, d)
		}
	}
	parts = append(parts, "Feel free to ask questions about the exercise.")
	return strings.Join(parts, "\n\n")
}

func defaultStyleEvaluator(history []domain.Turn) string {
	var userTurns, questions int
	for _, turn := range history {
		if turn.Speaker != domain.SpeakerUser {
			continue
		}
		userTurns++
		if strings.Contains(turn.Text, "?") {
			questions++
		}
	}

	switch {
	case userTurns == 0:
		return ""
	case questions == 0:
		return fmt.Sprintf("You sent %d messages but asked no questions. "+
			"Probing the other side's interests usually uncovers room to trade.", userTurns)
	default:
		return fmt.Sprintf("You sent %d messages and asked %d questions, "+
			"which kept information flowing both ways.", userTurns, questions)
	}
}

func defaultDealEvaluator(session *domain.Session) string {
	ledger := session.Ledger
	if !session.Agreement.Reached {
		if ledger.FirstOffer == nil {
			return "No offer was ever put on the table, so there was nothing to close on."
		}
		return "Offers were exchanged but no deal was closed before time ran out."
	}

	var b strings.Builder
	b.WriteString("You closed the deal")
	if session.Agreement.Terms != "" {
		fmt.Fprintf(&b, " on these terms: %s", session.Agreement.Terms)
	}
	b.WriteString(".")
	if ledger.FirstOffer != nil {
		who := "you"
		if ledger.FirstOfferBy == domain.SpeakerCounterpart {
			who = "the other side"
		}
		fmt.Fprintf(&b, " The first offer (%s by %s) anchored the discussion",
			formatAmount(*ledger.FirstOffer), who)
		if ledger.CounterOffer != nil {
			fmt.Fprintf(&b, "; the counteroffer landed at %s", formatAmount(*ledger.CounterOffer))
		}
		b.WriteString(".")
	}
	return b.String()
}

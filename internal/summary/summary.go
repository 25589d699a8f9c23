// Package summary derives cross-session negotiation metrics.
package summary

import (
	"time"

	"github.com/deegee85/negotiation-lab/internal/domain"
	"github.com/deegee85/negotiation-lab/internal/store"
)

// Record is the derived view of one session. It is computed on demand and
// never stored; fields not yet determined mid-negotiation are nil.
type Record struct {
	Name             string         `json:"name"`
	Email            string         `json:"email"`
	Phase            domain.Phase   `json:"phase"`
	FirstOffer       *float64       `json:"first_offer,omitempty"`
	FirstOfferBy     domain.Speaker `json:"first_offer_by,omitempty"`
	CounterOffer     *float64       `json:"counter_offer,omitempty"`
	AgreementReached bool           `json:"agreement_reached"`
	AgreementTerms   string         `json:"agreement_terms,omitempty"`
	TimeToCounter    *time.Duration `json:"time_to_counter,omitempty"`
	TimeToAgreement  *time.Duration `json:"time_to_agreement,omitempty"`
}

// Summarize computes the record for one session. Read-only and safe to call
// at any phase, including mid-negotiation.
func Summarize(session *domain.Session) Record {
	snap := session.Snapshot()
	rec := Record{
		Name:             snap.Name,
		Email:            snap.Email,
		Phase:            snap.Phase,
		FirstOffer:       snap.Ledger.FirstOffer,
		FirstOfferBy:     snap.Ledger.FirstOfferBy,
		CounterOffer:     snap.Ledger.CounterOffer,
		AgreementReached: snap.Agreement.Reached,
		AgreementTerms:   snap.Agreement.Terms,
	}

	if snap.Ledger.FirstOfferAt != nil {
		if snap.Ledger.CounterOfferAt != nil {
			d := snap.Ledger.CounterOfferAt.Sub(*snap.Ledger.FirstOfferAt)
			rec.TimeToCounter = &d
		}
		if snap.Agreement.At != nil {
			d := snap.Agreement.At.Sub(*snap.Ledger.FirstOfferAt)
			rec.TimeToAgreement = &d
		}
	}
	return rec
}

// SummarizeAll computes records for every session in creation order. Zero
// sessions yield an empty slice.
func SummarizeAll(sessions store.SessionStore) []Record {
	all := sessions.All()
	records := make([]Record, 0, len(all))
	for _, session := range all {
		records = append(records, Summarize(session))
	}
	return records
}

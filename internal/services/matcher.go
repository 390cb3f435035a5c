package services

import (
	"BlinkPay/internal/models"
	"BlinkPay/utils"
)

// Matcher picks the obligation a transfer settles.
//
// Priority: exact memo (same token, amount ignored) > earliest pending
// obligation with the same token and exact expected amount > unmatched.
// Two pending candidates carrying the same memo are never guessed between.
type Matcher struct {
	// strictMemoAmount limits memo-only matches to variable-amount
	// obligations or equal amounts.
	strictMemoAmount bool
	log              *utils.Logger
}

func NewMatcher(strictMemoAmount bool, log *utils.Logger) *Matcher {
	if log == nil {
		log = utils.NopLogger()
	}
	return &Matcher{strictMemoAmount: strictMemoAmount, log: log}
}

// Match returns the selected obligation (a copy) and why it was selected.
func (m *Matcher) Match(ev models.TransferEvent, candidates []models.Obligation) (*models.Obligation, models.MatchReason) {
	if ev.Memo != "" {
		var hits []int
		for i := range candidates {
			c := &candidates[i]
			if c.Status == models.StatusPending && c.Token == ev.Token && c.ReferenceMemo() == ev.Memo {
				hits = append(hits, i)
			}
		}
		switch {
		case len(hits) > 1:
			m.log.Warn("ambiguous memo, leaving transfer unmatched",
				"signature", ev.Signature, "memo", ev.Memo, "candidates", len(hits))
			return nil, models.MatchAmbiguousMemo
		case len(hits) == 1:
			o := candidates[hits[0]]
			if o.ExpectedAmount != nil && *o.ExpectedAmount != ev.Amount {
				m.log.Warn("memo match with diverging amount",
					"signature", ev.Signature, "obligation", o.ID,
					"expected", *o.ExpectedAmount, "paid", ev.Amount, "strict", m.strictMemoAmount)
				if m.strictMemoAmount {
					break
				}
			}
			return &o, models.MatchMemo
		}
	}

	best := -1
	for i := range candidates {
		c := &candidates[i]
		if c.Status != models.StatusPending || c.Token != ev.Token {
			continue
		}
		if c.ExpectedAmount == nil || *c.ExpectedAmount != ev.Amount {
			continue
		}
		if best < 0 || c.CreatedAt.Before(candidates[best].CreatedAt) {
			best = i
		}
	}
	if best >= 0 {
		o := candidates[best]
		return &o, models.MatchAmount
	}
	return nil, models.MatchUnmatched
}

package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Direction classifies a settlement record.
type Direction uint8

const (
	DirectionUnknown Direction = iota
	DirectionPayment
	DirectionRefund
	DirectionFee
)

func (d Direction) String() string {
	switch d {
	case DirectionPayment:
		return "payment"
	case DirectionRefund:
		return "refund"
	case DirectionFee:
		return "fee"
	default:
		return "unknown"
	}
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "payment":
		return DirectionPayment, nil
	case "refund":
		return DirectionRefund, nil
	case "fee":
		return DirectionFee, nil
	default:
		return DirectionUnknown, fmt.Errorf("unknown direction %q", s)
	}
}

func (d Direction) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Direction) UnmarshalText(b []byte) error {
	v, err := ParseDirection(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// MatchReason explains the matcher's decision.
type MatchReason string

const (
	MatchMemo          MatchReason = "memo"
	MatchAmount        MatchReason = "amount"
	MatchUnmatched     MatchReason = "unmatched"
	MatchAmbiguousMemo MatchReason = "ambiguous_memo"
	MatchRefundMemo    MatchReason = "refund_memo"
)

// TransferEvent is one value movement observed inside an on-chain transaction.
// Several events may share a Signature.
type TransferEvent struct {
	Signature   string    `json:"signature"`
	Slot        uint64    `json:"slot"`
	BlockTime   time.Time `json:"blockTime"`
	FromAddress string    `json:"fromAddress"`
	ToAddress   string    `json:"toAddress"`
	// Amount is in the token's smallest unit (lamports for SOL).
	Amount     uint64 `json:"amount"`
	Token      Token  `json:"token"`
	NetworkFee uint64 `json:"networkFee"`
	// Memo is empty when the transaction carried none.
	Memo string `json:"memo,omitempty"`
	// Raw is the provider document the event was decoded from.
	Raw json.RawMessage `json:"-"`
}

// SettlementRecord is the append-only outcome of reconciling one TransferEvent.
type SettlementRecord struct {
	ID           string          `json:"id"`
	Signature    string          `json:"signature"`
	MerchantID   string          `json:"merchantId"`
	ObligationID *string         `json:"obligationId"`
	Amount       uint64          `json:"amount"`
	Token        Token           `json:"token"`
	Direction    Direction       `json:"direction"`
	MatchReason  MatchReason     `json:"matchReason"`
	FromAddress  string          `json:"fromAddress"`
	ToAddress    string          `json:"toAddress"`
	Slot         uint64          `json:"slot"`
	BlockTime    time.Time       `json:"blockTime"`
	Raw          json.RawMessage `json:"raw,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// SplitResult divides a gross amount; MerchantAmount+PlatformAmount == Gross.
type SplitResult struct {
	Gross          uint64 `json:"gross"`
	MerchantAmount uint64 `json:"merchantAmount"`
	PlatformAmount uint64 `json:"platformAmount"`
	FeeRateBps     int64  `json:"feeRateBps"`
}

package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

// ObligationKind distinguishes the three things a payer can settle.
type ObligationKind uint8

const (
	KindUnknown ObligationKind = iota
	KindInvoice
	KindPaymentLink
	KindPaymentRequest
)

func (k ObligationKind) String() string {
	switch k {
	case KindInvoice:
		return "invoice"
	case KindPaymentLink:
		return "payment_link"
	case KindPaymentRequest:
		return "payment_request"
	default:
		return "unknown"
	}
}

func ParseObligationKind(s string) (ObligationKind, error) {
	switch s {
	case "invoice":
		return KindInvoice, nil
	case "payment_link":
		return KindPaymentLink, nil
	case "payment_request":
		return KindPaymentRequest, nil
	default:
		return KindUnknown, fmt.Errorf("unknown obligation kind %q", s)
	}
}

func (k ObligationKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *ObligationKind) UnmarshalText(b []byte) error {
	v, err := ParseObligationKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ObligationStatus: pending -> paid | cancelled | expired. All three targets are terminal.
type ObligationStatus uint8

const (
	StatusUnknown ObligationStatus = iota
	StatusPending
	StatusPaid
	StatusCancelled
	StatusExpired
)

func (s ObligationStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusPaid:
		return "paid"
	case StatusCancelled:
		return "cancelled"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

func ParseObligationStatus(s string) (ObligationStatus, error) {
	switch s {
	case "pending":
		return StatusPending, nil
	case "paid":
		return StatusPaid, nil
	case "cancelled":
		return StatusCancelled, nil
	case "expired":
		return StatusExpired, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown obligation status %q", s)
	}
}

func (s ObligationStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *ObligationStatus) UnmarshalText(b []byte) error {
	v, err := ParseObligationStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Terminal reports whether no further transition is allowed.
func (s ObligationStatus) Terminal() bool {
	switch s {
	case StatusPaid, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s -> to is an edge of the state machine.
func (s ObligationStatus) CanTransition(to ObligationStatus) bool {
	if s != StatusPending {
		return false
	}
	switch to {
	case StatusPaid, StatusCancelled, StatusExpired:
		return true
	default:
		return false
	}
}

// Merchant owns a receiving wallet and obligations.
type Merchant struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	WalletAddress string `json:"walletAddress"`
	// FeeRateBps overrides the platform default when set.
	FeeRateBps *int64 `json:"feeRateBps,omitempty"`
}

// Payment is the on-chain evidence stamped onto an obligation when it is paid.
type Payment struct {
	Amount       uint64    `json:"amount"`
	Token        Token     `json:"token"`
	PayerAddress string    `json:"payerAddress"`
	Signature    string    `json:"signature"`
	PaidAt       time.Time `json:"paidAt"`
}

// Obligation is an invoice, payment link or payment request awaiting payment.
type Obligation struct {
	ID          string         `json:"id"`
	Kind        ObligationKind `json:"kind"`
	MerchantID  string         `json:"merchantId"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	// ExpectedAmount is in the token's smallest unit; nil for variable-amount links.
	ExpectedAmount *uint64          `json:"expectedAmount,omitempty"`
	Token          Token            `json:"token"`
	Memo           string           `json:"memo,omitempty"`
	Status         ObligationStatus `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	Payment        *Payment         `json:"payment,omitempty"`
}

// VariableAmount is true when the payer chooses the amount.
func (o *Obligation) VariableAmount() bool {
	return o.ExpectedAmount == nil
}

// ReferenceMemo is the text embedded on-chain and used as the matching key:
// the merchant-assigned memo, or the obligation id when none was assigned.
func (o *Obligation) ReferenceMemo() string {
	if o.Memo != "" {
		return o.Memo
	}
	return o.ID
}

// Payable is true while the obligation can still move to paid.
func (o *Obligation) Payable() bool {
	return o.Status.CanTransition(StatusPaid)
}

// MarkPaid applies the pending -> paid edge.
func (o *Obligation) MarkPaid(p Payment) error {
	if !o.Status.CanTransition(StatusPaid) {
		return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, o.ID, o.Status)
	}
	o.Status = StatusPaid
	o.Payment = &p
	return nil
}

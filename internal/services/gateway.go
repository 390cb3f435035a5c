package services

import (
	"context"

	"BlinkPay/internal/models"
)

// Store is the obligation store gateway. Implementations return
// ErrStoreUnavailable (wrapped) for infrastructure failures and
// ErrUnknownMerchant / ErrObligationNotFound for missing rows.
type Store interface {
	// SettlementExists reports whether a record for this signature leg is already persisted.
	SettlementExists(ctx context.Context, signature, toAddress string, token models.Token) (bool, error)
	MerchantByAddress(ctx context.Context, address string) (*models.Merchant, error)
	Merchant(ctx context.Context, id string) (*models.Merchant, error)
	Obligation(ctx context.Context, id string) (*models.Obligation, error)
	// PendingObligations returns the merchant's pending obligations in token, oldest first.
	PendingObligations(ctx context.Context, merchantID string, token models.Token) ([]models.Obligation, error)
	// WithinUnitOfWork runs fn atomically; any error rolls back every write made through uow.
	WithinUnitOfWork(ctx context.Context, fn func(uow UnitOfWork) error) error
}

// UnitOfWork is the write side used inside one atomic step.
type UnitOfWork interface {
	// InsertSettlement returns ErrAlreadySettled when the signature leg already exists.
	InsertSettlement(ctx context.Context, rec *models.SettlementRecord) error
	// MarkPaid moves a pending obligation to paid with a status compare-and-swap.
	// It returns ErrConcurrentClaim when the obligation is no longer pending.
	MarkPaid(ctx context.Context, obligationID string, p models.Payment) error
}

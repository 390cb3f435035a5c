package services

import "errors"

var (
	ErrAuthenticationFailure = errors.New("webhook authentication failed")
	ErrDecodeFailure         = errors.New("decode failure")
	ErrMalformedPayload      = errors.New("malformed webhook payload")
	ErrUnknownMerchant       = errors.New("unknown merchant")
	ErrUnknownToken          = errors.New("unknown token")
	ErrNoMatch               = errors.New("no matching obligation")
	ErrAlreadySettled        = errors.New("already settled")
	ErrConcurrentClaim       = errors.New("obligation claimed concurrently")
	ErrInvalidRequest        = errors.New("invalid request")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrObligationNotFound    = errors.New("obligation not found")
	ErrObligationNotPayable  = errors.New("obligation is not payable")
)

// IsRetryable reports whether the provider should redeliver the event.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrConcurrentClaim)
}

// IsPayerVisible reports whether err may be shown verbatim to a payer.
func IsPayerVisible(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrObligationNotFound) ||
		errors.Is(err, ErrObligationNotPayable) ||
		errors.Is(err, ErrUnknownToken)
}

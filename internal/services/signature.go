package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// VerifyResult separates a real pass from the unconfigured pass-through.
type VerifyResult uint8

const (
	VerifyRejected VerifyResult = iota
	VerifyPassed
	VerifyDisabled
)

func (r VerifyResult) String() string {
	switch r {
	case VerifyPassed:
		return "verified"
	case VerifyDisabled:
		return "disabled"
	default:
		return "rejected"
	}
}

// Accepted is true for both a verified and a disabled check.
func (r VerifyResult) Accepted() bool {
	return r == VerifyPassed || r == VerifyDisabled
}

// Verify reports whether providedSignature is the hex HMAC-SHA256 of rawBody
// under sharedSecret. An empty secret disables verification.
func Verify(rawBody []byte, providedSignature, sharedSecret string) bool {
	return CheckSignature(rawBody, providedSignature, sharedSecret).Accepted()
}

// CheckSignature is Verify with the disabled case made explicit.
func CheckSignature(rawBody []byte, providedSignature, sharedSecret string) VerifyResult {
	if sharedSecret == "" {
		return VerifyDisabled
	}

	sig := strings.TrimSpace(providedSignature)
	sig = strings.TrimPrefix(sig, "sha256=")
	if sig == "" {
		return VerifyRejected
	}
	sigBytes, err := hex.DecodeString(sig)
	if err != nil {
		return VerifyRejected
	}

	mac := hmac.New(sha256.New, []byte(sharedSecret))
	mac.Write(rawBody)
	if !hmac.Equal(mac.Sum(nil), sigBytes) {
		return VerifyRejected
	}
	return VerifyPassed
}

// Sign computes the header value for body; used by tests and local tooling.
func Sign(body []byte, sharedSecret string) string {
	mac := hmac.New(sha256.New, []byte(sharedSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

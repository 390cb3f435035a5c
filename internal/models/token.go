package models

import (
	"fmt"
	"strings"
)

// Token is the closed set of assets the platform accepts. Adding a member
// means revisiting every switch over Token (decimals, registry, leg builder).
type Token uint8

const (
	TokenUnknown Token = iota
	TokenSOL
	TokenUSDC
	TokenUSDT
)

// AllTokens lists every accepted asset in a stable order.
func AllTokens() []Token {
	return []Token{TokenSOL, TokenUSDC, TokenUSDT}
}

func (t Token) String() string {
	switch t {
	case TokenSOL:
		return "SOL"
	case TokenUSDC:
		return "USDC"
	case TokenUSDT:
		return "USDT"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is a member of the allow-list.
func (t Token) Valid() bool {
	switch t {
	case TokenSOL, TokenUSDC, TokenUSDT:
		return true
	default:
		return false
	}
}

// IsNative is true for the chain's native asset (lamports).
func (t Token) IsNative() bool {
	return t == TokenSOL
}

// Decimals is the number of decimal places of the smallest unit.
func (t Token) Decimals() int32 {
	switch t {
	case TokenSOL:
		return 9
	case TokenUSDC, TokenUSDT:
		return 6
	default:
		return 0
	}
}

// ParseToken accepts a case-insensitive symbol.
func ParseToken(s string) (Token, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SOL":
		return TokenSOL, nil
	case "USDC":
		return TokenUSDC, nil
	case "USDT":
		return TokenUSDT, nil
	default:
		return TokenUnknown, fmt.Errorf("unsupported token %q", s)
	}
}

func (t Token) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("unsupported token %d", uint8(t))
	}
	return []byte(t.String()), nil
}

func (t *Token) UnmarshalText(b []byte) error {
	v, err := ParseToken(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

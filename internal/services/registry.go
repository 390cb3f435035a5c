package services

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"BlinkPay/internal/models"
)

// Mainnet mints used when the config does not override them.
const (
	MainnetUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	MainnetUSDTMint = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// TokenRegistry is the allow-list of fungible mints.
type TokenRegistry struct {
	mints  map[models.Token]solana.PublicKey
	byMint map[string]models.Token
}

// NewTokenRegistry parses the configured mint per fungible token.
// Empty values fall back to mainnet mints.
func NewTokenRegistry(usdcMint, usdtMint string) (*TokenRegistry, error) {
	if usdcMint == "" {
		usdcMint = MainnetUSDCMint
	}
	if usdtMint == "" {
		usdtMint = MainnetUSDTMint
	}

	r := &TokenRegistry{
		mints:  make(map[models.Token]solana.PublicKey),
		byMint: make(map[string]models.Token),
	}
	for tok, mint := range map[models.Token]string{
		models.TokenUSDC: usdcMint,
		models.TokenUSDT: usdtMint,
	} {
		pk, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			return nil, fmt.Errorf("parse %s mint: %w", tok, err)
		}
		r.mints[tok] = pk
		r.byMint[pk.String()] = tok
	}
	return r, nil
}

// TokenForMint resolves a fungible mint; ok is false for unrecognized mints.
func (r *TokenRegistry) TokenForMint(mint string) (models.Token, bool) {
	t, ok := r.byMint[mint]
	return t, ok
}

// Mint returns the mint of a fungible token.
func (r *TokenRegistry) Mint(t models.Token) (solana.PublicKey, error) {
	switch t {
	case models.TokenUSDC, models.TokenUSDT:
		pk, ok := r.mints[t]
		if !ok {
			return solana.PublicKey{}, fmt.Errorf("%w: %s has no mint", ErrUnknownToken, t)
		}
		return pk, nil
	case models.TokenSOL:
		return solana.PublicKey{}, fmt.Errorf("%w: %s is native", ErrUnknownToken, t)
	default:
		return solana.PublicKey{}, fmt.Errorf("%w: %s", ErrUnknownToken, t)
	}
}

package services

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"BlinkPay/internal/models"
	"BlinkPay/utils"
)

// decodeWireTx parses the base64 transaction handed to a wallet.
func decodeWireTx(t *testing.T, b64 string) *solana.Transaction {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(b64)
	require.NoError(t, err)
	tx, err := utils.DecodeTx(data)
	require.NoError(t, err)
	return tx
}

// MockStore is an in-memory Store. WithinUnitOfWork stages writes and only
// applies them when fn returns nil.
type MockStore struct {
	mu          sync.Mutex
	merchants   map[string]models.Merchant
	obligations map[string]models.Obligation
	settlements []models.SettlementRecord

	// FailInsert fails InsertSettlement for the given signature.
	FailInsert map[string]error
	// FailMarkPaid fails MarkPaid for the given obligation.
	FailMarkPaid map[string]error
	// FailPending fails every PendingObligations call.
	FailPending error
	// BeforeMarkPaid runs inside MarkPaid with the lock held.
	BeforeMarkPaid func(obligations map[string]models.Obligation, id string)

	UnitsOfWork int
}

func NewMockStore() *MockStore {
	return &MockStore{
		merchants:    make(map[string]models.Merchant),
		obligations:  make(map[string]models.Obligation),
		FailInsert:   make(map[string]error),
		FailMarkPaid: make(map[string]error),
	}
}

func (s *MockStore) AddMerchant(m models.Merchant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merchants[m.ID] = m
}

func (s *MockStore) AddObligation(o models.Obligation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obligations[o.ID] = o
}

func (s *MockStore) Get(id string) models.Obligation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.obligations[id]
}

func (s *MockStore) Settlements() []models.SettlementRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SettlementRecord, len(s.settlements))
	copy(out, s.settlements)
	return out
}

func (s *MockStore) SettlementExists(_ context.Context, signature, toAddress string, token models.Token) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.settlements {
		if r.Signature == signature && r.ToAddress == toAddress && r.Token == token {
			return true, nil
		}
	}
	return false, nil
}

func (s *MockStore) MerchantByAddress(_ context.Context, address string) (*models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.merchants {
		if m.WalletAddress == address {
			m := m
			return &m, nil
		}
	}
	return nil, ErrUnknownMerchant
}

func (s *MockStore) Merchant(_ context.Context, id string) (*models.Merchant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.merchants[id]
	if !ok {
		return nil, ErrUnknownMerchant
	}
	return &m, nil
}

func (s *MockStore) Obligation(_ context.Context, id string) (*models.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.obligations[id]
	if !ok {
		return nil, ErrObligationNotFound
	}
	return &o, nil
}

func (s *MockStore) PendingObligations(_ context.Context, merchantID string, token models.Token) ([]models.Obligation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailPending != nil {
		return nil, s.FailPending
	}
	var out []models.Obligation
	for _, o := range s.obligations {
		if o.MerchantID == merchantID && o.Token == token && o.Status == models.StatusPending {
			out = append(out, o)
		}
	}
	return out, nil
}

func (s *MockStore) WithinUnitOfWork(_ context.Context, fn func(uow UnitOfWork) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.UnitsOfWork++

	uow := &mockUoW{store: s, paid: make(map[string]models.Payment)}
	if err := fn(uow); err != nil {
		return err
	}
	s.settlements = append(s.settlements, uow.inserted...)
	for id, p := range uow.paid {
		o := s.obligations[id]
		if err := o.MarkPaid(p); err != nil {
			return err
		}
		s.obligations[id] = o
	}
	return nil
}

type mockUoW struct {
	store    *MockStore
	inserted []models.SettlementRecord
	paid     map[string]models.Payment
}

func (u *mockUoW) InsertSettlement(_ context.Context, rec *models.SettlementRecord) error {
	if err := u.store.FailInsert[rec.Signature]; err != nil {
		return err
	}
	for _, set := range [][]models.SettlementRecord{u.store.settlements, u.inserted} {
		for _, r := range set {
			if r.Signature == rec.Signature && r.MerchantID == rec.MerchantID &&
				r.ToAddress == rec.ToAddress && r.Token == rec.Token {
				return ErrAlreadySettled
			}
		}
	}
	u.inserted = append(u.inserted, *rec)
	return nil
}

func (u *mockUoW) MarkPaid(_ context.Context, id string, p models.Payment) error {
	if err := u.store.FailMarkPaid[id]; err != nil {
		return err
	}
	if u.store.BeforeMarkPaid != nil {
		u.store.BeforeMarkPaid(u.store.obligations, id)
	}
	o, ok := u.store.obligations[id]
	if !ok || o.Status != models.StatusPending {
		return ErrConcurrentClaim
	}
	if _, dup := u.paid[id]; dup {
		return ErrConcurrentClaim
	}
	u.paid[id] = p
	return nil
}

// MockChain is a Chain with a fixed blockhash and a set of existing accounts.
type MockChain struct {
	mu        sync.Mutex
	Blockhash solana.Hash
	Existing  map[solana.PublicKey]bool
	Err       error
	Lookups   int
}

func (c *MockChain) LatestBlockhash(context.Context) (solana.Hash, error) {
	if c.Err != nil {
		return solana.Hash{}, c.Err
	}
	return c.Blockhash, nil
}

func (c *MockChain) AccountExists(_ context.Context, account solana.PublicKey) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lookups++
	if c.Err != nil {
		return false, c.Err
	}
	return c.Existing[account], nil
}

var errStoreDown = errors.New("connection refused")

func u64(v uint64) *uint64 { return &v }

func at(sec int) time.Time {
	return time.Date(2024, 5, 1, 12, 0, sec, 0, time.UTC)
}

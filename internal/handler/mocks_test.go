package handler

import (
	"context"
	"errors"
	"sync"

	"BlinkPay/internal/models"
	"BlinkPay/internal/services"
)

var errMockStore = errors.New("connection refused")

// MockReconciler records every batch it receives.
type MockReconciler struct {
	mu      sync.Mutex
	Batches [][]models.TransferEvent
	Report  func(batch []models.TransferEvent) services.ReconcileReport
}

func (m *MockReconciler) Reconcile(_ context.Context, batch []models.TransferEvent) services.ReconcileReport {
	m.mu.Lock()
	m.Batches = append(m.Batches, batch)
	m.mu.Unlock()
	if m.Report != nil {
		return m.Report(batch)
	}
	results := make([]services.EventResult, len(batch))
	for i, ev := range batch {
		results[i] = services.EventResult{Signature: ev.Signature, ToAddress: ev.ToAddress, Token: ev.Token, Outcome: services.OutcomeSettled}
	}
	return services.ReconcileReport{Results: results}
}

func (m *MockReconciler) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Batches)
}

type MockActions struct {
	DescribeFunc func(ctx context.Context, id string) (*models.ActionGetResponse, error)
	PayFunc      func(ctx context.Context, id, account, amount string) (*models.ActionPostResponse, error)
}

func (m *MockActions) Describe(ctx context.Context, id string) (*models.ActionGetResponse, error) {
	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, id)
	}
	return nil, services.ErrObligationNotFound
}

func (m *MockActions) Pay(ctx context.Context, id, account, amount string) (*models.ActionPostResponse, error) {
	if m.PayFunc != nil {
		return m.PayFunc(ctx, id, account, amount)
	}
	return nil, services.ErrObligationNotFound
}

func (m *MockActions) Manifest() models.ActionsManifest {
	return models.ActionsManifest{Rules: []models.ActionRule{{PathPattern: "/pay/*", APIPath: services.ActionPathPrefix + "*"}}}
}

type MockRecords struct {
	Obligations map[string]models.Obligation
	Settlements []models.SettlementRecord
	Err         error
}

func (m *MockRecords) Obligation(_ context.Context, id string) (*models.Obligation, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	o, ok := m.Obligations[id]
	if !ok {
		return nil, services.ErrObligationNotFound
	}
	return &o, nil
}

func (m *MockRecords) SettlementsBySignature(_ context.Context, signature string) ([]models.SettlementRecord, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.SettlementRecord
	for _, r := range m.Settlements {
		if r.Signature == signature {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MockRecords) SettlementsByObligation(_ context.Context, obligationID string) ([]models.SettlementRecord, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []models.SettlementRecord
	for _, r := range m.Settlements {
		if r.ObligationID != nil && *r.ObligationID == obligationID {
			out = append(out, r)
		}
	}
	return out, nil
}

type MockProbe struct {
	PingErr   error
	HealthErr error
	Slot      uint64
}

func (m *MockProbe) Ping(context.Context) error { return m.PingErr }

func (m *MockProbe) LatestSettledSlot(context.Context) (uint64, error) { return m.Slot, nil }

func (m *MockProbe) Health(context.Context) error { return m.HealthErr }

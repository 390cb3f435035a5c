package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BlinkPay/internal/metrics"
	"BlinkPay/internal/models"
	"BlinkPay/internal/services"
)

const testSecret = "whsec_test"

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router     *gin.Engine
	reconciler *MockReconciler
	actions    *MockActions
	records    *MockRecords
	probe      *MockProbe
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	reg, err := services.NewTokenRegistry("", "")
	require.NoError(t, err)

	env := &testEnv{
		reconciler: &MockReconciler{},
		actions:    &MockActions{},
		records:    &MockRecords{Obligations: map[string]models.Obligation{}},
		probe:      &MockProbe{Slot: 250},
	}
	deps := Deps{
		Decoder:     services.NewDecoder(reg, nil),
		Reconciler:  env.reconciler,
		Actions:     env.actions,
		Records:     env.records,
		DB:          env.probe,
		Chain:       env.probe,
		WebhookAuth: WebhookConfig{Secret: testSecret},
	}
	if mutate != nil {
		mutate(&deps)
	}

	env.router = gin.New()
	RegisterRoutes(env.router, New(deps))
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	if req.RemoteAddr == "" || strings.HasPrefix(req.RemoteAddr, "192.0.2.") {
		req.RemoteAddr = "127.0.0.1:40000"
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func webhookBody(sig string) []byte {
	return []byte(fmt.Sprintf(`[{
		"signature": %q,
		"slot": 250,
		"timestamp": 1714564800,
		"fee": 5000,
		"nativeTransfers": [{"fromUserAccount": "PayerWallet1", "toUserAccount": "MerchantWallet1", "amount": 1000000000}],
		"tokenTransfers": [],
		"instructions": []
	}]`, sig))
}

func webhookRequest(body []byte, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(DefaultSignatureHeader, signature)
	}
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(t, nil)
	body := webhookBody("sig-1")

	for _, sig := range []string{"", "deadbeef", services.Sign(body, "other-secret")} {
		w := env.do(webhookRequest(body, sig))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	assert.Zero(t, env.reconciler.Calls(), "nothing is reconciled before verification")
}

func TestWebhookReconcilesVerifiedBatch(t *testing.T) {
	env := newTestEnv(t, nil)
	body := webhookBody("sig-1")

	w := env.do(webhookRequest(body, services.Sign(body, testSecret)))
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[models.WebhookResponse](t, w)
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.Processed)
	assert.Zero(t, resp.Failed)

	require.Equal(t, 1, env.reconciler.Calls())
	ev := env.reconciler.Batches[0][0]
	assert.Equal(t, "sig-1", ev.Signature)
	assert.Equal(t, uint64(1_000_000_000), ev.Amount)
	assert.Equal(t, models.TokenSOL, ev.Token)
}

func TestWebhookReportsFailuresWith200(t *testing.T) {
	env := newTestEnv(t, nil)
	env.reconciler.Report = func(batch []models.TransferEvent) services.ReconcileReport {
		return services.ReconcileReport{Results: []services.EventResult{
			{Signature: batch[0].Signature, Outcome: services.OutcomeFailed, Err: services.ErrStoreUnavailable},
		}}
	}
	// second document lacks a signature and fails to decode
	body := []byte(`[{"signature":"sig-1","nativeTransfers":[{"fromUserAccount":"a","toUserAccount":"b","amount":5}]},{"slot":1}]`)

	w := env.do(webhookRequest(body, services.Sign(body, testSecret)))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[models.WebhookResponse](t, w)
	assert.True(t, resp.Success)
	assert.Zero(t, resp.Processed)
	assert.Equal(t, 2, resp.Failed)
}

func TestWebhookMalformedPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	body := []byte(`{"not":"an array"}`)

	w := env.do(webhookRequest(body, services.Sign(body, testSecret)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, env.reconciler.Calls())
}

func TestWebhookBodyLimit(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.MaxWebhookBody = 64 })
	body := webhookBody("sig-1")
	require.Greater(t, len(body), 64)

	w := env.do(webhookRequest(body, services.Sign(body, testSecret)))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode[models.ErrorEnvelope](t, w).Error.Message, "too large")
	assert.Zero(t, env.reconciler.Calls(), "a truncated batch is never reconciled")
}

func TestWebhookUnreadableBody(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhook", iotest.ErrReader(errors.New("connection reset")))
	w := env.do(req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, env.reconciler.Calls())
}

func TestWebhookVerificationDisabled(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.WebhookAuth = WebhookConfig{SignatureHeader: "x-custom-signature"}
	})

	w := env.do(webhookRequest(webhookBody("sig-1"), ""))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, env.reconciler.Calls())
}

func TestWebhookCustomHeader(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.WebhookAuth.SignatureHeader = "x-custom-signature"
	})
	body := webhookBody("sig-1")

	req := webhookRequest(body, "")
	req.Header.Set("x-custom-signature", "sha256="+services.Sign(body, testSecret))
	assert.Equal(t, http.StatusOK, env.do(req).Code)

	// the default header is ignored once a custom one is configured
	assert.Equal(t, http.StatusUnauthorized, env.do(webhookRequest(body, services.Sign(body, testSecret))).Code)
}

func TestActionGet(t *testing.T) {
	env := newTestEnv(t, nil)
	env.actions.DescribeFunc = func(_ context.Context, id string) (*models.ActionGetResponse, error) {
		return &models.ActionGetResponse{Type: "action", Title: "Latte", Label: "Pay 4.5 USDC", Token: "USDC"}, nil
	}

	req := httptest.NewRequest(http.MethodGet, "/api/actions/pay/inv-1", nil)
	req.Header.Set("Origin", "https://dial.to")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, actionVersion, w.Header().Get("X-Action-Version"))
	assert.Equal(t, "Latte", decode[models.ActionGetResponse](t, w).Title)
}

func TestActionGetNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/actions/pay/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.NotEmpty(t, decode[models.ErrorEnvelope](t, w).Error.Message)
}

func TestActionPost(t *testing.T) {
	env := newTestEnv(t, nil)
	var gotAccount, gotAmount string
	env.actions.PayFunc = func(_ context.Context, id, account, amount string) (*models.ActionPostResponse, error) {
		gotAccount, gotAmount = account, amount
		return &models.ActionPostResponse{Transaction: "AQID", Message: "Pay 1 SOL to Coffee"}, nil
	}

	req := httptest.NewRequest(http.MethodPost, "/api/actions/pay/link-1?amount=2.5",
		strings.NewReader(`{"account":"PayerWallet1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := env.do(req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AQID", decode[models.ActionPostResponse](t, w).Transaction)
	assert.Equal(t, "PayerWallet1", gotAccount)
	assert.Equal(t, "2.5", gotAmount, "query amount used when the body has none")

	req = httptest.NewRequest(http.MethodPost, "/api/actions/pay/link-1?amount=2.5",
		strings.NewReader(`{"account":"PayerWallet1","amount":"7"}`))
	require.Equal(t, http.StatusOK, env.do(req).Code)
	assert.Equal(t, "7", gotAmount)

	// 金额也可以是 JSON 数字
	req = httptest.NewRequest(http.MethodPost, "/api/actions/pay/link-1",
		strings.NewReader(`{"account":"PayerWallet1","amount":2.5}`))
	require.Equal(t, http.StatusOK, env.do(req).Code)
	assert.Equal(t, "2.5", gotAmount)

	req = httptest.NewRequest(http.MethodPost, "/api/actions/pay/link-1",
		strings.NewReader(`{"account":"PayerWallet1","amount":null}`))
	require.Equal(t, http.StatusOK, env.do(req).Code)
	assert.Empty(t, gotAmount)
}

func TestActionPostErrors(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"missing account", `{}`, nil, http.StatusBadRequest, "account is required"},
		{"malformed body", `{"account":"x","amount":true}`, nil, http.StatusBadRequest, "malformed body"},
		{"not json", `account=x`, nil, http.StatusBadRequest, "malformed body"},
		{"invalid request", `{"account":"x"}`, fmt.Errorf("%w: amount is required", services.ErrInvalidRequest), http.StatusBadRequest, "amount is required"},
		{"not payable", `{"account":"x"}`, fmt.Errorf("%w: invoice is paid", services.ErrObligationNotPayable), http.StatusBadRequest, "invoice is paid"},
		{"not found", `{"account":"x"}`, services.ErrObligationNotFound, http.StatusNotFound, "not found"},
		{"store down", `{"account":"x"}`, fmt.Errorf("%w: dial tcp 10.0.0.5:3306", services.ErrStoreUnavailable), http.StatusInternalServerError, "internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.actions.PayFunc = func(context.Context, string, string, string) (*models.ActionPostResponse, error) {
				return nil, tt.err
			}
			req := httptest.NewRequest(http.MethodPost, "/api/actions/pay/inv-1", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			w := env.do(req)

			assert.Equal(t, tt.wantCode, w.Code)
			msg := decode[models.ErrorEnvelope](t, w).Error.Message
			assert.Contains(t, msg, tt.wantMsg)
			assert.NotContains(t, msg, "10.0.0.5")
		})
	}
}

func TestActionPreflight(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/actions/pay/inv-1", nil)
	req.Header.Set("Origin", "https://dial.to")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := env.do(req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestActionsManifest(t *testing.T) {
	env := newTestEnv(t, nil)
	w := env.do(httptest.NewRequest(http.MethodGet, "/actions.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[models.ActionsManifest](t, w)
	require.Len(t, m.Rules, 1)
	assert.Equal(t, "/pay/*", m.Rules[0].PathPattern)
}

func TestSettlementLookups(t *testing.T) {
	env := newTestEnv(t, nil)
	id := "inv-1"
	env.records.Obligations[id] = models.Obligation{ID: id, Status: models.StatusPaid, Token: models.TokenSOL}
	env.records.Settlements = []models.SettlementRecord{
		{ID: "r-1", Signature: "sig-1", ObligationID: &id, Direction: models.DirectionPayment, Token: models.TokenSOL},
		{ID: "r-2", Signature: "sig-1", ObligationID: &id, Direction: models.DirectionFee, Token: models.TokenSOL},
	}

	w := env.do(httptest.NewRequest(http.MethodGet, "/settlements/sig-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
	bySig := decode[struct {
		Settlements []models.SettlementRecord `json:"settlements"`
	}](t, w)
	assert.Len(t, bySig.Settlements, 2)

	w = env.do(httptest.NewRequest(http.MethodGet, "/obligations/inv-1/settlements", nil))
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNotFound, env.do(httptest.NewRequest(http.MethodGet, "/settlements/sig-404", nil)).Code)
	assert.Equal(t, http.StatusNotFound, env.do(httptest.NewRequest(http.MethodGet, "/obligations/nope/settlements", nil)).Code)

	env.records.Err = fmt.Errorf("%w: %v", services.ErrStoreUnavailable, errMockStore)
	assert.Equal(t, http.StatusInternalServerError, env.do(httptest.NewRequest(http.MethodGet, "/settlements/sig-1", nil)).Code)
}

func TestSettlementLookupsAreLocalOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/settlements/sig-1", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	assert.Equal(t, http.StatusForbidden, env.do(req).Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	assert.Equal(t, http.StatusOK, env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)).Code)

	w := env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 250, decode[map[string]interface{}](t, w)["latest_settled_slot"])

	env.probe.HealthErr = fmt.Errorf("rpc down")
	assert.Equal(t, http.StatusServiceUnavailable, env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	env.probe.HealthErr = nil
	env.probe.PingErr = errMockStore
	assert.Equal(t, http.StatusServiceUnavailable, env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)
}

func TestReadyzWaitsForWarmup(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.ReadyDelay = time.Hour })
	w := env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "starting up", decode[map[string]interface{}](t, w)["message"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	require.NoError(t, err)
	env := newTestEnv(t, func(d *Deps) {
		d.Metrics = rec
		d.Gatherer = reg
	})

	body := webhookBody("sig-1")
	require.Equal(t, http.StatusOK, env.do(webhookRequest(body, services.Sign(body, testSecret))).Code)

	w := env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "blinkpay_events_total")
	assert.Contains(t, w.Body.String(), `outcome="verified"`)
	assert.Contains(t, w.Body.String(), `type="webhook_verify"`)
}

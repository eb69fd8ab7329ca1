package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"promptmeter/internal/model"
)

type mockService struct {
	outcome  model.Outcome
	account  *model.UserAccount
	err      error
	lastText string
	calls    int
	created  int
}

func (m *mockService) HandleRequest(ctx context.Context, userID int64, profile model.Profile, text string) model.Outcome {
	m.calls++
	m.lastText = text
	out := m.outcome
	out.UserID = userID
	return out
}

func (m *mockService) Account(ctx context.Context, userID int64, profile model.Profile) (*model.UserAccount, error) {
	m.created++
	return m.account, m.err
}

func (m *mockService) Lookup(ctx context.Context, userID int64) (*model.UserAccount, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.account == nil {
		return nil, model.ErrAccountNotFound
	}
	return m.account, nil
}

func (m *mockService) Credit(ctx context.Context, req model.CreditRequest) (*model.CreditResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &model.CreditResult{NewBalance: req.Amount, Status: "SUCCESS"}, nil
}

func serve(svc *mockService, method, target, body string) *httptest.ResponseRecorder {
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestFulfill_StatusFollowsOutcome(t *testing.T) {
	tests := []struct {
		outcome model.Outcome
		status  int
	}{
		{model.Fulfilled("hello", 2), http.StatusOK},
		{model.InsufficientBalance(0), http.StatusPaymentRequired},
		{model.GatewayFailure(model.ReasonRateLimited), http.StatusBadGateway},
		{model.SystemFailure(model.ReasonDebitInconsistency), http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(string(tt.outcome.Kind), func(t *testing.T) {
			svc := &mockService{outcome: tt.outcome}

			rec := serve(svc, http.MethodPost, "/requests", `{"user_id":7,"text":"  hi  "}`)

			assert.Equal(t, tt.status, rec.Code)
			var out model.Outcome
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
			assert.Equal(t, tt.outcome.Kind, out.Kind)
			assert.Equal(t, int64(7), out.UserID)
			assert.Equal(t, "hi", svc.lastText)
		})
	}
}

func TestFulfill_RejectsBadInput(t *testing.T) {
	tests := map[string]string{
		"invalid json": `{`,
		"no user":      `{"text":"hi"}`,
		"empty text":   `{"user_id":7,"text":"   "}`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			svc := &mockService{}

			rec := serve(svc, http.MethodPost, "/requests", body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, 0, svc.calls)
		})
	}
}

func TestGetBalance(t *testing.T) {
	svc := &mockService{account: &model.UserAccount{UserID: 7, Balance: 3, TotalRequests: 4}}

	rec := serve(svc, http.MethodGet, "/balance?user_id=7", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]int64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, int64(3), body["balance"])
	assert.Equal(t, int64(4), body["total_requests"])

	rec = serve(svc, http.MethodGet, "/balance", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0, svc.created)
}

func TestGetBalance_UnknownUserIsNotRegistered(t *testing.T) {
	svc := &mockService{}

	rec := serve(svc, http.MethodGet, "/balance?user_id=99", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, 0, svc.created)
}

func TestErrorsDoNotLeakInternals(t *testing.T) {
	err := fmt.Errorf("%w: select user: failed to connect to `host=db user=app`: dial tcp: refused", model.ErrLedgerUnavailable)

	for _, rec := range []*httptest.ResponseRecorder{
		serve(&mockService{err: err}, http.MethodGet, "/balance?user_id=7", ""),
		serve(&mockService{err: err}, http.MethodPost, "/credit", `{"user_id":7,"amount":10}`),
	} {
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
		assert.Equal(t, "ledger_unavailable", body["error"])
	}
}

func TestCredit(t *testing.T) {
	rec := serve(&mockService{}, http.MethodPost, "/credit", `{"user_id":7,"amount":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var res model.CreditResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, int64(10), res.NewBalance)

	rec = serve(&mockService{err: model.ErrAccountNotFound}, http.MethodPost, "/credit", `{"user_id":7,"amount":10}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = serve(&mockService{err: model.ErrLedgerUnavailable}, http.MethodPost, "/credit", `{"user_id":7,"amount":10}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	rec := serve(&mockService{}, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = serve(&mockService{}, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

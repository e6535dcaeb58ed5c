package api

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
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"model-token-engine/internal/coordinator"
	"model-token-engine/internal/domain"
	"model-token-engine/internal/journal"
	"model-token-engine/internal/storage"
	"model-token-engine/internal/storage/memory"
)

const testSecret = "s3cret"

type fakeEngine struct {
	mintReq  coordinator.MintRequest
	burnReq  coordinator.BurnRequest
	tokenReq coordinator.CreateTokenRequest
	result   *coordinator.Result
	token    *coordinator.TokenResult
	wallet   *coordinator.Wallet
	err      error
}

func (f *fakeEngine) Mint(_ context.Context, req coordinator.MintRequest) (*coordinator.Result, error) {
	f.mintReq = req
	return f.result, f.err
}

func (f *fakeEngine) Burn(_ context.Context, req coordinator.BurnRequest) (*coordinator.Result, error) {
	f.burnReq = req
	return f.result, f.err
}

func (f *fakeEngine) CreateToken(_ context.Context, req coordinator.CreateTokenRequest) (*coordinator.TokenResult, error) {
	f.tokenReq = req
	return f.token, f.err
}

func (f *fakeEngine) InitWallet(context.Context) (*coordinator.Wallet, error) {
	return f.wallet, f.err
}

type harness struct {
	engine  *fakeEngine
	models  *memory.ModelStore
	events  *memory.EventStore
	history *memory.PriceHistoryStore
	journal *journal.Recorder
	handler http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()

	h := &harness{
		engine:  &fakeEngine{},
		models:  memory.NewModelStore(),
		events:  memory.NewEventStore(),
		history: memory.NewPriceHistoryStore(),
	}
	h.journal = journal.NewRecorder(h.events, logger)
	h.handler = NewServer(Options{
		Engine:      h.engine,
		Models:      h.models,
		Events:      h.events,
		History:     h.history,
		Journal:     h.journal,
		Logger:      logger,
		AppSecret:   testSecret,
		CORSOrigins: []string{"https://app.example"},
	}).Router()

	require.NoError(t, h.models.Insert(context.Background(), &domain.Model{
		ID:           "m1",
		Name:         "Model One",
		Type:         domain.ModelTypeText,
		TokenName:    "Model One",
		TokenSymbol:  "MONE",
		TokenAddress: "0xabc",
		QuotedPrice:  0.0000005,
		CreatedAt:    1,
		UpdatedAt:    1,
	}))
	return h
}

func (h *harness) do(method, path, body string, secret bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if secret {
		req.Header.Set(SecretHeader, testSecret)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/health", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]any](t, rec)["status"])
}

func TestMetricsRoute(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMutatingRoutesRequireSecret(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/v1/models/m1/mint", "/v1/models/m1/burn", "/v1/tokens", "/v1/wallets"} {
		t.Run(path, func(t *testing.T) {
			rec := h.do(http.MethodPost, path, `{}`, false)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)

			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{}`))
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(SecretHeader, "wrong")
			wrong := httptest.NewRecorder()
			h.handler.ServeHTTP(wrong, req)
			assert.Equal(t, http.StatusUnauthorized, wrong.Code)
		})
	}
}

func TestEmptySecretRejectsEverything(t *testing.T) {
	logger, _ := test.NewNullLogger()
	handler := NewServer(Options{Engine: &fakeEngine{}, Models: memory.NewModelStore(), Events: memory.NewEventStore(), Logger: logger}).Router()

	req := httptest.NewRequest(http.MethodPost, "/v1/wallets", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMint(t *testing.T) {
	h := newHarness(t)
	h.engine.result = &coordinator.Result{
		OperationID:     "op-1",
		TransactionHash: "0xhash",
		TokenAddress:    "0xabc",
		Kind:            domain.OperationMint,
		Amount:          decimal.RequireFromString("100"),
		NewPrice:        0.00000045,
		TotalSupply:     decimal.RequireFromString("1100"),
		PriceImpactPct:  -10,
		PriceUpdated:    true,
	}

	rec := h.do(http.MethodPost, "/v1/models/m1/mint", `{"amount":"100","intent":"market","recipientAddress":"0x1"}`, true)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	assert.Equal(t, "m1", h.engine.mintReq.ModelID)
	assert.Equal(t, domain.IntentMarket, h.engine.mintReq.Intent)
	assert.Equal(t, "0x1", h.engine.mintReq.Recipient)
	assert.True(t, h.engine.mintReq.Amount.Equal(decimal.NewFromInt(100)))

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "0xhash", body["transactionHash"])
	assert.Equal(t, "1100", body["totalSupply"])
	assert.Equal(t, true, body["priceUpdated"])
}

func TestMintAcceptsNumericAmount(t *testing.T) {
	h := newHarness(t)
	h.engine.result = &coordinator.Result{Kind: domain.OperationMint}

	rec := h.do(http.MethodPost, "/v1/models/m1/mint", `{"amount":2.5,"intent":"administrative"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, h.engine.mintReq.Amount.Equal(decimal.RequireFromString("2.5")))
}

func TestBurn(t *testing.T) {
	h := newHarness(t)
	h.engine.result = &coordinator.Result{Kind: domain.OperationBurn, NewPrice: 0.00000055, PriceUpdated: true}

	rec := h.do(http.MethodPost, "/v1/models/m1/burn", `{"amount":"100","userAddress":"0xuser"}`, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0xuser", h.engine.burnReq.UserAddress)
	assert.Equal(t, "burn", decode[map[string]any](t, rec)["kind"])
}

func TestMalformedBody(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/v1/models/m1/burn", `{"amount":`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWrongContentType(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/models/m1/burn", strings.NewReader(`amount=1`))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(SecretHeader, testSecret)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		status   int
		withHash bool
	}{
		{
			name:   "invalid request",
			err:    &coordinator.UpdateError{Stage: coordinator.StageValidate, Kind: coordinator.KindInvalidRequest, Err: errors.New("amount must be positive")},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown model",
			err:    &coordinator.UpdateError{Stage: coordinator.StageValidate, Kind: coordinator.KindInvalidRequest, Err: fmt.Errorf("model x: %w", storage.ErrNotFound)},
			status: http.StatusNotFound,
		},
		{
			name:   "duplicate model",
			err:    &coordinator.UpdateError{Stage: coordinator.StageValidate, Kind: coordinator.KindInvalidRequest, Err: fmt.Errorf("model x: %w", storage.ErrDuplicateKey)},
			status: http.StatusConflict,
		},
		{
			name:   "submission",
			err:    &coordinator.UpdateError{Stage: coordinator.StageLedger, Kind: coordinator.KindSubmission, Err: errors.New("connection refused")},
			status: http.StatusBadGateway,
		},
		{
			name:     "execution",
			err:      &coordinator.UpdateError{Stage: coordinator.StageLedger, Kind: coordinator.KindExecution, TransactionHash: "0xdead", Err: errors.New("EINSUFFICIENT_BALANCE")},
			status:   http.StatusUnprocessableEntity,
			withHash: true,
		},
		{
			name:     "supply unavailable",
			err:      &coordinator.UpdateError{Stage: coordinator.StageSupplyRead, Kind: coordinator.KindSupplyUnavailable, TransactionHash: "0xbeef", Err: errors.New("indexer down")},
			status:   http.StatusInternalServerError,
			withHash: true,
		},
		{
			name:     "persistence",
			err:      &coordinator.UpdateError{Stage: coordinator.StagePersist, Kind: coordinator.KindPersistence, TransactionHash: "0xbeef", Err: storage.ErrVersionConflict},
			status:   http.StatusInternalServerError,
			withHash: true,
		},
		{
			name:   "plain error",
			err:    errors.New("boom"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.engine.err = tt.err

			rec := h.do(http.MethodPost, "/v1/models/m1/burn", `{"amount":"1"}`, true)
			assert.Equal(t, tt.status, rec.Code)

			body := decode[map[string]any](t, rec)
			if tt.withHash {
				assert.NotEmpty(t, body["transactionHash"])
				assert.Equal(t, false, body["priceUpdated"])
			} else {
				assert.NotContains(t, body, "transactionHash")
			}
		})
	}
}

func TestCreateToken(t *testing.T) {
	h := newHarness(t)
	h.engine.token = &coordinator.TokenResult{
		OperationID:     "op-2",
		TransactionHash: "0xcreate",
		Model:           &domain.Model{ID: "m2", Name: "Two", Type: domain.ModelTypeImage, TokenAddress: "0xdef", QuotedPrice: 0.01},
	}

	rec := h.do(http.MethodPost, "/v1/tokens", `{"name":"Two","type":"image","tokenName":"Two","tokenSymbol":"TWO","keyRef":"static:0x1","initialPrice":0.01}`, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, domain.ModelTypeImage, h.engine.tokenReq.Type)
	assert.Equal(t, "static:0x1", h.engine.tokenReq.KeyRef)

	body := decode[map[string]any](t, rec)
	model := body["model"].(map[string]any)
	assert.Equal(t, "0xdef", model["tokenAddress"])
	assert.Equal(t, float64(1_000_000), model["purchaseCostOctas"])
}

func TestCreateWallet(t *testing.T) {
	h := newHarness(t)
	h.engine.wallet = &coordinator.Wallet{Address: "0x1", PublicKey: "0xpub", KeyRef: "static:0x1"}

	rec := h.do(http.MethodPost, "/v1/wallets", `{}`, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := decode[map[string]string](t, rec)
	assert.Equal(t, "static:0x1", body["keyRef"])
	assert.NotContains(t, body, "seed")
}

func TestGetModel(t *testing.T) {
	h := newHarness(t)

	rec := h.do(http.MethodGet, "/v1/models/m1", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "0xabc", body["tokenAddress"])
	assert.Equal(t, float64(50), body["purchaseCostOctas"])

	rec = h.do(http.MethodGet, "/v1/models/m1?amount=1000", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(50_000), decode[map[string]any](t, rec)["purchaseCostOctas"])

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/models/m1?amount=-1", "", false).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/models/missing", "", false).Code)
}

func TestModelAndOperationEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	for _, stage := range []domain.Stage{domain.StageValidated, domain.StageSubmitted, domain.StageCompleted} {
		require.NoError(t, h.journal.Record(ctx, &domain.UpdateEvent{
			OperationID: "op-9",
			ModelID:     "m1",
			Kind:        domain.OperationBurn,
			Stage:       stage,
		}))
	}

	rec := h.do(http.MethodGet, "/v1/operations/op-9/events", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]map[string]any](t, rec)
	require.Len(t, events, 3)
	assert.Equal(t, "validated", events[0]["stage"])

	rec = h.do(http.MethodGet, "/v1/models/m1/events?limit=2", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/operations/unknown/events", "", false).Code)
	assert.Equal(t, http.StatusNotFound, h.do(http.MethodGet, "/v1/models/missing/events", "", false).Code)
	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/models/m1/events?limit=x", "", false).Code)
}

func TestPriceHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, ts := range []int64{1000, 2000, 3000} {
		require.NoError(t, h.history.Insert(ctx, &domain.PriceTick{
			ModelID:         "m1",
			TransactionHash: fmt.Sprintf("0x%d", i),
			Kind:            domain.OperationBurn,
			NewPrice:        float64(i + 1),
			TimestampMs:     ts,
		}))
	}

	rec := h.do(http.MethodGet, "/v1/models/m1/prices", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 3)

	rec = h.do(http.MethodGet, "/v1/models/m1/prices?from=1500&to=3000", "", false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	assert.Equal(t, http.StatusBadRequest, h.do(http.MethodGet, "/v1/models/m1/prices?from=5&to=1", "", false).Code)
}

func TestCORSPreflight(t *testing.T) {
	h := newHarness(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/models/m1/burn", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", SecretHeader)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventStream(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(h.handler)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events/stream?modelId=m1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Wait for the subscription to register before recording.
	require.Eventually(t, func() bool {
		return h.journal.Subscribers() == 1
	}, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, h.journal.Record(ctx, &domain.UpdateEvent{OperationID: "op-x", ModelID: "other", Stage: domain.StageValidated}))
	require.NoError(t, h.journal.Record(ctx, &domain.UpdateEvent{OperationID: "op-y", ModelID: "m1", Stage: domain.StageValidated}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.NewDecoder(bytes.NewReader(data)).Decode(&got))
	assert.Equal(t, "op-y", got["operationId"])
	assert.Equal(t, "m1", got["modelId"])
}

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utrading/utrading-agent-hub/config"
	"github.com/utrading/utrading-agent-hub/internal/chain"
	"github.com/utrading/utrading-agent-hub/internal/dal/daltest"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/market"
	"github.com/utrading/utrading-agent-hub/internal/models"
	"github.com/utrading/utrading-agent-hub/internal/orchestrator"
	"github.com/utrading/utrading-agent-hub/internal/prediction"
	"github.com/utrading/utrading-agent-hub/internal/subscription"
)

const (
	user  = "0x0abc"
	token = "0x049d36570d4e46f48e99674bd3fcc84644ddd6b96f7c741b1562b82f9e004dc7"
)

type stubChain struct{}

func (stubChain) ContractAddress() string { return "0x0123" }

func (stubChain) CreateAgentConfig(context.Context, string, models.AgentConfig) (string, error) {
	return "0xc1", nil
}

func (stubChain) ReserveForTrade(context.Context, string, string, decimal.Decimal) (bool, error) {
	return true, nil
}

func (stubChain) ReleaseReservation(context.Context, string, string, decimal.Decimal) (string, error) {
	return "0xr1", nil
}

func (stubChain) SettleTrade(context.Context, chain.Settlement) (string, error) {
	return "0x5e", nil
}

func (stubChain) MarkDecisionExecuted(context.Context, uint64, bool, decimal.Decimal) (string, error) {
	return "0x3a", nil
}

func (stubChain) GetUserBalance(context.Context, string, string) (*chain.Balance, error) {
	return &chain.Balance{Total: decimal.NewFromInt(1000), Available: decimal.NewFromInt(1000)}, nil
}

func (stubChain) CanAgentTrade(context.Context, string, string, decimal.Decimal) (bool, error) {
	return true, nil
}

func (stubChain) GetDailyLimitsRemaining(context.Context, string, string) (uint64, decimal.Decimal, error) {
	return 3, decimal.NewFromInt(30), nil
}

func (stubChain) GetUserSubscription(context.Context, string, string) (*chain.Subscription, error) {
	return &chain.Subscription{
		IsActive:          true,
		AutomationLevel:   1,
		MaxTradesPerDay:   5,
		MaxAPICostPerDay:  decimal.NewFromInt(50),
		RiskTolerance:     0.5,
		MaxPositionSize:   decimal.NewFromInt(500),
		StopLossThreshold: 0.05,
	}, nil
}

type upSource struct{}

func (upSource) Name() string    { return "trend" }
func (upSource) Weight() float64 { return 1 }

func (upSource) Predict(context.Context, prediction.Request) (*prediction.Prediction, error) {
	return &prediction.Prediction{Source: "trend", Direction: prediction.DirectionUp, PredictedPrice: 120, Confidence: 0.9, Weight: 1}, nil
}

type calmMarket struct{}

func (calmMarket) Snapshot(context.Context, string, string) (*market.Snapshot, error) {
	return &market.Snapshot{Sentiment: 0.5, Volatility: 0.1}, nil
}

func newTestServer(t *testing.T) http.Handler {
	t.Helper()
	dao.InitDAO(daltest.Open(t))

	gatherer, err := prediction.NewGatherer(4, time.Second)
	require.NoError(t, err)
	t.Cleanup(gatherer.Release)

	ledger := subscription.NewLedger(stubChain{}, events.Nop{}, subscription.Options{VerifyDelay: time.Hour})
	svc, err := orchestrator.New(orchestrator.Deps{
		Chain:    stubChain{},
		Ledger:   ledger,
		Sources:  []prediction.Source{upSource{}},
		Market:   calmMarket{},
		Gatherer: gatherer,
	}, config.Default().AgentHub)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	return NewServer("", svc, ledger).Handler()
}

type response struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, h http.Handler, method, path string, body any) (int, response) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func agentBody() map[string]any {
	return map[string]any{
		"creatorId": "creator",
		"config": map[string]any{
			"name":              "trend follower",
			"strategy":          "swing",
			"riskTolerance":     0.8,
			"maxPositionSize":   "1000",
			"stopLossThreshold": 0.1,
			"automationLevel":   "semi_auto",
			"maxTradesPerDay":   10,
			"maxApiCostPerDay":  "100",
		},
	}
}

func userConfigBody() map[string]any {
	return map[string]any{
		"automationLevel":   "alert_only",
		"maxTradesPerDay":   5,
		"maxApiCostPerDay":  "50",
		"riskTolerance":     0.5,
		"maxPositionSize":   "500",
		"stopLossThreshold": 0.05,
	}
}

func createAgent(t *testing.T, h http.Handler) string {
	t.Helper()
	code, resp := call(t, h, http.MethodPost, "/agents", agentBody())
	require.Equal(t, http.StatusOK, code, resp.Message)

	var data struct {
		AgentID string `json:"agentId"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &data))
	return data.AgentID
}

func subscribe(t *testing.T, h http.Handler, agentID string) {
	t.Helper()
	code, resp := call(t, h, http.MethodPost, "/agents/"+agentID+"/confirm-subscription", map[string]any{
		"userId":     user,
		"txHash":     "0xabc",
		"userConfig": userConfigBody(),
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
}

func TestAgents_CreateListGet(t *testing.T) {
	h := newTestServer(t)
	agentID := createAgent(t, h)

	code, resp := call(t, h, http.MethodGet, "/agents?page=1&limit=10&strategy=swing&sortBy=newest", nil)
	require.Equal(t, http.StatusOK, code)
	var list struct {
		Agents []models.AgentSummary `json:"agents"`
		Total  int64                 `json:"total"`
	}
	require.NoError(t, json.Unmarshal(resp.Data, &list))
	assert.EqualValues(t, 1, list.Total)
	require.Len(t, list.Agents, 1)
	assert.Equal(t, agentID, list.Agents[0].ID)

	code, resp = call(t, h, http.MethodGet, "/agents/"+agentID, nil)
	require.Equal(t, http.StatusOK, code)
	var detail map[string]any
	require.NoError(t, json.Unmarshal(resp.Data, &detail))
	assert.Equal(t, agentID, detail["id"])
	assert.Contains(t, detail, "performance")
	assert.Contains(t, detail, "subscriberCount")
}

func TestAgents_ErrorMapping(t *testing.T) {
	h := newTestServer(t)

	code, resp := call(t, h, http.MethodGet, "/agents/missing", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)

	code, _ = call(t, h, http.MethodGet, "/agents?page=abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, h, http.MethodGet, "/agents?sortBy=random", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	body := agentBody()
	body["config"].(map[string]any)["strategy"] = "yolo"
	code, resp = call(t, h, http.MethodPost, "/agents", body)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, resp.Message, "strategy")

	req := httptest.NewRequest(http.MethodPost, "/agents", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
}

func TestSubscription_Lifecycle(t *testing.T) {
	h := newTestServer(t)
	agentID := createAgent(t, h)

	tooRisky := userConfigBody()
	tooRisky["riskTolerance"] = 0.9
	code, _ := call(t, h, http.MethodPost, "/agents/"+agentID+"/prepare-subscription", map[string]any{"userConfig": tooRisky})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp := call(t, h, http.MethodPost, "/agents/"+agentID+"/prepare-subscription", map[string]any{"userConfig": userConfigBody()})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var prep models.PrepData
	require.NoError(t, json.Unmarshal(resp.Data, &prep))
	assert.Equal(t, "0x0123", prep.ContractAddress)
	assert.Equal(t, chain.EntrySubscribe, prep.Entrypoint)
	assert.NotEmpty(t, prep.Calldata)
	require.NotNil(t, prep.AgentConfig)

	subscribe(t, h, agentID)

	code, resp = call(t, h, http.MethodGet, "/agents/user/"+user+"/subscriptions", nil)
	require.Equal(t, http.StatusOK, code)
	var subs []models.UserSubscription
	require.NoError(t, json.Unmarshal(resp.Data, &subs))
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsActive)
	assert.False(t, subs[0].ContractVerified)

	code, resp = call(t, h, http.MethodPost, "/agents/"+agentID+"/verify-subscription", map[string]any{"userId": user})
	require.Equal(t, http.StatusOK, code, resp.Message)
	assert.JSONEq(t, `{"verified":true}`, string(resp.Data))

	code, _ = call(t, h, http.MethodPost, "/agents/"+agentID+"/prepare-unsubscription", map[string]any{"userId": user})
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, h, http.MethodPost, "/agents/"+agentID+"/confirm-unsubscription", map[string]any{"userId": user, "txHash": "0xdef"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = call(t, h, http.MethodPost, "/agents/"+agentID+"/confirm-unsubscription", map[string]any{"userId": user, "txHash": "0xdef"})
	assert.Equal(t, http.StatusNotFound, code)

	code, resp = call(t, h, http.MethodGet, "/agents/user/"+user+"/subscriptions", nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(resp.Data, &subs))
	require.Len(t, subs, 1)
	assert.False(t, subs[0].IsActive)
}

func TestTrade_AnalyzeExecute(t *testing.T) {
	h := newTestServer(t)
	agentID := createAgent(t, h)
	mc := map[string]any{"tokenSymbol": "ETH", "tokenAddress": token, "currentPrice": 100}

	code, _ := call(t, h, http.MethodPost, "/agents/"+agentID+"/analyze", map[string]any{"userId": user, "marketContext": mc})
	assert.Equal(t, http.StatusNotFound, code)

	subscribe(t, h, agentID)

	code, resp := call(t, h, http.MethodPost, "/agents/"+agentID+"/analyze", map[string]any{"userId": user, "marketContext": mc})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var decision models.TradingDecision
	require.NoError(t, json.Unmarshal(resp.Data, &decision))
	assert.Equal(t, models.ActionBuy, decision.Action)
	require.NotZero(t, decision.ID)

	code, resp = call(t, h, http.MethodPost, "/agents/"+agentID+"/can-trade", map[string]any{"userId": user, "tokenAddress": token, "amount": "100"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var can orchestrator.CanTradeResult
	require.NoError(t, json.Unmarshal(resp.Data, &can))
	assert.True(t, can.CanTrade)

	code, _ = call(t, h, http.MethodPost, "/agents/"+agentID+"/execute-trade", map[string]any{"userId": user})
	assert.Equal(t, http.StatusBadRequest, code)

	code, resp = call(t, h, http.MethodPost, "/agents/"+agentID+"/execute-trade", map[string]any{
		"userId":      user,
		"decisionId":  decision.ID,
		"tradeResult": map[string]any{"price": 101, "pnl": 3},
	})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var res orchestrator.ExecutionResult
	require.NoError(t, json.Unmarshal(resp.Data, &res))
	assert.True(t, res.Executed)
	assert.Equal(t, "0x5e", res.SettlementTxHash)

	code, resp = call(t, h, http.MethodGet, "/agents/"+agentID+"/performance?userId="+user, nil)
	require.Equal(t, http.StatusOK, code)
	var perf models.Performance
	require.NoError(t, json.Unmarshal(resp.Data, &perf))
	assert.EqualValues(t, 1, perf.ExecutedTrades)
	assert.EqualValues(t, 1, perf.Decisions)
}

func TestDepositWithdraw(t *testing.T) {
	h := newTestServer(t)

	code, resp := call(t, h, http.MethodPost, "/agents/deposit", map[string]any{"tokenAddress": token, "amount": "1000"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	var prep models.PrepData
	require.NoError(t, json.Unmarshal(resp.Data, &prep))
	assert.Equal(t, chain.EntryDeposit, prep.Entrypoint)

	code, resp = call(t, h, http.MethodPost, "/agents/withdraw", map[string]any{"tokenAddress": token, "amount": "5"})
	require.Equal(t, http.StatusOK, code, resp.Message)
	require.NoError(t, json.Unmarshal(resp.Data, &prep))
	assert.Equal(t, chain.EntryWithdraw, prep.Entrypoint)

	code, _ = call(t, h, http.MethodPost, "/agents/withdraw", map[string]any{"tokenAddress": token, "amount": "0"})
	assert.Equal(t, http.StatusBadRequest, code)
}

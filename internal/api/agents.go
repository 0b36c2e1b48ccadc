package api

import (
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/dao"
	"github.com/utrading/utrading-agent-hub/internal/models"
)

type createAgentRequest struct {
	CreatorID string             `json:"creatorId"`
	Config    models.AgentConfig `json:"config"`
}

func (s *Server) createAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}

	agentID, err := s.agents.CreateAgent(r.Context(), req.CreatorID, req.Config)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, map[string]any{"agentId": agentID})
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), "page")
	if err != nil {
		fail(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		fail(w, r, err)
		return
	}

	agents, total, err := s.agents.ListAvailableAgents(r.Context(), dao.ListQuery{
		Page:     page,
		Limit:    limit,
		Strategy: models.Strategy(q.Get("strategy")),
		SortBy:   q.Get("sortBy"),
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	if agents == nil {
		agents = []*models.AgentSummary{}
	}
	ok(w, map[string]any{"agents": agents, "total": total})
}

func (s *Server) getAgent(w http.ResponseWriter, r *http.Request) {
	detail, err := s.agents.GetAgent(r.Context(), r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, detail)
}

func (s *Server) performance(w http.ResponseWriter, r *http.Request) {
	perf, err := s.agents.AgentPerformance(r.Context(), r.PathValue("id"), r.URL.Query().Get("userId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, perf)
}

type tokenAmountRequest struct {
	TokenAddress string          `json:"tokenAddress"`
	Amount       decimal.Decimal `json:"amount"`
}

func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req tokenAmountRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	prep, err := s.agents.PrepareDeposit(r.Context(), req.TokenAddress, req.Amount)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, prep)
}

func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	var req tokenAmountRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	prep, err := s.agents.PrepareWithdraw(r.Context(), req.TokenAddress, req.Amount)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, prep)
}

// intParam 空值返回 0，由下层取默认值
func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := cast.ToIntE(v)
	if err != nil {
		return 0, apperr.Validation("invalid %s %q", name, v)
	}
	return n, nil
}

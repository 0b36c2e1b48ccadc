package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/models"
)

type analyzeRequest struct {
	UserID        string               `json:"userId"`
	MarketContext models.MarketContext `json:"marketContext"`
}

type executeTradeRequest struct {
	UserID      string             `json:"userId"`
	DecisionID  uint               `json:"decisionId"`
	TradeResult models.TradeResult `json:"tradeResult"`
}

type canTradeRequest struct {
	UserID       string          `json:"userId"`
	TokenAddress string          `json:"tokenAddress"`
	Amount       decimal.Decimal `json:"amount"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.UserID == "" {
		fail(w, r, apperr.Validation("userId is required"))
		return
	}

	decision, err := s.agents.RunAgent(r.Context(), req.UserID, r.PathValue("id"), req.MarketContext)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, decision)
}

func (s *Server) executeTrade(w http.ResponseWriter, r *http.Request) {
	var req executeTradeRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if req.UserID == "" || req.DecisionID == 0 {
		fail(w, r, apperr.Validation("userId and decisionId are required"))
		return
	}

	res, err := s.agents.ExecuteTrade(r.Context(), req.UserID, r.PathValue("id"), req.DecisionID, req.TradeResult)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, res)
}

func (s *Server) canTrade(w http.ResponseWriter, r *http.Request) {
	var req canTradeRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	res, err := s.agents.CanExecuteTrade(r.Context(), req.UserID, r.PathValue("id"), req.TokenAddress, req.Amount)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, res)
}

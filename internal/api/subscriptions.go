package api

import (
	"net/http"

	"github.com/utrading/utrading-agent-hub/internal/models"
)

type prepareSubscriptionRequest struct {
	UserConfig models.UserConfig `json:"userConfig"`
}

type confirmSubscriptionRequest struct {
	UserID     string            `json:"userId"`
	TxHash     string            `json:"txHash"`
	UserConfig models.UserConfig `json:"userConfig"`
}

type userRequest struct {
	UserID string `json:"userId"`
	TxHash string `json:"txHash"`
}

func (s *Server) prepareSubscription(w http.ResponseWriter, r *http.Request) {
	var req prepareSubscriptionRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	prep, err := s.ledger.PrepareSubscription(r.Context(), r.PathValue("id"), req.UserConfig)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, prep)
}

func (s *Server) confirmSubscription(w http.ResponseWriter, r *http.Request) {
	var req confirmSubscriptionRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	sub, err := s.ledger.ConfirmSubscription(r.Context(), req.UserID, r.PathValue("id"), req.TxHash, req.UserConfig)
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, sub)
}

func (s *Server) verifySubscription(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	verified, err := s.ledger.VerifySubscription(r.Context(), req.UserID, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, map[string]any{"verified": verified})
}

func (s *Server) prepareUnsubscription(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	prep, err := s.ledger.PrepareUnsubscription(r.Context(), req.UserID, r.PathValue("id"))
	if err != nil {
		fail(w, r, err)
		return
	}
	ok(w, prep)
}

func (s *Server) confirmUnsubscription(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decode(r, &req); err != nil {
		fail(w, r, err)
		return
	}
	if err := s.ledger.ConfirmUnsubscription(r.Context(), req.UserID, r.PathValue("id"), req.TxHash); err != nil {
		fail(w, r, err)
		return
	}
	ok(w, nil)
}

func (s *Server) userSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := s.ledger.UserSubscriptions(r.Context(), r.PathValue("userId"))
	if err != nil {
		fail(w, r, err)
		return
	}
	if subs == nil {
		subs = []*models.UserSubscription{}
	}
	ok(w, subs)
}

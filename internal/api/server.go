// Package api Agent Hub REST 接口
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/utrading/utrading-agent-hub/internal/orchestrator"
	"github.com/utrading/utrading-agent-hub/internal/subscription"
	"github.com/utrading/utrading-agent-hub/pkg/goplus"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Server REST 服务
type Server struct {
	addr   string
	server *http.Server
	agents *orchestrator.Service
	ledger *subscription.Ledger
}

func NewServer(addr string, agents *orchestrator.Service, ledger *subscription.Ledger) *Server {
	return &Server{addr: addr, agents: agents, ledger: ledger}
}

// Handler 路由表
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /agents", s.createAgent)
	mux.HandleFunc("GET /agents", s.listAgents)
	mux.HandleFunc("GET /agents/{id}", s.getAgent)
	mux.HandleFunc("GET /agents/{id}/performance", s.performance)

	mux.HandleFunc("POST /agents/{id}/prepare-subscription", s.prepareSubscription)
	mux.HandleFunc("POST /agents/{id}/confirm-subscription", s.confirmSubscription)
	mux.HandleFunc("POST /agents/{id}/verify-subscription", s.verifySubscription)
	mux.HandleFunc("POST /agents/{id}/prepare-unsubscription", s.prepareUnsubscription)
	mux.HandleFunc("POST /agents/{id}/confirm-unsubscription", s.confirmUnsubscription)
	mux.HandleFunc("GET /agents/user/{userId}/subscriptions", s.userSubscriptions)

	mux.HandleFunc("POST /agents/{id}/analyze", s.analyze)
	mux.HandleFunc("POST /agents/{id}/execute-trade", s.executeTrade)
	mux.HandleFunc("POST /agents/{id}/can-trade", s.canTrade)

	mux.HandleFunc("POST /agents/deposit", s.deposit)
	mux.HandleFunc("POST /agents/withdraw", s.withdraw)

	return withRequestID(withRecover(withAccessLog(mux)))
}

// Start 启动 HTTP 服务
func (s *Server) Start() {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// 决策与结算包含链上确认等待
		WriteTimeout: 5 * time.Minute,
	}

	goplus.Go(func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("api server error")
		}
	})

	logger.Info().Str("addr", s.addr).Msg("api server started")
}

func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

package monitor

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utrading/utrading-agent-hub/pkg/goplus"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Check 就绪检查项，返回 nil 表示正常
type Check func(ctx context.Context) error

// StatsProvider 提供 /status 中展示的运行信息
type StatsProvider interface {
	Stats() map[string]any
}

// HealthServer HTTP 健康检查和指标服务器
type HealthServer struct {
	addr         string
	server       *http.Server
	mu           sync.RWMutex
	checks       map[string]Check
	stats        map[string]StatsProvider
	healthy      bool
	healthySince time.Time
	startTime    time.Time
}

// NewHealthServer 创建健康检查服务器
func NewHealthServer(addr string) *HealthServer {
	GetMetrics()
	return &HealthServer{
		addr:         addr,
		checks:       make(map[string]Check),
		stats:        make(map[string]StatsProvider),
		healthy:      true,
		healthySince: time.Now(),
		startTime:    time.Now(),
	}
}

// AddCheck 注册就绪检查（数据库、链 RPC、NATS）
func (h *HealthServer) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

func (h *HealthServer) AddStats(name string, provider StatsProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stats[name] = provider
}

// Handler 健康检查路由
func (h *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", h.healthHandler)
	mux.HandleFunc("/health/ready", h.readyHandler)
	mux.HandleFunc("/health/live", h.liveHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/status", h.statusHandler)

	return mux
}

// Start 启动HTTP服务器
func (h *HealthServer) Start() {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	goplus.Go(func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health server error")
		}
	})

	logger.Info().Str("addr", h.addr).Msg("health server started")
}

// Stop 停止服务器
func (h *HealthServer) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.healthy = false
	h.mu.Unlock()

	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus(r.Context())
	if !status.Healthy {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthServer) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HealthServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := h.getHealthStatus(r.Context())

	h.mu.RLock()
	stats := make(map[string]any, len(h.stats))
	for name, p := range h.stats {
		stats[name] = p.Stats()
	}
	h.mu.RUnlock()

	writeJSON(w, http.StatusOK, struct {
		HealthStatus
		Stats map[string]any `json:"stats"`
	}{status, stats})
}

// getHealthStatus 执行全部检查，单项超时 3 秒
func (h *HealthServer) getHealthStatus(ctx context.Context) HealthStatus {
	h.mu.RLock()
	healthy := h.healthy
	healthySince := h.healthySince
	checks := make(map[string]Check, len(h.checks))
	for k, v := range h.checks {
		checks[k] = v
	}
	h.mu.RUnlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, 0, len(names))
	for _, name := range names {
		cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := checks[name](cctx)
		cancel()

		res := CheckResult{Name: name, OK: err == nil}
		if err != nil {
			res.Error = err.Error()
			healthy = false
		}
		results = append(results, res)
	}

	return HealthStatus{
		Healthy:      healthy,
		HealthySince: healthySince.Format(time.RFC3339),
		Uptime:       time.Since(h.startTime).String(),
		Checks:       results,
	}
}

// HealthStatus 健康状态结构
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	HealthySince string        `json:"healthy_since"`
	Uptime       string        `json:"uptime"`
	Checks       []CheckResult `json:"checks"`
}

type CheckResult struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 指标收集器
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	decisionFallbacks  *prometheus.CounterVec
	predictionFailures *prometheus.CounterVec
	predictionLatency  *prometheus.HistogramVec
	// 引擎缓存
	engineCacheSize      prometheus.Gauge
	engineCacheEvictions prometheus.Counter
	cacheHitTotal        *prometheus.CounterVec
	cacheMissTotal       *prometheus.CounterVec
	// 合约调用
	contractCalls   *prometheus.CounterVec
	contractLatency *prometheus.HistogramVec
	// 订阅核验
	verifyAttempts *prometheus.CounterVec
	verifyPending  prometheus.Gauge
	// 结算
	settlementOutcomes *prometheus.CounterVec
	// 事件队列
	eventQueueSize      prometheus.Gauge
	eventQueueFullTotal prometheus.Counter
	eventsPublished     *prometheus.CounterVec
	natsConnected       prometheus.Gauge
}

// NewMetrics 创建并注册指标收集器
func NewMetrics(namespace string) *Metrics {
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "决策总数（按策略、动作）",
			},
			[]string{"strategy", "action"},
		),
		decisionFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decision_fallbacks_total",
				Help:      "降级为 HOLD 的决策数（按原因）",
			},
			[]string{"reason"}, // no_predictions, panic, no_price
		),
		predictionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "prediction_failures_total",
				Help:      "预测源失败次数",
			},
			[]string{"source"},
		),
		predictionLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "prediction_latency_seconds",
				Help:      "预测源耗时分布（秒）",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"source"},
		),
		engineCacheSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "engine_cache_size",
				Help:      "缓存中的决策引擎数量",
			},
		),
		engineCacheEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_cache_evictions_total",
				Help:      "决策引擎缓存淘汰总数",
			},
		),
		cacheHitTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hit_total",
				Help:      "缓存命中总数（按缓存类型）",
			},
			[]string{"cache_type"}, // engine, price
		),
		cacheMissTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_miss_total",
				Help:      "缓存未命中总数（按缓存类型）",
			},
			[]string{"cache_type"},
		),
		contractCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "contract_calls_total",
				Help:      "合约调用总数（按入口、结果）",
			},
			[]string{"entrypoint", "result"}, // ok, transport, rejected
		),
		contractLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "contract_call_seconds",
				Help:      "合约调用耗时（写操作包含等待上链）",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"entrypoint"},
		),
		verifyAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verification_attempts_total",
				Help:      "订阅核验尝试次数（按结果）",
			},
			[]string{"result"}, // verified, retry, failed
		),
		verifyPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "verification_jobs_pending",
				Help:      "待执行的核验任务数",
			},
		),
		settlementOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "settlement_outcomes_total",
				Help:      "结算流程结果",
			},
			[]string{"outcome"}, // executed, rejected, insufficient, compensated, settled_unmarked
		),
		eventQueueSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_queue_size",
				Help:      "事件队列当前大小",
			},
		),
		eventQueueFullTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "event_queue_full_total",
				Help:      "事件队列满事件总数",
			},
		),
		eventsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Total number of events published to NATS",
			},
			[]string{"event", "result"},
		),
		natsConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "nats_connected",
				Help:      "NATS connection status (1=connected, 0=disconnected)",
			},
		),
	}

	prometheus.MustRegister(
		m.decisionsTotal,
		m.decisionFallbacks,
		m.predictionFailures,
		m.predictionLatency,
		m.engineCacheSize,
		m.engineCacheEvictions,
		m.cacheHitTotal,
		m.cacheMissTotal,
		m.contractCalls,
		m.contractLatency,
		m.verifyAttempts,
		m.verifyPending,
		m.settlementOutcomes,
		m.eventQueueSize,
		m.eventQueueFullTotal,
		m.eventsPublished,
		m.natsConnected,
	)

	return m
}

func (m *Metrics) IncDecision(strategy, action string) {
	m.decisionsTotal.WithLabelValues(strategy, action).Inc()
}

func (m *Metrics) IncDecisionFallback(reason string) {
	m.decisionFallbacks.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncPredictionFailure(source string) {
	m.predictionFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) ObservePredictionLatency(source string, seconds float64) {
	m.predictionLatency.WithLabelValues(source).Observe(seconds)
}

func (m *Metrics) SetEngineCacheSize(size int) {
	m.engineCacheSize.Set(float64(size))
}

func (m *Metrics) IncEngineCacheEviction() {
	m.engineCacheEvictions.Inc()
}

func (m *Metrics) IncCacheHit(cacheType string) {
	m.cacheHitTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) IncCacheMiss(cacheType string) {
	m.cacheMissTotal.WithLabelValues(cacheType).Inc()
}

func (m *Metrics) ObserveContractCall(entrypoint, result string, seconds float64) {
	m.contractCalls.WithLabelValues(entrypoint, result).Inc()
	m.contractLatency.WithLabelValues(entrypoint).Observe(seconds)
}

func (m *Metrics) IncVerifyAttempt(result string) {
	m.verifyAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetVerifyPending(count int64) {
	m.verifyPending.Set(float64(count))
}

func (m *Metrics) IncSettlement(outcome string) {
	m.settlementOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetEventQueueSize(size int) {
	m.eventQueueSize.Set(float64(size))
}

func (m *Metrics) IncEventQueueFull() {
	m.eventQueueFullTotal.Inc()
}

func (m *Metrics) IncEventPublished(event, result string) {
	m.eventsPublished.WithLabelValues(event, result).Inc()
}

// SetNATSConnected 设置NATS连接状态
func (m *Metrics) SetNATSConnected(connected bool) {
	if connected {
		m.natsConnected.Set(1)
	} else {
		m.natsConnected.Set(0)
	}
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics 获取全局指标收集器
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = NewMetrics("agent_hub")
	})
	return globalMetrics
}

// InitMetrics 初始化指标收集器（供main使用）
func InitMetrics() {
	GetMetrics()
}

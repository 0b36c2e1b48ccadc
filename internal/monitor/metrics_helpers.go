package monitor

import "time"

// 便捷函数供外部调用，无需访问 Metrics 实例

func IncDecision(strategy, action string) {
	GetMetrics().IncDecision(strategy, action)
}

func IncDecisionFallback(reason string) {
	GetMetrics().IncDecisionFallback(reason)
}

func IncPredictionFailure(source string) {
	GetMetrics().IncPredictionFailure(source)
}

// ObservePrediction 记录单个预测源的耗时
func ObservePrediction(source string, start time.Time) {
	GetMetrics().ObservePredictionLatency(source, time.Since(start).Seconds())
}

func SetEngineCacheSize(size int) {
	GetMetrics().SetEngineCacheSize(size)
}

func IncEngineCacheEviction() {
	GetMetrics().IncEngineCacheEviction()
}

// IncCacheHit 增加缓存命中计数
func IncCacheHit(cacheType string) {
	GetMetrics().IncCacheHit(cacheType)
}

// IncCacheMiss 增加缓存未命中计数
func IncCacheMiss(cacheType string) {
	GetMetrics().IncCacheMiss(cacheType)
}

// ObserveContractCall result: ok / transport / rejected
func ObserveContractCall(entrypoint, result string, start time.Time) {
	GetMetrics().ObserveContractCall(entrypoint, result, time.Since(start).Seconds())
}

func IncVerifyAttempt(result string) {
	GetMetrics().IncVerifyAttempt(result)
}

func SetVerifyPending(count int64) {
	GetMetrics().SetVerifyPending(count)
}

func IncSettlement(outcome string) {
	GetMetrics().IncSettlement(outcome)
}

// SetEventQueueSize 设置事件队列大小
func SetEventQueueSize(size int) {
	GetMetrics().SetEventQueueSize(size)
}

// IncEventQueueFull 增加事件队列满计数
func IncEventQueueFull() {
	GetMetrics().IncEventQueueFull()
}

func IncEventPublished(event, result string) {
	GetMetrics().IncEventPublished(event, result)
}

func SetNATSConnected(connected bool) {
	GetMetrics().SetNATSConnected(connected)
}

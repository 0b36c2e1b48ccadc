package engine

import (
	"github.com/pkg/errors"

	"github.com/utrading/utrading-agent-hub/internal/models"
)

// Policy 策略参数
type Policy struct {
	MinConfidence   float64 // 低于该置信度一律 HOLD
	SentimentWeight float64 // 情绪在综合信号中的权重
	MinSignal       float64 // 综合信号绝对值阈值
	SizeFraction    float64 // 仓位占 maxPositionSize 的比例（再乘置信度）
	MaxVolatility   float64 // 波动率上限
	RequireLowRisk  bool    // 仅在风险可接受时出手
	AllowHighRisk   bool    // 风险容忍度足够高时允许高风险交易
	Horizon         string  // 预测周期
}

// highRiskTolerance 允许高风险交易所需的最低风险容忍度
const highRiskTolerance = 0.7

// PolicyFor 每种策略对应固定参数
func PolicyFor(s models.Strategy) (Policy, error) {
	switch s {
	case models.StrategyConservative:
		return Policy{
			MinConfidence:   0.75,
			SentimentWeight: 0.2,
			MinSignal:       0.4,
			SizeFraction:    0.25,
			MaxVolatility:   0.3,
			RequireLowRisk:  true,
			Horizon:         "long",
		}, nil
	case models.StrategyAggressive:
		return Policy{
			MinConfidence:   0.5,
			SentimentWeight: 0.3,
			MinSignal:       0.2,
			SizeFraction:    0.8,
			MaxVolatility:   0.9,
			AllowHighRisk:   true,
			Horizon:         "short",
		}, nil
	case models.StrategySwing:
		return Policy{
			MinConfidence:   0.6,
			SentimentWeight: 0.4,
			MinSignal:       0.3,
			SizeFraction:    0.5,
			MaxVolatility:   0.6,
			Horizon:         "medium",
		}, nil
	case models.StrategyScalping:
		return Policy{
			MinConfidence:   0.55,
			SentimentWeight: 0.1,
			MinSignal:       0.15,
			SizeFraction:    0.3,
			MaxVolatility:   0.8,
			AllowHighRisk:   true,
			Horizon:         "short",
		}, nil
	}
	return Policy{}, errors.Errorf("unknown strategy %q", s)
}

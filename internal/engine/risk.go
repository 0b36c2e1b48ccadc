package engine

import (
	"fmt"
	"math"
)

const (
	RiskAcceptable = "acceptable"
	RiskHigh       = "high"
)

// minRiskReward 收益风险比需严格大于该值
const minRiskReward = 2.0

// Risk 风险评估
type Risk struct {
	PotentialLoss float64
	RiskReward    float64
	Level         string
}

// AssessRisk potentialLoss = |price - price*(1-stopLoss)|，riskReward = |target-price| / potentialLoss
// 止损为 0 时损失无界，视为高风险
func AssessRisk(price, target, stopLoss float64) Risk {
	loss := math.Abs(price - price*(1-stopLoss))
	if loss <= 0 {
		return Risk{Level: RiskHigh}
	}

	rr := math.Abs(target-price) / loss
	level := RiskHigh
	if rr > minRiskReward {
		level = RiskAcceptable
	}
	return Risk{PotentialLoss: loss, RiskReward: rr, Level: level}
}

func (r Risk) String() string {
	return fmt.Sprintf("risk=%s riskReward=%.4f potentialLoss=%.6f", r.Level, r.RiskReward, r.PotentialLoss)
}

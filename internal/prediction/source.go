// Package prediction 价格方向预测源：HTTP 模型服务与 LLM 模型
package prediction

import (
	"context"
	"math"

	"github.com/pkg/errors"
)

// 方向
const (
	DirectionUp      = "up"
	DirectionDown    = "down"
	DirectionNeutral = "neutral"
)

// Request 预测请求
type Request struct {
	TokenSymbol  string
	TokenAddress string
	CurrentPrice float64
	Horizon      string // short / medium / long，由策略决定
}

// Prediction 单个模型的预测结果
type Prediction struct {
	Source         string  `json:"source"`
	Direction      string  `json:"direction"`
	PredictedPrice float64 `json:"predictedPrice"`
	Confidence     float64 `json:"confidence"`
	Weight         float64 `json:"weight"`
}

// Source 预测源
type Source interface {
	Name() string
	Weight() float64
	Predict(ctx context.Context, req Request) (*Prediction, error)
}

// Warmer 需要一次性初始化的预测源
type Warmer interface {
	Warmup(ctx context.Context) error
}

// normalize 补齐方向、裁剪置信度，价格非法视为模型失败
func normalize(p *Prediction, current float64) (*Prediction, error) {
	if math.IsNaN(p.PredictedPrice) || math.IsInf(p.PredictedPrice, 0) || p.PredictedPrice <= 0 {
		return nil, errors.Errorf("invalid predicted price %v", p.PredictedPrice)
	}
	if math.IsNaN(p.Confidence) {
		return nil, errors.New("invalid confidence")
	}
	p.Confidence = math.Max(0, math.Min(1, p.Confidence))

	switch p.Direction {
	case DirectionUp, DirectionDown, DirectionNeutral:
	default:
		switch {
		case p.PredictedPrice > current:
			p.Direction = DirectionUp
		case p.PredictedPrice < current:
			p.Direction = DirectionDown
		default:
			p.Direction = DirectionNeutral
		}
	}
	return p, nil
}

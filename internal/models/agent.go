package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AgentDefinition 交易策略模板，创建后只读
type AgentDefinition struct {
	ID                string                       `gorm:"type:varchar(64);primaryKey" json:"id"`
	CreatorID         string                       `gorm:"type:varchar(128);not null;index;comment:创建者" json:"creatorId"`
	Name              string                       `gorm:"type:varchar(128);not null" json:"name"`
	Strategy          Strategy                     `gorm:"type:varchar(16);not null;index;comment:conservative/aggressive/swing/scalping" json:"strategy"`
	Description       string                       `gorm:"type:text" json:"description"`
	PredictionSources datatypes.JSONType[[]string] `gorm:"comment:预测源名称列表" json:"predictionSources"`
	RiskTolerance     float64                      `gorm:"not null;comment:风险容忍上限 0-1" json:"riskTolerance"`
	MaxPositionSize   decimal.Decimal              `gorm:"type:decimal(65,0);not null;comment:最小单位" json:"maxPositionSize"`
	StopLossThreshold float64                      `gorm:"not null;comment:止损阈值 0-1" json:"stopLossThreshold"`
	AutomationLevel   AutomationLevel              `gorm:"type:varchar(16);not null" json:"automationLevel"`
	MaxTradesPerDay   int                          `gorm:"not null" json:"maxTradesPerDay"`
	MaxAPICostPerDay  decimal.Decimal              `gorm:"column:max_api_cost_per_day;type:decimal(65,0);not null" json:"maxApiCostPerDay"`
	IsPublic          bool                         `gorm:"not null;index" json:"isPublic"`
	CreatedAt         time.Time                    `gorm:"autoCreateTime;index" json:"createdAt"`
}

func (AgentDefinition) TableName() string {
	return "agent_definitions"
}

// AgentConfig 创建 Agent 时提交的配置
type AgentConfig struct {
	Name              string          `json:"name"`
	Strategy          Strategy        `json:"strategy"`
	Description       string          `json:"description"`
	PredictionSources []string        `json:"predictionSources"`
	RiskTolerance     float64         `json:"riskTolerance"`
	MaxPositionSize   decimal.Decimal `json:"maxPositionSize"`
	StopLossThreshold float64         `json:"stopLossThreshold"`
	AutomationLevel   AutomationLevel `json:"automationLevel"`
	MaxTradesPerDay   int             `json:"maxTradesPerDay"`
	MaxAPICostPerDay  decimal.Decimal `json:"maxApiCostPerDay"`
}

// AgentSummary 列表项，附带订阅数与平均收益
type AgentSummary struct {
	AgentDefinition
	SubscriberCount int64   `json:"subscriberCount"`
	AvgPnL          float64 `gorm:"column:avg_pnl" json:"avgPnl"`
}

// Performance 绩效汇总
type Performance struct {
	Decisions      int64   `json:"decisions"`
	ExecutedTrades int64   `json:"executedTrades"`
	Wins           int64   `json:"wins"`
	WinRate        float64 `json:"winRate"`
	TotalPnL       float64 `json:"totalPnl"`
	AvgConfidence  float64 `json:"avgConfidence"`
}

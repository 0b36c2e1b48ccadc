package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// MarketContext 单次决策的市场快照
type MarketContext struct {
	TokenSymbol    string          `json:"tokenSymbol"`
	TokenAddress   string          `json:"tokenAddress"`
	CurrentPrice   float64         `json:"currentPrice"`
	UserBalance    decimal.Decimal `json:"userBalance"`
	PortfolioValue float64         `json:"portfolioValue"`
	Timestamp      time.Time       `json:"timestamp"`
}

// TradingDecision 交易决策
// Amount 为空 <=> Action 为 HOLD
type TradingDecision struct {
	ID             uint                              `gorm:"primaryKey;autoIncrement;comment:同时作为链上决策ID" json:"id"`
	UserID         string                            `gorm:"type:varchar(128);not null;index:idx_decision_pair,priority:1" json:"userId"`
	AgentID        string                            `gorm:"type:varchar(64);not null;index:idx_decision_pair,priority:2" json:"agentId"`
	TokenSymbol    string                            `gorm:"type:varchar(24);not null" json:"tokenSymbol"`
	TokenAddress   string                            `gorm:"type:varchar(80);not null" json:"tokenAddress"`
	Action         Action                            `gorm:"type:varchar(8);not null" json:"action"`
	Amount         decimal.NullDecimal               `gorm:"type:decimal(65,0)" json:"amount"`
	Confidence     float64                           `gorm:"not null" json:"confidence"`
	Reasoning      string                            `gorm:"type:text" json:"reasoning"`
	RiskAssessment string                            `gorm:"type:text" json:"riskAssessment"`
	MarketContext  datatypes.JSONType[MarketContext] `json:"marketContext"`
	Fallback       bool                              `gorm:"not null;default:false;comment:引擎降级产生" json:"fallback"`

	Executed         bool                `gorm:"not null;default:false" json:"executed"`
	ExecutionStatus  ExecutionStatus     `gorm:"type:varchar(16);not null;default:none" json:"executionStatus"`
	FailureReason    string              `gorm:"type:varchar(512)" json:"failureReason,omitempty"`
	ActualAmount     decimal.NullDecimal `gorm:"type:decimal(65,0)" json:"actualAmount,omitempty"`
	SettlementTxHash string              `gorm:"type:varchar(80)" json:"settlementTxHash,omitempty"`
	ExecutedAt       *time.Time          `json:"executedAt,omitempty"`

	Timestamp time.Time `gorm:"not null;index" json:"timestamp"`
}

func (TradingDecision) TableName() string {
	return "trading_decisions"
}

// TradeExecution 每次结算尝试的结果，绩效统计来源
type TradeExecution struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	DecisionID    uint            `gorm:"not null;index" json:"decisionId"`
	UserID        string          `gorm:"type:varchar(128);not null;index:idx_exec_pair,priority:1" json:"userId"`
	AgentID       string          `gorm:"type:varchar(64);not null;index:idx_exec_pair,priority:2" json:"agentId"`
	TokenAddress  string          `gorm:"type:varchar(80);not null" json:"tokenAddress"`
	Action        Action          `gorm:"type:varchar(8);not null" json:"action"`
	Amount        decimal.Decimal `gorm:"type:decimal(65,0);not null" json:"amount"`
	Price         float64         `json:"price"`
	PnL           float64         `gorm:"column:pnl" json:"pnl"`
	Success       bool            `gorm:"not null;index" json:"success"`
	SettleTxHash  string          `gorm:"type:varchar(80)" json:"settleTxHash,omitempty"`
	MarkTxHash    string          `gorm:"type:varchar(80)" json:"markTxHash,omitempty"`
	FailureReason string          `gorm:"type:varchar(512)" json:"failureReason,omitempty"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"createdAt"`
}

func (TradeExecution) TableName() string {
	return "trade_executions"
}

// TradeResult 执行方上报的成交结果
type TradeResult struct {
	TokenAddress string          `json:"tokenAddress"`
	Amount       decimal.Decimal `json:"amount"`
	Price        float64         `json:"price"`
	PnL          float64         `json:"pnl"`
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// UserConfig 用户个性化配置，每项都不得超过 Agent 上限
type UserConfig struct {
	AutomationLevel   AutomationLevel `json:"automationLevel"`
	MaxTradesPerDay   int             `json:"maxTradesPerDay"`
	MaxAPICostPerDay  decimal.Decimal `json:"maxApiCostPerDay"`
	RiskTolerance     float64         `json:"riskTolerance"`
	MaxPositionSize   decimal.Decimal `json:"maxPositionSize"`
	StopLossThreshold float64         `json:"stopLossThreshold"`
}

// UserSubscription 用户订阅（链上订阅的链下投影）
type UserSubscription struct {
	ID      uint   `gorm:"primaryKey;autoIncrement" json:"-"`
	UserID  string `gorm:"type:varchar(128);not null;uniqueIndex:uk_user_agent,priority:1" json:"userId"`
	AgentID string `gorm:"type:varchar(64);not null;uniqueIndex:uk_user_agent,priority:2;index" json:"agentId"`

	UserConfig   datatypes.JSONType[UserConfig] `json:"userConfig"`
	TxHash       string                         `gorm:"type:varchar(80);not null;comment:订阅交易" json:"txHash"`
	SubscribedAt time.Time                      `gorm:"not null" json:"subscribedAt"`
	IsActive     bool                           `gorm:"not null;index" json:"isActive"`

	ContractVerified bool        `gorm:"not null;default:false" json:"contractVerified"`
	VerifyState      VerifyState `gorm:"type:varchar(16);not null;default:pending" json:"verifyState"`
	VerifyAttempts   int         `gorm:"not null;default:0" json:"verifyAttempts"`
	LastVerifyError  string      `gorm:"type:varchar(512)" json:"lastVerifyError,omitempty"`
	VerifiedAt       *time.Time  `json:"verifiedAt,omitempty"`

	UnsubscribedAt    *time.Time `json:"unsubscribedAt,omitempty"`
	UnsubscribeTxHash string     `gorm:"type:varchar(80)" json:"unsubscribeTxHash,omitempty"`

	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (UserSubscription) TableName() string {
	return "user_subscriptions"
}

// VerificationJob 订阅核验任务（与订阅同事务写入）
type VerificationJob struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"type:varchar(128);not null;index:idx_job_pair,priority:1" json:"userId"`
	AgentID   string    `gorm:"type:varchar(64);not null;index:idx_job_pair,priority:2" json:"agentId"`
	TxHash    string    `gorm:"type:varchar(80);not null" json:"txHash"`
	Status    JobStatus `gorm:"type:varchar(16);not null;index:idx_job_due,priority:1" json:"status"`
	Attempts  int       `gorm:"not null;default:0" json:"attempts"`
	NextRunAt time.Time `gorm:"not null;index:idx_job_due,priority:2" json:"nextRunAt"`
	LastError string    `gorm:"type:varchar(512)" json:"lastError,omitempty"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt time.Time `gorm:"autoUpdateTime;index" json:"updatedAt"`
}

func (VerificationJob) TableName() string {
	return "verification_jobs"
}

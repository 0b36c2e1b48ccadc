package models

// Strategy 策略类型
type Strategy string

const (
	StrategyConservative Strategy = "conservative"
	StrategyAggressive   Strategy = "aggressive"
	StrategySwing        Strategy = "swing"
	StrategyScalping     Strategy = "scalping"
)

func (s Strategy) Valid() bool {
	switch s {
	case StrategyConservative, StrategyAggressive, StrategySwing, StrategyScalping:
		return true
	}
	return false
}

// Code 链上编码
func (s Strategy) Code() uint64 {
	switch s {
	case StrategyConservative:
		return 0
	case StrategyAggressive:
		return 1
	case StrategySwing:
		return 2
	case StrategyScalping:
		return 3
	}
	return 0
}

// AutomationLevel 自动化级别，按 Rank 从低到高
type AutomationLevel string

const (
	AutomationManual    AutomationLevel = "manual"
	AutomationAlertOnly AutomationLevel = "alert_only"
	AutomationSemiAuto  AutomationLevel = "semi_auto"
	AutomationFullAuto  AutomationLevel = "full_auto"
)

// Rank 非法值返回 -1
func (l AutomationLevel) Rank() int {
	switch l {
	case AutomationManual:
		return 0
	case AutomationAlertOnly:
		return 1
	case AutomationSemiAuto:
		return 2
	case AutomationFullAuto:
		return 3
	}
	return -1
}

func (l AutomationLevel) Valid() bool {
	return l.Rank() >= 0
}

// Code 链上编码
func (l AutomationLevel) Code() uint64 {
	return uint64(l.Rank())
}

// AutomationLevelFromCode Code 的逆映射
func AutomationLevelFromCode(code uint64) (AutomationLevel, bool) {
	switch code {
	case 0:
		return AutomationManual, true
	case 1:
		return AutomationAlertOnly, true
	case 2:
		return AutomationSemiAuto, true
	case 3:
		return AutomationFullAuto, true
	}
	return "", false
}

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold:
		return true
	}
	return false
}

// VerifyState 订阅链上核验状态
type VerifyState string

const (
	VerifyPending  VerifyState = "pending"
	VerifyVerified VerifyState = "verified"
	VerifyFailed   VerifyState = "failed"
)

// ExecutionStatus 决策结算进度
type ExecutionStatus string

const (
	ExecNone        ExecutionStatus = "none"
	ExecReserving   ExecutionStatus = "reserving" // 预留交易已发出，结果未确认
	ExecReserved    ExecutionStatus = "reserved"
	ExecSettled     ExecutionStatus = "settled"
	ExecExecuted    ExecutionStatus = "executed"
	ExecFailed      ExecutionStatus = "failed"
	ExecCompensated ExecutionStatus = "compensated"
)

// Terminal 终态不再被结算流程修改
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecExecuted, ExecFailed, ExecCompensated:
		return true
	case ExecNone, ExecReserving, ExecReserved, ExecSettled:
		return false
	}
	return false
}

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobDone      JobStatus = "done"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

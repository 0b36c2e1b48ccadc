package subscription

import (
	"fmt"
	"strings"

	"github.com/utrading/utrading-agent-hub/internal/apperr"
	"github.com/utrading/utrading-agent-hub/internal/models"
)

// ValidateUserConfig 用户配置的每一项都不得超过 Agent 上限
func ValidateUserConfig(agent *models.AgentDefinition, cfg models.UserConfig) error {
	var violations []string
	add := func(format string, args ...any) {
		violations = append(violations, fmt.Sprintf(format, args...))
	}

	switch {
	case !cfg.AutomationLevel.Valid():
		add("automationLevel %q is invalid", cfg.AutomationLevel)
	case cfg.AutomationLevel.Rank() > agent.AutomationLevel.Rank():
		add("automationLevel %s exceeds %s", cfg.AutomationLevel, agent.AutomationLevel)
	}

	switch {
	case cfg.MaxTradesPerDay < 0:
		add("maxTradesPerDay must not be negative")
	case cfg.MaxTradesPerDay > agent.MaxTradesPerDay:
		add("maxTradesPerDay %d exceeds %d", cfg.MaxTradesPerDay, agent.MaxTradesPerDay)
	}

	switch {
	case cfg.MaxAPICostPerDay.IsNegative():
		add("maxApiCostPerDay must not be negative")
	case cfg.MaxAPICostPerDay.GreaterThan(agent.MaxAPICostPerDay):
		add("maxApiCostPerDay %s exceeds %s", cfg.MaxAPICostPerDay, agent.MaxAPICostPerDay)
	}

	switch {
	case cfg.RiskTolerance < 0 || cfg.RiskTolerance > 1:
		add("riskTolerance %v out of [0,1]", cfg.RiskTolerance)
	case cfg.RiskTolerance > agent.RiskTolerance:
		add("riskTolerance %v exceeds %v", cfg.RiskTolerance, agent.RiskTolerance)
	}

	switch {
	case !cfg.MaxPositionSize.IsPositive():
		add("maxPositionSize must be positive")
	case cfg.MaxPositionSize.GreaterThan(agent.MaxPositionSize):
		add("maxPositionSize %s exceeds %s", cfg.MaxPositionSize, agent.MaxPositionSize)
	}

	switch {
	case cfg.StopLossThreshold < 0 || cfg.StopLossThreshold > 1:
		add("stopLossThreshold %v out of [0,1]", cfg.StopLossThreshold)
	case cfg.StopLossThreshold > agent.StopLossThreshold:
		add("stopLossThreshold %v exceeds %v", cfg.StopLossThreshold, agent.StopLossThreshold)
	}

	if len(violations) > 0 {
		return apperr.Validation("userConfig exceeds agent %s limits: %s", agent.ID, strings.Join(violations, "; "))
	}
	return nil
}

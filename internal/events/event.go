// Package events 领域事件与异步投递队列
package events

import (
	"encoding/json"
	"time"
)

const (
	DecisionCreated        = "decision.created"
	TradeExecuted          = "trade.executed"
	TradeFailed            = "trade.failed"
	SubscriptionConfirmed  = "subscription.confirmed"
	SubscriptionVerified   = "subscription.verified"
	SubscriptionCancelled  = "subscription.cancelled"
	SubscriptionVerifyFail = "subscription.verify_failed"
)

// Event 领域事件
type Event struct {
	Name    string    `json:"event"`
	UserID  string    `json:"userId,omitempty"`
	AgentID string    `json:"agentId,omitempty"`
	Data    any       `json:"data,omitempty"`
	At      time.Time `json:"at"`
}

func New(name, userID, agentID string, data any) Event {
	return Event{Name: name, UserID: userID, AgentID: agentID, Data: data, At: time.Now()}
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Handler 事件处理器（NATS 发布器等）
type Handler interface {
	HandleEvent(evt Event) error
}

// Emitter 业务侧只关心投递，不关心结果
type Emitter interface {
	Emit(evt Event)
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Emit(Event) {}

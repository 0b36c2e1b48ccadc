package nats

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/utrading/utrading-agent-hub/internal/events"
	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// SubjectPrefix 事件主题前缀，主题为 agent_hub.<event>
const SubjectPrefix = "agent_hub."

func Subject(event string) string {
	return SubjectPrefix + event
}

// Publisher NATS 发布器
type Publisher struct {
	*nats.Conn
	mu     sync.RWMutex
	closed bool
}

// NewPublisher 创建 NATS 发布器
func NewPublisher(url string) (*Publisher, error) {
	conn, err := nats.Connect(url,
		nats.Name("agent_hub"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			monitor.SetNATSConnected(false)
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			monitor.SetNATSConnected(true)
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	p := &Publisher{
		Conn: conn,
	}

	// 更新指标
	monitor.SetNATSConnected(true)

	return p, nil
}

// HandleEvent 实现 events.Handler
func (p *Publisher) HandleEvent(evt events.Event) error {
	data, err := evt.Marshal()
	if err != nil {
		logger.Error().Err(err).Str("event", evt.Name).Msg("marshal event failed")
		return err
	}

	return p.Publish(Subject(evt.Name), data)
}

// IsConnected 检查发布器是否已连接
func (p *Publisher) IsConnected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return !p.closed && p.Conn != nil && !p.Conn.IsClosed()
}

// Close 关闭连接
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true

	// 更新指标
	monitor.SetNATSConnected(false)

	if p.Conn != nil {
		p.Conn.Drain()
	}
	return nil
}

package events

import (
	"sync"

	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Queue 异步事件队列，队列满时同步降级
type Queue struct {
	queue   chan Event
	wg      sync.WaitGroup
	handler Handler
	done    chan struct{}
	once    sync.Once
}

func NewQueue(size int, handler Handler) *Queue {
	if size <= 0 {
		size = 10000
	}
	return &Queue{
		queue:   make(chan Event, size),
		handler: handler,
		done:    make(chan struct{}),
	}
}

// Start 启动工作协程
func (q *Queue) Start() {
	q.wg.Add(1)
	go q.worker()
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for {
		select {
		case evt := <-q.queue:
			q.handle(evt)
		case <-q.done:
			// 退出前投递剩余事件
			for {
				select {
				case evt := <-q.queue:
					q.handle(evt)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) handle(evt Event) {
	monitor.SetEventQueueSize(len(q.queue))
	if err := q.handler.HandleEvent(evt); err != nil {
		monitor.IncEventPublished(evt.Name, "error")
		logger.Error().Err(err).Str("event", evt.Name).Msg("handle event failed")
		return
	}
	monitor.IncEventPublished(evt.Name, "ok")
}

// Enqueue 入队，队列满时在调用方协程同步处理
func (q *Queue) Enqueue(evt Event) error {
	select {
	case q.queue <- evt:
		monitor.SetEventQueueSize(len(q.queue))
		return nil
	default:
		monitor.IncEventQueueFull()
		logger.Warn().
			Str("event", evt.Name).
			Int("queue_size", len(q.queue)).
			Msg("event queue full, falling back to sync processing")

		return q.handler.HandleEvent(evt)
	}
}

// Emit 实现 Emitter，错误只记录日志
func (q *Queue) Emit(evt Event) {
	if err := q.Enqueue(evt); err != nil {
		logger.Error().Err(err).Str("event", evt.Name).Msg("emit event failed")
	}
}

// Stop 停止队列，已入队事件会被处理完
func (q *Queue) Stop() {
	q.once.Do(func() { close(q.done) })
	q.wg.Wait()
}

func (q *Queue) Size() int {
	return len(q.queue)
}

// Stats 健康检查统计
func (q *Queue) Stats() map[string]any {
	return map[string]any{
		"size":     len(q.queue),
		"capacity": cap(q.queue),
	}
}

// LogHandler 未启用 NATS 时仅记录事件
type LogHandler struct{}

func (LogHandler) HandleEvent(evt Event) error {
	logger.Debug().
		Str("event", evt.Name).
		Str("user_id", evt.UserID).
		Str("agent_id", evt.AgentID).
		Msg("event")
	return nil
}

package prediction

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/utrading/utrading-agent-hub/internal/monitor"
	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Failure 单个预测源的失败记录
type Failure struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// Gatherer 并发查询预测源，单个源失败或超时不影响其他源
type Gatherer struct {
	pool    *ants.Pool
	timeout time.Duration
}

// NewGatherer poolSize 为全局并发上限，timeout 为单源超时
func NewGatherer(poolSize int, timeout time.Duration) (*Gatherer, error) {
	if poolSize <= 0 {
		poolSize = 64
	}
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, err
	}
	return &Gatherer{pool: pool, timeout: timeout}, nil
}

// Gather 结果保持与 sources 相同的相对顺序
func (g *Gatherer) Gather(ctx context.Context, sources []Source, req Request) ([]*Prediction, []Failure) {
	results := make([]*Prediction, len(sources))
	errs := make([]error, len(sources))

	var wg sync.WaitGroup
	for i, src := range sources {
		idx, source := i, src
		task := func() {
			defer wg.Done()
			results[idx], errs[idx] = g.predictOne(ctx, source, req)
		}

		wg.Add(1)
		if err := g.pool.Submit(task); err != nil {
			// 协程池满，降级为独立协程
			logger.Warn().Err(err).Str("source", source.Name()).Msg("prediction pool full, spawning goroutine")
			go task()
		}
	}
	wg.Wait()

	var (
		preds    []*Prediction
		failures []Failure
	)
	for i, src := range sources {
		if errs[i] != nil {
			failures = append(failures, Failure{Source: src.Name(), Error: errs[i].Error()})
			continue
		}
		preds = append(preds, results[i])
	}
	return preds, failures
}

func (g *Gatherer) predictOne(ctx context.Context, source Source, req Request) (p *Prediction, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, fmt.Errorf("prediction source panic: %v", r)
		}
		monitor.ObservePrediction(source.Name(), start)
		if err != nil {
			monitor.IncPredictionFailure(source.Name())
			logger.Warn().Err(err).
				Str("source", source.Name()).
				Str("token", req.TokenSymbol).
				Msg("prediction source failed")
		}
	}()

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	p, err = source.Predict(ctx, req)
	if err == nil && p == nil {
		err = fmt.Errorf("empty prediction")
	}
	return p, err
}

// Release 释放协程池
func (g *Gatherer) Release() {
	g.pool.Release()
}

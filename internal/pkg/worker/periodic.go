// internal/pkg/worker/periodic.go
package worker

import (
	"context"
	"sync"
	"time"

	"orderflow/internal/pkg/logger"
)

// Periodic 按固定间隔执行一个任务，直到 Stop。单次执行出错只记日志。
type Periodic struct {
	name     string
	interval time.Duration
	task     func(ctx context.Context) error

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPeriodic(name string, interval time.Duration, task func(ctx context.Context) error) *Periodic {
	return &Periodic{name: name, interval: interval, task: task}
}

func (p *Periodic) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		logger.Ctx(ctx).Info().Str("worker", p.name).Dur("interval", p.interval).Msg("periodic worker started")
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if err := p.task(runCtx); err != nil && runCtx.Err() == nil {
					logger.Ctx(runCtx).Error().Err(err).Str("worker", p.name).Msg("periodic task failed")
				}
			}
		}
	}()
	return nil
}

func (p *Periodic) Stop(ctx context.Context) {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	logger.Ctx(ctx).Info().Str("worker", p.name).Msg("periodic worker stopped")
}

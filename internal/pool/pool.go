package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// =============================================================================
// 🧵 有界 worker 池
// =============================================================================

var (
	// ErrPoolClosed 在已关闭的池上提交任务
	ErrPoolClosed = errors.New("pool is closed")
	// ErrTaskPanicked 任务发生 panic，已恢复
	ErrTaskPanicked = errors.New("task panicked")
)

// Task 一个工作单元
type Task func(ctx context.Context) error

// Config worker 池配置
type Config struct {
	// 并发 worker 数
	Workers int `json:"workers"`
	// 排队上限，满时 Submit 阻塞
	QueueSize int `json:"queue_size"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{Workers: 4, QueueSize: 64}
}

// Pool 固定数量 worker 的任务池。Submit 在队列满时阻塞到 ctx 结束，
// 任务错误通过 OnError 回调上报，Close 等待已提交任务全部执行完。
type Pool struct {
	tasks   chan job
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool
	onError func(err error)
	logger  *zap.Logger

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	active    atomic.Int32
}

type job struct {
	ctx  context.Context
	task Task
}

// Option 配置 Pool
type Option func(*Pool)

// WithErrorHandler 每个失败任务调用一次，可能并发调用
func WithErrorHandler(fn func(err error)) Option {
	return func(p *Pool) { p.onError = fn }
}

// New 创建并启动 worker
func New(cfg Config, logger *zap.Logger, opts ...Option) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}

	p := &Pool{
		tasks:  make(chan job, cfg.QueueSize),
		logger: logger.With(zap.String("component", "worker_pool")),
	}
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(cfg.Workers)
	for range cfg.Workers {
		go p.worker()
	}
	return p
}

// Submit 提交任务。ctx 同时用于排队等待与任务执行。
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.closeMu.RLock()
	defer p.closeMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- job{ctx: ctx, task: task}:
		p.submitted.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close 停止接收任务并等待队列清空，重复调用安全
func (p *Pool) Close() {
	p.closeMu.Lock()
	if p.closed {
		p.closeMu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.closeMu.Unlock()

	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.tasks {
		p.active.Add(1)
		err := p.run(j)
		p.active.Add(-1)

		if err != nil {
			p.failed.Add(1)
			if p.onError != nil {
				p.onError(err)
			}
			continue
		}
		p.completed.Add(1)
	}
}

func (p *Pool) run(j job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("%w: %v", ErrTaskPanicked, r)
		}
	}()
	// 排队期间 ctx 已结束的任务直接跳过
	if err := j.ctx.Err(); err != nil {
		return err
	}
	return j.task(j.ctx)
}

// Stats 池统计
type Stats struct {
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Stats 返回当前统计
func (p *Pool) Stats() Stats {
	return Stats{
		Active:    int(p.active.Load()),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
	}
}

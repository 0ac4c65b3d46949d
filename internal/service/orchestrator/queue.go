package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TaskKind 响应之后的副作用类型
type TaskKind string

const (
	TaskMemoryWrite      TaskKind = "memory_write"
	TaskTrustUpdate      TaskKind = "trust_update"
	TaskCacheStore       TaskKind = "cache_store"
	TaskConversionRecord TaskKind = "conversion_record"
)

// Task 一个异步执行的任务
type Task struct {
	Kind   TaskKind
	UserID string
	Run    func(ctx context.Context) error
}

// TaskResult 每个任务完成后上报的结果
type TaskResult struct {
	Kind     TaskKind
	UserID   string
	Err      error
	Duration time.Duration
}

// QueueConfig 后台持久化管道配置
type QueueConfig struct {
	Workers     int           // background worker goroutines, default 4
	QueueSize   int           // buffered channel capacity, default 256
	TaskTimeout time.Duration // per-task deadline, default 10s
}

// DefaultQueueConfig 返回默认配置
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Workers:     4,
		QueueSize:   256,
		TaskTimeout: 10 * time.Second,
	}
}

// Queue 把持久化从响应路径上解耦。调用方通过 Submit 入队，
// worker 执行任务并通过 OnResult 上报，失败不会传回提交方
type Queue struct {
	config  QueueConfig
	queue   chan Task
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	logger  *zap.Logger
	pending atomic.Int64

	mu     sync.RWMutex
	closed bool

	// OnResult 在 worker 协程中于每个任务结束后调用，可以为 nil
	OnResult func(TaskResult)
}

// NewQueue 创建并启动持久化管道
// 调用 Stop() 排空队列并关闭 worker
func NewQueue(cfg QueueConfig, logger *zap.Logger) *Queue {
	defaults := DefaultQueueConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = defaults.TaskTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config: cfg,
		queue:  make(chan Task, cfg.QueueSize),
		cancel: cancel,
		logger: logger.Named("persist"),
	}

	for i := 0; i < cfg.Workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx)
	}
	return q
}

// Submit 入队一个任务，不阻塞。队列已满或已停止时丢弃
// 入队成功返回 true
func (q *Queue) Submit(task Task) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.logger.Warn("queue stopped, dropping task", zap.String("kind", string(task.Kind)), zap.String("userId", task.UserID))
		return false
	}

	q.pending.Add(1)
	select {
	case q.queue <- task:
		return true
	default:
		q.pending.Add(-1)
		q.logger.Warn("queue full, dropping task", zap.String("kind", string(task.Kind)), zap.String("userId", task.UserID))
		return false
	}
}

// Pending 返回已提交但尚未完成的任务数
func (q *Queue) Pending() int {
	return int(q.pending.Load())
}

// Flush 阻塞直到所有已提交任务完成或 ctx 结束
func (q *Queue) Flush(ctx context.Context) error {
	ticker := time.NewTicker(2 * time.Millisecond)
	defer ticker.Stop()
	for q.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Stop 通知 worker 处理完剩余任务后退出，阻塞直到完成
// 可重复调用
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancel()
	close(q.queue)
	q.mu.Unlock()
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()
	for {
		select {
		case task, ok := <-q.queue:
			if !ok {
				return
			}
			q.process(task)
		case <-ctx.Done():
			for task := range q.queue {
				q.process(task)
			}
			return
		}
	}
}

func (q *Queue) process(task Task) {
	defer q.pending.Add(-1)

	ctx, cancel := context.WithTimeout(context.Background(), q.config.TaskTimeout)
	defer cancel()

	start := time.Now()
	err := runTask(ctx, task)
	result := TaskResult{Kind: task.Kind, UserID: task.UserID, Err: err, Duration: time.Since(start)}

	if err != nil {
		q.logger.Warn("task failed",
			zap.String("kind", string(task.Kind)),
			zap.String("userId", task.UserID),
			zap.Error(err))
	} else {
		q.logger.Debug("task done",
			zap.String("kind", string(task.Kind)),
			zap.Duration("took", result.Duration))
	}

	if q.OnResult != nil {
		q.OnResult(result)
	}
}

func runTask(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", task.Kind, r)
		}
	}()
	if task.Run == nil {
		return nil
	}
	return task.Run(ctx)
}

package sink

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/taoyao-code/hcidump-monitor/internal/metrics"
)

const defaultSinkQueueSize = 1024

// Queue 外部目标的异步投递队列（入队不阻塞 dump 监听器）
// 队列满时丢弃并计数；后台 worker 逐条发布，每条受 publishTimeout 限制
type Queue struct {
	sink    Sink
	ch      chan Record
	timeout time.Duration
	logger  *zap.Logger
	metrics *metrics.AppMetrics
	warn    *rate.Limiter
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// NewQueue 包装目标；需调用 Start 才开始消费
func NewQueue(s Sink, size int, logger *zap.Logger, m *metrics.AppMetrics) *Queue {
	if size <= 0 {
		size = defaultSinkQueueSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		sink:    s,
		ch:      make(chan Record, size),
		timeout: publishTimeout,
		logger:  logger.With(zap.String("component", "sink"), zap.String("sink", s.Name())),
		metrics: m,
		warn:    rate.NewLimiter(rate.Every(time.Second), 1),
		done:    make(chan struct{}),
	}
}

func (q *Queue) Name() string { return q.sink.Name() }

// Dropped 因队列已满或已关闭而丢弃的记录数
func (q *Queue) Dropped() uint64 { return q.dropped.Load() }

// Len 待发布记录数
func (q *Queue) Len() int { return len(q.ch) }

// Publish 入队（异步，不阻塞业务逻辑）
func (q *Queue) Publish(_ context.Context, rec Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.drop(rec)
		return nil
	}
	select {
	case q.ch <- rec:
	default:
		q.drop(rec)
	}
	return nil
}

func (q *Queue) drop(rec Record) {
	n := q.dropped.Add(1)
	q.metrics.PublishDropped(q.sink.Name())
	if q.warn.Allow() {
		q.logger.Warn("sink queue full, record dropped",
			zap.String("identity", rec.Identity),
			zap.Uint64("dropped_total", n))
	}
}

// Start 启动消费 worker；ctx 取消后 worker 退出
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()
	go q.worker(ctx)
}

func (q *Queue) worker(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-q.ch:
			if !ok {
				return
			}
			q.publish(ctx, rec)
		}
	}
}

func (q *Queue) publish(ctx context.Context, rec Record) {
	ctx, cancel := context.WithTimeout(ctx, q.timeout)
	defer cancel()
	err := q.sink.Publish(ctx, rec)
	q.metrics.Published(q.sink.Name(), err)
	if err != nil {
		q.logger.Warn("publish failed", zap.String("identity", rec.Identity), zap.Error(err))
	}
}

// Close 停止入队并等待剩余记录发布完，ctx 到期后放弃剩余记录
func (q *Queue) Close(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	cancel := q.cancel
	q.mu.Unlock()

	if cancel == nil {
		return
	}
	select {
	case <-q.done:
	case <-ctx.Done():
		q.logger.Warn("sink queue not drained", zap.Int("pending", len(q.ch)))
		cancel()
		<-q.done
	}
}

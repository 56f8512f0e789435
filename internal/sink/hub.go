package sink

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultQueueSize = 64

// Subscription Hub 的一个订阅者
type Subscription struct {
	C       <-chan Record
	ch      chan Record
	dropped atomic.Uint64
}

// Dropped 因缓冲已满而丢弃的记录数
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Hub 进程内扇出，供 websocket 客户端订阅
// 慢消费者的记录直接丢弃，不阻塞 dump 监听器
type Hub struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Name() string { return "hub" }

// Subscribe 注册订阅者；返回的取消函数会关闭 C，可重复调用
func (h *Hub) Subscribe(size int) (*Subscription, func()) {
	if size <= 0 {
		size = defaultQueueSize
	}
	ch := make(chan Record, size)
	s := &Subscription{C: ch, ch: ch}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return s, func() {}
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s, func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[s]; ok {
				delete(h.subs, s)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

// Publish 非阻塞投递给所有订阅者
func (h *Hub) Publish(_ context.Context, rec Record) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.subs {
		select {
		case s.ch <- rec:
		default:
			s.dropped.Add(1)
		}
	}
	return nil
}

// Len 当前订阅者数
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close 关闭所有订阅，之后的订阅立即得到已关闭的通道
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		close(s.ch)
		delete(h.subs, s)
	}
	h.closed = true
}

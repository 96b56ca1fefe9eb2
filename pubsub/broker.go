package pubsub

import (
	"context"
	"sync"
)

const bufferSize = 64

// Broker 实现了基于内存的发布者/订阅者模型。
// 它使用泛型 T 来保证事件数据载荷的类型安全。
type Broker[T any] struct {
	subs       map[chan Event[T]]<-chan struct{} // 活跃订阅者的集合，值为订阅方 ctx 的结束信号
	mu         sync.RWMutex                      // 读写锁，保护 subs 映射的并发访问
	done       chan struct{}                     // 关闭信号通道，用于停止所有操作
	subCount   int                               // 当前订阅者数量（统计用途）
	bufferSize int                               // 每个订阅通道的缓冲区大小
	lossless   bool                              // 为 true 时 Publish 阻塞直到送达，不丢事件
	closeOnce  sync.Once
}

// NewBroker 创建并返回一个新的具有默认设置的 Broker。
// 订阅者缓冲区满时事件会被丢弃。
func NewBroker[T any]() *Broker[T] {
	return NewBrokerWithOptions[T](bufferSize, false)
}

// NewLosslessBroker 创建一个不丢事件的 Broker。
// 流式回答的片段必须按顺序完整送达，因此使用该模式。
func NewLosslessBroker[T any]() *Broker[T] {
	return NewBrokerWithOptions[T](bufferSize, true)
}

// NewBrokerWithOptions 创建一个带有自定义通道缓冲区大小和投递模式的 Broker。
func NewBrokerWithOptions[T any](channelBufferSize int, lossless bool) *Broker[T] {
	if channelBufferSize < 0 {
		channelBufferSize = 0
	}
	return &Broker[T]{
		subs:       make(map[chan Event[T]]<-chan struct{}),
		done:       make(chan struct{}),
		bufferSize: channelBufferSize,
		lossless:   lossless,
	}
}

// Shutdown 优雅地关闭 Broker，停止处理新请求并通知所有订阅者。
func (b *Broker[T]) Shutdown() {
	// 先发出关闭信号，唤醒阻塞在无损发送上的发布者，再获取写锁
	first := false
	b.closeOnce.Do(func() {
		close(b.done)
		first = true
	})
	if !first { // 已经关闭，直接返回
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// 关闭所有订阅者的通道并从 map 中移除
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}

	b.subCount = 0
}

// Subscribe 注册一个订阅者并返回一个接收事件的通道。
// 该通道会在 ctx.Done() 信号触发或 Broker 关闭时自动注销并关闭。
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	// 如果 Broker 已关闭，返回一个立即关闭的通道
	select {
	case <-b.done:
		ch := make(chan Event[T])
		close(ch)
		return ch
	default:
	}

	sub := make(chan Event[T], b.bufferSize)
	b.subs[sub] = ctx.Done()
	b.subCount++

	// 启动后台协程监听上下文状态以便自动清理
	go func() {
		select {
		case <-ctx.Done():
		case <-b.done:
			return
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub)
			b.subCount--
		}
	}()

	return sub
}

// GetSubscriberCount 返回当前活跃的订阅者数量。
func (b *Broker[T]) GetSubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subCount
}

// Publish 将一个事件分发给所有活跃的订阅者。
// 默认模式下该操作是非阻塞的：如果订阅者的缓冲区已满，该订阅者将跳过当前事件。
// 无损模式下会一直等待，直到订阅者接收、订阅方 ctx 结束或 Broker 关闭。
func (b *Broker[T]) Publish(t EventType, payload T) {
	// 发送期间持有读锁，清理协程无法在发送途中关闭通道
	b.mu.RLock()
	defer b.mu.RUnlock()

	// 如果 Broker 已关闭，直接放弃分发
	select {
	case <-b.done:
		return
	default:
	}

	event := Event[T]{Type: t, Payload: payload}

	for sub, subDone := range b.subs {
		if b.lossless {
			select {
			case sub <- event:
			case <-subDone:
			case <-b.done:
				return
			}
			continue
		}

		select {
		case sub <- event:
		default:
			// 如果通道已满，则消息无法在不阻塞的情况下发送，直接忽略
		}
	}
}

package pubsub

import "context"

// 一次任务（一轮问答、一批文档加载）的事件依次为 Created、若干 Updated、Finished
const (
	// CreatedEvent 任务开始，载荷描述任务本身（问题、待加载文件数）
	CreatedEvent EventType = "created"
	// UpdatedEvent 任务进展，如回答片段、单个文件加载完成
	UpdatedEvent EventType = "updated"
	// FinishedEvent 任务结束，载荷携带汇总或错误
	FinishedEvent EventType = "finished"
)

type (
	// EventType 事件类型
	EventType string

	// Event 订阅者收到的一条事件
	Event[T any] struct {
		Type    EventType
		Payload T
	}

	// Subscriber 返回只读事件通道，ctx 结束时通道关闭
	Subscriber[T any] interface {
		Subscribe(context.Context) <-chan Event[T]
	}

	// Publisher 向全部订阅者发布事件。加载器只依赖该接口，不关心投递模式
	Publisher[T any] interface {
		Publish(EventType, T)
	}
)

var (
	_ Subscriber[struct{}] = (*Broker[struct{}])(nil)
	_ Publisher[struct{}]  = (*Broker[struct{}])(nil)
)

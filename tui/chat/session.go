package chat

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"kbqa/llm"
	"kbqa/llm/qa"
	"kbqa/pubsub"
	"kbqa/tui/component"

	"go.uber.org/zap"
)

// Session 在后台逐轮调用问答流水线，并把过程发布给订阅者。
// 提交的问题排队，由唯一的 worker 依次执行，各轮事件不会交错
type Session struct {
	pipeline *qa.Pipeline
	broker   *pubsub.Broker[component.TurnUpdate]
	logger   *zap.Logger

	mu      sync.Mutex
	pending []string
	wake    chan struct{}

	ctx        context.Context
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// NewSession 创建会话并启动 worker。使用无损 Broker，片段不会丢失也不会乱序
func NewSession(ctx context.Context, pipeline *qa.Pipeline, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	childCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		pipeline:   pipeline,
		broker:     pubsub.NewLosslessBroker[component.TurnUpdate](),
		logger:     logger,
		wake:       make(chan struct{}, 1),
		ctx:        childCtx,
		cancelFunc: cancel,
	}
	s.wg.Add(1)
	go s.work()
	return s
}

// Subscribe 订阅会话事件
func (s *Session) Subscribe(ctx context.Context) <-chan pubsub.Event[component.TurnUpdate] {
	return s.broker.Subscribe(ctx)
}

// Submit 把问题加入队列后立即返回，不阻塞界面
func (s *Session) Submit(question string) {
	s.mu.Lock()
	s.pending = append(s.pending, question)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default: // worker 已经被唤醒
	}
}

// Pending 排队中、尚未开始的问题数
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) work() {
	defer s.wg.Done()
	for {
		question, ok := s.next()
		if ok {
			s.ask(question)
			continue
		}
		select {
		case <-s.wake:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) next() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 || s.ctx.Err() != nil {
		return "", false
	}
	question := s.pending[0]
	s.pending = s.pending[1:]
	return question, true
}

// ask 执行一轮问答并发布全部事件，阻塞到本轮结束
func (s *Session) ask(question string) {
	started := time.Now()
	s.broker.Publish(pubsub.CreatedEvent, component.TurnUpdate{Text: question})

	turn, err := s.pipeline.Ask(s.ctx, question)
	if err != nil {
		s.finish(started, nil, err)
		return
	}
	defer turn.Close()

	for {
		fragment, err := turn.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.finish(started, turn, err)
			return
		}
		s.broker.Publish(pubsub.UpdatedEvent, component.TurnUpdate{Text: fragment})
	}
	s.finish(started, turn, nil)
}

func (s *Session) finish(started time.Time, turn *qa.Turn, err error) {
	update := component.TurnUpdate{Duration: time.Since(started), Err: err}
	if turn != nil && err == nil {
		update.Sources = sourceNames(turn)
	}
	if err != nil {
		s.logger.Warn("turn failed", zap.Error(err))
	}
	s.broker.Publish(pubsub.FinishedEvent, update)
}

// sourceNames 去重后的来源文件，保持检索顺序
func sourceNames(turn *qa.Turn) []string {
	var names []string
	seen := make(map[string]bool)
	for _, doc := range turn.Sources() {
		src, _ := doc.MetaData[llm.MetaSource].(string)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		names = append(names, src)
	}
	return names
}

// Close 取消进行中的轮次、丢弃队列并关闭 Broker，等待 worker 退出
func (s *Session) Close() {
	s.cancelFunc()
	// 先关闭 Broker，唤醒阻塞在无损发布上的 worker
	s.broker.Shutdown()
	s.wg.Wait()
}

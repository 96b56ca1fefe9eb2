// Package qa 实现检索增强问答流水线：检索 → 组装提示词 → 流式生成
package qa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"kbqa/llm/prompt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// DefaultTemperature 未配置时的生成温度
const DefaultTemperature float32 = 0.3

// Config 流水线可选依赖
type Config struct {
	Temperature *float32 // nil 时用 DefaultTemperature，显式的 0 原样传给模型
	History     *History // 为 nil 时每轮独立，不带记忆
	Metrics     *Metrics
	Logger      *zap.Logger
	Observer    Observer
}

// Pipeline 问答流水线，同一时刻只处理一轮
type Pipeline struct {
	retriever   retriever.Retriever
	assembler   prompt.Assembler
	model       model.BaseChatModel
	config      Config
	temperature float32
	logger      *zap.Logger

	// turns 容量为 1，持有即代表有一轮在进行
	turns chan struct{}

	mu    sync.Mutex
	state State
}

// NewPipeline 创建流水线
func NewPipeline(r retriever.Retriever, a prompt.Assembler, m model.BaseChatModel, cfg Config) (*Pipeline, error) {
	if r == nil || a == nil || m == nil {
		return nil, fmt.Errorf("retriever, assembler and chat model are required")
	}
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		retriever:   r,
		assembler:   a,
		model:       m,
		config:      cfg,
		temperature: temperature,
		logger:      logger,
		turns:       make(chan struct{}, 1),
		state:       StateIdle,
	}, nil
}

// State 当前状态
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// History 返回记忆日志，无记忆模式下为 nil
func (p *Pipeline) History() *History {
	return p.config.History
}

func (p *Pipeline) transition(to State) {
	p.mu.Lock()
	from := p.state
	p.state = to
	p.mu.Unlock()

	p.logger.Debug("pipeline state", zap.Stringer("from", from), zap.Stringer("state", to))
	if p.config.Observer != nil {
		p.config.Observer(from, to)
	}
}

// Ask 开始一轮问答：检索、组装提示词并发起流式生成。
// 返回的 Turn 必须读到结束或调用 Close，否则下一轮会一直等待。
func (p *Pipeline) Ask(ctx context.Context, question string) (*Turn, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	select {
	case p.turns <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	started := time.Now()

	p.transition(StateRetrieving)
	docs, err := p.retriever.Retrieve(ctx, question)
	if err != nil {
		return nil, p.fail(started, &TurnError{Stage: StateRetrieving, Err: err})
	}
	p.config.Metrics.observeChunks(len(docs))

	p.transition(StateAssembling)
	var history []*schema.Message
	if p.config.History != nil {
		history = p.config.History.Messages()
	}
	msgs, err := p.assembler.Assemble(ctx, docs, question, history)
	if err != nil {
		return nil, p.fail(started, &TurnError{Stage: StateAssembling, Err: err})
	}

	p.transition(StateGenerating)
	stream, err := p.model.Stream(ctx, msgs, model.WithTemperature(p.temperature))
	if err != nil {
		return nil, p.fail(started, &TurnError{Stage: StateGenerating, Err: err})
	}

	return &Turn{
		pipeline: p,
		ctx:      ctx,
		question: question,
		sources:  docs,
		stream:   stream,
		started:  started,
	}, nil
}

// Run 执行完整的一轮并返回拼接后的答案
func (p *Pipeline) Run(ctx context.Context, question string) (string, error) {
	turn, err := p.Ask(ctx, question)
	if err != nil {
		return "", err
	}
	return turn.Drain()
}

// fail 记录失败并释放轮次，流水线回到空闲
func (p *Pipeline) fail(started time.Time, err *TurnError) error {
	p.transition(StateFailed)
	p.logger.Warn("turn failed", zap.Stringer("state", err.Stage), zap.Error(err.Err))
	p.config.Metrics.observeTurn(outcomeFailed, time.Since(started).Seconds())
	p.release()
	return err
}

func (p *Pipeline) release() {
	p.transition(StateIdle)
	<-p.turns
}

// Turn 一轮回答的片段序列
type Turn struct {
	pipeline *Pipeline
	ctx      context.Context
	question string
	sources  []*schema.Document
	stream   *schema.StreamReader[*schema.Message]
	started  time.Time

	mu        sync.Mutex
	answer    strings.Builder
	fragments int
	done      bool
	err       error
}

// Next 按到达顺序返回下一个片段，结束时返回 io.EOF
func (t *Turn) Next() (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return "", t.err
	}

	for {
		if err := t.ctx.Err(); err != nil {
			t.finishLocked(&TurnError{Stage: StateStreaming, Err: err})
			return "", t.err
		}

		msg, err := t.stream.Recv()
		if errors.Is(err, io.EOF) {
			t.finishLocked(nil)
			return "", t.err
		}
		if err != nil {
			t.finishLocked(&TurnError{Stage: t.stage(), Err: err})
			return "", t.err
		}
		if msg == nil || msg.Content == "" {
			continue
		}

		if t.fragments == 0 {
			t.pipeline.transition(StateStreaming)
		}
		t.fragments++
		t.answer.WriteString(msg.Content)
		t.pipeline.config.Metrics.observeFragment()
		return msg.Content, nil
	}
}

func (t *Turn) stage() State {
	if t.fragments == 0 {
		return StateGenerating
	}
	return StateStreaming
}

// Drain 读完剩余片段并返回完整答案
func (t *Turn) Drain() (string, error) {
	for {
		if _, err := t.Next(); err != nil {
			if errors.Is(err, io.EOF) {
				return t.Answer(), nil
			}
			return t.Answer(), err
		}
	}
}

// Answer 目前为止拼接的答案
func (t *Turn) Answer() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.answer.String()
}

// Sources 本轮检索到的文本块
func (t *Turn) Sources() []*schema.Document {
	return t.sources
}

// Question 去除首尾空白后的问题
func (t *Turn) Question() string {
	return t.question
}

// Close 提前结束本轮；已结束时无操作
func (t *Turn) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.done = true
	t.err = ErrTurnClosed
	t.stream.Close()
	t.pipeline.config.Metrics.observeTurn(outcomeAbandoned, time.Since(t.started).Seconds())
	t.pipeline.release()
}

// finishLocked 结束本轮：成功时写入记忆，失败时经过 Failed 回到 Idle
func (t *Turn) finishLocked(err *TurnError) {
	t.done = true
	t.stream.Close()
	p := t.pipeline

	if err != nil {
		t.err = p.fail(t.started, err)
		return
	}

	t.err = io.EOF
	if p.config.History != nil {
		p.config.History.Append(t.question, t.answer.String())
	}
	p.logger.Debug("turn finished",
		zap.Int("fragments", t.fragments),
		zap.Int("chunks", len(t.sources)),
		zap.Duration("duration", time.Since(t.started)))
	p.config.Metrics.observeTurn(outcomeOK, time.Since(t.started).Seconds())
	p.release()
}

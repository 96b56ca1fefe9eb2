package qa

import (
	"strings"
	"sync"

	"github.com/cloudwego/eino/schema"
)

const reasoningEnd = "</think>"

// Exchange 一轮完整的问答
type Exchange struct {
	Question string
	Answer   string
}

// History 只追加的对话日志，写入方唯一（流水线在持有轮次锁时写入）
type History struct {
	mu        sync.RWMutex
	exchanges []Exchange
	maxTurns  int // 回放进提示词的最大轮数
}

// NewHistory 创建对话日志，maxTurns <= 0 时默认回放最近 10 轮
func NewHistory(maxTurns int) *History {
	if maxTurns <= 0 {
		maxTurns = 10
	}
	return &History{maxTurns: maxTurns}
}

// Append 追加一轮问答，答案中的推理前缀会被去掉
func (h *History) Append(question, answer string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exchanges = append(h.exchanges, Exchange{
		Question: question,
		Answer:   StripReasoning(answer),
	})
}

// Exchanges 返回全部记录的副本
func (h *History) Exchanges() []Exchange {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Exchange, len(h.exchanges))
	copy(out, h.exchanges)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.exchanges)
}

// Messages 将最近 maxTurns 轮转换为 user/assistant 消息对
func (h *History) Messages() []*schema.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	recent := h.exchanges
	if len(recent) > h.maxTurns {
		recent = recent[len(recent)-h.maxTurns:]
	}

	msgs := make([]*schema.Message, 0, 2*len(recent))
	for _, ex := range recent {
		msgs = append(msgs,
			schema.UserMessage(ex.Question),
			schema.AssistantMessage(ex.Answer, nil),
		)
	}
	return msgs
}

// StripReasoning 去掉推理模型输出的 <think>...</think> 部分
func StripReasoning(answer string) string {
	if i := strings.LastIndex(answer, reasoningEnd); i >= 0 {
		answer = answer[i+len(reasoningEnd):]
	}
	return strings.TrimSpace(answer)
}

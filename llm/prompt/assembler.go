// Package prompt builds the chat messages sent to the model for one turn.
package prompt

import (
	"context"
	"fmt"
	"strings"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

const (
	// FallbackAnswer is what the model is told to say when the context has nothing relevant.
	FallbackAnswer = "抱歉，这个问题我还不知道。"
	// IdentityAnswer is the fixed reply to questions about the assistant's name.
	IdentityAnswer = "我是超级牛逼哄哄的小天才助手"

	contextSeparator = "\n\n"
	historyKey       = "chat_history"
)

// SystemTemplate is the persona and rule set. {context} receives the
// retrieved chunks.
const SystemTemplate = `您是一名文章阅读助手，是一个设计用于査询文档来回答问题的代理。
您可以使用文档检索工具，并基于检索内容来回答问题。
您可能不查询文档就知道答案，但是您仍然应该查询文档来获得答案。
如果您从文档中找不到任何信息用于回答问题，则只需返回“` + FallbackAnswer + `”作为答案。
如果有人提问等关于您的名字的问题，您就回答：“` + IdentityAnswer + `”作为答案。
上下文：{context}`

// Assembler turns retrieved context, the question and optional prior
// exchanges into model input.
type Assembler interface {
	Assemble(ctx context.Context, docs []*schema.Document, question string, history []*schema.Message) ([]*schema.Message, error)
}

// TemplateAssembler renders SystemTemplate with an eino chat template.
type TemplateAssembler struct {
	template einoprompt.ChatTemplate
}

var _ Assembler = (*TemplateAssembler)(nil)

func NewTemplateAssembler() *TemplateAssembler {
	return &TemplateAssembler{
		template: einoprompt.FromMessages(schema.FString,
			schema.SystemMessage(SystemTemplate),
			schema.MessagesPlaceholder(historyKey, true),
			schema.UserMessage("{question}"),
		),
	}
}

// Assemble renders the prompt. Empty docs still yield a complete prompt,
// which steers the model to FallbackAnswer.
func (a *TemplateAssembler) Assemble(ctx context.Context, docs []*schema.Document, question string, history []*schema.Message) ([]*schema.Message, error) {
	vars := map[string]any{
		"context":  JoinContext(docs),
		"question": question,
	}
	if len(history) > 0 {
		vars[historyKey] = history
	}

	msgs, err := a.template.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("format prompt: %w", err)
	}
	return msgs, nil
}

// JoinContext concatenates chunk contents in retrieval order.
func JoinContext(docs []*schema.Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, contextSeparator)
}

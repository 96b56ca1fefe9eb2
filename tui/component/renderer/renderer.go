package renderer

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/cloudwego/eino/schema"
)

const (
	// NameSources 标记来源列表消息
	NameSources = "sources"
	// NameError 标记错误消息
	NameError = "error"

	thinkStart = "<think>"
	thinkEnd   = "</think>"
)

// MessageRenderer 消息渲染器
type MessageRenderer struct {
	markdownRenderer *glamour.TermRenderer
	styles           *MessageStyles
	renderedCache    []string // 已渲染消息的缓存
	viewportWidth    int
}

// NewMessageRenderer 创建消息渲染器
func NewMessageRenderer(styles *MessageStyles) *MessageRenderer {
	if styles == nil {
		styles = DefaultMessageStyles()
	}

	// 初始化 Markdown 渲染器 (Dracula 主题)
	markdownRenderer, _ := glamour.NewTermRenderer(
		glamour.WithStylePath("dracula"),
		glamour.WithWordWrap(0), // 禁用自动换行，由外部控制
	)
	return &MessageRenderer{
		markdownRenderer: markdownRenderer,
		styles:           styles,
		renderedCache:    make([]string, 0),
	}
}

// SetViewportWidth 设置视口宽度
func (r *MessageRenderer) SetViewportWidth(width int) {
	r.viewportWidth = width
}

// RenderMessages 渲染所有消息。除最后一条外的消息已经定稿，会被缓存
func (r *MessageRenderer) RenderMessages(messages []*schema.Message) string {
	if len(messages) == 0 {
		return WelcomeText
	}

	// 检测是否发生回退（例如清空列表），如果是则重置缓存
	if len(messages) < len(r.renderedCache) {
		r.renderedCache = r.renderedCache[:0]
	}

	for i := len(r.renderedCache); i < len(messages)-1; i++ {
		r.renderedCache = append(r.renderedCache, r.RenderMessage(messages[i]))
	}

	var sb strings.Builder
	for _, cached := range r.renderedCache {
		if cached != "" {
			sb.WriteString(cached)
			sb.WriteString("\n\n")
		}
	}

	// 最后一条可能仍在流式追加，不缓存
	sb.WriteString(r.RenderMessage(messages[len(messages)-1]))

	content := sb.String()
	if r.viewportWidth > 0 {
		return lipgloss.NewStyle().Width(r.viewportWidth).Render(content)
	}
	return content
}

// WelcomeText 没有消息时的提示
const WelcomeText = "欢迎使用知识库问答！\n输入问题并回车发送，输入 exit 退出。"

// RenderMessage 渲染单条消息
func (r *MessageRenderer) RenderMessage(msg *schema.Message) string {
	if msg == nil {
		return ""
	}
	switch msg.Role {
	case schema.User:
		return r.renderUserMessage(msg)
	case schema.Assistant:
		return r.renderAssistantMessage(msg)
	case schema.System:
		return r.renderSystemMessage(msg)
	}
	return ""
}

// renderMarkdown 渲染 Markdown 内容
func (r *MessageRenderer) renderMarkdown(content string) string {
	if r.markdownRenderer == nil {
		return content
	}
	rendered, err := r.markdownRenderer.Render(content)
	if err != nil {
		return content
	}
	// 去除首尾空白（glamour 会添加前后换行）
	return strings.TrimSpace(rendered)
}

func (r *MessageRenderer) renderUserMessage(msg *schema.Message) string {
	if msg.Content == "" {
		return ""
	}
	return r.styles.User.Render("问题：") + " " + msg.Content
}

// renderAssistantMessage 渲染助手消息，<think> 段落单独以 Thinking 样式显示
func (r *MessageRenderer) renderAssistantMessage(msg *schema.Message) string {
	reasoning, answer := SplitReasoning(msg.Content)
	if msg.ReasoningContent != "" {
		reasoning = msg.ReasoningContent
	}

	var parts []string
	if reasoning != "" {
		parts = append(parts, r.styles.Thinking.Render("思考：")+"\n"+r.styles.Thinking.Render(reasoning))
	}
	header := r.styles.Assistant.Render("回答：")
	if answer != "" {
		parts = append(parts, header+"\n"+r.renderMarkdown(answer))
	} else if reasoning == "" {
		parts = append(parts, header)
	}
	return strings.Join(parts, "\n")
}

func (r *MessageRenderer) renderSystemMessage(msg *schema.Message) string {
	if msg.Content == "" {
		return ""
	}
	switch msg.Name {
	case NameError:
		return r.styles.Error.Render("出错：" + msg.Content)
	case NameSources:
		return r.styles.Indent.Render(r.styles.Source.Render("来源：" + msg.Content))
	}
	return r.styles.System.Render(msg.Content)
}

// SplitReasoning 拆出推理模型输出中的 <think> 部分。
// 只有开始标签时视为仍在思考，全部内容都算作推理
func SplitReasoning(content string) (reasoning, answer string) {
	start := strings.Index(content, thinkStart)
	if start < 0 {
		return "", strings.TrimSpace(content)
	}
	rest := content[start+len(thinkStart):]
	end := strings.Index(rest, thinkEnd)
	if end < 0 {
		return strings.TrimSpace(rest), ""
	}
	return strings.TrimSpace(rest[:end]), strings.TrimSpace(rest[end+len(thinkEnd):])
}

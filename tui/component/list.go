package component

import (
	"kbqa/pubsub"
	"kbqa/tui/component/renderer"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/cloudwego/eino/schema"
)

const sourcesMaxLen = 120

// ListModel 封装消息列表组件
// 负责消息存储和 viewport 管理，渲染逻辑委托给 MessageRenderer
type ListModel struct {
	viewport viewport.Model
	messages []*schema.Message
	width    int
	height   int
	ready    bool

	// renderer 消息渲染器
	renderer *renderer.MessageRenderer
}

// NewListModel 创建新的消息列表组件
func NewListModel() ListModel {
	vp := viewport.New(30, 30)
	vp.SetContent(renderer.WelcomeText)

	return ListModel{
		viewport: vp,
		messages: make([]*schema.Message, 0),
		renderer: renderer.NewMessageRenderer(nil),
		width:    30,
		height:   5,
		ready:    true,
	}
}

// Init 初始化组件
func (m ListModel) Init() tea.Cmd {
	return nil
}

// Update 更新组件状态
func (m ListModel) Update(msg tea.Msg) (ListModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.MouseMsg:
		// 处理鼠标滚轮事件
		switch msg.Button {
		case tea.MouseButtonWheelUp:
			m.viewport.ScrollUp(3)
		case tea.MouseButtonWheelDown:
			m.viewport.ScrollDown(3)
		}
	case pubsub.Event[TurnUpdate]:
		m.apply(msg)
		m.updateViewportContent()
		m.viewport.GotoBottom()
		return m, nil
	}

	// 更新 viewport
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// apply 把一条会话事件合并进消息列表
func (m *ListModel) apply(event pubsub.Event[TurnUpdate]) {
	u := event.Payload
	switch event.Type {
	case pubsub.CreatedEvent:
		// 提问时同时放入一条空的回答，后续片段追加到它上面
		m.messages = append(m.messages,
			schema.UserMessage(u.Text),
			schema.AssistantMessage("", nil),
		)
	case pubsub.UpdatedEvent:
		if last := m.lastAssistant(); last != nil {
			// 片段追加到新消息上，避免改动已缓存的内容
			m.messages[len(m.messages)-1] = schema.AssistantMessage(last.Content+u.Text, nil)
		}
	case pubsub.FinishedEvent:
		switch {
		case u.Err != nil:
			m.messages = append(m.messages, &schema.Message{Role: schema.System, Name: renderer.NameError, Content: u.Err.Error()})
		case len(u.Sources) > 0:
			m.messages = append(m.messages, &schema.Message{Role: schema.System, Name: renderer.NameSources, Content: renderer.FormatSources(u.Sources, sourcesMaxLen)})
		}
	}
}

func (m *ListModel) lastAssistant() *schema.Message {
	if len(m.messages) == 0 {
		return nil
	}
	last := m.messages[len(m.messages)-1]
	if last.Role != schema.Assistant {
		return nil
	}
	return last
}

// Messages 返回当前消息列表
func (m ListModel) Messages() []*schema.Message {
	return m.messages
}

// View 渲染组件视图
func (m ListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return m.viewport.View()
}

// SetSize 设置组件尺寸
func (m *ListModel) SetSize(width, height int) {
	m.width = width
	m.height = height

	// 确保高度至少为 1，防止负数或零
	if height < 1 {
		height = 1
	}

	m.viewport.Width = width
	m.viewport.Height = height
	m.ready = true

	m.renderer.SetViewportWidth(width)

	if len(m.messages) > 0 {
		m.updateViewportContent()
	}
	m.viewport.GotoBottom()
}

// updateViewportContent 更新 viewport 内容
func (m *ListModel) updateViewportContent() {
	m.viewport.SetContent(m.renderer.RenderMessages(m.messages))
}

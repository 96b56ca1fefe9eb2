package component

import (
	"fmt"

	"kbqa/pubsub"
	"kbqa/tui/component/renderer"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	statusReady     = "Ready"
	statusSearching = "检索中..."
	statusAnswering = "回答中..."
)

// StatusModel 封装状态显示组件（spinner + 状态文本）
type StatusModel struct {
	spinner spinner.Model
	running bool
	text    string
	width   int
}

// NewStatusModel 创建新的状态组件
func NewStatusModel() StatusModel {
	s := spinner.New()
	s.Spinner = spinner.Jump
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	return StatusModel{
		spinner: s,
		running: false,
		text:    statusReady,
	}
}

// Init 初始化组件
func (m StatusModel) Init() tea.Cmd {
	// 不自动启动 spinner，等待提问事件
	return nil
}

// Update 更新组件状态
func (m StatusModel) Update(msg tea.Msg) (StatusModel, tea.Cmd) {
	switch msg := msg.(type) {
	case pubsub.Event[TurnUpdate]:
		switch msg.Type {
		case pubsub.CreatedEvent:
			// 用户提问，启动 spinner
			m.text = statusSearching
			if !m.running {
				m.running = true
				return m, m.spinner.Tick
			}
			return m, nil
		case pubsub.UpdatedEvent:
			m.text = statusAnswering
			return m, nil
		case pubsub.FinishedEvent:
			m.running = false
			m.text = fmt.Sprintf("%s · 上一轮耗时 %s", statusReady, renderer.FormatDuration(msg.Payload.Duration))
			return m, nil
		}
	}

	// Spinner 动画帧更新
	if m.running {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View 渲染组件视图
func (m StatusModel) View() string {
	style := lipgloss.NewStyle().Padding(1, 0)
	if m.width > 0 {
		style = style.Width(m.width)
	}
	content := m.text
	if m.running {
		content = fmt.Sprintf("%s %s", m.spinner.View(), m.text)
	}
	return style.Render(content)
}

// SetWidth 设置组件宽度
func (m *StatusModel) SetWidth(width int) {
	m.width = width
}

// IsRunning 返回 spinner 是否在运行
func (m StatusModel) IsRunning() bool {
	return m.running
}

// Text 当前状态文本
func (m StatusModel) Text() string {
	return m.text
}

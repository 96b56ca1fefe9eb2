package chat

import (
	"context"

	"kbqa/console"
	"kbqa/pubsub"
	"kbqa/tui/component"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Model 聊天界面模型
type Model struct {
	list   component.ListModel
	edit   component.EditModel
	status component.StatusModel

	session *Session
	sub     <-chan pubsub.Event[component.TurnUpdate]

	width  int
	height int
}

// InitialModel 创建初始模型
func InitialModel(ctx context.Context, session *Session) Model {
	return Model{
		list:    component.NewListModel(),
		edit:    component.NewEditModel(),
		status:  component.NewStatusModel(),
		session: session,
		sub:     session.Subscribe(ctx),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.list.Init(),
		m.edit.Init(),
		m.status.Init(),
		m.waitForUpdate(), // 订阅会话事件
	)
}

// waitForUpdate 等待下一条会话事件；订阅关闭时不再产生消息
func (m Model) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		event, ok := <-m.sub
		if !ok {
			return nil
		}
		return event
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		// 计算各组件高度
		statusHeight := lipgloss.Height(m.status.View())
		editHeight := m.edit.Height()
		listHeight := m.height - statusHeight - editHeight

		m.list.SetSize(m.width, listHeight)
		m.edit.SetWidth(m.width)
		m.status.SetWidth(m.width)

	case component.EditorSubmitMsg:
		if console.IsExit(msg.Value) {
			return m, tea.Quit
		}
		// 问题进入会话队列，上一轮结束后才开始
		m.session.Submit(msg.Value)

	case pubsub.Event[component.TurnUpdate]:
		// 继续等待下一条事件，list 和 status 在下面透传处理
		cmds = append(cmds, m.waitForUpdate())

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		}
	}

	// 更新各子组件
	var cmd tea.Cmd

	m.list, cmd = m.list.Update(msg)
	cmds = append(cmds, cmd)

	m.edit, cmd = m.edit.Update(msg)
	cmds = append(cmds, cmd)

	m.status, cmd = m.status.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	return lipgloss.JoinVertical(
		lipgloss.Left,
		m.list.View(),
		m.status.View(),
		m.edit.View(),
	)
}

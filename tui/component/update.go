package component

import "time"

// TurnUpdate 一轮问答中发布给界面的事件载荷
//   - CreatedEvent：用户提问，Text 为问题
//   - UpdatedEvent：答案片段，Text 为片段
//   - FinishedEvent：本轮结束，失败时 Err 非空
type TurnUpdate struct {
	Text     string
	Sources  []string
	Duration time.Duration
	Err      error
}

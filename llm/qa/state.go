package qa

import (
	"errors"
	"fmt"
)

// State 问答流水线所处阶段
type State int

const (
	StateIdle State = iota
	StateRetrieving
	StateAssembling
	StateGenerating
	StateStreaming
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRetrieving:
		return "retrieving"
	case StateAssembling:
		return "assembling"
	case StateGenerating:
		return "generating"
	case StateStreaming:
		return "streaming"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer 观察每一次状态迁移，同步调用，不要阻塞
type Observer func(from, to State)

var (
	ErrRetrieval  = errors.New("retrieval failed")
	ErrAssembly   = errors.New("prompt assembly failed")
	ErrGeneration = errors.New("generation failed")

	// ErrEmptyQuestion 问题为空（仅空白）
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrTurnClosed 轮次在结束前被调用方关闭
	ErrTurnClosed = errors.New("turn closed")
)

// TurnError 记录失败发生的阶段和原因
type TurnError struct {
	Stage State
	Err   error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("%v: %v", e.sentinel(), e.Err)
}

// Unwrap 同时暴露阶段哨兵错误和底层原因，两者都可以用 errors.Is 匹配
func (e *TurnError) Unwrap() []error {
	return []error{e.sentinel(), e.Err}
}

func (e *TurnError) sentinel() error {
	switch e.Stage {
	case StateRetrieving:
		return ErrRetrieval
	case StateAssembling:
		return ErrAssembly
	default:
		return ErrGeneration
	}
}

// Package console 实现逐行读取问题、流式输出答案的命令行对话循环
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"kbqa/llm/qa"

	"go.uber.org/zap"
)

const (
	ReadyBanner = "系统就绪，输入问题开始对话（输入 'exit' 退出）"
	Separator   = "==== 请继续对话（输入 'exit' 退出）===="
	Goodbye     = "对话结束"

	questionPrompt = "\n问题："
	answerPrefix   = "回答："
)

// Loop 控制台对话循环
type Loop struct {
	pipeline *qa.Pipeline
	in       io.Reader
	out      io.Writer
	logger   *zap.Logger
}

// NewLoop 创建对话循环，logger 可为 nil
func NewLoop(pipeline *qa.Pipeline, in io.Reader, out io.Writer, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{pipeline: pipeline, in: in, out: out, logger: logger}
}

// IsExit 判断是否为退出指令（不区分大小写）
func IsExit(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "exit", "quit":
		return true
	}
	return false
}

type line struct {
	text string
	err  error
}

// Run 运行对话循环，直到输入 exit/quit、输入结束或 ctx 被取消。
// 单轮失败只打印错误，不会结束循环。
func (l *Loop) Run(ctx context.Context) error {
	fmt.Fprintln(l.out, ReadyBanner)

	// 读取在单独的 goroutine 中进行，这样 Ctrl-C 不必等待下一行输入
	lines := make(chan line)
	go l.scan(ctx, lines)

	for {
		fmt.Fprint(l.out, questionPrompt)

		var in line
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(l.out)
			fmt.Fprintln(l.out, Goodbye)
			return nil
		case in, ok = <-lines:
		}

		if !ok {
			fmt.Fprintln(l.out)
			fmt.Fprintln(l.out, Goodbye)
			return nil
		}
		if in.err != nil {
			return fmt.Errorf("read input: %w", in.err)
		}

		question := strings.TrimSpace(in.text)
		if question == "" {
			continue
		}
		if IsExit(question) {
			fmt.Fprintln(l.out, Goodbye)
			return nil
		}

		l.answer(ctx, question)
	}
}

func (l *Loop) scan(ctx context.Context, lines chan<- line) {
	defer close(lines)

	scanner := bufio.NewScanner(l.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case lines <- line{text: scanner.Text()}:
		case <-ctx.Done():
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case lines <- line{err: err}:
		case <-ctx.Done():
		}
	}
}

// answer 执行一轮问答，片段到达即写出
func (l *Loop) answer(ctx context.Context, question string) {
	turn, err := l.pipeline.Ask(ctx, question)
	if err != nil {
		l.logger.Debug("ask failed", zap.Error(err))
		fmt.Fprintf(l.out, "出错：%v\n", err)
		return
	}
	defer turn.Close()

	fmt.Fprint(l.out, answerPrefix)
	for {
		fragment, err := turn.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			fmt.Fprintf(l.out, "\n出错：%v\n", err)
			return
		}
		fmt.Fprint(l.out, fragment)
	}

	fmt.Fprint(l.out, "\n\n\n")
	fmt.Fprintln(l.out, Separator)
}

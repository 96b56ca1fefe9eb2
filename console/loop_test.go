package console

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"kbqa/llm/prompt"
	"kbqa/llm/qa"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	failOn string
}

func (r *stubRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	if query == r.failOn {
		return nil, errors.New("检索服务不可用")
	}
	return nil, nil
}

// echoModel 把问题拆成两个片段回显
type echoModel struct {
	mu        sync.Mutex
	questions []string
}

func (m *echoModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	return nil, errors.New("not used")
}

func (m *echoModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	q := input[len(input)-1].Content
	m.mu.Lock()
	m.questions = append(m.questions, q)
	m.mu.Unlock()
	return schema.StreamReaderFromArray([]*schema.Message{
		schema.AssistantMessage("echo:", nil),
		schema.AssistantMessage(q, nil),
	}), nil
}

func newLoop(t *testing.T, input string, failOn string) (*Loop, *echoModel, *bytes.Buffer) {
	t.Helper()
	m := &echoModel{}
	p, err := qa.NewPipeline(&stubRetriever{failOn: failOn}, prompt.NewTemplateAssembler(), m, qa.Config{})
	require.NoError(t, err)

	var out bytes.Buffer
	return NewLoop(p, strings.NewReader(input), &out, nil), m, &out
}

func TestLoopOneTurnPerLine(t *testing.T) {
	loop, m, out := newLoop(t, "第一问\n  second  \n", "")

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []string{"第一问", "second"}, m.questions)

	text := out.String()
	assert.True(t, strings.HasPrefix(text, ReadyBanner+"\n"))
	assert.Contains(t, text, "\n问题：回答：echo:第一问\n\n\n"+Separator+"\n")
	assert.Contains(t, text, "回答：echo:second")
	assert.Equal(t, 2, strings.Count(text, Separator))
	assert.True(t, strings.HasSuffix(text, Goodbye+"\n"))
}

func TestLoopSkipsBlankLines(t *testing.T) {
	loop, m, out := newLoop(t, "\n   \n\t\nhello\n", "")

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []string{"hello"}, m.questions)
	// 每个空行都会重新提示
	assert.Equal(t, 5, strings.Count(out.String(), "问题："))
}

func TestLoopExitWords(t *testing.T) {
	for _, word := range []string{"exit", "EXIT", "Quit", "  quit  "} {
		t.Run(word, func(t *testing.T) {
			loop, m, out := newLoop(t, "before\n"+word+"\nafter\n", "")

			require.NoError(t, loop.Run(context.Background()))
			assert.Equal(t, []string{"before"}, m.questions, "nothing after the exit word runs")
			assert.True(t, strings.HasSuffix(out.String(), Goodbye+"\n"))
		})
	}
}

func TestLoopContinuesAfterError(t *testing.T) {
	loop, m, out := newLoop(t, "bad\ngood\n", "bad")

	require.NoError(t, loop.Run(context.Background()))
	assert.Equal(t, []string{"good"}, m.questions)
	assert.Contains(t, out.String(), "出错：retrieval failed: 检索服务不可用\n")
	assert.Contains(t, out.String(), "回答：echo:good")
}

func TestLoopStopsOnCancel(t *testing.T) {
	// 输入永远不结束，只能靠取消退出
	pr, pw := io.Pipe()
	defer pw.Close()

	m := &echoModel{}
	p, err := qa.NewPipeline(&stubRetriever{}, prompt.NewTemplateAssembler(), m, qa.Config{})
	require.NoError(t, err)

	var out syncBuffer
	loop := NewLoop(p, pr, &out, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	_, err = pw.Write([]byte("ping\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), Separator)
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop after cancel")
	}
	assert.True(t, strings.HasSuffix(out.String(), Goodbye+"\n"))
}

func TestIsExit(t *testing.T) {
	assert.True(t, IsExit("exit"))
	assert.True(t, IsExit("QUIT"))
	assert.False(t, IsExit("exit now"))
	assert.False(t, IsExit(""))
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

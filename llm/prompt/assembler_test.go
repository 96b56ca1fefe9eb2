package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleLayout(t *testing.T) {
	a := NewTemplateAssembler()
	docs := []*schema.Document{
		{ID: "1", Content: "第一段内容"},
		{ID: "2", Content: "second chunk"},
	}

	msgs, err := a.Assemble(context.Background(), docs, "这是什么？", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.True(t, strings.HasSuffix(msgs[0].Content, "上下文：第一段内容\n\nsecond chunk"))
	assert.Contains(t, msgs[0].Content, FallbackAnswer)
	assert.Contains(t, msgs[0].Content, IdentityAnswer)
	assert.NotContains(t, msgs[0].Content, "{context}")

	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "这是什么？", msgs[1].Content)
}

func TestAssembleEmptyContext(t *testing.T) {
	msgs, err := NewTemplateAssembler().Assemble(context.Background(), nil, "unknown topic", nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.True(t, strings.HasSuffix(msgs[0].Content, "上下文："))
	assert.Contains(t, msgs[0].Content, FallbackAnswer)
	assert.Equal(t, "unknown topic", msgs[1].Content)
}

func TestAssembleIdentityQuestion(t *testing.T) {
	msgs, err := NewTemplateAssembler().Assemble(context.Background(), nil, "你叫什么名字？", nil)
	require.NoError(t, err)

	assert.Contains(t, msgs[0].Content, "“"+IdentityAnswer+"”")
	assert.Equal(t, "你叫什么名字？", msgs[len(msgs)-1].Content)
}

func TestAssembleWithHistory(t *testing.T) {
	history := []*schema.Message{
		schema.UserMessage("q1"),
		schema.AssistantMessage("a1", nil),
	}

	msgs, err := NewTemplateAssembler().Assemble(context.Background(), nil, "q2", history)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "q1", msgs[1].Content)
	assert.Equal(t, "a1", msgs[2].Content)
	assert.Equal(t, "q2", msgs[3].Content)
}

func TestAssembleIsPure(t *testing.T) {
	a := NewTemplateAssembler()
	docs := []*schema.Document{{ID: "1", Content: "text with {braces}", MetaData: map[string]any{"source": "a.md"}}}
	history := []*schema.Message{schema.UserMessage("earlier")}

	first, err := a.Assemble(context.Background(), docs, "q {x}", history)
	require.NoError(t, err)
	second, err := a.Assemble(context.Background(), docs, "q {x}", history)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "text with {braces}", docs[0].Content)
	assert.Equal(t, map[string]any{"source": "a.md"}, docs[0].MetaData)
	assert.Len(t, history, 1)
	assert.Equal(t, "earlier", history[0].Content)
	assert.Equal(t, "q {x}", first[len(first)-1].Content)
}

func TestJoinContext(t *testing.T) {
	assert.Equal(t, "", JoinContext(nil))
	assert.Equal(t, "a\n\nb", JoinContext([]*schema.Document{{Content: "a"}, nil, {Content: "b"}}))
}

package main

import (
	"bytes"
	"testing"

	"kbqa/llm/loader"
	"kbqa/pubsub"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommands(t *testing.T) {
	root := newRootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"chat", "ingest", "tui", "serve"}, names)

	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
	// 不带子命令时等同 chat，需要同样的 --memory
	assert.NotNil(t, root.Flags().Lookup("memory"))
}

func TestIngestAcceptsAtMostOneDir(t *testing.T) {
	cmd := newIngestCmd(&rootOptions{})
	require.NoError(t, cmd.Args(cmd, nil))
	require.NoError(t, cmd.Args(cmd, []string{"docs"}))
	assert.Error(t, cmd.Args(cmd, []string{"a", "b"}))
}

func TestPrintProgress(t *testing.T) {
	events := make(chan pubsub.Event[loader.Progress], 4)
	events <- pubsub.Event[loader.Progress]{Type: pubsub.CreatedEvent, Payload: loader.Progress{Path: "docs", Total: 2}}
	events <- pubsub.Event[loader.Progress]{Type: pubsub.UpdatedEvent, Payload: loader.Progress{Done: 1, Total: 2}}
	events <- pubsub.Event[loader.Progress]{Type: pubsub.UpdatedEvent, Payload: loader.Progress{Done: 2, Total: 2}}
	events <- pubsub.Event[loader.Progress]{Type: pubsub.FinishedEvent, Payload: loader.Progress{Done: 2, Total: 2, Loaded: 1}}
	close(events)

	var buf bytes.Buffer
	printProgress(events, &buf)

	assert.Equal(t, "docs 下共 2 个文件\n\r加载文档 1/2\r加载文档 2/2\r加载文档 2/2，成功 1\n", buf.String())
}

package main

import (
	"context"
	"fmt"
	"io"

	"kbqa/config"
	"kbqa/console"
	"kbqa/llm/ingest"
	"kbqa/llm/loader"
	"kbqa/llm/vector"
	"kbqa/pubsub"
	"kbqa/server"
	"kbqa/tui/chat"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const initBanner = "初始化知识库系统..."

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	chatCmd := newChatCmd(opts)
	root := &cobra.Command{
		Use:   "kbqa",
		Short: "本地知识库问答",
		Long: `kbqa 把目录中的文档切分、向量化后存入向量库，
再基于检索结果回答问题。不带子命令时进入控制台对话。`,
		SilenceUsage: true,
		RunE:         chatCmd.RunE,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "配置文件路径，不存在时使用默认值")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "日志级别 (debug|info|warn|error)，覆盖配置")
	root.Flags().AddFlagSet(chatCmd.Flags())

	root.AddCommand(chatCmd, newIngestCmd(opts), newTUICmd(opts), newServeCmd(opts))
	return root
}

// load 读取配置并创建 logger
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	logger, err := config.NewLogger(cfg.Log.Level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	var memory bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "控制台对话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cmd.Flags().Changed("memory") {
				cfg.Memory.Enabled = memory
			}

			ctx := cmd.Context()
			fmt.Fprintln(cmd.OutOrStdout(), initBanner)
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return console.NewLoop(a.pipeline, cmd.InOrStdin(), cmd.OutOrStdout(), logger.Named("console")).Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&memory, "memory", false, "把最近的问答带入提示词（多轮对话）")
	return cmd
}

func newIngestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest [dir]",
		Short: "加载目录中的文档并写入向量库",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			dir := cfg.Ingest.SourceDir
			if len(args) == 1 {
				dir = args[0]
			}
			ctx := cmd.Context()

			store, location, err := openStore(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			splitter, err := vector.NewSplitter(vector.ChunkConfig{
				ChunkSize:    cfg.Chunk.Size,
				ChunkOverlap: cfg.Chunk.Overlap,
			})
			if err != nil {
				return err
			}

			progress := pubsub.NewBroker[loader.Progress]()
			defer progress.Shutdown()
			go printProgress(progress.Subscribe(ctx), cmd.ErrOrStderr())

			pipeline, err := ingest.NewPipeline(ingest.Config{
				Loader: loader.NewDirectory(loader.Config{
					Workers:  cfg.Ingest.Workers,
					Logger:   logger.Named("loader"),
					Progress: progress,
				}),
				Splitter:  splitter,
				Indexer:   vector.NewIndexer(store),
				Store:     store,
				StorePath: location,
				Logger:    logger.Named("ingest"),
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "开始加载文档...")
			report, err := pipeline.Run(ctx, dir)
			if err != nil {
				return err
			}
			report.WriteSummary(cmd.OutOrStdout())
			return nil
		},
	}
}

// printProgress 在同一行刷新加载进度，丢掉的事件只影响显示
func printProgress(events <-chan pubsub.Event[loader.Progress], w io.Writer) {
	for e := range events {
		p := e.Payload
		switch e.Type {
		case pubsub.CreatedEvent:
			fmt.Fprintf(w, "%s 下共 %d 个文件\n", p.Path, p.Total)
		case pubsub.UpdatedEvent:
			fmt.Fprintf(w, "\r加载文档 %d/%d", p.Done, p.Total)
		case pubsub.FinishedEvent:
			fmt.Fprintf(w, "\r加载文档 %d/%d，成功 %d\n", p.Done, p.Total, p.Loaded)
		}
	}
}

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "终端界面对话",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}
			// 界面占用整个终端，日志会打乱画面
			logger := zap.NewNop()

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			session := chat.NewSession(ctx, a.pipeline, logger)
			defer session.Close()

			// 初始化UI界面
			program := tea.NewProgram(
				chat.InitialModel(ctx, session),
				tea.WithAltScreen(),
				tea.WithMouseCellMotion(),
				tea.WithContext(ctx),
			)
			_, err = program.Run()
			if err != nil && ctx.Err() != nil {
				// Ctrl-C 属于正常退出
				return nil
			}
			return err
		},
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "以 HTTP 服务提供问答接口",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := opts.load()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close(context.Background())

			return server.New(a.pipeline, a.registry, logger.Named("server")).ListenAndServe(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "监听地址，覆盖配置")
	return cmd
}

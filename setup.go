package main

import (
	"context"
	"fmt"

	"kbqa/config"
	"kbqa/llm/providers"
	"kbqa/llm/prompt"
	"kbqa/llm/qa"
	"kbqa/llm/retriever"
	"kbqa/llm/vector"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app 持有一次运行所需的全部组件
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    vector.VectorStore
	registry *prometheus.Registry
	pipeline *qa.Pipeline

	closers []func(context.Context)
}

// Close 按创建的逆序释放资源
func (a *app) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
}

// openStore 根据配置创建向量库，返回值中的字符串用于打印存储位置
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (vector.VectorStore, string, error) {
	embedder, err := providers.NewEmbeddingModel(ctx, cfg.Embedding)
	if err != nil {
		return nil, "", fmt.Errorf("create embedding model: %w", err)
	}
	embeddings := vector.NewEmbeddingService(embedder, cfg.Embedding.BatchSize)

	switch cfg.Store.Type {
	case config.StoreRedis:
		rc := cfg.Store.Redis
		store, err := vector.NewRedisStore(ctx, embeddings, vector.RedisConfig{
			Addr:           rc.Addr,
			Password:       rc.Password,
			DB:             rc.DB,
			PoolSize:       rc.PoolSize,
			IndexName:      rc.IndexName,
			VectorDim:      cfg.Embedding.Dimension,
			EFConstruction: rc.EFConstruction,
			M:              rc.M,
		})
		if err != nil {
			return nil, "", fmt.Errorf("open redis store: %w", err)
		}
		logger.Debug("vector store ready", zap.String("type", config.StoreRedis), zap.String("addr", rc.Addr))
		return store, fmt.Sprintf("redis://%s/%s", rc.Addr, rc.IndexName), nil
	default:
		store, err := vector.NewLocalStore(cfg.Store.PersistDir, embeddings)
		if err != nil {
			return nil, "", fmt.Errorf("open local store: %w", err)
		}
		logger.Debug("vector store ready", zap.String("type", config.StoreLocal), zap.String("dir", cfg.Store.PersistDir))
		return store, cfg.Store.PersistDir, nil
	}
}

// newApp 组装问答流水线：向量库 → MMR 检索 → 提示词 → 对话模型
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}

	closeTracing, err := providers.SetupTracing(ctx, cfg.Trace)
	if err != nil {
		// 追踪不可用不影响问答
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		a.closers = append(a.closers, closeTracing)
	}

	store, _, err := openStore(ctx, cfg, logger)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func(context.Context) {
		if err := store.Close(); err != nil {
			logger.Warn("close vector store", zap.Error(err))
		}
	})

	mmr, err := retriever.NewMMR(store, retriever.Config{
		K:              cfg.Retrieval.K,
		FetchK:         cfg.Retrieval.FetchK,
		LambdaMult:     cfg.Retrieval.LambdaMult,
		ScoreThreshold: cfg.Retrieval.ScoreThreshold,
	}, logger.Named("retriever"))
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("create retriever: %w", err)
	}

	chatModel, err := providers.NewChatModel(ctx, cfg.Chat)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("create chat model: %w", err)
	}

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := qa.NewMetrics(a.registry)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	qc := qa.Config{
		Temperature: &cfg.Chat.Temperature,
		Metrics:     metrics,
		Logger:      logger.Named("qa"),
	}
	if cfg.Memory.Enabled {
		qc.History = qa.NewHistory(cfg.Memory.MaxTurns)
	}

	a.pipeline, err = qa.NewPipeline(mmr, prompt.NewTemplateAssembler(), chatModel, qc)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	logger.Info("pipeline ready",
		zap.String("provider", cfg.Chat.Provider),
		zap.String("model", cfg.Chat.Model),
		zap.String("store", cfg.Store.Type),
		zap.Bool("memory", cfg.Memory.Enabled))
	return a, nil
}

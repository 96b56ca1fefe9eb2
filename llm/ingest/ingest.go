// Package ingest runs the offline batch that turns a document directory
// into a populated vector index.
package ingest

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/cloudwego/eino/components/document"
	"github.com/cloudwego/eino/components/indexer"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Counter reports how many chunks the store holds.
type Counter interface {
	Count(ctx context.Context) (int64, error)
}

// Config wires the three ingestion stages.
type Config struct {
	Loader   document.Loader
	Splitter document.Transformer
	Indexer  indexer.Indexer
	Store    Counter
	// StorePath is only echoed in the summary.
	StorePath string
	Logger    *zap.Logger
}

// Pipeline is Loader → Splitter → Indexer.
type Pipeline struct {
	config Config
	logger *zap.Logger
}

// Report summarises one ingestion run.
type Report struct {
	Documents int
	Chunks    int
	Stored    int
	Total     int64 // chunks in the store after the run
	Duration  time.Duration
	IndexTime time.Duration // embedding and storing
	StorePath string
	Source    string
}

func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Loader == nil || cfg.Splitter == nil || cfg.Indexer == nil {
		return nil, fmt.Errorf("loader, splitter and indexer are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{config: cfg, logger: logger}, nil
}

// Run ingests every supported file below dir.
func (p *Pipeline) Run(ctx context.Context, dir string) (*Report, error) {
	report := &Report{Source: dir, StorePath: p.config.StorePath}
	started := time.Now()

	chain := compose.NewChain[document.Source, []string]()
	chain.
		AppendLoader(&countingLoader{Loader: p.config.Loader, n: &report.Documents}).
		AppendDocumentTransformer(&countingSplitter{Transformer: p.config.Splitter, n: &report.Chunks}).
		AppendIndexer(&timedIndexer{Indexer: p.config.Indexer, d: &report.IndexTime})

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile ingest chain: %w", err)
	}

	ids, err := runnable.Invoke(ctx, document.Source{URI: dir})
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", dir, err)
	}
	report.Stored = len(ids)
	report.Duration = time.Since(started)

	if p.config.Store != nil {
		total, err := p.config.Store.Count(ctx)
		if err != nil {
			p.logger.Warn("count stored chunks", zap.Error(err))
		} else {
			report.Total = total
		}
	}

	p.logger.Info("ingest finished",
		zap.String("source", dir),
		zap.Int("docs", report.Documents),
		zap.Int("chunks", report.Chunks),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// WriteSummary prints the run summary for the console.
func (r *Report) WriteSummary(w io.Writer) {
	fmt.Fprintf(w, "成功加载 %d 份文档\n", r.Documents)
	fmt.Fprintf(w, "原始文档数：%d\n", r.Documents)
	fmt.Fprintf(w, "分割后文本块数：%d\n", r.Chunks)
	fmt.Fprintf(w, "\n向量化完成！耗时 %.2f 秒\n", r.IndexTime.Seconds())
	if r.StorePath != "" {
		fmt.Fprintf(w, "数据库存储路径：%s\n", r.StorePath)
	}
	fmt.Fprintf(w, "总文档块数：%d\n", r.Total)
}

type countingLoader struct {
	document.Loader
	n *int
}

func (l *countingLoader) Load(ctx context.Context, src document.Source, opts ...document.LoaderOption) ([]*schema.Document, error) {
	docs, err := l.Loader.Load(ctx, src, opts...)
	*l.n = len(docs)
	return docs, err
}

type countingSplitter struct {
	document.Transformer
	n *int
}

func (s *countingSplitter) Transform(ctx context.Context, src []*schema.Document, opts ...document.TransformerOption) ([]*schema.Document, error) {
	chunks, err := s.Transformer.Transform(ctx, src, opts...)
	*s.n = len(chunks)
	return chunks, err
}

type timedIndexer struct {
	indexer.Indexer
	d *time.Duration
}

func (x *timedIndexer) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) ([]string, error) {
	start := time.Now()
	ids, err := x.Indexer.Store(ctx, docs, opts...)
	*x.d = time.Since(start)
	return ids, err
}

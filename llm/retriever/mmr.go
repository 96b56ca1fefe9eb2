// Package retriever implements diversity-aware retrieval over a vector store.
package retriever

import (
	"context"
	"fmt"
	"math"

	"kbqa/llm"
	"kbqa/llm/vector"

	einoretriever "github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

// Searcher is the slice of the vector store the retriever needs.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]llm.SearchResult, error)
}

// Config holds the maximal marginal relevance parameters.
type Config struct {
	K              int     // results returned
	FetchK         int     // candidates fetched before re-ranking
	LambdaMult     float64 // 1 is pure relevance, 0 is maximum diversity
	ScoreThreshold float64 // candidates scoring below this are dropped
}

func DefaultConfig() Config {
	return Config{K: 5, FetchK: 20, LambdaMult: 0.5, ScoreThreshold: 0.4}
}

func (c Config) Validate() error {
	if c.K <= 0 {
		return fmt.Errorf("k must be positive, got %d", c.K)
	}
	if c.FetchK < c.K {
		return fmt.Errorf("fetch_k (%d) must be >= k (%d)", c.FetchK, c.K)
	}
	if c.LambdaMult < 0 || c.LambdaMult > 1 {
		return fmt.Errorf("lambda_mult must be in [0, 1], got %v", c.LambdaMult)
	}
	return nil
}

// MMR re-ranks store candidates by maximal marginal relevance.
type MMR struct {
	searcher Searcher
	config   Config
	logger   *zap.Logger
}

var _ einoretriever.Retriever = (*MMR)(nil)

func NewMMR(searcher Searcher, cfg Config, logger *zap.Logger) (*MMR, error) {
	if searcher == nil {
		return nil, fmt.Errorf("searcher is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MMR{searcher: searcher, config: cfg, logger: logger}, nil
}

// Retrieve returns at most K chunks, each scoring at least the threshold,
// in selection order. The chunk score is its similarity to the query.
func (m *MMR) Retrieve(ctx context.Context, query string, opts ...einoretriever.Option) ([]*schema.Document, error) {
	k := m.config.K
	threshold := m.config.ScoreThreshold
	options := einoretriever.GetCommonOptions(&einoretriever.Options{
		TopK:           &k,
		ScoreThreshold: &threshold,
	}, opts...)
	if options.TopK != nil && *options.TopK > 0 {
		k = *options.TopK
	}
	if options.ScoreThreshold != nil {
		threshold = *options.ScoreThreshold
	}

	candidates, err := m.searcher.Search(ctx, query, max(m.config.FetchK, k))
	if err != nil {
		return nil, err
	}

	passing := candidates[:0:0]
	for _, c := range candidates {
		if float64(c.Score) >= threshold {
			passing = append(passing, c)
		}
	}

	selected := SelectMMR(passing, k, m.config.LambdaMult)
	m.logger.Debug("retrieved chunks",
		zap.Int("candidates", len(candidates)),
		zap.Int("passing", len(passing)),
		zap.Int("chunks", len(selected)))

	docs := make([]*schema.Document, 0, len(selected))
	for _, r := range selected {
		docs = append(docs, vector.ToSchema(r.Document).WithScore(float64(r.Score)))
	}
	return docs, nil
}

// SelectMMR greedily picks up to k candidates, each maximising
// lambda*score - (1-lambda)*max similarity to those already picked.
// Ties go to the earlier candidate.
func SelectMMR(candidates []llm.SearchResult, k int, lambda float64) []llm.SearchResult {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	k = min(k, len(candidates))

	picked := make([]bool, len(candidates))
	// maxSim[i] is candidate i's highest similarity to the selection so far
	maxSim := make([]float64, len(candidates))
	out := make([]llm.SearchResult, 0, k)

	for len(out) < k {
		best, bestVal := -1, math.Inf(-1)
		for i, c := range candidates {
			if picked[i] {
				continue
			}
			val := lambda*float64(c.Score) - (1-lambda)*maxSim[i]
			if len(out) == 0 {
				val = float64(c.Score)
			}
			if val > bestVal {
				best, bestVal = i, val
			}
		}

		picked[best] = true
		out = append(out, candidates[best])

		for i, c := range candidates {
			if picked[i] {
				continue
			}
			sim := float64(vector.CosineSimilarity(c.Document.Vector, candidates[best].Document.Vector))
			if len(out) == 1 || sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}
	return out
}

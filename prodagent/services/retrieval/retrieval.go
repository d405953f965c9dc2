// Package retrieval finds manual excerpts relevant to a question about one
// product model. Every product lives in its own namespace and a query only
// ever returns excerpts from the namespace it asked for.
package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"prodagent/prodagent/utils/logging"
)

const DefaultTopK = 3

// Snippet is one ranked excerpt. Score is in [0,1].
type Snippet struct {
	Namespace string  `json:"namespace"`
	Section   string  `json:"section"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// Chunk is a piece of documentation ready to be stored in an index.
type Chunk struct {
	Section   string
	Text      string
	Embedding []float32
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type VectorIndex interface {
	Query(ctx context.Context, namespace string, vec []float32, topK int) ([]Snippet, error)
	Replace(ctx context.Context, namespace string, chunks []Chunk) error
	Count(ctx context.Context, namespace string) (int, error)
}

// Namespace is the index namespace for a model id.
func Namespace(modelID string) string {
	return "product_" + strings.TrimSpace(modelID)
}

type Retriever struct {
	embedder Embedder
	index    VectorIndex
	topK     int
	timeout  time.Duration
}

func NewRetriever(embedder Embedder, index VectorIndex, topK int, timeout time.Duration) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Retriever{embedder: embedder, index: index, topK: topK, timeout: timeout}
}

// Retrieve returns at most topK snippets for modelID, best first. It never
// fails: a missing index, an outage or a timeout all yield no snippets.
// topK <= 0 uses the retriever's default.
func (r *Retriever) Retrieve(ctx context.Context, modelID, query string, topK int) []Snippet {
	if r == nil || r.embedder == nil || r.index == nil {
		return nil
	}
	modelID = strings.TrimSpace(modelID)
	query = strings.TrimSpace(query)
	if modelID == "" || query == "" {
		return nil
	}
	if topK <= 0 {
		topK = r.topK
	}
	defer logging.LogDuration(ctx, "retrieval_retrieve")()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ns := Namespace(modelID)
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		logging.ErrorLogger.Error("retrieval embedding failed", zap.String("namespace", ns), zap.Error(err))
		return nil
	}
	found, err := r.index.Query(ctx, ns, vecs[0], topK)
	if err != nil {
		logging.ErrorLogger.Error("retrieval query failed", zap.String("namespace", ns), zap.Error(err))
		return nil
	}
	return rank(ns, found, topK)
}

// rank drops foreign or empty snippets, clamps scores and keeps the best topK.
func rank(namespace string, in []Snippet, topK int) []Snippet {
	out := make([]Snippet, 0, len(in))
	for _, s := range in {
		if s.Namespace != namespace {
			logging.ErrorLogger.Error("retrieval dropped snippet from another namespace",
				zap.String("want", namespace), zap.String("got", s.Namespace))
			continue
		}
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		s.Score = clamp(s.Score)
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case v != v, v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

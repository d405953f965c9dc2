package retrieval

import (
	"context"
	"math"
	"sync"

	"github.com/pgvector/pgvector-go"

	"prodagent/prodagent/sources/psql/dao"
	"prodagent/prodagent/sources/psql/models"
)

// PGVectorIndex stores chunks in Postgres and ranks them with pgvector's
// cosine distance operator.
type PGVectorIndex struct {
	dao *dao.ManualChunkDAO
}

func NewPGVectorIndex(d *dao.ManualChunkDAO) *PGVectorIndex {
	return &PGVectorIndex{dao: d}
}

func (p *PGVectorIndex) Query(ctx context.Context, namespace string, vec []float32, topK int) ([]Snippet, error) {
	rows, err := p.dao.Query(ctx, namespace, vec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]Snippet, len(rows))
	for i, r := range rows {
		out[i] = Snippet{Namespace: r.Namespace, Section: r.Section, Text: r.Text, Score: r.Score}
	}
	return out, nil
}

func (p *PGVectorIndex) Replace(ctx context.Context, namespace string, chunks []Chunk) error {
	rows := make([]models.ManualChunk, len(chunks))
	for i, c := range chunks {
		rows[i] = models.ManualChunk{
			Namespace: namespace,
			Section:   c.Section,
			Text:      c.Text,
			Embedding: pgvector.NewVector(c.Embedding),
		}
	}
	return p.dao.ReplaceNamespace(ctx, namespace, rows)
}

func (p *PGVectorIndex) Count(ctx context.Context, namespace string) (int, error) {
	n, err := p.dao.CountNamespace(ctx, namespace)
	return int(n), err
}

// MemoryIndex keeps chunks in process memory; used without a database.
type MemoryIndex struct {
	mu     sync.RWMutex
	chunks map[string][]Chunk
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{chunks: map[string][]Chunk{}}
}

func (m *MemoryIndex) Query(_ context.Context, namespace string, vec []float32, topK int) ([]Snippet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chunks := m.chunks[namespace]
	out := make([]Snippet, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, Snippet{Namespace: namespace, Section: c.Section, Text: c.Text, Score: cosine(vec, c.Embedding)})
	}
	return rank(namespace, out, topK), nil
}

func (m *MemoryIndex) Replace(_ context.Context, namespace string, chunks []Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chunks[namespace] = append([]Chunk(nil), chunks...)
	return nil
}

func (m *MemoryIndex) Count(_ context.Context, namespace string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.chunks[namespace]), nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/utils/scraper"
)

// keywordEmbedder maps text onto a tiny vocabulary so similarity is predictable.
type keywordEmbedder struct{ fail bool }

var vocab = []string{"door", "seal", "install", "drum", "warranty"}

func (k keywordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if k.fail {
		return nil, errors.New("embeddings down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v := make([]float32, len(vocab)+1)
		v[len(vocab)] = 0.01
		for j, w := range vocab {
			if strings.Contains(strings.ToLower(t), w) {
				v[j] = 1
			}
		}
		out[i] = v
	}
	return out, nil
}

// leakyIndex returns whatever it holds regardless of namespace.
type leakyIndex struct{ snippets []Snippet }

func (l leakyIndex) Query(context.Context, string, []float32, int) ([]Snippet, error) {
	return l.snippets, nil
}
func (leakyIndex) Replace(context.Context, string, []Chunk) error { return nil }

func (l leakyIndex) Count(context.Context, string) (int, error) { return len(l.snippets), nil }

type downIndex struct{}

func (downIndex) Query(context.Context, string, []float32, int) ([]Snippet, error) {
	return nil, errors.New("vector service unreachable")
}
func (downIndex) Replace(context.Context, string, []Chunk) error { return errors.New("down") }

func (downIndex) Count(context.Context, string) (int, error) { return 0, errors.New("down") }

func fridge() catalog.Record {
	return catalog.Record{
		Product: catalog.Product{
			ProductID: "ff_360", Name: "FF-360 Refrigerator",
			Manual: &catalog.Manual{
				Overview:          "A frost free fridge.",
				InstallationSteps: []string{"Install on a level floor."},
				SafetyGuidelines:  []string{"Unplug before cleaning."},
			},
		},
		Model: catalog.Model{
			ModelID: "CM-FF-360-BLACK", Price: 54999, WarrantyYears: 1,
			CommonIssues: []catalog.KnownIssue{{Error: "E01", Meaning: "door ajar", Fix: "check door seal"}},
		},
	}
}

func washer() catalog.Record {
	return catalog.Record{
		Product: catalog.Product{ProductID: "wm", Name: "Washer", Manual: &catalog.Manual{Overview: "The drum door seal is rubber."}},
		Model:   catalog.Model{ModelID: "AT-WM-9KG-BLACK"},
	}
}

func TestIsolationBetweenProducts(t *testing.T) {
	ctx := context.Background()
	emb := keywordEmbedder{}
	idx := NewMemoryIndex()
	ix := NewIndexer(emb, idx)
	_, err := ix.IndexRecord(ctx, fridge(), nil)
	require.NoError(t, err)
	_, err = ix.IndexRecord(ctx, washer(), nil)
	require.NoError(t, err)

	r := NewRetriever(emb, idx, 3, time.Second)
	for _, modelID := range []string{"CM-FF-360-BLACK", "AT-WM-9KG-BLACK"} {
		got := r.Retrieve(ctx, modelID, "my door seal is loose", 0)
		require.NotEmpty(t, got)
		assert.LessOrEqual(t, len(got), 3)
		for i, s := range got {
			assert.Equal(t, Namespace(modelID), s.Namespace)
			assert.GreaterOrEqual(t, s.Score, 0.0)
			assert.LessOrEqual(t, s.Score, 1.0)
			if i > 0 {
				assert.GreaterOrEqual(t, got[i-1].Score, s.Score)
			}
		}
	}
}

func TestForeignSnippetsAreDropped(t *testing.T) {
	idx := leakyIndex{snippets: []Snippet{
		{Namespace: "product_B", Section: "overview", Text: "other product", Score: 0.99},
		{Namespace: "product_A", Section: "overview", Text: "this product", Score: 1.7},
		{Namespace: "product_A", Section: "safety", Text: "careful", Score: -0.2},
	}}
	r := NewRetriever(keywordEmbedder{}, idx, 3, time.Second)
	got := r.Retrieve(context.Background(), "A", "anything", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "this product", got[0].Text)
	assert.Equal(t, 1.0, got[0].Score)
	assert.Equal(t, 0.0, got[1].Score)
}

func TestOutageYieldsNoSnippets(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, NewRetriever(keywordEmbedder{fail: true}, NewMemoryIndex(), 3, time.Second).Retrieve(ctx, "A", "q", 0))
	assert.Empty(t, NewRetriever(keywordEmbedder{}, downIndex{}, 3, time.Second).Retrieve(ctx, "A", "q", 0))
	assert.Empty(t, NewRetriever(keywordEmbedder{}, NewMemoryIndex(), 3, time.Second).Retrieve(ctx, "never-indexed", "q", 0))

	var nilRetriever *Retriever
	assert.Empty(t, nilRetriever.Retrieve(ctx, "A", "q", 0))
}

func TestRecordChunksSections(t *testing.T) {
	chunks := RecordChunks(fridge())
	sections := map[string]string{}
	for _, c := range chunks {
		sections[c.Section] = c.Text
	}
	assert.Contains(t, sections["overview"], "frost free")
	assert.Contains(t, sections["installation"], "level floor")
	assert.Contains(t, sections["safety"], "Unplug")
	assert.Contains(t, sections["specifications"], "Warranty: 1 years")
	assert.Equal(t, "Error E01: door ajar. Fix: check door seal", sections["troubleshooting"])
}

func TestIndexRecordWithHTMLSections(t *testing.T) {
	idx := NewMemoryIndex()
	n, err := NewIndexer(keywordEmbedder{}, idx).IndexRecord(context.Background(), washer(),
		[]scraper.Section{{Heading: "Installation Guide", Text: "Install the drum bolts."}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, idx.chunks[Namespace("AT-WM-9KG-BLACK")], 2)
	assert.Equal(t, "installation", idx.chunks[Namespace("AT-WM-9KG-BLACK")][1].Section)

	stored, err := NewIndexer(keywordEmbedder{}, idx).Stored(context.Background(), "AT-WM-9KG-BLACK")
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
	stored, err = NewIndexer(keywordEmbedder{}, idx).Stored(context.Background(), "CM-FF-360-BLACK")
	require.NoError(t, err)
	assert.Zero(t, stored)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "model": req.Model, "data": data})
	}))
	defer srv.Close()

	emb := NewOpenAIEmbedder("test", srv.URL, "")
	texts := make([]string, embedBatch+2)
	for i := range texts {
		texts[i] = "chunk"
	}
	vecs, err := emb.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	assert.Equal(t, []float32{1, 1}, vecs[embedBatch+1])
}

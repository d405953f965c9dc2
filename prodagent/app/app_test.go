package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodagent/prodagent/config"
	"prodagent/prodagent/utils/apperr"
)

const catalogYAML = `
refrigerators:
  - product_id: ff_360
    name: CoolMax French Door 360
    brand: echo
    manual:
      overview: Four-door refrigerator with inverter compressor.
      installation_steps: [Leave 5 cm clearance at the back.]
    models:
      - model_id: CM-FF-360-BLACK
        common_issues:
          - {error: E01, meaning: door ajar, fix: check door seal}
`

func embeddingServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		data := make([]map[string]any, len(req.Input))
		for i := range req.Input {
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i + 1), 1}}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
	}))
}

func testConfig(t *testing.T, embeddingURL string) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(catalogYAML), 0o600))
	return config.Config{
		AIProvider:         "openai",
		OpenAIAPIKey:       "test",
		EmbeddingAPIKey:    "test",
		EmbeddingBaseURL:   embeddingURL,
		RetrievalTopK:      3,
		RetrievalTimeout:   2 * time.Second,
		CompletionTimeout:  time.Second,
		CatalogPath:        path,
		DefaultMode:        "PRE_PURCHASE",
		BrandName:          "echo",
		FrontendURL:        "http://localhost:5173",
		RateLimitPerMinute: 100,
		MaxImages:          3,
		MaxImageBytes:      1 << 20,
	}
}

func TestNewWithoutExternalServices(t *testing.T) {
	srv := embeddingServer(t)
	defer srv.Close()
	ctx := context.Background()

	a, err := New(ctx, testConfig(t, srv.URL))
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.DB)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Storage)
	require.NotNil(t, a.Indexer)
	assert.True(t, a.UsesMemoryIndex())

	counts, err := a.IndexCatalog(ctx)
	require.NoError(t, err)
	assert.Greater(t, counts["CM-FF-360-BLACK"], 0)

	stored, err := a.IndexedChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, counts, stored)

	snippets := a.Retriever.Retrieve(ctx, "CM-FF-360-BLACK", "door alarm", 0)
	require.NotEmpty(t, snippets)
	assert.LessOrEqual(t, len(snippets), 3)
	assert.Empty(t, a.Retriever.Retrieve(ctx, "AT-WM-9KG-BLACK", "door alarm", 0), "other models were never indexed")

	_, err = a.IndexCatalog(ctx, "UNKNOWN-X")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	rr := httptest.NewRecorder()
	a.Router().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"catalog":"ok"`)
}

func TestNewWithoutEmbeddings(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.EmbeddingAPIKey, cfg.OpenAIAPIKey = "", ""
	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Indexer)
	assert.False(t, a.UsesMemoryIndex())
	_, err = a.IndexCatalog(context.Background())
	assert.Equal(t, apperr.KindProviderUnavailable, apperr.KindOf(err))
	_, err = a.IndexedChunks(context.Background())
	assert.Equal(t, apperr.KindProviderUnavailable, apperr.KindOf(err))
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.AIProvider = "carrier-pigeon"
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

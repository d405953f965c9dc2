package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/scraper"
)

// Indexer embeds product documentation and stores it under the model's namespace.
type Indexer struct {
	embedder Embedder
	index    VectorIndex
}

func NewIndexer(embedder Embedder, index VectorIndex) *Indexer {
	return &Indexer{embedder: embedder, index: index}
}

// IndexRecord replaces the model's namespace with chunks built from the
// catalog record plus any extra manual sections. It returns the chunk count.
func (ix *Indexer) IndexRecord(ctx context.Context, rec catalog.Record, extra []scraper.Section) (int, error) {
	chunks := RecordChunks(rec)
	for _, s := range extra {
		chunks = append(chunks, Chunk{Section: sectionLabel(s.Heading), Text: s.Text})
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(vecs) != len(chunks) {
		return 0, fmt.Errorf("index %s: %d embeddings for %d chunks", rec.Model.ModelID, len(vecs), len(chunks))
	}
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}

	ns := Namespace(rec.Model.ModelID)
	if err := ix.index.Replace(ctx, ns, chunks); err != nil {
		return 0, err
	}
	logging.AppLogger.Info("indexed product documentation", zap.String("namespace", ns), zap.Int("chunks", len(chunks)))
	return len(chunks), nil
}

// Stored reports how many chunks the index holds for a model.
func (ix *Indexer) Stored(ctx context.Context, modelID string) (int, error) {
	return ix.index.Count(ctx, Namespace(modelID))
}

// RecordChunks splits a catalog record into one chunk per manual section and
// one per known issue.
func RecordChunks(rec catalog.Record) []Chunk {
	p, m := rec.Product, rec.Model
	var out []Chunk
	add := func(section string, parts ...string) {
		var kept []string
		for _, s := range parts {
			if s = strings.TrimSpace(s); s != "" {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			out = append(out, Chunk{Section: section, Text: strings.Join(kept, "\n")})
		}
	}

	var manual catalog.Manual
	if p.Manual != nil {
		manual = *p.Manual
	}
	add("overview", p.Name, p.Description, manual.Overview)
	add("installation", append([]string{m.Installation}, manual.InstallationSteps...)...)
	add("first_time_use", manual.FirstTimeUse...)
	add("daily_usage", append(append([]string{}, manual.DailyUsage...), m.Maintenance)...)
	add("safety", manual.SafetyGuidelines...)
	add("warnings", manual.DoNot...)
	add("specifications", specLines(m, manual)...)
	add("storage", manual.Storage)
	for _, issue := range m.CommonIssues {
		add("troubleshooting", fmt.Sprintf("Error %s: %s. Fix: %s", issue.Error, issue.Meaning, issue.Fix))
	}
	return out
}

func specLines(m catalog.Model, manual catalog.Manual) []string {
	var lines []string
	if m.Color != "" {
		lines = append(lines, "Color: "+m.Color)
	}
	if m.Price > 0 {
		lines = append(lines, fmt.Sprintf("Price: %.2f", m.Price))
	}
	if len(m.DimensionsCM) > 0 {
		dims := make([]string, len(m.DimensionsCM))
		for i, d := range m.DimensionsCM {
			dims[i] = fmt.Sprintf("%g", d)
		}
		lines = append(lines, "Dimensions (cm): "+strings.Join(dims, " x "))
	}
	if m.WarrantyYears > 0 {
		lines = append(lines, fmt.Sprintf("Warranty: %g years", m.WarrantyYears))
	}
	if len(m.Features) > 0 {
		lines = append(lines, "Features: "+strings.Join(m.Features, ", "))
	}
	if manual.EnvironmentalConditions != "" {
		lines = append(lines, "Operating conditions: "+manual.EnvironmentalConditions)
	}
	return lines
}

func sectionLabel(heading string) string {
	h := strings.ToLower(strings.TrimSpace(heading))
	switch {
	case h == "":
		return "manual"
	case strings.Contains(h, "install"):
		return "installation"
	case strings.Contains(h, "safety"):
		return "safety"
	case strings.Contains(h, "warning"), strings.Contains(h, "do not"):
		return "warnings"
	case strings.Contains(h, "specification"):
		return "specifications"
	case strings.Contains(h, "troubleshoot"), strings.Contains(h, "error"):
		return "troubleshooting"
	case strings.Contains(h, "storage"):
		return "storage"
	}
	return strings.ReplaceAll(h, " ", "_")
}

package vision

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"prodagent/prodagent/agents/configs"
	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/services/llm"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/jsonutils"
	"prodagent/prodagent/utils/logging"
	"prodagent/prodagent/utils/types"
)

type Analyzer struct {
	llm     llm.Completer
	catalog *catalog.Catalog
	cfg     *configs.AgentConfig
	brand   string
}

func NewAnalyzer(completer llm.Completer, cat *catalog.Catalog, cfg *configs.AgentConfig, brand string) *Analyzer {
	if cfg == nil {
		cfg = configs.Default()
	}
	return &Analyzer{llm: completer, catalog: cat, cfg: cfg, brand: brand}
}

// AnalyzeRoom checks that img is about appliances and describes the room.
// modelID is optional and only sharpens the analysis.
func (a *Analyzer) AnalyzeRoom(ctx context.Context, img types.Image, modelID string) (*types.RoomAnalysisResponse, error) {
	defer logging.LogDuration(ctx, "vision_analyze_room")()
	vars := map[string]string{"brand": a.brand, "product_hint": ""}

	if !a.relevant(ctx, img, vars) {
		return nil, apperr.Validation("vision.AnalyzeRoom", configs.Render(a.cfg.Vision.Irrelevant, vars))
	}

	if modelID != "" && a.catalog != nil {
		if rec, err := a.catalog.GetModel(ctx, modelID); err == nil {
			vars["product_hint"] = fmt.Sprintf(" for placing a %s (%s)", rec.Product.Name, rec.Product.Category)
		}
	}
	resp, err := a.llm.Complete(ctx, llm.Request{
		Messages: []llm.Message{{
			Role: string(types.RoleUser), Content: configs.Render(a.cfg.Vision.Analysis, vars),
			Images: []types.Image{img},
		}},
	})
	if err != nil {
		return nil, apperr.Trace("vision.AnalyzeRoom", err)
	}

	analysis, score := parseAnalysis(resp.Text)
	return &types.RoomAnalysisResponse{
		Status:          "success",
		Analysis:        analysis + "\n\n" + a.cfg.Vision.Disclaimer,
		Confidence:      confidenceLabel(score) + ": " + a.cfg.Vision.ConfidenceNote,
		ConfidenceScore: score,
	}, nil
}

// relevant asks the provider whether img belongs to the product domain. A
// failed check lets the image through.
func (a *Analyzer) relevant(ctx context.Context, img types.Image, vars map[string]string) bool {
	resp, err := a.llm.Complete(ctx, llm.Request{
		MaxTokens: 50,
		Messages: []llm.Message{{
			Role: string(types.RoleUser), Content: configs.Render(a.cfg.Vision.Relevance, vars),
			Images: []types.Image{img},
		}},
	})
	if err != nil {
		logging.ErrorLogger.Error("image relevance check failed, allowing image", zap.Error(err))
		return true
	}
	return !strings.Contains(strings.ToUpper(resp.Text), "IRRELEVANT")
}

func parseAnalysis(text string) (string, float64) {
	var parsed struct {
		Analysis        string  `json:"analysis"`
		ConfidenceScore float64 `json:"confidence_score"`
	}
	if err := jsonutils.Decode(text, &parsed); err != nil || strings.TrimSpace(parsed.Analysis) == "" {
		return strings.TrimSpace(text), 0.5
	}
	score := parsed.ConfidenceScore
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return strings.TrimSpace(parsed.Analysis), score
}

func confidenceLabel(score float64) string {
	switch {
	case score >= 0.75:
		return "high"
	case score >= 0.5:
		return "medium"
	}
	return "low"
}

// ColorMatch recommends one of the product's color variants for the analysed room.
func (a *Analyzer) ColorMatch(ctx context.Context, roomAnalysis, productID string) (string, error) {
	if strings.TrimSpace(roomAnalysis) == "" {
		return "", apperr.Validation("vision.ColorMatch", "A room analysis is required.")
	}
	variants, err := a.catalog.ColorVariants(ctx, productID)
	if err != nil {
		return "", apperr.Trace("vision.ColorMatch", err)
	}
	colors := make([]string, 0, len(variants))
	for _, m := range variants {
		if m.Color == "" {
			continue
		}
		c := m.Color
		if m.HexColor != "" {
			c += " (" + m.HexColor + ")"
		}
		colors = append(colors, "- "+c+", model "+m.ModelID)
	}
	if len(colors) == 0 {
		return "", apperr.NotFound("vision.ColorMatch", "This product has no color variants listed.")
	}
	return a.text(ctx, "vision.ColorMatch", configs.Render(a.cfg.Vision.ColorMatch, map[string]string{
		"analysis": roomAnalysis,
		"colors":   strings.Join(colors, "\n"),
	}))
}

// AssessFit judges whether a model fits the analysed room.
func (a *Analyzer) AssessFit(ctx context.Context, roomAnalysis, modelID string) (string, error) {
	if strings.TrimSpace(roomAnalysis) == "" {
		return "", apperr.Validation("vision.AssessFit", "A room analysis is required.")
	}
	rec, err := a.catalog.GetModel(ctx, modelID)
	if err != nil {
		return "", apperr.Trace("vision.AssessFit", err)
	}
	dims := "not listed"
	if d := rec.Model.DimensionsCM; len(d) == 3 {
		dims = fmt.Sprintf("%gcm (H) x %gcm (W) x %gcm (D)", d[0], d[1], d[2])
	}
	clearance, ok := a.cfg.Vision.Clearances[rec.Product.Category]
	if !ok {
		clearance = a.cfg.Vision.Clearances["default"]
	}
	return a.text(ctx, "vision.AssessFit", configs.Render(a.cfg.Vision.AssessFit, map[string]string{
		"analysis":   roomAnalysis,
		"category":   rec.Product.Category,
		"dimensions": dims,
		"clearance":  clearance,
	}))
}

func (a *Analyzer) text(ctx context.Context, trace, content string) (string, error) {
	resp, err := a.llm.Complete(ctx, llm.Request{
		MaxTokens: 500,
		Messages:  []llm.Message{{Role: string(types.RoleUser), Content: content}},
	})
	if err != nil {
		return "", apperr.Trace(trace, err)
	}
	return resp.Text, nil
}

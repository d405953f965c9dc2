package controllers

import (
	"context"

	"prodagent/prodagent/services/vision"
	"prodagent/prodagent/utils/types"
)

type VisionController struct {
	analyzer *vision.Analyzer
	limits   vision.Limits
}

func NewVisionController(analyzer *vision.Analyzer, limits vision.Limits) *VisionController {
	// room analysis always takes exactly one image
	limits.MaxCount = 1
	return &VisionController{analyzer: analyzer, limits: limits}
}

func (c *VisionController) AnalyzeRoom(ctx context.Context, upload vision.Upload, modelID string) (*types.RoomAnalysisResponse, error) {
	images, err := vision.Validate([]vision.Upload{upload}, c.limits)
	if err != nil {
		return nil, err
	}
	return c.analyzer.AnalyzeRoom(ctx, images[0], modelID)
}

func (c *VisionController) ColorMatch(ctx context.Context, req types.ColorMatchRequest) (*types.TextResponse, error) {
	text, err := c.analyzer.ColorMatch(ctx, req.RoomAnalysis, req.ProductID)
	if err != nil {
		return nil, err
	}
	return &types.TextResponse{Response: text}, nil
}

func (c *VisionController) AssessFit(ctx context.Context, req types.AssessFitRequest) (*types.TextResponse, error) {
	text, err := c.analyzer.AssessFit(ctx, req.RoomAnalysis, req.ModelID)
	if err != nil {
		return nil, err
	}
	return &types.TextResponse{Response: text}, nil
}

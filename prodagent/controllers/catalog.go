package controllers

import (
	"context"
	"strings"

	"prodagent/prodagent/services/catalog"
	"prodagent/prodagent/utils/apperr"
)

type CatalogController struct {
	catalog *catalog.Catalog
}

func NewCatalogController(c *catalog.Catalog) *CatalogController {
	return &CatalogController{catalog: c}
}

type ProductsResponse struct {
	Categories []string         `json:"categories"`
	Products   catalog.Document `json:"products"`
}

type ModelResponse struct {
	catalog.Record
	ColorVariants []catalog.Model `json:"color_variants"`
}

// Products returns the catalog, optionally narrowed to one category.
func (c *CatalogController) Products(ctx context.Context, category string) (*ProductsResponse, error) {
	categories, err := c.catalog.Categories(ctx)
	if err != nil {
		return nil, err
	}
	category = strings.TrimSpace(category)
	if category == "" {
		doc, err := c.catalog.All(ctx)
		if err != nil {
			return nil, err
		}
		return &ProductsResponse{Categories: categories, Products: doc}, nil
	}
	products, err := c.catalog.CategoryProducts(ctx, category)
	if err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return nil, apperr.NotFound("controllers.Products", "We couldn't find that category.")
	}
	return &ProductsResponse{Categories: categories, Products: catalog.Document{category: products}}, nil
}

func (c *CatalogController) Model(ctx context.Context, modelID string) (*ModelResponse, error) {
	rec, err := c.catalog.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return &ModelResponse{Record: *rec, ColorVariants: rec.Product.Models}, nil
}

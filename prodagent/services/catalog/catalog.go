// Package catalog resolves product and model identifiers against the
// read-only product catalog.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
)

// loadTimeout bounds one shared load; it does not depend on the caller that started it.
const loadTimeout = 15 * time.Second

// Catalog caches the document from a Source and refreshes it lazily. A failed
// refresh keeps serving the last good copy.
type Catalog struct {
	source  Source
	refresh time.Duration
	now     func() time.Time

	mu       sync.RWMutex
	doc      Document
	loadedAt time.Time
	group    singleflight.Group
}

func New(source Source, refresh time.Duration) *Catalog {
	return &Catalog{source: source, refresh: refresh, now: time.Now}
}

// Parse decodes a JSON or YAML catalog document.
func Parse(raw []byte) (Document, error) {
	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for category, products := range doc {
		for i := range products {
			if products[i].Category == "" {
				products[i].Category = category
			}
		}
	}
	return doc, nil
}

func (c *Catalog) snapshot(ctx context.Context) (Document, error) {
	c.mu.RLock()
	doc, loadedAt := c.doc, c.loadedAt
	c.mu.RUnlock()
	if doc != nil && (c.refresh <= 0 || c.now().Sub(loadedAt) < c.refresh) {
		return doc, nil
	}

	v, err, _ := c.group.Do("load", func() (interface{}, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		raw, err := c.source.Load(lctx)
		if err == nil {
			var fresh Document
			if fresh, err = Parse(raw); err == nil {
				c.mu.Lock()
				c.doc, c.loadedAt = fresh, c.now()
				c.mu.Unlock()
				return fresh, nil
			}
		}
		return nil, err
	})
	if err == nil {
		return v.(Document), nil
	}
	if doc != nil {
		logging.ErrorLogger.Error("catalog refresh failed, serving cached copy",
			zap.String("source", c.source.Name()), zap.Error(err))
		return doc, nil
	}
	return nil, apperr.New(apperr.KindProviderUnavailable, "catalog.load",
		"The product catalog is temporarily unavailable. Please try again.", err)
}

// Reload forces a refresh from the source.
func (c *Catalog) Reload(ctx context.Context) error {
	c.mu.Lock()
	c.loadedAt = time.Time{}
	c.mu.Unlock()
	_, err := c.snapshot(ctx)
	return err
}

// GetModel resolves a model id. Unknown ids are KindNotFound; an unreachable
// catalog is KindProviderUnavailable.
func (c *Catalog) GetModel(ctx context.Context, modelID string) (*Record, error) {
	doc, err := c.snapshot(ctx)
	if err != nil {
		return nil, apperr.Trace("catalog.GetModel", err)
	}
	for _, products := range doc {
		for _, p := range products {
			for _, m := range p.Models {
				if m.ModelID == modelID {
					return &Record{Product: p, Model: m}, nil
				}
			}
		}
	}
	return nil, apperr.NotFound("catalog.GetModel", fmt.Sprintf("We don't know a product with model %q.", modelID))
}

func (c *Catalog) GetProduct(ctx context.Context, productID string) (*Product, error) {
	doc, err := c.snapshot(ctx)
	if err != nil {
		return nil, apperr.Trace("catalog.GetProduct", err)
	}
	for _, products := range doc {
		for _, p := range products {
			if p.ProductID == productID {
				p := p
				return &p, nil
			}
		}
	}
	return nil, apperr.NotFound("catalog.GetProduct", fmt.Sprintf("We don't know a product %q.", productID))
}

// Categories lists category names in sorted order.
func (c *Catalog) Categories(ctx context.Context) ([]string, error) {
	doc, err := c.snapshot(ctx)
	if err != nil {
		return nil, apperr.Trace("catalog.Categories", err)
	}
	out := make([]string, 0, len(doc))
	for category := range doc {
		out = append(out, category)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Catalog) CategoryProducts(ctx context.Context, category string) ([]Product, error) {
	doc, err := c.snapshot(ctx)
	if err != nil {
		return nil, apperr.Trace("catalog.CategoryProducts", err)
	}
	return doc[category], nil
}

// All returns the whole document.
func (c *Catalog) All(ctx context.Context) (Document, error) {
	doc, err := c.snapshot(ctx)
	if err != nil {
		return nil, apperr.Trace("catalog.All", err)
	}
	return doc, nil
}

// ColorVariants lists every model of a product.
func (c *Catalog) ColorVariants(ctx context.Context, productID string) ([]Model, error) {
	p, err := c.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	return p.Models, nil
}

// FindIssue looks up an error code for a model.
func (c *Catalog) FindIssue(ctx context.Context, modelID, code string) (*KnownIssue, error) {
	rec, err := c.GetModel(ctx, modelID)
	if err != nil {
		return nil, err
	}
	issue, ok := rec.Model.Issue(code)
	if !ok {
		return nil, apperr.NotFound("catalog.FindIssue", fmt.Sprintf("Error code %s is not listed for this model.", code))
	}
	return &issue, nil
}

type SearchQuery struct {
	Category string
	Features []string
	MinPrice float64
	MaxPrice float64
}

// Search filters models of a category by features (any match) and price range.
// Zero bounds are open.
func (c *Catalog) Search(ctx context.Context, q SearchQuery) ([]Record, error) {
	products, err := c.CategoryProducts(ctx, q.Category)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, p := range products {
		for _, m := range p.Models {
			if q.MinPrice > 0 && m.Price < q.MinPrice {
				continue
			}
			if q.MaxPrice > 0 && m.Price > q.MaxPrice {
				continue
			}
			if len(q.Features) > 0 && !hasAnyFeature(m.Features, q.Features) {
				continue
			}
			out = append(out, Record{Product: p, Model: m})
		}
	}
	return out, nil
}

func hasAnyFeature(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.Contains(strings.ToLower(h), strings.ToLower(strings.TrimSpace(w))) {
				return true
			}
		}
	}
	return false
}

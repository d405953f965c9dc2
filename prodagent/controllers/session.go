package controllers

import (
	"context"

	"prodagent/prodagent/services/session"
	"prodagent/prodagent/sources/kv"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/types"
)

// SessionController hands out per-product session ids for a device. Every
// device gets its own namespace in the shared store.
type SessionController struct {
	store    kv.Store
	fallback kv.Store
}

func NewSessionController(store kv.Store) *SessionController {
	return &SessionController{store: store, fallback: kv.NewMemoryStore()}
}

func (c *SessionController) resolver(deviceID string) (*session.Resolver, error) {
	if deviceID == "" {
		return nil, apperr.Validation("controllers.Session", "A device identifier is required.")
	}
	prefix := "device:" + deviceID
	return session.NewResolver(kv.Namespaced(c.store, prefix), kv.Namespaced(c.fallback, prefix)), nil
}

func (c *SessionController) Get(ctx context.Context, deviceID, modelID string) (*types.SessionResponse, error) {
	r, err := c.resolver(deviceID)
	if err != nil {
		return nil, err
	}
	id, degraded, err := r.GetOrCreate(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return &types.SessionResponse{SessionID: id, ModelID: modelID, Degraded: degraded}, nil
}

func (c *SessionController) Reset(ctx context.Context, deviceID, modelID string) (*types.SessionResponse, error) {
	r, err := c.resolver(deviceID)
	if err != nil {
		return nil, err
	}
	id, degraded, err := r.Reset(ctx, modelID)
	if err != nil {
		return nil, err
	}
	return &types.SessionResponse{SessionID: id, ModelID: modelID, Degraded: degraded}, nil
}

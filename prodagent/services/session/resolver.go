// Package session derives a stable conversation identifier per product for one
// device. The device's storage is injected, so the same resolver serves the
// browser-facing API (Redis, namespaced per device cookie) and the CLI
// (a YAML file in the user's home directory).
package session

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"prodagent/prodagent/sources/kv"
	"prodagent/prodagent/utils/apperr"
	"prodagent/prodagent/utils/logging"
)

const keyPrefix = "session_"

type Resolver struct {
	store    kv.Store
	fallback kv.Store
	newID    func() string
}

// NewResolver builds a resolver over store. fallback keeps ids stable for the
// life of the process when store fails; pass nil to get a private one.
func NewResolver(store kv.Store, fallback kv.Store) *Resolver {
	if fallback == nil {
		fallback = kv.NewMemoryStore()
	}
	return &Resolver{store: store, fallback: fallback, newID: NewID}
}

// NewID returns a random (version 4) UUID string.
func NewID() string {
	return uuid.New().String()
}

// GetOrCreate returns the session id stored for productID, creating and
// persisting one on first use. degraded is true when persistent storage could
// not be used and the id will not survive a restart of the storage owner.
func (r *Resolver) GetOrCreate(ctx context.Context, productID string) (sessionID string, degraded bool, err error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", false, apperr.Validation("session.GetOrCreate", "A product identifier is required.")
	}
	key := keyPrefix + productID

	id, found, err := r.store.Get(ctx, key)
	if err == nil && found && id != "" {
		return id, false, nil
	}
	if err != nil {
		logging.ErrorLogger.Error("session store read failed, using in-memory session",
			zap.String("product_id", productID), zap.Error(err))
		return r.fromFallback(ctx, key), true, nil
	}

	// an id handed out while storage was failing is promoted rather than replaced
	if prev, ok, _ := r.fallback.Get(ctx, key); ok && prev != "" {
		id = prev
	} else {
		id = r.newID()
	}
	if err := r.store.Set(ctx, key, id); err != nil {
		logging.ErrorLogger.Error("session store write failed, using in-memory session",
			zap.String("product_id", productID), zap.Error(err))
		_ = r.fallback.Set(ctx, key, id)
		return id, true, nil
	}
	logging.AppLogger.Info("session created", zap.String("product_id", productID), zap.String("session_id", id))
	return id, false, nil
}

// Reset replaces the session for productID with a fresh one. Turns recorded
// under the previous id are left untouched.
func (r *Resolver) Reset(ctx context.Context, productID string) (sessionID string, degraded bool, err error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", false, apperr.Validation("session.Reset", "A product identifier is required.")
	}
	key := keyPrefix + productID
	id := r.newID()
	if err := r.store.Set(ctx, key, id); err != nil {
		logging.ErrorLogger.Error("session reset write failed", zap.String("product_id", productID), zap.Error(err))
		_ = r.fallback.Set(ctx, key, id)
		return id, true, nil
	}
	return id, false, nil
}

func (r *Resolver) fromFallback(ctx context.Context, key string) string {
	if id, found, _ := r.fallback.Get(ctx, key); found && id != "" {
		return id
	}
	id := r.newID()
	_ = r.fallback.Set(ctx, key, id)
	return id
}

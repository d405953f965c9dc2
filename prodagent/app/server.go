package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"prodagent/prodagent/utils/logging"
)

// Serve runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (a *App) Serve(ctx context.Context) error {
	if a.UsesMemoryIndex() {
		// nothing persists the index without Postgres, so build it now
		go func() {
			counts, err := a.IndexCatalog(ctx)
			if err != nil {
				logging.ErrorLogger.Error("startup indexing failed", zap.Error(err))
				return
			}
			logging.AppLogger.Info("startup indexing done", zap.Int("models", len(counts)))
		}()
	}

	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.AppLogger.Info("server listening", zap.String("addr", a.Config.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logging.ErrorLogger.Error("server listen error", zap.Error(err))
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.ErrorLogger.Error("server shutdown error", zap.Error(err))
		return err
	}
	logging.AppLogger.Info("server shutdown complete")
	return nil
}

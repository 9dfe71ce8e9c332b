package ui

import (
	"context"
	"fmt"
	"net/http"
)

// ListenAndServe runs an http.Server wrapping handler until ctx is
// cancelled, then shuts it down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("ui: listen on %s: %w", addr, err)
		}
		return nil
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	}
}

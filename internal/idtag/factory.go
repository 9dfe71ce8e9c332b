package idtag

import (
	"context"
	"fmt"
)

// Config selects and configures an idTag Store backend, mirroring the
// teacher's internal/reputation.WalletConfig (a Backend string plus one
// field group per backend).
type Config struct {
	Backend string // "postgres" or "spanner"

	PostgresDSN string

	SpannerProject  string
	SpannerInstance string
	SpannerDatabase string
}

// NewStore builds the configured backend, the same switch-on-Backend shape
// as the teacher's NewReputationStore.
func NewStore(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "spanner":
		if cfg.SpannerProject == "" || cfg.SpannerInstance == "" || cfg.SpannerDatabase == "" {
			return nil, fmt.Errorf("idtag: spanner configuration incomplete")
		}
		return NewSpannerStore(ctx, cfg.SpannerProject, cfg.SpannerInstance, cfg.SpannerDatabase)

	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("idtag: postgres configuration incomplete")
		}
		return NewPostgresStore(cfg.PostgresDSN)

	default:
		return nil, fmt.Errorf("idtag: unknown backend: %s", cfg.Backend)
	}
}

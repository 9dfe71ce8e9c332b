package idtag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPostgresStoreRejectsMalformedDSN(t *testing.T) {
	_, err := NewPostgresStore("not a valid dsn !!!")
	require.Error(t, err, "expected an error for a malformed DSN")
}

func TestNewStoreRejectsUnknownBackend(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Backend: "mongodb"})
	require.Error(t, err, "expected an error for an unknown backend")
}

func TestNewStoreRejectsIncompleteSpannerConfig(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Backend: "spanner", SpannerProject: "p"})
	require.Error(t, err, "expected an error for incomplete spanner configuration")
}

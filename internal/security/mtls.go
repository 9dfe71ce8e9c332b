// Package security provides the optional SPIFFE/SPIRE-issued mTLS identity
// for the introspection gRPC surface (spec expansion §3 "security.mTLS").
// Off the hot path: only cmd/simulator's introspection listener and
// cmd/ocppcheck's dialer touch it, and only when config.Security.MTLS is
// enabled. Grounded on the teacher's internal/security package existing as
// the home for every trust/identity concern, generalized here from JWT
// session tokens (token_broker.go) to workload X.509-SVIDs.
package security

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"

	"github.com/evfleet/ocppsim/internal/config"
)

// Source wraps a SPIFFE Workload API X.509 source, refreshed in the
// background by workloadapi.NewX509Source until Close is called.
type Source struct {
	x509Source *workloadapi.X509Source
}

// NewSource dials the Workload API over cfg.SocketPath and fetches this
// process's X.509-SVID plus the trust bundle it needs to verify peers.
func NewSource(ctx context.Context, cfg config.MTLSConfig) (*Source, error) {
	src, err := workloadapi.NewX509Source(ctx, workloadapi.WithClientOptions(workloadapi.WithAddr(cfg.SocketPath)))
	if err != nil {
		return nil, fmt.Errorf("security: fetch workload x509 source: %w", err)
	}
	return &Source{x509Source: src}, nil
}

// Close stops the background SVID refresh.
func (s *Source) Close() error {
	return s.x509Source.Close()
}

// ServerTLSConfig returns a *tls.Config requiring peers to present an
// X.509-SVID matching one of the given allowed SPIFFE IDs.
func (s *Source) ServerTLSConfig(allowedIDs ...string) *tls.Config {
	return tlsconfig.MTLSServerConfig(s.x509Source, s.x509Source, authorizeAny(allowedIDs))
}

// ClientTLSConfig returns a *tls.Config presenting this process's SVID and
// verifying the server's SVID against the given allowed SPIFFE IDs.
func (s *Source) ClientTLSConfig(allowedIDs ...string) *tls.Config {
	return tlsconfig.MTLSClientConfig(s.x509Source, s.x509Source, authorizeAny(allowedIDs))
}

func authorizeAny(allowedIDs []string) tlsconfig.Authorizer {
	if len(allowedIDs) == 0 {
		return tlsconfig.AuthorizeAny()
	}
	ids := make([]spiffeid.ID, 0, len(allowedIDs))
	for _, raw := range allowedIDs {
		id, err := spiffeid.FromString(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return tlsconfig.AuthorizeOneOf(ids...)
}

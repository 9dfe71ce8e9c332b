// Command ocppcheck is a diagnostic CLI that dials a running fleet's gRPC
// introspection port and prints its fleet summary, adapted from the
// teacher's cmd/probe entrypoint (flag-driven, context with a timeout,
// log.Printf for operator-facing output).
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/evfleet/ocppsim/internal/config"
	"github.com/evfleet/ocppsim/internal/introspection"
	"github.com/evfleet/ocppsim/internal/security"
)

func main() {
	addr := flag.String("addr", "localhost:9001", "fleet introspection gRPC address")
	timeout := flag.Duration("timeout", 5*time.Second, "dial and call timeout")
	mtls := flag.Bool("mtls", false, "use SPIFFE-issued mTLS to dial")
	socketPath := flag.String("workload-socket", "unix:///tmp/spire-agent/public/api.sock", "SPIFFE Workload API socket, when -mtls is set")
	serverID := flag.String("server-id", "", "expected SPIFFE ID of the fleet's introspection server, when -mtls is set")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	creds := insecure.NewCredentials()
	if *mtls {
		src, err := security.NewSource(ctx, config.MTLSConfig{Enabled: true, SocketPath: *socketPath})
		if err != nil {
			log.Fatalf("🛑 mTLS source unavailable: %v", err)
		}
		defer src.Close()
		var allowed []string
		if *serverID != "" {
			allowed = []string{*serverID}
		}
		creds = credentials.NewTLS(src.ClientTLSConfig(allowed...))
	}

	conn, err := grpc.DialContext(ctx, *addr, grpc.WithTransportCredentials(creds), grpc.WithBlock())
	if err != nil {
		log.Fatalf("🛑 dial %s failed: %v", *addr, err)
	}
	defer conn.Close()

	client := introspection.NewFleetInfoClient(conn)
	summary, err := client.GetFleetSummary(ctx, &emptypb.Empty{})
	if err != nil {
		log.Fatalf("🛑 GetFleetSummary failed: %v", err)
	}

	fields := summary.AsMap()
	log.Printf("✅ fleet state=%v stationCount=%v", fields["state"], fields["stationCount"])
	for _, s := range toSlice(fields["stations"]) {
		entry, ok := s.(map[string]interface{})
		if !ok {
			continue
		}
		log.Printf("   • %v (station=%v template=%v connected=%v)", entry["hashId"], entry["stationId"], entry["templateName"], entry["connected"])
	}
}

func toSlice(v interface{}) []interface{} {
	s, _ := v.([]interface{})
	return s
}

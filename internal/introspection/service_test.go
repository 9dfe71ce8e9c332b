package introspection

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"github.com/evfleet/ocppsim/internal/bootstrap"
	"github.com/evfleet/ocppsim/internal/config"
)

func TestGetFleetSummaryOverRealGRPC(t *testing.T) {
	fleet := bootstrap.New(&config.Config{}, nil, nil)
	srv := NewServer(fleet)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()

	go srv.Serve(lis)
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(ctx, lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()), grpc.WithBlock())
	require.NoError(t, err)
	defer conn.Close()

	client := NewFleetInfoClient(conn)
	summary, err := client.GetFleetSummary(ctx, &emptypb.Empty{})
	require.NoError(t, err)

	fields := summary.AsMap()
	require.Equal(t, "Stopped", fields["state"])
	require.Equal(t, float64(0), fields["stationCount"])
}

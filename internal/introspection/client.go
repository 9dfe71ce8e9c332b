package introspection

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// FleetInfoClient is the client-side contract cmd/ocppcheck dials against.
type FleetInfoClient interface {
	GetFleetSummary(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type fleetInfoClient struct {
	cc grpc.ClientConnInterface
}

// NewFleetInfoClient wraps an established gRPC connection.
func NewFleetInfoClient(cc grpc.ClientConnInterface) FleetInfoClient {
	return &fleetInfoClient{cc: cc}
}

func (c *fleetInfoClient) GetFleetSummary(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetFleetSummary", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

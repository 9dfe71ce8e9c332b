// Package introspection implements the control plane's read-only gRPC
// surface (spec §4.3): one RPC, GetFleetSummary, returning station counts
// and per-station connection state as protobuf. This is the only consumer
// of google.golang.org/grpc and google.golang.org/protobuf in this tree;
// hand-rolled request/response types plus a manually authored
// grpc.ServiceDesc stand in for a compiled .proto, the same approach the
// teacher's pb package takes for its own service surfaces (pb/mock.go).
package introspection

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/evfleet/ocppsim/internal/bootstrap"
)

// FleetInfoServer is the server-side contract for the introspection service.
type FleetInfoServer interface {
	GetFleetSummary(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

type fleetInfoServer struct {
	fleet *bootstrap.Fleet
}

// NewFleetInfoServer adapts a running Fleet into a FleetInfoServer.
func NewFleetInfoServer(fleet *bootstrap.Fleet) FleetInfoServer {
	return &fleetInfoServer{fleet: fleet}
}

// GetFleetSummary returns the fleet's lifecycle state, station count, and
// one entry per station (hashId, stationId, templateName, connected).
func (s *fleetInfoServer) GetFleetSummary(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	summaries := s.fleet.Summaries()

	stations := make([]interface{}, 0, len(summaries))
	for _, sm := range summaries {
		stations = append(stations, map[string]interface{}{
			"hashId":       sm.HashID,
			"stationId":    sm.StationID,
			"templateName": sm.TemplateName,
			"connected":    sm.Connected,
		})
	}

	result, err := structpb.NewStruct(map[string]interface{}{
		"state":        s.fleet.State().String(),
		"stationCount": len(summaries),
		"stations":     stations,
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// serviceName is the introspection service's gRPC-routable name.
const serviceName = "ocppsim.introspection.FleetInfoService"

// ServiceDesc is the hand-authored equivalent of a protoc-generated
// grpc.ServiceDesc: one unary method, GetFleetSummary, dispatched onto
// FleetInfoServer.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*FleetInfoServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetFleetSummary",
			Handler:    getFleetSummaryHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "introspection.proto",
}

func getFleetSummaryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FleetInfoServer).GetFleetSummary(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/" + serviceName + "/GetFleetSummary",
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FleetInfoServer).GetFleetSummary(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterFleetInfoServer attaches srv to s under ServiceDesc.
func RegisterFleetInfoServer(s grpc.ServiceRegistrar, srv FleetInfoServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// NewServer builds a *grpc.Server with the introspection service registered,
// ready for Serve on a net.Listener. opts are passed through to
// grpc.NewServer, e.g. grpc.Creds(...) when mTLS is configured.
func NewServer(fleet *bootstrap.Fleet, opts ...grpc.ServerOption) *grpc.Server {
	s := grpc.NewServer(opts...)
	RegisterFleetInfoServer(s, NewFleetInfoServer(fleet))
	return s
}

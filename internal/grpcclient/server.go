package grpcclient

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// LandmarkServer is the server side of the landmark protocol. The request carries a
// PNG-encoded grayscale image; the response holds a "faces" list of flat
// x0,y0,...,x67,y67 coordinate lists in detector order.
type LandmarkServer interface {
	Detect(ctx context.Context, image *wrapperspb.BytesValue) (*structpb.Struct, error)
}

// RegisterLandmarkServer attaches srv to a gRPC server.
func RegisterLandmarkServer(s grpc.ServiceRegistrar, srv LandmarkServer) {
	s.RegisterService(&LandmarkServiceDesc, srv)
}

// LandmarkServiceDesc describes the landmark service for grpc.Server.
var LandmarkServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*LandmarkServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Detect",
			Handler:    detectHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

func detectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(LandmarkServer).Detect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: detectMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(LandmarkServer).Detect(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// FacesResponse builds a Detect response from landmark coordinates.
func FacesResponse(faces ...[]float64) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(faces))
	for _, face := range faces {
		coords := make([]interface{}, len(face))
		for i, v := range face {
			coords[i] = v
		}
		list = append(list, coords)
	}
	return structpb.NewStruct(map[string]interface{}{"faces": list})
}

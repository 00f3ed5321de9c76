package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// The usage service is declared over well-known types, so it needs no
// generated code:
//
//	service UsageService {
//	  rpc GetUsage(google.protobuf.StringValue) returns (google.protobuf.Struct);
//	  rpc GetWindow(google.protobuf.Struct) returns (google.protobuf.DoubleValue);
//	}
const ServiceName = "esbmeter.v1.UsageService"

const (
	GetUsageMethod  = "/" + ServiceName + "/GetUsage"
	GetWindowMethod = "/" + ServiceName + "/GetWindow"
)

// UsageServiceServer is the server API for the usage service.
type UsageServiceServer interface {
	// GetUsage returns the six window totals of the meter named by the
	// request value.
	GetUsage(context.Context, *wrapperspb.StringValue) (*structpb.Struct, error)
	// GetWindow returns one window total; the request carries the string
	// fields "mprn" and "window".
	GetWindow(context.Context, *structpb.Struct) (*wrapperspb.DoubleValue, error)
}

// RegisterUsageServiceServer registers srv with s.
func RegisterUsageServiceServer(s grpc.ServiceRegistrar, srv UsageServiceServer) {
	s.RegisterService(&UsageServiceDesc, srv)
}

func getUsageHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UsageServiceServer).GetUsage(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetUsageMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(UsageServiceServer).GetUsage(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func getWindowHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(UsageServiceServer).GetWindow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetWindowMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(UsageServiceServer).GetWindow(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// UsageServiceDesc is the grpc.ServiceDesc for the usage service.
var UsageServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UsageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetUsage",
			Handler:    getUsageHandler,
		},
		{
			MethodName: "GetWindow",
			Handler:    getWindowHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "esbmeter/v1/usage.proto",
}

// UsageServiceClient is the client API for the usage service.
type UsageServiceClient interface {
	GetUsage(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error)
	GetWindow(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error)
}

type usageServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewUsageServiceClient(cc grpc.ClientConnInterface) UsageServiceClient {
	return &usageServiceClient{cc}
}

func (c *usageServiceClient) GetUsage(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetUsageMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *usageServiceClient) GetWindow(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*wrapperspb.DoubleValue, error) {
	out := new(wrapperspb.DoubleValue)
	if err := c.cc.Invoke(ctx, GetWindowMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Package proto defines the gRPC ExtractionService without protoc: messages
// are plain structs carried by a JSON codec registered as content-subtype
// "json".
package proto

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "docextract.ExtractionService"

// ExtractionServiceServer is the server-side interface for the ExtractionService.
type ExtractionServiceServer interface {
	SubmitRun(*SubmitRunRequest, RunEventSender) error
	ReExtract(*ReExtractRequest, RunEventSender) error
	ListVersions(context.Context, *ListVersionsRequest) (*ListVersionsResponse, error)
	Compare(context.Context, *CompareRequest) (*CompareResponse, error)
	CancelRun(context.Context, *CancelRunRequest) (*CancelRunResponse, error)
}

// ExtractionServiceClient is the client-side interface for the ExtractionService.
type ExtractionServiceClient interface {
	SubmitRun(ctx context.Context, in *SubmitRunRequest, opts ...grpc.CallOption) (RunEventReceiver, error)
	ReExtract(ctx context.Context, in *ReExtractRequest, opts ...grpc.CallOption) (RunEventReceiver, error)
	ListVersions(ctx context.Context, in *ListVersionsRequest, opts ...grpc.CallOption) (*ListVersionsResponse, error)
	Compare(ctx context.Context, in *CompareRequest, opts ...grpc.CallOption) (*CompareResponse, error)
	CancelRun(ctx context.Context, in *CancelRunRequest, opts ...grpc.CallOption) (*CancelRunResponse, error)
}

// RunEventSender is the server side of a run event stream.
type RunEventSender interface {
	Send(*RunEvent) error
	grpc.ServerStream
}

// RunEventReceiver is the client side of a run event stream.
type RunEventReceiver interface {
	Recv() (*RunEvent, error)
	grpc.ClientStream
}

// ---- server registration ----

// ServiceDesc is the grpc.ServiceDesc for the ExtractionService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*ExtractionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "ListVersions",
			Handler:    _ExtractionService_ListVersions_Handler,
		},
		{
			MethodName: "Compare",
			Handler:    _ExtractionService_Compare_Handler,
		},
		{
			MethodName: "CancelRun",
			Handler:    _ExtractionService_CancelRun_Handler,
		},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "SubmitRun",
			Handler:       _ExtractionService_SubmitRun_Handler,
			ServerStreams: true,
		},
		{
			StreamName:    "ReExtract",
			Handler:       _ExtractionService_ReExtract_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "proto/extraction.proto",
}

// RegisterExtractionServiceServer registers the server implementation with a gRPC server.
func RegisterExtractionServiceServer(s grpc.ServiceRegistrar, srv ExtractionServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func unary[Req any, Resp any](srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor, method string, call func(ExtractionServiceServer, context.Context, *Req) (*Resp, error)) (any, error) {
	in := new(Req)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return call(srv.(ExtractionServiceServer), ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
	handler := func(ctx context.Context, req any) (any, error) {
		return call(srv.(ExtractionServiceServer), ctx, req.(*Req))
	}
	return interceptor(ctx, in, info, handler)
}

func _ExtractionService_ListVersions_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "ListVersions", ExtractionServiceServer.ListVersions)
}

func _ExtractionService_Compare_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "Compare", ExtractionServiceServer.Compare)
}

func _ExtractionService_CancelRun_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return unary(srv, ctx, dec, interceptor, "CancelRun", ExtractionServiceServer.CancelRun)
}

func _ExtractionService_SubmitRun_Handler(srv any, stream grpc.ServerStream) error {
	in := new(SubmitRunRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ExtractionServiceServer).SubmitRun(in, &runEventSender{stream})
}

func _ExtractionService_ReExtract_Handler(srv any, stream grpc.ServerStream) error {
	in := new(ReExtractRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ExtractionServiceServer).ReExtract(in, &runEventSender{stream})
}

type runEventSender struct {
	grpc.ServerStream
}

func (x *runEventSender) Send(ev *RunEvent) error {
	return x.ServerStream.SendMsg(ev)
}

// ---- client implementation ----

type extractionServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewExtractionServiceClient creates a new ExtractionService gRPC client. Every
// call is sent with the JSON content-subtype.
func NewExtractionServiceClient(cc grpc.ClientConnInterface) ExtractionServiceClient {
	return &extractionServiceClient{cc: cc}
}

func withCodec(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
}

func (c *extractionServiceClient) SubmitRun(ctx context.Context, in *SubmitRunRequest, opts ...grpc.CallOption) (RunEventReceiver, error) {
	return c.openStream(ctx, &ServiceDesc.Streams[0], in, opts)
}

func (c *extractionServiceClient) ReExtract(ctx context.Context, in *ReExtractRequest, opts ...grpc.CallOption) (RunEventReceiver, error) {
	return c.openStream(ctx, &ServiceDesc.Streams[1], in, opts)
}

func (c *extractionServiceClient) openStream(ctx context.Context, desc *grpc.StreamDesc, in any, opts []grpc.CallOption) (RunEventReceiver, error) {
	stream, err := c.cc.NewStream(ctx, desc, "/"+serviceName+"/"+desc.StreamName, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	x := &runEventReceiver{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type runEventReceiver struct {
	grpc.ClientStream
}

func (x *runEventReceiver) Recv() (*RunEvent, error) {
	m := new(RunEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *extractionServiceClient) ListVersions(ctx context.Context, in *ListVersionsRequest, opts ...grpc.CallOption) (*ListVersionsResponse, error) {
	out := new(ListVersionsResponse)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/ListVersions", in, out, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *extractionServiceClient) Compare(ctx context.Context, in *CompareRequest, opts ...grpc.CallOption) (*CompareResponse, error) {
	out := new(CompareResponse)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/Compare", in, out, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *extractionServiceClient) CancelRun(ctx context.Context, in *CancelRunRequest, opts ...grpc.CallOption) (*CancelRunResponse, error) {
	out := new(CancelRunResponse)
	err := c.cc.Invoke(ctx, "/"+serviceName+"/CancelRun", in, out, withCodec(opts)...)
	if err != nil {
		return nil, err
	}
	return out, nil
}

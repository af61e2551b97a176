package syncsrv

import (
	"context"

	"google.golang.org/grpc"
)

const (
	serviceName = "syncsrv.Peer"

	methodRequestVote     = "/" + serviceName + "/RequestVote"
	methodAppendEntries   = "/" + serviceName + "/AppendEntries"
	methodInstallSnapshot = "/" + serviceName + "/InstallSnapshot"
	methodAdvertiseTarget = "/" + serviceName + "/AdvertiseTarget"
	methodRequestChunk    = "/" + serviceName + "/RequestChunk"
	methodGetStatus       = "/" + serviceName + "/GetStatus"
)

func requestVoteHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(voteRequestDTO)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).requestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRequestVote}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).requestVote(ctx, req.(*voteRequestDTO))
	}
	return interceptor(ctx, in, info, handler)
}

func appendEntriesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(appendEntriesRequestDTO)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).appendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAppendEntries}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).appendEntries(ctx, req.(*appendEntriesRequestDTO))
	}
	return interceptor(ctx, in, info, handler)
}

func installSnapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(installSnapshotRequestDTO)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).installSnapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodInstallSnapshot}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).installSnapshot(ctx, req.(*installSnapshotRequestDTO))
	}
	return interceptor(ctx, in, info, handler)
}

func advertiseTargetHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(advertiseTargetRequestDTO)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).advertiseTarget(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodAdvertiseTarget}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).advertiseTarget(ctx, req.(*advertiseTargetRequestDTO))
	}
	return interceptor(ctx, in, info, handler)
}

func requestChunkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(requestChunkRequestDTO)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).requestChunk(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodRequestChunk}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).requestChunk(ctx, req.(*requestChunkRequestDTO))
	}
	return interceptor(ctx, in, info, handler)
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(getStatusRequestDTO)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).getStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(*Server).getStatus(ctx, req.(*getStatusRequestDTO))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc is the hand-written equivalent of what protoc-gen-go-grpc
// would generate from a .proto file, registered directly with
// grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: requestVoteHandler},
		{MethodName: "AppendEntries", Handler: appendEntriesHandler},
		{MethodName: "InstallSnapshot", Handler: installSnapshotHandler},
		{MethodName: "AdvertiseTarget", Handler: advertiseTargetHandler},
		{MethodName: "RequestChunk", Handler: requestChunkHandler},
		{MethodName: "GetStatus", Handler: getStatusHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "syncsrv/peer.go",
}

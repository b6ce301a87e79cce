package bridge

import (
	"context"

	"google.golang.org/grpc"
)

// serviceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc would normally
// generate from a .proto file; hand-declared here since the bridge's
// messages are plain structs carried over jsonCodec rather than protobuf.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SendDirect", Handler: sendDirectHandler},
		{MethodName: "SendChannel", Handler: sendChannelHandler},
		{MethodName: "SyncContacts", Handler: syncContactsHandler},
		{MethodName: "SetChannel", Handler: setChannelHandler},
		{MethodName: "Login", Handler: loginHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Subscribe", Handler: subscribeHandler, ServerStreams: true},
	},
	Metadata: "bridge.proto",
}

func sendDirectHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendDirectRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.sendDirect(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/SendDirect"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.sendDirect(ctx, req.(*SendDirectRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func sendChannelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SendChannelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.sendChannel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/SendChannel"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.sendChannel(ctx, req.(*SendChannelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func syncContactsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SyncContactsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.syncContacts(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/SyncContacts"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.syncContacts(ctx, req.(*SyncContactsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func setChannelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SetChannelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.setChannel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/SetChannel"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.setChannel(ctx, req.(*SetChannelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func loginHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(LoginRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	s := srv.(*Server)
	if interceptor == nil {
		return s.login(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/Login"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return s.login(ctx, req.(*LoginRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	s := srv.(*Server)

	var req SubscribeRequest
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}

	id, ch := s.addSubscriber()
	defer s.removeSubscriber(id)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return stream.Context().Err()
		}
	}
}

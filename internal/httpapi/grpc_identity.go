package httpapi

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"adops.io/internal/auth"
)

const (
	identityServiceName = "adops.v1.Identity"
	whoAmIMethod        = "/" + identityServiceName + "/WhoAmI"
)

// identityServer is the gRPC counterpart of GET /api/auth/me. Messages are
// well-known types, so the service needs no generated code.
type identityServer interface {
	WhoAmI(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: identityServiceName,
	HandlerType: (*identityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "WhoAmI", Handler: whoAmIHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "adops/v1/identity",
}

func whoAmIHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(identityServer).WhoAmI(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: whoAmIMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(identityServer).WhoAmI(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// WhoAmI returns the snapshot the auth interceptor attached to ctx.
func (s *GRPCServer) WhoAmI(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	uc, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, CodeNoToken)
	}
	perms := make([]any, 0, len(uc.Permissions))
	for _, p := range uc.Permissions {
		perms = append(perms, p)
	}
	out, err := structpb.NewStruct(map[string]any{
		"id":       uc.UserID,
		"username": uc.Username,
		"role": map[string]any{
			"id":          uc.Role.ID,
			"name":        uc.Role.Name,
			"displayName": uc.Role.DisplayName,
			"level":       uc.Role.Level,
		},
		"permissions": perms,
	})
	if err != nil {
		s.log.Error("encode whoami", zap.Error(err))
		return nil, status.Error(codes.Internal, "encode identity")
	}
	return out, nil
}

// unknownMethod runs behind the stream interceptor, so callers of methods this
// server does not implement still have to authenticate first.
func unknownMethod(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	return status.Errorf(codes.Unimplemented, "unknown method %s", method)
}

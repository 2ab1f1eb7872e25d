package httpapi

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"adops.io/internal/auth"
	"adops.io/internal/obs"
)

// GRPCServer exposes the health and identity services. Every call outside health,
// including calls to unknown methods, is authenticated with the same access
// tokens as the HTTP API.
type GRPCServer struct {
	*grpc.Server

	health    *health.Server
	authn     *auth.Authenticator
	readiness readinessChecker
	log       *zap.Logger
}

// NewGRPCServer builds the server with auth interceptors installed.
func NewGRPCServer(authn *auth.Authenticator, r readinessChecker, logger *zap.Logger) *GRPCServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &GRPCServer{
		health:    health.NewServer(),
		authn:     authn,
		readiness: r,
		log:       logger,
	}
	s.Server = grpc.NewServer(
		grpc.ChainUnaryInterceptor(s.UnaryAuthInterceptor),
		grpc.ChainStreamInterceptor(s.StreamAuthInterceptor),
		grpc.UnknownServiceHandler(unknownMethod),
	)
	healthpb.RegisterHealthServer(s.Server, s.health)
	s.Server.RegisterService(&identityServiceDesc, s)
	return s
}

// CheckReadiness updates the serving status from the readiness probe.
func (s *GRPCServer) CheckReadiness(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.log.Warn("grpc readiness check failed", zap.Error(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(serviceName, st)
}

// Shutdown marks the service as not serving and stops gracefully.
func (s *GRPCServer) Shutdown() {
	s.health.Shutdown()
	s.Server.GracefulStop()
}

func isPublicMethod(fullMethod string) bool {
	return strings.HasPrefix(fullMethod, "/"+healthpb.Health_ServiceDesc.ServiceName+"/")
}

// UnaryAuthInterceptor attaches the resolved UserContext to ctx.
func (s *GRPCServer) UnaryAuthInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	if isPublicMethod(info.FullMethod) {
		return handler(ctx, req)
	}
	ctx, err := s.authenticate(ctx)
	if err != nil {
		return nil, err
	}
	return handler(ctx, req)
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context { return s.ctx }

func (s *GRPCServer) StreamAuthInterceptor(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	if isPublicMethod(info.FullMethod) {
		return handler(srv, ss)
	}
	ctx, err := s.authenticate(ss.Context())
	if err != nil {
		return err
	}
	return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
}

func (s *GRPCServer) authenticate(ctx context.Context) (context.Context, error) {
	if s.authn == nil {
		return nil, status.Error(codes.Unauthenticated, CodeNoToken)
	}
	var header string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("authorization"); len(vals) > 0 {
			header = vals[0]
		}
	}
	token, err := extractBearerToken(header)
	if err != nil {
		obs.AuthFailure(CodeNoToken)
		return nil, status.Error(codes.Unauthenticated, CodeNoToken)
	}
	uc, err := s.authn.Authenticate(ctx, token)
	if err != nil {
		code, ok := accessErrorCode(err)
		if !ok {
			s.log.Error("grpc authentication failed", zap.Error(err))
			return nil, status.Error(codes.Internal, "authentication error")
		}
		obs.AuthFailure(code)
		return nil, status.Error(codes.Unauthenticated, code)
	}
	return auth.ContextWithUser(ctx, uc), nil
}

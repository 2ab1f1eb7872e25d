package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"adops.io/internal/auth"
	"adops.io/internal/store/mem"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, srv *GRPCServer) *grpc.ClientConn {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.DialContext(ctx)
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		srv.Shutdown()
		_ = listener.Close()
	})
	return conn
}

func newGRPCAuthenticator(t *testing.T) (*auth.Authenticator, *mem.Store) {
	t.Helper()
	st := mem.New()
	hash, err := auth.HashPassword(rootPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := st.Seed(context.Background(), rootUser, hash); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tokens, err := auth.NewTokenService(st, "grpc-access", "grpc-refresh")
	if err != nil {
		t.Fatalf("tokens: %v", err)
	}
	resolver, err := auth.NewIdentityResolver(st)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}
	authn, err := auth.NewAuthenticator(tokens, resolver)
	if err != nil {
		t.Fatalf("authenticator: %v", err)
	}
	return authn, st
}

func TestGRPCHealthIsPublic(t *testing.T) {
	authn, _ := newGRPCAuthenticator(t)
	srv := NewGRPCServer(authn, ReadyProbe{}, nil)
	srv.CheckReadiness(context.Background())
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: serviceName})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestGRPCHealthReflectsReadiness(t *testing.T) {
	authn, _ := newGRPCAuthenticator(t)
	probe := ReadyProbe{Ping: func(context.Context) error { return errors.New("boom") }}
	srv := NewGRPCServer(authn, probe, nil)
	srv.CheckReadiness(context.Background())
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check error: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("unexpected status: %s", resp.GetStatus())
	}
}

func TestGRPCUnaryAuthInterceptor(t *testing.T) {
	authn, _ := newGRPCAuthenticator(t)
	srv := NewGRPCServer(authn, ReadyProbe{}, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/adops.v1.Cards/List"}

	var got *auth.UserContext
	handler := func(ctx context.Context, req any) (any, error) {
		got, _ = auth.UserFromContext(ctx)
		return "ok", nil
	}

	_, err := srv.UnaryAuthInterceptor(context.Background(), nil, info, handler)
	if status.Code(err) != codes.Unauthenticated || status.Convert(err).Message() != CodeNoToken {
		t.Fatalf("expected NO_TOKEN, got %v", err)
	}

	pair, err := authn.Tokens().IssueTokenPair(context.Background(), 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+pair.RefreshToken))
	_, err = srv.UnaryAuthInterceptor(ctx, nil, info, handler)
	if status.Code(err) != codes.Unauthenticated || status.Convert(err).Message() != CodeWrongTokenType {
		t.Fatalf("expected WRONG_TOKEN_TYPE, got %v", err)
	}

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+pair.AccessToken))
	if _, err := srv.UnaryAuthInterceptor(ctx, nil, info, handler); err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got == nil || got.Username != rootUser {
		t.Fatalf("expected user in context, got %+v", got)
	}

	public := &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}
	if _, err := srv.UnaryAuthInterceptor(context.Background(), nil, public, handler); err != nil {
		t.Fatalf("health must be public: %v", err)
	}
}

func TestGRPCIdentityRequiresAccessToken(t *testing.T) {
	authn, _ := newGRPCAuthenticator(t)
	srv := NewGRPCServer(authn, ReadyProbe{}, nil)
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	err := conn.Invoke(ctx, whoAmIMethod, &emptypb.Empty{}, out)
	if status.Code(err) != codes.Unauthenticated || status.Convert(err).Message() != CodeNoToken {
		t.Fatalf("expected NO_TOKEN, got %v", err)
	}

	pair, err := authn.Tokens().IssueTokenPair(context.Background(), 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	refreshCtx := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+pair.RefreshToken)
	err = conn.Invoke(refreshCtx, whoAmIMethod, &emptypb.Empty{}, out)
	if status.Code(err) != codes.Unauthenticated || status.Convert(err).Message() != CodeWrongTokenType {
		t.Fatalf("expected WRONG_TOKEN_TYPE, got %v", err)
	}

	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+pair.AccessToken)
	if err := conn.Invoke(authed, whoAmIMethod, &emptypb.Empty{}, out); err != nil {
		t.Fatalf("WhoAmI: %v", err)
	}
	fields := out.AsMap()
	if fields["username"] != rootUser {
		t.Fatalf("unexpected identity %v", fields)
	}
	role, _ := fields["role"].(map[string]any)
	if role["name"] != auth.RoleSuperAdmin {
		t.Fatalf("unexpected role %v", fields["role"])
	}
	if perms, _ := fields["permissions"].([]any); len(perms) != len(auth.BuiltinPermissions) {
		t.Fatalf("unexpected permissions %v", fields["permissions"])
	}
}

func TestGRPCUnknownMethodAuthenticatesFirst(t *testing.T) {
	authn, _ := newGRPCAuthenticator(t)
	srv := NewGRPCServer(authn, ReadyProbe{}, nil)
	conn := startBufGRPC(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := conn.Invoke(ctx, "/adops.v1.Cards/List", &emptypb.Empty{}, new(emptypb.Empty))
	if status.Code(err) != codes.Unauthenticated || status.Convert(err).Message() != CodeNoToken {
		t.Fatalf("expected NO_TOKEN, got %v", err)
	}

	pair, err := authn.Tokens().IssueTokenPair(context.Background(), 1)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	authed := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+pair.AccessToken)
	err = conn.Invoke(authed, "/adops.v1.Cards/List", &emptypb.Empty{}, new(emptypb.Empty))
	if status.Code(err) != codes.Unimplemented {
		t.Fatalf("expected Unimplemented after authentication, got %v", err)
	}
}

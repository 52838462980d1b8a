package grpc

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/homeroomhq/identity"
)

func incomingCtx(pairs ...string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs(pairs...))
}

func TestUserIDFromContext(t *testing.T) {
	ctx := incomingCtx(MetadataKeyUserID, "user-42", MetadataKeyRole, "parent")
	if got := UserIDFromContext(ctx); got != "user-42" {
		t.Errorf("Expected user-42, got %q", got)
	}
	if got := RoleFromContext(ctx); got != identity.RoleParent {
		t.Errorf("Expected parent role, got %q", got)
	}
	if !IsAuthenticated(ctx) {
		t.Error("Context with user id should be authenticated")
	}

	if UserIDFromContext(context.Background()) != "" {
		t.Error("Bare context should have no user")
	}
	if RoleFromContext(incomingCtx(MetadataKeyRole, "bogus")) != "" {
		t.Error("Unknown role strings must not parse")
	}
}

func TestWithUserRoundTrip(t *testing.T) {
	user := &identity.User{ID: "user-7", Role: identity.RoleTeacher}
	out := WithUser(context.Background(), user)

	md, ok := metadata.FromOutgoingContext(out)
	if !ok {
		t.Fatal("No outgoing metadata")
	}
	if got := md.Get(MetadataKeyUserID); len(got) != 1 || got[0] != "user-7" {
		t.Errorf("Unexpected user id metadata: %v", got)
	}
	if got := md.Get(MetadataKeyRole); len(got) != 1 || got[0] != "teacher" {
		t.Errorf("Unexpected role metadata: %v", got)
	}
}

func TestUnaryAuthInterceptor(t *testing.T) {
	interceptor := UnaryAuthInterceptor(NewPublicMethodsConfig("/homeroom.Assignments/ListPublic"))
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	// Authenticated call passes
	resp, err := interceptor(
		incomingCtx(MetadataKeyUserID, "user-1"),
		nil, &grpc.UnaryServerInfo{FullMethod: "/homeroom.Assignments/List"}, handler)
	if err != nil || resp != "ok" {
		t.Errorf("Authenticated call should pass: %v", err)
	}

	// Anonymous call on a protected method fails
	_, err = interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/homeroom.Assignments/List"}, handler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("Expected Unauthenticated, got %v", err)
	}

	// Anonymous call on a public method passes
	resp, err = interceptor(context.Background(), nil,
		&grpc.UnaryServerInfo{FullMethod: "/homeroom.Assignments/ListPublic"}, handler)
	if err != nil || resp != "ok" {
		t.Errorf("Public method should pass: %v", err)
	}
}

func TestUnaryAuthInterceptorRoleGate(t *testing.T) {
	config := DefaultInterceptorConfig()
	config.RequiredRole = identity.RoleParent
	interceptor := UnaryAuthInterceptor(config)
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/homeroom.Payments/Charge"}

	_, err := interceptor(
		incomingCtx(MetadataKeyUserID, "user-1", MetadataKeyRole, "parent"),
		nil, info, handler)
	if err != nil {
		t.Errorf("Parent should pass the parent gate: %v", err)
	}

	_, err = interceptor(
		incomingCtx(MetadataKeyUserID, "user-2", MetadataKeyRole, "student"),
		nil, info, handler)
	if status.Code(err) != codes.PermissionDenied {
		t.Errorf("Expected PermissionDenied, got %v", err)
	}
}

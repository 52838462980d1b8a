// Package grpc carries the identity the HTTP layer resolved into the gRPC
// metadata of Homeroom's collaborator services (assignments, scheduling,
// payments). The identity service is the only component that authenticates;
// the collaborators trust the metadata this package writes and reads.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	"github.com/homeroomhq/identity"
)

// Metadata keys the identity layer writes on outgoing calls.
const (
	MetadataKeyUserID = "x-user-id"
	MetadataKeyRole   = "x-user-role"
)

// UserIDFromContext extracts the authenticated user id from incoming gRPC
// metadata. Returns "" when the call is anonymous.
func UserIDFromContext(ctx context.Context) string {
	return metadataValue(ctx, MetadataKeyUserID)
}

// RoleFromContext extracts the caller's role from incoming gRPC metadata.
func RoleFromContext(ctx context.Context) identity.Role {
	role, _ := identity.ParseRole(metadataValue(ctx, MetadataKeyRole))
	return role
}

// IsAuthenticated reports whether the call carries an authenticated user.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// WithUser stamps the resolved user onto an outgoing context. The HTTP layer
// calls this after its middleware resolves the session, before fanning out
// to collaborator services.
func WithUser(ctx context.Context, user *identity.User) context.Context {
	return metadata.AppendToOutgoingContext(ctx,
		MetadataKeyUserID, user.ID,
		MetadataKeyRole, string(user.Role),
	)
}

// WithUserID stamps just the user id, for callers that have not loaded the
// full record.
func WithUserID(ctx context.Context, userID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyUserID, userID)
}

func metadataValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

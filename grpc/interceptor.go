package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/homeroomhq/identity"
)

// InterceptorConfig configures the auth interceptors.
type InterceptorConfig struct {
	// RequireAuth when true rejects calls with no user id in metadata. When
	// false calls proceed and UserIDFromContext returns "".
	RequireAuth bool

	// PublicMethods lists full method names ("/package.Service/Method")
	// exempt from the auth requirement.
	PublicMethods map[string]bool

	// RequiredRole, when set, additionally rejects authenticated calls whose
	// role metadata does not match.
	RequiredRole identity.Role
}

// DefaultInterceptorConfig requires auth for every method.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig requires auth for everything except the named
// methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func (c *InterceptorConfig) check(ctx context.Context, fullMethod string) error {
	if !c.RequireAuth || c.PublicMethods[fullMethod] {
		return nil
	}
	if UserIDFromContext(ctx) == "" {
		return status.Error(codes.Unauthenticated, "authentication required")
	}
	if c.RequiredRole != "" && RoleFromContext(ctx) != c.RequiredRole {
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	}
	return nil
}

// UnaryAuthInterceptor returns a unary interceptor enforcing the config.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if err := config.check(ctx, info.FullMethod); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a stream interceptor enforcing the config.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := config.check(ss.Context(), info.FullMethod); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

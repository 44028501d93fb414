package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	oa "github.com/panyam/adminauth"
)

// VerifyTokenFunc validates an access token and returns the admin it was issued to.
// APIAuth.VerifyTokenFunc returns one.
type VerifyTokenFunc func(tokenString string) (adminID string, scopes []string, err error)

// InterceptorConfig configures the auth interceptor behavior.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// VerifyToken validates the bearer token in the authorization metadata.
	// When nil, the interceptor trusts the admin ID metadata set by a gateway.
	VerifyToken VerifyTokenFunc

	// RequireAuth when true rejects unauthenticated requests.
	// When false, requests proceed but AdminIDFromContext returns empty.
	RequireAuth bool

	// PublicMethods is a set of method names that don't require auth.
	// Only used when RequireAuth is true.
	// Keys should be full method names like "/package.Service/Method".
	PublicMethods map[string]bool

	// MethodScopes lists the scopes each method requires beyond authentication
	MethodScopes map[string][]string
}

// DefaultInterceptorConfig returns a config that requires auth for all methods.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		RequireAuth:   true,
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(verify VerifyTokenFunc, publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	config.VerifyToken = verify
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

// OptionalAuthConfig returns a config that allows unauthenticated requests.
func OptionalAuthConfig(verify VerifyTokenFunc) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	config.VerifyToken = verify
	config.RequireAuth = false
	return config
}

func (config *InterceptorConfig) ensureDefaults() *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	config.Config.EnsureDefaults()
	return config
}

// UnaryAuthInterceptor returns a gRPC unary interceptor that authenticates the caller
// and places the admin ID and scopes in the handler's context.
func UnaryAuthInterceptor(config *InterceptorConfig) grpc.UnaryServerInterceptor {
	config = config.ensureDefaults()

	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := config.authenticate(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamAuthInterceptor returns a gRPC stream interceptor that authenticates the caller.
func StreamAuthInterceptor(config *InterceptorConfig) grpc.StreamServerInterceptor {
	config = config.ensureDefaults()

	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := config.authenticate(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &authedStream{ServerStream: ss, ctx: ctx})
	}
}

type authedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *authedStream) Context() context.Context {
	return s.ctx
}

// authenticate resolves the caller and enforces RequireAuth and MethodScopes
func (config *InterceptorConfig) authenticate(ctx context.Context, method string) (context.Context, error) {
	adminID, scopes, err := config.extractAdmin(ctx)
	public := !config.RequireAuth || config.PublicMethods[method]

	if adminID == "" {
		if public {
			return ctx, nil
		}
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}

	if required := config.MethodScopes[method]; len(required) > 0 && !oa.ContainsAllScopes(scopes, required) {
		return nil, status.Errorf(codes.PermissionDenied, "insufficient scope: requires %v", required)
	}

	ctx = oa.SetAdminIDInContext(ctx, adminID)
	if scopes != nil {
		ctx = oa.SetScopesInContext(ctx, scopes)
	}
	return ctx, nil
}

// extractAdmin returns the caller's admin ID from a verified bearer token, or from
// gateway metadata when no verifier is configured.
func (config *InterceptorConfig) extractAdmin(ctx context.Context) (string, []string, error) {
	if config.VerifyToken == nil {
		return adminIDFromMetadata(ctx, config.Config), nil, nil
	}

	// Switch auth still applies on top of token verification in development setups
	if config.EnableSwitchAuth {
		if switched := metadataValue(ctx, config.MetadataKeySwitchAdmin); switched != "" {
			return switched, nil, nil
		}
	}

	token := bearerFromMetadata(ctx, config.MetadataKeyAuthorization)
	if token == "" {
		return "", nil, nil
	}
	adminID, scopes, err := config.VerifyToken(token)
	if err != nil {
		return "", nil, err
	}
	return adminID, scopes, nil
}

// TokenSource is the part of the dashboard client the client interceptors need.
// *client.Client satisfies it.
type TokenSource interface {
	AccessToken() string
	RefreshAccessToken(ctx context.Context) (string, bool)
	ExpireSession()
}

// UnaryClientInterceptor attaches the current access token to every call. When the
// server answers Unauthenticated or PermissionDenied it renews the token once
// through the shared refresh and retries the call once; if renewal fails the
// session is expired and the original error returned.
func UnaryClientInterceptor(tokens TokenSource) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		sent := tokens.AccessToken()
		callCtx := ctx
		if sent != "" {
			callCtx = TokenToOutgoingContext(ctx, sent)
		}

		err := invoker(callCtx, method, req, reply, cc, opts...)
		if !isAuthFailure(err) {
			return err
		}

		next, ok := renewToken(ctx, tokens, sent)
		if !ok {
			tokens.ExpireSession()
			return err
		}
		return invoker(TokenToOutgoingContext(ctx, next), method, req, reply, cc, opts...)
	}
}

// StreamClientInterceptor attaches the current access token when a stream opens.
// Streams are not retried.
func StreamClientInterceptor(tokens TokenSource) grpc.StreamClientInterceptor {
	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		if token := tokens.AccessToken(); token != "" {
			ctx = TokenToOutgoingContext(ctx, token)
		}
		return streamer(ctx, desc, cc, method, opts...)
	}
}

// renewToken returns a token to retry with. A token that changed since the call
// was sent was already refreshed by someone else and is reused as is.
func renewToken(ctx context.Context, tokens TokenSource, sent string) (string, bool) {
	if current := tokens.AccessToken(); current != "" && current != sent {
		return current, true
	}
	return tokens.RefreshAccessToken(ctx)
}

func isAuthFailure(err error) bool {
	if err == nil {
		return false
	}
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return true
	}
	return false
}

// Package grpc carries admin authentication across gRPC calls: bearer access
// tokens in the "authorization" metadata, verified admin IDs in the context,
// and client-side renewal through the HTTP client's refresh flow.
package grpc

import (
	"context"

	"google.golang.org/grpc/metadata"

	oa "github.com/panyam/adminauth"
)

// Default metadata keys for authentication context.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyAdminID is set by a trusted gateway that already authenticated the admin
	DefaultMetadataKeyAdminID = "x-admin-id"

	// DefaultMetadataKeySwitchAdmin switches to a different admin (testing only)
	DefaultMetadataKeySwitchAdmin = "x-switch-admin"
)

// Config holds the metadata key configuration for auth context.
type Config struct {
	// Defaults to "authorization"
	MetadataKeyAuthorization string

	// Defaults to "x-admin-id"
	MetadataKeyAdminID string

	// Only used when switch auth is enabled. Defaults to "x-switch-admin".
	MetadataKeySwitchAdmin string

	// EnableSwitchAuth when true allows the switch header to override the admin ID.
	// Should only be enabled in development/testing environments.
	EnableSwitchAuth bool
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyAdminID:       DefaultMetadataKeyAdminID,
		MetadataKeySwitchAdmin:   DefaultMetadataKeySwitchAdmin,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyAdminID == "" {
		c.MetadataKeyAdminID = DefaultMetadataKeyAdminID
	}
	if c.MetadataKeySwitchAdmin == "" {
		c.MetadataKeySwitchAdmin = DefaultMetadataKeySwitchAdmin
	}
}

// AdminIDFromContext returns the admin the interceptor authenticated, falling back
// to the gateway metadata. Returns empty string if no admin is authenticated.
func AdminIDFromContext(ctx context.Context) string {
	return AdminIDFromContextWithConfig(ctx, nil)
}

// AdminIDFromContextWithConfig extracts the admin ID using the specified config.
func AdminIDFromContextWithConfig(ctx context.Context, config *Config) string {
	if adminID := oa.GetAdminIDFromContext(ctx); adminID != "" {
		return adminID
	}
	return adminIDFromMetadata(ctx, config)
}

func adminIDFromMetadata(ctx context.Context, config *Config) string {
	if config == nil {
		config = DefaultConfig()
	}
	config.EnsureDefaults()

	// Check for switch admin first (only if enabled)
	if config.EnableSwitchAuth {
		if switched := metadataValue(ctx, config.MetadataKeySwitchAdmin); switched != "" {
			return switched
		}
	}
	return metadataValue(ctx, config.MetadataKeyAdminID)
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

// bearerFromMetadata returns the bearer token in the incoming metadata, if any
func bearerFromMetadata(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	for _, v := range md.Get(key) {
		if len(v) > 7 && (v[:7] == "Bearer " || v[:7] == "bearer ") {
			return v[7:]
		}
	}
	return ""
}

// AdminIDToOutgoingContext adds the admin ID to outgoing gRPC context metadata.
func AdminIDToOutgoingContext(ctx context.Context, adminID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyAdminID, adminID)
}

// SwitchAdminToOutgoingContext adds a switch-admin header to outgoing metadata.
// This is only effective when EnableSwitchAuth is set on the server.
func SwitchAdminToOutgoingContext(ctx context.Context, adminID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeySwitchAdmin, adminID)
}

// TokenToOutgoingContext sets the bearer access token on outgoing metadata,
// replacing any token already there.
func TokenToOutgoingContext(ctx context.Context, accessToken string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(DefaultMetadataKeyAuthorization, "Bearer "+accessToken)
	return metadata.NewOutgoingContext(ctx, md)
}

// IsAuthenticated returns true if there is an authenticated admin in the context.
func IsAuthenticated(ctx context.Context) bool {
	return AdminIDFromContext(ctx) != ""
}

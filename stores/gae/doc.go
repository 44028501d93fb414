//go:build !wasm
// +build !wasm

// Package gae provides Google Cloud Datastore implementations of the adminauth
// store interfaces, with multi-tenancy through Datastore namespaces.
//
// # Datastore Kinds
//
//   - Admin: Admin accounts keyed by admin ID
//   - AdminEmail: Email reservations keyed by normalized email
//   - RefreshToken: Refresh tokens keyed by token hash
//
// # Usage
//
//	client, _ := datastore.NewClient(ctx, projectID)
//	adminStore := gae.NewAdminStore(client, "")  // default namespace
//	refreshTokenStore := gae.NewRefreshTokenStore(client, "")
package gae

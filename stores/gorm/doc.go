//go:build !wasm
// +build !wasm

// Package gorm provides GORM-based implementations of the adminauth store
// interfaces. It supports any database GORM supports (PostgreSQL, MySQL,
// SQLite, etc.).
//
// # Database Schema
//
// The package auto-migrates the following tables:
//   - admins: Admin accounts, unique by normalized email
//   - refresh_tokens: Hashed refresh tokens grouped into rotation families
//
// # Usage
//
//	db, _ := gorm.Open(postgres.Open(dsn), &gorm.Config{})
//	gormstore.AutoMigrate(db)
//	adminStore := gormstore.NewAdminStore(db)
//	refreshTokenStore := gormstore.NewRefreshTokenStore(db)
package gorm

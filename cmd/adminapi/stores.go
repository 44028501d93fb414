package main

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/datastore"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	oa "github.com/panyam/adminauth"
	"github.com/panyam/adminauth/stores/fs"
	"github.com/panyam/adminauth/stores/gae"
	gormstore "github.com/panyam/adminauth/stores/gorm"
	"github.com/panyam/adminauth/stores/memory"
)

type storeSet struct {
	admins oa.AdminStore
	tokens oa.RefreshTokenStore
	close  func()
}

func openStores(ctx context.Context, opts *options) (*storeSet, error) {
	switch opts.Store {
	case "memory":
		return &storeSet{admins: memory.NewAdminStore(), tokens: memory.NewRefreshTokenStore(), close: func() {}}, nil

	case "fs":
		if err := os.MkdirAll(opts.DataDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
		return &storeSet{
			admins: fs.NewAdminStore(opts.DataDir),
			tokens: fs.NewRefreshTokenStore(opts.DataDir),
			close:  func() {},
		}, nil

	case "gorm":
		db, err := gorm.Open(sqlite.Open(opts.DSN), &gorm.Config{})
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// SQLite allows one writer at a time
		sqlDB.SetMaxOpenConns(1)
		if err := gormstore.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return &storeSet{
			admins: gormstore.NewAdminStore(db),
			tokens: gormstore.NewRefreshTokenStore(db),
			close:  func() { sqlDB.Close() },
		}, nil

	case "datastore":
		if opts.GCPProject == "" {
			return nil, fmt.Errorf("--gcp-project is required for the datastore store")
		}
		client, err := datastore.NewClient(ctx, opts.GCPProject)
		if err != nil {
			return nil, fmt.Errorf("failed to create datastore client: %w", err)
		}
		return &storeSet{
			admins: gae.NewAdminStore(client, opts.GCPNamespace),
			tokens: gae.NewRefreshTokenStore(client, opts.GCPNamespace),
			close:  func() { client.Close() },
		}, nil
	}
	return nil, fmt.Errorf("unknown store %q", opts.Store)
}

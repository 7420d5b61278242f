package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goliatone/go-outreach/core"
	outreachmigrations "github.com/goliatone/go-outreach/migrations"
	sqlstore "github.com/goliatone/go-outreach/store/sql"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// openDatabase opens the configured database and returns the persistence
// client with the migration dialect that matches its driver.
func openDatabase(settings DatabaseSettings) (*persistence.Client, string, error) {
	dialect, err := outreachmigrations.DialectForDriver(settings.Driver)
	if err != nil {
		return nil, "", err
	}
	driver := "sqlite3"
	var bunDialect schema.Dialect = sqlitedialect.New()
	if dialect == outreachmigrations.DialectPostgres {
		driver = "postgres"
		bunDialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(driver, settings.DSN)
	if err != nil {
		return nil, "", fmt.Errorf("open %s database: %w", driver, err)
	}
	if dialect == outreachmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	settings.Driver = driver
	client, err := persistence.New(settings, sqlDB, bunDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, "", fmt.Errorf("persistence client: %w", err)
	}
	return client, dialect, nil
}

// factoryOptions turns [database] settings into repository factory options.
func factoryOptions(settings DatabaseSettings) ([]sqlstore.FactoryOption, error) {
	if !settings.ThreadCache {
		return nil, nil
	}
	cfg := repositorycache.DefaultConfig()
	if settings.ThreadCacheTTL > 0 {
		cfg.TTL = settings.ThreadCacheTTL
	}
	cacheService, err := repositorycache.NewCacheService(cfg)
	if err != nil {
		return nil, fmt.Errorf("thread cache: %w", err)
	}
	return []sqlstore.FactoryOption{sqlstore.WithThreadCache(cacheService)}, nil
}

func migrate(ctx context.Context, client *persistence.Client, dialect string) (outreachmigrations.Registration, error) {
	return outreachmigrations.ApplyToClient(ctx, client, dialect)
}

// loadCoreConfig builds core.Config from the [outreach] table.
func loadCoreConfig(ctx context.Context, settings Settings) (core.Config, error) {
	return core.NewCfgxConfigProvider(core.StaticRawConfigLoader{Values: settings.Outreach}).
		Load(ctx, core.DefaultConfig())
}

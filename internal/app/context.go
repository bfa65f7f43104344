package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"docket/internal/config"
	"docket/internal/db"
	"docket/internal/migrate"
	"docket/internal/repo"
)

// ResolveConfig returns the stored configuration, seeding it when the
// database has none: from the workspace docket.yml if present, otherwise
// from the built-in defaults.
func ResolveConfig(ctx context.Context, workspace string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	seed, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", config.Path(workspace), err)
	}
	if seed == nil {
		seed = config.Default()
	}
	if err := r.UpsertConfig(ctx, nil, seed); err != nil {
		return nil, fmt.Errorf("seed config: %w", err)
	}
	return seed, nil
}

// ImportConfig validates cfg and replaces the stored configuration.
func ImportConfig(ctx context.Context, r repo.Repo, path string) (*config.Config, error) {
	cfg, err := config.FromFile(path)
	if err != nil {
		return nil, err
	}
	if err := r.UpsertConfig(ctx, nil, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Open opens and migrates the workspace database and resolves its config.
func Open(ctx context.Context, workspace string) (*sql.DB, *config.Config, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, nil, err
	}
	if _, err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := ResolveConfig(ctx, workspace, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return conn, cfg, nil
}

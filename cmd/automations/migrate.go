package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cgradwohl/backend-services-2-sub001/internal/logging"
	"github.com/cgradwohl/backend-services-2-sub001/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Long:  "Apply pending migrations to the primary database and, when configured, the legacy database.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))

			for _, path := range []string{cfg.DBPath, cfg.LegacyDBPath} {
				if path == "" {
					continue
				}
				s, err := openStore(cmd.Context(), path)
				if err != nil {
					return err
				}
				_ = s.Close()
				logger.Info("database migrated", slog.String("path", path))
			}
			return nil
		},
	}
}

// openStore opens and migrates the libSQL database at path.
func openStore(ctx context.Context, path string) (*store.LibSQLStore, error) {
	uri, err := dsn(path)
	if err != nil {
		return nil, err
	}
	s, err := store.NewLibSQLStore(uri)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	return s, nil
}

package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/leadpipe/leadpipe/internal/common"
	"github.com/leadpipe/leadpipe/internal/storage"
)

// initStorage opens the configured database and brings its schema current.
func initStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/leadpipe/leadpipe.db"
	}
	dbPath = expandPath(dbPath)

	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, common.NewUserError("could not open database at "+dbPath, err)
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, common.NewUserError("could not migrate database at "+dbPath, err)
	}

	return store, nil
}

// expandPath resolves a leading ~ to the user's home directory and expands
// $VAR references, so config values like "~/.local/share/leadpipe" work as
// written.
func expandPath(path string) string {
	switch {
	case path == "~":
		if home, err := os.UserHomeDir(); err == nil {
			path = home
		}
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return os.ExpandEnv(path)
}

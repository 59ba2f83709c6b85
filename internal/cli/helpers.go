package cli

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/runnerr0/tabtime/internal/config"
	"github.com/runnerr0/tabtime/internal/history"
	"github.com/runnerr0/tabtime/internal/storage"
)

// loadConfig reads the config named by --config, or the default one,
// writing defaults on first use.
func loadConfig(globals *GlobalFlags) (*config.Config, error) {
	if globals != nil && globals.Config != "" {
		path, err := config.ExpandPath(globals.Config)
		if err != nil {
			return nil, err
		}
		return config.LoadOrCreateAt(path)
	}
	return config.LoadOrCreate()
}

// openStore opens the configured database, runs migrations, and returns a
// ready-to-use store along with the underlying *sql.DB and its path.
func openStore(cfg *config.Config) (*storage.SQLiteStore, *sql.DB, string, error) {
	dbPath, err := cfg.DBPath()
	if err != nil {
		return nil, nil, "", fmt.Errorf("resolve db path: %w", err)
	}

	db, err := storage.Open(dbPath, cfg.Storage.SQLiteJournalMode)
	if err != nil {
		return nil, nil, "", err
	}

	store, err := storage.NewSQLiteStore(db, cfg.Storage.HistoryKey)
	if err != nil {
		db.Close()
		return nil, nil, "", fmt.Errorf("init store: %w", err)
	}

	return store, db, dbPath, nil
}

// newAdapter builds the history adapter from config.
func newAdapter(store storage.Store, cfg *config.Config, logger *slog.Logger) *history.Adapter {
	return history.NewAdapter(store, history.Options{
		Limit:      cfg.Tracker.HistoryLimit,
		TimeLayout: cfg.Display.TimeLayout,
		Serialize:  cfg.Tracker.SerializeWrites,
		Logger:     logger,
	})
}

// newLogger builds a text logger at level, writing to file when set and to
// stderr otherwise. The returned closer releases the file.
func newLogger(level, file string) (*slog.Logger, io.Closer, error) {
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)

	if file != "" {
		path, err := config.ExpandPath(file)
		if err != nil {
			return nil, nil, err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w, closer = f, f
	}

	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLevel(level)})
	return slog.New(handler), closer, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

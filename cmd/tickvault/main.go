// tickvault fetches market bars from an upstream chart API and stores
// them as partitioned, crash-safe Parquet files.
package main

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"github.com/tickvault/tickvault/config"
	"github.com/tickvault/tickvault/internal/errors"
	"github.com/tickvault/tickvault/internal/logging"
	"github.com/tickvault/tickvault/internal/storage"
	"github.com/tickvault/tickvault/internal/storage/parquet"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	app := &cli.App{
		Name:    "tickvault",
		Usage:   "crash-safe partitioned market-data bar store",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				EnvVars: []string{"TICKVAULT_CONFIG"},
				Value:   "config.yaml",
				Usage:   "config file path",
			},
			&cli.StringFlag{
				Name:    "root",
				EnvVars: []string{"TICKVAULT_ROOT"},
				Usage:   "store root directory (overrides config)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				EnvVars: []string{"TICKVAULT_LOG_LEVEL"},
				Usage:   "debug|info|warn|error (overrides config)",
			},
			&cli.BoolFlag{
				Name:    "log-json",
				EnvVars: []string{"TICKVAULT_LOG_JSON"},
				Usage:   "force JSON logs (default: JSON when stderr is not a terminal)",
			},
		},
		Commands: []*cli.Command{
			fetchCmd,
			exportCmd,
			cleanupCmd,
			lockCmd,
			migrateCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "tickvault: %v\n", err)
		os.Exit(errors.ExitCode(err))
	}
}

// loadConfig loads the configuration, applies CLI overrides, and
// initializes logging. A missing config file falls back to defaults so
// --root alone is enough to point at a store.
func loadConfig(cctx *cli.Context) (*config.Config, error) {
	path := cctx.String("config")

	cfg, err := config.Load(path)
	usedDefaults := false
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = config.DefaultConfig()
		usedDefaults = true
	}

	if root := cctx.String("root"); root != "" {
		cfg.Root = root
	}
	if lvl := cctx.String("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if cctx.Bool("log-json") {
		cfg.Log.Format = "json"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	initLogging(cfg)
	if usedDefaults {
		logging.Warn("no config file found, using defaults", "path", path)
	}
	return cfg, nil
}

func initLogging(cfg *config.Config) {
	level := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	var jsonFormat bool
	switch cfg.Log.Format {
	case "json":
		jsonFormat = true
	case "text":
		jsonFormat = false
	default:
		jsonFormat = !term.IsTerminal(int(os.Stderr.Fd()))
	}

	logging.Init(level, jsonFormat)
}

// storageOptions maps config strings onto backend options.
func storageOptions(cfg *config.Config) storage.Options {
	opts := storage.DefaultOptions()
	opts.Durability = storage.ParseDurability(cfg.Storage.Durability)
	opts.Parquet.Compression = parquet.ParseCompressionType(cfg.Storage.Compression)
	if cfg.Storage.CompressionLevel > 0 {
		opts.Parquet.CompressionLevel = cfg.Storage.CompressionLevel
	}
	if cfg.Storage.ReadConcurrency > 0 {
		opts.ReadConcurrency = cfg.Storage.ReadConcurrency
	}
	return opts
}

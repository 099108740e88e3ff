package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harrison/conductor/internal/config"
	"github.com/harrison/conductor/internal/eventbus"
	"github.com/harrison/conductor/internal/logger"
	"github.com/harrison/conductor/internal/store"
)

// cfgFile is populated by the --config persistent flag.
var cfgFile string

// app bundles the dependencies every subcommand needs: the loaded
// configuration, the Store, the EventBus over the Store's own connection
// pool, and a logger fanned out to the console and the configured log
// directory.
type app struct {
	cfg   *config.Config
	store *store.Store
	bus   *eventbus.Bus
	log   logger.Logger
}

func (a *app) Close() error {
	if a.store != nil {
		return a.store.Close()
	}
	return nil
}

// openApp loads configuration (flags > env > file > defaults) and opens
// the Store and EventBus every store-backed command needs.
func openApp(cmd *cobra.Command) (*app, error) {
	v, err := config.New(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	s, err := store.Open(cfg.Database.Path, store.Config{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		PoolWaitTimeout: cfg.Database.PoolWaitTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	consoleLog := logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)
	var log logger.Logger = consoleLog
	if fileLog, err := logger.NewFileLogger(cfg.LogDir, cfg.LogLevel); err == nil {
		log = logger.NewMultiLogger(consoleLog, fileLog)
	} else {
		consoleLog.Warn("file logging disabled: %v", err)
	}

	bus := eventbus.New(s.DB(), log)

	return &app{cfg: cfg, store: s, bus: bus, log: log}, nil
}

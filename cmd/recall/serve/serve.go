// Package servecmder provides the serve command for running the recall API server.
package servecmder

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/papercomputeco/recall/api"
	"github.com/papercomputeco/recall/pkg/config"
	"github.com/papercomputeco/recall/pkg/dotdir"
	"github.com/papercomputeco/recall/pkg/inference"
	"github.com/papercomputeco/recall/pkg/inference/ollama"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/memory"
	"github.com/papercomputeco/recall/pkg/model"
	"github.com/papercomputeco/recall/pkg/persist"
	"github.com/papercomputeco/recall/pkg/storage"
	"github.com/papercomputeco/recall/pkg/storage/inmemory"
	"github.com/papercomputeco/recall/pkg/storage/postgres"
	"github.com/papercomputeco/recall/pkg/storage/sqlite"
)

const maintenanceInterval = time.Hour

type ServeCommander struct {
	listen        string
	storageDriver string
	sqlitePath    string
	postgresDSN   string
	target        string
	modelID       string
	debug         bool
	configDir     string
	logger        *zap.Logger
}

const serveLongDesc string = `Run the recall API server.

Serves conversations, memory facts, and model lifecycle control over HTTP.
Configuration comes from config.toml in the .recall/ directory, RECALL_*
environment variables, and flags (flags win).

Examples:
  recall serve
  recall serve --listen :9000 --storage-driver memory`

const serveShortDesc string = "Run the recall API server"

var serveFlags = config.FlagSet{
	config.FlagListen: {
		Name: "listen", Shorthand: "l",
		ViperKey:    "api.listen",
		Description: "Address for the API server to listen on",
	},
	config.FlagStorageDriver: {
		Name:        "storage-driver",
		ViperKey:    "storage.driver",
		Description: "Storage backend (sqlite, postgres, memory)",
	},
	config.FlagSQLite: {
		Name: "sqlite", Shorthand: "s",
		ViperKey:    "storage.sqlite_path",
		Description: "Path to SQLite database (default: .recall/recall.db)",
	},
	config.FlagPostgres: {
		Name:        "postgres",
		ViperKey:    "storage.postgres_dsn",
		Description: "Postgres connection string",
	},
	config.FlagTarget: {
		Name: "target", Shorthand: "t",
		ViperKey:    "inference.target",
		Description: "Inference provider URL",
	},
	config.FlagModel: {
		Name: "model", Shorthand: "m",
		ViperKey:    "model.default",
		Description: "Model to load on startup",
	},
}

var serveFlagKeys = []string{
	config.FlagListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagTarget,
	config.FlagModel,
}

func NewServeCmd() *cobra.Command {
	cmder := &ServeCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %v", err)
			}
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")

			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return err
			}
			config.BindRegisteredFlags(v, cmd, serveFlags, serveFlagKeys)

			return cmder.run(v)
		},
	}

	config.AddStringFlag(cmd, serveFlags, config.FlagListen, &cmder.listen)
	config.AddStringFlag(cmd, serveFlags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, serveFlags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, serveFlags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringFlag(cmd, serveFlags, config.FlagTarget, &cmder.target)
	config.AddStringFlag(cmd, serveFlags, config.FlagModel, &cmder.modelID)

	return cmd
}

func (c *ServeCommander) run(v *viper.Viper) error {
	c.logger = logger.NewLogger(c.debug)
	defer c.logger.Sync()

	// Create shared store
	store, err := c.createStore(v)
	if err != nil {
		return err
	}
	defer store.Close()

	provider := c.createProvider(v)

	saver := persist.NewSaver(store, c.logger)

	memConfig := memory.DefaultConfig()
	memConfig.PruneThreshold = v.GetInt("memory.prune_threshold")
	memConfig.HardCap = v.GetInt("memory.hard_cap")
	memEngine := memory.NewEngine(store, provider, c.logger, memConfig)

	modelEngine := model.NewEngine(provider, c.logger)
	defer modelEngine.Close()

	apiConfig := api.Config{
		ListenAddr:    v.GetString("api.listen"),
		ContextWindow: v.GetInt("memory.context_window"),
	}
	apiServer := api.NewServer(apiConfig, saver, memEngine, modelEngine, c.logger)

	// Reload notifications only: running engines keep their wiring, a
	// restart picks up structural changes like the storage driver.
	v.OnConfigChange(func(e fsnotify.Event) {
		c.logger.Info("config file changed, restart to apply",
			zap.String("file", e.Name),
		)
	})
	v.WatchConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ddm := dotdir.NewManager()
	if modelID := startupModelID(v, ddm, c.configDir); modelID != "" {
		go func() {
			if err := modelEngine.Load(ctx, modelID); err != nil {
				c.logger.Warn("startup model load failed",
					zap.String("model_id", modelID),
					zap.Error(err),
				)
				return
			}
			c.saveSession(ddm, modelID)
		}()
	}

	if v.GetBool("memory.enabled") {
		go c.runMaintenance(ctx, memEngine)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := apiServer.Run(); err != nil {
			errChan <- fmt.Errorf("API server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		c.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		return apiServer.Shutdown()
	}
}

// startupModelID picks the model to load at startup. An explicitly
// configured default wins; otherwise the last session's model is resumed.
func startupModelID(v *viper.Viper, ddm *dotdir.Manager, configDir string) string {
	if modelID := v.GetString("model.default"); modelID != "" {
		return modelID
	}

	session, err := ddm.LoadSessionState(configDir)
	if err != nil || session == nil {
		return ""
	}
	return session.ModelID
}

// saveSession records the loaded model so the next process resumes it.
func (c *ServeCommander) saveSession(ddm *dotdir.Manager, modelID string) {
	session, err := ddm.LoadSessionState(c.configDir)
	if err != nil || session == nil {
		session = &dotdir.SessionState{}
	}
	session.ModelID = modelID

	if err := ddm.SaveSession(session, c.configDir); err != nil {
		c.logger.Warn("failed to persist session state", zap.Error(err))
	}
}

// runMaintenance sweeps expired and excess facts on a fixed interval.
func (c *ServeCommander) runMaintenance(ctx context.Context, engine *memory.Engine) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := engine.Maintain(ctx)
			if err != nil {
				c.logger.Warn("memory maintenance failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				c.logger.Info("memory maintenance complete", zap.Int("removed", removed))
			}
		}
	}
}

func (c *ServeCommander) createStore(v *viper.Viper) (storage.Driver, error) {
	switch driver := v.GetString("storage.driver"); driver {
	case "postgres":
		store, err := postgres.NewDriver(context.Background(), v.GetString("storage.postgres_dsn"))
		if err != nil {
			return nil, fmt.Errorf("failed to create Postgres store: %w", err)
		}
		c.logger.Info("using Postgres storage")
		return store, nil

	case "memory":
		c.logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	case "sqlite":
		path := v.GetString("storage.sqlite_path")
		if path == "" {
			var err error
			path, err = dotdir.NewManager().DatabasePath(c.configDir)
			if err != nil {
				return nil, err
			}
		}
		store, err := sqlite.NewDriver(path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite store: %w", err)
		}
		c.logger.Info("using SQLite storage", zap.String("path", path))
		return store, nil

	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

func (c *ServeCommander) createProvider(v *viper.Viper) inference.Provider {
	switch provider := v.GetString("inference.provider"); provider {
	case "mock":
		c.logger.Warn("using mock inference provider")
		return &inference.Mock{}

	default:
		if provider != "ollama" {
			c.logger.Warn("unknown inference provider, falling back to ollama",
				zap.String("provider", provider),
			)
		}
		return ollama.New(ollama.Config{
			BaseURL:      v.GetString("inference.target"),
			Model:        v.GetString("inference.model"),
			ExtractModel: v.GetString("inference.extract_model"),
		})
	}
}

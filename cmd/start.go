package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"world-sync/core/database"
	"world-sync/core/loader"
	"world-sync/core/logger"
	"world-sync/core/middleware/auth"
	"world-sync/core/middleware/rayid"
	"world-sync/core/storage"
	"world-sync/core/transport"
	"world-sync/feature/snapshot"
	"world-sync/feature/world"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	_ "world-sync/docs/swagger"
)

// @title World Sync API
// @version 1.0
// @description HTTP fallback for shared world sessions.
// @host localhost:8080
// @BasePath /

var cacheTTL time.Duration

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the world server",
	Long: `Starts the HTTP fallback server, follows every session of the store and,
when a database is configured, records their changes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logg, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := transport.Open(ctx, cfg.Transport, "server-"+uuid.NewString(), logg)
		if err != nil {
			return err
		}
		defer store.Close()
		logg.Info("Connected to store", zap.String("driver", cfg.Transport.Driver))

		// Database (optional)
		var repo *database.Repository
		if cfg.Server.Record {
			if db, err := database.Connect(cfg.Database); err != nil {
				logg.Warn("Optional database connection failed, recording disabled", zap.Error(err))
			} else if err := database.Migrate(db); err != nil {
				logg.Warn("Database migration failed, recording disabled", zap.Error(err))
			} else if err := database.VerifySchema(db); err != nil {
				logg.Warn("Database schema check failed, recording disabled", zap.Error(err))
			} else {
				repo = database.NewRepository(db)
				logg.Info("Connected to database")
			}
		}

		// Storage (optional)
		var client storage.Client
		if c, err := storage.NewClient(cfg.Storage); err != nil {
			logg.Warn("Storage client unavailable, snapshots disabled", zap.Error(err))
		} else if err := storage.EnsureBucket(ctx, c, cfg.Storage.Bucket, cfg.Storage.Region); err != nil {
			logg.Warn("Snapshot bucket unavailable, snapshots disabled", zap.Error(err))
		} else {
			client = c
		}

		app := fiber.New(fiber.Config{
			DisableStartupMessage: true,
		})

		// RayID first so that every log line of a request carries it.
		app.Use(rayid.New())
		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})
		app.Get("/health", func(c *fiber.Ctx) error {
			return c.JSON(fiber.Map{"status": "ok"})
		})
		app.Get("/swagger/*", swagger.HandlerDefault)
		app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey, Skip: []string{"/health"}}))

		worldFeature := world.NewFeature(store.Sessions, store.Watcher, repo, logg, cacheTTL)

		mgr := loader.NewManager(logg)
		mgr.Register(worldFeature)
		snapshotFeature := snapshot.NewFeature(client, cfg.Storage.Bucket, store.Sessions, logg)
		snapshotFeature.Service().SetRetention(cfg.Storage.Retain)
		mgr.Register(snapshotFeature)
		if err := mgr.LoadAll(app); err != nil {
			return err
		}

		go func() {
			if err := worldFeature.Run(ctx); err != nil {
				logg.Error("Session follower stopped", zap.Error(err))
			}
		}()

		go func() {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(cfg.Server.Address()); err != nil {
				logg.Error("Server failed", zap.Error(err))
				stop()
			}
		}()

		<-ctx.Done()
		logg.Info("Shutting down server...")
		return app.ShutdownWithTimeout(10 * time.Second)
	},
}

func init() {
	startCmd.Flags().DurationVar(&cacheTTL, "cache-ttl", 2*time.Second, "How long session reads are reused")
	RootCmd.AddCommand(startCmd)
}

package cmd

import (
	"context"
	"fmt"

	"world-sync/core/config"
	"world-sync/core/storage"
	"world-sync/core/transport"
	"world-sync/feature/snapshot"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// snapshotCmd represents the snapshot command
var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Archive and restore sessions",
}

// snapshotExportCmd represents the snapshot export command
var snapshotExportCmd = &cobra.Command{
	Use:   "export <session>",
	Short: "Store the current state of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(cmd.Context(), func(svc *snapshot.Service, logg *zap.Logger) error {
			object, err := svc.Export(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(object)
			return nil
		})
	},
}

// snapshotImportCmd represents the snapshot import command
var snapshotImportCmd = &cobra.Command{
	Use:   "import <session> [object]",
	Short: "Reset a session to a snapshot (the latest by default)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		object := ""
		if len(args) == 2 {
			object = args[1]
		}
		return withSnapshots(cmd.Context(), func(svc *snapshot.Service, logg *zap.Logger) error {
			restored, flat, err := svc.Import(cmd.Context(), args[0], object)
			if err != nil {
				return err
			}
			fmt.Printf("Restored %s (%d keys)\n", restored, len(flat))
			return nil
		})
	},
}

var pruneKeep int

// snapshotPruneCmd represents the snapshot prune command
var snapshotPruneCmd = &cobra.Command{
	Use:   "prune <session>",
	Short: "Delete all but the newest snapshots of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSnapshots(cmd.Context(), func(svc *snapshot.Service, logg *zap.Logger) error {
			removed, err := svc.Prune(cmd.Context(), args[0], pruneKeep)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d snapshot(s)\n", removed)
			return nil
		})
	},
}

func withSnapshots(ctx context.Context, fn func(*snapshot.Service, *zap.Logger) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, logg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logg.Sync()

	svc, closeFn, err := newSnapshotService(ctx, cfg, logg)
	if err != nil {
		return err
	}
	defer closeFn()

	return fn(svc, logg)
}

func newSnapshotService(ctx context.Context, cfg *config.Config, logg *zap.Logger) (*snapshot.Service, func(), error) {
	client, err := storage.NewClient(cfg.Storage)
	if err != nil {
		return nil, nil, err
	}
	if err := storage.EnsureBucket(ctx, client, cfg.Storage.Bucket, cfg.Storage.Region); err != nil {
		return nil, nil, err
	}

	store, err := transport.Open(ctx, cfg.Transport, "snapshot-"+uuid.NewString(), logg)
	if err != nil {
		return nil, nil, err
	}

	svc := snapshot.NewService(client, cfg.Storage.Bucket, store.Sessions, logg)
	svc.SetRetention(cfg.Storage.Retain)
	return svc, func() { _ = store.Close() }, nil
}

func init() {
	snapshotCmd.AddCommand(snapshotExportCmd)
	snapshotCmd.AddCommand(snapshotImportCmd)
	snapshotPruneCmd.Flags().IntVar(&pruneKeep, "keep", 20, "Number of snapshots to keep")
	snapshotCmd.AddCommand(snapshotPruneCmd)
	RootCmd.AddCommand(snapshotCmd)
}

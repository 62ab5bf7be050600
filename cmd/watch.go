package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"world-sync/core/logger"
	worldsession "world-sync/core/session"
	"world-sync/core/transport"
	"world-sync/core/world"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	watchSession     string
	watchParticipant string
	watchSeed        int
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Join a session and log every piece event",
	Long: `Joins a session as a headless participant and logs every piece that is
added, changed or deleted. With --seed, adds that many pieces after joining.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logg, err := bootstrap()
		if err != nil {
			return err
		}
		defer logg.Sync()

		name := watchSession
		if name == "" {
			name = cfg.Transport.Session
		}
		participant := watchParticipant
		if participant == "" {
			participant = "watch-" + uuid.NewString()
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		store, err := transport.Open(ctx, cfg.Transport, participant, logg)
		if err != nil {
			return err
		}
		defer store.Close()

		tr := store.Sessions.Open(name)
		defer tr.Close()

		l := logger.WithSession(logg, name, participant)
		s := worldsession.New(tr, l)
		follow(s.World(), l)

		go func() { _ = s.Run(ctx) }()
		if err := s.Start(ctx); err != nil {
			return fmt.Errorf("failed to join session %s: %w", name, err)
		}
		defer s.Close()

		if watchSeed > 0 {
			err := s.Do(ctx, func(w *world.Synchronizer, _ *world.Batcher) error {
				for i := 0; i < watchSeed; i++ {
					if _, err := w.AddPiece(ctx, map[string]any{"owner": participant, "n": i}); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to seed pieces: %w", err)
			}
		}

		<-ctx.Done()
		return nil
	},
}

// follow logs the lifecycle of every piece of w.
func follow(w *world.Synchronizer, l *zap.Logger) {
	w.OnNewPiece(func(id world.PieceID, record map[string]any) {
		l.Info("Piece added", zap.Int("piece", int(id)), zap.Any("record", record))
		w.OnPieceChange(id, func(record map[string]any) {
			if record == nil {
				l.Info("Piece deleted", zap.Int("piece", int(id)))
				return
			}
			l.Info("Piece changed", zap.Int("piece", int(id)), zap.Any("record", record))
		})
	})
}

func init() {
	watchCmd.Flags().StringVar(&watchSession, "session", "", "Session to join (defaults to TRANSPORT_SESSION)")
	watchCmd.Flags().StringVar(&watchParticipant, "participant", "", "Participant name (random by default)")
	watchCmd.Flags().IntVar(&watchSeed, "seed", 0, "Number of pieces to add after joining")
	RootCmd.AddCommand(watchCmd)
}

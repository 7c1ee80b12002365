package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/0xlemi/polytune/internal/server"
	"github.com/0xlemi/polytune/internal/tuner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream tuner snapshots over a websocket",
	Long: `Capture from the microphone and stream every display snapshot as JSON over
a websocket at /ws. Clients can send select, mode, reference, tolerance and
snapshot commands on the same connection.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "127.0.0.1:8088", "listen address")
	flagKeys["addr"] = "server.addr"
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp("stderr")
	if err != nil {
		return err
	}
	defer a.close()
	a.fitCatalog()

	cfg := a.cfg
	capturer, err := audio.NewPortAudioCapturer(cfg.Audio.FrameSize, cfg.Audio.SampleRate, cfg.Audio.Channels)
	if err != nil {
		return err
	}
	capturer.SetAmplification(float32(cfg.Audio.Amplification))

	engine, err := a.newEngine(nil)
	if err != nil {
		return err
	}
	srv := server.New(cfg.Server.Addr, engine, a.logger.Named("server"))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx)
	})
	g.Go(func() error {
		err := tuner.Run(ctx, capturer, engine, cfg.Audio.PollInterval, srv.Publish, a.logger.Named("capture"))
		if err == nil && ctx.Err() == nil {
			// the source ended on its own; take the server down with it
			return context.Canceled
		}
		return err
	})

	a.logger.Info("serving tuner", zap.String("addr", cfg.Server.Addr))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

package cli

import (
	"fmt"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/0xlemi/polytune/internal/tuner"
	"github.com/0xlemi/polytune/internal/ui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tuneListen bool

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Run the terminal tuner",
	Long: `Run the interactive tuner in the terminal.

Keys:
  space        toggle the microphone
  1-9          play or stop the reference tone of a string
  left/right   change instrument
  up/down      change tuning
  m            switch between poly and chromatic mode
  r            switch the reference between 440 and 432 Hz
  s            mute or unmute the reference tone
  q            quit`,
	Args: cobra.NoArgs,
	RunE: runTune,
}

func init() {
	tuneCmd.Flags().BoolVar(&tuneListen, "listen", false, "start with the microphone on")
	rootCmd.AddCommand(tuneCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	a, err := newApp("polytune.log")
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

	player := audio.NewTonePlayer(cfg.Audio.SampleRate, cfg.Tone.Volume)
	engine, err := a.newEngine(player)
	if err != nil {
		return err
	}

	var p *tea.Program
	listener := tuner.NewListener(capturer, engine, cfg.Audio.PollInterval, func(d tuner.Display) {
		p.Send(ui.DisplayMsg(d))
	}, a.logger.Named("capture"))

	p = tea.NewProgram(ui.NewModel(engine, listener, player), tea.WithAltScreen())
	if tuneListen {
		listener.Start()
	}

	a.logger.Info("tuner started",
		zap.String("instrument", cfg.Instrument),
		zap.String("tuning", cfg.Tuning),
		zap.Float64("reference_hz", cfg.ReferenceHz),
	)

	_, runErr := p.Run()

	if err := listener.Stop(); err != nil {
		a.logger.Warn("stop capture", zap.Error(err))
	}
	engine.StopReference()

	if runErr != nil {
		return fmt.Errorf("run display: %w", runErr)
	}
	return nil
}

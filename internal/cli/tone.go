package cli

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/0xlemi/polytune/internal/tuning"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	toneDuration time.Duration
	toneOut      string
)

var toneCmd = &cobra.Command{
	Use:   "tone INSTRUMENT TUNING STRING",
	Short: "Play the reference tone of a string",
	Long: `Play the reference tone of one string, numbered from 1, until interrupted
or for --duration. With --out the tone is written to a 16-bit WAV file
instead of being played.`,
	Example: `  polytune tone guitar standard 6
  polytune tone bass dropD 1 --reference-hz 432 --out d1.wav`,
	Args: cobra.ExactArgs(3),
	RunE: runTone,
}

func init() {
	toneCmd.Flags().DurationVarP(&toneDuration, "duration", "d", 0, "stop after this long (default until interrupted, 2s with --out)")
	toneCmd.Flags().StringVarP(&toneOut, "out", "o", "", "write the tone to a WAV file")
	rootCmd.AddCommand(toneCmd)
}

func runTone(cmd *cobra.Command, args []string) error {
	index, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("string number %q: %w", args[2], err)
	}

	// The positional instrument and tuning take over the configured selection
	viper.Set("instrument", args[0])
	viper.Set("tuning", args[1])

	a, err := newApp("stderr")
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg
	player := audio.NewTonePlayer(cfg.Audio.SampleRate, cfg.Tone.Volume)
	preset, err := a.catalog.Lookup(cfg.Instrument, cfg.Tuning)
	if err != nil {
		return err
	}
	if index < 1 || index > len(preset.Strings) {
		return fmt.Errorf("string %d: %s %s has %d strings", index, tuning.DisplayName(preset.Instrument), preset.Name, len(preset.Strings))
	}
	note := preset.Strings[index-1]
	hz := note.Frequency(cfg.ReferenceHz)

	if toneOut != "" {
		d := toneDuration
		if d <= 0 {
			d = 2 * time.Second
		}
		if err := audio.WriteWAV(toneOut, player.Render(hz, d), cfg.Audio.SampleRate); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s: %s at %.2f Hz for %s\n", toneOut, note, hz, d)
		return nil
	}

	a.fitFrameSize(preset.Lowest(cfg.ReferenceHz))
	engine, err := a.newEngine(player)
	if err != nil {
		return err
	}
	if _, err := engine.PlayReference(index - 1); err != nil {
		return err
	}
	defer engine.StopReference()

	fmt.Fprintf(cmd.OutOrStdout(), "playing %s at %.2f Hz, ctrl-c to stop\n", note, hz)
	a.logger.Debug("tone playing", zap.Stringer("note", note), zap.Float64("hz", hz))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if toneDuration > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(toneDuration):
		}
		return nil
	}
	<-ctx.Done()
	return nil
}

// Package cli implements the polytune command line.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/0xlemi/polytune/internal/config"
	"github.com/0xlemi/polytune/internal/logger"
	"github.com/0xlemi/polytune/internal/pitch"
	"github.com/0xlemi/polytune/internal/tuner"
	"github.com/0xlemi/polytune/internal/tuning"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "polytune",
	Short: "Polyphonic and chromatic instrument tuner",
	Long: `Polytune listens to the microphone and tells you whether each string of
your instrument is flat, in tune or sharp. It can also play reference tones
for every string and analyze recordings offline.

Audio never leaves the machine: frames are analyzed as they are captured and
then discarded.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, viper.GetViper())
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "",
		"config file (default is $HOME/.config/polytune/polytune.yaml)")
	flags.String("instrument", "guitar", "instrument (guitar, bass, ukulele, banjo, mandolin)")
	flags.String("tuning", tuning.StandardTuning, "tuning name for the instrument")
	flags.Float64("reference-hz", 440, "A4 reference pitch (440 or 432)")
	flags.String("mode", string(tuning.ModePoly), "tuning mode (poly, chromatic)")
	flags.Float64("cents-tolerance", tuning.DefaultTolerance, "in-tune window in cents")
	flags.String("tunings-file", "", "YAML file with extra tuning presets")
	flags.Int("frame-size", 2048, "samples per analysis frame (power of two >= 256)")
	flags.Int("sample-rate", 44100, "capture sample rate in Hz")
	flags.String("method", string(pitch.MethodFFT), "autocorrelation method (fft, direct)")
	flags.Int("smoothing", 1, "median window over consecutive estimates (1 disables)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-file", "", "log file (default stderr, polytune.log for the terminal display)")
}

// flagKeys maps persistent flags onto their configuration keys
var flagKeys = map[string]string{
	"instrument":      "instrument",
	"tuning":          "tuning",
	"reference-hz":    "reference_hz",
	"mode":            "mode",
	"cents-tolerance": "cents_tolerance",
	"tunings-file":    "tunings_file",
	"frame-size":      "audio.frame_size",
	"sample-rate":     "audio.sample_rate",
	"method":          "detector.method",
	"smoothing":       "smoothing.window",
	"log-level":       "log.level",
	"log-file":        "log.file",
}

// initConfig reads in config file and ENV variables if set
func initConfig() {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "polytune"))
		}
		viper.AddConfigPath("./configs")
		viper.SetConfigName("polytune")
		viper.SetConfigType("yaml")
	}

	config.BindEnv(viper.GetViper())
	config.SetDefaults(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || configFile != "" {
			fmt.Fprintf(os.Stderr, "error reading config: %v\n", err)
			os.Exit(1)
		}
	}
}

// bindFlags binds each flag that was set on the command line to its configuration key
func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	var lastErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		key, ok := flagKeys[f.Name]
		if !ok {
			key = strings.ReplaceAll(f.Name, "-", "_")
		}
		if f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				lastErr = err
			}
		}
	})
	return lastErr
}

// app bundles what every command builds from configuration
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	catalog  *tuning.Catalog
	detector *pitch.AutocorrDetector
}

// newApp loads configuration and builds the logger, catalog and detector.
// fallbackLog is used when no log file is configured.
func newApp(fallbackLog string) (*app, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	lc := cfg.LoggerConfig()
	if lc.File == "" {
		lc.File = fallbackLog
	}
	log, err := logger.New(lc)
	if err != nil {
		return nil, err
	}

	catalog, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	detector, err := pitch.NewAutocorrDetector(cfg.PitchConfig())
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: log, catalog: catalog, detector: detector}, nil
}

// newEngine builds the tuner engine with an optional tone sink.
func (a *app) newEngine(tone tuner.ToneSink) (*tuner.Engine, error) {
	return tuner.New(a.catalog, a.detector, tone, a.cfg.EngineConfig(), a.logger.Named("engine"))
}

func (a *app) close() {
	_ = a.logger.Sync()
}

// fitCatalog sizes frames for the lowest string of any preset at any
// reference pitch, since the live commands can switch to all of them.
func (a *app) fitCatalog() {
	a.fitFrameSize(a.catalog.Lowest(slices.Min(config.ReferencePitches)))
}

// fitFrameSize raises the configured frame size so frames resolve lowestHz.
func (a *app) fitFrameSize(lowestHz float64) {
	if prev := a.cfg.FitFrameSize(lowestHz); prev != a.cfg.Audio.FrameSize {
		a.logger.Info("frame size raised to resolve the lowest string",
			zap.Int("from", prev),
			zap.Int("to", a.cfg.Audio.FrameSize),
			zap.Float64("lowest_hz", lowestHz),
		)
	}
}

package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/0xlemi/polytune/internal/pitch"
	"github.com/0xlemi/polytune/internal/tuning"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

var (
	analyzeFormat string
	analyzeAll    bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze FILE.wav",
	Short: "Detect pitch frame by frame in a WAV recording",
	Long: `Run the pitch detector over a WAV recording one frame at a time and
classify each estimate against the selected tuning. A per-string summary
follows the frame table.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "table", "output format (table, json)")
	analyzeCmd.Flags().BoolVar(&analyzeAll, "all", false, "include frames without a pitch")
	rootCmd.AddCommand(analyzeCmd)
}

// frameResult is one analyzed frame
type frameResult struct {
	Time      float64        `json:"time"`
	LevelDB   float64        `json:"level_db"`
	Hz        float64        `json:"hz,omitempty"`
	Note      *pitch.Note    `json:"note,omitempty"`
	Cents     int            `json:"cents"`
	String    int            `json:"string"`
	Target    *pitch.Note    `json:"target,omitempty"`
	Deviation int            `json:"deviation"`
	Verdict   tuning.Verdict `json:"verdict"`
}

// stringSummary aggregates the frames attributed to one string
type stringSummary struct {
	String    int            `json:"string"`
	Target    pitch.Note     `json:"target"`
	Frames    int            `json:"frames"`
	MeanHz    float64        `json:"mean_hz"`
	Deviation int            `json:"deviation"`
	Verdict   tuning.Verdict `json:"verdict"`
}

type analysis struct {
	File       string          `json:"file"`
	Instrument string          `json:"instrument"`
	Tuning     string          `json:"tuning"`
	Mode       tuning.Mode     `json:"mode"`
	Frames     []frameResult   `json:"frames"`
	Summary    []stringSummary `json:"summary"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	if analyzeFormat != "table" && analyzeFormat != "json" {
		return fmt.Errorf("unknown format %q", analyzeFormat)
	}

	a, err := newApp("stderr")
	if err != nil {
		return err
	}
	defer a.close()

	preset, err := a.catalog.Lookup(a.cfg.Instrument, a.cfg.Tuning)
	if err != nil {
		return err
	}

	capturer, err := audio.NewWAVCapturer(args[0], a.cfg.Audio.FrameSize)
	if err != nil {
		return err
	}
	if err := capturer.Start(); err != nil {
		return err
	}
	defer capturer.Stop()

	// Size frames for the file's own sample rate
	a.cfg.Audio.SampleRate = capturer.SampleRate()
	a.fitFrameSize(preset.Lowest(a.cfg.ReferenceHz))
	if err := capturer.SetFrameSize(a.cfg.Audio.FrameSize); err != nil {
		return err
	}

	result, err := analyze(capturer, a.detector, preset, a.cfg.Settings(), analyzeAll)
	if err != nil {
		return err
	}
	result.File = args[0]

	a.logger.Debug("analysis complete",
		zap.String("file", args[0]),
		zap.Int("frames", len(result.Frames)),
	)

	if analyzeFormat == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return writeAnalysisTable(cmd.OutOrStdout(), result)
}

// analyze reads capturer to the end, classifying every frame that carries a pitch.
func analyze(capturer *audio.WAVCapturer, detector pitch.Detector, preset tuning.Preset, settings tuning.Settings, all bool) (*analysis, error) {
	res := &analysis{
		Instrument: preset.Instrument,
		Tuning:     preset.Name,
		Mode:       settings.Mode,
		Frames:     []frameResult{},
	}
	perString := make([][]float64, len(preset.Strings))

	for {
		offset := capturer.Offset()
		frame, err := capturer.GetBuffer()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}

		_, db := frame.Level()
		row := frameResult{Time: offset, LevelDB: db, String: -1}

		hz, err := detector.DetectPitch(frame)
		switch {
		case pitch.IsNoPitch(err):
			if all {
				res.Frames = append(res.Frames, row)
			}
			continue
		case err != nil:
			return nil, err
		}

		c, err := tuning.Classify(hz, preset, settings)
		if err != nil {
			return nil, err
		}
		note, target := c.Detected.Note, c.Target
		row.Hz = hz
		row.Note = &note
		row.Cents = c.Detected.Cents
		row.String = c.StringIndex
		row.Target = &target
		row.Deviation = c.Deviation
		row.Verdict = c.Verdict
		res.Frames = append(res.Frames, row)

		if c.StringIndex >= 0 {
			perString[c.StringIndex] = append(perString[c.StringIndex], hz)
		}
	}

	for i, hzs := range perString {
		if len(hzs) == 0 {
			continue
		}
		target := preset.Strings[i].Frequency(settings.ReferenceHz)
		mean := stat.Mean(hzs, nil)
		res.Summary = append(res.Summary, stringSummary{
			String:    i,
			Target:    preset.Strings[i],
			Frames:    len(hzs),
			MeanHz:    mean,
			Deviation: int(math.Round(pitch.Cents(mean, target))),
			Verdict:   tuning.Judge(mean, target, settings.Tolerance),
		})
	}
	return res, nil
}

func writeAnalysisTable(w io.Writer, res *analysis) error {
	frames := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("TIME", "LEVEL", "HZ", "NOTE", "CENTS", "STRING", "DEVIATION", "VERDICT")
	for _, f := range res.Frames {
		if f.Note == nil {
			frames.Row(fmt.Sprintf("%.3fs", f.Time), fmt.Sprintf("%.1f dB", f.LevelDB), "-", "-", "-", "-", "-", f.Verdict.String())
			continue
		}
		str := "-"
		if f.String >= 0 {
			str = fmt.Sprintf("%d (%s)", f.String+1, f.Target)
		}
		frames.Row(
			fmt.Sprintf("%.3fs", f.Time),
			fmt.Sprintf("%.1f dB", f.LevelDB),
			strconv.FormatFloat(f.Hz, 'f', 2, 64),
			f.Note.String(),
			strconv.Itoa(f.Cents),
			str,
			strconv.Itoa(f.Deviation),
			f.Verdict.String(),
		)
	}

	fmt.Fprintf(w, "%s: %s %s tuning, %s mode\n", res.File, tuning.DisplayName(res.Instrument), res.Tuning, res.Mode)
	fmt.Fprintln(w, frames.Render())

	if len(res.Summary) == 0 {
		fmt.Fprintln(w, "no string detected")
		return nil
	}

	summary := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("STRING", "TARGET", "FRAMES", "MEAN HZ", "DEVIATION", "VERDICT")
	for _, s := range res.Summary {
		summary.Row(
			strconv.Itoa(s.String+1),
			s.Target.String(),
			strconv.Itoa(s.Frames),
			strconv.FormatFloat(s.MeanHz, 'f', 2, 64),
			strconv.Itoa(s.Deviation),
			s.Verdict.String(),
		)
	}
	_, err := fmt.Fprintln(w, summary.Render())
	return err
}

package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/0xlemi/polytune/internal/tuning"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

var tuningsJSON bool

var tuningsCmd = &cobra.Command{
	Use:   "tunings [INSTRUMENT]",
	Short: "List instruments and their tunings",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTunings,
}

func init() {
	tuningsCmd.Flags().BoolVar(&tuningsJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(tuningsCmd)
}

// presetInfo is one row of the tuning listing
type presetInfo struct {
	Instrument  string    `json:"instrument"`
	Tuning      string    `json:"tuning"`
	Strings     []string  `json:"strings"`
	Frequencies []float64 `json:"frequencies"`
}

func runTunings(cmd *cobra.Command, args []string) error {
	a, err := newApp("stderr")
	if err != nil {
		return err
	}
	defer a.close()

	rows, err := listPresets(a.catalog, args, a.cfg.ReferenceHz)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if tuningsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("INSTRUMENT", "TUNING", "STRINGS", fmt.Sprintf("HZ (A4=%g)", a.cfg.ReferenceHz))
	for _, r := range rows {
		hz := make([]string, len(r.Frequencies))
		for i, f := range r.Frequencies {
			hz[i] = strconv.FormatFloat(f, 'f', 2, 64)
		}
		t.Row(tuning.DisplayName(r.Instrument), r.Tuning, strings.Join(r.Strings, " "), strings.Join(hz, " "))
	}
	_, err = fmt.Fprintln(out, t.Render())
	return err
}

// listPresets lists every preset of the named instrument, or of all instruments.
func listPresets(catalog *tuning.Catalog, args []string, referenceHz float64) ([]presetInfo, error) {
	instruments := catalog.Instruments()
	if len(args) == 1 {
		instruments = []string{args[0]}
	}

	var rows []presetInfo
	for _, inst := range instruments {
		for _, name := range catalog.Tunings(inst) {
			p, err := catalog.Lookup(inst, name)
			if err != nil {
				return nil, err
			}
			rows = append(rows, presetInfo{
				Instrument:  inst,
				Tuning:      name,
				Strings:     p.Labels(),
				Frequencies: p.Frequencies(referenceHz),
			})
		}
	}
	if len(rows) == 0 && len(args) == 1 {
		return nil, fmt.Errorf("%w: %s", tuning.ErrUnknownInstrument, args[0])
	}
	return rows, nil
}

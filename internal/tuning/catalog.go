package tuning

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"
	"unicode"

	"github.com/0xlemi/polytune/internal/pitch"
	"gopkg.in/yaml.v3"
)

// StandardTuning is the tuning selected whenever the instrument changes.
const StandardTuning = "standard"

// Errors
var (
	ErrEmptyTuning       = errors.New("tuning has no strings")
	ErrUnknownInstrument = errors.New("unknown instrument")
	ErrUnknownTuning     = errors.New("unknown tuning")
)

// Preset is an instrument tuning: one note per string, in string order
type Preset struct {
	Instrument string
	Name       string
	Strings    []pitch.Note
}

// NewPreset parses the string notes; an empty list or any unknown note is an error.
func NewPreset(instrument, name string, notes []string) (Preset, error) {
	if len(notes) == 0 {
		return Preset{}, fmt.Errorf("%s/%s: %w", instrument, name, ErrEmptyTuning)
	}

	strs := make([]pitch.Note, len(notes))
	for i, n := range notes {
		note, err := pitch.ParseNote(n)
		if err != nil {
			return Preset{}, fmt.Errorf("%s/%s string %d: %w", instrument, name, i+1, err)
		}
		strs[i] = note
	}

	return Preset{Instrument: instrument, Name: name, Strings: strs}, nil
}

// Frequencies returns the target frequency of each string.
func (p Preset) Frequencies(referenceHz float64) []float64 {
	out := make([]float64, len(p.Strings))
	for i, s := range p.Strings {
		out[i] = s.Frequency(referenceHz)
	}
	return out
}

// Labels returns the string notes as text.
func (p Preset) Labels() []string {
	out := make([]string, len(p.Strings))
	for i, s := range p.Strings {
		out[i] = s.String()
	}
	return out
}

// Lowest returns the frequency of the lowest string.
func (p Preset) Lowest(referenceHz float64) float64 {
	if len(p.Strings) == 0 {
		return 0
	}
	return slices.Min(p.Frequencies(referenceHz))
}

type builtinTuning struct {
	name  string
	notes []string
}

// builtin is the catalog shipped with the tuner, in display order
var builtin = []struct {
	instrument string
	tunings    []builtinTuning
}{
	{"guitar", []builtinTuning{
		{"standard", []string{"E2", "A2", "D3", "G3", "B3", "E4"}},
		{"halfStepDown", []string{"Eb2", "Ab2", "Db3", "Gb3", "Bb3", "Eb4"}},
		{"fullStepDown", []string{"D2", "G2", "C3", "F3", "A3", "D4"}},
		{"stepAndHalfDown", []string{"Db2", "Gb2", "B2", "E3", "Ab3", "Db4"}},
		{"dropD", []string{"D2", "A2", "D3", "G3", "B3", "E4"}},
		{"openG", []string{"D2", "G2", "D3", "G3", "B3", "D4"}},
		{"openD", []string{"D2", "A2", "D3", "F#3", "A3", "D4"}},
		{"dadgad", []string{"D2", "A2", "D3", "G3", "A3", "D4"}},
	}},
	{"bass", []builtinTuning{
		{"standard", []string{"E1", "A1", "D2", "G2"}},
		{"halfStepDown", []string{"Eb1", "Ab1", "Db2", "Gb2"}},
		{"fullStepDown", []string{"D1", "G1", "C2", "F2"}},
		{"stepAndHalfDown", []string{"Db1", "Gb1", "B1", "E2"}},
		{"dropD", []string{"D1", "A1", "D2", "G2"}},
		{"fiveString", []string{"B0", "E1", "A1", "D2", "G2"}},
	}},
	{"ukulele", []builtinTuning{
		{"standard", []string{"G4", "C4", "E4", "A4"}},
		{"baritone", []string{"D3", "G3", "B3", "E4"}},
		{"dADF", []string{"D4", "A4", "D4", "F4"}},
	}},
	{"banjo", []builtinTuning{
		{"standard", []string{"G4", "D3", "G3", "B3", "D4"}},
		{"openG", []string{"G4", "D3", "G3", "B3", "D4"}},
		{"doubleC", []string{"G4", "C3", "G3", "C4", "D4"}},
	}},
	{"mandolin", []builtinTuning{
		{"standard", []string{"G3", "D4", "A4", "E5"}},
		{"openG", []string{"G3", "D4", "G4", "B4"}},
		{"crossTuning", []string{"A3", "E4", "A4", "E5"}},
	}},
}

// Catalog holds the selectable presets keyed by instrument and tuning name
type Catalog struct {
	instruments []string
	tunings     map[string][]string
	presets     map[string]map[string]Preset
}

// NewCatalog returns the built-in catalog.
func NewCatalog() *Catalog {
	c := &Catalog{
		tunings: make(map[string][]string),
		presets: make(map[string]map[string]Preset),
	}
	for _, inst := range builtin {
		for _, t := range inst.tunings {
			preset, err := NewPreset(inst.instrument, t.name, t.notes)
			if err != nil {
				panic(err)
			}
			c.add(preset)
		}
	}
	return c
}

// add inserts or replaces a preset, keeping first-seen order.
func (c *Catalog) add(p Preset) {
	if _, ok := c.presets[p.Instrument]; !ok {
		c.instruments = append(c.instruments, p.Instrument)
		c.presets[p.Instrument] = make(map[string]Preset)
	}
	if _, ok := c.presets[p.Instrument][p.Name]; !ok {
		c.tunings[p.Instrument] = append(c.tunings[p.Instrument], p.Name)
	}
	c.presets[p.Instrument][p.Name] = p
}

// Lookup returns the preset for an instrument and tuning.
func (c *Catalog) Lookup(instrument, tuning string) (Preset, error) {
	tunings, ok := c.presets[instrument]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, instrument)
	}
	p, ok := tunings[tuning]
	if !ok {
		return Preset{}, fmt.Errorf("%w: %q for %s", ErrUnknownTuning, tuning, instrument)
	}
	return p, nil
}

// Instruments returns the instrument names in catalog order.
func (c *Catalog) Instruments() []string {
	return slices.Clone(c.instruments)
}

// Tunings returns the tuning names of an instrument in catalog order.
func (c *Catalog) Tunings(instrument string) []string {
	return slices.Clone(c.tunings[instrument])
}

// Lowest returns the frequency of the lowest string across every preset.
func (c *Catalog) Lowest(referenceHz float64) float64 {
	lowest := 0.0
	for _, inst := range c.instruments {
		for _, name := range c.tunings[inst] {
			hz := c.presets[inst][name].Lowest(referenceHz)
			if lowest == 0 || hz < lowest {
				lowest = hz
			}
		}
	}
	return lowest
}

// catalogFile is the YAML layout accepted by LoadCatalogFile:
//
//	instruments:
//	  guitar:
//	    openC: [C2, G2, C3, G3, C4, E4]
type catalogFile struct {
	Instruments map[string]map[string][]string `yaml:"instruments"`
}

// LoadCatalogFile merges the presets in a YAML file into the catalog.
// Existing presets with the same names are replaced; new ones are appended
// in alphabetical order after "standard", which every new instrument needs.
func (c *Catalog) LoadCatalogFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tunings file: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse tunings file %s: %w", path, err)
	}

	instruments := make([]string, 0, len(file.Instruments))
	for name := range file.Instruments {
		instruments = append(instruments, name)
	}
	sort.Strings(instruments)

	var presets []Preset
	for _, inst := range instruments {
		names := make([]string, 0, len(file.Instruments[inst]))
		for name := range file.Instruments[inst] {
			names = append(names, name)
		}
		sort.Strings(names)
		if i := slices.Index(names, StandardTuning); i > 0 {
			names = slices.Insert(slices.Delete(names, i, i+1), 0, StandardTuning)
		}

		for _, name := range names {
			p, err := NewPreset(inst, name, file.Instruments[inst][name])
			if err != nil {
				return fmt.Errorf("tunings file %s: %w", path, err)
			}
			presets = append(presets, p)
		}

		if _, ok := c.presets[inst]; !ok && file.Instruments[inst][StandardTuning] == nil {
			return fmt.Errorf("tunings file %s: instrument %s: %w: %q", path, inst, ErrUnknownTuning, StandardTuning)
		}
	}

	for _, p := range presets {
		c.add(p)
	}
	return nil
}

// DisplayName turns a tuning key into a label: "halfStepDown" becomes "Half Step Down".
func DisplayName(key string) string {
	var b strings.Builder
	for i, r := range key {
		if i == 0 {
			b.WriteRune(unicode.ToUpper(r))
			continue
		}
		if unicode.IsUpper(r) {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return b.String()
}

package tuning

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/0xlemi/polytune/internal/pitch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogBuiltin(t *testing.T) {
	c := NewCatalog()

	assert.Equal(t, []string{"guitar", "bass", "ukulele", "banjo", "mandolin"}, c.Instruments())
	assert.Equal(t, StandardTuning, c.Tunings("guitar")[0])
	assert.Contains(t, c.Tunings("bass"), "fiveString")

	for _, inst := range c.Instruments() {
		_, err := c.Lookup(inst, StandardTuning)
		assert.NoError(t, err, inst)
	}
}

func TestCatalogLookup(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		instrument string
		tuning     string
		want       []string
	}{
		{"guitar", "standard", []string{"E2", "A2", "D3", "G3", "B3", "E4"}},
		{"guitar", "halfStepDown", []string{"D#2", "G#2", "C#3", "F#3", "A#3", "D#4"}},
		{"guitar", "dropD", []string{"D2", "A2", "D3", "G3", "B3", "E4"}},
		{"bass", "standard", []string{"E1", "A1", "D2", "G2"}},
		{"bass", "fiveString", []string{"B0", "E1", "A1", "D2", "G2"}},
		{"ukulele", "standard", []string{"G4", "C4", "E4", "A4"}},
		{"banjo", "doubleC", []string{"G4", "C3", "G3", "C4", "D4"}},
		{"mandolin", "standard", []string{"G3", "D4", "A4", "E5"}},
	}

	for _, tt := range tests {
		t.Run(tt.instrument+"/"+tt.tuning, func(t *testing.T) {
			p, err := c.Lookup(tt.instrument, tt.tuning)
			require.NoError(t, err)
			assert.Equal(t, tt.instrument, p.Instrument)
			assert.Equal(t, tt.tuning, p.Name)
			assert.Equal(t, tt.want, p.Labels())
		})
	}
}

func TestCatalogLookupErrors(t *testing.T) {
	c := NewCatalog()

	_, err := c.Lookup("theremin", StandardTuning)
	assert.ErrorIs(t, err, ErrUnknownInstrument)

	_, err = c.Lookup("bass", "openG")
	assert.ErrorIs(t, err, ErrUnknownTuning)
}

func TestCatalogListsAreCopies(t *testing.T) {
	c := NewCatalog()

	c.Instruments()[0] = "kazoo"
	c.Tunings("guitar")[0] = "kazoo"

	assert.Equal(t, "guitar", c.Instruments()[0])
	assert.Equal(t, StandardTuning, c.Tunings("guitar")[0])
}

func TestPresetFrequencies(t *testing.T) {
	p, err := NewCatalog().Lookup("guitar", StandardTuning)
	require.NoError(t, err)

	want := []float64{82.4069, 110, 146.8324, 195.9977, 246.9417, 329.6276}
	got := p.Frequencies(440)
	require.Len(t, got, len(want))
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-3)
	}

	assert.InDelta(t, 108, p.Frequencies(432)[1], 1e-9)
}

func TestNewPreset(t *testing.T) {
	_, err := NewPreset("guitar", "empty", nil)
	assert.ErrorIs(t, err, ErrEmptyTuning)

	_, err = NewPreset("guitar", "broken", []string{"E2", "H2"})
	assert.ErrorIs(t, err, pitch.ErrUnknownNote)
}

func writeTunings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tunings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadCatalogFile(t *testing.T) {
	path := writeTunings(t, `
instruments:
  guitar:
    openC: [C2, G2, C3, G3, C4, E4]
    dropD: [D2, A2, D3, G3, B3, Eb4]
  cello:
    standard: [C2, G2, D3, A3]
    fifths: [C2, G2, D3, A3]
`)

	c := NewCatalog()
	require.NoError(t, c.LoadCatalogFile(path))

	assert.Equal(t, []string{"guitar", "bass", "ukulele", "banjo", "mandolin", "cello"}, c.Instruments())
	assert.Equal(t, []string{StandardTuning, "fifths"}, c.Tunings("cello"))

	tunings := c.Tunings("guitar")
	assert.Equal(t, "openC", tunings[len(tunings)-1])
	assert.Equal(t, 1, countOf(tunings, "dropD"))

	p, err := c.Lookup("guitar", "dropD")
	require.NoError(t, err)
	assert.Equal(t, "D#4", p.Labels()[5])

	p, err = c.Lookup("cello", StandardTuning)
	require.NoError(t, err)
	assert.Len(t, p.Strings, 4)
}

func TestLoadCatalogFileErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr error
	}{
		{"new instrument without standard", "instruments:\n  cello:\n    fifths: [C2, G2, D3, A3]\n", ErrUnknownTuning},
		{"bad note", "instruments:\n  guitar:\n    weird: [E2, Z9]\n", pitch.ErrUnknownNote},
		{"empty tuning", "instruments:\n  guitar:\n    none: []\n", ErrEmptyTuning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCatalog()
			err := c.LoadCatalogFile(writeTunings(t, tt.content))
			assert.ErrorIs(t, err, tt.wantErr)

			// A failed load leaves the catalog untouched
			assert.Len(t, c.Instruments(), 5)
			assert.Len(t, c.Tunings("guitar"), 8)
		})
	}

	c := NewCatalog()
	assert.Error(t, c.LoadCatalogFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, c.LoadCatalogFile(writeTunings(t, "instruments: [1, 2")))
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Standard", DisplayName("standard"))
	assert.Equal(t, "Half Step Down", DisplayName("halfStepDown"))
	assert.Equal(t, "Guitar", DisplayName("guitar"))
	assert.Equal(t, "", DisplayName(""))
}

func countOf(list []string, s string) int {
	n := 0
	for _, v := range list {
		if v == s {
			n++
		}
	}
	return n
}

func TestLoadCatalogFileStandardFirst(t *testing.T) {
	path := writeTunings(t, `
instruments:
  baritone:
    dropC: [C2, G2, C3, F3, A3, D4]
    standard: [B1, E2, A2, D3, F#3, B3]
    aDropG: [G1, D2, G2, C3, E3, A3]
`)

	c := NewCatalog()
	require.NoError(t, c.LoadCatalogFile(path))
	assert.Equal(t, []string{StandardTuning, "aDropG", "dropC"}, c.Tunings("baritone"))
}

func TestLowest(t *testing.T) {
	c := NewCatalog()

	p, err := c.Lookup("guitar", StandardTuning)
	require.NoError(t, err)
	assert.InDelta(t, 82.4069, p.Lowest(440), 1e-3)

	p, err = c.Lookup("ukulele", StandardTuning)
	require.NoError(t, err)
	assert.InDelta(t, 261.6256, p.Lowest(440), 1e-3) // reentrant G4 is not the lowest

	// fiveString B0 is the lowest string of the built-in catalog
	assert.InDelta(t, 30.8677, c.Lowest(440), 1e-3)
	assert.InDelta(t, 30.8677*432/440, c.Lowest(432), 1e-3)

	assert.Equal(t, 0.0, Preset{}.Lowest(440))
}

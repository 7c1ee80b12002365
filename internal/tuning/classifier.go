package tuning

import (
	"errors"
	"fmt"
	"math"

	"github.com/0xlemi/polytune/internal/pitch"
)

// DefaultTolerance is the in-tune window in cents on either side of the target.
const DefaultTolerance = 10

// tieEpsilon is the log2 distance below which two strings count as equally near.
const tieEpsilon = 1e-9

// Errors
var (
	ErrInvalidReference = errors.New("reference pitch must be positive")
	ErrInvalidTolerance = errors.New("cents tolerance must be positive")
	ErrUnknownMode      = errors.New("unknown tuning mode")
)

// Verdict is the tuning status of one string
type Verdict int

const (
	VerdictNone Verdict = iota
	VerdictFlat
	VerdictInTune
	VerdictSharp
)

var verdictNames = map[Verdict]string{
	VerdictNone:   "none",
	VerdictFlat:   "flat",
	VerdictInTune: "in-tune",
	VerdictSharp:  "sharp",
}

func (v Verdict) String() string {
	if name, ok := verdictNames[v]; ok {
		return name
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(text []byte) error {
	for verdict, name := range verdictNames {
		if name == string(text) {
			*v = verdict
			return nil
		}
	}
	return fmt.Errorf("unknown verdict %q", text)
}

// Mode selects between per-string and chromatic tuning
type Mode string

const (
	// ModePoly attributes each detection to the nearest string of the preset
	ModePoly Mode = "poly"
	// ModeChromatic reports the nearest note regardless of the preset
	ModeChromatic Mode = "chromatic"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePoly, ModeChromatic:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// Settings are the inputs of a classification besides the frequency and preset
type Settings struct {
	ReferenceHz float64
	Tolerance   float64 // in-tune window in cents
	Mode        Mode
}

// DefaultSettings returns A4 = 440 Hz, a 10 cent window and poly mode.
func DefaultSettings() Settings {
	return Settings{ReferenceHz: 440, Tolerance: DefaultTolerance, Mode: ModePoly}
}

// Validate rejects settings the classifier cannot work with.
func (s Settings) Validate() error {
	if !(s.ReferenceHz > 0) || math.IsInf(s.ReferenceHz, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidReference, s.ReferenceHz)
	}
	if !(s.Tolerance > 0) {
		return fmt.Errorf("%w: %g", ErrInvalidTolerance, s.Tolerance)
	}
	if _, err := ParseMode(string(s.Mode)); err != nil {
		return err
	}
	return nil
}

// Classification is the outcome of classifying one detected frequency
type Classification struct {
	Detected    pitch.Pitch // nearest chromatic note of the detected frequency
	StringIndex int         // string the detection is attributed to, -1 in chromatic mode
	Target      pitch.Note  // note the verdict was computed against
	TargetHz    float64
	Deviation   int // cents from the target
	Verdict     Verdict
}

// Classify judges freq against the preset (poly mode) or against the
// nearest chromatic note (chromatic mode).
func Classify(freq float64, preset Preset, s Settings) (Classification, error) {
	if err := s.Validate(); err != nil {
		return Classification{}, err
	}
	if len(preset.Strings) == 0 {
		return Classification{}, ErrEmptyTuning
	}
	if !(freq > 0) {
		return Classification{}, fmt.Errorf("%w: %g Hz", pitch.ErrOutOfRange, freq)
	}

	c := Classification{
		Detected:    pitch.NewPitch(freq, s.ReferenceHz),
		StringIndex: -1,
	}

	if s.Mode == ModeChromatic {
		c.Target = c.Detected.Note
	} else {
		c.StringIndex = NearestString(freq, preset.Strings, s.ReferenceHz)
		c.Target = preset.Strings[c.StringIndex]
	}

	c.TargetHz = c.Target.Frequency(s.ReferenceHz)
	c.Deviation = int(math.Round(pitch.Cents(freq, c.TargetHz)))
	c.Verdict = Judge(freq, c.TargetHz, s.Tolerance)
	return c, nil
}

// Judge returns in-tune when freq is within tolerance cents of target,
// otherwise flat or sharp.
func Judge(freq, target, tolerance float64) Verdict {
	cents := math.Round(pitch.Cents(freq, target))
	switch {
	case math.Abs(cents) < tolerance:
		return VerdictInTune
	case freq < target:
		return VerdictFlat
	default:
		return VerdictSharp
	}
}

// NearestString returns the index of the string closest to freq by
// |log2(freq / stringHz)|. Ties go to the lower index.
func NearestString(freq float64, strings []pitch.Note, referenceHz float64) int {
	best, bestIndex := math.Inf(1), 0
	for i, s := range strings {
		distance := math.Abs(math.Log2(freq / s.Frequency(referenceHz)))
		if distance < best-tieEpsilon {
			best, bestIndex = distance, i
		}
	}
	return bestIndex
}

// Verdicts returns n verdicts, all none except index, which is set to v.
// An out-of-range index yields all none.
func Verdicts(n, index int, v Verdict) []Verdict {
	out := make([]Verdict, n)
	if index >= 0 && index < n {
		out[index] = v
	}
	return out
}

package pitch

import (
	"errors"

	"github.com/0xlemi/polytune/internal/audio"
)

// Errors
var (
	ErrEmptyBuffer     = errors.New("empty audio buffer")
	ErrVolumeThreshold = errors.New("volume below threshold")
	ErrNoPeak          = errors.New("no correlation peak")
	ErrOutOfRange      = errors.New("frequency out of range")
	ErrUnknownNote     = errors.New("unknown note")
)

// IsNoPitch reports whether err means the frame carried no usable pitch,
// as opposed to a configuration or programming error.
func IsNoPitch(err error) bool {
	return errors.Is(err, ErrEmptyBuffer) ||
		errors.Is(err, ErrVolumeThreshold) ||
		errors.Is(err, ErrNoPeak) ||
		errors.Is(err, ErrOutOfRange)
}

// Pitch is a detected frequency mapped onto the nearest note
type Pitch struct {
	Note
	Frequency float64 // Frequency in Hz
	Cents     int     // Cents deviation from the nearest note (-50 to +50)
}

// NewPitch maps frequency onto the nearest note with A4 at referenceHz.
func NewPitch(frequency, referenceHz float64) Pitch {
	note, cents := FrequencyToNote(frequency, referenceHz)
	return Pitch{Note: note, Frequency: frequency, Cents: cents}
}

// Detector defines the interface for pitch detection
type Detector interface {
	// DetectPitch analyzes a frame and returns its fundamental frequency in Hz
	DetectPitch(frame *audio.Frame) (float64, error)
}

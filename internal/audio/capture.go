package audio

import (
	"errors"
	"fmt"
	"math"
)

// MinFrameSize is the smallest frame the pitch estimator accepts.
const MinFrameSize = 256

// Errors
var (
	ErrNotCapturing     = errors.New("audio capture not started")
	ErrAlreadyCapturing = errors.New("audio capture already started")
	ErrNoFrame          = errors.New("no new audio frame")
	ErrInvalidFrame     = errors.New("invalid audio frame")
)

// Frame is one block of mono time-domain samples normalized to [-1, 1]
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Validate checks the frame against the estimator's window constraints:
// a power-of-two length of at least MinFrameSize and a positive sample rate.
func (f *Frame) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: nil frame", ErrInvalidFrame)
	}
	if f.SampleRate <= 0 {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidFrame, f.SampleRate)
	}
	if !IsPowerOfTwo(len(f.Samples)) || len(f.Samples) < MinFrameSize {
		return fmt.Errorf("%w: length %d is not a power of two >= %d", ErrInvalidFrame, len(f.Samples), MinFrameSize)
	}
	return nil
}

// Level calculates RMS and dB level
func (f *Frame) Level() (rms, db float64) {
	if f == nil || len(f.Samples) == 0 {
		return 0, -100
	}

	sumSquares := 0.0
	for _, sample := range f.Samples {
		sumSquares += float64(sample) * float64(sample)
	}
	rms = math.Sqrt(sumSquares / float64(len(f.Samples)))

	// Avoid log(0)
	if rms > 0.0000001 {
		db = 20 * math.Log10(rms)
	} else {
		db = -100
	}

	return rms, db
}

// Float64 returns a float64 copy of the samples.
func (f *Frame) Float64() []float64 {
	out := make([]float64, len(f.Samples))
	for i, s := range f.Samples {
		out[i] = float64(s)
	}
	return out
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// Capturer defines the interface for audio capture
type Capturer interface {
	// Start begins audio capture
	Start() error

	// Stop ends audio capture
	Stop() error

	// GetBuffer returns the most recent frame. It returns ErrNoFrame when
	// nothing new arrived since the previous call and io.EOF when a finite
	// source is exhausted.
	GetBuffer() (*Frame, error)

	// IsCapturing returns true if currently capturing audio
	IsCapturing() bool
}

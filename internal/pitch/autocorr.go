package pitch

import (
	"fmt"
	"math"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/floats"
)

// Method selects how the autocorrelation is computed
type Method string

const (
	// MethodDirect sums the lag products directly, O(N²/4)
	MethodDirect Method = "direct"
	// MethodFFT computes the same correlation through the frequency domain
	MethodFFT Method = "fft"
)

// Config tunes the autocorrelation detector
type Config struct {
	Method           Method
	SilenceThreshold float64 // Minimum RMS on a [-1, 1] scale
	MinFrequency     float64 // Lowest accepted estimate (Hz)
	MaxFrequency     float64 // Highest accepted estimate (Hz)
	PeakTolerance    float64 // Fraction of zero-lag energy a later peak must gain to win
	Interpolate      bool    // Refine the peak lag with a parabolic fit
}

// DefaultConfig returns the detector settings used by the tuner.
func DefaultConfig() Config {
	return Config{
		Method:           MethodFFT,
		SilenceThreshold: 0.01,
		MinFrequency:     30,
		MaxFrequency:     5000,
		PeakTolerance:    0.01,
	}
}

// AutocorrDetector estimates the fundamental frequency from the first
// autocorrelation peak that follows the initial descent from lag 0
type AutocorrDetector struct {
	cfg Config
}

// NewAutocorrDetector creates a detector with the given settings.
func NewAutocorrDetector(cfg Config) (*AutocorrDetector, error) {
	switch cfg.Method {
	case MethodDirect, MethodFFT:
	default:
		return nil, fmt.Errorf("unknown autocorrelation method %q", cfg.Method)
	}
	if cfg.MinFrequency <= 0 || cfg.MaxFrequency <= cfg.MinFrequency {
		return nil, fmt.Errorf("invalid frequency range [%g, %g]", cfg.MinFrequency, cfg.MaxFrequency)
	}
	if cfg.PeakTolerance < 0 || cfg.SilenceThreshold < 0 {
		return nil, fmt.Errorf("peak tolerance and silence threshold must not be negative")
	}
	return &AutocorrDetector{cfg: cfg}, nil
}

// DetectPitch returns the estimated fundamental, rejecting silent frames,
// frames without a correlation peak and estimates outside the configured range.
func (d *AutocorrDetector) DetectPitch(frame *audio.Frame) (float64, error) {
	if frame == nil || len(frame.Samples) == 0 {
		return 0, ErrEmptyBuffer
	}

	freq, err := d.estimate(frame)
	if err != nil {
		return 0, err
	}

	if freq < d.cfg.MinFrequency || freq > d.cfg.MaxFrequency {
		return 0, fmt.Errorf("%w: %.2f Hz", ErrOutOfRange, freq)
	}
	return freq, nil
}

// Estimate returns the raw estimate without the range check. ok is false
// when the frame is silent, malformed or has no correlation peak.
func (d *AutocorrDetector) Estimate(frame *audio.Frame) (freq float64, ok bool) {
	freq, err := d.estimate(frame)
	return freq, err == nil
}

func (d *AutocorrDetector) estimate(frame *audio.Frame) (float64, error) {
	if frame == nil || len(frame.Samples) < 4 {
		return 0, ErrEmptyBuffer
	}
	if frame.SampleRate <= 0 {
		return 0, ErrNoPeak
	}

	x := frame.Float64()

	rms := floats.Norm(x, 2) / math.Sqrt(float64(len(x)))
	if rms < d.cfg.SilenceThreshold || rms == 0 {
		return 0, ErrVolumeThreshold
	}

	var corr []float64
	if d.cfg.Method == MethodDirect {
		corr = autocorrelateDirect(x)
	} else {
		corr = autocorrelateFFT(x)
	}

	lag := peakLag(corr, d.cfg.PeakTolerance)
	if lag <= 0 {
		return 0, ErrNoPeak
	}

	period := float64(lag)
	if d.cfg.Interpolate {
		period = refineLag(corr, lag)
	}
	return float64(frame.SampleRate) / period, nil
}

// autocorrelateDirect returns corr[lag] = Σ x[i]·x[i+lag] for i < N/2 and lag < N/2.
func autocorrelateDirect(x []float64) []float64 {
	half := len(x) / 2
	corr := make([]float64, half)
	head := x[:half]
	for lag := range corr {
		corr[lag] = floats.Dot(head, x[lag:lag+half])
	}
	return corr
}

// autocorrelateFFT computes the same sums as autocorrelateDirect by
// correlating the first half of the frame with the whole frame.
func autocorrelateFFT(x []float64) []float64 {
	half := len(x) / 2
	size := nextPowerOfTwo(len(x) + half)

	head := make([]float64, size)
	copy(head, x[:half])
	whole := make([]float64, size)
	copy(whole, x)

	h := fft.FFTReal(head)
	w := fft.FFTReal(whole)
	for i := range w {
		w[i] *= complex(real(h[i]), -imag(h[i]))
	}
	r := fft.IFFT(w)

	corr := make([]float64, half)
	for lag := range corr {
		corr[lag] = real(r[lag])
	}
	return corr
}

// peakLag scans from lag 1, waits for the first descent, then returns the
// lag of the highest ascending point. Only the top of each ascending run is
// a candidate, and a later peak must beat the best by tolerance·corr[0] so
// that equal peaks at multiples of the period resolve to the first one.
// A run still rising at the last lag is not a peak: the period is longer
// than half the frame. Returns -1 when there is no such peak.
func peakLag(corr []float64, tolerance float64) int {
	if len(corr) < 2 {
		return -1
	}

	margin := tolerance * math.Abs(corr[0])
	descended := false
	best, bestLag := 0.0, -1

	for lag := 1; lag < len(corr); lag++ {
		if !descended && corr[lag] < corr[lag-1] {
			descended = true
		}
		if !descended || corr[lag] <= corr[lag-1] {
			continue
		}
		// still climbing, or no lag left to confirm the top
		if lag+1 == len(corr) || corr[lag+1] > corr[lag] {
			continue
		}
		if bestLag < 0 || corr[lag] > best+margin {
			best, bestLag = corr[lag], lag
		}
	}
	return bestLag
}

// refineLag fits a parabola through the peak and its neighbours.
func refineLag(corr []float64, lag int) float64 {
	if lag < 1 || lag+1 >= len(corr) {
		return float64(lag)
	}
	prev, cur, next := corr[lag-1], corr[lag], corr[lag+1]
	denom := prev - 2*cur + next
	if denom == 0 {
		return float64(lag)
	}
	delta := 0.5 * (prev - next) / denom
	if math.Abs(delta) > 1 {
		return float64(lag)
	}
	return float64(lag) + delta
}

// LowestDetectable is the lowest fundamental whose period fits in half a frame.
func LowestDetectable(sampleRate, frameSize int) float64 {
	if frameSize < 2 {
		return 0
	}
	return float64(sampleRate) / float64(frameSize/2)
}

// FrameSizeFor doubles frameSize until LowestDetectable reaches down to lowestHz.
func FrameSizeFor(sampleRate int, lowestHz float64, frameSize int) int {
	if lowestHz <= 0 || sampleRate <= 0 || frameSize < 2 {
		return frameSize
	}
	for LowestDetectable(sampleRate, frameSize) > lowestHz {
		frameSize *= 2
	}
	return frameSize
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

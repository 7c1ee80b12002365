package audio

import (
	"fmt"
	"io"
	"math"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVCapturer replays a PCM WAV file as consecutive, non-overlapping frames.
// A trailing partial frame is dropped.
type WAVCapturer struct {
	path        string
	frameSize   int
	samples     []float32
	sampleRate  int
	pos         int
	isCapturing bool
}

// NewWAVCapturer creates a capturer that reads path in frames of frameSize samples.
func NewWAVCapturer(path string, frameSize int) (*WAVCapturer, error) {
	if !IsPowerOfTwo(frameSize) || frameSize < MinFrameSize {
		return nil, fmt.Errorf("%w: frame size %d", ErrInvalidFrame, frameSize)
	}
	return &WAVCapturer{path: path, frameSize: frameSize}, nil
}

// Start decodes the file into memory
func (c *WAVCapturer) Start() error {
	if c.isCapturing {
		return ErrAlreadyCapturing
	}

	samples, sampleRate, err := ReadWAV(c.path)
	if err != nil {
		return err
	}

	c.samples = samples
	c.sampleRate = sampleRate
	c.pos = 0
	c.isCapturing = true
	return nil
}

// Stop releases the decoded samples
func (c *WAVCapturer) Stop() error {
	if !c.isCapturing {
		return ErrNotCapturing
	}
	c.isCapturing = false
	c.samples = nil
	return nil
}

// GetBuffer returns the next frame, or io.EOF once the file is exhausted
func (c *WAVCapturer) GetBuffer() (*Frame, error) {
	if !c.isCapturing {
		return nil, ErrNotCapturing
	}
	if c.pos+c.frameSize > len(c.samples) {
		return nil, io.EOF
	}

	frame := &Frame{
		Samples:    make([]float32, c.frameSize),
		SampleRate: c.sampleRate,
	}
	copy(frame.Samples, c.samples[c.pos:c.pos+c.frameSize])
	c.pos += c.frameSize

	return frame, nil
}

// SetFrameSize changes the size of the frames still to be read.
func (c *WAVCapturer) SetFrameSize(frameSize int) error {
	if !IsPowerOfTwo(frameSize) || frameSize < MinFrameSize {
		return fmt.Errorf("%w: frame size %d", ErrInvalidFrame, frameSize)
	}
	c.frameSize = frameSize
	return nil
}

// SampleRate returns the sample rate of the loaded file, 0 before Start.
func (c *WAVCapturer) SampleRate() int {
	return c.sampleRate
}

// IsCapturing returns true while the file is loaded
func (c *WAVCapturer) IsCapturing() bool {
	return c.isCapturing
}

// Offset returns the position of the next frame in seconds.
func (c *WAVCapturer) Offset() float64 {
	if c.sampleRate == 0 {
		return 0
	}
	return float64(c.pos) / float64(c.sampleRate)
}

// ReadWAV decodes a PCM WAV file, mixes it to mono and normalizes it to [-1, 1].
func ReadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open wav: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%s: not a valid wav file", path)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode wav: %w", err)
	}

	channels := buf.Format.NumChannels
	if channels < 1 {
		channels = 1
	}
	scale := math.Pow(2, float64(decoder.BitDepth)-1)

	// 8-bit PCM is unsigned with silence at 128
	offset := 0
	if decoder.BitDepth == 8 {
		offset = 128
	}

	mono := make([]float32, len(buf.Data)/channels)
	for i := range mono {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += buf.Data[i*channels+ch] - offset
		}
		mono[i] = float32(float64(sum) / float64(channels) / scale)
	}

	return mono, buf.Format.SampleRate, nil
}

// WriteWAV encodes mono samples in [-1, 1] as a 16-bit PCM WAV file.
func WriteWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	const bitDepth = 16
	encoder := wav.NewEncoder(f, sampleRate, bitDepth, 1, 1)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(math.Round(float64(clamp(s)) * math.MaxInt16))
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: bitDepth,
	}

	if err := encoder.Write(buf); err != nil {
		f.Close()
		return fmt.Errorf("write wav: %w", err)
	}
	if err := encoder.Close(); err != nil {
		f.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return f.Close()
}

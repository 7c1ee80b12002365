package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioCapturer implements audio capture from the default input device using PortAudio
type PortAudioCapturer struct {
	isCapturing   bool
	stream        *portaudio.Stream
	frame         *Frame
	fresh         bool // frame holds samples not yet handed out
	frameSize     int
	sampleRate    int
	channels      int
	bufferMutex   sync.Mutex
	amplification float32 // Audio signal amplification factor
}

// NewPortAudioCapturer creates a new audio capturer using PortAudio.
// frameSize is the number of mono samples delivered per frame.
func NewPortAudioCapturer(frameSize, sampleRate, channels int) (*PortAudioCapturer, error) {
	if !IsPowerOfTwo(frameSize) || frameSize < MinFrameSize {
		return nil, fmt.Errorf("%w: frame size %d", ErrInvalidFrame, frameSize)
	}
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("invalid capture format: %d Hz, %d channels", sampleRate, channels)
	}

	return &PortAudioCapturer{
		frame: &Frame{
			Samples:    make([]float32, frameSize),
			SampleRate: sampleRate,
		},
		frameSize:     frameSize,
		sampleRate:    sampleRate,
		channels:      channels,
		amplification: 1.0,
	}, nil
}

// Start initializes PortAudio and begins audio capture
func (c *PortAudioCapturer) Start() error {
	if c.isCapturing {
		return ErrAlreadyCapturing
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}

	// Open default input stream
	stream, err := portaudio.OpenDefaultStream(
		c.channels, // input channels
		0,          // output channels (we don't need output)
		float64(c.sampleRate),
		c.frameSize, // frames per buffer
		c.processAudio,
	)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}

	c.stream = stream
	c.isCapturing = true
	return nil
}

// Stop ends audio capture and releases PortAudio
func (c *PortAudioCapturer) Stop() error {
	if !c.isCapturing {
		return ErrNotCapturing
	}
	c.isCapturing = false

	if err := c.stream.Stop(); err != nil {
		c.stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("stop input stream: %w", err)
	}
	if err := c.stream.Close(); err != nil {
		portaudio.Terminate()
		return fmt.Errorf("close input stream: %w", err)
	}
	c.stream = nil

	c.bufferMutex.Lock()
	c.fresh = false
	c.bufferMutex.Unlock()

	return portaudio.Terminate()
}

// processAudio is the PortAudio callback; it mixes the input down to mono
func (c *PortAudioCapturer) processAudio(in []float32) {
	c.bufferMutex.Lock()
	defer c.bufferMutex.Unlock()

	mono := c.frame.Samples
	n := len(in) / c.channels
	if n > len(mono) {
		n = len(mono)
	}

	for i := 0; i < n; i++ {
		sum := float32(0)
		for ch := 0; ch < c.channels; ch++ {
			sum += in[i*c.channels+ch]
		}
		mono[i] = clamp((sum / float32(c.channels)) * c.amplification)
	}
	c.fresh = true
}

// GetBuffer returns a copy of the latest captured frame
func (c *PortAudioCapturer) GetBuffer() (*Frame, error) {
	if !c.isCapturing {
		return nil, ErrNotCapturing
	}

	c.bufferMutex.Lock()
	defer c.bufferMutex.Unlock()

	if !c.fresh {
		return nil, ErrNoFrame
	}
	c.fresh = false

	frame := &Frame{
		Samples:    make([]float32, len(c.frame.Samples)),
		SampleRate: c.frame.SampleRate,
	}
	copy(frame.Samples, c.frame.Samples)

	return frame, nil
}

// IsCapturing returns true if currently capturing audio
func (c *PortAudioCapturer) IsCapturing() bool {
	return c.isCapturing
}

// SetAmplification sets the audio amplification factor
func (c *PortAudioCapturer) SetAmplification(factor float32) {
	c.bufferMutex.Lock()
	defer c.bufferMutex.Unlock()

	// Ensure amplification is positive
	if factor < 0.1 {
		factor = 0.1
	}

	c.amplification = factor
}

// clamp keeps amplified samples inside [-1, 1]
func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}

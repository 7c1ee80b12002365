package audio

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// fadeDuration ramps the tone gain in and out to avoid clicks
const fadeDuration = 100 * time.Millisecond

// Sine returns n samples of a sine wave at freq Hz.
func Sine(freq float64, sampleRate, n int, amplitude float64) []float32 {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = float32(amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}
	return samples
}

// oscillator is a phase-continuous sine source with a linear gain ramp.
type oscillator struct {
	sampleRate float64
	freq       float64
	phase      float64
	gain       float64
	target     float64
	step       float64
}

func newOscillator(sampleRate int) *oscillator {
	return &oscillator{
		sampleRate: float64(sampleRate),
		step:       1 / (fadeDuration.Seconds() * float64(sampleRate)),
	}
}

// fill writes the next len(out) samples.
func (o *oscillator) fill(out []float32) {
	inc := 2 * math.Pi * o.freq / o.sampleRate
	for i := range out {
		switch {
		case o.gain < o.target:
			o.gain = math.Min(o.gain+o.step, o.target)
		case o.gain > o.target:
			o.gain = math.Max(o.gain-o.step, o.target)
		}
		out[i] = float32(o.gain * math.Sin(o.phase))
		o.phase += inc
		if o.phase >= 2*math.Pi {
			o.phase -= 2 * math.Pi
		}
	}
}

// silent reports whether the ramp has fully faded out.
func (o *oscillator) silent() bool {
	return o.gain == 0 && o.target == 0
}

// TonePlayer plays a reference sine tone on the default output device
type TonePlayer struct {
	mu         sync.Mutex
	stream     *portaudio.Stream
	osc        *oscillator
	sampleRate int
	volume     float64
	muted      bool
}

// NewTonePlayer creates a tone player; volume is the peak amplitude in [0, 1].
func NewTonePlayer(sampleRate int, volume float64) *TonePlayer {
	return &TonePlayer{
		osc:        newOscillator(sampleRate),
		sampleRate: sampleRate,
		volume:     math.Max(0, math.Min(volume, 1)),
	}
}

// Play starts the tone at hz, or retunes it if already playing.
func (p *TonePlayer) Play(hz float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.osc.freq = hz
	p.osc.target = p.level()
	if p.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(p.sampleRate), 0, p.processAudio)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("start output stream: %w", err)
	}

	p.stream = stream
	return nil
}

// SetFrequency retunes a playing tone without restarting it.
func (p *TonePlayer) SetFrequency(hz float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.osc.freq = hz
}

// SetMuted fades the tone out or back in.
func (p *TonePlayer) SetMuted(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.muted = muted
	if p.stream != nil {
		p.osc.target = p.level()
	}
}

// Muted reports whether output is muted.
func (p *TonePlayer) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Stop fades the tone out and closes the output stream.
func (p *TonePlayer) Stop() error {
	p.mu.Lock()
	if p.stream == nil {
		p.mu.Unlock()
		return nil
	}
	p.osc.target = 0
	p.mu.Unlock()

	// Let the callback finish the fade before tearing the stream down
	deadline := time.Now().Add(2 * fadeDuration)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		done := p.osc.silent()
		p.mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The callback takes p.mu, so the stream must be stopped unlocked
	p.mu.Lock()
	stream := p.stream
	p.stream = nil
	p.osc.gain = 0
	p.mu.Unlock()
	if stream == nil {
		return nil
	}

	if err := stream.Stop(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("stop output stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		portaudio.Terminate()
		return fmt.Errorf("close output stream: %w", err)
	}
	return portaudio.Terminate()
}

// Render synthesizes d of the tone at hz, including the fade in and out.
func (p *TonePlayer) Render(hz float64, d time.Duration) []float32 {
	osc := newOscillator(p.sampleRate)
	osc.freq = hz
	osc.target = p.volume

	n := int(d.Seconds() * float64(p.sampleRate))
	out := make([]float32, n)
	fade := int(fadeDuration.Seconds() * float64(p.sampleRate))
	if fade > n {
		fade = n
	}
	osc.fill(out[:n-fade])
	osc.target = 0
	osc.fill(out[n-fade:])
	return out
}

func (p *TonePlayer) level() float64 {
	if p.muted {
		return 0
	}
	return p.volume
}

// processAudio is the PortAudio output callback
func (p *TonePlayer) processAudio(out []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.osc.fill(out)
}

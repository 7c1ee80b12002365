package tuner

import (
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/0xlemi/polytune/internal/pitch"
	"github.com/0xlemi/polytune/internal/tuning"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// stubDetector returns queued results in order, then keeps repeating the last one
type stubDetector struct {
	mu      sync.Mutex
	results []stubResult
	last    *stubResult
	block   chan struct{} // when set, DetectPitch waits for it to close
	entered chan struct{}
}

type stubResult struct {
	hz  float64
	err error
}

func (d *stubDetector) push(hz float64, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, stubResult{hz, err})
}

func (d *stubDetector) DetectPitch(*audio.Frame) (float64, error) {
	if d.block != nil {
		d.entered <- struct{}{}
		<-d.block
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.results) > 0 {
		r := d.results[0]
		d.results = d.results[1:]
		d.last = &r
	}
	if d.last == nil {
		return 0, pitch.ErrVolumeThreshold
	}
	return d.last.hz, d.last.err
}

// fakeTone records what the engine asks of the tone output
type fakeTone struct {
	playing bool
	hz      float64
	plays   int
	stops   int
	playErr error
}

func (f *fakeTone) Play(hz float64) error {
	if f.playErr != nil {
		return f.playErr
	}
	f.playing, f.hz = true, hz
	f.plays++
	return nil
}

func (f *fakeTone) SetFrequency(hz float64) { f.hz = hz }

func (f *fakeTone) Stop() error {
	f.playing = false
	f.stops++
	return nil
}

func testFrame() *audio.Frame {
	return &audio.Frame{Samples: audio.Sine(110, 44100, 2048, 0.5), SampleRate: 44100}
}

func newTestEngine(t *testing.T, det pitch.Detector, tone ToneSink, modify ...func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Instrument: "guitar",
		Tuning:     tuning.StandardTuning,
		Settings:   tuning.DefaultSettings(),
		Smoothing:  1,
	}
	for _, m := range modify {
		m(&cfg)
	}
	e, err := New(tuning.NewCatalog(), det, tone, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e
}

func cents(hz, c float64) float64 {
	return hz * math.Pow(2, c/1200)
}

func TestNewEngine(t *testing.T) {
	e := newTestEngine(t, &stubDetector{}, nil)

	d := e.Snapshot()
	assert.Equal(t, "guitar", d.Instrument)
	assert.Equal(t, tuning.StandardTuning, d.Tuning)
	assert.Equal(t, []string{"E2", "A2", "D3", "G3", "B3", "E4"}, d.Strings)
	assert.Equal(t, SourceIdle, d.Source)
	assert.Equal(t, NoString, d.ActiveString)
	assert.Equal(t, make([]tuning.Verdict, 6), d.TuningVerdicts)
	assert.Nil(t, d.DetectedNote)

	_, err := New(tuning.NewCatalog(), &stubDetector{}, nil, Config{Instrument: "lute", Tuning: "standard", Settings: tuning.DefaultSettings()}, nil)
	assert.ErrorIs(t, err, tuning.ErrUnknownInstrument)

	_, err = New(tuning.NewCatalog(), &stubDetector{}, nil, Config{Instrument: "guitar", Tuning: "standard"}, nil)
	assert.ErrorIs(t, err, tuning.ErrInvalidReference)
}

func TestProcessIgnoredUnlessListening(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	e := newTestEngine(t, det, nil)

	d, err := e.Process(testFrame())
	require.NoError(t, err)
	assert.Nil(t, d.DetectedNote)
	assert.Equal(t, NoString, d.ActiveString)
}

func TestProcessPoly(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()

	d, err := e.Process(testFrame())
	require.NoError(t, err)

	assert.Equal(t, SourceMicrophone, d.Source)
	require.NotNil(t, d.DetectedNote)
	assert.Equal(t, "A2", d.DetectedNote.String())
	assert.Equal(t, 110.0, d.DetectedHz)
	assert.Equal(t, 1, d.ActiveString)
	assert.Equal(t, tuning.VerdictInTune, d.Verdict)
	assert.Equal(t, []tuning.Verdict{
		tuning.VerdictNone, tuning.VerdictInTune, tuning.VerdictNone,
		tuning.VerdictNone, tuning.VerdictNone, tuning.VerdictNone,
	}, d.TuningVerdicts)
	assert.Greater(t, d.LevelDB, -10.0)

	// A new detection moves the active string; only one is ever set
	det.push(cents(196, -30), nil)
	d, err = e.Process(testFrame())
	require.NoError(t, err)
	assert.Equal(t, 3, d.ActiveString)
	assert.Equal(t, -30, d.Deviation)
	assert.Equal(t, tuning.VerdictFlat, d.TuningVerdicts[3])
	assert.Equal(t, tuning.VerdictNone, d.TuningVerdicts[1])
}

func TestProcessNoPitchKeepsVerdicts(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	det.push(0, pitch.ErrVolumeThreshold)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()

	_, err := e.Process(testFrame())
	require.NoError(t, err)

	d, err := e.Process(testFrame())
	require.NoError(t, err)
	assert.Equal(t, 1, d.ActiveString)
	assert.Equal(t, tuning.VerdictInTune, d.TuningVerdicts[1])
}

func TestProcessErrors(t *testing.T) {
	det := &stubDetector{}
	boom := errors.New("boom")
	det.push(0, boom)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()

	_, err := e.Process(&audio.Frame{Samples: make([]float32, 1000), SampleRate: 44100})
	assert.ErrorIs(t, err, audio.ErrInvalidFrame)

	_, err = e.Process(&audio.Frame{Samples: make([]float32, 128), SampleRate: 44100})
	assert.ErrorIs(t, err, audio.ErrInvalidFrame)

	_, err = e.Process(nil)
	assert.ErrorIs(t, err, audio.ErrInvalidFrame)

	_, err = e.Process(testFrame())
	assert.ErrorIs(t, err, boom)
}

func TestProcessChromatic(t *testing.T) {
	det := &stubDetector{}
	det.push(cents(440, 25), nil)
	e := newTestEngine(t, det, nil, func(c *Config) { c.Settings.Mode = tuning.ModeChromatic })
	e.StartMicrophone()

	d, err := e.Process(testFrame())
	require.NoError(t, err)
	assert.Equal(t, NoString, d.ActiveString)
	assert.Equal(t, make([]tuning.Verdict, 6), d.TuningVerdicts)
	assert.Equal(t, "A4", d.DetectedNote.String())
	assert.Equal(t, 25, d.Deviation)
	assert.Equal(t, tuning.VerdictSharp, d.Verdict)
}

func TestSmoothing(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	det.push(220, nil)
	det.push(111, nil)
	e := newTestEngine(t, det, nil, func(c *Config) { c.Smoothing = 3 })
	e.StartMicrophone()

	var d Display
	for i := 0; i < 3; i++ {
		var err error
		d, err = e.Process(testFrame())
		require.NoError(t, err)
	}
	// median of 110, 220, 111
	assert.Equal(t, 111.0, d.DetectedHz)
	assert.Equal(t, 1, d.ActiveString)
}

func TestSelectionResetsVerdicts(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()
	_, err := e.Process(testFrame())
	require.NoError(t, err)

	d, err := e.SelectInstrument("bass")
	require.NoError(t, err)
	assert.Equal(t, "bass", d.Instrument)
	assert.Equal(t, tuning.StandardTuning, d.Tuning)
	assert.Len(t, d.TuningVerdicts, 4)
	assert.Equal(t, make([]tuning.Verdict, 4), d.TuningVerdicts)
	assert.Equal(t, NoString, d.ActiveString)
	assert.Nil(t, d.DetectedNote)
	assert.Equal(t, SourceMicrophone, d.Source)

	d, err = e.SelectTuning("fiveString")
	require.NoError(t, err)
	assert.Len(t, d.TuningVerdicts, 5)
	assert.Equal(t, "bass", d.Instrument)

	d, err = e.Select("ukulele", "baritone")
	require.NoError(t, err)
	assert.Equal(t, []string{"D3", "G3", "B3", "E4"}, d.Strings)
}

func TestSelectionErrorsKeepState(t *testing.T) {
	e := newTestEngine(t, &stubDetector{}, nil)

	_, err := e.SelectTuning("openZ")
	assert.ErrorIs(t, err, tuning.ErrUnknownTuning)

	d, err := e.SelectInstrument("lute")
	assert.ErrorIs(t, err, tuning.ErrUnknownInstrument)
	assert.Equal(t, "guitar", d.Instrument)
	assert.Equal(t, tuning.StandardTuning, d.Tuning)
}

func TestSettingsChanges(t *testing.T) {
	det := &stubDetector{}
	det.push(cents(110, 7), nil)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()

	d, err := e.Process(testFrame())
	require.NoError(t, err)
	assert.Equal(t, tuning.VerdictInTune, d.Verdict)

	// Verdicts judged under the old window are cleared
	d, err = e.SetTolerance(5)
	require.NoError(t, err)
	assert.Equal(t, 5.0, d.Tolerance)
	assert.Nil(t, d.DetectedNote)
	assert.Equal(t, NoString, d.ActiveString)
	assert.Equal(t, make([]tuning.Verdict, 6), d.TuningVerdicts)
	d, err = e.Process(testFrame())
	require.NoError(t, err)
	assert.Equal(t, tuning.VerdictSharp, d.Verdict)

	_, err = e.SetTolerance(0)
	assert.ErrorIs(t, err, tuning.ErrInvalidTolerance)

	d, err = e.SetReference(432)
	require.NoError(t, err)
	assert.Equal(t, 432.0, d.ReferenceHz)
	assert.Nil(t, d.DetectedNote)

	_, err = e.SetReference(-1)
	assert.ErrorIs(t, err, tuning.ErrInvalidReference)
	assert.Equal(t, 432.0, e.Settings().ReferenceHz)

	d, err = e.SetMode(tuning.ModeChromatic)
	require.NoError(t, err)
	assert.Equal(t, tuning.ModeChromatic, d.Mode)

	_, err = e.SetMode("harmonic")
	assert.ErrorIs(t, err, tuning.ErrUnknownMode)
}

func TestStopMicrophoneClears(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()
	_, err := e.Process(testFrame())
	require.NoError(t, err)

	d := e.StopMicrophone()
	assert.Equal(t, SourceIdle, d.Source)
	assert.Equal(t, make([]tuning.Verdict, 6), d.TuningVerdicts)
	assert.Equal(t, NoString, d.ActiveString)
	assert.Nil(t, d.DetectedNote)
	assert.Equal(t, -100.0, d.LevelDB)

	// Frames arriving after the stop are ignored
	d, err = e.Process(testFrame())
	require.NoError(t, err)
	assert.Nil(t, d.DetectedNote)
}

func TestReferenceTone(t *testing.T) {
	tone := &fakeTone{}
	e := newTestEngine(t, &stubDetector{}, tone)

	d, err := e.PlayReference(0)
	require.NoError(t, err)
	assert.Equal(t, SourceReference, d.Source)
	assert.Equal(t, 0, d.ActiveString)
	assert.Equal(t, tuning.VerdictInTune, d.TuningVerdicts[0])
	assert.True(t, tone.playing)
	assert.InDelta(t, 82.4069, tone.hz, 1e-3)

	// Retuning the reference retunes the playing tone
	d, err = e.SetReference(432)
	require.NoError(t, err)
	assert.Equal(t, tuning.VerdictInTune, d.TuningVerdicts[0])
	assert.InDelta(t, 82.4069*432/440, tone.hz, 1e-3)

	// Another string switches the tone without stopping it
	d, err = e.ToggleReference(5)
	require.NoError(t, err)
	assert.Equal(t, 5, d.ActiveString)
	assert.Equal(t, 2, tone.plays)
	assert.True(t, tone.playing)

	d, err = e.ToggleReference(5)
	require.NoError(t, err)
	assert.Equal(t, SourceIdle, d.Source)
	assert.Equal(t, NoString, d.ActiveString)
	assert.Equal(t, make([]tuning.Verdict, 6), d.TuningVerdicts)
	assert.False(t, tone.playing)

	_, err = e.PlayReference(6)
	assert.ErrorIs(t, err, ErrStringIndex)
	_, err = e.PlayReference(-1)
	assert.ErrorIs(t, err, ErrStringIndex)
}

func TestReferenceToneAndMicrophoneExclusive(t *testing.T) {
	tone := &fakeTone{}
	e := newTestEngine(t, &stubDetector{}, tone)

	_, err := e.PlayReference(2)
	require.NoError(t, err)

	d := e.StartMicrophone()
	assert.Equal(t, SourceMicrophone, d.Source)
	assert.False(t, tone.playing)
	assert.Equal(t, 1, tone.stops)

	_, err = e.PlayReference(2)
	assert.ErrorIs(t, err, ErrMicrophoneActive)
	assert.Equal(t, 1, tone.plays)
}

func TestSelectionStopsReferenceTone(t *testing.T) {
	tone := &fakeTone{}
	e := newTestEngine(t, &stubDetector{}, tone)

	_, err := e.PlayReference(1)
	require.NoError(t, err)

	d, err := e.SelectInstrument("mandolin")
	require.NoError(t, err)
	assert.Equal(t, SourceIdle, d.Source)
	assert.False(t, tone.playing)
	assert.Equal(t, make([]tuning.Verdict, 4), d.TuningVerdicts)
}

func TestReferenceTonePlayError(t *testing.T) {
	tone := &fakeTone{playErr: errors.New("no output device")}
	e := newTestEngine(t, &stubDetector{}, tone)

	d, err := e.PlayReference(0)
	assert.Error(t, err)
	assert.Equal(t, SourceIdle, d.Source)
	assert.Equal(t, NoString, d.ActiveString)
}

func TestStaleFrameDropped(t *testing.T) {
	det := &stubDetector{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	det.push(110, nil)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()

	done := make(chan Display, 1)
	go func() {
		d, err := e.Process(testFrame())
		assert.NoError(t, err)
		done <- d
	}()

	<-det.entered
	_, err := e.SelectInstrument("bass")
	require.NoError(t, err)
	close(det.block)

	d := <-done
	assert.Equal(t, "bass", d.Instrument)
	assert.Nil(t, d.DetectedNote)
	assert.Equal(t, make([]tuning.Verdict, 4), d.TuningVerdicts)
	assert.Nil(t, e.Snapshot().DetectedNote)
}

func TestDisplayVersionsIncrease(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	e := newTestEngine(t, det, nil)

	first := e.Snapshot()
	mic := e.StartMicrophone()
	live, err := e.Process(testFrame())
	require.NoError(t, err)
	selected, err := e.SelectInstrument("bass")
	require.NoError(t, err)

	assert.Less(t, first.Version, mic.Version)
	assert.Less(t, mic.Version, live.Version)
	assert.Less(t, live.Version, selected.Version)
}

func TestLowestDetectableGuard(t *testing.T) {
	limit := func(hz float64) func(*Config) {
		return func(c *Config) { c.LowestHz = hz }
	}

	// 2048 frames at 44.1 kHz resolve down to about 43 Hz
	e := newTestEngine(t, &stubDetector{}, nil, limit(43.07))
	d, err := e.SelectInstrument("bass")
	assert.ErrorIs(t, err, ErrBelowRange)
	assert.Equal(t, "guitar", d.Instrument)

	_, err = e.SelectTuning("dropD")
	assert.NoError(t, err)

	_, err = New(tuning.NewCatalog(), &stubDetector{}, nil, Config{
		Instrument: "bass",
		Tuning:     tuning.StandardTuning,
		Settings:   tuning.DefaultSettings(),
		LowestHz:   43.07,
	}, nil)
	assert.ErrorIs(t, err, ErrBelowRange)

	// E2 is 82.41 Hz at 440 but 80.89 Hz at 432
	e = newTestEngine(t, &stubDetector{}, nil, limit(81))
	_, err = e.SetReference(432)
	assert.ErrorIs(t, err, ErrBelowRange)
	assert.Equal(t, 440.0, e.Settings().ReferenceHz)

	e = newTestEngine(t, &stubDetector{}, nil, limit(21.53))
	d, err = e.Select("bass", "fiveString")
	require.NoError(t, err)
	assert.Len(t, d.Strings, 5)
}

func TestDisplayJSON(t *testing.T) {
	det := &stubDetector{}
	det.push(110, nil)
	e := newTestEngine(t, det, nil)
	e.StartMicrophone()
	d, err := e.Process(testFrame())
	require.NoError(t, err)

	b, err := json.Marshal(d)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(b, &out))
	assert.Equal(t, "A2", out["detected_note"])
	assert.Equal(t, "in-tune", out["verdict"])
	assert.Equal(t, "microphone", out["source"])
	assert.Equal(t, []any{"none", "in-tune", "none", "none", "none", "none"}, out["tuning_verdicts"])
	assert.Equal(t, float64(1), out["active_string"])
}

func TestMedian(t *testing.T) {
	m := newMedian(3)
	assert.Equal(t, 5.0, m.Add(5))
	assert.Equal(t, 6.0, m.Add(7))
	assert.Equal(t, 5.0, m.Add(1))
	assert.Equal(t, 7.0, m.Add(100)) // window is now 7, 1, 100

	m.Reset()
	assert.Equal(t, 2.0, m.Add(2))

	pass := newMedian(0)
	assert.Equal(t, 3.0, pass.Add(3))
	assert.Equal(t, 9.0, pass.Add(9))
}

// Package tuner ties pitch detection and classification to the selected
// instrument, tuning and input source, and produces display snapshots.
package tuner

import (
	"errors"
	"fmt"
	"sync"

	"github.com/0xlemi/polytune/internal/audio"
	"github.com/0xlemi/polytune/internal/pitch"
	"github.com/0xlemi/polytune/internal/tuning"
	"go.uber.org/zap"
)

// NoString marks the absence of an active string.
const NoString = -1

// Errors
var (
	ErrMicrophoneActive = errors.New("reference tones are disabled while the microphone is active")
	ErrStringIndex      = errors.New("string index out of range")
	ErrBelowRange       = errors.New("string below the lowest detectable frequency")
)

// Source is what currently drives the verdicts
type Source string

const (
	SourceIdle       Source = "idle"
	SourceMicrophone Source = "microphone"
	SourceReference  Source = "reference"
)

// ToneSink plays the reference tone for a string
type ToneSink interface {
	Play(hz float64) error
	SetFrequency(hz float64)
	Stop() error
}

// Config is the initial engine state
type Config struct {
	Instrument string
	Tuning     string
	Settings   tuning.Settings
	Smoothing  int     // median window over consecutive estimates, 1 disables
	LowestHz   float64 // lowest fundamental the frames resolve, 0 disables the check
}

// Display is the state pushed to the display layer after every change.
// Version orders snapshots: a display older than one already shown is stale.
type Display struct {
	Version        uint64           `json:"version"`
	Instrument     string           `json:"instrument"`
	Tuning         string           `json:"tuning"`
	Strings        []string         `json:"strings"`
	Mode           tuning.Mode      `json:"mode"`
	ReferenceHz    float64          `json:"reference_hz"`
	Tolerance      float64          `json:"cents_tolerance"`
	Source         Source           `json:"source"`
	DetectedNote   *pitch.Note      `json:"detected_note"`
	DetectedHz     float64          `json:"detected_hz"`
	DetectedCents  int              `json:"detected_cents"`
	Deviation      int              `json:"deviation"`
	Verdict        tuning.Verdict   `json:"verdict"`
	TuningVerdicts []tuning.Verdict `json:"tuning_verdicts"`
	ActiveString   int              `json:"active_string"`
	LevelDB        float64          `json:"level_db"`
}

// Engine is the tuner state machine. It is safe for concurrent use; every
// write happens under one mutex so each cycle has at most one active string.
type Engine struct {
	mu       sync.Mutex
	catalog  *tuning.Catalog
	detector pitch.Detector
	tone     ToneSink
	logger   *zap.Logger

	preset    tuning.Preset
	settings  tuning.Settings
	source    Source
	smoother  *median
	lowestHz  float64
	gen       uint64 // bumped on every reset so in-flight frames are dropped
	version   uint64 // bumped on every snapshot
	verdicts  []tuning.Verdict
	active    int
	detected  *pitch.Pitch
	deviation int
	verdict   tuning.Verdict
	levelDB   float64
}

// New creates an engine with the preset named in cfg. A nil tone sink
// disables reference tone playback; a nil logger discards logs.
func New(catalog *tuning.Catalog, detector pitch.Detector, tone ToneSink, cfg Config, logger *zap.Logger) (*Engine, error) {
	if err := cfg.Settings.Validate(); err != nil {
		return nil, err
	}
	preset, err := catalog.Lookup(cfg.Instrument, cfg.Tuning)
	if err != nil {
		return nil, err
	}
	if err := checkRange(preset, cfg.Settings.ReferenceHz, cfg.LowestHz); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		catalog:  catalog,
		detector: detector,
		tone:     tone,
		logger:   logger,
		preset:   preset,
		settings: cfg.Settings,
		source:   SourceIdle,
		smoother: newMedian(cfg.Smoothing),
		lowestHz: cfg.LowestHz,
		levelDB:  -100,
	}
	e.resetLocked()
	return e, nil
}

// Process analyzes one frame from the live input. Frames are ignored unless
// the microphone source is active; frames without a usable pitch leave the
// verdicts untouched.
func (e *Engine) Process(frame *audio.Frame) (Display, error) {
	if err := frame.Validate(); err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	gen, source := e.gen, e.source
	e.mu.Unlock()

	if source != SourceMicrophone {
		return e.Snapshot(), nil
	}

	_, db := frame.Level()
	hz, detectErr := e.detector.DetectPitch(frame)

	e.mu.Lock()
	defer e.mu.Unlock()

	// A selection change raced with detection; the estimate belongs to the old state
	if gen != e.gen {
		return e.snapshotLocked(), nil
	}
	e.levelDB = db

	if detectErr != nil {
		if pitch.IsNoPitch(detectErr) {
			e.logger.Debug("no pitch", zap.Error(detectErr), zap.Float64("level_db", db))
			return e.snapshotLocked(), nil
		}
		return e.snapshotLocked(), fmt.Errorf("detect pitch: %w", detectErr)
	}

	hz = e.smoother.Add(hz)

	c, err := tuning.Classify(hz, e.preset, e.settings)
	if err != nil {
		return e.snapshotLocked(), err
	}

	detected := c.Detected
	e.detected = &detected
	e.deviation = c.Deviation
	e.verdict = c.Verdict
	e.active = c.StringIndex
	e.verdicts = tuning.Verdicts(len(e.preset.Strings), c.StringIndex, c.Verdict)

	e.logger.Debug("pitch",
		zap.Float64("hz", hz),
		zap.Stringer("note", detected.Note),
		zap.Int("cents", detected.Cents),
		zap.Int("string", c.StringIndex),
		zap.Stringer("verdict", c.Verdict),
	)

	return e.snapshotLocked(), nil
}

// SelectInstrument switches instrument and resets to its standard tuning.
func (e *Engine) SelectInstrument(instrument string) (Display, error) {
	return e.selectPreset(instrument, tuning.StandardTuning)
}

// SelectTuning switches tuning within the current instrument.
func (e *Engine) SelectTuning(name string) (Display, error) {
	e.mu.Lock()
	instrument := e.preset.Instrument
	e.mu.Unlock()
	return e.selectPreset(instrument, name)
}

// Select switches instrument and tuning together.
func (e *Engine) Select(instrument, name string) (Display, error) {
	return e.selectPreset(instrument, name)
}

func (e *Engine) selectPreset(instrument, name string) (Display, error) {
	preset, err := e.catalog.Lookup(instrument, name)
	if err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkRange(preset, e.settings.ReferenceHz, e.lowestHz); err != nil {
		return e.snapshotLocked(), err
	}

	e.stopToneLocked()
	e.preset = preset
	e.resetLocked()

	e.logger.Info("tuning selected",
		zap.String("instrument", instrument),
		zap.String("tuning", name),
		zap.Strings("strings", preset.Labels()),
	)
	return e.snapshotLocked(), nil
}

// SetMode switches between poly and chromatic mode.
func (e *Engine) SetMode(mode tuning.Mode) (Display, error) {
	if _, err := tuning.ParseMode(string(mode)); err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings.Mode = mode
	e.resetLocked()
	e.logger.Info("mode changed", zap.String("mode", string(mode)))
	return e.snapshotLocked(), nil
}

// SetReference changes the A4 reference pitch. A playing reference tone is
// retuned; otherwise verdicts computed against the old reference are cleared.
func (e *Engine) SetReference(hz float64) (Display, error) {
	s := e.Settings()
	s.ReferenceHz = hz
	if err := s.Validate(); err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := checkRange(e.preset, hz, e.lowestHz); err != nil {
		return e.snapshotLocked(), err
	}

	e.settings.ReferenceHz = hz
	if e.source == SourceReference && e.tone != nil {
		e.tone.SetFrequency(e.preset.Strings[e.active].Frequency(hz))
	} else {
		e.resetLocked()
	}
	e.logger.Info("reference changed", zap.Float64("reference_hz", hz))
	return e.snapshotLocked(), nil
}

// SetTolerance changes the in-tune window in cents and clears verdicts
// judged under the old window.
func (e *Engine) SetTolerance(cents float64) (Display, error) {
	s := e.Settings()
	s.Tolerance = cents
	if err := s.Validate(); err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.settings.Tolerance = cents
	e.resetLocked()
	e.logger.Info("tolerance changed", zap.Float64("cents_tolerance", cents))
	return e.snapshotLocked(), nil
}

// StartMicrophone makes live frames drive the verdicts, stopping any reference tone.
func (e *Engine) StartMicrophone() Display {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopToneLocked()
	e.source = SourceMicrophone
	e.resetLocked()
	e.logger.Info("microphone started")
	return e.snapshotLocked()
}

// StopMicrophone clears every verdict so nothing stale remains on screen.
func (e *Engine) StopMicrophone() Display {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == SourceMicrophone {
		e.source = SourceIdle
		e.logger.Info("microphone stopped")
	}
	e.resetLocked()
	e.levelDB = -100
	return e.snapshotLocked()
}

// PlayReference plays the target tone of a string and marks that string
// in tune, since the tone is the target by definition.
func (e *Engine) PlayReference(index int) (Display, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == SourceMicrophone {
		return e.snapshotLocked(), ErrMicrophoneActive
	}
	if index < 0 || index >= len(e.preset.Strings) {
		return e.snapshotLocked(), fmt.Errorf("%w: %d", ErrStringIndex, index)
	}

	hz := e.preset.Strings[index].Frequency(e.settings.ReferenceHz)
	if e.tone != nil {
		if err := e.tone.Play(hz); err != nil {
			e.source = SourceIdle
			e.resetLocked()
			return e.snapshotLocked(), fmt.Errorf("play reference tone: %w", err)
		}
	}

	e.source = SourceReference
	e.active = index
	e.resetLocked()

	e.logger.Info("reference tone",
		zap.Int("string", index),
		zap.Stringer("note", e.preset.Strings[index]),
		zap.Float64("hz", hz),
	)
	return e.snapshotLocked(), nil
}

// StopReference stops the reference tone and clears the verdicts.
func (e *Engine) StopReference() Display {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.source == SourceReference {
		e.stopToneLocked()
		e.resetLocked()
	}
	return e.snapshotLocked()
}

// ToggleReference stops the tone if index is already playing, otherwise plays it.
func (e *Engine) ToggleReference(index int) (Display, error) {
	e.mu.Lock()
	playing := e.source == SourceReference && e.active == index
	e.mu.Unlock()

	if playing {
		return e.StopReference(), nil
	}
	return e.PlayReference(index)
}

// Settings returns the current classification settings.
func (e *Engine) Settings() tuning.Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Preset returns the active preset.
func (e *Engine) Preset() tuning.Preset {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preset
}

// Catalog returns the preset catalog the engine selects from.
func (e *Engine) Catalog() *tuning.Catalog {
	return e.catalog
}

// Snapshot returns a copy of the current display state.
func (e *Engine) Snapshot() Display {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// checkRange rejects a preset whose lowest string lies below lowestHz.
func checkRange(p tuning.Preset, referenceHz, lowestHz float64) error {
	if lowestHz <= 0 {
		return nil
	}
	if low := p.Lowest(referenceHz); low < lowestHz {
		return fmt.Errorf("%w: %s %s reaches %.2f Hz, frames resolve down to %.2f Hz",
			ErrBelowRange, p.Instrument, p.Name, low, lowestHz)
	}
	return nil
}

// stopToneLocked silences a playing reference tone and returns to idle.
func (e *Engine) stopToneLocked() {
	if e.source != SourceReference {
		return
	}
	if e.tone != nil {
		if err := e.tone.Stop(); err != nil {
			e.logger.Warn("stop reference tone", zap.Error(err))
		}
	}
	e.source = SourceIdle
	e.active = NoString
}

// resetLocked clears detection state and sizes the verdicts to the preset.
// A playing reference tone keeps its string marked in tune.
func (e *Engine) resetLocked() {
	e.gen++
	e.smoother.Reset()
	e.detected = nil
	e.deviation = 0
	e.verdict = tuning.VerdictNone

	if e.source == SourceReference {
		e.verdicts = tuning.Verdicts(len(e.preset.Strings), e.active, tuning.VerdictInTune)
		return
	}
	e.active = NoString
	e.verdicts = tuning.Verdicts(len(e.preset.Strings), NoString, tuning.VerdictNone)
}

func (e *Engine) snapshotLocked() Display {
	e.version++
	d := Display{
		Version:        e.version,
		Instrument:     e.preset.Instrument,
		Tuning:         e.preset.Name,
		Strings:        e.preset.Labels(),
		Mode:           e.settings.Mode,
		ReferenceHz:    e.settings.ReferenceHz,
		Tolerance:      e.settings.Tolerance,
		Source:         e.source,
		Deviation:      e.deviation,
		Verdict:        e.verdict,
		TuningVerdicts: append([]tuning.Verdict(nil), e.verdicts...),
		ActiveString:   e.active,
		LevelDB:        e.levelDB,
	}
	if e.detected != nil {
		note := e.detected.Note
		d.DetectedNote = &note
		d.DetectedHz = e.detected.Frequency
		d.DetectedCents = e.detected.Cents
	}
	return d
}

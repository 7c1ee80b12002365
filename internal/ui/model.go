package ui

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/0xlemi/polytune/internal/tuner"
	"github.com/0xlemi/polytune/internal/tuning"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// meterCells is the number of cells of the cents meter, covering -50..+50
const meterCells = 21

var (
	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			PaddingLeft(2).
			PaddingRight(2).
			MarginBottom(1)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CCCCCC"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F5F"))

	activeStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#22C55E"))

	// Verdict colors
	verdictColors = map[tuning.Verdict]string{
		tuning.VerdictNone:   "#3F3F46",
		tuning.VerdictFlat:   "#EAB308",
		tuning.VerdictInTune: "#22C55E",
		tuning.VerdictSharp:  "#EF4444",
	}

	verdictArrows = map[tuning.Verdict]string{
		tuning.VerdictNone:   " ",
		tuning.VerdictFlat:   "▲",
		tuning.VerdictInTune: "●",
		tuning.VerdictSharp:  "▼",
	}

	// Note colors
	noteColors = map[string]string{
		"C": "#E8D6B0", // Beige
		"D": "#A020F0", // Purple
		"E": "#FFFF00", // Yellow
		"F": "#FFA500", // Orange
		"G": "#00FF00", // Green
		"A": "#FF0000", // Red
		"B": "#0000FF", // Blue
	}
)

// Microphone switches live capture on and off
type Microphone interface {
	Toggle() error
	Active() bool
}

// Muter mutes the reference tone output
type Muter interface {
	SetMuted(bool)
	Muted() bool
}

// DisplayMsg carries a new engine snapshot
type DisplayMsg tuner.Display

// TickMsg represents a timer tick
type TickMsg time.Time

// micToggledMsg reports the outcome of a microphone toggle
type micToggledMsg struct {
	err error
}

// Model represents the UI state
type Model struct {
	engine  *tuner.Engine
	mic     Microphone
	muter   Muter
	display tuner.Display
	err     error
	errTime time.Time
	width   int
	height  int
}

// NewModel creates a new UI model. mic and muter may be nil.
func NewModel(engine *tuner.Engine, mic Microphone, muter Muter) Model {
	return Model{
		engine:  engine,
		mic:     mic,
		muter:   muter,
		display: engine.Snapshot(),
	}
}

// Init initializes the UI model
func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(time.Millisecond*100, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update updates the UI model based on messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case TickMsg:
		// Errors fade after a few seconds
		if m.err != nil && time.Since(m.errTime) > 3*time.Second {
			m.err = nil
		}
		return m, tick()

	case DisplayMsg:
		// The capture loop may deliver a snapshot taken before a key press
		if msg.Version < m.display.Version {
			return m, nil
		}
		m.display = tuner.Display(msg)

	case micToggledMsg:
		m.display = m.engine.Snapshot()
		if msg.err != nil {
			m.err, m.errTime = msg.err, time.Now()
		}
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	var (
		d   tuner.Display
		err error
	)

	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "left", "right":
		d, err = m.engine.SelectInstrument(m.cycle(m.engine.Catalog().Instruments(), m.display.Instrument, key == "right"))

	case "up", "down":
		d, err = m.engine.SelectTuning(m.cycle(m.engine.Catalog().Tunings(m.display.Instrument), m.display.Tuning, key == "down"))

	case "m":
		mode := tuning.ModeChromatic
		if m.display.Mode == tuning.ModeChromatic {
			mode = tuning.ModePoly
		}
		d, err = m.engine.SetMode(mode)

	case "r":
		ref := 432.0
		if m.display.ReferenceHz == 432 {
			ref = 440
		}
		d, err = m.engine.SetReference(ref)

	case " ":
		if m.mic == nil {
			return m, nil
		}
		// Stopping waits for the capture loop, which may be blocked sending
		// to this program, so toggle off the update goroutine
		mic := m.mic
		return m, func() tea.Msg {
			return micToggledMsg{err: mic.Toggle()}
		}

	case "s":
		if m.muter != nil {
			m.muter.SetMuted(!m.muter.Muted())
		}
		d = m.engine.Snapshot()

	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		d, err = m.engine.ToggleReference(int(key[0] - '1'))

	default:
		return m, nil
	}

	m.display = d
	if err != nil {
		m.err, m.errTime = err, time.Now()
	}
	return m, nil
}

// cycle returns the entry after (or before) current, wrapping around.
func (m Model) cycle(options []string, current string, forward bool) string {
	if len(options) == 0 {
		return current
	}
	i := slices.Index(options, current)
	if forward {
		i++
	} else {
		i--
	}
	return options[(i+len(options))%len(options)]
}

// View renders the UI
func (m Model) View() string {
	d := m.display

	s := titleStyle.Render("Polytune - Instrument Tuner")
	s += "\n"
	s += m.statusLine() + "\n\n"

	if d.Mode == tuning.ModePoly {
		s += renderStrings(d) + "\n\n"
	}

	if d.DetectedNote != nil {
		s += renderNote(d.DetectedNote.Name, d.DetectedNote.String()) + "\n"
		s += renderMeter(d.Deviation) + "\n"

		info := fmt.Sprintf("Frequency: %.2f Hz | Cents: %+d", d.DetectedHz, d.DetectedCents)
		if d.Mode == tuning.ModePoly && d.ActiveString != tuner.NoString {
			info += fmt.Sprintf(" | String %d: %+d cents", d.ActiveString+1, d.Deviation)
		}
		s += infoStyle.Render(info)
	} else if d.Source == tuner.SourceMicrophone {
		s += infoStyle.Render("Listening for audio...")
	} else if d.Source == tuner.SourceReference {
		s += infoStyle.Render(fmt.Sprintf("Playing reference for string %d (%s)", d.ActiveString+1, d.Strings[d.ActiveString]))
	} else {
		s += infoStyle.Render("Press space to start the microphone, 1-9 to hear a string")
	}

	if d.Source == tuner.SourceMicrophone {
		s += "\n" + infoStyle.Render(fmt.Sprintf("Input level: %.1f dB", d.LevelDB))
	}

	if m.err != nil {
		s += "\n\n" + errorStyle.Render(m.err.Error())
	}

	s += "\n\n"
	s += infoStyle.Render("←/→ instrument  ↑/↓ tuning  m mode  r reference  space mic  1-9 tone  s mute  q quit")

	return s
}

func (m Model) statusLine() string {
	d := m.display
	parts := []string{
		tuning.DisplayName(d.Instrument),
		tuning.DisplayName(d.Tuning),
		strings.ToUpper(string(d.Mode)),
		fmt.Sprintf("A4=%gHz", d.ReferenceHz),
	}

	mic := "MIC OFF"
	if d.Source == tuner.SourceMicrophone {
		mic = activeStyle.Render("MIC ON")
	}
	parts = append(parts, mic)

	if m.muter != nil && m.muter.Muted() {
		parts = append(parts, "MUTED")
	}
	return infoStyle.Render(strings.Join(parts, " · "))
}

// renderStrings draws one column per string colored by its verdict.
func renderStrings(d tuner.Display) string {
	cols := make([]string, len(d.Strings))
	for i, label := range d.Strings {
		v := tuning.VerdictNone
		if i < len(d.TuningVerdicts) {
			v = d.TuningVerdicts[i]
		}

		style := lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color(verdictColors[v])).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333333")).
			Width(5).
			Align(lipgloss.Center)
		if i == d.ActiveString {
			style = style.BorderForeground(lipgloss.Color("#FAFAFA"))
		}

		cols[i] = style.Render(verdictArrows[v] + "\n" + label)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

// renderNote draws the note name; sharps get split colors
func renderNote(name, text string) string {
	if !strings.HasSuffix(name, "#") {
		return lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color(noteColors[name])).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333333")).
			Padding(1, 3).
			Render(text)
	}

	base := name[:1]
	left := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color(noteColors[base])).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#333333")).
		BorderRight(false).
		PaddingLeft(2).
		PaddingRight(1).
		PaddingTop(1).
		PaddingBottom(1)
	right := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color(noteColors[nextNatural(base)])).
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#333333")).
		BorderLeft(false).
		PaddingLeft(1).
		PaddingRight(2).
		PaddingTop(1).
		PaddingBottom(1)

	return lipgloss.JoinHorizontal(lipgloss.Top, left.Render(base), right.Render(text[1:]))
}

// nextNatural returns the natural note above a sharp's base note
func nextNatural(note string) string {
	const naturals = "CDEFGAB"
	i := strings.Index(naturals, note)
	if i < 0 {
		return "C"
	}
	return string(naturals[(i+1)%len(naturals)])
}

// renderMeter draws a -50..+50 cent scale with a marker at cents.
func renderMeter(cents int) string {
	pos := (cents + 50) * (meterCells - 1) / 100
	if pos < 0 {
		pos = 0
	}
	if pos > meterCells-1 {
		pos = meterCells - 1
	}

	var b strings.Builder
	b.WriteString("♭ ")
	for i := 0; i < meterCells; i++ {
		switch {
		case i == pos:
			b.WriteString("█")
		case i == meterCells/2:
			b.WriteString("┃")
		default:
			b.WriteString("─")
		}
	}
	b.WriteString(" ♯")
	return b.String()
}

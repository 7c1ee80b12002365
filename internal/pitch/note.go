package pitch

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// All note names in chromatic order
var noteNames = []string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// aIndex is the position of A in noteNames; A4 anchors the reference pitch.
const aIndex = 9

// Note represents a musical note
type Note struct {
	Name   string // e.g., "A", "A#", "B"
	Octave int    // e.g., 4 for middle C (C4)
}

// ParseNote parses scientific pitch notation such as "E2", "C#3" or "Bb3".
// Flat spellings are normalized to the sharp spelling ("Eb2" becomes "D#2").
func ParseNote(s string) (Note, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return Note{}, fmt.Errorf("%w: %q", ErrUnknownNote, s)
	}

	index := strings.IndexByte("C D EF G A B", s[0])
	if index < 0 {
		return Note{}, fmt.Errorf("%w: %q", ErrUnknownNote, s)
	}

	rest := s[1:]
	switch rest[0] {
	case '#':
		index++
		rest = rest[1:]
	case 'b':
		index--
		rest = rest[1:]
	}

	octave, err := strconv.Atoi(rest)
	if err != nil {
		return Note{}, fmt.Errorf("%w: %q", ErrUnknownNote, s)
	}

	// Cb and B# cross the octave boundary
	if index < 0 {
		index += 12
		octave--
	} else if index >= 12 {
		index -= 12
		octave++
	}

	return Note{Name: noteNames[index], Octave: octave}, nil
}

// MustParseNote is like ParseNote but panics on malformed input.
func MustParseNote(s string) Note {
	n, err := ParseNote(s)
	if err != nil {
		panic(err)
	}
	return n
}

// String returns the note in scientific pitch notation, e.g. "A4".
func (n Note) String() string {
	return n.Name + strconv.Itoa(n.Octave)
}

// MarshalText implements encoding.TextMarshaler.
func (n Note) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Note) UnmarshalText(text []byte) error {
	parsed, err := ParseNote(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// Semitones returns the signed distance from A4 in semitones.
func (n Note) Semitones() int {
	return (n.Octave-4)*12 + (pitchClass(n.Name) - aIndex)
}

// Frequency returns the equal-tempered frequency of the note with A4 tuned to referenceHz.
func (n Note) Frequency(referenceHz float64) float64 {
	return referenceHz * math.Pow(2, float64(n.Semitones())/12)
}

// NoteToFrequency parses a note name and returns its frequency.
func NoteToFrequency(note string, referenceHz float64) (float64, error) {
	n, err := ParseNote(note)
	if err != nil {
		return 0, err
	}
	return n.Frequency(referenceHz), nil
}

// FrequencyToNote returns the nearest equal-tempered note and the deviation
// from it in cents, rounded to the nearest integer.
// Non-positive inputs yield the zero Note.
func FrequencyToNote(frequency, referenceHz float64) (Note, int) {
	if frequency <= 0 || referenceHz <= 0 {
		return Note{}, 0
	}

	// A4 = referenceHz, calculate semitones from A4
	semitones := 12 * math.Log2(frequency/referenceHz)
	nearest := math.Round(semitones)
	cents := int(math.Round((semitones - nearest) * 100))

	return NoteFromSemitones(int(nearest)), cents
}

// NoteFromSemitones returns the note the given number of semitones away from A4.
func NoteFromSemitones(semitones int) Note {
	// C starts the octave, nine semitones below A
	fromC := semitones + aIndex
	index := ((fromC % 12) + 12) % 12
	return Note{Name: noteNames[index], Octave: 4 + int(math.Floor(float64(fromC)/12))}
}

// pitchClass returns the index of name in noteNames, or -1.
func pitchClass(name string) int {
	for i, n := range noteNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Cents returns the interval from target to frequency in cents.
func Cents(frequency, target float64) float64 {
	return 1200 * math.Log2(frequency/target)
}

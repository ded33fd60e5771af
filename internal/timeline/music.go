package timeline

// Note is one of the twelve pitch classes, named with sharps.
type Note string

// Notes lists the pitch classes in chromatic order starting at C.
var Notes = []Note{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// Equal-tempered frequencies of the octave starting at middle C.
var noteFrequencies = map[Note]float64{
	"C":  261.63,
	"C#": 277.18,
	"D":  293.66,
	"D#": 311.13,
	"E":  329.63,
	"F":  349.23,
	"F#": 369.99,
	"G":  392.00,
	"G#": 415.30,
	"A":  440.00,
	"A#": 466.16,
	"B":  493.88,
}

// Frequency returns the base frequency of n in Hz.
func (n Note) Frequency() (float64, bool) {
	f, ok := noteFrequencies[n]
	return f, ok
}

// Index returns the chromatic position of n (C=0), or -1.
func (n Note) Index() int {
	for i, v := range Notes {
		if v == n {
			return i
		}
	}
	return -1
}

// Transpose returns the pitch class semitones above n, wrapping at the octave.
func (n Note) Transpose(semitones int) Note {
	i := n.Index()
	if i < 0 {
		return n
	}
	return Notes[((i+semitones)%12+12)%12]
}

// ChordKind names an interval set.
type ChordKind string

const (
	ChordMajor       ChordKind = "Major"
	ChordMinor       ChordKind = "Minor"
	ChordDiminished  ChordKind = "Diminished"
	ChordMajor7th    ChordKind = "Major 7th"
	ChordMinor7th    ChordKind = "Minor 7th"
	ChordDominant7th ChordKind = "Dominant 7th"
)

// Chords lists the catalog in display order.
var Chords = []ChordKind{ChordMajor, ChordMinor, ChordDiminished, ChordMajor7th, ChordMinor7th, ChordDominant7th}

var chordIntervals = map[ChordKind][]int{
	ChordMajor:       {0, 4, 7},
	ChordMinor:       {0, 3, 7},
	ChordDiminished:  {0, 3, 6},
	ChordMajor7th:    {0, 4, 7, 11},
	ChordMinor7th:    {0, 3, 7, 10},
	ChordDominant7th: {0, 4, 7, 10},
}

// Intervals returns the semitone offsets from the root, lowest first.
func (c ChordKind) Intervals() ([]int, bool) {
	iv, ok := chordIntervals[c]
	if !ok {
		return nil, false
	}
	out := make([]int, len(iv))
	copy(out, iv)
	return out, true
}

// Package midifile exports a timeline's chord events as a Standard MIDI File.
package midifile

import (
	"cmp"
	"io"
	"math"
	"slices"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/smf"

	"github.com/cbegin/soundscape-go/internal/timeline"
)

const (
	// TicksPerQuarter is the file resolution.
	TicksPerQuarter = 960
	// BPM is fixed so that one beat is half a second.
	BPM = 120
	// TicksPerSecond follows from the resolution and tempo.
	TicksPerSecond = TicksPerQuarter * BPM / 60

	middleC  = 60
	velocity = 100
)

type noteEvent struct {
	tick uint32
	key  uint8
	on   bool
}

// Export writes tl as a format 1 file: a tempo track followed by one track per
// lane, with lane i on channel i. Sample events have no pitch and are left out.
// Stretched chords are transposed by their playback rate.
func Export(tl timeline.Timeline, lanes int, w io.Writer) error {
	s := smf.New()
	s.TimeFormat = smf.MetricTicks(TicksPerQuarter)

	var tempo smf.Track
	tempo.Add(0, smf.MetaMeter(4, 4))
	tempo.Add(0, smf.MetaTempo(BPM))
	tempo.Close(0)
	if err := s.Add(tempo); err != nil {
		return fault.Wrap(err, fmsg.With("add tempo track"))
	}

	for lane := 0; lane < lanes; lane++ {
		notes := laneNotes(tl, lane)
		ch := uint8(lane % 16)

		var track smf.Track
		var last uint32
		for _, n := range notes {
			delta := n.tick - last
			last = n.tick
			if n.on {
				track.Add(delta, midi.NoteOn(ch, n.key, velocity))
			} else {
				track.Add(delta, midi.NoteOff(ch, n.key))
			}
		}
		track.Close(0)
		if err := s.Add(track); err != nil {
			return fault.Wrap(err, fmsg.With("add lane track"))
		}
	}

	if _, err := s.WriteTo(w); err != nil {
		return fault.Wrap(err, fmsg.With("write midi file"))
	}
	return nil
}

// laneNotes returns the note on and off messages of one lane in time order.
// At equal ticks offs come first so a repeated key retriggers cleanly.
func laneNotes(tl timeline.Timeline, lane int) []noteEvent {
	var out []noteEvent
	for _, ev := range tl.Events() {
		if ev.Lane != lane || ev.Kind != timeline.KindSynth {
			continue
		}
		keys := Keys(ev)
		on, off := Ticks(ev.Start), Ticks(ev.End())
		if off <= on {
			off = on + 1
		}
		for _, k := range keys {
			out = append(out, noteEvent{tick: on, key: k, on: true}, noteEvent{tick: off, key: k})
		}
	}
	slices.SortStableFunc(out, func(a, b noteEvent) int {
		if c := cmp.Compare(a.tick, b.tick); c != 0 {
			return c
		}
		switch {
		case a.on == b.on:
			return 0
		case !a.on:
			return -1
		default:
			return 1
		}
	})
	return out
}

// Keys returns the MIDI keys a synth event sounds, lowest first.
func Keys(ev timeline.Event) []uint8 {
	root := ev.Synth.Root.Index()
	intervals, ok := ev.Synth.Chord.Intervals()
	if root < 0 || !ok {
		return nil
	}
	shift := int(math.Round(12 * math.Log2(ev.PlaybackRate())))
	keys := make([]uint8, 0, len(intervals))
	for _, iv := range intervals {
		k := middleC + root + iv + shift
		keys = append(keys, uint8(min(max(k, 0), 127)))
	}
	return keys
}

// Ticks converts seconds to file ticks.
func Ticks(seconds float64) uint32 {
	if seconds <= 0 {
		return 0
	}
	return uint32(math.Round(seconds * TicksPerSecond))
}

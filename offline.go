package soundscape

import (
	"encoding/binary"
	"log/slog"
	"math"
	"slices"

	"github.com/cbegin/soundscape-go/internal/synth"
	"github.com/cbegin/soundscape-go/internal/timeline"
	"github.com/cbegin/soundscape-go/internal/transport"
)

// TailSeconds is rendered past the last event so the reverb can ring out.
const TailSeconds = 2.0

const offlineBlock = 256

// engineRenderer adapts a synth engine to the transport. It keeps the first
// render error and, given a logger, reports failures as they happen.
type engineRenderer struct {
	engine *synth.Engine
	lookup synth.Lookup
	log    *slog.Logger
	err    error
}

func (r *engineRenderer) Render(ev timeline.Event) {
	if ev.Kind == timeline.KindSample && r.log != nil {
		if _, ok := r.lookup(ev.Sample.SourceID); !ok {
			r.log.Warn("sample not loaded, skipping", "event", ev.ID, "source", ev.Sample.SourceID)
		}
	}
	err := r.engine.Render(ev, r.lookup)
	if err == nil {
		return
	}
	if r.log != nil {
		r.log.Warn("render failed", "event", ev.ID, "error", err)
	}
	if r.err == nil {
		r.err = err
	}
}

func (r *engineRenderer) StopAll() { r.engine.StopAll() }

// take returns the first error since the last call and clears it.
func (r *engineRenderer) take() error {
	err := r.err
	r.err = nil
	return err
}

// RenderTimeline plays tl through an offline engine built from params and
// returns interleaved stereo samples covering the last event plus
// TailSeconds. Events start on their exact frame.
func RenderTimeline(tl timeline.Timeline, lookup synth.Lookup, params synth.Params, opts ...synth.Option) ([]float32, error) {
	engine := synth.New(params, append([]synth.Option{synth.WithoutDevice()}, opts...)...)
	sr := float64(engine.SampleRate())

	total := int64(math.Ceil((tl.End() + TailSeconds) * sr))
	out := make([]float32, total*2)
	if tl.Empty() {
		return out, nil
	}

	rend := &engineRenderer{engine: engine, lookup: lookup}
	tr := transport.New(rend, transport.Options{Duration: float64(total) / sr})
	starts := startFrames(tl, sr)

	// Playback starts at 0 and the tick clock leads the frame count slightly,
	// so an event due on this exact frame is not missed to float rounding.
	clock := func(frame int64) float64 { return float64(frame)/sr + 1e-9 }
	tr.Play(tl, 0)

	var frame int64
	for frame < total {
		tr.Tick(clock(frame))
		if err := rend.take(); err != nil {
			return nil, err
		}
		next := min(frame+offlineBlock, total)
		for _, s := range starts {
			if s > frame {
				next = min(next, s)
				break
			}
		}
		engine.Process(out[frame*2 : next*2])
		frame = next
	}
	tr.Stop()
	return out, nil
}

// startFrames returns each event's first frame in ascending order.
func startFrames(tl timeline.Timeline, sr float64) []int64 {
	frames := make([]int64, 0, tl.Len())
	for _, ev := range tl.Events() {
		frames = append(frames, int64(math.Ceil(ev.Start*sr-1e-6)))
	}
	slices.Sort(frames)
	return frames
}

func EncodeWAVFloat32LE(samples []float32, sampleRate int, channels int) []byte {
	dataSize := len(samples) * 4
	byteRate := sampleRate * channels * 4
	blockAlign := channels * 4
	chunkSize := 36 + dataSize
	out := make([]byte, 44+dataSize)
	copy(out[0:], []byte("RIFF"))
	binary.LittleEndian.PutUint32(out[4:], uint32(chunkSize))
	copy(out[8:], []byte("WAVE"))
	copy(out[12:], []byte("fmt "))
	binary.LittleEndian.PutUint32(out[16:], 16)
	binary.LittleEndian.PutUint16(out[20:], 3)
	binary.LittleEndian.PutUint16(out[22:], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:], 32)
	copy(out[36:], []byte("data"))
	binary.LittleEndian.PutUint32(out[40:], uint32(dataSize))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[44+i*4:], math.Float32bits(s))
	}
	return out
}

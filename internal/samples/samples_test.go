package samples

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// pcm16WAV builds a 16-bit stereo PCM WAV file.
func pcm16WAV(rate int, frames [][2]int16) []byte {
	dataLen := len(frames) * 4
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+dataLen))
	b.WriteString("WAVE")
	b.WriteString("fmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*4))
	binary.Write(&b, binary.LittleEndian, uint16(4))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(dataLen))
	for _, f := range frames {
		binary.Write(&b, binary.LittleEndian, f[0])
		binary.Write(&b, binary.LittleEndian, f[1])
	}
	return b.Bytes()
}

func TestBufferInterpolation(t *testing.T) {
	b := &Buffer{SampleRate: 4, Channels: [][]float32{{0, 1, 0, -1}, {1, 1, 1, 1}}}
	if b.Frames() != 4 || b.Duration() != 1 {
		t.Fatalf("frames=%d duration=%v", b.Frames(), b.Duration())
	}
	tests := []struct {
		ch   int
		pos  float64
		want float32
	}{
		{0, 0, 0},
		{0, 0.5, 0.5},
		{0, 1.25, 0.75},
		{0, 3, -1},
		{0, 3.5, 0},
		{0, -0.1, 0},
		{1, 2.5, 1},
		{5, 1, 1}, // channels past the end reuse the last one
	}
	for _, tt := range tests {
		if got := b.At(tt.ch, tt.pos); math.Abs(float64(got-tt.want)) > 1e-6 {
			t.Errorf("At(%d,%v) = %f, want %f", tt.ch, tt.pos, got, tt.want)
		}
	}
	var empty *Buffer
	if empty.Frames() != 0 || empty.Duration() != 0 || empty.At(0, 0) != 0 {
		t.Errorf("nil buffer should be empty and silent")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	buf := &Buffer{SampleRate: 10, Channels: [][]float32{{1}}}
	if err := r.Register(Sound{ID: "kick", Name: "kick.wav", Buffer: buf}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(Sound{ID: "kick"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate register err = %v, want ErrDuplicate", err)
	}
	got, ok := r.Lookup("kick")
	if !ok || got != buf {
		t.Fatalf("lookup did not return the registered buffer")
	}
	if _, ok := r.Lookup("snare"); ok {
		t.Fatalf("lookup of unknown id should miss")
	}
	r.Register(Sound{ID: "snare", Name: "snare.wav"})
	list := r.List()
	if len(list) != 2 || list[0].ID != "kick" || list[1].ID != "snare" || r.Len() != 2 {
		t.Fatalf("List = %+v", list)
	}
	if s, ok := r.Sound("kick"); !ok || s.Name != "kick.wav" {
		t.Fatalf("Sound(kick) = %+v", s)
	}
}

func TestRegistryConcurrentReaders(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Register(Sound{ID: string(rune('a' + i))})
			r.Lookup("a")
			r.List()
		}(i)
	}
	wg.Wait()
	if r.Len() != 8 {
		t.Fatalf("len = %d, want 8", r.Len())
	}
}

func TestDecodeWAV(t *testing.T) {
	data := pcm16WAV(8000, [][2]int16{{0, 0}, {16384, -16384}, {32767, -32768}, {0, 0}})
	buf, err := Decode(bytes.NewReader(data), FormatWAV, Limits{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if buf.SampleRate != 8000 || buf.Frames() != 4 || len(buf.Channels) != 2 {
		t.Fatalf("decoded rate=%d frames=%d channels=%d", buf.SampleRate, buf.Frames(), len(buf.Channels))
	}
	if l, r := buf.Channels[0][1], buf.Channels[1][1]; math.Abs(float64(l)-0.5) > 0.01 || math.Abs(float64(r)+0.5) > 0.01 {
		t.Fatalf("frame 1 = (%f,%f), want (0.5,-0.5)", l, r)
	}
}

func TestDecodeLimits(t *testing.T) {
	frames := make([][2]int16, 8000)
	data := pcm16WAV(4000, frames) // two seconds

	if _, err := Decode(bytes.NewReader(data), FormatWAV, Limits{MaxBytes: 100}); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if _, err := Decode(bytes.NewReader(data), FormatWAV, Limits{MaxDuration: 1.5}); !errors.Is(err, ErrTooLong) {
		t.Fatalf("err = %v, want ErrTooLong", err)
	}
	if _, err := Decode(bytes.NewReader(data), FormatWAV, Limits{MaxBytes: int64(len(data)), MaxDuration: 2}); err != nil {
		t.Fatalf("clip exactly at the limits should decode: %v", err)
	}
	if _, err := Decode(bytes.NewReader(data), "flac", Limits{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
}

func TestDecodeFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Clip.WAV")
	if err := os.WriteFile(path, pcm16WAV(8000, [][2]int16{{1, 1}, {2, 2}}), 0o644); err != nil {
		t.Fatal(err)
	}
	buf, err := DecodeFile(path, Limits{})
	if err != nil {
		t.Fatalf("decode file: %v", err)
	}
	if buf.Frames() != 2 {
		t.Fatalf("frames = %d, want 2", buf.Frames())
	}
	if _, err := DecodeFile(filepath.Join(dir, "notes.txt"), Limits{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("err = %v, want ErrUnsupported", err)
	}
	if _, err := DecodeFile(filepath.Join(dir, "missing.wav"), Limits{}); err == nil {
		t.Fatalf("missing file should fail")
	}
}

func TestFormatFromPath(t *testing.T) {
	tests := map[string]Format{"a.wav": FormatWAV, "b.MP3": FormatMP3, "c.ogg": FormatVorbis}
	for path, want := range tests {
		if got, ok := FormatFromPath(path); !ok || got != want {
			t.Errorf("FormatFromPath(%q) = %q,%v", path, got, ok)
		}
	}
	if _, ok := FormatFromPath("d.flac"); ok {
		t.Errorf("flac should be unsupported")
	}
}

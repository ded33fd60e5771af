package samples

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/hajimehoshi/ebiten/v2/audio/mp3"
	"github.com/hajimehoshi/ebiten/v2/audio/vorbis"
	"github.com/hajimehoshi/ebiten/v2/audio/wav"
)

var (
	// ErrTooLarge is returned when the encoded input exceeds Limits.MaxBytes.
	ErrTooLarge = errors.New("sample file too large")
	// ErrTooLong is returned when the decoded clip exceeds Limits.MaxDuration.
	ErrTooLong = errors.New("sample too long")
	// ErrUnsupported is returned for formats without a decoder.
	ErrUnsupported = errors.New("unsupported sample format")
)

// Format names an encoded audio container.
type Format string

const (
	FormatWAV    Format = "wav"
	FormatMP3    Format = "mp3"
	FormatVorbis Format = "ogg"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return FormatWAV, true
	case ".mp3":
		return FormatMP3, true
	case ".ogg", ".oga":
		return FormatVorbis, true
	}
	return "", false
}

// Limits bound what Decode accepts. Zero fields are unlimited.
type Limits struct {
	MaxBytes    int64
	MaxDuration float64 // seconds
}

// decodedStream is what ebiten's decoders return: stereo float32 LE frames.
type decodedStream interface {
	io.Reader
	Length() int64
	SampleRate() int
}

// Decode reads an encoded clip of the given format into a stereo Buffer at
// the clip's own sample rate.
func Decode(r io.Reader, format Format, limits Limits) (*Buffer, error) {
	src := r
	if limits.MaxBytes > 0 {
		src = io.LimitReader(r, limits.MaxBytes+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("read sample"))
	}
	if limits.MaxBytes > 0 && int64(len(data)) > limits.MaxBytes {
		return nil, fault.Wrap(ErrTooLarge,
			fmsg.WithDesc(fmt.Sprintf("more than %d bytes", limits.MaxBytes),
				fmt.Sprintf("File is too large. Please upload a file smaller than %d MB.", limits.MaxBytes>>20)),
			ftag.With(ftag.InvalidArgument))
	}

	var stream decodedStream
	in := bytes.NewReader(data)
	switch format {
	case FormatWAV:
		stream, err = wav.DecodeF32(in)
	case FormatMP3:
		stream, err = mp3.DecodeF32(in)
	case FormatVorbis:
		stream, err = vorbis.DecodeF32(in)
	default:
		return nil, fault.Wrap(ErrUnsupported, fmsg.With(string(format)), ftag.With(ftag.InvalidArgument))
	}
	if err != nil {
		return nil, fault.Wrap(err,
			fmsg.WithDesc("decode "+string(format), "Could not decode the audio file."),
			ftag.With(ftag.InvalidArgument))
	}

	rate := stream.SampleRate()
	frames := stream.Length() / bytesPerFrame
	if rate <= 0 {
		return nil, fault.Wrap(ErrUnsupported, fmsg.With("zero sample rate"), ftag.With(ftag.InvalidArgument))
	}
	if seconds := float64(frames) / float64(rate); limits.MaxDuration > 0 && seconds > limits.MaxDuration {
		return nil, fault.Wrap(ErrTooLong,
			fmsg.WithDesc(fmt.Sprintf("%.1fs", seconds),
				fmt.Sprintf("Audio is too long. Please use a clip under %.0f seconds.", limits.MaxDuration)),
			ftag.With(ftag.InvalidArgument))
	}

	pcm, err := io.ReadAll(stream)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("read decoded samples"))
	}
	return fromFloat32LE(pcm, rate), nil
}

// DecodeFile opens path and decodes it using the format implied by its
// extension.
func DecodeFile(path string, limits Limits) (*Buffer, error) {
	format, ok := FormatFromPath(path)
	if !ok {
		return nil, fault.Wrap(ErrUnsupported,
			fmsg.WithDesc(path, "Only WAV, MP3 and Ogg Vorbis files are supported."),
			ftag.With(ftag.InvalidArgument))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("open sample"), ftag.With(ftag.NotFound))
	}
	defer f.Close()
	return Decode(f, format, limits)
}

const bytesPerFrame = 8

func fromFloat32LE(pcm []byte, rate int) *Buffer {
	frames := len(pcm) / bytesPerFrame
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*bytesPerFrame:]))
		right[i] = math.Float32frombits(binary.LittleEndian.Uint32(pcm[i*bytesPerFrame+4:]))
	}
	return &Buffer{SampleRate: rate, Channels: [][]float32{left, right}}
}

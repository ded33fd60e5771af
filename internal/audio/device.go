package audio

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	ebitaudio "github.com/hajimehoshi/ebiten/v2/audio"
)

// bufferSize keeps scheduling latency low enough for interactive auditioning.
const bufferSize = 40 * time.Millisecond

// Player is an open output stream pulling from a SampleSource.
type Player struct {
	player *ebitaudio.Player
	reader io.ReadCloser
}

var (
	audioContextOnce sync.Once
	audioContext     *ebitaudio.Context
	audioSampleRate  int
)

// sharedAudioContext returns the process-wide device context. The platform
// allows one per process, so every later caller must ask for the same rate.
func sharedAudioContext(sampleRate int) (*ebitaudio.Context, error) {
	audioContextOnce.Do(func() {
		audioSampleRate = sampleRate
		audioContext = ebitaudio.NewContext(sampleRate)
	})
	if audioSampleRate != sampleRate {
		return nil, fault.New(fmt.Sprintf("audio context already initialized at %d Hz (requested %d Hz)", audioSampleRate, sampleRate))
	}
	if err := audioContext.Err(); err != nil {
		return nil, fault.Wrap(err, fmsg.WithDesc("audio context", "The audio device is not available."))
	}
	return audioContext, nil
}

// NewPlayer opens an output stream at sampleRate and starts pulling from source.
func NewPlayer(sampleRate int, source SampleSource) (*Player, error) {
	ctx, err := sharedAudioContext(sampleRate)
	if err != nil {
		return nil, err
	}
	reader := NewStreamReader(source)
	pl, err := ctx.NewPlayerF32(reader)
	if err != nil {
		return nil, fault.Wrap(err, fmsg.With("open audio stream"))
	}
	pl.SetBufferSize(bufferSize)
	pl.Play()
	return &Player{player: pl, reader: reader}, nil
}

func (p *Player) IsPlaying() bool { return p.player.IsPlaying() }

// Position returns how much audio the listener has heard so far.
func (p *Player) Position() time.Duration {
	return p.player.Position()
}

// Close stops the stream and releases the device player.
func (p *Player) Close() error {
	p.player.Pause()
	if err := p.player.Close(); err != nil {
		return fault.Wrap(err, fmsg.With("close audio stream"))
	}
	return p.reader.Close()
}

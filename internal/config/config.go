package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"

	"github.com/cbegin/soundscape-go/internal/grid"
	"github.com/cbegin/soundscape-go/internal/timeline"
)

// Config holds all runtime configuration, loaded from environment variables.
type Config struct {
	// Timeline geometry
	TimelineSeconds float64
	Lanes           int
	PixelsPerSecond float64
	Subdivisions    int     // grid steps per second
	DefaultDuration float64 // seconds, for newly placed synth sounds
	LaneHeight      float64 // pixels
	DragThreshold   float64 // pixels moved before a press becomes a drag

	// Playback
	SafetyMargin time.Duration // extra run time past the timeline before auto-stop
	SampleRate   int
	Volume       float64 // per-event peak gain

	// Sample limits
	MaxSampleBytes   int64
	MaxSampleSeconds float64

	// Persistence
	StoreDir string
	StoreKey string
}

// Load reads configuration from environment variables with sane defaults.
func Load() Config {
	return Config{
		TimelineSeconds: envFloat("SOUNDSCAPE_TIMELINE_SECONDS", 30),
		Lanes:           envInt("SOUNDSCAPE_LANES", 4),
		PixelsPerSecond: envFloat("SOUNDSCAPE_PIXELS_PER_SECOND", 100),
		Subdivisions:    envInt("SOUNDSCAPE_SUBDIVISIONS", 4),
		DefaultDuration: envFloat("SOUNDSCAPE_DEFAULT_DURATION", 2),
		LaneHeight:      envFloat("SOUNDSCAPE_LANE_HEIGHT", 64),
		DragThreshold:   envFloat("SOUNDSCAPE_DRAG_THRESHOLD", 3),

		SafetyMargin: time.Duration(envFloat("SOUNDSCAPE_SAFETY_MARGIN", 10) * float64(time.Second)),
		SampleRate:   envInt("SOUNDSCAPE_SAMPLE_RATE", 48000),
		Volume:       envFloat("SOUNDSCAPE_VOLUME", 0.25),

		MaxSampleBytes:   int64(envInt("SOUNDSCAPE_MAX_SAMPLE_BYTES", 5<<20)),
		MaxSampleSeconds: envFloat("SOUNDSCAPE_MAX_SAMPLE_SECONDS", 60),

		StoreDir: envStr("SOUNDSCAPE_STORE_DIR", defaultStoreDir()),
		StoreKey: envStr("SOUNDSCAPE_STORE_KEY", "harmonicSoundscapeComposition"),
	}
}

// Validate rejects configurations the editor cannot work with.
func (c Config) Validate() error {
	bad := func(name string) error {
		return fault.New(name+" must be positive",
			fmsg.WithDesc("invalid config", "Configuration value "+name+" must be positive."),
			ftag.With(ftag.InvalidArgument))
	}
	switch {
	case !(c.TimelineSeconds > 0):
		return bad("TimelineSeconds")
	case c.Lanes <= 0:
		return bad("Lanes")
	case !(c.PixelsPerSecond > 0):
		return bad("PixelsPerSecond")
	case c.Subdivisions <= 0:
		return bad("Subdivisions")
	case !(c.DefaultDuration > 0):
		return bad("DefaultDuration")
	case !(c.LaneHeight > 0):
		return bad("LaneHeight")
	case c.DragThreshold < 0:
		return bad("DragThreshold")
	case c.SafetyMargin < 0:
		return bad("SafetyMargin")
	case c.SampleRate <= 0:
		return bad("SampleRate")
	case !(c.Volume > 0):
		return bad("Volume")
	case c.MaxSampleBytes <= 0:
		return bad("MaxSampleBytes")
	case !(c.MaxSampleSeconds > 0):
		return bad("MaxSampleSeconds")
	case c.StoreKey == "":
		return bad("StoreKey")
	}
	if c.DefaultDuration > c.TimelineSeconds {
		return fault.New("DefaultDuration exceeds TimelineSeconds",
			fmsg.WithDesc("invalid config", "The default sound length is longer than the timeline."),
			ftag.With(ftag.InvalidArgument))
	}
	return nil
}

// Quantum is the grid step in seconds.
func (c Config) Quantum() float64 { return 1 / float64(c.Subdivisions) }

// Bounds returns the limits every stored event must satisfy.
func (c Config) Bounds() timeline.Bounds {
	return timeline.Bounds{Duration: c.TimelineSeconds, Lanes: c.Lanes, Quantum: c.Quantum()}
}

// Layout returns the pointer geometry for the placement engine.
func (c Config) Layout() grid.Layout {
	return grid.Layout{
		Duration:        c.TimelineSeconds,
		Lanes:           c.Lanes,
		PixelsPerSecond: c.PixelsPerSecond,
		Subdivisions:    c.Subdivisions,
		LaneHeight:      c.LaneHeight,
		DragThreshold:   c.DragThreshold,
	}
}

func defaultStoreDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".", ".soundscape")
	}
	return filepath.Join(dir, "soundscape")
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cbegin/soundscape-go"
	"github.com/cbegin/soundscape-go/internal/grid"
	"github.com/cbegin/soundscape-go/internal/timeline"
)

const (
	frameInterval = 16 * time.Millisecond
	statusTTL     = 3 * time.Second
	gridLeft      = 4 // lane label width
	gridTop       = 2 // header and ruler rows
	reverbStep    = 0.1
	detuneStep    = 0.1
)

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(frameInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func Key(help string, keyboardKey ...string) key.Binding {
	return key.NewBinding(key.WithKeys(keyboardKey...), key.WithHelp(keyboardKey[0], help))
}

type keyMap struct {
	Play     key.Binding
	Undo     key.Binding
	Redo     key.Binding
	Clear    key.Binding
	Save     key.Binding
	Load     key.Binding
	Generate key.Binding
	Audition key.Binding
	Root     key.Binding
	Chord    key.Binding
	Wave     key.Binding
	Source   key.Binding
	Delete   key.Binding
	Wetter   key.Binding
	Drier    key.Binding
	Detune   key.Binding
	Stretch  key.Binding
	Help     key.Binding
	Quit     key.Binding
}

var keys = keyMap{
	Play:     Key("play/stop", "space"),
	Undo:     Key("undo", "u", "ctrl+z"),
	Redo:     Key("redo", "r", "ctrl+y"),
	Clear:    Key("clear", "C"),
	Save:     Key("save", "s"),
	Load:     Key("load", "L"),
	Generate: Key("generate song", "g"),
	Audition: Key("audition", "a"),
	Root:     Key("root note", "n"),
	Chord:    Key("chord", "c"),
	Wave:     Key("waveform", "w"),
	Source:   Key("synth/sample", "o"),
	Delete:   Key("delete", "x", "delete", "backspace"),
	Wetter:   Key("more reverb", "]"),
	Drier:    Key("less reverb", "["),
	Detune:   Key("detune", "d"),
	Stretch:  Key("trim/stretch", "m"),
	Help:     Key("help", "?"),
	Quit:     Key("quit", "q", "ctrl+c"),
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Play, k.Undo, k.Redo, k.Audition, k.Help, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Play, k.Audition, k.Generate, k.Clear},
		{k.Undo, k.Redo, k.Save, k.Load},
		{k.Root, k.Chord, k.Wave, k.Source},
		{k.Delete, k.Wetter, k.Drier, k.Detune, k.Stretch},
		{k.Help, k.Quit},
	}
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("45"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	synthStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("39"))
	sampleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("78"))
	missingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("231")).Background(lipgloss.Color("160"))
	selectedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("220"))
	previewStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("16")).Background(lipgloss.Color("250"))
	playheadStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	statusStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("229"))
)

type model struct {
	s        *soundscape.Session
	help     help.Model
	epoch    time.Time
	selected string
	status   string
	statusAt time.Time
	pressed  bool
	press    [2]float64 // pointer where an empty-cell press started
	now      time.Time
}

func newModel(s *soundscape.Session) model {
	return model{s: s, help: help.New(), epoch: time.Now(), now: time.Now()}
}

func (m model) clock() float64 { return time.Since(m.epoch).Seconds() }

func (m model) Init() tea.Cmd { return tick() }

func (m *model) notify(format string, args ...any) {
	m.status = fmt.Sprintf(format, args...)
	m.statusAt = time.Now()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		m.now = time.Time(msg)
		if m.s.Playing() {
			if _, err := m.s.Tick(m.clock()); err != nil {
				m.notify("Error: %v", err)
			}
		}
		if m.status != "" && m.now.Sub(m.statusAt) > statusTTL {
			m.status = ""
		}
		return m, tick()

	case tea.WindowSizeMsg:
		m.help.Width = msg.Width
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.MouseMsg:
		m.handleMouse(msg)
		return m, nil
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	ctx := context.Background()
	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, keys.Play):
		if m.s.Playing() {
			m.s.Stop()
		} else if ok, err := m.s.Play(m.clock()); err != nil {
			m.notify("Error: %v", err)
		} else if !ok {
			m.notify("Nothing to play.")
		}
	case key.Matches(msg, keys.Undo):
		if !m.s.Undo() {
			m.notify("Nothing to undo.")
		}
	case key.Matches(msg, keys.Redo):
		if !m.s.Redo() {
			m.notify("Nothing to redo.")
		}
	case key.Matches(msg, keys.Clear):
		m.s.Clear()
		m.selected = ""
	case key.Matches(msg, keys.Save):
		if err := m.s.Save(ctx); err != nil {
			m.notify("Error: %v", err)
		} else {
			m.notify("Composition saved successfully!")
		}
	case key.Matches(msg, keys.Load):
		if err := m.s.Load(ctx); err != nil {
			m.notify("Error: %v", err)
		} else if len(m.s.MissingSources()) > 0 {
			m.notify("Composition loaded. Re-import any custom sounds for this project.")
		} else {
			m.notify("Composition loaded successfully!")
		}
	case key.Matches(msg, keys.Generate):
		m.s.GenerateSong()
		m.selected = ""
		m.notify("A little tune was created for you!")
	case key.Matches(msg, keys.Audition):
		if err := m.s.Audition(); err != nil {
			m.notify("Error: %v", err)
		}
	case key.Matches(msg, keys.Root):
		p := m.s.Palette()
		p.Root = p.Root.Transpose(1)
		m.s.SetPalette(p)
	case key.Matches(msg, keys.Chord):
		p := m.s.Palette()
		p.Chord = next(timeline.Chords, p.Chord)
		m.s.SetPalette(p)
	case key.Matches(msg, keys.Wave):
		p := m.s.Palette()
		p.Wave = next(timeline.WaveShapes, p.Wave)
		m.s.SetPalette(p)
	case key.Matches(msg, keys.Source):
		m.cycleSource()
	case key.Matches(msg, keys.Delete):
		if m.selected != "" {
			if err := m.s.Remove(m.selected); err != nil {
				m.notify("Error: %v", err)
			}
			m.selected = ""
		}
	case key.Matches(msg, keys.Wetter):
		m.editSelected(func(ev *timeline.Event) { ev.Reverb = math.Min(1, round1(ev.Reverb+reverbStep)) })
	case key.Matches(msg, keys.Drier):
		m.editSelected(func(ev *timeline.Event) { ev.Reverb = math.Max(0, round1(ev.Reverb-reverbStep)) })
	case key.Matches(msg, keys.Detune):
		m.editSelected(func(ev *timeline.Event) {
			if ev.Kind == timeline.KindSynth {
				ev.Synth.Detune = math.Mod(round1(ev.Synth.Detune+detuneStep), 1.1)
			}
		})
	case key.Matches(msg, keys.Stretch):
		m.editSelected(func(ev *timeline.Event) {
			if ev.Resize == timeline.ResizeStretch {
				ev.Resize = timeline.ResizeTrim
			} else {
				ev.Resize = timeline.ResizeStretch
			}
		})
	}
	return m, nil
}

// cycleSource steps the palette from the synth through each registered sample.
func (m *model) cycleSource() {
	p := m.s.Palette()
	sounds := m.s.Sounds()
	if len(sounds) == 0 {
		m.notify("No samples loaded. Start with --sample id=path.")
		return
	}
	if p.Kind == timeline.KindSynth {
		p.Kind, p.SampleID = timeline.KindSample, sounds[0].ID
		m.s.SetPalette(p)
		return
	}
	for i, snd := range sounds {
		if snd.ID == p.SampleID && i+1 < len(sounds) {
			p.SampleID = sounds[i+1].ID
			m.s.SetPalette(p)
			return
		}
	}
	p.Kind = timeline.KindSynth
	m.s.SetPalette(p)
}

func (m *model) editSelected(edit func(*timeline.Event)) {
	ev, ok := m.s.Current().Find(m.selected)
	if !ok {
		return
	}
	edit(&ev)
	if err := m.s.Update(ev); err != nil {
		m.notify("Error: %v", err)
	}
}

func (m *model) handleMouse(msg tea.MouseMsg) {
	layout := m.s.Layout()
	x, y := cellToPointer(layout, msg.X, msg.Y)

	switch msg.Action {
	case tea.MouseActionPress:
		if m.s.Playing() {
			m.notify("Stop playback to edit.")
			return
		}
		ev, zone, hit := m.s.HitTest(x, y)
		if !hit {
			m.selected = ""
			if msg.Button == tea.MouseButtonLeft {
				m.pressed = true
				m.press = [2]float64{x, y}
			}
			return
		}
		m.selected = ev.ID
		switch msg.Button {
		case tea.MouseButtonRight:
			if err := m.s.Remove(ev.ID); err != nil {
				m.notify("Error: %v", err)
			}
			m.selected = ""
		case tea.MouseButtonLeft:
			var err error
			switch columnZone(layout, ev, msg.X-gridLeft, zone) {
			case grid.ZoneLeading:
				err = m.s.BeginResize(ev.ID, grid.EdgeLeading, x, y)
			case grid.ZoneTrailing:
				err = m.s.BeginResize(ev.ID, grid.EdgeTrailing, x, y)
			default:
				err = m.s.BeginMove(ev.ID, x, y)
			}
			if err != nil {
				m.notify("Error: %v", err)
			}
		}

	case tea.MouseActionMotion:
		m.s.DragTo(x, y)

	case tea.MouseActionRelease:
		if m.s.Gesture() != nil {
			m.s.EndGesture(x, y)
			return
		}
		if m.pressed {
			m.pressed = false
			_, ok, err := m.s.PlaceAt(m.press[0], m.press[1])
			switch {
			case err != nil:
				m.notify("Error: %v", err)
			case !ok:
				m.notify("That sound does not fit there.")
			}
		}
	}
}

// cellToPointer maps a terminal cell to pointer coordinates in grid pixels,
// at the middle of the cell.
func cellToPointer(l grid.Layout, col, row int) (float64, float64) {
	pxPerCol := l.PixelsPerSecond * l.Quantum()
	x := (float64(col-gridLeft) + 0.5) * pxPerCol
	y := (float64(row-gridTop) + 0.5) * l.LaneHeight
	return x, y
}

// columnZone refines a body hit to an edge when the pressed column is the
// first or last column an event covers. Terminal cells are wider than the
// resize handles, so pixel zones alone would never report an edge.
func columnZone(l grid.Layout, ev timeline.Event, col int, zone grid.Zone) grid.Zone {
	if zone != grid.ZoneBody {
		return zone
	}
	first, last := spanColumns(l, ev)
	switch {
	case col == last:
		return grid.ZoneTrailing
	case col == first && last-first >= 2:
		return grid.ZoneLeading
	}
	return zone
}

// spanColumns returns the first and last grid columns ev covers.
func spanColumns(l grid.Layout, ev timeline.Event) (int, int) {
	q := l.Quantum()
	first := int(math.Floor(ev.Start/q + 1e-9))
	last := int(math.Ceil(ev.End()/q-1e-9)) - 1
	return first, max(first, last)
}

// laneCells returns, for each grid column of lane, the id of the event drawn
// there or "". Later events in the timeline draw over earlier ones.
func laneCells(l grid.Layout, tl timeline.Timeline, lane, cols int) []string {
	cells := make([]string, cols)
	for _, ev := range tl.Events() {
		if ev.Lane != lane {
			continue
		}
		first, last := spanColumns(l, ev)
		for c := max(first, 0); c <= last && c < cols; c++ {
			cells[c] = ev.ID
		}
	}
	return cells
}

func (m model) View() string {
	layout := m.s.Layout()
	cfg := m.s.Config()
	cols := int(math.Round(cfg.TimelineSeconds * float64(cfg.Subdivisions)))
	tl := m.s.Current()

	// A drag shows its preview in place of the stored event.
	var preview *timeline.Event
	if g := m.s.Gesture(); g != nil && g.Moved() {
		p := g.Preview()
		preview = &p
		tl, _ = tl.Replace(p)
	}

	playCol := -1
	if m.s.Playing() {
		playCol = int(m.s.Playhead() / layout.Quantum())
	}

	var b strings.Builder
	state := "■ stopped"
	if m.s.Playing() {
		state = fmt.Sprintf("▶ %5.2fs", m.s.Playhead())
	}
	b.WriteString(titleStyle.Render("Soundscape") + "  " + state + "  " + dimStyle.Render(m.paletteLabel()) + "\n")

	ruler := make([]rune, cols)
	for c := range ruler {
		ruler[c] = ' '
		if c%cfg.Subdivisions == 0 {
			ruler[c] = rune('0' + (c/cfg.Subdivisions)%10)
		}
	}
	b.WriteString(strings.Repeat(" ", gridLeft) + dimStyle.Render(string(ruler)) + "\n")

	missing := map[string]bool{}
	for _, id := range m.s.MissingSources() {
		missing[id] = true
	}
	for lane := 0; lane < cfg.Lanes; lane++ {
		b.WriteString(dimStyle.Render(fmt.Sprintf("L%-2d│", lane+1)))
		cells := laneCells(layout, tl, lane, cols)
		for c, id := range cells {
			if id == "" {
				glyph := "·"
				if c == playCol {
					glyph = playheadStyle.Render("│")
				} else {
					glyph = dimStyle.Render(glyph)
				}
				b.WriteString(glyph)
				continue
			}
			ev, _ := tl.Find(id)
			b.WriteString(m.eventCell(ev, c, layout, missing, preview))
		}
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if sel, ok := m.s.Current().Find(m.selected); ok {
		b.WriteString(describe(sel) + "\n")
	} else {
		b.WriteString(dimStyle.Render("click an empty cell to place, drag to move, drag an edge to resize") + "\n")
	}
	if m.status != "" {
		b.WriteString(statusStyle.Render(m.status) + "\n")
	}
	b.WriteString(m.help.View(keys))
	return b.String()
}

func (m model) eventCell(ev timeline.Event, col int, l grid.Layout, missing map[string]bool, preview *timeline.Event) string {
	first, _ := spanColumns(l, ev)
	glyph := " "
	if col == first {
		switch ev.Kind {
		case timeline.KindSynth:
			if ev.Synth.Root != "" {
				glyph = string(ev.Synth.Root)[:1]
			}
		case timeline.KindSample:
			glyph = "♪"
			if missing[ev.Sample.SourceID] {
				glyph = "?"
			}
		}
	}
	style := synthStyle
	switch {
	case preview != nil && preview.ID == ev.ID:
		style = previewStyle
	case ev.ID == m.selected:
		style = selectedStyle
	case ev.Kind == timeline.KindSample && missing[ev.Sample.SourceID]:
		style = missingStyle
	case ev.Kind == timeline.KindSample:
		style = sampleStyle
	}
	return style.Render(glyph)
}

func (m model) paletteLabel() string {
	p := m.s.Palette()
	if p.Kind == timeline.KindSample {
		for _, snd := range m.s.Sounds() {
			if snd.ID == p.SampleID {
				return "sample: " + snd.Name
			}
		}
		return "sample: (none)"
	}
	return fmt.Sprintf("synth: %s %s (%s)", p.Root, p.Chord, p.Wave)
}

func describe(ev timeline.Event) string {
	var what string
	if ev.Kind == timeline.KindSynth {
		what = fmt.Sprintf("%s %s %s detune %.1f", ev.Synth.Root, ev.Synth.Chord, ev.Synth.Wave, ev.Synth.Detune)
	} else {
		what = "sample " + ev.Sample.SourceID
	}
	return fmt.Sprintf("lane %d  %.2fs-%.2fs  %s  reverb %.1f  %s",
		ev.Lane+1, ev.Start, ev.End(), what, ev.Reverb, ev.Resize)
}

func next[T comparable](list []T, cur T) T {
	for i, v := range list {
		if v == cur {
			return list[(i+1)%len(list)]
		}
	}
	return list[0]
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func runTUI(cmd *cobra.Command, _ []string) error {
	logger, closeLog, err := initLogger(io.Discard)
	if err != nil {
		return err
	}
	defer closeLog()

	s, err := openSession(cmd.Context(), logger)
	if err != nil {
		return err
	}
	defer s.Close()

	p := tea.NewProgram(newModel(s), tea.WithAltScreen(), tea.WithMouseCellMotion())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

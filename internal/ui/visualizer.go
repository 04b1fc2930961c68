package ui

import (
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/crazy3lf/colorconv"

	"github.com/cybre/ravebox/internal/utils"
)

// Variant selects how a frame is drawn.
type Variant int

const (
	// VariantSpectrum draws the bars as a column chart filling the terminal.
	VariantSpectrum Variant = iota
	// VariantPulse draws a colour swatch driven by beat and intensity.
	VariantPulse
)

func (v Variant) String() string {
	switch v {
	case VariantSpectrum:
		return "Spectrum"
	case VariantPulse:
		return "Pulse"
	default:
		return "unknown"
	}
}

// Frame is everything the visualizer needs for one redraw.
type Frame struct {
	Variant Variant
	// Bars are the audio feed bars in [0,1], low frequencies first.
	Bars []float64
	// Scale is the fraction of the terminal resolution to render, in (0,1].
	Scale float64

	Hue          float64
	Saturation   float64
	Brightness   float64
	Intensity    float64
	Beat         bool
	BeatStrength float64
	Bass         float64
	Mid          float64
	Treble       float64
	Mode         string
}

type VisualizerOptions struct {
	// Input and Output default to the process terminal.
	Input  io.Reader
	Output io.Writer
	// Throttle drops frames arriving faster than this.
	Throttle time.Duration
}

// Visualizer renders frames in the terminal until Close is called or the user quits.
type Visualizer struct {
	program  *tea.Program
	throttle time.Duration

	mu       sync.Mutex
	lastSend time.Time

	stopped   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

type frameMsg struct {
	frame      Frame
	receivedAt time.Time
}

const (
	defaultThrottle = 15 * time.Millisecond
	pulseBarWidth   = 32
	swatchBlocks    = 18
	// rows reserved for the header and hint of the spectrum view
	spectrumChrome = 3
)

func NewVisualizer(opts VisualizerOptions) *Visualizer {
	if opts.Throttle <= 0 {
		opts.Throttle = defaultThrottle
	}

	programOpts := []tea.ProgramOption{tea.WithAltScreen(), tea.WithoutSignalHandler()}
	if opts.Input != nil {
		programOpts = append(programOpts, tea.WithInput(opts.Input))
	}
	if opts.Output != nil {
		programOpts = append(programOpts, tea.WithOutput(opts.Output))
	}

	v := &Visualizer{
		program:  tea.NewProgram(&visualizerModel{}, programOpts...),
		throttle: opts.Throttle,
		done:     make(chan struct{}),
	}

	go func() {
		defer close(v.done)
		_, _ = v.program.Run()
		v.stopped.Store(true)
	}()

	return v
}

// Show queues frame for drawing.
func (v *Visualizer) Show(frame Frame) {
	if v.stopped.Load() {
		return
	}

	v.mu.Lock()
	if time.Since(v.lastSend) < v.throttle {
		v.mu.Unlock()
		return
	}
	v.lastSend = time.Now()
	v.mu.Unlock()

	v.program.Send(frameMsg{frame: frame, receivedAt: time.Now()})
}

// Stopped reports whether the terminal program ended, e.g. because the user pressed q.
func (v *Visualizer) Stopped() bool {
	return v.stopped.Load()
}

// Close ends the program and waits for the terminal to be restored.
func (v *Visualizer) Close() {
	v.closeOnce.Do(func() {
		v.program.Quit()
		<-v.done
	})
}

type visualizerModel struct {
	frame       Frame
	lastUpdated time.Time
	ready       bool
	width       int
	height      int
}

func (m *visualizerModel) Init() tea.Cmd {
	return nil
}

func (m *visualizerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case frameMsg:
		m.frame = msg.frame
		m.lastUpdated = msg.receivedAt
		m.ready = true
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

var (
	vizContainerStyle    = lipgloss.NewStyle().Padding(0, 2)
	vizTimestampStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	vizMetricLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	vizMetricValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).Bold(true)
	vizBeatActiveStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("197")).Bold(true)
	vizBeatInactiveStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	vizWaitingStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	vizHintStyle         = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	vizEmptyStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
)

func (m *visualizerModel) View() string {
	if !m.ready {
		return vizContainerStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Ravebox"),
			"",
			vizWaitingStyle.Render("Waiting for audio frames…"),
		))
	}

	var body string
	switch m.frame.Variant {
	case VariantPulse:
		body = renderPulse(m.frame, m.lastUpdated)
	default:
		body = renderSpectrum(m.frame, m.width, m.height)
	}
	return vizContainerStyle.Render(body)
}

// renderSpectrum draws the bars as columns. Width and height are reduced by the frame's
// scale, which is what the lights worker lowers when frames take too long.
func renderSpectrum(frame Frame, width, height int) string {
	scale := utils.Clamp(frame.Scale, 0.1, 1.0)
	if frame.Scale == 0 {
		scale = 1
	}
	cols := max(int(float64(width-4)*scale), 1)
	rows := max(int(float64(height-spectrumChrome)*scale), 1)

	levels := ResampleBars(frame.Bars, cols)
	color := lipgloss.Color(hexColorFromHSV(frame.Hue, frame.Saturation/100, 1))
	filled := lipgloss.NewStyle().Foreground(color)

	lines := make([]string, 0, rows+2)
	lines = append(lines, titleStyle.Foreground(color).Render("Spectrum"))
	for r := range rows {
		threshold := float64(rows-r) / float64(rows)
		var line strings.Builder
		for _, level := range levels {
			if level >= threshold-0.5/float64(rows) {
				line.WriteString(filled.Render("█"))
			} else {
				line.WriteString(vizEmptyStyle.Render(" "))
			}
		}
		lines = append(lines, line.String())
	}
	lines = append(lines, vizHintStyle.Render(fmt.Sprintf("scale %.1f · q to stop", scale)))
	return strings.Join(lines, "\n")
}

// ResampleBars maps bars onto n columns by averaging the bars that fall into each column,
// or repeating bars when there are more columns than bars.
func ResampleBars(bars []float64, n int) []float64 {
	out := make([]float64, n)
	if len(bars) == 0 || n <= 0 {
		return out
	}

	for i := range out {
		start := i * len(bars) / n
		end := max((i+1)*len(bars)/n, start+1)
		sum := 0.0
		for _, b := range bars[start:end] {
			sum += b
		}
		out[i] = utils.Clamp(sum/float64(end-start), 0.0, 1.0)
	}
	return out
}

func renderPulse(frame Frame, updatedAt time.Time) string {
	sat := utils.Clamp(frame.Saturation/100, 0.0, 1.0)
	val := utils.Clamp(frame.Brightness/100, 0.0, 1.0)
	title := titleStyle.Foreground(lipgloss.Color(hexColorFromHSV(frame.Hue, sat, val))).Render("Pulse")
	header := lipgloss.JoinHorizontal(lipgloss.Left, title, "  ", vizTimestampStyle.Render(updatedAt.Format("15:04:05.000")))

	mode := frame.Mode
	if strings.TrimSpace(mode) == "" {
		mode = "unknown"
	}
	metrics := lipgloss.JoinHorizontal(lipgloss.Left,
		renderMetric("Mode", mode), "   ",
		renderMetric("Intensity", fmt.Sprintf("%4.2f", utils.Clamp(frame.Intensity, 0.0, 1.0))), "   ",
		renderBeat(frame),
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		metrics,
		"",
		renderSwatch(frame.Hue, sat, val),
		"",
		renderBar("Bass", frame.Bass, vizThemes["Bass"]),
		renderBar("Mid", frame.Mid, vizThemes["Mid"]),
		renderBar("Treble", frame.Treble, vizThemes["Treble"]),
		renderBar("Intensity", frame.Intensity, vizThemes["Intensity"]),
		"",
		vizHintStyle.Render("Press q / esc / ctrl+c to stop"),
	)
}

func renderMetric(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		vizMetricLabelStyle.Render(label+":"),
		" ",
		vizMetricValueStyle.Render(value),
	)
}

func renderBeat(frame Frame) string {
	marker := vizBeatInactiveStyle.Render("○")
	if frame.Beat {
		marker = vizBeatActiveStyle.Render("●")
	}
	return lipgloss.JoinHorizontal(lipgloss.Left,
		vizMetricLabelStyle.Render("Beat:"), " ", marker, " ",
		vizMetricValueStyle.Render(fmt.Sprintf("%4.2f", utils.Clamp(frame.BeatStrength, 0.0, 1.0))),
	)
}

func renderSwatch(hue, sat, val float64) string {
	var blocks strings.Builder
	for i := range swatchBlocks {
		progress := float64(i) / float64(swatchBlocks-1)
		color := lipgloss.Color(hexColorFromHSV(hue, sat, 0.15+0.85*progress*val))
		blocks.WriteString(lipgloss.NewStyle().Background(color).Render("  "))
	}
	return lipgloss.JoinHorizontal(lipgloss.Left, subtitleStyle.Render("Color"), "  ", blocks.String())
}

type barTheme struct {
	label      lipgloss.Style
	hueStart   float64
	hueEnd     float64
	saturation float64
}

var vizThemes = map[string]barTheme{
	"Bass":      {label: lipgloss.NewStyle().Foreground(lipgloss.Color("208")).Bold(true), hueStart: 25, hueEnd: 45, saturation: 0.92},
	"Mid":       {label: lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true), hueStart: 55, hueEnd: 75, saturation: 0.9},
	"Treble":    {label: lipgloss.NewStyle().Foreground(lipgloss.Color("123")).Bold(true), hueStart: 210, hueEnd: 240, saturation: 0.85},
	"Intensity": {label: lipgloss.NewStyle().Foreground(lipgloss.Color("204")).Bold(true), hueStart: 330, hueEnd: 360, saturation: 0.9},
}

func renderBar(label string, value float64, theme barTheme) string {
	clamped := utils.Clamp(value, 0.0, 1.0)
	filled := min(int(math.Round(clamped*pulseBarWidth)), pulseBarWidth)
	if clamped > 0 && filled == 0 {
		filled = 1
	}

	var b strings.Builder
	b.WriteString(theme.label.Render(fmt.Sprintf("%-10s", label)))
	b.WriteString(" [")
	for i := range filled {
		progress := float64(i) / float64(max(filled-1, 1))
		hue := theme.hueStart + (theme.hueEnd-theme.hueStart)*progress
		color := lipgloss.Color(hexColorFromHSV(hue, theme.saturation, 0.4+0.55*progress))
		b.WriteString(lipgloss.NewStyle().Foreground(color).Render("█"))
	}
	b.WriteString(vizEmptyStyle.Render(strings.Repeat("░", pulseBarWidth-filled)))
	b.WriteString("] ")
	b.WriteString(vizMetricValueStyle.Render(fmt.Sprintf("%3.0f%%", clamped*100)))
	return b.String()
}

func hexColorFromHSV(h, s, v float64) string {
	r, g, b, err := colorconv.HSVToRGB(math.Mod(h, 360), utils.Clamp(s, 0.0, 1.0), utils.Clamp(v, 0.0, 1.0))
	if err != nil {
		return "#FFFFFF"
	}
	return fmt.Sprintf("#%02x%02x%02x", r, g, b)
}

package lights

import (
	"context"
	"log/slog"

	"github.com/cybre/ravebox/internal/dsp"
	"github.com/cybre/ravebox/internal/utils"
)

// FeedBars is the number of bars an audio feed delivers per frame.
const FeedBars = 256

// AudioFeed is a program that provides the current spectrum to other programs.
type AudioFeed interface {
	Program
	// Bars returns the last complete frame, FeedBars values in [0,1].
	Bars() []float64
	// SetFramerate adapts the feed to a new ups value.
	SetFramerate(ups float64)
}

// frameAssembler collects one-byte bars from a byte stream. Only complete frames become
// visible; a partial frame waits for the rest.
type frameAssembler struct {
	growing []byte
	current []float64
	size    int
}

func newFrameAssembler(size int) *frameAssembler {
	return &frameAssembler{growing: make([]byte, 0, size), current: make([]float64, size), size: size}
}

// missing is how many bytes complete the growing frame.
func (a *frameAssembler) missing() int {
	return a.size - len(a.growing)
}

func (a *frameAssembler) write(p []byte) {
	for len(p) > 0 {
		n := min(a.missing(), len(p))
		a.growing = append(a.growing, p[:n]...)
		p = p[n:]
		if len(a.growing) == a.size {
			for i, b := range a.growing {
				a.current[i] = float64(b) / 255
			}
			a.growing = a.growing[:0]
		}
	}
}

func (a *frameAssembler) reset() {
	a.growing = a.growing[:0]
	clear(a.current)
}

// CaptureFunc streams interleaved float samples into frames until ctx ends.
type CaptureFunc func(ctx context.Context, frames chan<- []float32) error

type BuiltinOptions struct {
	Capture    CaptureFunc
	SampleRate float64
	FrameSize  int
	Channels   int
	Logger     *slog.Logger
}

// builtinFeed runs the in-process analyzer on captured audio and quantizes its bars to the
// same one-byte resolution cava delivers.
type builtinFeed struct {
	opts   BuiltinOptions
	logger *slog.Logger

	analyzer *dsp.Analyzer
	frames   chan []float32
	cancel   context.CancelFunc
	done     chan struct{}
	current  []float64
}

func newBuiltinFeed(opts BuiltinOptions) *builtinFeed {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 44100
	}
	if opts.FrameSize <= 0 {
		opts.FrameSize = 1024
	}
	if opts.Channels <= 0 {
		opts.Channels = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &builtinFeed{opts: opts, logger: opts.Logger, current: make([]float64, FeedBars)}
}

func (f *builtinFeed) Name() string             { return "Cava" }
func (f *builtinFeed) Kind() Kind               { return KindCava }
func (f *builtinFeed) Bars() []float64          { return f.current }
func (f *builtinFeed) SetFramerate(ups float64) {}

func (f *builtinFeed) Start() error {
	clear(f.current)
	f.analyzer = dsp.NewAnalyzer(FeedBars, f.opts.SampleRate, f.opts.FrameSize, f.opts.Channels)
	f.frames = make(chan []float32, 8)
	f.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	go func() {
		defer close(f.done)
		if err := f.opts.Capture(ctx, f.frames); err != nil && ctx.Err() == nil {
			f.logger.Error("audio capture stopped", slog.Any("error", err))
		}
	}()
	return nil
}

// Compute analyzes every buffer captured since the last frame; the newest wins.
func (f *builtinFeed) Compute() Outcome {
	for {
		select {
		case buf := <-f.frames:
			for i, b := range f.analyzer.Process(buf) {
				f.current[i] = float64(utils.ScaleByte(b)) / 255
			}
		default:
			return ok()
		}
	}
}

func (f *builtinFeed) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
	f.cancel = nil
}

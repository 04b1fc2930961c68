//go:build !unix

package lights

import "github.com/cybre/ravebox/internal/hw"

// cava needs named pipes; elsewhere the program exists but refuses to start.
type cava struct {
	frame *frameAssembler
}

func newCava(*frameState, CavaOptions) *cava {
	return &cava{frame: newFrameAssembler(FeedBars)}
}

func (c *cava) Name() string         { return "Cava" }
func (c *cava) Kind() Kind           { return KindCava }
func (c *cava) Bars() []float64      { return c.frame.current }
func (c *cava) Start() error         { return hw.ErrUnsupported }
func (c *cava) Compute() Outcome     { return ok() }
func (c *cava) Stop()                {}
func (c *cava) SetFramerate(float64) {}

package lights

import "github.com/rotisserie/eris"

var (
	ErrUnknownProgram = eris.New("unknown program")
	ErrUnknownDevice  = eris.New("unknown device")
)

// Kind tells program variants apart without type switches on concrete types.
type Kind int

const (
	KindDisabled Kind = iota
	KindFixed
	KindRainbow
	KindAdaptive
	KindAlarm
	KindCava
	KindVideo
	KindVisualization
)

func (k Kind) String() string {
	switch k {
	case KindDisabled:
		return "disabled"
	case KindFixed:
		return "fixed"
	case KindRainbow:
		return "rainbow"
	case KindAdaptive:
		return "adaptive"
	case KindAlarm:
		return "alarm"
	case KindCava:
		return "cava"
	case KindVideo:
		return "video"
	case KindVisualization:
		return "visualization"
	default:
		return "unknown"
	}
}

// Status is the result of one Compute call.
type Status int

const (
	StatusOK Status = iota
	// StatusStopped means the program ended on its own, e.g. its window was closed.
	StatusStopped
	StatusFailed
)

type Outcome struct {
	Status Status
	Reason error
}

func ok() Outcome                  { return Outcome{Status: StatusOK} }
func stopped(reason error) Outcome { return Outcome{Status: StatusStopped, Reason: reason} }
func failed(reason error) Outcome  { return Outcome{Status: StatusFailed, Reason: reason} }

// Program is one visualization. Start and Stop bracket a period of use, Compute runs once
// per frame while the program is used.
type Program interface {
	Name() string
	Kind() Kind
	Start() error
	Compute() Outcome
	Stop()
}

// LEDProgram produces colors for the led devices. The color queries read the state of the
// last Compute.
type LEDProgram interface {
	Program
	RingColors() []Color
	WLEDColors() []Color
	StripColor() Color
}

// Scalable programs can trade render quality for time.
type Scalable interface {
	IncreaseResolution()
	DecreaseResolution()
}

// UsageCounter shares one program between several devices. The first Use starts it and the
// last Release stops it.
type UsageCounter struct {
	Program
	consumers int
}

func share(p Program) *UsageCounter {
	return &UsageCounter{Program: p}
}

// Use registers a consumer. When starting fails the consumer is not registered.
func (u *UsageCounter) Use() error {
	if u.consumers == 0 {
		if err := u.Program.Start(); err != nil {
			return eris.Wrapf(err, "failed to start program %s", u.Name())
		}
	}
	u.consumers++
	return nil
}

// Release drops a consumer. Releasing an unused program does nothing.
func (u *UsageCounter) Release() {
	if u.consumers == 0 {
		return
	}
	u.consumers--
	if u.consumers == 0 {
		u.Program.Stop()
	}
}

func (u *UsageCounter) Consumers() int {
	return u.consumers
}

// Compute only runs the program while it is used.
func (u *UsageCounter) Compute() Outcome {
	if u.consumers == 0 {
		return ok()
	}
	return u.Program.Compute()
}

// LED returns the led side of the program, if it has one.
func (u *UsageCounter) LED() (LEDProgram, bool) {
	p, isLED := u.Program.(LEDProgram)
	return p, isLED
}

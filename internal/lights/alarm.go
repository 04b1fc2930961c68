package lights

import "math"

// alarm envelope, in seconds: the red fades in, holds, fades out and repeats per sound
const (
	alarmIncreasing = 0.45
	alarmDecreasing = 0.8
	alarmSound      = 2.1
	alarmRepetition = 2.5
	alarmMaxSounds  = 4

	alarmInactive = -1.0
	// the status led lights up above this factor
	alarmLEDThreshold = 0.7
)

// alarm computes the red intensity that follows the alarm sound. It shows nothing itself;
// the fixed program picks the factor up.
type alarm struct {
	state *frameState
	// statusLED is toggled with the envelope when set
	statusLED func(on bool)

	elapsed float64
	sounds  int
	factor  float64
	ledOn   bool
}

func newAlarm(state *frameState, statusLED func(bool)) *alarm {
	return &alarm{state: state, statusLED: statusLED, factor: alarmInactive}
}

func (a *alarm) Name() string { return "Alarm" }
func (a *alarm) Kind() Kind   { return KindAlarm }

// Factor is the red intensity in [0,1], or -1 while no alarm runs.
func (a *alarm) Factor() float64 {
	if a == nil {
		return alarmInactive
	}
	return a.factor
}

func (a *alarm) Start() error {
	a.elapsed = 0
	a.sounds = 0
	a.factor = 0
	return nil
}

func (a *alarm) Compute() Outcome {
	a.elapsed += 1 / a.state.ups
	if a.elapsed >= alarmRepetition {
		a.sounds++
		a.elapsed = math.Mod(a.elapsed, alarmRepetition)
	}
	a.factor = envelope(a.elapsed, a.sounds)

	if on := a.factor >= alarmLEDThreshold; on != a.ledOn && a.statusLED != nil {
		a.statusLED(on)
		a.ledOn = on
	}
	return ok()
}

// Stop leaves the status led to whoever owns it after the alarm.
func (a *alarm) Stop() {
	a.factor = alarmInactive
	a.ledOn = false
}

func envelope(elapsed float64, sounds int) float64 {
	switch {
	case sounds >= alarmMaxSounds:
		return 0
	case elapsed < alarmIncreasing:
		return elapsed / alarmIncreasing
	case elapsed < alarmSound-alarmDecreasing:
		return 1
	case elapsed < alarmSound:
		return 1 - (elapsed-(alarmSound-alarmDecreasing))/alarmDecreasing
	default:
		return 0
	}
}

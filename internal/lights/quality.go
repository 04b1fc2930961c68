package lights

import "time"

const (
	// seconds of frames averaged before deciding
	qualityWindowSeconds = 10
	// a window is cut short once it took this much longer than planned
	qualityOvertime = 1.5
	// share of the frame budget above which rendering is too slow
	qualitySlow = 0.9
	// share of the frame budget below which there is room for more detail
	qualityFast = 0.6
)

// qualityMonitor averages computation times over a window of frames and tells whether
// the screen resolution should change.
type qualityMonitor struct {
	window     int
	iterations int
	timeSum    time.Duration
}

func newQualityMonitor(ups float64) *qualityMonitor {
	return &qualityMonitor{window: max(1, int(ups*qualityWindowSeconds))}
}

// observe records one frame that took elapsed out of spf. It returns -1 to lower the
// resolution, 1 to raise it and 0 otherwise.
func (m *qualityMonitor) observe(elapsed, spf time.Duration) int {
	m.iterations++
	m.timeSum += elapsed
	if m.iterations < m.window && float64(m.timeSum) < qualityOvertime*float64(m.window)*float64(spf) {
		return 0
	}

	avg := m.timeSum / time.Duration(m.iterations)
	m.iterations, m.timeSum = 0, 0
	switch {
	case float64(avg) > qualitySlow*float64(spf):
		return -1
	case float64(avg) < qualityFast*float64(spf):
		return 1
	default:
		return 0
	}
}

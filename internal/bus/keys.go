package bus

import "time"

// Key is a typed bus value with the default seen while it is unset.
type Key[T any] struct {
	Name    string
	Default T
}

func NewKey[T any](name string, def T) Key[T] {
	return Key[T]{Name: name, Default: def}
}

// Get reads key from b. Unset or mistyped values yield the default.
func Get[T any](b Bus, key Key[T]) T {
	raw, ok := b.Load(key.Name)
	if !ok {
		return key.Default
	}
	v, ok := raw.(T)
	if !ok {
		return key.Default
	}
	return v
}

func Put[T any](b Bus, key Key[T], value T) {
	b.Store(key.Name, value, 0)
}

// PutTTL stores value for ttl.
func PutTTL[T any](b Bus, key Key[T], value T, ttl time.Duration) {
	b.Store(key.Name, value, ttl)
}

// Channels.
const (
	LightsSettingsChanged = "lights_settings_changed"
	StateChanged          = "state_changed"
)

// Messages on LightsSettingsChanged besides device names.
const (
	LightsBase         = "base"
	LightsAlarmStarted = "alarm_started"
	LightsAlarmStopped = "alarm_stopped"
	LightsAdjustScreen = "adjust_screen"
	LightsStop         = "stop"
)

// Events.
const (
	QueueChanged = "queue_changed"
	LightsActive = "lights_active"
)

// playback
var (
	ActivePlayer     = NewKey("active_player", "fake")
	Playing          = NewKey("playing", false)
	Paused           = NewKey("paused", false)
	PlaybackError    = NewKey("playback_error", false)
	StopPlaybackLoop = NewKey("stop_playback_loop", false)
	AlarmPlaying     = NewKey("alarm_playing", false)
	AlarmRequested   = NewKey("alarm_requested", false)
	AlarmDuration    = NewKey("alarm_duration", 10*time.Second)
	LastBuzzer       = NewKey("last_buzzer", time.Time{})
	BackupPlaying    = NewKey("backup_playing", false)
)

// lights
var (
	LightsActiveFlag = NewKey("lights_active", false)
	LEDPrograms      = NewKey("led_programs", []string(nil))
	ScreenPrograms   = NewKey("screen_programs", []string(nil))
	CurrentFPS       = NewKey("current_fps", 0.0)
	RenderScale      = NewKey("render_scale", 1.0)
	TerminalSize     = NewKey("terminal_size", [2]int{0, 0})
)

// users
var LastRequests = NewKey("last_requests", map[string]time.Time(nil))

// Initialized tracks whether a device finished its hardware setup.
func Initialized(device string) Key[bool] {
	return NewKey(device+"_initialized", false)
}

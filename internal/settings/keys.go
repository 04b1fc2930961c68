package settings

// Interactivity controls what guests may do with the queue.
type Interactivity string

const (
	FullControl Interactivity = "full_control"
	FullVoting  Interactivity = "full_voting"
	UpvotesOnly Interactivity = "upvotes_only"
	NoControl   Interactivity = "no_control"
)

// Devices lists the visualization targets that own per-device settings.
var Devices = []string{"ring", "strip", "wled", "screen"}

// Platforms lists the song sources that can be toggled.
var Platforms = []string{"local", "youtube", "spotify", "soundcloud", "jamendo"}

// basic
var (
	InteractivityLevel       = NewKey("interactivity", FullVoting)
	DownvotesToKick          = NewKey("downvotes_to_kick", 2)
	LoggingEnabled           = NewKey("logging_enabled", true)
	NewMusicOnly             = NewKey("new_music_only", false)
	EnqueueFirst             = NewKey("enqueue_first", false)
	MaxQueueLength           = NewKey("max_queue_length", 0)
	AdditionalKeywords       = NewKey("additional_keywords", "")
	PeopleToParty            = NewKey("people_to_party", 3)
	AlarmProbability         = NewKey("alarm_probability", 0.0)
	BuzzerCooldown           = NewKey("buzzer_cooldown", 1.0)
	BuzzerSuccessProbability = NewKey("buzzer_success_probability", -1.0)
	BackupStream             = NewKey("backup_stream", "")
)

// playback
var (
	Paused   = NewKey("paused", false)
	Volume   = NewKey("volume", 1.0)
	Shuffle  = NewKey("shuffle", false)
	Repeat   = NewKey("repeat", false)
	Autoplay = NewKey("autoplay", false)
)

// lights
var (
	UPS               = NewKey("ups", 30.0)
	FixedColor        = NewKey("fixed_color", [3]float64{0, 0, 0})
	ProgramSpeed      = NewKey("program_speed", 0.5)
	WLEDLEDCount      = NewKey("wled_led_count", 10)
	WLEDIP            = NewKey("wled_ip", "")
	WLEDPort          = NewKey("wled_port", 21324)
	DynamicResolution = NewKey("dynamic_resolution", false)
)

// PlatformEnabled reports whether requests may be served by platform.
func PlatformEnabled(platform string) Key[bool] {
	return NewKey(platform+"_enabled", platform == "local" || platform == "youtube")
}

func Brightness(device string) Key[float64] {
	return NewKey(device+"_brightness", 1.0)
}

func Monochrome(device string) Key[bool] {
	return NewKey(device+"_monochrome", false)
}

// Program is the program a device runs after a restart.
func Program(device string) Key[string] {
	return NewKey(device+"_program", "Disabled")
}

// LastProgram is the program the device ran before its last change, restored by the lights
// shortcut.
func LastProgram(device string) Key[string] {
	return NewKey("last_"+device+"_program", "Disabled")
}

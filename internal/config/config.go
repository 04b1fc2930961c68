package config

import (
	"bytes"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/netip"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = eris.New("invalid configuration")

// Player backends.
const (
	BackendMPD   = "mpd"
	BackendLocal = "local"
	BackendFake  = "fake"
)

// Audio feeds of the lights.
const (
	FeedCava    = "cava"
	FeedBuiltin = "builtin"
)

// Strip drivers.
const (
	StripPCA9685  = "pca9685"
	StripYeelight = "yeelight"
	StripNone     = "none"
)

// Config is the startup configuration. Knobs that change at runtime (volume, programs, ups)
// are persisted settings and live in the database instead.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Player   PlayerConfig   `yaml:"player"`
	Library  LibraryConfig  `yaml:"library"`
	Sounds   SoundsConfig   `yaml:"sounds"`
	Lights   LightsConfig   `yaml:"lights"`
	State    StateConfig    `yaml:"state"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// SQL logs every database statement.
	SQL bool `yaml:"sql"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	SettingsTTL time.Duration `yaml:"settings_ttl"`
}

type PlayerConfig struct {
	Backend      string        `yaml:"backend"`
	MPD          MPDConfig     `yaml:"mpd"`
	SampleRate   int           `yaml:"sample_rate"`
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	StartTimeout time.Duration `yaml:"start_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ErrorBackoff time.Duration `yaml:"error_backoff"`
}

type MPDConfig struct {
	Network  string `yaml:"network"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
}

type LibraryConfig struct {
	Root  string `yaml:"root"`
	Watch bool   `yaml:"watch"`
}

type SoundsConfig struct {
	Alarm     string `yaml:"alarm"`
	BuzzerYes string `yaml:"buzzer_yes,omitempty"`
	BuzzerNo  string `yaml:"buzzer_no,omitempty"`
}

type LightsConfig struct {
	Enabled bool          `yaml:"enabled"`
	Feed    string        `yaml:"feed"`
	Cava    CavaConfig    `yaml:"cava"`
	Capture CaptureConfig `yaml:"capture"`
	Ring    RingConfig    `yaml:"ring"`
	Strip   StripConfig   `yaml:"strip"`
	WLED    WLEDConfig    `yaml:"wled"`
	Screen  ScreenConfig  `yaml:"screen"`
}

type CavaConfig struct {
	Binary string `yaml:"binary"`
	FIFO   string `yaml:"fifo,omitempty"`
	Config string `yaml:"config,omitempty"`
}

// CaptureConfig selects the PortAudio input of the builtin feed.
type CaptureConfig struct {
	// Device is an index into the input devices. Negative picks interactively, or the
	// system default without a terminal.
	Device     int           `yaml:"device"`
	SampleRate float64       `yaml:"sample_rate"`
	FrameSize  int           `yaml:"frame_size"`
	Channels   int           `yaml:"channels"`
	Latency    time.Duration `yaml:"latency"`
}

type RingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SPI       string `yaml:"spi"`
	StatusLED string `yaml:"status_led,omitempty"`
}

type StripConfig struct {
	Driver       string  `yaml:"driver"`
	I2C          string  `yaml:"i2c"`
	I2CAddress   int     `yaml:"i2c_address"`
	PWMFrequency float64 `yaml:"pwm_frequency"`
	// Bulb is the yeelight address. Empty discovers one.
	Bulb string `yaml:"bulb,omitempty"`
}

type WLEDConfig struct {
	Enabled bool `yaml:"enabled"`
}

type ScreenConfig struct {
	Enabled bool   `yaml:"enabled"`
	Video   string `yaml:"video,omitempty"`
}

type StateConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// DefaultConfig returns a complete configuration for a box with MPD and no light hardware.
func DefaultConfig() Config {
	return Config{
		Log: LogConfig{
			Level: "info",
		},
		Database: DatabaseConfig{
			Path:        "ravebox.db",
			SettingsTTL: 10 * time.Second,
		},
		Player: PlayerConfig{
			Backend: BackendMPD,
			MPD: MPDConfig{
				Network: "tcp",
				Addr:    "localhost:6600",
			},
			SampleRate:   44100,
			LockTimeout:  3 * time.Second,
			StartTimeout: time.Second,
			PollInterval: 100 * time.Millisecond,
			ErrorBackoff: 500 * time.Millisecond,
		},
		Library: LibraryConfig{
			Root:  "~/Music",
			Watch: true,
		},
		Sounds: SoundsConfig{
			Alarm: "sounds/alarm.mp3",
		},
		Lights: LightsConfig{
			Enabled: true,
			Feed:    FeedCava,
			Cava: CavaConfig{
				Binary: "cava",
			},
			Capture: CaptureConfig{
				Device:    -1,
				FrameSize: 1024,
				Channels:  2,
			},
			Ring: RingConfig{
				SPI:       "/dev/spidev0.0",
				StatusLED: "/sys/class/leds/led1",
			},
			Strip: StripConfig{
				Driver:       StripNone,
				I2C:          "/dev/i2c-1",
				I2CAddress:   0x40,
				PWMFrequency: 1000,
			},
			Screen: ScreenConfig{
				Enabled: true,
			},
		},
		State: StateConfig{
			Enabled: true,
			Addr:    ":8090",
			Path:    "/state",
		},
	}
}

// Load reads the YAML file at path on top of the defaults. A missing file yields the
// defaults. Unknown fields are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(ExpandPath(path))
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, eris.Wrap(err, "read config file")
	}

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, eris.Wrapf(ErrInvalid, "decode %s: %v", path, err)
	}
	if err := dec.Decode(&yaml.Node{}); !errors.Is(err, io.EOF) {
		return Config{}, eris.Wrapf(ErrInvalid, "decode %s: unexpected trailing document", path)
	}

	return cfg, nil
}

// ExpandPath resolves a leading ~ to the home directory.
func ExpandPath(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// SlogLevel parses the log level.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, eris.Wrapf(ErrInvalid, "log.level %q", c.Level)
	}
	return level, nil
}

// Validate checks ranges and enumerations. It is called after the file and the flag
// overrides were applied.
func (c *Config) Validate() error {
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}

	if c.Database.SettingsTTL <= 0 {
		return invalid("database.settings_ttl must be positive")
	}

	p := c.Player
	if !slices.Contains([]string{BackendMPD, BackendLocal, BackendFake}, p.Backend) {
		return invalid("player.backend must be one of mpd, local, fake, got %q", p.Backend)
	}
	if p.Backend == BackendMPD && p.MPD.Addr == "" {
		return invalid("player.mpd.addr is required for the mpd backend")
	}
	if p.SampleRate <= 0 {
		return invalid("player.sample_rate must be positive")
	}
	for name, d := range map[string]time.Duration{
		"lock_timeout":  p.LockTimeout,
		"start_timeout": p.StartTimeout,
		"poll_interval": p.PollInterval,
		"error_backoff": p.ErrorBackoff,
	} {
		if d <= 0 {
			return invalid("player.%s must be positive", name)
		}
	}

	if c.Library.Root == "" {
		return invalid("library.root is required")
	}

	l := c.Lights
	if !slices.Contains([]string{FeedCava, FeedBuiltin}, l.Feed) {
		return invalid("lights.feed must be cava or builtin, got %q", l.Feed)
	}
	if l.Capture.FrameSize <= 0 || l.Capture.FrameSize&(l.Capture.FrameSize-1) != 0 {
		return invalid("lights.capture.frame_size must be a power of two")
	}
	if l.Capture.Channels < 1 {
		return invalid("lights.capture.channels must be at least 1")
	}
	if l.Ring.Enabled && l.Ring.SPI == "" {
		return invalid("lights.ring.spi is required when the ring is enabled")
	}
	switch l.Strip.Driver {
	case StripNone:
	case StripPCA9685:
		if l.Strip.I2C == "" {
			return invalid("lights.strip.i2c is required for the pca9685 driver")
		}
		if l.Strip.I2CAddress < 0x03 || l.Strip.I2CAddress > 0x77 {
			return invalid("lights.strip.i2c_address %#x is out of range", l.Strip.I2CAddress)
		}
		if l.Strip.PWMFrequency <= 0 {
			return invalid("lights.strip.pwm_frequency must be positive")
		}
	case StripYeelight:
		if l.Strip.Bulb != "" {
			if _, err := netip.ParseAddrPort(l.Strip.Bulb); err != nil {
				if _, err := netip.ParseAddr(l.Strip.Bulb); err != nil {
					return invalid("lights.strip.bulb %q is not an address", l.Strip.Bulb)
				}
			}
		}
	default:
		return invalid("lights.strip.driver must be pca9685, yeelight or none, got %q", l.Strip.Driver)
	}

	if c.State.Enabled {
		if c.State.Addr == "" {
			return invalid("state.addr is required when the state feed is enabled")
		}
		if !strings.HasPrefix(c.State.Path, "/") {
			return invalid("state.path must start with /")
		}
	}
	return nil
}

func invalid(format string, args ...any) error {
	return eris.Wrapf(ErrInvalid, format, args...)
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/gordonklaus/portaudio"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/cybre/ravebox/internal/config"
	"github.com/cybre/ravebox/internal/ui"
	"github.com/cybre/ravebox/internal/yeelight"
)

// globalOptions are the persistent flags. Set flags override the config file.
type globalOptions struct {
	configPath string
	debug      bool
	database   string
	player     string
}

func newRootCommand() *cobra.Command {
	var opts globalOptions

	root := &cobra.Command{
		Use:           "ravebox",
		Short:         "Party jukebox with a voted queue and music reactive lights",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "ravebox.yaml", "path of the YAML config file (missing means defaults)")
	flags.BoolVar(&opts.debug, "debug", false, "enable debug logging")
	flags.StringVar(&opts.database, "database", "", "SQLite database path")
	flags.StringVar(&opts.player, "player", "", "player backend: mpd, local or fake")

	root.AddCommand(
		newRunCommand(&opts),
		newVersionCommand(),
		newDevicesCommand(),
		newDiscoverCommand(),
	)
	return root
}

// load reads the config file and applies the flag overrides.
func (o *globalOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, err
	}
	o.apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func (o *globalOptions) apply(cfg *config.Config) {
	if o.debug {
		cfg.Log.Level = "debug"
	}
	if o.database != "" {
		cfg.Database.Path = o.database
	}
	if o.player != "" {
		cfg.Player.Backend = o.player
	}
}

func newRunCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the playback loop, the lights and the state feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			level, err := cfg.Log.SlogLevel()
			if err != nil {
				return err
			}

			logger := setupLogger(level, usesScreen(cfg))
			logger.Info("starting ravebox", slog.String("version", version), slog.String("player", cfg.Player.Backend))

			if err := runBox(cmd.Context(), cfg, logger); err != nil {
				logger.Error("ravebox stopped", slog.Any("error", err))
				return err
			}
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ravebox %s\n", version)
		},
	}
}

func newDevicesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List the audio inputs the builtin feed can capture",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := portaudio.Initialize(); err != nil {
				return eris.Wrap(err, "initialize PortAudio")
			}
			defer portaudio.Terminate()

			devices, err := portaudio.Devices()
			if err != nil {
				return eris.Wrap(err, "enumerate audio devices")
			}
			for _, option := range buildDeviceOptions(devices) {
				fmt.Fprintln(cmd.OutOrStdout(), option.Label)
			}
			return nil
		},
	}
}

func newDiscoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discover",
		Short: "Find yeelight bulbs usable as the strip",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			bulbs, err := yeelight.Discover(cmd.Context())
			if err != nil {
				return err
			}
			if len(bulbs) == 0 {
				return eris.New("no bulbs answered")
			}
			for _, bulb := range bulbs {
				fmt.Fprintln(cmd.OutOrStdout(), describeBulb(bulb))
			}
			return nil
		},
	}
}

// usesScreen reports whether the terminal will show visualizations.
func usesScreen(cfg config.Config) bool {
	return cfg.Lights.Enabled && cfg.Lights.Screen.Enabled && ui.IsInteractive()
}

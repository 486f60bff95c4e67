// Package main provides the CLI entrypoint for slpwatch.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/verte-zerg/slpwatch/internal/config"
	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/session"
)

const (
	defaultSettleDelayMs = int(session.DefaultSettleDelay / time.Millisecond)
	defaultLogLevel      = "info"
)

var (
	replayDir     string
	connectCode   string
	transport     string
	consoleHost   string
	consolePort   int
	retryInterval time.Duration
	wsAddr        string
	settleDelayMs int
	cacheEnabled  bool
	cachePath     string
	watchEnabled  bool
	logLevel      string

	opponentsOutput string

	simulateChunk      int
	simulateChunkDelay time.Duration
	simulateTimeout    time.Duration
)

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "slpwatch",
		Short:         "Live match overlay for Slippi",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runOverlayCmd,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&replayDir, "dir", "", "replay directory")
	flags.StringVar(&connectCode, "code", "", "your connect code (e.g. ABCD#123)")
	flags.StringVar(&transport, "transport", console.TransportDolphin, "how to reach the game (dolphin, console)")
	flags.StringVar(&consoleHost, "host", console.DefaultHost, "console or emulator host")
	flags.IntVar(&consolePort, "port", console.PortDefault, "console or emulator port")
	flags.DurationVar(&retryInterval, "retry-interval", console.DefaultRetryInterval, "wait between failed connection attempts")
	flags.StringVar(&wsAddr, "ws-addr", "", "serve browser overlays over WebSocket on this address (e.g. 127.0.0.1:8090)")
	flags.IntVar(&settleDelayMs, "settle-delay-ms", defaultSettleDelayMs, "wait after a match ends before reading its replay")
	flags.BoolVar(&cacheEnabled, "cache", true, "cache parsed replays in SQLite")
	flags.StringVar(&cachePath, "cache-path", config.DefaultCachePath(), "replay cache database")
	flags.BoolVar(&watchEnabled, "watch", true, "refresh previous opponents when new replays appear")
	flags.StringVar(&logLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newHeadlessCmd())
	rootCmd.AddCommand(newOpponentsCmd())
	rootCmd.AddCommand(newSimulateCmd())

	return rootCmd
}

// loadSettings merges the config file into flags the user did not set.
func loadSettings(cmd *cobra.Command) error {
	fileCfg, err := config.LoadConfig(config.DefaultConfigPath())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyStringConfig(cmd, "dir", &replayDir, fileCfg.Replays.Dir)
	applyStringConfig(cmd, "code", &connectCode, fileCfg.Replays.ConnectCode)
	applyStringConfig(cmd, "transport", &transport, fileCfg.Console.Transport)
	applyStringConfig(cmd, "host", &consoleHost, fileCfg.Console.Host)
	applyIntConfig(cmd, "port", &consolePort, fileCfg.Console.Port)
	if err := applyDurationConfig(cmd, "retry-interval", &retryInterval, fileCfg.Console.RetryInterval); err != nil {
		return err
	}
	applyStringConfig(cmd, "ws-addr", &wsAddr, fileCfg.Overlay.WSAddr)
	applyIntConfig(cmd, "settle-delay-ms", &settleDelayMs, fileCfg.Overlay.SettleDelayMs)
	applyBoolConfig(cmd, "cache", &cacheEnabled, fileCfg.Cache.Enabled)
	applyStringConfig(cmd, "cache-path", &cachePath, fileCfg.Cache.Path)
	applyBoolConfig(cmd, "watch", &watchEnabled, fileCfg.Watch.Enabled)
	applyStringConfig(cmd, "log-level", &logLevel, fileCfg.Log.Level)

	replayDir = expandHome(strings.TrimSpace(replayDir))
	connectCode = strings.ToUpper(strings.TrimSpace(connectCode))
	return validateSettings()
}

func validateSettings() error {
	if _, err := console.NewDialer(transport, 0); err != nil {
		return fmt.Errorf("--transport: %w", err)
	}
	if consolePort <= 0 || consolePort > 65535 {
		return fmt.Errorf("--port must be between 1 and 65535")
	}
	if retryInterval <= 0 {
		return fmt.Errorf("--retry-interval must be > 0")
	}
	if settleDelayMs < 0 {
		return fmt.Errorf("--settle-delay-ms must be >= 0")
	}
	if _, err := parseLevel(logLevel); err != nil {
		return err
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Create/open config file",
		Args:  cobra.NoArgs,
		RunE:  runConfigCmd,
	}
}

func runConfigCmd(_ *cobra.Command, _ []string) error {
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to stat config: %w", err)
		}
		if err := os.WriteFile(path, []byte(defaultConfigTemplate()), 0o644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
	}

	editor := strings.TrimSpace(os.Getenv("EDITOR"))
	if editor == "" {
		editor = "vi"
	}
	parts := strings.Fields(editor)
	if len(parts) == 0 {
		return fmt.Errorf("editor command is empty")
	}
	cmd := exec.Command(parts[0], append(parts[1:], path)...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to open editor: %w", err)
	}
	return nil
}

func applyStringConfig(cmd *cobra.Command, name string, target, value *string) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyIntConfig(cmd *cobra.Command, name string, target, value *int) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyBoolConfig(cmd *cobra.Command, name string, target, value *bool) {
	if value == nil {
		return
	}
	if cmd.Flags().Changed(name) {
		return
	}
	*target = *value
}

func applyDurationConfig(cmd *cobra.Command, name string, target *time.Duration, value *string) error {
	if value == nil {
		return nil
	}
	if cmd.Flags().Changed(name) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*value))
	if err != nil {
		return fmt.Errorf("invalid %s in config: %w", name, err)
	}
	*target = d
	return nil
}

func defaultConfigTemplate() string {
	return fmt.Sprintf(`# slpwatch configuration
# Uncomment a value to enable it. CLI flags override config values.

[replays]
# dir = "~/Slippi"              # Directory the console writes replays to
# connect-code = "ABCD#123"     # Your connect code

[console]
# transport = %q          # dolphin (emulator, ENet/UDP) or console (Wii, TCP)
# host = %q
# port = %d                   # Dolphin and current consoles; %d for older console firmware
# retry-interval = %q

[overlay]
# ws-addr = "127.0.0.1:8090"    # Serve browser overlays; empty disables
# settle-delay-ms = %d

[cache]
# enabled = true
# path = %q

[watch]
# enabled = true                # Refresh previous opponents on new replays

[log]
# level = %q                  # debug, info, warn, error
`,
		console.TransportDolphin,
		console.DefaultHost,
		console.PortDefault,
		console.PortLegacy,
		console.DefaultRetryInterval.String(),
		defaultSettleDelayMs,
		config.DefaultCachePath(),
		defaultLogLevel,
	)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func logErrf(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

func logErrln(args ...any) {
	if _, err := fmt.Fprintln(os.Stderr, args...); err != nil {
		// Best-effort logging to stderr.
		_ = err
	}
}

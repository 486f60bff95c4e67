package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/verte-zerg/slpwatch/internal/broadcast"
	"github.com/verte-zerg/slpwatch/internal/config"
	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/overlay"
	"github.com/verte-zerg/slpwatch/internal/session"
	"github.com/verte-zerg/slpwatch/internal/slp"
	"github.com/verte-zerg/slpwatch/internal/stats"
	"github.com/verte-zerg/slpwatch/internal/store"
	"github.com/verte-zerg/slpwatch/internal/watch"
)

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}

func setDefaultLogger(w io.Writer) {
	level, err := parseLevel(logLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// openReader returns the replay reader, backed by the cache when enabled.
func openReader() (session.Reader, func(), error) {
	if !cacheEnabled {
		return slp.FileReader{}, func() {}, nil
	}
	st, err := store.Open(cachePath, slp.FileReader{})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open replay cache: %w", err)
	}
	if n, err := st.Prune(context.Background()); err != nil {
		slog.Warn("failed to prune replay cache", "error", err)
	} else if n > 0 {
		slog.Debug("pruned replay cache", "removed", n)
	}
	return st, func() {
		if cerr := st.Close(); cerr != nil {
			logErrf("failed to close replay cache: %v\n", cerr)
		}
	}, nil
}

// services holds what every run mode shares: the controller and the
// optional broadcast server and replay watcher.
type services struct {
	conn    *console.Connection
	ctrl    *session.Controller
	fanout  *session.Fanout
	watcher *watcherSwitch
	server  *http.Server
}

func newServices(dialer console.Dialer, reader session.Reader, notifiers ...session.Notifier) *services {
	s := &services{fanout: session.NewFanout(notifiers...)}
	s.conn = console.NewConnection(dialer, console.Options{
		RetryInterval: retryInterval,
		ReconnectAddr: net.JoinHostPort(consoleHost, strconv.Itoa(consolePort)),
	})
	s.ctrl = session.NewController(session.Config{
		Conn:        s.conn,
		Reader:      reader,
		Notifier:    s.fanout,
		Host:        consoleHost,
		Port:        consolePort,
		SettleDelay: time.Duration(settleDelayMs) * time.Millisecond,
		AutoConnect: true,
	})
	if watchEnabled {
		s.watcher = &watcherSwitch{onChange: s.ctrl.ReplayChanged}
		s.fanout.Add(s.watcher)
	}
	if wsAddr != "" {
		hub := broadcast.NewHub()
		s.fanout.Add(hub)
		s.server = &http.Server{Addr: wsAddr, Handler: hub.Handler(), ReadHeaderTimeout: 5 * time.Second}
	}
	return s
}

// start runs the controller and the broadcast server until ctx is done.
// The returned function waits for both to stop.
func (s *services) start(ctx context.Context) func() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.ctrl.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("session controller stopped", "error", err)
		}
	}()
	if s.server != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slog.Info("serving overlay events", "addr", s.server.Addr)
			if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("overlay server failed", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := s.server.Shutdown(shutdownCtx); err != nil {
				slog.Debug("overlay server shutdown", "error", err)
			}
		}()
	}
	return func() {
		wg.Wait()
		if err := s.conn.Close(); err != nil {
			slog.Debug("failed to close console connection", "error", err)
		}
		if s.watcher != nil {
			s.watcher.stop()
		}
	}
}

// watcherSwitch follows the session's replay directory: it starts a watcher
// when a session starts and stops it when the user leaves the session.
type watcherSwitch struct {
	onChange func()

	mu     sync.Mutex
	dir    string
	cancel context.CancelFunc
}

func (w *watcherSwitch) Notify(ev session.Event) {
	switch e := ev.(type) {
	case session.InitEvent:
		w.watch(e.Context.ReplayDir)
	case session.ResetEvent:
		if e.ToSettings {
			w.stop()
		}
	}
}

func (w *watcherSwitch) watch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if dir == w.dir && w.cancel != nil {
		return
	}
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.dir = dir
	watcher, err := watch.New(dir, watch.DefaultQuiet, func(string) { w.onChange() })
	if err != nil {
		slog.Warn("replay watcher disabled", "dir", dir, "error", err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go func() {
		if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("replay watcher stopped", "dir", dir, "error", err)
		}
	}()
}

func (w *watcherSwitch) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	w.dir = ""
}

func runOverlayCmd(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	logPath := config.DefaultLogPath()
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	logFile, err := tea.LogToFile(logPath, "slpwatch")
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() {
		if cerr := logFile.Close(); cerr != nil {
			// Best-effort close of the log file.
			_ = cerr
		}
	}()
	setDefaultLogger(logFile)

	reader, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	dialer, err := console.NewDialer(transport, 0)
	if err != nil {
		return err
	}
	svc := newServices(dialer, reader)
	m := overlay.NewModel(svc.ctrl, overlay.Options{
		ReplayDir:   replayDir,
		ConnectCode: connectCode,
		AutoStart:   replayDir != "" && connectCode != "",
	})
	program := tea.NewProgram(m, tea.WithAltScreen())
	svc.fanout.Add(overlay.Notifier{Program: program})

	ctx, cancel := context.WithCancel(context.Background())
	wait := svc.start(ctx)
	_, runErr := program.Run()
	cancel()
	wait()
	if runErr != nil {
		return fmt.Errorf("failed to run overlay: %w", runErr)
	}
	return nil
}

func newHeadlessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "headless",
		Short: "Track matches and log events without the overlay",
		Args:  cobra.NoArgs,
		RunE:  runHeadlessCmd,
	}
}

func runHeadlessCmd(cmd *cobra.Command, _ []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	if replayDir == "" {
		return fmt.Errorf("--dir is required (or set replays.dir in the config)")
	}
	setDefaultLogger(os.Stderr)

	reader, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	dialer, err := console.NewDialer(transport, 0)
	if err != nil {
		return err
	}
	svc := newServices(dialer, reader, session.LogNotifier{})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	svc.ctrl.InitSession(replayDir, connectCode)
	wait := svc.start(ctx)
	<-ctx.Done()
	slog.Info("shutting down")
	wait()
	return nil
}

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate <replay.slp>",
		Short: "Play a replay file through the tracker as if a console sent it",
		Args:  cobra.ExactArgs(1),
		RunE:  runSimulateCmd,
	}
	cmd.Flags().IntVar(&simulateChunk, "chunk", 4096, "bytes per simulated console message")
	cmd.Flags().DurationVar(&simulateChunkDelay, "chunk-delay", 10*time.Millisecond, "delay between simulated messages")
	cmd.Flags().DurationVar(&simulateTimeout, "timeout", time.Minute, "give up when no match ends within this time")
	return cmd
}

func runSimulateCmd(cmd *cobra.Command, args []string) error {
	if err := loadSettings(cmd); err != nil {
		return err
	}
	if simulateChunk <= 0 {
		return fmt.Errorf("--chunk must be > 0")
	}
	setDefaultLogger(os.Stderr)

	path := args[0]
	raw, err := slp.ReadRaw(path)
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("dir") {
		replayDir = filepath.Dir(path)
	}

	reader, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	ended := make(chan struct{})
	var once sync.Once
	onEnd := session.NotifierFunc(func(ev session.Event) {
		end, ok := ev.(session.MatchEndEvent)
		if !ok {
			return
		}
		once.Do(func() {
			if err := stats.RenderMatch(cmd.OutOrStdout(), end.Stats, end.Settings); err != nil {
				logErrf("failed to print match summary: %v\n", err)
			}
			close(ended)
		})
	})
	dialer := &console.ReplayDialer{
		Raw:        raw,
		ChunkSize:  simulateChunk,
		ChunkDelay: simulateChunkDelay,
		Hold:       -1,
	}
	svc := newServices(dialer, reader, session.LogNotifier{}, onEnd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, simulateTimeout)
	defer cancel()
	svc.ctrl.InitSession(replayDir, connectCode)
	wait := svc.start(ctx)

	var result error
	select {
	case <-ended:
		logErrln("simulated match finished")
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			result = fmt.Errorf("no match ended within %s", simulateTimeout)
		}
	}
	cancel()
	wait()
	return result
}

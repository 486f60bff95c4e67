package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/verte-zerg/slpwatch/internal/config"
	"github.com/verte-zerg/slpwatch/internal/console"
	"github.com/verte-zerg/slpwatch/internal/model"
)

func writeConfig(t *testing.T, body string) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	path := config.DefaultConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestDefaultConfigTemplateParses(t *testing.T) {
	var cfg config.FileConfig
	if _, err := toml.Decode(defaultConfigTemplate(), &cfg); err != nil {
		t.Fatalf("template does not parse: %v", err)
	}
	if cfg.Replays.Dir != nil || cfg.Console.Port != nil || cfg.Console.Transport != nil {
		t.Fatalf("expected every value commented out, got %+v", cfg)
	}
	if !strings.Contains(defaultConfigTemplate(), "# transport = \"dolphin\"") {
		t.Fatalf("expected dolphin as the documented default transport")
	}
}

func TestLoadSettingsConfigAndFlags(t *testing.T) {
	writeConfig(t, `
[replays]
dir = "/replays"
connect-code = "abcd#123"

[console]
transport = "console"
port = 666
retry-interval = "3s"
`)
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--port", "51441"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := loadSettings(cmd); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if replayDir != "/replays" || connectCode != "ABCD#123" {
		t.Fatalf("unexpected replay settings %q %q", replayDir, connectCode)
	}
	if consolePort != 51441 {
		t.Fatalf("expected flag to win over config, got %d", consolePort)
	}
	if retryInterval != 3*time.Second {
		t.Fatalf("unexpected retry interval %s", retryInterval)
	}
	if transport != console.TransportConsole {
		t.Fatalf("expected console transport from config, got %q", transport)
	}
}

func TestLoadSettingsTransport(t *testing.T) {
	writeConfig(t, "")
	cmd := newRootCmd()
	if err := cmd.ParseFlags(nil); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := loadSettings(cmd); err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if transport != console.TransportDolphin || consolePort != console.PortDefault {
		t.Fatalf("expected dolphin on %d by default, got %q on %d", console.PortDefault, transport, consolePort)
	}

	cmd = newRootCmd()
	if err := cmd.ParseFlags([]string{"--transport", "wii"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := loadSettings(cmd); err == nil || !strings.Contains(err.Error(), "--transport") {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestLoadSettingsRejectsBadValues(t *testing.T) {
	writeConfig(t, "[console]\nretry-interval = \"soon\"\n")
	if err := loadSettings(newRootCmd()); err == nil || !strings.Contains(err.Error(), "retry-interval") {
		t.Fatalf("expected retry interval error, got %v", err)
	}

	writeConfig(t, "")
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--log-level", "loud"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if err := loadSettings(cmd); err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Fatalf("expected log level error, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	level, err := parseLevel(" debug ")
	if err != nil || level != slog.LevelDebug {
		t.Fatalf("unexpected level %v (%v)", level, err)
	}
	if _, err := parseLevel("verbose"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestWriteOpponents(t *testing.T) {
	opponents := []model.OpponentRecord{{
		ConnectCode: "BBBB#2",
		Name:        "bee",
		Characters:  map[int]int{2: 100},
		StartedAt:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DidUserWin:  true,
	}}

	var buf bytes.Buffer
	if err := writeOpponents(&buf, opponents, "json"); err != nil {
		t.Fatalf("json: %v", err)
	}
	var decoded []model.OpponentRecord
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil || len(decoded) != 1 || decoded[0].ConnectCode != "BBBB#2" {
		t.Fatalf("unexpected json %s (%v)", buf.String(), err)
	}

	buf.Reset()
	if err := writeOpponents(&buf, opponents, "yaml"); err != nil {
		t.Fatalf("yaml: %v", err)
	}
	var rows []map[string]any
	if err := yaml.Unmarshal(buf.Bytes(), &rows); err != nil || len(rows) != 1 || rows[0]["connect-code"] != "BBBB#2" {
		t.Fatalf("unexpected yaml %s (%v)", buf.String(), err)
	}

	buf.Reset()
	if err := writeOpponents(&buf, nil, "json"); err != nil || strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("expected empty list, got %q (%v)", buf.String(), err)
	}

	buf.Reset()
	if err := writeOpponents(&buf, opponents, "table"); err != nil || !strings.Contains(buf.String(), "BBBB#2") {
		t.Fatalf("unexpected table %q (%v)", buf.String(), err)
	}

	if err := writeOpponents(&buf, opponents, "xml"); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestExpandHome(t *testing.T) {
	t.Setenv("HOME", "/home/tester")
	if got := expandHome("~/Slippi"); got != filepath.Join("/home/tester", "Slippi") {
		t.Fatalf("unexpected expansion %q", got)
	}
	if got := expandHome("/abs"); got != "/abs" {
		t.Fatalf("expected absolute path untouched, got %q", got)
	}
}

package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/hackgame/internal/testutil/testlog"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	testlog.Start(t)
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestTemplatesLoad(t *testing.T) {
	testlog.Start(t)
	for _, format := range []string{"toml", "yaml"} {
		t.Run(format, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "hackd."+format)
			if err := WriteTemplate(path, format, false); err != nil {
				t.Fatalf("write template: %v", err)
			}
			if err := WriteTemplate(path, format, false); err == nil {
				t.Fatalf("expected refusal to overwrite")
			}
			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.WebSocketAddr != ":4243" || cfg.MetricsAddr != ":9464" {
				t.Fatalf("unexpected addrs: %+v", cfg)
			}
			if cfg.Session.SessionDeadAfter != 5*time.Minute {
				t.Fatalf("session_dead_after=%v", cfg.Session.SessionDeadAfter)
			}
			if len(cfg.Software) != 2 || cfg.Software[1].ID != "fw.basic" {
				t.Fatalf("software=%+v", cfg.Software)
			}
			if cfg.Credential.MemoryKiB != 65535 {
				t.Fatalf("credential=%+v", cfg.Credential)
			}
		})
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "partial.toml", `
listen_addr = ":7000"

[registry]
starting_balance = 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := Default()
	if cfg.ListenAddr != ":7000" || cfg.Registry.StartingBalance != 5 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Registry.SyncInterval != def.Registry.SyncInterval || cfg.Storage != def.Storage {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, "hackd.yaml", "listen_addr: \":7000\"\nstorage:\n  driver: badger\n  path: data\n")
	t.Setenv("HACKGAME_LISTEN_ADDR", ":8000")
	t.Setenv("HACKGAME_STORAGE_DRIVER", "memory")
	t.Setenv("HACKGAME_REGISTRY_SYNC_INTERVAL", "2s")
	t.Setenv("HACKGAME_SESSION_TLS_ENABLED", "false")
	t.Setenv("HACKGAME_DEV_ENABLED", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":8000" || cfg.Storage.Driver != DriverMemory || cfg.Storage.Path != "data" {
		t.Fatalf("env precedence wrong: %+v", cfg)
	}
	if cfg.Registry.SyncInterval != 2*time.Second || !cfg.Dev.Enabled {
		t.Fatalf("env nested override missing: %+v", cfg)
	}
}

func TestLoadRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name, file, content, want string
	}{
		{name: "unknown toml key", file: "a.toml", content: "listen_adr = \":1\"\n", want: "unknown keys"},
		{name: "unknown yaml key", file: "a.yaml", content: "listen_adr: \":1\"\n", want: "listen_adr"},
		{name: "bad driver", file: "a.toml", content: "[storage]\ndriver = \"postgres\"\n", want: "storage.driver"},
		{name: "bad software id", file: "a.toml", content: "[[software]]\nid = \"Bad ID\"\nname = \"x\"\n", want: "software[0]"},
		{name: "production without tls", file: "a.toml", content: "[session]\nsecurity_mode = \"production\"\n", want: "tls required"},
		{name: "zero burst", file: "a.yaml", content: "commands:\n  burst: 0\n", want: "commands"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeFile(t, tc.file, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadUnsupportedExtension(t *testing.T) {
	testlog.Start(t)
	_, err := Load(writeFile(t, "hackd.json", "{}"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

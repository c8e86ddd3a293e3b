package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spliosync.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func devMode(t *testing.T) {
	t.Helper()
	t.Setenv("SPLIOSYNC_DEV_MODE", "true")
}

func TestLoadFromFile_Defaults(t *testing.T) {
	devMode(t)
	cfg, err := LoadFromFile(writeConfig(t, "{}"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Splio.Scheme != "https" {
		t.Errorf("scheme = %s", cfg.Splio.Scheme)
	}
	if cfg.Sync.Concurrency != 10 || cfg.Sync.WorkerBatch != 50 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if time.Duration(cfg.Sync.WorkerInterval) != time.Minute {
		t.Errorf("worker interval = %v", cfg.Sync.WorkerInterval)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("log = %+v", cfg.Log)
	}
}

func TestLoadFromFile_YAMLOverridesDefaults(t *testing.T) {
	devMode(t)
	cfg, err := LoadFromFile(writeConfig(t, `
server:
  port: 9090
  read_timeout: 5s
splio:
  server: s3s.fr
sync:
  concurrency: 4
  worker_interval: 30s
entities:
  contacts:
    label: Customers
    local_type: user
    local_bundle: customer
`))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if time.Duration(cfg.Server.ReadTimeout) != 5*time.Second {
		t.Errorf("read timeout = %v", cfg.Server.ReadTimeout)
	}
	if cfg.Splio.Server != "s3s.fr" {
		t.Errorf("splio server = %s", cfg.Splio.Server)
	}
	if cfg.Sync.Concurrency != 4 {
		t.Errorf("concurrency = %d", cfg.Sync.Concurrency)
	}
	if time.Duration(cfg.Sync.WorkerInterval) != 30*time.Second {
		t.Errorf("worker interval = %v", cfg.Sync.WorkerInterval)
	}

	contacts, ok := cfg.Entities["contacts"]
	if !ok || contacts.LocalType != "user" || contacts.LocalBundle != "customer" {
		t.Errorf("contacts = %+v", contacts)
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	devMode(t)
	t.Setenv("SPLIOSYNC_PORT", "7070")
	t.Setenv("SPLIO_SERVER", "s3s.fr")
	t.Setenv("SPLIO_UNIVERSE", "acme")
	t.Setenv("SPLIO_API_KEY", "secret")
	t.Setenv("SPLIOSYNC_WORKER_BATCH", "5")

	cfg, err := LoadFromFile(writeConfig(t, "server:\n  port: 9090\n"))
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want env override", cfg.Server.Port)
	}
	if cfg.Splio.Universe != "acme" || cfg.Splio.APIKey != "secret" {
		t.Errorf("splio = %+v", cfg.Splio)
	}
	if cfg.Sync.WorkerBatch != 5 {
		t.Errorf("worker batch = %d", cfg.Sync.WorkerBatch)
	}
}

func TestLoadFromFile_CredentialsRequiredOutsideDevMode(t *testing.T) {
	t.Setenv("SPLIOSYNC_DEV_MODE", "")
	t.Setenv("SPLIO_SERVER", "s3s.fr")
	t.Setenv("SPLIO_UNIVERSE", "acme")
	t.Setenv("SPLIO_API_KEY", "")
	t.Setenv("SPLIOSYNC_API_KEY", "local")

	if _, err := LoadFromFile(writeConfig(t, "{}")); err == nil {
		t.Error("want an error when SPLIO_API_KEY is missing")
	}

	t.Setenv("SPLIO_API_KEY", "secret")
	if _, err := LoadFromFile(writeConfig(t, "{}")); err != nil {
		t.Errorf("LoadFromFile with full credentials: %v", err)
	}
}

func TestLoadFromFile_RejectsUnknownEntityType(t *testing.T) {
	devMode(t)
	_, err := LoadFromFile(writeConfig(t, `
entities:
  invoices:
    local_type: invoice
`))
	if err == nil {
		t.Error("want an error for an unknown splio entity type")
	}
}

func TestLoadFromFile_EntityNeedsLocalBinding(t *testing.T) {
	devMode(t)
	_, err := LoadFromFile(writeConfig(t, `
entities:
  contacts:
    label: Customers
`))
	if err == nil {
		t.Error("want an error when neither local_type nor local_bundle is set")
	}

	// contacts_lists is synthetic and carries no local binding.
	_, err = LoadFromFile(writeConfig(t, `
entities:
  contacts_lists:
    label: Lists
`))
	if err != nil {
		t.Errorf("contacts_lists without binding: %v", err)
	}
}

func TestDurationYAML(t *testing.T) {
	devMode(t)
	_, err := LoadFromFile(writeConfig(t, "server:\n  read_timeout: banana\n"))
	if err == nil {
		t.Error("want an error for an unparseable duration")
	}
}

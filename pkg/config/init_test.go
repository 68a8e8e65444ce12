package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestInitConfig_Success(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	configPath, err := InitConfig(false)
	if err != nil {
		t.Fatalf("InitConfig failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	contentStr := string(content)
	for _, section := range []string{
		"# fsstore Configuration File",
		"logging:",
		"server:",
		"backend:",
		"reclamation:",
		"storages:",
		"adapters:",
	} {
		if !strings.Contains(contentStr, section) {
			t.Errorf("Config file missing section: %s", section)
		}
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		t.Fatalf("Generated config is not valid YAML: %v", err)
	}
}

func TestInitConfig_AlreadyExists(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if _, err := InitConfig(false); err != nil {
		t.Fatalf("First InitConfig failed: %v", err)
	}

	_, err := InitConfig(false)
	if err == nil {
		t.Fatal("Expected error when config already exists")
	}
	if !strings.Contains(err.Error(), "already exists") {
		t.Errorf("Expected 'already exists' error, got: %v", err)
	}
}

func TestInitConfigToPath_ForceOverwrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(configPath, []byte("stale"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := InitConfigToPath(configPath, false); err == nil {
		t.Fatal("Expected error without force")
	}
	if err := InitConfigToPath(configPath, true); err != nil {
		t.Fatalf("InitConfigToPath with force failed: %v", err)
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(content), "stale") {
		t.Error("Config file was not overwritten")
	}
}

func TestGeneratedConfigIsLoadable(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := InitConfigToPath(configPath, false); err != nil {
		t.Fatalf("InitConfigToPath failed: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Generated config does not load: %v", err)
	}

	def := GetDefaultConfig()
	if cfg.Server.ShutdownTimeout != def.Server.ShutdownTimeout {
		t.Errorf("shutdown_timeout: expected %v, got %v", def.Server.ShutdownTimeout, cfg.Server.ShutdownTimeout)
	}
	if cfg.Reclamation.Retention != def.Reclamation.Retention {
		t.Errorf("retention: expected %v, got %v", def.Reclamation.Retention, cfg.Reclamation.Retention)
	}
	if len(cfg.Storages) != 1 || cfg.Storages[0].Options["dir"] != "example" {
		t.Errorf("Unexpected storages: %+v", cfg.Storages)
	}
	if cfg.Adapters.NATS.URL != def.Adapters.NATS.URL {
		t.Errorf("nats url: expected %q, got %q", def.Adapters.NATS.URL, cfg.Adapters.NATS.URL)
	}
}

func TestRenderConfigUsesDurationStrings(t *testing.T) {
	data, err := renderConfig(GetDefaultConfig())
	if err != nil {
		t.Fatalf("renderConfig failed: %v", err)
	}
	if !strings.Contains(string(data), "shutdown_timeout: 30s") {
		t.Errorf("Expected human-readable durations, got:\n%s", data)
	}
}

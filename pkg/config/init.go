package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# fsstore Configuration File
#
# Environment variables override any value below, e.g.
# FSSTORE_LOGGING_LEVEL=DEBUG or FSSTORE_BACKEND_ROOT=/var/lib/fsstore.
#
# Storage options:
#   dir                 directory under backend.root (required)
#   read_only           true|yes|false|no
#   on_closure          do_nothing|delete_all
#   follow_links        true|yes|false|no
#   keep_mime_types     true|yes|false|no (default true)
#   index               badger|memory (default badger)
#   sync_writes         fsync every index commit (default true)
#   gc_interval         overrides reclamation.interval
#   tombstone_retention overrides reclamation.retention

`

// InitConfig writes a sample configuration to the default location.
//
// Returns the path written. An existing file is only replaced when force is
// set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a sample configuration to path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	data, err := renderConfig(GetDefaultConfig())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// renderConfig encodes cfg as commented YAML.
func renderConfig(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(configHeader)

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	return buf.Bytes(), nil
}

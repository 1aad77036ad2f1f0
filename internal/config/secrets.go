package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadSecrets reads a JSON object of string key/value pairs from path.
// A missing file is reported as an error wrapping the *os.PathError
// (reachable with errors.As; errors.Is(err, fs.ErrNotExist) holds),
// which callers surface as spec.md §6's FileError at startup.
func LoadSecrets(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading secrets file: %w", err)
	}
	var secrets map[string]string
	if err := json.Unmarshal(raw, &secrets); err != nil {
		return nil, fmt.Errorf("config: parsing secrets file: %w", err)
	}
	return secrets, nil
}

// Interpolate replaces every literal occurrence of each secrets key in
// text with its value. Substitution is purely textual, not
// structure-aware, which is what makes re-running it over
// already-substituted text a no-op: once a key string no longer appears
// in text, Interpolate(Interpolate(text)) == Interpolate(text).
func Interpolate(text string, secrets map[string]string) string {
	for key, value := range secrets {
		text = strings.ReplaceAll(text, key, value)
	}
	return text
}

// Load reads the config file at configPath and the secrets file at
// secretsPath, interpolates, and parses the result.
func Load(configPath, secretsPath string) (Config, error) {
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("config: reading config file: %w", err)
	}
	secrets, err := LoadSecrets(secretsPath)
	if err != nil {
		return Config{}, err
	}
	interpolated := Interpolate(string(raw), secrets)
	cfg, err := Parse([]byte(interpolated))
	if err != nil {
		return Config{}, fmt.Errorf("config: parsing config file: %w", err)
	}
	if cfg.ExecutionThreads <= 0 || cfg.ExecutionThreads > 255 {
		return Config{}, fmt.Errorf("config: execution_threads must be in 1..=255, got %d", cfg.ExecutionThreads)
	}
	return cfg, nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// LoadWithSecrets loads configuration and a separate secrets file.
// Precedence: ENV > secrets file > config file > defaults.
//
//	config.yaml:
//	  persistence:
//	    backend: postgres
//
//	secrets.yaml:
//	  persistence:
//	    sql:
//	      url: postgres://mqtt:password@db:5432/mqtt
//
// The secrets file is <ENV_PREFIX>_SECRETS_FILE when set, otherwise
// secrets.<ext> next to the config file if it exists. The second return value
// holds only what the secrets file set, so Redacted can mask exactly those
// values; it is nil without a secrets file.
func (l *ViperLoader) LoadWithSecrets() (*Config, *Config, error) {
	return l.load(true)
}

// mergeSecrets reads the secrets file, if any, into v and returns its values.
func (l *ViperLoader) mergeSecrets(v *viper.Viper) (*Config, error) {
	path, err := l.discoverSecretsFile()
	if err != nil || path == "" {
		return nil, err
	}

	sv := viper.New()
	sv.SetConfigFile(path)
	if err := sv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read secrets file %s: %w", path, err)
	}
	var secrets Config
	if err := sv.Unmarshal(&secrets); err != nil {
		return nil, fmt.Errorf("failed to unmarshal secrets file %s: %w", path, err)
	}
	if err := v.MergeConfigMap(sv.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge secrets: %w", err)
	}
	return &secrets, nil
}

// discoverSecretsFile returns the secrets file path, or "" when there is none.
// An explicit but unusable env value is an error rather than a silent fallback.
func (l *ViperLoader) discoverSecretsFile() (string, error) {
	env := l.prefixedEnv("SECRETS_FILE")
	if raw, ok := os.LookupEnv(env); ok {
		path := strings.TrimSpace(raw)
		if path == "" {
			return "", fmt.Errorf("%s is set but empty", env)
		}
		info, err := os.Stat(path)
		if err != nil {
			return "", fmt.Errorf("%s points to an inaccessible file %s: %w", env, path, err)
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s must point to a file, got directory %s", env, path)
		}
		return path, nil
	}

	if l.configFile == "" {
		return "", nil
	}
	candidate := filepath.Join(filepath.Dir(l.configFile), "secrets"+filepath.Ext(l.configFile))
	if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
		return candidate, nil
	}
	return "", nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultFileName is the primary config file name that is auto-discovered.
	DefaultFileName = ".kafkadeck.yaml"
	alternateName   = ".kafkadeck.yml"

	// EnvPrefix prefixes the environment variables that override file values.
	EnvPrefix = "KAFKADECK"
)

// Keys accepted in the config file and as KAFKADECK_* variables.
const (
	KeyStateDir       = "state_dir"
	KeyConnectTimeout = "connect_timeout"
	KeyRequestTimeout = "request_timeout"
	KeyOutput         = "output"
	KeyAuthMechanism  = "auth_mechanism"
	KeyUsername       = "username"
	KeyPassword       = "password"
	KeyTLS            = "tls"
	KeyTLSCert        = "tls_cert"
	KeyTLSKey         = "tls_key"
	KeyTLSCA          = "tls_ca"
)

var keys = []string{
	KeyStateDir, KeyConnectTimeout, KeyRequestTimeout, KeyOutput,
	KeyAuthMechanism, KeyUsername, KeyPassword,
	KeyTLS, KeyTLSCert, KeyTLSKey, KeyTLSCA,
}

// Config holds defaults loaded from .kafkadeck.yaml and the environment.
type Config struct {
	StateDir       string        `mapstructure:"state_dir"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Output         string        `mapstructure:"output"`
	AuthMechanism  string        `mapstructure:"auth_mechanism"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TLS            bool          `mapstructure:"tls"`
	TLSCert        string        `mapstructure:"tls_cert"`
	TLSKey         string        `mapstructure:"tls_key"`
	TLSCA          string        `mapstructure:"tls_ca"`

	set map[string]bool
}

// Has reports whether key was set by the file or the environment.
func (c *Config) Has(key string) bool {
	return c != nil && c.set[key]
}

// Load auto-discovers and loads a config file, then applies environment
// overrides. The returned path is empty when no file was found.
// Search order:
// 1) current working directory
// 2) user home directory
func Load() (*Config, string, error) {
	paths, err := defaultPaths()
	if err != nil {
		return nil, "", err
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, "", fmt.Errorf("read config %q: %w", path, err)
		}
		if info.IsDir() {
			continue
		}

		cfg, err := LoadFromPath(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}

	cfg, err := decode(newViper())
	if err != nil {
		return nil, "", err
	}
	return cfg, "", nil
}

// LoadFromPath loads and parses a config file from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	for _, key := range keys {
		_ = v.BindEnv(key)
	}
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.UnmarshalExact(cfg); err != nil {
		return nil, err
	}

	cfg.set = make(map[string]bool, len(keys))
	for _, key := range keys {
		if v.IsSet(key) {
			cfg.set[key] = true
		}
	}

	cfg.Output = strings.ToLower(strings.TrimSpace(cfg.Output))
	switch cfg.Output {
	case "", "text", "json":
	default:
		return nil, fmt.Errorf("%s: unsupported value %q (use text or json)", KeyOutput, cfg.Output)
	}
	if cfg.ConnectTimeout < 0 || cfg.RequestTimeout < 0 {
		return nil, errors.New("timeouts must not be negative")
	}
	cfg.StateDir = strings.TrimSpace(cfg.StateDir)
	cfg.AuthMechanism = strings.TrimSpace(cfg.AuthMechanism)

	return cfg, nil
}

// DefaultStateDir is where cluster profiles live when state_dir is unset.
func DefaultStateDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config directory: %w", err)
	}
	return filepath.Join(dir, "kafkadeck"), nil
}

func defaultPaths() ([]string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolve current directory: %w", err)
	}

	paths := []string{
		filepath.Join(cwd, DefaultFileName),
		filepath.Join(cwd, alternateName),
	}

	home, err := os.UserHomeDir()
	if err == nil && home != "" {
		homeDefault := filepath.Join(home, DefaultFileName)
		homeAlt := filepath.Join(home, alternateName)
		if !containsPath(paths, homeDefault) {
			paths = append(paths, homeDefault)
		}
		if !containsPath(paths, homeAlt) {
			paths = append(paths, homeAlt)
		}
	}

	return paths, nil
}

func containsPath(paths []string, target string) bool {
	for _, path := range paths {
		if path == target {
			return true
		}
	}
	return false
}

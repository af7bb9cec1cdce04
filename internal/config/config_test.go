package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	content := `state_dir: /var/lib/kafkadeck
connect_timeout: 8s
request_timeout: 30s
output: JSON
auth_mechanism: SCRAM-SHA-512
username: ops
password: secret
tls: true
tls_ca: /etc/kafka/ca.pem
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}

	if cfg.StateDir != "/var/lib/kafkadeck" {
		t.Fatalf("state_dir = %q", cfg.StateDir)
	}
	if cfg.ConnectTimeout != 8*time.Second || !cfg.Has(KeyConnectTimeout) {
		t.Fatalf("connect_timeout = %v (has=%t)", cfg.ConnectTimeout, cfg.Has(KeyConnectTimeout))
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Fatalf("request_timeout = %v", cfg.RequestTimeout)
	}
	if cfg.Output != "json" {
		t.Fatalf("output = %q", cfg.Output)
	}
	if cfg.AuthMechanism != "SCRAM-SHA-512" || cfg.Username != "ops" || cfg.Password != "secret" {
		t.Fatalf("auth = %q %q %q", cfg.AuthMechanism, cfg.Username, cfg.Password)
	}
	if !cfg.TLS || cfg.TLSCA != "/etc/kafka/ca.pem" {
		t.Fatalf("tls = %t ca=%q", cfg.TLS, cfg.TLSCA)
	}
	if cfg.Has(KeyTLSCert) {
		t.Fatalf("tls_cert reported as set")
	}
}

func TestLoadFromPath_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), DefaultFileName)
	if err := os.WriteFile(path, []byte("connect_timeout: 8s\noutput: text\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("KAFKADECK_CONNECT_TIMEOUT", "2s")
	t.Setenv("KAFKADECK_USERNAME", "from-env")

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath() error = %v", err)
	}
	if cfg.ConnectTimeout != 2*time.Second {
		t.Fatalf("connect_timeout = %v, want env value 2s", cfg.ConnectTimeout)
	}
	if cfg.Username != "from-env" || !cfg.Has(KeyUsername) {
		t.Fatalf("username = %q (has=%t)", cfg.Username, cfg.Has(KeyUsername))
	}
	if cfg.Output != "text" {
		t.Fatalf("output = %q", cfg.Output)
	}
}

func TestLoad_AutoDiscovery(t *testing.T) {
	cwdDir := filepath.Join(t.TempDir(), "cwd")
	if err := os.MkdirAll(cwdDir, 0o755); err != nil {
		t.Fatalf("mkdir cwd: %v", err)
	}
	homeDir := filepath.Join(t.TempDir(), "home")
	if err := os.MkdirAll(homeDir, 0o755); err != nil {
		t.Fatalf("mkdir home: %v", err)
	}

	cwdConfig := filepath.Join(cwdDir, DefaultFileName)
	homeConfig := filepath.Join(homeDir, DefaultFileName)

	if err := os.WriteFile(cwdConfig, []byte("state_dir: cwd\n"), 0o644); err != nil {
		t.Fatalf("write cwd config: %v", err)
	}
	if err := os.WriteFile(homeConfig, []byte("state_dir: home\n"), 0o644); err != nil {
		t.Fatalf("write home config: %v", err)
	}

	originalWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer func() {
		if chdirErr := os.Chdir(originalWD); chdirErr != nil {
			t.Fatalf("restore wd: %v", chdirErr)
		}
	}()

	if err := os.Chdir(cwdDir); err != nil {
		t.Fatalf("Chdir(cwd): %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil {
		t.Fatalf("Load() cfg is nil")
	}
	if !samePath(path, cwdConfig) {
		t.Fatalf("loaded path = %q, want %q", path, cwdConfig)
	}
	if cfg.StateDir != "cwd" {
		t.Fatalf("state_dir = %q, want %q", cfg.StateDir, "cwd")
	}
}

func TestLoad_AutoDiscoveryHomeFallback(t *testing.T) {
	cwdDir := t.TempDir()
	homeDir := t.TempDir()
	homeConfig := filepath.Join(homeDir, DefaultFileName)
	if err := os.WriteFile(homeConfig, []byte("state_dir: home\n"), 0o644); err != nil {
		t.Fatalf("write home config: %v", err)
	}

	originalWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer func() {
		if chdirErr := os.Chdir(originalWD); chdirErr != nil {
			t.Fatalf("restore wd: %v", chdirErr)
		}
	}()

	if err := os.Chdir(cwdDir); err != nil {
		t.Fatalf("Chdir(cwd): %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil {
		t.Fatalf("Load() cfg is nil")
	}
	if !samePath(path, homeConfig) {
		t.Fatalf("loaded path = %q, want %q", path, homeConfig)
	}
}

func TestLoad_NoFile(t *testing.T) {
	cwdDir := t.TempDir()
	homeDir := t.TempDir()

	originalWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	defer func() {
		if chdirErr := os.Chdir(originalWD); chdirErr != nil {
			t.Fatalf("restore wd: %v", chdirErr)
		}
	}()

	if err := os.Chdir(cwdDir); err != nil {
		t.Fatalf("Chdir(cwd): %v", err)
	}
	t.Setenv("HOME", homeDir)

	cfg, path, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg == nil || path != "" {
		t.Fatalf("Load() = (%v, %q), want empty config and no path", cfg, path)
	}
	if cfg.Has(KeyStateDir) {
		t.Fatalf("state_dir reported as set without a file")
	}
}

func TestLoadFromPath_Errors(t *testing.T) {
	tempDir := t.TempDir()

	unknownKey := filepath.Join(tempDir, "unknown.yaml")
	if err := os.WriteFile(unknownKey, []byte("unknown: value\n"), 0o644); err != nil {
		t.Fatalf("write unknown config: %v", err)
	}
	if _, err := LoadFromPath(unknownKey); err == nil {
		t.Fatalf("expected error for unknown key")
	}

	badTimeout := filepath.Join(tempDir, "bad-timeout.yaml")
	if err := os.WriteFile(badTimeout, []byte("connect_timeout: soon\n"), 0o644); err != nil {
		t.Fatalf("write timeout config: %v", err)
	}
	if _, err := LoadFromPath(badTimeout); err == nil {
		t.Fatalf("expected error for invalid timeout")
	}

	badOutput := filepath.Join(tempDir, "bad-output.yaml")
	if err := os.WriteFile(badOutput, []byte("output: sarif\n"), 0o644); err != nil {
		t.Fatalf("write output config: %v", err)
	}
	if _, err := LoadFromPath(badOutput); err == nil {
		t.Fatalf("expected error for unsupported output")
	}

	if _, err := LoadFromPath(filepath.Join(tempDir, "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func samePath(left, right string) bool {
	leftResolved, leftErr := filepath.EvalSymlinks(left)
	rightResolved, rightErr := filepath.EvalSymlinks(right)
	if leftErr == nil && rightErr == nil {
		return leftResolved == rightResolved
	}

	return filepath.Clean(left) == filepath.Clean(right)
}

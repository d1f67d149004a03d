package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	pkgconfig "github.com/starford/foxtales/pkg/config"
)

func TestDefaultConfigValid(t *testing.T) {
	cfg := NewDefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should pass: %v", err)
	}
	n, err := cfg.Reader.UploadLimit()
	if err != nil {
		t.Fatal(err)
	}
	if n != 200<<20 {
		t.Errorf("upload limit = %d, want %d", n, 200<<20)
	}
}

func TestReaderConfig_DisabledSkipsChecks(t *testing.T) {
	cfg := ReaderConfig{Enabled: false}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled reader should pass: %v", err)
	}
}

func TestReaderConfig_BadUploadSize(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Reader.MaxUploadSize = "lots"
	err := cfg.Validate()
	if err == nil {
		t.Fatal("invalid size should fail validation")
	}
	if !strings.HasPrefix(err.Error(), "reader:") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCalibreConfig_CoverBox(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Calibre.CoverBox.Height = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("empty cover box should fail validation")
	}
}

func TestAuthConfig_SessionTTLRequired(t *testing.T) {
	cfg := AuthConfig{LoginRate: 1}
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero session ttl should fail")
	}
	cfg.SessionTTL = time.Minute
	cfg.LoginRate = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("negative login rate should fail")
	}
}

func TestMetricsConfig_Path(t *testing.T) {
	cfg := MetricsConfig{Enabled: true, Path: "metrics"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("relative path should fail")
	}
	cfg.Enabled = false
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled metrics should pass: %v", err)
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv("FOXTALES_TEST_LIBRARY", "/srv/calibre")
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
app:
  log_level: debug
  http:
    port: 9000
    cors_origin: "*"
calibre:
  library: ${FOXTALES_TEST_LIBRARY}
  use_credentials: true
  timeout: 30s
reader:
  max_upload_size: 1GB
auth:
  session_ttl: 2h
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(path, cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.App.HTTP.Address() != ":9000" || cfg.App.HTTP.CORSOrigin != "*" {
		t.Errorf("http = %+v", cfg.App.HTTP)
	}
	if cfg.Calibre.Library != "/srv/calibre" || !cfg.Calibre.UseCredentials {
		t.Errorf("calibre = %+v", cfg.Calibre)
	}
	if cfg.Calibre.Timeout != 30*time.Second || cfg.Auth.SessionTTL != 2*time.Hour {
		t.Errorf("durations = %v %v", cfg.Calibre.Timeout, cfg.Auth.SessionTTL)
	}
	if cfg.Calibre.Binary != "calibredb" {
		t.Errorf("binary default lost: %q", cfg.Calibre.Binary)
	}
	if n, _ := cfg.Reader.UploadLimit(); n != 1<<30 {
		t.Errorf("upload limit = %d", n)
	}
}

package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	units "github.com/docker/go-units"
	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/foxtales/internal/imaging"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Calibre CalibreConfig     `yaml:"calibre"`
	Reader  ReaderConfig      `yaml:"reader"`
	Auth    AuthConfig        `yaml:"auth"`
	Metrics MetricsConfig     `yaml:"metrics"`
	MCP     MCPConfig         `yaml:"mcp"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if err := c.Calibre.Validate(); err != nil {
		return fmt.Errorf("calibre: %w", err)
	}
	if err := c.Reader.Validate(); err != nil {
		return fmt.Errorf("reader: %w", err)
	}
	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return c.Metrics.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
	// CORSOrigin is sent as Access-Control-Allow-Origin. Empty disables CORS.
	CORSOrigin string `yaml:"cors_origin"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// CalibreConfig describes the calibredb library.
type CalibreConfig struct {
	Binary string `yaml:"binary"`
	// Library is a library directory or a content server URL.
	Library string `yaml:"library"`
	// UseCredentials passes the session user's name and password to calibredb.
	UseCredentials bool          `yaml:"use_credentials"`
	CoverCacheSize int           `yaml:"cover_cache_size"`
	CoverBox       imaging.Box   `yaml:"cover_box"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Validate validates the calibre configuration.
func (c *CalibreConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Binary, validation.Required),
		validation.Field(&c.Library, validation.Required),
		validation.Field(&c.CoverCacheSize, validation.Required, validation.Min(1)),
		validation.Field(&c.CoverBox, validation.By(validBox)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

// ReaderConfig configures the standalone comic reader.
type ReaderConfig struct {
	Enabled    bool        `yaml:"enabled"`
	BooksPath  string      `yaml:"books_path"`
	SQLitePath string      `yaml:"sqlite_path"`
	CoverBox   imaging.Box `yaml:"cover_box"`
	// MaxUploadSize is a human readable size such as "200MB".
	MaxUploadSize string `yaml:"max_upload_size"`
}

// Validate validates the reader configuration. A disabled reader is not
// checked.
func (c *ReaderConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.BooksPath, validation.Required),
		validation.Field(&c.SQLitePath, validation.Required),
		validation.Field(&c.CoverBox, validation.By(validBox)),
		validation.Field(&c.MaxUploadSize, validation.Required, validation.By(validSize)),
	)
}

// UploadLimit returns MaxUploadSize in bytes.
func (c *ReaderConfig) UploadLimit() (int64, error) {
	return units.RAMInBytes(c.MaxUploadSize)
}

// AuthConfig configures sessions and login throttling.
type AuthConfig struct {
	SessionTTL time.Duration `yaml:"session_ttl"`
	// LoginRate is the number of login attempts allowed per username and
	// minute. Zero disables throttling.
	LoginRate  float64 `yaml:"login_rate"`
	LoginBurst int     `yaml:"login_burst"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SessionTTL, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.LoginRate, validation.Min(0.0)),
		validation.Field(&c.LoginBurst, validation.Min(0)),
	)
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the metrics configuration.
func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required, validation.Match(pathPattern)),
	)
}

// MCPConfig holds the library account the MCP tools act as. Without a
// username the library tools are not offered.
type MCPConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

var pathPattern = regexp.MustCompile(`^/[A-Za-z0-9/_.-]*$`)

func validBox(v any) error {
	b, _ := v.(imaging.Box)
	if b.Width <= 0 || b.Height <= 0 {
		return errors.New("width and height must be positive")
	}
	return nil
}

func validSize(v any) error {
	s, _ := v.(string)
	n, err := units.RAMInBytes(s)
	if err != nil {
		return err
	}
	if n <= 0 {
		return errors.New("must be positive")
	}
	return nil
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8000,
			},
		},
		Calibre: CalibreConfig{
			Binary:         "calibredb",
			Library:        "./library",
			CoverCacheSize: 500,
			CoverBox:       imaging.Box{Width: 400, Height: 400},
		},
		Reader: ReaderConfig{
			Enabled:       true,
			BooksPath:     "./books",
			SQLitePath:    "./foxtales.db",
			CoverBox:      imaging.Box{Width: 600, Height: 400},
			MaxUploadSize: "200MB",
		},
		Auth: AuthConfig{
			SessionTTL: 60 * time.Minute,
			LoginRate:  10,
			LoginBurst: 5,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

package server

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/pixbuf"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/session"
	"github.com/glencoesoftware/omero-ms-pixel-buffer/storage"
)

const (
	// DefaultWebAddress is the default address of the tile server.
	DefaultWebAddress = "localhost:8080"

	// DefaultJobTimeout is how long the gateway waits for a tile job.
	DefaultJobTimeout = 30 * time.Second

	// DefaultShutdownDelay bounds how long in-flight requests get on shutdown.
	DefaultShutdownDelay = 5 * time.Second
)

// Duration is a time.Duration decoded from a TOML string such as "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type serverConfig struct {
	HTTPAddress            string   `toml:"http_address"`
	MaxConnections         int      `toml:"max_connections"`
	Workers                int      `toml:"workers"`
	QueueSize              int      `toml:"queue_size"`
	MaxTransfers           int      `toml:"max_transfers"`
	JobTimeout             Duration `toml:"job_timeout"`
	ShutdownDelay          Duration `toml:"shutdown_delay"`
	CORSDomains            []string `toml:"cors_domains"`
	RevealPermissionDenied bool     `toml:"reveal_permission_denied"`
	Metrics                bool     `toml:"metrics"`
}

type tracingConfig struct {
	Enabled     bool    `toml:"enabled"`
	Endpoint    string  `toml:"endpoint"`
	ServiceName string  `toml:"service_name"`
	SampleRatio float64 `toml:"sample_ratio"`
}

// Config is the parsed TOML configuration of the service.
type Config struct {
	Server  serverConfig
	Session session.Config
	Store   storage.Config
	Logging pixbuf.LogConfig
	Tracing tracingConfig
}

// DefaultConfig returns the configuration used for settings absent from the TOML file.
func DefaultConfig() Config {
	workers := runtime.NumCPU()
	return Config{
		Server: serverConfig{
			HTTPAddress:   DefaultWebAddress,
			Workers:       workers,
			QueueSize:     4 * workers,
			MaxTransfers:  workers,
			JobTimeout:    Duration{DefaultJobTimeout},
			ShutdownDelay: Duration{DefaultShutdownDelay},
			Metrics:       true,
		},
		Session: session.Config{Cookie: session.DefaultCookie},
		Store:   storage.Config{Prefix: storage.DefaultPrefix},
		Tracing: tracingConfig{
			Endpoint:    "localhost:4317",
			ServiceName: "omero-ms-pixel-buffer",
			SampleRatio: 0.2,
		},
	}
}

// LoadConfig loads the service configuration from a TOML file.
func LoadConfig(filename string) (Config, error) {
	c := DefaultConfig()
	if filename == "" {
		return c, fmt.Errorf("no server TOML configuration file provided")
	}
	if _, err := toml.DecodeFile(filename, &c); err != nil {
		return c, fmt.Errorf("could not decode TOML config: %v", err)
	}
	if err := c.convertPathsToAbsolute(filename); err != nil {
		return c, fmt.Errorf("could not convert relative paths to absolute paths in TOML config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Some settings in the TOML can be given as relative paths.
// This function converts them in-place to absolute paths,
// assuming the given paths were relative to the TOML file's own directory.
func (c *Config) convertPathsToAbsolute(configPath string) error {
	var err error
	configDir := filepath.Dir(configPath)

	// [logging].logfile
	if c.Logging.Logfile != "" {
		c.Logging.Logfile, err = pixbuf.ConvertToAbsolute(c.Logging.Logfile, configDir)
		if err != nil {
			return fmt.Errorf("error converting logfile setting to absolute path")
		}
	}

	// [store].url with a relative file:// path
	if strings.HasPrefix(c.Store.URL, "file://") {
		u, err := url.Parse(c.Store.URL)
		if err != nil {
			return fmt.Errorf("bad store url %q: %v", c.Store.URL, err)
		}
		dir := u.Host + u.Path
		if !filepath.IsAbs(dir) {
			abs, err := pixbuf.ConvertToAbsolute(dir, configDir)
			if err != nil {
				return fmt.Errorf("error converting store.url to absolute path: %q", c.Store.URL)
			}
			u.Host, u.Path = "", abs
			c.Store.URL = u.String()
		}
	}
	return nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Server.Workers <= 0 {
		return fmt.Errorf("server.workers must be positive, got %d", c.Server.Workers)
	}
	if c.Server.QueueSize < 0 {
		return fmt.Errorf("server.queue_size must not be negative, got %d", c.Server.QueueSize)
	}
	if c.Server.MaxTransfers < 0 {
		return fmt.Errorf("server.max_transfers must not be negative, got %d", c.Server.MaxTransfers)
	}
	if c.Store.URL == "" {
		return fmt.Errorf("store.url must be set")
	}
	if c.Session.Type == "" {
		return fmt.Errorf("session.type must be set")
	}
	return nil
}

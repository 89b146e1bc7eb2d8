package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// DefaultConfigPath is the path to the canonical client defaults file.
const DefaultConfigPath = "config/client.defaults.json"

// ClientConfig is the viewer client configuration. Every field is optional;
// the Get* methods supply defaults for anything left unset.
type ClientConfig struct {
	// Stream
	URL              *string `json:"url,omitempty"`
	ReconnectDelay   *string `json:"reconnect_delay,omitempty"`   // duration string like "1s"
	LivenessWindow   *string `json:"liveness_window,omitempty"`   // auto-clear time
	TickInterval     *string `json:"tick_interval,omitempty"`     // display tick
	HandshakeTimeout *string `json:"handshake_timeout,omitempty"` // websocket dial
	ReadLimitBytes   *int64  `json:"read_limit_bytes,omitempty"`

	// Servers
	ListenAddr *string `json:"listen_addr,omitempty"`
	GRPCAddr   *string `json:"grpc_addr,omitempty"`

	// Recording
	RecordPath  *string `json:"record_path,omitempty"`
	RecordQueue *int    `json:"record_queue,omitempty"`

	LogLevel *string `json:"log_level,omitempty"`
}

// clientEnv mirrors ClientConfig for environment overrides. Empty values
// leave the file setting in place.
type clientEnv struct {
	URL              string `env:"PLEIADES_URL"`
	ReconnectDelay   string `env:"PLEIADES_RECONNECT_DELAY"`
	LivenessWindow   string `env:"PLEIADES_LIVENESS_WINDOW"`
	TickInterval     string `env:"PLEIADES_TICK_INTERVAL"`
	HandshakeTimeout string `env:"PLEIADES_HANDSHAKE_TIMEOUT"`
	ReadLimitBytes   int64  `env:"PLEIADES_READ_LIMIT_BYTES"`
	ListenAddr       string `env:"PLEIADES_LISTEN"`
	GRPCAddr         string `env:"PLEIADES_GRPC"`
	RecordPath       string `env:"PLEIADES_RECORD"`
	RecordQueue      int    `env:"PLEIADES_RECORD_QUEUE"`
	LogLevel         string `env:"PLEIADES_LOG"`
}

func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }
func ptrInt64(v int64) *int64    { return &v }

// EmptyClientConfig returns a ClientConfig with all fields set to nil.
func EmptyClientConfig() *ClientConfig {
	return &ClientConfig{}
}

// LoadClientConfig loads a ClientConfig from a JSON file. The file must
// have a .json extension and be at most 1MB. Omitted fields keep their
// defaults.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyClientConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching upwards from the
// working directory. Panics if the file cannot be loaded; intended for tests.
func MustLoadDefaultConfig() *ClientConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath, // from internal/config/
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadClientConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnv overlays PLEIADES_* environment variables onto c and validates
// the result.
func (c *ClientConfig) ApplyEnv() error {
	var raw clientEnv
	if err := env.Parse(&raw); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString := func(dst **string, v string) {
		if v != "" {
			*dst = ptrString(v)
		}
	}
	setString(&c.URL, raw.URL)
	setString(&c.ReconnectDelay, raw.ReconnectDelay)
	setString(&c.LivenessWindow, raw.LivenessWindow)
	setString(&c.TickInterval, raw.TickInterval)
	setString(&c.HandshakeTimeout, raw.HandshakeTimeout)
	setString(&c.ListenAddr, raw.ListenAddr)
	setString(&c.GRPCAddr, raw.GRPCAddr)
	setString(&c.RecordPath, raw.RecordPath)
	setString(&c.LogLevel, raw.LogLevel)
	if raw.ReadLimitBytes != 0 {
		c.ReadLimitBytes = ptrInt64(raw.ReadLimitBytes)
	}
	if raw.RecordQueue != 0 {
		c.RecordQueue = ptrInt(raw.RecordQueue)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}
	return nil
}

// LogLevels lists the accepted log_level values, quietest first.
var LogLevels = []string{"off", "ops", "diag", "trace"}

// Validate checks that the configuration values are valid.
func (c *ClientConfig) Validate() error {
	if c.URL != nil {
		u, err := url.Parse(*c.URL)
		if err != nil {
			return fmt.Errorf("invalid url %q: %w", *c.URL, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return fmt.Errorf("url must use ws or wss, got %q", *c.URL)
		}
		if u.Host == "" {
			return fmt.Errorf("url %q has no host", *c.URL)
		}
	}

	durations := []struct {
		name string
		v    *string
	}{
		{"reconnect_delay", c.ReconnectDelay},
		{"liveness_window", c.LivenessWindow},
		{"tick_interval", c.TickInterval},
		{"handshake_timeout", c.HandshakeTimeout},
	}
	for _, d := range durations {
		if d.v == nil || *d.v == "" {
			continue
		}
		parsed, err := time.ParseDuration(*d.v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.v, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.name, *d.v)
		}
	}

	if c.ReadLimitBytes != nil && *c.ReadLimitBytes <= 0 {
		return fmt.Errorf("read_limit_bytes must be positive, got %d", *c.ReadLimitBytes)
	}
	if c.RecordQueue != nil && *c.RecordQueue <= 0 {
		return fmt.Errorf("record_queue must be positive, got %d", *c.RecordQueue)
	}

	if c.LogLevel != nil {
		ok := false
		for _, l := range LogLevels {
			if *c.LogLevel == l {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("log_level must be one of %v, got %q", LogLevels, *c.LogLevel)
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// GetURL returns the stream URL or the default.
func (c *ClientConfig) GetURL() string {
	if c.URL == nil || *c.URL == "" {
		return "ws://127.0.0.1:6060"
	}
	return *c.URL
}

// GetReconnectDelay returns the reconnect delay or the default (1s).
func (c *ClientConfig) GetReconnectDelay() time.Duration {
	return durationOr(c.ReconnectDelay, time.Second)
}

// GetLivenessWindow returns the object liveness window or the default (1s).
func (c *ClientConfig) GetLivenessWindow() time.Duration {
	return durationOr(c.LivenessWindow, time.Second)
}

// GetTickInterval returns the display tick interval or the default (16ms).
func (c *ClientConfig) GetTickInterval() time.Duration {
	return durationOr(c.TickInterval, 16*time.Millisecond)
}

// GetHandshakeTimeout returns the websocket handshake timeout or the default.
func (c *ClientConfig) GetHandshakeTimeout() time.Duration {
	return durationOr(c.HandshakeTimeout, 5*time.Second)
}

// GetReadLimitBytes returns the per-message size cap or the default (16MiB).
func (c *ClientConfig) GetReadLimitBytes() int64 {
	if c.ReadLimitBytes == nil {
		return 16 << 20
	}
	return *c.ReadLimitBytes
}

// GetListenAddr returns the HTTP listen address or the default.
func (c *ClientConfig) GetListenAddr() string {
	if c.ListenAddr == nil {
		return ":8090"
	}
	return *c.ListenAddr
}

// GetGRPCAddr returns the gRPC health listen address. Empty disables it.
func (c *ClientConfig) GetGRPCAddr() string {
	if c.GRPCAddr == nil {
		return ":8091"
	}
	return *c.GRPCAddr
}

// GetRecordPath returns the SQLite recording path. Empty disables recording.
func (c *ClientConfig) GetRecordPath() string {
	if c.RecordPath == nil {
		return ""
	}
	return *c.RecordPath
}

// GetRecordQueue returns the recorder queue depth or the default.
func (c *ClientConfig) GetRecordQueue() int {
	if c.RecordQueue == nil {
		return 256
	}
	return *c.RecordQueue
}

// GetLogLevel returns the log level or the default ("ops").
func (c *ClientConfig) GetLogLevel() string {
	if c.LogLevel == nil {
		return "ops"
	}
	return *c.LogLevel
}

package config

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/n0needt0/goodies/switchyard/internal/domain"
)

type Config struct {
	App          App           `mapstructure:"app"`
	Logging      LoggingConfig `mapstructure:"logging"`
	Server       Server        `mapstructure:"server"`
	Export       Export        `mapstructure:"export"`
	Otel         Otel          `mapstructure:"otel"`
	Housekeeping Housekeeping  `mapstructure:"housekeeping"`
	Alerts       Alerts        `mapstructure:"alerts"`
	Rules        Rules         `mapstructure:"rules"`
	S3           S3Config      `mapstructure:"s3"`
	History      History       `mapstructure:"history"`
	Defaults     Defaults      `mapstructure:"defaults"`
	Frontends    []Frontend    `mapstructure:"frontends"`
	Backends     []Backend     `mapstructure:"backends"`

	// Frontends dropped by Validate, name to reason. They surface as
	// status=failed in snapshots instead of blocking the rest.
	InvalidFrontends map[string]string `mapstructure:"-"`
}

type App struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"`
}

// LoggingConfig stores global logging configurations
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

type Server struct {
	ApiPort int  `mapstructure:"api_port"`
	Dev     bool `mapstructure:"dev"`
}

type Export struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type Otel struct {
	Enabled               bool   `mapstructure:"enabled"`
	Endpoint              string `mapstructure:"endpoint"`
	ScrapeIntervalSeconds int    `mapstructure:"scrape_interval_seconds"`
}

type Housekeeping struct {
	Enabled         bool `mapstructure:"enabled"`
	IntervalSeconds int  `mapstructure:"interval_seconds"`
}

type Alerts struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// Rules selects where IP filter membership is persisted between runs.
type Rules struct {
	Source string `mapstructure:"source"` // file or s3
	Path   string `mapstructure:"path"`
	S3Key  string `mapstructure:"s3_key"`
}

type S3Config struct {
	BucketName  string `mapstructure:"bucket_name"`
	Region      string `mapstructure:"region"`
	AccessKey   string `mapstructure:"access_key"`
	SecretKey   string `mapstructure:"secret_key"`
	Endpoint    string `mapstructure:"endpoint"`
	Ssl         bool   `mapstructure:"ssl"`
	Compression bool   `mapstructure:"compression"`
}

type History struct {
	Enabled      bool   `mapstructure:"enabled"`
	Directory    string `mapstructure:"directory"`
	BatchRows    int    `mapstructure:"batch_rows"`
	FlushSeconds int    `mapstructure:"flush_seconds"`
	Parquet      bool   `mapstructure:"parquet"`
	KeepSource   bool   `mapstructure:"keep_source"`
	S3Upload     bool   `mapstructure:"s3_upload"`
	MaxFiles     int    `mapstructure:"max_files"`
}

// Defaults are relay-wide knobs every frontend inherits.
type Defaults struct {
	DialTimeoutSeconds  int `mapstructure:"dial_timeout_seconds"`
	IdleTimeoutSeconds  int `mapstructure:"idle_timeout_seconds"`
	SniffTimeoutSeconds int `mapstructure:"sniff_timeout_seconds"`
	GraceSeconds        int `mapstructure:"grace_seconds"`
	UDPFlowTTLSeconds   int `mapstructure:"udp_flow_ttl_seconds"`
	ReadBufferSizeBytes int `mapstructure:"read_buffer_size_bytes"`
}

// Frontend is one configured listening endpoint.
//
// flexible terminates TLS on the client side (certfile/keyfile, else one
// self-signed pair generated per process start); backend_ssl wraps TCP
// backend dials in no-verify TLS. HTTP backends carry their own tls flag.
type Frontend struct {
	Name           string        `mapstructure:"name"`
	Bind           string        `mapstructure:"bind"`
	Mode           string        `mapstructure:"mode"`
	Auto           bool          `mapstructure:"auto"`
	Flexible       bool          `mapstructure:"flexible"`
	BackendSSL     bool          `mapstructure:"backend_ssl"`
	CertFile       string        `mapstructure:"certfile"`
	KeyFile        string        `mapstructure:"keyfile"`
	DefaultBackend string        `mapstructure:"default_backend"`
	DomainRoutes   []DomainRoute `mapstructure:"domain_routes"`
	MaxConnections int           `mapstructure:"max_connections"`
	RateLimit      int           `mapstructure:"rate_limit"`
}

type DomainRoute struct {
	Domain  string `mapstructure:"domain"`
	Backend string `mapstructure:"backend"`
}

type Backend struct {
	Name   string `mapstructure:"name"`
	Server string `mapstructure:"server"`
	TLS    bool   `mapstructure:"tls"`
}

// LoadConfig layers the yaml file, SWY_-style env overrides, and the
// command's dotted flags, then unmarshals, fills defaults, and validates.
func LoadConfig(cfgFile, envPrefix string, cmd *cobra.Command, cfg *Config) error {
	if cfgFile == "" {
		cfgFile = "config.yaml"
	}

	k := koanf.New(".")

	err := k.Load(file.Provider(cfgFile), yaml.Parser())
	if err != nil {
		return errors.Wrapf(err, "failed to parse %s", cfgFile)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "_", ".", -1)
	}), nil); err != nil {
		return errors.Wrapf(err, "error loading config from env")
	}

	if cmd != nil {
		if err := k.Load(posflag.Provider(cmd.Flags(), ".", k), nil); err != nil {
			return errors.Wrapf(err, "error loading config from flags")
		}
	}

	err = k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "mapstructure"})
	if err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s", cfgFile)
	}

	cfg.applyDefaults()
	return cfg.Validate()
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "switchyard"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.ApiPort == 0 {
		c.Server.ApiPort = 8079
	}
	if c.Export.Port == 0 {
		c.Export.Port = 8078
	}
	if c.Otel.ScrapeIntervalSeconds == 0 {
		c.Otel.ScrapeIntervalSeconds = 15
	}
	if c.Housekeeping.IntervalSeconds == 0 {
		c.Housekeeping.IntervalSeconds = 10
	}
	if c.Alerts.TimeoutSeconds == 0 {
		c.Alerts.TimeoutSeconds = 30
	}
	if c.Rules.Source == "" {
		c.Rules.Source = "file"
	}
	if c.Rules.Path == "" {
		c.Rules.Path = "rules.json"
	}
	if c.Rules.S3Key == "" {
		c.Rules.S3Key = "switchyard/rules.json"
	}
	if c.History.Directory == "" {
		c.History.Directory = "/tmp/switchyard-history"
	}
	if c.History.BatchRows == 0 {
		c.History.BatchRows = 500
	}
	if c.History.FlushSeconds == 0 {
		c.History.FlushSeconds = 30
	}
	if c.History.MaxFiles == 0 {
		c.History.MaxFiles = 24
	}
	if c.Defaults.DialTimeoutSeconds == 0 {
		c.Defaults.DialTimeoutSeconds = 10
	}
	if c.Defaults.IdleTimeoutSeconds == 0 {
		c.Defaults.IdleTimeoutSeconds = 300
	}
	if c.Defaults.SniffTimeoutSeconds == 0 {
		c.Defaults.SniffTimeoutSeconds = 5
	}
	if c.Defaults.GraceSeconds == 0 {
		c.Defaults.GraceSeconds = 5
	}
	if c.Defaults.UDPFlowTTLSeconds == 0 {
		c.Defaults.UDPFlowTTLSeconds = 60
	}
	if c.Defaults.ReadBufferSizeBytes == 0 {
		c.Defaults.ReadBufferSizeBytes = 32 * 1024
	}
}

// Validate rejects malformed global configuration outright and prunes
// individually broken frontends into InvalidFrontends so the rest still
// start.
func (c *Config) Validate() error {
	backends := make(map[string]Backend, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return domain.ConfigError{Err: errors.New("backend with empty name")}
		}
		if _, dup := backends[b.Name]; dup {
			return domain.ConfigError{Err: errors.Errorf("duplicate backend name %q", b.Name)}
		}
		if err := validateHostPort(b.Server); err != nil {
			return domain.ConfigError{Err: errors.Wrapf(err, "backend %s", b.Name)}
		}
		backends[b.Name] = b
	}

	c.InvalidFrontends = make(map[string]string)
	seen := make(map[string]struct{}, len(c.Frontends))
	kept := c.Frontends[:0]
	for _, f := range c.Frontends {
		if f.Name == "" {
			return domain.ConfigError{Err: errors.New("frontend with empty name")}
		}
		if _, dup := seen[f.Name]; dup {
			return domain.ConfigError{Err: errors.Errorf("duplicate frontend name %q", f.Name)}
		}
		seen[f.Name] = struct{}{}
		if err := f.validate(backends); err != nil {
			c.InvalidFrontends[f.Name] = err.Error()
			continue
		}
		kept = append(kept, f)
	}
	c.Frontends = kept
	return nil
}

func (f *Frontend) validate(backends map[string]Backend) error {
	switch f.Mode {
	case domain.ModeTCP, domain.ModeUDP, domain.ModeHTTP:
	default:
		return domain.ConfigError{Err: errors.Errorf("unknown mode %q", f.Mode)}
	}
	if err := validateHostPort(f.Bind); err != nil {
		return domain.ConfigError{Err: errors.Wrap(err, "bind")}
	}
	if (f.CertFile == "") != (f.KeyFile == "") {
		return domain.ConfigError{Err: errors.New("certfile and keyfile must be set together")}
	}
	if f.Auto && f.Mode != domain.ModeTCP {
		return domain.ConfigError{Err: errors.New("auto detection requires mode tcp")}
	}
	if f.Mode == domain.ModeUDP && (f.Auto || f.Flexible || f.CertFile != "") {
		return domain.ConfigError{Err: errors.New("udp mode does not support tls or auto detection")}
	}
	if f.MaxConnections < 0 || f.RateLimit < 0 {
		return domain.ConfigError{Err: errors.New("max_connections and rate_limit must be >= 0")}
	}
	if f.DefaultBackend == "" && f.Mode != domain.ModeHTTP {
		return domain.ConfigError{Err: errors.New("default_backend is required for tcp and udp modes")}
	}
	if f.DefaultBackend != "" {
		if _, ok := backends[f.DefaultBackend]; !ok {
			return domain.ConfigError{Err: errors.Errorf("default_backend %q does not exist", f.DefaultBackend)}
		}
	}
	for _, r := range f.DomainRoutes {
		if r.Domain == "" {
			return domain.ConfigError{Err: errors.New("domain_routes entry with empty domain")}
		}
		if _, ok := backends[r.Backend]; !ok {
			return domain.ConfigError{Err: errors.Errorf("domain route %q references unknown backend %q", r.Domain, r.Backend)}
		}
	}
	return nil
}

func validateHostPort(addr string) error {
	if addr == "" {
		return errors.New("empty address")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return errors.Wrapf(err, "malformed address %q", addr)
	}
	if n, err := strconv.Atoi(port); err != nil || n < 1 || n > 65535 {
		return errors.Errorf("malformed port in %q", addr)
	}
	return nil
}

// BackendMap indexes the configured backends by name.
func (c *Config) BackendMap() map[string]Backend {
	m := make(map[string]Backend, len(c.Backends))
	for _, b := range c.Backends {
		m[b.Name] = b
	}
	return m
}

func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.Defaults.DialTimeoutSeconds) * time.Second
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.Defaults.IdleTimeoutSeconds) * time.Second
}

func (c *Config) SniffTimeout() time.Duration {
	return time.Duration(c.Defaults.SniffTimeoutSeconds) * time.Second
}

func (c *Config) Grace() time.Duration {
	return time.Duration(c.Defaults.GraceSeconds) * time.Second
}

func (c *Config) UDPFlowTTL() time.Duration {
	return time.Duration(c.Defaults.UDPFlowTTLSeconds) * time.Second
}

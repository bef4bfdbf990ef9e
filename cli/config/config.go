package config

import (
	"errors"
	"fmt"
	"time"
)

// Config represents a swarm.yaml configuration file.
// All values are optional and act as defaults for command flags.
// Flags always override config values.
type Config struct {
	Coordinator CoordinatorConfig `yaml:"coordinator"`
	TLS         TLSConfig         `yaml:"tls"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Launcher    LauncherConfig    `yaml:"launcher"`
	Storage     StorageConfig     `yaml:"storage"`
	Report      ReportConfig      `yaml:"report"`
	Relay       RelayConfig       `yaml:"relay"`
	Adapter     AdapterConfig     `yaml:"adapter"`
	Log         LogConfig         `yaml:"log"`
}

// CoordinatorConfig holds reactor settings.
type CoordinatorConfig struct {
	Listen string `yaml:"listen"`
	// PublicAddr is the address workers dial. Defaults to the listen host.
	PublicAddr       string   `yaml:"public_addr"`
	NumParts         int      `yaml:"num_parts"`
	Overprovision    int      `yaml:"overprovision"`
	KeyframeDistance int      `yaml:"keyframe_distance"`
	IdleTimeout      Duration `yaml:"idle_timeout"`
	StatusInterval   Duration `yaml:"status_interval"`
	OutFile          string   `yaml:"out_file"`
	ProfileFile      string   `yaml:"profile_file"`
}

// TLSConfig names PEM files. Empty disables TLS.
type TLSConfig struct {
	CACert     string `yaml:"ca_cert"`
	ServerCert string `yaml:"server_cert"`
	ServerKey  string `yaml:"server_key"`
}

// Enabled reports whether any TLS file is configured.
func (t TLSConfig) Enabled() bool {
	return t.CACert != "" || t.ServerCert != "" || t.ServerKey != ""
}

// PipelineConfig selects and parameterises the pipeline.
type PipelineConfig struct {
	Name           string `yaml:"name"`
	Bucket         string `yaml:"bucket"`
	Input          string `yaml:"input"`
	Output         string `yaml:"output"`
	Command        string `yaml:"command"`
	NumOffset      int    `yaml:"num_offset"`
	FramesPerActor int    `yaml:"frames_per_actor"`
	NumPasses      int    `yaml:"num_passes"`
	QualityY       int    `yaml:"quality_y"`
	QualityS       int    `yaml:"quality_s"`
}

// LauncherConfig holds worker launch settings.
type LauncherConfig struct {
	// Type is local or none.
	Type     string   `yaml:"type"`
	Function string   `yaml:"function"`
	Binary   string   `yaml:"binary"`
	Regions  []string `yaml:"regions"`
}

// StorageConfig holds object storage settings.
type StorageConfig struct {
	Backend   string `yaml:"backend"`
	Root      string `yaml:"root"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// ReportConfig enables the run timing dataset.
type ReportConfig struct {
	// Bucket holds the dataset. Empty disables dataset writes.
	Bucket string `yaml:"bucket"`
}

// RelayConfig holds relay settings.
type RelayConfig struct {
	Listen        string   `yaml:"listen"`
	Retention     Duration `yaml:"retention"`
	SweepInterval Duration `yaml:"sweep_interval"`
	// RedisURL selects Redis tombstones instead of in-memory ones.
	RedisURL  string `yaml:"redis_url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// AdapterConfig holds completion-notification settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`

	// Secret signs webhook bodies.
	Secret string `yaml:"secret,omitempty"`

	// RecordPrefix and RecordTTL keep redis events readable by run id.
	RecordPrefix string   `yaml:"record_prefix,omitempty"`
	RecordTTL    Duration `yaml:"record_ttl,omitempty"`
}

// LogConfig holds log output settings.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must not be negative", s)
	}
	d.Duration = parsed
	return nil
}

// Validate checks values that are wrong regardless of which command reads
// them.
func (c *Config) Validate() error {
	var errs []error
	if c.Coordinator.NumParts < 0 {
		errs = append(errs, fmt.Errorf("coordinator.num_parts must not be negative, got %d", c.Coordinator.NumParts))
	}
	if c.Coordinator.Overprovision < 0 {
		errs = append(errs, fmt.Errorf("coordinator.overprovision must not be negative, got %d", c.Coordinator.Overprovision))
	}
	if (c.TLS.ServerCert == "") != (c.TLS.ServerKey == "") {
		errs = append(errs, errors.New("tls.server_cert and tls.server_key must be set together"))
	}
	switch c.Launcher.Type {
	case "", "local", "none":
	default:
		errs = append(errs, fmt.Errorf("launcher.type %q (want local or none)", c.Launcher.Type))
	}
	switch c.Adapter.Type {
	case "", "redis", "webhook":
	default:
		errs = append(errs, fmt.Errorf("adapter.type %q (want redis or webhook)", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for %s adapter", c.Adapter.Type))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must not be negative, got %d", *c.Adapter.Retries))
	}
	return errors.Join(errs...)
}

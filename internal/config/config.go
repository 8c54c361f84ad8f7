// Package config loads process configuration from defaults, an optional YAML
// file and command-line flags, in increasing order of precedence.
package config

import (
	"bytes"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/and161185/authz-sync/internal/authz"
)

// Config is the full set of tunables shared by the server and the CLI.
type Config struct {
	DSN         string     `yaml:"dsn"`
	Addr        string     `yaml:"addr"`
	MetricsAddr string     `yaml:"metrics_addr"`
	Dev         bool       `yaml:"dev"`
	FGA         FGA        `yaml:"fga"`
	Processor   Processor  `yaml:"processor"`
	BatchCheck  BatchCheck `yaml:"batch_check"`
}

// FGA locates the authorization engine.
type FGA struct {
	Addr     string        `yaml:"addr"`
	StoreID  string        `yaml:"store_id"`
	ModelID  string        `yaml:"model_id"`
	APIToken string        `yaml:"api_token"`
	Insecure bool          `yaml:"insecure"`
	CAFile   string        `yaml:"ca_file"`
	RPS      float64       `yaml:"rps"`
	Timeout  time.Duration `yaml:"timeout"`
}

type Processor struct {
	Interval  time.Duration `yaml:"interval"`
	BatchSize int           `yaml:"batch_size"`
}

type BatchCheck struct {
	MaxInFlight int `yaml:"max_in_flight"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:        ":8081",
		MetricsAddr: ":9090",
		FGA:         FGA{Timeout: 3 * time.Second},
		Processor:   Processor{Interval: 5 * time.Second, BatchSize: 10},
		BatchCheck:  BatchCheck{MaxInFlight: 16},
	}
}

// LoadFile overlays the YAML file at path onto c. Unknown keys are rejected.
func (c *Config) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

type setter func(dst, src *Config)

// bind registers one flag per key on fs, writing into src, and returns how to
// copy each flag's value onto another Config.
func bind(fs *flag.FlagSet, src *Config) map[string]setter {
	fs.StringVar(&src.DSN, "dsn", src.DSN, "PostgreSQL DSN")
	fs.StringVar(&src.Addr, "addr", src.Addr, "health gRPC listen address")
	fs.StringVar(&src.MetricsAddr, "metrics-addr", src.MetricsAddr, "Prometheus listen address")
	fs.BoolVar(&src.Dev, "dev", src.Dev, "development logging and gRPC reflection")
	fs.StringVar(&src.FGA.Addr, "fga-addr", src.FGA.Addr, "OpenFGA gRPC address (host:port)")
	fs.StringVar(&src.FGA.StoreID, "fga-store", src.FGA.StoreID, "OpenFGA store id")
	fs.StringVar(&src.FGA.ModelID, "fga-model", src.FGA.ModelID, "OpenFGA authorization model id (latest when empty)")
	fs.StringVar(&src.FGA.APIToken, "fga-token", src.FGA.APIToken, "OpenFGA preshared key")
	fs.BoolVar(&src.FGA.Insecure, "fga-insecure", src.FGA.Insecure, "plaintext connection to OpenFGA")
	fs.StringVar(&src.FGA.CAFile, "fga-ca", src.FGA.CAFile, "CA bundle for the OpenFGA connection")
	fs.Float64Var(&src.FGA.RPS, "fga-rps", src.FGA.RPS, "max OpenFGA requests per second (0 = unlimited)")
	fs.DurationVar(&src.FGA.Timeout, "fga-timeout", src.FGA.Timeout, "per-call OpenFGA timeout")
	fs.DurationVar(&src.Processor.Interval, "interval", src.Processor.Interval, "poll interval")
	fs.IntVar(&src.Processor.BatchSize, "batch-size", src.Processor.BatchSize, "events per poll")
	fs.IntVar(&src.BatchCheck.MaxInFlight, "max-in-flight", src.BatchCheck.MaxInFlight, "batch check concurrency cap")

	return map[string]setter{
		"dsn":           func(d, s *Config) { d.DSN = s.DSN },
		"addr":          func(d, s *Config) { d.Addr = s.Addr },
		"metrics-addr":  func(d, s *Config) { d.MetricsAddr = s.MetricsAddr },
		"dev":           func(d, s *Config) { d.Dev = s.Dev },
		"fga-addr":      func(d, s *Config) { d.FGA.Addr = s.FGA.Addr },
		"fga-store":     func(d, s *Config) { d.FGA.StoreID = s.FGA.StoreID },
		"fga-model":     func(d, s *Config) { d.FGA.ModelID = s.FGA.ModelID },
		"fga-token":     func(d, s *Config) { d.FGA.APIToken = s.FGA.APIToken },
		"fga-insecure":  func(d, s *Config) { d.FGA.Insecure = s.FGA.Insecure },
		"fga-ca":        func(d, s *Config) { d.FGA.CAFile = s.FGA.CAFile },
		"fga-rps":       func(d, s *Config) { d.FGA.RPS = s.FGA.RPS },
		"fga-timeout":   func(d, s *Config) { d.FGA.Timeout = s.FGA.Timeout },
		"interval":      func(d, s *Config) { d.Processor.Interval = s.Processor.Interval },
		"batch-size":    func(d, s *Config) { d.Processor.BatchSize = s.Processor.BatchSize },
		"max-in-flight": func(d, s *Config) { d.BatchCheck.MaxInFlight = s.BatchCheck.MaxInFlight },
	}
}

// Parse defines the config flags on fs, parses args and resolves the final
// configuration: defaults, then the -config file, then flags set explicitly.
// It does not validate.
func Parse(fs *flag.FlagSet, args []string) (*Config, error) {
	fromFlags := Default()
	path := fs.String("config", "", "YAML config file")
	setters := bind(fs, fromFlags)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()
	if *path != "" {
		if err := cfg.LoadFile(*path); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		if set, ok := setters[f.Name]; ok {
			set(cfg, fromFlags)
		}
	})
	return cfg, nil
}

// Validate checks everything the server needs.
func (c *Config) Validate() error { return c.Require(true, true) }

// Require checks the keys needed for database and/or engine access.
func (c *Config) Require(db, engine bool) error {
	var problems []error
	if db && c.DSN == "" {
		problems = append(problems, errors.New("dsn is required"))
	}
	if engine {
		if c.FGA.Addr == "" {
			problems = append(problems, errors.New("fga.addr is required"))
		}
		if c.FGA.StoreID == "" {
			problems = append(problems, errors.New("fga.store_id is required"))
		}
		if c.FGA.RPS < 0 {
			problems = append(problems, errors.New("fga.rps must not be negative"))
		}
	}
	if c.Processor.Interval <= 0 {
		problems = append(problems, errors.New("processor.interval must be positive"))
	}
	if c.Processor.BatchSize <= 0 {
		problems = append(problems, errors.New("processor.batch_size must be positive"))
	}
	if c.BatchCheck.MaxInFlight <= 0 {
		problems = append(problems, errors.New("batch_check.max_in_flight must be positive"))
	}
	if err := errors.Join(problems...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Authz returns the engine dial and client settings.
func (c *Config) Authz() (authz.DialConfig, authz.Config) {
	dc := authz.DialConfig{
		Addr:     c.FGA.Addr,
		APIToken: c.FGA.APIToken,
		Insecure: c.FGA.Insecure,
		CAFile:   c.FGA.CAFile,
	}
	ac := authz.Config{
		StoreID:     c.FGA.StoreID,
		ModelID:     c.FGA.ModelID,
		MaxInFlight: c.BatchCheck.MaxInFlight,
		RPS:         c.FGA.RPS,
		Timeout:     c.FGA.Timeout,
	}
	return dc, ac
}

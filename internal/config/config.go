// Package config loads the frozen Config a Client is built from: YAML on
// disk, with ${VAR} environment substitution and an optional fsnotify
// hot-reload watcher for long-running processes that want to pick up
// credential rotation without a restart.
package config

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// TLSSecurity controls how strictly the TLS driver (spec.md §6.2) verifies
// the server's certificate.
type TLSSecurity string

const (
	TLSSecurityInsecure           TLSSecurity = "insecure"
	TLSSecurityNoHostVerification TLSSecurity = "no_host_verification"
	TLSSecurityStrict             TLSSecurity = "strict"
)

func (s TLSSecurity) valid() bool {
	switch s {
	case TLSSecurityInsecure, TLSSecurityNoHostVerification, TLSSecurityStrict:
		return true
	}
	return false
}

// Config is the frozen, opaque-beyond-these-fields bundle a Client is
// built from (spec.md §6.2). The core never reaches past these fields —
// credential/project discovery is the caller's concern, not this package's.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Database string `yaml:"database"`

	Password  string `yaml:"password,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`

	TLSSecurity   TLSSecurity `yaml:"tls_security"`
	TLSCA         string      `yaml:"tls_ca,omitempty"`
	TLSServerName string      `yaml:"tls_server_name,omitempty"`

	WaitUntilAvailable time.Duration `yaml:"wait_until_available"`
	MaxConcurrency     int           `yaml:"max_concurrency"`

	CloudProfile string `yaml:"cloud_profile,omitempty"`
}

// Redacted returns a copy of c with the password and secret key masked, for
// safe logging.
func (c Config) Redacted() Config {
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	if c.SecretKey != "" {
		c.SecretKey = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// substituteEnvVars replaces ${VAR_NAME} patterns with environment variable
// values, leaving unmatched references untouched rather than blanking a
// field: the literal ${VAR} text stays in the value, so a string field
// loads with that text and only a numeric or duration field fails to parse.
func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file with env var substitution,
// applies defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = 5656
	}
	if cfg.User == "" {
		cfg.User = "edgedb"
	}
	if cfg.TLSSecurity == "" {
		cfg.TLSSecurity = TLSSecurityStrict
	}
	if cfg.WaitUntilAvailable == 0 {
		cfg.WaitUntilAvailable = 30 * time.Second
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = 10
	}
}

func validate(cfg *Config) error {
	if cfg.Host == "" {
		return fmt.Errorf("host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", cfg.Port)
	}
	if cfg.Database == "" {
		return fmt.Errorf("database is required")
	}
	if !cfg.TLSSecurity.valid() {
		return fmt.Errorf("unsupported tls_security %q", cfg.TLSSecurity)
	}
	if cfg.TLSSecurity == TLSSecurityInsecure && cfg.TLSServerName != "" {
		return fmt.Errorf("tls_server_name is meaningless with tls_security=insecure")
	}
	if cfg.MaxConcurrency <= 0 {
		return fmt.Errorf("max_concurrency must be positive, got %d", cfg.MaxConcurrency)
	}
	if cfg.WaitUntilAvailable < 0 {
		return fmt.Errorf("wait_until_available must not be negative")
	}
	return nil
}

// Watcher watches a config file for changes and calls the callback with the
// freshly reloaded config, debounced so a burst of writes from an editor
// doesn't trigger a reload storm.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher creates a new config file watcher.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}

	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{
		path:     path,
		callback: callback,
		watcher:  w,
		stopCh:   make(chan struct{}),
	}

	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, func() {
					cw.reload()
				})
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[config] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[config] hot-reload failed: %v", err)
		return
	}

	log.Printf("[config] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the config watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}

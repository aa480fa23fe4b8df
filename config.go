package outpaint

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkerConfig declares one browser profile the pool may dispatch to.
// Profiles are matched to live external identifiers by name at startup.
type WorkerConfig struct {
	// Name is the profile name as known to the browser agent. It is the
	// worker's stable identity and must be unique within the pool.
	Name string `yaml:"name"`

	// Capacity is the maximum number of jobs the worker may carry at
	// once. Zero falls back to DefaultConfig().WorkerCapacity.
	Capacity int `yaml:"capacity,omitempty"`

	// Refill is the sustained permits-per-second replenishment rate of
	// the worker's bucket. Zero falls back to the config-level default.
	Refill float64 `yaml:"refill,omitempty"`
}

// Config holds configuration for the outpaint service.
type Config struct {
	// Listen is the HTTP listen address of the job API.
	Listen string `yaml:"listen"`

	// AgentURL is the base URL of the local browser profile agent.
	AgentURL string `yaml:"agent_url"`

	// OutputRoot is the directory result images are downloaded into,
	// in dated subdirectories.
	OutputRoot string `yaml:"output_root"`

	// AlertWebhookURL is the base URL of the alert webhook bot. Empty
	// disables alerting.
	AlertWebhookURL string `yaml:"alert_webhook_url"`

	// AlertChannelID identifies the channel eviction alerts are sent to.
	AlertChannelID string `yaml:"alert_channel_id"`

	// AcquireTimeout is the maximum wall-clock time a job may spend
	// waiting for a usable worker before failing.
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`

	// AcquireBackoff is how long the dispatcher sleeps after finding no
	// permit on a candidate worker before rescanning the pool.
	AcquireBackoff time.Duration `yaml:"acquire_backoff"`

	// OpenRetryCeiling bounds how long a session open is retried while
	// the agent reports the profile as busy.
	OpenRetryCeiling time.Duration `yaml:"open_retry_ceiling"`

	// CreditThreshold is the provider credit balance below which a
	// worker is evicted.
	CreditThreshold int `yaml:"credit_threshold"`

	// WorkerCapacity is the per-worker permit capacity applied to
	// workers that do not set their own.
	WorkerCapacity int `yaml:"worker_capacity"`

	// WorkerRefill is the per-worker bucket refill rate (permits per
	// second) applied to workers that do not set their own.
	WorkerRefill float64 `yaml:"worker_refill"`

	// Workers is the fixed set of browser profiles to serve from.
	Workers []WorkerConfig `yaml:"workers"`
}

// DefaultConfig returns a Config with sensible defaults. Workers must
// still be supplied.
func DefaultConfig() Config {
	return Config{
		Listen:           ":51050",
		AgentURL:         "http://127.0.0.1:54345",
		OutputRoot:       "oss",
		AcquireTimeout:   5 * time.Minute,
		AcquireBackoff:   5 * time.Second,
		OpenRetryCeiling: 5 * time.Minute,
		CreditThreshold:  15,
		WorkerCapacity:   4,
		WorkerRefill:     4,
	}
}

// LoadConfig reads a YAML config file, layering it over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("outpaint: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("outpaint: parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the config for contradictions a running service could
// not recover from.
func (c *Config) Validate() error {
	if len(c.Workers) == 0 {
		return ErrNoWorkers
	}
	seen := make(map[string]struct{}, len(c.Workers))
	for _, w := range c.Workers {
		if w.Name == "" {
			return fmt.Errorf("outpaint: worker with empty name")
		}
		if _, dup := seen[w.Name]; dup {
			return fmt.Errorf("outpaint: duplicate worker name %q", w.Name)
		}
		seen[w.Name] = struct{}{}
	}
	if c.AcquireTimeout <= 0 {
		return fmt.Errorf("outpaint: acquire_timeout must be positive")
	}
	if c.AcquireBackoff <= 0 {
		return fmt.Errorf("outpaint: acquire_backoff must be positive")
	}
	return nil
}

// BucketCapacity returns the effective permit capacity for w.
func (c *Config) BucketCapacity(w WorkerConfig) int {
	if w.Capacity > 0 {
		return w.Capacity
	}
	return c.WorkerCapacity
}

// BucketRefill returns the effective bucket refill rate for w.
func (c *Config) BucketRefill(w WorkerConfig) float64 {
	if w.Refill > 0 {
		return w.Refill
	}
	return c.WorkerRefill
}

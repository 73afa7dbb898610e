// Package config loads the orchestrator's YAML configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AnalysisServer is one capacity-limited analysis server commits are
// scanned against.
type AnalysisServer struct {
	Name           string `mapstructure:"name"`
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	ConcurrencyCap int    `mapstructure:"concurrency_cap"`
	ScannerPath    string `mapstructure:"scanner_path"`
}

// Config is the complete set of knobs the orchestrator and dispatcher
// binaries load at startup.
type Config struct {
	ServiceName string `mapstructure:"service_name"`

	Postgres struct {
		DSN string `mapstructure:"dsn"`
	} `mapstructure:"postgres"`

	Kafka struct {
		Brokers           []string `mapstructure:"brokers"`
		GroupID           string   `mapstructure:"group_id"`
		ClientID          string   `mapstructure:"client_id"`
		NormalTopic       string   `mapstructure:"normal_topic"`
		RetryTopic        string   `mapstructure:"retry_topic"`
		HighPriorityTopic string   `mapstructure:"high_priority_topic"`
		DLQTopic          string   `mapstructure:"dlq_topic"`
	} `mapstructure:"kafka"`

	Kubernetes struct {
		Namespace    string `mapstructure:"namespace"`
		LeaderLockID string `mapstructure:"leader_lock_id"`
		Identity     string `mapstructure:"identity"`
		Kubeconfig   string `mapstructure:"kubeconfig"`
	} `mapstructure:"kubernetes"`

	Telemetry struct {
		ExporterEndpoint string  `mapstructure:"exporter_endpoint"`
		Probability      float64 `mapstructure:"probability"`
		Insecure         bool    `mapstructure:"insecure"`
	} `mapstructure:"telemetry"`

	RepoCache struct {
		BaseDir string `mapstructure:"base_dir"`
	} `mapstructure:"repo_cache"`

	Webhook struct {
		ListenAddr   string `mapstructure:"listen_addr"`
		SharedSecret string `mapstructure:"shared_secret"`
		HMACSecret   string `mapstructure:"hmac_secret"`
	} `mapstructure:"webhook"`

	Reconciler struct {
		Interval        time.Duration `mapstructure:"interval"`
		StaleAfter      time.Duration `mapstructure:"stale_after"`
		StaleQueueAfter time.Duration `mapstructure:"stale_queue_after"`
	} `mapstructure:"reconciler"`

	Dispatcher struct {
		Concurrency      int           `mapstructure:"concurrency"`
		LockTTL          time.Duration `mapstructure:"lock_ttl"`
		MetricsKeys      []string      `mapstructure:"metrics_keys"`
		MetricsDeadline  time.Duration `mapstructure:"metrics_deadline"`
		FetchRPS         float64       `mapstructure:"fetch_rps"`
		FetchBurst       int           `mapstructure:"fetch_burst"`
		RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
		RetryBackoffCap  time.Duration `mapstructure:"retry_backoff_cap"`
		RetryJitterRatio float64       `mapstructure:"retry_jitter_ratio"`
	} `mapstructure:"dispatcher"`

	AnalysisServers []AnalysisServer `mapstructure:"analysis_servers"`
}

// Load reads a YAML config file at path and environment variable overrides
// (prefixed SCANORC_, nested keys joined by underscores) into a Config.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCANORC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("reconciler.interval", 60*time.Second)
	v.SetDefault("reconciler.stale_after", 10*time.Minute)
	v.SetDefault("reconciler.stale_queue_after", 15*time.Minute)
	v.SetDefault("kafka.normal_topic", "scan-jobs.normal")
	v.SetDefault("kafka.retry_topic", "scan-jobs.retry")
	v.SetDefault("kafka.high_priority_topic", "scan-jobs.high")
	v.SetDefault("kafka.dlq_topic", "scan-jobs.dlq")
	v.SetDefault("dispatcher.concurrency", 4)
	v.SetDefault("dispatcher.lock_ttl", 10*time.Minute)
	v.SetDefault("dispatcher.metrics_deadline", 5*time.Minute)
	v.SetDefault("dispatcher.fetch_rps", 2.0)
	v.SetDefault("dispatcher.fetch_burst", 4)
	v.SetDefault("dispatcher.retry_backoff_base", 5*time.Second)
	v.SetDefault("dispatcher.retry_backoff_cap", 5*time.Minute)
	v.SetDefault("dispatcher.retry_jitter_ratio", 0.2)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// ServerByName looks up an AnalysisServer by name, used by the Dispatcher to
// resolve per-job configuration.
func (c *Config) ServerByName(name string) (AnalysisServer, bool) {
	for _, s := range c.AnalysisServers {
		if s.Name == name {
			return s, true
		}
	}
	return AnalysisServer{}, false
}

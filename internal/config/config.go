package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the drift engine configuration.
type Config struct {
	Environment  string             `mapstructure:"environment"`
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Kafka        KafkaConfig        `mapstructure:"kafka"`
	Baseline     BaselineConfig     `mapstructure:"baseline"`
	Drift        DriftConfig        `mapstructure:"drift"`
	Alerting     AlertingConfig     `mapstructure:"alerting"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Retention    RetentionConfig    `mapstructure:"retention"`
	Notification NotificationConfig `mapstructure:"notification"`
}

// ServerConfig holds the admin/metrics HTTP server configuration.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds Redis settings for the cross-process cycle lock.
type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	Database int           `mapstructure:"database"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// KafkaConfig holds the notification topic settings.
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	AlertTopic   string        `mapstructure:"alert_topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// BaselineConfig controls reference statistic computation.
type BaselineConfig struct {
	HistogramBins     int     `mapstructure:"histogram_bins"`
	PositiveThreshold float64 `mapstructure:"positive_threshold"`
	MinSamples        int     `mapstructure:"min_samples"`
}

// DriftConfig carries every severity cutpoint so the aggregation rule and
// per-signal thresholds stay tunable rather than hard-coded.
type DriftConfig struct {
	Epsilon              float64 `mapstructure:"epsilon"`
	PSIWarning           float64 `mapstructure:"psi_warning"`
	PSICritical          float64 `mapstructure:"psi_critical"`
	KLWarning            float64 `mapstructure:"kl_warning"`
	KLCritical           float64 `mapstructure:"kl_critical"`
	FairnessWarning      float64 `mapstructure:"fairness_warning"`
	FairnessCritical     float64 `mapstructure:"fairness_critical"`
	NullRateWarning      float64 `mapstructure:"null_rate_warning"`
	NullRateCritical     float64 `mapstructure:"null_rate_critical"`
	NewCategoryMaxShare  float64 `mapstructure:"new_category_max_share"`
	DisparateImpactFloor float64 `mapstructure:"disparate_impact_floor"`
}

// AlertingConfig controls deduplication and the retraining rule.
type AlertingConfig struct {
	DedupWindow          time.Duration `mapstructure:"dedup_window"`
	RetrainCriticalCount int           `mapstructure:"retrain_critical_count"`
	RetrainLookback      time.Duration `mapstructure:"retrain_lookback"`
}

// WorkerConfig bounds each evaluation cycle.
type WorkerConfig struct {
	StreamingWindow     time.Duration `mapstructure:"streaming_window"`
	StreamingMaxSamples int           `mapstructure:"streaming_max_samples"`
	BatchWindow         time.Duration `mapstructure:"batch_window"`
	BatchMaxSamples     int           `mapstructure:"batch_max_samples"`
	MinSamples          int           `mapstructure:"min_samples"`
	CycleTimeout        time.Duration `mapstructure:"cycle_timeout"`
	MaxRetries          int           `mapstructure:"max_retries"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	StreamingInterval   time.Duration `mapstructure:"streaming_interval"`
	BatchInterval       time.Duration `mapstructure:"batch_interval"`
}

// RetentionConfig bounds how long derived records are kept.
type RetentionConfig struct {
	Snapshots time.Duration `mapstructure:"snapshots"`
	Alerts    time.Duration `mapstructure:"alerts"`
}

// NotificationConfig holds the best-effort side channels.
type NotificationConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	WebhookURL  string        `mapstructure:"webhook_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// Load reads configuration from file and environment.
func Load(path string) (*Config, error) {
	setDefaults()

	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/drift-engine")
	}

	viper.SetEnvPrefix("DRIFT")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "development")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8085)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "60s")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "drift_engine")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "1h")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.database", 0)
	viper.SetDefault("redis.lock_ttl", "5m")

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.alert_topic", "drift.alerts")
	viper.SetDefault("kafka.write_timeout", "10s")

	viper.SetDefault("baseline.histogram_bins", 20)
	viper.SetDefault("baseline.positive_threshold", 0.5)
	viper.SetDefault("baseline.min_samples", 1)

	viper.SetDefault("drift.epsilon", 1e-6)
	viper.SetDefault("drift.psi_warning", 0.1)
	viper.SetDefault("drift.psi_critical", 0.25)
	viper.SetDefault("drift.kl_warning", 0.1)
	viper.SetDefault("drift.kl_critical", 0.3)
	viper.SetDefault("drift.fairness_warning", 0.05)
	viper.SetDefault("drift.fairness_critical", 0.1)
	viper.SetDefault("drift.null_rate_warning", 0.05)
	viper.SetDefault("drift.null_rate_critical", 0.15)
	viper.SetDefault("drift.new_category_max_share", 0.02)
	viper.SetDefault("drift.disparate_impact_floor", 0.8)

	viper.SetDefault("alerting.dedup_window", "24h")
	viper.SetDefault("alerting.retrain_critical_count", 2)
	viper.SetDefault("alerting.retrain_lookback", "24h")

	viper.SetDefault("worker.streaming_window", "5m")
	viper.SetDefault("worker.streaming_max_samples", 1000)
	viper.SetDefault("worker.batch_window", "24h")
	viper.SetDefault("worker.batch_max_samples", 10000)
	viper.SetDefault("worker.min_samples", 30)
	viper.SetDefault("worker.cycle_timeout", "2m")
	viper.SetDefault("worker.max_retries", 3)
	viper.SetDefault("worker.retry_backoff", "500ms")
	viper.SetDefault("worker.streaming_interval", "5m")
	viper.SetDefault("worker.batch_interval", "24h")

	viper.SetDefault("retention.snapshots", "720h")
	viper.SetDefault("retention.alerts", "2160h")

	viper.SetDefault("notification.queue_size", 256)
	viper.SetDefault("notification.http_timeout", "10s")
}

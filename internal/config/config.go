// Package config loads errledger configuration from an optional YAML file,
// ERRLEDGER_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/bargom/errledger/internal/api"
	"github.com/bargom/errledger/internal/auth"
	"github.com/bargom/errledger/internal/cache"
	"github.com/bargom/errledger/internal/database/mongodb"
	"github.com/bargom/errledger/internal/queue"
	"github.com/bargom/errledger/internal/reconcile"
	"github.com/bargom/errledger/internal/shutdown"
	"github.com/bargom/errledger/internal/workflow/engine"
	"github.com/bargom/errledger/pkg/integration"
	"github.com/bargom/errledger/pkg/logging"
)

// EnvPrefix prefixes every environment variable, e.g. ERRLEDGER_MONGO_URI.
const EnvPrefix = "ERRLEDGER"

// Store backends.
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// Intake modes of POST /events.
const (
	IntakeDirect = "direct"
	IntakeQueue  = "queue"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    api.ServerConfig `mapstructure:"server"`
	Store     StoreConfig      `mapstructure:"store"`
	Mongo     mongodb.Config   `mapstructure:"mongo"`
	Redis     cache.Config     `mapstructure:"redis"`
	Queue     queue.Config     `mapstructure:"queue"`
	Temporal  engine.Config    `mapstructure:"temporal"`
	Resume    ResumeConfig     `mapstructure:"resume"`
	Reconcile ReconcileConfig  `mapstructure:"reconcile"`
	Dedup     DedupConfig      `mapstructure:"dedup"`
	Auth      auth.Config      `mapstructure:"auth"`
	Log       logging.Config   `mapstructure:"log"`
	Metrics   MetricsConfig    `mapstructure:"metrics"`
	Shutdown  shutdown.Config  `mapstructure:"shutdown"`
}

// StoreConfig selects the error store.
type StoreConfig struct {
	// Backend is "memory" or "mongo".
	Backend string `mapstructure:"backend"`
	// Intake is "direct" (apply in the request) or "queue" (enqueue to asynq).
	Intake string `mapstructure:"intake"`
}

// ReconcileConfig configures the change feed consumer.
type ReconcileConfig struct {
	Engine reconcile.Config `mapstructure:",squash"`
	// MaxBatch bounds the removals handed to the engine at once.
	MaxBatch int `mapstructure:"max_batch"`
	// Consumer names the feed checkpoint.
	Consumer     string        `mapstructure:"consumer"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

// ResumeConfig guards resume and fail calls to Temporal.
type ResumeConfig struct {
	Breaker integration.CircuitBreakerConfig `mapstructure:"breaker"`
	Retry   integration.RetryConfig          `mapstructure:"retry"`
}

// DedupConfig configures delivery dedup of event ids.
type DedupConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Environment string `mapstructure:"environment"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	redis := cache.DefaultConfig()
	redis.Type = "redis"
	redis.URL = "redis://localhost:6379/0"
	return Config{
		Server:   api.DefaultServerConfig(),
		Store:    StoreConfig{Backend: BackendMongo, Intake: IntakeDirect},
		Mongo:    mongodb.DefaultConfig(),
		Redis:    redis,
		Queue:    queue.DefaultConfig(),
		Temporal: engine.DefaultConfig(),
		Resume: ResumeConfig{
			Breaker: integration.DefaultCircuitBreakerConfig(),
			Retry:   integration.DefaultRetryConfig(),
		},
		Reconcile: ReconcileConfig{
			Engine:       reconcile.DefaultConfig(),
			MaxBatch:     100,
			Consumer:     "reconcile",
			RestartDelay: time.Second,
		},
		Dedup:    DedupConfig{Enabled: true, TTL: 24 * time.Hour},
		Log:      logging.DefaultConfig(),
		Metrics:  MetricsConfig{Enabled: true, Environment: "development"},
		Shutdown: shutdown.DefaultConfig(),
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("store.backend", d.Store.Backend)
	v.SetDefault("store.intake", d.Store.Intake)

	v.SetDefault("mongo.uri", d.Mongo.URI)
	v.SetDefault("mongo.database", d.Mongo.Database)
	v.SetDefault("mongo.collection", d.Mongo.Collection)
	v.SetDefault("mongo.min_pool_size", d.Mongo.MinPoolSize)
	v.SetDefault("mongo.max_pool_size", d.Mongo.MaxPoolSize)
	v.SetDefault("mongo.connect_timeout", d.Mongo.ConnectTimeout)
	v.SetDefault("mongo.socket_timeout", d.Mongo.SocketTimeout)
	v.SetDefault("mongo.server_selection_timeout", d.Mongo.ServerSelectionTimeout)
	v.SetDefault("mongo.max_retries", d.Mongo.MaxRetries)
	v.SetDefault("mongo.retry_backoff", d.Mongo.RetryBackoff)
	v.SetDefault("mongo.max_retry_backoff", d.Mongo.MaxRetryBackoff)

	v.SetDefault("redis.type", d.Redis.Type)
	v.SetDefault("redis.url", d.Redis.URL)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.cluster_mode", d.Redis.ClusterMode)
	v.SetDefault("redis.cluster_addrs", d.Redis.ClusterAddrs)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", d.Redis.MinIdleConns)
	v.SetDefault("redis.max_retries", d.Redis.MaxRetries)
	v.SetDefault("redis.default_ttl", d.Redis.DefaultTTL)
	v.SetDefault("redis.prefix", d.Redis.Prefix)

	v.SetDefault("queue.redis_url", d.Queue.RedisURL)
	v.SetDefault("queue.concurrency", d.Queue.Concurrency)
	v.SetDefault("queue.queues", d.Queue.Queues)
	v.SetDefault("queue.max_retry", d.Queue.MaxRetry)
	v.SetDefault("queue.retention", d.Queue.Retention)
	v.SetDefault("queue.shutdown_timeout", d.Queue.ShutdownTimeout)

	v.SetDefault("temporal.enabled", d.Temporal.Enabled)
	v.SetDefault("temporal.host_port", d.Temporal.HostPort)
	v.SetDefault("temporal.namespace", d.Temporal.Namespace)
	v.SetDefault("temporal.task_queue", d.Temporal.TaskQueue)
	v.SetDefault("temporal.max_concurrent_workflows", d.Temporal.MaxConcurrentWorkflows)
	v.SetDefault("temporal.max_concurrent_activities", d.Temporal.MaxConcurrentActivities)
	v.SetDefault("temporal.gate_timeout", d.Temporal.GateTimeout)
	v.SetDefault("temporal.worker_id", d.Temporal.WorkerID)

	v.SetDefault("resume.breaker.failure_threshold", d.Resume.Breaker.FailureThreshold)
	v.SetDefault("resume.breaker.timeout", d.Resume.Breaker.Timeout)
	v.SetDefault("resume.breaker.half_open_requests", d.Resume.Breaker.HalfOpenRequests)
	v.SetDefault("resume.retry.max_attempts", d.Resume.Retry.MaxAttempts)
	v.SetDefault("resume.retry.base_delay", d.Resume.Retry.BaseDelay)
	v.SetDefault("resume.retry.max_delay", d.Resume.Retry.MaxDelay)
	v.SetDefault("resume.retry.multiplier", d.Resume.Retry.Multiplier)
	v.SetDefault("resume.retry.jitter", d.Resume.Retry.Jitter)

	v.SetDefault("reconcile.max_attempts", d.Reconcile.Engine.MaxAttempts)
	v.SetDefault("reconcile.retry_backoff", d.Reconcile.Engine.RetryBackoff)
	v.SetDefault("reconcile.concurrency", d.Reconcile.Engine.Concurrency)
	v.SetDefault("reconcile.max_batch", d.Reconcile.MaxBatch)
	v.SetDefault("reconcile.consumer", d.Reconcile.Consumer)
	v.SetDefault("reconcile.restart_delay", d.Reconcile.RestartDelay)

	v.SetDefault("dedup.enabled", d.Dedup.Enabled)
	v.SetDefault("dedup.ttl", d.Dedup.TTL)

	v.SetDefault("auth.enabled", d.Auth.Enabled)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.audience", d.Auth.Audience)
	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.public_key", d.Auth.PublicKey)
	v.SetDefault("auth.roles_claim", d.Auth.RolesClaim)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.add_source", d.Log.AddSource)
	v.SetDefault("log.sample_rate", d.Log.SampleRate)
	v.SetDefault("log.redact", d.Log.Redact)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.environment", d.Metrics.Environment)

	v.SetDefault("shutdown.timeout", d.Shutdown.Timeout)
	v.SetDefault("shutdown.hook_timeout", d.Shutdown.HookTimeout)
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"addr":      "server.addr",
	"store":     "store.backend",
	"intake":    "store.intake",
	"mongo-uri": "mongo.uri",
	"redis-url": "redis.url",
	"log-level": "log.level",
}

// Load reads the configuration. path names a YAML file; when empty,
// errledger.yaml is looked up in the working directory and /etc/errledger
// and is optional. Flags set on the command line win over everything.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("errledger")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/errledger")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section that the selected backends use.
func (c Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case BackendMemory:
	case BackendMongo:
		if err := c.Mongo.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	switch c.Store.Intake {
	case IntakeDirect:
	case IntakeQueue:
		if err := c.Queue.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store: unknown intake %q", c.Store.Intake)
	}
	if c.Redis.Type != "redis" && c.Redis.Type != "memory" {
		return fmt.Errorf("redis: unknown type %q", c.Redis.Type)
	}
	if c.Temporal.Enabled {
		if err := c.Temporal.Validate(); err != nil {
			return err
		}
	}
	if c.Reconcile.MaxBatch <= 0 {
		return fmt.Errorf("reconcile: max_batch must be positive")
	}
	if c.Dedup.Enabled && c.Dedup.TTL <= 0 {
		return fmt.Errorf("dedup: ttl must be positive")
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: unknown level %q", c.Log.Level)
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	strutil "fiscaldoc/pkg/platform/strings"
)

// Config is the whole process configuration. It is built once in main and
// handed to each component; nothing reads the environment after Load.
type Config struct {
	Server    Server
	Log       LogConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Sequence  SequenceConfig
	Registry  RegistryConfig
	Ingestion IngestionConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	RequestTimeout  time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// RedisConfig is optional; an empty URL disables the registry answer cache.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig is optional; no brokers disables downstream publishing.
type KafkaConfig struct {
	Brokers           []string
	Topic             string
	Partitions        int32
	ReplicationFactor int16
	ProduceTimeout    time.Duration
}

type SequenceConfig struct {
	Base               int64
	MaxConflictRetries int
	ConflictBackoff    time.Duration
	TxTimeout          time.Duration
	// RequiredTypes lists document type codes that receive a correlative
	// number. Empty means every type does.
	RequiredTypes []string
}

type RegistryConfig struct {
	BaseURL          string
	Token            string
	ConsultantID     string
	MaxAttempts      int
	TransportRetries int
	TransportBackoff time.Duration
	AttemptTimeout   time.Duration
	TotalBudget      time.Duration
	Variations       []string
	RatePerSecond    float64
	Burst            int
	CacheTTL         time.Duration
	BreakerFailures  int
	BreakerSuccesses int
	BreakerOpenFor   time.Duration
}

type IngestionConfig struct {
	BatchConcurrency int
	MaxBatchSize     int
	// FinalizeTimeout bounds the terminal write and publish of a document
	// whose request was cancelled.
	FinalizeTimeout time.Duration
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  45 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
		Postgres: PostgresConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  5 * time.Second,
		},
		Redis: RedisConfig{
			PoolSize:     10,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Kafka: KafkaConfig{
			Topic:             "fiscaldoc.documents.finalized",
			Partitions:        3,
			ReplicationFactor: 1,
			ProduceTimeout:    5 * time.Second,
		},
		Sequence: SequenceConfig{
			Base:               100000,
			MaxConflictRetries: 3,
			ConflictBackoff:    20 * time.Millisecond,
			TxTimeout:          5 * time.Second,
		},
		Registry: RegistryConfig{
			MaxAttempts:      4,
			TransportRetries: 2,
			TransportBackoff: 250 * time.Millisecond,
			AttemptTimeout:   5 * time.Second,
			TotalBudget:      30 * time.Second,
			RatePerSecond:    10,
			Burst:            5,
			CacheTTL:         5 * time.Minute,
			BreakerFailures:  5,
			BreakerSuccesses: 2,
			BreakerOpenFor:   15 * time.Second,
		},
		Ingestion: IngestionConfig{
			BatchConcurrency: 8,
			MaxBatchSize:     100,
			FinalizeTimeout:  5 * time.Second,
		},
	}
}

// Load reads an optional .env file, then FISCALDOC_* environment variables
// over the defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FISCALDOC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Defaults()
	setDefaults(v, d)

	cfg := Config{
		Server: Server{
			Addr:            v.GetString("server.addr"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			RequestTimeout:  v.GetDuration("server.request_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Postgres: PostgresConfig{
			DSN:             v.GetString("postgres.dsn"),
			MaxOpenConns:    v.GetInt("postgres.max_open_conns"),
			MaxIdleConns:    v.GetInt("postgres.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("postgres.conn_max_lifetime"),
			ConnectTimeout:  v.GetDuration("postgres.connect_timeout"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Kafka: KafkaConfig{
			Brokers:           strutil.SplitList(v.GetString("kafka.brokers")),
			Topic:             v.GetString("kafka.topic"),
			Partitions:        v.GetInt32("kafka.partitions"),
			ReplicationFactor: int16(v.GetInt("kafka.replication_factor")),
			ProduceTimeout:    v.GetDuration("kafka.produce_timeout"),
		},
		Sequence: SequenceConfig{
			Base:               v.GetInt64("sequence.base"),
			MaxConflictRetries: v.GetInt("sequence.max_conflict_retries"),
			ConflictBackoff:    v.GetDuration("sequence.conflict_backoff"),
			TxTimeout:          v.GetDuration("sequence.tx_timeout"),
			RequiredTypes:      strutil.SplitList(v.GetString("sequence.required_types")),
		},
		Registry: RegistryConfig{
			BaseURL:          v.GetString("registry.base_url"),
			Token:            v.GetString("registry.token"),
			ConsultantID:     v.GetString("registry.consultant_id"),
			MaxAttempts:      v.GetInt("registry.max_attempts"),
			TransportRetries: v.GetInt("registry.transport_retries"),
			TransportBackoff: v.GetDuration("registry.transport_backoff"),
			AttemptTimeout:   v.GetDuration("registry.attempt_timeout"),
			TotalBudget:      v.GetDuration("registry.total_budget"),
			Variations:       strutil.SplitList(v.GetString("registry.variations")),
			RatePerSecond:    v.GetFloat64("registry.rate_per_second"),
			Burst:            v.GetInt("registry.burst"),
			CacheTTL:         v.GetDuration("registry.cache_ttl"),
			BreakerFailures:  v.GetInt("registry.breaker_failures"),
			BreakerSuccesses: v.GetInt("registry.breaker_successes"),
			BreakerOpenFor:   v.GetDuration("registry.breaker_open_for"),
		},
		Ingestion: IngestionConfig{
			BatchConcurrency: v.GetInt("ingestion.batch_concurrency"),
			MaxBatchSize:     v.GetInt("ingestion.max_batch_size"),
			FinalizeTimeout:  v.GetDuration("ingestion.finalize_timeout"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.max_open_conns", d.Postgres.MaxOpenConns)
	v.SetDefault("postgres.max_idle_conns", d.Postgres.MaxIdleConns)
	v.SetDefault("postgres.conn_max_lifetime", d.Postgres.ConnMaxLifetime)
	v.SetDefault("postgres.connect_timeout", d.Postgres.ConnectTimeout)
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.min_idle_conns", d.Redis.MinIdleConns)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.partitions", d.Kafka.Partitions)
	v.SetDefault("kafka.replication_factor", d.Kafka.ReplicationFactor)
	v.SetDefault("kafka.produce_timeout", d.Kafka.ProduceTimeout)
	v.SetDefault("sequence.base", d.Sequence.Base)
	v.SetDefault("sequence.max_conflict_retries", d.Sequence.MaxConflictRetries)
	v.SetDefault("sequence.conflict_backoff", d.Sequence.ConflictBackoff)
	v.SetDefault("sequence.tx_timeout", d.Sequence.TxTimeout)
	v.SetDefault("sequence.required_types", "")
	v.SetDefault("registry.base_url", "")
	v.SetDefault("registry.token", "")
	v.SetDefault("registry.consultant_id", "")
	v.SetDefault("registry.max_attempts", d.Registry.MaxAttempts)
	v.SetDefault("registry.transport_retries", d.Registry.TransportRetries)
	v.SetDefault("registry.transport_backoff", d.Registry.TransportBackoff)
	v.SetDefault("registry.attempt_timeout", d.Registry.AttemptTimeout)
	v.SetDefault("registry.total_budget", d.Registry.TotalBudget)
	v.SetDefault("registry.variations", "")
	v.SetDefault("registry.rate_per_second", d.Registry.RatePerSecond)
	v.SetDefault("registry.burst", d.Registry.Burst)
	v.SetDefault("registry.cache_ttl", d.Registry.CacheTTL)
	v.SetDefault("registry.breaker_failures", d.Registry.BreakerFailures)
	v.SetDefault("registry.breaker_successes", d.Registry.BreakerSuccesses)
	v.SetDefault("registry.breaker_open_for", d.Registry.BreakerOpenFor)
	v.SetDefault("ingestion.batch_concurrency", d.Ingestion.BatchConcurrency)
	v.SetDefault("ingestion.max_batch_size", d.Ingestion.MaxBatchSize)
	v.SetDefault("ingestion.finalize_timeout", d.Ingestion.FinalizeTimeout)
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("FISCALDOC_POSTGRES_DSN is required"))
	}
	if c.Registry.BaseURL == "" {
		errs = append(errs, errors.New("FISCALDOC_REGISTRY_BASE_URL is required"))
	}
	if c.Sequence.Base < 0 {
		errs = append(errs, fmt.Errorf("sequence base must be >= 0, got %d", c.Sequence.Base))
	}
	if c.Registry.MaxAttempts < 1 || c.Registry.MaxAttempts > 10 {
		errs = append(errs, fmt.Errorf("registry max attempts must be in [1,10], got %d", c.Registry.MaxAttempts))
	}
	if c.Registry.TransportRetries < 0 {
		errs = append(errs, fmt.Errorf("registry transport retries must be >= 0, got %d", c.Registry.TransportRetries))
	}
	if c.Registry.AttemptTimeout <= 0 || c.Registry.TotalBudget < c.Registry.AttemptTimeout {
		errs = append(errs, errors.New("registry total budget must be at least one attempt timeout"))
	}
	if c.Ingestion.BatchConcurrency < 1 {
		errs = append(errs, errors.New("ingestion batch concurrency must be >= 1"))
	}
	return errors.Join(errs...)
}

package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// StorageDriverMemory хранит всё в памяти процесса.
	StorageDriverMemory = "memory"
	// StorageDriverPostgres использует PostgreSQL.
	StorageDriverPostgres = "postgres"
	// StorageDriverSQLite использует встроенную SQLite-базу в файле.
	StorageDriverSQLite = "sqlite"

	TracingExporterNone   = "none"
	TracingExporterStdout = "stdout"
	TracingExporterOTLP   = "otlp"
)

// Имена переменных окружения.
const (
	EnvConfigFile = "MALL_CONFIG_FILE"

	envHTTPAddr                    = "MALL_HTTP_ADDR"
	envGRPCAddr                    = "MALL_GRPC_ADDR"
	envMetricsAddr                 = "MALL_METRICS_ADDR"
	envLogLevel                    = "MALL_LOG_LEVEL"
	envStorageDriver               = "MALL_STORAGE_DRIVER"
	envPostgresDSN                 = "MALL_POSTGRES_DSN"
	envPostgresAutoMigrate         = "MALL_POSTGRES_AUTO_MIGRATE"
	envPostgresMaxConns            = "MALL_POSTGRES_MAX_CONNS"
	envSQLitePath                  = "MALL_SQLITE_PATH"
	envSQLiteAutoMigrate           = "MALL_SQLITE_AUTO_MIGRATE"
	envRedisAddr                   = "MALL_REDIS_ADDR"
	envRedisPassword               = "MALL_REDIS_PASSWORD"
	envRedisDB                     = "MALL_REDIS_DB"
	envKafkaBrokers                = "MALL_KAFKA_BROKERS"
	envKafkaOrderTopic             = "MALL_KAFKA_ORDER_TOPIC"
	envKafkaDLQTopic               = "MALL_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval          = "MALL_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "MALL_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "MALL_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "MALL_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "MALL_OUTBOX_MAX_PENDING"
	envIdempotencyTTL              = "MALL_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "MALL_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "MALL_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envRequestTimeout              = "MALL_REQUEST_TIMEOUT"
	envTracingExporter             = "MALL_TRACING_EXPORTER"
	envOTLPEndpoint                = "MALL_OTLP_ENDPOINT"
	envSeedDemoData                = "MALL_SEED_DEMO_DATA"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`

	StorageDriver       string `yaml:"storage_driver"`
	PostgresDSN         string `yaml:"postgres_dsn"`
	PostgresAutoMigrate bool   `yaml:"postgres_auto_migrate"`
	PostgresMaxConns    int    `yaml:"postgres_max_conns"`
	SQLitePath          string `yaml:"sqlite_path"`
	SQLiteAutoMigrate   bool   `yaml:"sqlite_auto_migrate"`

	// RedisAddr включает Redis как хранилище ключей идемпотентности.
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	// KafkaBrokers - список через запятую; пустой список включает логирующий publisher.
	KafkaBrokers    string `yaml:"kafka_brokers"`
	KafkaOrderTopic string `yaml:"kafka_order_topic"`
	KafkaDLQTopic   string `yaml:"kafka_dlq_topic"`

	OutboxPollInterval time.Duration `yaml:"outbox_poll_interval"`
	OutboxBatchSize    int           `yaml:"outbox_batch_size"`
	OutboxMaxAttempts  int           `yaml:"outbox_max_attempts"`
	OutboxRetryDelay   time.Duration `yaml:"outbox_retry_delay"`
	// OutboxMaxPending - порог backlog, после которого health отдаёт degraded. 0 отключает проверку.
	OutboxMaxPending int `yaml:"outbox_max_pending"`

	IdempotencyTTL              time.Duration `yaml:"idempotency_ttl"`
	IdempotencyCleanupInterval  time.Duration `yaml:"idempotency_cleanup_interval"`
	IdempotencyCleanupBatchSize int           `yaml:"idempotency_cleanup_batch_size"`

	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	TracingExporter string `yaml:"tracing_exporter"`
	OTLPEndpoint    string `yaml:"otlp_endpoint"`
	ServiceName     string `yaml:"service_name"`

	SeedDemoData bool `yaml:"seed_demo_data"`
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		LogLevel:                    "info",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		PostgresMaxConns:            25,
		SQLitePath:                  "mall.db",
		SQLiteAutoMigrate:           true,
		KafkaOrderTopic:             "mall.order.events",
		KafkaDLQTopic:               "mall.dlq",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		RequestTimeout:              15 * time.Second,
		ShutdownTimeout:             5 * time.Second,
		TracingExporter:             TracingExporterNone,
		OTLPEndpoint:                "localhost:4317",
		ServiceName:                 "mall-api",
	}
}

// EnvLookup совместим с os.LookupEnv.
type EnvLookup func(key string) (string, bool)

// LoadConfig собирает конфигурацию: значения по умолчанию, затем YAML-файл (если path не пуст),
// затем переменные окружения MALL_*. Некорректные значения окружения не роняют запуск:
// остаётся предыдущее значение, а в warnings попадает описание.
func LoadConfig(path string, lookup EnvLookup) (Config, []string, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if lookup == nil {
		lookup = os.LookupEnv
	}
	warnings := applyEnv(&cfg, lookup)

	if err := cfg.Validate(); err != nil {
		return Config{}, warnings, err
	}
	return cfg, warnings, nil
}

// Validate проверяет согласованность настроек перед запуском.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage requires %s", envPostgresDSN)
		}
	case StorageDriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("sqlite storage requires %s", envSQLitePath)
		}
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}

	switch c.TracingExporter {
	case "", TracingExporterNone, TracingExporterStdout, TracingExporterOTLP:
	default:
		return fmt.Errorf("unsupported tracing exporter %q", c.TracingExporter)
	}
	return nil
}

func applyEnv(cfg *Config, lookup EnvLookup) []string {
	var warnings []string
	warn := func(key string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s: %v, keeping previous value", key, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, err)
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, err)
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDuration := func(v time.Duration) bool { return v > 0 }
	nonNegativeDuration := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)
	str(envLogLevel, &cfg.LogLevel)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	integer(envPostgresMaxConns, &cfg.PostgresMaxConns, positive, "must be > 0")
	str(envSQLitePath, &cfg.SQLitePath)
	boolean(envSQLiteAutoMigrate, &cfg.SQLiteAutoMigrate)

	str(envRedisAddr, &cfg.RedisAddr)
	str(envRedisPassword, &cfg.RedisPassword)
	integer(envRedisDB, &cfg.RedisDB, nonNegative, "must be >= 0")

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaOrderTopic, &cfg.KafkaOrderTopic)
	str(envKafkaDLQTopic, &cfg.KafkaDLQTopic)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDuration, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDuration, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDuration, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDuration, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	duration(envRequestTimeout, &cfg.RequestTimeout, positiveDuration, "must be > 0")

	str(envTracingExporter, &cfg.TracingExporter)
	cfg.TracingExporter = strings.ToLower(cfg.TracingExporter)
	str(envOTLPEndpoint, &cfg.OTLPEndpoint)

	boolean(envSeedDemoData, &cfg.SeedDemoData)

	return warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q", raw)
	}
	if valid != nil && !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}

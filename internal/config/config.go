package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/josh-kwaku/campus-ledger/internal/domain"
)

type Config struct {
	DatabaseURL         string `env:"DATABASE_URL,required,notEmpty"`
	JWTSecret           string `env:"JWT_SECRET,required,notEmpty"`
	DeviceSigningSecret string `env:"DEVICE_SIGNING_SECRET,required,notEmpty"`
	Port                int    `env:"PORT" envDefault:"8080"`
	LogLevel            string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv              string `env:"APP_ENV" envDefault:"production"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`

	LedgerMaxAttempts     int           `env:"LEDGER_MAX_ATTEMPTS" envDefault:"5"`
	LedgerRetryInitial    time.Duration `env:"LEDGER_RETRY_INITIAL" envDefault:"10ms"`
	LedgerRetryMax        time.Duration `env:"LEDGER_RETRY_MAX" envDefault:"250ms"`
	LedgerMutationTimeout time.Duration `env:"LEDGER_MUTATION_TIMEOUT" envDefault:"5s"`

	IdempotencyLease     time.Duration `env:"IDEMPOTENCY_LEASE" envDefault:"30s"`
	IdempotencyRetention time.Duration `env:"IDEMPOTENCY_RETENTION" envDefault:"0s"`

	SyncMaxBatch    int           `env:"SYNC_MAX_BATCH" envDefault:"500"`
	SyncConcurrency int           `env:"SYNC_CONCURRENCY" envDefault:"8"`
	SyncClockSkew   time.Duration `env:"SYNC_CLOCK_SKEW" envDefault:"5m"`

	ConflictDefaultStrategy domain.ResolutionStrategy `env:"CONFLICT_DEFAULT_STRATEGY" envDefault:"MANUAL"`

	ReconcileAutoAdjustThreshold decimal.Decimal `env:"RECONCILE_AUTO_ADJUST_THRESHOLD,required,notEmpty"`
	ReconcileMaxAttempts         int             `env:"RECONCILE_MAX_ATTEMPTS" envDefault:"3"`
	ReconcileConcurrency         int             `env:"RECONCILE_CONCURRENCY" envDefault:"4"`

	RedisAddr         string        `env:"REDIS_ADDR"`
	RedisPassword     string        `env:"REDIS_PASSWORD"`
	RedisDB           int           `env:"REDIS_DB"`
	WhitelistCacheTTL time.Duration `env:"WHITELIST_CACHE_TTL" envDefault:"1m"`

	KafkaBrokers    []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaAuditTopic string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"ledger.audit"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
}

// TerminalConfig configures the device agent.
type TerminalConfig struct {
	LedgerURL               string        `env:"LEDGER_URL,required,notEmpty"`
	DeviceID                string        `env:"DEVICE_ID,required,notEmpty"`
	DeviceKey               string        `env:"DEVICE_KEY,required,notEmpty"`
	DeviceToken             string        `env:"DEVICE_TOKEN,required,notEmpty"`
	DBPath                  string        `env:"TERMINAL_DB_PATH" envDefault:"terminal.db"`
	WhitelistMaxSnapshotAge time.Duration `env:"WHITELIST_MAX_SNAPSHOT_AGE,required,notEmpty"`
	WhitelistLookupTimeout  time.Duration `env:"WHITELIST_LOOKUP_TIMEOUT" envDefault:"2s"`
	SyncTimeout             time.Duration `env:"SYNC_TIMEOUT" envDefault:"30s"`
	SyncBatchSize           int           `env:"SYNC_BATCH_SIZE" envDefault:"200"`
	LogLevel                string        `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv                  string        `env:"APP_ENV" envDefault:"production"`
}

var decimalParser = map[reflect.Type]env.ParserFunc{
	reflect.TypeOf(decimal.Decimal{}): func(v string) (any, error) {
		return decimal.NewFromString(v)
	},
}

// loadDotEnv reads an optional .env file; a missing file is not an error.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	cfg, err := env.ParseAsWithOptions[Config](env.Options{FuncMap: decimalParser})
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.ReconcileAutoAdjustThreshold.IsNegative() {
		errs = append(errs, errors.New("RECONCILE_AUTO_ADJUST_THRESHOLD must not be negative"))
	}
	if !c.ConflictDefaultStrategy.IsValid() {
		errs = append(errs, fmt.Errorf("CONFLICT_DEFAULT_STRATEGY %q is not a strategy", c.ConflictDefaultStrategy))
	}
	if c.IdempotencyLease <= c.LedgerMutationTimeout {
		errs = append(errs, errors.New("IDEMPOTENCY_LEASE must be longer than LEDGER_MUTATION_TIMEOUT"))
	}
	if c.LedgerMaxAttempts < 1 || c.ReconcileMaxAttempts < 1 {
		errs = append(errs, errors.New("max attempts must be at least 1"))
	}
	if c.SyncMaxBatch < 1 || c.SyncConcurrency < 1 || c.ReconcileConcurrency < 1 {
		errs = append(errs, errors.New("batch size and concurrency must be at least 1"))
	}
	if c.IdempotencyRetention < 0 || c.SyncClockSkew < 0 {
		errs = append(errs, errors.New("durations must not be negative"))
	}
	return errors.Join(errs...)
}

func LoadTerminal() (*TerminalConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, fmt.Errorf("config.LoadTerminal: %w", err)
	}
	cfg, err := env.ParseAs[TerminalConfig]()
	if err != nil {
		return nil, fmt.Errorf("config.LoadTerminal: %w", err)
	}
	if cfg.WhitelistMaxSnapshotAge <= 0 {
		return nil, fmt.Errorf("config.LoadTerminal: WHITELIST_MAX_SNAPSHOT_AGE must be positive")
	}
	if cfg.SyncBatchSize < 1 {
		return nil, fmt.Errorf("config.LoadTerminal: SYNC_BATCH_SIZE must be at least 1")
	}
	return &cfg, nil
}

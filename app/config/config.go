package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2/hclsimple"

	"migrator/internal/domain/apperr"
)

const (
	BackendRedis   = "redis"
	BackendMongoDB = "mongodb"
	BackendSQLite  = "sqlite"
	BackendMemory  = "memory"

	TransferMongoDB = "mongodb"
	TransferCommand = "command"
)

type Config struct {
	Store       StoreConfig
	Source      SourceConfig
	Destination DestinationConfig
	Server      HTTPServerConfig
	Worker      WorkerConfig
	Logging     LoggingConfig
	Filters     FiltersConfig
}

type StoreConfig struct {
	Backend   string `hcl:"backend,optional" validate:"oneof=redis mongodb sqlite memory"`
	KeyPrefix string `hcl:"key_prefix,optional"`

	// redis
	Address  string `hcl:"address,optional" validate:"required_if=Backend redis"`
	Password string `hcl:"password,optional"`
	DB       int    `hcl:"db,optional" validate:"min=0"`

	// mongodb
	URI      string `hcl:"uri,optional" validate:"required_if=Backend mongodb"`
	Database string `hcl:"database,optional" validate:"required_if=Backend mongodb"`

	// sqlite
	Path string `hcl:"path,optional" validate:"required_if=Backend sqlite"`

	PlanDir string `hcl:"plan_dir,optional"`
}

type SourceConfig struct {
	URI       string `hcl:"uri,optional" validate:"required"`
	Database  string `hcl:"database,optional" validate:"required"`
	TypeField string `hcl:"type_field,optional"`

	RawQueryTimeout string        `hcl:"query_timeout,optional"`
	QueryTimeout    time.Duration `validate:"min=0"`
}

type DestinationConfig struct {
	URI       string `hcl:"uri,optional"`
	Database  string `hcl:"database,optional"`
	BatchSize int    `hcl:"batch_size,optional" validate:"min=1"`
}

type HTTPServerConfig struct {
	Host        string `hcl:"host,optional"`
	Port        int    `hcl:"port,optional" validate:"min=1,max=65535"`
	MetricsAddr string `hcl:"metrics_addr,optional"`

	RawReadTimeout  string        `hcl:"read_timeout,optional"`
	RawWriteTimeout string        `hcl:"write_timeout,optional"`
	ReadTimeout     time.Duration `validate:"min=0"`
	WriteTimeout    time.Duration `validate:"min=0"`
}

type WorkerConfig struct {
	Count    int      `hcl:"count,optional" validate:"min=1"`
	Transfer string   `hcl:"transfer,optional" validate:"oneof=mongodb command"`
	Command  []string `hcl:"command,optional" validate:"required_if=Transfer command"`
	LogDir   string   `hcl:"log_dir,optional"`

	RawPollInterval    string        `hcl:"poll_interval,optional"`
	RawTransferTimeout string        `hcl:"transfer_timeout,optional"`
	PollInterval       time.Duration `validate:"min=0"`
	TransferTimeout    time.Duration `validate:"min=0"`
}

type LoggingConfig struct {
	Level  string `hcl:"level,optional"`
	Format string `hcl:"format,optional" validate:"oneof=json console"`
}

// FiltersConfig holds string filter inputs: a pattern, or a registry
// reference ending in ".plugin". Empty means unset.
type FiltersConfig struct {
	Index      string `hcl:"index,optional"`
	Type       string `hcl:"type,optional"`
	Comparator string `hcl:"comparator,optional"`
}

// file is the HCL document shape. Every block is optional.
type file struct {
	Store       *StoreConfig       `hcl:"store,block"`
	Source      *SourceConfig      `hcl:"source,block"`
	Destination *DestinationConfig `hcl:"destination,block"`
	Server      *HTTPServerConfig  `hcl:"server,block"`
	Worker      *WorkerConfig      `hcl:"worker,block"`
	Logging     *LoggingConfig     `hcl:"logging,block"`
	Filters     *FiltersConfig     `hcl:"filters,block"`
}

var validate = validator.New()

// Load reads the HCL file at path (skipped when path is empty), applies
// MIGRATOR_* environment overrides and defaults, and validates the result.
// path must end in .hcl.
func Load(path string) (*Config, error) {
	var f file
	if path != "" {
		if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
			return nil, apperr.NewConfigurationError("file", err.Error())
		}
	}
	return build(&f)
}

// Parse is Load for an in-memory document; filename only selects the syntax
// and labels diagnostics.
func Parse(filename string, src []byte) (*Config, error) {
	var f file
	if err := hclsimple.Decode(filename, src, nil, &f); err != nil {
		return nil, apperr.NewConfigurationError("file", err.Error())
	}
	return build(&f)
}

func build(f *file) (*Config, error) {
	cfg := &Config{}
	if f.Store != nil {
		cfg.Store = *f.Store
	}
	if f.Source != nil {
		cfg.Source = *f.Source
	}
	if f.Destination != nil {
		cfg.Destination = *f.Destination
	}
	if f.Server != nil {
		cfg.Server = *f.Server
	}
	if f.Worker != nil {
		cfg.Worker = *f.Worker
	}
	if f.Logging != nil {
		cfg.Logging = *f.Logging
	}
	if f.Filters != nil {
		cfg.Filters = *f.Filters
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct constraints and reports the first violation.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return apperr.NewConfigurationError(fe.Namespace(), "failed "+reason)
	}
	return apperr.NewConfigurationError("config", err.Error())
}

func (c *Config) applyEnv() error {
	c.Store.Backend = getEnv("MIGRATOR_STORE_BACKEND", c.Store.Backend)
	c.Store.KeyPrefix = getEnv("MIGRATOR_KEY_PREFIX", c.Store.KeyPrefix)
	c.Store.Address = getEnv("MIGRATOR_REDIS_ADDR", c.Store.Address)
	c.Store.Password = getEnv("MIGRATOR_REDIS_PASSWORD", c.Store.Password)
	c.Store.URI = getEnv("MIGRATOR_STORE_URI", c.Store.URI)
	c.Store.Database = getEnv("MIGRATOR_STORE_DATABASE", c.Store.Database)
	c.Store.Path = getEnv("MIGRATOR_SQLITE_PATH", c.Store.Path)
	c.Store.PlanDir = getEnv("MIGRATOR_PLAN_DIR", c.Store.PlanDir)

	c.Source.URI = getEnv("MIGRATOR_SOURCE_URI", c.Source.URI)
	c.Source.Database = getEnv("MIGRATOR_SOURCE_DATABASE", c.Source.Database)
	c.Source.TypeField = getEnv("MIGRATOR_SOURCE_TYPE_FIELD", c.Source.TypeField)

	c.Destination.URI = getEnv("MIGRATOR_DEST_URI", c.Destination.URI)
	c.Destination.Database = getEnv("MIGRATOR_DEST_DATABASE", c.Destination.Database)

	c.Server.Host = getEnv("MIGRATOR_SERVER_HOST", c.Server.Host)
	c.Logging.Level = getEnv("MIGRATOR_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("MIGRATOR_LOG_FORMAT", c.Logging.Format)

	if v := os.Getenv("MIGRATOR_SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return apperr.NewConfigurationError("MIGRATOR_SERVER_PORT", fmt.Sprintf("not a number: %q", v))
		}
		c.Server.Port = port
	}
	if v := os.Getenv("MIGRATOR_REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return apperr.NewConfigurationError("MIGRATOR_REDIS_DB", fmt.Sprintf("not a number: %q", v))
		}
		c.Store.DB = db
	}
	return nil
}

func (c *Config) applyDefaults() {
	setDefault(&c.Store.Backend, BackendRedis)
	if c.Store.Backend == BackendRedis {
		setDefault(&c.Store.Address, "localhost:6379")
	}
	setDefault(&c.Store.PlanDir, "./plans")

	setDefault(&c.Source.URI, "mongodb://localhost:27017")
	setDefault(&c.Source.RawQueryTimeout, "30s")

	setDefault(&c.Destination.URI, c.Source.URI)
	if c.Destination.BatchSize == 0 {
		c.Destination.BatchSize = 500
	}

	setDefault(&c.Server.Host, "0.0.0.0")
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	setDefault(&c.Server.MetricsAddr, ":2112")
	setDefault(&c.Server.RawReadTimeout, "120s")
	setDefault(&c.Server.RawWriteTimeout, "120s")

	if c.Worker.Count == 0 {
		c.Worker.Count = 1
	}
	setDefault(&c.Worker.Transfer, TransferMongoDB)
	setDefault(&c.Worker.LogDir, "./transfer-logs")
	setDefault(&c.Worker.RawPollInterval, "5s")

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "json")
}

func (c *Config) parseDurations() error {
	for _, d := range []struct {
		setting string
		raw     string
		out     *time.Duration
	}{
		{"source.query_timeout", c.Source.RawQueryTimeout, &c.Source.QueryTimeout},
		{"server.read_timeout", c.Server.RawReadTimeout, &c.Server.ReadTimeout},
		{"server.write_timeout", c.Server.RawWriteTimeout, &c.Server.WriteTimeout},
		{"worker.poll_interval", c.Worker.RawPollInterval, &c.Worker.PollInterval},
		{"worker.transfer_timeout", c.Worker.RawTransferTimeout, &c.Worker.TransferTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return apperr.NewConfigurationError(d.setting, fmt.Sprintf("invalid duration %q", d.raw))
		}
		*d.out = v
	}
	return nil
}

// Addr is the status API listen address.
func (s HTTPServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func setDefault(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

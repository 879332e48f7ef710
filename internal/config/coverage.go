package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/coverage.report/internal/geogrid"
)

// ErrInvalidConfig wraps every validation failure reported by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Store backends accepted by the store field.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMongo  = "mongo"
)

// CoverageConfig is the root configuration of the coverage service. Every
// field is optional; the Get* methods supply defaults for omitted values.
type CoverageConfig struct {
	// Grid
	LonMin    *float64 `json:"lon_min,omitempty" toml:"lon_min,omitempty"`
	LatMin    *float64 `json:"lat_min,omitempty" toml:"lat_min,omitempty"`
	LonMax    *float64 `json:"lon_max,omitempty" toml:"lon_max,omitempty"`
	LatMax    *float64 `json:"lat_max,omitempty" toml:"lat_max,omitempty"`
	CellSizeM *float64 `json:"cell_size_m,omitempty" toml:"cell_size_m,omitempty"`

	// Storage
	Store         *string `json:"store,omitempty" toml:"store,omitempty"`
	DBPath        *string `json:"db_path,omitempty" toml:"db_path,omitempty"`
	RedisAddr     *string `json:"redis_addr,omitempty" toml:"redis_addr,omitempty"`
	MongoURI      *string `json:"mongo_uri,omitempty" toml:"mongo_uri,omitempty"`
	MongoDatabase *string `json:"mongo_database,omitempty" toml:"mongo_database,omitempty"`

	// Inputs and HTTP
	Listen         *string `json:"listen,omitempty" toml:"listen,omitempty"`
	UDPListen      *string `json:"udp_listen,omitempty" toml:"udp_listen,omitempty"`
	SerialPort     *string `json:"serial_port,omitempty" toml:"serial_port,omitempty"`
	SerialBaudRate *int    `json:"serial_baud_rate,omitempty" toml:"serial_baud_rate,omitempty"`
	SerialDataBits *int    `json:"serial_data_bits,omitempty" toml:"serial_data_bits,omitempty"`
	SerialStopBits *int    `json:"serial_stop_bits,omitempty" toml:"serial_stop_bits,omitempty"`
	SerialParity   *string `json:"serial_parity,omitempty" toml:"serial_parity,omitempty"`

	// Coverage calculation, duration strings like "10s"
	ClassAInterval *string `json:"class_a_interval,omitempty" toml:"class_a_interval,omitempty"`
	ClassBInterval *string `json:"class_b_interval,omitempty" toml:"class_b_interval,omitempty"`
	MaxGap         *string `json:"max_gap,omitempty" toml:"max_gap,omitempty"`

	LogLevel *string `json:"log_level,omitempty" toml:"log_level,omitempty"`

	// Sources maps a source id (tag block s:) to a display name.
	Sources map[string]string `json:"sources,omitempty" toml:"sources,omitempty"`
	// SatelliteSources lists the source ids of satellite feeds.
	SatelliteSources []string `json:"satellite_sources,omitempty" toml:"satellite_sources,omitempty"`
}

// envOverrides are the settings that may be replaced from the environment.
type envOverrides struct {
	Listen    string `env:"COVERAGE_LISTEN"`
	DBPath    string `env:"COVERAGE_DB_PATH"`
	Store     string `env:"COVERAGE_STORE"`
	LogLevel  string `env:"COVERAGE_LOG_LEVEL"`
	RedisAddr string `env:"COVERAGE_REDIS_ADDR"`
	MongoURI  string `env:"COVERAGE_MONGO_URI"`
}

func ptrString(v string) *string { return &v }

// EmptyCoverageConfig returns a CoverageConfig with all fields set to nil.
func EmptyCoverageConfig() *CoverageConfig {
	return &CoverageConfig{}
}

// LoadConfig loads a CoverageConfig from a .json or .toml file no larger
// than 1MB. Fields omitted from the file keep their defaults.
func LoadConfig(path string) (*CoverageConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".toml" {
		return nil, fmt.Errorf("config file must have .json or .toml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyCoverageConfig()
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config TOML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from COVERAGE_* environment variables. Unset
// variables leave the current value alone.
func (c *CoverageConfig) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}
	set := func(dst **string, v string) {
		if v != "" {
			*dst = ptrString(v)
		}
	}
	set(&c.Listen, o.Listen)
	set(&c.DBPath, o.DBPath)
	set(&c.Store, o.Store)
	set(&c.LogLevel, o.LogLevel)
	set(&c.RedisAddr, o.RedisAddr)
	set(&c.MongoURI, o.MongoURI)
	return c.Validate()
}

// Validate checks that the configuration values are usable.
func (c *CoverageConfig) Validate() error {
	if c.CellSizeM != nil && *c.CellSizeM <= 0 {
		return fmt.Errorf("%w: cell_size_m must be positive, got %g", ErrInvalidConfig, *c.CellSizeM)
	}

	b := c.GetBounds()
	if b.LonMin >= b.LonMax || b.LatMin >= b.LatMax {
		return fmt.Errorf("%w: empty grid bounds %+v", ErrInvalidConfig, b)
	}

	switch s := c.GetStore(); s {
	case StoreMemory, StoreSQLite, StoreRedis, StoreMongo:
	default:
		return fmt.Errorf("%w: unknown store %q", ErrInvalidConfig, s)
	}

	for name, v := range map[string]*string{
		"class_a_interval": c.ClassAInterval,
		"class_b_interval": c.ClassBInterval,
		"max_gap":          c.MaxGap,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("%w: invalid %s '%s': %v", ErrInvalidConfig, name, *v, err)
		}
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, name, d)
		}
	}

	if c.SerialParity != nil {
		switch *c.SerialParity {
		case "", "none", "odd", "even", "mark", "space":
		default:
			return fmt.Errorf("%w: unknown serial_parity %q", ErrInvalidConfig, *c.SerialParity)
		}
	}
	return nil
}

// GetBounds returns the grid bounding box, the whole globe by default.
func (c *CoverageConfig) GetBounds() geogrid.Bounds {
	b := geogrid.Bounds{LonMin: -180, LatMin: -90, LonMax: 180, LatMax: 90}
	if c.LonMin != nil {
		b.LonMin = *c.LonMin
	}
	if c.LatMin != nil {
		b.LatMin = *c.LatMin
	}
	if c.LonMax != nil {
		b.LonMax = *c.LonMax
	}
	if c.LatMax != nil {
		b.LatMax = *c.LatMax
	}
	return b
}

// GetCellSizeM returns the cell_size_m value or the default.
func (c *CoverageConfig) GetCellSizeM() float64 {
	if c.CellSizeM == nil {
		return 2500
	}
	return *c.CellSizeM
}

// Grid builds the equal-area grid described by the configuration.
func (c *CoverageConfig) Grid() (*geogrid.Grid, error) {
	b := c.GetBounds()
	return geogrid.New(b.LonMin, b.LatMin, b.LonMax, b.LatMax, c.GetCellSizeM())
}

func stringOr(p *string, def string) string {
	if p == nil || *p == "" {
		return def
	}
	return *p
}

func durationOr(p *string, def time.Duration) time.Duration {
	if p == nil || *p == "" {
		return def
	}
	d, err := time.ParseDuration(*p)
	if err != nil {
		return def // default on parse error
	}
	return d
}

// GetStore returns the store backend name or the default.
func (c *CoverageConfig) GetStore() string { return stringOr(c.Store, StoreMemory) }

// GetDBPath returns the sqlite path or the default.
func (c *CoverageConfig) GetDBPath() string { return stringOr(c.DBPath, "coverage.db") }

// GetRedisAddr returns the redis address or the default.
func (c *CoverageConfig) GetRedisAddr() string { return stringOr(c.RedisAddr, "localhost:6379") }

// GetMongoURI returns the mongo connection string or the default.
func (c *CoverageConfig) GetMongoURI() string {
	return stringOr(c.MongoURI, "mongodb://localhost:27017")
}

// GetMongoDatabase returns the mongo database name or the default.
func (c *CoverageConfig) GetMongoDatabase() string { return stringOr(c.MongoDatabase, "coverage") }

// GetListen returns the HTTP listen address or the default.
func (c *CoverageConfig) GetListen() string { return stringOr(c.Listen, ":8090") }

// GetUDPListen returns the NMEA UDP listen address; empty disables it.
func (c *CoverageConfig) GetUDPListen() string { return stringOr(c.UDPListen, "") }

// GetSerialPort returns the serial device path; empty disables it.
func (c *CoverageConfig) GetSerialPort() string { return stringOr(c.SerialPort, "") }

// GetSerialBaudRate returns the baud rate, 38400 for AIS receivers by default.
func (c *CoverageConfig) GetSerialBaudRate() int {
	if c.SerialBaudRate == nil {
		return 38400
	}
	return *c.SerialBaudRate
}

// GetSerialDataBits returns the data bits or the default.
func (c *CoverageConfig) GetSerialDataBits() int {
	if c.SerialDataBits == nil {
		return 8
	}
	return *c.SerialDataBits
}

// GetSerialStopBits returns the stop bits or the default.
func (c *CoverageConfig) GetSerialStopBits() int {
	if c.SerialStopBits == nil {
		return 1
	}
	return *c.SerialStopBits
}

// GetSerialParity returns the parity name or the default.
func (c *CoverageConfig) GetSerialParity() string { return stringOr(c.SerialParity, "none") }

// GetClassAInterval returns the expected class A reporting interval.
func (c *CoverageConfig) GetClassAInterval() time.Duration {
	return durationOr(c.ClassAInterval, 10*time.Second)
}

// GetClassBInterval returns the expected class B reporting interval.
func (c *CoverageConfig) GetClassBInterval() time.Duration {
	return durationOr(c.ClassBInterval, 30*time.Second)
}

// GetMaxGap returns the gap above which a silent ship is not counted as missed.
func (c *CoverageConfig) GetMaxGap() time.Duration {
	return durationOr(c.MaxGap, 10*time.Minute)
}

// GetLogLevel returns the log level or the default.
func (c *CoverageConfig) GetLogLevel() string { return stringOr(c.LogLevel, "info") }

// SourceName returns the display name configured for a source id, or the id.
func (c *CoverageConfig) SourceName(id string) string {
	if name, ok := c.Sources[id]; ok && name != "" {
		return name
	}
	return id
}

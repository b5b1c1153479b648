package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/tinyrecord/kv/lock"
)

const (
	EngineMemory = "memory"
	EngineBadger = "badger"
	EngineMSSQL  = "mssql"
)

const (
	// WidenRow adopts the whole fetched row into the load spec after a JIT load.
	WidenRow = "row"
	// WidenColumn adds only the accessed column to the load spec after a JIT load.
	WidenColumn = "column"
)

// Duration is a TOML wrapper type for time.Duration.
type Duration time.Duration

func (d Duration) String() string { return time.Duration(d).String() }

// UnmarshalText parses a TOML value into a duration value.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	LogLevel string `toml:"log-level"`

	// LockingMode is "tri-state" or the legacy "two-state".
	LockingMode string `toml:"locking-mode"`
	// LockTimeout bounds every wait for a row lock. Zero waits until the request is cancelled.
	LockTimeout Duration `toml:"lock-timeout"`
	// JITWidening is "row" or "column".
	JITWidening string `toml:"jit-widening"`

	Engine string `toml:"engine"`
	DBPath string `toml:"db-path"` // Directory to store the data in. Should exist and be writable.
	DSN    string `toml:"dsn"`     // Connection string of the mssql engine.
	// SyncWrites makes the badger engine sync every commit to disk.
	SyncWrites bool `toml:"sync-writes"`
}

func (c *Config) Validate() error {
	if _, err := lock.ParseMode(c.LockingMode); err != nil {
		return err
	}
	switch c.JITWidening {
	case WidenRow, WidenColumn:
	default:
		return fmt.Errorf("unknown jit widening %q", c.JITWidening)
	}
	switch c.Engine {
	case EngineMemory:
	case EngineBadger:
		if c.DBPath == "" {
			return fmt.Errorf("badger engine needs a db path")
		}
	case EngineMSSQL:
		if c.DSN == "" {
			return fmt.Errorf("mssql engine needs a dsn")
		}
	default:
		return fmt.Errorf("unknown engine %q", c.Engine)
	}
	if c.LockTimeout < 0 {
		return fmt.Errorf("lock timeout must not be negative")
	}
	if c.LockTimeout == 0 {
		log.Warnf("Lock timeout is disabled, a blocked request waits until it is cancelled.")
	}
	return nil
}

// Mode returns the parsed locking mode. The config must have been validated.
func (c *Config) Mode() lock.Mode {
	m, _ := lock.ParseMode(c.LockingMode)
	return m
}

// LoadFile decodes the TOML file at path over the default config.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, err
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:    getLogLevel(),
		LockingMode: lock.TriState.String(),
		LockTimeout: Duration(10 * time.Second),
		JITWidening: WidenRow,
		Engine:      EngineBadger,
		DBPath:      "/tmp/tinyrecord",
		SyncWrites:  true,
	}
}

func NewTestConfig() *Config {
	return &Config{
		LogLevel:    getLogLevel(),
		LockingMode: lock.TriState.String(),
		LockTimeout: Duration(50 * time.Millisecond),
		JITWidening: WidenRow,
		Engine:      EngineMemory,
	}
}

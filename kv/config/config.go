package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Connor1996/badger"
	"github.com/docker/go-units"
	"github.com/pingcap-incubator/txnkv/kv/util/engine_util"
	"github.com/pingcap/errors"
)

type Config struct {
	DBPath string `toml:"db-path"` // Directory to store the data in. Should exist and be writable.

	// Column families, addressed by their index in this list. The set is fixed once the database is open.
	ColumnFamilies []string `toml:"column-families"`

	SyncWrites bool `toml:"sync-writes"`
	// Sizes accept human readable units, e.g. "64MB".
	ValueLogFileSize string `toml:"value-log-file-size"`
	MaxTableSize     string `toml:"max-table-size"`

	// How long a pessimistic transaction waits for a key held by another transaction.
	LockTimeout Duration `toml:"lock-timeout"`

	LogLevel   string `toml:"log-level"`
	LogFile    string `toml:"log-file"`
	StatusAddr string `toml:"status-addr"` // Serves /metrics when set.
}

// Duration is a time.Duration which decodes from TOML strings like "500ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

var logLevels = map[string]struct{}{
	"debug": {}, "info": {}, "warn": {}, "error": {}, "fatal": {},
}

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db-path must be set")
	}
	if len(c.ColumnFamilies) == 0 {
		return fmt.Errorf("at least one column family is required")
	}
	seen := make(map[string]struct{}, len(c.ColumnFamilies))
	for _, cf := range c.ColumnFamilies {
		if cf == "" {
			return fmt.Errorf("column family name must not be empty")
		}
		// '_' separates the column family from the key in the engine keyspace.
		if strings.ContainsRune(cf, '_') {
			return fmt.Errorf("column family name %q must not contain '_'", cf)
		}
		if _, ok := seen[cf]; ok {
			return fmt.Errorf("duplicated column family %q", cf)
		}
		seen[cf] = struct{}{}
	}
	if c.LockTimeout.Duration < 0 {
		return fmt.Errorf("lock-timeout must not be negative")
	}
	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		return fmt.Errorf("unknown log-level %q", c.LogLevel)
	}
	if _, err := parseSize(c.ValueLogFileSize); err != nil {
		return errors.Annotate(err, "value-log-file-size")
	}
	if _, err := parseSize(c.MaxTableSize); err != nil {
		return errors.Annotate(err, "max-table-size")
	}
	return nil
}

// BadgerOptions derives the engine options for this configuration.
func (c *Config) BadgerOptions() (badger.Options, error) {
	opts := badger.DefaultOptions
	opts.Dir = c.DBPath
	opts.ValueDir = c.DBPath
	opts.SyncWrites = c.SyncWrites
	vlogSize, err := parseSize(c.ValueLogFileSize)
	if err != nil {
		return opts, errors.Annotate(err, "value-log-file-size")
	}
	if vlogSize > 0 {
		opts.ValueLogFileSize = vlogSize
	}
	tableSize, err := parseSize(c.MaxTableSize)
	if err != nil {
		return opts, errors.Annotate(err, "max-table-size")
	}
	if tableSize > 0 {
		opts.MaxTableSize = tableSize
	}
	return opts, nil
}

func parseSize(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(s)
	if err != nil {
		return 0, errors.WithStack(err)
	}
	if n < 0 {
		return 0, fmt.Errorf("size %q must not be negative", s)
	}
	return n, nil
}

// LoadFile reads a TOML configuration on top of the defaults.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, conf); err != nil {
		return nil, errors.Annotatef(err, "load config %s", path)
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
		DBPath:           "/tmp/txnkv",
		ColumnFamilies:   []string{engine_util.CfDefault, engine_util.CfWrite, engine_util.CfLock},
		SyncWrites:       true,
		ValueLogFileSize: "256MB",
		MaxTableSize:     "64MB",
		LockTimeout:      NewDuration(time.Second),
		LogLevel:         getLogLevel(),
	}
}

func NewTestConfig() *Config {
	return &Config{
		DBPath:           "/tmp/txnkv-test",
		ColumnFamilies:   []string{engine_util.CfDefault, engine_util.CfWrite, engine_util.CfLock},
		ValueLogFileSize: "16MB",
		MaxTableSize:     "8MB",
		LockTimeout:      NewDuration(100 * time.Millisecond),
		LogLevel:         getLogLevel(),
	}
}

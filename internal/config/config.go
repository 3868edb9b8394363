// Package config loads run settings from flags, RESEXTRACTOR_* environment variables and an
// optional resextractor.yaml.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"resextractor/internal/classify"
)

const EnvPrefix = "RESEXTRACTOR"

// Isolation modes.
const (
	IsolationProcess   = "process"
	IsolationInProcess = "inprocess"
)

// Keys shared by flags and the config file.
const (
	KeyParallelism     = "parallelism"
	KeySeparateFolders = "separate_folders"
	KeyIsolation       = "isolation"
	KeyWorkerTimeout   = "worker_timeout"
	KeyStringThreshold = "string_threshold"
	KeyLockDir         = "lock_dir"
	KeyMaxPath         = "max_path"
	KeyLogFile         = "log_file"
	KeyReport          = "report"
	KeyVerbose         = "verbose"
	KeyPlain           = "plain"
)

type Config struct {
	Parallelism     int           `mapstructure:"parallelism"`
	SeparateFolders bool          `mapstructure:"separate_folders"`
	Isolation       string        `mapstructure:"isolation"`
	WorkerTimeout   time.Duration `mapstructure:"worker_timeout"`
	StringThreshold int           `mapstructure:"string_threshold"`
	LockDir         string        `mapstructure:"lock_dir"`
	MaxPath         int           `mapstructure:"max_path"`
	LogFile         string        `mapstructure:"log_file"`
	Report          string        `mapstructure:"report"`
	Verbose         bool          `mapstructure:"verbose"`
	Plain           bool          `mapstructure:"plain"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyParallelism, 0)
	v.SetDefault(KeySeparateFolders, true)
	v.SetDefault(KeyIsolation, IsolationProcess)
	v.SetDefault(KeyWorkerTimeout, 5*time.Minute)
	v.SetDefault(KeyStringThreshold, classify.DefaultStringThreshold)
	v.SetDefault(KeyLockDir, "")
	v.SetDefault(KeyMaxPath, 0)
	v.SetDefault(KeyLogFile, "")
	v.SetDefault(KeyReport, "")
	v.SetDefault(KeyVerbose, false)
	v.SetDefault(KeyPlain, false)
}

// Init prepares v: defaults, environment binding and the config file search path. A missing
// config file is not an error.
func Init(v *viper.Viper, file string) error {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("resextractor")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "resextractor"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file == "" && errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "unable to read config")
	}
	return nil
}

// BindFlags binds config keys to the flags of the same name, spelled with "-" for "_".
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys ...string) error {
	for _, key := range keys {
		name := strings.ReplaceAll(key, "_", "-")
		flag := flags.Lookup(name)
		if flag == nil {
			return errors.Errorf("no flag %q for config key %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return errors.Wrapf(err, "unable to bind flag %s", name)
		}
	}
	return nil
}

// Load decodes v and checks the values.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "unable to decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	switch c.Isolation {
	case IsolationProcess, IsolationInProcess:
	default:
		return errors.Errorf("unknown isolation mode %q", c.Isolation)
	}
	if c.Parallelism < 0 {
		return errors.Errorf("parallelism must not be negative, got %d", c.Parallelism)
	}
	if c.WorkerTimeout < 0 {
		return errors.Errorf("worker timeout must not be negative, got %s", c.WorkerTimeout)
	}
	if c.StringThreshold <= 0 {
		c.StringThreshold = classify.DefaultStringThreshold
	}
	return nil
}

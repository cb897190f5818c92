package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings are the process level options of the repoman daemon and CLI.
type Settings struct {
	DataDir        string        `mapstructure:"data_dir"`
	ConfigFile     string        `mapstructure:"config_file"`
	FactsDB        string        `mapstructure:"facts_db"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	LogLevel       int           `mapstructure:"log_level"`
	WatchConfig    bool          `mapstructure:"watch_config"`
	Fetch          FetchSettings `mapstructure:"fetch"`
	ResolveWorkers int           `mapstructure:"resolve_workers"`
}

// FetchSettings tune the HTTP transport used for remote repositories.
type FetchSettings struct {
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
	BaseDelay  time.Duration `mapstructure:"base_delay"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	return &Settings{
		DataDir:     "./data",
		MetricsAddr: ":9464",
		WatchConfig: true,
		Fetch: FetchSettings{
			Timeout:    60 * time.Second,
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			UserAgent:  "repoman/1.0",
		},
		ResolveWorkers: 8,
	}
}

// SettingsLoader reads Settings from an optional file, REPOMAN_* environment
// variables and bound command line flags, in increasing precedence.
type SettingsLoader struct {
	v    *viper.Viper
	path string
}

// NewSettingsLoader creates a loader with the environment already bound.
func NewSettingsLoader() *SettingsLoader {
	v := viper.New()
	v.SetEnvPrefix("REPOMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return &SettingsLoader{v: v}
}

// WithFile sets an explicit settings file.
func (l *SettingsLoader) WithFile(path string) *SettingsLoader {
	l.path = path
	return l
}

// BindFlag binds a command line flag to a settings key.
func (l *SettingsLoader) BindFlag(key string, flag *pflag.Flag) error {
	if flag == nil {
		return fmt.Errorf("binding %s: flag not defined", key)
	}
	return l.v.BindPFlag(key, flag)
}

// Load resolves the settings.
func (l *SettingsLoader) Load() (*Settings, error) {
	l.setDefaults()

	if l.path != "" {
		l.v.SetConfigFile(l.path)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading settings %s: %w", l.path, err)
		}
	} else {
		l.v.SetConfigName("repoman")
		l.v.AddConfigPath(".")
		if err := l.v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading settings: %w", err)
			}
		}
	}

	s := &Settings{}
	if err := l.v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if s.ConfigFile == "" {
		s.ConfigFile = filepath.Join(s.DataDir, "repositories.yaml")
	}
	if s.FactsDB == "" {
		s.FactsDB = filepath.Join(s.DataDir, "facts.db")
	}
	if s.ResolveWorkers <= 0 {
		s.ResolveWorkers = 1
	}
	return s, nil
}

func (l *SettingsLoader) setDefaults() {
	d := DefaultSettings()
	l.v.SetDefault("data_dir", d.DataDir)
	l.v.SetDefault("config_file", d.ConfigFile)
	l.v.SetDefault("facts_db", d.FactsDB)
	l.v.SetDefault("metrics_addr", d.MetricsAddr)
	l.v.SetDefault("log_level", d.LogLevel)
	l.v.SetDefault("watch_config", d.WatchConfig)
	l.v.SetDefault("resolve_workers", d.ResolveWorkers)
	l.v.SetDefault("fetch.timeout", d.Fetch.Timeout)
	l.v.SetDefault("fetch.max_retries", d.Fetch.MaxRetries)
	l.v.SetDefault("fetch.base_delay", d.Fetch.BaseDelay)
	l.v.SetDefault("fetch.user_agent", d.Fetch.UserAgent)
}

package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. CALEVENTS_TIMEZONE or
// CALEVENTS_AGENDA_UPCOMING.
const EnvPrefix = "CALEVENTS"

// LogConfig selects the logger level and encoding.
type LogConfig struct {
	// Level is one of "debug", "info", "error".
	Level string `mapstructure:"level" yaml:"level" json:"level"`
	// Format is "console" or "json".
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

// AgendaConfig drives the watch daemon.
type AgendaConfig struct {
	// Refresh is a cron spec (e.g. "*/15 * * * *").
	Refresh string `mapstructure:"refresh" yaml:"refresh" json:"refresh"`
	// Upcoming is how many occurrences each refresh keeps.
	Upcoming int `mapstructure:"upcoming" yaml:"upcoming" json:"upcoming"`
	// Calendar is the slug to watch; empty watches every event.
	Calendar string `mapstructure:"calendar" yaml:"calendar" json:"calendar"`
}

// Config is the top-level application configuration.
type Config struct {
	// Timezone is the IANA zone used for day/week/month boundaries.
	Timezone string `mapstructure:"timezone" yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `mapstructure:"week_start" yaml:"week_start" json:"week_start"`

	// DataFile is the YAML snapshot holding calendars, events and overrides.
	// A relative path is resolved against the config file's directory.
	DataFile string `mapstructure:"data_file" yaml:"data_file" json:"data_file"`

	ShowCancelledOccurrences bool `mapstructure:"show_cancelled_occurrences" yaml:"show_cancelled_occurrences" json:"show_cancelled_occurrences"`

	// DefaultRuleID is preselected when creating events.
	DefaultRuleID int64 `mapstructure:"default_rule_id" yaml:"default_rule_id" json:"default_rule_id"`

	// EventRelationModels and CalendarRelationModels list the "app.model"
	// type tags that may be attached to events and calendars.
	EventRelationModels    []string `mapstructure:"event_relation_models" yaml:"event_relation_models" json:"event_relation_models"`
	CalendarRelationModels []string `mapstructure:"calendar_relation_models" yaml:"calendar_relation_models" json:"calendar_relation_models"`

	// OccurrenceCancelRedirect is reported after an occurrence is cancelled.
	OccurrenceCancelRedirect string `mapstructure:"occurrence_cancel_redirect" yaml:"occurrence_cancel_redirect" json:"occurrence_cancel_redirect"`

	Log    LogConfig    `mapstructure:"log" yaml:"log" json:"log"`
	Agenda AgendaConfig `mapstructure:"agenda" yaml:"agenda" json:"agenda"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Timezone:               "UTC",
		WeekStart:              "monday",
		DataFile:               "calevents-data.yaml",
		DefaultRuleID:          1,
		EventRelationModels:    []string{},
		CalendarRelationModels: []string{},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Agenda: AgendaConfig{
			Refresh:  "*/15 * * * *",
			Upcoming: 10,
		},
	}
}

// Normalize fills in missing or invalid values so that partially-filled
// configs still behave.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = def.Timezone
	}
	c.WeekStart = strings.ToLower(strings.TrimSpace(c.WeekStart))
	if c.WeekStart != "monday" && c.WeekStart != "sunday" {
		c.WeekStart = def.WeekStart
	}
	if strings.TrimSpace(c.DataFile) == "" {
		c.DataFile = def.DataFile
	}
	if c.DefaultRuleID < 0 {
		c.DefaultRuleID = def.DefaultRuleID
	}
	if c.EventRelationModels == nil {
		c.EventRelationModels = []string{}
	}
	if c.CalendarRelationModels == nil {
		c.CalendarRelationModels = []string{}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "error":
		c.Log.Level = strings.ToLower(c.Log.Level)
	default:
		c.Log.Level = def.Log.Level
	}
	if c.Log.Format != "json" {
		c.Log.Format = def.Log.Format
	}

	if strings.TrimSpace(c.Agenda.Refresh) == "" {
		c.Agenda.Refresh = def.Agenda.Refresh
	}
	if c.Agenda.Upcoming <= 0 {
		c.Agenda.Upcoming = def.Agenda.Upcoming
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.Wrapf(err, "config: timezone %q", c.Timezone)
	}
	for _, list := range [][]string{c.EventRelationModels, c.CalendarRelationModels} {
		for _, m := range list {
			app, model, ok := strings.Cut(m, ".")
			if !ok || app == "" || model == "" || strings.Contains(model, ".") {
				return errors.Errorf("config: relation model %q is not of the form app.model", m)
			}
		}
	}
	return nil
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// FirstWeekday maps WeekStart onto a time.Weekday.
func (c *Config) FirstWeekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// Load reads configuration from the YAML file at path, layered under
// CALEVENTS_* environment overrides and over built-in defaults.
//
// On first run (file missing) the defaults are written to path with 0600
// permissions and returned, still subject to environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, errors.Wrap(err, "config: stat")
		}
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, errors.Wrap(err, "config: write defaults")
		}
	}

	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "config: read %s", path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "config: decode")
	}
	cfg.Normalize()
	if !filepath.IsAbs(cfg.DataFile) {
		cfg.DataFile = filepath.Join(filepath.Dir(path), cfg.DataFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultConfig()
	v.SetDefault("timezone", def.Timezone)
	v.SetDefault("week_start", def.WeekStart)
	v.SetDefault("data_file", def.DataFile)
	v.SetDefault("show_cancelled_occurrences", def.ShowCancelledOccurrences)
	v.SetDefault("default_rule_id", def.DefaultRuleID)
	v.SetDefault("event_relation_models", def.EventRelationModels)
	v.SetDefault("calendar_relation_models", def.CalendarRelationModels)
	v.SetDefault("occurrence_cancel_redirect", def.OccurrenceCancelRedirect)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.format", def.Log.Format)
	v.SetDefault("agenda.refresh", def.Agenda.Refresh)
	v.SetDefault("agenda.upcoming", def.Agenda.Upcoming)
	v.SetDefault("agenda.calendar", def.Agenda.Calendar)
	return v
}

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "config: encode")
	}
	return WriteFileAtomic(path, ".calevents-config-*.tmp", data)
}

// Save delegates to the package-level Save.
func (c *Config) Save(path string) error {
	return Save(path, c)
}

// WriteFileAtomic writes data next to path under a temporary name matching
// pattern, then renames it into place with 0600 permissions.
func WriteFileAtomic(path, pattern string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.Wrap(err, "mkdir")
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return errors.Wrap(err, "create temp")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "write temp")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temp")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temp")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrap(err, "chmod temp")
	}
	return errors.Wrap(os.Rename(tmpName, path), "rename")
}

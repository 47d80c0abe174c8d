// Package config loads apisurface settings from apisurface.toml, a .env
// file and APISURFACE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/dshills/apisurface/internal/classifier"
	"github.com/dshills/apisurface/internal/gitrepo"
	"github.com/dshills/apisurface/internal/ownership"
	"github.com/dshills/apisurface/internal/resolver"
	"github.com/dshills/apisurface/internal/snapshot"
	"github.com/dshills/apisurface/pkg/types"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "APISURFACE"

// HostConfig is one extraction pass over the work tree.
type HostConfig struct {
	Name     string   `mapstructure:"name"`
	Include  []string `mapstructure:"include"`
	Exclude  []string `mapstructure:"exclude"`
	BaseDirs []string `mapstructure:"base_dirs"`
	// Aliases are "prefix=dir" pairs. Viper folds map keys to lower case,
	// so case-sensitive keys are written as lists.
	Aliases []string `mapstructure:"aliases"`
}

type OwnershipConfig struct {
	CodeOwners     string   `mapstructure:"codeowners"`
	Manifest       string   `mapstructure:"manifest"`
	CoreDir        string   `mapstructure:"core_dir"`
	CoreUnit       string   `mapstructure:"core_unit"`
	Skip           []string `mapstructure:"skip"`
	MaxNestedDepth int      `mapstructure:"max_nested_depth"`
	CacheSize      int      `mapstructure:"cache_size"`
}

type ClassifyConfig struct {
	IndexFiles  []string `mapstructure:"index_files"`
	PluginFiles []string `mapstructure:"plugin_files"`
	// CoreContracts are "Interface=stage" pairs, e.g. "CoreStart=start".
	CoreContracts []string `mapstructure:"core_contracts"`
}

type ResolveConfig struct {
	Workers int `mapstructure:"workers"`
}

type PersistConfig struct {
	BatchSize int `mapstructure:"batch_size"`
}

// Config is the full application configuration.
type Config struct {
	Repo          string          `mapstructure:"repo"`      // owner/name
	RepoPath      string          `mapstructure:"repo_path"` // local work tree
	Remote        string          `mapstructure:"remote"`    // cloned into repo_path when it does not exist
	Branch        string          `mapstructure:"branch"`
	DBPath        string          `mapstructure:"db_path"`
	CheckoutDates Dates           `mapstructure:"checkout_dates"`
	LogLevel      string          `mapstructure:"log_level"`
	Force         bool            `mapstructure:"force"`
	Hosts         []HostConfig    `mapstructure:"hosts"`
	Ownership     OwnershipConfig `mapstructure:"ownership"`
	Classify      ClassifyConfig  `mapstructure:"classify"`
	Resolve       ResolveConfig   `mapstructure:"resolve"`
	Persist       PersistConfig   `mapstructure:"persist"`
}

// dataBase returns the base data directory for apisurface.
// Checks XDG_DATA_HOME, then ~/.local/share, then the temp dir as fallback.
func dataBase() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "apisurface")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "apisurface")
	}
	return filepath.Join(os.TempDir(), "apisurface")
}

// DefaultDBPath is the database used when db_path is not set.
func DefaultDBPath() string {
	return filepath.Join(dataBase(), "apisurface.db")
}

func newViper(file string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("toml")
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("apisurface")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "apisurface"))
		} else if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "apisurface"))
		}
	}

	def := ownership.DefaultOptions()
	v.SetDefault("repo", "elastic/kibana")
	v.SetDefault("repo_path", ".")
	v.SetDefault("remote", "")
	v.SetDefault("branch", "")
	v.SetDefault("force", false)
	v.SetDefault("db_path", DefaultDBPath())
	v.SetDefault("checkout_dates", []string{""})
	v.SetDefault("log_level", "info")
	v.SetDefault("ownership.codeowners", def.CodeOwners)
	v.SetDefault("ownership.manifest", def.Manifest)
	v.SetDefault("ownership.core_dir", def.CoreDir)
	v.SetDefault("ownership.core_unit", def.CoreUnit)
	v.SetDefault("ownership.skip", def.Skip)
	v.SetDefault("ownership.max_nested_depth", def.MaxNestedDepth)
	v.SetDefault("ownership.cache_size", def.CacheSize)
	v.SetDefault("classify.index_files", classifier.DefaultIndexFiles)
	v.SetDefault("classify.plugin_files", classifier.DefaultPluginFiles)
	v.SetDefault("resolve.workers", 1)
	v.SetDefault("persist.batch_size", 500)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// CHECKOUT_DATES is accepted unprefixed for existing crawl scripts.
	if err := v.BindEnv("checkout_dates", EnvPrefix+"_CHECKOUT_DATES", "CHECKOUT_DATES"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return v, nil
}

// Dates are checkout dates. "" designates the branch tip.
type Dates []string

// stringToDatesHookFunc splits a comma separated date list. "latest" and
// empty entries designate the branch tip.
func stringToDatesHookFunc() mapstructure.DecodeHookFunc {
	return func(f, t reflect.Type, data interface{}) (interface{}, error) {
		if t != reflect.TypeOf(Dates{}) {
			return data, nil
		}
		if f.Kind() == reflect.String {
			return parseDates(data.(string)), nil
		}
		return data, nil
	}
}

func parseDates(s string) Dates {
	parts := strings.Split(s, ",")
	out := make(Dates, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if strings.EqualFold(p, "latest") {
			p = ""
		}
		out = append(out, p)
	}
	return out
}

// Load reads the configuration. file overrides the search path; a missing
// explicit file is an error, a missing apisurface.toml is not. A .env file in
// the working directory is loaded first without overriding the environment.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v, err := newViper(file)
	if err != nil {
		return nil, err
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			stringToDatesHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		Result:           &cfg,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration is usable.
func (c *Config) Validate() error {
	owner, name, ok := strings.Cut(c.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("repo must be owner/name, got %q", c.Repo)
	}
	if c.RepoPath == "" {
		return errors.New("repo_path is required")
	}
	if c.DBPath == "" {
		return errors.New("db_path is required")
	}
	for _, d := range c.CheckoutDates {
		if d == "" {
			continue
		}
		if _, err := gitrepo.ParseDate(d); err != nil {
			return fmt.Errorf("checkout_dates: %w", err)
		}
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		if h.Name == "" {
			return fmt.Errorf("hosts[%d]: name is required", i)
		}
		if seen[h.Name] {
			return fmt.Errorf("hosts[%d]: duplicate name %q", i, h.Name)
		}
		seen[h.Name] = true
		if _, err := pairs(h.Aliases); err != nil {
			return fmt.Errorf("hosts[%d].aliases: %w", i, err)
		}
	}
	if _, err := c.coreContracts(); err != nil {
		return err
	}
	if c.Resolve.Workers < 0 {
		return errors.New("resolve.workers must not be negative")
	}
	if c.Persist.BatchSize < 0 {
		return errors.New("persist.batch_size must not be negative")
	}
	return nil
}

// pairs parses "key=value" entries.
func pairs(list []string) (map[string]string, error) {
	if len(list) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(list))
	for _, p := range list {
		k, v, ok := strings.Cut(p, "=")
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		if !ok || k == "" || v == "" {
			return nil, fmt.Errorf("%q is not key=value", p)
		}
		out[k] = v
	}
	return out, nil
}

func (c *Config) coreContracts() (map[string]types.Stage, error) {
	m, err := pairs(c.Classify.CoreContracts)
	if err != nil {
		return nil, fmt.Errorf("classify.core_contracts: %w", err)
	}
	if m == nil {
		return nil, nil
	}
	out := make(map[string]types.Stage, len(m))
	for name, stage := range m {
		s := types.Stage(stage)
		if s == types.StageNone || s.Validate() != nil {
			return nil, fmt.Errorf("classify.core_contracts: %s: stage must be setup or start, got %q", name, stage)
		}
		out[name] = s
	}
	return out, nil
}

// Level parses log_level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// CoordinatorOptions maps the configuration onto the snapshot coordinator.
func (c *Config) CoordinatorOptions(logger *slog.Logger) snapshot.Options {
	hosts := make([]snapshot.HostConfig, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		aliases, _ := pairs(h.Aliases)
		hosts = append(hosts, snapshot.HostConfig{
			Name:     h.Name,
			Include:  h.Include,
			Exclude:  h.Exclude,
			BaseDirs: h.BaseDirs,
			Aliases:  aliases,
		})
	}
	contracts, _ := c.coreContracts()

	return snapshot.Options{
		Repo:      c.Repo,
		Dates:     c.CheckoutDates,
		Hosts:     hosts,
		Force:     c.Force,
		BatchSize: c.Persist.BatchSize,
		Classifier: classifier.Options{
			IndexFiles:    c.Classify.IndexFiles,
			PluginFiles:   c.Classify.PluginFiles,
			CoreUnit:      c.Ownership.CoreUnit,
			CoreContracts: contracts,
			Logger:        logger,
		},
		Resolver: resolver.Options{Workers: c.Resolve.Workers, Logger: logger},
		Ownership: ownership.Options{
			CodeOwners:     c.Ownership.CodeOwners,
			Manifest:       c.Ownership.Manifest,
			CoreDir:        c.Ownership.CoreDir,
			CoreUnit:       c.Ownership.CoreUnit,
			Skip:           c.Ownership.Skip,
			MaxNestedDepth: c.Ownership.MaxNestedDepth,
			CacheSize:      c.Ownership.CacheSize,
			Logger:         logger,
		},
		Logger: logger,
	}
}

// RepoOptions configures the git work tree handle.
func (c *Config) RepoOptions(logger *slog.Logger) gitrepo.Options {
	return gitrepo.Options{Branch: c.Branch, Logger: logger}
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/apisurface/pkg/types"
)

// isolate runs the test in an empty directory with no user config.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))
	for _, key := range []string{"CHECKOUT_DATES", "APISURFACE_CHECKOUT_DATES", "APISURFACE_LOG_LEVEL", "APISURFACE_REPO"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "elastic/kibana", cfg.Repo)
	assert.Equal(t, ".", cfg.RepoPath)
	assert.Equal(t, filepath.Join(dir, "data", "apisurface", "apisurface.db"), cfg.DBPath)
	assert.Equal(t, Dates{""}, cfg.CheckoutDates)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "kibana.json", cfg.Ownership.Manifest)
	assert.Equal(t, ".github/CODEOWNERS", cfg.Ownership.CodeOwners)
	assert.Equal(t, 1, cfg.Resolve.Workers)
	assert.Equal(t, 500, cfg.Persist.BatchSize)
	assert.NotEmpty(t, cfg.Classify.IndexFiles)
	assert.Empty(t, cfg.Hosts)
}

func TestLoad_File(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "xdg", "apisurface", "apisurface.toml"), `
repo = "acme/widgets"
checkout_dates = ["2024-01-01", ""]
log_level = "debug"

[[hosts]]
name = "oss"
exclude = ["x-pack/**"]
aliases = ["@kbn/core=src/core"]

[[hosts]]
name = "xpack"

[classify]
core_contracts = ["CoreSetup=setup", "CoreStart=start"]

[persist]
batch_size = 100
`)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "acme/widgets", cfg.Repo)
	assert.Equal(t, Dates{"2024-01-01", ""}, cfg.CheckoutDates)
	require.Len(t, cfg.Hosts, 2)
	assert.Equal(t, "oss", cfg.Hosts[0].Name)
	assert.Equal(t, []string{"x-pack/**"}, cfg.Hosts[0].Exclude)
	assert.Equal(t, 100, cfg.Persist.BatchSize)

	opts := cfg.CoordinatorOptions(nil)
	assert.Equal(t, "acme/widgets", opts.Repo)
	assert.Equal(t, []string{"2024-01-01", ""}, opts.Dates)
	require.Len(t, opts.Hosts, 2)
	assert.Equal(t, map[string]string{"@kbn/core": "src/core"}, opts.Hosts[0].Aliases)
	assert.Nil(t, opts.Hosts[1].Aliases)
	assert.Equal(t, map[string]types.Stage{"CoreSetup": types.StageSetup, "CoreStart": types.StageStart}, opts.Classifier.CoreContracts)
	assert.Equal(t, "core", opts.Classifier.CoreUnit)
	assert.Equal(t, 100, opts.BatchSize)
}

func TestLoad_ExplicitFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.toml")
	writeFile(t, path, `repo = "acme/other"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme/other", cfg.Repo)

	_, err = Load(filepath.Join(dir, "missing.toml"))
	assert.Error(t, err)
}

func TestLoad_Env(t *testing.T) {
	t.Run("prefixed", func(t *testing.T) {
		isolate(t)
		t.Setenv("APISURFACE_CHECKOUT_DATES", "2024-01-01, 2024-06-01,latest")
		t.Setenv("APISURFACE_RESOLVE_WORKERS", "4")
		t.Setenv("APISURFACE_FORCE", "true")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Dates{"2024-01-01", "2024-06-01", ""}, cfg.CheckoutDates)
		assert.Equal(t, 4, cfg.Resolve.Workers)
		assert.True(t, cfg.Force)
	})

	t.Run("unprefixed checkout dates", func(t *testing.T) {
		isolate(t)
		t.Setenv("CHECKOUT_DATES", "2023-12-31")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Dates{"2023-12-31"}, cfg.CheckoutDates)
	})

	t.Run("dotenv", func(t *testing.T) {
		dir := isolate(t)
		writeFile(t, filepath.Join(dir, ".env"), "APISURFACE_LOG_LEVEL=debug\n")

		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("invalid date", func(t *testing.T) {
		isolate(t)
		t.Setenv("APISURFACE_CHECKOUT_DATES", "yesterday")

		_, err := Load("")
		assert.ErrorContains(t, err, "checkout_dates")
	})
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Repo:          "elastic/kibana",
			RepoPath:      ".",
			DBPath:        "x.db",
			CheckoutDates: Dates{"", "2024-01-01"},
			LogLevel:      "warn",
			Hosts:         []HostConfig{{Name: "oss", Aliases: []string{"@kbn/=packages"}}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"repo without owner", func(c *Config) { c.Repo = "kibana" }, "owner/name"},
		{"repo with extra segment", func(c *Config) { c.Repo = "a/b/c" }, "owner/name"},
		{"empty repo path", func(c *Config) { c.RepoPath = "" }, "repo_path"},
		{"empty db path", func(c *Config) { c.DBPath = "" }, "db_path"},
		{"bad date", func(c *Config) { c.CheckoutDates = Dates{"01/02/2024"} }, "checkout_dates"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"unnamed host", func(c *Config) { c.Hosts = append(c.Hosts, HostConfig{}) }, "name is required"},
		{"duplicate host", func(c *Config) { c.Hosts = append(c.Hosts, HostConfig{Name: "oss"}) }, "duplicate"},
		{"bad alias", func(c *Config) { c.Hosts[0].Aliases = []string{"@kbn/"} }, "aliases"},
		{"bad contract stage", func(c *Config) { c.Classify.CoreContracts = []string{"CoreSetup=stop"} }, "setup or start"},
		{"negative workers", func(c *Config) { c.Resolve.Workers = -1 }, "workers"},
		{"negative batch", func(c *Config) { c.Persist.BatchSize = -1 }, "batch_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestParseDates(t *testing.T) {
	assert.Equal(t, Dates{""}, parseDates(""))
	assert.Equal(t, Dates{"2024-01-01", ""}, parseDates("2024-01-01, LATEST"))
}

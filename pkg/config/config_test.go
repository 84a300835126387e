package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
global:
  log_level: info
index:
  path: /srv/labrat/index.json
  results_dir: /srv/labrat/packages
  concurrency: 2
storage:
  s3:
    enabled: false
    bucket: lab-results
api:
  listen: ":9090"
`)

	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "info", cfg.Global.LogLevel)
				assert.Equal(t, "/srv/labrat/index.json", cfg.Index.Path)
				assert.Equal(t, "/srv/labrat/packages", cfg.Index.ResultsDir)
				assert.Equal(t, 2, cfg.Index.Concurrency)
				assert.Equal(t, ":9090", cfg.API.Listen)
			},
		},
		{
			name: "string override - log_level",
			envVars: map[string]string{
				"LABRAT_GLOBAL_LOG_LEVEL": "debug",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "debug", cfg.Global.LogLevel)
			},
		},
		{
			name: "nested override - index.path",
			envVars: map[string]string{
				"LABRAT_INDEX_PATH": "/tmp/index.json",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/tmp/index.json", cfg.Index.Path)
			},
		},
		{
			name: "int override - index.concurrency",
			envVars: map[string]string{
				"LABRAT_INDEX_CONCURRENCY": "8",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 8, cfg.Index.Concurrency)
			},
		},
		{
			name: "boolean override - storage.s3.enabled",
			envVars: map[string]string{
				"LABRAT_STORAGE_S3_ENABLED": "true",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Storage.S3.Enabled)
				assert.Equal(t, "lab-results", cfg.Storage.S3.Bucket)
			},
		},
		{
			name: "override of key absent from file",
			envVars: map[string]string{
				"LABRAT_INDEX_LOCK_FILE": "/run/labrat/index.lock",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/run/labrat/index.lock", cfg.Index.LockFile)
			},
		},
		{
			name: "duration override",
			envVars: map[string]string{
				"LABRAT_API_SHUTDOWN_TIMEOUT": "3s",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 3*time.Second, cfg.API.ShutdownTimeout)
			},
		},
		{
			name: "test attributes are not config",
			envVars: map[string]string{
				"LABRAT_TEST_BUILD_ID": "42",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "/srv/labrat/index.json", cfg.Index.Path)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(configPath)
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_DefaultsAppliedWhenEmpty(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultLogLevel, cfg.Global.LogLevel)
	assert.Equal(t, DefaultIndexPath, cfg.Index.Path)
	assert.Equal(t, DefaultConcurrency, cfg.Index.Concurrency)
	assert.Equal(t, DefaultS3Prefix, cfg.Storage.S3.Prefix)
	assert.Equal(t, DefaultS3IndexKey, cfg.Storage.S3.IndexKey)
	assert.Equal(t, DefaultAPIListen, cfg.API.Listen)
	assert.Equal(t, DefaultShutdownTimeout, cfg.API.ShutdownTimeout)
	assert.Equal(t, 5432, cfg.Database.Postgres.Port)
	assert.Empty(t, cfg.Machines)
	require.NoError(t, cfg.Validate())
}

func TestLoad_JSONMachinesKeepCaseAndOrder(t *testing.T) {
	configPath := writeConfig(t, "config.json", `{
  "index": {"path": "/data/index.json"},
  "machines": [
    {"hostName": "dut-1", "ip": "10.0.0.5", "Board": "rpi4", "slot": 3},
    {"hostName": "dut-2"}
  ]
}`)

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "/data/index.json", cfg.Index.Path)
	require.Len(t, cfg.Machines, 2)
	assert.Equal(t, Machine{
		{Key: "hostName", Value: "dut-1"},
		{Key: "ip", Value: "10.0.0.5"},
		{Key: "Board", Value: "rpi4"},
		{Key: "slot", Value: "3"},
	}, cfg.Machines[0])

	v, ok := cfg.Machines[1].Get("hostName")
	assert.True(t, ok)
	assert.Equal(t, "dut-2", v)

	_, ok = cfg.Machines[1].Get("ip")
	assert.False(t, ok)
}

func TestLoad_LaterFilesOverride(t *testing.T) {
	base := writeConfig(t, "base.yaml", `
index:
  path: /base/index.json
  results_dir: /base/packages
machines:
  - name: a
`)
	override := writeConfig(t, "override.yaml", `
index:
  path: /override/index.json
`)

	cfg, err := Load(base, override)
	require.NoError(t, err)

	assert.Equal(t, "/override/index.json", cfg.Index.Path)
	assert.Equal(t, "/base/packages", cfg.Index.ResultsDir)
	require.Len(t, cfg.Machines, 1)
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config file")
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "invalid: yaml: content:")

	_, err := Load(configPath)
	require.Error(t, err)
}

func TestLoad_NonScalarMachineAttribute(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
machines:
  - name: a
    ports: [1, 2]
`)

	_, err := Load(configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ports")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "negative concurrency",
			mutate:  func(c *Config) { c.Index.Concurrency = -1 },
			wantErr: "concurrency",
		},
		{
			name:    "bad owner",
			mutate:  func(c *Config) { c.Index.Owner = "root" },
			wantErr: "index.owner",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Storage.S3.Enabled = true },
			wantErr: "bucket",
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *Config) { c.Database.Driver = "sqlite" },
			wantErr: "sqlite.path",
		},
		{
			name: "sqlite with path",
			mutate: func(c *Config) {
				c.Database.Driver = "sqlite"
				c.Database.SQLite.Path = "/tmp/labrat.db"
			},
		},
		{
			name:    "unknown driver",
			mutate:  func(c *Config) { c.Database.Driver = "mysql" },
			wantErr: "unsupported database driver",
		},
		{
			name: "rate limit without budget",
			mutate: func(c *Config) {
				c.API.RateLimit.Enabled = true
				c.API.RateLimit.RequestsPerMinute = 0
			},
			wantErr: "requests_per_minute",
		},
		{
			name: "unsafe attribute name",
			mutate: func(c *Config) {
				c.Machines = []Machine{{{Key: "ip; rm -rf /", Value: "x"}}}
			},
			wantErr: "invalid attribute name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, 10, cfg.Riptide.Batch.ChunkSize)
	assert.Equal(t, 0, cfg.Riptide.Batch.Fault.SkipLimit)
	assert.Equal(t, 0, cfg.Riptide.Batch.Fault.RetryLimit)
	assert.Equal(t, 1, cfg.Riptide.Batch.Partition.GridSize)
	assert.Equal(t, 0, cfg.Riptide.Batch.Partition.Throttle)
	assert.Equal(t, "UTC", cfg.Riptide.System.Timezone)
	assert.Equal(t, "INFO", cfg.Riptide.System.Logging.Level)
}

func TestLoadConfigEmbeddedYAML(t *testing.T) {
	embedded := EmbeddedConfig(`
riptide:
  batch:
    job_name: ledger-import
    chunk_size: 50
    fault:
      skip_classes: [malformed, validation]
      skip_limit: 10
      retry_classes: [transient]
      retry_limit: 3
    partition:
      grid_size: 4
      throttle: 2
  system:
    logging:
      level: DEBUG
  security:
    masked_parameter_keys: [apiKey]
  database:
    metadata:
      type: sqlite
      path: ledger.db
      pool:
        max_open_conns: 1
`)

	cfg, err := LoadConfig("", embedded)
	require.NoError(t, err)

	assert.Equal(t, "ledger-import", cfg.Riptide.Batch.JobName)
	assert.Equal(t, 50, cfg.Riptide.Batch.ChunkSize)
	assert.Equal(t, []string{"malformed", "validation"}, cfg.Riptide.Batch.Fault.SkipClasses)
	assert.Equal(t, 10, cfg.Riptide.Batch.Fault.SkipLimit)
	assert.Equal(t, []string{"transient"}, cfg.Riptide.Batch.Fault.RetryClasses)
	assert.Equal(t, 3, cfg.Riptide.Batch.Fault.RetryLimit)
	assert.Equal(t, 4, cfg.Riptide.Batch.Partition.GridSize)
	assert.Equal(t, 2, cfg.Riptide.Batch.Partition.Throttle)
	assert.Equal(t, "DEBUG", cfg.Riptide.System.Logging.Level)
	assert.Equal(t, []string{"apiKey"}, cfg.Riptide.Security.MaskedParameterKeys)
	assert.Contains(t, cfg.Riptide.Databases, "metadata")
}

func TestLoadConfigKeepsDefaultsForOmittedKeys(t *testing.T) {
	embedded := EmbeddedConfig(`
riptide:
  batch:
    job_name: nightly
`)

	cfg, err := LoadConfig("", embedded)
	require.NoError(t, err)

	assert.Equal(t, "nightly", cfg.Riptide.Batch.JobName)
	assert.Equal(t, 10, cfg.Riptide.Batch.ChunkSize)
	assert.Equal(t, "UTC", cfg.Riptide.System.Timezone)
}

func TestLoadConfigExpandsEnvironmentPlaceholders(t *testing.T) {
	t.Setenv("RIPTIDE_TEST_DB_PATH", "/var/lib/ledger.db")

	embedded := EmbeddedConfig(`
riptide:
  database:
    metadata:
      type: sqlite
      path: ${RIPTIDE_TEST_DB_PATH}
`)

	cfg, err := LoadConfig("", embedded)
	require.NoError(t, err)

	dbCfg, err := BindDatabaseConfig(cfg, "metadata")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/ledger.db", dbCfg.Path)
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	_, err := LoadConfig("", EmbeddedConfig("riptide: [not: a: mapping"))
	assert.Error(t, err)
}

func TestBindDatabaseConfig(t *testing.T) {
	cfg := NewConfig()
	cfg.Riptide.Databases = map[string]interface{}{
		"metadata": map[string]interface{}{
			"type":     "postgres",
			"host":     "db.internal",
			"port":     5432,
			"database": "batch",
			"user":     "batch",
			"password": "secret",
			"sslmode":  "require",
			"pool": map[string]interface{}{
				"max_open_conns":            20,
				"max_idle_conns":            5,
				"conn_max_lifetime_minutes": 30,
			},
		},
	}

	dbCfg, err := BindDatabaseConfig(cfg, "metadata")
	require.NoError(t, err)

	assert.Equal(t, "postgres", dbCfg.Type)
	assert.Equal(t, "db.internal", dbCfg.Host)
	assert.Equal(t, 5432, dbCfg.Port)
	assert.Equal(t, "batch", dbCfg.Database)
	assert.Equal(t, "require", dbCfg.Sslmode)
	assert.Equal(t, 20, dbCfg.Pool.MaxOpenConns)
	assert.Equal(t, 5, dbCfg.Pool.MaxIdleConns)
	assert.Equal(t, 30, dbCfg.Pool.ConnMaxLifetimeMinutes)
}

func TestBindDatabaseConfigUnknownName(t *testing.T) {
	_, err := BindDatabaseConfig(NewConfig(), "analytics")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "analytics")
}

func TestOsEnvironmentExpander(t *testing.T) {
	t.Setenv("RIPTIDE_TEST_LEVEL", "WARN")

	expander := NewOsEnvironmentExpander()
	out, err := expander.Expand([]byte("level: ${RIPTIDE_TEST_LEVEL}, missing: ${RIPTIDE_TEST_UNSET}"))
	require.NoError(t, err)
	assert.Equal(t, "level: WARN, missing: ", string(out))
}

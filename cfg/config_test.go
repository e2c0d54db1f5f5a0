package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withConfig(t *testing.T, c *Configuration) {
	t.Helper()
	original := Config
	Config = c
	t.Cleanup(func() { Config = original })
}

func TestValidate_Defaults(t *testing.T) {
	withConfig(t, Default())
	assert.NoError(t, Validate())
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Configuration)
	}{
		{"unknown backend", func(c *Configuration) { c.Store.Backend = "rocks" }},
		{"pebble without path", func(c *Configuration) { c.Store.Path = "" }},
		{"mysql without dsn", func(c *Configuration) { c.Store.Backend = BackendMySQL }},
		{"bad mode", func(c *Configuration) { c.Scan.Mode = "random" }},
		{"bad direction", func(c *Configuration) { c.Scan.Direction = "sideways" }},
		{"negative page size", func(c *Configuration) { c.Scan.PageSize = -1 }},
		{"negative retries", func(c *Configuration) { c.Scan.MaxRetries = -1 }},
		{"no workers", func(c *Configuration) { c.Scan.Workers = 0 }},
		{"zero block size", func(c *Configuration) { c.Store.BlockSizeKB = 0 }},
		{"kafka without brokers", func(c *Configuration) {
			c.Export.Enabled = true
			c.Export.Sink = SinkKafka
		}},
		{"nats without url", func(c *Configuration) {
			c.Export.Enabled = true
			c.Export.Sink = SinkNats
		}},
		{"unknown sink", func(c *Configuration) {
			c.Export.Enabled = true
			c.Export.Sink = "s3"
		}},
		{"bad prometheus port", func(c *Configuration) {
			c.Prometheus.Enabled = true
			c.Prometheus.Port = 70000
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(c)
			withConfig(t, c)
			assert.Error(t, Validate())
		})
	}
}

func TestValidate_MemoryBackendNeedsNoPath(t *testing.T) {
	c := Default()
	c.Store.Backend = BackendMemory
	c.Store.Path = ""
	withConfig(t, c)
	assert.NoError(t, Validate())
}

func TestLoad_File(t *testing.T) {
	withConfig(t, Default())

	dir := t.TempDir()
	path := filepath.Join(dir, "tablescan.toml")
	content := `
instance_id = 42

[store]
backend = "sqlite"
path = "/tmp/chain.db"

[scan]
mode = "cursor"
direction = "reverse"
page_size = 500
max_retries = 3

[export]
enabled = true
sink = "file"
categories = ["eip*"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	require.NoError(t, Load(path))

	assert.Equal(t, uint64(42), Config.InstanceID)
	assert.Equal(t, BackendSQLite, Config.Store.Backend)
	assert.Equal(t, ModeCursor, Config.Scan.Mode)
	assert.Equal(t, DirectionReverse, Config.Scan.Direction)
	assert.Equal(t, 500, Config.Scan.PageSize)
	assert.Equal(t, 3, Config.Scan.MaxRetries)
	assert.Equal(t, []string{"eip*"}, Config.Export.Categories)
	// Untouched sections keep defaults
	assert.Equal(t, int64(64), Config.Store.CacheSizeMB)
	assert.NoError(t, Validate())
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	c := Default()
	c.InstanceID = 7
	withConfig(t, c)

	require.NoError(t, Load(filepath.Join(t.TempDir(), "missing.toml")))
	assert.Equal(t, uint64(7), Config.InstanceID)
	assert.Equal(t, ModeIndexed, Config.Scan.Mode)
}

func TestLoad_InvalidToml(t *testing.T) {
	withConfig(t, Default())

	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[scan\nmode="), 0644))
	assert.Error(t, Load(path))
}

func TestLoad_EnvOverrides(t *testing.T) {
	c := Default()
	c.InstanceID = 1
	withConfig(t, c)

	t.Setenv("TABLESCAN_STORE_DSN", "root@tcp(127.0.0.1:3306)/chain")
	t.Setenv("TABLESCAN_KAFKA_BROKERS", "a:9092,b:9092")

	require.NoError(t, Load(""))
	assert.Equal(t, "root@tcp(127.0.0.1:3306)/chain", Config.Store.DSN)
	assert.Equal(t, []string{"a:9092", "b:9092"}, Config.Export.Brokers)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "rowsearch_index", cfg.Index.Dir)
	assert.Equal(t, 100, cfg.Search.DefaultLimit)
	assert.Equal(t, "row", cfg.Search.PrintField)
	assert.True(t, cfg.Loader.ForceMerge)
	require.Len(t, cfg.Loader.Derived, 2)
	assert.Equal(t, " | ", cfg.Loader.Derived[1].Separator)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rowsearch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
index:
  dir: /var/lib/rowsearch
  segmentMaxSize: 1024
schema:
  fields:
    - name: title
      indexed: true
      stored: true
loader:
  header: true
  delimiter: ";"
  derived: []
search:
  timeout: 2s
server:
  rateLimit: 2.5
  rateBurst: 4
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/rowsearch", cfg.Index.Dir)
	assert.Equal(t, int64(1024), cfg.Index.SegmentMaxSize)
	assert.Equal(t, []FieldConfig{{Name: "title", Indexed: true, Stored: true}}, cfg.Schema.Fields)
	assert.True(t, cfg.Loader.Header)
	assert.Equal(t, ";", cfg.Loader.Delimiter)
	assert.Empty(t, cfg.Loader.Derived)
	assert.Equal(t, 2*time.Second, cfg.Search.Timeout)
	assert.Equal(t, 2.5, cfg.Server.RateLimit)
	assert.Equal(t, 4, cfg.Server.RateBurst)
	assert.Equal(t, 8080, cfg.Server.Port, "untouched keys keep defaults")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RS_INDEX_DIR", "/tmp/idx")
	t.Setenv("RS_SEARCH_DEFAULT_LIMIT", "7")
	t.Setenv("RS_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("RS_REDIS_ENABLED", "true")
	t.Setenv("RS_SERVER_PORT", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/idx", cfg.Index.Dir)
	assert.Equal(t, 7, cfg.Search.DefaultLimit)
	assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty dir":          func(c *Config) { c.Index.Dir = "" },
		"zero segment size":  func(c *Config) { c.Index.SegmentMaxSize = 0 },
		"no fields":          func(c *Config) { c.Schema.Fields = nil },
		"undeclared derived": func(c *Config) { c.Loader.Derived = []DerivedField{{Name: "body"}} },
		"long delimiter":     func(c *Config) { c.Loader.Delimiter = "||" },
		"limit above max":    func(c *Config) { c.Search.DefaultLimit = c.Search.MaxResults + 1 },
		"negative rate":      func(c *Config) { c.Server.RateLimit = -1 },
		"rate without burst": func(c *Config) { c.Server.RateLimit = 5; c.Server.RateBurst = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig creates a config file inside the working directory because
// path validation rejects anything that escapes it
func writeConfig(t *testing.T, name, content string) string {
	t.Helper()

	dir, err := os.MkdirTemp(".", "config-test-")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoad_JSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{
		"log": {"level": "debug", "format": "text"},
		"nats": {"urls": ["nats://cache-nats:4222"]},
		"cache": {"default_ttl": "10m"},
		"monitor": {"enabled": true, "min_hit_rate": 60}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, []string{"nats://cache-nats:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 10*time.Minute, cfg.Cache.DefaultTTL.Std())
	assert.Equal(t, 60.0, cfg.Monitor.MinHitRate)

	// Unset fields take defaults
	assert.Equal(t, time.Minute, cfg.Cache.CleanupInterval.Std())
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
log:
  level: warn
nats:
  urls:
    - nats://a:4222
    - nats://b:4222
warming:
  enabled: true
  tick_interval: 30s
  rate_limit: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Len(t, cfg.NATS.URLs, 2)
	assert.Equal(t, 30*time.Second, cfg.Warming.TickInterval.Std())
	assert.Equal(t, 5.0, cfg.Warming.RateLimit)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_NATS_TOKEN", "s3cret")

	path := writeConfig(t, "config.json", `{
		"nats": {"urls": ["nats://localhost:4222"], "token": "${TEST_NATS_TOKEN}"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
}

func TestLoad_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name: "invalid nats url",
			file: "config.json", content: `{"nats": {"urls": ["http://wrong:4222"]}}`,
			wantErr: "nats url",
		},
		{
			name: "invalid log level",
			file: "config.json", content: `{"log": {"level": "loud"}}`,
			wantErr: "log.level",
		},
		{
			name: "malformed json",
			file: "config.json", content: `{"nats": `,
			wantErr: "failed to parse",
		},
		{
			name: "unsupported extension",
			file: "config.toml", content: `x = 1`,
			wantErr: "config files allowed",
		},
		{
			name: "bad duration",
			file: "config.json", content: `{"cache": {"default_ttl": "fast"}}`,
			wantErr: "invalid duration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.file, tt.content)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_PathTraversalRejected(t *testing.T) {
	_, err := Load("../../../etc/passwd.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path traversal")
}

func TestDuration_RoundTrip(t *testing.T) {
	type holder struct {
		D Duration `json:"d"`
	}

	data, err := json.Marshal(holder{D: Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, `{"d":"1m30s"}`, string(data))

	var decoded holder
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 90*time.Second, decoded.D.Std())

	// Nanosecond numbers also parse
	require.NoError(t, json.Unmarshal([]byte(`{"d": 1000000000}`), &decoded))
	assert.Equal(t, time.Second, decoded.D.Std())
}

func TestValidateJSONDepth(t *testing.T) {
	shallow := []byte(`{"a": {"b": {"c": 1}}}`)
	assert.NoError(t, validateJSONDepth(shallow))

	deep := []byte(strings.Repeat("[", 150) + strings.Repeat("]", 150))
	assert.Error(t, validateJSONDepth(deep))
}

func TestConfig_ToJSON(t *testing.T) {
	out, err := Default().ToJSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"nats"`)
	assert.Contains(t, out, `"5m0s"`)
}

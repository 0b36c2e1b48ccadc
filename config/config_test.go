package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
[agent_hub]
http_addr = "127.0.0.1:9000"
engine_cache_ttl = "10m"
verify_delay = "3s"
verify_max_attempts = 4

[database]
driver = "sqlite"
dsn = "file::memory:"

[starknet]
rpc_url = "http://node:5050/rpc"
contract_address = "0x1234"
tx_wait_timeout = "90s"

[[predictions]]
name = "lstm"
kind = "http"
url = "http://models/lstm"
weight = 1.5

[[predictions]]
name = "gpt"
kind = "llm"
model = "gpt-4o-mini"
weight = 1.0
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DecodesSectionsOverDefaults(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	require.NoError(t, Load(path))

	c := Get()
	require.NotNil(t, c)
	assert.Equal(t, "127.0.0.1:9000", c.AgentHub.HTTPAddr)
	assert.Equal(t, 10*time.Minute, c.AgentHub.EngineCacheTTL.Duration)
	assert.Equal(t, 3*time.Second, c.AgentHub.VerifyDelay.Duration)
	assert.Equal(t, 4, c.AgentHub.VerifyMaxAttempts)
	// 未配置的字段保持默认值
	assert.Equal(t, 5000, c.AgentHub.EngineCacheMax)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, 90*time.Second, c.Starknet.TxWaitTimeout.Duration)
	assert.Equal(t, 3*time.Second, c.Starknet.TxPollInterval.Duration)
	require.Len(t, c.Predictions, 2)
	assert.Equal(t, 1.5, c.Predictions[0].Weight)
}

func TestLoad_EnvOverridesSecrets(t *testing.T) {
	t.Setenv(EnvDatabaseDSN, "file:env-dsn")
	t.Setenv(EnvLLMAPIKey, "sk-test")
	t.Setenv(EnvSignerToken, "signer-token")

	path := writeConfig(t, sampleConfig)
	require.NoError(t, Load(path))

	c := Get()
	assert.Equal(t, "file:env-dsn", c.Database.DSN)
	assert.Equal(t, "signer-token", c.Starknet.SignerToken)
	assert.Empty(t, c.Predictions[0].APIKey)
	assert.Equal(t, "sk-test", c.Predictions[1].APIKey)
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "[agent_hub]\nverify_delay = \"soon\"\n")
	assert.Error(t, Load(path))
}

func TestReloadIfNeeded(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	require.NoError(t, Load(path))
	assert.Equal(t, 4, Get().AgentHub.VerifyMaxAttempts)

	updated := []byte("[agent_hub]\nverify_max_attempts = 9\n")
	require.NoError(t, os.WriteFile(path, updated, 0o644))
	future := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(path, future, future))

	reloadIfNeeded()
	assert.Equal(t, 9, Get().AgentHub.VerifyMaxAttempts)
}

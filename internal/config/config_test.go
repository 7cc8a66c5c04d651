package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWorkflow = `{
  "schedule": "*/30 * * * * *",
  "evms": [
    {
      "recurringPaymentsAddress": "0x1111111111111111111111111111111111111111",
      "chainName": "ethereum-testnet-sepolia",
      "gasLimit": "500000"
    },
    {
      "recurringPaymentsAddress": "0x2222222222222222222222222222222222222222",
      "chainName": "ethereum-mainnet",
      "gasLimit": "300000"
    }
  ]
}`

func writeWorkflow(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WORKFLOW_CONFIG_PATH", "SWEEP_SCHEDULE", "API_HTTP_PORT", "TRIGGER_HMAC_SECRET",
		"HMAC_CLOCK_SKEW_SECONDS", "SWEEP_RUN_TIMEOUT_SECONDS", "SWEEP_ELIGIBILITY_POLICY",
		"CHAIN_RPC_URL", "CHAIN_PRIVATE_KEY", "RPC_TIMEOUT_SECONDS", "CHAIN_CONFIRM_RECEIPTS", "CHAIN_RECEIPT_TIMEOUT_SECONDS",
		"JOURNAL_STORE_PATH", "JOURNAL_POSTGRES_DSN", "JOURNAL_RETENTION_HOURS",
		"KAFKA_BROKERS", "KAFKA_TOPIC", "LOG_LEVEL", "LOG_FORMAT",
	} {
		orig, wasSet := os.LookupEnv(key)
		require.NoError(t, os.Unsetenv(key))
		if wasSet {
			t.Cleanup(func() { os.Setenv(key, orig) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("WORKFLOW_CONFIG_PATH", writeWorkflow(t, sampleWorkflow))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "*/30 * * * * *", cfg.Workflow.Schedule)
	require.Len(t, cfg.Workflow.EVMs, 2)
	assert.Equal(t, "ethereum-testnet-sepolia", cfg.Workflow.EVMs[0].ChainName)
	assert.Equal(t, 3000, cfg.Service.HTTPPort)
	assert.Equal(t, time.Minute, cfg.Service.HMACClockSkew)
	assert.Equal(t, "completed", cfg.Service.EligibilityPolicy)
	assert.Equal(t, 15*time.Second, cfg.Chain.RPCTimeout)
	assert.True(t, cfg.Chain.ConfirmReceipts)
	assert.Equal(t, 2*time.Minute, cfg.Chain.ReceiptTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Journal.Retention)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "payment_sweeps", cfg.Kafka.Topic)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("WORKFLOW_CONFIG_PATH", writeWorkflow(t, sampleWorkflow))
	t.Setenv("SWEEP_SCHEDULE", "0 * * * * *")
	t.Setenv("SWEEP_ELIGIBILITY_POLICY", "due")
	t.Setenv("CHAIN_RPC_URL", "http://localhost:8545")
	t.Setenv("CHAIN_PRIVATE_KEY", "0xabc")
	t.Setenv("CHAIN_CONFIRM_RECEIPTS", "false")
	t.Setenv("CHAIN_RECEIPT_TIMEOUT_SECONDS", "30")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("API_HTTP_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0 * * * * *", cfg.Workflow.Schedule)
	assert.Equal(t, "due", cfg.Service.EligibilityPolicy)
	assert.False(t, cfg.Chain.ConfirmReceipts)
	assert.Equal(t, 30*time.Second, cfg.Chain.ReceiptTimeout)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3000, cfg.Service.HTTPPort)
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	chdir(t, dir)
	wfPath := writeWorkflow(t, sampleWorkflow)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("WORKFLOW_CONFIG_PATH="+wfPath+"\nKAFKA_TOPIC=from-dotenv\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("WORKFLOW_CONFIG_PATH")
		os.Unsetenv("KAFKA_TOPIC")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Kafka.Topic)
}

func TestLoad_PrivateKeyWithoutRPC(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("WORKFLOW_CONFIG_PATH", writeWorkflow(t, sampleWorkflow))
	t.Setenv("CHAIN_PRIVATE_KEY", "0xabc")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CHAIN_RPC_URL")
}

func TestLoad_MissingWorkflowFile(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("WORKFLOW_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.json"))

	_, err := Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_EmptyScheduleFallsBack(t *testing.T) {
	clearEnv(t)
	chdir(t, t.TempDir())
	t.Setenv("WORKFLOW_CONFIG_PATH", writeWorkflow(t, `{"evms":[]}`))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaultSchedule, cfg.Workflow.Schedule)
}

func TestGasLimitValue(t *testing.T) {
	v, err := EVMConfig{GasLimit: "500000"}.GasLimitValue()
	require.NoError(t, err)
	assert.Equal(t, uint64(500000), v)

	for _, bad := range []string{"", "abc", "0", "-1"} {
		_, err := EVMConfig{GasLimit: bad}.GasLimitValue()
		assert.Error(t, err, "gas limit %q", bad)
	}
}

// chdir changes the working directory for the duration of the test
// (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}

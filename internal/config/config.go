package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// WorkflowConfig models the workflow JSON file: a cron schedule plus the EVM targets.
type WorkflowConfig struct {
	Schedule string      `json:"schedule"`
	EVMs     []EVMConfig `json:"evms"`
}

// EVMConfig describes one chain the sweep can target. Only the first entry is used.
type EVMConfig struct {
	RecurringPaymentsAddress string `json:"recurringPaymentsAddress"`
	ChainName                string `json:"chainName"`
	GasLimit                 string `json:"gasLimit"`
}

// GasLimitValue parses the gas limit, which the JSON carries as a decimal string.
func (e EVMConfig) GasLimitValue() (uint64, error) {
	raw := strings.TrimSpace(e.GasLimit)
	if raw == "" {
		return 0, errors.New("gas limit is empty")
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("gas limit %q: %w", e.GasLimit, err)
	}
	if v == 0 {
		return 0, errors.New("gas limit must be positive")
	}
	return v, nil
}

// AppConfig ties together the workflow file and environment-derived settings.
type AppConfig struct {
	Workflow WorkflowConfig
	Service  ServiceConfig
	Chain    ChainConfig
	Journal  JournalConfig
	Kafka    KafkaConfig
	Log      LogConfig
}

type ServiceConfig struct {
	HTTPPort          int
	HMACSecret        string
	HMACClockSkew     time.Duration
	RunTimeout        time.Duration
	EligibilityPolicy string
}

type ChainConfig struct {
	RPCURL          string
	PrivateKey      string
	RPCTimeout      time.Duration
	ConfirmReceipts bool
	// ReceiptTimeout bounds the wait for one submitted transaction to be mined.
	ReceiptTimeout time.Duration
}

type JournalConfig struct {
	StorePath   string
	PostgresDSN string
	Retention   time.Duration
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type LogConfig struct {
	Level  string
	Format string
}

const (
	defaultWorkflowPath = "./config.json"
	defaultSchedule     = "*/30 * * * * *"
	defaultKafkaTopic   = "payment_sweeps"
)

// Load aggregates configuration from disk and environment. A .env file in the
// working directory is applied first without overriding variables already set.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	workflowPath := envOr("WORKFLOW_CONFIG_PATH", defaultWorkflowPath)
	wf, err := LoadWorkflow(workflowPath)
	if err != nil {
		return nil, fmt.Errorf("config: load workflow: %w", err)
	}
	if schedule := envOr("SWEEP_SCHEDULE", ""); schedule != "" {
		wf.Schedule = schedule
	}
	if wf.Schedule == "" {
		wf.Schedule = defaultSchedule
	}

	serviceCfg := ServiceConfig{
		HTTPPort:          envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:        envOr("TRIGGER_HMAC_SECRET", ""),
		HMACClockSkew:     time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		RunTimeout:        time.Duration(envOrInt("SWEEP_RUN_TIMEOUT_SECONDS", 0)) * time.Second,
		EligibilityPolicy: envOr("SWEEP_ELIGIBILITY_POLICY", "completed"),
	}

	chainCfg := ChainConfig{
		RPCURL:          envOr("CHAIN_RPC_URL", ""),
		PrivateKey:      envOr("CHAIN_PRIVATE_KEY", ""),
		RPCTimeout:      time.Duration(envOrInt("RPC_TIMEOUT_SECONDS", 15)) * time.Second,
		ConfirmReceipts: envOrBool("CHAIN_CONFIRM_RECEIPTS", true),
		ReceiptTimeout:  time.Duration(envOrInt("CHAIN_RECEIPT_TIMEOUT_SECONDS", 120)) * time.Second,
	}
	if chainCfg.PrivateKey != "" && chainCfg.RPCURL == "" {
		return nil, errors.New("config: CHAIN_RPC_URL required when CHAIN_PRIVATE_KEY is set")
	}

	journalCfg := JournalConfig{
		StorePath:   envOr("JOURNAL_STORE_PATH", filepath.Join(os.TempDir(), "paysweep-journal.json")),
		PostgresDSN: envOr("JOURNAL_POSTGRES_DSN", ""),
		Retention:   time.Duration(envOrInt("JOURNAL_RETENTION_HOURS", 168)) * time.Hour,
	}

	kafkaCfg := KafkaConfig{
		Brokers: splitList(envOr("KAFKA_BROKERS", "")),
		Topic:   envOr("KAFKA_TOPIC", defaultKafkaTopic),
	}

	logCfg := LogConfig{
		Level:  envOr("LOG_LEVEL", "info"),
		Format: envOr("LOG_FORMAT", "json"),
	}

	return &AppConfig{
		Workflow: *wf,
		Service:  serviceCfg,
		Chain:    chainCfg,
		Journal:  journalCfg,
		Kafka:    kafkaCfg,
		Log:      logCfg,
	}, nil
}

// LoadWorkflow reads the workflow JSON file.
func LoadWorkflow(path string) (*WorkflowConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg WorkflowConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

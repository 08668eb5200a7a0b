package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// QueuePolicy controls one queue's worker capacity and retry budget.
type QueuePolicy struct {
	Concurrency int `yaml:"concurrency"`
	MaxAttempts int `yaml:"max_attempts"`
}

// LLM holds the chat-completions endpoint settings used for extraction.
type LLM struct {
	BaseURL        string
	Model          string
	Temperature    float64
	MaxTokens      int
	TimeoutSeconds int
}

type Config struct {
	AppEnv        string
	HTTPAddr      string
	RedisAddr     string
	RedisPassword string

	AutomatorBin        string
	SessionDir          string
	AutomationTimeoutMs int

	LLM LLM

	Queues map[string]QueuePolicy
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

// DefaultQueues returns the built-in queue policies. Each queue owns an
// independent worker capacity; max attempts include the first run.
func DefaultQueues() map[string]QueuePolicy {
	return map[string]QueuePolicy{
		"navigate": {Concurrency: 4, MaxAttempts: 3},
		"search":   {Concurrency: 4, MaxAttempts: 3},
		"extract":  {Concurrency: 2, MaxAttempts: 2},
	}
}

func Load() Config {
	cfg := Config{
		AppEnv:        getenv("APP_ENV", "development"),
		HTTPAddr:      getenv("HTTP_ADDR", ":8081"),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		AutomatorBin:        getenv("AUTOMATOR_BIN", "./bin/automator"),
		SessionDir:          getenv("SESSION_DIR", "./data/sessions"),
		AutomationTimeoutMs: getenvInt("AUTOMATION_TIMEOUT_MS", 30000),

		LLM: LLM{
			BaseURL:        getenv("LLM_BASE_URL", "http://127.0.0.1:8090"),
			Model:          getenv("LLM_MODEL", "qwen2.5-7b-instruct"),
			Temperature:    getenvFloat("LLM_TEMPERATURE", 0.2),
			MaxTokens:      getenvInt("LLM_MAX_TOKENS", 2000),
			TimeoutSeconds: getenvInt("LLM_TIMEOUT_SECONDS", 120),
		},

		Queues: DefaultQueues(),
	}
	if path := os.Getenv("QUEUE_CONFIG_FILE"); path != "" {
		if err := loadQueueFile(path, cfg.Queues); err != nil {
			panic(fmt.Errorf("load %s: %w", path, err))
		}
	}
	if cfg.RedisAddr == "" {
		panic(fmt.Errorf("REDIS_ADDR is required"))
	}
	return cfg
}

// loadQueueFile overlays per-queue overrides from a YAML file onto the
// defaults. Zero fields keep the default value; queues not in the defaults
// are ignored.
func loadQueueFile(path string, queues map[string]QueuePolicy) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var overrides map[string]QueuePolicy
	if err := yaml.Unmarshal(b, &overrides); err != nil {
		return err
	}
	for name, o := range overrides {
		policy, ok := queues[name]
		if !ok {
			continue
		}
		if o.Concurrency > 0 {
			policy.Concurrency = o.Concurrency
		}
		if o.MaxAttempts > 0 {
			policy.MaxAttempts = o.MaxAttempts
		}
		queues[name] = policy
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvConfig holds the environment variables the core consumes (§6.6).
// Loaded once at process startup; godotenv.Load is called by the
// cmd entrypoint before this runs, exactly as the teacher's
// cmd/tarsy/main.go loads a .env file before reading os.Getenv.
type EnvConfig struct {
	DatabaseURL           string `validate:"required"`
	RedisURL              string `validate:"required"`
	LLMAccessToken        string `validate:"required"`
	LLMBaseURL            string `validate:"required,url"`
	ExternalPIIURL        string
	ExternalPIIAPIKey     string
	UseExternalPII        bool
	EncryptionKey         string `validate:"required,len=32"`
	DataRetentionHours    int    `validate:"gt=0"`
	WorkerConcurrency     int    `validate:"gt=0"`
	FeatureFlagsFromEnv   []FeatureFlag
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// LoadEnvConfig reads the §6.6 environment variables, applying the
// defaults the spec names (data retention 24h, worker concurrency
// falls back to 4 when unset).
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		RedisURL:          os.Getenv("REDIS_URL"),
		LLMAccessToken:    os.Getenv("OVH_AI_ENDPOINTS_ACCESS_TOKEN"),
		LLMBaseURL:        os.Getenv("OVH_AI_BASE_URL"),
		ExternalPIIURL:    os.Getenv("EXTERNAL_PII_URL"),
		ExternalPIIAPIKey: os.Getenv("EXTERNAL_PII_API_KEY"),
		EncryptionKey:     os.Getenv("ENCRYPTION_KEY"),
	}

	cfg.UseExternalPII = strings.EqualFold(getenvDefault("USE_EXTERNAL_PII", "false"), "true")

	retentionHours, err := strconv.Atoi(getenvDefault("DATA_RETENTION_HOURS", "24"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid DATA_RETENTION_HOURS: %w", err)
	}
	cfg.DataRetentionHours = retentionHours

	concurrency, err := strconv.Atoi(getenvDefault("WORKER_CONCURRENCY", "4"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid WORKER_CONCURRENCY: %w", err)
	}
	cfg.WorkerConcurrency = concurrency

	cfg.FeatureFlagsFromEnv = flagsFromEnviron(os.Environ())

	v := NewValidator()
	if err := v.v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: environment validation failed: %w", err)
	}
	return cfg, nil
}

// flagsFromEnviron extracts FEATURE_FLAG_* variables into FeatureFlag
// rows, e.g. FEATURE_FLAG_STRICT_LEAKAGE_CHECK=true.
func flagsFromEnviron(environ []string) []FeatureFlag {
	const prefix = "FEATURE_FLAG_"
	var flags []FeatureFlag
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, prefix) {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, prefix))
		flags = append(flags, FeatureFlag{
			Name:    name,
			Enabled: strings.EqualFold(v, "true"),
		})
	}
	return flags
}

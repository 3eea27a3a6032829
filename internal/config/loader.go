package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json5 "github.com/yosuke-furukawa/json5/encoding/json5"
	"gopkg.in/yaml.v3"
)

const includeKey = "$include"

// Load reads a YAML (or JSON5) configuration file, resolving $include
// directives and environment-variable expansion, overlays process
// environment variables, applies section defaults to anything left at its
// zero value, and validates the result.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	sanitizeConfig(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers process environment variables over a decoded
// config, taking precedence over the file but not over CLI flags (those are
// applied by the caller after Load returns).
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if value := strings.TrimSpace(os.Getenv("AGENTCORE_HOST")); value != "" {
		cfg.Server.Host = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_HTTP_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.HTTPPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_METRICS_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Server.MetricsPort = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_JWT_SECRET")); value != "" {
		cfg.Server.JWTSecret = value
	}

	if value := strings.TrimSpace(os.Getenv("AGENTCORE_LLM_PROVIDER")); value != "" {
		cfg.LLM.DefaultProvider = value
	}
	for name, provider := range cfg.LLM.Providers {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_")) + "_API_KEY"
		if value := strings.TrimSpace(os.Getenv(envName)); value != "" {
			provider.APIKey = value
			cfg.LLM.Providers[name] = provider
		}
	}

	if value := strings.TrimSpace(os.Getenv("AGENTCORE_APPROVAL_MODE")); value != "" {
		cfg.Safety.ApprovalMode = value
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_MAX_ITERATIONS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Budget.MaxIterations = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("AGENTCORE_MAX_WALL_TIME")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			cfg.Budget.MaxWallTime = parsed
		}
	}
}

// validateConfig checks cross-field invariants that a default/sanitize pass
// cannot resolve on its own (enumerations, required-together fields).
func validateConfig(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	var issues []string

	if !validApprovalMode(cfg.Safety.ApprovalMode) {
		issues = append(issues, `safety.approval_mode must be one of "safe", "cautious", "paranoid", "yolo"`)
	}
	if !validTrustLevel(cfg.Safety.TrustLevel) {
		issues = append(issues, `safety.trust_level must be one of "shadow", "dry_run", "assisted", "supervised", "selective_autonomy"`)
	}
	if cfg.Safety.Circuit.FailureRateThreshold < 0 || cfg.Safety.Circuit.FailureRateThreshold > 1 {
		issues = append(issues, "safety.circuit.failure_rate_threshold must be in [0, 1]")
	}
	if cfg.Budget.MaxIterations <= 0 {
		issues = append(issues, "budget.max_iterations must be > 0")
	}
	if cfg.Memory.CompactAtFraction <= 0 || cfg.Memory.CompactAtFraction > 1 {
		issues = append(issues, "memory.compact_at_fraction must be in (0, 1]")
	}
	if cfg.LLM.Retry.JitterFraction < 0 || cfg.LLM.Retry.JitterFraction > 1 {
		issues = append(issues, "llm.retry.jitter_fraction must be in [0, 1]")
	}

	if len(issues) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(issues, "; "))
	}
	return nil
}

func validApprovalMode(mode string) bool {
	switch mode {
	case "safe", "cautious", "paranoid", "yolo":
		return true
	default:
		return false
	}
}

func validTrustLevel(level string) bool {
	switch level {
	case "shadow", "dry_run", "assisted", "supervised", "selective_autonomy":
		return true
	default:
		return false
	}
}

// LoadRaw reads a configuration file into a merged raw map, resolving $include directives.
func LoadRaw(path string) (map[string]any, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path is required")
	}
	seen := map[string]bool{}
	return loadRawRecursive(path, seen)
}

// loadRawRecursive loads a config file, resolving $include directives with cycle detection.
func loadRawRecursive(path string, seen map[string]bool) (map[string]any, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if seen[absPath] {
		return nil, fmt.Errorf("config include cycle detected at %s", absPath)
	}
	seen[absPath] = true
	defer delete(seen, absPath)

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, err
	}
	expanded := os.ExpandEnv(string(data))
	raw, err := parseRawBytes([]byte(expanded), absPath)
	if err != nil {
		return nil, err
	}

	includes, err := extractIncludes(raw)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	if len(includes) > 0 {
		baseDir := filepath.Dir(absPath)
		for _, inc := range includes {
			if strings.TrimSpace(inc) == "" {
				continue
			}
			incPath := inc
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(baseDir, incPath)
			}
			incRaw, err := loadRawRecursive(incPath, seen)
			if err != nil {
				return nil, err
			}
			merged = mergeMaps(merged, incRaw)
		}
	}

	merged = mergeMaps(merged, raw)
	return merged, nil
}

func parseRawBytes(data []byte, pathHint string) (map[string]any, error) {
	format := strings.ToLower(filepath.Ext(pathHint))
	if format == ".json" || format == ".json5" {
		var raw map[string]any
		if err := json5.Unmarshal(data, &raw); err != nil {
			return nil, err
		}
		if raw == nil {
			raw = map[string]any{}
		}
		return raw, nil
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	var raw map[string]any
	if err := decoder.Decode(&raw); err != nil {
		return nil, err
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

func extractIncludes(raw map[string]any) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	var includeVal any
	if val, ok := raw[includeKey]; ok {
		includeVal = val
		delete(raw, includeKey)
	} else if val, ok := raw["include"]; ok {
		includeVal = val
		delete(raw, "include")
	}
	if includeVal == nil {
		return nil, nil
	}

	switch typed := includeVal.(type) {
	case string:
		return []string{typed}, nil
	case []string:
		return typed, nil
	case []any:
		paths := make([]string, 0, len(typed))
		for _, entry := range typed {
			value, ok := entry.(string)
			if !ok {
				return nil, fmt.Errorf("include entries must be strings")
			}
			paths = append(paths, value)
		}
		return paths, nil
	default:
		return nil, fmt.Errorf("include must be a string or list of strings")
	}
}

func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for key, value := range src {
		if valueMap, ok := value.(map[string]any); ok {
			if existing, ok := dst[key].(map[string]any); ok {
				dst[key] = mergeMaps(existing, valueMap)
				continue
			}
		}
		dst[key] = value
	}
	return dst
}

func decodeRawConfig(raw map[string]any) (*Config, error) {
	payload, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize config: %w", err)
	}
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(payload))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("failed to parse config: expected single document")
	}
	return &cfg, nil
}

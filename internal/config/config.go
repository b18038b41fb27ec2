// Package config loads relay configuration from a JSON or flat YAML file.
package config

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Port         string `json:"port"`
	DebugEnabled bool   `json:"debug_enabled"`

	// Canvas upstream endpoints.
	CanvasAPIBaseURL string `json:"canvas_api_base_url"`
	CanvasWSBaseURL  string `json:"canvas_ws_base_url"`
	AuthBaseURL      string `json:"auth_base_url"`

	// Credential pool storage.
	StoreMode     string `json:"store_mode"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`
	SQLitePath    string `json:"sqlite_path"`

	// Conversation registry (fingerprint -> Canvas session).
	ConvRegistryMode       string `json:"conv_registry_mode"`
	ConvRegistrySize       int    `json:"conv_registry_size"`
	ConvRegistryTTLSeconds int    `json:"conv_registry_ttl_seconds"`

	// Caller-facing behavior.
	RequireApiKey  bool `json:"require_api_key"`
	RequestTimeout int  `json:"request_timeout"` // seconds

	ConcurrencyLimit   int `json:"concurrency_limit"`
	ConcurrencyTimeout int `json:"concurrency_timeout"` // seconds

	LoadBalancerCacheTTL int `json:"load_balancer_cache_ttl"` // seconds

	// Token maintenance.
	AutoRefreshToken     bool `json:"auto_refresh_token"`
	TokenRefreshInterval int  `json:"token_refresh_interval"` // minutes
}

func Load(path string) (*Config, string, error) {
	resolvedPath, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(resolvedPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Config{}
	ext := strings.ToLower(filepath.Ext(resolvedPath))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config json: %w", err)
		}
	case ".yaml", ".yml":
		m, err := parseYAMLFlat(data)
		if err != nil {
			return nil, "", err
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return nil, "", fmt.Errorf("failed to normalize yaml: %w", err)
		}
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, "", fmt.Errorf("failed to parse config yaml: %w", err)
		}
	default:
		return nil, "", fmt.Errorf("unsupported config extension: %s", ext)
	}

	ApplyDefaults(&cfg)
	return &cfg, resolvedPath, nil
}

func resolveConfigPath(path string) (string, error) {
	if strings.TrimSpace(path) != "" {
		return path, nil
	}

	candidates := []string{"config.json", "config.yaml", "config.yml"}
	for _, name := range candidates {
		if _, err := os.Stat(name); err == nil {
			return name, nil
		}
	}

	return "", errors.New("config.json/config.yaml/config.yml not found")
}

func ApplyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "3002"
	}
	if cfg.CanvasAPIBaseURL == "" {
		cfg.CanvasAPIBaseURL = "https://api.canvas.app"
	}
	if cfg.CanvasWSBaseURL == "" {
		cfg.CanvasWSBaseURL = "wss://api.canvas.app"
	}
	if cfg.AuthBaseURL == "" {
		cfg.AuthBaseURL = "https://auth.canvas.app"
	}
	if cfg.StoreMode == "" {
		cfg.StoreMode = "sqlite"
	}
	if cfg.RedisPrefix == "" {
		cfg.RedisPrefix = "canvas:"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "data/canvas.db"
	}
	if cfg.ConvRegistryMode == "" {
		if strings.ToLower(strings.TrimSpace(cfg.StoreMode)) == "redis" {
			cfg.ConvRegistryMode = "redis"
		} else {
			cfg.ConvRegistryMode = "memory"
		}
	}
	if cfg.ConvRegistrySize == 0 {
		cfg.ConvRegistrySize = 256
	}
	if cfg.ConvRegistryTTLSeconds == 0 {
		cfg.ConvRegistryTTLSeconds = 3600
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 600
	}
	if cfg.ConcurrencyLimit == 0 {
		cfg.ConcurrencyLimit = 100
	}
	if cfg.ConcurrencyTimeout == 0 {
		cfg.ConcurrencyTimeout = 300
	}
	if cfg.LoadBalancerCacheTTL == 0 {
		cfg.LoadBalancerCacheTTL = 5
	}
	if cfg.TokenRefreshInterval == 0 {
		cfg.TokenRefreshInterval = 30
	}
}

func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func parseYAMLFlat(data []byte) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		// Only strip inline comments where # is preceded by whitespace,
		// to avoid corrupting values containing # (hex colors, URLs, etc.)
		if idx := strings.Index(line, " #"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		} else if idx := strings.Index(line, "\t#"); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid yaml line: %q", line)
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		value = strings.Trim(value, "\"'")

		if key == "" {
			continue
		}
		if value == "" {
			out[key] = ""
			continue
		}
		if value == "true" || value == "false" {
			out[key] = value == "true"
			continue
		}
		if num, err := strconv.Atoi(value); err == nil {
			out[key] = num
			continue
		}
		out[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

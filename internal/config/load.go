package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dimaakimm/hseai-session/internal/envutil"
	"github.com/dimaakimm/hseai-session/internal/log"
)

// Defaults
const (
	DefaultAPIBase        = "https://api.hse-ai.ru"
	DefaultMePath         = "/api/me"
	DefaultTokenPath      = "/api/model-tokens"
	DefaultQueryParam     = "sid"
	DefaultStorageKey     = "hse_sid"
	DefaultStateFile      = "session.json"
	DefaultCollection     = "hseai_session"
	DefaultTimeout        = 2 * time.Minute
	DefaultAttemptTimeout = 2 * time.Minute
	DefaultAddr           = "127.0.0.1:8719"
)

// Load loads and processes the config with immediate env var resolution
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		return Config{}, fmt.Errorf("parsing config JSON: %w", err)
	}

	version, ok := rawConfig["version"].(string)
	if !ok {
		return Config{}, fmt.Errorf("config version is required")
	}
	if !strings.HasPrefix(version, VersionPrefix) {
		return Config{}, fmt.Errorf("unsupported config version: %s", version)
	}

	if err := validateRawConfig(rawConfig); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	// The custom UnmarshalJSON methods resolve env vars immediately
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}

	ApplyDefaults(&config)

	if err := ValidateConfig(&config); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// validateRawConfig validates the config structure before environment resolution
func validateRawConfig(rawConfig map[string]any) error {
	session, ok := rawConfig["session"].(map[string]any)
	if !ok {
		return nil
	}
	value, exists := session["encryptionKey"]
	if !exists {
		return nil
	}
	if _, isString := value.(string); isString {
		if envutil.IsDev() {
			log.LogWarnWithFields("config", "Plain text encryptionKey accepted in development mode", nil)
			return nil
		}
		return fmt.Errorf("encryptionKey must use environment variable reference for security")
	}
	if refMap, isMap := value.(map[string]any); isMap {
		if _, hasEnv := refMap["$env"]; !hasEnv {
			return fmt.Errorf("encryptionKey must use {\"$env\": \"VAR_NAME\"} format")
		}
	}
	return nil
}

// ApplyDefaults fills every optional field left empty
func ApplyDefaults(config *Config) {
	id := &config.Identity
	if id.MePath == "" {
		id.MePath = DefaultMePath
	}
	if id.TokenPath == "" {
		id.TokenPath = DefaultTokenPath
	}
	if id.Addressing == "" {
		id.Addressing = AddressingQuery
	}
	if id.Timeout == 0 {
		id.Timeout = DefaultTimeout
	}
	if id.BaseURL != "" {
		base := strings.TrimRight(id.BaseURL, "/")
		if id.LoginURL == "" {
			id.LoginURL = base + "/auth/login"
		}
		if id.LogoutURL == "" {
			id.LogoutURL = base + "/auth/logout"
		}
	}

	s := &config.Session
	if s.QueryParam == "" {
		s.QueryParam = DefaultQueryParam
	}
	if s.StorageKey == "" {
		s.StorageKey = DefaultStorageKey
	}
	if s.Storage == "" {
		s.Storage = StorageFile
	}
	if s.Storage == StorageFile && s.FilePath == "" {
		s.FilePath = envutil.StatePath(DefaultStateFile)
	}
	if s.Storage == StorageFirestore {
		if s.FirestoreDatabase == "" {
			s.FirestoreDatabase = "(default)"
		}
		if s.FirestoreCollection == "" {
			s.FirestoreCollection = DefaultCollection
		}
		if s.FirestoreNamespace == "" {
			s.FirestoreNamespace = "default"
		}
	}

	if config.Guard.AttemptTimeout == 0 {
		config.Guard.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.Server.Addr == "" {
		config.Server.Addr = DefaultAddr
	}
}

// ValidateConfig validates the resolved configuration
func ValidateConfig(config *Config) error {
	if err := validateURL(config.Identity.BaseURL); err != nil {
		return fmt.Errorf("identity.baseURL: %w", err)
	}
	switch config.Identity.Addressing {
	case AddressingQuery, AddressingCookie:
	default:
		return fmt.Errorf("identity.addressing must be %q or %q, got %q", AddressingQuery, AddressingCookie, config.Identity.Addressing)
	}
	if config.Identity.Timeout < 0 {
		return fmt.Errorf("identity.timeout cannot be negative")
	}

	if err := validateSession(&config.Session); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	if config.Guard.AttemptTimeout < 0 {
		return fmt.Errorf("guard.attemptTimeout cannot be negative")
	}
	if config.Guard.AttemptTimeout > DefaultAttemptTimeout {
		log.LogWarn("guard.attemptTimeout %s is longer than %s", config.Guard.AttemptTimeout, DefaultAttemptTimeout)
	}

	if len(config.Backends) == 0 {
		return fmt.Errorf("at least one backend is required")
	}
	for name, target := range config.Backends {
		if err := validateURL(target); err != nil {
			return fmt.Errorf("backends.%s: %w", name, err)
		}
	}

	if config.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	return nil
}

func validateSession(s *SessionConfig) error {
	if s.StartURL != "" {
		if _, err := url.Parse(s.StartURL); err != nil {
			return fmt.Errorf("startURL: %w", err)
		}
	}
	if key := s.EncryptionKey; key != "" && len(key) != 32 {
		return fmt.Errorf("encryptionKey must be exactly 32 characters (got %d). Generate with: openssl rand -base64 32 | head -c 32", len(key))
	}

	switch s.Storage {
	case StorageMemory:
	case StorageFile:
		if s.FilePath == "" {
			return fmt.Errorf("filePath is required when using file storage")
		}
		if s.EncryptionKey == "" {
			log.LogWarn("Session identifier will be stored unencrypted in %s", s.FilePath)
		}
	case StorageFirestore:
		if s.FirestoreProject == "" {
			return fmt.Errorf("firestoreProject is required when using firestore storage")
		}
		if s.EncryptionKey == "" {
			return fmt.Errorf("encryptionKey is required when using firestore storage")
		}
	default:
		return fmt.Errorf("unknown storage %q", s.Storage)
	}
	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an http or https URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("must include a host, got %q", raw)
	}
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// VersionPrefix is the accepted prefix of the config version field
const VersionPrefix = "v1"

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// Addressing modes for the identity and exchange calls
const (
	AddressingQuery  = "query"
	AddressingCookie = "cookie"
)

// Storage kinds for the persisted session identifier
const (
	StorageMemory    = "memory"
	StorageFile      = "file"
	StorageFirestore = "firestore"
)

// IdentityConfig describes the first-party backend
type IdentityConfig struct {
	BaseURL    string        `json:"baseURL"`
	MePath     string        `json:"mePath,omitempty"`
	TokenPath  string        `json:"tokenPath,omitempty"`
	LoginURL   string        `json:"loginURL,omitempty"`
	LogoutURL  string        `json:"logoutURL,omitempty"`
	Addressing string        `json:"addressing,omitempty"` // "query" or "cookie"
	Timeout    time.Duration `json:"timeout,omitempty"`
}

// SessionConfig describes where the session identifier comes from and where
// it is kept
type SessionConfig struct {
	StartURL   string `json:"startURL,omitempty"` // page address handed over at startup
	QueryParam string `json:"queryParam,omitempty"`
	StorageKey string `json:"storageKey,omitempty"`
	Storage    string `json:"storage,omitempty"` // "memory", "file" or "firestore"
	FilePath   string `json:"filePath,omitempty"`

	FirestoreProject         string `json:"firestoreProject,omitempty"`
	FirestoreDatabase        string `json:"firestoreDatabase,omitempty"`
	FirestoreCollection      string `json:"firestoreCollection,omitempty"`
	FirestoreNamespace       string `json:"firestoreNamespace,omitempty"`
	FirestoreCredentialsFile string `json:"firestoreCredentialsFile,omitempty"`

	EncryptionKey Secret `json:"encryptionKey,omitempty"`
}

// GuardConfig tunes the request guard
type GuardConfig struct {
	AttemptTimeout time.Duration `json:"attemptTimeout,omitempty"`
}

// ServerConfig describes the local bridge listener
type ServerConfig struct {
	Addr           string   `json:"addr"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// Config represents the config structure with resolved values
type Config struct {
	Version  string            `json:"version"`
	Identity IdentityConfig    `json:"identity"`
	Session  SessionConfig     `json:"session"`
	Guard    GuardConfig       `json:"guard"`
	Backends map[string]string `json:"backends"`
	Server   ServerConfig      `json:"server"`
}

// ParseConfigValue parses a JSON value that is either a plain string or an
// {"$env": "VAR"} reference, resolving the reference immediately
func ParseConfigValue(raw json.RawMessage) (string, error) {
	// Try plain string first
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, nil
	}

	var ref map[string]string
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("config value must be string or reference object")
	}

	envVar, ok := ref["$env"]
	if !ok {
		return "", fmt.Errorf("unknown reference type in config value")
	}
	value := os.Getenv(envVar)
	if value == "" {
		return "", fmt.Errorf("environment variable %s not set", envVar)
	}
	// Strip surrounding quotes if present (only matching pairs)
	if len(value) >= 2 {
		if (value[0] == '"' && value[len(value)-1] == '"') ||
			(value[0] == '\'' && value[len(value)-1] == '\'') {
			value = value[1 : len(value)-1]
		}
	}
	return value, nil
}

// ParseConfigValueMap parses a map whose values may be references
func ParseConfigValueMap(raw map[string]json.RawMessage) (map[string]string, error) {
	values := make(map[string]string, len(raw))
	for key, item := range raw {
		v, err := ParseConfigValue(item)
		if err != nil {
			return nil, fmt.Errorf("parsing key %s: %w", key, err)
		}
		values[key] = v
	}
	return values, nil
}

package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// parseOptional resolves raw into *dst when present
func parseOptional(raw json.RawMessage, name string, dst *string) error {
	if raw == nil {
		return nil
	}
	v, err := ParseConfigValue(raw)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = v
	return nil
}

func parseDuration(s, name string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

// UnmarshalJSON implements custom unmarshaling for IdentityConfig
func (c *IdentityConfig) UnmarshalJSON(data []byte) error {
	type rawIdentity struct {
		BaseURL    json.RawMessage `json:"baseURL"`
		MePath     string          `json:"mePath"`
		TokenPath  string          `json:"tokenPath"`
		LoginURL   json.RawMessage `json:"loginURL"`
		LogoutURL  json.RawMessage `json:"logoutURL"`
		Addressing string          `json:"addressing"`
		Timeout    string          `json:"timeout"`
	}

	var raw rawIdentity
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.MePath = raw.MePath
	c.TokenPath = raw.TokenPath
	c.Addressing = raw.Addressing

	if err := parseOptional(raw.BaseURL, "baseURL", &c.BaseURL); err != nil {
		return err
	}
	if err := parseOptional(raw.LoginURL, "loginURL", &c.LoginURL); err != nil {
		return err
	}
	if err := parseOptional(raw.LogoutURL, "logoutURL", &c.LogoutURL); err != nil {
		return err
	}
	return parseDuration(raw.Timeout, "timeout", &c.Timeout)
}

// UnmarshalJSON implements custom unmarshaling for SessionConfig
func (c *SessionConfig) UnmarshalJSON(data []byte) error {
	type rawSession struct {
		StartURL                 json.RawMessage `json:"startURL"`
		QueryParam               string          `json:"queryParam"`
		StorageKey               string          `json:"storageKey"`
		Storage                  string          `json:"storage"`
		FilePath                 json.RawMessage `json:"filePath"`
		FirestoreProject         json.RawMessage `json:"firestoreProject"`
		FirestoreDatabase        string          `json:"firestoreDatabase"`
		FirestoreCollection      string          `json:"firestoreCollection"`
		FirestoreNamespace       string          `json:"firestoreNamespace"`
		FirestoreCredentialsFile json.RawMessage `json:"firestoreCredentialsFile"`
		EncryptionKey            json.RawMessage `json:"encryptionKey"`
	}

	var raw rawSession
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	c.QueryParam = raw.QueryParam
	c.StorageKey = raw.StorageKey
	c.Storage = raw.Storage
	c.FirestoreDatabase = raw.FirestoreDatabase
	c.FirestoreCollection = raw.FirestoreCollection
	c.FirestoreNamespace = raw.FirestoreNamespace

	if err := parseOptional(raw.StartURL, "startURL", &c.StartURL); err != nil {
		return err
	}
	if err := parseOptional(raw.FilePath, "filePath", &c.FilePath); err != nil {
		return err
	}
	if err := parseOptional(raw.FirestoreProject, "firestoreProject", &c.FirestoreProject); err != nil {
		return err
	}
	if err := parseOptional(raw.FirestoreCredentialsFile, "firestoreCredentialsFile", &c.FirestoreCredentialsFile); err != nil {
		return err
	}

	var key string
	if err := parseOptional(raw.EncryptionKey, "encryptionKey", &key); err != nil {
		return err
	}
	c.EncryptionKey = Secret(key)
	return nil
}

// UnmarshalJSON implements custom unmarshaling for GuardConfig
func (c *GuardConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		AttemptTimeout string `json:"attemptTimeout"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	return parseDuration(raw.AttemptTimeout, "attemptTimeout", &c.AttemptTimeout)
}

// UnmarshalJSON implements custom unmarshaling for ServerConfig
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw struct {
		Addr           json.RawMessage `json:"addr"`
		AllowedOrigins []string        `json:"allowedOrigins"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.AllowedOrigins = raw.AllowedOrigins
	return parseOptional(raw.Addr, "addr", &c.Addr)
}

// UnmarshalJSON implements custom unmarshaling for Config so backend URLs
// may be env references
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw struct {
		Version  string                     `json:"version"`
		Identity IdentityConfig             `json:"identity"`
		Session  SessionConfig              `json:"session"`
		Guard    GuardConfig                `json:"guard"`
		Backends map[string]json.RawMessage `json:"backends"`
		Server   ServerConfig               `json:"server"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	backends, err := ParseConfigValueMap(raw.Backends)
	if err != nil {
		return fmt.Errorf("parsing backends: %w", err)
	}

	c.Version = raw.Version
	c.Identity = raw.Identity
	c.Session = raw.Session
	c.Guard = raw.Guard
	c.Backends = backends
	c.Server = raw.Server
	return nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

// ValidationResult holds validation errors and warnings
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidationError represents a validation issue
type ValidationError struct {
	Path    string
	Message string
}

// IsValid returns true if there are no errors
func (v *ValidationResult) IsValid() bool {
	return len(v.Errors) == 0
}

func (v *ValidationResult) addError(path, format string, args ...any) {
	v.Errors = append(v.Errors, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (v *ValidationResult) addWarning(path, format string, args ...any) {
	v.Warnings = append(v.Warnings, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
}

// ValidateFile validates a config file structure without requiring env vars
func ValidateFile(path string) (*ValidationResult, error) {
	result := &ValidationResult{}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var rawConfig map[string]any
	if err := json.Unmarshal(data, &rawConfig); err != nil {
		result.addError("", "invalid JSON: %v", err)
		return result, nil
	}

	checkBashStyleSyntax(rawConfig, "", result)

	version, ok := rawConfig["version"].(string)
	if !ok {
		result.addError("version", "version field is required. Hint: Add \"version\": \"%s\"", VersionPrefix)
	} else if !strings.HasPrefix(version, VersionPrefix) {
		result.addError("version", "unsupported version '%s' - use '%s' or '%s-<variant>'", version, VersionPrefix, VersionPrefix)
	}

	validateIdentityStructure(rawConfig, result)
	validateSessionStructure(rawConfig, result)
	validateGuardStructure(rawConfig, result)
	validateBackendsStructure(rawConfig, result)

	return result, nil
}

func validateIdentityStructure(rawConfig map[string]any, result *ValidationResult) {
	identity, ok := rawConfig["identity"].(map[string]any)
	if !ok {
		result.addError("identity", "identity section is required. Hint: Add \"identity\": {\"baseURL\": \"%s\"}", DefaultAPIBase)
		return
	}
	if _, ok := identity["baseURL"]; !ok {
		result.addError("identity.baseURL", "baseURL is required")
	}
	if addressing, ok := identity["addressing"].(string); ok &&
		addressing != AddressingQuery && addressing != AddressingCookie {
		result.addError("identity.addressing", "addressing must be '%s' or '%s', got '%s'", AddressingQuery, AddressingCookie, addressing)
	}
	validateDurationField(identity, "timeout", "identity.timeout", result)
}

func validateSessionStructure(rawConfig map[string]any, result *ValidationResult) {
	session, ok := rawConfig["session"].(map[string]any)
	if !ok {
		return
	}

	storage, _ := session["storage"].(string)
	switch storage {
	case "", StorageMemory, StorageFile, StorageFirestore:
	default:
		result.addError("session.storage", "storage must be one of memory, file, firestore - got '%s'", storage)
	}

	key, hasKey := session["encryptionKey"]
	if hasKey {
		if err := validateEnvVarReference(key, "encryptionKey", "session.encryptionKey"); err != nil {
			result.Errors = append(result.Errors, *err)
		}
	}

	if storage == StorageFirestore {
		if _, ok := session["firestoreProject"]; !ok {
			result.addError("session.firestoreProject", "firestoreProject is required when using firestore storage")
		}
		if !hasKey {
			result.addError("session.encryptionKey", "encryptionKey is required when using firestore storage")
		}
	}
	if storage == StorageMemory {
		result.addWarning("session.storage", "memory storage forgets the session identifier on restart")
	}
}

func validateGuardStructure(rawConfig map[string]any, result *ValidationResult) {
	guard, ok := rawConfig["guard"].(map[string]any)
	if !ok {
		return
	}
	d, ok := validateDurationField(guard, "attemptTimeout", "guard.attemptTimeout", result)
	if ok && d > DefaultAttemptTimeout {
		result.addWarning("guard.attemptTimeout", "attemptTimeout %s exceeds the %s upper bound backends are tuned for", d, DefaultAttemptTimeout)
	}
}

func validateBackendsStructure(rawConfig map[string]any, result *ValidationResult) {
	backends, ok := rawConfig["backends"].(map[string]any)
	if !ok || len(backends) == 0 {
		result.addError("backends", "at least one backend is required. Hint: Add \"backends\": {\"classifier\": \"https://...\"}")
		return
	}
	for name, v := range backends {
		switch ref := v.(type) {
		case string:
		case map[string]any:
			if _, hasEnv := ref["$env"]; !hasEnv {
				result.addError("backends."+name, "backend URL must be a string or {\"$env\": \"VAR\"}")
			}
		default:
			result.addError("backends."+name, "backend URL must be a string, not %T", v)
		}
	}
}

func validateDurationField(section map[string]any, key, path string, result *ValidationResult) (time.Duration, bool) {
	v, ok := section[key]
	if !ok {
		return 0, false
	}
	s, isString := v.(string)
	if !isString {
		result.addError(path, "%s must be a duration string like \"2m\", not %T", key, v)
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		result.addError(path, "invalid duration '%s': %v", s, err)
		return 0, false
	}
	return d, true
}

// validateEnvVarReference validates that a field uses proper env var reference format
func validateEnvVarReference(value any, fieldName, path string) *ValidationError {
	switch v := value.(type) {
	case string:
		bashStyleRegex := regexp.MustCompile(`\$\{?([A-Z_][A-Z0-9_]*)\}?`)
		if matches := bashStyleRegex.FindStringSubmatch(v); len(matches) > 1 {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", v, matches[1]),
			}
		}
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must use environment variable reference {\"$env\": \"YOUR_ENV_VAR\"} instead of plain text. Hint: This keeps secrets out of config files", fieldName),
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; !hasEnv {
			return &ValidationError{
				Path:    path,
				Message: fmt.Sprintf("%s must use {\"$env\": \"YOUR_ENV_VAR\"} format", fieldName),
			}
		}
		return nil
	default:
		return &ValidationError{
			Path:    path,
			Message: fmt.Sprintf("%s must be an environment variable reference {\"$env\": \"YOUR_ENV_VAR\"}, not %T", fieldName, value),
		}
	}
}

// checkBashStyleSyntax recursively checks for bash-style env var syntax
func checkBashStyleSyntax(value any, path string, result *ValidationResult) {
	bashStyleRegex := regexp.MustCompile(`\$\{?[A-Z_][A-Z0-9_]*\}?`)

	switch v := value.(type) {
	case string:
		for _, match := range bashStyleRegex.FindAllString(v, -1) {
			varName := strings.Trim(match, "${}")
			result.addWarning(path, "found bash-style syntax '%s' - use {\"$env\": \"%s\"} instead", match, varName)
		}
	case map[string]any:
		if _, hasEnv := v["$env"]; hasEnv {
			return
		}
		for key, val := range v {
			newPath := key
			if path != "" {
				newPath = path + "." + key
			}
			checkBashStyleSyntax(val, newPath, result)
		}
	case []any:
		for i, item := range v {
			checkBashStyleSyntax(item, fmt.Sprintf("%s[%d]", path, i), result)
		}
	}
}

package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfigValue(t *testing.T) {
	t.Setenv("HSEAI_TEST_QUOTED", `"quoted-value"`)
	t.Setenv("HSEAI_TEST_PLAIN", "plain-value")

	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr string
	}{
		{"plain string", `"https://api.example.com"`, "https://api.example.com", ""},
		{"env reference", `{"$env": "HSEAI_TEST_PLAIN"}`, "plain-value", ""},
		{"env reference strips quotes", `{"$env": "HSEAI_TEST_QUOTED"}`, "quoted-value", ""},
		{"unset env", `{"$env": "HSEAI_TEST_DOES_NOT_EXIST"}`, "", "not set"},
		{"unknown reference", `{"$file": "/etc/key"}`, "", "unknown reference type"},
		{"number", `42`, "", "must be string or reference object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseConfigValue(json.RawMessage(tt.raw))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityConfigUnmarshal(t *testing.T) {
	t.Setenv("HSEAI_TEST_LOGIN", "https://idp.example.com/login")

	var c IdentityConfig
	require.NoError(t, json.Unmarshal([]byte(`{
		"baseURL": "https://api.example.com",
		"loginURL": {"$env": "HSEAI_TEST_LOGIN"},
		"addressing": "cookie",
		"timeout": "45s"
	}`), &c))

	assert.Equal(t, "https://api.example.com", c.BaseURL)
	assert.Equal(t, "https://idp.example.com/login", c.LoginURL)
	assert.Equal(t, AddressingCookie, c.Addressing)
	assert.Equal(t, 45*time.Second, c.Timeout)
}

func TestDurationParsing(t *testing.T) {
	var g GuardConfig
	require.NoError(t, json.Unmarshal([]byte(`{"attemptTimeout": "2m"}`), &g))
	assert.Equal(t, 2*time.Minute, g.AttemptTimeout)

	err := json.Unmarshal([]byte(`{"attemptTimeout": "two minutes"}`), &g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing attemptTimeout")

	var id IdentityConfig
	assert.Error(t, json.Unmarshal([]byte(`{"timeout": "soon"}`), &id))
}

func TestBackendsEnvReferences(t *testing.T) {
	t.Setenv("HSEAI_TEST_RAG_URL", "https://ml.example.com/rag")

	var c Config
	require.NoError(t, json.Unmarshal([]byte(`{
		"version": "v1",
		"backends": {
			"classifier": "https://ml.example.com/cls",
			"rag": {"$env": "HSEAI_TEST_RAG_URL"}
		}
	}`), &c))

	assert.Equal(t, map[string]string{
		"classifier": "https://ml.example.com/cls",
		"rag":        "https://ml.example.com/rag",
	}, c.Backends)
}

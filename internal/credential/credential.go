// Package credential holds the short-lived model access credential and the
// single freshness predicate every consumer uses.
package credential

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/dimaakimm/hseai-session/internal/autherr"
	"golang.org/x/oauth2"
)

// Skew is subtracted from the expiry before comparing against now so a token
// is never sent in its last seconds of validity.
const Skew = 10 * time.Second

// AccessCredential is a bearer token for the inference backends.
// Fields is treated as read-only once the credential is stored.
type AccessCredential struct {
	Token     string
	ExpiresAt int64 // epoch seconds, already floored
	TokenType string
	Fields    map[string]any
}

// Fresh reports whether c is usable at now: now < ExpiresAt - Skew.
// A nil credential is never fresh.
func Fresh(c *AccessCredential, now time.Time) bool {
	if c == nil || c.Token == "" || c.ExpiresAt <= 0 {
		return false
	}
	return now.Unix() < c.ExpiresAt-int64(Skew/time.Second)
}

// Expiry returns ExpiresAt as a time.Time.
func (c AccessCredential) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0)
}

// OAuth2 converts c to an oauth2.Token carrying Fields as extras, so callers
// can use SetAuthHeader and the oauth2 transport helpers.
func (c AccessCredential) OAuth2() *oauth2.Token {
	tok := &oauth2.Token{
		AccessToken: c.Token,
		TokenType:   c.TokenType,
		Expiry:      c.Expiry(),
	}
	if rt, ok := c.Fields["refresh_token"].(string); ok {
		tok.RefreshToken = rt
	}
	if len(c.Fields) == 0 {
		return tok
	}
	return tok.WithExtra(c.Fields)
}

// ParseEnvelope decodes a credential-exchange response body. The envelope
// carries access_token and expires_at (epoch seconds, possibly fractional);
// every other key is kept in Fields unchanged. When expires_at is absent but
// expires_in is present the expiry is computed from now.
func ParseEnvelope(body []byte, now time.Time) (AccessCredential, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return AccessCredential{}, fmt.Errorf("%w: decoding envelope: %v", autherr.ErrMalformedCredential, err)
	}
	return FromFields(raw, now)
}

// FromFields builds a credential from an already decoded envelope, as found
// embedded in the identity response under model_tokens.
func FromFields(raw map[string]any, now time.Time) (AccessCredential, error) {
	if raw == nil {
		return AccessCredential{}, fmt.Errorf("%w: empty envelope", autherr.ErrMalformedCredential)
	}

	token, _ := raw["access_token"].(string)
	token = strings.TrimSpace(token)
	if token == "" {
		return AccessCredential{}, fmt.Errorf("%w: access_token missing", autherr.ErrMalformedCredential)
	}

	expiresAt, ok := epochSeconds(raw["expires_at"])
	if !ok {
		if in, ok := epochSeconds(raw["expires_in"]); ok {
			expiresAt = now.Unix() + in
		}
	}
	if expiresAt <= 0 {
		return AccessCredential{}, fmt.Errorf("%w: expires_at missing", autherr.ErrMalformedCredential)
	}

	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if k == "access_token" || k == "expires_at" {
			continue
		}
		fields[k] = v
	}

	tokenType, _ := raw["token_type"].(string)
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return AccessCredential{
		Token:     token,
		ExpiresAt: expiresAt,
		TokenType: tokenType,
		Fields:    fields,
	}, nil
}

// epochSeconds floors a JSON number (or numeric string) to whole seconds.
func epochSeconds(v any) (int64, bool) {
	var f float64
	switch n := v.(type) {
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case float64:
		f = n
	case int64:
		return n, n > 0
	case int:
		return int64(n), n > 0
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return int64(math.Floor(f)), true
}

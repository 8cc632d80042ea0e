// Package identity calls the first-party identity endpoint.
package identity

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// User is the signed-in user. Keys the endpoint adds beyond the known ones
// are kept in Extra.
type User struct {
	Name              string         `json:"name"`
	GivenName         string         `json:"given_name"`
	FamilyName        string         `json:"family_name"`
	Email             string         `json:"email"`
	EmailVerified     bool           `json:"email_verified"`
	PreferredUsername string         `json:"preferred_username,omitempty"`
	Extra             map[string]any `json:"-"`
}

var userKeys = map[string]struct{}{
	"name": {}, "given_name": {}, "family_name": {}, "email": {},
	"email_verified": {}, "preferred_username": {},
}

func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := extraFields(data, userKeys)
	if err != nil {
		return err
	}
	*u = User(p)
	u.Extra = extra
	return nil
}

func (u User) MarshalJSON() ([]byte, error) {
	type plain User
	return mergeFields(plain(u), u.Extra)
}

// Identity is one answer of the identity endpoint. It is replaced wholesale
// on every check and never mutated.
type Identity struct {
	User             User    `json:"user"`
	SessionCreatedAt float64 `json:"session_created_at"`
	// ModelTokens is the credential envelope, when the endpoint hands one out
	// together with the identity.
	ModelTokens map[string]any `json:"model_tokens,omitempty"`
	Extra       map[string]any `json:"-"`
}

var identityKeys = map[string]struct{}{
	"user": {}, "session_created_at": {}, "model_tokens": {},
}

func (i *Identity) UnmarshalJSON(data []byte) error {
	type plain Identity
	var p plain
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return err
	}
	extra, err := extraFields(data, identityKeys)
	if err != nil {
		return err
	}
	*i = Identity(p)
	i.Extra = extra
	return nil
}

// MarshalJSON omits the credential envelope so identities can be shown to a
// UI without leaking the token.
func (i Identity) MarshalJSON() ([]byte, error) {
	type plain Identity
	p := plain(i)
	p.ModelTokens = nil
	return mergeFields(p, i.Extra)
}

// DisplayName picks the most human name available.
func (i *Identity) DisplayName() string {
	switch {
	case i == nil:
		return ""
	case i.User.Name != "":
		return i.User.Name
	case i.User.PreferredUsername != "":
		return i.User.PreferredUsername
	}
	return i.User.Email
}

func extraFields(data []byte, known map[string]struct{}) (map[string]any, error) {
	var all map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&all); err != nil {
		return nil, err
	}
	var extra map[string]any
	for k, v := range all {
		if _, ok := known[k]; ok {
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra, nil
}

func mergeFields(v any, extra map[string]any) ([]byte, error) {
	base, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if len(extra) == 0 {
		return base, nil
	}
	var merged map[string]any
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("merging extra fields: %w", err)
	}
	for k, val := range extra {
		if _, ok := merged[k]; !ok {
			merged[k] = val
		}
	}
	return json.Marshal(merged)
}

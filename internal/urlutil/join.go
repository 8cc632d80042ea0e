package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath safely joins URL paths, handling trailing and leading slashes correctly
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	// Preserve trailing slash if the last path component had one
	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// MustJoinPath is like JoinPath but panics on error (for use with known-good URLs)
func MustJoinPath(base string, paths ...string) string {
	result, err := JoinPath(base, paths...)
	if err != nil {
		panic(err)
	}
	return result
}

// SetQueryParam returns a copy of u with key set to value, replacing any
// previous values. Other parameters keep their order-independent encoding.
func SetQueryParam(u *url.URL, key, value string) *url.URL {
	out := *u
	q := out.Query()
	q.Set(key, value)
	out.RawQuery = q.Encode()
	return &out
}

// QueryParam returns the trimmed value of key and whether it is non-empty.
func QueryParam(u *url.URL, key string) (string, bool) {
	if u == nil {
		return "", false
	}
	v := strings.TrimSpace(u.Query().Get(key))
	return v, v != ""
}

// StripQueryParam returns a copy of u without key, and whether key was present.
// Fragments and the remaining parameters are preserved.
func StripQueryParam(u *url.URL, key string) (*url.URL, bool) {
	out := *u
	q := out.Query()
	if !q.Has(key) {
		return &out, false
	}
	q.Del(key)
	out.RawQuery = q.Encode()
	return &out, true
}

package auth

import (
	"net/url"
	"strings"
)

// SafeRedirectPath returns candidate when it is a same-origin relative path starting
// with "/", and "/" otherwise.
func SafeRedirectPath(candidate string) string {
	if candidate == "" {
		return "/"
	}
	u, err := url.Parse(candidate)
	if err != nil || u.IsAbs() || u.Host != "" || !strings.HasPrefix(u.Path, "/") ||
		strings.HasPrefix(candidate, "//") || strings.Contains(candidate, `\`) {
		return "/"
	}
	return candidate
}

// LoginURL returns the login location that returns to attempted after sign-in.
// Unsafe attempted paths are replaced by "/".
func LoginURL(attempted string) string {
	q := url.Values{}
	q.Set("redirect_uri", SafeRedirectPath(attempted))
	return LoginPath + "?" + q.Encode()
}

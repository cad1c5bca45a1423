package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/NERVsystems/overpassmap/pkg/core"
)

// Supported values for HTTPTransportConfig.AuthType.
const (
	AuthNone   = "none"
	AuthBearer = "bearer"
	AuthBasic  = "basic"
)

// secureCompare compares two secrets in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

var weakTokens = []string{
	"password", "secret", "token", "admin", "test", "default",
	"12345", "123456", "password123", "secret123", "admin123",
}

// ValidateAuthToken rejects tokens that are empty, short or contain a common word.
func ValidateAuthToken(token string) error {
	if token == "" {
		return core.NewValidationError("authentication token cannot be empty")
	}
	if len(token) < 16 {
		return core.NewError(core.ErrInvalidInput, "authentication token is too short").
			WithGuidance("Use a token with at least 16 characters.")
	}

	lower := strings.ToLower(token)
	for _, weak := range weakTokens {
		if strings.Contains(lower, weak) {
			return core.NewError(core.ErrInvalidInput, "authentication token appears to be weak").
				WithGuidance("Use a randomly generated token.")
		}
	}
	return nil
}

// authenticate checks r against the configured credentials and returns a
// reason when access is denied.
func authenticate(r *http.Request, authType, expected string) (bool, string) {
	switch authType {
	case "", AuthNone:
		return true, ""
	case AuthBearer:
		header := r.Header.Get("Authorization")
		if header == "" {
			return false, "missing Authorization header"
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || scheme != "Bearer" {
			return false, "invalid Authorization header format"
		}
		if !secureCompare(token, expected) {
			return false, "invalid bearer token"
		}
		return true, ""
	case AuthBasic:
		user, pass, ok := r.BasicAuth()
		if !ok || user == "" || pass == "" {
			return false, "missing basic auth credentials"
		}
		if !secureCompare(user+":"+pass, expected) {
			return false, "invalid basic auth credentials"
		}
		return true, ""
	default:
		return false, "unknown auth type"
	}
}

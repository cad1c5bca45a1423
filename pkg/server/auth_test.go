package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateAuthToken(t *testing.T) {
	tests := []struct {
		token   string
		wantErr bool
	}{
		{"", true},
		{"short", true},
		{"my-secret-value-long", true},
		{"Password123456789", true},
		{testToken, false},
	}
	for _, tt := range tests {
		if err := ValidateAuthToken(tt.token); (err != nil) != tt.wantErr {
			t.Errorf("ValidateAuthToken(%q) err = %v, wantErr %v", tt.token, err, tt.wantErr)
		}
	}
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name     string
		authType string
		expected string
		header   string
		user     string
		pass     string
		want     bool
	}{
		{name: "none", authType: AuthNone, want: true},
		{name: "empty type", authType: "", want: true},
		{name: "bearer", authType: AuthBearer, expected: testToken, header: "Bearer " + testToken, want: true},
		{name: "bearer lowercase scheme", authType: AuthBearer, expected: testToken, header: "bearer " + testToken},
		{name: "bearer prefix of token", authType: AuthBearer, expected: testToken, header: "Bearer " + testToken[:8]},
		{name: "bearer missing", authType: AuthBearer, expected: testToken},
		{name: "basic", authType: AuthBasic, expected: "mapper:" + testToken, user: "mapper", pass: testToken, want: true},
		{name: "basic wrong user", authType: AuthBasic, expected: "mapper:" + testToken, user: "other", pass: testToken},
		{name: "basic empty password", authType: AuthBasic, expected: "mapper:", user: "mapper"},
		{name: "unknown type", authType: "digest", expected: testToken, header: "Bearer " + testToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/sse", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if tt.user != "" {
				r.SetBasicAuth(tt.user, tt.pass)
			}

			ok, reason := authenticate(r, tt.authType, tt.expected)
			if ok != tt.want {
				t.Errorf("authenticate() = %v (%s), want %v", ok, reason, tt.want)
			}
			if !ok && reason == "" {
				t.Error("denied without a reason")
			}
		})
	}
}

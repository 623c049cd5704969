package origin

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		wantNorm string
		wantHost string
		wantOK   bool
	}{
		{"simple http", "http://example.com", "http://example.com", "example.com", true},
		{"uppercase host", "https://EXAMPLE.com", "https://example.com", "example.com", true},
		{"default http port stripped", "http://example.com:80", "http://example.com", "example.com", true},
		{"default https port stripped", "https://example.com:443", "https://example.com", "example.com", true},
		{"explicit port kept", "http://example.com:3000", "http://example.com:3000", "example.com:3000", true},
		{"ipv6 literal", "http://[::1]:3000", "http://[::1]:3000", "[::1]:3000", true},
		{"null origin", "null", "null", "", true},
		{"surrounding whitespace", "  http://example.com  ", "http://example.com", "example.com", true},
		{"empty", "", "", "", false},
		{"no scheme", "example.com", "", "", false},
		{"bad scheme", "ftp://example.com", "", "", false},
		{"path not allowed", "http://example.com/app", "", "", false},
		{"userinfo not allowed", "http://user@example.com", "", "", false},
		{"query not allowed", "http://example.com?x=1", "", "", false},
		{"port zero", "http://example.com:0", "", "", false},
		{"port out of range", "http://example.com:70000", "", "", false},
		{"unbracketed ipv6", "http://::1", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			norm, host, ok := Normalize(tt.header)
			if ok != tt.wantOK {
				t.Fatalf("Normalize(%q) ok = %v, want %v", tt.header, ok, tt.wantOK)
			}
			if norm != tt.wantNorm || host != tt.wantHost {
				t.Fatalf("Normalize(%q) = (%q, %q), want (%q, %q)", tt.header, norm, host, tt.wantNorm, tt.wantHost)
			}
		})
	}
}

func TestIsAllowed_Allowlist(t *testing.T) {
	allow := []string{"http://app.example.com", "http://localhost:5173"}

	if !IsAllowed("http://app.example.com", "app.example.com", "relay.internal", allow) {
		t.Fatalf("allowlisted origin rejected")
	}
	if IsAllowed("http://evil.example.com", "evil.example.com", "relay.internal", allow) {
		t.Fatalf("non-allowlisted origin accepted")
	}
	if !IsAllowed("http://anything.example.com", "anything.example.com", "relay.internal", []string{"*"}) {
		t.Fatalf("wildcard allowlist rejected origin")
	}
}

func TestIsAllowed_SameHostDefault(t *testing.T) {
	if !IsAllowed("http://relay.example.com", "relay.example.com", "relay.example.com", nil) {
		t.Fatalf("same-host origin rejected")
	}
	// Default port in the request Host is equivalent.
	if !IsAllowed("http://relay.example.com", "relay.example.com", "relay.example.com:80", nil) {
		t.Fatalf("same-host origin with default request port rejected")
	}
	if IsAllowed("http://other.example.com", "other.example.com", "relay.example.com", nil) {
		t.Fatalf("cross-host origin accepted without allowlist")
	}
	if IsAllowed("null", "", "relay.example.com", nil) {
		t.Fatalf("null origin accepted without allowlist")
	}
}

package devicefp

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseKnownAgents(t *testing.T) {
	tests := []struct {
		name        string
		userAgent   string
		browser     string
		os          string
		deviceClass string
	}{
		{
			name:        "chrome on windows",
			userAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			browser:     "Chrome",
			os:          "Windows",
			deviceClass: "Desktop",
		},
		{
			name:        "safari on iphone",
			userAgent:   "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
			browser:     "Safari",
			os:          "iOS",
			deviceClass: "Mobile",
		},
		{
			name:        "firefox on linux",
			userAgent:   "Mozilla/5.0 (X11; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
			browser:     "Firefox",
			os:          "Linux",
			deviceClass: "Desktop",
		},
		{
			name:        "edge on windows",
			userAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			browser:     "Edge",
			os:          "Windows",
			deviceClass: "Desktop",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := Parse(tt.userAgent)
			assert.Equal(t, tt.browser, info.Browser)
			assert.Equal(t, tt.os, info.OS)
			assert.Equal(t, tt.deviceClass, info.DeviceClass)
		})
	}
}

func TestParseUnknownAgentDefaults(t *testing.T) {
	info := Parse("")
	assert.Equal(t, "Unknown", info.Browser)
	assert.Equal(t, "Unknown", info.OS)
	assert.Equal(t, "Unknown", info.DeviceClass)

	info = Parse("curl/8.4.0")
	assert.Equal(t, "Unknown", info.Browser)
	assert.Equal(t, "Unknown", info.OS)
	assert.Equal(t, "Unknown", info.DeviceClass)
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:4321"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.2")
	r.Header.Set("X-Real-IP", "198.51.100.9")

	assert.Equal(t, "203.0.113.7", ClientIP(r).String())
}

func TestClientIPFallsBackToRealIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:4321"
	r.Header.Set("X-Real-IP", "198.51.100.9")

	assert.Equal(t, "198.51.100.9", ClientIP(r).String())
}

func TestClientIPUsesRemoteAddr(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "10.0.0.1:4321"

	assert.Equal(t, "10.0.0.1", ClientIP(r).String())
}

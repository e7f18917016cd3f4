package gate

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	desktopChrome = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	iphoneSafari  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
	googlebot     = "Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)"
)

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"remote addr", nil, "203.0.113.5:51234", "203.0.113.5"},
		{"remote addr without port", nil, "203.0.113.5", "203.0.113.5"},
		{"forwarded list", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.0.0.1"}, "10.0.0.2:80", "198.51.100.1"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.2"}, "10.0.0.2:80", "198.51.100.2"},
		{"cloudflare", map[string]string{"CF-Connecting-IP": "198.51.100.3"}, "10.0.0.2:80", "198.51.100.3"},
		{"garbage header falls through", map[string]string{"X-Forwarded-For": "unknown", "X-Real-IP": "198.51.100.4"}, "10.0.0.2:80", "198.51.100.4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}

			assert.Equal(t, tt.want, ExtractClient(r).IP)
		})
	}
}

func TestExtractClientDevice(t *testing.T) {
	tests := []struct {
		name       string
		ua         string
		wantDevice string
	}{
		{"desktop", desktopChrome, "desktop"},
		{"mobile", iphoneSafari, "mobile"},
		{"bot", googlebot, "bot"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.Header.Set("User-Agent", tt.ua)

			c := ExtractClient(r)
			assert.Equal(t, tt.wantDevice, c.DeviceType)
			assert.Equal(t, tt.ua, c.UserAgent)
		})
	}

	r := httptest.NewRequest("GET", "/", nil)
	r.Header.Set("User-Agent", desktopChrome)
	assert.Contains(t, ExtractClient(r).Browser, "Chrome")
}

func TestIsPrivateIP(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1":    true,
		"10.1.2.3":     true,
		"172.16.0.1":   true,
		"192.168.1.1":  true,
		"::1":          true,
		"fd00::1":      true,
		"8.8.8.8":      false,
		"203.0.113.10": false,
		"not-an-ip":    false,
	}

	for ip, want := range tests {
		assert.Equal(t, want, IsPrivateIP(ip), ip)
	}
}

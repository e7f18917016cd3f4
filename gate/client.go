package gate

import (
	"net"
	"net/http"
	"strings"

	"github.com/mssola/useragent"
)

// Client describes the viewer behind an HTTP request.
type Client struct {
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`
	DeviceType string `json:"device_type"` // mobile, desktop, tablet, bot
}

// ipHeaders are consulted in order before RemoteAddr.
var ipHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

var tabletHints = []string{"ipad", "tablet", "playbook", "silk"}

// ExtractClient describes the viewer of r.
func ExtractClient(r *http.Request) Client {
	ua := r.UserAgent()
	parsed := useragent.New(ua)

	browser, version := parsed.Browser()
	if version != "" {
		browser += " " + version
	}

	osInfo := parsed.OSInfo()
	osName := osInfo.Name
	if osInfo.Version != "" {
		osName += " " + osInfo.Version
	}

	return Client{
		IP:         clientIP(r),
		UserAgent:  ua,
		Browser:    browser,
		OS:         osName,
		DeviceType: deviceType(parsed, ua),
	}
}

func deviceType(parsed *useragent.UserAgent, ua string) string {
	switch {
	case parsed.Mobile():
		return "mobile"
	case parsed.Bot():
		return "bot"
	}

	lower := strings.ToLower(ua)
	for _, hint := range tabletHints {
		if strings.Contains(lower, hint) {
			return "tablet"
		}
	}
	return "desktop"
}

// clientIP prefers proxy headers and falls back to RemoteAddr.
// X-Forwarded-For may hold a list; the first entry is the client.
func clientIP(r *http.Request) string {
	for _, h := range ipHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		first, _, _ := strings.Cut(v, ",")
		if ip := strings.TrimSpace(first); net.ParseIP(ip) != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// IsPrivateIP reports whether ip is loopback or in a private range.
// Such addresses have no useful location.
func IsPrivateIP(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback() || parsed.IsPrivate()
}

package devicefp

import (
	"net"
	"net/http"
	"strings"

	"session-service/internal/models"
)

const unknown = "Unknown"

// FromRequest extracts descriptive device info from the User-Agent header.
// Best effort only: the result is stored for the user's "your devices" view
// and never used for security decisions, so unmatched agents simply come
// back as Unknown.
func FromRequest(r *http.Request) models.DeviceInfo {
	return Parse(r.UserAgent())
}

func Parse(userAgent string) models.DeviceInfo {
	info := models.DeviceInfo{
		Browser:     unknown,
		OS:          unknown,
		DeviceClass: unknown,
	}
	if userAgent == "" {
		return info
	}

	ua := strings.ToLower(userAgent)

	switch {
	case strings.Contains(ua, "edg/"):
		info.Browser = "Edge"
	case strings.Contains(ua, "opr/") || strings.Contains(ua, "opera"):
		info.Browser = "Opera"
	case strings.Contains(ua, "chrome/"):
		info.Browser = "Chrome"
	case strings.Contains(ua, "safari/"):
		info.Browser = "Safari"
	case strings.Contains(ua, "firefox/"):
		info.Browser = "Firefox"
	}

	switch {
	case strings.Contains(ua, "windows"):
		info.OS = "Windows"
	case strings.Contains(ua, "android"):
		info.OS = "Android"
	case strings.Contains(ua, "iphone"), strings.Contains(ua, "ipad"):
		info.OS = "iOS"
	case strings.Contains(ua, "mac os"):
		info.OS = "macOS"
	case strings.Contains(ua, "linux"):
		info.OS = "Linux"
	}

	switch {
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"), strings.Contains(ua, "android"):
		info.DeviceClass = "Mobile"
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		info.DeviceClass = "Tablet"
	case info.OS != unknown:
		info.DeviceClass = "Desktop"
	}

	return info
}

// ClientIP resolves the originating address: first X-Forwarded-For entry,
// then X-Real-IP, then the socket address.
func ClientIP(r *http.Request) net.IP {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if ip := net.ParseIP(first); ip != nil {
			return ip
		}
	}

	if real := r.Header.Get("X-Real-IP"); real != "" {
		if ip := net.ParseIP(real); ip != nil {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return net.ParseIP(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

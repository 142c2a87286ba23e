package session

import "strings"

// DeviceInfo is the {type, browser, os} projection of a raw user-agent
// string used when listing sessions. No third-party UA parser appears
// anywhere in the retrieval pack, so this is a small pattern match
// covering the common browser/OS tokens rather than a full UA grammar.
type DeviceInfo struct {
	Type    string
	Browser string
	OS      string
}

func ParseUserAgent(ua string) DeviceInfo {
	lower := strings.ToLower(ua)
	info := DeviceInfo{Type: "desktop", Browser: "unknown", OS: "unknown"}

	switch {
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		info.Type = "tablet"
	case strings.Contains(lower, "mobile") || strings.Contains(lower, "iphone") || strings.Contains(lower, "android"):
		info.Type = "mobile"
	}

	switch {
	case strings.Contains(lower, "edg/"):
		info.Browser = "Edge"
	case strings.Contains(lower, "chrome/") && !strings.Contains(lower, "chromium"):
		info.Browser = "Chrome"
	case strings.Contains(lower, "firefox/"):
		info.Browser = "Firefox"
	case strings.Contains(lower, "safari/") && !strings.Contains(lower, "chrome/"):
		info.Browser = "Safari"
	}

	switch {
	case strings.Contains(lower, "windows"):
		info.OS = "Windows"
	case strings.Contains(lower, "mac os") || strings.Contains(lower, "macos"):
		info.OS = "macOS"
	case strings.Contains(lower, "android"):
		info.OS = "Android"
	case strings.Contains(lower, "iphone") || strings.Contains(lower, "ipad"):
		info.OS = "iOS"
	case strings.Contains(lower, "linux"):
		info.OS = "Linux"
	}

	return info
}

// MaskIP hides all but the caller-visible shape of an IPv4 address,
// revealing only the last octet.
func MaskIP(ip string) string {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return ip
	}
	return "***.***.***." + parts[3]
}

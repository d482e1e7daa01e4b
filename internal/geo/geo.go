// Package geo resolves a coarse visitor location from the request.
package geo

import (
	"net"
	"net/http"
	"strings"
)

// LocalDevelopment is reported for loopback and private addresses
const LocalDevelopment = "Local Development"

// Locator maps a client address to a location string. An empty result
// means the location is unknown.
type Locator interface {
	Locate(ip string, header http.Header) string
}

// HeaderLocator trusts a country code set by the edge proxy, such as
// Cloudflare's CF-IPCountry.
type HeaderLocator struct {
	CountryHeader string
}

// NewHeaderLocator creates a locator reading countryHeader
func NewHeaderLocator(countryHeader string) *HeaderLocator {
	return &HeaderLocator{CountryHeader: countryHeader}
}

func (l *HeaderLocator) Locate(ip string, header http.Header) string {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || parsed.IsLoopback() || parsed.IsUnspecified() {
		return LocalDevelopment
	}

	if l.CountryHeader != "" && header != nil {
		// XX and T1 are Cloudflare's unknown and Tor markers
		if country := strings.TrimSpace(header.Get(l.CountryHeader)); country != "" && country != "XX" && country != "T1" {
			return country
		}
	}

	if parsed.IsPrivate() || parsed.IsLinkLocalUnicast() {
		return LocalDevelopment
	}
	return ""
}

// DeviceType classifies a user agent as Mobile, Tablet, Desktop or Unknown
func DeviceType(userAgent string) string {
	if strings.TrimSpace(userAgent) == "" {
		return "Unknown"
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"), strings.Contains(ua, "iphone"):
		return "Mobile"
	case strings.Contains(ua, "tablet"), strings.Contains(ua, "ipad"):
		return "Tablet"
	}
	return "Desktop"
}

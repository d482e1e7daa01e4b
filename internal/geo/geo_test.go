package geo

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLocate(t *testing.T) {
	l := NewHeaderLocator("CF-IPCountry")
	withCountry := http.Header{}
	withCountry.Set("CF-IPCountry", "NL")
	unknown := http.Header{}
	unknown.Set("CF-IPCountry", "XX")

	tests := []struct {
		name   string
		ip     string
		header http.Header
		want   string
	}{
		{"ipv4 loopback", "127.0.0.1", withCountry, LocalDevelopment},
		{"ipv6 loopback", "::1", nil, LocalDevelopment},
		{"unparseable", "not-an-ip", nil, LocalDevelopment},
		{"edge header", "203.0.113.9", withCountry, "NL"},
		{"edge unknown marker", "203.0.113.9", unknown, ""},
		{"private without header", "10.1.2.3", nil, LocalDevelopment},
		{"public without header", "203.0.113.9", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, l.Locate(tt.ip, tt.header))
		})
	}
}

func TestDeviceType(t *testing.T) {
	assert.Equal(t, "Unknown", DeviceType(""))
	assert.Equal(t, "Mobile", DeviceType("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0)"))
	assert.Equal(t, "Mobile", DeviceType("Mozilla/5.0 (Linux; Android 14)"))
	assert.Equal(t, "Tablet", DeviceType("Mozilla/5.0 (iPad; CPU OS 17_0)"))
	assert.Equal(t, "Desktop", DeviceType("Mozilla/5.0 (X11; Linux x86_64)"))
}

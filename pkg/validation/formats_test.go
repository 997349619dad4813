package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormats(t *testing.T) {
	tests := []struct {
		name  string
		check func(string) bool
		value string
		want  bool
	}{
		{"email ok", isEmail, "ada@example.com", true},
		{"email no domain dot", isEmail, "ada@localhost", false},
		{"email garbage", isEmail, "not-an-email", false},
		{"uuid ok", isUUID, "0e3f1bf2-52a3-4d14-8f3e-6a1c6a55e1aa", true},
		{"uuid short", isUUID, "0e3f1bf2", false},
		{"hostname ok", isHostname, "api.example.com", true},
		{"hostname leading dash", isHostname, "-bad.example.com", false},
		{"ipv4 ok", isIPv4, "192.168.1.1", true},
		{"ipv4 not v6", isIPv4, "::1", false},
		{"ipv6 ok", isIPv6, "2001:db8::1", true},
		{"ip either", isIP, "10.0.0.1", true},
		{"ip garbage", isIP, "999.999.999.999", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.check(tt.value))
		})
	}
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual("a", "a"))
	assert.True(t, valuesEqual(float64(3), 3))
	assert.True(t, valuesEqual(map[string]any{"k": "v"}, map[string]any{"k": "v"}))
	assert.False(t, valuesEqual("3", float64(3)))
	assert.False(t, valuesEqual(true, false))
}

package webhooks

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		blocked bool
	}{
		{"https://example.com/hook", false},
		{"http://example.com:8080/hook", false},
		{"ftp://example.com/hook", true},
		{"gopher://example.com", true},
		{"http://localhost/hook", true},
		{"http://LOCALHOST/hook", true},
		{"http://127.0.0.1/hook", true},
		{"http://127.1.2.3/hook", true},
		{"http://0.0.0.0/hook", true},
		{"http://10.0.0.5/hook", true},
		{"http://192.168.1.1/hook", true},
		{"http://169.254.169.254/", true},
		{"http://[::1]/hook", true},
		{"http://[fd00::1]/hook", true},
		{"http://[fe80::1]/hook", true},
		// 172.16.0.0/12 boundaries.
		{"http://172.15.255.255/hook", false},
		{"http://172.16.0.0/hook", true},
		{"http://172.31.255.255/hook", true},
		{"http://172.32.0.0/hook", false},
	}
	for _, tc := range tests {
		t.Run(tc.url, func(t *testing.T) {
			err := ValidateURL(tc.url)
			if tc.blocked {
				assert.ErrorIs(t, err, ErrUnsafeURL)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestKnownEvent(t *testing.T) {
	assert.True(t, KnownEvent("*"))
	assert.True(t, KnownEvent(EventPackagePublished))
	assert.True(t, KnownEvent(EventPackageRetracted))
	assert.False(t, KnownEvent("package.exploded"))
	assert.False(t, KnownEvent(""))
}

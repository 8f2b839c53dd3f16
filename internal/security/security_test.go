package security

import (
	"crypto/tls"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterAllowsBurstThenBlocks(t *testing.T) {
	rl := NewRateLimiter(3, time.Minute)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("1.2.3.4"), "request %d", i)
	}
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "remote addr", remote: "10.0.0.1:5555", want: "10.0.0.1"},
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"}, remote: "10.0.0.1:5555", want: "203.0.113.9"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "198.51.100.7"}, remote: "10.0.0.1:5555", want: "198.51.100.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestCSRFTokens(t *testing.T) {
	g := NewCSRFGenerator([]byte("secret"))
	token := g.GenerateToken("player-1")

	assert.NotEmpty(t, token)
	assert.True(t, g.ValidateToken("player-1", token))
	assert.False(t, g.ValidateToken("player-2", token))
	assert.False(t, g.ValidateToken("player-1", ""))
	assert.Empty(t, g.GenerateToken(""))
	assert.False(t, NewCSRFGenerator([]byte("other")).ValidateToken("player-1", token))
}

func TestIdentityCookieSecureFlag(t *testing.T) {
	plain := httptest.NewRequest("GET", "http://example.com/", nil)
	assert.False(t, IdentityCookie(plain, "id", "tok", time.Now()).Secure)

	proxied := httptest.NewRequest("GET", "http://example.com/", nil)
	proxied.Header.Set("X-Forwarded-Proto", "https")
	assert.True(t, IdentityCookie(proxied, "id", "tok", time.Now()).Secure)

	direct := httptest.NewRequest("GET", "https://example.com/", nil)
	direct.TLS = &tls.ConnectionState{}
	c := ExpiredCookie(direct, "id")
	assert.True(t, c.Secure)
	assert.Equal(t, -1, c.MaxAge)
}

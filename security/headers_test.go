package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIsSecure(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name       string
		remoteAddr string
		tls        bool
		headers    map[string]string
		want       bool
	}{
		{name: "direct TLS", remoteAddr: "192.0.2.1:443", tls: true, want: true},
		{name: "plain HTTP", remoteAddr: "192.0.2.1:80", want: false},
		{
			name:       "untrusted peer claims https",
			remoteAddr: "192.0.2.1:80",
			headers:    map[string]string{"X-Forwarded-Proto": "https"},
			want:       false,
		},
		{
			name:       "untrusted peer claims Forwarded proto",
			remoteAddr: "192.0.2.1:80",
			headers:    map[string]string{"Forwarded": "for=192.0.2.1;proto=https"},
			want:       false,
		},
		{
			name:       "trusted proxy X-Forwarded-Proto",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-Proto": "HTTPS"},
			want:       true,
		},
		{
			name:       "trusted proxy Forwarded proto",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"Forwarded": "for=192.0.2.1;proto=https"},
			want:       true,
		},
		{
			name:       "trusted proxy over http",
			remoteAddr: "10.0.0.1:80",
			headers:    map[string]string{"X-Forwarded-Proto": "http"},
			want:       false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.tls {
				r.TLS = &tls.ConnectionState{}
			}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, RequestIsSecure(r, trusted))
		})
	}
}

func TestSecurityHeadersMiddleware_HSTSOnlyFromTrustedProxy(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	h := SecurityHeaders(trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	spoofed := httptest.NewRequest(http.MethodGet, "/health", nil)
	spoofed.RemoteAddr = "192.0.2.1:80"
	spoofed.Header.Set("X-Forwarded-Proto", "https")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, spoofed)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	proxied := httptest.NewRequest(http.MethodGet, "/health", nil)
	proxied.RemoteAddr = "10.0.0.1:80"
	proxied.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, proxied)
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}

package greylist

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func do(h http.Handler, method, remote string) int {
	r := httptest.NewRequest(method, "/contact", nil)
	r.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func TestProtect(t *testing.T) {
	req := require.New(t)
	dir := t.TempDir()
	black := filepath.Join(dir, "blacklist.txt")
	white := filepath.Join(dir, "whitelist.txt")
	req.NoError(os.WriteFile(black, []byte("# bad\n10.0.0.1\n10.0.0.2\n"), 0600))
	req.NoError(os.WriteFile(white, []byte("10.0.0.2\n"), 0600))

	l := New(white, black, 0, zap.NewNop())
	h := l.Protect(ok)

	req.Equal(http.StatusNoContent, do(h, http.MethodGet, "10.0.0.1:1234"))
	req.Equal(http.StatusForbidden, do(h, http.MethodPost, "10.0.0.1:1234"))
	req.Equal(http.StatusNoContent, do(h, http.MethodPost, "10.0.0.2:1234"), "whitelist wins")
	req.Equal(http.StatusNoContent, do(h, http.MethodPost, "10.0.0.3:1234"))

	l.SetAllMethods(true)
	req.Equal(http.StatusForbidden, do(h, http.MethodGet, "10.0.0.1:1234"))
}

func TestTemporaryBan(t *testing.T) {
	req := require.New(t)
	now := time.Date(2026, 1, 6, 0, 0, 0, 0, time.UTC)
	l := New("", "", 0, zap.NewNop())
	l.now = func() time.Time { return now }
	l.SetTemporaryBlacklistTime(time.Minute)
	h := l.Protect(ok)

	l.Blacklist("192.0.2.7")
	req.Equal(http.StatusForbidden, do(h, http.MethodPost, "192.0.2.7:80"))

	now = now.Add(2 * time.Minute)
	req.Equal(http.StatusNoContent, do(h, http.MethodPost, "192.0.2.7:80"))
	req.Empty(l.temporaryBlacklist)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:5555"
	require.Equal(t, "192.0.2.1", ClientIP(r))

	t.Run("should ignore X-Forwarded-For from untrusted peers", func(t *testing.T) {
		r.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
		require.Equal(t, "192.0.2.1", ClientIP(r))
		require.Equal(t, "192.0.2.1", ClientIP(r, "10.0.0.0/8"))
	})

	t.Run("should take the nearest untrusted hop behind a proxy", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", "198.51.100.4, 203.0.113.9, 10.0.0.2")
		require.Equal(t, "203.0.113.9", ClientIP(r, "10.0.0.0/8"))
		require.Equal(t, "10.0.0.2", ClientIP(r, "10.0.0.1"))
	})

	t.Run("should fall back to the proxy on a garbage header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = "10.0.0.1:443"
		r.Header.Set("X-Forwarded-For", "not-an-ip")
		require.Equal(t, "10.0.0.1", ClientIP(r, "10.0.0.1"))
	})
}

func TestForgedForwardedForKeepsBan(t *testing.T) {
	req := require.New(t)
	l := New("", "", 0, zap.NewNop())
	h := l.Protect(ok)
	l.Blacklist("192.0.2.1")

	post := func(xff string) int {
		r := httptest.NewRequest(http.MethodPost, "/contact", nil)
		r.RemoteAddr = "192.0.2.1:4000"
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}
	req.Equal(http.StatusForbidden, post(""))
	req.Equal(http.StatusForbidden, post("203.0.113.9"))

	l.SetTrustedProxies([]string{"198.51.100.1"})
	req.Equal(http.StatusForbidden, post("203.0.113.9"), "peer is not a trusted proxy")
}

// Copyright (c) 2020 aerth <aerth@riseup.net>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// package greylist implements a basic whitelisting/blacklisting http.Handler
//
// It reads 2 files (whitelist file, blacklist file), one IP per line, and can
// refresh them periodically. Blacklist(ip) adds temporary bans, used for
// clients that keep failing CSRF checks on the contact form.
package greylist

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultTemporaryBlacklistTime = time.Hour

// List is a greylist instance
type List struct {
	whitelistFilename, blacklistFilename string
	log                                  *zap.Logger

	mu                 sync.RWMutex
	whitelist          map[string]struct{}
	blacklist          map[string]struct{}
	temporaryBlacklist map[string]time.Time
	lastRefresh        time.Time

	allMethods             bool
	trustedProxies         []string
	refreshRate            time.Duration
	temporaryBlacklistTime time.Duration
	now                    func() time.Time
}

// New accepts whitelist filename, blacklist filename, and a refresh rate.
// Missing or empty files are not used. refreshRate 0 disables automatic refreshing.
//
// By default only non-GET requests are checked; see SetAllMethods.
func New(whitelistFilename, blacklistFilename string, refreshRate time.Duration, log *zap.Logger) *List {
	l := &List{
		whitelistFilename:      whitelistFilename,
		blacklistFilename:      blacklistFilename,
		log:                    log,
		whitelist:              make(map[string]struct{}),
		blacklist:              make(map[string]struct{}),
		temporaryBlacklist:     make(map[string]time.Time),
		temporaryBlacklistTime: DefaultTemporaryBlacklistTime,
		refreshRate:            refreshRate,
		now:                    time.Now,
	}
	l.RefreshLists()
	return l
}

// Protect a http.Handler
//
//	http.ListenAndServe(":8080", glist.Protect(myHandler))
func (l *List) Protect(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// quick short circuit for GET requests
		if !l.allMethods && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
			h.ServeHTTP(w, r)
			return
		}
		if l.refreshRate > 0 && l.now().Sub(l.lastRefreshed()) > l.refreshRate {
			go l.RefreshLists()
		}
		ip := l.ClientIP(r)
		if ok, msg := l.allowed(ip); !ok {
			http.Error(w, msg, http.StatusForbidden)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// SetAllMethods blocks all requests from blacklisted IPs, GET included.
func (l *List) SetAllMethods(b bool) {
	l.allMethods = b
}

// SetTrustedProxies names the reverse proxies whose X-Forwarded-For is believed.
func (l *List) SetTrustedProxies(proxies []string) {
	l.trustedProxies = proxies
}

// ClientIP is the client address as seen through the trusted proxies.
func (l *List) ClientIP(r *http.Request) string {
	return ClientIP(r, l.trustedProxies...)
}

// SetTemporaryBlacklistTime sets the duration that offenders will be blacklisted for
func (l *List) SetTemporaryBlacklistTime(d time.Duration) {
	l.temporaryBlacklistTime = d
}

// Blacklist adds a temporary ban to an ip address
func (l *List) Blacklist(ip string) {
	l.mu.Lock()
	l.temporaryBlacklist[ip] = l.now().Add(l.temporaryBlacklistTime)
	l.mu.Unlock()
	l.log.Warn("greylist: temporary ban", zap.String("ip", ip), zap.Duration("for", l.temporaryBlacklistTime))
}

func (l *List) allowed(ip string) (bool, string) {
	l.mu.RLock()
	_, white := l.whitelist[ip]
	_, black := l.blacklist[ip]
	until, banned := l.temporaryBlacklist[ip]
	l.mu.RUnlock()

	switch {
	case white:
		return true, ""
	case black:
		l.log.Info("greylist: blocking blacklisted ip", zap.String("ip", ip))
		return false, http.StatusText(http.StatusForbidden)
	case banned && until.After(l.now()):
		left := until.Sub(l.now()).Truncate(time.Second)
		l.log.Info("greylist: blocking temporarily banned ip", zap.String("ip", ip), zap.Duration("left", left))
		return false, fmt.Sprintf("You have been blocked for %s", left)
	case banned:
		l.mu.Lock()
		delete(l.temporaryBlacklist, ip)
		l.mu.Unlock()
		l.log.Info("greylist: removing temporary ban", zap.String("ip", ip))
	}
	return true, ""
}

func (l *List) lastRefreshed() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastRefresh
}

// RefreshLists re-reads both files. A file that can't be read leaves its list as it was.
func (l *List) RefreshLists() {
	t1 := l.now()
	white, werr := readList(l.whitelistFilename)
	black, berr := readList(l.blacklistFilename)

	l.mu.Lock()
	if werr == nil {
		l.whitelist = white
	}
	if berr == nil {
		l.blacklist = black
	}
	l.lastRefresh = t1
	l.mu.Unlock()

	l.log.Debug("greylist: refreshed lists",
		zap.Int("whitelisted", len(white)),
		zap.Int("blacklisted", len(black)),
		zap.Duration("took", time.Since(t1)))
}

func readList(filename string) (map[string]struct{}, error) {
	if filename == "" {
		return map[string]struct{}{}, nil
	}
	f, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]struct{}{}, nil
		}
		return nil, err
	}
	defer f.Close()
	list := map[string]struct{}{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ip := strings.TrimSpace(scanner.Text())
		if ip == "" || strings.HasPrefix(ip, "#") {
			continue
		}
		list[ip] = struct{}{}
	}
	return list, scanner.Err()
}

// ClientIP is the remote address host. X-Forwarded-For is only read when
// the request comes from one of the trusted proxies (ips or CIDRs); then the
// nearest hop that is not itself a trusted proxy is the client.
func ClientIP(r *http.Request, trusted ...string) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if len(trusted) == 0 || !isTrusted(ip, trusted) {
		return ip
	}
	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		if hop == "" {
			continue
		}
		if net.ParseIP(hop) == nil {
			return ip
		}
		if !isTrusted(hop, trusted) {
			return hop
		}
		ip = hop
	}
	return ip
}

func isTrusted(ip string, trusted []string) bool {
	addr := net.ParseIP(ip)
	if addr == nil {
		return false
	}
	for _, t := range trusted {
		if _, network, err := net.ParseCIDR(t); err == nil {
			if network.Contains(addr) {
				return true
			}
			continue
		}
		if p := net.ParseIP(t); p != nil && p.Equal(addr) {
			return true
		}
	}
	return false
}

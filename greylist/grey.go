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
// periodically refresh the lists. It also provides a Blacklist(ip) method for
// temporary bans.
package greylist

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aerth/contactd/realip"
)

const DefaultTemporaryBlacklistTime = 24 * time.Hour

// List is a greylist instance
type List struct {
	whitelistFilename, blacklistFilename string
	underlyingHandler                    http.Handler
	whitelist, blacklist                 map[string]struct{}
	lastTime                             time.Time
	mu                                   sync.RWMutex
	temporaryBlacklist                   map[string]time.Time
	allMethods                           bool
	refreshRate                          time.Duration
	temporaryBlacklistTime               time.Duration
	log                                  *zap.SugaredLogger
	now                                  func() time.Time
}

// New accepts whitelist filename, blacklist filename, and a refresh rate.
// If the files don't exist or are empty, they are not used, and read errors will not be reported.
// refreshRate can be 0, in which case Run only waits for ctx. (see RefreshLists())
//
// After calling New(), a program can use l.Protect() to wrap a http.Handler.
//
// By default, only non-GET requests are protected.
// If your program demands, use l.SetAllMethods(true)
//
// By default, temporary bans are one day.
// To change this, call l.SetTemporaryBlacklistTime(time.Duration)
func New(whitelistFilename, blacklistFilename string, refreshRate time.Duration, log *zap.SugaredLogger) *List {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	l := &List{
		whitelistFilename:      whitelistFilename,
		blacklistFilename:      blacklistFilename,
		whitelist:              make(map[string]struct{}),
		blacklist:              make(map[string]struct{}),
		temporaryBlacklist:     make(map[string]time.Time),
		temporaryBlacklistTime: DefaultTemporaryBlacklistTime,
		refreshRate:            refreshRate,
		log:                    log,
		now:                    time.Now,
	}
	l.RefreshLists()
	return l
}

// Protect a http.Handler
//
//	http.ListenAndServe(":8080", glist.Protect(myHandler))
func (l *List) Protect(h http.Handler) http.Handler {
	l.underlyingHandler = h
	return l
}

// Middleware is Protect in chi's shape.
func (l *List) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l.serve(next, w, r)
	})
}

// SetAllMethods blocks all requests from blacklisted IPs, not only non-GET ones.
func (l *List) SetAllMethods(b bool) {
	l.allMethods = b
}

// SetTemporaryBlacklistTime sets the duration that offenders will be blacklisted for
func (l *List) SetTemporaryBlacklistTime(d time.Duration) {
	l.temporaryBlacklistTime = d
}

// Blacklist adds a temporary ban to an ip address
func (l *List) Blacklist(ip string) {
	until := l.now().Add(l.temporaryBlacklistTime)
	l.mu.Lock()
	l.temporaryBlacklist[ip] = until
	l.mu.Unlock()
	l.log.Infow("blacklisting", "ip", ip, "for", l.temporaryBlacklistTime)
}

// Counts reports list sizes, for status pages.
func (l *List) Counts() (white, black, temporary int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.whitelist), len(l.blacklist), len(l.temporaryBlacklist)
}

// ServeHTTP implements http.Handler interface
func (l *List) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l.serve(l.underlyingHandler, w, r)
}

func (l *List) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	// quick short circuit for GET requests
	if !l.allMethods && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
		next.ServeHTTP(w, r)
		return
	}

	ip := realip.FromRequest(r)

	// locked for map reads, unlock asap (before setting headers or writing to conn)
	l.mu.RLock()
	if _, ok := l.whitelist[ip]; ok {
		l.mu.RUnlock()
		l.log.Debugw("allowing whitelisted ip", "ip", ip)
		next.ServeHTTP(w, r)
		return
	}
	if _, ok := l.blacklist[ip]; ok {
		l.mu.RUnlock()
		l.log.Infow("blocking blacklisted ip", "ip", ip)
		forbidden(w, "Access denied.")
		return
	}
	t, temporarilyBanned := l.temporaryBlacklist[ip]
	l.mu.RUnlock()
	if temporarilyBanned {
		if left := t.Sub(l.now()); left > 0 {
			l.log.Infow("blocking temporarily blacklisted ip", "ip", ip, "left", left.Truncate(time.Second))
			forbidden(w, fmt.Sprintf("You have been blocked for %s.", left.Truncate(time.Second)))
			return
		}
		l.mu.Lock()
		if until, ok := l.temporaryBlacklist[ip]; ok && !until.After(l.now()) {
			delete(l.temporaryBlacklist, ip)
			l.log.Debugw("removing temporary blacklist", "ip", ip)
		}
		l.mu.Unlock()
	}

	// serve it
	next.ServeHTTP(w, r)
}

func forbidden(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "message": message})
}

// Run refreshes the lists every refresh interval and drops expired bans, until ctx is done.
func (l *List) Run(ctx context.Context) {
	if l.refreshRate <= 0 {
		<-ctx.Done()
		return
	}
	tick := time.NewTicker(l.refreshRate)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			l.RefreshLists()
			l.expire()
		}
	}
}

// Reload rereads both files regardless of modification time (SIGHUP).
func (l *List) Reload() {
	l.mu.Lock()
	l.lastTime = time.Time{}
	l.mu.Unlock()
	l.RefreshLists()
}

func (l *List) expire() {
	now := l.now()
	l.mu.Lock()
	for ip, until := range l.temporaryBlacklist {
		if !until.After(now) {
			delete(l.temporaryBlacklist, ip)
		}
	}
	l.mu.Unlock()
}

// RefreshLists reads the whitelist and blacklist files when they changed since the last
// read and sets new maps (removed ips will not be in new map). Missing files are ignored.
// Blank lines and lines starting with '#' are skipped.
func (l *List) RefreshLists() {
	t1 := time.Now()
	l.mu.RLock()
	since := l.lastTime
	l.mu.RUnlock()

	whitelist, wok := l.readList(l.whitelistFilename, since)
	blacklist, bok := l.readList(l.blacklistFilename, since)

	l.mu.Lock()
	if wok {
		l.whitelist = whitelist
	}
	if bok {
		l.blacklist = blacklist
	}
	l.lastTime = t1
	nw, nb := len(l.whitelist), len(l.blacklist)
	l.mu.Unlock()

	if wok || bok {
		l.log.Infow("refreshed lists", "took", time.Since(t1), "whitelisted", nw, "blacklisted", nb, "next", l.refreshRate)
	}
}

// readList returns ok=false when the file is missing or unchanged since the given time.
func (l *List) readList(filename string, since time.Time) (map[string]struct{}, bool) {
	if filename == "" {
		return nil, false
	}
	f, err := os.Open(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			l.log.Warnw("opening list", "file", filename, "error", err)
		}
		return nil, false
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil || !info.ModTime().After(since) {
		return nil, false
	}

	list := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		ip := strings.TrimSpace(scanner.Text())
		if ip == "" || strings.HasPrefix(ip, "#") {
			continue
		}
		list[ip] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		l.log.Warnw("scanning list", "file", filename, "error", err)
	}
	return list, true
}

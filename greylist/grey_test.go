package greylist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func do(h http.Handler, method, ip string) int {
	r := httptest.NewRequest(method, "/contact", nil)
	r.RemoteAddr = ip + ":4242"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w.Code
}

func writeList(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	white := writeList(t, dir, "white.txt", "10.0.0.1", "# comment", "", "10.0.0.9")
	black := writeList(t, dir, "black.txt", "10.0.0.2", "10.0.0.9")

	l := New(white, black, 0, nil)
	h := l.Protect(ok)

	if code := do(h, http.MethodPost, "10.0.0.2"); code != http.StatusForbidden {
		t.Errorf("blacklisted: got %d", code)
	}
	if code := do(h, http.MethodGet, "10.0.0.2"); code != http.StatusOK {
		t.Errorf("GET passes by default: got %d", code)
	}
	if code := do(h, http.MethodPost, "10.0.0.9"); code != http.StatusOK {
		t.Errorf("whitelist wins: got %d", code)
	}
	if code := do(h, http.MethodPost, "10.0.0.3"); code != http.StatusOK {
		t.Errorf("unknown ip: got %d", code)
	}
	if w, b, _ := l.Counts(); w != 2 || b != 2 {
		t.Errorf("counts = %d, %d", w, b)
	}

	l.SetAllMethods(true)
	if code := do(h, http.MethodGet, "10.0.0.2"); code != http.StatusForbidden {
		t.Errorf("all methods: got %d", code)
	}
}

func TestForbiddenIsJSON(t *testing.T) {
	dir := t.TempDir()
	l := New("", writeList(t, dir, "black.txt", "10.0.0.2"), 0, nil)
	r := httptest.NewRequest(http.MethodPost, "/contact", nil)
	r.RemoteAddr = "10.0.0.2:1"
	w := httptest.NewRecorder()
	l.Middleware(ok).ServeHTTP(w, r)
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		t.Errorf("content type %q", w.Header().Get("Content-Type"))
	}
	if !strings.Contains(w.Body.String(), `"ok":false`) {
		t.Errorf("body %q", w.Body.String())
	}
}

func TestTemporaryBlacklist(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New("", "", 0, nil)
	l.now = func() time.Time { return now }
	l.SetTemporaryBlacklistTime(time.Minute)
	h := l.Middleware(ok)

	l.Blacklist("10.0.0.5")
	if code := do(h, http.MethodPost, "10.0.0.5"); code != http.StatusForbidden {
		t.Fatalf("banned: got %d", code)
	}
	if code := do(h, http.MethodPost, "10.0.0.6"); code != http.StatusOK {
		t.Fatalf("other ip: got %d", code)
	}

	now = now.Add(time.Minute)
	if code := do(h, http.MethodPost, "10.0.0.5"); code != http.StatusOK {
		t.Fatalf("ban expired: got %d", code)
	}
	if _, _, tmp := l.Counts(); tmp != 0 {
		t.Errorf("expired ban not removed, %d left", tmp)
	}
}

func TestExpire(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := New("", "", 0, nil)
	l.now = func() time.Time { return now }
	l.SetTemporaryBlacklistTime(time.Minute)
	l.Blacklist("10.0.0.5")
	now = now.Add(2 * time.Minute)
	l.expire()
	if _, _, tmp := l.Counts(); tmp != 0 {
		t.Errorf("%d bans left", tmp)
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	black := writeList(t, dir, "black.txt", "10.0.0.2")
	l := New("", black, 0, nil)
	h := l.Middleware(ok)

	writeList(t, dir, "black.txt", "10.0.0.3")
	// keep the modification time in the past so only Reload picks it up
	old := time.Now().Add(-time.Hour)
	os.Chtimes(black, old, old)
	l.RefreshLists()
	if code := do(h, http.MethodPost, "10.0.0.2"); code != http.StatusForbidden {
		t.Fatalf("unchanged file should not be reread, got %d", code)
	}

	l.Reload()
	if code := do(h, http.MethodPost, "10.0.0.2"); code != http.StatusOK {
		t.Errorf("removed ip still blocked: %d", code)
	}
	if code := do(h, http.MethodPost, "10.0.0.3"); code != http.StatusForbidden {
		t.Errorf("added ip not blocked: %d", code)
	}
}

func TestRunStops(t *testing.T) {
	l := New("", "", 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

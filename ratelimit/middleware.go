package ratelimit

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aerth/contactd/realip"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Store   *Store
	KeyFn   KeyFunc // realip.FromRequest when nil
	Message string  // body message on rejection
	Log     *zap.SugaredLogger
	// OnReject is called for every rejected request.
	OnReject func(r *http.Request)
}

const maxRetryAfter = 24 * time.Hour

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = realip.FromRequest
	}
	if opts.Message == "" {
		opts.Message = http.StatusText(http.StatusTooManyRequests)
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop().Sugar()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			allowed, wait := opts.Store.Allow(key)
			if !allowed {
				if opts.OnReject != nil {
					opts.OnReject(r)
				}
				opts.Log.Infow("rate limited", "key", key, "retry-after", wait)
				reject(w, wait, opts.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func reject(w http.ResponseWriter, wait time.Duration, message string) {
	if wait > maxRetryAfter {
		wait = maxRetryAfter
	}
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{"ok": false, "message": message})
}

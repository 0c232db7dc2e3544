package system

import (
	"encoding/json"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/crewjam/csp"
	"github.com/dchest/captcha"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/csrf"

	"github.com/aerth/contactd/logging"
	"github.com/aerth/contactd/ratelimit"
	"github.com/aerth/contactd/realip"
)

const MaxAttempts = 3

// Router mounts the contact endpoint and its helpers behind the shared middleware.
func (s *System) Router() http.Handler {
	cfg := s.config
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if cfg.Meta.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(logging.Middleware(s.log.Desugar().Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(s.greylist.Middleware)
	r.Use(s.HitCounter)
	r.Use(s.securityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Sec.AllowOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Accept-Language", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"X-CSRF-Token", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/status", s.StatusHandler)

	r.Route("/contact", func(r chi.Router) {
		r.Use(middleware.RequestSize(cfg.Contact.MaxBody))
		if cfg.Sec.CSRFKey != "" {
			r.Use(csrf.Protect([]byte(cfg.Sec.CSRFKey),
				csrf.Secure(!cfg.Meta.DevelopmentMode),
				csrf.Path("/"),
				csrf.FieldName("_csrf"),
				csrf.CookieName(cfg.Sec.CookieName+"_csrf"),
				csrf.TrustedOrigins(hosts(cfg.Sec.AllowOrigins)),
				csrf.ErrorHandler(http.HandlerFunc(s.contact.Reject))))
			r.Get("/token", s.TokenHandler)
		}
		if cfg.Sec.Captcha {
			r.Get("/captcha", s.CaptchaHandler)
		}
		var h http.Handler = s.contact
		if s.limiter != nil {
			h = ratelimit.Middleware(ratelimit.Options{
				Store:    s.limiter,
				Message:  "Too many requests, try again later.",
				Log:      s.log.Named("ratelimit"),
				OnReject: s.addBadAttempt,
			})(h)
		}
		r.Handle("/", h)
	})

	if cfg.Sec.Captcha {
		r.Handle("/captcha/*", captcha.Server(250, 75))
	}
	return r
}

// securityHeaders sets the Content-Security-Policy and friends on every response.
func (s *System) securityHeaders(next http.Handler) http.Handler {
	u, err := url.Parse(s.config.Meta.SiteURL)
	if err != nil {
		s.log.Warnw("cant set Content-Security-Policy", "error", err)
		return next
	}
	policy := csp.Header{
		DefaultSrc: []string{"'self'", u.Hostname()},
	}.String()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", policy)
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		next.ServeHTTP(w, r)
	})
}

// TokenHandler hands out a CSRF token for script-driven forms.
func (s *System) TokenHandler(w http.ResponseWriter, r *http.Request) {
	token := csrf.Token(r)
	w.Header().Set("X-CSRF-Token", token)
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "field": "_csrf"})
}

// CaptchaHandler creates a captcha and points at its image.
func (s *System) CaptchaHandler(w http.ResponseWriter, r *http.Request) {
	id := captcha.New()
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "image": "/captcha/" + id + ".png"})
}

// HitCounter counts every request for /status.
func (s *System) HitCounter(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Stats.hits.Add(1)
		h.ServeHTTP(w, r)
	})
}

// onBot runs for every filled honeypot.
func (s *System) onBot(r *http.Request) {
	ip := realip.FromRequest(r)
	if !s.config.Sec.BanHoneypot {
		s.log.Infow("honeypot filled", "ip", ip, "ua", r.UserAgent())
		return
	}
	s.greylist.Blacklist(ip)
	s.auditlog("banned %s: filled the honeypot (ua %.80q)", ip, r.UserAgent())
}

// addBadAttempt bans a client after MaxAttempts rate limit rejections.
func (s *System) addBadAttempt(r *http.Request) {
	ip := realip.FromRequest(r)
	s.badguylock.Lock()
	count, ok := s.badguys[ip]
	if !ok {
		count = new(uint32)
		s.badguys[ip] = count
	}
	s.badguylock.Unlock()

	if atomic.AddUint32(count, 1) < MaxAttempts {
		return
	}
	s.badguylock.Lock()
	delete(s.badguys, ip)
	s.badguylock.Unlock()
	s.greylist.Blacklist(ip)
	s.auditlog("banned %s: %d rate limited requests", ip, MaxAttempts)
}

func hosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

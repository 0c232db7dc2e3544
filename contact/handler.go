// Package contact implements the contact form endpoint: it cleans and validates a
// submission, keeps a per-session rate limit, and relays the message through a Transport.
//
// Every request ends in exactly one JSON response:
//
//	{"ok": bool, "message": string, "errors": {"field": "message"}}
//
// with status 200 when ok is true and 400 otherwise.
package contact

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aerth/contactd/realip"
	"go.uber.org/zap"
)

// Transport delivers a composed message. A nil error means it was handed off.
type Transport interface {
	Send(ctx context.Context, m *Message) error
}

// SessionStore keeps the caller's last accepted submission time.
type SessionStore interface {
	LastSubmit(r *http.Request) (t time.Time, ok bool, err error)
	SetLastSubmit(w http.ResponseWriter, r *http.Request, t time.Time) error
}

const (
	DefaultWindow      = 30 * time.Second
	DefaultMaxBody     = 64 << 10
	DefaultSendTimeout = 30 * time.Second
	DefaultLocale      = "ru"
)

// Config is the static handler configuration.
type Config struct {
	To            string // destination address
	SubjectPrefix string
	Window        time.Duration // minimum time between accepted submissions per session

	SiteName   string // identifies the site in the body; request host when empty
	Sender     string // From address; no-reply@<host> when empty
	SenderName string
	Mailer     string // X-Mailer

	Locale      string // fallback catalog when Accept-Language does not match
	MaxBody     int64
	Limits      Limits
	SendTimeout time.Duration
}

// Response is the JSON body of every answer.
type Response struct {
	OK      bool              `json:"ok"`
	Message string            `json:"message"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// Stats counts terminal outcomes since start.
type Stats struct {
	Accepted    uint64 `json:"accepted"`
	TooSoon     uint64 `json:"too-soon"`
	Invalid     uint64 `json:"invalid"`
	Bots        uint64 `json:"bots"`
	Rejected    uint64 `json:"rejected"`
	Undelivered uint64 `json:"undelivered"`
}

type counters struct {
	accepted, tooSoon, invalid, bots, rejected, undelivered atomic.Uint64
}

// Handler is the contact form http.Handler.
type Handler struct {
	cfg       Config
	sessions  SessionStore
	transport Transport
	fallback  *catalog
	log       *zap.SugaredLogger
	now       func() time.Time
	onBot     func(*http.Request)
	captcha   func(id, solution string) bool
	stats     counters
}

type Option func(*Handler)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(h *Handler) { h.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// WithBotHook is called for every request that filled the honeypot.
func WithBotHook(fn func(*http.Request)) Option {
	return func(h *Handler) { h.onBot = fn }
}

// WithCaptcha requires a solved captcha; verify is called with the posted id and solution.
func WithCaptcha(verify func(id, solution string) bool) Option {
	return func(h *Handler) { h.captcha = verify }
}

// New returns a Handler. cfg.To, sessions and transport are required.
func New(cfg Config, sessions SessionStore, transport Transport, opts ...Option) (*Handler, error) {
	if cfg.To == "" {
		return nil, errors.New("contact: no destination address")
	}
	if sessions == nil {
		return nil, errors.New("contact: no session store")
	}
	if transport == nil {
		return nil, errors.New("contact: no transport")
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = DefaultMaxBody
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	cat, err := lookupCatalog(cfg.Locale)
	if err != nil {
		return nil, err
	}
	h := &Handler{
		cfg:       cfg,
		sessions:  sessions,
		transport: transport,
		fallback:  cat,
		log:       zap.NewNop().Sugar(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) Stats() Stats {
	return Stats{
		Accepted:    h.stats.accepted.Load(),
		TooSoon:     h.stats.tooSoon.Load(),
		Invalid:     h.stats.invalid.Load(),
		Bots:        h.stats.bots.Load(),
		Rejected:    h.stats.rejected.Load(),
		Undelivered: h.stats.undelivered.Load(),
	}
}

// Reject answers with the generic invalid-request response. Outer guards (CSRF) use it
// so that every refusal on this endpoint has the same shape.
func (h *Handler) Reject(w http.ResponseWriter, r *http.Request) {
	h.stats.invalid.Add(1)
	respond(w, Response{Message: catalogFor(r, h.fallback).text(textBadRequest)})
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	cat := catalogFor(r, h.fallback)
	ip := realip.FromRequest(r)
	log := h.log.With("ip", ip)
	now := h.now()

	last, ok, err := h.sessions.LastSubmit(r)
	if err != nil {
		log.Warnw("reading session", "error", err)
	}
	if err == nil && ok && now.Sub(last) < h.cfg.Window {
		h.stats.tooSoon.Add(1)
		log.Debugw("too soon", "since", now.Sub(last).Truncate(time.Millisecond))
		respond(w, Response{Message: cat.text(textTooSoon)})
		return
	}

	if r.Method != http.MethodPost {
		h.stats.invalid.Add(1)
		log.Debugw("bad method", "method", r.Method)
		respond(w, Response{Message: cat.text(textBadMethod)})
		return
	}

	if !sameOrigin(r) {
		h.stats.invalid.Add(1)
		log.Infow("cross-origin post", "origin", r.Header.Get("Origin"), "host", r.Host)
		respond(w, Response{Message: cat.text(textCrossOrigin)})
		return
	}

	f, err := h.readForm(w, r)
	if err != nil {
		h.stats.invalid.Add(1)
		log.Infow("unreadable body", "error", err)
		respond(w, Response{Message: cat.text(textBadRequest)})
		return
	}

	s := f.submission()
	if CleanText(s.Website) != "" {
		h.stats.bots.Add(1)
		log.Warnw("honeypot filled", "user-agent", r.UserAgent())
		if h.onBot != nil {
			h.onBot(r)
		}
		respond(w, Response{OK: true, Message: cat.text(textThanks)})
		return
	}

	s = s.Clean()
	v := Validate(s, h.cfg.Limits)
	if h.captcha != nil {
		switch solution := strings.TrimSpace(f[fieldCaptchaSolution]); {
		case solution == "":
			v = append(v, FieldError{FieldCaptcha, Empty})
		case !h.captcha(f[fieldCaptchaID], solution):
			v = append(v, FieldError{FieldCaptcha, Malformed})
		}
	}
	if len(v) > 0 {
		h.stats.rejected.Add(1)
		log.Infow("validation failed", "fields", v.Fields())
		respond(w, Response{Message: cat.text(textFixErrors), Errors: cat.errors(v)})
		return
	}

	msg := Compose(h.cfg, s, metaFrom(r, ip, now))
	ctx, cancel := context.WithTimeout(r.Context(), h.cfg.SendTimeout)
	err = h.transport.Send(ctx, msg)
	cancel()
	if err != nil {
		h.stats.undelivered.Add(1)
		log.Errorw("delivery failed", "id", msg.ID, "error", err)
		respond(w, Response{Message: cat.text(textUndelivered, h.cfg.To)})
		return
	}

	if err := h.sessions.SetLastSubmit(w, r, h.now()); err != nil {
		log.Errorw("writing session", "error", err)
	}
	h.stats.accepted.Add(1)
	log.Infow("message sent", "id", msg.ID, "from", s.Email)
	respond(w, Response{OK: true, Message: cat.text(textThanks)})
}

// sameOrigin accepts a missing Origin header; a present one must name the request
// host and port. Default ports are dropped on both sides before comparing.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	o := u.Host
	switch {
	case u.Scheme == "http" && u.Port() == "80", u.Scheme == "https" && u.Port() == "443":
		o = u.Hostname()
		if strings.Contains(o, ":") {
			o = "[" + o + "]"
		}
	}
	return strings.EqualFold(o, stripDefaultPort(r.Host))
}

func stripDefaultPort(hostport string) string {
	for _, p := range []string{":80", ":443"} {
		if strings.HasSuffix(hostport, p) {
			return strings.TrimSuffix(hostport, p)
		}
	}
	return hostport
}

type form map[string]string

func (f form) submission() Submission {
	return Submission{
		FirstName: f[FieldFirstName],
		LastName:  f[FieldLastName],
		Email:     f[FieldEmail],
		Phone:     f[FieldPhone],
		Message:   f[FieldMessage],
		Website:   f[FieldWebsite],
	}
}

// readForm accepts urlencoded, multipart and JSON object bodies up to cfg.MaxBody.
func (h *Handler) readForm(w http.ResponseWriter, r *http.Request) (form, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxBody)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/json":
		var raw map[string]string
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, err
		}
		return form(raw), nil
	case "multipart/form-data":
		if err := r.ParseMultipartForm(h.cfg.MaxBody); err != nil {
			return nil, err
		}
		defer r.MultipartForm.RemoveAll()
	default:
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
	}
	f := make(form, len(r.PostForm))
	for k, vs := range r.PostForm {
		if len(vs) > 0 {
			f[k] = vs[0]
		}
	}
	return f, nil
}

func respond(w http.ResponseWriter, resp Response) {
	code := http.StatusOK
	if !resp.OK {
		code = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(resp)
}

// Package session keeps the contact form's per-session "last accepted submission" marker.
//
// CookieStore holds the marker in the browser, sealed with securecookie. Store holds only
// an opaque signed session id in the browser and keeps the marker in a Backend (memory,
// bbolt, Redis or Postgres) under a keyed hash of that id.
package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
)

// ErrNoSession means the request carried a session cookie that could not be decoded.
var ErrNoSession = errors.New("session: no valid session")

const (
	DefaultCookieName = "contact_session"
	DefaultTTL        = 24 * time.Hour
)

// Options are shared by every store.
type Options struct {
	CookieName string
	TTL        time.Duration // cookie Max-Age and record lifetime
	Secure     bool          // set the Secure cookie attribute

	HashKey  []byte // required; authenticates cookies and keys stored records
	BlockKey []byte // optional; encrypts cookies (16, 24 or 32 bytes)
}

func (o *Options) defaults() error {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if len(o.HashKey) == 0 {
		return errors.New("session: no hash key")
	}
	switch len(o.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("session: block key must be 16, 24 or 32 bytes, got %d", len(o.BlockKey))
	}
	return nil
}

// codec reads and writes one securecookie-sealed cookie holding a string map.
type codec struct {
	name   string
	ttl    time.Duration
	secure bool
	sc     *securecookie.SecureCookie
}

func newCodec(o Options) *codec {
	var blockKey []byte
	if len(o.BlockKey) > 0 {
		blockKey = o.BlockKey
	}
	sc := securecookie.New(o.HashKey, blockKey)
	sc.MaxAge(int(o.TTL / time.Second))
	return &codec{name: o.CookieName, ttl: o.TTL, secure: o.Secure, sc: sc}
}

func (c *codec) write(w http.ResponseWriter, value map[string]string) error {
	encoded, err := c.sc.Encode(c.name, value)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    encoded,
		Path:     "/",
		MaxAge:   int(c.ttl / time.Second),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

// read returns nil, nil when there is no cookie.
func (c *codec) read(r *http.Request) (map[string]string, error) {
	cookie, err := r.Cookie(c.name)
	if err != nil {
		return nil, nil
	}
	value := make(map[string]string)
	if err := c.sc.Decode(c.name, cookie.Value, &value); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}
	return value, nil
}

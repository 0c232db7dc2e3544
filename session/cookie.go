package session

import (
	"net/http"
	"time"
)

const markerKey = "last_submit_at"

// CookieStore keeps the marker in the client's cookie. It needs no server state; a client
// that drops its cookies drops its marker, which is what the per-IP limiter is for.
type CookieStore struct {
	c *codec
}

func NewCookieStore(opts Options) (*CookieStore, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	return &CookieStore{c: newCodec(opts)}, nil
}

func (s *CookieStore) LastSubmit(r *http.Request) (time.Time, bool, error) {
	value, err := s.c.read(r)
	if err != nil || value == nil {
		return time.Time{}, false, err
	}
	raw, ok := value[markerKey]
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

func (s *CookieStore) SetLastSubmit(w http.ResponseWriter, r *http.Request, t time.Time) error {
	return s.c.write(w, map[string]string{markerKey: t.UTC().Format(time.RFC3339Nano)})
}

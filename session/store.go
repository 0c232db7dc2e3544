package session

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

const idKey = "id"

// Record is what a Backend keeps per session.
type Record struct {
	Last    time.Time `json:"last"`
	Expires time.Time `json:"expires"`
}

// Backend stores records by opaque key.
type Backend interface {
	Get(ctx context.Context, key string) (Record, bool, error)
	Put(ctx context.Context, key string, rec Record) error
}

// Sweeper is implemented by backends that do not expire records on their own.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// Store keeps a signed session id in the cookie and the marker in a Backend.
type Store struct {
	c       *codec
	backend Backend
	hashKey []byte
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(b Backend, opts Options) (*Store, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	if len(opts.HashKey) > blake2b.Size {
		return nil, fmt.Errorf("session: hash key longer than %d bytes", blake2b.Size)
	}
	return &Store{
		c:       newCodec(opts),
		backend: b,
		hashKey: opts.HashKey,
		ttl:     opts.TTL,
		now:     time.Now,
	}, nil
}

func (s *Store) Backend() Backend { return s.backend }

// key is the keyed BLAKE2b-256 of the session id, so raw cookie values never reach storage.
func (s *Store) key(id string) string {
	h, err := blake2b.New256(s.hashKey)
	if err != nil {
		panic(err) // key length checked in NewStore
	}
	h.Write([]byte(id))
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) id(r *http.Request) (string, error) {
	value, err := s.c.read(r)
	if err != nil || value == nil {
		return "", err
	}
	return value[idKey], nil
}

func (s *Store) LastSubmit(r *http.Request) (time.Time, bool, error) {
	id, err := s.id(r)
	if err != nil || id == "" {
		return time.Time{}, false, err
	}
	rec, ok, err := s.backend.Get(r.Context(), s.key(id))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	if !rec.Expires.After(s.now()) {
		return time.Time{}, false, nil
	}
	return rec.Last, true, nil
}

// SetLastSubmit reuses the caller's session id or issues a new one, then stores t.
func (s *Store) SetLastSubmit(w http.ResponseWriter, r *http.Request, t time.Time) error {
	id, _ := s.id(r)
	if id == "" {
		id = uuid.NewString()
	}
	if err := s.c.write(w, map[string]string{idKey: id}); err != nil {
		return err
	}
	return s.backend.Put(r.Context(), s.key(id), Record{Last: t, Expires: t.Add(s.ttl)})
}

// Sweep drops expired records when the backend needs it. Backends with native expiry
// report zero.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	sw, ok := s.backend.(Sweeper)
	if !ok {
		return 0, nil
	}
	return sw.Sweep(ctx, s.now())
}

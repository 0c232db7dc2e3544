package system

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/aerth/contactd/contact"
)

type Stats struct {
	hits atomic.Uint64
	t1   time.Time
}

// StatusReport is the /status body.
type StatusReport struct {
	Version  string        `json:"version,omitempty"`
	Hits     uint64        `json:"hits"`
	Average  float64       `json:"hits-per-second,omitempty"`
	Uptime   float64       `json:"uptime,omitempty"`
	Contact  contact.Stats `json:"contact"`
	Greylist struct {
		White     int `json:"white"`
		Black     int `json:"black"`
		Temporary int `json:"temporary"`
	} `json:"greylist"`
	Limited int `json:"rate-limited-clients,omitempty"`
}

func (s *System) Status() StatusReport {
	var st StatusReport
	st.Version = s.config.Meta.Version
	st.Hits = s.Stats.hits.Load()
	if !s.Stats.t1.IsZero() {
		d := time.Since(s.Stats.t1)
		st.Uptime = d.Truncate(time.Second).Seconds()
		if st.Uptime > 0 {
			st.Average = math.Round(float64(st.Hits)/st.Uptime*100) / 100
		}
	}
	st.Contact = s.contact.Stats()
	st.Greylist.White, st.Greylist.Black, st.Greylist.Temporary = s.greylist.Counts()
	if s.limiter != nil {
		st.Limited = s.limiter.Len()
	}
	return st
}

func (s *System) StatusHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, s.Status())
}

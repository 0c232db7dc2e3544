package contact

import (
	"fmt"
	"net"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Meta is what the request tells us about the sender besides the form.
type Meta struct {
	Host      string // request host without port
	IP        string
	UserAgent string
	Referrer  string
	Time      time.Time
}

func metaFrom(r *http.Request, ip string, now time.Time) Meta {
	m := Meta{
		Host:      hostOnly(r.Host),
		IP:        ip,
		UserAgent: r.UserAgent(),
		Referrer:  r.Referer(),
		Time:      now,
	}
	if m.Host == "" {
		m.Host = "site"
	}
	if m.IP == "" {
		m.IP = "unknown"
	}
	if m.UserAgent == "" {
		m.UserAgent = "unknown"
	}
	if m.Referrer == "" {
		m.Referrer = "direct"
	}
	return m
}

// hostOnly strips a port from a Host header value.
func hostOnly(hostport string) string {
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		return strings.Trim(h, "[]")
	}
	return hostport
}

// Compose builds the outbound message for a clean, valid submission.
func Compose(cfg Config, s Submission, meta Meta) *Message {
	site := cfg.SiteName
	if site == "" {
		site = meta.Host
	}

	var b strings.Builder
	fmt.Fprintf(&b, "New contact form submission from %s\n\n", site)
	fmt.Fprintf(&b, "Name: %s %s\n", s.FirstName, s.LastName)
	fmt.Fprintf(&b, "Email: %s\n", s.Email)
	fmt.Fprintf(&b, "Phone: %s\n\n", s.Phone)
	fmt.Fprintf(&b, "Message:\n%s\n\n", s.Message)
	fmt.Fprintf(&b, "Meta:\nIP: %s\nUser-Agent: %s\nReferrer: %s\nTime: %s",
		meta.IP, meta.UserAgent, meta.Referrer, meta.Time.Format("2006-01-02 15:04:05"))

	// a configured sender keeps the request Host out of the envelope
	sender := cfg.Sender
	if sender == "" {
		sender = "no-reply@" + meta.Host
	}
	domain := sender[strings.LastIndexByte(sender, '@')+1:]
	senderName := cfg.SenderName
	if senderName == "" {
		senderName = site
	}

	return &Message{
		ID:      fmt.Sprintf("<%s@%s>", uuid.NewString(), domain),
		Date:    meta.Time,
		From:    mail.Address{Name: senderName, Address: sender},
		To:      cfg.To,
		ReplyTo: mail.Address{Name: oneLine(s.FullName()), Address: s.Email},
		Subject: oneLine(cfg.SubjectPrefix + " — " + s.FullName()),
		Body:    b.String(),
		Mailer:  cfg.Mailer,
	}
}

// oneLine folds newlines and tabs that survive sanitation so headers stay single-line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

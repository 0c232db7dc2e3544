// Package smtp delivers contact messages to a mail submission server.
package smtp

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/aerth/contactd/contact"
)

type Mode string

const (
	None     Mode = "none"
	StartTLS Mode = "starttls"
	TLS      Mode = "tls"
)

const DefaultTimeout = 20 * time.Second

type Config struct {
	Addr      string // host:port
	Mode      Mode
	Username  string // PLAIN auth when set
	Password  string
	LocalName string // EHLO name
	Timeout   time.Duration

	TLSConfig *tls.Config // ServerName defaults to the Addr host
}

type Transport struct {
	cfg Config
	log *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) (*Transport, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("smtp: bad address %q: %w", cfg.Addr, err)
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = StartTLS
	case None, StartTLS, TLS:
	default:
		return nil, fmt.Errorf("smtp: unknown tls mode %q", cfg.Mode)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.TLSConfig == nil {
		cfg.TLSConfig = &tls.Config{ServerName: host}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Transport{cfg: cfg, log: log}, nil
}

// Send submits m and waits for the server to accept it, or for ctx to end.
// Ending ctx closes the connection, so nothing keeps talking to the server.
func (t *Transport) Send(ctx context.Context, m *contact.Message) error {
	err := t.send(ctx, m)
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("smtp: %w", ctx.Err())
	}
	return err
}

// dial connects within cfg.Timeout and ties the connection's life to ctx.
// The returned stop must be called once the client is done.
func (t *Transport) dial(ctx context.Context) (c *gosmtp.Client, stop func() bool, err error) {
	d := &net.Dialer{Timeout: t.cfg.Timeout}
	var conn net.Conn
	if t.cfg.Mode == TLS {
		td := &tls.Dialer{NetDialer: d, Config: t.cfg.TLSConfig}
		conn, err = td.DialContext(ctx, "tcp", t.cfg.Addr)
	} else {
		conn, err = d.DialContext(ctx, "tcp", t.cfg.Addr)
	}
	if err != nil {
		return nil, nil, err
	}
	stop = context.AfterFunc(ctx, func() { conn.Close() })

	if t.cfg.Mode == StartTLS {
		c, err = gosmtp.NewClientStartTLS(conn, t.cfg.TLSConfig)
		if err != nil {
			stop()
			return nil, nil, err
		}
	} else {
		c = gosmtp.NewClient(conn)
	}
	return c, stop, nil
}

func (t *Transport) send(ctx context.Context, m *contact.Message) error {
	c, stop, err := t.dial(ctx)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", t.cfg.Addr, err)
	}
	defer stop()
	defer c.Close()
	c.CommandTimeout = t.cfg.Timeout
	c.SubmissionTimeout = t.cfg.Timeout

	// STARTTLS dialing has already said EHLO.
	if t.cfg.LocalName != "" && t.cfg.Mode != StartTLS {
		if err := c.Hello(t.cfg.LocalName); err != nil {
			return fmt.Errorf("smtp hello: %w", err)
		}
	}
	if t.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := c.SendMail(m.From.Address, []string{m.To}, bytes.NewReader(m.Bytes())); err != nil {
		var serr *gosmtp.SMTPError
		if errors.As(err, &serr) {
			t.log.Warnw("server refused message", "code", serr.Code, "reply", serr.Message)
		}
		return fmt.Errorf("smtp send: %w", err)
	}
	if err := c.Quit(); err != nil {
		t.log.Debugw("quit", "error", err)
	}
	t.log.Debugw("submitted", "id", m.ID, "addr", t.cfg.Addr)
	return nil
}

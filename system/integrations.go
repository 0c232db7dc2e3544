package system

import (
	"context"
	"fmt"
	"io"

	"github.com/aerth/contactd/contact"
	"github.com/aerth/contactd/i/logmail"
	"github.com/aerth/contactd/i/ses"
	"github.com/aerth/contactd/i/smtp"
	"github.com/aerth/contactd/i/telegram"
	"github.com/aerth/contactd/session"
)

// openTransport builds the configured mail transport, and the Telegram bot used
// for audit notices when one is configured.
func (s *System) openTransport() (contact.Transport, error) {
	cfg := s.config
	tg := cfg.Telegram
	if tg.Notify || cfg.Mail.Transport == "telegram" {
		bot, err := telegram.New(tg.Token, tg.AdminChatID, tg.Endpoint, s.log.Named("telegram"))
		if err != nil {
			return nil, err
		}
		if tg.Notify {
			s.notify = bot
		}
		if cfg.Mail.Transport == "telegram" {
			return bot, nil
		}
	}

	m := cfg.Mail
	switch m.Transport {
	case "smtp":
		t, err := smtp.New(smtp.Config{
			Addr:      m.SMTP.Addr,
			Mode:      smtp.Mode(m.SMTP.TLS),
			Username:  m.SMTP.Username,
			Password:  m.SMTP.Password,
			LocalName: m.SMTP.LocalName,
			Timeout:   m.SMTP.Timeout.Duration,
		}, s.log.Named("smtp"))
		if err != nil {
			return nil, err
		}
		return t, nil
	case "ses":
		t, err := ses.New(ses.Config{
			Region:           m.SES.Region,
			ConfigurationSet: m.SES.ConfigurationSet,
		}, s.log.Named("ses"))
		if err != nil {
			return nil, err
		}
		return t, nil
	case "log":
		return logmail.New(s.log.Named("mail"), m.LogBodies), nil
	}
	return nil, fmt.Errorf("unknown mail transport %q", m.Transport)
}

// openSessions builds the configured session store. Backends holding a
// connection or file are closed by Close.
func (s *System) openSessions(ctx context.Context, secure bool) error {
	cfg := s.config
	opts := session.Options{
		CookieName: cfg.Sec.CookieName,
		TTL:        cfg.Session.TTL.Duration,
		Secure:     secure,
		HashKey:    []byte(cfg.Sec.HashKey),
		BlockKey:   []byte(cfg.Sec.BlockKey),
	}
	if cfg.Session.Store == "cookie" {
		store, err := session.NewCookieStore(opts)
		if err != nil {
			return err
		}
		s.sessions = store
		return nil
	}

	var backend session.Backend
	switch cfg.Session.Store {
	case "memory":
		backend = session.NewMemory()
	case "bolt":
		b, err := session.OpenBolt(cfg.Session.BoltDB)
		if err != nil {
			return fmt.Errorf("opening session database: %w", err)
		}
		s.log.Infow("opened session database", "path", b.Path())
		backend = b
	case "redis":
		b, err := session.DialRedis(ctx, cfg.Session.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		backend = b
	case "postgres":
		b, err := session.ConnectPostgres(ctx, cfg.Session.PostgresURL)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		backend = b
	default:
		return fmt.Errorf("unknown session store %q", cfg.Session.Store)
	}
	if c, ok := backend.(io.Closer); ok {
		s.closers = append(s.closers, c)
	}
	store, err := session.NewStore(backend, opts)
	if err != nil {
		s.Close()
		return err
	}
	s.sessions = store
	s.sweeper = store
	return nil
}

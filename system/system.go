// Package system wires configuration into a running contact form server.
package system

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dchest/captcha"
	"go.uber.org/zap"

	"github.com/aerth/contactd/config"
	"github.com/aerth/contactd/contact"
	"github.com/aerth/contactd/greylist"
	"github.com/aerth/contactd/i/telegram"
	"github.com/aerth/contactd/ratelimit"
)

type System struct {
	Stats Stats

	config   *config.Config
	log      *zap.SugaredLogger
	audit    *zap.SugaredLogger
	contact  *contact.Handler
	sessions contact.SessionStore
	sweeper  sweeper // nil for the cookie store
	closers  []io.Closer
	notify   *telegram.Bot
	greylist *greylist.List
	limiter  *ratelimit.Store
	router   http.Handler

	badguylock sync.Mutex
	badguys    map[string]*uint32
}

// sweeper drops expired server-side session records.
type sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// New builds every component named by the checked config. ctx bounds the
// connection attempts of the session backends.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*System, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Sugar()
	s := &System{
		config:  cfg,
		log:     log,
		audit:   log.Named("audit"),
		badguys: make(map[string]*uint32),
		Stats:   Stats{t1: time.Now()},
	}

	u, err := url.Parse(cfg.Meta.SiteURL)
	if err != nil {
		return nil, fmt.Errorf("bad siteurl: %w", err)
	}
	secure := u.Scheme == "https"

	if err := s.openSessions(ctx, secure); err != nil {
		return nil, err
	}
	transport, err := s.openTransport()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.greylist = greylist.New(cfg.Sec.Whitelist, cfg.Sec.Blacklist, cfg.Sec.ListRefresh.Duration, log.Named("greylist"))
	s.greylist.SetTemporaryBlacklistTime(cfg.Sec.BanTime.Duration)
	if cfg.Sec.IPRate > 0 {
		s.limiter = ratelimit.NewStore(cfg.Sec.IPRate, cfg.Sec.IPBurst)
	}

	c := cfg.Contact
	opts := []contact.Option{
		contact.WithLogger(log.Named("contact")),
		contact.WithBotHook(s.onBot),
	}
	if cfg.Sec.Captcha {
		opts = append(opts, contact.WithCaptcha(captcha.VerifyString))
	}
	s.contact, err = contact.New(contact.Config{
		To:            c.To,
		SubjectPrefix: c.SubjectPrefix,
		Window:        c.Window.Duration,
		SiteName:      cfg.Meta.SiteName,
		Sender:        c.Sender,
		SenderName:    c.SenderName,
		Mailer:        cfg.Meta.Version,
		Locale:        c.Locale,
		MaxBody:       c.MaxBody,
		Limits:        contact.Limits{MaxName: c.MaxName, MaxMessage: c.MaxMessage},
		SendTimeout:   c.SendTimeout.Duration,
	}, s.sessions, transport, opts...)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.router = s.Router()
	return s, nil
}

func (s *System) Config() *config.Config {
	return s.config
}

// Close releases session backends.
func (s *System) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
// SIGHUP re-reads the greylist files.
func (s *System) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              s.config.Meta.ListenAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.Contact.SendTimeout.Duration + 15*time.Second,
		IdleTimeout:       2 * time.Minute,
		ErrorLog:          zap.NewStdLog(s.log.Desugar().Named("http")),
	}

	var wg sync.WaitGroup
	s.background(ctx, &wg)

	errc := make(chan error, 1)
	go func() {
		errc <- srv.ListenAndServe()
	}()
	s.log.Infow("serving HTTP", "addr", srv.Addr, "siteurl", s.config.Meta.SiteURL,
		"transport", s.config.Mail.Transport, "sessions", s.config.Session.Store)

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		s.log.Infow("shutting down")
		shutdown, done := context.WithTimeout(context.Background(), 10*time.Second)
		err = srv.Shutdown(shutdown)
		done()
	}
	cancel()
	wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}
	return err
}

func (s *System) background(ctx context.Context, wg *sync.WaitGroup) {
	goRun := func(fn func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(ctx)
		}()
	}
	goRun(s.greylist.Run)
	if s.limiter != nil {
		goRun(s.limiter.Run)
	}
	if s.sweeper != nil {
		goRun(s.sweepLoop)
	}
	goRun(func(ctx context.Context) {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGHUP)
		defer signal.Stop(sigchan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigchan:
				s.log.Infow("got SIGHUP, reloading greylist")
				s.greylist.Reload()
			}
		}
	})
}

func (s *System) sweepLoop(ctx context.Context) {
	t := time.NewTicker(s.config.Session.SweepEvery.Duration)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.sweeper.Sweep(ctx)
			if err != nil {
				s.log.Warnw("session sweep failed", "error", err)
				continue
			}
			if n > 0 {
				s.log.Debugw("swept sessions", "count", n)
			}
		}
	}
}

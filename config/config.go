package config

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aerth/contactd/contact"
	"github.com/aerth/contactd/session"
)

// ErrMissing is wrapped by CheckConfig for every required setting that is absent.
var ErrMissing = errors.New("config: missing required setting")

type MetaConfig struct {
	Version         string `json:"-"`
	ListenAddr      string `json:"listen"`
	SiteName        string `json:"sitename"`
	SiteURL         string `json:"siteurl"`
	DevelopmentMode bool   `json:"devmode"`
	TrustProxy      bool   `json:"trust-proxy"` // honour X-Forwarded-For / X-Real-IP
	LogLevel        string `json:"log-level"`
}

type Config struct {
	Meta           MetaConfig     `json:"Meta,omitempty"`
	Contact        ContactConfig  `json:"Contact"`
	Mail           MailConfig     `json:"Mail"`
	Session        SessionConfig  `json:"Session"`
	Sec            SecurityConfig `json:"Security,omitempty"`
	Telegram       TelegramConfig `json:"Telegram"`
	ConfigFilePath string         `json:"-"` // empty if stdin
}

type ContactConfig struct {
	To            string   `json:"to"`
	SubjectPrefix string   `json:"subject-prefix"`
	Window        Duration `json:"window"`
	Locale        string   `json:"locale"`
	MaxBody       int64    `json:"max-body"`
	MaxName       int      `json:"max-name"`
	MaxMessage    int      `json:"max-message"`
	Sender        string   `json:"sender"`
	SenderName    string   `json:"sender-name"`
	SendTimeout   Duration `json:"send-timeout"`
}

type MailConfig struct {
	Transport string     `json:"transport"` // smtp, ses, telegram, log
	SMTP      SMTPConfig `json:"smtp"`
	SES       struct {
		Region           string `json:"region"`
		ConfigurationSet string `json:"configuration-set"`
	} `json:"ses"`
	LogBodies bool `json:"log-bodies"` // log transport only
}

type SMTPConfig struct {
	Addr      string   `json:"addr"`
	TLS       string   `json:"tls"` // none, starttls, tls
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	LocalName string   `json:"localname"`
	Timeout   Duration `json:"timeout"`
}

type SessionConfig struct {
	Store       string   `json:"store"` // cookie, memory, bolt, redis, postgres
	TTL         Duration `json:"ttl"`
	BoltDB      string   `json:"database"`
	RedisURL    string   `json:"redis-url"`
	PostgresURL string   `json:"postgres-url"`
	SweepEvery  Duration `json:"sweep-every"`
}

type SecurityConfig struct {
	HashKey      string   `json:"hash-key"`
	BlockKey     string   `json:"block-key"`
	CSRFKey      string   `json:"csrf-key"`
	CookieName   string   `json:"cookie-name"`
	Whitelist    string   `json:"whitelist"`
	Blacklist    string   `json:"blacklist"`
	ListRefresh  Duration `json:"list-refresh"`
	BanTime      Duration `json:"ban-time"`
	BanHoneypot  bool     `json:"ban-honeypot"`
	IPRate       float64  `json:"ip-rate"` // requests per second, 0 disables
	IPBurst      int      `json:"ip-burst"`
	Captcha      bool     `json:"captcha"`
	AllowOrigins []string `json:"allow-origins"` // CORS, defaults to Meta.siteurl
}

type TelegramConfig struct {
	Token       string `json:"token"`
	AdminChatID int64  `json:"adminChat"`
	Endpoint    string `json:"endpoint"`
	Notify      bool   `json:"notify"` // tell the admin chat about bans
}

// Duration reads "30s"-style strings or plain seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
	case string:
		dur, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		d.Duration = dur
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}

// Load reads a JSON config from path, or from stdin when path is "-".
func Load(path string, stdin io.Reader) (*Config, error) {
	var r io.Reader = stdin
	config := new(Config)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
		config.ConfigFilePath = path
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(config); err != nil {
		return nil, fmt.Errorf("error decoding json config: %w", err)
	}
	return config, nil
}

const DefaultListenAddr = "127.0.0.1:8080"

// CheckConfig applies environment overrides and defaults, then rejects missing essentials.
// In development mode missing keys are generated and the log transport is the default.
func CheckConfig(config *Config, log *zap.SugaredLogger) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if config.Meta.Version == "" {
		config.Meta.Version = "contactd"
	}

	// override is $PORT or $SITEURL are used (heroku, etc?)
	if port := os.Getenv("PORT"); port != "" {
		log.Infow("overriding flags and config file with $PORT", "port", port)
		config.Meta.ListenAddr = ":" + port
	}
	for _, o := range []struct {
		env   string
		field *string
	}{
		{"SITEURL", &config.Meta.SiteURL},
		{"CONTACT_TO", &config.Contact.To},
		{"SMTP_PASSWORD", &config.Mail.SMTP.Password},
		{"TELEGRAM_TOKEN", &config.Telegram.Token},
		{"REDIS_URL", &config.Session.RedisURL},
		{"DATABASE_URL", &config.Session.PostgresURL},
		{"SESSION_HASH_KEY", &config.Sec.HashKey},
		{"SESSION_BLOCK_KEY", &config.Sec.BlockKey},
		{"CSRF_KEY", &config.Sec.CSRFKey},
		{"LOG_LEVEL", &config.Meta.LogLevel},
	} {
		if v := os.Getenv(o.env); v != "" {
			log.Debugw("overriding config with environment", "env", o.env)
			*o.field = v
		}
	}
	if v := os.Getenv("TELEGRAM_ADMIN_CHAT"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_ADMIN_CHAT: %w", err)
		}
		config.Telegram.AdminChatID = id
	}

	dev := config.Meta.DevelopmentMode
	if config.Meta.ListenAddr == "" {
		config.Meta.ListenAddr = DefaultListenAddr
	}
	if config.Meta.SiteURL == "" {
		if !dev {
			return fmt.Errorf("%w: Meta.siteurl", ErrMissing)
		}
		config.Meta.SiteURL = "http://" + config.Meta.ListenAddr
	}
	u, err := url.Parse(config.Meta.SiteURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("config: bad Meta.siteurl %q", config.Meta.SiteURL)
	}
	if config.Meta.SiteName == "" {
		config.Meta.SiteName = u.Hostname()
	}
	if len(config.Sec.AllowOrigins) == 0 {
		config.Sec.AllowOrigins = []string{u.Scheme + "://" + u.Host}
	}

	// contact
	c := &config.Contact
	if c.To == "" {
		return fmt.Errorf("%w: Contact.to", ErrMissing)
	}
	if !contact.ValidEmail(c.To) {
		return fmt.Errorf("config: Contact.to %q is not an email address", c.To)
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = "Contact Form"
	}
	setDefault(&c.Window, contact.DefaultWindow)
	setDefault(&c.SendTimeout, contact.DefaultSendTimeout)
	if c.Locale == "" {
		c.Locale = contact.DefaultLocale
	}
	if c.Sender == "" {
		c.Sender = "no-reply@" + u.Hostname()
		if !contact.ValidEmail(c.Sender) {
			if !dev {
				return fmt.Errorf("%w: Contact.sender (siteurl host %q makes no address)", ErrMissing, u.Hostname())
			}
			log.Warnw("siteurl host makes no sender address; set Contact.sender", "sender", c.Sender)
		}
	} else if !contact.ValidEmail(c.Sender) {
		return fmt.Errorf("config: Contact.sender %q is not an email address", c.Sender)
	}
	if c.MaxBody <= 0 {
		c.MaxBody = contact.DefaultMaxBody
	}
	// length caps are opt-in; 0 means unlimited
	if c.MaxName < 0 {
		c.MaxName = 0
	}
	if c.MaxMessage < 0 {
		c.MaxMessage = 0
	}

	// mail
	m := &config.Mail
	if m.Transport == "" {
		m.Transport = "smtp"
		if dev {
			m.Transport = "log"
		}
	}
	switch m.Transport {
	case "smtp":
		if m.SMTP.Addr == "" {
			return fmt.Errorf("%w: Mail.smtp.addr", ErrMissing)
		}
		if m.SMTP.TLS == "" {
			m.SMTP.TLS = "starttls"
		}
	case "ses":
		if m.SES.Region == "" {
			return fmt.Errorf("%w: Mail.ses.region", ErrMissing)
		}
	case "telegram":
		if config.Telegram.Token == "" || config.Telegram.AdminChatID == 0 {
			return fmt.Errorf("%w: Telegram.token and Telegram.adminChat", ErrMissing)
		}
	case "log":
	default:
		return fmt.Errorf("config: unknown Mail.transport %q", m.Transport)
	}

	// session
	s := &config.Session
	if s.Store == "" {
		s.Store = "cookie"
	}
	setDefault(&s.TTL, session.DefaultTTL)
	setDefault(&s.SweepEvery, 10*time.Minute)
	switch s.Store {
	case "cookie", "memory":
	case "bolt":
		if s.BoltDB == "" {
			s.BoltDB = "contactd.db"
		}
		if config.ConfigFilePath != "" && !filepath.IsAbs(s.BoltDB) {
			s.BoltDB = filepath.Join(filepath.Dir(config.ConfigFilePath), s.BoltDB)
		}
	case "redis":
		if s.RedisURL == "" {
			return fmt.Errorf("%w: Session.redis-url", ErrMissing)
		}
	case "postgres":
		if s.PostgresURL == "" {
			return fmt.Errorf("%w: Session.postgres-url", ErrMissing)
		}
	default:
		return fmt.Errorf("config: unknown Session.store %q", s.Store)
	}

	// security
	sec := &config.Sec
	if sec.CookieName == "" {
		sec.CookieName = session.DefaultCookieName
	}
	if sec.HashKey == "" {
		if !dev {
			return fmt.Errorf("%w: Security.hash-key", ErrMissing)
		}
		sec.HashKey = randomKey()
		log.Warnw("generated a session hash key; sessions end on restart")
	}
	switch len(sec.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("config: Security.block-key must be 16, 24 or 32 bytes")
	}
	if sec.CSRFKey != "" && len(sec.CSRFKey) != 32 {
		return fmt.Errorf("config: Security.csrf-key must be 32 bytes")
	}
	if sec.IPBurst <= 0 {
		sec.IPBurst = 5
	}
	if sec.BanTime.Duration <= 0 {
		sec.BanTime.Duration = 24 * time.Hour
		if dev {
			sec.BanTime.Duration = time.Minute
		}
	}
	if sec.ListRefresh.Duration == 0 && dev {
		sec.ListRefresh.Duration = 10 * time.Second
	}
	return nil
}

func setDefault(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

// randomKey returns 32 printable bytes.
func randomKey() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

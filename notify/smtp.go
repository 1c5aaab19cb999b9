// Package notify delivers alert notifications over authenticated,
// TLS-protected SMTP submission.
package notify

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// Config of an SMTP submission endpoint.
type Config struct {
	Host     string        `long:"host" env:"HOST" description:"SMTP submission host. Notifications are disabled if not set"`
	Port     int           `long:"port" env:"PORT" default:"587" description:"SMTP submission port"`
	Username string        `long:"username" env:"USERNAME" description:"SMTP authentication username"`
	Password string        `long:"password" env:"PASSWORD" description:"SMTP authentication password"`
	From     string        `long:"from" env:"FROM" description:"Sender address of notifications. Defaults to the username"`
	Timeout  time.Duration `long:"timeout" env:"TIMEOUT" default:"30s" description:"Timeout of a single delivery"`
}

// Enabled returns whether the Config names a submission host.
func (cfg Config) Enabled() bool { return cfg.Host != "" }

// SMTP is a Notifier which submits each notification as a plain-text email.
type SMTP struct {
	cfg Config
}

// NewSMTP returns an SMTP Notifier of the Config.
func NewSMTP(cfg Config) (*SMTP, error) {
	if !cfg.Enabled() {
		return nil, errors.New("SMTP host not configured")
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	if cfg.From == "" {
		return nil, errors.New("SMTP sender address not configured")
	}
	return &SMTP{cfg: cfg}, nil
}

// Notify sends |body| to each of |to|. Recipients with malformed addresses
// are logged and skipped. Delivery is attempted once.
func (s *SMTP) Notify(ctx context.Context, subject, body string, to []string) error {
	var msg = mail.NewMsg()

	if err := msg.FromFormat(senderName, s.cfg.From); err != nil {
		return errors.Wrapf(err, "resolving sender address %q", s.cfg.From)
	}
	var recipients int
	for _, rcpt := range to {
		if err := msg.AddTo(rcpt); err != nil {
			log.WithFields(log.Fields{"err": err, "rcpt": rcpt}).Warn("skipping unresolvable recipient")
			continue
		}
		recipients++
	}
	if recipients == 0 {
		return errors.New("no deliverable recipients")
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	var opts = []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(s.cfg.Username),
		mail.WithPassword(s.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	}
	if s.cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(s.cfg.Timeout))
	}
	var client, err = mail.NewClient(s.cfg.Host, opts...)
	if err != nil {
		return errors.Wrap(err, "building SMTP client")
	}
	if err = client.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrap(err, "sending notification")
	}
	return nil
}

const senderName = "GDLogTool Alerting System"

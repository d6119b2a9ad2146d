package notify

import (
	"context"

	"github.com/rotisserie/eris"
	"gopkg.in/gomail.v2"

	"github.com/sells-group/prospector/internal/config"
)

// Mail is one outgoing message. HTML is optional.
type Mail struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// sender is satisfied by *gomail.Dialer.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends mail through an SMTP relay.
type SMTPMailer struct {
	dialer sender
	from   string
}

// NewSMTPMailer returns a mailer for cfg, or nil when SMTP is not configured.
func NewSMTPMailer(cfg config.SMTPConfig) *SMTPMailer {
	if cfg.Host == "" {
		return nil
	}
	from := cfg.From
	if from == "" {
		from = cfg.Username
	}
	return &SMTPMailer{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   from,
	}
}

// Send implements Mailer.
func (s *SMTPMailer) Send(ctx context.Context, m Mail) error {
	if len(m.To) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", s.from)
	msg.SetHeader("To", m.To...)
	msg.SetHeader("Subject", m.Subject)
	msg.SetBody("text/plain", m.Text)
	if m.HTML != "" {
		msg.AddAlternative("text/html", m.HTML)
	}
	if err := s.dialer.DialAndSend(msg); err != nil {
		return eris.Wrap(err, "notify: send email")
	}
	return nil
}

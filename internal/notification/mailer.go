package notification

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// EmailConfig selects and configures the e-mail provider.
type EmailConfig struct {
	Provider    string // smtp, sendgrid
	Host        string
	Port        int
	Username    string
	Password    string
	Encryption  string // none, tls (STARTTLS), ssl (implicit)
	APIKey      string
	APIHost     string // sendgrid API base; the public endpoint when empty
	FromAddress string
	FromName    string
	To          []string
}

// Enabled reports whether a provider and recipients are configured.
func (c EmailConfig) Enabled() bool {
	return c.Provider != "" && c.Provider != "none" && len(c.To) > 0
}

// Validate checks the fields the chosen provider needs.
func (c EmailConfig) Validate() error {
	if !c.Enabled() {
		return nil
	}
	var errs []error
	if c.FromAddress == "" {
		errs = append(errs, errors.New("from address is required"))
	}
	switch c.Provider {
	case "smtp":
		if c.Host == "" || c.Port <= 0 {
			errs = append(errs, errors.New("smtp host and port are required"))
		}
		switch c.Encryption {
		case "", "none", "tls", "ssl":
		default:
			errs = append(errs, fmt.Errorf("unknown smtp encryption %q", c.Encryption))
		}
	case "sendgrid":
		if c.APIKey == "" {
			errs = append(errs, errors.New("sendgrid api key is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown email provider %q", c.Provider))
	}
	return errors.Join(errs...)
}

// Mailer delivers plain notification e-mails to the configured recipients.
type Mailer struct {
	cfg EmailConfig
	log zerolog.Logger
}

func NewMailer(cfg EmailConfig, log zerolog.Logger) (*Mailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("email config: %w", err)
	}
	return &Mailer{cfg: cfg, log: log.With().Str("component", "notification").Logger()}, nil
}

// Notify sends subject and body to every recipient. It is a no-op when
// e-mail is not configured.
func (m *Mailer) Notify(ctx context.Context, subject, body string) error {
	if !m.cfg.Enabled() {
		return nil
	}
	var err error
	switch m.cfg.Provider {
	case "sendgrid":
		err = m.sendSendgrid(ctx, subject, body)
	default:
		err = m.sendSMTP(subject, body)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", m.cfg.Provider, err)
	}
	m.log.Info().Str("provider", m.cfg.Provider).Int("recipients", len(m.cfg.To)).Str("subject", subject).Msg("notification sent")
	return nil
}

func (m *Mailer) sendSendgrid(ctx context.Context, subject, body string) error {
	msg := mail.NewV3Mail()
	msg.SetFrom(mail.NewEmail(m.cfg.FromName, m.cfg.FromAddress))
	msg.Subject = subject
	p := mail.NewPersonalization()
	for _, to := range m.cfg.To {
		p.AddTos(mail.NewEmail("", to))
	}
	msg.AddPersonalizations(p)
	msg.AddContent(mail.NewContent("text/plain", body))

	req := sendgrid.GetRequest(m.cfg.APIKey, "/v3/mail/send", m.cfg.APIHost)
	req.Method = "POST"
	client := &sendgrid.Client{Request: req}
	resp, err := client.SendWithContext(ctx, msg)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}

func (m *Mailer) message(subject, body string) []byte {
	from := m.cfg.FromAddress
	if m.cfg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", m.cfg.FromName, m.cfg.FromAddress)
	}
	return []byte("From: " + from + "\r\n" +
		"To: " + strings.Join(m.cfg.To, ", ") + "\r\n" +
		"Subject: " + subject + "\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: text/plain; charset=\"UTF-8\"\r\n" +
		"\r\n" + body + "\r\n")
}

func (m *Mailer) sendSMTP(subject, body string) error {
	addr := fmt.Sprintf("%s:%d", m.cfg.Host, m.cfg.Port)
	msg := m.message(subject, body)

	var auth smtp.Auth
	if m.cfg.Username != "" && m.cfg.Password != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	if m.cfg.Encryption != "ssl" {
		// smtp.SendMail upgrades with STARTTLS when the server offers it.
		return smtp.SendMail(addr, auth, m.cfg.FromAddress, m.cfg.To, msg)
	}

	conn, err := tls.Dial("tcp", addr, &tls.Config{ServerName: m.cfg.Host})
	if err != nil {
		return err
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Quit()

	if auth != nil {
		if err := c.Auth(auth); err != nil {
			return err
		}
	}
	if err := c.Mail(m.cfg.FromAddress); err != nil {
		return err
	}
	for _, to := range m.cfg.To {
		if err := c.Rcpt(to); err != nil {
			return err
		}
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	return w.Close()
}

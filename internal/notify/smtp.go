// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/thinkgreen/thinkgreen/internal/auth"
)

// Mail subjects.
const (
	SubjectCode    = "Your ThinkGreen Verification Code"
	SubjectWelcome = "Welcome to ThinkGreen! 🌱"
)

const (
	senderName = "ThinkGreen"

	// DefaultSMTPTimeout bounds one delivery when ctx has no deadline.
	DefaultSMTPTimeout = 15 * time.Second

	defaultRetries = 2
	defaultBackoff = 200 * time.Millisecond
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

// SMTPConfig holds mail server settings.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// From is the bare sender address; the display name is added.
	From string
	// BaseURL is the public site root used for links in mail bodies.
	BaseURL string
	// Timeout bounds each delivery attempt. Zero means DefaultSMTPTimeout.
	Timeout time.Duration
}

// Validate reports missing settings.
func (c SMTPConfig) Validate() error {
	switch {
	case c.Host == "":
		return oops.Code("MAIL_CONFIG_INVALID").With("field", "host").Errorf("smtp host is required")
	case c.Port <= 0 || c.Port > 65535:
		return oops.Code("MAIL_CONFIG_INVALID").With("field", "port").With("port", c.Port).Errorf("smtp port is invalid")
	case c.Username == "" || c.Password == "":
		return oops.Code("MAIL_CONFIG_INVALID").With("field", "credentials").Errorf("smtp credentials are required")
	}
	if _, err := mail.ParseAddress(c.sender()); err != nil {
		return oops.Code("MAIL_CONFIG_INVALID").With("field", "from").Wrap(err)
	}
	return nil
}

func (c SMTPConfig) sender() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// envelope is one outbound message.
type envelope struct {
	from string
	to   string
	data []byte
}

type sendFunc func(ctx context.Context, cfg SMTPConfig, env envelope) error

// SMTPMailer delivers auth mail over SMTP. Port 465 uses implicit TLS; any
// other port upgrades with STARTTLS when the server offers it.
type SMTPMailer struct {
	cfg     SMTPConfig
	send    sendFunc
	now     func() time.Time
	logger  *slog.Logger
	retries uint64
	backoff time.Duration
}

// MailerOption configures an SMTPMailer.
type MailerOption func(*SMTPMailer)

// WithMailerLogger sets the logger. Defaults to slog.Default().
func WithMailerLogger(logger *slog.Logger) MailerOption {
	return func(m *SMTPMailer) {
		m.logger = logger
	}
}

// WithRetries sets how many times a temporary SMTP failure is retried.
func WithRetries(n uint64, backoff time.Duration) MailerOption {
	return func(m *SMTPMailer) {
		m.retries = n
		m.backoff = backoff
	}
}

// NewSMTPMailer creates a mailer. cfg is validated.
func NewSMTPMailer(cfg SMTPConfig, opts ...MailerOption) (*SMTPMailer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSMTPTimeout
	}
	m := &SMTPMailer{
		cfg:     cfg,
		send:    smtpSend,
		now:     time.Now,
		logger:  slog.Default(),
		retries: defaultRetries,
		backoff: defaultBackoff,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.backoff <= 0 {
		m.backoff = defaultBackoff
	}
	return m, nil
}

// SendCode mails a verification code.
func (m *SMTPMailer) SendCode(ctx context.Context, email, code string) error {
	body, err := render("code.html", struct {
		Code         string
		ValidMinutes int
		Year         int
	}{code, int(auth.OTPTTL / time.Minute), m.now().Year()})
	if err != nil {
		return err
	}
	return m.deliver(ctx, auth.NotifyCode, email, SubjectCode, body)
}

// SendWelcome mails the post-signup welcome message.
func (m *SMTPMailer) SendWelcome(ctx context.Context, email, displayName string) error {
	body, err := render("welcome.html", struct {
		Name         string
		DashboardURL string
		Year         int
	}{displayName, strings.TrimRight(m.cfg.BaseURL, "/") + "/dashboard", m.now().Year()})
	if err != nil {
		return err
	}
	return m.deliver(ctx, auth.NotifyWelcome, email, SubjectWelcome, body)
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", oops.Code("MAIL_RENDER_FAILED").With("template", name).Wrap(err)
	}
	return buf.String(), nil
}

func (m *SMTPMailer) deliver(ctx context.Context, kind, to, subject, html string) error {
	data, err := m.buildMessage(to, subject, html)
	if err != nil {
		return err
	}
	env := envelope{from: m.cfg.sender(), to: to, data: data}

	attempt := 0
	backoff := retry.WithMaxRetries(m.retries, retry.NewExponential(m.backoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		sendErr := m.send(ctx, m.cfg, env)
		if sendErr != nil && isTemporary(sendErr) {
			m.logger.WarnContext(ctx, "temporary smtp failure, retrying",
				"kind", kind, "attempt", attempt, "error", sendErr)
			return retry.RetryableError(sendErr)
		}
		return sendErr
	})
	if err != nil {
		return oops.Code("MAIL_SEND_FAILED").
			With("kind", kind).
			With("to", to).
			With("attempts", attempt).
			Wrap(err)
	}

	m.logger.InfoContext(ctx, "mail sent", "kind", kind, "to", to)
	return nil
}

func (m *SMTPMailer) buildMessage(to, subject, html string) ([]byte, error) {
	toAddr, err := mail.ParseAddress(to)
	if err != nil {
		return nil, oops.Code("MAIL_INVALID_RECIPIENT").With("to", to).Wrap(err)
	}
	from := &mail.Address{Name: senderName, Address: m.cfg.sender()}

	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }
	header("From", from.String())
	header("To", toAddr.String())
	header("Subject", mime.QEncoding.Encode("utf-8", subject))
	header("Date", m.now().Format(time.RFC1123Z))
	header("Message-ID", "<"+ulid.Make().String()+"@"+m.cfg.Host+">")
	header("MIME-Version", "1.0")
	header("Content-Type", `text/html; charset="UTF-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	qp := quotedprintable.NewWriter(&buf)
	if _, err := qp.Write([]byte(html)); err != nil {
		return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
	}
	if err := qp.Close(); err != nil {
		return nil, oops.Code("MAIL_RENDER_FAILED").Wrap(err)
	}
	return buf.Bytes(), nil
}

// isTemporary reports 4xx SMTP replies and network timeouts.
func isTemporary(err error) bool {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code >= 400 && protoErr.Code < 500
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// smtpSend runs one SMTP session.
func smtpSend(ctx context.Context, cfg SMTPConfig, env envelope) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(cfg.Timeout)
	}

	dialer := &net.Dialer{Deadline: deadline}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.addr())
	if err != nil {
		return oops.With("operation", "dial").With("addr", cfg.addr()).Wrap(err)
	}
	if err := conn.SetDeadline(deadline); err != nil {
		_ = conn.Close()
		return oops.With("operation", "set deadline").Wrap(err)
	}

	tlsConfig := &tls.Config{ServerName: cfg.Host, MinVersion: tls.VersionTLS12}
	implicitTLS := cfg.Port == 465
	if implicitTLS {
		conn = tls.Client(conn, tlsConfig)
	}

	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		_ = conn.Close()
		return oops.With("operation", "smtp handshake").Wrap(err)
	}
	// Quit already closed the connection on success.
	defer func() { _ = client.Close() }()

	if !implicitTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(tlsConfig); err != nil {
				return oops.With("operation", "starttls").Wrap(err)
			}
		}
	}
	if ok, _ := client.Extension("AUTH"); ok {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return oops.With("operation", "smtp auth").Wrap(err)
		}
	}
	if err := client.Mail(env.from); err != nil {
		return oops.With("operation", "mail from").Wrap(err)
	}
	if err := client.Rcpt(env.to); err != nil {
		return oops.With("operation", "rcpt to").Wrap(err)
	}
	w, err := client.Data()
	if err != nil {
		return oops.With("operation", "data").Wrap(err)
	}
	if _, err := w.Write(env.data); err != nil {
		_ = w.Close()
		return oops.With("operation", "write body").Wrap(err)
	}
	if err := w.Close(); err != nil {
		return oops.With("operation", "end data").Wrap(err)
	}
	if err := client.Quit(); err != nil {
		return oops.With("operation", "quit").Wrap(err)
	}
	return nil
}

var _ auth.Notifier = (*SMTPMailer)(nil)

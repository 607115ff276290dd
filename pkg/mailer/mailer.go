package mailer

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/noah-isme/staff-portal-api/pkg/config"
)

//go:embed templates/*.html
var templateFS embed.FS

// Kinds with a dedicated template. They mirror the notification type tags.
var Kinds = []string{"comment", "announcement", "report_status", "proposal_status", "system"}

// ErrDisabled is returned when mail delivery is switched off.
var ErrDisabled = errors.New("mail delivery disabled")

// Recipient identifies who receives an email.
type Recipient struct {
	Email string
	Name  string
}

// Message carries the values rendered into a template.
type Message struct {
	Subject       string
	Title         string
	Message       string
	Excerpt       string
	Note          string
	ActionURL     string
	RecipientName string
}

// Sender delivers composed messages. gomail's Dialer satisfies it.
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer renders notification templates and hands them to an SMTP sender.
type Mailer struct {
	cfg       config.MailConfig
	sender    Sender
	templates map[string]*template.Template
	logger    *zap.Logger
}

// New builds a mailer from the effective mail configuration.
func New(cfg config.MailConfig, logger *zap.Logger) (*Mailer, error) {
	return NewWithSender(cfg, gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password), logger)
}

// NewWithSender builds a mailer using a custom sender.
func NewWithSender(cfg config.MailConfig, sender Sender, logger *zap.Logger) (*Mailer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	templates := make(map[string]*template.Template, len(Kinds))
	for _, kind := range Kinds {
		tmpl, err := template.ParseFS(templateFS, "templates/layout.html", "templates/"+kind+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", kind, err)
		}
		templates[kind] = tmpl
	}
	return &Mailer{cfg: cfg, sender: sender, templates: templates, logger: logger}, nil
}

// Enabled reports whether emails should be queued at all.
func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg.Enabled
}

// Render produces the HTML body for the given kind.
func (m *Mailer) Render(kind string, msg Message) (string, error) {
	tmpl, ok := m.templates[kind]
	if !ok {
		tmpl = m.templates["system"]
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", msg); err != nil {
		return "", fmt.Errorf("render %s email: %w", kind, err)
	}
	return buf.String(), nil
}

// Send renders and delivers a single email.
func (m *Mailer) Send(ctx context.Context, kind string, to Recipient, msg Message) error {
	if !m.Enabled() {
		return ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if msg.RecipientName == "" {
		msg.RecipientName = to.Name
	}
	body, err := m.Render(kind, msg)
	if err != nil {
		return err
	}

	message := gomail.NewMessage()
	message.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	message.SetAddressHeader("To", to.Email, to.Name)
	message.SetHeader("Subject", msg.Subject)
	message.SetBody("text/html", body)

	if err := m.sender.DialAndSend(message); err != nil {
		return fmt.Errorf("send %s email to %s: %w", kind, to.Email, err)
	}
	m.logger.Debug("email sent", zap.String("kind", kind), zap.String("to", to.Email))
	return nil
}

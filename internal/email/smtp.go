package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"mime/quotedprintable"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/DukeRupert/tollgate/internal/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService sends emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Any SMTP relay (production): Uses username/password authentication
type SMTPEmailService struct {
	config     SMTPConfig
	upgradeURL string
	templates  *template.Template
	logger     *slog.Logger
	now        func() time.Time
	sendMail   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPEmailService creates a new SMTP-based email service.
//
// upgradeURL is linked from every warning; leave it empty to omit the link.
func NewSMTPEmailService(config SMTPConfig, upgradeURL string, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	templates, err := template.New("email").Funcs(emailTemplateFuncs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &SMTPEmailService{
		config:     config,
		upgradeURL: upgradeURL,
		templates:  templates,
		logger:     logger,
		now:        time.Now,
		sendMail:   smtp.SendMail,
	}, nil
}

// =============================================================================
// EmailService Interface Implementation
// =============================================================================

// SendQuotaWarning tells a user how much of their daily budget is used.
func (s *SMTPEmailService) SendQuotaWarning(ctx context.Context, to, name string, currentUsage, dailyLimit int64, plan domain.Plan) error {
	email, err := s.quotaWarning(to, name, currentUsage, dailyLimit, plan)
	if err != nil {
		return err
	}
	return s.send(ctx, email)
}

func (s *SMTPEmailService) quotaWarning(to, name string, currentUsage, dailyLimit int64, plan domain.Plan) (Email, error) {
	if name == "" {
		name = "there"
	}

	percent := domain.PercentUsed(currentUsage, dailyLimit)
	exhausted := currentUsage >= dailyLimit
	planName := planTitle(plan)
	resetAt := domain.NextReset(s.now()).Format("15:04 MST on Jan 2")

	subject := fmt.Sprintf("You have used %d%% of your daily quota", percent)
	if exhausted {
		subject = "You have reached your daily quota"
	}

	data := map[string]interface{}{
		"Subject":      subject,
		"Name":         name,
		"CurrentUsage": currentUsage,
		"DailyLimit":   dailyLimit,
		"Percent":      percent,
		"Exhausted":    exhausted,
		"PlanName":     planName,
		"ResetAt":      resetAt,
		"UpgradeURL":   s.upgradeURL,
	}

	htmlBody, err := s.renderTemplate("quota_warning.html", data)
	if err != nil {
		return Email{}, fmt.Errorf("failed to render quota warning template: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "Hi %s,\n\n", name)
	if exhausted {
		fmt.Fprintf(&text, "You have used all %d operations included in your %s plan today. "+
			"Further requests will be refused until the daily reset.\n\n", dailyLimit, planName)
	} else {
		fmt.Fprintf(&text, "You have used %d of the %d operations included in your %s plan today (%d%%).\n\n",
			currentUsage, dailyLimit, planName, percent)
	}
	fmt.Fprintf(&text, "Your quota resets at %s.\n", resetAt)
	if s.upgradeURL != "" {
		fmt.Fprintf(&text, "\nUpgrade your plan for a larger daily budget: %s\n", s.upgradeURL)
	}
	text.WriteString("\nThanks,\nThe Tollgate Team\n")

	return Email{
		To:       to,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: text.String(),
	}, nil
}

// =============================================================================
// Internal Methods
// =============================================================================

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := s.buildMessage(email)
	if err != nil {
		return fmt.Errorf("failed to build email: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Create auth if credentials are provided (not needed for Mailhog)
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	if err := s.sendMail(addr, auth, s.config.From, []string{email.To}, msg); err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)

	return nil
}

// buildMessage constructs the raw email message with headers.
func (s *SMTPEmailService) buildMessage(email Email) ([]byte, error) {
	var buf bytes.Buffer

	fromHeader := fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	boundary := "===============TOLLGATE_BOUNDARY==============="
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	parts := []struct {
		contentType string
		body        string
	}{
		{"text/plain", email.TextBody},
		{"text/html", email.HTMLBody},
	}
	for _, part := range parts {
		buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		buf.WriteString(fmt.Sprintf("Content-Type: %s; charset=utf-8\r\n", part.contentType))
		buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n")
		buf.WriteString("\r\n")
		qp := quotedprintable.NewWriter(&buf)
		if _, err := qp.Write([]byte(part.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
		buf.WriteString("\r\n")
	}

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes(), nil
}

// renderTemplate renders an email template with the given data.
func (s *SMTPEmailService) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// planTitle renders a plan for display, e.g. "premium" -> "Premium".
func planTitle(plan domain.Plan) string {
	return cases.Title(language.English).String(string(plan))
}

// =============================================================================
// Template Functions
// =============================================================================

// emailTemplateFuncs returns template functions available in email templates.
func emailTemplateFuncs() template.FuncMap {
	return template.FuncMap{
		"currentYear": func() int {
			return time.Now().Year()
		},
	}
}

// =============================================================================
// Compile-time interface check
// =============================================================================

var _ EmailService = (*SMTPEmailService)(nil)

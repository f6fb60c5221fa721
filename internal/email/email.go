// Package email delivers quota notifications.
//
// This package defines an EmailService interface with implementations for:
// - SMTP (Mailhog in development, any SMTP relay in production)
// - Log (writes the notice to the structured log instead of sending it)
package email

import (
	"context"

	"github.com/DukeRupert/tollgate/internal/domain"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending quota notifications.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendQuotaWarning tells a user how much of their daily budget is used.
	// Parameters:
	// - to: Recipient email address
	// - name: Recipient's name for personalization
	// - currentUsage, dailyLimit: today's usage against the plan budget
	// - plan: the user's current plan
	SendQuotaWarning(ctx context.Context, to, name string, currentUsage, dailyLimit int64, plan domain.Plan) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for notifications.
	DefaultFromEmail = "noreply@tollgate.dev"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Tollgate"
)

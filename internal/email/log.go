package email

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/tollgate/internal/domain"
)

// LogEmailService writes notifications to the log instead of sending them.
// Used in development and when no SMTP relay is configured.
type LogEmailService struct {
	logger *slog.Logger
}

// NewLogEmailService creates a new log-only email service.
func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

func (s *LogEmailService) SendQuotaWarning(ctx context.Context, to, name string, currentUsage, dailyLimit int64, plan domain.Plan) error {
	s.logger.Info("quota warning",
		"to", to,
		"name", name,
		"used", currentUsage,
		"limit", dailyLimit,
		"plan", plan,
		"percent", domain.PercentUsed(currentUsage, dailyLimit),
	)
	return nil
}

var _ EmailService = (*LogEmailService)(nil)

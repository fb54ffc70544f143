package notify

import (
	"context"

	"github.com/jonesrussell/linkscan/internal/logger"
)

// LogMailer is the default Mailer: it records the delivery in the log
// instead of sending. Deployments wire a real transport behind the Mailer
// interface.
type LogMailer struct {
	log logger.Logger
}

// NewLogMailer creates a logging mailer.
func NewLogMailer(log logger.Logger) *LogMailer {
	return &LogMailer{log: log}
}

// Send logs the delivery and reports success.
func (m *LogMailer) Send(_ context.Context, recipients []string, subject, _ string) error {
	m.log.Info("email notification",
		logger.Int("recipients", len(recipients)),
		logger.String("subject", subject))
	return nil
}

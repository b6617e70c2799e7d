// Package report emails a summary of each mirroring run to an operator.
package report

import (
	"context"
	"fmt"
	"log/slog"

	"insta-mirror/poll"
)

// Provider defines the interface for email sending implementations.
type Provider interface {
	// Send sends an email with the given parameters.
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Sender sends run reports using a pluggable provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
	to       string
}

// New creates a new report sender delivering to the given address.
func New(provider Provider, logger *slog.Logger, to string) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
		to:       to,
	}
}

// Send emails a summary of r. Runs where nothing was detected and nothing
// failed are not reported.
func (s *Sender) Send(ctx context.Context, r *poll.Report) error {
	if r == nil || (r.Detected == 0 && len(r.Failures) == 0) {
		s.logger.Debug("Nothing to report")
		return nil
	}

	subject := Subject(r)
	s.logger.Info("Sending run report",
		"to", s.to,
		"subject", subject,
		"failures", len(r.Failures))

	if err := s.provider.Send(ctx, s.to, subject, formatBody(r)); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}

// Subject summarises a run in one line.
func Subject(r *poll.Report) string {
	prefix := "insta-mirror"
	if r.DryRun {
		prefix += " (dry run)"
	}
	if len(r.Failures) == 0 {
		return fmt.Sprintf("%s: %d new posts mirrored", prefix, r.Mirrored)
	}
	return fmt.Sprintf("%s: %d mirrored, %d failed", prefix, r.Mirrored, len(r.Failures))
}

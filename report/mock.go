package report

import (
	"context"
	"log/slog"
	"sync"
)

// Message is a report the MockProvider would have sent.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// MockProvider keeps reports in memory and logs their subject, for runs
// without email credentials.
type MockProvider struct {
	logger *slog.Logger
	mu     sync.Mutex
	sent   []Message
}

// NewMockProvider creates a new mock email provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send records the report and logs it instead of emailing it.
func (m *MockProvider) Send(_ context.Context, to, subject, htmlBody string) error {
	m.mu.Lock()
	m.sent = append(m.sent, Message{To: to, Subject: subject, HTML: htmlBody})
	n := len(m.sent)
	m.mu.Unlock()

	m.logger.Info("MOCK EMAIL: run report not delivered",
		"to", to,
		"subject", subject,
		"reports_this_process", n,
		"body_bytes", len(htmlBody))
	return nil
}

// Sent returns the reports recorded so far.
func (m *MockProvider) Sent() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.sent...)
}

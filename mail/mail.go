// Package mail delivers outbound notifications. Delivery is best effort: a
// failed send is logged and never undoes the state change that triggered it.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

// Sender delivers one message to a set of recipients.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// Message is a rendered notification.
type Message struct {
	Subject string
	Body    string
}

// NewSignalMessage announces a freshly posted signal to subscribers.
func NewSignalMessage(team string) Message {
	return Message{
		Subject: "New Signal Available",
		Body: "Hello,\n\n" +
			"A new trading signal has just been posted by the admin.\n" +
			"Please log in to your account to view it.\n\n" +
			"Regards,\n" + team + " Team",
	}
}

// PasswordResetMessage carries a single-use reset link.
func PasswordResetMessage(team, link string, ttl time.Duration) Message {
	return Message{
		Subject: "Password Reset",
		Body: "Hello,\n\n" +
			"We received a request to reset your password. Use the link below within " +
			fmt.Sprintf("%d minutes:\n\n", int(ttl.Minutes())) +
			link + "\n\n" +
			"If you did not ask for this, ignore this email.\n\n" +
			"Regards,\n" + team + " Team",
	}
}

func buildMessage(from mail.Address, to []string, subject, body string, now time.Time) string {
	var msg strings.Builder
	msg.WriteString(fmt.Sprintf("From: %s\r\n", from.String()))
	msg.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(to, ", ")))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", subject))
	msg.WriteString(fmt.Sprintf("Date: %s\r\n", now.UTC().Format(time.RFC1123Z)))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return msg.String()
}

// LogSender records messages instead of sending them. It is used when SMTP is
// not configured.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, to []string, subject, body string) error {
	s.logger.InfoContext(ctx, "mail not sent, smtp disabled",
		slog.Int("recipients", len(to)),
		slog.String("subject", subject),
		slog.Int("body_bytes", len(body)),
	)
	return nil
}

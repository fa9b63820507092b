// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shopdex Contributors

// Package mail defines the outbound mail boundary. The directory only sends
// transactional messages (password resets), so the surface is one interface
// and a log-backed implementation for development deployments.
package mail

import (
	"context"
	"log/slog"
)

// Message is a plain-text transactional mail.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers messages. Implementations must not retain msg after
// returning.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of delivering them. It is
// the default sender when no mail provider is configured.
type LogSender struct {
	log *slog.Logger
}

// NewLogSender creates a LogSender. A nil logger falls back to slog.Default.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{log: logger}
}

// Send logs the message. The body lands at debug level since reset mails
// embed live tokens.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.InfoContext(ctx, "outbound mail",
		"to", msg.To,
		"subject", msg.Subject,
	)
	s.log.DebugContext(ctx, "outbound mail body",
		"to", msg.To,
		"body", msg.Body,
	)
	return nil
}

var _ Sender = (*LogSender)(nil)

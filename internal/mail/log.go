// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"context"
	"log/slog"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/observability"
)

// LogNotifier writes emails to the log instead of sending them. It is meant
// for local development when no relay is configured, since the logged body
// contains live verification and reset links.
type LogNotifier struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

var _ account.Notifier = (*LogNotifier)(nil)

// NewLogNotifier creates a LogNotifier. A nil logger uses slog.Default().
func NewLogNotifier(logger *slog.Logger, metrics *observability.Metrics) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger, metrics: metrics}
}

// Send logs msg.
func (n *LogNotifier) Send(ctx context.Context, msg account.Message) error {
	n.logger.InfoContext(ctx, "email not sent, no relay configured",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body)
	n.metrics.RecordEmail(observability.OutcomeSuccess)
	return nil
}

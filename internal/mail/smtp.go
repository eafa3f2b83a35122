// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package mail delivers account emails.
package mail

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
	gomail "github.com/wneessen/go-mail"

	"github.com/holomush/accounts/internal/account"
	"github.com/holomush/accounts/internal/observability"
)

// Defaults for Config.
const (
	DefaultPort        = 587
	DefaultMaxAttempts = 3
	DefaultTimeout     = 15 * time.Second
	defaultBackoffBase = 500 * time.Millisecond
)

// TLS policies accepted in Config.TLSPolicy.
const (
	TLSOpportunistic = "opportunistic"
	TLSMandatory     = "mandatory"
	TLSNone          = "none"
)

// Config describes an SMTP relay.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLSPolicy is one of TLSOpportunistic (default), TLSMandatory or TLSNone.
	TLSPolicy   string
	MaxAttempts int
	Timeout     time.Duration
}

// sender is the part of *gomail.Client used for delivery.
type sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*gomail.Msg) error
}

// Option configures an SMTPNotifier.
type Option func(*SMTPNotifier)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(n *SMTPNotifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithMetrics records delivery outcomes.
func WithMetrics(m *observability.Metrics) Option {
	return func(n *SMTPNotifier) { n.metrics = m }
}

// WithBackoff sets the base delay between delivery attempts.
func WithBackoff(base time.Duration) Option {
	return func(n *SMTPNotifier) {
		if base > 0 {
			n.backoffBase = base
		}
	}
}

// SMTPNotifier sends account emails through an SMTP relay, retrying
// transient failures.
type SMTPNotifier struct {
	client      sender
	from        string
	maxAttempts int
	backoffBase time.Duration
	logger      *slog.Logger
	metrics     *observability.Metrics
}

var _ account.Notifier = (*SMTPNotifier)(nil)

// NewSMTPNotifier creates a notifier for the relay described by cfg.
func NewSMTPNotifier(cfg Config, opts ...Option) (*SMTPNotifier, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("mail host is required")
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("sender address is required")
	}

	policy, err := tlsPolicy(cfg.TLSPolicy)
	if err != nil {
		return nil, err
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	clientOpts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(policy),
		gomail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		clientOpts = append(clientOpts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}

	client, err := gomail.NewClient(cfg.Host, clientOpts...)
	if err != nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").
			With("host", cfg.Host).
			With("port", cfg.Port).
			Wrap(err)
	}

	return newSMTPNotifier(client, cfg, opts...), nil
}

func newSMTPNotifier(client sender, cfg Config, opts ...Option) *SMTPNotifier {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	n := &SMTPNotifier{
		client:      client,
		from:        cfg.From,
		maxAttempts: cfg.MaxAttempts,
		backoffBase: defaultBackoffBase,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func tlsPolicy(name string) (gomail.TLSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TLSOpportunistic:
		return gomail.TLSOpportunistic, nil
	case TLSMandatory:
		return gomail.TLSMandatory, nil
	case TLSNone:
		return gomail.NoTLS, nil
	default:
		return gomail.TLSOpportunistic, oops.Code("MAIL_CONFIG_INVALID").
			With("tls_policy", name).
			Errorf("unknown TLS policy %q", name)
	}
}

// Send delivers msg. Transient failures are retried with exponential
// backoff up to the configured number of attempts. Permanent rejections
// are returned immediately.
func (n *SMTPNotifier) Send(ctx context.Context, msg account.Message) error {
	m, err := n.buildMsg(msg)
	if err != nil {
		n.metrics.RecordEmail(observability.OutcomeError)
		return err
	}

	backoff := retry.WithMaxRetries(uint64(n.maxAttempts-1), retry.NewExponential(n.backoffBase)) //nolint:gosec // maxAttempts >= 1

	attempt := 0
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		sendErr := n.client.DialAndSendWithContext(ctx, m)
		if sendErr == nil {
			return nil
		}
		if isPermanent(sendErr) {
			return sendErr
		}
		n.logger.WarnContext(ctx, "email delivery failed, retrying",
			"attempt", attempt,
			"max_attempts", n.maxAttempts,
			"error", sendErr)
		return retry.RetryableError(sendErr)
	})
	if err != nil {
		n.metrics.RecordEmail(observability.OutcomeError)
		return oops.Code("MAIL_SEND_FAILED").
			With("attempts", attempt).
			With("subject", msg.Subject).
			Wrap(err)
	}

	n.metrics.RecordEmail(observability.OutcomeSuccess)
	n.logger.DebugContext(ctx, "email sent", "subject", msg.Subject, "attempts", attempt)
	return nil
}

func (n *SMTPNotifier) buildMsg(msg account.Message) (*gomail.Msg, error) {
	m := gomail.NewMsg()
	if err := m.From(n.from); err != nil {
		return nil, oops.Code("MAIL_MESSAGE_INVALID").With("field", "from").Wrap(err)
	}
	if err := m.To(msg.To); err != nil {
		return nil, oops.Code("MAIL_MESSAGE_INVALID").With("field", "to").Wrap(err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	return m, nil
}

// isPermanent reports whether the relay rejected the message for a reason
// that retrying will not fix.
func isPermanent(err error) bool {
	var sendErr *gomail.SendError
	return errors.As(err, &sendErr) && !sendErr.IsTemp()
}

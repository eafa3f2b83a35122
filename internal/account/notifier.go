// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/samber/oops"
)

// Paths of the links embedded in account emails, relative to the base URL.
const (
	VerifyLinkPath        = "/api/v1/users/verify/"
	ResetPasswordLinkPath = "/api/v1/users/reset-password/"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers account emails.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

func buildLink(baseURL, path, token string) (string, error) {
	link, err := url.JoinPath(baseURL, path, token)
	if err != nil {
		return "", oops.Code("ACCOUNT_LINK_INVALID").With("base_url", baseURL).Wrap(err)
	}
	return link, nil
}

func verificationMessage(baseURL string, user *User, token string) (Message, error) {
	link, err := buildLink(baseURL, VerifyLinkPath, token)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      user.Email,
		Subject: "Verify your email",
		Body: fmt.Sprintf("Hello %s,\n\n"+
			"Thanks for registering. Please verify your email address by opening the link below:\n\n"+
			"%s\n", user.Name, link),
	}, nil
}

func resetMessage(baseURL string, user *User, token string, ttl time.Duration) (Message, error) {
	link, err := buildLink(baseURL, ResetPasswordLinkPath, token)
	if err != nil {
		return Message{}, err
	}
	return Message{
		To:      user.Email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Hello %s,\n\n"+
			"We received a request to reset your password. Open the link below to choose a new one:\n\n"+
			"%s\n\n"+
			"This link will expire in %s. If you did not ask for a reset you can ignore this email.\n",
			user.Name, link, humanDuration(ttl)),
	}, nil
}

// humanDuration renders whole hours or minutes, e.g. "1 hour", "30 minutes".
func humanDuration(d time.Duration) string {
	unit, n := "minute", int64(d/time.Minute)
	if d >= time.Hour && d%time.Hour == 0 {
		unit, n = "hour", int64(d/time.Hour)
	}
	if n != 1 {
		unit += "s"
	}
	return fmt.Sprintf("%d %s", n, unit)
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"errors"

	"github.com/holomush/accounts/pkg/errutil"
)

// ErrNotFound is wrapped by repositories when no record matches.
var ErrNotFound = errors.New("not found")

// Error codes carried by the errors this package returns to callers.
const (
	CodeValidation         = "ACCOUNT_VALIDATION_FAILED"
	CodeEmailTaken         = "ACCOUNT_EMAIL_TAKEN"
	CodeInvalidCredentials = "ACCOUNT_INVALID_CREDENTIALS"
	CodeInvalidToken       = "ACCOUNT_INVALID_TOKEN"
	CodeNotFound           = "ACCOUNT_NOT_FOUND"
	CodeSessionInvalid     = "SESSION_INVALID"
	CodeSessionSuperseded  = "SESSION_SUPERSEDED"
)

// Kind classifies an error for transport layers.
type Kind int

// Error kinds. KindInternal covers everything that is not a client error.
const (
	KindInternal Kind = iota
	KindValidation
	KindConflict
	KindAuth
	KindInvalidToken
	KindNotFound
)

var kindNames = map[Kind]string{
	KindInternal:     "internal",
	KindValidation:   "validation",
	KindConflict:     "conflict",
	KindAuth:         "auth",
	KindInvalidToken: "invalid_token",
	KindNotFound:     "not_found",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

var kindByCode = map[string]Kind{
	CodeValidation:         KindValidation,
	CodeEmailTaken:         KindConflict,
	CodeInvalidCredentials: KindAuth,
	CodeSessionInvalid:     KindAuth,
	CodeSessionSuperseded:  KindAuth,
	CodeInvalidToken:       KindInvalidToken,
	CodeNotFound:           KindNotFound,
}

// KindOf returns the kind of err based on its oops code.
// Errors without a recognized code are internal.
func KindOf(err error) Kind {
	if kind, ok := kindByCode[errutil.Code(err)]; ok {
		return kind
	}
	return KindInternal
}

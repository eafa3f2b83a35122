// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package errutil provides helpers for oops-coded errors.
package errutil

import (
	"github.com/samber/oops"
)

// Code returns the oops code carried by err, or "" when it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}

// PublicMessage returns the user-safe message attached to err with
// oops.Public, or fallback when there is none.
func PublicMessage(err error, fallback string) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return fallback
	}
	if msg := oopsErr.Public(); msg != "" {
		return msg
	}
	return fallback
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Opaque token configuration.
const (
	OpaqueTokenBytes     = 32 // 64 hex chars
	DefaultResetTokenTTL = time.Hour
)

// GenerateOpaqueToken returns a random hex token and its SHA-256 digest.
// The token goes to the user; only the digest is stored.
func GenerateOpaqueToken() (token, digest string, err error) {
	buf := make([]byte, OpaqueTokenBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", oops.Code("TOKEN_GENERATE_FAILED").Wrap(err)
	}
	token = hex.EncodeToString(buf)
	return token, HashOpaqueToken(token), nil
}

// HashOpaqueToken returns the hex SHA-256 digest stored for token.
func HashOpaqueToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

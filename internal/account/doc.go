// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package account implements user accounts: registration with email
// verification, password login with signed session tokens, and the
// forgot/reset password flow.
//
// The main entry point is Service, created with NewService. It depends on:
//   - UserRepository: persistence (see the postgres and mongo subpackages)
//   - PasswordHasher: Argon2idHasher, which also verifies legacy bcrypt digests
//   - SessionIssuer: HS256 session tokens, created with NewSessionIssuer
//   - Notifier: email delivery (see internal/mail)
//
// Verification and reset tokens are opaque random strings. Only their
// SHA-256 digests are stored, and repositories consume them atomically.
//
// Errors carry oops codes; KindOf maps them to the client-facing kinds
// used by the HTTP layer.
package account

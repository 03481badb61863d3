// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

// Package auth implements the account and credential lifecycle.
//
// # Domain Types
//
// User is the only persisted entity. Passwords are assigned through
// User.SetPassword, which always hashes; one-time codes are attached with
// User.IssueVerification and User.IssuePasswordReset and consumed with the
// matching Consume methods, which clear the stored code.
//
// User.Profile is the only projection that leaves the service boundary. It
// never carries the password hash or any one-time code.
//
// # Services
//
// Service orchestrates registration, email verification, login, token
// refresh, password reset, and profile/account management. It is built with
// NewService from capability interfaces:
//   - UserRepository - persistence (memory, mongo, postgres subpackages)
//   - PasswordHasher - argon2id with legacy bcrypt verification
//   - TokenIssuer - signed access/refresh token pairs
//   - Notifier - delivery of codes and lifecycle emails
//
// Every operation re-reads the user record, mutates it in memory, and writes
// it back once. Concurrent operations on one account are last-write-wins.
package auth

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package auth

// TokenPair is an access token and the refresh token that can replace it.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TokenIssuer mints and verifies signed token pairs.
type TokenIssuer interface {
	// IssuePair signs a fresh access and refresh token for id.
	IssuePair(id Identity) (TokenPair, error)

	// VerifyRefresh validates a refresh token and returns its claims.
	VerifyRefresh(token string) (Identity, error)
}

// Session is the result of an operation that authenticates the user.
type Session struct {
	User   Profile
	Tokens TokenPair
}

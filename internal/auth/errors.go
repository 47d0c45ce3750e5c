// Package auth validates bearer tokens on the mutating errledger endpoints.
package auth

import "errors"

// Sentinel errors for JWT authentication.
var (
	// ErrInvalidToken indicates the token is malformed or has an invalid signature.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken indicates the token has expired.
	ErrExpiredToken = errors.New("token has expired")

	// ErrInvalidIssuer indicates the token issuer doesn't match the expected value.
	ErrInvalidIssuer = errors.New("invalid token issuer")

	// ErrInvalidAudience indicates the token audience doesn't match the expected value.
	ErrInvalidAudience = errors.New("invalid token audience")

	// ErrMissingToken indicates no authentication token was provided.
	ErrMissingToken = errors.New("missing authentication token")

	// ErrUnsupportedAlgorithm indicates the token uses an unsupported signing algorithm.
	ErrUnsupportedAlgorithm = errors.New("unsupported signing algorithm")

	// ErrNoSecretConfigured indicates HS256 was requested but no secret is configured.
	ErrNoSecretConfigured = errors.New("no secret configured for symmetric algorithm")

	// ErrNoPublicKeyConfigured indicates RS256 was requested but no public key is available.
	ErrNoPublicKeyConfigured = errors.New("no public key configured for asymmetric algorithm")
)

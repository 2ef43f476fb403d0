// Package auth provides operator authentication for the Pelorus panel API.
//
// Pelorus runs on a single vessel with a single operator account, configured
// as a username and Argon2id password hash in the security section of the
// config file. The package implements:
//   - Argon2id password hashing and verification in PHC string format
//   - Short-lived HS256 JWT access tokens for API sessions
//
// There is no user database. The API server verifies login requests against
// the configured hash, issues a token, and validates the token signature on
// every protected request. WebSocket connections authenticate through
// single-use tickets issued to token holders; the ticket store lives in the
// api package.
package auth

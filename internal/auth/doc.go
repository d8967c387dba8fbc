// Package auth issues and validates the bearer tokens that guard the HTTP API.
//
// Tokens are HS256 JWTs signed with security.jwt.secret. The only claim the
// API relies on is the subject, which is recorded as the source of commands
// ("api:<subject>") in state history.
//
//	token, err := auth.GenerateToken("ops", secret, 24*time.Hour)
//	claims, err := auth.ParseToken(token, secret)
package auth

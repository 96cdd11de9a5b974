// Package auth provides session tokens, password hashing and HTTP
// authentication middleware for ordertrack.
//
// Tokens are HS256 JWTs carrying the user ID in the "sub" claim; passwords
// are stored as bcrypt hashes. HTTPAuthMiddleware verifies the bearer token,
// resolves the user through a UserLookup, and attaches an AuthContext to the
// request context for handlers to read via FromContext.
package auth

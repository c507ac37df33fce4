// Package auth provides bearer token authentication for the coven-chat API.
//
// # JWT Tokens
//
// API clients authenticate with HS256 JWTs signed with the configured
// auth.jwt_secret. A token must carry a non-empty "sub" claim and an
// "exp" claim that has not passed; an "iat" in the future is rejected.
// Generated tokens also carry a random "jti".
//
//	verifier := auth.NewJWTVerifier([]byte(secret))
//	token, err := verifier.Generate("alice", 30*24*time.Hour)
//
// # HTTP Middleware
//
// HTTPAuthMiddleware wraps a handler and rejects requests without a valid
// "Authorization: Bearer <token>" header with a JSON 401:
//
//	{"error": "invalid token"}
//
// Accepted requests carry an AuthContext on their context:
//
//	if a := auth.FromContext(r.Context()); a != nil {
//	    log.Println("request from", a.Subject)
//	}
package auth

// Package shield provides the HTTP middleware layer of the tracker:
// per-request CSP nonces, emission of the Content-Security-Policy
// response header, static security headers and request body limits.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.WithNonce)
//	r.Use(shield.CSPHeader(cfg))
//	r.Use(shield.SecurityHeaders(shield.DefaultHeaders()))
//	r.Use(shield.MaxBody(64 * 1024))
package shield

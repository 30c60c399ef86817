package csp

import "strings"

// Keywords that must be wrapped in single quotes in a CSP header.
var requireSingleQuote = []string{
	"nonce",
	"none",
	"report-sample",
	"self",
	"strict-dynamic",
	"unsafe-eval",
	"unsafe-hashes",
	"unsafe-inline",
	"wasm-unsafe-eval",
}

// Schemes that must carry a trailing colon.
var requireTrailingColon = []string{
	"http",
	"https",
	"wss",
	"blob",
	"data",
	"mediastream",
	"filesystem",
}

// Shorthand values that expand to their "unsafe-" quoted form.
var requireUnsafePrefix = []string{"inline", "eval"}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// CleanValue maps a raw source-expression string to its canonical CSP
// token: "self" becomes "'self'", "data" becomes "data:", "inline"
// becomes "'unsafe-inline'". Host values have any query string stripped
// and are otherwise passed through lower-cased. Already-canonical input
// comes back unchanged, so the function is idempotent, and it never
// fails - unrecognised values are let through as-is.
func CleanValue(value string) string {
	value = strings.ToLower(value)
	if contains(requireSingleQuote, value) {
		return "'" + value + "'"
	}
	if contains(requireTrailingColon, value) {
		return value + ":"
	}
	if contains(requireUnsafePrefix, value) {
		return "'unsafe-" + value + "'"
	}
	if source := StripQuery(value); source != "" {
		return source
	}
	return value
}

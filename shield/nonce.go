package shield

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"sync"
)

type nonceCtxKey struct{}

// lazyNonce generates its value on first use so requests that never
// render a CSP header or a template do not burn entropy.
type lazyNonce struct {
	once sync.Once
	val  string
}

func (n *lazyNonce) value() string {
	n.once.Do(func() {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return
		}
		n.val = base64.StdEncoding.EncodeToString(buf)
	})
	return n.val
}

// WithNonce installs a per-request nonce holder in the request context.
// The nonce itself is only generated when Nonce is first called.
func WithNonce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), nonceCtxKey{}, &lazyNonce{})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Nonce returns the request's CSP nonce, generating it on first call.
// Every caller within one request sees the same value. Returns "" when
// WithNonce is not installed.
func Nonce(ctx context.Context) string {
	n, ok := ctx.Value(nonceCtxKey{}).(*lazyNonce)
	if !ok {
		return ""
	}
	return n.value()
}

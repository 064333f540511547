// Package auth verifies the signed session cookie shared with the CRM.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
)

// CookieName is the session cookie set by the CRM.
const CookieName = "glassquote_session"

// ErrInvalidSession is returned for a missing, malformed or forged session.
var ErrInvalidSession = errors.New("invalid session")

// Verifier checks session values signed with the shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier returns a Verifier for secret. With an empty secret every session is
// rejected.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Sign produces the cookie value for email.
func (v *Verifier) Sign(email string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(email))
	return payload + "." + hex.EncodeToString(v.mac(payload))
}

func (v *Verifier) mac(payload string) []byte {
	m := hmac.New(sha256.New, v.secret)
	_, _ = m.Write([]byte(payload))
	return m.Sum(nil)
}

// Verify returns the email carried by a session value.
func (v *Verifier) Verify(value string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrInvalidSession
	}
	payload, signature, ok := strings.Cut(value, ".")
	if !ok || strings.Contains(signature, ".") {
		return "", ErrInvalidSession
	}

	provided, err := hex.DecodeString(signature)
	if err != nil {
		return "", ErrInvalidSession
	}
	if !hmac.Equal(provided, v.mac(payload)) {
		return "", ErrInvalidSession
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(decoded) == 0 {
		return "", ErrInvalidSession
	}
	return string(decoded), nil
}

// VerifyRequest reads and verifies the session cookie of r.
func (v *Verifier) VerifyRequest(r *http.Request) (string, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return "", ErrInvalidSession
	}
	return v.Verify(c.Value)
}

// Middleware rejects requests without a valid session and stores the actor email in
// the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email, err := v.VerifyRequest(r)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), email)))
	})
}

type actorKey struct{}

// WithActor returns a context carrying the authenticated email.
func WithActor(ctx context.Context, email string) context.Context {
	return context.WithValue(ctx, actorKey{}, email)
}

// Actor returns the authenticated email stored by Middleware.
func Actor(ctx context.Context) string {
	email, _ := ctx.Value(actorKey{}).(string)
	return email
}
